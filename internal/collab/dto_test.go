package collab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromDictDispatch(t *testing.T) {
	cases := []struct {
		name string
		in   map[string]any
		want string
	}{
		{"task descriptor", map[string]any{"dto_type": "TaskDescriptor", "id": "t1"}, "TaskDescriptor"},
		{"agent message", map[string]any{"dto_type": "AgentMessage", "uuid": "m1"}, "AgentMessage"},
		{"untagged legacy", map[string]any{"sender": "planner"}, "AgentPayload"},
		{"unknown tag falls back", map[string]any{"dto_type": "Bogus"}, "AgentPayload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FromDict(tc.in)
			assert.Equal(t, tc.want, got.DTOType())
		})
	}
}

func TestTaskStateTransitions(t *testing.T) {
	cases := []struct {
		from, to TaskState
		ok       bool
	}{
		{TaskPending, TaskAssigned, true},
		{TaskPending, TaskInProgress, false},
		{TaskAssigned, TaskInProgress, true},
		{TaskAssigned, TaskBlocked, true},
		{TaskInProgress, TaskCompleted, true},
		{TaskInProgress, TaskFailed, true},
		{TaskInProgress, TaskBlocked, true},
		{TaskBlocked, TaskAssigned, true},
		{TaskBlocked, TaskInProgress, true},
		{TaskCompleted, TaskAssigned, false},
		{TaskFailed, TaskInProgress, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestCollaborationTaskHasCapabilities(t *testing.T) {
	task := CollaborationTask{RequiredCapabilities: []string{"go", "review"}}
	assert.True(t, task.HasCapabilities([]string{"go", "review", "docs"}))
	assert.False(t, task.HasCapabilities([]string{"go"}))
	assert.True(t, CollaborationTask{}.HasCapabilities(nil))
}

func TestNewConsensusOutcomeDerivesParticipants(t *testing.T) {
	opinions := []AgentOpinionRecord{
		{Agent: "a", Opinion: "x"},
		{Agent: "b", Opinion: "y"},
		{Agent: "a", Opinion: "z"},
	}
	outcome := NewConsensusOutcome("c1", "t1", ConsensusMajority, true, 0.9, nil, opinions, nil, nil, time.Now(), nil)
	assert.Equal(t, []string{"a", "b"}, outcome.Participants)
	assert.Equal(t, 0, len(outcome.Conflicts))
	assert.Equal(t, 0, outcome.ToMap()["conflict_count"])
}

func TestNewConsensusOutcomeKeepsExplicitParticipants(t *testing.T) {
	outcome := NewConsensusOutcome("c2", "t2", ConsensusWeighted, false, 0.1,
		[]string{"x", "y", "z"}, nil, nil, nil, time.Now(), nil)
	assert.Equal(t, []string{"x", "y", "z"}, outcome.Participants)
}

func TestPeerReviewRecordToMapIncludesEveryDecision(t *testing.T) {
	rec := PeerReviewRecord{
		ID:     "r1",
		Status: ReviewApproved,
		Decisions: map[string]ReviewDecision{
			"zeta":  {Reviewer: "zeta", Approved: true},
			"alpha": {Reviewer: "alpha", Approved: false},
		},
	}
	m := rec.ToMap()
	decisions, ok := m["decisions"].(map[string]any)
	assert.True(t, ok)
	assert.Contains(t, decisions, "zeta")
	assert.Contains(t, decisions, "alpha")
}
