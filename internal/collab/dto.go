package collab

import (
	"sort"
	"time"
)

// DTO is implemented by every collaboration boundary type: deterministic
// to_dict()-equivalent serialization plus a canonical dto_type tag, mirroring
// dto.py's BaseDTO.
type DTO interface {
	ToMap() map[string]any
	DTOType() string
}

// --- AgentPayload -----------------------------------------------------

// AgentPayload is the sender/role/status/summary/attributes/payload DTO
// carried by every AgentMessage and used as the default legacy shape when a
// dto_type tag is absent, per spec §4.2.
type AgentPayload struct {
	Sender     string
	Role       string
	Status     string
	Summary    string
	Attributes map[string]any
	Payload    any
}

func (AgentPayload) DTOType() string { return "AgentPayload" }

func (p AgentPayload) ToMap() map[string]any {
	m := map[string]any{
		"dto_type": p.DTOType(),
		"sender":   p.Sender,
		"role":     p.Role,
		"status":   p.Status,
		"summary":  p.Summary,
	}
	if p.Attributes != nil {
		m["attributes"] = p.Attributes
	}
	if p.Payload != nil {
		m["payload"] = p.Payload
	}
	return m
}

// AgentPayloadFromMap builds an AgentPayload from a raw map, tolerating
// absent fields.
func AgentPayloadFromMap(m map[string]any) AgentPayload {
	p := AgentPayload{}
	p.Sender, _ = m["sender"].(string)
	p.Role, _ = m["role"].(string)
	p.Status, _ = m["status"].(string)
	p.Summary, _ = m["summary"].(string)
	if attrs, ok := m["attributes"].(map[string]any); ok {
		p.Attributes = attrs
	}
	p.Payload = m["payload"]
	return p
}

// FromDict dispatches on the dto_type tag, defaulting to AgentPayload for
// legacy untagged content, mirroring dto.py's BaseDTO.from_dict tolerance.
func FromDict(m map[string]any) DTO {
	tag, _ := m["dto_type"].(string)
	switch tag {
	case "TaskDescriptor":
		return TaskDescriptorFromMap(m)
	case "AgentMessage":
		return AgentMessageFromMap(m)
	default:
		return AgentPayloadFromMap(m)
	}
}

// --- TaskDescriptor -----------------------------------------------------

// TaskDescriptor is a lightweight task reference DTO, distinct from the
// richer CollaborationTask lifecycle entity.
type TaskDescriptor struct {
	ID          string
	Summary     string
	Description string
	Status      string
	Assignee    string
	Tags        []string
	Metadata    map[string]any
}

func (TaskDescriptor) DTOType() string { return "TaskDescriptor" }

func (d TaskDescriptor) ToMap() map[string]any {
	m := map[string]any{
		"dto_type":    d.DTOType(),
		"id":          d.ID,
		"summary":     d.Summary,
		"description": d.Description,
		"status":      d.Status,
		"assignee":    d.Assignee,
	}
	if d.Tags != nil {
		m["tags"] = d.Tags
	}
	if d.Metadata != nil {
		m["metadata"] = d.Metadata
	}
	return m
}

// TaskDescriptorFromMap builds a TaskDescriptor from a raw map.
func TaskDescriptorFromMap(m map[string]any) TaskDescriptor {
	d := TaskDescriptor{}
	d.ID, _ = m["id"].(string)
	d.Summary, _ = m["summary"].(string)
	d.Description, _ = m["description"].(string)
	d.Status, _ = m["status"].(string)
	d.Assignee, _ = m["assignee"].(string)
	if tags, ok := m["tags"].([]string); ok {
		d.Tags = tags
	} else if tags, ok := m["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				d.Tags = append(d.Tags, s)
			}
		}
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		d.Metadata = meta
	}
	return d
}

// --- AgentMessage -------------------------------------------------------

// MessageType enumerates the kinds of messages agents exchange.
type MessageType string

const (
	MessageTaskAssignment  MessageType = "TASK_ASSIGNMENT"
	MessageStatusUpdate    MessageType = "STATUS_UPDATE"
	MessageReviewRequest   MessageType = "REVIEW_REQUEST"
	MessageReviewResult    MessageType = "REVIEW_RESULT"
	MessageConsensusRequest MessageType = "CONSENSUS_REQUEST"
	MessageConsensusResult MessageType = "CONSENSUS_RESULT"
	MessageGeneric         MessageType = "GENERIC"
)

// AgentMessage is the envelope routed between agents, per spec §3.1.
type AgentMessage struct {
	UUID          string
	Sender        string
	Recipient     string
	Type          MessageType
	Payload       AgentPayload
	RelatedTaskID string
	Timestamp     time.Time
}

func (AgentMessage) DTOType() string { return "AgentMessage" }

func (m AgentMessage) ToMap() map[string]any {
	out := map[string]any{
		"dto_type":   m.DTOType(),
		"uuid":       m.UUID,
		"sender":     m.Sender,
		"recipient":  m.Recipient,
		"type":       string(m.Type),
		"payload":    m.Payload.ToMap(),
		"timestamp":  m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if m.RelatedTaskID != "" {
		out["related_task_id"] = m.RelatedTaskID
	}
	return out
}

// AgentMessageFromMap builds an AgentMessage from a raw map.
func AgentMessageFromMap(raw map[string]any) AgentMessage {
	m := AgentMessage{}
	m.UUID, _ = raw["uuid"].(string)
	m.Sender, _ = raw["sender"].(string)
	m.Recipient, _ = raw["recipient"].(string)
	if t, ok := raw["type"].(string); ok {
		m.Type = MessageType(t)
	}
	if p, ok := raw["payload"].(map[string]any); ok {
		m.Payload = AgentPayloadFromMap(p)
	}
	m.RelatedTaskID, _ = raw["related_task_id"].(string)
	if ts, ok := raw["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.Timestamp = parsed
		}
	}
	return m
}

// --- CollaborationTask ---------------------------------------------------

// TaskState is the lifecycle state of a CollaborationTask, per spec
// Invariant 6: PENDING -> ASSIGNED -> IN_PROGRESS -> {COMPLETED|FAILED},
// with BLOCKED reachable from ASSIGNED or IN_PROGRESS.
type TaskState string

const (
	TaskPending    TaskState = "PENDING"
	TaskAssigned   TaskState = "ASSIGNED"
	TaskInProgress TaskState = "IN_PROGRESS"
	TaskCompleted  TaskState = "COMPLETED"
	TaskFailed     TaskState = "FAILED"
	TaskBlocked    TaskState = "BLOCKED"
)

// validTransitions enumerates every state transition permitted by spec
// Invariant 6; any pair not present here is rejected.
var validTransitions = map[TaskState]map[TaskState]bool{
	TaskPending:    {TaskAssigned: true},
	TaskAssigned:   {TaskInProgress: true, TaskBlocked: true},
	TaskInProgress: {TaskCompleted: true, TaskFailed: true, TaskBlocked: true},
	TaskBlocked:    {TaskAssigned: true, TaskInProgress: true},
}

// CanTransition reports whether from -> to is a permitted state transition.
func CanTransition(from, to TaskState) bool {
	return validTransitions[from][to]
}

// CollaborationTask is the rich task lifecycle entity tracked by the
// collaboration entity service, per spec §3.1. Cyclic references (parent,
// subtasks, dependencies) are carried as IDs rather than owning pointers,
// per spec §9's redesign flag; traversal goes back through the service.
type CollaborationTask struct {
	ID                   string
	Type                 string
	Description          string
	Inputs               map[string]any
	RequiredCapabilities []string
	ParentID             string
	Priority             int
	State                TaskState
	Assignee             string
	Result               any
	Subtasks             []string // child task IDs, insertion order
	Dependencies         []string // task IDs this task depends on
	Messages             []string // message IDs, insertion order
	SyncPort             *int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (CollaborationTask) DTOType() string { return "CollaborationTask" }

func (t CollaborationTask) ToMap() map[string]any {
	m := map[string]any{
		"dto_type":              t.DTOType(),
		"id":                    t.ID,
		"type":                  t.Type,
		"description":           t.Description,
		"priority":              t.Priority,
		"state":                 string(t.State),
		"assignee":              t.Assignee,
		"subtasks":              t.Subtasks,
		"dependencies":          t.Dependencies,
		"messages":              t.Messages,
		"required_capabilities": t.RequiredCapabilities,
	}
	if t.Inputs != nil {
		m["inputs"] = t.Inputs
	}
	if t.ParentID != "" {
		m["parent_id"] = t.ParentID
	}
	if t.Result != nil {
		m["result"] = t.Result
	}
	if t.SyncPort != nil {
		m["sync_port"] = *t.SyncPort
	}
	if !t.CreatedAt.IsZero() {
		m["created_at"] = t.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !t.UpdatedAt.IsZero() {
		m["updated_at"] = t.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// HasCapabilities reports whether the task's RequiredCapabilities is a
// subset of the given agent capabilities.
func (t CollaborationTask) HasCapabilities(agentCaps []string) bool {
	have := make(map[string]bool, len(agentCaps))
	for _, c := range agentCaps {
		have[c] = true
	}
	for _, need := range t.RequiredCapabilities {
		if !have[need] {
			return false
		}
	}
	return true
}

// --- PeerReviewRecord -----------------------------------------------------

// ReviewStatus is the peer-review cycle's status field, per spec §4.7.
type ReviewStatus string

const (
	ReviewPending            ReviewStatus = "pending"
	ReviewRevisionRequested  ReviewStatus = "revision_requested"
	ReviewRevised            ReviewStatus = "revised"
	ReviewApproved           ReviewStatus = "approved"
	ReviewRejected           ReviewStatus = "rejected"
	ReviewRevisionSuggested  ReviewStatus = "revision_suggested"
)

// ReviewDecision is one reviewer's verdict: pass/fail per criterion plus
// numeric metric scores and free-text feedback.
type ReviewDecision struct {
	Reviewer string
	Approved bool
	Feedback []string
	Criteria map[string]bool
	Metrics  map[string]float64
	// Dialectical response, populated when the reviewer has critic-like
	// expertise (spec §4.7 step 2).
	Thesis     string
	Antithesis string
	Synthesis  string
}

// PeerReviewRecord is one peer-review cycle, per spec §3.1. The revision
// history is a linked list by ID reference (PreviousReviewID), not an
// owning pointer, per spec §9.
type PeerReviewRecord struct {
	ID               string
	WorkProduct      any
	Author           string
	Reviewers        []string
	Decisions        map[string]ReviewDecision // reviewer -> decision
	Feedback         []string
	QualityScore     float64
	Status           ReviewStatus
	PreviousReviewID string
	RevisionCycle    int
	CreatedAt        time.Time

	// lastCriteria/lastMetricNames/allCriteriaPassed are session-local
	// bookkeeping carried between assign/collect/aggregate/finalize steps;
	// they are not part of the persisted shape (see ToMap).
	lastCriteria      map[string]bool
	lastMetricNames   []string
	allCriteriaPassed bool
}

func (PeerReviewRecord) DTOType() string { return "PeerReviewRecord" }

func (r PeerReviewRecord) ToMap() map[string]any {
	decisions := make(map[string]any, len(r.Decisions))
	// Decisions are visited in sorted reviewer order, but the resulting map
	// keeps no order of its own; emitted key order is sorted only when the
	// map is JSON-marshaled.
	keys := make([]string, 0, len(r.Decisions))
	for k := range r.Decisions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d := r.Decisions[k]
		decisions[k] = map[string]any{
			"approved": d.Approved,
			"feedback": d.Feedback,
			"criteria": d.Criteria,
			"metrics":  d.Metrics,
		}
	}
	m := map[string]any{
		"dto_type":      r.DTOType(),
		"id":            r.ID,
		"author":        r.Author,
		"reviewers":     r.Reviewers,
		"decisions":     decisions,
		"feedback":      r.Feedback,
		"quality_score": r.QualityScore,
		"status":        string(r.Status),
		"revision_cycle": r.RevisionCycle,
	}
	if r.WorkProduct != nil {
		m["work_product"] = r.WorkProduct
	}
	if r.PreviousReviewID != "" {
		m["previous_review_id"] = r.PreviousReviewID
	}
	return m
}

// --- ConsensusOutcome -----------------------------------------------------

// ConsensusMethod enumerates how a consensus outcome was reached.
type ConsensusMethod string

const (
	ConsensusMajority  ConsensusMethod = "majority"
	ConsensusWeighted  ConsensusMethod = "weighted"
	ConsensusSynthesis ConsensusMethod = "synthesis"
	ConsensusGeneric   ConsensusMethod = "consensus"
)

// AgentOpinionRecord is one participant's recorded opinion.
type AgentOpinionRecord struct {
	Agent     string
	Opinion   any
	Rationale string
	Weight    float64
	Timestamp time.Time
}

// ConflictRecord records a pair of agents with opposing opinions.
type ConflictRecord struct {
	AgentA   string
	AgentB   string
	OpinionA any
	OpinionB any
	Severity float64
}

// SynthesisArtifact is the optional synthesized text produced when Method
// is "synthesis".
type SynthesisArtifact struct {
	Text             string
	KeyPoints        []string
	ExpertiseWeights map[string]float64
	ReadabilityScore float64
}

// ConsensusOutcome is the result of a team consensus-building round, per
// spec §3.1.
type ConsensusOutcome struct {
	ID           string
	TaskID       string
	Method       ConsensusMethod
	Achieved     bool
	Confidence   float64
	Participants []string
	Opinions     []AgentOpinionRecord
	Conflicts    []ConflictRecord
	Synthesis    *SynthesisArtifact
	Timestamp    time.Time
	Metadata     map[string]any
}

func (ConsensusOutcome) DTOType() string { return "ConsensusOutcome" }

func (o ConsensusOutcome) ToMap() map[string]any {
	opinions := make([]map[string]any, len(o.Opinions))
	for i, op := range o.Opinions {
		opinions[i] = map[string]any{
			"agent":     op.Agent,
			"opinion":   op.Opinion,
			"rationale": op.Rationale,
			"weight":    op.Weight,
			"timestamp": op.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}
	conflicts := make([]map[string]any, len(o.Conflicts))
	for i, c := range o.Conflicts {
		conflicts[i] = map[string]any{
			"agent_a":   c.AgentA,
			"agent_b":   c.AgentB,
			"opinion_a": c.OpinionA,
			"opinion_b": c.OpinionB,
			"severity":  c.Severity,
		}
	}
	m := map[string]any{
		"dto_type":     o.DTOType(),
		"id":           o.ID,
		"task_id":      o.TaskID,
		"method":       string(o.Method),
		"achieved":     o.Achieved,
		"confidence":   o.Confidence,
		"participants": o.Participants,
		"opinions":     opinions,
		"conflicts":    conflicts,
		"conflict_count": len(o.Conflicts),
		"timestamp":    o.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if o.Synthesis != nil {
		m["synthesis"] = map[string]any{
			"text":              o.Synthesis.Text,
			"key_points":        o.Synthesis.KeyPoints,
			"expertise_weights": o.Synthesis.ExpertiseWeights,
			"readability_score": o.Synthesis.ReadabilityScore,
		}
	}
	if o.Metadata != nil {
		m["metadata"] = o.Metadata
	}
	return m
}

// NewConsensusOutcome constructs a ConsensusOutcome, applying the
// __post_init__-equivalent normalization from dto.py: when participants is
// not explicitly supplied, it is derived as the union of opinion-record
// agents (spec Invariant 5); conflict count is always len(conflicts).
func NewConsensusOutcome(id, taskID string, method ConsensusMethod, achieved bool, confidence float64,
	participants []string, opinions []AgentOpinionRecord, conflicts []ConflictRecord,
	synthesis *SynthesisArtifact, timestamp time.Time, metadata map[string]any) ConsensusOutcome {

	if participants == nil {
		seen := make(map[string]bool, len(opinions))
		for _, op := range opinions {
			if !seen[op.Agent] {
				seen[op.Agent] = true
				participants = append(participants, op.Agent)
			}
		}
	}
	return ConsensusOutcome{
		ID: id, TaskID: taskID, Method: method, Achieved: achieved, Confidence: confidence,
		Participants: participants, Opinions: opinions, Conflicts: conflicts,
		Synthesis: synthesis, Timestamp: timestamp, Metadata: metadata,
	}
}
