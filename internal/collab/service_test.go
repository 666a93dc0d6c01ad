package collab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsynth/hybridmemory/internal/core"
	"github.com/devsynth/hybridmemory/internal/memory"
	"github.com/devsynth/hybridmemory/internal/memory/kv"
	"github.com/devsynth/hybridmemory/internal/txn"
)

func newTestService() *Service {
	reg := memory.NewRegistry()
	reg.Register("tinydb", kv.New("tinydb"))
	reg.Register("graph", kv.New("graph"))
	coord := txn.NewCoordinator(nil)
	return NewService(reg, coord, []string{"tinydb", "graph", "kuzu"}, nil)
}

func TestRegisterAgentAssignsID(t *testing.T) {
	svc := newTestService()
	a := svc.RegisterAgent(Agent{Name: "planner", Capabilities: []string{"plan"}})
	assert.NotEmpty(t, a.ID)
}

func TestCreateTaskAppendsToParentSubtasks(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	parent, err := svc.CreateTask(ctx, "epic", "top level", nil, nil, "", 1)
	require.NoError(t, err)
	child, err := svc.CreateTask(ctx, "story", "sub task", nil, nil, parent.ID, 1)
	require.NoError(t, err)

	svc.mu.Lock()
	got := svc.tasks[parent.ID]
	svc.mu.Unlock()
	assert.Contains(t, got.Subtasks, child.ID)
}

func TestAssignTaskSelectsCapableAgentByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	svc.RegisterAgent(Agent{ID: "a1", Capabilities: []string{"go"}})
	svc.RegisterAgent(Agent{ID: "a2", Capabilities: []string{"go", "review"}})

	task, err := svc.CreateTask(ctx, "review", "check pr", nil, []string{"review"}, "", 1)
	require.NoError(t, err)

	assigned, err := svc.AssignTask(ctx, task.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "a2", assigned.Assignee)
	assert.Equal(t, TaskAssigned, assigned.State)
}

func TestAssignTaskRejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	svc.RegisterAgent(Agent{ID: "a1", Capabilities: []string{"go"}})
	task, err := svc.CreateTask(ctx, "t", "d", nil, nil, "", 1)
	require.NoError(t, err)

	_, err = svc.AssignTask(ctx, task.ID, "a1")
	require.NoError(t, err)

	_, err = svc.AssignTask(ctx, task.ID, "a1")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestExecuteTaskRunsHandlerAndCompletes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	svc.RegisterAgent(Agent{ID: "a1", Capabilities: []string{"go"}})
	svc.RegisterHandler("build", func(ctx context.Context, task *CollaborationTask) (any, error) {
		return "built", nil
	})

	task, err := svc.CreateTask(ctx, "build", "build it", nil, nil, "", 1)
	require.NoError(t, err)
	_, err = svc.AssignTask(ctx, task.ID, "a1")
	require.NoError(t, err)

	done, err := svc.ExecuteTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, done.State)
	assert.Equal(t, "built", done.Result)
}

func TestExecuteTaskFailsOnHandlerError(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	svc.RegisterAgent(Agent{ID: "a1"})
	svc.RegisterHandler("build", func(ctx context.Context, task *CollaborationTask) (any, error) {
		return nil, assertErrCollab{}
	})
	task, err := svc.CreateTask(ctx, "build", "build it", nil, nil, "", 1)
	require.NoError(t, err)
	_, err = svc.AssignTask(ctx, task.ID, "a1")
	require.NoError(t, err)

	done, err := svc.ExecuteTask(ctx, task.ID)
	require.Error(t, err)
	assert.Equal(t, TaskFailed, done.State)
}

func TestExecuteWorkflowDetectsCycle(t *testing.T) {
	svc := newTestService()
	t1 := &CollaborationTask{ID: "t1", Dependencies: []string{"t2"}, State: TaskPending}
	t2 := &CollaborationTask{ID: "t2", Dependencies: []string{"t1"}, State: TaskPending}
	_, err := svc.ExecuteWorkflow(context.Background(), []*CollaborationTask{t1, t2})
	assert.ErrorIs(t, err, core.ErrCycleDetected)
}

func TestExecuteWorkflowRunsInTopologicalOrder(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	svc.RegisterAgent(Agent{ID: "a1"})
	var executed []string
	svc.RegisterHandler("step", func(ctx context.Context, task *CollaborationTask) (any, error) {
		executed = append(executed, task.ID)
		return "ok", nil
	})

	first, err := svc.CreateTask(ctx, "step", "first", nil, nil, "", 1)
	require.NoError(t, err)
	second, err := svc.CreateTask(ctx, "step", "second", nil, nil, "", 1)
	require.NoError(t, err)

	svc.mu.Lock()
	second.Dependencies = []string{first.ID}
	svc.mu.Unlock()

	_, err = svc.AssignTask(ctx, first.ID, "a1")
	require.NoError(t, err)
	_, err = svc.AssignTask(ctx, second.ID, "a1")
	require.NoError(t, err)

	_, err = svc.ExecuteWorkflow(ctx, []*CollaborationTask{second, first})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, executed)
}

func TestSendMessageAppendsToRelatedTask(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	task, err := svc.CreateTask(ctx, "t", "d", nil, nil, "", 1)
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, "planner", "worker", MessageTaskAssignment, "please start", task.ID)
	require.NoError(t, err)
	assert.Equal(t, "please start", msg.Payload.Summary)

	svc.mu.Lock()
	got := svc.tasks[task.ID]
	svc.mu.Unlock()
	assert.Contains(t, got.Messages, msg.UUID)
}

type assertErrCollab struct{}

func (assertErrCollab) Error() string { return "handler failed" }
