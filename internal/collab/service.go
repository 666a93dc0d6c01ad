package collab

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devsynth/hybridmemory/internal/core"
	"github.com/devsynth/hybridmemory/internal/memory"
	"github.com/devsynth/hybridmemory/internal/txn"
)

// Agent is a registered collaboration participant. Process is optional: when
// absent, execute_task falls back to a registered TaskHandler for the task's
// type, mirroring dto.py's tolerance for agents without a process method.
type Agent struct {
	ID           string
	Name         string
	Capabilities []string
	Process      func(ctx context.Context, task *CollaborationTask) (any, error)
}

// TeamState is the persisted team record created by create_team, stored
// under memory-type collaboration-team.
type TeamState struct {
	ID        string
	Name      string
	Roles     map[string]string
	Members   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TeamState) DTOType() string { return "TeamState" }

func (t TeamState) ToMap() map[string]any {
	return map[string]any{
		"dto_type":   t.DTOType(),
		"id":         t.ID,
		"name":       t.Name,
		"roles":      t.Roles,
		"members":    t.Members,
		"created_at": t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// TaskHandler executes a task's type-specific logic when the assigned
// agent exposes no Process method.
type TaskHandler func(ctx context.Context, task *CollaborationTask) (any, error)

// Service is the collaboration entity service: agent/team registration,
// task lifecycle, message routing, and peer review, persisted through the
// transaction coordinator with primary-store-preference fanout. Grounded on
// application/collaboration/service.py (register_agent/create_team/
// create_task/assign_task/execute_task/execute_workflow/send_message).
type Service struct {
	Registry          *memory.Registry
	Coordinator       *txn.Coordinator
	PrimaryPreference []string
	Logger            core.Logger

	mu         sync.Mutex
	agents     map[string]*Agent
	agentOrder []string
	tasks      map[string]*CollaborationTask
	teams      map[string]*TeamState
	handlers   map[string]TaskHandler
}

// NewService builds a Service wired to reg/coord with the given primary
// store preference (e.g. tinydb -> graph -> kuzu).
func NewService(reg *memory.Registry, coord *txn.Coordinator, preference []string, logger core.Logger) *Service {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Service{
		Registry:          reg,
		Coordinator:       coord,
		PrimaryPreference: preference,
		Logger:            logger,
		agents:            make(map[string]*Agent),
		tasks:             make(map[string]*CollaborationTask),
		teams:             make(map[string]*TeamState),
		handlers:          make(map[string]TaskHandler),
	}
}

// RegisterHandler wires a TaskHandler for a task type, used by execute_task
// when the assigned agent has no Process method.
func (s *Service) RegisterHandler(taskType string, h TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = h
}

func (s *Service) persist(ctx context.Context, id string, memType core.MemoryType, content map[string]any) error {
	item := core.MemoryItem{ID: id, Content: content, Type: memType, CreatedAt: time.Now()}
	return s.Coordinator.PersistWithFanout(ctx, s.Registry, item, s.PrimaryPreference)
}

// RegisterAgent records an agent's capabilities and assigns a stable ID when
// absent.
func (s *Service) RegisterAgent(agent Agent) *Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	a := agent
	s.agents[a.ID] = &a
	s.agentOrder = append(s.agentOrder, a.ID)
	return &a
}

// CreateTeam materializes a team state record under memory-type
// collaboration-team.
func (s *Service) CreateTeam(ctx context.Context, id string, agentIDs []string) (*TeamState, error) {
	s.mu.Lock()
	now := time.Now()
	team := &TeamState{ID: id, Members: append([]string(nil), agentIDs...), Roles: map[string]string{}, CreatedAt: now, UpdatedAt: now}
	s.teams[id] = team
	s.mu.Unlock()

	if err := s.persist(ctx, id, core.MemoryCollaborationTeam, team.ToMap()); err != nil {
		return nil, err
	}
	return team, nil
}

// CreateTask constructs a CollaborationTask; when parentID names an existing
// task, the new task's ID is appended to the parent's Subtasks.
func (s *Service) CreateTask(ctx context.Context, taskType, description string, inputs map[string]any,
	requiredCapabilities []string, parentID string, priority int) (*CollaborationTask, error) {

	s.mu.Lock()
	now := time.Now()
	task := &CollaborationTask{
		ID:                   uuid.NewString(),
		Type:                 taskType,
		Description:          description,
		Inputs:               inputs,
		RequiredCapabilities: requiredCapabilities,
		ParentID:             parentID,
		Priority:             priority,
		State:                TaskPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	s.tasks[task.ID] = task
	var parent *CollaborationTask
	if parentID != "" {
		if p, ok := s.tasks[parentID]; ok {
			p.Subtasks = append(p.Subtasks, task.ID)
			p.UpdatedAt = now
			parent = p
		}
	}
	s.mu.Unlock()

	if err := s.persist(ctx, task.ID, core.MemoryCollaborationTask, task.ToMap()); err != nil {
		return nil, err
	}
	if parent != nil {
		if err := s.persist(ctx, parent.ID, core.MemoryCollaborationTask, parent.ToMap()); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// primaryAdapters returns the first two adapters by preference order (or
// fewer, if fewer are registered), used by assign_task's spec-mandated
// two-store transaction.
func (s *Service) primaryAdapters() []memory.Adapter {
	var out []memory.Adapter
	seen := make(map[string]bool)
	for _, name := range s.PrimaryPreference {
		if a, ok := s.Registry.Get(name); ok && !seen[name] {
			out = append(out, a)
			seen[name] = true
			if len(out) == 2 {
				return out
			}
		}
	}
	for _, name := range s.Registry.Names() {
		if seen[name] {
			continue
		}
		if a, ok := s.Registry.Get(name); ok {
			out = append(out, a)
			seen[name] = true
			if len(out) == 2 {
				break
			}
		}
	}
	return out
}

// selectAgent picks the first registered agent (insertion order) whose
// capabilities are a superset of required, per spec's tie-break rule.
func (s *Service) selectAgent(required []string) (*Agent, bool) {
	for _, id := range s.agentOrder {
		a := s.agents[id]
		have := make(map[string]bool, len(a.Capabilities))
		for _, c := range a.Capabilities {
			have[c] = true
		}
		ok := true
		for _, need := range required {
			if !have[need] {
				ok = false
				break
			}
		}
		if ok {
			return a, true
		}
	}
	return nil, false
}

// AssignTask selects an agent (if agentID is empty) and transitions
// PENDING -> ASSIGNED atomically under a coordinator transaction covering
// the two stores that host tasks.
func (s *Service) AssignTask(ctx context.Context, taskID, agentID string) (*CollaborationTask, error) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return nil, core.NewError("collab.AssignTask", core.KindCollaboration, core.CodeCollaborationError, core.ErrItemNotFound)
	}
	if agentID == "" {
		agent, found := s.selectAgent(task.RequiredCapabilities)
		if !found {
			s.mu.Unlock()
			return nil, core.NewError("collab.AssignTask", core.KindCollaboration, core.CodeCollaborationError,
				fmt.Errorf("no agent satisfies required capabilities %v", task.RequiredCapabilities))
		}
		agentID = agent.ID
	}
	if !CanTransition(task.State, TaskAssigned) {
		s.mu.Unlock()
		return nil, core.NewError("collab.AssignTask", core.KindCollaboration, core.CodeCollaborationError, core.ErrInvalidTransition)
	}
	task.Assignee = agentID
	task.State = TaskAssigned
	task.UpdatedAt = time.Now()
	s.mu.Unlock()

	adapters := s.primaryAdapters()
	err := s.Coordinator.WithTransaction(ctx, adapters, func(tx *txn.Transaction) error {
		for _, a := range adapters {
			ms, ok := a.(memory.MemoryStore)
			if !ok {
				continue
			}
			if _, err := ms.Store(ctx, core.MemoryItem{ID: task.ID, Content: task.ToMap(), Type: core.MemoryCollaborationTask, CreatedAt: task.UpdatedAt}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ExecuteTask transitions ASSIGNED -> IN_PROGRESS, runs the handler or the
// assigned agent's Process method, then transitions to COMPLETED or FAILED.
func (s *Service) ExecuteTask(ctx context.Context, taskID string) (*CollaborationTask, error) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return nil, core.NewError("collab.ExecuteTask", core.KindCollaboration, core.CodeCollaborationError, core.ErrItemNotFound)
	}
	if !CanTransition(task.State, TaskInProgress) {
		s.mu.Unlock()
		return nil, core.NewError("collab.ExecuteTask", core.KindCollaboration, core.CodeCollaborationError, core.ErrInvalidTransition)
	}
	task.State = TaskInProgress
	task.UpdatedAt = time.Now()
	agent := s.agents[task.Assignee]
	handler := s.handlers[task.Type]
	s.mu.Unlock()

	if err := s.persist(ctx, task.ID, core.MemoryCollaborationTask, task.ToMap()); err != nil {
		return nil, err
	}

	var result any
	var runErr error
	switch {
	case agent != nil && agent.Process != nil:
		result, runErr = agent.Process(ctx, task)
	case handler != nil:
		result, runErr = handler(ctx, task)
	default:
		runErr = fmt.Errorf("no handler or agent process method for task type %q", task.Type)
	}

	s.mu.Lock()
	if runErr != nil {
		task.State = TaskFailed
		task.Result = runErr.Error()
	} else {
		task.State = TaskCompleted
		task.Result = result
	}
	task.UpdatedAt = time.Now()
	s.mu.Unlock()

	if err := s.persist(ctx, task.ID, core.MemoryCollaborationTask, task.ToMap()); err != nil {
		return nil, err
	}
	if runErr != nil {
		return task, core.NewError("collab.ExecuteTask", core.KindCollaboration, core.CodeCollaborationError, runErr)
	}
	return task, nil
}

// ExecuteWorkflow builds a dependency DAG from each task's Dependencies,
// detects cycles, and executes tasks in topological order (auto-assigning
// any still-PENDING task along the way).
func (s *Service) ExecuteWorkflow(ctx context.Context, tasks []*CollaborationTask) ([]*CollaborationTask, error) {
	order, err := topologicalOrder(tasks)
	if err != nil {
		return nil, err
	}
	executed := make([]*CollaborationTask, 0, len(order))
	for _, t := range order {
		s.mu.Lock()
		state := t.State
		s.mu.Unlock()
		if state == TaskPending {
			if _, err := s.AssignTask(ctx, t.ID, ""); err != nil {
				return executed, err
			}
		}
		done, err := s.ExecuteTask(ctx, t.ID)
		executed = append(executed, done)
		if err != nil {
			return executed, err
		}
	}
	return executed, nil
}

// topologicalOrder runs Kahn's algorithm over tasks keyed by ID, using each
// task's Dependencies as edges; returns ErrCycleDetected when a cycle
// prevents a full ordering, per spec §4.7.
func topologicalOrder(tasks []*CollaborationTask) ([]*CollaborationTask, error) {
	byID := make(map[string]*CollaborationTask, len(tasks))
	indegree := make(map[string]int, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		if _, ok := indegree[t.ID]; !ok {
			indegree[t.ID] = 0
		}
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; ok {
				indegree[t.ID]++
			}
		}
	}

	var ready []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			ready = append(ready, t.ID)
		}
	}
	sort.Strings(ready)

	var order []*CollaborationTask
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, byID[id])

		var unlocked []string
		for _, t := range tasks {
			for _, dep := range t.Dependencies {
				if dep == id {
					indegree[t.ID]--
					if indegree[t.ID] == 0 {
						unlocked = append(unlocked, t.ID)
					}
				}
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(order) != len(tasks) {
		return nil, core.NewError("collab.ExecuteWorkflow", core.KindCollaboration, core.CodeCollaborationError, core.ErrCycleDetected)
	}
	return order, nil
}

func normalizeToAgentPayload(sender string, content any) AgentPayload {
	p := EnsureCollaborationPayload(content)
	switch v := p.(type) {
	case RecordPayload:
		if ap, ok := v.DTO.(AgentPayload); ok {
			return ap
		}
		return AgentPayload{Sender: sender, Payload: v.DTO.ToMap()}
	case SummaryPayload:
		return AgentPayload{Sender: sender, Summary: v.Summary}
	case ListPayload:
		return AgentPayload{Sender: sender, Payload: v.ToAny()}
	default:
		return AgentPayload{Sender: sender, Payload: p.ToAny()}
	}
}

// SendMessage normalizes content to an AgentPayload, creates an
// AgentMessage, persists it with redundant fanout, and when relatedTaskID
// is present appends the message ID to that task's message list inside the
// same transaction.
func (s *Service) SendMessage(ctx context.Context, sender, recipient string, msgType MessageType, content any, relatedTaskID string) (*AgentMessage, error) {
	msg := &AgentMessage{
		UUID:          uuid.NewString(),
		Sender:        sender,
		Recipient:     recipient,
		Type:          msgType,
		Payload:       normalizeToAgentPayload(sender, content),
		RelatedTaskID: relatedTaskID,
		Timestamp:     time.Now(),
	}

	primaryName, primary, err := txn.ChoosePrimary(s.Registry, s.PrimaryPreference)
	if err != nil {
		return nil, err
	}
	ms, ok := primary.(memory.MemoryStore)
	if !ok {
		return nil, core.NewError("collab.SendMessage", core.KindAdapter, core.CodeMemoryStoreError, core.ErrAdapterUnavailable)
	}

	var task *CollaborationTask
	if relatedTaskID != "" {
		s.mu.Lock()
		task = s.tasks[relatedTaskID]
		s.mu.Unlock()
	}

	err = s.Coordinator.WithTransaction(ctx, []memory.Adapter{primary}, func(tx *txn.Transaction) error {
		if _, err := ms.Store(ctx, core.MemoryItem{ID: msg.UUID, Content: msg.ToMap(), Type: core.MemoryCollaborationMsg, CreatedAt: msg.Timestamp}); err != nil {
			return err
		}
		if task != nil {
			s.mu.Lock()
			task.Messages = append(task.Messages, msg.UUID)
			task.UpdatedAt = time.Now()
			snapshot := task.ToMap()
			s.mu.Unlock()
			if _, err := ms.Store(ctx, core.MemoryItem{ID: task.ID, Content: snapshot, Type: core.MemoryCollaborationTask, CreatedAt: time.Now()}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, name := range s.Registry.Names() {
		if name == primaryName {
			continue
		}
		a, _ := s.Registry.Get(name)
		secondary, ok := a.(memory.MemoryStore)
		if !ok {
			continue
		}
		if _, serr := secondary.Store(ctx, core.MemoryItem{ID: msg.UUID, Content: msg.ToMap(), Type: core.MemoryCollaborationMsg, CreatedAt: msg.Timestamp}); serr != nil {
			s.Logger.Warn("redundant message fanout failed", map[string]any{"store": name, "message_id": msg.UUID, "error": serr.Error()})
		}
	}
	return msg, nil
}
