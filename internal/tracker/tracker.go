// Package tracker follows tasks through their lifecycle and keeps the
// agent and workflow indices consistent with the primary task map.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/MeshGate/MeshGate/internal/protocol"
	"github.com/google/uuid"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions except
// retry (failed/timeout) or nothing at all (completed/cancelled).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Defaults applied at creation.
const (
	DefaultPriority   = 50
	DefaultMaxRetries = 2

	// DefaultMaxAge is the cleanup cutoff for terminal tasks.
	DefaultMaxAge = 24 * time.Hour

	// atRiskRatio is the remaining-time fraction below which a deadline
	// task counts as at risk.
	atRiskRatio = 0.20
)

// Task is one tracked unit of work.
type Task struct {
	TaskID          string     `json:"task_id"`
	CorrelationID   string     `json:"correlation_id"`
	Task            string     `json:"task"`
	Status          Status     `json:"status"`
	AssignedTo      string     `json:"assigned_to,omitempty"`
	RequestedBy     string     `json:"requested_by,omitempty"`
	WorkflowStepID  string     `json:"workflow_step_id,omitempty"`
	WorkflowPlanID  string     `json:"workflow_plan_id,omitempty"`
	Priority        int        `json:"priority"`
	CreatedAt       time.Time  `json:"created_at"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	ProgressPercent *float64   `json:"progress_percent,omitempty"`
	StatusLine      string     `json:"status_line,omitempty"`
	Result          string     `json:"result,omitempty"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	Tags            []string   `json:"tags,omitempty"`
}

// CreateOptions parameterize CreateTask.
type CreateOptions struct {
	Task           string
	CorrelationID  string
	RequestedBy    string
	WorkflowStepID string
	WorkflowPlanID string
	Priority       int
	MaxRetries     int // -1 means zero retries
	Deadline       *time.Time
	Tags           []string
}

// Filter narrows ListTasks results. Zero values match everything.
type Filter struct {
	Status         Status
	AssignedTo     string
	WorkflowPlanID string
	RequestedBy    string
	Tag            string
}

// Tracker owns the task map and its secondary indices.
type Tracker struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	byAgent map[string]map[string]struct{}
	byPlan  map[string]map[string]struct{}
	byStep  map[string]string
	now     func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		tasks:   make(map[string]*Task),
		byAgent: make(map[string]map[string]struct{}),
		byPlan:  make(map[string]map[string]struct{}),
		byStep:  make(map[string]string),
		now:     time.Now,
	}
}

// CreateTask registers a new pending task and its workflow indices.
func (t *Tracker) CreateTask(opts CreateOptions) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	priority := opts.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	maxRetries := opts.MaxRetries
	switch {
	case maxRetries < 0:
		maxRetries = 0
	case maxRetries == 0:
		maxRetries = DefaultMaxRetries
	}
	corr := opts.CorrelationID
	if corr == "" {
		corr = uuid.NewString()
	}

	task := &Task{
		TaskID:         uuid.NewString(),
		CorrelationID:  corr,
		Task:           opts.Task,
		Status:         StatusPending,
		RequestedBy:    opts.RequestedBy,
		WorkflowStepID: opts.WorkflowStepID,
		WorkflowPlanID: opts.WorkflowPlanID,
		Priority:       priority,
		CreatedAt:      t.now().UTC(),
		Deadline:       opts.Deadline,
		MaxRetries:     maxRetries,
		Tags:           append([]string(nil), opts.Tags...),
	}
	t.tasks[task.TaskID] = task

	if task.WorkflowPlanID != "" {
		if t.byPlan[task.WorkflowPlanID] == nil {
			t.byPlan[task.WorkflowPlanID] = make(map[string]struct{})
		}
		t.byPlan[task.WorkflowPlanID][task.TaskID] = struct{}{}
	}
	if task.WorkflowStepID != "" {
		t.byStep[task.WorkflowStepID] = task.TaskID
	}

	out := *task
	return &out
}

// AssignTask moves a pending or failed task to assigned and records the
// owning agent.
func (t *Tracker) AssignTask(taskID string, agent protocol.AgentIdentity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return false
	}
	if task.Status != StatusPending && task.Status != StatusFailed {
		return false
	}

	t.dropAgentIndex(task)
	now := t.now().UTC()
	task.Status = StatusAssigned
	task.AssignedTo = agent.AgentInstanceID
	task.AssignedAt = &now
	t.addAgentIndex(task)
	return true
}

// StartTask moves an assigned task to in-progress.
func (t *Tracker) StartTask(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok || task.Status != StatusAssigned {
		return false
	}
	now := t.now().UTC()
	task.Status = StatusInProgress
	task.StartedAt = &now
	return true
}

// UpdateProgress records progress on any non-terminal task. Idempotent.
func (t *Tracker) UpdateProgress(taskID string, percent *float64, statusLine string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return false
	}
	if percent != nil {
		p := *percent
		task.ProgressPercent = &p
	}
	if statusLine != "" {
		task.StatusLine = statusLine
	}
	return true
}

// Result is the reported outcome of a task.
type Result struct {
	Status     string `json:"status"` // success | partial | failure | timeout
	Result     string `json:"result,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// CompleteTask finalizes a task from the reported result: success and
// partial map to completed, timeout to timeout, anything else to failed.
func (t *Tracker) CompleteTask(taskID string, result Result) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return false
	}
	if task.Status == StatusCompleted || task.Status == StatusCancelled {
		return false
	}

	now := t.now().UTC()
	switch result.Status {
	case protocol.ResultSuccess, protocol.ResultPartial:
		task.Status = StatusCompleted
	case protocol.ResultTimeout:
		task.Status = StatusTimeout
	default:
		task.Status = StatusFailed
	}
	task.CompletedAt = &now
	hundred := float64(100)
	task.ProgressPercent = &hundred
	task.Result = result.Result
	return true
}

// CancelTask marks a task cancelled. Completed and already-cancelled tasks
// are rejected.
func (t *Tracker) CancelTask(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return false
	}
	if task.Status == StatusCompleted || task.Status == StatusCancelled {
		return false
	}
	now := t.now().UTC()
	task.Status = StatusCancelled
	task.CompletedAt = &now
	return true
}

// RetryTask returns a failed or timed-out task to pending, clearing the
// transient fields and consuming one retry.
func (t *Tracker) RetryTask(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return false
	}
	if task.Status != StatusFailed && task.Status != StatusTimeout {
		return false
	}
	if task.RetryCount >= task.MaxRetries {
		return false
	}

	t.dropAgentIndex(task)
	task.RetryCount++
	task.Status = StatusPending
	task.AssignedTo = ""
	task.AssignedAt = nil
	task.StartedAt = nil
	task.CompletedAt = nil
	task.ProgressPercent = nil
	task.StatusLine = ""
	task.Result = ""
	return true
}

// GetTask returns a copy of the task.
func (t *Tracker) GetTask(taskID string) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// TaskIDForStep resolves the workflow step index.
func (t *Tracker) TaskIDForStep(stepID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byStep[stepID]
	return id, ok
}

// ListTasks returns copies of matching tasks sorted by priority descending.
// Agent and workflow-plan filters use the secondary indices.
func (t *Tracker) ListTasks(filter Filter) []Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var candidates []*Task
	switch {
	case filter.AssignedTo != "":
		for id := range t.byAgent[filter.AssignedTo] {
			if task, ok := t.tasks[id]; ok {
				candidates = append(candidates, task)
			}
		}
	case filter.WorkflowPlanID != "":
		for id := range t.byPlan[filter.WorkflowPlanID] {
			if task, ok := t.tasks[id]; ok {
				candidates = append(candidates, task)
			}
		}
	default:
		candidates = make([]*Task, 0, len(t.tasks))
		for _, task := range t.tasks {
			candidates = append(candidates, task)
		}
	}

	out := make([]Task, 0, len(candidates))
	for _, task := range candidates {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.AssignedTo != "" && task.AssignedTo != filter.AssignedTo {
			continue
		}
		if filter.WorkflowPlanID != "" && task.WorkflowPlanID != filter.WorkflowPlanID {
			continue
		}
		if filter.RequestedBy != "" && task.RequestedBy != filter.RequestedBy {
			continue
		}
		if filter.Tag != "" && !hasTag(task.Tags, filter.Tag) {
			continue
		}
		out = append(out, *task)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Cleanup removes terminal tasks whose completion (or creation, if never
// completed) is older than maxAge, purging their index entries. Returns the
// number of tasks removed.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := t.now().UTC().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, task := range t.tasks {
		if !task.Status.Terminal() {
			continue
		}
		ref := task.CreatedAt
		if task.CompletedAt != nil {
			ref = *task.CompletedAt
		}
		if !ref.Before(cutoff) {
			continue
		}
		t.dropAgentIndex(task)
		if task.WorkflowPlanID != "" {
			if set := t.byPlan[task.WorkflowPlanID]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(t.byPlan, task.WorkflowPlanID)
				}
			}
		}
		if task.WorkflowStepID != "" && t.byStep[task.WorkflowStepID] == id {
			delete(t.byStep, task.WorkflowStepID)
		}
		delete(t.tasks, id)
		removed++
	}
	return removed
}

func (t *Tracker) addAgentIndex(task *Task) {
	if task.AssignedTo == "" {
		return
	}
	if t.byAgent[task.AssignedTo] == nil {
		t.byAgent[task.AssignedTo] = make(map[string]struct{})
	}
	t.byAgent[task.AssignedTo][task.TaskID] = struct{}{}
}

func (t *Tracker) dropAgentIndex(task *Task) {
	if task.AssignedTo == "" {
		return
	}
	if set := t.byAgent[task.AssignedTo]; set != nil {
		delete(set, task.TaskID)
		if len(set) == 0 {
			delete(t.byAgent, task.AssignedTo)
		}
	}
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
