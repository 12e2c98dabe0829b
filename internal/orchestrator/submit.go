package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"github.com/MeshGate/MeshGate/internal/protocol"
	"github.com/MeshGate/MeshGate/internal/roles"
	"github.com/MeshGate/MeshGate/internal/tracker"
	"github.com/MeshGate/MeshGate/internal/validate"
)

// SubmitTaskRequest parameterizes SubmitTask.
type SubmitTaskRequest struct {
	Task                  string
	TargetRoleID          string
	TargetAgentInstanceID string
	RequestedBy           string
	WorkflowStepID        string
	WorkflowPlanID        string
	Priority              int
	MaxRetries            int
	Deadline              *time.Time
	Tags                  []string
}

// SubmitTask creates a tracked task and dispatches it to the best available
// agent. With no matching agent the task stays pending; that is a normal
// state, not an error.
func (o *Orchestrator) SubmitTask(req SubmitTaskRequest) (*tracker.Task, error) {
	desc := validate.Sanitize(req.Task)
	if desc == "" {
		return nil, fmt.Errorf("task description is required")
	}
	if len(desc) > validate.MaxTaskDescriptionChars {
		return nil, fmt.Errorf("task description exceeds %d chars", validate.MaxTaskDescriptionChars)
	}
	if req.TargetRoleID != "" {
		if err := validate.RoleID(req.TargetRoleID); err != nil {
			return nil, err
		}
	}

	task := o.tracker.CreateTask(tracker.CreateOptions{
		Task:           desc,
		RequestedBy:    req.RequestedBy,
		WorkflowStepID: req.WorkflowStepID,
		WorkflowPlanID: req.WorkflowPlanID,
		Priority:       req.Priority,
		MaxRetries:     req.MaxRetries,
		Deadline:       req.Deadline,
		Tags:           req.Tags,
	})

	o.emit(EventTaskSubmitted, map[string]any{"task_id": task.TaskID})

	agent, ok := o.selectAgent(req.TargetAgentInstanceID, req.TargetRoleID)
	if !ok {
		// Queued until an agent shows up.
		return task, nil
	}

	if !o.tracker.AssignTask(task.TaskID, agent) {
		return task, nil
	}
	o.tracker.StartTask(task.TaskID)

	o.router.Send(o.identity, &agent, protocol.TaskAssignPayload{
		Type:           protocol.PayloadTaskAssign,
		TaskID:         task.TaskID,
		Task:           desc,
		Priority:       task.Priority,
		RequestedBy:    req.RequestedBy,
		WorkflowStepID: req.WorkflowStepID,
		WorkflowPlanID: req.WorkflowPlanID,
		Deadline:       deadlineString(req.Deadline),
		Tags:           req.Tags,
	}, nil)

	updated, _ := o.tracker.GetTask(task.TaskID)
	return &updated, nil
}

// selectAgent picks the dispatch target: an explicit instance if registered,
// otherwise the least-loaded local agent (ties broken by role priority
// descending), optionally restricted to holders of the target role.
func (o *Orchestrator) selectAgent(targetInstanceID, targetRoleID string) (protocol.AgentIdentity, bool) {
	if targetInstanceID != "" {
		return o.router.LocalAgent(targetInstanceID)
	}

	candidates := o.router.LocalAgents()
	if targetRoleID != "" {
		holders := make(map[string]struct{})
		for _, id := range o.roles.GetAgentsWithRole(targetRoleID) {
			holders[id] = struct{}{}
		}
		filtered := candidates[:0]
		for _, c := range candidates {
			if _, ok := holders[c.AgentInstanceID]; ok {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return protocol.AgentIdentity{}, false
	}

	type scored struct {
		agent    protocol.AgentIdentity
		load     float64
		priority int
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		load := 0.0
		if hb, ok := o.HeartbeatFor(c.AgentInstanceID); ok {
			load = hb.Payload.Load
		}
		priority := roles.DefaultPriority
		if a, ok := o.roles.GetAssignment(c.AgentInstanceID); ok {
			priority = a.Role.Priority
		}
		ranked = append(ranked, scored{agent: c, load: load, priority: priority})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].load != ranked[j].load {
			return ranked[i].load < ranked[j].load
		}
		return ranked[i].priority > ranked[j].priority
	})
	return ranked[0].agent, true
}

func deadlineString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
