package orchestrator

import (
	"fmt"

	"github.com/MeshGate/MeshGate/internal/roles"
	"github.com/MeshGate/MeshGate/internal/validate"
)

// AssignRole binds a locally registered agent to a role, enforcing the
// role's concurrency quota.
func (o *Orchestrator) AssignRole(instanceID, roleID, assignedBy string) (*roles.Assignment, error) {
	if err := validate.RoleID(roleID); err != nil {
		return nil, err
	}
	agent, ok := o.router.LocalAgent(instanceID)
	if !ok {
		return nil, fmt.Errorf("agent %s not registered", instanceID)
	}
	a := o.roles.AssignRole(agent, roleID, assignedBy)
	if a == nil {
		return nil, fmt.Errorf("role %s unavailable (missing or at capacity)", roleID)
	}

	// The router's local map carries the role so subscription filters on
	// fromRoleId keep working; identities are replaced, never mutated.
	agent.RoleID = roleID
	o.router.RegisterLocalAgent(agent)
	return a, nil
}

// UnassignRole releases an agent's role assignment.
func (o *Orchestrator) UnassignRole(instanceID string) bool {
	if !o.roles.UnassignRole(instanceID) {
		return false
	}
	if agent, ok := o.router.LocalAgent(instanceID); ok {
		agent.RoleID = ""
		o.router.RegisterLocalAgent(agent)
	}
	return true
}

// CancelTask cancels a tracked task.
func (o *Orchestrator) CancelTask(taskID string) bool {
	return o.tracker.CancelTask(taskID)
}

// RetryTask returns a failed or timed-out task to the queue.
func (o *Orchestrator) RetryTask(taskID string) bool {
	return o.tracker.RetryTask(taskID)
}
