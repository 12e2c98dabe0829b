// Package roles manages role definitions and agent role assignments with
// concurrency quota enforcement.
package roles

import (
	"sort"
	"sync"
	"time"

	"github.com/MeshGate/MeshGate/internal/protocol"
)

// Quota and priority bounds.
const (
	MinConcurrent = 1
	MaxConcurrent = 64
	MinPriority   = 0
	MaxPriority   = 100

	// DefaultPriority is assumed for agents without a role assignment.
	DefaultPriority = 50
)

// Role is a named capability and constraint bundle assignable to agents.
type Role struct {
	RoleID               string   `json:"role_id"`
	Name                 string   `json:"name"`
	Description          string   `json:"description,omitempty"`
	SystemPromptFragment string   `json:"system_prompt_fragment,omitempty"`
	AllowedTools         []string `json:"allowed_tools,omitempty"`
	DeniedTools          []string `json:"denied_tools,omitempty"`
	MaxConcurrent        int      `json:"max_concurrent,omitempty"` // 0 = unlimited
	Priority             int      `json:"priority"`
}

// Assignment binds one agent instance to a role.
type Assignment struct {
	AgentInstanceID string    `json:"agent_instance_id"`
	AgentConfigID   string    `json:"agent_config_id"`
	GatewayID       string    `json:"gateway_id"`
	Role            Role      `json:"role"`
	AssignedAt      time.Time `json:"assigned_at"`
	AssignedBy      string    `json:"assigned_by"`
}

// State is the checkpoint form of the manager.
type State struct {
	Roles       []Role       `json:"roles"`
	Assignments []Assignment `json:"assignments"`
}

// Manager holds role definitions and the per-agent assignment map.
type Manager struct {
	mu          sync.RWMutex
	roles       map[string]Role
	assignments map[string]Assignment
}

// NewManager creates a manager seeded with the built-in roles.
func NewManager() *Manager {
	m := &Manager{
		roles:       make(map[string]Role),
		assignments: make(map[string]Assignment),
	}
	for _, r := range BuiltinRoles() {
		m.roles[r.RoleID] = r
	}
	return m
}

// BuiltinRoles returns the six seeded role definitions.
func BuiltinRoles() []Role {
	return []Role{
		{RoleID: "orchestrator", Name: "Orchestrator", Description: "Coordinates agents and dispatches work", Priority: 100},
		{RoleID: "monitor", Name: "Monitor", Description: "Observes gateway and agent health", Priority: 80},
		{RoleID: "reviewer", Name: "Reviewer", Description: "Reviews work produced by other agents", Priority: 70},
		{RoleID: "coder", Name: "Coder", Description: "Implements code tasks", Priority: 60},
		{RoleID: "researcher", Name: "Researcher", Description: "Gathers and summarizes information", Priority: 50},
		{RoleID: "executor", Name: "Executor", Description: "Runs delegated commands and workloads", Priority: 40},
	}
}

// DefineRole upserts a role definition.
func (m *Manager) DefineRole(role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role.RoleID] = role
}

// RemoveRole deletes a role definition. Existing assignments referencing the
// role are left in place.
func (m *Manager) RemoveRole(roleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return false
	}
	delete(m.roles, roleID)
	return true
}

// GetRole looks up a role definition.
func (m *Manager) GetRole(roleID string) (Role, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[roleID]
	return r, ok
}

// AssignRole binds the agent to the role. Returns nil when the role does not
// exist or its concurrency quota is full. An agent already holding the role
// is not counted against the quota twice; a successful assignment replaces
// any prior assignment for that agent instance.
func (m *Manager) AssignRole(agent protocol.AgentIdentity, roleID, assignedBy string) *Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()

	role, ok := m.roles[roleID]
	if !ok {
		return nil
	}
	if role.MaxConcurrent > 0 {
		count := 0
		for id, a := range m.assignments {
			if a.Role.RoleID == roleID && id != agent.AgentInstanceID {
				count++
			}
		}
		if count >= role.MaxConcurrent {
			return nil
		}
	}

	a := Assignment{
		AgentInstanceID: agent.AgentInstanceID,
		AgentConfigID:   agent.AgentConfigID,
		GatewayID:       agent.GatewayID,
		Role:            copyRole(role),
		AssignedAt:      time.Now().UTC(),
		AssignedBy:      assignedBy,
	}
	m.assignments[agent.AgentInstanceID] = a
	out := a
	return &out
}

// UnassignRole releases an agent's assignment.
func (m *Manager) UnassignRole(instanceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[instanceID]; !ok {
		return false
	}
	delete(m.assignments, instanceID)
	return true
}

// GetAssignment returns the assignment for an agent instance.
func (m *Manager) GetAssignment(instanceID string) (Assignment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[instanceID]
	return a, ok
}

// CountAgentsWithRole returns how many assignments reference the role.
func (m *Manager) CountAgentsWithRole(roleID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, a := range m.assignments {
		if a.Role.RoleID == roleID {
			count++
		}
	}
	return count
}

// GetAgentsWithRole returns the instance ids of agents holding the role.
func (m *Manager) GetAgentsWithRole(roleID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for id, a := range m.assignments {
		if a.Role.RoleID == roleID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ListAssignments returns all assignments.
func (m *Manager) ListAssignments() []Assignment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Assignment, 0, len(m.assignments))
	for _, a := range m.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentInstanceID < out[j].AgentInstanceID })
	return out
}

// ListRoles returns all role definitions sorted by priority descending.
func (m *Manager) ListRoles() []Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, copyRole(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].RoleID < out[j].RoleID
	})
	return out
}

// ExportState returns a deep-copied snapshot for checkpointing.
func (m *Manager) ExportState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := State{
		Roles:       make([]Role, 0, len(m.roles)),
		Assignments: make([]Assignment, 0, len(m.assignments)),
	}
	for _, r := range m.roles {
		st.Roles = append(st.Roles, copyRole(r))
	}
	for _, a := range m.assignments {
		a.Role = copyRole(a.Role)
		st.Assignments = append(st.Assignments, a)
	}
	sort.Slice(st.Roles, func(i, j int) bool { return st.Roles[i].RoleID < st.Roles[j].RoleID })
	sort.Slice(st.Assignments, func(i, j int) bool {
		return st.Assignments[i].AgentInstanceID < st.Assignments[j].AgentInstanceID
	})
	return st
}

// ImportState replaces the manager's state with the snapshot.
func (m *Manager) ImportState(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles = make(map[string]Role, len(st.Roles))
	for _, r := range st.Roles {
		m.roles[r.RoleID] = copyRole(r)
	}
	m.assignments = make(map[string]Assignment, len(st.Assignments))
	for _, a := range st.Assignments {
		a.Role = copyRole(a.Role)
		m.assignments[a.AgentInstanceID] = a
	}
}

func copyRole(r Role) Role {
	out := r
	if r.AllowedTools != nil {
		out.AllowedTools = append([]string(nil), r.AllowedTools...)
	}
	if r.DeniedTools != nil {
		out.DeniedTools = append([]string(nil), r.DeniedTools...)
	}
	return out
}
