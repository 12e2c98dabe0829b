package protocol

import (
	"encoding/json"
	"fmt"
)

// Payload type discriminators.
const (
	PayloadTaskAssign        = "task.assign"
	PayloadTaskResult        = "task.result"
	PayloadTaskProgress      = "task.progress"
	PayloadHeartbeat         = "heartbeat"
	PayloadAgentDiscovery    = "agent.discovery"
	PayloadRoleAssign        = "role.assign"
	PayloadSecurityChallenge = "security.challenge"
	PayloadSecurityResponse  = "security.response"
)

// Discovery actions.
const (
	DiscoveryJoin     = "join"
	DiscoveryLeave    = "leave"
	DiscoveryAnnounce = "announce"
)

// Task result statuses.
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultFailure = "failure"
	ResultTimeout = "timeout"
)

// Payload content limits.
const (
	MaxTaskChars       = 65536
	MaxResultChars     = 262144
	MaxStatusLineChars = 1024
)

// Payload is the tagged union of message bodies. The concrete type is
// selected by the literal type discriminator on the wire.
type Payload interface {
	PayloadType() string
}

// TaskAssignPayload asks an agent to work on a task.
type TaskAssignPayload struct {
	Type           string   `json:"type"`
	TaskID         string   `json:"task_id"`
	Task           string   `json:"task"`
	Priority       int      `json:"priority,omitempty"`
	RequestedBy    string   `json:"requested_by,omitempty"`
	WorkflowStepID string   `json:"workflow_step_id,omitempty"`
	WorkflowPlanID string   `json:"workflow_plan_id,omitempty"`
	Deadline       string   `json:"deadline,omitempty"` // RFC3339
	Tags           []string `json:"tags,omitempty"`
}

func (p TaskAssignPayload) PayloadType() string { return PayloadTaskAssign }

// TaskResultPayload carries the outcome of a task.
type TaskResultPayload struct {
	Type           string `json:"type"`
	TaskID         string `json:"task_id,omitempty"`
	WorkflowStepID string `json:"workflow_step_id,omitempty"`
	Status         string `json:"status"` // success | partial | failure | timeout
	Result         string `json:"result,omitempty"`
	DurationMs     int64  `json:"duration_ms,omitempty"`
}

func (p TaskResultPayload) PayloadType() string { return PayloadTaskResult }

// TaskProgressPayload reports partial progress on a running task.
type TaskProgressPayload struct {
	Type           string   `json:"type"`
	WorkflowStepID string   `json:"workflow_step_id,omitempty"`
	Percent        *float64 `json:"percent,omitempty"`
	StatusLine     string   `json:"status_line,omitempty"`
}

func (p TaskProgressPayload) PayloadType() string { return PayloadTaskProgress }

// HeartbeatPayload is the periodic liveness and load report from an agent.
type HeartbeatPayload struct {
	Type        string  `json:"type"`
	Load        float64 `json:"load"`
	ActiveTasks int     `json:"active_tasks,omitempty"`
	Status      string  `json:"status,omitempty"`
}

func (p HeartbeatPayload) PayloadType() string { return PayloadHeartbeat }

// AgentDiscoveryPayload announces agent membership changes.
type AgentDiscoveryPayload struct {
	Type     string        `json:"type"`
	Action   string        `json:"action"` // join | leave | announce
	Identity AgentIdentity `json:"identity"`
}

func (p AgentDiscoveryPayload) PayloadType() string { return PayloadAgentDiscovery }

// RoleAssignPayload requests a role assignment for an agent.
type RoleAssignPayload struct {
	Type            string `json:"type"`
	RoleID          string `json:"role_id"`
	AgentInstanceID string `json:"agent_instance_id"`
	AssignedBy      string `json:"assigned_by,omitempty"`
}

func (p RoleAssignPayload) PayloadType() string { return PayloadRoleAssign }

// SecurityChallengePayload carries a signing challenge for a peer handshake.
// Signature verification is delegated to a pluggable verifier.
type SecurityChallengePayload struct {
	Type      string `json:"type"`
	Nonce     string `json:"nonce"` // base64
	Algorithm string `json:"algorithm"`
}

func (p SecurityChallengePayload) PayloadType() string { return PayloadSecurityChallenge }

// SecurityResponsePayload answers a security challenge.
type SecurityResponsePayload struct {
	Type      string `json:"type"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"` // base64
	PublicKey string `json:"public_key,omitempty"`
}

func (p SecurityResponsePayload) PayloadType() string { return PayloadSecurityResponse }

// PayloadTypeOf returns the discriminator for any payload, or "" for nil.
func PayloadTypeOf(p Payload) string {
	if p == nil {
		return ""
	}
	return p.PayloadType()
}

// DecodePayload unmarshals raw JSON into the concrete payload type selected
// by its type discriminator.
func DecodePayload(data []byte) (Payload, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("payload: decode discriminator: %w", err)
	}

	var p Payload
	switch probe.Type {
	case PayloadTaskAssign:
		p = &TaskAssignPayload{}
	case PayloadTaskResult:
		p = &TaskResultPayload{}
	case PayloadTaskProgress:
		p = &TaskProgressPayload{}
	case PayloadHeartbeat:
		p = &HeartbeatPayload{}
	case PayloadAgentDiscovery:
		p = &AgentDiscoveryPayload{}
	case PayloadRoleAssign:
		p = &RoleAssignPayload{}
	case PayloadSecurityChallenge:
		p = &SecurityChallengePayload{}
	case PayloadSecurityResponse:
		p = &SecurityResponsePayload{}
	default:
		return nil, fmt.Errorf("payload: unknown type %q", probe.Type)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("payload: decode %s: %w", probe.Type, err)
	}
	return deref(p), nil
}

// deref returns the payload by value so callers can type-switch on the
// concrete struct types.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *TaskAssignPayload:
		return *v
	case *TaskResultPayload:
		return *v
	case *TaskProgressPayload:
		return *v
	case *HeartbeatPayload:
		return *v
	case *AgentDiscoveryPayload:
		return *v
	case *RoleAssignPayload:
		return *v
	case *SecurityChallengePayload:
		return *v
	case *SecurityResponsePayload:
		return *v
	default:
		return p
	}
}

// DecodeMessage unmarshals a wire message: envelope plus typed payload.
func DecodeMessage(data []byte) (*Message, error) {
	var raw struct {
		Envelope Envelope        `json:"envelope"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("message: decode: %w", err)
	}
	payload, err := DecodePayload(raw.Payload)
	if err != nil {
		return nil, err
	}
	return &Message{Envelope: raw.Envelope, Payload: payload}, nil
}

// ValidatePayload checks content bounds for the given payload.
func ValidatePayload(p Payload) error {
	switch v := p.(type) {
	case TaskAssignPayload:
		if v.Task == "" {
			return fmt.Errorf("task.assign: task is required")
		}
		if len(v.Task) > MaxTaskChars {
			return fmt.Errorf("task.assign: task exceeds %d chars", MaxTaskChars)
		}
	case TaskResultPayload:
		if len(v.Result) > MaxResultChars {
			return fmt.Errorf("task.result: result exceeds %d chars", MaxResultChars)
		}
		switch v.Status {
		case ResultSuccess, ResultPartial, ResultFailure, ResultTimeout:
		default:
			return fmt.Errorf("task.result: unknown status %q", v.Status)
		}
	case TaskProgressPayload:
		if v.Percent != nil && (*v.Percent < 0 || *v.Percent > 100) {
			return fmt.Errorf("task.progress: percent %v out of range [0,100]", *v.Percent)
		}
		if len(v.StatusLine) > MaxStatusLineChars {
			return fmt.Errorf("task.progress: status_line exceeds %d chars", MaxStatusLineChars)
		}
	case HeartbeatPayload:
		if v.Load < 0 || v.Load > 1 {
			return fmt.Errorf("heartbeat: load %v out of range [0,1]", v.Load)
		}
	case AgentDiscoveryPayload:
		switch v.Action {
		case DiscoveryJoin, DiscoveryLeave, DiscoveryAnnounce:
		default:
			return fmt.Errorf("agent.discovery: unknown action %q", v.Action)
		}
	case RoleAssignPayload:
		if v.RoleID == "" || v.AgentInstanceID == "" {
			return fmt.Errorf("role.assign: role_id and agent_instance_id are required")
		}
	}
	return nil
}
