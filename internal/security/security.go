// Package security enforces per-agent policies on mesh messages:
// permissions, rate limits, cross-gateway access, and HMAC integrity.
// Permission checks and denials land in a bounded audit log.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MeshGate/MeshGate/internal/protocol"
)

// Permission names.
const (
	PermTaskAssign      = "task.assign"
	PermTaskCancel      = "task.cancel"
	PermRoleAssign      = "role.assign"
	PermRoleManage      = "role.manage"
	PermAgentRegister   = "agent.register"
	PermAgentUnregister = "agent.unregister"
	PermWorkflowCreate  = "workflow.create"
	PermWorkflowAbort   = "workflow.abort"
	PermConfigRead      = "config.read"
	PermConfigWrite     = "config.write"
	PermReportRead      = "report.read"
	PermReportExport    = "report.export"
)

// AllPermissions is the fixed permission enumeration.
var AllPermissions = []string{
	PermTaskAssign, PermTaskCancel,
	PermRoleAssign, PermRoleManage,
	PermAgentRegister, PermAgentUnregister,
	PermWorkflowCreate, PermWorkflowAbort,
	PermConfigRead, PermConfigWrite,
	PermReportRead, PermReportExport,
}

// payloadPermissions maps payload types to the permission required to
// deliver them. Absent entries mean no permission is required.
var payloadPermissions = map[string]string{
	protocol.PayloadTaskAssign:     PermTaskAssign,
	protocol.PayloadRoleAssign:     PermRoleAssign,
	protocol.PayloadAgentDiscovery: PermAgentRegister,
}

// Policy defaults.
const (
	DefaultMaxConcurrentTasks   = 8
	DefaultMaxMessagesPerMinute = 120

	rateWindow          = 60 * time.Second
	auditCapacity       = 10000
	challengeNonceBytes = 32
	challengeAlgorithm  = "ed25519"
	sharedSecretBytes   = 32
)

// Policy is the per-agent security policy.
type Policy struct {
	AgentID              string   `json:"agent_id"`
	Permissions          []string `json:"permissions"`
	NetworkAllowlist     []string `json:"network_allowlist,omitempty"`
	MaxConcurrentTasks   int      `json:"max_concurrent_tasks"`
	MaxMessagesPerMinute int      `json:"max_messages_per_minute"`
	AllowCrossGateway    bool     `json:"allow_cross_gateway"`
}

// DefaultPolicy returns the policy applied to agents without one.
func DefaultPolicy(agentID string) Policy {
	return Policy{
		AgentID:              agentID,
		Permissions:          []string{PermTaskAssign, PermReportRead, PermConfigRead},
		MaxConcurrentTasks:   DefaultMaxConcurrentTasks,
		MaxMessagesPerMinute: DefaultMaxMessagesPerMinute,
		AllowCrossGateway:    false,
	}
}

// AuditEntry records one security decision.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id"`
	Action    string    `json:"action"`
	Allowed   bool      `json:"allowed"`
	Detail    string    `json:"detail,omitempty"`
}

// Decision is the outcome of AuthorizeMessage.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type rateState struct {
	windowStart time.Time
	count       int
}

// Manager holds policies, the shared HMAC secret, rate limiter state and the
// audit ring.
type Manager struct {
	mu          sync.Mutex
	policies    map[string]Policy
	secret      []byte
	rates       map[string]*rateState
	audit       []AuditEntry
	trimPending bool
	now         func() time.Time
}

// NewManager creates a security manager. A nil secret generates a random
// 32-byte one.
func NewManager(secret []byte) *Manager {
	if len(secret) == 0 {
		secret = make([]byte, sharedSecretBytes)
		if _, err := rand.Read(secret); err != nil {
			// crypto/rand never fails on supported platforms; a corrupted
			// entropy source is a true invariant violation.
			panic(fmt.Sprintf("security: entropy unavailable: %v", err))
		}
	}
	return &Manager{
		policies: make(map[string]Policy),
		secret:   secret,
		rates:    make(map[string]*rateState),
		now:      time.Now,
	}
}

// SetPolicy installs or replaces an agent's policy.
func (m *Manager) SetPolicy(p Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.AgentID] = copyPolicy(p)
}

// RemovePolicy deletes an agent's policy, reverting it to defaults.
func (m *Manager) RemovePolicy(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[agentID]; !ok {
		return false
	}
	delete(m.policies, agentID)
	return true
}

// GetPolicy returns the agent's policy, or the defaults when none is set.
func (m *Manager) GetPolicy(agentID string) Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policyLocked(agentID)
}

func (m *Manager) policyLocked(agentID string) Policy {
	if p, ok := m.policies[agentID]; ok {
		return copyPolicy(p)
	}
	return DefaultPolicy(agentID)
}

// HasPermission checks the agent's policy for a permission and audits the
// check.
func (m *Manager) HasPermission(agentID, perm string) bool {
	m.mu.Lock()
	policy := m.policyLocked(agentID)
	allowed := false
	for _, p := range policy.Permissions {
		if p == perm {
			allowed = true
			break
		}
	}
	m.auditLocked(AuditEntry{
		Timestamp: m.now().UTC(),
		AgentID:   agentID,
		Action:    "permission.check:" + perm,
		Allowed:   allowed,
	})
	m.mu.Unlock()
	return allowed
}

// CheckRateLimit counts one message against the agent's sliding 60 s window
// and reports whether it is within the policy limit. The window resets
// lazily after it lapses; a denial emits an audit entry.
func (m *Manager) CheckRateLimit(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy := m.policyLocked(agentID)
	now := m.now()

	st, ok := m.rates[agentID]
	if !ok || now.Sub(st.windowStart) > rateWindow {
		st = &rateState{windowStart: now}
		m.rates[agentID] = st
	}
	st.count++
	if st.count <= policy.MaxMessagesPerMinute {
		return true
	}
	m.auditLocked(AuditEntry{
		Timestamp: now.UTC(),
		AgentID:   agentID,
		Action:    "rate-limit.exceeded",
		Allowed:   false,
		Detail:    fmt.Sprintf("%d/%d", st.count, policy.MaxMessagesPerMinute),
	})
	return false
}

// SignMessage computes the base64 HMAC-SHA256 signature over the message id
// and payload.
func (m *Manager) SignMessage(env protocol.Envelope, payload protocol.Payload) (string, error) {
	mac, err := m.computeMAC(env.MessageID, payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(mac), nil
}

// VerifySignature checks the envelope's signature against the payload in
// constant time. Absent signatures and length mismatches verify false.
func (m *Manager) VerifySignature(env protocol.Envelope, payload protocol.Payload) bool {
	if env.Signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return false
	}
	want, err := m.computeMAC(env.MessageID, payload)
	if err != nil {
		return false
	}
	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (m *Manager) computeMAC(messageID string, payload protocol.Payload) ([]byte, error) {
	body, err := json.Marshal(struct {
		MessageID string           `json:"messageId"`
		Payload   protocol.Payload `json:"payload"`
	}{messageID, payload})
	if err != nil {
		return nil, fmt.Errorf("sign: marshal: %w", err)
	}
	h := hmac.New(sha256.New, m.secret)
	h.Write(body)
	return h.Sum(nil), nil
}

// AuthorizeMessage gates an inbound message: rate limit, cross-gateway
// policy, signature (when present), then the payload's required permission.
func (m *Manager) AuthorizeMessage(msg *protocol.Message) Decision {
	agentID := msg.Envelope.From.AgentInstanceID

	if !m.CheckRateLimit(agentID) {
		return Decision{Allowed: false, Reason: "rate limit exceeded"}
	}

	if msg.Envelope.To != nil && msg.Envelope.From.GatewayID != msg.Envelope.To.GatewayID {
		if !m.GetPolicy(agentID).AllowCrossGateway {
			m.recordAudit(AuditEntry{
				Timestamp: m.now().UTC(),
				AgentID:   agentID,
				Action:    "cross-gateway.denied",
				Allowed:   false,
				Detail:    msg.Envelope.From.GatewayID + "->" + msg.Envelope.To.GatewayID,
			})
			return Decision{Allowed: false, Reason: "cross-gateway access denied"}
		}
	}

	if msg.Envelope.Signature != "" && !m.VerifySignature(msg.Envelope, msg.Payload) {
		m.recordAudit(AuditEntry{
			Timestamp: m.now().UTC(),
			AgentID:   agentID,
			Action:    "signature.invalid",
			Allowed:   false,
		})
		return Decision{Allowed: false, Reason: "invalid signature"}
	}

	if perm, ok := payloadPermissions[protocol.PayloadTypeOf(msg.Payload)]; ok {
		if !m.HasPermission(agentID, perm) {
			return Decision{Allowed: false, Reason: "missing permission " + perm}
		}
	}

	return Decision{Allowed: true}
}

// GenerateChallenge produces a signing challenge for a peer handshake.
// Verifying the response is delegated to a pluggable verifier.
func (m *Manager) GenerateChallenge() protocol.SecurityChallengePayload {
	nonce := make([]byte, challengeNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		panic(fmt.Sprintf("security: entropy unavailable: %v", err))
	}
	return protocol.SecurityChallengePayload{
		Type:      protocol.PayloadSecurityChallenge,
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		Algorithm: challengeAlgorithm,
	}
}

// ExportPolicies returns a deep-copied snapshot of all policies.
func (m *Manager) ExportPolicies() []Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Policy, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, copyPolicy(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ImportPolicies replaces the policy store with the snapshot.
func (m *Manager) ImportPolicies(policies []Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = make(map[string]Policy, len(policies))
	for _, p := range policies {
		m.policies[p.AgentID] = copyPolicy(p)
	}
}

func copyPolicy(p Policy) Policy {
	out := p
	out.Permissions = append([]string(nil), p.Permissions...)
	if p.NetworkAllowlist != nil {
		out.NetworkAllowlist = append([]string(nil), p.NetworkAllowlist...)
	}
	return out
}
