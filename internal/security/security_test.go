package security

import (
	"encoding/base64"
	"reflect"
	"testing"
	"time"

	"github.com/MeshGate/MeshGate/internal/protocol"
)

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func envelopeFrom(instance, gateway string, to *protocol.AgentIdentity) protocol.Envelope {
	from := protocol.AgentIdentity{
		AgentInstanceID: instance,
		AgentConfigID:   "agent-" + instance,
		GatewayID:       gateway,
	}
	return protocol.NewEnvelope(from, to, "")
}

func TestGetPolicyDefaults(t *testing.T) {
	m := NewManager(testSecret())
	p := m.GetPolicy("ghost")
	if p.MaxConcurrentTasks != DefaultMaxConcurrentTasks {
		t.Errorf("expected %d concurrent tasks, got %d", DefaultMaxConcurrentTasks, p.MaxConcurrentTasks)
	}
	if p.MaxMessagesPerMinute != DefaultMaxMessagesPerMinute {
		t.Errorf("expected %d msgs/min, got %d", DefaultMaxMessagesPerMinute, p.MaxMessagesPerMinute)
	}
	if p.AllowCrossGateway {
		t.Error("cross-gateway must default to false")
	}
	want := []string{PermTaskAssign, PermReportRead, PermConfigRead}
	if !reflect.DeepEqual(p.Permissions, want) {
		t.Errorf("unexpected default permissions: %v", p.Permissions)
	}
}

func TestHasPermissionAudited(t *testing.T) {
	m := NewManager(testSecret())
	if !m.HasPermission("a1", PermTaskAssign) {
		t.Error("default policy grants task.assign")
	}
	if m.HasPermission("a1", PermConfigWrite) {
		t.Error("default policy must not grant config.write")
	}

	log := m.GetAgentAuditLog("a1", 10)
	if len(log) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(log))
	}
	if log[0].Action != "permission.check:"+PermTaskAssign || !log[0].Allowed {
		t.Errorf("unexpected first entry: %+v", log[0])
	}
	if log[1].Action != "permission.check:"+PermConfigWrite || log[1].Allowed {
		t.Errorf("unexpected second entry: %+v", log[1])
	}
}

func TestRateLimitWindow(t *testing.T) {
	m := NewManager(testSecret())
	base := time.Now()
	m.now = func() time.Time { return base }
	m.SetPolicy(Policy{AgentID: "a1", MaxMessagesPerMinute: 3})

	for i := 0; i < 3; i++ {
		if !m.CheckRateLimit("a1") {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	if m.CheckRateLimit("a1") {
		t.Fatal("fourth call in the window must be denied")
	}

	denials := 0
	for _, e := range m.GetAgentAuditLog("a1", 10) {
		if e.Action == "rate-limit.exceeded" {
			denials++
			if e.Detail != "4/3" {
				t.Errorf("expected detail 4/3, got %s", e.Detail)
			}
		}
	}
	if denials != 1 {
		t.Errorf("expected exactly 1 denial entry, got %d", denials)
	}

	// The window resets lazily after 60s.
	m.now = func() time.Time { return base.Add(61 * time.Second) }
	if !m.CheckRateLimit("a1") {
		t.Error("call after window lapse should be allowed")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	m := NewManager(testSecret())
	env := envelopeFrom("a1", "gw-1", nil)
	payload := protocol.HeartbeatPayload{Type: protocol.PayloadHeartbeat, Load: 0.3}

	sig, err := m.SignMessage(env, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	env.Signature = sig
	if !m.VerifySignature(env, payload) {
		t.Error("expected signature to verify")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	m := NewManager(testSecret())
	env := envelopeFrom("a1", "gw-1", nil)
	payload := protocol.HeartbeatPayload{Type: protocol.PayloadHeartbeat, Load: 0.3}

	sig, _ := m.SignMessage(env, payload)
	env.Signature = sig

	// Tampered payload.
	evil := protocol.TaskAssignPayload{Type: protocol.PayloadTaskAssign, Task: "malicious"}
	if m.VerifySignature(env, evil) {
		t.Error("payload tampering must flip verification to false")
	}

	// Tampered message id.
	tampered := env
	tampered.MessageID = "another-id"
	if m.VerifySignature(tampered, payload) {
		t.Error("message id tampering must flip verification to false")
	}

	// Absent signature.
	env.Signature = ""
	if m.VerifySignature(env, payload) {
		t.Error("absent signature must verify false")
	}
}

func TestAuthorizeMessageOrder(t *testing.T) {
	m := NewManager(testSecret())

	// Cross-gateway denial with the default policy.
	to := protocol.AgentIdentity{AgentInstanceID: "b1", AgentConfigID: "agent-b1", GatewayID: "gw-2"}
	env := envelopeFrom("a1", "gw-1", &to)
	msg := &protocol.Message{Envelope: env, Payload: protocol.HeartbeatPayload{Type: protocol.PayloadHeartbeat}}
	d := m.AuthorizeMessage(msg)
	if d.Allowed || d.Reason != "cross-gateway access denied" {
		t.Errorf("expected cross-gateway denial, got %+v", d)
	}

	// Allowed once the policy opens the gateway boundary.
	m.SetPolicy(Policy{
		AgentID:              "a1",
		Permissions:          DefaultPolicy("a1").Permissions,
		MaxMessagesPerMinute: DefaultMaxMessagesPerMinute,
		AllowCrossGateway:    true,
	})
	if d := m.AuthorizeMessage(msg); !d.Allowed {
		t.Errorf("expected allow after policy change, got %+v", d)
	}
}

func TestAuthorizeMessagePermissionMap(t *testing.T) {
	m := NewManager(testSecret())
	m.SetPolicy(Policy{AgentID: "a1", Permissions: []string{}, MaxMessagesPerMinute: 100})

	env := envelopeFrom("a1", "gw-1", nil)
	assign := &protocol.Message{
		Envelope: env,
		Payload:  protocol.TaskAssignPayload{Type: protocol.PayloadTaskAssign, Task: "x"},
	}
	if d := m.AuthorizeMessage(assign); d.Allowed {
		t.Error("task.assign without the permission must be denied")
	}

	hb := &protocol.Message{
		Envelope: envelopeFrom("a1", "gw-1", nil),
		Payload:  protocol.HeartbeatPayload{Type: protocol.PayloadHeartbeat},
	}
	if d := m.AuthorizeMessage(hb); !d.Allowed {
		t.Errorf("heartbeat requires no permission, got %+v", d)
	}
}

func TestAuthorizeMessageInvalidSignature(t *testing.T) {
	m := NewManager(testSecret())
	env := envelopeFrom("a1", "gw-1", nil)
	env.Signature = base64.StdEncoding.EncodeToString([]byte("not the real mac, wrong too"))
	msg := &protocol.Message{Envelope: env, Payload: protocol.HeartbeatPayload{Type: protocol.PayloadHeartbeat}}

	if d := m.AuthorizeMessage(msg); d.Allowed {
		t.Error("present-but-invalid signature must deny")
	}
}

func TestGenerateChallenge(t *testing.T) {
	m := NewManager(nil)
	c := m.GenerateChallenge()
	if c.Type != protocol.PayloadSecurityChallenge {
		t.Errorf("unexpected type %s", c.Type)
	}
	if c.Algorithm != "ed25519" {
		t.Errorf("unexpected algorithm %s", c.Algorithm)
	}
	nonce, err := base64.StdEncoding.DecodeString(c.Nonce)
	if err != nil || len(nonce) != 32 {
		t.Errorf("expected 32-byte base64 nonce, got %q (%v)", c.Nonce, err)
	}
	if c.Nonce == m.GenerateChallenge().Nonce {
		t.Error("nonces must be unique")
	}
}

func TestExportImportPoliciesRoundTrip(t *testing.T) {
	m := NewManager(testSecret())
	m.SetPolicy(Policy{AgentID: "a1", Permissions: []string{PermTaskAssign}, MaxMessagesPerMinute: 10})
	m.SetPolicy(Policy{AgentID: "a2", Permissions: []string{PermReportRead}, AllowCrossGateway: true})

	snapshot := m.ExportPolicies()

	restored := NewManager(testSecret())
	restored.ImportPolicies(snapshot)
	if !reflect.DeepEqual(restored.ExportPolicies(), snapshot) {
		t.Error("importPolicies(exportPolicies) should be identity")
	}

	snapshot[0].Permissions[0] = "mutated"
	if restored.GetPolicy("a1").Permissions[0] == "mutated" {
		t.Error("snapshot mutation leaked into the manager")
	}
}
