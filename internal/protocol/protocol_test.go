package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewEnvelopeDefaults(t *testing.T) {
	from := AgentIdentity{AgentInstanceID: "i1", AgentConfigID: "agent-a", GatewayID: "gw-1"}

	env := NewEnvelope(from, nil, "")
	if env.Direction != DirectionBroadcast {
		t.Errorf("expected broadcast without a target, got %s", env.Direction)
	}
	if env.ProtocolVersion != Version {
		t.Errorf("expected protocol version %s, got %s", Version, env.ProtocolVersion)
	}
	if env.MessageID == env.CorrelationID {
		t.Error("message id and minted correlation id should differ")
	}

	to := AgentIdentity{AgentInstanceID: "i2", AgentConfigID: "agent-b", GatewayID: "gw-2"}
	env2 := NewEnvelope(from, &to, "corr-1")
	if env2.Direction != DirectionRequest {
		t.Errorf("expected request with a target, got %s", env2.Direction)
	}
	if env2.CorrelationID != "corr-1" {
		t.Errorf("expected inherited correlation id, got %s", env2.CorrelationID)
	}
}

func TestEnvelopeExpired(t *testing.T) {
	env := Envelope{Timestamp: time.Now().Add(-2 * time.Minute), TTLSeconds: 60}
	if !env.Expired(time.Now()) {
		t.Error("expected envelope past its TTL to be expired")
	}
	env.TTLSeconds = 0
	if env.Expired(time.Now()) {
		t.Error("envelope without TTL must never expire")
	}
}

func TestEnvelopeCloneIsolatesTarget(t *testing.T) {
	to := AgentIdentity{AgentInstanceID: "i2", GatewayID: "gw-2"}
	env := Envelope{MessageID: "m1", To: &to}

	clone := env.Clone()
	clone.To.GatewayID = "gw-3"
	if env.To.GatewayID != "gw-2" {
		t.Error("mutating the clone must not touch the original")
	}
}

func TestValidateEnvelopeBounds(t *testing.T) {
	base := Envelope{MessageID: "m1"}
	if err := ValidateEnvelope(base); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := base
	bad.TTLSeconds = MaxTTLSeconds + 1
	if err := ValidateEnvelope(bad); err == nil {
		t.Error("expected TTL out of range to fail")
	}

	bad = base
	bad.HopCount = MaxHopCount + 1
	if err := ValidateEnvelope(bad); err == nil {
		t.Error("expected hop count out of range to fail")
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	payloads := []Payload{
		TaskAssignPayload{Type: PayloadTaskAssign, TaskID: "t1", Task: "do something"},
		TaskResultPayload{Type: PayloadTaskResult, WorkflowStepID: "s1", Status: ResultSuccess, Result: "done"},
		TaskProgressPayload{Type: PayloadTaskProgress, WorkflowStepID: "s1", StatusLine: "halfway"},
		HeartbeatPayload{Type: PayloadHeartbeat, Load: 0.4},
		AgentDiscoveryPayload{Type: PayloadAgentDiscovery, Action: DiscoveryJoin, Identity: AgentIdentity{AgentInstanceID: "i1"}},
		RoleAssignPayload{Type: PayloadRoleAssign, RoleID: "coder", AgentInstanceID: "i1"},
		SecurityChallengePayload{Type: PayloadSecurityChallenge, Nonce: "bm9uY2U=", Algorithm: "ed25519"},
		SecurityResponsePayload{Type: PayloadSecurityResponse, Nonce: "bm9uY2U=", Signature: "c2ln"},
	}
	for _, p := range payloads {
		data, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal %s: %v", p.PayloadType(), err)
		}
		decoded, err := DecodePayload(data)
		if err != nil {
			t.Fatalf("decode %s: %v", p.PayloadType(), err)
		}
		if decoded.PayloadType() != p.PayloadType() {
			t.Errorf("expected type %s, got %s", p.PayloadType(), decoded.PayloadType())
		}
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	if _, err := DecodePayload([]byte(`{"type":"nope"}`)); err == nil {
		t.Error("expected unknown discriminator to fail")
	}
}

func TestDecodeMessage(t *testing.T) {
	from := AgentIdentity{AgentInstanceID: "i1", AgentConfigID: "agent-a", GatewayID: "gw-1"}
	msg := Message{
		Envelope: NewEnvelope(from, nil, ""),
		Payload:  HeartbeatPayload{Type: PayloadHeartbeat, Load: 0.1},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hb, ok := decoded.Payload.(HeartbeatPayload)
	if !ok {
		t.Fatalf("expected HeartbeatPayload, got %T", decoded.Payload)
	}
	if hb.Load != 0.1 {
		t.Errorf("expected load 0.1, got %v", hb.Load)
	}
	if decoded.Envelope.MessageID != msg.Envelope.MessageID {
		t.Error("envelope did not survive the round trip")
	}
}

func TestValidatePayloadBounds(t *testing.T) {
	long := strings.Repeat("x", MaxTaskChars+1)
	if err := ValidatePayload(TaskAssignPayload{Type: PayloadTaskAssign, Task: long}); err == nil {
		t.Error("expected oversized task to fail")
	}
	if err := ValidatePayload(HeartbeatPayload{Type: PayloadHeartbeat, Load: 1.5}); err == nil {
		t.Error("expected load above 1 to fail")
	}
	bad := 120.0
	if err := ValidatePayload(TaskProgressPayload{Type: PayloadTaskProgress, Percent: &bad}); err == nil {
		t.Error("expected percent above 100 to fail")
	}
	if err := ValidatePayload(AgentDiscoveryPayload{Type: PayloadAgentDiscovery, Action: "explode"}); err == nil {
		t.Error("expected unknown discovery action to fail")
	}
	if err := ValidatePayload(TaskResultPayload{Type: PayloadTaskResult, Status: "great"}); err == nil {
		t.Error("expected unknown result status to fail")
	}
}
