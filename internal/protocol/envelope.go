// Package protocol defines the wire format for mesh messages: the envelope,
// the agent identity, and the typed payload variants exchanged between
// gateways.
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version is the protocol version stamped on every envelope.
const Version = "1.0"

// Envelope limits.
const (
	MinTTLSeconds = 1
	MaxTTLSeconds = 86400
	MaxHopCount   = 32

	// ForwardHopLimit is the hard routing cap: envelopes arriving with this
	// many hops are not forwarded further.
	ForwardHopLimit = 16
)

// Direction describes how an envelope should be routed.
type Direction string

const (
	DirectionRequest   Direction = "request"
	DirectionResponse  Direction = "response"
	DirectionBroadcast Direction = "broadcast"
	DirectionEvent     Direction = "event"
)

// AgentIdentity identifies an agent in the mesh. Identities are value types:
// never mutated, only replaced.
type AgentIdentity struct {
	AgentInstanceID string   `json:"agent_instance_id"`
	AgentConfigID   string   `json:"agent_config_id"`
	GatewayID       string   `json:"gateway_id"`
	RoleID          string   `json:"role_id,omitempty"`
	DisplayName     string   `json:"display_name,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
}

// Envelope is the transport-neutral header wrapping a typed payload.
type Envelope struct {
	MessageID       string         `json:"message_id"`
	CorrelationID   string         `json:"correlation_id"`
	Timestamp       time.Time      `json:"timestamp"`
	From            AgentIdentity  `json:"from"`
	To              *AgentIdentity `json:"to,omitempty"`
	Direction       Direction      `json:"direction"`
	ProtocolVersion string         `json:"protocol_version"`
	Signature       string         `json:"signature,omitempty"`
	TTLSeconds      int            `json:"ttl_seconds,omitempty"`
	HopCount        int            `json:"hop_count,omitempty"`
}

// Message pairs an envelope with its decoded payload. This is the unit the
// router moves around.
type Message struct {
	Envelope Envelope `json:"envelope"`
	Payload  Payload  `json:"payload"`
}

// NewEnvelope builds an envelope with a fresh message ID. An empty
// correlationID mints a new one; a non-nil to sets direction to request,
// otherwise the envelope is a broadcast.
func NewEnvelope(from AgentIdentity, to *AgentIdentity, correlationID string) Envelope {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	dir := DirectionBroadcast
	if to != nil {
		dir = DirectionRequest
	}
	return Envelope{
		MessageID:       uuid.NewString(),
		CorrelationID:   correlationID,
		Timestamp:       time.Now().UTC(),
		From:            from,
		To:              to,
		Direction:       dir,
		ProtocolVersion: Version,
	}
}

// Clone returns a copy of the envelope with its own To pointer, safe to
// mutate for forwarding.
func (e Envelope) Clone() Envelope {
	out := e
	if e.To != nil {
		to := *e.To
		out.To = &to
	}
	return out
}

// Age returns how long ago the envelope was stamped.
func (e Envelope) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// Expired reports whether the envelope's TTL has lapsed. Envelopes without a
// TTL never expire.
func (e Envelope) Expired(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return e.Age(now) > time.Duration(e.TTLSeconds)*time.Second
}

// ValidateEnvelope checks envelope field bounds.
func ValidateEnvelope(e Envelope) error {
	if e.MessageID == "" {
		return fmt.Errorf("envelope: message_id is required")
	}
	if e.TTLSeconds != 0 && (e.TTLSeconds < MinTTLSeconds || e.TTLSeconds > MaxTTLSeconds) {
		return fmt.Errorf("envelope: ttl_seconds %d out of range [%d,%d]", e.TTLSeconds, MinTTLSeconds, MaxTTLSeconds)
	}
	if e.HopCount < 0 || e.HopCount > MaxHopCount {
		return fmt.Errorf("envelope: hop_count %d out of range [0,%d]", e.HopCount, MaxHopCount)
	}
	return nil
}
