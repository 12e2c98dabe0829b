// Package validate checks externally supplied identifiers, URLs and payloads
// before they reach the coordination core.
package validate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// MaxPayloadBytes is the JSON-serialized payload size limit.
const MaxPayloadBytes = 256 * 1024

// MaxTaskDescriptionChars bounds task descriptions at the validation layer.
// The internal assign payload allows a larger bound.
const MaxTaskDescriptionChars = 16384

var (
	agentConfigIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,127}$`)
	roleIDPattern        = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)
	uuidV4Pattern        = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
)

// AgentConfigID validates a declarative agent identifier.
func AgentConfigID(id string) error {
	if !agentConfigIDPattern.MatchString(id) {
		return fmt.Errorf("invalid agent config id: %q", id)
	}
	return nil
}

// RoleID validates a role identifier.
func RoleID(id string) error {
	if !roleIDPattern.MatchString(id) {
		return fmt.Errorf("invalid role id: %q", id)
	}
	return nil
}

// UUIDv4 validates a v4 UUID in canonical hyphenated form; letter case is
// ignored.
func UUIDv4(id string) error {
	if !uuidV4Pattern.MatchString(strings.ToLower(id)) {
		return fmt.Errorf("invalid uuid v4: %q", id)
	}
	return nil
}

// PayloadSize checks the JSON-serialized size of a payload.
func PayloadSize(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload not serializable: %w", err)
	}
	if len(data) > MaxPayloadBytes {
		return fmt.Errorf("payload size %d exceeds %d bytes", len(data), MaxPayloadBytes)
	}
	return nil
}

// GatewayURL validates a peer gateway endpoint: ws, wss, http or https, with
// no embedded credentials.
func GatewayURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid gateway url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported gateway url scheme: %q", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("gateway url must not embed credentials")
	}
	if u.Host == "" {
		return fmt.Errorf("gateway url missing host")
	}
	return nil
}

// Sanitize strips control and zero-width code points from a string: C0
// (except tab, newline, carriage return), C1, and zero-width characters.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			// C0 and DEL
		case r >= 0x80 && r <= 0x9f:
			// C1
		case r == 0x200b, r == 0x200c, r == 0x200d, r == 0x2060, r == 0xfeff:
			// zero-width
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
