// Package peerlink binds the router's peer-forwarding hook to a real
// transport. The core never awaits the transport under its own lock; links
// receive fully built wire messages and own their delivery semantics.
//
// Delivery is at-most-once: a forwarded envelope is produced to the peer's
// topic without acknowledgement tracking. Retries, if wanted, belong to the
// broker configuration, not the core.
package peerlink

import "fmt"

// Topics holds the Kafka topic names for one mesh.
type Topics struct {
	Broadcast string
	Gateway   string // this gateway's inbound topic
}

// MeshTopics returns the topic names for a gateway in a mesh.
func MeshTopics(meshName, gatewayID string) Topics {
	return Topics{
		Broadcast: fmt.Sprintf("mesh.%s.broadcast", meshName),
		Gateway:   fmt.Sprintf("mesh.%s.gateway.%s", meshName, gatewayID),
	}
}

// GatewayTopic returns the inbound topic of an arbitrary peer gateway.
func GatewayTopic(meshName, gatewayID string) string {
	return fmt.Sprintf("mesh.%s.gateway.%s", meshName, gatewayID)
}
