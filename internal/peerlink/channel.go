package peerlink

import (
	"context"
	"sync"

	"github.com/MeshGate/MeshGate/internal/protocol"
	"github.com/MeshGate/MeshGate/internal/router"
)

// ChannelLink is a test and in-process link backed by Go channels: messages
// sent to a peer land in that peer's inbox.
type ChannelLink struct {
	mu      sync.Mutex
	inboxes map[string]chan *protocol.Message
}

// NewChannelLink creates an in-process link.
func NewChannelLink() *ChannelLink {
	return &ChannelLink{inboxes: make(map[string]chan *protocol.Message)}
}

// Inbox returns (creating if needed) the inbox channel for a gateway.
func (l *ChannelLink) Inbox(gatewayID string) <-chan *protocol.Message {
	return l.inbox(gatewayID)
}

func (l *ChannelLink) inbox(gatewayID string) chan *protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.inboxes[gatewayID]
	if !ok {
		ch = make(chan *protocol.Message, 100)
		l.inboxes[gatewayID] = ch
	}
	return ch
}

// Send delivers the message into the peer's inbox, dropping when full.
func (l *ChannelLink) Send(_ context.Context, peer router.Peer, msg *protocol.Message) error {
	select {
	case l.inbox(peer.GatewayID) <- msg:
	default:
	}
	return nil
}
