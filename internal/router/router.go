// Package router delivers mesh messages to local subscribers and queues them
// for forwarding to connected peer gateways.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MeshGate/MeshGate/internal/protocol"
)

// PeerStatus is the link state of a peer gateway.
type PeerStatus string

const (
	PeerConnected    PeerStatus = "connected"
	PeerConnecting   PeerStatus = "connecting"
	PeerDisconnected PeerStatus = "disconnected"
)

// Peer describes a remote gateway in the mesh.
type Peer struct {
	GatewayID string     `json:"gateway_id"`
	Name      string     `json:"name,omitempty"`
	Endpoint  string     `json:"endpoint,omitempty"`
	Status    PeerStatus `json:"status"`
}

// Filter selects which messages a subscription receives. Empty fields match
// everything.
type Filter struct {
	PayloadType       string
	FromAgentConfigID string
	FromRoleID        string
}

// Handler receives a message on the local dispatch path. Handler panics are
// contained by the router; one bad handler never blocks the others.
type Handler func(msg *protocol.Message)

// PeerSendFunc forwards a message to one peer. The transport collaborator
// supplies the body; it must not block the router's lock.
type PeerSendFunc func(ctx context.Context, peer Peer, msg *protocol.Message) error

// AuthorizeFunc gates inbound messages before local delivery.
type AuthorizeFunc func(msg *protocol.Message) bool

type subscription struct {
	id      int
	filter  Filter
	handler Handler
}

// SendOptions tune envelope construction in Send.
type SendOptions struct {
	CorrelationID string
	TTLSeconds    int
	Direction     protocol.Direction
}

// Router routes messages between local agents and peer gateways.
type Router struct {
	mu             sync.Mutex
	localGatewayID string
	localAgents    map[string]protocol.AgentIdentity
	peers          map[string]Peer
	subs           []subscription
	nextSubID      int
	seen           *dedupRing
	sendToPeer     PeerSendFunc
	authorize      AuthorizeFunc
	now            func() time.Time
}

// New creates a router for the given local gateway.
func New(localGatewayID string) *Router {
	return &Router{
		localGatewayID: localGatewayID,
		localAgents:    make(map[string]protocol.AgentIdentity),
		peers:          make(map[string]Peer),
		seen:           newDedupRing(dedupCapacity),
		sendToPeer:     func(context.Context, Peer, *protocol.Message) error { return nil },
		now:            time.Now,
	}
}

// LocalGatewayID returns the id of the gateway this router serves.
func (r *Router) LocalGatewayID() string { return r.localGatewayID }

// SetPeerSender installs the transport hook used for remote forwarding.
func (r *Router) SetPeerSender(fn PeerSendFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn != nil {
		r.sendToPeer = fn
	}
}

// SetAuthorizer installs the security gate applied before local delivery.
func (r *Router) SetAuthorizer(fn AuthorizeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authorize = fn
}

// RegisterLocalAgent adds an agent to the local map.
func (r *Router) RegisterLocalAgent(id protocol.AgentIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localAgents[id.AgentInstanceID] = id
}

// UnregisterLocalAgent removes an agent from the local map.
func (r *Router) UnregisterLocalAgent(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.localAgents, instanceID)
}

// LocalAgents returns a snapshot of the locally registered agents.
func (r *Router) LocalAgents() []protocol.AgentIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.AgentIdentity, 0, len(r.localAgents))
	for _, id := range r.localAgents {
		out = append(out, id)
	}
	return out
}

// LocalAgent looks up one locally registered agent.
func (r *Router) LocalAgent(instanceID string) (protocol.AgentIdentity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.localAgents[instanceID]
	return id, ok
}

// RegisterPeer adds or replaces a peer gateway.
func (r *Router) RegisterPeer(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.GatewayID] = p
}

// RemovePeer removes a peer gateway.
func (r *Router) RemovePeer(gatewayID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, gatewayID)
}

// SetPeerStatus transitions a peer's link state. Unknown peers are ignored.
func (r *Router) SetPeerStatus(gatewayID string, status PeerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[gatewayID]
	if !ok {
		return
	}
	p.Status = status
	r.peers[gatewayID] = p
}

// Peers returns a snapshot of all known peers.
func (r *Router) Peers() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Subscribe registers a filtered handler and returns its unsubscribe func.
func (r *Router) Subscribe(filter Filter, handler Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSubID++
	id := r.nextSubID
	r.subs = append(r.subs, subscription{id: id, filter: filter, handler: handler})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// Send constructs an envelope for the payload and routes it immediately.
// Direction is request when to is set, broadcast otherwise, unless
// overridden in opts.
func (r *Router) Send(from protocol.AgentIdentity, to *protocol.AgentIdentity, payload protocol.Payload, opts *SendOptions) *protocol.Message {
	var corr string
	if opts != nil {
		corr = opts.CorrelationID
	}
	env := protocol.NewEnvelope(from, to, corr)
	if opts != nil {
		if opts.TTLSeconds > 0 {
			env.TTLSeconds = opts.TTLSeconds
		}
		if opts.Direction != "" {
			env.Direction = opts.Direction
		}
	}
	msg := &protocol.Message{Envelope: env, Payload: payload}
	r.Route(msg)
	return msg
}

// Route is the entry point for locally originated and peer-received
// messages. It never fails from the caller's perspective: invalid messages
// are dropped with a debug log.
func (r *Router) Route(msg *protocol.Message) {
	if msg == nil {
		return
	}
	env := msg.Envelope

	r.mu.Lock()
	if r.seen.contains(env.MessageID) {
		r.mu.Unlock()
		return
	}
	r.seen.insert(env.MessageID)
	authorize := r.authorize
	r.mu.Unlock()

	if env.Expired(r.now()) {
		slog.Debug("Router: dropping expired message",
			"message_id", env.MessageID, "ttl_seconds", env.TTLSeconds)
		return
	}
	if env.HopCount >= protocol.ForwardHopLimit {
		slog.Debug("Router: dropping message at hop limit",
			"message_id", env.MessageID, "hop_count", env.HopCount)
		return
	}

	if authorize != nil && !authorize(msg) {
		slog.Debug("Router: message denied by security gate",
			"message_id", env.MessageID, "from", env.From.AgentInstanceID)
		return
	}

	isLocal := env.To == nil || env.To.GatewayID == r.localGatewayID
	isRemote := env.To != nil && env.To.GatewayID != r.localGatewayID
	broadcast := env.Direction == protocol.DirectionBroadcast

	if isLocal || broadcast {
		r.deliverLocal(msg)
	}
	if isRemote || broadcast {
		r.forwardToPeers(msg)
	}
}

// deliverLocal fans the message out to every matching subscription. Handlers
// run synchronously; panics are caught so one subscriber cannot take down
// the rest of the dispatch.
func (r *Router) deliverLocal(msg *protocol.Message) {
	r.mu.Lock()
	matched := make([]Handler, 0, len(r.subs))
	for _, s := range r.subs {
		if s.filter.matches(msg) {
			matched = append(matched, s.handler)
		}
	}
	r.mu.Unlock()

	for _, h := range matched {
		invoke(h, msg)
	}
}

func invoke(h Handler, msg *protocol.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("Router: subscriber panicked",
				"message_id", msg.Envelope.MessageID, "panic", rec)
		}
	}()
	h(msg)
}

// forwardToPeers clones the envelope with an incremented hop count and hands
// it to the transport for every connected peer the message targets. The
// transport hook is called outside the router lock.
func (r *Router) forwardToPeers(msg *protocol.Message) {
	env := msg.Envelope.Clone()
	env.HopCount++
	out := &protocol.Message{Envelope: env, Payload: msg.Payload}

	r.mu.Lock()
	send := r.sendToPeer
	targets := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.Status != PeerConnected {
			continue
		}
		if env.To != nil && env.Direction != protocol.DirectionBroadcast && p.GatewayID != env.To.GatewayID {
			continue
		}
		targets = append(targets, p)
	}
	r.mu.Unlock()

	for _, p := range targets {
		if err := send(context.Background(), p, out); err != nil {
			slog.Debug("Router: peer send failed",
				"peer", p.GatewayID, "message_id", env.MessageID, "error", err)
		}
	}
}

func (f Filter) matches(msg *protocol.Message) bool {
	if f.PayloadType != "" && protocol.PayloadTypeOf(msg.Payload) != f.PayloadType {
		return false
	}
	if f.FromAgentConfigID != "" && msg.Envelope.From.AgentConfigID != f.FromAgentConfigID {
		return false
	}
	if f.FromRoleID != "" && msg.Envelope.From.RoleID != f.FromRoleID {
		return false
	}
	return true
}
