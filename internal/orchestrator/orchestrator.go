// Package orchestrator composes the router, role manager, work tracker and
// security manager into the multi-agent coordination core of a gateway.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeshGate/MeshGate/internal/protocol"
	"github.com/MeshGate/MeshGate/internal/roles"
	"github.com/MeshGate/MeshGate/internal/router"
	"github.com/MeshGate/MeshGate/internal/security"
	"github.com/MeshGate/MeshGate/internal/tracker"
	"github.com/MeshGate/MeshGate/internal/validate"
)

// System identity used as the "from" on orchestrator-originated messages.
const (
	SystemInstanceID = "00000000-0000-0000-0000-000000000000"
	SystemConfigID   = "__orchestrator__"
	SystemRoleID     = "orchestrator"
)

// Timer defaults.
const (
	DefaultCleanupInterval   = time.Hour
	DefaultHeartbeatInterval = 30 * time.Second
)

// Options configure an orchestrator instance.
type Options struct {
	GatewayID         string
	SharedSecret      []byte
	CleanupInterval   time.Duration
	HeartbeatInterval time.Duration
}

// Heartbeat is the stored liveness state for one agent.
type Heartbeat struct {
	Payload    protocol.HeartbeatPayload `json:"payload"`
	ReceivedAt time.Time                 `json:"received_at"`
}

// Orchestrator owns the four sub-managers. Sub-managers expose pure APIs and
// hold no back-references.
type Orchestrator struct {
	identity protocol.AgentIdentity

	router   *router.Router
	roles    *roles.Manager
	tracker  *tracker.Tracker
	security *security.Manager

	mu         sync.Mutex
	heartbeats map[string]Heartbeat
	listeners  map[int]EventListener
	nextLstnr  int
	running    bool
	cancel     context.CancelFunc

	cleanupInterval   time.Duration
	heartbeatInterval time.Duration
}

// New creates an orchestrator for the given gateway and wires its built-in
// message handlers.
func New(opts Options) *Orchestrator {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}

	o := &Orchestrator{
		identity: protocol.AgentIdentity{
			AgentInstanceID: SystemInstanceID,
			AgentConfigID:   SystemConfigID,
			GatewayID:       opts.GatewayID,
			RoleID:          SystemRoleID,
		},
		router:            router.New(opts.GatewayID),
		roles:             roles.NewManager(),
		tracker:           tracker.New(),
		security:          security.NewManager(opts.SharedSecret),
		heartbeats:        make(map[string]Heartbeat),
		listeners:         make(map[int]EventListener),
		cleanupInterval:   opts.CleanupInterval,
		heartbeatInterval: opts.HeartbeatInterval,
	}

	// The orchestrator's own traffic is not subject to the per-agent
	// defaults: announcements and dispatches cross gateways freely.
	o.security.SetPolicy(security.Policy{
		AgentID:              SystemInstanceID,
		Permissions:          security.AllPermissions,
		MaxConcurrentTasks:   security.DefaultMaxConcurrentTasks,
		MaxMessagesPerMinute: 100000,
		AllowCrossGateway:    true,
	})

	o.router.SetAuthorizer(func(msg *protocol.Message) bool {
		d := o.security.AuthorizeMessage(msg)
		if !d.Allowed {
			slog.Debug("Orchestrator: message denied",
				"from", msg.Envelope.From.AgentInstanceID, "reason", d.Reason)
		}
		return d.Allowed
	})

	o.subscribeHandlers()
	return o
}

// Router returns the message router.
func (o *Orchestrator) Router() *router.Router { return o.router }

// Roles returns the role manager.
func (o *Orchestrator) Roles() *roles.Manager { return o.roles }

// Tracker returns the work tracker.
func (o *Orchestrator) Tracker() *tracker.Tracker { return o.tracker }

// Security returns the security manager.
func (o *Orchestrator) Security() *security.Manager { return o.security }

// Identity returns the orchestrator's system identity.
func (o *Orchestrator) Identity() protocol.AgentIdentity { return o.identity }

// Start launches the periodic cleanup and heartbeat timers and announces the
// local agents to the mesh.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	for _, agent := range o.router.LocalAgents() {
		o.announce(protocol.DiscoveryAnnounce, agent)
	}

	go o.cleanupLoop(runCtx)
	go o.heartbeatLoop(runCtx)

	slog.Info("Orchestrator started", "gateway_id", o.identity.GatewayID)
	return nil
}

// Stop cancels the timers and broadcasts a leave for every local agent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, agent := range o.router.LocalAgents() {
		o.announce(protocol.DiscoveryLeave, agent)
	}
	slog.Info("Orchestrator stopped", "gateway_id", o.identity.GatewayID)
}

// Shutdown is an alias for Stop.
func (o *Orchestrator) Shutdown() { o.Stop() }

// Running reports whether the timers are live.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.tracker.Cleanup(tracker.DefaultMaxAge); n > 0 {
				slog.Info("Orchestrator: cleaned up tasks", "removed", n)
			}
		}
	}
}

func (o *Orchestrator) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(o.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary := o.tracker.GetSummary()
			active := summary.ByStatus[tracker.StatusAssigned] + summary.ByStatus[tracker.StatusInProgress]
			o.router.Send(o.identity, nil, protocol.HeartbeatPayload{
				Type:        protocol.PayloadHeartbeat,
				ActiveTasks: active,
				Status:      "active",
			}, nil)
		}
	}
}

// RegisterAgent adds an agent to the local gateway and announces it.
func (o *Orchestrator) RegisterAgent(agent protocol.AgentIdentity) error {
	if err := validate.AgentConfigID(agent.AgentConfigID); err != nil {
		return err
	}
	if err := validate.UUIDv4(agent.AgentInstanceID); err != nil {
		return err
	}
	agent.DisplayName = validate.Sanitize(agent.DisplayName)
	if agent.GatewayID == "" {
		agent.GatewayID = o.identity.GatewayID
	}

	o.router.RegisterLocalAgent(agent)
	o.announce(protocol.DiscoveryJoin, agent)
	slog.Info("Agent registered",
		"agent_instance_id", agent.AgentInstanceID, "agent_config_id", agent.AgentConfigID)
	return nil
}

// UnregisterAgent removes an agent, its heartbeat state and its role
// assignment, and announces the departure.
func (o *Orchestrator) UnregisterAgent(instanceID string) bool {
	agent, ok := o.router.LocalAgent(instanceID)
	if !ok {
		return false
	}
	o.router.UnregisterLocalAgent(instanceID)
	o.roles.UnassignRole(instanceID)

	o.mu.Lock()
	delete(o.heartbeats, instanceID)
	o.mu.Unlock()

	o.announce(protocol.DiscoveryLeave, agent)
	slog.Info("Agent unregistered", "agent_instance_id", instanceID)
	return true
}

func (o *Orchestrator) announce(action string, agent protocol.AgentIdentity) {
	o.router.Send(o.identity, nil, protocol.AgentDiscoveryPayload{
		Type:     protocol.PayloadAgentDiscovery,
		Action:   action,
		Identity: agent,
	}, nil)
}

// HeartbeatFor returns the stored heartbeat state for an agent.
func (o *Orchestrator) HeartbeatFor(instanceID string) (Heartbeat, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	hb, ok := o.heartbeats[instanceID]
	return hb, ok
}

// ExportState snapshots the role manager for checkpointing.
func (o *Orchestrator) ExportState() roles.State { return o.roles.ExportState() }

// ImportState restores a role manager snapshot.
func (o *Orchestrator) ImportState(st roles.State) { o.roles.ImportState(st) }

// ExportPolicies snapshots the security policies.
func (o *Orchestrator) ExportPolicies() []security.Policy { return o.security.ExportPolicies() }

// ImportPolicies restores a policy snapshot.
func (o *Orchestrator) ImportPolicies(policies []security.Policy) {
	o.security.ImportPolicies(policies)
}
