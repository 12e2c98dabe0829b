package orchestrator

import (
	"time"

	"github.com/MeshGate/MeshGate/internal/protocol"
	"github.com/MeshGate/MeshGate/internal/router"
	"github.com/MeshGate/MeshGate/internal/tracker"
)

// subscribeHandlers wires the orchestrator-owned message handlers.
func (o *Orchestrator) subscribeHandlers() {
	o.router.Subscribe(router.Filter{PayloadType: protocol.PayloadTaskResult}, o.handleTaskResult)
	o.router.Subscribe(router.Filter{PayloadType: protocol.PayloadTaskProgress}, o.handleTaskProgress)
	o.router.Subscribe(router.Filter{PayloadType: protocol.PayloadHeartbeat}, o.handleHeartbeat)
	o.router.Subscribe(router.Filter{PayloadType: protocol.PayloadAgentDiscovery}, o.handleDiscovery)
}

// handleTaskResult correlates a result to its tracked task through the
// workflow step index. Results without a step id are ignored, even when they
// carry a task_id; the payload's task_id is not used for correlation.
func (o *Orchestrator) handleTaskResult(msg *protocol.Message) {
	payload, ok := msg.Payload.(protocol.TaskResultPayload)
	if !ok || payload.WorkflowStepID == "" {
		return
	}
	taskID, ok := o.tracker.TaskIDForStep(payload.WorkflowStepID)
	if !ok {
		return
	}
	if !o.tracker.CompleteTask(taskID, tracker.Result{
		Status:     payload.Status,
		Result:     payload.Result,
		DurationMs: payload.DurationMs,
	}) {
		return
	}
	task, _ := o.tracker.GetTask(taskID)
	o.emit(EventTaskCompleted, map[string]any{
		"task_id": taskID,
		"status":  string(task.Status),
		"agent":   msg.Envelope.From.AgentInstanceID,
	})
}

// handleTaskProgress applies a progress update through the step index.
func (o *Orchestrator) handleTaskProgress(msg *protocol.Message) {
	payload, ok := msg.Payload.(protocol.TaskProgressPayload)
	if !ok || payload.WorkflowStepID == "" {
		return
	}
	taskID, ok := o.tracker.TaskIDForStep(payload.WorkflowStepID)
	if !ok {
		return
	}
	if !o.tracker.UpdateProgress(taskID, payload.Percent, payload.StatusLine) {
		return
	}
	data := map[string]any{
		"task_id": taskID,
		"agent":   msg.Envelope.From.AgentInstanceID,
	}
	if payload.Percent != nil {
		data["percent"] = *payload.Percent
	}
	o.emit(EventTaskProgress, data)
}

// handleHeartbeat stores the sender's latest load report.
func (o *Orchestrator) handleHeartbeat(msg *protocol.Message) {
	payload, ok := msg.Payload.(protocol.HeartbeatPayload)
	if !ok {
		return
	}
	o.mu.Lock()
	o.heartbeats[msg.Envelope.From.AgentInstanceID] = Heartbeat{
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
	o.mu.Unlock()
}

// handleDiscovery emits join/leave events for non-local announcements.
func (o *Orchestrator) handleDiscovery(msg *protocol.Message) {
	payload, ok := msg.Payload.(protocol.AgentDiscoveryPayload)
	if !ok {
		return
	}
	if payload.Identity.GatewayID == o.identity.GatewayID {
		return
	}
	data := map[string]any{
		"agent_instance_id": payload.Identity.AgentInstanceID,
		"agent_config_id":   payload.Identity.AgentConfigID,
		"gateway_id":        payload.Identity.GatewayID,
	}
	switch payload.Action {
	case protocol.DiscoveryJoin, protocol.DiscoveryAnnounce:
		o.emit(EventAgentJoined, data)
	case protocol.DiscoveryLeave:
		o.emit(EventAgentLeft, data)
	}
}
