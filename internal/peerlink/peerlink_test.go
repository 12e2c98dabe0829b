package peerlink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeshGate/MeshGate/internal/protocol"
	"github.com/MeshGate/MeshGate/internal/router"
)

func testMessage(direction protocol.Direction, toGateway string) *protocol.Message {
	from := protocol.AgentIdentity{AgentInstanceID: "i1", AgentConfigID: "agent-a", GatewayID: "gw-1"}
	var to *protocol.AgentIdentity
	if toGateway != "" {
		to = &protocol.AgentIdentity{AgentInstanceID: "i2", AgentConfigID: "agent-b", GatewayID: toGateway}
	}
	env := protocol.NewEnvelope(from, to, "")
	env.Direction = direction
	return &protocol.Message{
		Envelope: env,
		Payload:  protocol.HeartbeatPayload{Type: protocol.PayloadHeartbeat, Load: 0.2},
	}
}

func TestMeshTopics(t *testing.T) {
	topics := MeshTopics("prod", "gw-1")
	if topics.Broadcast != "mesh.prod.broadcast" {
		t.Errorf("unexpected broadcast topic: %s", topics.Broadcast)
	}
	if topics.Gateway != "mesh.prod.gateway.gw-1" {
		t.Errorf("unexpected gateway topic: %s", topics.Gateway)
	}
	if got := GatewayTopic("prod", "gw-9"); got != "mesh.prod.gateway.gw-9" {
		t.Errorf("unexpected peer topic: %s", got)
	}
}

func TestHTTPLinkSend(t *testing.T) {
	var gotTopic, gotRequestID, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/mesh/produce" {
			t.Errorf("expected /mesh/produce, got %s", r.URL.Path)
		}
		gotTopic = r.Header.Get("X-Mesh-Topic")
		gotRequestID = r.Header.Get("X-Request-ID")
		gotAPIKey = r.Header.Get("X-API-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	link := NewHTTPLink("prod", "gw-1", server.URL, "test-key")
	msg := testMessage(protocol.DirectionRequest, "gw-2")
	if err := link.Send(context.Background(), router.Peer{GatewayID: "gw-2"}, msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotTopic != "mesh.prod.gateway.gw-2" {
		t.Errorf("targeted message must use the peer topic, got %s", gotTopic)
	}
	if gotRequestID != msg.Envelope.MessageID {
		t.Errorf("expected request id %s, got %s", msg.Envelope.MessageID, gotRequestID)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("expected api key, got %q", gotAPIKey)
	}

	if err := link.Send(context.Background(), router.Peer{GatewayID: "gw-2"},
		testMessage(protocol.DirectionBroadcast, "")); err != nil {
		t.Fatalf("broadcast send: %v", err)
	}
	if gotTopic != "mesh.prod.broadcast" {
		t.Errorf("broadcast must use the broadcast topic, got %s", gotTopic)
	}
}

func TestHTTPLinkSendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"missing topic"}`))
	}))
	defer server.Close()

	link := NewHTTPLink("prod", "gw-1", server.URL, "")
	err := link.Send(context.Background(), router.Peer{GatewayID: "gw-2"},
		testMessage(protocol.DirectionRequest, "gw-2"))
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestHTTPLinkRejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"ftp://host", "http://bad host", "://nope"} {
		link := NewHTTPLink("prod", "gw-1", base, "")
		err := link.Send(context.Background(), router.Peer{GatewayID: "gw-2"},
			testMessage(protocol.DirectionRequest, "gw-2"))
		if err == nil {
			t.Errorf("expected %q to be rejected", base)
		}
	}
}

func TestHTTPLinkHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	link := NewHTTPLink("prod", "gw-1", server.URL, "")
	if !link.Healthy(context.Background()) {
		t.Error("a 400 from the proxy still means it's up")
	}

	down := NewHTTPLink("prod", "gw-1", "http://127.0.0.1:1", "")
	if down.Healthy(context.Background()) {
		t.Error("unreachable proxy must report unhealthy")
	}
}

func TestChannelLinkDelivery(t *testing.T) {
	link := NewChannelLink()
	msg := testMessage(protocol.DirectionRequest, "gw-2")
	if err := link.Send(context.Background(), router.Peer{GatewayID: "gw-2"}, msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-link.Inbox("gw-2"):
		if got.Envelope.MessageID != msg.Envelope.MessageID {
			t.Error("wrong message delivered")
		}
	default:
		t.Fatal("expected a message in the inbox")
	}
}

func TestChannelLinkBridgesRouters(t *testing.T) {
	r1 := router.New("gw-1")
	r2 := router.New("gw-2")
	link := NewChannelLink()
	r1.SetPeerSender(link.Send)
	r1.RegisterPeer(router.Peer{GatewayID: "gw-2", Status: router.PeerConnected})

	received := 0
	r2.Subscribe(router.Filter{}, func(*protocol.Message) { received++ })

	from := protocol.AgentIdentity{AgentInstanceID: "i1", AgentConfigID: "agent-a", GatewayID: "gw-1"}
	to := protocol.AgentIdentity{AgentInstanceID: "i2", AgentConfigID: "agent-b", GatewayID: "gw-2"}
	r1.Send(from, &to, protocol.HeartbeatPayload{Type: protocol.PayloadHeartbeat}, nil)

	// Drain the link into the second router, the way a transport loop would.
	for {
		select {
		case msg := <-link.Inbox("gw-2"):
			r2.Route(msg)
			continue
		default:
		}
		break
	}

	if received != 1 {
		t.Errorf("expected 1 delivery on the far gateway, got %d", received)
	}
}
