package peerlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/MeshGate/MeshGate/internal/protocol"
	"github.com/MeshGate/MeshGate/internal/router"
)

// HTTPLink forwards mesh messages through an HTTP produce proxy that fronts
// the broker, for gateways without direct broker access.
type HTTPLink struct {
	meshName   string
	gatewayID  string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPLink creates an HTTP produce client.
func NewHTTPLink(meshName, gatewayID, baseURL, apiKey string) *HTTPLink {
	return &HTTPLink{
		meshName:  meshName,
		gatewayID: gatewayID,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Send implements the router's peer hook over the HTTP proxy.
func (l *HTTPLink) Send(ctx context.Context, peer router.Peer, msg *protocol.Message) error {
	topic := GatewayTopic(l.meshName, peer.GatewayID)
	if msg.Envelope.Direction == protocol.DirectionBroadcast {
		topic = MeshTopics(l.meshName, l.gatewayID).Broadcast
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("peerlink: marshal message: %w", err)
	}
	return l.produce(ctx, topic, msg.Envelope.MessageID, data)
}

func (l *HTTPLink) produce(ctx context.Context, topic, requestID string, payload []byte) error {
	endpoint, err := l.safeURL("/mesh/produce")
	if err != nil {
		return fmt.Errorf("peerlink produce: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("peerlink produce: create request: %w", err)
	}
	req.Header.Set("X-Mesh-Topic", topic)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	if l.apiKey != "" {
		req.Header.Set("X-API-Key", l.apiKey)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("peerlink produce: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("peerlink produce: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Healthy checks whether the proxy is reachable.
func (l *HTTPLink) Healthy(ctx context.Context) bool {
	endpoint, err := l.safeURL("/mesh/produce")
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// The proxy rejects GET, but any sub-500 answer means it's up.
	return resp.StatusCode < 500
}

// safeHost matches valid hostname:port patterns.
var safeHost = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// safeURL parses and validates the base URL, then constructs a safe endpoint.
func (l *HTTPLink) safeURL(path string) (string, error) {
	u, err := url.Parse(l.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}
	if !safeHost.MatchString(u.Host) {
		return "", fmt.Errorf("invalid host: %s", u.Host)
	}
	return u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/") + path, nil
}
