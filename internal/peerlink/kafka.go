package peerlink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/MeshGate/MeshGate/internal/protocol"
	"github.com/MeshGate/MeshGate/internal/router"
)

// KafkaLink forwards mesh messages over Kafka topics: one inbound topic per
// gateway plus a shared broadcast topic.
type KafkaLink struct {
	meshName  string
	gatewayID string
	brokers   []string
	group     string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader
}

// NewKafkaLink creates a link for the given mesh and gateway. brokers is a
// comma-separated list.
func NewKafkaLink(meshName, gatewayID, brokers, consumerGroup string) *KafkaLink {
	return &KafkaLink{
		meshName:  meshName,
		gatewayID: gatewayID,
		brokers:   strings.Split(brokers, ","),
		group:     consumerGroup,
		writers:   make(map[string]*kafka.Writer),
	}
}

// Send implements the router's peer hook: target-specific messages go to the
// peer's gateway topic, broadcasts to the mesh broadcast topic.
func (l *KafkaLink) Send(ctx context.Context, peer router.Peer, msg *protocol.Message) error {
	topic := GatewayTopic(l.meshName, peer.GatewayID)
	if msg.Envelope.Direction == protocol.DirectionBroadcast {
		topic = MeshTopics(l.meshName, l.gatewayID).Broadcast
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("peerlink: marshal message: %w", err)
	}
	return l.writer(topic).WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Envelope.CorrelationID),
		Value: data,
	})
}

func (l *KafkaLink) writer(topic string) *kafka.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(l.brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	l.writers[topic] = w
	return w
}

// Start launches one reader goroutine each for this gateway's inbound topic
// and the broadcast topic, handing every decoded message to route. It
// returns immediately; the readers run until ctx is cancelled.
func (l *KafkaLink) Start(ctx context.Context, route func(*protocol.Message)) {
	topics := MeshTopics(l.meshName, l.gatewayID)
	for _, topic := range []string{topics.Gateway, topics.Broadcast} {
		l.startReader(ctx, topic, route)
	}
}

func (l *KafkaLink) startReader(ctx context.Context, topic string, route func(*protocol.Message)) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  l.brokers,
		Topic:    topic,
		GroupID:  l.group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	l.mu.Lock()
	l.readers = append(l.readers, reader)
	l.mu.Unlock()

	go func() {
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("KafkaLink: read error", "topic", topic, "error", err)
				continue
			}
			msg, err := protocol.DecodeMessage(m.Value)
			if err != nil {
				slog.Debug("KafkaLink: dropping undecodable message",
					"topic", topic, "error", err)
				continue
			}
			// Skip our own broadcasts echoed back by the broker.
			if msg.Envelope.From.GatewayID == l.gatewayID {
				continue
			}
			route(msg)
		}
	}()
}

// Close stops all writers and readers.
func (l *KafkaLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, w := range l.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, r := range l.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
