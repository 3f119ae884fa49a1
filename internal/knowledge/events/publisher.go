package events

import (
	"context"
	"encoding/json"
	"fmt"

	kafkadb "github.com/eventops/knowledge-service/internal/database/kafka"
	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/eventops/knowledge-service/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// Event type values published on document lifecycle transitions.
const (
	EventCreated   = "knowledge.created"
	EventReady     = "knowledge.ready"
	EventFailed    = "knowledge.failed"
	EventCancelled = "knowledge.cancelled"
	EventDeleted   = "knowledge.deleted"
)

// KafkaPublisher emits document lifecycle events to the configured topic.
// Publishing is best-effort: a broker outage must never fail an ingestion or
// deletion that already committed to the stores, so errors are logged and
// swallowed here.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaPublisher creates a publisher over an initialized Kafka client.
func NewKafkaPublisher(client *kafkadb.KafkaClient, log *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: client.Writer, log: log}
}

// Publish writes one lifecycle event, keyed by knowledge ID so events for the
// same document stay ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event interfaces.DocumentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error(fmt.Sprintf("Failed to marshal document event: %v", err))
		return nil
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.KnowledgeID),
		Value: payload,
	})
	if err != nil {
		p.log.Error(fmt.Sprintf("Failed to publish document event %s for %s: %v", event.Type, event.KnowledgeID, err))
	}
	return nil
}

// NopPublisher discards events; used when Kafka is not configured.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(ctx context.Context, event interfaces.DocumentEvent) error {
	return nil
}

var (
	_ interfaces.EventPublisher = (*KafkaPublisher)(nil)
	_ interfaces.EventPublisher = NopPublisher{}
)
