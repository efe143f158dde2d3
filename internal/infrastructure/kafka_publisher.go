package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"adengine/internal/domain"
	"adengine/pkg/logger"
	"adengine/pkg/metrics"

	"github.com/segmentio/kafka-go"
)

const kafkaSink = "kafka"

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter returns a writer keyed by ad id so one ad's events stay ordered.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// implements domain.EventPublisher on a Kafka topic
type KafkaPublisher struct {
	writer  MessageWriter
	topic   string
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewKafkaPublisher(writer MessageWriter, topic string, logger *logger.Logger, metrics *metrics.Metrics) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  writer,
		topic:   topic,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.TrackingEvent) error {
	start := time.Now()

	message := NewEventMessage(event)
	value, err := json.Marshal(message)
	if err != nil {
		p.metrics.RecordEventPublish(kafkaSink, "json_marshal", time.Since(start))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(event.AdID), 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Kind)},
			{Key: "delivery-id", Value: []byte(message.DeliveryID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.RecordEventPublish(kafkaSink, "write_error", time.Since(start))
		return fmt.Errorf("failed to write event to %s: %w", p.topic, err)
	}

	duration := time.Since(start)
	p.metrics.RecordEventPublish(kafkaSink, "success", duration)

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":    p.topic,
		"event_id": event.ID,
		"duration": duration,
	}).Debug("Published tracking event to kafka")

	return nil
}
