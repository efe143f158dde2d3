package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"adengine/internal/domain"
	"adengine/pkg/config"
	"adengine/pkg/logger"
	"adengine/pkg/metrics"

	"github.com/google/uuid"
)

// EventMessage is the downstream representation of a recorded tracking event.
type EventMessage struct {
	DeliveryID       string               `json:"deliveryId"`
	EventID          uint                 `json:"eventId"`
	AdID             uint                 `json:"adId"`
	SlotKey          string               `json:"slotKey"`
	SlotID           string               `json:"slotId"`
	EventType        domain.EventKind     `json:"eventType"`
	DeviceType       string               `json:"deviceType,omitempty"`
	DeviceID         string               `json:"deviceId,omitempty"`
	Partner          string               `json:"partner"`
	Valid            bool                 `json:"valid"`
	InvalidReason    domain.InvalidReason `json:"invalidReason,omitempty"`
	Billable         bool                 `json:"billable"`
	AdvertiserCharge string               `json:"advertiserCharge"`
	PublisherAmount  string               `json:"publisherAmount"`
	PartnerAccountID *uint                `json:"partnerAccountId,omitempty"`
	Metadata         json.RawMessage      `json:"metadata,omitempty"`
	OccurredAt       time.Time            `json:"occurredAt"`
}

func NewEventMessage(event *domain.TrackingEvent) EventMessage {
	message := EventMessage{
		DeliveryID:       uuid.New().String(),
		EventID:          event.ID,
		AdID:             event.AdID,
		SlotKey:          event.SlotKey,
		SlotID:           event.SlotID,
		EventType:        event.Kind,
		DeviceType:       event.DeviceType,
		DeviceID:         event.DeviceID,
		Partner:          event.Partner,
		Valid:            event.Valid,
		InvalidReason:    event.InvalidReason,
		Billable:         event.Billable,
		AdvertiserCharge: event.AdvertiserCharge.StringFixed(2),
		PublisherAmount:  event.PublisherAmount.StringFixed(2),
		PartnerAccountID: event.PartnerAccountID,
		OccurredAt:       event.CreatedAt.UTC(),
	}
	if len(event.Metadata) > 0 {
		message.Metadata = json.RawMessage(event.Metadata)
	}
	return message
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event *domain.TrackingEvent) error {
	return nil
}

// NewEventPublisher builds the sink selected by cfg.Sink. The returned close
// function releases the sink's connections.
func NewEventPublisher(cfg config.EventHubConfig, logger *logger.Logger, metrics *metrics.Metrics) (domain.EventPublisher, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Sink {
	case "", "none":
		return NopPublisher{}, noop, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, nil, fmt.Errorf("WEBHOOK_URL is required for the webhook sink")
		}
		return NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookRateLimit, cfg.WebhookTimeout, logger, metrics), noop, nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
			return nil, nil, fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC are required for the kafka sink")
		}
		writer := NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		return NewKafkaPublisher(writer, cfg.KafkaTopic, logger, metrics), writer.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported event sink %q", cfg.Sink)
}
