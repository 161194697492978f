// Package events publishes domain events to a message broker after the
// originating transaction commits.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event names published by the services.
const (
	ListingCreated        = "listing.created"
	ListingCancelled      = "listing.cancelled"
	PurchaseCompleted     = "purchase.completed"
	PurchaseStatusChanged = "purchase.status_changed"
)

// Event is a domain fact. AggregateID identifies the entity it concerns and
// is used as the partition key where the broker supports one.
type Event struct {
	Name        string
	AggregateID string
	OccurredAt  time.Time
	Payload     map[string]any
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Config selects and configures the publisher implementation.
type Config struct {
	Driver       string
	AMQPURL      string
	KafkaBrokers []string
	Topic        string
}

// New returns the publisher named by cfg.Driver.
func New(cfg Config) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return NewNoop(), nil
	case "amqp":
		return NewAMQPPublisher(cfg.AMQPURL, cfg.Topic)
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.Topic)
	default:
		return nil, fmt.Errorf("events: unsupported driver %q", cfg.Driver)
	}
}

type envelope struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	AggregateID string         `json:"aggregate_id"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// encode wraps the event in the JSON envelope shared by every broker.
func encode(event Event) (string, []byte, error) {
	if strings.TrimSpace(event.Name) == "" {
		return "", nil, fmt.Errorf("events: event name required")
	}
	identifier, err := uuid.NewV7()
	if err != nil {
		return "", nil, err
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	body, err := json.Marshal(envelope{
		ID:          identifier.String(),
		Name:        event.Name,
		AggregateID: event.AggregateID,
		OccurredAt:  occurredAt.UTC(),
		Payload:     event.Payload,
	})
	if err != nil {
		return "", nil, err
	}
	return identifier.String(), body, nil
}

type noopPublisher struct{}

// NewNoop returns a publisher that discards every event.
func NewNoop() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, Event) error {
	return nil
}

func (noopPublisher) Close() error {
	return nil
}
