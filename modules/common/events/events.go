package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"bouquet-visualizer/modules/common/model"
)

// Event types
const (
	TypeVisualizationCompleted = "VisualizationCompleted"
)

// Envelope - every event on the wire
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Payload      json.RawMessage `json:"payload"`
}

// VisualizationCompleted - lets the order side update its visualization_url
type VisualizationCompleted struct {
	OrderID       string    `json:"order_id"`
	ImageRef      string    `json:"image_ref"`
	ImageURL      string    `json:"image_url,omitempty"`
	IsPlaceholder bool      `json:"is_placeholder"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewEnvelope wraps payload with a fresh event id.
func NewEnvelope(eventType string, occurredAt time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   occurredAt.UTC(),
		Payload:      raw,
	}, nil
}

// UnwrapPayload decodes an envelope payload into T.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// publisher is satisfied by *Producer.
type publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// Publisher emits a VisualizationCompleted event for every finished visualization.
type Publisher struct {
	p publisher
}

// NewPublisher - recorder on top of a producer
func NewPublisher(p *Producer) *Publisher {
	return &Publisher{p: p}
}

// Record - keyed by order id so one order's events stay in one partition
func (pub *Publisher) Record(ctx context.Context, result model.VisualizationResult) error {
	env, err := NewEnvelope(TypeVisualizationCompleted, result.CreatedAt, VisualizationCompleted{
		OrderID:       result.OrderID,
		ImageRef:      result.ImageRef,
		ImageURL:      result.ImageURL,
		IsPlaceholder: result.IsPlaceholder,
		CreatedAt:     result.CreatedAt,
	})
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return pub.p.Publish(ctx, []byte(result.OrderID), value,
		kafka.Header{Key: "event_type", Value: []byte(env.EventType)})
}
