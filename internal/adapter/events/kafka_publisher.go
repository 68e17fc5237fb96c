package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const (
	MovementTopic  = "stock.movement.recorded"
	ShortfallTopic = "stock.shortfall.detected"
)

type movementRecordedEvent struct {
	MovementID  string    `json:"movement_id"`
	VariantID   string    `json:"variant_id"`
	Kind        string    `json:"kind"`
	Quantity    int       `json:"quantity"`
	OnHand      int       `json:"on_hand"`
	OrderLineID *string   `json:"order_line_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type shortfallEvent struct {
	OrderID     string    `json:"order_id"`
	OrderLineID string    `json:"order_line_id"`
	VariantID   string    `json:"variant_id"`
	Requested   int       `json:"requested"`
	OnHand      int       `json:"on_hand"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// KafkaPublisher streams ledger activity to the audit topics. Messages are
// keyed by variant ID so one variant's history stays ordered within its
// partition.
type KafkaPublisher struct {
	movements  *kafka.Writer
	shortfalls *kafka.Writer
}

func NewKafkaPublisher(broker string) *KafkaPublisher {
	return &KafkaPublisher{
		movements: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        MovementTopic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		shortfalls: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        ShortfallTopic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *KafkaPublisher) PublishMovementRecorded(ctx context.Context, m domain.StockMovement, onHand int) error {
	payload, err := json.Marshal(movementRecordedEvent{
		MovementID:  m.ID,
		VariantID:   m.VariantID,
		Kind:        string(m.Kind),
		Quantity:    m.Quantity,
		OnHand:      onHand,
		OrderLineID: m.OrderLineID,
		CreatedAt:   m.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal movement event: %w", err)
	}
	return p.movements.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.VariantID),
		Value: payload,
	})
}

func (p *KafkaPublisher) PublishShortfall(ctx context.Context, s domain.Shortfall) error {
	payload, err := json.Marshal(shortfallEvent{
		OrderID:     s.OrderID,
		OrderLineID: s.OrderLineID,
		VariantID:   s.VariantID,
		Requested:   s.Requested,
		OnHand:      s.OnHand,
		OccurredAt:  s.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal shortfall event: %w", err)
	}
	return p.shortfalls.WriteMessages(ctx, kafka.Message{
		Key:   []byte(s.VariantID),
		Value: payload,
	})
}

// Close shuts down both writers. A failure closing one must not leak the
// other, so both are always closed and the errors joined.
func (p *KafkaPublisher) Close() error {
	return errors.Join(p.movements.Close(), p.shortfalls.Close())
}

// NoopPublisher drops every event. Used when no broker is configured and
// in tests.
type NoopPublisher struct{}

func (NoopPublisher) PublishMovementRecorded(context.Context, domain.StockMovement, int) error {
	return nil
}

func (NoopPublisher) PublishShortfall(context.Context, domain.Shortfall) error { return nil }

func (NoopPublisher) Close() error { return nil }
