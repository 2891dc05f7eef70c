package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopfront/apiserver/internal/mq"
	"github.com/shopfront/apiserver/internal/services"
	"github.com/shopfront/apiserver/types"
)

// EventType names what happened to an order.
type EventType string

const (
	OrderPlaced        EventType = "order.placed"
	OrderStatusChanged EventType = "order.status_changed"
)

const attrEventType = "event_type"

// OrderEvent is the envelope published for every order event.
type OrderEvent struct {
	ID             uuid.UUID         `json:"id"`
	Type           EventType         `json:"event_type"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Order          types.Order       `json:"order"`
	PreviousStatus types.OrderStatus `json:"previous_status,omitempty"`
}

// Broker is the part of the message queue the publisher needs.
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Publisher emits order events as JSON on a single channel.
type Publisher struct {
	broker  Broker
	channel string
	now     func() time.Time
}

func NewPublisher(broker Broker, channel string) *Publisher {
	return &Publisher{broker: broker, channel: channel, now: time.Now}
}

func (p *Publisher) OrderPlaced(ctx context.Context, order types.Order) error {
	return p.publish(ctx, OrderEvent{Type: OrderPlaced, Order: order})
}

func (p *Publisher) OrderStatusChanged(ctx context.Context, order types.Order, previous types.OrderStatus) error {
	return p.publish(ctx, OrderEvent{Type: OrderStatusChanged, Order: order, PreviousStatus: previous})
}

func (p *Publisher) publish(ctx context.Context, event OrderEvent) error {
	event.ID = uuid.New()
	event.OccurredAt = p.now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	// Keying by order keeps the events of one order in sequence on brokers
	// that partition.
	attrs := map[string]string{
		attrEventType:      string(event.Type),
		mq.AttrKey:         event.Order.ID.String(),
		mq.AttrContentType: "application/json",
	}
	if _, err := p.broker.Publish(ctx, p.channel, data, attrs); err != nil {
		return fmt.Errorf("publish %s event for order %s: %w", event.Type, event.Order.ID, err)
	}
	return nil
}

var _ services.OrderEvents = (*Publisher)(nil)
