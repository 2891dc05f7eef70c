package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopfront/apiserver/internal/mq"
	"github.com/shopfront/apiserver/types"
)

// Notification is a customer-facing message derived from an order event.
type Notification struct {
	Recipient string
	Subject   string
	Body      string
}

// Sender delivers notifications.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, n Notification) error {
	s.logger.Info().
		Str("recipient", n.Recipient).
		Str("subject", n.Subject).
		Str("body", n.Body).
		Msg("notification sent")
	return nil
}

// Notifier turns order events into customer notifications.
type Notifier struct {
	sender Sender
}

func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// Handle decodes one order event message. Malformed and unknown messages are
// logged and acknowledged; only a failed send asks for redelivery.
func (n *Notifier) Handle(ctx context.Context, msg mq.Message) error {
	logger := zerolog.Ctx(ctx).With().Str("message_id", msg.ID).Logger()

	var event OrderEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		logger.Warn().Err(err).Msg("discarding malformed order event")
		return nil
	}

	notification, ok := notificationFor(event)
	if !ok {
		logger.Debug().Str("event_type", string(event.Type)).Msg("ignoring order event")
		return nil
	}
	if notification.Recipient == "" {
		logger.Warn().Str("order_id", event.Order.ID.String()).Msg("order event has no recipient")
		return nil
	}

	if err := n.sender.Send(ctx, notification); err != nil {
		return fmt.Errorf("notify %s about order %s: %w", notification.Recipient, event.Order.ID, err)
	}
	return nil
}

func notificationFor(event OrderEvent) (Notification, bool) {
	order := event.Order
	n := Notification{Recipient: order.UserEmail}

	switch event.Type {
	case OrderPlaced:
		n.Subject = fmt.Sprintf("Order %s received", shortID(order))
		n.Body = fmt.Sprintf("Hi %s, we received your order of %d item(s) totalling %s.",
			order.UserName, itemCount(order), order.Total.StringFixed(2))
	case OrderStatusChanged:
		switch order.Status {
		case types.OrderStatusProcessing:
			n.Subject = fmt.Sprintf("Order %s is being prepared", shortID(order))
		case types.OrderStatusShipped:
			n.Subject = fmt.Sprintf("Order %s has shipped", shortID(order))
		case types.OrderStatusDelivered:
			n.Subject = fmt.Sprintf("Order %s was delivered", shortID(order))
		case types.OrderStatusCancelled:
			n.Subject = fmt.Sprintf("Order %s was cancelled", shortID(order))
		default:
			return Notification{}, false
		}
		n.Body = fmt.Sprintf("Hi %s, your order moved from %s to %s.",
			order.UserName, event.PreviousStatus, order.Status)
	default:
		return Notification{}, false
	}
	return n, true
}

func shortID(order types.Order) string {
	return order.ID.String()[:8]
}

func itemCount(order types.Order) int {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return count
}
