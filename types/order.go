package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order represents a placed order in the ledger.
// Items and Total are fixed when the order is created; only Status and
// UpdatedAt change afterwards.
type Order struct {
	// ID is the unique identifier of the order.
	ID uuid.UUID `json:"id" db:"id"`

	// UserID identifies the account that placed the order.
	UserID uuid.UUID `json:"user_id" db:"user_id"`

	// UserName is the account's display name captured at creation time.
	UserName string `json:"user_name" db:"user_name"`

	// UserEmail is the account's email captured at creation time.
	UserEmail string `json:"user_email" db:"user_email"`

	// Items are the purchased products as they were at creation time.
	Items []OrderItem `json:"items" db:"items"`

	// Total is the sum of unit price times quantity over Items.
	Total decimal.Decimal `json:"total" db:"total"`

	// ShippingAddress is where the order ships to.
	ShippingAddress Address `json:"shipping_address" db:"shipping_address"`

	// Status is the lifecycle state of the order.
	Status OrderStatus `json:"status" db:"status"`

	// CreatedAt is the timestamp at which the order was placed.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent status change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OrderItem is a snapshot of a purchased product. Later catalog edits do
// not alter it.
type OrderItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image,omitempty"`
}

// Subtotal returns unit price times quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// LineItem is one requested line of a cart.
type LineItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// OrderFilter narrows an order listing.
type OrderFilter struct {
	// UserID restricts the listing to one account when not uuid.Nil.
	UserID uuid.UUID

	// Status restricts the listing to one status when non-empty.
	Status OrderStatus
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// Supported order statuses.
const (
	// OrderStatusPending is the initial state of every placed order.
	OrderStatusPending OrderStatus = "pending"

	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"

	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"

	// OrderStatusDelivered is terminal: the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"

	// OrderStatusCancelled is terminal: the order will not be fulfilled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderTransitions lists the statuses reachable from each status.
// Forward moves may skip intermediate states; nothing leaves a terminal state.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// OrderStatuses returns every supported status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

// Valid reports whether s is one of the supported statuses.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether moving from s to next is legal.
// Staying in the same status is always legal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
