package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopfront/apiserver/types"
)

// Reservation is the scope of one order placement. Everything done through
// it commits together or not at all.
type Reservation interface {
	// Product loads a product and holds it until the scope ends.
	Product(ctx context.Context, id uuid.UUID) (types.Product, error)
	// DecrementStock removes quantity units from a product's stock if at
	// least that many are available, and fails with ErrInsufficientStock
	// otherwise.
	DecrementStock(ctx context.Context, id uuid.UUID, quantity int) error
	// CreateOrder persists the order and returns it with its identity set.
	CreateOrder(ctx context.Context, order types.Order) (types.Order, error)
}
