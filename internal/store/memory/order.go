package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopfront/apiserver/internal/store"
	"github.com/shopfront/apiserver/types"
)

// OrderRepository is the in-memory order ledger.
type OrderRepository struct {
	s *Store
}

func orderKey(o types.Order) (uuid.UUID, time.Time) {
	return o.ID, o.CreatedAt
}

func (r *OrderRepository) List(ctx context.Context, filter types.OrderFilter) ([]types.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	orders := make([]types.Order, 0)
	for _, order := range r.s.orders {
		if filter.UserID != uuid.Nil && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	newestFirst(r.s, orders, orderKey)
	return orders, nil
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (types.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	order, ok := r.s.orders[id]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to types.OrderStatus) (types.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[id]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}
	if order.Status != from {
		return types.Order{}, store.ErrStatusChanged
	}
	order.Status = to
	order.UpdatedAt = r.s.now()
	r.s.orders[id] = order
	return cloneOrder(order), nil
}

// Reserve holds the store lock for the whole scope, so placements run one at
// a time. Changes made through the reservation are undone when fn fails.
func (r *OrderRepository) Reserve(ctx context.Context, fn func(store.Reservation) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res := &reservation{
		s:         r.s,
		originals: make(map[uuid.UUID]types.Product),
	}
	if err := fn(res); err != nil {
		res.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		res.rollback()
		return err
	}
	return nil
}

type reservation struct {
	s         *Store
	originals map[uuid.UUID]types.Product
	created   []uuid.UUID
}

func (t *reservation) Product(ctx context.Context, id uuid.UUID) (types.Product, error) {
	product, ok := t.s.products[id]
	if !ok {
		return types.Product{}, store.ErrNotFound
	}
	return product, nil
}

func (t *reservation) DecrementStock(ctx context.Context, id uuid.UUID, quantity int) error {
	product, ok := t.s.products[id]
	if !ok {
		return store.ErrNotFound
	}
	if product.Stock < quantity {
		return store.ErrInsufficientStock
	}
	if _, saved := t.originals[id]; !saved {
		t.originals[id] = product
	}
	product.Stock -= quantity
	product.UpdatedAt = t.s.now()
	t.s.products[id] = product
	return nil
}

func (t *reservation) CreateOrder(ctx context.Context, order types.Order) (types.Order, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := t.s.now()
	order.CreatedAt = now
	order.UpdatedAt = now
	order = cloneOrder(order)
	t.s.orders[order.ID] = order
	t.s.track(order.ID)
	t.created = append(t.created, order.ID)
	return cloneOrder(order), nil
}

func (t *reservation) rollback() {
	for id, product := range t.originals {
		t.s.products[id] = product
	}
	for _, id := range t.created {
		delete(t.s.orders, id)
		delete(t.s.seq, id)
	}
}
