package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopfront/apiserver/internal/auth"
	"github.com/shopfront/apiserver/internal/store"
	"github.com/shopfront/apiserver/types"
	"github.com/shopspring/decimal"
)

// OrderRepository defines persistence operations for the order ledger.
type OrderRepository interface {
	List(ctx context.Context, filter types.OrderFilter) ([]types.Order, error)
	Get(ctx context.Context, id uuid.UUID) (types.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to types.OrderStatus) (types.Order, error)
	Reserve(ctx context.Context, fn func(store.Reservation) error) error
}

// AccountReader looks up accounts by id.
type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
}

// OrderEvents is notified after order changes are committed.
type OrderEvents interface {
	OrderPlaced(ctx context.Context, order types.Order) error
	OrderStatusChanged(ctx context.Context, order types.Order, previous types.OrderStatus) error
}

// PlaceOrderInput is a cart submitted for checkout.
type PlaceOrderInput struct {
	Items           []types.LineItem `json:"items"`
	ShippingAddress types.Address    `json:"shipping_address"`
}

// OrderService encapsulates order placement and fulfilment use-cases.
type OrderService struct {
	orders   OrderRepository
	accounts AccountReader
	events   OrderEvents
}

// NewOrderService constructs an OrderService. events may be nil.
func NewOrderService(orders OrderRepository, accounts AccountReader, events OrderEvents) *OrderService {
	return &OrderService{
		orders:   orders,
		accounts: accounts,
		events:   events,
	}
}

// Place reserves stock for every line of the cart and records a pending
// order. Either every line is reserved and the order exists, or nothing
// changed.
func (s *OrderService) Place(ctx context.Context, identity auth.Identity, input PlaceOrderInput) (types.Order, error) {
	if identity.ID == uuid.Nil {
		return types.Order{}, unauthorizedError("unauthorized")
	}
	if err := validatePlaceOrder(input); err != nil {
		return types.Order{}, err
	}

	userName, userEmail := s.resolveCustomer(ctx, identity)

	var placed types.Order
	err := s.orders.Reserve(ctx, func(res store.Reservation) error {
		total := decimal.Zero
		items := make([]types.OrderItem, 0, len(input.Items))

		for _, line := range input.Items {
			product, err := res.Product(ctx, line.ProductID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return notFoundError("product not found: %s", line.ProductID)
				}
				return fmt.Errorf("load product %s: %w", line.ProductID, err)
			}
			if product.Stock < line.Quantity {
				return conflictError("insufficient stock for %s", product.Name)
			}

			item := types.OrderItem{
				ProductID: product.ID,
				Name:      product.Name,
				Quantity:  line.Quantity,
				Price:     product.Price,
				Image:     product.Image,
			}
			total = total.Add(item.Subtotal())
			items = append(items, item)

			if err := res.DecrementStock(ctx, product.ID, line.Quantity); err != nil {
				if errors.Is(err, store.ErrInsufficientStock) {
					return conflictError("insufficient stock for %s", product.Name)
				}
				return fmt.Errorf("reserve product %s: %w", product.ID, err)
			}
		}

		created, err := res.CreateOrder(ctx, types.Order{
			UserID:          identity.ID,
			UserName:        userName,
			UserEmail:       userEmail,
			Items:           items,
			Total:           total,
			ShippingAddress: input.ShippingAddress.Trimmed(),
			Status:          types.OrderStatusPending,
		})
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		placed = created
		return nil
	})
	if err != nil {
		return types.Order{}, err
	}

	if s.events != nil {
		if err := s.events.OrderPlaced(ctx, placed); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("order_id", placed.ID.String()).Msg("publish order placed event")
		}
	}
	return placed, nil
}

func validatePlaceOrder(input PlaceOrderInput) error {
	if len(input.Items) == 0 {
		return validationError("no items in order")
	}
	for i, line := range input.Items {
		if line.ProductID == uuid.Nil {
			return validationError("item %d: product id is required", i+1)
		}
		if line.Quantity < 1 {
			return validationError("item %d: quantity must be at least 1", i+1)
		}
	}
	if !input.ShippingAddress.Complete() {
		return validationError("invalid shipping address")
	}
	return nil
}

// resolveCustomer reads the caller's current name and email, falling back to
// what the token carries when the account cannot be read.
func (s *OrderService) resolveCustomer(ctx context.Context, identity auth.Identity) (string, string) {
	name, email := identity.Name, identity.Email
	if s.accounts == nil {
		return name, email
	}
	user, err := s.accounts.GetByID(ctx, identity.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", identity.ID.String()).Msg("load customer for order")
		}
		return name, email
	}
	if user.Name != "" {
		name = user.Name
	}
	if user.Email != "" {
		email = user.Email
	}
	return name, email
}

// List returns the caller's orders, or every order for an administrator.
func (s *OrderService) List(ctx context.Context, identity auth.Identity, status types.OrderStatus) ([]types.Order, error) {
	if identity.ID == uuid.Nil {
		return nil, unauthorizedError("unauthorized")
	}
	if status == "all" {
		status = ""
	}
	if status != "" && !status.Valid() {
		return nil, validationError("invalid status %q", status)
	}

	filter := types.OrderFilter{Status: status}
	if !identity.IsAdmin() {
		filter.UserID = identity.ID
	}
	return s.orders.List(ctx, filter)
}

// Get returns one order. Callers other than its owner and administrators get
// a not-found error.
func (s *OrderService) Get(ctx context.Context, identity auth.Identity, id uuid.UUID) (types.Order, error) {
	if identity.ID == uuid.Nil {
		return types.Order{}, unauthorizedError("unauthorized")
	}
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Order{}, notFoundError("order not found")
		}
		return types.Order{}, err
	}
	if !identity.IsAdmin() && order.UserID != identity.ID {
		return types.Order{}, notFoundError("order not found")
	}
	return order, nil
}

// UpdateStatus moves an order through its lifecycle. Setting the current
// status again only refreshes the order's update time.
func (s *OrderService) UpdateStatus(ctx context.Context, identity auth.Identity, id uuid.UUID, status types.OrderStatus) (types.Order, error) {
	if err := requireAdmin(identity); err != nil {
		return types.Order{}, err
	}
	if !status.Valid() {
		return types.Order{}, validationError("invalid status %q", status)
	}

	current, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Order{}, notFoundError("order not found")
		}
		return types.Order{}, err
	}
	if !current.Status.CanTransitionTo(status) {
		return types.Order{}, validationError("cannot change order status from %s to %s", current.Status, status)
	}

	updated, err := s.orders.UpdateStatus(ctx, id, current.Status, status)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return types.Order{}, notFoundError("order not found")
		case errors.Is(err, store.ErrStatusChanged):
			return types.Order{}, conflictError("order status was changed concurrently, reload and retry")
		}
		return types.Order{}, err
	}

	if s.events != nil && current.Status != status {
		if err := s.events.OrderStatusChanged(ctx, updated, current.Status); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("order_id", updated.ID.String()).Msg("publish order status event")
		}
	}
	return updated, nil
}
