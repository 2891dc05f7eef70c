package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopfront/apiserver/internal/store"
	"github.com/shopfront/apiserver/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductListFiltersAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := New()
	products := s.Products()

	first, err := products.Create(ctx, types.Product{Name: "Mug", Category: "Kitchen", Price: decimal.NewFromInt(8)})
	require.NoError(t, err)
	second, err := products.Create(ctx, types.Product{Name: "Lamp", Category: "Home", Featured: true})
	require.NoError(t, err)

	all, err := products.List(ctx, types.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	featured, err := products.List(ctx, types.ProductFilter{FeaturedOnly: true})
	require.NoError(t, err)
	require.Len(t, featured, 1)
	assert.Equal(t, "Lamp", featured[0].Name)

	kitchen, err := products.List(ctx, types.ProductFilter{Category: "Kitchen"})
	require.NoError(t, err)
	require.Len(t, kitchen, 1)

	limited, err := products.List(ctx, types.ProductFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	categories, err := products.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Home", "Kitchen"}, categories)
}

func TestProductUpdateAndDeleteMissing(t *testing.T) {
	ctx := context.Background()
	products := New().Products()

	_, err := products.Update(ctx, uuid.New(), types.ProductChanges{})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, products.Delete(ctx, uuid.New()), store.ErrNotFound)
}

func TestReserveRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, err := s.Products().Create(ctx, types.Product{Name: "A", Stock: 5})
	require.NoError(t, err)
	b, err := s.Products().Create(ctx, types.Product{Name: "B", Stock: 1})
	require.NoError(t, err)

	err = s.Orders().Reserve(ctx, func(res store.Reservation) error {
		require.NoError(t, res.DecrementStock(ctx, a.ID, 3))
		_, err := res.CreateOrder(ctx, types.Order{UserID: uuid.New()})
		require.NoError(t, err)
		return res.DecrementStock(ctx, b.ID, 2)
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	gotA, err := s.Products().Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, gotA.Stock)

	orders, err := s.Orders().List(ctx, types.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestReserveCommits(t *testing.T) {
	ctx := context.Background()
	s := New()
	p, err := s.Products().Create(ctx, types.Product{Name: "A", Stock: 5})
	require.NoError(t, err)

	var placed types.Order
	err = s.Orders().Reserve(ctx, func(res store.Reservation) error {
		if err := res.DecrementStock(ctx, p.ID, 2); err != nil {
			return err
		}
		var err error
		placed, err = res.CreateOrder(ctx, types.Order{UserID: uuid.New(), Status: types.OrderStatusPending})
		return err
	})
	require.NoError(t, err)

	got, err := s.Products().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)

	order, err := s.Orders().Get(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPending, order.Status)
}

func TestUpdateStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	var placed types.Order
	require.NoError(t, s.Orders().Reserve(ctx, func(res store.Reservation) error {
		var err error
		placed, err = res.CreateOrder(ctx, types.Order{Status: types.OrderStatusPending})
		return err
	}))

	updated, err := s.Orders().UpdateStatus(ctx, placed.ID, types.OrderStatusPending, types.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusShipped, updated.Status)

	_, err = s.Orders().UpdateStatus(ctx, placed.ID, types.OrderStatusPending, types.OrderStatusCancelled)
	assert.ErrorIs(t, err, store.ErrStatusChanged)

	_, err = s.Orders().UpdateStatus(ctx, uuid.New(), types.OrderStatusPending, types.OrderStatusCancelled)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUserStoreUniqueEmailAndAggregates(t *testing.T) {
	ctx := context.Background()
	s := New()
	users := s.Users()

	ada, err := users.Create(ctx, types.User{Name: "Ada", Email: "ada@example.com", Role: types.RoleAdmin})
	require.NoError(t, err)
	_, err = users.Create(ctx, types.User{Name: "Bob", Email: "bob@example.com", Role: types.RoleUser})
	require.NoError(t, err)

	_, err = users.Create(ctx, types.User{Name: "Ada 2", Email: "ADA@example.com"})
	assert.True(t, errors.Is(err, store.ErrDuplicate))

	require.NoError(t, s.Orders().Reserve(ctx, func(res store.Reservation) error {
		_, err := res.CreateOrder(ctx, types.Order{UserID: ada.ID, Total: decimal.RequireFromString("12.50")})
		return err
	}))

	summary, err := users.Summary(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OrderCount)
	assert.True(t, decimal.RequireFromString("12.5").Equal(summary.TotalSpent))

	page, total, err := users.List(ctx, types.UserFilter{Search: "BOB", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, "Bob", page[0].Name)

	admins, err := users.CountByRole(ctx, types.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, admins)

	stats, err := users.Stats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.UserStats{TotalUsers: 2, AdminUsers: 1, RegularUsers: 1, NewThisMonth: 2}, stats)
}

func TestProductUpdateKeepsUnsetColumns(t *testing.T) {
	ctx := context.Background()
	s := New()
	product, err := s.Products().Create(ctx, types.Product{Name: "Lamp", Category: "Home", Stock: 4})
	require.NoError(t, err)

	require.NoError(t, s.Orders().Reserve(ctx, func(res store.Reservation) error {
		return res.DecrementStock(ctx, product.ID, 3)
	}))

	name := "Desk lamp"
	updated, err := s.Products().Update(ctx, product.ID, types.ProductChanges{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Desk lamp", updated.Name)
	assert.Equal(t, "Home", updated.Category)
	assert.Equal(t, 1, updated.Stock)
}
