package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopfront/apiserver/internal/auth"
	"github.com/shopfront/apiserver/internal/services"
	"github.com/shopfront/apiserver/internal/store/memory"
	"github.com/shopfront/apiserver/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
)

type recordedEvents struct {
	mu       sync.Mutex
	placed   []types.Order
	changed  []types.OrderStatus
	failWith error
}

func (r *recordedEvents) OrderPlaced(ctx context.Context, order types.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placed = append(r.placed, order)
	return r.failWith
}

func (r *recordedEvents) OrderStatusChanged(ctx context.Context, order types.Order, previous types.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, previous)
	return r.failWith
}

var shippingAddress = types.Address{
	Street:  "1 Main St",
	City:    "Springfield",
	State:   "IL",
	ZipCode: "62701",
	Country: "US",
}

type OrderServiceSuite struct {
	suite.Suite

	ctx      context.Context
	store    *memory.Store
	events   *recordedEvents
	service  *services.OrderService
	customer auth.Identity
	admin    auth.Identity
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}

func (s *OrderServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.events = &recordedEvents{}
	s.service = services.NewOrderService(s.store.Orders(), s.store.Users(), s.events)

	user, err := s.store.Users().Create(s.ctx, types.User{Name: "Cara", Email: "cara@example.com", Role: types.RoleUser})
	s.Require().NoError(err)
	s.customer = auth.IdentityOf(user)
	s.admin = auth.Identity{ID: uuid.New(), Email: "root@example.com", Name: "Root", Role: types.RoleAdmin}
}

func (s *OrderServiceSuite) product(name, price string, stock int) types.Product {
	p, err := s.store.Products().Create(s.ctx, types.Product{
		Name:  name,
		Price: decimal.RequireFromString(price),
		Stock: stock,
		Image: "https://cdn.example.com/" + name + ".png",
	})
	s.Require().NoError(err)
	return p
}

func (s *OrderServiceSuite) stockOf(id uuid.UUID) int {
	p, err := s.store.Products().Get(s.ctx, id)
	s.Require().NoError(err)
	return p.Stock
}

func (s *OrderServiceSuite) TestPlaceComputesTotalAndDecrementsStock() {
	p1 := s.product("kettle", "10.00", 5)

	order, err := s.service.Place(s.ctx, s.customer, services.PlaceOrderInput{
		Items:           []types.LineItem{{ProductID: p1.ID, Quantity: 2}},
		ShippingAddress: shippingAddress,
	})
	s.Require().NoError(err)

	s.NotEqual(uuid.Nil, order.ID)
	s.True(decimal.RequireFromString("20.00").Equal(order.Total))
	s.Equal(types.OrderStatusPending, order.Status)
	s.Equal("Cara", order.UserName)
	s.Equal("cara@example.com", order.UserEmail)
	s.Require().Len(order.Items, 1)
	s.Equal("kettle", order.Items[0].Name)
	s.Equal(p1.Image, order.Items[0].Image)
	s.Equal(3, s.stockOf(p1.ID))

	s.Require().Len(s.events.placed, 1)
	s.Equal(order.ID, s.events.placed[0].ID)
}

func (s *OrderServiceSuite) TestTotalMatchesItemSnapshot() {
	p1 := s.product("mug", "3.35", 10)
	p2 := s.product("spoon", "0.10", 10)

	order, err := s.service.Place(s.ctx, s.customer, services.PlaceOrderInput{
		Items: []types.LineItem{
			{ProductID: p1.ID, Quantity: 3},
			{ProductID: p2.ID, Quantity: 7},
		},
		ShippingAddress: shippingAddress,
	})
	s.Require().NoError(err)

	sum := decimal.Zero
	for _, item := range order.Items {
		sum = sum.Add(item.Subtotal())
	}
	s.True(sum.Equal(order.Total))
	s.True(decimal.RequireFromString("10.75").Equal(order.Total))
}

func (s *OrderServiceSuite) TestInsufficientStockLeavesStockUnchanged() {
	p1 := s.product("kettle", "10.00", 5)

	_, err := s.service.Place(s.ctx, s.customer, services.PlaceOrderInput{
		Items:           []types.LineItem{{ProductID: p1.ID, Quantity: 10}},
		ShippingAddress: shippingAddress,
	})
	s.Require().Error(err)
	s.True(services.IsKind(err, services.KindConflict))
	s.Contains(err.Error(), "insufficient stock for kettle")
	s.Equal(5, s.stockOf(p1.ID))
	s.Empty(s.events.placed)
}

func (s *OrderServiceSuite) TestFailureOnLaterLineRollsBackEarlierLines() {
	p1 := s.product("kettle", "10.00", 5)
	p2 := s.product("toaster", "25.00", 1)

	_, err := s.service.Place(s.ctx, s.customer, services.PlaceOrderInput{
		Items: []types.LineItem{
			{ProductID: p1.ID, Quantity: 2},
			{ProductID: p2.ID, Quantity: 2},
		},
		ShippingAddress: shippingAddress,
	})
	s.True(services.IsKind(err, services.KindConflict))
	s.Equal(5, s.stockOf(p1.ID))
	s.Equal(1, s.stockOf(p2.ID))

	orders, err := s.store.Orders().List(s.ctx, types.OrderFilter{})
	s.Require().NoError(err)
	s.Empty(orders)
}

func (s *OrderServiceSuite) TestUnknownProductIsNotFoundAndNothingChanges() {
	p1 := s.product("kettle", "10.00", 5)
	p2 := s.product("toaster", "25.00", 4)
	missing := uuid.New()

	_, err := s.service.Place(s.ctx, s.customer, services.PlaceOrderInput{
		Items: []types.LineItem{
			{ProductID: p1.ID, Quantity: 1},
			{ProductID: missing, Quantity: 1},
			{ProductID: p2.ID, Quantity: 1},
		},
		ShippingAddress: shippingAddress,
	})
	s.True(services.IsKind(err, services.KindNotFound))
	s.Contains(err.Error(), missing.String())
	s.Equal(5, s.stockOf(p1.ID))
	s.Equal(4, s.stockOf(p2.ID))
}

func (s *OrderServiceSuite) TestPlaceValidatesBeforeSideEffects() {
	p1 := s.product("kettle", "10.00", 5)

	cases := map[string]services.PlaceOrderInput{
		"no items": {ShippingAddress: shippingAddress},
		"zero quantity": {
			Items:           []types.LineItem{{ProductID: p1.ID, Quantity: 0}},
			ShippingAddress: shippingAddress,
		},
		"missing product id": {
			Items:           []types.LineItem{{Quantity: 1}},
			ShippingAddress: shippingAddress,
		},
		"incomplete address": {
			Items:           []types.LineItem{{ProductID: p1.ID, Quantity: 1}},
			ShippingAddress: types.Address{Street: "1 Main St"},
		},
	}
	for name, input := range cases {
		s.Run(name, func() {
			_, err := s.service.Place(s.ctx, s.customer, input)
			s.True(services.IsKind(err, services.KindValidation), "got %v", err)
		})
	}
	s.Equal(5, s.stockOf(p1.ID))
}

func (s *OrderServiceSuite) TestPlaceRequiresIdentity() {
	_, err := s.service.Place(s.ctx, auth.Identity{}, services.PlaceOrderInput{})
	s.True(services.IsKind(err, services.KindUnauthorized))
}

func (s *OrderServiceSuite) TestPlaceFallsBackToTokenIdentity() {
	p1 := s.product("kettle", "10.00", 5)
	ghost := auth.Identity{ID: uuid.New(), Email: "ghost@example.com", Name: "Ghost", Role: types.RoleUser}

	order, err := s.service.Place(s.ctx, ghost, services.PlaceOrderInput{
		Items:           []types.LineItem{{ProductID: p1.ID, Quantity: 1}},
		ShippingAddress: shippingAddress,
	})
	s.Require().NoError(err)
	s.Equal("Ghost", order.UserName)
	s.Equal("ghost@example.com", order.UserEmail)
}

func (s *OrderServiceSuite) TestEventFailureDoesNotFailPlacement() {
	s.events.failWith = errors.New("broker down")
	p1 := s.product("kettle", "10.00", 5)

	_, err := s.service.Place(s.ctx, s.customer, services.PlaceOrderInput{
		Items:           []types.LineItem{{ProductID: p1.ID, Quantity: 1}},
		ShippingAddress: shippingAddress,
	})
	s.NoError(err)
	s.Equal(4, s.stockOf(p1.ID))
}

func (s *OrderServiceSuite) placeOne() types.Order {
	p := s.product("lamp", "5.00", 10)
	order, err := s.service.Place(s.ctx, s.customer, services.PlaceOrderInput{
		Items:           []types.LineItem{{ProductID: p.ID, Quantity: 1}},
		ShippingAddress: shippingAddress,
	})
	s.Require().NoError(err)
	return order
}

func (s *OrderServiceSuite) TestAdminShipsOrder() {
	order := s.placeOne()

	updated, err := s.service.UpdateStatus(s.ctx, s.admin, order.ID, types.OrderStatusShipped)
	s.Require().NoError(err)
	s.Equal(types.OrderStatusShipped, updated.Status)
	s.False(updated.UpdatedAt.Before(order.UpdatedAt))
	s.Equal(order.Items, updated.Items)
	s.True(order.Total.Equal(updated.Total))
	s.Equal([]types.OrderStatus{types.OrderStatusPending}, s.events.changed)
}

func (s *OrderServiceSuite) TestSameStatusIsNoOp() {
	order := s.placeOne()

	updated, err := s.service.UpdateStatus(s.ctx, s.admin, order.ID, types.OrderStatusPending)
	s.Require().NoError(err)
	s.Equal(types.OrderStatusPending, updated.Status)
	s.Empty(s.events.changed)
}

func (s *OrderServiceSuite) TestIllegalAndUnknownStatuses() {
	order := s.placeOne()

	_, err := s.service.UpdateStatus(s.ctx, s.admin, order.ID, types.OrderStatus("lost"))
	s.True(services.IsKind(err, services.KindValidation))

	_, err = s.service.UpdateStatus(s.ctx, s.admin, order.ID, types.OrderStatusCancelled)
	s.Require().NoError(err)

	_, err = s.service.UpdateStatus(s.ctx, s.admin, order.ID, types.OrderStatusProcessing)
	s.True(services.IsKind(err, services.KindValidation))
}

func (s *OrderServiceSuite) TestNonAdminCannotChangeStatus() {
	order := s.placeOne()

	_, err := s.service.UpdateStatus(s.ctx, s.customer, order.ID, types.OrderStatusShipped)
	s.True(services.IsKind(err, services.KindForbidden))

	got, err := s.store.Orders().Get(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(types.OrderStatusPending, got.Status)
}

func (s *OrderServiceSuite) TestUpdateStatusUnknownOrder() {
	_, err := s.service.UpdateStatus(s.ctx, s.admin, uuid.New(), types.OrderStatusShipped)
	s.True(services.IsKind(err, services.KindNotFound))
}

func (s *OrderServiceSuite) TestListAndGetVisibility() {
	mine := s.placeOne()

	other := auth.Identity{ID: uuid.New(), Name: "Dan", Email: "dan@example.com", Role: types.RoleUser}
	p := s.product("desk", "99.00", 2)
	theirs, err := s.service.Place(s.ctx, other, services.PlaceOrderInput{
		Items:           []types.LineItem{{ProductID: p.ID, Quantity: 1}},
		ShippingAddress: shippingAddress,
	})
	s.Require().NoError(err)

	own, err := s.service.List(s.ctx, s.customer, "")
	s.Require().NoError(err)
	s.Require().Len(own, 1)
	s.Equal(mine.ID, own[0].ID)

	all, err := s.service.List(s.ctx, s.admin, "all")
	s.Require().NoError(err)
	s.Len(all, 2)

	pending, err := s.service.List(s.ctx, s.admin, types.OrderStatusShipped)
	s.Require().NoError(err)
	s.Empty(pending)

	_, err = s.service.Get(s.ctx, s.customer, theirs.ID)
	s.True(services.IsKind(err, services.KindNotFound))

	got, err := s.service.Get(s.ctx, s.admin, theirs.ID)
	s.Require().NoError(err)
	s.Equal(theirs.ID, got.ID)

	_, err = s.service.List(s.ctx, s.customer, types.OrderStatus("bogus"))
	s.True(services.IsKind(err, services.KindValidation))
}

func TestConcurrentPlacementsNeverOversell(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	service := services.NewOrderService(st.Orders(), st.Users(), nil)

	product, err := st.Products().Create(ctx, types.Product{Name: "limited", Price: decimal.NewFromInt(1), Stock: 10})
	require.NoError(t, err)

	var (
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	var g errgroup.Group
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			buyer := auth.Identity{ID: uuid.New(), Role: types.RoleUser}
			_, err := service.Place(ctx, buyer, services.PlaceOrderInput{
				Items:           []types.LineItem{{ProductID: product.ID, Quantity: 1}},
				ShippingAddress: shippingAddress,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case services.IsKind(err, services.KindConflict):
				conflicts++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 15, conflicts)

	got, err := st.Products().Get(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}
