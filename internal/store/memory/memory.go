// Package memory is an in-process store backend. It keeps products, orders
// and users in maps guarded by one lock and serves the same repository
// contracts as the Postgres store.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopfront/apiserver/types"
)

// Store holds every record of the in-memory backend.
type Store struct {
	mu sync.RWMutex

	products map[uuid.UUID]types.Product
	orders   map[uuid.UUID]types.Order
	users    map[uuid.UUID]types.User

	// seq records insertion order so listings stay stable when timestamps tie.
	seq  map[uuid.UUID]uint64
	next uint64

	now func() time.Time
}

func New() *Store {
	return &Store{
		products: make(map[uuid.UUID]types.Product),
		orders:   make(map[uuid.UUID]types.Order),
		users:    make(map[uuid.UUID]types.User),
		seq:      make(map[uuid.UUID]uint64),
		now:      time.Now,
	}
}

func (s *Store) Products() *ProductRepository {
	return &ProductRepository{s: s}
}

func (s *Store) Orders() *OrderRepository {
	return &OrderRepository{s: s}
}

func (s *Store) Users() *UserRepository {
	return &UserRepository{s: s}
}

func (s *Store) track(id uuid.UUID) {
	if _, ok := s.seq[id]; ok {
		return
	}
	s.next++
	s.seq[id] = s.next
}

// newestFirst sorts records by creation time, latest first, breaking ties by
// insertion order.
func newestFirst[T any](s *Store, records []T, key func(T) (uuid.UUID, time.Time)) {
	sort.Slice(records, func(i, j int) bool {
		idI, createdI := key(records[i])
		idJ, createdJ := key(records[j])
		if !createdI.Equal(createdJ) {
			return createdI.After(createdJ)
		}
		return s.seq[idI] > s.seq[idJ]
	})
}

func cloneOrder(order types.Order) types.Order {
	order.Items = append([]types.OrderItem(nil), order.Items...)
	return order
}

func cloneUser(user types.User) types.User {
	if user.Address != nil {
		address := *user.Address
		user.Address = &address
	}
	return user
}
