package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopfront/apiserver/internal/store"
	"github.com/shopfront/apiserver/types"
	"github.com/shopspring/decimal"
)

// UserRepository is the in-memory account store.
type UserRepository struct {
	s *Store
}

func userKey(u types.UserSummary) (uuid.UUID, time.Time) {
	return u.ID, u.CreatedAt
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, user := range r.s.users {
		if strings.EqualFold(user.Email, email) {
			return cloneUser(user), nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) emailTaken(email string, except uuid.UUID) bool {
	for id, user := range r.s.users {
		if id != except && strings.EqualFold(user.Email, email) {
			return true
		}
	}
	return false
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.emailTaken(user.Email, uuid.Nil) {
		return types.User{}, store.ErrDuplicate
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := r.s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.users[user.ID] = cloneUser(user)
	r.s.track(user.ID)
	return user, nil
}

func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.users[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if r.emailTaken(user.Email, user.ID) {
		return types.User{}, store.ErrDuplicate
	}
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = r.s.now()
	r.s.users[user.ID] = cloneUser(user)
	return user, nil
}

func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.users, id)
	return nil
}

func (r *UserRepository) summarize(user types.User) types.UserSummary {
	summary := types.UserSummary{User: cloneUser(user), TotalSpent: decimal.Zero}
	for _, order := range r.s.orders {
		if order.UserID != user.ID {
			continue
		}
		summary.OrderCount++
		summary.TotalSpent = summary.TotalSpent.Add(order.Total)
	}
	return summary
}

func (r *UserRepository) List(ctx context.Context, filter types.UserFilter) ([]types.UserSummary, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Limit < 1 {
		filter.Limit = 10
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	matched := make([]types.UserSummary, 0)
	for _, user := range r.s.users {
		if filter.Role != "" && user.Role != filter.Role {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(user.Name), search) &&
			!strings.Contains(strings.ToLower(user.Email), search) {
			continue
		}
		matched = append(matched, r.summarize(user))
	}
	newestFirst(r.s, matched, userKey)

	total := len(matched)
	if filter.Offset >= total {
		return []types.UserSummary{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (r *UserRepository) Summary(ctx context.Context, id uuid.UUID) (types.UserSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.users[id]
	if !ok {
		return types.UserSummary{}, store.ErrNotFound
	}
	return r.summarize(user), nil
}

func (r *UserRepository) Stats(ctx context.Context, since time.Time) (types.UserStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var stats types.UserStats
	for _, user := range r.s.users {
		stats.TotalUsers++
		if user.Role == types.RoleAdmin {
			stats.AdminUsers++
		}
		if !user.CreatedAt.Before(since) {
			stats.NewThisMonth++
		}
	}
	stats.RegularUsers = stats.TotalUsers - stats.AdminUsers
	return stats, nil
}

func (r *UserRepository) CountByRole(ctx context.Context, role types.Role) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for _, user := range r.s.users {
		if user.Role == role {
			count++
		}
	}
	return count, nil
}
