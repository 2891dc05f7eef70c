package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopfront/apiserver/internal/auth"
	"github.com/shopfront/apiserver/internal/store"
	"github.com/shopfront/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter types.UserFilter) ([]types.UserSummary, int, error)
	Summary(ctx context.Context, id uuid.UUID) (types.UserSummary, error)
	Stats(ctx context.Context, since time.Time) (types.UserStats, error)
	CountByRole(ctx context.Context, role types.Role) (int, error)
}

// RegisterInput is the data needed to open an account.
type RegisterInput struct {
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Phone    string         `json:"phone"`
	Address  *types.Address `json:"address"`
}

// UserPatch lists the account fields an administrator may change.
type UserPatch struct {
	Name    *string        `json:"name"`
	Phone   *string        `json:"phone"`
	Role    *types.Role    `json:"role"`
	Address *types.Address `json:"address"`
}

// UserPage is one page of the account listing.
type UserPage struct {
	Users []types.UserSummary `json:"users"`
	Total int                 `json:"total"`
	Stats types.UserStats     `json:"stats"`
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo UserRepository
	now  func() time.Time
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo, now: time.Now}
}

// Register opens a regular account.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (types.User, error) {
	return s.create(ctx, input, types.RoleUser)
}

// CreateAdmin opens an administrator account. It is meant for bootstrapping
// from the command line, where no identity exists yet.
func (s *UserService) CreateAdmin(ctx context.Context, input RegisterInput) (types.User, error) {
	return s.create(ctx, input, types.RoleAdmin)
}

func (s *UserService) create(ctx context.Context, input RegisterInput, role types.Role) (types.User, error) {
	name := strings.TrimSpace(input.Name)
	email := normalizeEmail(input.Email)
	if name == "" || email == "" || input.Password == "" {
		return types.User{}, validationError("name, email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return types.User{}, validationError("invalid email address")
	}

	var address *types.Address
	if input.Address != nil {
		trimmed := input.Address.Trimmed()
		address = &trimmed
	}

	hashed, err := auth.HashPassword(input.Password)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Name:         name,
		Email:        email,
		Role:         role,
		Phone:        strings.TrimSpace(input.Phone),
		Address:      address,
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, conflictError("user with this email already exists")
		}
		return types.User{}, err
	}
	return user, nil
}

// Authenticate checks an email and password pair. Every mismatch yields the
// same error so callers cannot probe which accounts exist.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return types.User{}, validationError("email and password are required")
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, unauthorizedError("invalid email or password")
		}
		return types.User{}, err
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return types.User{}, unauthorizedError("invalid email or password")
		}
		return types.User{}, err
	}
	return user, nil
}

// Me returns the caller's account.
func (s *UserService) Me(ctx context.Context, identity auth.Identity) (types.User, error) {
	user, err := s.repo.GetByID(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, unauthorizedError("unauthorized")
		}
		return types.User{}, err
	}
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns one page of accounts with the back-office statistics.
func (s *UserService) List(ctx context.Context, identity auth.Identity, filter types.UserFilter) (UserPage, error) {
	if err := requireAdmin(identity); err != nil {
		return UserPage{}, err
	}
	if filter.Role == "all" {
		filter.Role = ""
	}
	if filter.Role != "" && !filter.Role.Valid() {
		return UserPage{}, validationError("invalid role %q", filter.Role)
	}

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return UserPage{}, err
	}
	stats, err := s.repo.Stats(ctx, startOfMonth(s.now()))
	if err != nil {
		return UserPage{}, err
	}
	return UserPage{Users: users, Total: total, Stats: stats}, nil
}

// Get returns an account with its order count and total spent.
func (s *UserService) Get(ctx context.Context, identity auth.Identity, id uuid.UUID) (types.UserSummary, error) {
	if err := requireAdmin(identity); err != nil {
		return types.UserSummary{}, err
	}
	summary, err := s.repo.Summary(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.UserSummary{}, notFoundError("user not found")
		}
		return types.UserSummary{}, err
	}
	return summary, nil
}

// Update applies an administrator's changes to an account. The last
// administrator cannot be demoted.
func (s *UserService) Update(ctx context.Context, identity auth.Identity, id uuid.UUID, patch UserPatch) (types.User, error) {
	if err := requireAdmin(identity); err != nil {
		return types.User{}, err
	}
	if patch.Role != nil && !patch.Role.Valid() {
		return types.User{}, validationError("invalid role, must be 'admin' or 'user'")
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, notFoundError("user not found")
		}
		return types.User{}, err
	}

	if patch.Role != nil && user.Role == types.RoleAdmin && *patch.Role != types.RoleAdmin {
		if err := s.ensureAnotherAdmin(ctx); err != nil {
			return types.User{}, err
		}
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return types.User{}, validationError("name must not be empty")
		}
		user.Name = name
	}
	if patch.Phone != nil {
		user.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.Role != nil {
		user.Role = *patch.Role
	}
	if patch.Address != nil {
		trimmed := patch.Address.Trimmed()
		user.Address = &trimmed
	}

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, notFoundError("user not found")
		}
		return types.User{}, err
	}
	return updated, nil
}

// Delete removes an account. Administrators cannot delete themselves, and the
// last administrator cannot be deleted.
func (s *UserService) Delete(ctx context.Context, identity auth.Identity, id uuid.UUID) error {
	if err := requireAdmin(identity); err != nil {
		return err
	}
	if id == identity.ID {
		return validationError("cannot delete your own account")
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("user not found")
		}
		return err
	}
	if user.Role == types.RoleAdmin {
		if err := s.ensureAnotherAdmin(ctx); err != nil {
			return err
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("user not found")
		}
		return err
	}
	return nil
}

func (s *UserService) ensureAnotherAdmin(ctx context.Context) error {
	admins, err := s.repo.CountByRole(ctx, types.RoleAdmin)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return conflictError("cannot remove the last administrator")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func startOfMonth(t time.Time) time.Time {
	year, month, _ := t.Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, t.Location())
}
