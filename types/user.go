package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is the authorization level of an account.
type Role string

// Supported roles.
const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User represents an account in the system.
// It contains identity, role, contact details and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID uuid.UUID `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address. It is unique across accounts
	// and used as the login name.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level.
	Role Role `json:"role" db:"role"`

	// Phone is an optional contact number.
	Phone string `json:"phone,omitempty" db:"phone"`

	// Address is the optional default shipping address.
	Address *Address `json:"address,omitempty" db:"address"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UserSummary is a user decorated with aggregates over the order ledger.
type UserSummary struct {
	User

	// OrderCount is the number of orders placed by the user.
	OrderCount int `json:"order_count"`

	// TotalSpent is the sum of the totals of the user's orders.
	TotalSpent decimal.Decimal `json:"total_spent"`
}

// UserFilter narrows an account listing.
type UserFilter struct {
	// Search matches name or email, case-insensitively.
	Search string

	// Role restricts the listing to one role when non-empty.
	Role Role

	Offset int
	Limit  int
}

// UserStats aggregates account counts for the back office.
type UserStats struct {
	TotalUsers   int `json:"total_users"`
	AdminUsers   int `json:"admin_users"`
	RegularUsers int `json:"regular_users"`
	NewThisMonth int `json:"new_this_month"`
}
