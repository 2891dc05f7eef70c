package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// Prices travel as JSON numbers, matching what storefront clients send.
	decimal.MarshalJSONWithoutQuotes = true
}

// DefaultCategory is assigned to products created without a category.
const DefaultCategory = "Uncategorized"

// Product represents a purchasable catalog entry.
type Product struct {
	// ID is the unique identifier of the product.
	ID uuid.UUID `json:"id" db:"id"`

	// Name is the human-readable product name.
	Name string `json:"name" db:"name"`

	// Description is the long-form product description.
	Description string `json:"description" db:"description"`

	// Price is the unit price. It is never negative.
	Price decimal.Decimal `json:"price" db:"price"`

	// Stock is the number of units available for reservation.
	// It is never negative.
	Stock int `json:"stock" db:"stock"`

	// Category is a free-text label used for browsing.
	Category string `json:"category" db:"category"`

	// Image is either an absolute URL or an object storage key.
	Image string `json:"image" db:"image"`

	// Featured marks products promoted on the storefront landing page.
	Featured bool `json:"featured" db:"featured"`

	// CreatedAt is the timestamp at which the product was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the product.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ProductFilter narrows a catalog listing.
type ProductFilter struct {
	// Category restricts the listing to one category when non-empty.
	Category string

	// FeaturedOnly restricts the listing to featured products.
	FeaturedOnly bool

	// Limit caps the number of products returned; zero means no cap.
	Limit int
}

// ProductChanges lists the product columns to overwrite. Nil fields keep
// their stored value.
type ProductChanges struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
	Category    *string
	Image       *string
	Featured    *bool
}
