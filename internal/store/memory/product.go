package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopfront/apiserver/internal/store"
	"github.com/shopfront/apiserver/types"
)

// ProductRepository is the in-memory catalog.
type ProductRepository struct {
	s *Store
}

func productKey(p types.Product) (uuid.UUID, time.Time) {
	return p.ID, p.CreatedAt
}

func (r *ProductRepository) List(ctx context.Context, filter types.ProductFilter) ([]types.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	products := make([]types.Product, 0, len(r.s.products))
	for _, product := range r.s.products {
		if filter.Category != "" && product.Category != filter.Category {
			continue
		}
		if filter.FeaturedOnly && !product.Featured {
			continue
		}
		products = append(products, product)
	}
	newestFirst(r.s, products, productKey)
	if filter.Limit > 0 && len(products) > filter.Limit {
		products = products[:filter.Limit]
	}
	return products, nil
}

func (r *ProductRepository) Get(ctx context.Context, id uuid.UUID) (types.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	product, ok := r.s.products[id]
	if !ok {
		return types.Product{}, store.ErrNotFound
	}
	return product, nil
}

func (r *ProductRepository) Create(ctx context.Context, product types.Product) (types.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.insert(product, r.s.now()), nil
}

func (r *ProductRepository) CreateBatch(ctx context.Context, products []types.Product) ([]types.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	created := make([]types.Product, 0, len(products))
	for _, product := range products {
		created = append(created, r.insert(product, now))
	}
	return created, nil
}

func (r *ProductRepository) insert(product types.Product, now time.Time) types.Product {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	r.s.products[product.ID] = product
	r.s.track(product.ID)
	return product
}

func (r *ProductRepository) Update(ctx context.Context, id uuid.UUID, changes types.ProductChanges) (types.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	product, ok := r.s.products[id]
	if !ok {
		return types.Product{}, store.ErrNotFound
	}
	if changes.Name != nil {
		product.Name = *changes.Name
	}
	if changes.Description != nil {
		product.Description = *changes.Description
	}
	if changes.Price != nil {
		product.Price = *changes.Price
	}
	if changes.Stock != nil {
		product.Stock = *changes.Stock
	}
	if changes.Category != nil {
		product.Category = *changes.Category
	}
	if changes.Image != nil {
		product.Image = *changes.Image
	}
	if changes.Featured != nil {
		product.Featured = *changes.Featured
	}
	product.UpdatedAt = r.s.now()
	r.s.products[id] = product
	return product, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.products, id)
	return nil
}

func (r *ProductRepository) Categories(ctx context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	seen := make(map[string]struct{})
	categories := make([]string, 0)
	for _, product := range r.s.products {
		if _, ok := seen[product.Category]; ok {
			continue
		}
		seen[product.Category] = struct{}{}
		categories = append(categories, product.Category)
	}
	sort.Strings(categories)
	return categories, nil
}
