package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopfront/apiserver/internal/services"
	"github.com/shopfront/apiserver/internal/store"
	"github.com/shopfront/apiserver/types"
)

const (
	categoriesKey     = "products:categories"
	listGenerationKey = "products:list:generation"
)

func productKey(id uuid.UUID) string {
	return "products:" + id.String()
}

// CacheAsideProductRepo serves catalog reads from the cache and falls back
// to the wrapped repository on a miss. Writes go to the repository first and
// then drop the affected entries. Cache failures are logged and never fail
// the call.
type CacheAsideProductRepo struct {
	services.ProductRepository
	cache Cache
	ttl   time.Duration
}

func NewCacheAsideProductRepo(repo services.ProductRepository, cache Cache, ttl time.Duration) *CacheAsideProductRepo {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CacheAsideProductRepo{ProductRepository: repo, cache: cache, ttl: ttl}
}

func (p *CacheAsideProductRepo) Get(ctx context.Context, id uuid.UUID) (types.Product, error) {
	var product types.Product
	if p.lookup(ctx, productKey(id), &product) {
		return product, nil
	}

	product, err := p.ProductRepository.Get(ctx, id)
	if err != nil {
		return types.Product{}, err
	}
	p.put(ctx, productKey(id), product)
	return product, nil
}

func (p *CacheAsideProductRepo) List(ctx context.Context, filter types.ProductFilter) ([]types.Product, error) {
	key, ok := p.listKey(ctx, filter)
	if ok {
		var products []types.Product
		if p.lookup(ctx, key, &products) {
			return products, nil
		}
	}

	products, err := p.ProductRepository.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if ok {
		p.put(ctx, key, products)
	}
	return products, nil
}

func (p *CacheAsideProductRepo) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	if p.lookup(ctx, categoriesKey, &categories) {
		return categories, nil
	}

	categories, err := p.ProductRepository.Categories(ctx)
	if err != nil {
		return nil, err
	}
	p.put(ctx, categoriesKey, categories)
	return categories, nil
}

func (p *CacheAsideProductRepo) Create(ctx context.Context, product types.Product) (types.Product, error) {
	created, err := p.ProductRepository.Create(ctx, product)
	if err != nil {
		return types.Product{}, err
	}
	p.Invalidate(ctx)
	return created, nil
}

func (p *CacheAsideProductRepo) CreateBatch(ctx context.Context, products []types.Product) ([]types.Product, error) {
	created, err := p.ProductRepository.CreateBatch(ctx, products)
	if err != nil {
		return nil, err
	}
	p.Invalidate(ctx)
	return created, nil
}

func (p *CacheAsideProductRepo) Update(ctx context.Context, id uuid.UUID, changes types.ProductChanges) (types.Product, error) {
	updated, err := p.ProductRepository.Update(ctx, id, changes)
	if err != nil {
		return types.Product{}, err
	}
	p.Invalidate(ctx, id)
	return updated, nil
}

func (p *CacheAsideProductRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := p.ProductRepository.Delete(ctx, id); err != nil {
		return err
	}
	p.Invalidate(ctx, id)
	return nil
}

// Invalidate drops the cached products with the given ids, the category
// listing and every cached product listing.
func (p *CacheAsideProductRepo) Invalidate(ctx context.Context, ids ...uuid.UUID) {
	keys := []string{categoriesKey}
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	if err := p.cache.Delete(ctx, keys...); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("invalidate product cache")
	}
	if _, err := p.cache.Incr(ctx, listGenerationKey); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("bump product list generation")
	}
}

// listKey derives the cache key of a listing. Listings are keyed by the
// current generation, so bumping it retires all of them at once.
func (p *CacheAsideProductRepo) listKey(ctx context.Context, filter types.ProductFilter) (string, bool) {
	generation := "0"
	raw, err := p.cache.Get(ctx, listGenerationKey)
	switch {
	case err == nil:
		if _, convErr := strconv.ParseInt(string(raw), 10, 64); convErr != nil {
			return "", false
		}
		generation = string(raw)
	case errors.Is(err, ErrMiss):
	default:
		zerolog.Ctx(ctx).Warn().Err(err).Msg("read product list generation")
		return "", false
	}
	return fmt.Sprintf("products:list:%s:%q:%t:%d", generation, filter.Category, filter.FeaturedOnly, filter.Limit), true
}

func (p *CacheAsideProductRepo) lookup(ctx context.Context, key string, dst any) bool {
	raw, err := p.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("read product cache")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("decode product cache entry")
		return false
	}
	return true
}

func (p *CacheAsideProductRepo) put(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, key, raw, p.ttl); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("write product cache")
	}
}

// CacheAsideOrderRepo drops cached products whose stock a placement changed,
// once the placement has committed.
type CacheAsideOrderRepo struct {
	services.OrderRepository
	products *CacheAsideProductRepo
}

func NewCacheAsideOrderRepo(repo services.OrderRepository, products *CacheAsideProductRepo) *CacheAsideOrderRepo {
	return &CacheAsideOrderRepo{OrderRepository: repo, products: products}
}

func (o *CacheAsideOrderRepo) Reserve(ctx context.Context, fn func(store.Reservation) error) error {
	tracked := &trackingReservation{}
	err := o.OrderRepository.Reserve(ctx, func(res store.Reservation) error {
		tracked.Reservation = res
		return fn(tracked)
	})
	if err != nil {
		return err
	}
	o.products.Invalidate(ctx, tracked.touched()...)
	return nil
}

type trackingReservation struct {
	store.Reservation

	mu  sync.Mutex
	ids []uuid.UUID
}

func (t *trackingReservation) DecrementStock(ctx context.Context, id uuid.UUID, quantity int) error {
	if err := t.Reservation.DecrementStock(ctx, id, quantity); err != nil {
		return err
	}
	t.mu.Lock()
	t.ids = append(t.ids, id)
	t.mu.Unlock()
	return nil
}

func (t *trackingReservation) touched() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uuid.UUID(nil), t.ids...)
}

var (
	_ services.ProductRepository = (*CacheAsideProductRepo)(nil)
	_ services.OrderRepository   = (*CacheAsideOrderRepo)(nil)
)
