package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopfront/apiserver/internal/auth"
	"github.com/shopfront/apiserver/internal/store"
	"github.com/shopfront/apiserver/types"
	"github.com/shopspring/decimal"
)

// ProductRepository defines persistence operations for the catalog.
type ProductRepository interface {
	List(ctx context.Context, filter types.ProductFilter) ([]types.Product, error)
	Get(ctx context.Context, id uuid.UUID) (types.Product, error)
	Create(ctx context.Context, product types.Product) (types.Product, error)
	CreateBatch(ctx context.Context, products []types.Product) ([]types.Product, error)
	Update(ctx context.Context, id uuid.UUID, changes types.ProductChanges) (types.Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Categories(ctx context.Context) ([]string, error)
}

// ObjectStore keeps product image bytes.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

const (
	// maxStock is the largest stock count the products table can hold.
	maxStock = math.MaxInt32
	// priceScale is the number of decimal places a price may carry.
	priceScale = 2
)

var maxPrice = decimal.New(1, 10)

// ProductInput describes a product to create. Price and Stock are pointers so
// a missing value can be told apart from zero.
type ProductInput struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *decimal.Decimal `json:"stock"`
	Category    string           `json:"category"`
	Image       string           `json:"image"`
	Featured    bool             `json:"featured"`
}

// ProductPatch lists the fields of a product to change. Nil fields are kept.
type ProductPatch struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
	Category    *string          `json:"category"`
	Image       *string          `json:"image"`
	Featured    *bool            `json:"featured"`
}

// ImageUpload is an image file sent by an administrator.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ProductImage is where a product image can be read from. External images
// only carry a URL; stored images carry an open Body the caller must close.
type ProductImage struct {
	URL         string
	Key         string
	ContentType string
	Body        io.ReadCloser
}

// ProductService encapsulates catalog use-cases.
type ProductService struct {
	repo    ProductRepository
	objects ObjectStore
}

// NewProductService constructs a ProductService. objects may be nil, in which
// case image uploads are rejected.
func NewProductService(repo ProductRepository, objects ObjectStore) *ProductService {
	return &ProductService{repo: repo, objects: objects}
}

func (s *ProductService) List(ctx context.Context, filter types.ProductFilter) ([]types.Product, error) {
	if filter.Category == "all" {
		filter.Category = ""
	}
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	return s.repo.List(ctx, filter)
}

func (s *ProductService) Get(ctx context.Context, id uuid.UUID) (types.Product, error) {
	product, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Product{}, notFoundError("product not found")
		}
		return types.Product{}, err
	}
	return product, nil
}

func (s *ProductService) Categories(ctx context.Context) ([]string, error) {
	return s.repo.Categories(ctx)
}

func (s *ProductService) Create(ctx context.Context, identity auth.Identity, input ProductInput) (types.Product, error) {
	if err := requireAdmin(identity); err != nil {
		return types.Product{}, err
	}
	product, problems := input.toProduct()
	if len(problems) > 0 {
		return types.Product{}, validationError("%s", strings.Join(problems, "; "))
	}
	return s.repo.Create(ctx, product)
}

// BulkCreate validates every row and inserts all of them together. When any
// row is invalid nothing is inserted and the error lists each failing row.
func (s *ProductService) BulkCreate(ctx context.Context, identity auth.Identity, rows []ProductInput) ([]types.Product, error) {
	if err := requireAdmin(identity); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, validationError("products array is required")
	}

	products := make([]types.Product, 0, len(rows))
	var rowErrors []RowError
	for i, row := range rows {
		product, problems := row.toProduct()
		if len(problems) > 0 {
			// Row 1 is the spreadsheet header.
			rowErrors = append(rowErrors, RowError{Row: i + 2, Errors: problems})
			continue
		}
		products = append(products, product)
	}
	if len(rowErrors) > 0 {
		err := validationError("validation errors in %d of %d rows", len(rowErrors), len(rows))
		err.Details = rowErrors
		return nil, err
	}

	return s.repo.CreateBatch(ctx, products)
}

func (s *ProductService) Update(ctx context.Context, identity auth.Identity, id uuid.UUID, patch ProductPatch) (types.Product, error) {
	if err := requireAdmin(identity); err != nil {
		return types.Product{}, err
	}

	var changes types.ProductChanges
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return types.Product{}, validationError("name is required")
		}
		changes.Name = &name
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		changes.Description = &description
	}
	if patch.Price != nil {
		if problem := checkPrice(*patch.Price); problem != "" {
			return types.Product{}, validationError("%s", problem)
		}
		changes.Price = patch.Price
	}
	if patch.Stock != nil {
		if *patch.Stock < 0 || *patch.Stock > maxStock {
			return types.Product{}, validationError("stock must be a non-negative integer no greater than %d", maxStock)
		}
		changes.Stock = patch.Stock
	}
	if patch.Category != nil {
		category := strings.TrimSpace(*patch.Category)
		if category == "" {
			category = types.DefaultCategory
		}
		changes.Category = &category
	}
	if patch.Image != nil {
		image := strings.TrimSpace(*patch.Image)
		changes.Image = &image
	}
	changes.Featured = patch.Featured

	updated, err := s.repo.Update(ctx, id, changes)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Product{}, notFoundError("product not found")
		}
		return types.Product{}, err
	}
	return updated, nil
}

// Delete removes the product and then its stored image, if any.
func (s *ProductService) Delete(ctx context.Context, identity auth.Identity, id uuid.UUID) error {
	if err := requireAdmin(identity); err != nil {
		return err
	}
	product, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("product not found")
		}
		return err
	}
	s.removeImage(ctx, product.Image)
	return nil
}

// UploadImage stores the image under a content-addressed key, points the
// product at it and removes the image it replaced.
func (s *ProductService) UploadImage(ctx context.Context, identity auth.Identity, id uuid.UUID, upload ImageUpload) (types.Product, error) {
	if err := requireAdmin(identity); err != nil {
		return types.Product{}, err
	}
	if s.objects == nil {
		return types.Product{}, errors.New("object storage is not configured")
	}
	if len(upload.Data) == 0 {
		return types.Product{}, validationError("image file is required")
	}
	if !strings.HasPrefix(upload.ContentType, "image/") {
		return types.Product{}, validationError("unsupported image type %q", upload.ContentType)
	}

	previous, err := s.Get(ctx, id)
	if err != nil {
		return types.Product{}, err
	}

	hash := sha256.Sum256(upload.Data)
	key := fmt.Sprintf("products/%s/%s%s", id, hex.EncodeToString(hash[:]), strings.ToLower(path.Ext(upload.Filename)))
	if err := s.objects.Put(ctx, key, bytes.NewReader(upload.Data), int64(len(upload.Data)), upload.ContentType); err != nil {
		return types.Product{}, fmt.Errorf("store product image: %w", err)
	}

	updated, err := s.repo.Update(ctx, id, types.ProductChanges{Image: &key})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.removeImage(ctx, key)
			return types.Product{}, notFoundError("product not found")
		}
		return types.Product{}, err
	}
	if previous.Image != key {
		s.removeImage(ctx, previous.Image)
	}
	return updated, nil
}

// removeImage deletes a stored image object. External URLs and objects that
// are already gone are ignored; other failures are logged.
func (s *ProductService) removeImage(ctx context.Context, image string) {
	if image == "" || isExternalImage(image) || s.objects == nil {
		return
	}
	if err := s.objects.Delete(ctx, image); err != nil && !errors.Is(err, store.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", image).Msg("delete product image")
	}
}

// Image resolves a product's image.
func (s *ProductService) Image(ctx context.Context, id uuid.UUID) (ProductImage, error) {
	product, err := s.Get(ctx, id)
	if err != nil {
		return ProductImage{}, err
	}
	if product.Image == "" {
		return ProductImage{}, notFoundError("product has no image")
	}
	if isExternalImage(product.Image) {
		return ProductImage{URL: product.Image}, nil
	}
	if s.objects == nil {
		return ProductImage{}, notFoundError("product image not available")
	}

	body, err := s.objects.Get(ctx, product.Image)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ProductImage{}, notFoundError("product image not found")
		}
		return ProductImage{}, fmt.Errorf("open product image: %w", err)
	}
	return ProductImage{
		Key:         product.Image,
		ContentType: mime.TypeByExtension(path.Ext(product.Image)),
		Body:        body,
	}, nil
}

func isExternalImage(image string) bool {
	return strings.HasPrefix(image, "http://") ||
		strings.HasPrefix(image, "https://") ||
		strings.HasPrefix(image, "/")
}

func (in ProductInput) toProduct() (types.Product, []string) {
	var problems []string

	name := strings.TrimSpace(in.Name)
	if name == "" {
		problems = append(problems, "Name is required")
	}

	if in.Price == nil {
		problems = append(problems, "Price is required")
	} else if problem := checkPrice(*in.Price); problem != "" {
		problems = append(problems, problem)
	}

	if in.Stock == nil {
		problems = append(problems, "Stock is required")
	} else if in.Stock.IsNegative() || !in.Stock.IsInteger() {
		problems = append(problems, "Stock must be a non-negative integer")
	} else if in.Stock.GreaterThan(decimal.NewFromInt(maxStock)) {
		problems = append(problems, fmt.Sprintf("Stock must be no greater than %d", maxStock))
	}

	if len(problems) > 0 {
		return types.Product{}, problems
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = types.DefaultCategory
	}
	return types.Product{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Price:       *in.Price,
		Stock:       int(in.Stock.IntPart()),
		Category:    category,
		Image:       strings.TrimSpace(in.Image),
		Featured:    in.Featured,
	}, nil
}

// checkPrice returns a description of what is wrong with price, or "" when
// it fits the products table.
func checkPrice(price decimal.Decimal) string {
	switch {
	case price.IsNegative():
		return "Price must be a positive number"
	case !price.Equal(price.Truncate(priceScale)):
		return fmt.Sprintf("Price must have at most %d decimal places", priceScale)
	case price.GreaterThanOrEqual(maxPrice):
		return "Price is too large"
	}
	return ""
}
