package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopfront/apiserver/types"
)

const productColumns = `id, name, description, price, stock, category, image, featured, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// ProductRepository handles persistence for the catalog.
type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func scanProduct(row rowScanner) (types.Product, error) {
	var product types.Product
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Stock,
		&product.Category,
		&product.Image,
		&product.Featured,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	return product, err
}

func (r *ProductRepository) List(ctx context.Context, filter types.ProductFilter) ([]types.Product, error) {
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.FeaturedOnly {
		where = append(where, "featured = TRUE")
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]types.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *ProductRepository) Get(ctx context.Context, id uuid.UUID) (types.Product, error) {
	const query = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	product, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Product{}, ErrNotFound
		}
		return types.Product{}, err
	}
	return product, nil
}

func (r *ProductRepository) Create(ctx context.Context, product types.Product) (types.Product, error) {
	return insertProduct(ctx, r.db, product, time.Now())
}

// CreateBatch inserts every product in one transaction.
func (r *ProductRepository) CreateBatch(ctx context.Context, products []types.Product) ([]types.Product, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	created := make([]types.Product, 0, len(products))
	for _, product := range products {
		inserted, err := insertProduct(ctx, tx, product, now)
		if err != nil {
			return nil, err
		}
		created = append(created, inserted)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertProduct(ctx context.Context, q execQuerier, product types.Product, now time.Time) (types.Product, error) {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	product.CreatedAt = now
	product.UpdatedAt = now

	const query = `
		INSERT INTO products (id, name, description, price, stock, category, image, featured, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := q.ExecContext(
		ctx,
		query,
		product.ID,
		product.Name,
		product.Description,
		product.Price,
		product.Stock,
		product.Category,
		product.Image,
		product.Featured,
		product.CreatedAt,
		product.UpdatedAt,
	); err != nil {
		return types.Product{}, err
	}
	return product, nil
}

// Update overwrites only the columns set in changes, in a single statement.
func (r *ProductRepository) Update(ctx context.Context, id uuid.UUID, changes types.ProductChanges) (types.Product, error) {
	const query = `
		UPDATE products
		SET name = COALESCE($1::text, name),
			description = COALESCE($2::text, description),
			price = COALESCE($3::numeric, price),
			stock = COALESCE($4::integer, stock),
			category = COALESCE($5::text, category),
			image = COALESCE($6::text, image),
			featured = COALESCE($7::boolean, featured),
			updated_at = $8
		WHERE id = $9
		RETURNING ` + productColumns
	product, err := scanProduct(r.db.QueryRowContext(
		ctx,
		query,
		changes.Name,
		changes.Description,
		changes.Price,
		changes.Stock,
		changes.Category,
		changes.Image,
		changes.Featured,
		time.Now(),
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Product{}, ErrNotFound
		}
		return types.Product{}, err
	}
	return product, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM products WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Categories returns the distinct product categories in alphabetical order.
func (r *ProductRepository) Categories(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT category FROM products ORDER BY category`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]string, 0)
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}
