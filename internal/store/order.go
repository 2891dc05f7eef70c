package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopfront/apiserver/types"
)

const orderColumns = `id, user_id, user_name, user_email, items, total, shipping_address, status, created_at, updated_at`

// OrderRepository handles persistence for the order ledger.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func scanOrder(row rowScanner) (types.Order, error) {
	var order types.Order
	var itemsJSON []byte
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.UserName,
		&order.UserEmail,
		&itemsJSON,
		&order.Total,
		&order.ShippingAddress,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return types.Order{}, err
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return types.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter types.OrderFilter) ([]types.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != uuid.Nil {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]types.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (types.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Order{}, ErrNotFound
		}
		return types.Order{}, err
	}
	return order, nil
}

// UpdateStatus moves an order from one status to another. The write only
// happens while the stored status still equals from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to types.OrderStatus) (types.Order, error) {
	const query = `
		UPDATE orders
		SET status = $1,
			updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING ` + orderColumns
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, to, time.Now(), id, from))
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.Order{}, err
	}

	if _, getErr := r.Get(ctx, id); getErr != nil {
		return types.Order{}, getErr
	}
	return types.Order{}, ErrStatusChanged
}

// Reserve runs fn inside a database transaction. The transaction commits when
// fn returns nil and rolls back on any other exit path.
func (r *OrderRepository) Reserve(ctx context.Context, fn func(Reservation) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&txReservation{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type txReservation struct {
	tx *sql.Tx
}

func (t *txReservation) Product(ctx context.Context, id uuid.UUID) (types.Product, error) {
	const query = `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`
	product, err := scanProduct(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Product{}, ErrNotFound
		}
		return types.Product{}, err
	}
	return product, nil
}

func (t *txReservation) DecrementStock(ctx context.Context, id uuid.UUID, quantity int) error {
	const query = `
		UPDATE products
		SET stock = stock - $1,
			updated_at = $2
		WHERE id = $3 AND stock >= $1`
	result, err := t.tx.ExecContext(ctx, query, quantity, time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (t *txReservation) CreateOrder(ctx context.Context, order types.Order) (types.Order, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return types.Order{}, err
	}

	const query = `
		INSERT INTO orders (id, user_id, user_name, user_email, items, total, shipping_address, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := t.tx.ExecContext(
		ctx,
		query,
		order.ID,
		order.UserID,
		order.UserName,
		order.UserEmail,
		itemsJSON,
		order.Total,
		order.ShippingAddress,
		order.Status,
		order.CreatedAt,
		order.UpdatedAt,
	); err != nil {
		return types.Order{}, err
	}
	return order, nil
}
