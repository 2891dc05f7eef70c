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

const userColumns = `id, name, email, role, phone, address, password_hash, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func userScanTargets(user *types.User, addressJSON *[]byte) []any {
	return []any{
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.Phone,
		addressJSON,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	}
}

func decodeAddress(user *types.User, addressJSON []byte) error {
	if len(addressJSON) == 0 || string(addressJSON) == "null" {
		user.Address = nil
		return nil
	}
	var address types.Address
	if err := json.Unmarshal(addressJSON, &address); err != nil {
		return fmt.Errorf("decode user address: %w", err)
	}
	user.Address = &address
	return nil
}

func encodeAddress(address *types.Address) ([]byte, error) {
	if address == nil {
		return nil, nil
	}
	return json.Marshal(address)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (types.User, error) {
	var user types.User
	var addressJSON []byte
	err := r.db.QueryRowContext(ctx, query, arg).Scan(userScanTargets(&user, &addressJSON)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	if err := decodeAddress(&user, addressJSON); err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	addressJSON, err := encodeAddress(user.Address)
	if err != nil {
		return types.User{}, err
	}

	const query = `
		INSERT INTO users (id, name, email, role, phone, address, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Name,
		user.Email,
		user.Role,
		user.Phone,
		addressJSON,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now()

	addressJSON, err := encodeAddress(user.Address)
	if err != nil {
		return types.User{}, err
	}

	const query = `
		UPDATE users
		SET name = $1,
			email = $2,
			role = $3,
			phone = $4,
			address = $5,
			password_hash = $6,
			updated_at = $7
		WHERE id = $8`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Name,
		user.Email,
		user.Role,
		user.Phone,
		addressJSON,
		user.PasswordHash,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM users WHERE id = $1`
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

// List returns one page of users matching the filter, each with its order
// aggregates, and the total number of matching users.
func (r *UserRepository) List(ctx context.Context, filter types.UserFilter) ([]types.UserSummary, int, error) {
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Limit < 1 {
		filter.Limit = 10
	}

	var (
		where []string
		args  []any
	)
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		where = append(where, fmt.Sprintf("(u.name ILIKE $%d OR u.email ILIKE $%d)", len(args), len(args)))
	}
	if filter.Role != "" {
		args = append(args, filter.Role)
		where = append(where, fmt.Sprintf("u.role = $%d", len(args)))
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = ` WHERE ` + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users u`+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Offset, filter.Limit)
	listQuery := `
		SELECT u.id, u.name, u.email, u.role, u.phone, u.address, u.password_hash, u.created_at, u.updated_at,
		       COUNT(o.id), COALESCE(SUM(o.total), 0)
		FROM users u
		LEFT JOIN orders o ON o.user_id = u.id` + whereClause + `
		GROUP BY u.id
		ORDER BY u.created_at DESC, u.id` +
		fmt.Sprintf(` OFFSET $%d LIMIT $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]types.UserSummary, 0, filter.Limit)
	for rows.Next() {
		var summary types.UserSummary
		var addressJSON []byte
		targets := append(userScanTargets(&summary.User, &addressJSON), &summary.OrderCount, &summary.TotalSpent)
		if err := rows.Scan(targets...); err != nil {
			return nil, 0, err
		}
		if err := decodeAddress(&summary.User, addressJSON); err != nil {
			return nil, 0, err
		}
		users = append(users, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Summary returns one user with its order count and total spent.
func (r *UserRepository) Summary(ctx context.Context, id uuid.UUID) (types.UserSummary, error) {
	const query = `
		SELECT u.id, u.name, u.email, u.role, u.phone, u.address, u.password_hash, u.created_at, u.updated_at,
		       COUNT(o.id), COALESCE(SUM(o.total), 0)
		FROM users u
		LEFT JOIN orders o ON o.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id`
	var summary types.UserSummary
	var addressJSON []byte
	targets := append(userScanTargets(&summary.User, &addressJSON), &summary.OrderCount, &summary.TotalSpent)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(targets...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.UserSummary{}, ErrNotFound
		}
		return types.UserSummary{}, err
	}
	if err := decodeAddress(&summary.User, addressJSON); err != nil {
		return types.UserSummary{}, err
	}
	return summary, nil
}

// Stats counts users overall, by role, and created at or after since.
func (r *UserRepository) Stats(ctx context.Context, since time.Time) (types.UserStats, error) {
	const query = `
		SELECT COUNT(1),
		       COUNT(1) FILTER (WHERE role = 'admin'),
		       COUNT(1) FILTER (WHERE created_at >= $1)
		FROM users`
	var stats types.UserStats
	if err := r.db.QueryRowContext(ctx, query, since).Scan(&stats.TotalUsers, &stats.AdminUsers, &stats.NewThisMonth); err != nil {
		return types.UserStats{}, err
	}
	stats.RegularUsers = stats.TotalUsers - stats.AdminUsers
	return stats, nil
}

func (r *UserRepository) CountByRole(ctx context.Context, role types.Role) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE role = $1`, role).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
