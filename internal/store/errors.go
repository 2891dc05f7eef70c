package store

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("duplicate record")
	// ErrInsufficientStock is returned when a conditional stock decrement finds
	// fewer units than requested.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStatusChanged is returned when an order's status no longer matches the
	// status a conditional update expected.
	ErrStatusChanged = errors.New("order status changed concurrently")
)

const uniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
