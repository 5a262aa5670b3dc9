package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
	ErrorClassUniqueViolation
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505":
			return ErrorClassUniqueViolation
		case "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

func IsUniqueViolation(err error) bool {
	return ClassifyError(err) == ErrorClassUniqueViolation
}

// Validation failures. Rejected before any side effect.
var (
	ErrEmptyCart       = errors.New("cart must contain at least one item")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// Missing entities.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrProductNotFound = errors.New("product not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
)

// Conflicts. The enclosing transaction rolls back in full.
var (
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrOrderNotPending         = errors.New("order is not pending")
	ErrOrderNotCancelled       = errors.New("order is not cancelled")
	ErrPaymentNotCompleted     = errors.New("payment is not completed")
	ErrNotOrderOwner           = errors.New("order belongs to a different user")
	ErrPaymentTxnMismatch      = errors.New("payment transaction id does not match")
)

// External service failures. Safe to retry; no side effects were applied.
var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrPaymentFailed      = errors.New("payment not succeeded at gateway")
)
