package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/petshop/checkout/internal/database"
	"github.com/petshop/checkout/internal/models"
	"github.com/shopspring/decimal"
)

type CreatePaymentRequest struct {
	OrderID       int64
	Amount        decimal.Decimal
	Currency      string
	ExternalTxnID string
	ClientSecret  string
}

// CreatePayment inserts a pending payment row. A partial unique index on
// payments(order_id) WHERE status <> 'failed' enforces at most one active
// payment per order; a concurrent duplicate initiation surfaces as a unique
// violation, which the caller resolves by returning the existing payment.
func CreatePayment(ctx context.Context, db *sql.DB, req CreatePaymentRequest) (*models.Payment, error) {
	payment := &models.Payment{}

	query := `
		INSERT INTO payments (order_id, amount, currency, external_txn_id, client_secret, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, order_id, amount, currency, external_txn_id, client_secret, status, created_at, updated_at`

	err := db.QueryRowContext(ctx, query,
		req.OrderID, req.Amount, req.Currency, req.ExternalTxnID, req.ClientSecret,
		models.PaymentStatusPending,
	).Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.Amount,
		&payment.Currency,
		&payment.ExternalTxnID,
		&payment.ClientSecret,
		&payment.Status,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	return payment, nil
}

// GetActivePayment returns the order's non-failed payment, or
// ErrPaymentNotFound when none exists.
func GetActivePayment(ctx context.Context, db *sql.DB, orderID int64) (*models.Payment, error) {
	payment := &models.Payment{}

	query := `
		SELECT id, order_id, amount, currency, external_txn_id, client_secret, status, created_at, updated_at
		FROM payments
		WHERE order_id = $1
		  AND status <> $2`

	err := db.QueryRowContext(ctx, query, orderID, models.PaymentStatusFailed).Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.Amount,
		&payment.Currency,
		&payment.ExternalTxnID,
		&payment.ClientSecret,
		&payment.Status,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get active payment: %w", err)
	}

	return payment, nil
}

// MarkPaymentFailed records a gateway-declined intent. The row drops out of
// the active-payment unique index so a fresh initiation can follow.
func MarkPaymentFailed(ctx context.Context, db *sql.DB, orderID int64, externalTxnID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE payments
		 SET status = $1, updated_at = NOW()
		 WHERE order_id = $2
		   AND external_txn_id = $3
		   AND status = $4`,
		models.PaymentStatusFailed, orderID, externalTxnID, models.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}

	return nil
}

// CompletePayment atomically flips the order to paid and its payment to
// completed, guarded on both still being pending. When a prior call already
// applied this exact transition the second call is a no-op success, so
// duplicate gateway callbacks never double-apply. Any other state is a
// conflict and nothing changes.
func CompletePayment(ctx context.Context, db *sql.DB, orderID int64, externalTxnID string) error {
	return database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		orderRes, err := tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $1, updated_at = NOW()
			 WHERE id = $2
			   AND status = $3`,
			models.OrderStatusPaid, orderID, models.OrderStatusPending)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		orderRows, err := orderRes.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		paymentRes, err := tx.ExecContext(ctx,
			`UPDATE payments
			 SET status = $1, updated_at = NOW()
			 WHERE order_id = $2
			   AND external_txn_id = $3
			   AND status = $4`,
			models.PaymentStatusCompleted, orderID, externalTxnID, models.PaymentStatusPending)
		if err != nil {
			return fmt.Errorf("mark payment completed: %w", err)
		}
		paymentRows, err := paymentRes.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		if orderRows == 1 && paymentRows == 1 {
			return nil
		}

		// Guard failed on at least one row. Either a prior confirmation
		// already applied the transition (idempotent success) or the order
		// has moved somewhere confirmation can't follow.
		var orderStatus string
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1`, orderID).Scan(&orderStatus)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("get order status: %w", err)
		}

		var paymentStatus string
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM payments WHERE order_id = $1 AND external_txn_id = $2`,
			orderID, externalTxnID).Scan(&paymentStatus)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrPaymentNotFound
			}
			return fmt.Errorf("get payment status: %w", err)
		}

		if orderStatus == models.OrderStatusPaid && paymentStatus == models.PaymentStatusCompleted {
			return nil
		}
		if orderStatus != models.OrderStatusPending {
			return database.ErrOrderNotPending
		}

		return database.ErrPaymentTxnMismatch
	})
}

// RefundPayment marks a completed payment refunded, guarded on the order
// being cancelled. The gateway refund call happens before this, outside any
// transaction.
func RefundPayment(ctx context.Context, db *sql.DB, orderID int64) error {
	return database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var orderStatus string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&orderStatus)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		if orderStatus != models.OrderStatusCancelled {
			return database.ErrOrderNotCancelled
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE payments
			 SET status = $1, updated_at = NOW()
			 WHERE order_id = $2
			   AND status = $3`,
			models.PaymentStatusRefunded, orderID, models.PaymentStatusCompleted)
		if err != nil {
			return fmt.Errorf("mark payment refunded: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrPaymentNotCompleted
		}

		return nil
	})
}
