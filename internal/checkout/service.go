// Package checkout orchestrates the order/payment lifecycle: order creation
// with stock reservation, the payment lifecycle against the gateway, and
// status transitions with compensating stock restoration. Gateway calls are
// always made outside any open database transaction.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/petshop/checkout/internal/database"
	"github.com/petshop/checkout/internal/gateway"
	"github.com/petshop/checkout/internal/metrics"
	"github.com/petshop/checkout/internal/models"
	"github.com/petshop/checkout/internal/store"
	"go.uber.org/zap"
)

type Service struct {
	db       *sql.DB
	gw       gateway.Gateway
	currency string
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewService(db *sql.DB, gw gateway.Gateway, currency string, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		db:       db,
		gw:       gw,
		currency: currency,
		logger:   logger,
		metrics:  m,
	}
}

// CreateOrder validates the cart and delegates to the all-or-nothing order
// creation transaction. Validation failures happen before any side effect.
func (s *Service) CreateOrder(ctx context.Context, ownerID int64, items []store.OrderItemRequest) (*models.Order, error) {
	defer s.metrics.ObserveOp("create_order", time.Now())

	if len(items) == 0 {
		return nil, database.ErrEmptyCart
	}
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, database.ErrInvalidQuantity
		}
	}

	order, err := store.CreateOrder(ctx, s.db, store.CreateOrderRequest{
		UserID: ownerID,
		Items:  items,
	})
	if err != nil {
		if errors.Is(err, database.ErrInsufficientStock) {
			s.metrics.StockConflicts.Inc()
			s.logger.Info("order rejected, insufficient stock",
				zap.Int64("user_id", ownerID))
		}
		return nil, err
	}

	s.metrics.OrdersCreated.Inc()
	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", ownerID),
		zap.String("total", order.TotalAmount.String()))

	return order, nil
}

// InitiatePayment creates a payment intent at the gateway for a pending
// order and persists the pending payment. A repeated call returns the
// existing payment instead of opening a second intent; a payment whose
// intent the gateway reports as failed is retired so a fresh intent can be
// opened. The gateway call runs outside any database transaction.
func (s *Service) InitiatePayment(ctx context.Context, orderID int64) (*models.Payment, error) {
	defer s.metrics.ObserveOp("initiate_payment", time.Now())

	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, database.ErrOrderNotPending
	}

	existing, err := store.GetActivePayment(ctx, s.db, orderID)
	if err != nil && !errors.Is(err, database.ErrPaymentNotFound) {
		return nil, err
	}
	if existing != nil {
		retired, err := s.retireIfFailed(ctx, existing)
		if err != nil {
			return nil, err
		}
		if !retired {
			s.logger.Info("payment already initiated, reusing intent",
				zap.Int64("order_id", orderID),
				zap.String("intent_id", existing.ExternalTxnID))
			return existing, nil
		}
	}

	intent, err := s.gw.CreateIntent(ctx, gateway.CreateIntentRequest{
		Amount:   order.TotalAmount,
		Currency: s.currency,
		Metadata: map[string]string{"order_id": fmt.Sprintf("%d", orderID)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", database.ErrGatewayUnavailable, err)
	}

	payment, err := store.CreatePayment(ctx, s.db, store.CreatePaymentRequest{
		OrderID:       orderID,
		Amount:        order.TotalAmount,
		Currency:      s.currency,
		ExternalTxnID: intent.ID,
		ClientSecret:  intent.ClientSecret,
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			// lost a race against a concurrent initiation; hand back the winner
			return store.GetActivePayment(ctx, s.db, orderID)
		}
		return nil, err
	}

	s.metrics.PaymentsInitiated.Inc()
	s.logger.Info("payment initiated",
		zap.Int64("order_id", orderID),
		zap.String("intent_id", intent.ID))

	return payment, nil
}

// retireIfFailed checks the existing payment's intent at the gateway and
// marks the payment failed when the processor reports a terminal decline.
// Returns whether the payment was retired.
func (s *Service) retireIfFailed(ctx context.Context, payment *models.Payment) (bool, error) {
	if payment.Status != models.PaymentStatusPending {
		return false, nil
	}

	intent, err := s.gw.RetrieveIntent(ctx, payment.ExternalTxnID)
	if err != nil {
		if errors.Is(err, gateway.ErrIntentNotFound) {
			return false, database.ErrPaymentNotFound
		}
		return false, fmt.Errorf("%w: %v", database.ErrGatewayUnavailable, err)
	}
	if intent.Status != gateway.IntentStatusFailed {
		return false, nil
	}

	if err := store.MarkPaymentFailed(ctx, s.db, payment.OrderID, payment.ExternalTxnID); err != nil {
		return false, err
	}

	s.logger.Info("retired declined payment",
		zap.Int64("order_id", payment.OrderID),
		zap.String("intent_id", payment.ExternalTxnID))

	return true, nil
}

// ConfirmPayment verifies the intent's state with the gateway and, when
// succeeded, atomically marks the order paid and the payment completed. A
// duplicate confirmation for the same transaction id is a success no-op. A
// non-succeeded intent fails with ErrPaymentFailed and changes nothing.
func (s *Service) ConfirmPayment(ctx context.Context, orderID int64, externalTxnID string) (*models.Order, error) {
	defer s.metrics.ObserveOp("confirm_payment", time.Now())

	intent, err := s.gw.RetrieveIntent(ctx, externalTxnID)
	if err != nil {
		if errors.Is(err, gateway.ErrIntentNotFound) {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("%w: %v", database.ErrGatewayUnavailable, err)
	}
	if intent.Status != gateway.IntentStatusSucceeded {
		s.logger.Info("payment confirmation rejected",
			zap.Int64("order_id", orderID),
			zap.String("intent_id", externalTxnID),
			zap.String("intent_status", intent.Status))
		return nil, database.ErrPaymentFailed
	}

	if err := store.CompletePayment(ctx, s.db, orderID, externalTxnID); err != nil {
		return nil, err
	}

	s.metrics.PaymentsConfirmed.Inc()
	s.logger.Info("payment confirmed",
		zap.Int64("order_id", orderID),
		zap.String("intent_id", externalTxnID))

	return store.GetOrder(ctx, s.db, orderID)
}

// CancelOrder cancels a pending or paid order owned by actorID, restoring
// every item's reserved stock in the same transaction. A paid order is left
// flagged for refund: its completed payment stays in place until an operator
// runs RefundPayment.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID int64) error {
	defer s.metrics.ObserveOp("cancel_order", time.Now())

	wasPaid, err := store.CancelOrder(ctx, s.db, orderID, actorID)
	if err != nil {
		return err
	}

	s.metrics.OrdersCancelled.Inc()
	s.logger.Info("order cancelled",
		zap.Int64("order_id", orderID),
		zap.Int64("actor_id", actorID),
		zap.Bool("refund_required", wasPaid))

	return nil
}

// RefundPayment refunds a cancelled order's completed payment through the
// gateway and marks it refunded. Calling it again after success is a no-op.
// The gateway call happens outside any transaction; if marking the row fails
// after the gateway accepted the refund, a retry converges via the gateway's
// own idempotency on the refund amount.
func (s *Service) RefundPayment(ctx context.Context, orderID, actorID int64) (*models.Payment, error) {
	defer s.metrics.ObserveOp("refund_payment", time.Now())

	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusCancelled {
		return nil, database.ErrOrderNotCancelled
	}

	payment, err := store.GetActivePayment(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case models.PaymentStatusRefunded:
		return payment, nil
	case models.PaymentStatusCompleted:
	default:
		return nil, database.ErrPaymentNotCompleted
	}

	if _, err := s.gw.RefundIntent(ctx, payment.ExternalTxnID, payment.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", database.ErrGatewayUnavailable, err)
	}

	if err := store.RefundPayment(ctx, s.db, orderID); err != nil {
		// a concurrent refund already marked the row
		if !errors.Is(err, database.ErrPaymentNotCompleted) {
			return nil, err
		}
	}

	s.metrics.PaymentsRefunded.Inc()
	s.logger.Info("payment refunded",
		zap.Int64("order_id", orderID),
		zap.Int64("actor_id", actorID),
		zap.String("intent_id", payment.ExternalTxnID))

	return store.GetActivePayment(ctx, s.db, orderID)
}

// AdvanceStatus applies an operator-driven forward transition.
func (s *Service) AdvanceStatus(ctx context.Context, orderID int64, newStatus string, actorID int64) (*models.Order, error) {
	defer s.metrics.ObserveOp("advance_status", time.Now())

	order, err := store.AdvanceStatus(ctx, s.db, orderID, newStatus)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status advanced",
		zap.Int64("order_id", orderID),
		zap.Int64("actor_id", actorID),
		zap.String("status", newStatus))

	return order, nil
}
