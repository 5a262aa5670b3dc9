package integration

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/petshop/checkout/internal/checkout"
	"github.com/petshop/checkout/internal/database"
	"github.com/petshop/checkout/internal/models"
	"github.com/petshop/checkout/internal/store"
	"github.com/shopspring/decimal"
)

func createPendingOrder(t *testing.T, db *sql.DB, svc *checkout.Service, email string, stock int) (*models.Order, *models.User, *models.Product) {
	t.Helper()

	ctx := context.Background()

	user, err := store.CreateUser(ctx, db, email, "Buyer")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	product, err := store.CreateProduct(ctx, db, "PAY-"+email, "Fish Tank", "Test", decimal.NewFromInt(25), stock)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	order, err := svc.CreateOrder(ctx, user.ID, []store.OrderItemRequest{
		{ProductID: product.ID, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	return order, user, product
}

func TestPaymentFlow(t *testing.T) {
	db, gw, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, _, _ := createPendingOrder(t, db, svc, "flow@example.com", 5)

	payment, err := svc.InitiatePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("Initiate payment: %v", err)
	}
	if payment.Status != models.PaymentStatusPending {
		t.Errorf("Expected payment pending, got %s", payment.Status)
	}
	if !payment.Amount.Equal(order.TotalAmount) {
		t.Errorf("Expected amount %s, got %s", order.TotalAmount, payment.Amount)
	}
	if payment.ClientSecret == "" {
		t.Error("Expected a client secret")
	}

	if err := gw.SucceedIntent(payment.ExternalTxnID); err != nil {
		t.Fatalf("Succeed intent: %v", err)
	}

	paid, err := svc.ConfirmPayment(ctx, order.ID, payment.ExternalTxnID)
	if err != nil {
		t.Fatalf("Confirm payment: %v", err)
	}
	if paid.Status != models.OrderStatusPaid {
		t.Errorf("Expected order paid, got %s", paid.Status)
	}

	stored, err := store.GetActivePayment(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get payment: %v", err)
	}
	if stored.Status != models.PaymentStatusCompleted {
		t.Errorf("Expected payment completed, got %s", stored.Status)
	}
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	db, gw, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, _, _ := createPendingOrder(t, db, svc, "idem@example.com", 5)

	payment, err := svc.InitiatePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("Initiate payment: %v", err)
	}
	if err := gw.SucceedIntent(payment.ExternalTxnID); err != nil {
		t.Fatalf("Succeed intent: %v", err)
	}

	if _, err := svc.ConfirmPayment(ctx, order.ID, payment.ExternalTxnID); err != nil {
		t.Fatalf("First confirm: %v", err)
	}

	// duplicate webhook delivery
	again, err := svc.ConfirmPayment(ctx, order.ID, payment.ExternalTxnID)
	if err != nil {
		t.Fatalf("Second confirm should be a no-op success, got: %v", err)
	}
	if again.Status != models.OrderStatusPaid {
		t.Errorf("Expected order paid, got %s", again.Status)
	}
}

func TestInitiatePaymentReusesActiveIntent(t *testing.T) {
	db, _, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, _, _ := createPendingOrder(t, db, svc, "reuse@example.com", 5)

	first, err := svc.InitiatePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("First initiate: %v", err)
	}

	second, err := svc.InitiatePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("Second initiate: %v", err)
	}
	if second.ExternalTxnID != first.ExternalTxnID {
		t.Errorf("Expected the same intent to be reused, got %s vs %s", second.ExternalTxnID, first.ExternalTxnID)
	}
	if second.ID != first.ID {
		t.Errorf("Expected the same payment row, got %d vs %d", second.ID, first.ID)
	}
}

func TestInitiatePaymentAfterFailureCreatesNewIntent(t *testing.T) {
	db, gw, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, _, _ := createPendingOrder(t, db, svc, "retry@example.com", 5)

	first, err := svc.InitiatePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("First initiate: %v", err)
	}
	if err := gw.FailIntent(first.ExternalTxnID); err != nil {
		t.Fatalf("Fail intent: %v", err)
	}

	second, err := svc.InitiatePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("Second initiate after decline: %v", err)
	}
	if second.ExternalTxnID == first.ExternalTxnID {
		t.Error("Expected a fresh intent after the first one was declined")
	}
}

func TestConfirmPaymentNotSucceeded(t *testing.T) {
	db, _, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, _, _ := createPendingOrder(t, db, svc, "declined@example.com", 5)

	payment, err := svc.InitiatePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("Initiate payment: %v", err)
	}

	// intent is still pending at the processor
	_, err = svc.ConfirmPayment(ctx, order.ID, payment.ExternalTxnID)
	if !errors.Is(err, database.ErrPaymentFailed) {
		t.Errorf("Expected payment failed error, got: %v", err)
	}

	orderAfter, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if orderAfter.Status != models.OrderStatusPending {
		t.Errorf("Order must remain pending, got %s", orderAfter.Status)
	}
}

func TestConfirmPaymentUnknownIntent(t *testing.T) {
	db, _, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, _, _ := createPendingOrder(t, db, svc, "unknown@example.com", 5)

	if _, err := svc.InitiatePayment(ctx, order.ID); err != nil {
		t.Fatalf("Initiate payment: %v", err)
	}

	_, err := svc.ConfirmPayment(ctx, order.ID, "pi_does_not_exist")
	if !errors.Is(err, database.ErrPaymentNotFound) {
		t.Errorf("Expected payment not found, got: %v", err)
	}
}

func TestInitiatePaymentGatewayDown(t *testing.T) {
	db, gw, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, _, _ := createPendingOrder(t, db, svc, "outage@example.com", 5)

	gw.SetError(errors.New("connection refused"))
	defer gw.SetError(nil)

	_, err := svc.InitiatePayment(ctx, order.ID)
	if !errors.Is(err, database.ErrGatewayUnavailable) {
		t.Errorf("Expected gateway unavailable, got: %v", err)
	}

	// no payment row may exist for the failed attempt
	_, err = store.GetActivePayment(ctx, db, order.ID)
	if !errors.Is(err, database.ErrPaymentNotFound) {
		t.Errorf("Expected no active payment, got: %v", err)
	}
}

func TestInitiatePaymentNonPendingOrder(t *testing.T) {
	db, _, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, user, _ := createPendingOrder(t, db, svc, "cancelled@example.com", 5)

	if err := svc.CancelOrder(ctx, order.ID, user.ID); err != nil {
		t.Fatalf("Cancel order: %v", err)
	}

	_, err := svc.InitiatePayment(ctx, order.ID)
	if !errors.Is(err, database.ErrOrderNotPending) {
		t.Errorf("Expected order not pending, got: %v", err)
	}
}

func TestCancelPaidOrderAndRefund(t *testing.T) {
	db, gw, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, user, product := createPendingOrder(t, db, svc, "refund@example.com", 3)

	payment, err := svc.InitiatePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("Initiate payment: %v", err)
	}
	if err := gw.SucceedIntent(payment.ExternalTxnID); err != nil {
		t.Fatalf("Succeed intent: %v", err)
	}
	if _, err := svc.ConfirmPayment(ctx, order.ID, payment.ExternalTxnID); err != nil {
		t.Fatalf("Confirm payment: %v", err)
	}

	if err := svc.CancelOrder(ctx, order.ID, user.ID); err != nil {
		t.Fatalf("Cancel paid order: %v", err)
	}

	productAfter, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if productAfter.StockQuantity != 3 {
		t.Errorf("Expected stock restored to 3, got %d", productAfter.StockQuantity)
	}

	refunded, err := svc.RefundPayment(ctx, order.ID, user.ID)
	if err != nil {
		t.Fatalf("Refund payment: %v", err)
	}
	if refunded.Status != models.PaymentStatusRefunded {
		t.Errorf("Expected payment refunded, got %s", refunded.Status)
	}

	// repeated refund is a no-op success
	again, err := svc.RefundPayment(ctx, order.ID, user.ID)
	if err != nil {
		t.Fatalf("Second refund should be idempotent, got: %v", err)
	}
	if again.Status != models.PaymentStatusRefunded {
		t.Errorf("Expected payment refunded, got %s", again.Status)
	}
}

func TestRefundRequiresCancelledOrder(t *testing.T) {
	db, gw, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, user, _ := createPendingOrder(t, db, svc, "norefund@example.com", 5)

	payment, err := svc.InitiatePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("Initiate payment: %v", err)
	}
	if err := gw.SucceedIntent(payment.ExternalTxnID); err != nil {
		t.Fatalf("Succeed intent: %v", err)
	}
	if _, err := svc.ConfirmPayment(ctx, order.ID, payment.ExternalTxnID); err != nil {
		t.Fatalf("Confirm payment: %v", err)
	}

	_, err = svc.RefundPayment(ctx, order.ID, user.ID)
	if !errors.Is(err, database.ErrOrderNotCancelled) {
		t.Errorf("Expected order not cancelled, got: %v", err)
	}
}

func TestConfirmAfterCancel(t *testing.T) {
	db, gw, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, user, _ := createPendingOrder(t, db, svc, "late@example.com", 5)

	payment, err := svc.InitiatePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("Initiate payment: %v", err)
	}

	if err := svc.CancelOrder(ctx, order.ID, user.ID); err != nil {
		t.Fatalf("Cancel order: %v", err)
	}

	if err := gw.SucceedIntent(payment.ExternalTxnID); err != nil {
		t.Fatalf("Succeed intent: %v", err)
	}

	// the late confirmation must not resurrect the order
	_, err = svc.ConfirmPayment(ctx, order.ID, payment.ExternalTxnID)
	if !errors.Is(err, database.ErrOrderNotPending) {
		t.Errorf("Expected order not pending, got: %v", err)
	}
}

func TestPaidOrderFulfilment(t *testing.T) {
	db, gw, svc, cleanup := setupCheckout(t)
	defer cleanup()

	ctx := context.Background()
	order, _, _ := createPendingOrder(t, db, svc, "fulfil@example.com", 5)

	payment, err := svc.InitiatePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("Initiate payment: %v", err)
	}
	if err := gw.SucceedIntent(payment.ExternalTxnID); err != nil {
		t.Fatalf("Succeed intent: %v", err)
	}
	if _, err := svc.ConfirmPayment(ctx, order.ID, payment.ExternalTxnID); err != nil {
		t.Fatalf("Confirm payment: %v", err)
	}

	shipped, err := svc.AdvanceStatus(ctx, order.ID, models.OrderStatusShipped, 1)
	if err != nil {
		t.Fatalf("Ship order: %v", err)
	}
	if shipped.Status != models.OrderStatusShipped {
		t.Errorf("Expected shipped, got %s", shipped.Status)
	}

	delivered, err := svc.AdvanceStatus(ctx, order.ID, models.OrderStatusDelivered, 1)
	if err != nil {
		t.Fatalf("Deliver order: %v", err)
	}
	if delivered.Status != models.OrderStatusDelivered {
		t.Errorf("Expected delivered, got %s", delivered.Status)
	}

	// delivered is terminal
	err = svc.CancelOrder(ctx, order.ID, delivered.UserID)
	if !errors.Is(err, database.ErrInvalidStatusTransition) {
		t.Errorf("Expected invalid transition on cancelling delivered order, got: %v", err)
	}
}
