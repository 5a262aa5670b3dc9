package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/petshop/checkout/internal/database"
	"github.com/petshop/checkout/internal/models"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	UserID int64
	Items  []OrderItemRequest
}

type OrderItemRequest struct {
	ProductID int64
	Quantity  int
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d", time.Now().UnixNano())
}

// CreateOrder persists the full order graph and reserves stock in one
// all-or-nothing transaction. Prices are snapshotted into the order items at
// the moment of creation. Stock is claimed through the conditional decrement
// in ReserveStock, so a race against a concurrent buyer rolls the whole
// transaction back with ErrInsufficientStock: no order, no items, no stock
// change survives.
func CreateOrder(ctx context.Context, db *sql.DB, req CreateOrderRequest) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
			req.UserID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}
		if !exists {
			return database.ErrUserNotFound
		}

		totalAmount := decimal.Zero
		prices := make(map[int64]decimal.Decimal)
		reserve := make(map[int64]int)
		productOrder := make([]int64, 0, len(req.Items))

		for _, item := range req.Items {
			snap, err := GetProductSnapshot(ctx, tx, item.ProductID)
			if err != nil {
				return err
			}
			if !snap.IsActive {
				return database.ErrProductNotFound
			}

			prices[item.ProductID] = snap.Price
			totalAmount = totalAmount.Add(snap.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))

			if _, seen := reserve[item.ProductID]; !seen {
				productOrder = append(productOrder, item.ProductID)
			}
			reserve[item.ProductID] += item.Quantity
		}

		orderNumber := generateOrderNumber()
		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, total_amount, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, NOW(), NOW())
			 RETURNING id`,
			req.UserID, orderNumber, models.OrderStatusPending, totalAmount).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, item := range req.Items {
			unitPrice := prices[item.ProductID]
			subtotal := unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))

			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, NOW())`,
				orderID, item.ProductID, item.Quantity, unitPrice, subtotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		// one reservation per distinct product, aggregated quantity
		for _, productID := range productOrder {
			if err := ReserveStock(ctx, tx, productID, reserve[productID]); err != nil {
				return err
			}
		}

		order = &models.Order{ID: orderID}
		err = tx.QueryRowContext(ctx,
			`SELECT order_number, user_id, status, total_amount, created_at, updated_at
			 FROM orders WHERE id = $1`,
			orderID).Scan(
			&order.OrderNumber,
			&order.UserID,
			&order.Status,
			&order.TotalAmount,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, user_id, order_number, status, total_amount, created_at, updated_at
		FROM orders
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := getOrderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func getOrderItems(ctx context.Context, db *sql.DB, orderID int64) ([]models.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		FROM order_items
		WHERE order_id = $1`

	rows, err := db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// CancelOrder flips the order to cancelled and releases every item's reserved
// stock in one transaction, guarded on the current status still being pending
// or paid. The guard makes a second cancel fail cleanly instead of releasing
// stock twice. Returns whether the order had already been paid, so the caller
// can flag it for refund.
func CancelOrder(ctx context.Context, db *sql.DB, orderID, actorID int64) (wasPaid bool, err error) {
	err = database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var ownerID int64
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT user_id, status FROM orders WHERE id = $1 FOR UPDATE`,
			orderID).Scan(&ownerID, &status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if ownerID != actorID {
			return database.ErrNotOrderOwner
		}
		if !CanTransition(status, models.OrderStatusCancelled) {
			return database.ErrInvalidStatusTransition
		}
		wasPaid = status == models.OrderStatusPaid

		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
			models.OrderStatusCancelled, orderID)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT product_id, quantity FROM order_items WHERE order_id = $1`,
			orderID)
		if err != nil {
			return fmt.Errorf("get order items: %w", err)
		}
		defer rows.Close()

		type release struct {
			productID int64
			quantity  int
		}
		var releases []release
		for rows.Next() {
			var r release
			if err := rows.Scan(&r.productID, &r.quantity); err != nil {
				return fmt.Errorf("scan order item: %w", err)
			}
			releases = append(releases, r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		for _, r := range releases {
			if err := ReleaseStock(ctx, tx, r.productID, r.quantity); err != nil {
				return err
			}
		}

		return nil
	})

	return wasPaid, err
}

// AdvanceStatus applies an operator-driven forward transition (paid->shipped,
// shipped->delivered) under a row lock. Illegal targets fail without touching
// the row.
func AdvanceStatus(ctx context.Context, db *sql.DB, orderID int64, newStatus string) (*models.Order, error) {
	if !IsOperatorTarget(newStatus) {
		return nil, database.ErrInvalidStatusTransition
	}

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
			orderID).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if !CanTransition(status, newStatus) {
			return database.ErrInvalidStatusTransition
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
			newStatus, orderID)
		if err != nil {
			return fmt.Errorf("advance order status: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return GetOrder(ctx, db, orderID)
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT id, order_number, status, total_amount, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.Status,
			&order.TotalAmount,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
