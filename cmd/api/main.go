package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/petshop/checkout/internal/checkout"
	"github.com/petshop/checkout/internal/config"
	"github.com/petshop/checkout/internal/database"
	"github.com/petshop/checkout/internal/gateway"
	"github.com/petshop/checkout/internal/metrics"
	"github.com/petshop/checkout/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database")

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// The in-memory gateway stands in for the real processor; swap in a
	// concrete adapter here when one exists. Auto-succeed keeps the local
	// confirm flow usable without a processor-side checkout page.
	gw := gateway.WithBreaker(
		gateway.NewMemory(gateway.WithAutoSucceed()),
		gateway.BreakerSettings{
			MaxFailures: cfg.Gateway.BreakerMaxFailures,
			Timeout:     cfg.Gateway.BreakerTimeout,
		},
	)

	svc := checkout.NewService(db, gw, cfg.Gateway.Currency, logger, m)

	mux := http.NewServeMux()

	mux.HandleFunc("/users", handleUsers(db))
	mux.HandleFunc("/users/", handleUserByID(db))
	mux.HandleFunc("/products", handleProducts(db))
	mux.HandleFunc("/products/", handleProductByID(db))
	mux.HandleFunc("/orders", handleOrders(db, svc))
	mux.HandleFunc("/orders/", handleOrderSubroutes(db, svc))
	mux.Handle("/metrics", metrics.Handler(registry))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func handleUsers(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		user, err := store.CreateUser(r.Context(), db, req.Email, req.Name)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, user)
	}
}

func handleUserByID(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/users/"), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid user ID")
			return
		}

		user, err := store.GetUser(r.Context(), db, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, user)
	}
}

func handleProducts(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		switch r.Method {
		case http.MethodPost:
			var req struct {
				SKU         string  `json:"sku"`
				Name        string  `json:"name"`
				Description string  `json:"description"`
				Price       float64 `json:"price"`
				Stock       int     `json:"stock"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			price := decimal.NewFromFloat(req.Price)
			product, err := store.CreateProduct(ctx, db, req.SKU, req.Name, req.Description, price, req.Stock)
			if err != nil {
				respondStoreError(w, err)
				return
			}

			respondJSON(w, http.StatusCreated, product)

		case http.MethodGet:
			page, pageSize := paginationParams(r)
			result, err := store.ListProducts(ctx, db, page, pageSize)
			if err != nil {
				respondStoreError(w, err)
				return
			}

			respondJSON(w, http.StatusOK, result)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleProductByID(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/products/"), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid product ID")
			return
		}

		product, err := store.GetProduct(r.Context(), db, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, product)
	}
}

func handleOrders(db *sql.DB, svc *checkout.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		switch r.Method {
		case http.MethodPost:
			var req struct {
				UserID int64 `json:"user_id"`
				Items  []struct {
					ProductID int64 `json:"product_id"`
					Quantity  int   `json:"quantity"`
				} `json:"items"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			var items []store.OrderItemRequest
			for _, item := range req.Items {
				items = append(items, store.OrderItemRequest{
					ProductID: item.ProductID,
					Quantity:  item.Quantity,
				})
			}

			order, err := svc.CreateOrder(ctx, req.UserID, items)
			if err != nil {
				respondStoreError(w, err)
				return
			}

			respondJSON(w, http.StatusCreated, order)

		case http.MethodGet:
			userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
			if err != nil {
				respondError(w, http.StatusBadRequest, "Invalid user_id")
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			if limit < 1 || limit > 100 {
				limit = 20
			}

			result, err := store.ListOrdersCursor(ctx, db, userID, r.URL.Query().Get("cursor"), limit)
			if err != nil {
				respondStoreError(w, err)
				return
			}

			respondJSON(w, http.StatusOK, result)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleOrderSubroutes(db *sql.DB, svc *checkout.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		idStr, action, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/orders/"), "/")
		orderID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid order ID")
			return
		}

		if action == "" {
			order, err := store.GetOrder(ctx, db, orderID)
			if err != nil {
				respondStoreError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, order)
			return
		}

		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		switch action {
		case "payment":
			payment, err := svc.InitiatePayment(ctx, orderID)
			if err != nil {
				respondStoreError(w, err)
				return
			}
			respondJSON(w, http.StatusCreated, map[string]string{
				"client_secret":           payment.ClientSecret,
				"external_transaction_id": payment.ExternalTxnID,
			})

		case "payment/confirm":
			var req struct {
				ExternalTransactionID string `json:"external_transaction_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			order, err := svc.ConfirmPayment(ctx, orderID, req.ExternalTransactionID)
			if err != nil {
				respondStoreError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, order)

		case "cancel":
			var req struct {
				ActorID int64 `json:"actor_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			if err := svc.CancelOrder(ctx, orderID, req.ActorID); err != nil {
				respondStoreError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		case "refund":
			var req struct {
				ActorID int64 `json:"actor_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			payment, err := svc.RefundPayment(ctx, orderID, req.ActorID)
			if err != nil {
				respondStoreError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, payment)

		case "status":
			var req struct {
				Status  string `json:"status"`
				ActorID int64  `json:"actor_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			order, err := svc.AdvanceStatus(ctx, orderID, req.Status, req.ActorID)
			if err != nil {
				respondStoreError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, order)

		default:
			respondError(w, http.StatusNotFound, "Not found")
		}
	}
}

func paginationParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// respondStoreError maps the error taxonomy onto HTTP status codes without
// leaking internal detail for unexpected failures.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrEmptyCart),
		errors.Is(err, database.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrPaymentNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrInvalidStatusTransition),
		errors.Is(err, database.ErrOrderNotPending),
		errors.Is(err, database.ErrOrderNotCancelled),
		errors.Is(err, database.ErrPaymentNotCompleted),
		errors.Is(err, database.ErrPaymentTxnMismatch),
		errors.Is(err, database.ErrPaymentFailed):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrNotOrderOwner):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, database.ErrGatewayUnavailable):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
