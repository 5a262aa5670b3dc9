package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// BreakerSettings controls when repeated gateway failures trip the circuit
// and how long it stays open before probing again.
type BreakerSettings struct {
	MaxFailures uint32
	Timeout     time.Duration
}

// WithBreaker wraps a Gateway with a circuit breaker so a struggling
// processor fails fast instead of tying up request handlers. Callers treat
// gobreaker.ErrOpenState like any other transport failure.
func WithBreaker(gw Gateway, settings BreakerSettings) Gateway {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		// caller mistakes are not processor outages
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrIntentNotFound) ||
				errors.Is(err, ErrInvalidAmount)
		},
	})

	return &breakerGateway{gw: gw, cb: cb}
}

type breakerGateway struct {
	gw Gateway
	cb *gobreaker.CircuitBreaker
}

func (b *breakerGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	return execute(b.cb, func() (*Intent, error) {
		return b.gw.CreateIntent(ctx, req)
	})
}

func (b *breakerGateway) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	return execute(b.cb, func() (*Intent, error) {
		return b.gw.RetrieveIntent(ctx, id)
	})
}

func (b *breakerGateway) RefundIntent(ctx context.Context, id string, amount decimal.Decimal) (*Refund, error) {
	return execute(b.cb, func() (*Refund, error) {
		return b.gw.RefundIntent(ctx, id, amount)
	})
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return *new(T), err
	}
	return res.(T), nil
}
