package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateIntent(t *testing.T) {
	gw := NewMemory()

	intent, err := gw.CreateIntent(context.Background(), CreateIntentRequest{
		Amount:   decimal.NewFromInt(42),
		Currency: "USD",
		Metadata: map[string]string{"order_id": "7"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, intent.ID)
	assert.NotEmpty(t, intent.ClientSecret)
	assert.Equal(t, IntentStatusPending, intent.Status)
	assert.True(t, intent.Amount.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, "USD", intent.Currency)
	assert.Equal(t, "7", intent.Metadata["order_id"])
}

func TestMemoryCreateIntentInvalidAmount(t *testing.T) {
	gw := NewMemory()

	_, err := gw.CreateIntent(context.Background(), CreateIntentRequest{
		Amount:   decimal.Zero,
		Currency: "USD",
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMemoryAutoSucceed(t *testing.T) {
	gw := NewMemory(WithAutoSucceed())

	intent, err := gw.CreateIntent(context.Background(), CreateIntentRequest{
		Amount:   decimal.NewFromInt(10),
		Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, IntentStatusSucceeded, intent.Status)
}

func TestMemoryRetrieveIntent(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	created, err := gw.CreateIntent(ctx, CreateIntentRequest{
		Amount:   decimal.NewFromInt(5),
		Currency: "EUR",
	})
	require.NoError(t, err)

	fetched, err := gw.RetrieveIntent(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)

	_, err = gw.RetrieveIntent(ctx, "pi_missing")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestMemoryIntentTransitions(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	intent, err := gw.CreateIntent(ctx, CreateIntentRequest{
		Amount:   decimal.NewFromInt(5),
		Currency: "USD",
	})
	require.NoError(t, err)

	require.NoError(t, gw.SucceedIntent(intent.ID))
	fetched, err := gw.RetrieveIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, IntentStatusSucceeded, fetched.Status)

	assert.ErrorIs(t, gw.FailIntent("pi_missing"), ErrIntentNotFound)
}

func TestMemoryRefund(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	intent, err := gw.CreateIntent(ctx, CreateIntentRequest{
		Amount:   decimal.NewFromInt(100),
		Currency: "USD",
	})
	require.NoError(t, err)

	// pending intents cannot be refunded
	_, err = gw.RefundIntent(ctx, intent.ID, decimal.Zero)
	assert.Error(t, err)

	require.NoError(t, gw.SucceedIntent(intent.ID))

	// zero amount means a full refund
	refund, err := gw.RefundIntent(ctx, intent.ID, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(100)))

	// the intent is now fully refunded
	_, err = gw.RefundIntent(ctx, intent.ID, decimal.NewFromInt(1))
	assert.Error(t, err)
}

func TestMemoryPartialRefunds(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	intent, err := gw.CreateIntent(ctx, CreateIntentRequest{
		Amount:   decimal.NewFromInt(100),
		Currency: "USD",
	})
	require.NoError(t, err)
	require.NoError(t, gw.SucceedIntent(intent.ID))

	_, err = gw.RefundIntent(ctx, intent.ID, decimal.NewFromInt(60))
	require.NoError(t, err)

	_, err = gw.RefundIntent(ctx, intent.ID, decimal.NewFromInt(40))
	require.NoError(t, err)

	_, err = gw.RefundIntent(ctx, intent.ID, decimal.NewFromInt(1))
	assert.Error(t, err)
}

func TestMemorySetError(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	outage := errors.New("connection refused")
	gw.SetError(outage)

	_, err := gw.CreateIntent(ctx, CreateIntentRequest{
		Amount:   decimal.NewFromInt(10),
		Currency: "USD",
	})
	assert.ErrorIs(t, err, outage)

	gw.SetError(nil)

	_, err = gw.CreateIntent(ctx, CreateIntentRequest{
		Amount:   decimal.NewFromInt(10),
		Currency: "USD",
	})
	assert.NoError(t, err)
}
