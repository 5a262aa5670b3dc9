package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is an in-process gateway used by tests and local runs. Intents start
// pending; tests drive them to succeeded or failed through SucceedIntent and
// FailIntent, or construct the gateway with WithAutoSucceed to simulate a
// processor that captures instantly.
type Memory struct {
	mu          sync.Mutex
	intents     map[string]*Intent
	refunds     map[string]decimal.Decimal // intent id -> refunded so far
	autoSucceed bool
	failWith    error
}

type MemoryOption func(*Memory)

func WithAutoSucceed() MemoryOption {
	return func(m *Memory) { m.autoSucceed = true }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		intents: make(map[string]*Intent),
		refunds: make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetError makes every subsequent call fail with err, simulating an
// unreachable processor. Pass nil to restore normal behavior.
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *Memory) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	status := IntentStatusPending
	if m.autoSucceed {
		status = IntentStatusSucceeded
	}

	id := "pi_" + uuid.NewString()
	intent := &Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.NewString()[:8],
		Status:       status,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Metadata:     cloneMetadata(req.Metadata),
	}
	m.intents[id] = intent

	return copyIntent(intent), nil
}

func (m *Memory) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}

	intent, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}

	return copyIntent(intent), nil
}

func (m *Memory) RefundIntent(ctx context.Context, id string, amount decimal.Decimal) (*Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}

	intent, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if intent.Status != IntentStatusSucceeded {
		return nil, fmt.Errorf("gateway: intent %s is %s, cannot refund", id, intent.Status)
	}

	if amount.IsZero() {
		amount = intent.Amount
	}
	refunded := m.refunds[id].Add(amount)
	if refunded.GreaterThan(intent.Amount) {
		return nil, errors.New("gateway: refund exceeds intent amount")
	}
	m.refunds[id] = refunded

	return &Refund{
		ID:       "re_" + uuid.NewString(),
		IntentID: id,
		Amount:   amount,
	}, nil
}

// SucceedIntent transitions a pending intent to succeeded, standing in for
// the customer completing the payment on the processor's side.
func (m *Memory) SucceedIntent(id string) error {
	return m.setStatus(id, IntentStatusSucceeded)
}

func (m *Memory) FailIntent(id string) error {
	return m.setStatus(id, IntentStatusFailed)
}

func (m *Memory) setStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	intent.Status = status
	return nil
}

func copyIntent(in *Intent) *Intent {
	out := *in
	out.Metadata = cloneMetadata(in.Metadata)
	return &out
}

func cloneMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
