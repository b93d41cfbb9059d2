package intake_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/compliance-engine/directory"
	"github.com/warp/compliance-engine/intake"
	"github.com/warp/compliance-engine/ledger"
	"github.com/warp/compliance-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var now = time.Date(2026, time.May, 15, 10, 0, 0, 0, time.UTC)

type fakeDirectory struct {
	CreateUserFunc func(ctx context.Context, p directory.Profile) (string, error)
}

func (f *fakeDirectory) CreateUser(ctx context.Context, p directory.Profile) (string, error) {
	if f.CreateUserFunc == nil {
		return "dir-" + p.Email, nil
	}
	return f.CreateUserFunc(ctx, p)
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []ledger.Notification
}

func (f *fakeNotifier) Create(_ context.Context, n ledger.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
}

type env struct {
	store    *store.Memory
	dir      *fakeDirectory
	notifier *fakeNotifier
	svc      *intake.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{store: store.NewMemory(), dir: &fakeDirectory{}, notifier: &fakeNotifier{}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = intake.NewService(log, e.store, e.dir, e.notifier, intake.WithClock(func() time.Time { return now }))
	return e
}

func (e *env) user(t *testing.T, id string, role ledger.Role, status ledger.UserStatus) ledger.User {
	t.Helper()
	u := ledger.User{ID: id, Email: id + "@example.com", Name: id, Role: role, Status: status, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, e.store.InsertUser(context.Background(), u))
	return u
}

func (e *env) product(t *testing.T, id, issuerID string, quantity, available int64) ledger.Product {
	t.Helper()
	p := ledger.Product{
		ID: id, Name: "Bond " + id, Symbol: "B", IssuerID: issuerID,
		Quantity: quantity, AvailableVolume: available,
		TicketSize: decimal.NewFromInt(100), CouponRate: decimal.NewFromInt(8),
		PaymentFrequency: ledger.FrequencyQuarterly,
		Status:           ledger.ProductActive, Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, e.store.InsertProduct(context.Background(), p))
	return p
}

func (e *env) holding(t *testing.T, investorID string, p ledger.Product, qty int64) ledger.Holding {
	t.Helper()
	h := ledger.Holding{
		ID: "h-" + investorID + "-" + p.ID, InvestorID: investorID, ProductID: p.ID, IssuerID: p.IssuerID,
		Quantity: qty, AvailableVolume: qty, TicketSize: p.TicketSize,
		AmountReceived: decimal.Zero, AmountRepaid: decimal.Zero,
		Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, e.store.InsertHolding(context.Background(), h))
	return h
}

func (e *env) transactions(t *testing.T, f ledger.TransactionFilter) []ledger.Transaction {
	t.Helper()
	txs, err := e.store.FindTransactions(context.Background(), f)
	require.NoError(t, err)
	return txs
}

func requireKind(t *testing.T, err error, kind ledger.Kind, sentinel error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, ledger.KindOf(err), "error: %v", err)
	if sentinel != nil {
		require.True(t, errors.Is(err, sentinel), "want %v in %v", sentinel, err)
	}
}
