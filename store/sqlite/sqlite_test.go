package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/compliance-engine/ledger"
	"github.com/warp/compliance-engine/store/sqlite"
)

var t0 = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func product(id string) ledger.Product {
	return ledger.Product{
		ID:               id,
		Name:             "Green Bond",
		Symbol:           "GRN",
		IssuerID:         "issuer-1",
		Quantity:         100,
		AvailableVolume:  100,
		TicketSize:       decimal.RequireFromString("1000.50"),
		CouponRate:       decimal.RequireFromString("4.25"),
		PaymentFrequency: ledger.FrequencyQuarterly,
		NonCallPeriod:    time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:           ledger.ProductProcessing,
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
}

func TestProduct_RoundTripAndCompareAndSet(t *testing.T) {
	// GIVEN: a stored product
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProduct(ctx, product("p1")))

	got, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.TicketSize.Equal(decimal.RequireFromString("1000.50")))
	assert.Equal(t, t0, got.CreatedAt)
	assert.True(t, got.MaturityDate.IsZero())

	// WHEN: two writers update from the same version
	first := *got
	first.AvailableVolume = 90
	v, err := s.UpdateProduct(ctx, first)
	require.NoError(t, err)

	second := *got
	second.AvailableVolume = 80
	_, staleErr := s.UpdateProduct(ctx, second)

	// THEN: only the first wins
	assert.Equal(t, int64(2), v)
	assert.ErrorIs(t, staleErr, ledger.ErrConcurrentModification)
	got, err = s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), got.AvailableVolume)
}

func TestProduct_MissingAndDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	got, err := s.GetProduct(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.InsertProduct(ctx, product("p1")))
	err = s.InsertProduct(ctx, product("p1"))
	assert.ErrorIs(t, err, ledger.ErrBusiness)

	p := product("ghost")
	p.Version = 1
	_, err = s.UpdateProduct(ctx, p)
	assert.True(t, ledger.IsNotFound(err))
}

func TestHolding_FindAndCascadeDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	h := ledger.Holding{
		ID: "h1", InvestorID: "inv-1", ProductID: "p1", IssuerID: "issuer-1",
		Quantity: 10, AvailableVolume: 10,
		AmountReceived: decimal.Zero, AmountRepaid: decimal.RequireFromString("12.34"),
		TicketSize: decimal.NewFromInt(1000), CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.InsertHolding(ctx, h))

	got, err := s.FindHolding(ctx, "inv-1", "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h1", got.ID)
	assert.True(t, got.AmountRepaid.Equal(decimal.RequireFromString("12.34")))

	// Second position in the same product is rejected by the unique index
	dup := h
	dup.ID = "h2"
	assert.ErrorIs(t, s.InsertHolding(ctx, dup), ledger.ErrBusiness)

	n, err := s.DeleteHoldingsByInvestor(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	list, err := s.ListHoldingsByProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFindTransactions_Filters(t *testing.T) {
	// GIVEN: interest payments across two quarters and a pending sell
	s := newStore(t)
	ctx := context.Background()
	insert := func(id string, typ ledger.TransactionType, status ledger.TransactionStatus, pt ledger.PaymentType, updated time.Time) {
		require.NoError(t, s.InsertTransaction(ctx, ledger.Transaction{
			ID: id, Type: typ, ProductID: "p1", InvestorID: "inv-1", Quantity: 3,
			Amount: decimal.NewFromInt(10), PaymentType: pt, TicketSize: decimal.NewFromInt(1000),
			Status: status, CreatedAt: updated, UpdatedAt: updated,
		}))
	}
	insert("t1", ledger.TxPayment, ledger.TxProcessed, ledger.PaymentInterest, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	insert("t2", ledger.TxPayment, ledger.TxProcessed, ledger.PaymentInterest, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	insert("t3", ledger.TxSell, ledger.TxProcessing, "", t0)

	// WHEN: filtering processed interest in Q1
	q := ledger.QuarterOf(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	txs, err := s.FindTransactions(ctx, ledger.TransactionFilter{
		Type:          ledger.TxPayment,
		InvestorID:    "inv-1",
		PaymentType:   ledger.PaymentInterest,
		Statuses:      []ledger.TransactionStatus{ledger.TxProcessed},
		UpdatedAfter:  q.Start,
		UpdatedBefore: q.End,
	})

	// THEN: the April payment is outside the half-open range
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "t1", txs[0].ID)

	pending, err := s.FindTransactions(ctx, ledger.TransactionFilter{Type: ledger.TxSell, Statuses: []ledger.TransactionStatus{ledger.TxProcessing}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), ledger.ReservedQuantity(pending, ""))
}

func TestComplianceRequest_RoundTripAndList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mk := func(id string, at time.Time, payload ledger.Action, related string) ledger.ComplianceRequest {
		return ledger.ComplianceRequest{
			ID:            id,
			Date:          at,
			Action:        ledger.ActionInfo{Name: payload.Kind(), Entity: "product", EntityID: "p1", Payload: payload},
			RelatedUserID: related,
			Creator:       ledger.Creator{Type: ledger.CreatorUser, ID: related},
			Status:        ledger.ComplianceInitiated,
			UpdatedAt:     at,
		}
	}
	batch := ledger.PaymentTransactionArray{
		ProductID:   "p1",
		PaymentType: ledger.PaymentInterest,
		Entries: []ledger.PaymentEntry{
			{InvestorID: "inv-1", HoldingID: "h1", TransactionID: "t1"},
			{InvestorID: "inv-2", HoldingID: "h2"},
		},
	}
	require.NoError(t, s.InsertComplianceRequest(ctx, mk("c1", t0, ledger.BuyTransaction{TransactionID: "t9"}, "inv-1")))
	require.NoError(t, s.InsertComplianceRequest(ctx, mk("c2", t0.Add(time.Hour), batch, "issuer-1")))
	require.NoError(t, s.InsertComplianceRequest(ctx, mk("c3", t0.Add(2*time.Hour), ledger.AddProduct{ProductID: "p1"}, "issuer-1")))

	// Payload survives the round trip with its concrete type
	got, err := s.GetComplianceRequest(ctx, "c2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, batch, got.Action.Payload)

	// Newest first, paged, total unaffected by paging
	items, total, err := s.ListComplianceRequests(ctx, ledger.ComplianceFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, "c3", items[0].ID)
	assert.Equal(t, "c2", items[1].ID)

	items, total, err = s.ListComplianceRequests(ctx, ledger.ComplianceFilter{
		Actions:       []ledger.ActionKind{ledger.ActionAddProduct, ledger.ActionBuyTransaction},
		RelatedUserID: "issuer-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "c3", items[0].ID)

	items, _, err = s.ListComplianceRequests(ctx, ledger.ComplianceFilter{Offset: 2})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c1", items[0].ID)

	// Status update persists
	got.Status = ledger.ComplianceAccepted
	got.TransactionHash = "0xabc"
	require.NoError(t, s.UpdateComplianceRequest(ctx, *got))
	got, err = s.GetComplianceRequest(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, ledger.ComplianceAccepted, got.Status)
	assert.Equal(t, "0xabc", got.TransactionHash)

	// Deleting by user keeps the excepted request
	n, err := s.DeleteComplianceRequestsByUser(ctx, "issuer-1", "c3")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, total, err = s.ListComplianceRequests(ctx, ledger.ComplianceFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestUser_EmailIsCaseInsensitive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	u := ledger.User{ID: "u1", Email: "Ada@Example.com", Name: "Ada", Role: ledger.RoleInvestor, Status: ledger.UserProcessing, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.InsertUser(ctx, u))

	got, err := s.FindUserByEmail(ctx, "ada@example.COM")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)

	other := u
	other.ID = "u2"
	other.Email = "ADA@example.com"
	assert.ErrorIs(t, s.InsertUser(ctx, other), ledger.ErrBusiness)

	u.Status = ledger.UserActive
	require.NoError(t, s.UpdateUser(ctx, u))
	require.NoError(t, s.DeleteUser(ctx, "u1"))
	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNotifications_FeedOrderAndComplianceBroadcast(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for i, n := range []ledger.Notification{
		{ID: "n1", ReceiverID: "inv-1", Text: "first", Type: ledger.NotifyInfo},
		{ID: "n2", IsCompliance: true, Text: "review", Type: ledger.NotifyWarning},
		{ID: "n3", ReceiverID: "inv-1", Text: "second", Type: ledger.NotifySuccess, TranslationData: map[string]string{"amount": "10.00"}},
	} {
		n.CreatedAt = t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.InsertNotification(ctx, n))
	}

	mine, err := s.ListNotifications(ctx, "inv-1", 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "n3", mine[0].ID)
	assert.Equal(t, "10.00", mine[0].TranslationData["amount"])

	feed, err := s.ListNotifications(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "n2", feed[0].ID)

	n, err := s.DeleteNotificationsByUser(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
