package compliance_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/compliance-engine/intake"
	"github.com/warp/compliance-engine/ledger"
)

func (e *env) setProductStatus(t *testing.T, id string, status ledger.ProductStatus) {
	t.Helper()
	p := e.getProduct(t, id)
	p.Status = status
	_, err := e.store.UpdateProduct(context.Background(), *p)
	require.NoError(t, err)
}

func tradeEnv(t *testing.T) *env {
	t.Helper()
	e := newEnv(t)
	e.user(t, "issuer-1", ledger.RoleIssuer, ledger.UserActive)
	e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)
	e.user(t, "inv-2", ledger.RoleInvestor, ledger.UserActive)
	return e
}

// =============================================================================
// BUY
// =============================================================================

func TestBuy_ApproveMovesVolume(t *testing.T) {
	// GIVEN: a buy of 10 on a product with 50 available
	e := tradeEnv(t)
	ctx := context.Background()
	e.product(t, "p1", "issuer-1", 50, 50)
	req, err := e.intake.RequestBuy(ctx, "inv-1", "p1", 10)
	require.NoError(t, err)
	txID := req.Action.EntityID

	// WHEN
	out, err := e.dispatcher.Approve(ctx, req.ID, officer)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, ledger.ComplianceAccepted, out.Request.Status)
	assert.Equal(t, int64(40), e.getProduct(t, "p1").AvailableVolume)

	h := e.getHolding(t, "inv-1", "p1")
	require.NotNil(t, h)
	assert.Equal(t, int64(10), h.Quantity)
	assert.Equal(t, int64(10), h.AvailableVolume)
	assert.Equal(t, "issuer-1", h.IssuerID)
	assert.True(t, h.AmountRepaid.IsZero())

	tx := e.getTx(t, txID)
	assert.Equal(t, ledger.TxProcessed, tx.Status)
	assert.Equal(t, "0xbuy1", tx.TransactionHash)
	assert.Equal(t, []settleCall{{Name: "buy", ProductID: "p1", To: "inv-1", Amount: 10}}, e.settler.calls)

	assert.Contains(t, e.notifier.texts("inv-1"), "Purchase approved")
	assert.Contains(t, e.notifier.texts("issuer-1"), "Purchase approved")
}

func TestBuy_SecondBuyTopsUpHolding(t *testing.T) {
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 45)
	e.holding(t, "inv-1", p, 5)
	req, err := e.intake.RequestBuy(ctx, "inv-1", "p1", 10)
	require.NoError(t, err)

	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	require.NoError(t, err)
	h := e.getHolding(t, "inv-1", "p1")
	assert.Equal(t, "h-inv-1-p1", h.ID)
	assert.Equal(t, int64(15), h.AvailableVolume)
	assert.Equal(t, int64(35), e.getProduct(t, "p1").AvailableVolume)
}

func TestBuy_Reject(t *testing.T) {
	e := tradeEnv(t)
	ctx := context.Background()
	e.product(t, "p1", "issuer-1", 50, 50)
	req, err := e.intake.RequestBuy(ctx, "inv-1", "p1", 10)
	require.NoError(t, err)

	_, err = e.dispatcher.Reject(ctx, req.ID, officer, "limit exceeded")

	require.NoError(t, err)
	assert.Equal(t, ledger.TxRejected, e.getTx(t, req.Action.EntityID).Status)
	assert.Equal(t, int64(50), e.getProduct(t, "p1").AvailableVolume)
	assert.Nil(t, e.getHolding(t, "inv-1", "p1"))
	assert.Empty(t, e.settler.names())
	assert.Contains(t, e.notifier.texts("inv-1"), "Purchase rejected")
}

func TestBuy_SettlementFailure(t *testing.T) {
	// GIVEN: the gateway rejects the transfer
	e := tradeEnv(t)
	ctx := context.Background()
	e.product(t, "p1", "issuer-1", 50, 50)
	req, err := e.intake.RequestBuy(ctx, "inv-1", "p1", 10)
	require.NoError(t, err)
	e.settler.FailOn = map[string]error{"buy": errors.New("insufficient gas")}

	// WHEN
	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	// THEN: nothing moved and the stall is recorded
	requireKind(t, err, ledger.KindSettlement, ledger.ErrSettlement)
	assert.Equal(t, ledger.TxFailed, e.getTx(t, req.Action.EntityID).Status)
	assert.Equal(t, ledger.ComplianceSettlementFailed, e.getRequest(t, req.ID).Status)
	assert.Equal(t, int64(50), e.getProduct(t, "p1").AvailableVolume)
	assert.Nil(t, e.getHolding(t, "inv-1", "p1"))
	assert.Contains(t, e.notifier.texts("inv-1"), "Purchase failed")
}

func TestBuy_ProductClosedBeforeApproval(t *testing.T) {
	e := tradeEnv(t)
	ctx := context.Background()
	e.product(t, "p1", "issuer-1", 50, 50)
	req, err := e.intake.RequestBuy(ctx, "inv-1", "p1", 10)
	require.NoError(t, err)
	e.setProductStatus(t, "p1", ledger.ProductInactive)

	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	requireKind(t, err, ledger.KindBusiness, ledger.ErrInactive)
	assert.Equal(t, ledger.ComplianceInitiated, e.getRequest(t, req.ID).Status)
	assert.Equal(t, ledger.TxProcessing, e.getTx(t, req.Action.EntityID).Status)
	assert.Empty(t, e.settler.names())
}

func TestBuy_ConcurrentApprovalsConserveVolume(t *testing.T) {
	// GIVEN: five pending buys that together take the whole supply
	e := tradeEnv(t)
	ctx := context.Background()
	e.product(t, "p1", "issuer-1", 50, 50)
	var ids []string
	for range 5 {
		req, err := e.intake.RequestBuy(ctx, "inv-1", "p1", 10)
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	// WHEN: all are approved at once
	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.dispatcher.Approve(ctx, id, officer)
		}()
	}
	wg.Wait()

	// THEN: supply plus holdings still equals the issued quantity
	for _, err := range errs {
		require.NoError(t, err)
	}
	p := e.getProduct(t, "p1")
	h := e.getHolding(t, "inv-1", "p1")
	assert.Equal(t, int64(0), p.AvailableVolume)
	assert.Equal(t, int64(50), h.AvailableVolume)
	assert.Equal(t, p.Quantity, p.AvailableVolume+h.AvailableVolume)
}

// =============================================================================
// SELL
// =============================================================================

func TestSell_TransferBetweenInvestors(t *testing.T) {
	// GIVEN: inv-1 holds 10 and sells 4 to inv-2
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 40)
	e.holding(t, "inv-1", p, 10)
	req, err := e.intake.RequestSell(ctx, intake.SellOrder{SellerID: "inv-1", ProductID: "p1", Quantity: 4, ReceiverID: "inv-2"})
	require.NoError(t, err)

	// WHEN
	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, int64(6), e.getHolding(t, "inv-1", "p1").AvailableVolume)
	buyer := e.getHolding(t, "inv-2", "p1")
	require.NotNil(t, buyer)
	assert.Equal(t, int64(4), buyer.AvailableVolume)
	assert.True(t, buyer.TicketSize.Equal(p.TicketSize))
	assert.Equal(t, int64(40), e.getProduct(t, "p1").AvailableVolume)
	assert.Equal(t, []settleCall{{Name: "sell", ProductID: "p1", From: "inv-1", To: "inv-2", Amount: 4}}, e.settler.calls)
	assert.Equal(t, ledger.TxProcessed, e.getTx(t, req.Action.EntityID).Status)
	assert.Contains(t, e.notifier.texts("inv-2"), "Sale approved")
}

func TestSell_PositionShrankBeforeApproval(t *testing.T) {
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 40)
	e.holding(t, "inv-1", p, 10)
	req, err := e.intake.RequestSell(ctx, intake.SellOrder{SellerID: "inv-1", ProductID: "p1", Quantity: 8, ReceiverID: "inv-2"})
	require.NoError(t, err)

	h := e.getHolding(t, "inv-1", "p1")
	h.AvailableVolume = 5
	_, err = e.store.UpdateHolding(ctx, *h)
	require.NoError(t, err)

	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	requireKind(t, err, ledger.KindBusiness, ledger.ErrInsufficientVolume)
	assert.Empty(t, e.settler.names())
	assert.Equal(t, ledger.ComplianceInitiated, e.getRequest(t, req.ID).Status)
}

func TestSell_Reject(t *testing.T) {
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 40)
	e.holding(t, "inv-1", p, 10)
	req, err := e.intake.RequestSell(ctx, intake.SellOrder{SellerID: "inv-1", ProductID: "p1", Quantity: 4, ReceiverID: "inv-2"})
	require.NoError(t, err)

	_, err = e.dispatcher.Reject(ctx, req.ID, officer, "")

	require.NoError(t, err)
	assert.Equal(t, ledger.TxRejected, e.getTx(t, req.Action.EntityID).Status)
	assert.Equal(t, int64(10), e.getHolding(t, "inv-1", "p1").AvailableVolume)
	assert.Nil(t, e.getHolding(t, "inv-2", "p1"))

	// the released quantity can be sold again
	_, err = e.intake.RequestSell(ctx, intake.SellOrder{SellerID: "inv-1", ProductID: "p1", Quantity: 10, ReceiverID: "inv-2"})
	require.NoError(t, err)
}

// Scenario E: returning the last outstanding position of an inactive
// product burns the supply after the transfer.
func TestSell_ReturnLastPositionBurnsSupply(t *testing.T) {
	// GIVEN: the issuer holds everything except inv-1's 10 tickets
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 100, 90)
	e.holding(t, "inv-1", p, 10)
	e.setProductStatus(t, "p1", ledger.ProductInactive)
	req, err := e.intake.RequestSell(ctx, intake.SellOrder{SellerID: "inv-1", ProductID: "p1", ReturnTokens: true})
	require.NoError(t, err)

	// WHEN
	out, err := e.dispatcher.Approve(ctx, req.ID, officer)

	// THEN: transfer then burn of the whole supply
	require.NoError(t, err)
	assert.Equal(t, []settleCall{
		{Name: "sell", ProductID: "p1", From: "inv-1", To: "issuer-1", Amount: 10},
		{Name: "burn", ProductID: "p1", From: "issuer-1", Amount: 100},
	}, e.settler.calls)
	assert.Equal(t, "0xsell1", out.Request.TransactionHash)

	got := e.getProduct(t, "p1")
	assert.Equal(t, int64(100), got.AvailableVolume)
	assert.Equal(t, "0xburn2", got.BurnTransactionHash)
	h := e.getHolding(t, "inv-1", "p1")
	assert.Zero(t, h.AvailableVolume)
	assert.Zero(t, h.Quantity)
	assert.Contains(t, e.notifier.texts("inv-1"), "Tokens returned to issuer")
}

func TestSell_ReturnWhileActiveDoesNotBurn(t *testing.T) {
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 100, 90)
	e.holding(t, "inv-1", p, 10)
	req, err := e.intake.RequestSell(ctx, intake.SellOrder{SellerID: "inv-1", ProductID: "p1", ReturnTokens: true})
	require.NoError(t, err)

	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	require.NoError(t, err)
	assert.Equal(t, []string{"sell"}, e.settler.names())
	got := e.getProduct(t, "p1")
	assert.Equal(t, int64(100), got.AvailableVolume)
	assert.Empty(t, got.BurnTransactionHash)
}

func TestSell_BurnFailureStillAcceptsReturn(t *testing.T) {
	// GIVEN: the burn fails after the transfer settled
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 100, 90)
	e.holding(t, "inv-1", p, 10)
	e.setProductStatus(t, "p1", ledger.ProductInactive)
	req, err := e.intake.RequestSell(ctx, intake.SellOrder{SellerID: "inv-1", ProductID: "p1", ReturnTokens: true})
	require.NoError(t, err)
	e.settler.FailOn = map[string]error{"burn": errors.New("paused")}

	// WHEN
	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	// THEN: the return stands and compliance hears about the burn
	require.NoError(t, err)
	assert.Equal(t, ledger.ComplianceAccepted, e.getRequest(t, req.ID).Status)
	assert.Empty(t, e.getProduct(t, "p1").BurnTransactionHash)
	assert.Contains(t, e.notifier.texts(""), "Token burn failed")
}
