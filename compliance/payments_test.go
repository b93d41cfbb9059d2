package compliance_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/compliance-engine/intake"
	"github.com/warp/compliance-engine/ledger"
)

func (e *env) pay(t *testing.T, pt ledger.PaymentType, investors ...string) *ledger.ComplianceRequest {
	t.Helper()
	res, err := e.intake.RequestPayment(context.Background(), intake.PaymentOrder{
		IssuerID:    "issuer-1",
		ProductID:   "p1",
		PaymentType: pt,
		InvestorIDs: investors,
	})
	require.NoError(t, err)
	return res.Request
}

func (e *env) paymentTxs(t *testing.T, investorID string) []ledger.Transaction {
	t.Helper()
	txs, err := e.store.FindTransactions(context.Background(), ledger.TransactionFilter{
		Type:       ledger.TxPayment,
		InvestorID: investorID,
	})
	require.NoError(t, err)
	return txs
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPayment_InterestCreditsHolding(t *testing.T) {
	// GIVEN: 10 tickets of 100 at 8% paid quarterly
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 40)
	e.holding(t, "inv-1", p, 10)
	req := e.pay(t, ledger.PaymentInterest, "inv-1")

	// WHEN
	out, err := e.dispatcher.Approve(ctx, req.ID, officer)

	// THEN: one coupon of 20.00
	require.NoError(t, err)
	assert.Empty(t, out.PaymentFailures)
	h := e.getHolding(t, "inv-1", "p1")
	assert.True(t, h.AmountReceived.Equal(money("20")), "received %s", h.AmountReceived)
	assert.True(t, h.AmountRepaid.IsZero())

	txs := e.paymentTxs(t, "inv-1")
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxProcessed, txs[0].Status)
	assert.Contains(t, e.notifier.texts("inv-1"), "Payment received")
	assert.Contains(t, e.notifier.texts("issuer-1"), "Payment approved")
}

// Scenario D: a second interest payment in the same quarter is refused at
// approval.
func TestPayment_InterestOncePerQuarter(t *testing.T) {
	// GIVEN: two interest requests filed before either was approved
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 40)
	e.holding(t, "inv-1", p, 10)
	first := e.pay(t, ledger.PaymentInterest, "inv-1")
	second := e.pay(t, ledger.PaymentInterest, "inv-1")
	_, err := e.dispatcher.Approve(ctx, first.ID, officer)
	require.NoError(t, err)

	// WHEN
	_, err = e.dispatcher.Approve(ctx, second.ID, officer)

	// THEN: refused, and the first payment is untouched
	requireKind(t, err, ledger.KindBusiness, ledger.ErrInterestAlreadyPaid)
	assert.Contains(t, err.Error(), "isInterestTransactionQuarter")
	assert.Equal(t, ledger.ComplianceAccepted, e.getRequest(t, first.ID).Status)
	assert.Equal(t, ledger.ComplianceInitiated, e.getRequest(t, second.ID).Status)

	h := e.getHolding(t, "inv-1", "p1")
	assert.True(t, h.AmountReceived.Equal(money("20")), "received %s", h.AmountReceived)
	firstTx := e.getTx(t, first.Action.Payload.(ledger.PaymentTransaction).Entry.TransactionID)
	assert.Equal(t, ledger.TxProcessed, firstTx.Status)
}

func TestPayment_RepaymentPaysOutstandingPrincipal(t *testing.T) {
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 40)
	e.holding(t, "inv-1", p, 10)
	req := e.pay(t, ledger.PaymentRepayment, "inv-1")

	_, err := e.dispatcher.Approve(ctx, req.ID, officer)

	require.NoError(t, err)
	h := e.getHolding(t, "inv-1", "p1")
	assert.True(t, h.AmountRepaid.Equal(money("1000")), "repaid %s", h.AmountRepaid)
	assert.True(t, h.AmountReceived.Equal(money("1000")))
	assert.True(t, ledger.OutstandingPrincipal(h).IsZero())
}

func TestPayment_RepaymentCappedAtOutstanding(t *testing.T) {
	// GIVEN: a repayment of 1000 is pending, then 400 is repaid elsewhere
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 40)
	e.holding(t, "inv-1", p, 10)
	req := e.pay(t, ledger.PaymentRepayment, "inv-1")
	h := e.getHolding(t, "inv-1", "p1")
	h.AmountRepaid = money("400")
	_, err := e.store.UpdateHolding(ctx, *h)
	require.NoError(t, err)

	// WHEN
	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	// THEN: only the 600 still owed is paid
	require.NoError(t, err)
	h = e.getHolding(t, "inv-1", "p1")
	assert.True(t, h.AmountRepaid.Equal(money("1000")), "repaid %s", h.AmountRepaid)
	assert.False(t, h.AmountRepaid.GreaterThan(h.RepaymentCap()))
	txs := e.paymentTxs(t, "inv-1")
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Equal(money("600")), "amount %s", txs[0].Amount)
}

// Scenario C: nothing is left to repay.
func TestPayment_RepaymentWhenFullyRepaid(t *testing.T) {
	// GIVEN: a holding whose principal was repaid in full
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 40)
	h := e.holding(t, "inv-1", p, 10)
	h.AmountRepaid = money("1000")
	_, err := e.store.UpdateHolding(ctx, h)
	require.NoError(t, err)
	req := e.pay(t, ledger.PaymentRepayment, "inv-1")

	// WHEN
	out, err := e.dispatcher.Approve(ctx, req.ID, officer)

	// THEN: the investor is told, and no positive payment exists
	require.NoError(t, err)
	assert.Equal(t, ledger.ComplianceAccepted, out.Request.Status)
	assert.Contains(t, e.notifier.texts("inv-1"), "Principal fully repaid")
	for _, tx := range e.paymentTxs(t, "inv-1") {
		assert.False(t, tx.Amount.IsPositive() && tx.Status == ledger.TxProcessed)
	}
	got := e.getHolding(t, "inv-1", "p1")
	assert.True(t, got.AmountRepaid.Equal(money("1000")))
	assert.False(t, ledger.OutstandingPrincipal(got).IsNegative())
}

func TestPayment_BatchRecordsFailuresAndAccepts(t *testing.T) {
	// GIVEN: a dividend for two investors, one of whom loses the position
	// before approval
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 30)
	e.holding(t, "inv-1", p, 10)
	e.holding(t, "inv-2", p, 10)
	res, err := e.intake.RequestPayment(ctx, intake.PaymentOrder{
		IssuerID:    "issuer-1",
		ProductID:   "p1",
		PaymentType: ledger.PaymentDividend,
		TotalAmount: money("1000"),
	})
	require.NoError(t, err)
	_, err = e.store.DeleteHoldingsByInvestor(ctx, "inv-2")
	require.NoError(t, err)

	// WHEN
	out, err := e.dispatcher.Approve(ctx, res.Request.ID, officer)

	// THEN: inv-1 is paid its share, inv-2 is reported
	require.NoError(t, err)
	assert.Equal(t, ledger.ComplianceAccepted, out.Request.Status)
	require.Len(t, out.PaymentFailures, 1)
	assert.Equal(t, "inv-2", out.PaymentFailures[0].InvestorID)
	assert.Equal(t, ledger.KindNotFound, ledger.KindOf(out.PaymentFailures[0].Err))

	h := e.getHolding(t, "inv-1", "p1")
	assert.True(t, h.AmountReceived.Equal(money("500")), "received %s", h.AmountReceived)

	inv2 := e.paymentTxs(t, "inv-2")
	require.Len(t, inv2, 1)
	assert.Equal(t, ledger.TxFailed, inv2[0].Status)
}

func TestPayment_SingleFailureLeavesRequestInitiated(t *testing.T) {
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 40)
	e.holding(t, "inv-1", p, 10)
	req := e.pay(t, ledger.PaymentInterest, "inv-1")
	_, err := e.store.DeleteHoldingsByInvestor(ctx, "inv-1")
	require.NoError(t, err)

	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	requireKind(t, err, ledger.KindNotFound, ledger.ErrNoPosition)
	assert.Equal(t, ledger.ComplianceInitiated, e.getRequest(t, req.ID).Status)
}

func TestPayment_RejectMarksTransactions(t *testing.T) {
	e := tradeEnv(t)
	ctx := context.Background()
	p := e.product(t, "p1", "issuer-1", 50, 30)
	e.holding(t, "inv-1", p, 10)
	e.holding(t, "inv-2", p, 10)
	req := e.pay(t, ledger.PaymentInterest)

	_, err := e.dispatcher.Reject(ctx, req.ID, officer, "wrong period")

	require.NoError(t, err)
	for _, inv := range []string{"inv-1", "inv-2"} {
		txs := e.paymentTxs(t, inv)
		require.Len(t, txs, 1)
		assert.Equal(t, ledger.TxRejected, txs[0].Status)
		assert.True(t, e.getHolding(t, inv, "p1").AmountReceived.IsZero())
		assert.Contains(t, e.notifier.texts(inv), "Payment rejected")
	}
	assert.Contains(t, e.notifier.texts("issuer-1"), "Payment rejected")
}
