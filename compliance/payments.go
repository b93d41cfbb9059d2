package compliance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/compliance-engine/ledger"
)

// =============================================================================
// PAYMENTS - Single and batch payment approval
// =============================================================================

// resolvePayment approves or rejects every entry of a payment request.
// A single payment aborts on its first failure and leaves the request
// Initiated. A batch records failures per investor, fails their pending
// transactions and still accepts the request.
func (d *Dispatcher) resolvePayment(ctx context.Context, res *resolution, productID string, pt ledger.PaymentType, entries []ledger.PaymentEntry, batch bool) error {
	const op = "compliance.payment"

	product, err := d.loadProduct(ctx, op, productID)
	if err != nil {
		return err
	}

	if res.rejecting() {
		for _, e := range entries {
			if err := d.rejectPaymentEntry(ctx, e); err != nil {
				return err
			}
			d.notifyUser(ctx, e.InvestorID, entityTransaction, e.TransactionID, ledger.NotifyWarning, "Payment rejected",
				map[string]string{"product": product.Name, "paymentType": string(pt), "remarks": res.req.Remarks})
		}
		if err := d.reject(ctx, res); err != nil {
			return err
		}
		d.notifyUser(ctx, product.IssuerID, entityProduct, product.ID, ledger.NotifyWarning, "Payment rejected",
			map[string]string{"product": product.Name, "paymentType": string(pt), "remarks": res.req.Remarks})
		return nil
	}

	var paid int
	for _, e := range entries {
		err := d.applyPayment(ctx, product, pt, e)
		if err == nil {
			paid++
			continue
		}
		if !batch {
			return err
		}
		res.failures = append(res.failures, PaymentFailure{InvestorID: e.InvestorID, Err: err})
		if e.TransactionID != "" {
			if tx, _ := d.store.GetTransaction(ctx, e.TransactionID); tx != nil && tx.Status == ledger.TxProcessing {
				d.failTransaction(ctx, tx)
			}
		}
	}

	if err := d.accept(ctx, res, ""); err != nil {
		return err
	}
	d.notifyUser(ctx, product.IssuerID, entityProduct, product.ID, ledger.NotifySuccess, "Payment approved",
		map[string]string{
			"product":     product.Name,
			"paymentType": string(pt),
			"paid":        fmt.Sprint(paid),
			"failed":      fmt.Sprint(len(res.failures)),
		})
	return nil
}

func (d *Dispatcher) rejectPaymentEntry(ctx context.Context, e ledger.PaymentEntry) error {
	if e.TransactionID == "" {
		return nil
	}
	tx, err := d.store.GetTransaction(ctx, e.TransactionID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", e.TransactionID, err)
	}
	if tx == nil || tx.Status != ledger.TxProcessing {
		return nil
	}
	return d.saveTransaction(ctx, tx, ledger.TxRejected)
}

// applyPayment credits one investor's entry.
func (d *Dispatcher) applyPayment(ctx context.Context, product *ledger.Product, pt ledger.PaymentType, e ledger.PaymentEntry) error {
	const op = "compliance.payment.apply"

	unlock := d.locks.Lock(holdingKey(e.InvestorID, product.ID))
	defer unlock()

	h, err := d.findPaymentHolding(ctx, product.ID, e)
	if err != nil {
		return err
	}
	if h == nil {
		return ledger.Errorf(ledger.KindNotFound, op, ledger.ErrNoPosition,
			"investor %s holds no %s", e.InvestorID, product.ID)
	}

	var tx *ledger.Transaction
	if e.TransactionID != "" {
		if tx, err = d.loadPending(ctx, op, e.TransactionID, ledger.TxPayment); err != nil {
			return err
		}
	}

	amount := decimal.Zero
	if tx != nil {
		amount = tx.Amount
	}

	switch pt {
	case ledger.PaymentInterest:
		if err := d.checkInterestQuarter(ctx, product.ID, e.InvestorID, tx); err != nil {
			return err
		}
	case ledger.PaymentRepayment:
		outstanding := ledger.OutstandingPrincipal(h)
		if outstanding.IsNegative() {
			return ledger.Errorf(ledger.KindBusiness, op, ledger.ErrNegativeRepayment,
				"holding %s outstanding %s", h.ID, outstanding.StringFixed(ledger.MoneyPlaces))
		}
		if outstanding.IsZero() || tx == nil {
			if tx != nil {
				d.failTransaction(ctx, tx)
			}
			d.notifyUser(ctx, e.InvestorID, entityProduct, product.ID, ledger.NotifyInfo, "Principal fully repaid",
				map[string]string{"product": product.Name})
			return nil
		}
		amount = decimal.Min(amount, outstanding)
	}

	if tx == nil {
		return nil
	}
	if !amount.IsPositive() {
		d.failTransaction(ctx, tx)
		return nil
	}

	h.AmountReceived = h.AmountReceived.Add(amount)
	if pt == ledger.PaymentRepayment {
		h.AmountRepaid = h.AmountRepaid.Add(amount)
		if h.AmountRepaid.GreaterThan(h.RepaymentCap()) {
			return ledger.Errorf(ledger.KindBusiness, op, nil,
				"repayment would exceed principal of holding %s", h.ID)
		}
	}
	if err := d.saveHolding(ctx, h); err != nil {
		return err
	}

	tx.Amount = amount
	if err := d.saveTransaction(ctx, tx, ledger.TxProcessed); err != nil {
		return err
	}
	d.notifyUser(ctx, e.InvestorID, entityTransaction, tx.ID, ledger.NotifySuccess, "Payment received",
		map[string]string{
			"product":     product.Name,
			"paymentType": string(pt),
			"amount":      amount.StringFixed(ledger.MoneyPlaces),
		})
	return nil
}

func (d *Dispatcher) findPaymentHolding(ctx context.Context, productID string, e ledger.PaymentEntry) (*ledger.Holding, error) {
	if e.HoldingID != "" {
		h, err := d.store.GetHolding(ctx, e.HoldingID)
		if err != nil {
			return nil, fmt.Errorf("load holding %s: %w", e.HoldingID, err)
		}
		if h != nil && h.InvestorID == e.InvestorID && h.ProductID == productID {
			return h, nil
		}
	}
	h, err := d.store.FindHolding(ctx, e.InvestorID, productID)
	if err != nil {
		return nil, fmt.Errorf("find holding: %w", err)
	}
	return h, nil
}

// checkInterestQuarter rejects a second processed interest payment to the
// same investor in the current calendar quarter.
func (d *Dispatcher) checkInterestQuarter(ctx context.Context, productID, investorID string, current *ledger.Transaction) error {
	q := ledger.QuarterOf(d.now())
	paid, err := d.store.FindTransactions(ctx, ledger.TransactionFilter{
		Type:          ledger.TxPayment,
		ProductID:     productID,
		InvestorID:    investorID,
		PaymentType:   ledger.PaymentInterest,
		Statuses:      []ledger.TransactionStatus{ledger.TxProcessed},
		UpdatedAfter:  q.Start,
		UpdatedBefore: q.End,
	})
	if err != nil {
		return fmt.Errorf("find interest payments: %w", err)
	}
	for _, tx := range paid {
		if current == nil || tx.ID != current.ID {
			return ledger.Errorf(ledger.KindBusiness, "compliance.payment.interest", ledger.ErrInterestAlreadyPaid,
				"investor %s already paid interest on %s this quarter", investorID, productID)
		}
	}
	return nil
}
