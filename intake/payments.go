package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/compliance-engine/ledger"
)

// PaymentOrder is an issuer paying investors of one product. Without
// InvestorIDs every investor with a sellable position is paid.
// TotalAmount is only used for dividend and generic payments.
type PaymentOrder struct {
	IssuerID    string
	ProductID   string
	PaymentType ledger.PaymentType
	InvestorIDs []string
	TotalAmount decimal.Decimal
}

// SkippedInvestor is an investor left out of a batch payment.
type SkippedInvestor struct {
	InvestorID string
	Err        error
}

type PaymentIntakeResult struct {
	Request *ledger.ComplianceRequest
	Skipped []SkippedInvestor
}

// RequestPayment creates one processing payment transaction per investor
// owed a positive amount. A request naming one investor fails on its
// first guard; a batch skips guarded investors and reports them.
func (s *Service) RequestPayment(ctx context.Context, order PaymentOrder) (*PaymentIntakeResult, error) {
	const op = "intake.payment"

	if !order.PaymentType.Valid() {
		return nil, invalid(op, "invalid payment type %q", order.PaymentType)
	}
	pro := order.PaymentType == ledger.PaymentDividend || order.PaymentType == ledger.PaymentGeneric
	if pro && !order.TotalAmount.IsPositive() {
		return nil, invalid(op, "total amount must be positive")
	}

	unlock := s.locks.Lock("payments:" + order.ProductID)
	defer unlock()

	product, err := s.product(ctx, op, order.ProductID)
	if err != nil {
		return nil, err
	}
	if product.IssuerID != order.IssuerID {
		return nil, ledger.Errorf(ledger.KindForbidden, op, nil, "product %s belongs to another issuer", product.ID)
	}
	if product.Status != ledger.ProductActive && product.Status != ledger.ProductInactive {
		return nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInactive, "product %s is %s", product.ID, product.Status)
	}
	if pro && product.SoldTickets() <= 0 {
		return nil, ledger.E(ledger.KindBusiness, op, ledger.ErrNothingSold)
	}

	order.InvestorIDs = distinct(order.InvestorIDs)
	investors := order.InvestorIDs
	if len(investors) == 0 {
		if investors, err = s.investorsOf(ctx, product.ID); err != nil {
			return nil, err
		}
	}
	single := len(order.InvestorIDs) == 1

	var (
		entries []ledger.PaymentEntry
		skipped []SkippedInvestor
		txs     []ledger.Transaction
	)
	for _, investorID := range investors {
		entry, tx, err := s.paymentEntry(ctx, product, order, investorID)
		if err != nil {
			if single || !(ledger.IsClientError(err) || ledger.IsNotFound(err)) {
				return nil, err
			}
			skipped = append(skipped, SkippedInvestor{InvestorID: investorID, Err: err})
			continue
		}
		if entry == nil {
			continue
		}
		entries = append(entries, *entry)
		if tx != nil {
			txs = append(txs, *tx)
		}
	}

	if len(entries) == 0 {
		return nil, ledger.Errorf(ledger.KindBusiness, op, nil, "no investor is owed a %s payment", order.PaymentType)
	}

	for _, tx := range txs {
		if err := s.store.InsertTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("insert transaction: %w", err)
		}
	}

	info := ledger.ActionInfo{
		Entity:      "product",
		EntityName:  product.Name,
		EntityID:    product.ID,
		PaymentType: order.PaymentType,
	}
	for _, e := range entries {
		info.Investors = append(info.Investors, e.InvestorID)
	}
	if single {
		info.Payload = ledger.PaymentTransaction{ProductID: product.ID, PaymentType: order.PaymentType, Entry: entries[0]}
	} else {
		info.Payload = ledger.PaymentTransactionArray{ProductID: product.ID, PaymentType: order.PaymentType, Entries: entries}
	}

	req, err := s.submit(ctx, userCreator(order.IssuerID), order.IssuerID, info)
	if err != nil {
		return nil, err
	}
	return &PaymentIntakeResult{Request: req, Skipped: skipped}, nil
}

// paymentEntry checks one investor and builds its entry and pending
// transaction. A nil entry means nothing is owed and the investor is
// silently left out.
func (s *Service) paymentEntry(ctx context.Context, product *ledger.Product, order PaymentOrder, investorID string) (*ledger.PaymentEntry, *ledger.Transaction, error) {
	const op = "intake.payment.entry"

	h, err := s.store.FindHolding(ctx, investorID, product.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("find holding: %w", err)
	}
	if h == nil {
		return nil, nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrNoPosition,
			"investor %s holds no %s", investorID, product.ID)
	}

	switch order.PaymentType {
	case ledger.PaymentInterest:
		q := ledger.QuarterOf(s.now())
		paid, err := s.store.FindTransactions(ctx, ledger.TransactionFilter{
			Type:          ledger.TxPayment,
			ProductID:     product.ID,
			InvestorID:    investorID,
			PaymentType:   ledger.PaymentInterest,
			Statuses:      []ledger.TransactionStatus{ledger.TxProcessed},
			UpdatedAfter:  q.Start,
			UpdatedBefore: q.End,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("find interest payments: %w", err)
		}
		if len(paid) > 0 {
			return nil, nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInterestAlreadyPaid,
				"investor %s already paid interest this quarter", investorID)
		}
	case ledger.PaymentRepayment:
		pending, err := s.pending(ctx, ledger.TransactionFilter{
			Type:        ledger.TxPayment,
			ProductID:   product.ID,
			InvestorID:  investorID,
			PaymentType: ledger.PaymentRepayment,
		})
		if err != nil {
			return nil, nil, err
		}
		if len(pending) > 0 {
			return nil, nil, ledger.E(ledger.KindBusiness, op, ledger.ErrRepaymentPending)
		}
	}

	amount, err := ledger.PaymentAmount(order.PaymentType, product, h, order.TotalAmount)
	if err != nil {
		if errors.Is(err, ledger.ErrNegativeRepayment) || errors.Is(err, ledger.ErrNothingSold) {
			return nil, nil, ledger.E(ledger.KindBusiness, op, err)
		}
		return nil, nil, ledger.E(ledger.KindValidation, op, err)
	}

	entry := &ledger.PaymentEntry{InvestorID: investorID, HoldingID: h.ID}
	if !amount.IsPositive() {
		if order.PaymentType == ledger.PaymentRepayment {
			// Nothing left to repay; approval tells the investor so.
			return entry, nil, nil
		}
		return nil, nil, nil
	}

	now := s.now()
	tx := &ledger.Transaction{
		ID:          uuid.NewString(),
		Type:        ledger.TxPayment,
		ProductID:   product.ID,
		InvestorID:  investorID,
		ReceiverID:  investorID,
		IssuerID:    product.IssuerID,
		Quantity:    h.AvailableVolume,
		Amount:      amount,
		PaymentType: order.PaymentType,
		TicketSize:  h.TicketSize,
		Status:      ledger.TxProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	entry.TransactionID = tx.ID
	return entry, tx, nil
}

func (s *Service) investorsOf(ctx context.Context, productID string) ([]string, error) {
	holdings, err := s.store.ListHoldingsByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list holdings of %s: %w", productID, err)
	}
	var ids []string
	for _, h := range holdings {
		if h.AvailableVolume > 0 {
			ids = append(ids, h.InvestorID)
		}
	}
	return ids, nil
}

// distinct drops repeated investor ids, keeping first occurrences in order.
func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
