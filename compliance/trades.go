package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/compliance-engine/ledger"
	"github.com/warp/compliance-engine/settlement"
)

// =============================================================================
// BUY
// =============================================================================

func (d *Dispatcher) resolveBuy(ctx context.Context, res *resolution, a ledger.BuyTransaction) error {
	const op = "compliance.buy"

	tx, err := d.loadPending(ctx, op, a.TransactionID, ledger.TxBuy)
	if err != nil {
		return err
	}

	unlock := d.locks.Lock(productKey(tx.ProductID), holdingKey(tx.InvestorID, tx.ProductID))
	defer unlock()

	product, err := d.loadProduct(ctx, op, tx.ProductID)
	if err != nil {
		return err
	}
	data := map[string]string{
		"product":  product.Name,
		"quantity": fmt.Sprint(tx.Quantity),
		"remarks":  res.req.Remarks,
	}

	if res.rejecting() {
		if err := d.saveTransaction(ctx, tx, ledger.TxRejected); err != nil {
			return err
		}
		if err := d.reject(ctx, res); err != nil {
			return err
		}
		d.announceTrade(ctx, tx, product, ledger.NotifyWarning, "Purchase rejected", data)
		return nil
	}

	if product.Status != ledger.ProductActive {
		return ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInactive, "product %s is %s", product.ID, product.Status)
	}
	if product.AvailableVolume < tx.Quantity {
		return ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInsufficientVolume,
			"available %d, requested %d", product.AvailableVolume, tx.Quantity)
	}

	receipt, err := d.settle(ctx, "settlement.buy", func(ctx context.Context) (settlement.Receipt, error) {
		return d.settler.Buy(ctx, product.ID, tx.InvestorID, tx.Quantity)
	})
	if err != nil {
		d.failTransaction(ctx, tx)
		d.announceTrade(ctx, tx, product, ledger.NotifyError, "Purchase failed", data)
		return d.stall(ctx, res, err)
	}

	product.AvailableVolume -= tx.Quantity
	if err := d.saveProduct(ctx, product); err != nil {
		return d.settledButUnrecorded(ctx, tx, receipt, err)
	}
	if err := d.credit(ctx, tx.InvestorID, product, holdingTerms{
		issuerID:      product.IssuerID,
		ticketSize:    product.TicketSize,
		nonCallPeriod: product.NonCallPeriod,
		maturityDate:  product.MaturityDate,
	}, tx.Quantity); err != nil {
		return d.settledButUnrecorded(ctx, tx, receipt, err)
	}

	tx.TransactionHash = receipt.TransactionHash
	if err := d.saveTransaction(ctx, tx, ledger.TxProcessed); err != nil {
		return err
	}
	if err := d.accept(ctx, res, receipt.TransactionHash); err != nil {
		return err
	}
	d.announceTrade(ctx, tx, product, ledger.NotifySuccess, "Purchase approved", data)
	return nil
}

// =============================================================================
// SELL
// =============================================================================

func (d *Dispatcher) resolveSell(ctx context.Context, res *resolution, a ledger.SellTransaction) error {
	const op = "compliance.sell"

	tx, err := d.loadPending(ctx, op, a.TransactionID, ledger.TxSell)
	if err != nil {
		return err
	}

	unlock := d.locks.Lock(
		productKey(tx.ProductID),
		holdingKey(tx.InvestorID, tx.ProductID),
		holdingKey(tx.ReceiverID, tx.ProductID),
	)
	defer unlock()

	product, err := d.loadProduct(ctx, op, tx.ProductID)
	if err != nil {
		return err
	}
	data := map[string]string{
		"product":  product.Name,
		"quantity": fmt.Sprint(tx.Quantity),
		"remarks":  res.req.Remarks,
	}

	if res.rejecting() {
		if err := d.saveTransaction(ctx, tx, ledger.TxRejected); err != nil {
			return err
		}
		if err := d.reject(ctx, res); err != nil {
			return err
		}
		d.announceTrade(ctx, tx, product, ledger.NotifyWarning, "Sale rejected", data)
		return nil
	}

	seller, err := d.store.FindHolding(ctx, tx.InvestorID, product.ID)
	if err != nil {
		return fmt.Errorf("find holding: %w", err)
	}
	if seller == nil {
		return ledger.Errorf(ledger.KindNotFound, op, ledger.ErrNoPosition,
			"investor %s holds no %s", tx.InvestorID, product.ID)
	}

	if tx.ReturnTokens {
		return d.returnToIssuer(ctx, res, tx, product, seller, data)
	}
	return d.transfer(ctx, res, tx, product, seller, data)
}

// returnToIssuer moves the seller's whole position back to the issuer and
// burns the supply once an inactive product is fully returned.
func (d *Dispatcher) returnToIssuer(ctx context.Context, res *resolution, tx *ledger.Transaction, product *ledger.Product, seller *ledger.Holding, data map[string]string) error {
	const op = "compliance.sell.return"

	amount := seller.AvailableVolume
	if amount <= 0 {
		return ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInsufficientVolume, "holding %s is empty", seller.ID)
	}

	receipt, err := d.settle(ctx, "settlement.sell", func(ctx context.Context) (settlement.Receipt, error) {
		return d.settler.Sell(ctx, product.ID, product.IssuerID, tx.InvestorID, amount)
	})
	if err != nil {
		d.failTransaction(ctx, tx)
		d.announceTrade(ctx, tx, product, ledger.NotifyError, "Return to issuer failed", data)
		return d.stall(ctx, res, err)
	}

	seller.Quantity = 0
	seller.AvailableVolume = 0
	if err := d.saveHolding(ctx, seller); err != nil {
		return d.settledButUnrecorded(ctx, tx, receipt, err)
	}
	product.AvailableVolume += amount
	if product.AvailableVolume > product.Quantity {
		d.log.ErrorContext(ctx, "returned volume exceeds supply",
			slog.String("product_id", product.ID),
			slog.Int64("available", product.AvailableVolume),
			slog.Int64("quantity", product.Quantity),
		)
		product.AvailableVolume = product.Quantity
	}
	if err := d.saveProduct(ctx, product); err != nil {
		return d.settledButUnrecorded(ctx, tx, receipt, err)
	}

	tx.Quantity = amount
	tx.TransactionHash = receipt.TransactionHash
	if err := d.saveTransaction(ctx, tx, ledger.TxProcessed); err != nil {
		return err
	}

	if product.FullyReturned() && product.Status == ledger.ProductInactive {
		d.burnReturned(ctx, product)
	}

	if err := d.accept(ctx, res, receipt.TransactionHash); err != nil {
		return err
	}
	data["quantity"] = fmt.Sprint(amount)
	d.announceTrade(ctx, tx, product, ledger.NotifySuccess, "Tokens returned to issuer", data)
	return nil
}

// burnReturned destroys a fully returned supply. The transfer that led
// here already settled, so a failed burn is reported, not returned.
func (d *Dispatcher) burnReturned(ctx context.Context, product *ledger.Product) {
	receipt, err := d.settle(ctx, "settlement.burn", func(ctx context.Context) (settlement.Receipt, error) {
		return d.settler.Burn(ctx, product.ID, product.IssuerID, product.Quantity)
	})
	if err != nil {
		d.log.ErrorContext(ctx, "burn after return failed",
			slog.String("product_id", product.ID),
			slog.String("error", err.Error()),
		)
		d.notifyCompliance(ctx, entityProduct, product.ID, ledger.NotifyError, "Token burn failed",
			map[string]string{"product": product.Name, "error": err.Error()})
		return
	}
	product.BurnTransactionHash = receipt.TransactionHash
	if err := d.saveProduct(ctx, product); err != nil {
		d.log.ErrorContext(ctx, "burn hash not recorded",
			slog.String("product_id", product.ID),
			slog.String("burn_hash", receipt.TransactionHash),
			slog.String("error", err.Error()),
		)
	}
}

// transfer moves tx.Quantity from the seller to the receiver.
func (d *Dispatcher) transfer(ctx context.Context, res *resolution, tx *ledger.Transaction, product *ledger.Product, seller *ledger.Holding, data map[string]string) error {
	const op = "compliance.sell.transfer"

	pending, err := d.store.FindTransactions(ctx, ledger.TransactionFilter{
		Type:       ledger.TxSell,
		ProductID:  product.ID,
		InvestorID: tx.InvestorID,
		Statuses:   []ledger.TransactionStatus{ledger.TxProcessing},
	})
	if err != nil {
		return fmt.Errorf("find pending sells: %w", err)
	}
	reserved := ledger.ReservedQuantity(pending, tx.ID)
	if seller.AvailableVolume < tx.Quantity+reserved {
		return ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInsufficientVolume,
			"available %d, reserved %d, requested %d", seller.AvailableVolume, reserved, tx.Quantity)
	}

	receipt, err := d.settle(ctx, "settlement.sell", func(ctx context.Context) (settlement.Receipt, error) {
		return d.settler.Sell(ctx, product.ID, tx.ReceiverID, tx.InvestorID, tx.Quantity)
	})
	if err != nil {
		d.failTransaction(ctx, tx)
		d.announceTrade(ctx, tx, product, ledger.NotifyError, "Sale failed", data)
		return d.stall(ctx, res, err)
	}

	seller.Quantity -= tx.Quantity
	seller.AvailableVolume -= tx.Quantity
	if err := d.saveHolding(ctx, seller); err != nil {
		return d.settledButUnrecorded(ctx, tx, receipt, err)
	}
	if err := d.credit(ctx, tx.ReceiverID, product, holdingTerms{
		issuerID:      seller.IssuerID,
		ticketSize:    seller.TicketSize,
		nonCallPeriod: seller.NonCallPeriod,
		maturityDate:  seller.MaturityDate,
	}, tx.Quantity); err != nil {
		return d.settledButUnrecorded(ctx, tx, receipt, err)
	}

	tx.TransactionHash = receipt.TransactionHash
	if err := d.saveTransaction(ctx, tx, ledger.TxProcessed); err != nil {
		return err
	}
	if err := d.accept(ctx, res, receipt.TransactionHash); err != nil {
		return err
	}
	d.announceTrade(ctx, tx, product, ledger.NotifySuccess, "Sale approved", data)
	return nil
}

// =============================================================================
// HOLDING UPSERT
// =============================================================================

type holdingTerms struct {
	issuerID      string
	ticketSize    decimal.Decimal
	nonCallPeriod time.Time
	maturityDate  time.Time
}

// credit adds qty to investorID's holding in product, opening one if needed.
func (d *Dispatcher) credit(ctx context.Context, investorID string, product *ledger.Product, terms holdingTerms, qty int64) error {
	h, err := d.store.FindHolding(ctx, investorID, product.ID)
	if err != nil {
		return fmt.Errorf("find holding: %w", err)
	}
	if h != nil {
		h.Quantity += qty
		h.AvailableVolume += qty
		return d.saveHolding(ctx, h)
	}

	now := d.now()
	return d.store.InsertHolding(ctx, ledger.Holding{
		ID:              uuid.NewString(),
		InvestorID:      investorID,
		ProductID:       product.ID,
		IssuerID:        terms.issuerID,
		Quantity:        qty,
		AvailableVolume: qty,
		AmountReceived:  decimal.Zero,
		AmountRepaid:    decimal.Zero,
		NonCallPeriod:   terms.nonCallPeriod,
		MaturityDate:    terms.maturityDate,
		TicketSize:      terms.ticketSize,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (d *Dispatcher) failTransaction(ctx context.Context, tx *ledger.Transaction) {
	if err := d.saveTransaction(ctx, tx, ledger.TxFailed); err != nil {
		d.log.ErrorContext(ctx, "transaction not marked failed",
			slog.String("transaction_id", tx.ID),
			slog.String("error", err.Error()),
		)
	}
}

// settledButUnrecorded reports a ledger write that failed after the gateway
// already moved the tokens. The request stays Initiated and the hash is
// logged so the movement can be reconciled by hand.
func (d *Dispatcher) settledButUnrecorded(ctx context.Context, tx *ledger.Transaction, receipt settlement.Receipt, err error) error {
	d.log.ErrorContext(ctx, "settled movement not recorded",
		slog.String("transaction_id", tx.ID),
		slog.String("transaction_hash", receipt.TransactionHash),
		slog.String("error", err.Error()),
	)
	return err
}

// announceTrade notifies both parties and compliance.
func (d *Dispatcher) announceTrade(ctx context.Context, tx *ledger.Transaction, product *ledger.Product, typ ledger.NotificationType, text string, data map[string]string) {
	d.notifyUser(ctx, tx.InvestorID, entityTransaction, tx.ID, typ, text, data)
	counterparty := product.IssuerID
	if tx.Type == ledger.TxSell && tx.ReceiverID != "" {
		counterparty = tx.ReceiverID
	}
	d.notifyUser(ctx, counterparty, entityTransaction, tx.ID, typ, text, data)
	d.notifyCompliance(ctx, entityTransaction, tx.ID, typ, text, data)
}
