package intake

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/compliance-engine/ledger"
)

// =============================================================================
// BUY
// =============================================================================

func (s *Service) RequestBuy(ctx context.Context, investorID, productID string, quantity int64) (*ledger.ComplianceRequest, error) {
	const op = "intake.buy"

	if quantity <= 0 {
		return nil, invalid(op, "quantity must be positive")
	}
	if _, err := s.activeUser(ctx, op, investorID, ledger.RoleInvestor); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(productKey(productID))
	defer unlock()

	product, err := s.product(ctx, op, productID)
	if err != nil {
		return nil, err
	}
	if product.Status != ledger.ProductActive || product.IsRequestDeactivate {
		return nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInactive, "product %s is not open for purchase", productID)
	}

	buys, err := s.pending(ctx, ledger.TransactionFilter{Type: ledger.TxBuy, ProductID: productID})
	if err != nil {
		return nil, err
	}
	reserved := ledger.ReservedQuantity(buys, "")
	if short := ledger.VolumeShortfall(product.AvailableVolume, reserved, quantity); short > 0 {
		return nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInsufficientVolume,
			"available %d, reserved %d, requested %d", product.AvailableVolume, reserved, quantity)
	}

	tx := s.newTransaction(ledger.TxBuy, product.ID, investorID, product.IssuerID, product.IssuerID, quantity, product.TicketSize)
	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	return s.submit(ctx, userCreator(investorID), investorID, ledger.ActionInfo{
		Entity:     "transaction",
		EntityName: product.Name,
		EntityID:   tx.ID,
		Receiver:   product.IssuerID,
		Payload:    ledger.BuyTransaction{TransactionID: tx.ID},
	})
}

// =============================================================================
// SELL
// =============================================================================

// SellOrder describes a sale. With ReturnTokens the whole position goes
// back to the issuer and Quantity and ReceiverID are ignored.
type SellOrder struct {
	SellerID     string
	ProductID    string
	Quantity     int64
	ReceiverID   string
	ReturnTokens bool
}

func (s *Service) RequestSell(ctx context.Context, order SellOrder) (*ledger.ComplianceRequest, error) {
	const op = "intake.sell"

	if !order.ReturnTokens {
		if order.Quantity <= 0 {
			return nil, invalid(op, "quantity must be positive")
		}
		if order.ReceiverID == "" {
			return nil, invalid(op, "receiver is required")
		}
		if order.ReceiverID == order.SellerID {
			return nil, invalid(op, "cannot sell to yourself")
		}
	}

	product, err := s.product(ctx, op, order.ProductID)
	if err != nil {
		return nil, err
	}
	if order.ReturnTokens {
		order.ReceiverID = product.IssuerID
	} else if _, err := s.activeUser(ctx, op, order.ReceiverID, ledger.RoleInvestor); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(holdingKey(order.SellerID, product.ID))
	defer unlock()

	h, err := s.store.FindHolding(ctx, order.SellerID, product.ID)
	if err != nil {
		return nil, fmt.Errorf("find holding: %w", err)
	}
	if h == nil {
		return nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrNoPosition,
			"investor %s holds no %s", order.SellerID, product.ID)
	}

	if order.ReturnTokens {
		order.Quantity = h.AvailableVolume
		if order.Quantity <= 0 {
			return nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInsufficientVolume, "nothing to return")
		}
	} else if ledger.InNonCallPeriod(h, s.now()) {
		return nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrNonCallPeriod,
			"sellable from %s", h.NonCallPeriod.Format("2006-01-02"))
	}

	sells, err := s.pending(ctx, ledger.TransactionFilter{Type: ledger.TxSell, ProductID: product.ID, InvestorID: order.SellerID})
	if err != nil {
		return nil, err
	}
	reserved := ledger.ReservedQuantity(sells, "")
	if short := ledger.VolumeShortfall(h.AvailableVolume, reserved, order.Quantity); short > 0 {
		return nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInsufficientVolume,
			"available %d, reserved %d, requested %d", h.AvailableVolume, reserved, order.Quantity)
	}

	tx := s.newTransaction(ledger.TxSell, product.ID, order.SellerID, order.ReceiverID, product.IssuerID, order.Quantity, h.TicketSize)
	tx.ReturnTokens = order.ReturnTokens
	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	return s.submit(ctx, userCreator(order.SellerID), order.SellerID, ledger.ActionInfo{
		Entity:     "transaction",
		EntityName: product.Name,
		EntityID:   tx.ID,
		Receiver:   order.ReceiverID,
		Payload:    ledger.SellTransaction{TransactionID: tx.ID},
	})
}

func (s *Service) newTransaction(t ledger.TransactionType, productID, investorID, receiverID, issuerID string, qty int64, ticketSize decimal.Decimal) ledger.Transaction {
	now := s.now()
	return ledger.Transaction{
		ID:         uuid.NewString(),
		Type:       t,
		ProductID:  productID,
		InvestorID: investorID,
		ReceiverID: receiverID,
		IssuerID:   issuerID,
		Quantity:   qty,
		Amount:     ledger.RoundMoney(ticketSize.Mul(decimal.NewFromInt(qty))),
		TicketSize: ticketSize,
		Status:     ledger.TxProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
