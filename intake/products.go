package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/compliance-engine/ledger"
)

// NewProduct is a listing submitted by an issuer.
type NewProduct struct {
	Name             string
	Symbol           string
	Quantity         int64
	TicketSize       decimal.Decimal
	CouponRate       decimal.Decimal
	PaymentFrequency ledger.PaymentFrequency
	NonCallPeriod    time.Time
	MaturityDate     time.Time
}

func (p NewProduct) validate(op string) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return invalid(op, "name is required")
	case strings.TrimSpace(p.Symbol) == "":
		return invalid(op, "symbol is required")
	case p.Quantity <= 0:
		return invalid(op, "quantity must be positive")
	case !p.TicketSize.IsPositive():
		return invalid(op, "ticket size must be positive")
	case p.CouponRate.IsNegative():
		return invalid(op, "coupon rate cannot be negative")
	case !p.MaturityDate.IsZero() && !p.NonCallPeriod.IsZero() && p.MaturityDate.Before(p.NonCallPeriod):
		return invalid(op, "maturity date precedes non-call period")
	}
	if _, err := ledger.PaymentsPerYear(p.PaymentFrequency); err != nil {
		return invalid(op, "%v", err)
	}
	return nil
}

// RequestAddProduct lists a processing product with its whole supply
// available.
func (s *Service) RequestAddProduct(ctx context.Context, issuerID string, in NewProduct) (*ledger.ComplianceRequest, error) {
	const op = "intake.add_product"

	if err := in.validate(op); err != nil {
		return nil, err
	}
	if _, err := s.activeUser(ctx, op, issuerID, ledger.RoleIssuer); err != nil {
		return nil, err
	}

	now := s.now()
	product := ledger.Product{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(in.Name),
		Symbol:           strings.ToUpper(strings.TrimSpace(in.Symbol)),
		IssuerID:         issuerID,
		Quantity:         in.Quantity,
		AvailableVolume:  in.Quantity,
		TicketSize:       in.TicketSize,
		CouponRate:       in.CouponRate,
		PaymentFrequency: in.PaymentFrequency,
		NonCallPeriod:    in.NonCallPeriod,
		MaturityDate:     in.MaturityDate,
		Status:           ledger.ProductProcessing,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.InsertProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}

	return s.submit(ctx, userCreator(issuerID), issuerID, ledger.ActionInfo{
		Entity:     "product",
		EntityName: product.Name,
		EntityID:   product.ID,
		Payload:    ledger.AddProduct{ProductID: product.ID},
	})
}

// RequestDeactivateProduct flags an active product for delisting.
func (s *Service) RequestDeactivateProduct(ctx context.Context, issuerID, productID string) (*ledger.ComplianceRequest, error) {
	const op = "intake.deactivate_product"

	unlock := s.locks.Lock(productKey(productID))
	defer unlock()

	product, err := s.product(ctx, op, productID)
	if err != nil {
		return nil, err
	}
	if product.IssuerID != issuerID {
		return nil, ledger.Errorf(ledger.KindForbidden, op, nil, "product %s belongs to another issuer", productID)
	}
	if product.Status != ledger.ProductActive {
		return nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInactive, "product %s is %s", productID, product.Status)
	}
	if product.IsRequestDeactivate {
		return nil, ledger.E(ledger.KindBusiness, op, ledger.ErrDeactivatePending)
	}

	product.IsRequestDeactivate = true
	product.UpdatedAt = s.now()
	if _, err := s.store.UpdateProduct(ctx, *product); err != nil {
		return nil, fmt.Errorf("update product %s: %w", productID, err)
	}

	return s.submit(ctx, userCreator(issuerID), issuerID, ledger.ActionInfo{
		Entity:     "product",
		EntityName: product.Name,
		EntityID:   product.ID,
		Payload:    ledger.DeactivateProduct{ProductID: product.ID},
	})
}

func userCreator(id string) ledger.Creator {
	return ledger.Creator{Type: ledger.CreatorUser, ID: id}
}
