package sqlite

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/warp/compliance-engine/ledger"
)

// =============================================================================
// PRODUCTS
// =============================================================================

var productColumns = []string{
	"id", "name", "symbol", "issuer_id", "quantity", "available_volume",
	"ticket_size", "coupon_rate", "payment_frequency", "non_call_period", "maturity_date",
	"status", "is_request_deactivate", "transaction_hash", "burn_transaction_hash",
	"version", "created_at", "updated_at",
}

func scanProduct(row rowScanner) (ledger.Product, error) {
	var (
		p                                   ledger.Product
		ticketSize, couponRate              string
		nonCall, maturity, created, updated string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Symbol, &p.IssuerID, &p.Quantity, &p.AvailableVolume,
		&ticketSize, &couponRate, &p.PaymentFrequency, &nonCall, &maturity,
		&p.Status, &p.IsRequestDeactivate, &p.TransactionHash, &p.BurnTransactionHash,
		&p.Version, &created, &updated,
	)
	if err != nil {
		return p, err
	}
	var d decoder
	p.TicketSize = d.decimal(ticketSize)
	p.CouponRate = d.decimal(couponRate)
	p.NonCallPeriod = d.time(nonCall)
	p.MaturityDate = d.time(maturity)
	p.CreatedAt = d.time(created)
	p.UpdatedAt = d.time(updated)
	return p, d.err
}

func (s *Store) GetProduct(ctx context.Context, id string) (*ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOne(ctx, s, psql.Select(productColumns...).From("products").Where(sq.Eq{"id": id}), scanProduct)
}

func (s *Store) InsertProduct(ctx context.Context, p ledger.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Version == 0 {
		p.Version = 1
	}
	_, err := s.exec(ctx, psql.Insert("products").Columns(productColumns...).Values(
		p.ID, p.Name, p.Symbol, p.IssuerID, p.Quantity, p.AvailableVolume,
		p.TicketSize.String(), p.CouponRate.String(), p.PaymentFrequency,
		formatTime(p.NonCallPeriod), formatTime(p.MaturityDate),
		p.Status, p.IsRequestDeactivate, p.TransactionHash, p.BurnTransactionHash,
		p.Version, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	))
	return duplicate(err, "product", p.ID)
}

func (s *Store) UpdateProduct(ctx context.Context, p ledger.Product) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.casUpdate(ctx, "products", p.ID, p.Version, psql.Update("products").SetMap(map[string]any{
		"name":                  p.Name,
		"symbol":                p.Symbol,
		"available_volume":      p.AvailableVolume,
		"ticket_size":           p.TicketSize.String(),
		"coupon_rate":           p.CouponRate.String(),
		"payment_frequency":     p.PaymentFrequency,
		"non_call_period":       formatTime(p.NonCallPeriod),
		"maturity_date":         formatTime(p.MaturityDate),
		"status":                p.Status,
		"is_request_deactivate": p.IsRequestDeactivate,
		"transaction_hash":      p.TransactionHash,
		"burn_transaction_hash": p.BurnTransactionHash,
		"updated_at":            formatTime(p.UpdatedAt),
	}))
}

func (s *Store) ListProductsByIssuer(ctx context.Context, issuerID string) ([]ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAll(ctx, s, psql.Select(productColumns...).From("products").
		Where(sq.Eq{"issuer_id": issuerID}).
		OrderBy("created_at ASC"), scanProduct)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.exec(ctx, psql.Delete("products").Where(sq.Eq{"id": id}))
	return err
}
