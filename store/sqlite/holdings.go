package sqlite

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/warp/compliance-engine/ledger"
)

// =============================================================================
// HOLDINGS
// =============================================================================

var holdingColumns = []string{
	"id", "investor_id", "product_id", "issuer_id", "quantity", "available_volume",
	"amount_received", "amount_repaid", "non_call_period", "maturity_date", "ticket_size",
	"version", "created_at", "updated_at",
}

func scanHolding(row rowScanner) (ledger.Holding, error) {
	var (
		h                                   ledger.Holding
		received, repaid, ticketSize        string
		nonCall, maturity, created, updated string
	)
	err := row.Scan(
		&h.ID, &h.InvestorID, &h.ProductID, &h.IssuerID, &h.Quantity, &h.AvailableVolume,
		&received, &repaid, &nonCall, &maturity, &ticketSize,
		&h.Version, &created, &updated,
	)
	if err != nil {
		return h, err
	}
	var d decoder
	h.AmountReceived = d.decimal(received)
	h.AmountRepaid = d.decimal(repaid)
	h.TicketSize = d.decimal(ticketSize)
	h.NonCallPeriod = d.time(nonCall)
	h.MaturityDate = d.time(maturity)
	h.CreatedAt = d.time(created)
	h.UpdatedAt = d.time(updated)
	return h, d.err
}

func (s *Store) GetHolding(ctx context.Context, id string) (*ledger.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOne(ctx, s, psql.Select(holdingColumns...).From("holdings").Where(sq.Eq{"id": id}), scanHolding)
}

func (s *Store) FindHolding(ctx context.Context, investorID, productID string) (*ledger.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOne(ctx, s, psql.Select(holdingColumns...).From("holdings").
		Where(sq.Eq{"investor_id": investorID, "product_id": productID}), scanHolding)
}

func (s *Store) InsertHolding(ctx context.Context, h ledger.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.Version == 0 {
		h.Version = 1
	}
	_, err := s.exec(ctx, psql.Insert("holdings").Columns(holdingColumns...).Values(
		h.ID, h.InvestorID, h.ProductID, h.IssuerID, h.Quantity, h.AvailableVolume,
		h.AmountReceived.String(), h.AmountRepaid.String(),
		formatTime(h.NonCallPeriod), formatTime(h.MaturityDate), h.TicketSize.String(),
		h.Version, formatTime(h.CreatedAt), formatTime(h.UpdatedAt),
	))
	return duplicate(err, "holding", h.InvestorID+"/"+h.ProductID)
}

func (s *Store) UpdateHolding(ctx context.Context, h ledger.Holding) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.casUpdate(ctx, "holdings", h.ID, h.Version, psql.Update("holdings").SetMap(map[string]any{
		"quantity":         h.Quantity,
		"available_volume": h.AvailableVolume,
		"amount_received":  h.AmountReceived.String(),
		"amount_repaid":    h.AmountRepaid.String(),
		"non_call_period":  formatTime(h.NonCallPeriod),
		"maturity_date":    formatTime(h.MaturityDate),
		"ticket_size":      h.TicketSize.String(),
		"updated_at":       formatTime(h.UpdatedAt),
	}))
}

func (s *Store) ListHoldingsByProduct(ctx context.Context, productID string) ([]ledger.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAll(ctx, s, psql.Select(holdingColumns...).From("holdings").
		Where(sq.Eq{"product_id": productID}).
		OrderBy("investor_id ASC"), scanHolding)
}

func (s *Store) DeleteHoldingsByInvestor(ctx context.Context, investorID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.affected(ctx, psql.Delete("holdings").Where(sq.Eq{"investor_id": investorID}))
}
