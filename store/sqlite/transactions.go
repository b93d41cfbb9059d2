package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/warp/compliance-engine/ledger"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

var transactionColumns = []string{
	"id", "type", "product_id", "investor_id", "receiver_id", "issuer_id",
	"quantity", "amount", "payment_type", "ticket_size", "return_tokens",
	"status", "transaction_hash", "created_at", "updated_at",
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		tx                 ledger.Transaction
		amount, ticketSize string
		created, updated   string
	)
	err := row.Scan(
		&tx.ID, &tx.Type, &tx.ProductID, &tx.InvestorID, &tx.ReceiverID, &tx.IssuerID,
		&tx.Quantity, &amount, &tx.PaymentType, &ticketSize, &tx.ReturnTokens,
		&tx.Status, &tx.TransactionHash, &created, &updated,
	)
	if err != nil {
		return tx, err
	}
	var d decoder
	tx.Amount = d.decimal(amount)
	tx.TicketSize = d.decimal(ticketSize)
	tx.CreatedAt = d.time(created)
	tx.UpdatedAt = d.time(updated)
	return tx, d.err
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOne(ctx, s, psql.Select(transactionColumns...).From("transactions").Where(sq.Eq{"id": id}), scanTransaction)
}

func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.exec(ctx, psql.Insert("transactions").Columns(transactionColumns...).Values(
		tx.ID, tx.Type, tx.ProductID, tx.InvestorID, tx.ReceiverID, tx.IssuerID,
		tx.Quantity, tx.Amount.String(), tx.PaymentType, tx.TicketSize.String(), tx.ReturnTokens,
		tx.Status, tx.TransactionHash, formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt),
	))
	return duplicate(err, "transaction", tx.ID)
}

func (s *Store) UpdateTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.affected(ctx, psql.Update("transactions").SetMap(map[string]any{
		"receiver_id":      tx.ReceiverID,
		"quantity":         tx.Quantity,
		"amount":           tx.Amount.String(),
		"status":           tx.Status,
		"transaction_hash": tx.TransactionHash,
		"updated_at":       formatTime(tx.UpdatedAt),
	}).Where(sq.Eq{"id": tx.ID}))
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound("store.update_transaction", "transaction", tx.ID)
	}
	return nil
}

func (s *Store) FindTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := sq.And{}
	if f.Type != "" {
		where = append(where, sq.Eq{"type": f.Type})
	}
	if f.ProductID != "" {
		where = append(where, sq.Eq{"product_id": f.ProductID})
	}
	if f.InvestorID != "" {
		where = append(where, sq.Eq{"investor_id": f.InvestorID})
	}
	if f.PaymentType != "" {
		where = append(where, sq.Eq{"payment_type": f.PaymentType})
	}
	if len(f.Statuses) > 0 {
		where = append(where, sq.Eq{"status": statusStrings(f.Statuses)})
	}
	if !f.UpdatedAfter.IsZero() {
		where = append(where, sq.GtOrEq{"updated_at": formatTime(f.UpdatedAfter)})
	}
	if !f.UpdatedBefore.IsZero() {
		where = append(where, sq.Lt{"updated_at": formatTime(f.UpdatedBefore)})
	}

	b := psql.Select(transactionColumns...).From("transactions").OrderBy("created_at ASC", "id ASC")
	if len(where) > 0 {
		b = b.Where(where)
	}
	txs, err := queryAll(ctx, s, b, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	return txs, nil
}

func (s *Store) DeleteTransactionsByInvestor(ctx context.Context, investorID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.affected(ctx, psql.Delete("transactions").Where(sq.Eq{"investor_id": investorID}))
}

func statusStrings[S ~string](in []S) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
