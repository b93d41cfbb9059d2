package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/warp/compliance-engine/factory"
	"github.com/warp/compliance-engine/ledger"
)

// =============================================================================
// COMPLIANCE REQUESTS
// =============================================================================

var complianceColumns = []string{
	"id", "date", "action_name", "action_value", "entity", "entity_name", "entity_id",
	"receiver", "investors_json", "payment_type", "related_user_id",
	"creator_type", "creator_id", "status", "remarks", "transaction_hash", "updated_at",
}

func scanComplianceRequest(row rowScanner) (ledger.ComplianceRequest, error) {
	var (
		r                         ledger.ComplianceRequest
		date, updated             string
		actionValue, investorsRaw string
	)
	err := row.Scan(
		&r.ID, &date, &r.Action.Name, &actionValue, &r.Action.Entity, &r.Action.EntityName, &r.Action.EntityID,
		&r.Action.Receiver, &investorsRaw, &r.Action.PaymentType, &r.RelatedUserID,
		&r.Creator.Type, &r.Creator.ID, &r.Status, &r.Remarks, &r.TransactionHash, &updated,
	)
	if err != nil {
		return r, err
	}

	var d decoder
	r.Date = d.time(date)
	r.UpdatedAt = d.time(updated)
	if d.err != nil {
		return r, d.err
	}
	if err := json.Unmarshal([]byte(investorsRaw), &r.Action.Investors); err != nil {
		return r, fmt.Errorf("decode investors of %s: %w", r.ID, err)
	}
	payload, err := factory.DecodeAction(r.Action.Name, []byte(actionValue))
	if err != nil {
		return r, fmt.Errorf("decode action of %s: %w", r.ID, err)
	}
	r.Action.Payload = payload
	return r, nil
}

func complianceValues(r ledger.ComplianceRequest) ([]any, error) {
	name, value, err := factory.EncodeAction(r.Action.Payload)
	if err != nil {
		return nil, err
	}
	investors := r.Action.Investors
	if investors == nil {
		investors = []string{}
	}
	investorsRaw, err := json.Marshal(investors)
	if err != nil {
		return nil, fmt.Errorf("encode investors: %w", err)
	}
	return []any{
		r.ID, formatTime(r.Date), name, string(value),
		r.Action.Entity, r.Action.EntityName, r.Action.EntityID,
		r.Action.Receiver, string(investorsRaw), r.Action.PaymentType, r.RelatedUserID,
		r.Creator.Type, r.Creator.ID, r.Status, r.Remarks, r.TransactionHash, formatTime(r.UpdatedAt),
	}, nil
}

func (s *Store) GetComplianceRequest(ctx context.Context, id string) (*ledger.ComplianceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOne(ctx, s, psql.Select(complianceColumns...).From("compliance_requests").Where(sq.Eq{"id": id}), scanComplianceRequest)
}

func (s *Store) InsertComplianceRequest(ctx context.Context, r ledger.ComplianceRequest) error {
	values, err := complianceValues(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.exec(ctx, psql.Insert("compliance_requests").Columns(complianceColumns...).Values(values...))
	return duplicate(err, "compliance request", r.ID)
}

// UpdateComplianceRequest rewrites the whole row.
func (s *Store) UpdateComplianceRequest(ctx context.Context, r ledger.ComplianceRequest) error {
	values, err := complianceValues(r)
	if err != nil {
		return err
	}
	set := make(map[string]any, len(complianceColumns)-1)
	for i, col := range complianceColumns[1:] {
		set[col] = values[i+1]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.affected(ctx, psql.Update("compliance_requests").SetMap(set).Where(sq.Eq{"id": r.ID}))
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound("store.update_compliance", "compliance request", r.ID)
	}
	return nil
}

func (s *Store) ListComplianceRequests(ctx context.Context, f ledger.ComplianceFilter) ([]ledger.ComplianceRequest, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := sq.And{}
	if len(f.Statuses) > 0 {
		where = append(where, sq.Eq{"status": statusStrings(f.Statuses)})
	}
	if len(f.Actions) > 0 {
		where = append(where, sq.Eq{"action_name": statusStrings(f.Actions)})
	}
	if f.RelatedUserID != "" {
		where = append(where, sq.Eq{"related_user_id": f.RelatedUserID})
	}
	if f.CreatorID != "" {
		where = append(where, sq.Eq{"creator_id": f.CreatorID})
	}

	count := psql.Select("COUNT(*)").From("compliance_requests")
	list := psql.Select(complianceColumns...).From("compliance_requests").OrderBy("date DESC", "id DESC")
	if len(where) > 0 {
		count = count.Where(where)
		list = list.Where(where)
	}
	if f.Limit > 0 {
		list = list.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			list = list.Limit(uint64(1<<63 - 1))
		}
		list = list.Offset(uint64(f.Offset))
	}

	query, args, err := count.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build query: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count compliance requests: %w", err)
	}

	items, err := queryAll(ctx, s, list, scanComplianceRequest)
	if err != nil {
		return nil, 0, fmt.Errorf("list compliance requests: %w", err)
	}
	return items, total, nil
}

func (s *Store) DeleteComplianceRequestsByUser(ctx context.Context, userID, exceptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.affected(ctx, psql.Delete("compliance_requests").Where(sq.And{
		sq.Or{sq.Eq{"related_user_id": userID}, sq.Eq{"creator_id": userID}},
		sq.NotEq{"id": exceptID},
	}))
}
