// Package store provides an in-memory ledger.Store.
package store

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/warp/compliance-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every collection in a map. Each method is atomic on its
// own; nothing spans two calls, which matches the per-document guarantee
// of the production store.
type Memory struct {
	mu            sync.RWMutex
	products      map[string]ledger.Product
	holdings      map[string]ledger.Holding
	transactions  map[string]ledger.Transaction
	compliance    map[string]ledger.ComplianceRequest
	notifications []ledger.Notification
	users         map[string]ledger.User
}

var _ ledger.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		products:     make(map[string]ledger.Product),
		holdings:     make(map[string]ledger.Holding),
		transactions: make(map[string]ledger.Transaction),
		compliance:   make(map[string]ledger.ComplianceRequest),
		users:        make(map[string]ledger.User),
	}
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, id string) (*ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) InsertProduct(_ context.Context, p ledger.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; ok {
		return errDuplicate("product", p.ID)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	m.products[p.ID] = p
	return nil
}

func (m *Memory) UpdateProduct(_ context.Context, p ledger.Product) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.products[p.ID]
	if !ok {
		return 0, ledger.NotFound("store.update_product", "product", p.ID)
	}
	if cur.Version != p.Version {
		return 0, ledger.ErrConcurrentModification
	}
	p.Version++
	m.products[p.ID] = p
	return p.Version, nil
}

func (m *Memory) ListProductsByIssuer(_ context.Context, issuerID string) ([]ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Product
	for _, p := range m.products {
		if p.IssuerID == issuerID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b ledger.Product) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *Memory) DeleteProduct(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
	return nil
}

// =============================================================================
// HOLDINGS
// =============================================================================

func (m *Memory) GetHolding(_ context.Context, id string) (*ledger.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holdings[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (m *Memory) FindHolding(_ context.Context, investorID, productID string) (*ledger.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.holdings {
		if h.InvestorID == investorID && h.ProductID == productID {
			return &h, nil
		}
	}
	return nil, nil
}

func (m *Memory) InsertHolding(_ context.Context, h ledger.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holdings[h.ID]; ok {
		return errDuplicate("holding", h.ID)
	}
	for _, existing := range m.holdings {
		if existing.InvestorID == h.InvestorID && existing.ProductID == h.ProductID {
			return errDuplicate("holding", h.InvestorID+"/"+h.ProductID)
		}
	}
	if h.Version == 0 {
		h.Version = 1
	}
	m.holdings[h.ID] = h
	return nil
}

func (m *Memory) UpdateHolding(_ context.Context, h ledger.Holding) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.holdings[h.ID]
	if !ok {
		return 0, ledger.NotFound("store.update_holding", "holding", h.ID)
	}
	if cur.Version != h.Version {
		return 0, ledger.ErrConcurrentModification
	}
	h.Version++
	m.holdings[h.ID] = h
	return h.Version, nil
}

func (m *Memory) ListHoldingsByProduct(_ context.Context, productID string) ([]ledger.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Holding
	for _, h := range m.holdings {
		if h.ProductID == productID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvestorID < out[j].InvestorID })
	return out, nil
}

func (m *Memory) DeleteHoldingsByInvestor(_ context.Context, investorID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, h := range m.holdings {
		if h.InvestorID == investorID {
			delete(m.holdings, id)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (m *Memory) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.ID]; ok {
		return errDuplicate("transaction", tx.ID)
	}
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.ID]; !ok {
		return ledger.NotFound("store.update_transaction", "transaction", tx.ID)
	}
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) FindTransactions(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Transaction
	for _, tx := range m.transactions {
		if matchTransaction(tx, f) {
			out = append(out, tx)
		}
	}
	slices.SortFunc(out, func(a, b ledger.Transaction) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func matchTransaction(tx ledger.Transaction, f ledger.TransactionFilter) bool {
	switch {
	case f.Type != "" && tx.Type != f.Type:
		return false
	case f.ProductID != "" && tx.ProductID != f.ProductID:
		return false
	case f.InvestorID != "" && tx.InvestorID != f.InvestorID:
		return false
	case f.PaymentType != "" && tx.PaymentType != f.PaymentType:
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, tx.Status):
		return false
	case !f.UpdatedAfter.IsZero() && tx.UpdatedAt.Before(f.UpdatedAfter):
		return false
	case !f.UpdatedBefore.IsZero() && !tx.UpdatedAt.Before(f.UpdatedBefore):
		return false
	}
	return true
}

func (m *Memory) DeleteTransactionsByInvestor(_ context.Context, investorID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, tx := range m.transactions {
		if tx.InvestorID == investorID {
			delete(m.transactions, id)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// COMPLIANCE REQUESTS
// =============================================================================

func (m *Memory) GetComplianceRequest(_ context.Context, id string) (*ledger.ComplianceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.compliance[id]
	if !ok {
		return nil, nil
	}
	r.Action.Investors = slices.Clone(r.Action.Investors)
	return &r, nil
}

func (m *Memory) InsertComplianceRequest(_ context.Context, r ledger.ComplianceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.compliance[r.ID]; ok {
		return errDuplicate("compliance request", r.ID)
	}
	r.Action.Investors = slices.Clone(r.Action.Investors)
	m.compliance[r.ID] = r
	return nil
}

func (m *Memory) UpdateComplianceRequest(_ context.Context, r ledger.ComplianceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.compliance[r.ID]; !ok {
		return ledger.NotFound("store.update_compliance", "compliance request", r.ID)
	}
	r.Action.Investors = slices.Clone(r.Action.Investors)
	m.compliance[r.ID] = r
	return nil
}

func (m *Memory) ListComplianceRequests(_ context.Context, f ledger.ComplianceFilter) ([]ledger.ComplianceRequest, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.ComplianceRequest
	for _, r := range m.compliance {
		switch {
		case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status):
			continue
		case len(f.Actions) > 0 && !slices.Contains(f.Actions, r.Action.Name):
			continue
		case f.RelatedUserID != "" && r.RelatedUserID != f.RelatedUserID:
			continue
		case f.CreatorID != "" && r.Creator.ID != f.CreatorID:
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return strings.Compare(out[i].ID, out[j].ID) > 0
		}
		return out[i].Date.After(out[j].Date)
	})
	total := len(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			out = nil
		} else {
			out = out[f.Offset:]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *Memory) DeleteComplianceRequestsByUser(_ context.Context, userID, exceptID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.compliance {
		if id == exceptID {
			continue
		}
		if r.RelatedUserID == userID || r.Creator.ID == userID {
			delete(m.compliance, id)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (m *Memory) InsertNotification(_ context.Context, n ledger.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

// ListNotifications returns notifications for receiverID, newest first.
// An empty receiverID lists compliance notifications.
func (m *Memory) ListNotifications(_ context.Context, receiverID string, limit int) ([]ledger.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if receiverID == "" && !n.IsCompliance {
			continue
		}
		if receiverID != "" && n.ReceiverID != receiverID {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) DeleteNotificationsByUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.notifications[:0]
	n := 0
	for _, note := range m.notifications {
		if note.ReceiverID == userID {
			n++
			continue
		}
		kept = append(kept, note)
	}
	m.notifications = kept
	return n, nil
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) GetUser(_ context.Context, id string) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) FindUserByEmail(_ context.Context, email string) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *Memory) InsertUser(_ context.Context, u ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return errDuplicate("user", u.ID)
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) UpdateUser(_ context.Context, u ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ledger.NotFound("store.update_user", "user", u.ID)
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func errDuplicate(entity, id string) error {
	return ledger.Errorf(ledger.KindBusiness, "store.insert", nil, "%s %s already exists", entity, id)
}
