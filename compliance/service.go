package compliance

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/warp/compliance-engine/ledger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type listStore interface {
	ListComplianceRequests(ctx context.Context, f ledger.ComplianceFilter) ([]ledger.ComplianceRequest, int, error)
	GetUser(ctx context.Context, id string) (*ledger.User, error)
}

// Service answers read queries over compliance requests.
type Service struct {
	store listStore
}

func NewService(store listStore) *Service {
	return &Service{store: store}
}

// Page is one slice of a listing plus the unpaged total.
type Page struct {
	Items []ledger.ComplianceRequest
	Total int
}

// List returns requests matching f, newest first.
func (s *Service) List(ctx context.Context, f ledger.ComplianceFilter) (Page, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	f.Limit = min(f.Limit, maxPageSize)
	f.Offset = max(f.Offset, 0)

	items, total, err := s.store.ListComplianceRequests(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("list compliance requests: %w", err)
	}
	return Page{Items: items, Total: total}, nil
}

// UserRef identifies a user in filter choices.
type UserRef struct {
	ID    string
	Name  string
	Email string
}

// FiltersData lists the values a reviewer can filter by.
type FiltersData struct {
	Actions      []ledger.ActionKind
	Statuses     []ledger.ComplianceStatus
	RelatedUsers []UserRef
}

func (s *Service) FiltersData(ctx context.Context) (FiltersData, error) {
	all, _, err := s.store.ListComplianceRequests(ctx, ledger.ComplianceFilter{})
	if err != nil {
		return FiltersData{}, fmt.Errorf("list compliance requests: %w", err)
	}

	seen := make(map[string]bool)
	var users []UserRef
	for _, r := range all {
		if r.RelatedUserID == "" || seen[r.RelatedUserID] {
			continue
		}
		seen[r.RelatedUserID] = true
		u, err := s.store.GetUser(ctx, r.RelatedUserID)
		if err != nil {
			return FiltersData{}, fmt.Errorf("load user %s: %w", r.RelatedUserID, err)
		}
		if u == nil {
			continue
		}
		users = append(users, UserRef{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	slices.SortFunc(users, func(a, b UserRef) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})

	return FiltersData{
		Actions:      slices.Clone(ledger.ActionKinds),
		Statuses:     slices.Clone(ledger.ComplianceStatuses),
		RelatedUsers: users,
	}, nil
}
