/*
Package intake turns a privileged request into a pending record plus an
Initiated compliance request.

FLOW (every operation):
  1. Admissibility check against committed state   -> Validation/Business/NotFound/Forbidden
  2. Insert the pending domain record               (processing / flag set)
  3. Insert the paired ComplianceRequest             (Initiated)
  4. Tell compliance reviewers                       (best-effort)

  A failed check creates nothing. Steps 2 and 3 are two independent
  writes; a crash between them leaves a pending record with no request.
  That gap is accepted: there is no cross-collection transaction.

RESERVATION:
  Pending transactions reserve volume. A buy is admissible when
  product.AvailableVolume - pending buys - quantity >= 0; a sell when
  holding.AvailableVolume - seller's pending sells - quantity >= 0.
  Checks and inserts run under the same entity locks the dispatcher uses,
  so two intakes cannot both claim the last ticket.

SEE ALSO:
  - compliance/: resolves the requests created here
  - ledger/money.go: ReservedQuantity, VolumeShortfall, PaymentAmount
*/
package intake

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/warp/compliance-engine/directory"
	"github.com/warp/compliance-engine/ledger"
)

// AccountCreator opens disabled login accounts.
type AccountCreator interface {
	CreateUser(ctx context.Context, p directory.Profile) (string, error)
}

// Notifier records notifications.
type Notifier interface {
	Create(ctx context.Context, n ledger.Notification)
}

type Service struct {
	store     ledger.Store
	directory AccountCreator
	notifier  Notifier
	locks     *ledger.Locks
	log       *slog.Logger
	now       ledger.Clock
}

type Option func(*Service)

func WithClock(c ledger.Clock) Option { return func(s *Service) { s.now = c } }

// WithLocks shares entity locks with the dispatcher.
func WithLocks(l *ledger.Locks) Option { return func(s *Service) { s.locks = l } }

func NewService(log *slog.Logger, store ledger.Store, dir AccountCreator, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: dir,
		notifier:  notifier,
		locks:     ledger.NewLocks(),
		log:       log,
		now:       ledger.SystemClock,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// submit stores an Initiated request for info and tells reviewers.
func (s *Service) submit(ctx context.Context, creator ledger.Creator, relatedUserID string, info ledger.ActionInfo) (*ledger.ComplianceRequest, error) {
	now := s.now()
	info.Name = info.Payload.Kind()
	req := ledger.ComplianceRequest{
		ID:            uuid.NewString(),
		Date:          now,
		Action:        info,
		RelatedUserID: relatedUserID,
		Creator:       creator,
		Status:        ledger.ComplianceInitiated,
		UpdatedAt:     now,
	}
	if err := s.store.InsertComplianceRequest(ctx, req); err != nil {
		s.log.ErrorContext(ctx, "pending record has no compliance request",
			slog.String("action", string(info.Name)),
			slog.String("entity_id", info.EntityID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("insert compliance request: %w", err)
	}

	s.notifier.Create(ctx, ledger.Notification{
		EntityType:      "compliance",
		RelatedEntityID: req.ID,
		Text:            "New compliance request",
		IsCompliance:    true,
		Type:            ledger.NotifyInfo,
		TranslationData: map[string]string{
			"action":     string(info.Name),
			"entity":     info.Entity,
			"entityName": info.EntityName,
		},
	})
	s.log.InfoContext(ctx, "compliance request created",
		slog.String("request_id", req.ID),
		slog.String("action", string(info.Name)),
		slog.String("entity_id", info.EntityID),
		slog.String("creator_id", creator.ID),
	)
	return &req, nil
}

// =============================================================================
// LOADERS
// =============================================================================

func (s *Service) user(ctx context.Context, op, id string) (*ledger.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	if u == nil {
		return nil, ledger.NotFound(op, "user", id)
	}
	return u, nil
}

// activeUser loads id and requires it to be an active account with role.
func (s *Service) activeUser(ctx context.Context, op, id string, role ledger.Role) (*ledger.User, error) {
	u, err := s.user(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if u.Role != role {
		return nil, ledger.Errorf(ledger.KindForbidden, op, nil, "user %s is not an %s", id, role)
	}
	if u.Status != ledger.UserActive {
		return nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInactive, "user %s is %s", id, u.Status)
	}
	return u, nil
}

func (s *Service) product(ctx context.Context, op, id string) (*ledger.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", id, err)
	}
	if p == nil {
		return nil, ledger.NotFound(op, "product", id)
	}
	return p, nil
}

func (s *Service) pending(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	f.Statuses = []ledger.TransactionStatus{ledger.TxProcessing}
	txs, err := s.store.FindTransactions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("find pending transactions: %w", err)
	}
	return txs, nil
}

func productKey(id string) string { return "product:" + id }

func holdingKey(investorID, productID string) string {
	return "holding:" + investorID + "/" + productID
}

func userKey(id string) string { return "user:" + id }

func invalid(op, format string, args ...any) error {
	return ledger.Errorf(ledger.KindValidation, op, nil, format, args...)
}
