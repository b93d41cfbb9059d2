/*
store.go - Persistence interfaces for the ledger documents

PURPOSE:
  Defines the interface between the engine and its document store. Each
  collection offers single-document reads and writes; there is NO
  multi-collection transaction. Handlers that touch several collections
  do so as a sequence of independent writes (best-effort model) and
  serialize on entity locks (lock.go) to avoid check-then-act races.

CONDITIONAL UPDATES:
  UpdateProduct and UpdateHolding are compare-and-set on Version: the
  write succeeds only if the stored Version equals the one passed in,
  and the stored Version is incremented. A mismatch returns
  ErrConcurrentModification.

NOT FOUND:
  Get* return (nil, nil) when the document is absent, like database/sql
  lookups that find no row. Callers turn that into a NotFound error with context.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go: SQLite with goose migrations

SEE ALSO:
  - errors.go: ErrConcurrentModification
*/
package ledger

import (
	"context"
	"time"
)

type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	InsertProduct(ctx context.Context, p Product) error
	// UpdateProduct writes p if the stored version equals p.Version and
	// returns the new version.
	UpdateProduct(ctx context.Context, p Product) (int64, error)
	ListProductsByIssuer(ctx context.Context, issuerID string) ([]Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

type HoldingStore interface {
	GetHolding(ctx context.Context, id string) (*Holding, error)
	FindHolding(ctx context.Context, investorID, productID string) (*Holding, error)
	InsertHolding(ctx context.Context, h Holding) error
	UpdateHolding(ctx context.Context, h Holding) (int64, error)
	ListHoldingsByProduct(ctx context.Context, productID string) ([]Holding, error)
	DeleteHoldingsByInvestor(ctx context.Context, investorID string) (int, error)
}

// TransactionFilter selects transactions. Zero-valued fields do not filter.
type TransactionFilter struct {
	Type          TransactionType
	ProductID     string
	InvestorID    string
	PaymentType   PaymentType
	Statuses      []TransactionStatus
	UpdatedAfter  time.Time // inclusive
	UpdatedBefore time.Time // exclusive
}

type TransactionStore interface {
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	InsertTransaction(ctx context.Context, tx Transaction) error
	UpdateTransaction(ctx context.Context, tx Transaction) error
	FindTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
	DeleteTransactionsByInvestor(ctx context.Context, investorID string) (int, error)
}

// ComplianceFilter selects compliance requests for listing. Results are
// ordered newest first.
type ComplianceFilter struct {
	Statuses      []ComplianceStatus
	Actions       []ActionKind
	RelatedUserID string
	CreatorID     string
	Limit         int
	Offset        int
}

type ComplianceStore interface {
	GetComplianceRequest(ctx context.Context, id string) (*ComplianceRequest, error)
	InsertComplianceRequest(ctx context.Context, r ComplianceRequest) error
	UpdateComplianceRequest(ctx context.Context, r ComplianceRequest) error
	ListComplianceRequests(ctx context.Context, f ComplianceFilter) ([]ComplianceRequest, int, error)
	// DeleteComplianceRequestsByUser removes requests related to or created
	// by userID, keeping exceptID.
	DeleteComplianceRequestsByUser(ctx context.Context, userID, exceptID string) (int, error)
}

type NotificationStore interface {
	InsertNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, receiverID string, limit int) ([]Notification, error)
	DeleteNotificationsByUser(ctx context.Context, userID string) (int, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	InsertUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, id string) error
}

// Store is the full ledger store.
type Store interface {
	ProductStore
	HoldingStore
	TransactionStore
	ComplianceStore
	NotificationStore
	UserStore
}
