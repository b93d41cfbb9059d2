/*
Package ledger provides the core types of the compliance-gated settlement engine.

PURPOSE:
  Issuers list products, investors buy, sell and hold positions, and every
  privileged mutation first becomes a ComplianceRequest that a reviewer
  approves or rejects. This package holds the documents the engine moves
  between states and the invariants on them. It knows nothing about HTTP,
  settlement gateways or e-mail.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product:     a listed instrument with a fixed supply
  - Holding:     an investor's position in one product
  - Transaction: one buy, sell or payment movement
  - User:        an account (admin, compliance reviewer, issuer, investor)
  - Notification: write-only side-effect record

DESIGN PRINCIPLES:
  1. Precision: money uses decimal.Decimal, token volumes use int64
  2. Versioned documents: Product and Holding carry a Version for
     compare-and-set updates
  3. Terminal states: Transaction and ComplianceRequest reach exactly one
     terminal status and never revert

SEE ALSO:
  - compliance.go: ComplianceRequest and its lifecycle
  - action.go:     closed set of compliance actions
  - money.go:      volume and payment arithmetic
  - store.go:      persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PRODUCT
// =============================================================================

type ProductStatus string

const (
	ProductProcessing ProductStatus = "processing"
	ProductActive     ProductStatus = "active"
	ProductInactive   ProductStatus = "inactive"
	ProductFailed     ProductStatus = "failed"
	ProductRejected   ProductStatus = "rejected"
)

type PaymentFrequency string

const (
	FrequencyAnnual    PaymentFrequency = "annual"
	FrequencyBiannual  PaymentFrequency = "biannual"
	FrequencyQuarterly PaymentFrequency = "quarterly"
)

// Product is a listed instrument. Quantity is the immutable total supply;
// AvailableVolume is the part of it still held by the issuer.
//
// INVARIANT: 0 <= AvailableVolume <= Quantity
type Product struct {
	ID                  string
	Name                string
	Symbol              string
	IssuerID            string
	Quantity            int64
	AvailableVolume     int64
	TicketSize          decimal.Decimal
	CouponRate          decimal.Decimal // percent per year
	PaymentFrequency    PaymentFrequency
	NonCallPeriod       time.Time
	MaturityDate        time.Time
	Status              ProductStatus
	IsRequestDeactivate bool
	TransactionHash     string
	BurnTransactionHash string
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SoldTickets is the supply currently held by investors.
func (p *Product) SoldTickets() int64 { return p.Quantity - p.AvailableVolume }

// FullyReturned reports whether the issuer holds the whole supply again.
func (p *Product) FullyReturned() bool { return p.AvailableVolume == p.Quantity }

// =============================================================================
// HOLDING
// =============================================================================

// Holding is an investor's position in a product.
//
// INVARIANTS:
//   - 0 <= AvailableVolume <= Quantity
//   - AmountRepaid <= Quantity * TicketSize
type Holding struct {
	ID              string
	InvestorID      string
	ProductID       string
	IssuerID        string
	Quantity        int64
	AvailableVolume int64
	AmountReceived  decimal.Decimal
	AmountRepaid    decimal.Decimal
	NonCallPeriod   time.Time
	MaturityDate    time.Time
	TicketSize      decimal.Decimal
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Principal is the nominal value of the sellable position.
func (h *Holding) Principal() decimal.Decimal {
	return decimal.NewFromInt(h.AvailableVolume).Mul(h.TicketSize)
}

// RepaymentCap is the most that can ever be repaid on this holding.
func (h *Holding) RepaymentCap() decimal.Decimal {
	return decimal.NewFromInt(h.Quantity).Mul(h.TicketSize)
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxBuy     TransactionType = "buy"
	TxSell    TransactionType = "sell"
	TxPayment TransactionType = "payment"
)

type TransactionStatus string

const (
	TxProcessing TransactionStatus = "processing"
	TxProcessed  TransactionStatus = "processed"
	TxFailed     TransactionStatus = "failed"
	TxRejected   TransactionStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s TransactionStatus) IsTerminal() bool { return s != TxProcessing }

type PaymentType string

const (
	PaymentInterest  PaymentType = "interest"
	PaymentRepayment PaymentType = "repayment"
	PaymentDividend  PaymentType = "dividend"
	PaymentGeneric   PaymentType = "generic"
)

func (p PaymentType) Valid() bool {
	switch p {
	case PaymentInterest, PaymentRepayment, PaymentDividend, PaymentGeneric:
		return true
	}
	return false
}

// Transaction records one movement. Created processing by intake,
// moved to exactly one terminal status by a handler.
type Transaction struct {
	ID              string
	Type            TransactionType
	ProductID       string
	InvestorID      string
	ReceiverID      string
	IssuerID        string
	Quantity        int64
	Amount          decimal.Decimal
	PaymentType     PaymentType
	TicketSize      decimal.Decimal
	ReturnTokens    bool
	Status          TransactionStatus
	TransactionHash string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// =============================================================================
// USER
// =============================================================================

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleCompliance Role = "compliance"
	RoleIssuer     Role = "issuer"
	RoleInvestor   Role = "investor"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCompliance, RoleIssuer, RoleInvestor:
		return true
	}
	return false
}

// CanReview reports whether the role may resolve compliance requests.
func (r Role) CanReview() bool { return r == RoleAdmin || r == RoleCompliance }

type UserStatus string

const (
	UserProcessing UserStatus = "processing"
	UserActive     UserStatus = "active"
	UserInactive   UserStatus = "inactive"
	UserRejected   UserStatus = "rejected"
)

type User struct {
	ID                  string
	DirectoryID         string
	Email               string
	Name                string
	Role                Role
	Status              UserStatus
	IsRequestDeactivate bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// UserPatch is a partial update. Nil fields are left unchanged.
type UserPatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// Apply copies the set fields onto u.
func (p UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
}

// =============================================================================
// NOTIFICATION
// =============================================================================

type NotificationType string

const (
	NotifyInfo    NotificationType = "info"
	NotifySuccess NotificationType = "success"
	NotifyWarning NotificationType = "warning"
	NotifyError   NotificationType = "error"
)

// Notification is immutable once written.
type Notification struct {
	ID              string
	EntityType      string
	RelatedEntityID string
	Text            string
	ReceiverID      string // empty for broadcast to compliance
	IsCompliance    bool
	Type            NotificationType
	TranslationData map[string]string
	CreatedAt       time.Time
}
