/*
compliance.go - The unit of review

LIFECYCLE:
  ┌────────────┐  approve ok   ┌──────────┐
  │ Initiated  │──────────────▶│ Accepted │
  │            │  reject       ├──────────┤
  │            │──────────────▶│ Rejected │
  └────────────┘               └──────────┘
        │ settlement call failed      ▲
        ▼                             │ reject (manual close-out)
  ┌──────────────────┐                │
  │ SettlementFailed │────────────────┘
  └──────────────────┘

  Accepted and Rejected are terminal: exactly one terminal transition ever
  happens. SettlementFailed is the observable "stalled" state left behind
  when the external settlement call fails during approval.

SEE ALSO:
  - action.go: typed payloads carried in Action.Payload
  - compliance/dispatcher.go: the only writer of Status
*/
package ledger

import "time"

type ComplianceStatus string

const (
	ComplianceInitiated        ComplianceStatus = "Initiated"
	ComplianceAccepted         ComplianceStatus = "Accepted"
	ComplianceRejected         ComplianceStatus = "Rejected"
	ComplianceSettlementFailed ComplianceStatus = "SettlementFailed"
)

// ComplianceStatuses lists every status in display order.
var ComplianceStatuses = []ComplianceStatus{
	ComplianceInitiated,
	ComplianceAccepted,
	ComplianceRejected,
	ComplianceSettlementFailed,
}

func (s ComplianceStatus) IsTerminal() bool {
	return s == ComplianceAccepted || s == ComplianceRejected
}

type CreatorType string

const (
	CreatorAdmin CreatorType = "admin"
	CreatorUser  CreatorType = "user"
)

type Creator struct {
	Type CreatorType
	ID   string
}

// ActionInfo is the action envelope. Name always equals Payload.Kind();
// the remaining fields are display and filtering metadata.
type ActionInfo struct {
	Name        ActionKind
	Entity      string
	EntityName  string
	EntityID    string
	Receiver    string
	Investors   []string
	PaymentType PaymentType
	Payload     Action
}

type ComplianceRequest struct {
	ID              string
	Date            time.Time
	Action          ActionInfo
	RelatedUserID   string
	Creator         Creator
	Status          ComplianceStatus
	Remarks         string
	TransactionHash string
	UpdatedAt       time.Time
}

// =============================================================================
// REVIEW
// =============================================================================

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Reviewer is the authenticated actor resolving a request.
type Reviewer struct {
	ID   string
	Role Role
}

// Resolvable reports whether the request may still receive the decision.
// Initiated accepts both decisions; a stalled request can only be closed
// out by rejection.
func (r *ComplianceRequest) Resolvable(d Decision) bool {
	switch r.Status {
	case ComplianceInitiated:
		return true
	case ComplianceSettlementFailed:
		return d == DecisionReject
	}
	return false
}
