/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures of the REST surface. Ledger types stay free
  of wire concerns; handlers convert at the edge.

NAMING CONVENTION:
  - *DTO:     response types returned to clients
  - *Request: request body types from clients

DATES:
  Calendar dates (non-call period, maturity) use YYYY-MM-DD. Timestamps
  are RFC 3339 in UTC. Money is a decimal string.

SEE ALSO:
  - handlers.go: uses these types
  - factory/action.go: action payload encoding
*/
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/compliance-engine/compliance"
	"github.com/warp/compliance-engine/factory"
	"github.com/warp/compliance-engine/intake"
	"github.com/warp/compliance-engine/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateUserRequest struct {
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Role  ledger.Role `json:"role"`
}

type CreateProductRequest struct {
	Name             string                  `json:"name"`
	Symbol           string                  `json:"symbol"`
	Quantity         int64                   `json:"quantity"`
	TicketSize       decimal.Decimal         `json:"ticketSize"`
	CouponRate       decimal.Decimal         `json:"couponRate"`
	PaymentFrequency ledger.PaymentFrequency `json:"paymentFrequency"`
	NonCallPeriod    string                  `json:"nonCallPeriod,omitempty"`
	MaturityDate     string                  `json:"maturityDate,omitempty"`
}

func (r CreateProductRequest) toNewProduct() (intake.NewProduct, error) {
	nonCall, err := parseDate("nonCallPeriod", r.NonCallPeriod)
	if err != nil {
		return intake.NewProduct{}, err
	}
	maturity, err := parseDate("maturityDate", r.MaturityDate)
	if err != nil {
		return intake.NewProduct{}, err
	}
	return intake.NewProduct{
		Name:             r.Name,
		Symbol:           r.Symbol,
		Quantity:         r.Quantity,
		TicketSize:       r.TicketSize,
		CouponRate:       r.CouponRate,
		PaymentFrequency: r.PaymentFrequency,
		NonCallPeriod:    nonCall,
		MaturityDate:     maturity,
	}, nil
}

type BuyRequest struct {
	Quantity int64 `json:"quantity"`
}

type SellRequest struct {
	Quantity     int64  `json:"quantity"`
	ReceiverID   string `json:"receiverId,omitempty"`
	ReturnTokens bool   `json:"returnTokens"`
}

type PaymentRequest struct {
	PaymentType ledger.PaymentType `json:"paymentType"`
	InvestorIDs []string           `json:"investorIds,omitempty"`
	TotalAmount decimal.Decimal    `json:"totalAmount"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, ledger.Errorf(ledger.KindBadRequest, "api.parse_date", err, "%s must be YYYY-MM-DD", field)
	}
	return t, nil
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type CreatorDTO struct {
	Type ledger.CreatorType `json:"type"`
	ID   string             `json:"id"`
}

type ActionDTO struct {
	Name        ledger.ActionKind  `json:"name"`
	Value       json.RawMessage    `json:"value"`
	Entity      string             `json:"entity,omitempty"`
	EntityName  string             `json:"entityName,omitempty"`
	EntityID    string             `json:"entityId,omitempty"`
	Receiver    string             `json:"receiver,omitempty"`
	Investors   []string           `json:"investors,omitempty"`
	PaymentType ledger.PaymentType `json:"paymentType,omitempty"`
}

type ComplianceRequestDTO struct {
	ID              string                  `json:"id"`
	Date            string                  `json:"date"`
	Action          ActionDTO               `json:"action"`
	RelatedUserID   string                  `json:"relatedUserId,omitempty"`
	Creator         CreatorDTO              `json:"creator"`
	Status          ledger.ComplianceStatus `json:"status"`
	Remarks         string                  `json:"remarks,omitempty"`
	TransactionHash string                  `json:"transactionHash,omitempty"`
	UpdatedAt       string                  `json:"updatedAt,omitempty"`
}

func toComplianceDTO(r *ledger.ComplianceRequest) (ComplianceRequestDTO, error) {
	_, value, err := factory.EncodeAction(r.Action.Payload)
	if err != nil {
		return ComplianceRequestDTO{}, fmt.Errorf("encode action of %s: %w", r.ID, err)
	}
	return ComplianceRequestDTO{
		ID:   r.ID,
		Date: timestamp(r.Date),
		Action: ActionDTO{
			Name:        r.Action.Name,
			Value:       value,
			Entity:      r.Action.Entity,
			EntityName:  r.Action.EntityName,
			EntityID:    r.Action.EntityID,
			Receiver:    r.Action.Receiver,
			Investors:   r.Action.Investors,
			PaymentType: r.Action.PaymentType,
		},
		RelatedUserID:   r.RelatedUserID,
		Creator:         CreatorDTO{Type: r.Creator.Type, ID: r.Creator.ID},
		Status:          r.Status,
		Remarks:         r.Remarks,
		TransactionHash: r.TransactionHash,
		UpdatedAt:       timestamp(r.UpdatedAt),
	}, nil
}

type ComplianceListDTO struct {
	Items []ComplianceRequestDTO `json:"items"`
	Total int                    `json:"total"`
}

// FailureDTO names an investor left out of, or failed in, a payment batch.
type FailureDTO struct {
	InvestorID string `json:"investorId"`
	Error      string `json:"error"`
}

// ResolutionDTO is the response to approve and reject.
type ResolutionDTO struct {
	Request         ComplianceRequestDTO `json:"request"`
	PaymentFailures []FailureDTO         `json:"paymentFailures,omitempty"`
}

func toResolutionDTO(o *compliance.Outcome) (ResolutionDTO, error) {
	req, err := toComplianceDTO(o.Request)
	if err != nil {
		return ResolutionDTO{}, err
	}
	out := ResolutionDTO{Request: req}
	for _, f := range o.PaymentFailures {
		out.PaymentFailures = append(out.PaymentFailures, FailureDTO{InvestorID: f.InvestorID, Error: f.Err.Error()})
	}
	return out, nil
}

// PaymentIntakeDTO is the response to a payment request.
type PaymentIntakeDTO struct {
	Request ComplianceRequestDTO `json:"request"`
	Skipped []FailureDTO         `json:"skipped,omitempty"`
}

type UserRefDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type FiltersDTO struct {
	Actions      []ledger.ActionKind       `json:"actions"`
	Statuses     []ledger.ComplianceStatus `json:"statuses"`
	RelatedUsers []UserRefDTO              `json:"relatedUsers"`
}

type NotificationDTO struct {
	ID              string                  `json:"id"`
	EntityType      string                  `json:"entityType"`
	RelatedEntityID string                  `json:"relatedEntityId"`
	Text            string                  `json:"text"`
	ReceiverID      string                  `json:"receiverId,omitempty"`
	IsCompliance    bool                    `json:"isCompliance"`
	Type            ledger.NotificationType `json:"type"`
	TranslationData map[string]string       `json:"translationData,omitempty"`
	CreatedAt       string                  `json:"createdAt"`
}

func toNotificationDTO(n ledger.Notification) NotificationDTO {
	return NotificationDTO{
		ID:              n.ID,
		EntityType:      n.EntityType,
		RelatedEntityID: n.RelatedEntityID,
		Text:            n.Text,
		ReceiverID:      n.ReceiverID,
		IsCompliance:    n.IsCompliance,
		Type:            n.Type,
		TranslationData: n.TranslationData,
		CreatedAt:       timestamp(n.CreatedAt),
	}
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
