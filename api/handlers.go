/*
handlers.go - HTTP API handlers for the compliance engine

PURPOSE:
  Exposes intake and review over REST. Handlers decode the body, take the
  caller from the bearer token, delegate to the intake service or the
  dispatcher and encode the result. They hold no business rules beyond
  who may call what.

ENDPOINTS:
  Users:
    POST   /api/users                       Request a new account (admin)
    PATCH  /api/users/{id}                  Request a profile change
    POST   /api/users/{id}/deactivate       Request deactivation
    DELETE /api/users/{id}                  Request deletion

  Products:
    POST   /api/products                    Request a listing (issuer)
    POST   /api/products/{id}/deactivate    Request delisting (issuer)
    POST   /api/products/{id}/buy           Request a purchase (investor)
    POST   /api/products/{id}/sell          Request a sale or return (investor)
    POST   /api/products/{id}/payments      Request a payment (issuer)

  Compliance:
    GET    /api/compliance                  List requests (reviewer)
    GET    /api/compliance/filters          Filter choices (reviewer)
    POST   /api/compliance/{id}/approve     Approve
    POST   /api/compliance/{id}/reject      Reject

  Notifications:
    GET    /api/notifications               Caller's feed

ERROR HANDLING:
  See errors.go for the kind to status mapping. Intake returns 202: the
  request is recorded but nothing has happened yet.

SEE ALSO:
  - dto.go: request/response types
  - server.go: router and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/compliance-engine/compliance"
	"github.com/warp/compliance-engine/intake"
	"github.com/warp/compliance-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

type notificationLister interface {
	ListNotifications(ctx context.Context, receiverID string, limit int) ([]ledger.Notification, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	intake        *intake.Service
	dispatcher    *compliance.Dispatcher
	queries       *compliance.Service
	notifications notificationLister
	log           *slog.Logger
}

func NewHandler(log *slog.Logger, in *intake.Service, d *compliance.Dispatcher, q *compliance.Service, n notificationLister) *Handler {
	return &Handler{intake: in, dispatcher: d, queries: q, notifications: n, log: log}
}

const defaultFeedSize = 50

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.Role != ledger.RoleAdmin {
		h.fail(w, r, forbidden("api.create_user", "only admins can register users"))
		return
	}
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	cr, err := h.intake.RequestAddUser(r.Context(), creatorOf(actor), intake.NewUser{
		Email: req.Email,
		Name:  req.Name,
		Role:  req.Role,
	})
	h.accepted(w, r, cr, err)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.selfOrAdmin(w, r, "api.update_user")
	if !ok {
		return
	}
	var patch ledger.UserPatch
	if !h.decode(w, r, &patch) {
		return
	}
	cr, err := h.intake.RequestUpdateUser(r.Context(), creatorOf(actor), id, patch)
	h.accepted(w, r, cr, err)
}

func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.selfOrAdmin(w, r, "api.deactivate_user")
	if !ok {
		return
	}
	cr, err := h.intake.RequestDeactivateUser(r.Context(), creatorOf(actor), id)
	h.accepted(w, r, cr, err)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.selfOrAdmin(w, r, "api.delete_user")
	if !ok {
		return
	}
	cr, err := h.intake.RequestDeleteUser(r.Context(), creatorOf(actor), id)
	h.accepted(w, r, cr, err)
}

// selfOrAdmin lets users act on their own account and admins on any.
func (h *Handler) selfOrAdmin(w http.ResponseWriter, r *http.Request, op string) (ledger.Reviewer, string, bool) {
	actor := actorFrom(r.Context())
	id := chi.URLParam(r, "id")
	if actor.Role != ledger.RoleAdmin && actor.ID != id {
		h.fail(w, r, forbidden(op, "cannot act on another user's account"))
		return actor, id, false
	}
	return actor, id, true
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toNewProduct()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cr, err := h.intake.RequestAddProduct(r.Context(), actorFrom(r.Context()).ID, in)
	h.accepted(w, r, cr, err)
}

func (h *Handler) DeactivateProduct(w http.ResponseWriter, r *http.Request) {
	cr, err := h.intake.RequestDeactivateProduct(r.Context(), actorFrom(r.Context()).ID, chi.URLParam(r, "id"))
	h.accepted(w, r, cr, err)
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if !h.decode(w, r, &req) {
		return
	}
	cr, err := h.intake.RequestBuy(r.Context(), actorFrom(r.Context()).ID, chi.URLParam(r, "id"), req.Quantity)
	h.accepted(w, r, cr, err)
}

func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if !h.decode(w, r, &req) {
		return
	}
	cr, err := h.intake.RequestSell(r.Context(), intake.SellOrder{
		SellerID:     actorFrom(r.Context()).ID,
		ProductID:    chi.URLParam(r, "id"),
		Quantity:     req.Quantity,
		ReceiverID:   req.ReceiverID,
		ReturnTokens: req.ReturnTokens,
	})
	h.accepted(w, r, cr, err)
}

func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.intake.RequestPayment(r.Context(), intake.PaymentOrder{
		IssuerID:    actorFrom(r.Context()).ID,
		ProductID:   chi.URLParam(r, "id"),
		PaymentType: req.PaymentType,
		InvestorIDs: req.InvestorIDs,
		TotalAmount: req.TotalAmount,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto, err := toComplianceDTO(res.Request)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := PaymentIntakeDTO{Request: dto}
	for _, s := range res.Skipped {
		out.Skipped = append(out.Skipped, FailureDTO{InvestorID: s.InvestorID, Error: s.Err.Error()})
	}
	writeJSON(w, http.StatusAccepted, out)
}

// =============================================================================
// COMPLIANCE HANDLERS
// =============================================================================

func (h *Handler) ListCompliance(w http.ResponseWriter, r *http.Request) {
	if !h.reviewer(w, r, "api.list_compliance") {
		return
	}
	f, err := complianceFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.queries.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := ComplianceListDTO{Items: make([]ComplianceRequestDTO, 0, len(page.Items)), Total: page.Total}
	for i := range page.Items {
		dto, err := toComplianceDTO(&page.Items[i])
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out.Items = append(out.Items, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ComplianceFilters(w http.ResponseWriter, r *http.Request) {
	if !h.reviewer(w, r, "api.compliance_filters") {
		return
	}
	fd, err := h.queries.FiltersData(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := FiltersDTO{Actions: fd.Actions, Statuses: fd.Statuses, RelatedUsers: make([]UserRefDTO, 0, len(fd.RelatedUsers))}
	for _, u := range fd.RelatedUsers {
		out.RelatedUsers = append(out.RelatedUsers, UserRefDTO{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	out, err := h.dispatcher.Approve(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	h.resolved(w, r, out, err)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	out, err := h.dispatcher.Reject(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), req.Reason)
	h.resolved(w, r, out, err)
}

func (h *Handler) resolved(w http.ResponseWriter, r *http.Request, out *compliance.Outcome, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto, err := toResolutionDTO(out)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) reviewer(w http.ResponseWriter, r *http.Request, op string) bool {
	if !actorFrom(r.Context()).Role.CanReview() {
		h.fail(w, r, forbidden(op, "reviewer role required"))
		return false
	}
	return true
}

func complianceFilter(r *http.Request) (ledger.ComplianceFilter, error) {
	const op = "api.compliance_filter"
	q := r.URL.Query()
	f := ledger.ComplianceFilter{
		RelatedUserID: q.Get("relatedUserId"),
		CreatorID:     q.Get("creatorId"),
	}
	for _, s := range listParam(q["status"]) {
		f.Statuses = append(f.Statuses, ledger.ComplianceStatus(s))
	}
	for _, a := range listParam(q["action"]) {
		f.Actions = append(f.Actions, ledger.ActionKind(a))
	}
	var err error
	if f.Limit, err = intParam(op, q.Get("limit")); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(op, q.Get("offset")); err != nil {
		return f, err
	}
	return f, nil
}

// =============================================================================
// NOTIFICATION HANDLERS
// =============================================================================

// ListNotifications returns the compliance feed to reviewers and the
// caller's own notifications to everyone else.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	limit, err := intParam("api.list_notifications", r.URL.Query().Get("limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if limit <= 0 {
		limit = defaultFeedSize
	}
	receiver := actor.ID
	if actor.Role.CanReview() {
		receiver = ""
	}
	ns, err := h.notifications.ListNotifications(r.Context(), receiver, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]NotificationDTO, len(ns))
	for i, n := range ns {
		out[i] = toNotificationDTO(n)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func (h *Handler) accepted(w http.ResponseWriter, r *http.Request, cr *ledger.ComplianceRequest, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto, err := toComplianceDTO(cr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dto)
}

func forbidden(op, msg string) error {
	return ledger.Errorf(ledger.KindForbidden, op, nil, "%s", msg)
}

func intParam(op, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, ledger.Errorf(ledger.KindBadRequest, op, err, "invalid integer %q", s)
	}
	return n, nil
}

// listParam accepts both repeated and comma-separated query values.
func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
