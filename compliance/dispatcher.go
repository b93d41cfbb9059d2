/*
Package compliance resolves compliance requests.

PURPOSE:
  Every privileged mutation in the engine is parked as an Initiated
  ComplianceRequest by the intake package. A reviewer then approves or
  rejects it here. The Dispatcher checks who may decide, routes the typed
  action to its handler, and the handler performs the domain mutation,
  the settlement call and the notifications, then moves the request to
  its one terminal status.

RESOLUTION FLOW:
  1. Lock the request id (two approvals of the same request serialize)
  2. Load the request                            -> NotFound
  3. Reviewer role must be admin or compliance   -> Forbidden
  4. Reviewer must not be the creator            -> Business (self review)
  5. Request must still accept the decision      -> NotFound (already resolved)
  6. Type switch over the closed action set      -> handler

  A handler that fails before its terminal write leaves the request
  Initiated. A failed settlement call is the exception: the domain record
  is marked failed and the request becomes SettlementFailed, so the stall
  is visible and a reviewer can close it out by rejecting.

SEE ALSO:
  - users.go, products.go, trades.go, payments.go: the handlers
  - ledger/compliance.go: request lifecycle
  - intake/: creates the requests resolved here
*/
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/compliance-engine/directory"
	"github.com/warp/compliance-engine/ledger"
	"github.com/warp/compliance-engine/notify"
	"github.com/warp/compliance-engine/settlement"
)

const defaultSettlementTimeout = 30 * time.Second

// Settler moves tokens on the settlement gateway.
type Settler interface {
	CreateProduct(ctx context.Context, userID, productID, name, symbol string, initialAmount int64) (settlement.Receipt, error)
	Buy(ctx context.Context, productID, buyerID string, amount int64) (settlement.Receipt, error)
	Sell(ctx context.Context, productID, buyerID, sellerID string, amount int64) (settlement.Receipt, error)
	Burn(ctx context.Context, productID, userID string, amount int64) (settlement.Receipt, error)
}

// Directory manages login accounts.
type Directory interface {
	UpdateUser(ctx context.Context, id string, p directory.Patch) error
	DeleteUser(ctx context.Context, id string) error
}

// Notifier records notifications and sends e-mail. Both are best-effort.
type Notifier interface {
	Create(ctx context.Context, n ledger.Notification)
	SendEmail(ctx context.Context, e notify.Email)
}

// =============================================================================
// DISPATCHER
// =============================================================================

type Dispatcher struct {
	store     ledger.Store
	settler   Settler
	directory Directory
	notifier  Notifier
	locks     *ledger.Locks
	log       *slog.Logger
	now       ledger.Clock

	settlementTimeout time.Duration
	passwords         func(n int) (string, error)
}

type Option func(*Dispatcher)

func WithClock(c ledger.Clock) Option { return func(d *Dispatcher) { d.now = c } }

// WithLocks shares the entity locks with other writers (intake).
func WithLocks(l *ledger.Locks) Option { return func(d *Dispatcher) { d.locks = l } }

func WithSettlementTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.settlementTimeout = t
		}
	}
}

// WithPasswordGenerator replaces directory.GeneratePassword.
func WithPasswordGenerator(gen func(n int) (string, error)) Option {
	return func(d *Dispatcher) { d.passwords = gen }
}

func NewDispatcher(log *slog.Logger, store ledger.Store, settler Settler, dir Directory, notifier Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:             store,
		settler:           settler,
		directory:         dir,
		notifier:          notifier,
		locks:             ledger.NewLocks(),
		log:               log,
		now:               ledger.SystemClock,
		settlementTimeout: defaultSettlementTimeout,
		passwords:         directory.GeneratePassword,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// PaymentFailure is one investor's failed entry in a batch payment.
type PaymentFailure struct {
	InvestorID string
	Err        error
}

// Outcome is the result of a successful resolution.
type Outcome struct {
	Request         *ledger.ComplianceRequest
	PaymentFailures []PaymentFailure
}

func (d *Dispatcher) Approve(ctx context.Context, id string, reviewer ledger.Reviewer) (*Outcome, error) {
	return d.Resolve(ctx, id, reviewer, ledger.DecisionApprove, "")
}

func (d *Dispatcher) Reject(ctx context.Context, id string, reviewer ledger.Reviewer, reason string) (*Outcome, error) {
	return d.Resolve(ctx, id, reviewer, ledger.DecisionReject, reason)
}

// Resolve applies decision to the request id on behalf of reviewer.
// On reject, reason is stored as the request's remarks.
func (d *Dispatcher) Resolve(ctx context.Context, id string, reviewer ledger.Reviewer, decision ledger.Decision, reason string) (*Outcome, error) {
	const op = "dispatcher.resolve"

	if decision != ledger.DecisionApprove && decision != ledger.DecisionReject {
		return nil, ledger.Errorf(ledger.KindValidation, op, nil, "unknown decision %q", decision)
	}

	unlock := d.locks.Lock(requestKey(id))
	defer unlock()

	req, err := d.store.GetComplianceRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load compliance request %s: %w", id, err)
	}
	if req == nil {
		return nil, ledger.NotFound(op, "compliance request", id)
	}
	if !reviewer.Role.CanReview() {
		return nil, ledger.Errorf(ledger.KindForbidden, op, nil, "role %q cannot review compliance requests", reviewer.Role)
	}
	if req.Creator.ID == reviewer.ID {
		return nil, ledger.E(ledger.KindBusiness, op, ledger.ErrSelfReview)
	}
	if !req.Resolvable(decision) {
		return nil, ledger.Errorf(ledger.KindNotFound, op, ledger.ErrAlreadyResolved,
			"compliance request %s is %s", id, req.Status)
	}

	res := &resolution{req: req, decision: decision, reviewer: reviewer}
	if decision == ledger.DecisionReject {
		req.Remarks = reason
	}

	if req.Status == ledger.ComplianceSettlementFailed {
		err = d.closeStalled(ctx, res)
	} else {
		err = d.dispatch(ctx, res)
	}

	log := d.log.With(
		slog.String("request_id", req.ID),
		slog.String("action", string(req.Action.Name)),
		slog.String("decision", string(decision)),
		slog.String("reviewer_id", reviewer.ID),
	)
	if err != nil {
		log.WarnContext(ctx, "compliance request not resolved",
			slog.String("status", string(req.Status)),
			slog.String("kind", string(ledger.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	log.InfoContext(ctx, "compliance request resolved",
		slog.String("status", string(req.Status)),
		slog.Int("payment_failures", len(res.failures)),
	)
	return &Outcome{Request: req, PaymentFailures: res.failures}, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, res *resolution) error {
	switch a := res.req.Action.Payload.(type) {
	case ledger.AddUser:
		return d.resolveAddUser(ctx, res, a)
	case ledger.AddProduct:
		return d.resolveAddProduct(ctx, res, a)
	case ledger.BuyTransaction:
		return d.resolveBuy(ctx, res, a)
	case ledger.SellTransaction:
		return d.resolveSell(ctx, res, a)
	case ledger.PaymentTransaction:
		return d.resolvePayment(ctx, res, a.ProductID, a.PaymentType, []ledger.PaymentEntry{a.Entry}, false)
	case ledger.PaymentTransactionArray:
		return d.resolvePayment(ctx, res, a.ProductID, a.PaymentType, a.Entries, true)
	case ledger.DeactivateUser:
		return d.resolveDeactivateUser(ctx, res, a)
	case ledger.UpdateUser:
		return d.resolveUpdateUser(ctx, res, a)
	case ledger.DeleteUser:
		return d.resolveDeleteUser(ctx, res, a)
	case ledger.DeactivateProduct:
		return d.resolveDeactivateProduct(ctx, res, a)
	}
	return ledger.Errorf(ledger.KindBadRequest, "dispatcher.dispatch", ledger.ErrInvalidAction,
		"action %q", res.req.Action.Name)
}

// closeStalled rejects a SettlementFailed request. Failed domain records
// keep their status; pending flags the action still holds are released.
func (d *Dispatcher) closeStalled(ctx context.Context, res *resolution) error {
	if err := d.releaseStalled(ctx, res); err != nil {
		return err
	}
	if err := d.finish(ctx, res, ledger.ComplianceRejected, ""); err != nil {
		return err
	}
	d.notifyCompliance(ctx, "compliance", res.req.ID, ledger.NotifyInfo,
		"Stalled compliance request closed", map[string]string{
			"action":  string(res.req.Action.Name),
			"remarks": res.req.Remarks,
		})
	return nil
}

// releaseStalled clears the deactivation flag of a product whose burn
// failed, so the issuer can file again and buys reopen.
func (d *Dispatcher) releaseStalled(ctx context.Context, res *resolution) error {
	a, ok := res.req.Action.Payload.(ledger.DeactivateProduct)
	if !ok {
		return nil
	}

	unlock := d.locks.Lock(productKey(a.ProductID))
	defer unlock()

	product, err := d.store.GetProduct(ctx, a.ProductID)
	if err != nil {
		return fmt.Errorf("load product %s: %w", a.ProductID, err)
	}
	if product == nil || !product.IsRequestDeactivate {
		return nil
	}
	product.IsRequestDeactivate = false
	if err := d.saveProduct(ctx, product); err != nil {
		return err
	}
	d.notifyUser(ctx, product.IssuerID, entityProduct, product.ID, ledger.NotifyWarning, "Product deactivation rejected",
		map[string]string{"name": product.Name, "remarks": res.req.Remarks})
	return nil
}

// =============================================================================
// RESOLUTION STATE
// =============================================================================

type resolution struct {
	req      *ledger.ComplianceRequest
	decision ledger.Decision
	reviewer ledger.Reviewer
	failures []PaymentFailure
}

func (r *resolution) rejecting() bool { return r.decision == ledger.DecisionReject }

// finish writes the request's terminal (or stalled) status.
func (d *Dispatcher) finish(ctx context.Context, res *resolution, status ledger.ComplianceStatus, hash string) error {
	res.req.Status = status
	if hash != "" {
		res.req.TransactionHash = hash
	}
	res.req.UpdatedAt = d.now()
	if err := d.store.UpdateComplianceRequest(ctx, *res.req); err != nil {
		return fmt.Errorf("update compliance request %s: %w", res.req.ID, err)
	}
	return nil
}

func (d *Dispatcher) accept(ctx context.Context, res *resolution, hash string) error {
	return d.finish(ctx, res, ledger.ComplianceAccepted, hash)
}

func (d *Dispatcher) reject(ctx context.Context, res *resolution) error {
	return d.finish(ctx, res, ledger.ComplianceRejected, "")
}

// stall parks the request in SettlementFailed and returns cause.
func (d *Dispatcher) stall(ctx context.Context, res *resolution, cause error) error {
	if err := d.finish(ctx, res, ledger.ComplianceSettlementFailed, ""); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// settle runs one gateway call under the settlement timeout. A call that
// ignores its context is abandoned when the deadline passes.
func (d *Dispatcher) settle(ctx context.Context, op string, call func(context.Context) (settlement.Receipt, error)) (settlement.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, d.settlementTimeout)
	defer cancel()

	type result struct {
		receipt settlement.Receipt
		err     error
	}
	done := make(chan result, 1)
	go func() {
		r, err := call(ctx)
		done <- result{r, err}
	}()

	var err error
	select {
	case r := <-done:
		if r.err == nil {
			return r.receipt, nil
		}
		err = r.err
	case <-ctx.Done():
		err = &settlement.Error{Op: op, Err: ctx.Err()}
	}

	d.log.WarnContext(ctx, "settlement call failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return settlement.Receipt{}, ledger.E(ledger.KindSettlement, op, err)
}

// =============================================================================
// LOADERS
// =============================================================================

func (d *Dispatcher) loadUser(ctx context.Context, op, id string) (*ledger.User, error) {
	u, err := d.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	if u == nil {
		return nil, ledger.NotFound(op, "user", id)
	}
	return u, nil
}

func (d *Dispatcher) loadProduct(ctx context.Context, op, id string) (*ledger.Product, error) {
	p, err := d.store.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", id, err)
	}
	if p == nil {
		return nil, ledger.NotFound(op, "product", id)
	}
	return p, nil
}

// loadPending returns a transaction of type t that is still processing.
func (d *Dispatcher) loadPending(ctx context.Context, op, id string, t ledger.TransactionType) (*ledger.Transaction, error) {
	tx, err := d.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", id, err)
	}
	if tx == nil || tx.Type != t {
		return nil, ledger.NotFound(op, string(t)+" transaction", id)
	}
	if tx.Status != ledger.TxProcessing {
		return nil, ledger.Errorf(ledger.KindBusiness, op, nil, "transaction %s is already %s", id, tx.Status)
	}
	return tx, nil
}

// saveProduct writes p with compare-and-set and advances p.Version.
func (d *Dispatcher) saveProduct(ctx context.Context, p *ledger.Product) error {
	p.UpdatedAt = d.now()
	v, err := d.store.UpdateProduct(ctx, *p)
	if err != nil {
		return fmt.Errorf("update product %s: %w", p.ID, err)
	}
	p.Version = v
	return nil
}

func (d *Dispatcher) saveHolding(ctx context.Context, h *ledger.Holding) error {
	h.UpdatedAt = d.now()
	v, err := d.store.UpdateHolding(ctx, *h)
	if err != nil {
		return fmt.Errorf("update holding %s: %w", h.ID, err)
	}
	h.Version = v
	return nil
}

func (d *Dispatcher) saveTransaction(ctx context.Context, tx *ledger.Transaction, status ledger.TransactionStatus) error {
	tx.Status = status
	tx.UpdatedAt = d.now()
	if err := d.store.UpdateTransaction(ctx, *tx); err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (d *Dispatcher) saveUser(ctx context.Context, u *ledger.User) error {
	u.UpdatedAt = d.now()
	if err := d.store.UpdateUser(ctx, *u); err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	return nil
}

// =============================================================================
// LOCK KEYS
// =============================================================================

func requestKey(id string) string { return "compliance:" + id }

func productKey(id string) string { return "product:" + id }

func userKey(id string) string { return "user:" + id }

// holdingKey locks an investor's position in a product whether or not the
// Holding document exists yet.
func holdingKey(investorID, productID string) string {
	return "holding:" + investorID + "/" + productID
}
