package ledger

// =============================================================================
// ACTION - Closed set of compliance actions
// =============================================================================

// ActionKind names a compliance action. It is the persisted discriminator
// of ComplianceRequest.Action.
type ActionKind string

const (
	ActionAddUser                 ActionKind = "AddUser"
	ActionAddProduct              ActionKind = "AddProduct"
	ActionBuyTransaction          ActionKind = "BuyTransaction"
	ActionSellTransaction         ActionKind = "SellTransaction"
	ActionPaymentTransaction      ActionKind = "PaymentTransaction"
	ActionPaymentTransactionArray ActionKind = "PaymentTransactionArray"
	ActionDeactivateUser          ActionKind = "DeactivateUser"
	ActionUpdateUser              ActionKind = "UpdateUser"
	ActionDeleteUser              ActionKind = "DeleteUser"
	ActionDeactivateProduct       ActionKind = "DeactivateProduct"
)

// ActionKinds lists every kind in display order.
var ActionKinds = []ActionKind{
	ActionAddUser,
	ActionAddProduct,
	ActionBuyTransaction,
	ActionSellTransaction,
	ActionPaymentTransaction,
	ActionPaymentTransactionArray,
	ActionDeactivateUser,
	ActionUpdateUser,
	ActionDeleteUser,
	ActionDeactivateProduct,
}

// Action is the typed payload of a compliance request. The unexported
// marker keeps the set closed: only this package declares variants, so a
// type switch over them is exhaustive.
type Action interface {
	Kind() ActionKind
	isAction()
}

type AddUser struct {
	UserID string `json:"userId"`
}

type AddProduct struct {
	ProductID string `json:"productId"`
}

type BuyTransaction struct {
	TransactionID string `json:"transactionId"`
}

type SellTransaction struct {
	TransactionID string `json:"transactionId"`
}

// PaymentEntry is one investor's share of a payment request.
// TransactionID is empty when nothing was owed at request time
// (a fully repaid principal still produces an entry so the investor is told).
type PaymentEntry struct {
	InvestorID    string `json:"investorId"`
	HoldingID     string `json:"holdingId"`
	TransactionID string `json:"transactionId,omitempty"`
}

type PaymentTransaction struct {
	ProductID   string       `json:"productId"`
	PaymentType PaymentType  `json:"paymentType"`
	Entry       PaymentEntry `json:"entry"`
}

type PaymentTransactionArray struct {
	ProductID   string         `json:"productId"`
	PaymentType PaymentType    `json:"paymentType"`
	Entries     []PaymentEntry `json:"entries"`
}

type DeactivateUser struct {
	UserID string `json:"userId"`
}

type UpdateUser struct {
	UserID string    `json:"userId"`
	Patch  UserPatch `json:"patch"`
}

type DeleteUser struct {
	UserID string `json:"userId"`
}

type DeactivateProduct struct {
	ProductID string `json:"productId"`
}

func (AddUser) Kind() ActionKind                 { return ActionAddUser }
func (AddProduct) Kind() ActionKind              { return ActionAddProduct }
func (BuyTransaction) Kind() ActionKind          { return ActionBuyTransaction }
func (SellTransaction) Kind() ActionKind         { return ActionSellTransaction }
func (PaymentTransaction) Kind() ActionKind      { return ActionPaymentTransaction }
func (PaymentTransactionArray) Kind() ActionKind { return ActionPaymentTransactionArray }
func (DeactivateUser) Kind() ActionKind          { return ActionDeactivateUser }
func (UpdateUser) Kind() ActionKind              { return ActionUpdateUser }
func (DeleteUser) Kind() ActionKind              { return ActionDeleteUser }
func (DeactivateProduct) Kind() ActionKind       { return ActionDeactivateProduct }

func (AddUser) isAction()                 {}
func (AddProduct) isAction()              {}
func (BuyTransaction) isAction()          {}
func (SellTransaction) isAction()         {}
func (PaymentTransaction) isAction()      {}
func (PaymentTransactionArray) isAction() {}
func (DeactivateUser) isAction()          {}
func (UpdateUser) isAction()              {}
func (DeleteUser) isAction()              {}
func (DeactivateProduct) isAction()       {}

// PaymentEntries returns the entries of either payment variant.
func PaymentEntries(a Action) []PaymentEntry {
	switch p := a.(type) {
	case PaymentTransaction:
		return []PaymentEntry{p.Entry}
	case PaymentTransactionArray:
		return p.Entries
	}
	return nil
}
