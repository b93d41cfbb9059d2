/*
Package factory converts between persisted compliance actions and their
typed Go payloads.

PURPOSE:
  A ComplianceRequest is stored as an action name plus an opaque JSON
  value. Handlers never see that JSON: the factory decodes it once, at the
  storage boundary, into the closed ledger.Action sum type. This is the
  only place where an action is looked up by name, so it is the only
  place that can report "invalid compliance action".

JSON SCHEMA (action_value by action_name):
  AddUser, DeactivateUser, DeleteUser   {"userId": "..."}
  UpdateUser                            {"userId": "...", "patch": {"name": "...", "email": "..."}}
  AddProduct, DeactivateProduct         {"productId": "..."}
  BuyTransaction, SellTransaction       {"transactionId": "..."}
  PaymentTransaction                    {"productId": "...", "paymentType": "interest",
                                         "entry": {"investorId": "...", "holdingId": "...", "transactionId": "..."}}
  PaymentTransactionArray               {"productId": "...", "paymentType": "dividend",
                                         "entries": [{...}, {...}]}

USAGE:
  name, value, err := factory.EncodeAction(ledger.BuyTransaction{TransactionID: id})
  action, err := factory.DecodeAction(name, value)

SEE ALSO:
  - ledger/action.go: the payload types
  - store/sqlite/sqlite.go: stores name and value columns
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/warp/compliance-engine/ledger"
)

// EncodeAction serializes a payload into its persisted name and value.
func EncodeAction(a ledger.Action) (ledger.ActionKind, []byte, error) {
	if a == nil {
		return "", nil, ledger.E(ledger.KindBadRequest, "factory.encode", ledger.ErrInvalidAction)
	}
	value, err := json.Marshal(a)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s action: %w", a.Kind(), err)
	}
	return a.Kind(), value, nil
}

// DecodeAction parses a persisted action. Unknown names and payloads
// that do not match their name's schema are BadRequest errors.
func DecodeAction(name ledger.ActionKind, value []byte) (ledger.Action, error) {
	switch name {
	case ledger.ActionAddUser:
		return decodeInto[ledger.AddUser](name, value)
	case ledger.ActionAddProduct:
		return decodeInto[ledger.AddProduct](name, value)
	case ledger.ActionBuyTransaction:
		return decodeInto[ledger.BuyTransaction](name, value)
	case ledger.ActionSellTransaction:
		return decodeInto[ledger.SellTransaction](name, value)
	case ledger.ActionPaymentTransaction:
		return decodeInto[ledger.PaymentTransaction](name, value)
	case ledger.ActionPaymentTransactionArray:
		return decodeInto[ledger.PaymentTransactionArray](name, value)
	case ledger.ActionDeactivateUser:
		return decodeInto[ledger.DeactivateUser](name, value)
	case ledger.ActionUpdateUser:
		return decodeInto[ledger.UpdateUser](name, value)
	case ledger.ActionDeleteUser:
		return decodeInto[ledger.DeleteUser](name, value)
	case ledger.ActionDeactivateProduct:
		return decodeInto[ledger.DeactivateProduct](name, value)
	}
	return nil, ledger.Errorf(ledger.KindBadRequest, "factory.decode", ledger.ErrInvalidAction, "action %q", name)
}

func decodeInto[T ledger.Action](name ledger.ActionKind, value []byte) (ledger.Action, error) {
	var payload T
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, ledger.Errorf(ledger.KindBadRequest, "factory.decode", ledger.ErrInvalidAction,
			"action %s: %v", name, err)
	}
	if err := validate(payload); err != nil {
		return nil, ledger.Errorf(ledger.KindBadRequest, "factory.decode", ledger.ErrInvalidAction,
			"action %s: %v", name, err)
	}
	return payload, nil
}

// validate checks that the id a handler needs is present.
func validate(a ledger.Action) error {
	missing := func(field string) error { return fmt.Errorf("%s is required", field) }
	switch p := a.(type) {
	case ledger.AddUser:
		if p.UserID == "" {
			return missing("userId")
		}
	case ledger.DeactivateUser:
		if p.UserID == "" {
			return missing("userId")
		}
	case ledger.DeleteUser:
		if p.UserID == "" {
			return missing("userId")
		}
	case ledger.UpdateUser:
		if p.UserID == "" {
			return missing("userId")
		}
	case ledger.AddProduct:
		if p.ProductID == "" {
			return missing("productId")
		}
	case ledger.DeactivateProduct:
		if p.ProductID == "" {
			return missing("productId")
		}
	case ledger.BuyTransaction:
		if p.TransactionID == "" {
			return missing("transactionId")
		}
	case ledger.SellTransaction:
		if p.TransactionID == "" {
			return missing("transactionId")
		}
	case ledger.PaymentTransaction:
		if p.ProductID == "" || !p.PaymentType.Valid() || p.Entry.InvestorID == "" {
			return missing("productId, paymentType and entry.investorId")
		}
	case ledger.PaymentTransactionArray:
		if p.ProductID == "" || !p.PaymentType.Valid() {
			return missing("productId and paymentType")
		}
		for i, e := range p.Entries {
			if e.InvestorID == "" {
				return missing(fmt.Sprintf("entries[%d].investorId", i))
			}
		}
	}
	return nil
}
