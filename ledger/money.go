package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Amounts are decimal, rounded to cents before persistence
// =============================================================================

const MoneyPlaces = 2

// RoundMoney rounds half away from zero to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

var hundred = decimal.NewFromInt(100)

// PaymentsPerYear maps a coupon frequency to its number of payments.
func PaymentsPerYear(f PaymentFrequency) (int64, error) {
	switch f {
	case FrequencyAnnual:
		return 1, nil
	case FrequencyBiannual:
		return 2, nil
	case FrequencyQuarterly:
		return 4, nil
	}
	return 0, fmt.Errorf("unknown payment frequency %q", f)
}

// InterestAmount is one coupon: AV × ticketSize × rate/100 / paymentsPerYear.
func InterestAmount(h *Holding, couponRate decimal.Decimal, f PaymentFrequency) (decimal.Decimal, error) {
	n, err := PaymentsPerYear(f)
	if err != nil {
		return decimal.Zero, err
	}
	amount := h.Principal().
		Mul(couponRate.Div(hundred)).
		Div(decimal.NewFromInt(n))
	return RoundMoney(amount), nil
}

// OutstandingPrincipal is AV × ticketSize − amountRepaid. It may be zero
// (fully repaid) or negative (over-repaid, a business error for callers).
func OutstandingPrincipal(h *Holding) decimal.Decimal {
	return RoundMoney(h.Principal().Sub(h.AmountRepaid))
}

// ProRataAmount distributes totalAmount over sold tickets: AV × total / sold.
func ProRataAmount(h *Holding, total decimal.Decimal, soldTickets int64) (decimal.Decimal, error) {
	if soldTickets <= 0 {
		return decimal.Zero, ErrNothingSold
	}
	perTicket := total.Div(decimal.NewFromInt(soldTickets))
	return RoundMoney(decimal.NewFromInt(h.AvailableVolume).Mul(perTicket)), nil
}

// PaymentAmount computes what the investor behind h is owed for one
// payment of type pt. totalAmount is only used by dividend and generic
// payments.
func PaymentAmount(pt PaymentType, p *Product, h *Holding, totalAmount decimal.Decimal) (decimal.Decimal, error) {
	switch pt {
	case PaymentInterest:
		return InterestAmount(h, p.CouponRate, p.PaymentFrequency)
	case PaymentRepayment:
		out := OutstandingPrincipal(h)
		if out.IsNegative() {
			return decimal.Zero, ErrNegativeRepayment
		}
		return out, nil
	case PaymentDividend, PaymentGeneric:
		return ProRataAmount(h, totalAmount, p.SoldTickets())
	}
	return decimal.Zero, fmt.Errorf("unknown payment type %q", pt)
}

// =============================================================================
// VOLUME - Reserved-quantity aware admissibility
// =============================================================================

// ReservedQuantity sums the quantity tied up in not-yet-settled transactions.
// except is skipped so a transaction being resolved does not reserve
// against itself.
func ReservedQuantity(txs []Transaction, except string) int64 {
	var total int64
	for _, tx := range txs {
		if tx.Status == TxProcessing && tx.ID != except {
			total += tx.Quantity
		}
	}
	return total
}

// VolumeShortfall returns how much is missing for requested to fit in
// available once reserved is subtracted; zero means admissible.
func VolumeShortfall(available, reserved, requested int64) int64 {
	rest := available - reserved - requested
	if rest >= 0 {
		return 0
	}
	return -rest
}
