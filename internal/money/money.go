// Package money implements integer-minor-unit monetary arithmetic with
// banker's rounding and currency-checked operations.
package money

import (
	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/clearledger/clearledger/internal/shared"
)

// MaxSafeCents bounds amounts so they survive round-trips through systems
// that only guarantee 53-bit integer precision.
const MaxSafeCents = int64(1)<<53 - 1

// Amount is an immutable monetary value in minor units of its currency.
type Amount struct {
	Cents    int64  `json:"cents"`
	Currency string `json:"currency"`
}

// FromCents builds an Amount after validating the currency and bounds.
func FromCents(cents int64, currency string) (Amount, error) {
	if err := validateCurrency(currency); err != nil {
		return Amount{}, err
	}
	if !withinBounds(cents) {
		return Amount{}, shared.ErrOverflow.WithMessagef("money: %d cents outside safe bounds", cents)
	}
	return Amount{Cents: cents, Currency: currency}, nil
}

// FromDecimal converts a major-unit decimal value into an Amount, rounding
// half-to-even at the currency's minor unit.
func FromDecimal(value decimal.Decimal, currency string) (Amount, error) {
	if err := validateCurrency(currency); err != nil {
		return Amount{}, err
	}
	minor := value.Shift(currencyFraction(currency)).RoundBank(0)
	if !minor.IsInteger() || !minor.BigInt().IsInt64() {
		return Amount{}, shared.ErrOverflow.WithMessagef("money: %s does not fit in minor units", value)
	}
	return FromCents(minor.IntPart(), currency)
}

// ToDecimal returns the major-unit decimal representation.
func (a Amount) ToDecimal() decimal.Decimal {
	return decimal.New(a.Cents, 0).Shift(-currencyFraction(a.Currency))
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.Cents == 0 }

// IsPositive reports whether the amount is strictly positive.
func (a Amount) IsPositive() bool { return a.Cents > 0 }

// IsNegative reports whether the amount is strictly negative.
func (a Amount) IsNegative() bool { return a.Cents < 0 }

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	if a.Cents < 0 {
		return Amount{Cents: -a.Cents, Currency: a.Currency}
	}
	return a
}

// Neg returns the negated value.
func (a Amount) Neg() Amount {
	return Amount{Cents: -a.Cents, Currency: a.Currency}
}

// Add returns a+b, requiring identical currencies.
func Add(a, b Amount) (Amount, error) {
	if err := sameCurrency(a, b); err != nil {
		return Amount{}, err
	}
	return checkedCents(a.Cents+b.Cents, a.Currency)
}

// Subtract returns a-b, requiring identical currencies.
func Subtract(a, b Amount) (Amount, error) {
	if err := sameCurrency(a, b); err != nil {
		return Amount{}, err
	}
	return checkedCents(a.Cents-b.Cents, a.Currency)
}

// Multiply scales the amount by an arbitrary decimal factor, rounding the
// result half-to-even to whole minor units.
func Multiply(a Amount, factor decimal.Decimal) (Amount, error) {
	product := decimal.New(a.Cents, 0).Mul(factor).RoundBank(0)
	if !product.BigInt().IsInt64() {
		return Amount{}, shared.ErrOverflow.WithMessagef("money: multiply overflows")
	}
	return checkedCents(product.IntPart(), a.Currency)
}

// Sum adds all amounts in the collection; the collection must be non-empty
// and single-currency.
func Sum(amounts []Amount) (Amount, error) {
	if len(amounts) == 0 {
		return Amount{}, shared.ErrEmptyCollection.WithMessagef("money: sum of empty collection")
	}
	total := amounts[0]
	for _, a := range amounts[1:] {
		var err error
		total, err = Add(total, a)
		if err != nil {
			return Amount{}, err
		}
	}
	return total, nil
}

// Compare returns -1, 0 or 1 ordering a against b.
func Compare(a, b Amount) (int, error) {
	if err := sameCurrency(a, b); err != nil {
		return 0, err
	}
	switch {
	case a.Cents < b.Cents:
		return -1, nil
	case a.Cents > b.Cents:
		return 1, nil
	default:
		return 0, nil
	}
}

func sameCurrency(a, b Amount) error {
	if a.Currency != b.Currency {
		return shared.ErrCurrencyMismatch.WithMessagef("money: %s vs %s", a.Currency, b.Currency)
	}
	return nil
}

func checkedCents(cents int64, currency string) (Amount, error) {
	if !withinBounds(cents) {
		return Amount{}, shared.ErrOverflow.WithMessagef("money: %d cents outside safe bounds", cents)
	}
	return Amount{Cents: cents, Currency: currency}, nil
}

func withinBounds(cents int64) bool {
	return cents >= -MaxSafeCents && cents <= MaxSafeCents
}

func validateCurrency(code string) error {
	if code == "" || gomoney.GetCurrency(code) == nil {
		return shared.ErrInvalidCurrency.WithMessagef("money: unknown currency %q", code)
	}
	return nil
}

func currencyFraction(code string) int32 {
	if cur := gomoney.GetCurrency(code); cur != nil {
		return int32(cur.Fraction)
	}
	return 2
}
