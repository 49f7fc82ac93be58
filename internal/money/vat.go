package money

import (
	"github.com/shopspring/decimal"

	"github.com/clearledger/clearledger/internal/shared"
)

// VATBreakdown decomposes an amount into net, VAT and gross parts.
type VATBreakdown struct {
	Net         Amount
	VAT         Amount
	Gross       Amount
	RatePercent float64
}

// CalculateVATFromNet derives VAT and gross from a net base. The VAT amount
// is rounded half-to-even; gross is net plus the rounded VAT.
func CalculateVATFromNet(net Amount, ratePercent float64) (VATBreakdown, error) {
	if err := validateRate(ratePercent); err != nil {
		return VATBreakdown{}, err
	}
	rate := decimal.NewFromFloat(ratePercent).Div(decimal.NewFromInt(100))
	vat, err := Multiply(net, rate)
	if err != nil {
		return VATBreakdown{}, err
	}
	gross, err := Add(net, vat)
	if err != nil {
		return VATBreakdown{}, err
	}
	return VATBreakdown{Net: net, VAT: vat, Gross: gross, RatePercent: ratePercent}, nil
}

// CalculateVATFromGross extracts net and VAT from a gross amount. The net
// base is rounded and VAT is the remainder, which preserves the gross total
// but is deliberately not the algebraic inverse of CalculateVATFromNet; the
// two directions may disagree by one minor unit.
func CalculateVATFromGross(gross Amount, ratePercent float64) (VATBreakdown, error) {
	if err := validateRate(ratePercent); err != nil {
		return VATBreakdown{}, err
	}
	divisor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(ratePercent).Div(decimal.NewFromInt(100)))
	if divisor.IsZero() {
		return VATBreakdown{}, shared.ErrDivisionByZero.WithMessagef("money: vat divisor is zero")
	}
	netCents := decimal.New(gross.Cents, 0).Div(divisor).RoundBank(0)
	if !netCents.BigInt().IsInt64() {
		return VATBreakdown{}, shared.ErrOverflow.WithMessagef("money: gross extraction overflows")
	}
	net, err := checkedCents(netCents.IntPart(), gross.Currency)
	if err != nil {
		return VATBreakdown{}, err
	}
	vat, err := Subtract(gross, net)
	if err != nil {
		return VATBreakdown{}, err
	}
	return VATBreakdown{Net: net, VAT: vat, Gross: gross, RatePercent: ratePercent}, nil
}

func validateRate(ratePercent float64) error {
	if ratePercent < 0 || ratePercent > 100 {
		return shared.ErrInvalidVATRate.WithMessagef("money: vat rate %.4f outside [0,100]", ratePercent)
	}
	return nil
}
