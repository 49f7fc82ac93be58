package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/clearledger/clearledger/internal/shared"
)

func TestFromCentsValidation(t *testing.T) {
	a, err := FromCents(1050, "EUR")
	require.NoError(t, err)
	require.Equal(t, int64(1050), a.Cents)

	_, err = FromCents(100, "NOPE")
	requireCode(t, err, "INVALID_CURRENCY")

	_, err = FromCents(MaxSafeCents+1, "EUR")
	requireCode(t, err, "OVERFLOW")
}

func TestAddSubtractCurrencyChecked(t *testing.T) {
	eur, _ := FromCents(100, "EUR")
	usd, _ := FromCents(100, "USD")

	_, err := Add(eur, usd)
	requireCode(t, err, "CURRENCY_MISMATCH")

	sum, err := Add(eur, eur)
	require.NoError(t, err)
	require.Equal(t, int64(200), sum.Cents)

	diff, err := Subtract(sum, eur)
	require.NoError(t, err)
	require.Equal(t, eur, diff)
}

func TestMultiplyBankersRounding(t *testing.T) {
	a, _ := FromCents(125, "EUR")
	// 125 * 0.5 = 62.5 rounds half-to-even to 62.
	half, err := Multiply(a, decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	require.Equal(t, int64(62), half.Cents)

	b, _ := FromCents(135, "EUR")
	// 135 * 0.5 = 67.5 rounds half-to-even to 68.
	half, err = Multiply(b, decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	require.Equal(t, int64(68), half.Cents)
}

func TestSum(t *testing.T) {
	_, err := Sum(nil)
	requireCode(t, err, "EMPTY_COLLECTION")

	a, _ := FromCents(100, "EUR")
	b, _ := FromCents(-30, "EUR")
	total, err := Sum([]Amount{a, b})
	require.NoError(t, err)
	require.Equal(t, int64(70), total.Cents)

	usd, _ := FromCents(5, "USD")
	_, err = Sum([]Amount{a, usd})
	requireCode(t, err, "CURRENCY_MISMATCH")
}

func TestCompareAndPredicates(t *testing.T) {
	a, _ := FromCents(100, "EUR")
	b, _ := FromCents(200, "EUR")

	cmp, err := Compare(a, b)
	require.NoError(t, err)
	require.Equal(t, -1, cmp)

	cmp, err = Compare(b, a)
	require.NoError(t, err)
	require.Equal(t, 1, cmp)

	zero, _ := FromCents(0, "EUR")
	require.True(t, zero.IsZero())
	require.True(t, a.IsPositive())
	require.True(t, a.Neg().IsNegative())
	require.Equal(t, a, a.Neg().Abs())
}

func TestDecimalRoundTrip(t *testing.T) {
	for _, cur := range []string{"EUR", "USD", "JPY", "BHD"} {
		for _, cents := range []int64{0, 1, -1, 99, 12345, -987654321} {
			a, err := FromCents(cents, cur)
			require.NoError(t, err)
			back, err := FromDecimal(a.ToDecimal(), cur)
			require.NoError(t, err)
			require.Equal(t, a, back, "round trip %d %s", cents, cur)
		}
	}
}

func TestFromDecimalBankersRounding(t *testing.T) {
	a, err := FromDecimal(decimal.RequireFromString("10.005"), "EUR")
	require.NoError(t, err)
	require.Equal(t, int64(1000), a.Cents)

	b, err := FromDecimal(decimal.RequireFromString("10.015"), "EUR")
	require.NoError(t, err)
	require.Equal(t, int64(1002), b.Cents)
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var tagged *shared.Error
	require.True(t, errors.As(err, &tagged), "expected taxonomy error, got %v", err)
	require.Equal(t, code, tagged.Code)
}
