package recon

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clearledger/clearledger/internal/ledger"
)

func TestSummarizeVATBuckets(t *testing.T) {
	invoices := invoiceMap(
		ledger.Invoice{InvoiceID: "inv-1", TotalGrossCents: 10000, Currency: "EUR", VATRatePercent: 21, Direction: ledger.DirectionSales},
		ledger.Invoice{InvoiceID: "inv-2", TotalGrossCents: 11000, Currency: "EUR", VATRatePercent: 10, Direction: ledger.DirectionExpense},
		ledger.Invoice{InvoiceID: "inv-3", TotalGrossCents: 5000, Currency: "USD", VATRatePercent: 21},
	)
	summary, err := SummarizeVAT(invoices, "EUR", DefaultVATRateBuckets)
	require.NoError(t, err)

	require.Len(t, summary.Buckets, 4)
	rates := []float64{0, 4, 10, 21}
	for i, bucket := range summary.Buckets {
		require.Equal(t, rates[i], bucket.RatePercent)
	}

	// 10000 gross at 21%: base round(10000/1.21)=8264, vat 1736.
	bucket21 := summary.Buckets[3]
	require.Equal(t, int64(8264), bucket21.NetCents)
	require.Equal(t, int64(1736), bucket21.VATCents)
	require.Equal(t, int64(10000), bucket21.GrossCents)

	// 11000 gross at 10%: base 10000, vat 1000.
	bucket10 := summary.Buckets[2]
	require.Equal(t, int64(1000), bucket10.VATCents)

	require.Equal(t, int64(1736), summary.CollectedVATCents)
	require.Equal(t, int64(1000), summary.PaidVATCents)
	require.Equal(t, int64(736), summary.NetVATCents)
}

func TestSummarizeVATCreatesBucketOnTheFly(t *testing.T) {
	invoices := invoiceMap(
		ledger.Invoice{InvoiceID: "inv-1", TotalGrossCents: 10700, Currency: "EUR", VATRatePercent: 7},
	)
	summary, err := SummarizeVAT(invoices, "EUR", DefaultVATRateBuckets)
	require.NoError(t, err)
	require.Len(t, summary.Buckets, 5)
	require.Equal(t, float64(7), summary.Buckets[2].RatePercent)
	require.Equal(t, int64(700), summary.Buckets[2].VATCents)
}

func TestSummarizeVATDefaultsDirectionToExpense(t *testing.T) {
	invoices := invoiceMap(
		ledger.Invoice{InvoiceID: "inv-1", TotalGrossCents: 12100, Currency: "EUR", VATRatePercent: 21},
	)
	summary, err := SummarizeVAT(invoices, "EUR", nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), summary.CollectedVATCents)
	require.Equal(t, int64(2100), summary.PaidVATCents)
	require.Equal(t, int64(-2100), summary.NetVATCents)
}

func TestSummarizeVATInvalidRate(t *testing.T) {
	invoices := invoiceMap(
		ledger.Invoice{InvoiceID: "inv-1", TotalGrossCents: 1000, Currency: "EUR", VATRatePercent: 120},
	)
	_, err := SummarizeVAT(invoices, "EUR", nil)
	require.Error(t, err)
}
