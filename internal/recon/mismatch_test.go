package recon

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clearledger/clearledger/internal/ledger"
)

func bankTxMap(txs ...ledger.BankTransaction) map[string]ledger.BankTransaction {
	out := make(map[string]ledger.BankTransaction, len(txs))
	for _, tx := range txs {
		out[tx.TxID] = tx
	}
	return out
}

func invoiceMap(invs ...ledger.Invoice) map[string]ledger.Invoice {
	out := make(map[string]ledger.Invoice, len(invs))
	for _, inv := range invs {
		out[inv.InvoiceID] = inv
	}
	return out
}

func confirmedMatch(id string, bankIDs, invoiceIDs []string) ledger.Match {
	return ledger.Match{MatchID: id, Status: ledger.MatchStatusConfirmed, BankTxIDs: bankIDs, InvoiceIDs: invoiceIDs, MatchType: "EXACT", Score: 1}
}

func TestDetectMismatchesFullyMatched(t *testing.T) {
	bank := bankTxMap(ledger.BankTransaction{TxID: "tx-1", AmountCents: 10000, Currency: "EUR", BookingDate: "2026-01-05"})
	invoices := invoiceMap(ledger.Invoice{InvoiceID: "inv-1", TotalGrossCents: 10000, Currency: "EUR", VATRatePercent: 21})
	matches := []ledger.Match{confirmedMatch("m-1", []string{"tx-1"}, []string{"inv-1"})}

	summary := DetectMismatches(bank, invoices, matches, "EUR")
	require.True(t, summary.IsClean(), "expected empty summary, got %+v", summary)
}

func TestDetectMismatchesUnmatchedBankTx(t *testing.T) {
	bank := bankTxMap(
		ledger.BankTransaction{TxID: "tx-2", AmountCents: -500, Currency: "EUR"},
		ledger.BankTransaction{TxID: "tx-1", AmountCents: 10000, Currency: "EUR"},
		ledger.BankTransaction{TxID: "tx-3", AmountCents: 700, Currency: "USD"},
	)
	summary := DetectMismatches(bank, nil, nil, "EUR")
	require.Equal(t, []string{"tx-1", "tx-2"}, summary.BankTxWithoutInvoice)
}

func TestDetectMismatchesPartialAndOverpayment(t *testing.T) {
	invoices := invoiceMap(ledger.Invoice{InvoiceID: "inv-1", TotalGrossCents: 30000, Currency: "EUR", VATRatePercent: 21})

	partialBank := bankTxMap(ledger.BankTransaction{TxID: "tx-1", AmountCents: -15000, Currency: "EUR"})
	matches := []ledger.Match{confirmedMatch("m-1", []string{"tx-1"}, []string{"inv-1"})}
	summary := DetectMismatches(partialBank, invoices, matches, "EUR")
	require.Equal(t, []string{"inv-1"}, summary.PartialPayments)
	require.Empty(t, summary.Overpayments)

	overBank := bankTxMap(
		ledger.BankTransaction{TxID: "tx-1", AmountCents: 30000, Currency: "EUR"},
		ledger.BankTransaction{TxID: "tx-2", AmountCents: 15000, Currency: "EUR"},
	)
	matches = []ledger.Match{confirmedMatch("m-1", []string{"tx-1", "tx-2"}, []string{"inv-1"})}
	summary = DetectMismatches(overBank, invoices, matches, "EUR")
	require.Equal(t, []string{"inv-1"}, summary.Overpayments)
	require.Empty(t, summary.PartialPayments)
}

func TestDetectMismatchesInvoiceWithoutBankTx(t *testing.T) {
	invoices := invoiceMap(ledger.Invoice{InvoiceID: "inv-1", TotalGrossCents: 5000, Currency: "EUR"})
	matches := []ledger.Match{confirmedMatch("m-1", nil, []string{"inv-1"})}

	summary := DetectMismatches(nil, invoices, matches, "EUR")
	require.Equal(t, []string{"inv-1"}, summary.InvoiceMatchedWithoutBankTx)
	// Distinct anomaly from partial/overpayment.
	require.Empty(t, summary.PartialPayments)
	require.Empty(t, summary.Overpayments)
}

// The currency-filtered bank tx set partitions into matched and unmatched.
func TestMismatchPartition(t *testing.T) {
	bank := bankTxMap(
		ledger.BankTransaction{TxID: "tx-1", AmountCents: 1000, Currency: "EUR"},
		ledger.BankTransaction{TxID: "tx-2", AmountCents: 2000, Currency: "EUR"},
		ledger.BankTransaction{TxID: "tx-3", AmountCents: 3000, Currency: "EUR"},
	)
	invoices := invoiceMap(ledger.Invoice{InvoiceID: "inv-1", TotalGrossCents: 1000, Currency: "EUR"})
	matches := []ledger.Match{confirmedMatch("m-1", []string{"tx-1"}, []string{"inv-1"})}

	summary := DetectMismatches(bank, invoices, matches, "EUR")
	unmatched := make(map[string]bool)
	for _, id := range summary.BankTxWithoutInvoice {
		require.False(t, unmatched[id], "duplicate id %s", id)
		unmatched[id] = true
	}
	matchedCount := 0
	for id := range bank {
		if !unmatched[id] {
			matchedCount++
		}
	}
	require.Equal(t, len(bank), matchedCount+len(unmatched))
	require.Equal(t, []string{"tx-2", "tx-3"}, summary.BankTxWithoutInvoice)
}

func TestUnmatchedCounts(t *testing.T) {
	snap := ledger.Snapshot{
		BankTxByID: bankTxMap(
			ledger.BankTransaction{TxID: "tx-1", AmountCents: 1000, Currency: "EUR"},
			ledger.BankTransaction{TxID: "tx-2", AmountCents: 2000, Currency: "EUR"},
		),
		InvoiceByID: invoiceMap(
			ledger.Invoice{InvoiceID: "inv-1", TotalGrossCents: 1000, Currency: "EUR"},
			ledger.Invoice{InvoiceID: "inv-2", TotalGrossCents: 9000, Currency: "EUR"},
		),
		MatchByID: map[string]ledger.Match{
			"m-1": confirmedMatch("m-1", []string{"tx-1"}, []string{"inv-1"}),
			"m-2": {MatchID: "m-2", Status: ledger.MatchStatusProposed, BankTxIDs: []string{"tx-2"}, InvoiceIDs: []string{"inv-2"}},
		},
	}
	bankCount, invoiceCount := UnmatchedCounts(snap, "EUR")
	require.Equal(t, 1, bankCount)
	require.Equal(t, 1, invoiceCount)
}
