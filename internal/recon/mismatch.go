// Package recon detects reconciliation mismatches and aggregates VAT from a
// ledger snapshot. All outputs are deterministically ordered.
package recon

import (
	"sort"

	"github.com/clearledger/clearledger/internal/ledger"
)

// MismatchSummary partitions reconciliation anomalies for one currency.
type MismatchSummary struct {
	BankTxWithoutInvoice        []string `json:"bankTxWithoutInvoice"`
	InvoiceMatchedWithoutBankTx []string `json:"invoiceMatchedWithoutBankTx"`
	PartialPayments             []string `json:"partialPayments"`
	Overpayments                []string `json:"overpayments"`
}

// DetectMismatches flags unmatched, partially paid and overpaid records.
// Only confirmed matches participate; every output list is sorted ascending
// by id so repeated runs yield identical results.
func DetectMismatches(bankTx map[string]ledger.BankTransaction, invoices map[string]ledger.Invoice, confirmed []ledger.Match, currency string) MismatchSummary {
	matchedBank := make(map[string]bool)
	for _, m := range confirmed {
		for _, id := range m.BankTxIDs {
			matchedBank[id] = true
		}
	}

	var summary MismatchSummary
	for id, tx := range bankTx {
		if tx.Currency != currency {
			continue
		}
		if !matchedBank[id] {
			summary.BankTxWithoutInvoice = append(summary.BankTxWithoutInvoice, id)
		}
	}

	// Paid cents per invoice: the absolute sum of the currency-filtered bank
	// transactions linked through any confirmed match referencing it.
	paidByInvoice := make(map[string]int64)
	noBankTx := make(map[string]bool)
	for _, m := range confirmed {
		if len(m.BankTxIDs) == 0 {
			for _, invID := range m.InvoiceIDs {
				noBankTx[invID] = true
			}
			continue
		}
		var linked int64
		for _, txID := range m.BankTxIDs {
			tx, ok := bankTx[txID]
			if !ok || tx.Currency != currency {
				continue
			}
			if tx.AmountCents < 0 {
				linked += -tx.AmountCents
			} else {
				linked += tx.AmountCents
			}
		}
		for _, invID := range m.InvoiceIDs {
			paidByInvoice[invID] += linked
		}
	}

	for invID := range noBankTx {
		if inv, ok := invoices[invID]; ok && inv.Currency == currency {
			summary.InvoiceMatchedWithoutBankTx = append(summary.InvoiceMatchedWithoutBankTx, invID)
		}
	}
	for invID, paid := range paidByInvoice {
		inv, ok := invoices[invID]
		if !ok || inv.Currency != currency {
			continue
		}
		switch {
		case paid > 0 && paid < inv.TotalGrossCents:
			summary.PartialPayments = append(summary.PartialPayments, invID)
		case paid > inv.TotalGrossCents:
			summary.Overpayments = append(summary.Overpayments, invID)
		}
	}

	sort.Strings(summary.BankTxWithoutInvoice)
	sort.Strings(summary.InvoiceMatchedWithoutBankTx)
	sort.Strings(summary.PartialPayments)
	sort.Strings(summary.Overpayments)
	return summary
}

// IsClean reports whether no anomaly was detected.
func (s MismatchSummary) IsClean() bool {
	return len(s.BankTxWithoutInvoice) == 0 &&
		len(s.InvoiceMatchedWithoutBankTx) == 0 &&
		len(s.PartialPayments) == 0 &&
		len(s.Overpayments) == 0
}

// Counts returns the anomaly totals in a stable order.
func (s MismatchSummary) Counts() (bankWithoutInvoice, invoiceWithoutBank, partial, over int) {
	return len(s.BankTxWithoutInvoice), len(s.InvoiceMatchedWithoutBankTx), len(s.PartialPayments), len(s.Overpayments)
}

// UnmatchedCounts counts currency-filtered bank transactions and invoices
// not covered by any confirmed match. The same coverage logic backs both the
// mismatch detector and the counterfactual timeline.
func UnmatchedCounts(snap ledger.Snapshot, currency string) (bankCount, invoiceCount int) {
	matchedBank := make(map[string]bool)
	matchedInvoice := make(map[string]bool)
	for _, m := range snap.ConfirmedMatches() {
		for _, id := range m.BankTxIDs {
			matchedBank[id] = true
		}
		for _, id := range m.InvoiceIDs {
			matchedInvoice[id] = true
		}
	}
	for id, tx := range snap.BankTxByID {
		if tx.Currency == currency && !matchedBank[id] {
			bankCount++
		}
	}
	for id, inv := range snap.InvoiceByID {
		if inv.Currency == currency && !matchedInvoice[id] {
			invoiceCount++
		}
	}
	return bankCount, invoiceCount
}
