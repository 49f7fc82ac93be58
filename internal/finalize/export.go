package finalize

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/clearledger/clearledger/internal/ledger"
	"github.com/clearledger/clearledger/internal/recon"
	"github.com/clearledger/clearledger/internal/timeline"
)

// ledgerCSVHeader is the wire contract for the ledger export.
var ledgerCSVHeader = []string{"recordType", "recordId", "date", "description", "amountCents", "currency", "matchedIds"}

// BuildLedgerCSV renders the currency-filtered ledger export: bank rows
// sorted by (bookingDate, txId) followed by invoice rows sorted by
// (issueDate, invoiceId); matchedIds is the |-joined, alphabetically sorted
// list of counterpart ids coming from confirmed matches.
func BuildLedgerCSV(snap ledger.Snapshot, currency string) ([]byte, error) {
	bankCounterparts := make(map[string][]string)
	invoiceCounterparts := make(map[string][]string)
	for _, m := range snap.ConfirmedMatches() {
		for _, txID := range m.BankTxIDs {
			bankCounterparts[txID] = append(bankCounterparts[txID], m.InvoiceIDs...)
		}
		for _, invID := range m.InvoiceIDs {
			invoiceCounterparts[invID] = append(invoiceCounterparts[invID], m.BankTxIDs...)
		}
	}

	banks := make([]ledger.BankTransaction, 0, len(snap.BankTxByID))
	for _, tx := range snap.BankTxByID {
		if tx.Currency == currency {
			banks = append(banks, tx)
		}
	}
	sort.Slice(banks, func(i, j int) bool {
		if banks[i].BookingDate != banks[j].BookingDate {
			return banks[i].BookingDate < banks[j].BookingDate
		}
		return banks[i].TxID < banks[j].TxID
	})

	invoices := make([]ledger.Invoice, 0, len(snap.InvoiceByID))
	for _, inv := range snap.InvoiceByID {
		if inv.Currency == currency {
			invoices = append(invoices, inv)
		}
	}
	sort.Slice(invoices, func(i, j int) bool {
		if invoices[i].IssueDate != invoices[j].IssueDate {
			return invoices[i].IssueDate < invoices[j].IssueDate
		}
		return invoices[i].InvoiceID < invoices[j].InvoiceID
	})

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(ledgerCSVHeader); err != nil {
		return nil, err
	}
	for _, tx := range banks {
		row := []string{
			"BANK_TX",
			tx.TxID,
			tx.BookingDate,
			tx.Description,
			strconv.FormatInt(tx.AmountCents, 10),
			tx.Currency,
			joinedIDs(bankCounterparts[tx.TxID]),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	for _, inv := range invoices {
		row := []string{
			"INVOICE",
			inv.InvoiceID,
			inv.IssueDate,
			inv.Description,
			strconv.FormatInt(inv.TotalGrossCents, 10),
			inv.Currency,
			joinedIDs(invoiceCounterparts[inv.InvoiceID]),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func joinedIDs(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	unique := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if unique[id] {
			continue
		}
		unique[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return strings.Join(out, "|")
}

// SummaryInput collects the figures the summary report quotes.
type SummaryInput struct {
	TenantID   string
	MonthKey   string
	Currency   string
	Final      timeline.Entry
	VATSummary recon.VATSummary
	Mismatches recon.MismatchSummary
	Insights   timeline.Insights
}

// BuildSummaryReport renders the fixed line-based month close summary. The
// PDF renderer consumes these lines verbatim, so the layout is a contract.
func BuildSummaryReport(in SummaryInput) []byte {
	bankWithout, invoiceWithout, partial, over := in.Mismatches.Counts()
	lines := []string{
		"MONTH CLOSE SUMMARY",
		fmt.Sprintf("Tenant: %s", in.TenantID),
		fmt.Sprintf("Month: %s", in.MonthKey),
		fmt.Sprintf("Currency: %s", in.Currency),
		fmt.Sprintf("Revenue (cents): %d", in.Final.RevenueCents),
		fmt.Sprintf("Expenses (cents): %d", in.Final.ExpenseCents),
		fmt.Sprintf("VAT (cents): %d", in.Final.VATCents),
		fmt.Sprintf("Net VAT (cents): %d", in.VATSummary.NetVATCents),
		fmt.Sprintf("Unmatched bank transactions: %d", in.Final.UnmatchedBankCount),
		fmt.Sprintf("Unmatched invoices: %d", in.Final.UnmatchedInvoiceCount),
		fmt.Sprintf("Bank tx without invoice: %d", bankWithout),
		fmt.Sprintf("Invoices matched without bank tx: %d", invoiceWithout),
		fmt.Sprintf("Partial payments: %d", partial),
		fmt.Sprintf("Overpayments: %d", over),
	}
	lines = append(lines, in.Insights.Summaries...)
	return []byte(strings.Join(lines, "\n") + "\n")
}
