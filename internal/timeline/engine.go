// Package timeline derives counterfactual close snapshots: how the month
// would have looked N days after period end, given only the events known by
// then, and how fast the figures converged to their final values.
package timeline

import (
	"sort"
	"time"

	"github.com/clearledger/clearledger/internal/ledger"
	"github.com/clearledger/clearledger/internal/money"
	"github.com/clearledger/clearledger/internal/recon"
)

// Entry is one point of the counterfactual timeline. AsOfDay nil marks the
// final, authoritative entry.
type Entry struct {
	AsOfDay               *int   `json:"asOfDay"`
	AsOfDate              string `json:"asOfDate"`
	RevenueCents          int64  `json:"revenueCents"`
	ExpenseCents          int64  `json:"expenseCents"`
	VATCents              int64  `json:"vatCents"`
	UnmatchedBankCount    int    `json:"unmatchedBankCount"`
	UnmatchedInvoiceCount int    `json:"unmatchedInvoiceCount"`
	UnmatchedTotalCount   int    `json:"unmatchedTotalCount"`
}

// Input bundles everything the engine needs. No wall clock: the true
// finalization date is injected by the caller.
type Input struct {
	Events      []ledger.Event
	AsOfDays    []int
	PeriodEnd   time.Time
	Currency    string
	FinalizedAt time.Time
}

// NormalizeAsOfDays sorts ascending, de-duplicates and drops negatives.
func NormalizeAsOfDays(days []int) []int {
	seen := make(map[int]bool, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// Compute replays the event log at each as-of cutoff plus a final synthetic
// entry built from the complete event set.
func Compute(in Input) ([]Entry, error) {
	days := NormalizeAsOfDays(in.AsOfDays)
	sorted := ledger.SortEvents(in.Events)

	entries := make([]Entry, 0, len(days)+1)
	for _, d := range days {
		day := d
		cutoffDate := in.PeriodEnd.AddDate(0, 0, d)
		known := EventsKnownBy(sorted, cutoffDate)
		entry, err := entryFromEvents(known, in.Currency)
		if err != nil {
			return nil, err
		}
		entry.AsOfDay = &day
		entry.AsOfDate = cutoffDate.Format(time.DateOnly)
		entries = append(entries, entry)
	}

	final, err := entryFromEvents(sorted, in.Currency)
	if err != nil {
		return nil, err
	}
	final.AsOfDate = in.FinalizedAt.Format(time.DateOnly)
	entries = append(entries, final)
	return entries, nil
}

// EventsKnownBy keeps events that occurred on or before the cutoff date.
// The finalize workflow reuses it for per-as-of audit snapshots.
func EventsKnownBy(sorted []ledger.Event, cutoffDate time.Time) []ledger.Event {
	endOfDay := time.Date(cutoffDate.Year(), cutoffDate.Month(), cutoffDate.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	out := make([]ledger.Event, 0, len(sorted))
	for _, ev := range sorted {
		if ev.OccurredAt.Before(endOfDay) {
			out = append(out, ev)
		}
	}
	return out
}

func entryFromEvents(events []ledger.Event, currency string) (Entry, error) {
	snap := ledger.BuildSnapshot(events)

	var entry Entry
	for _, tx := range snap.BankTxByID {
		if tx.Currency != currency {
			continue
		}
		if tx.AmountCents >= 0 {
			entry.RevenueCents += tx.AmountCents
		} else {
			entry.ExpenseCents += -tx.AmountCents
		}
	}
	for _, inv := range snap.InvoiceByID {
		if inv.Currency != currency {
			continue
		}
		gross, err := money.FromCents(inv.TotalGrossCents, currency)
		if err != nil {
			return Entry{}, err
		}
		bd, err := money.CalculateVATFromGross(gross, inv.VATRatePercent)
		if err != nil {
			return Entry{}, err
		}
		entry.VATCents += bd.VAT.Cents
	}
	for _, adj := range snap.Adjustments {
		if adj.Currency != currency {
			continue
		}
		switch adj.Kind {
		case ledger.AdjustmentRevenue:
			entry.RevenueCents += adj.AmountCents
		case ledger.AdjustmentExpense:
			entry.ExpenseCents += adj.AmountCents
		case ledger.AdjustmentVAT:
			entry.VATCents += adj.AmountCents
		}
	}

	bank, invoice := recon.UnmatchedCounts(snap, currency)
	entry.UnmatchedBankCount = bank
	entry.UnmatchedInvoiceCount = invoice
	entry.UnmatchedTotalCount = bank + invoice
	return entry, nil
}

// Variance measures how far an entry sits from the final entry: the sum of
// absolute deltas across revenue, expense, VAT and unmatched count.
func Variance(entry, final Entry) int64 {
	return absInt64(entry.RevenueCents-final.RevenueCents) +
		absInt64(entry.ExpenseCents-final.ExpenseCents) +
		absInt64(entry.VATCents-final.VATCents) +
		absInt64(int64(entry.UnmatchedTotalCount)-int64(final.UnmatchedTotalCount))
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
