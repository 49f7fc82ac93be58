package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clearledger/clearledger/internal/ledger"
)

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.DateOnly, value)
	require.NoError(t, err)
	return ts
}

func ev(id string, kind ledger.EventType, occurred string, payload any) ledger.Event {
	ts, _ := time.Parse(time.RFC3339, occurred)
	return ledger.Event{
		ID:              id,
		TenantID:        "tenant-1",
		Type:            kind,
		OccurredAt:      ts,
		RecordedAt:      ts,
		MonthKey:        "2026-01",
		DeterministicID: id,
		Payload:         payload,
	}
}

func januaryFixture() []ledger.Event {
	return []ledger.Event{
		ev("ev-1", ledger.EventBankTxArrived, "2026-01-05T00:00:00Z",
			ledger.BankTransaction{TxID: "tx-1", AmountCents: 10000, Currency: "EUR", BookingDate: "2026-01-05"}),
		ev("ev-2", ledger.EventInvoiceCreated, "2026-01-06T00:00:00Z",
			ledger.Invoice{InvoiceID: "inv-1", TotalGrossCents: 10000, Currency: "EUR", VATRatePercent: 21, IssueDate: "2026-01-06", Direction: ledger.DirectionSales}),
		// A late bank expense only known 5 days after period end.
		ev("ev-3", ledger.EventBankTxArrived, "2026-02-05T00:00:00Z",
			ledger.BankTransaction{TxID: "tx-2", AmountCents: -4000, Currency: "EUR", BookingDate: "2026-01-28"}),
		ev("ev-4", ledger.EventMatchResolved, "2026-02-10T00:00:00Z",
			ledger.Match{MatchID: "m-1", Status: ledger.MatchStatusConfirmed, BankTxIDs: []string{"tx-1"}, InvoiceIDs: []string{"inv-1"}, MatchType: "EXACT", Score: 1}),
	}
}

func TestNormalizeAsOfDays(t *testing.T) {
	require.Equal(t, []int{0, 3, 7}, NormalizeAsOfDays([]int{7, 3, 0, 3, -1, 7}))
	require.Empty(t, NormalizeAsOfDays(nil))
}

func TestComputeTimelineConvergence(t *testing.T) {
	in := Input{
		Events:      januaryFixture(),
		AsOfDays:    []int{0, 7, 14},
		PeriodEnd:   mustDate(t, "2026-01-31"),
		Currency:    "EUR",
		FinalizedAt: mustDate(t, "2026-02-15"),
	}
	entries, err := Compute(in)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	day0 := entries[0]
	require.Equal(t, 0, *day0.AsOfDay)
	require.Equal(t, "2026-01-31", day0.AsOfDate)
	require.Equal(t, int64(10000), day0.RevenueCents)
	require.Equal(t, int64(0), day0.ExpenseCents)
	require.Equal(t, int64(1736), day0.VATCents)
	// Neither the match nor the late expense is known yet.
	require.Equal(t, 2, day0.UnmatchedTotalCount)

	day7 := entries[1]
	require.Equal(t, int64(4000), day7.ExpenseCents)
	// tx-2 arrived but the confirming match has not.
	require.Equal(t, 3, day7.UnmatchedTotalCount)

	day14 := entries[2]
	require.Equal(t, 1, day14.UnmatchedTotalCount)

	final := entries[3]
	require.Nil(t, final.AsOfDay)
	require.Equal(t, "2026-02-15", final.AsOfDate)
	require.Equal(t, day14.RevenueCents, final.RevenueCents)
	require.Equal(t, day14.UnmatchedTotalCount, final.UnmatchedTotalCount)
	require.Equal(t, int64(0), Variance(day14, final))
}

func TestComputeTimelineDeterministicAcrossOrdering(t *testing.T) {
	events := januaryFixture()
	reversed := make([]ledger.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		reversed = append(reversed, events[i])
	}
	in := Input{AsOfDays: []int{0, 7, 14}, PeriodEnd: mustDate(t, "2026-01-31"), Currency: "EUR", FinalizedAt: mustDate(t, "2026-02-15")}

	in.Events = events
	a, err := Compute(in)
	require.NoError(t, err)
	in.Events = reversed
	b, err := Compute(in)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestDeriveInsights(t *testing.T) {
	in := Input{
		Events:      januaryFixture(),
		AsOfDays:    []int{0, 7, 14},
		PeriodEnd:   mustDate(t, "2026-01-31"),
		Currency:    "EUR",
		FinalizedAt: mustDate(t, "2026-02-15"),
	}
	entries, err := Compute(in)
	require.NoError(t, err)

	insights := DeriveInsights(entries, in.AsOfDays)
	require.Equal(t, 14, insights.FinalAccuracyDay)
	// day0 variance: 4000 expense + 1 unmatched = 4001; day7: 2; day14: 0.
	// (2-0)/(4001-0)*100 rounds to 0.
	require.Equal(t, int64(0), insights.PercentResolvedLastInterval)
	require.Len(t, insights.Summaries, 2)
	require.Contains(t, insights.Summaries[0], "14 days after period end")
}

func TestDeriveInsightsZeroVariance(t *testing.T) {
	events := januaryFixture()[:2]
	in := Input{Events: events, AsOfDays: []int{0, 7}, PeriodEnd: mustDate(t, "2026-01-31"), Currency: "EUR", FinalizedAt: mustDate(t, "2026-02-10")}
	entries, err := Compute(in)
	require.NoError(t, err)

	insights := DeriveInsights(entries, in.AsOfDays)
	require.Equal(t, 0, insights.FinalAccuracyDay)
	require.Equal(t, int64(100), insights.PercentResolvedLastInterval)
}
