// Package friction scores how much remediation effort a month's close
// required. Lower scores mean more friction.
package friction

import (
	"math"
	"time"

	"github.com/clearledger/clearledger/internal/ledger"
	"github.com/clearledger/clearledger/internal/timeline"
)

// Index is the composite close friction score and its components.
type Index struct {
	LateArrivalPercent          float64 `json:"lateArrivalPercent"`
	AdjustmentAfterClosePercent float64 `json:"adjustmentAfterClosePercent"`
	ReconciliationHalfLifeDays  int     `json:"reconciliationHalfLifeDays"`
	Score                       int     `json:"score"`
}

// Compute derives the friction index from the month's events and its
// counterfactual timeline. lateThresholdDays is typically the largest
// configured as-of offset.
func Compute(events []ledger.Event, periodEnd time.Time, lateThresholdDays int, entries []timeline.Entry) Index {
	idx := Index{
		LateArrivalPercent:          lateArrivalPercent(events, periodEnd, lateThresholdDays),
		AdjustmentAfterClosePercent: adjustmentAfterClosePercent(events, periodEnd),
		ReconciliationHalfLifeDays:  halfLifeDays(entries),
	}
	raw := 100 - math.Round(idx.LateArrivalPercent*0.5+idx.AdjustmentAfterClosePercent*0.3+float64(idx.ReconciliationHalfLifeDays)*2)
	idx.Score = clamp(int(raw), 0, 100)
	return idx
}

func lateArrivalPercent(events []ledger.Event, periodEnd time.Time, thresholdDays int) float64 {
	if len(events) == 0 {
		return 0
	}
	deadline := endOfDay(periodEnd.AddDate(0, 0, thresholdDays))
	late := 0
	for _, ev := range events {
		if !ev.RecordedAt.Before(deadline) {
			late++
		}
	}
	return float64(late) / float64(len(events)) * 100
}

func adjustmentAfterClosePercent(events []ledger.Event, periodEnd time.Time) float64 {
	closeBoundary := endOfDay(periodEnd)
	total, after := 0, 0
	for _, ev := range events {
		if ev.Type != ledger.EventAdjustmentPosted {
			continue
		}
		total++
		if !ev.OccurredAt.Before(closeBoundary) {
			after++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(after) / float64(total) * 100
}

// halfLifeDays is the smallest configured offset at which variance first
// drops to at most 10% of the day-0 variance; the largest offset if never
// reached; 0 when the initial variance is already zero.
func halfLifeDays(entries []timeline.Entry) int {
	var nonFinal []timeline.Entry
	var final timeline.Entry
	for _, e := range entries {
		if e.AsOfDay == nil {
			final = e
			continue
		}
		nonFinal = append(nonFinal, e)
	}
	if len(nonFinal) == 0 {
		return 0
	}
	initial := timeline.Variance(nonFinal[0], final)
	if initial == 0 {
		return 0
	}
	for _, e := range nonFinal {
		// 10*variance <= initial avoids fractional cents.
		if 10*timeline.Variance(e, final) <= initial {
			return *e.AsOfDay
		}
	}
	return *nonFinal[len(nonFinal)-1].AsOfDay
}

func endOfDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
