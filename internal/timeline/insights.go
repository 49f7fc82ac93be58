package timeline

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Insights summarises how quickly a month's figures converged. The two
// summary strings feed export rendering verbatim; their wording is a stable
// contract and must not drift.
type Insights struct {
	FinalAccuracyDay            int      `json:"finalAccuracyDay"`
	PercentResolvedLastInterval int64    `json:"percentResolvedLastInterval"`
	Summaries                   []string `json:"summaries"`
}

// DeriveInsights computes convergence insights from a timeline whose last
// entry is the final one.
func DeriveInsights(entries []Entry, asOfDays []int) Insights {
	days := NormalizeAsOfDays(asOfDays)
	var nonFinal []Entry
	var final Entry
	for _, e := range entries {
		if e.AsOfDay == nil {
			final = e
			continue
		}
		nonFinal = append(nonFinal, e)
	}

	accuracyDay := 0
	if len(days) > 0 {
		accuracyDay = days[len(days)-1]
	}
	for _, e := range nonFinal {
		if Variance(e, final) == 0 {
			accuracyDay = *e.AsOfDay
			break
		}
	}

	percent := int64(100)
	if n := len(nonFinal); n >= 2 {
		v0 := Variance(nonFinal[0], final)
		vPrev := Variance(nonFinal[n-2], final)
		vLast := Variance(nonFinal[n-1], final)
		if denom := v0 - vLast; denom != 0 {
			percent = decimal.NewFromInt(vPrev - vLast).
				Div(decimal.NewFromInt(denom)).
				Mul(decimal.NewFromInt(100)).
				RoundBank(0).
				IntPart()
		}
	}

	return Insights{
		FinalAccuracyDay:            accuracyDay,
		PercentResolvedLastInterval: percent,
		Summaries: []string{
			fmt.Sprintf("Figures reached final accuracy %d days after period end.", accuracyDay),
			fmt.Sprintf("%d%% of the remaining variance was resolved in the last tracked interval.", percent),
		},
	}
}
