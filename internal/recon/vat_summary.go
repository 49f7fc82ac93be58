package recon

import (
	"sort"

	"github.com/clearledger/clearledger/internal/ledger"
	"github.com/clearledger/clearledger/internal/money"
)

// DefaultVATRateBuckets are the preconfigured rate buckets used when no
// explicit configuration is supplied.
var DefaultVATRateBuckets = []float64{21, 10, 4, 0}

// VATBucket aggregates net, VAT and gross totals for one rate.
type VATBucket struct {
	RatePercent float64 `json:"ratePercent"`
	NetCents    int64   `json:"netCents"`
	VATCents    int64   `json:"vatCents"`
	GrossCents  int64   `json:"grossCents"`
}

// VATSummary aggregates VAT by rate and sales/expense direction.
type VATSummary struct {
	Currency          string      `json:"currency"`
	Buckets           []VATBucket `json:"buckets"`
	CollectedVATCents int64       `json:"collectedVatCents"`
	PaidVATCents      int64       `json:"paidVatCents"`
	NetVATCents       int64       `json:"netVatCents"`
}

// SummarizeVAT extracts net and VAT from each currency-filtered invoice's
// gross total and accumulates per-rate buckets plus collected (sales) versus
// paid (expense) VAT. Rate buckets missing from the configuration are
// created on the fly; buckets are returned sorted ascending by rate.
func SummarizeVAT(invoices map[string]ledger.Invoice, currency string, rateBuckets []float64) (VATSummary, error) {
	if len(rateBuckets) == 0 {
		rateBuckets = DefaultVATRateBuckets
	}
	byRate := make(map[float64]*VATBucket, len(rateBuckets))
	for _, rate := range rateBuckets {
		byRate[rate] = &VATBucket{RatePercent: rate}
	}

	summary := VATSummary{Currency: currency}
	for _, id := range sortedInvoiceIDs(invoices) {
		inv := invoices[id]
		if inv.Currency != currency {
			continue
		}
		gross, err := money.FromCents(inv.TotalGrossCents, currency)
		if err != nil {
			return VATSummary{}, err
		}
		bd, err := money.CalculateVATFromGross(gross, inv.VATRatePercent)
		if err != nil {
			return VATSummary{}, err
		}
		bucket, ok := byRate[inv.VATRatePercent]
		if !ok {
			bucket = &VATBucket{RatePercent: inv.VATRatePercent}
			byRate[inv.VATRatePercent] = bucket
		}
		bucket.NetCents += bd.Net.Cents
		bucket.VATCents += bd.VAT.Cents
		bucket.GrossCents += bd.Gross.Cents

		if inv.EffectiveDirection() == ledger.DirectionSales {
			summary.CollectedVATCents += bd.VAT.Cents
		} else {
			summary.PaidVATCents += bd.VAT.Cents
		}
	}

	summary.Buckets = make([]VATBucket, 0, len(byRate))
	for _, bucket := range byRate {
		summary.Buckets = append(summary.Buckets, *bucket)
	}
	sort.Slice(summary.Buckets, func(i, j int) bool {
		return summary.Buckets[i].RatePercent < summary.Buckets[j].RatePercent
	})
	summary.NetVATCents = summary.CollectedVATCents - summary.PaidVATCents
	return summary, nil
}

func sortedInvoiceIDs(invoices map[string]ledger.Invoice) []string {
	ids := make([]string, 0, len(invoices))
	for id := range invoices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
