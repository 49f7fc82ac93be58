package ledger

import "sort"

// Snapshot is the derived current state of one tenant month. It is rebuilt
// on demand from an event slice and is never a source of truth.
type Snapshot struct {
	BankTxByID  map[string]BankTransaction
	InvoiceByID map[string]Invoice
	MatchByID   map[string]Match
	Adjustments []Adjustment
}

// BuildSnapshot folds events into a snapshot. The input may be in any
// physical order; events are brought into canonical order first, then the
// last write per natural id wins for bank transactions, invoices and
// matches, while adjustments accumulate append-only.
func BuildSnapshot(events []Event) Snapshot {
	snap := Snapshot{
		BankTxByID:  make(map[string]BankTransaction),
		InvoiceByID: make(map[string]Invoice),
		MatchByID:   make(map[string]Match),
	}
	for _, ev := range SortEvents(events) {
		switch ev.Type {
		case EventBankTxArrived:
			if tx, ok := ev.Payload.(BankTransaction); ok {
				snap.BankTxByID[tx.TxID] = tx
			}
		case EventInvoiceCreated, EventInvoiceUpdated:
			if inv, ok := ev.Payload.(Invoice); ok {
				snap.InvoiceByID[inv.InvoiceID] = inv
			}
		case EventMatchResolved:
			if m, ok := ev.Payload.(Match); ok {
				snap.MatchByID[m.MatchID] = m
			}
		case EventAdjustmentPosted:
			if adj, ok := ev.Payload.(Adjustment); ok {
				snap.Adjustments = append(snap.Adjustments, adj)
			}
		}
	}
	return snap
}

// ConfirmedMatches returns the confirmed matches ordered by match id.
// Only confirmed matches participate in reconciliation math.
func (s Snapshot) ConfirmedMatches() []Match {
	out := make([]Match, 0, len(s.MatchByID))
	for _, m := range s.MatchByID {
		if m.Status == MatchStatusConfirmed {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}
