package ledger

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/clearledger/clearledger/internal/shared"
)

// EventType enumerates the business facts the close pipeline understands.
type EventType string

const (
	EventBankTxArrived    EventType = "BANK_TX_ARRIVED"
	EventInvoiceCreated   EventType = "INVOICE_CREATED"
	EventInvoiceUpdated   EventType = "INVOICE_UPDATED"
	EventMatchResolved    EventType = "MATCH_RESOLVED"
	EventAdjustmentPosted EventType = "ADJUSTMENT_POSTED"
)

// Direction classifies an invoice as revenue-side or cost-side.
type Direction string

const (
	DirectionSales   Direction = "SALES"
	DirectionExpense Direction = "EXPENSE"
)

// MatchStatus tracks review state for a bank-tx-to-invoice link.
type MatchStatus string

const (
	MatchStatusProposed  MatchStatus = "PROPOSED"
	MatchStatusConfirmed MatchStatus = "CONFIRMED"
	MatchStatusRejected  MatchStatus = "REJECTED"
)

// AdjustmentKind routes a manual posting into the right summary line.
type AdjustmentKind string

const (
	AdjustmentRevenue AdjustmentKind = "REVENUE"
	AdjustmentExpense AdjustmentKind = "EXPENSE"
	AdjustmentVAT     AdjustmentKind = "VAT"
)

// BankTransaction is the payload of a BANK_TX_ARRIVED event.
type BankTransaction struct {
	TxID        string `json:"txId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	BookingDate string `json:"bookingDate"`
	Description string `json:"description"`
}

// Invoice is the payload of INVOICE_CREATED and INVOICE_UPDATED events.
type Invoice struct {
	InvoiceID       string    `json:"invoiceId"`
	TotalGrossCents int64     `json:"totalGrossCents"`
	Currency        string    `json:"currency"`
	VATRatePercent  float64   `json:"vatRatePercent"`
	IssueDate       string    `json:"issueDate"`
	Direction       Direction `json:"direction"`
	Description     string    `json:"description"`
}

// EffectiveDirection defaults missing directions to EXPENSE.
func (i Invoice) EffectiveDirection() Direction {
	if i.Direction == DirectionSales {
		return DirectionSales
	}
	return DirectionExpense
}

// Match is the payload of a MATCH_RESOLVED event.
type Match struct {
	MatchID    string      `json:"matchId"`
	Status     MatchStatus `json:"status"`
	BankTxIDs  []string    `json:"bankTxIds"`
	InvoiceIDs []string    `json:"invoiceIds"`
	MatchType  string      `json:"matchType"`
	Score      float64     `json:"score"`
}

// Adjustment is the payload of an ADJUSTMENT_POSTED event.
type Adjustment struct {
	AdjustmentID string         `json:"adjustmentId"`
	Kind         AdjustmentKind `json:"kind"`
	AmountCents  int64          `json:"amountCents"`
	Currency     string         `json:"currency"`
	Note         string         `json:"note"`
}

// Event is an immutable, append-only business fact. Total order is defined
// by (OccurredAt, DeterministicID), never by storage or arrival order.
type Event struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	Type            EventType `json:"type"`
	OccurredAt      time.Time `json:"occurredAt"`
	RecordedAt      time.Time `json:"recordedAt"`
	MonthKey        string    `json:"monthKey"`
	DeterministicID string    `json:"deterministicId"`
	Payload         any       `json:"payload"`
}

// Less orders events by (occurredAt, deterministicId).
func Less(a, b Event) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.DeterministicID < b.DeterministicID
}

// SortEvents returns a copy of events in canonical total order.
func SortEvents(events []Event) []Event {
	sorted := append([]Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })
	return sorted
}

// DecodePayload unmarshals a raw payload into the typed struct for the
// given event type.
func DecodePayload(eventType EventType, raw []byte) (any, error) {
	var (
		payload any
		err     error
	)
	switch eventType {
	case EventBankTxArrived:
		var p BankTransaction
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventInvoiceCreated, EventInvoiceUpdated:
		var p Invoice
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventMatchResolved:
		var p Match
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventAdjustmentPosted:
		var p Adjustment
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, shared.ErrSchemaMismatch.WithMessagef("ledger: unknown event type %q", eventType)
	}
	if err != nil {
		return nil, shared.ErrSchemaMismatch.WithMessagef("ledger: decode %s payload: %v", eventType, err)
	}
	return payload, nil
}
