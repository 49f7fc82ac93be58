package finalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/clearledger/clearledger/internal/ledger"
	"github.com/clearledger/clearledger/internal/timeline"
)

// ComputePeriodLockHash produces the content-addressed idempotency key for a
// finalize run: a SHA-256 over a canonically serialized payload of tenant,
// month, period end, sorted as-of offsets and the canonically sorted events
// with all their payload fields. Identical logical input yields an identical
// hash regardless of physical event storage order; historical hashes become
// unverifiable if this canonicalization ever changes.
func ComputePeriodLockHash(tenantID string, month ledger.Month, asOfDays []int, events []ledger.Event) (string, error) {
	sorted := ledger.SortEvents(events)
	eventDocs := make([]any, 0, len(sorted))
	for _, ev := range sorted {
		eventDocs = append(eventDocs, map[string]any{
			"id":              ev.ID,
			"tenantId":        ev.TenantID,
			"type":            string(ev.Type),
			"occurredAt":      ev.OccurredAt.UTC().Format(time.RFC3339Nano),
			"recordedAt":      ev.RecordedAt.UTC().Format(time.RFC3339Nano),
			"monthKey":        ev.MonthKey,
			"deterministicId": ev.DeterministicID,
			"payload":         ev.Payload,
		})
	}
	payload := map[string]any{
		"tenantId":  tenantID,
		"monthKey":  month.Key(),
		"periodEnd": month.EndDate(),
		"asOfDays":  timeline.NormalizeAsOfDays(asOfDays),
		"events":    eventDocs,
	}
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("finalize: canonicalize lock payload: %w", err)
	}
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}

// canonicalJSON serializes v as JSON with lexicographically sorted object
// keys at every depth. Arrays keep their order, so array content must be
// semantically sorted before serialization.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodedKey, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(encodedKey)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	}
	return nil
}
