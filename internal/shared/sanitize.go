package shared

import (
	"errors"
	"regexp"
	"strings"
)

var (
	emailPattern     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	cardPattern      = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
	stackLinePattern = regexp.MustCompile(`(?m)^\s*(goroutine \d+|at .+|.+\.go:\d+.*)$`)
)

// Sanitize strips emails, card-like digit runs, and stack-trace lines from an
// error message before it is persisted or surfaced.
func Sanitize(message string) string {
	if message == "" {
		return message
	}
	out := emailPattern.ReplaceAllString(message, "[redacted-email]")
	out = cardPattern.ReplaceAllString(out, "[redacted-number]")
	out = stackLinePattern.ReplaceAllString(out, "")
	lines := strings.Split(out, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// foreign-error patterns, checked in order. First hit wins.
var normalizeRules = []struct {
	substr string
	target *Error
}{
	{"duplicate key", ErrDuplicateMatch},
	{"23505", ErrDuplicateMatch},
	{"no rows in result set", ErrReferenceNotFound},
	{"not found", ErrReferenceNotFound},
	{"connection refused", ErrStoreUnavailable},
	{"connection reset", ErrStoreUnavailable},
	{"timeout", ErrStoreUnavailable},
	{"context deadline exceeded", ErrStoreUnavailable},
	{"currency", ErrCurrencyMismatch},
	{"overflow", ErrOverflow},
	{"divide by zero", ErrDivisionByZero},
	{"division by zero", ErrDivisionByZero},
	{"invalid input syntax", ErrSchemaMismatch},
	{"cannot unmarshal", ErrSchemaMismatch},
}

// Normalize maps an arbitrary error to the taxonomy. Taxonomy errors pass
// through untouched; foreign errors are classified by message pattern and
// their message sanitized.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range normalizeRules {
		if strings.Contains(msg, rule.substr) {
			return rule.target.WithMessagef("%s", err.Error()).WithCause(err)
		}
	}
	return ErrUnknown.WithMessagef("%s", err.Error()).WithCause(err)
}

