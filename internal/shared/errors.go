package shared

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("not found")

// Category groups errors by the subsystem concern that raised them.
type Category string

const (
	CategoryValidation     Category = "VALIDATION"
	CategoryCalculation    Category = "CALCULATION"
	CategoryReconciliation Category = "RECONCILIATION"
	CategoryState          Category = "STATE"
	CategoryData           Category = "DATA"
	CategoryExport         Category = "EXPORT"
)

// Severity ranks how badly an error impacts the current operation.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Error is the closed error taxonomy used across the close-analytics core.
// Code is machine-readable and stable; Recoverable and Retryable are policy
// hints for callers and must never be used to swallow errors inside the core.
type Error struct {
	Code        string
	Category    Category
	Severity    Severity
	Recoverable bool
	Retryable   bool
	Message     string
	cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// WithCause returns a copy carrying the underlying error.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// WithMessagef returns a copy with a formatted, sanitized message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	clone := *e
	clone.Message = Sanitize(fmt.Sprintf(format, args...))
	return &clone
}

// NewError constructs a taxonomy error with a sanitized message.
func NewError(code string, category Category, severity Severity, message string) *Error {
	return &Error{
		Code:     code,
		Category: category,
		Severity: severity,
		Message:  Sanitize(message),
	}
}

// Validation errors.
var (
	ErrMissingField    = &Error{Code: "MISSING_FIELD", Category: CategoryValidation, Severity: SeverityError, Recoverable: true}
	ErrInvalidCurrency = &Error{Code: "INVALID_CURRENCY", Category: CategoryValidation, Severity: SeverityError, Recoverable: true}
	ErrInvalidDate     = &Error{Code: "INVALID_DATE", Category: CategoryValidation, Severity: SeverityError, Recoverable: true}
	ErrInvalidVATRate  = &Error{Code: "INVALID_VAT_RATE", Category: CategoryValidation, Severity: SeverityError, Recoverable: true}
)

// Calculation errors.
var (
	ErrCurrencyMismatch = &Error{Code: "CURRENCY_MISMATCH", Category: CategoryCalculation, Severity: SeverityError}
	ErrOverflow         = &Error{Code: "OVERFLOW", Category: CategoryCalculation, Severity: SeverityCritical}
	ErrDivisionByZero   = &Error{Code: "DIVISION_BY_ZERO", Category: CategoryCalculation, Severity: SeverityCritical}
	ErrEmptyCollection  = &Error{Code: "EMPTY_COLLECTION", Category: CategoryCalculation, Severity: SeverityError, Recoverable: true}
)

// Reconciliation errors.
var (
	ErrBalanceMismatch = &Error{Code: "BALANCE_MISMATCH", Category: CategoryReconciliation, Severity: SeverityWarning, Recoverable: true}
	ErrDuplicateMatch  = &Error{Code: "DUPLICATE_MATCH", Category: CategoryReconciliation, Severity: SeverityError, Recoverable: true}
)

// State errors.
var (
	ErrInvalidTransition  = &Error{Code: "INVALID_STATUS_TRANSITION", Category: CategoryState, Severity: SeverityError}
	ErrPeriodLocked       = &Error{Code: "PERIOD_LOCKED", Category: CategoryState, Severity: SeverityError, Recoverable: true}
	ErrFinalizeInProgress = &Error{Code: "FINALIZE_IN_PROGRESS", Category: CategoryState, Severity: SeverityWarning, Recoverable: true, Retryable: true}
)

// Data errors.
var (
	ErrReferenceNotFound = &Error{Code: "REFERENCE_NOT_FOUND", Category: CategoryData, Severity: SeverityError}
	ErrSchemaMismatch    = &Error{Code: "SCHEMA_MISMATCH", Category: CategoryData, Severity: SeverityCritical}
	ErrStoreUnavailable  = &Error{Code: "STORE_UNAVAILABLE", Category: CategoryData, Severity: SeverityCritical, Retryable: true}
)

// Export errors.
var (
	ErrNoDataToExport = &Error{Code: "NO_DATA_TO_EXPORT", Category: CategoryExport, Severity: SeverityWarning, Recoverable: true}
	ErrExportFailed   = &Error{Code: "EXPORT_FAILED", Category: CategoryExport, Severity: SeverityError, Retryable: true}
)

// ErrUnknown is the catch-all for foreign errors that match no known pattern.
var ErrUnknown = &Error{Code: "UNKNOWN", Category: CategoryData, Severity: SeverityError}
