package shared

// Accounting period statuses shared across modules. A LOCKED period has been
// finalized; reopening requires an explicit override.
const (
	PeriodStatusOpen   = "OPEN"
	PeriodStatusClosed = "CLOSED"
	PeriodStatusLocked = "LOCKED"
)

// ValidatePeriodTransition checks a status change against close policy.
func ValidatePeriodTransition(current, target string, hasOverride bool) error {
	if current == "" {
		current = PeriodStatusOpen
	}
	if current == target {
		return nil
	}
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosed || target == PeriodStatusLocked {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusOpen || target == PeriodStatusLocked {
			return nil
		}
	case PeriodStatusLocked:
		if target == PeriodStatusClosed && hasOverride {
			return nil
		}
	}
	return ErrInvalidTransition.WithMessagef("period transition %s -> %s not allowed", current, target)
}
