package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios. Quota and subscription
// denials are deliberately NOT errors: TryReserve reports them as ordinary
// Reservation values so that refusing work stays cheap and unexceptional.
var (
	// General errors
	ErrNotFound      = errors.New("ledger: not found")
	ErrAlreadyExists = errors.New("ledger: already exists")
	ErrInvalidInput  = errors.New("ledger: invalid input")

	// Organization errors
	ErrOrgNotFound = errors.New("ledger: organization not found")

	// Plan errors
	ErrPlanNotFound = errors.New("ledger: plan not found")
	ErrPlanArchived = errors.New("ledger: plan is archived")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("ledger: subscription not found")
	ErrSubscriptionExists   = errors.New("ledger: subscription already exists")
	ErrNoActiveSubscription = errors.New("ledger: no active subscription")

	// Billing period errors
	ErrPeriodNotFound = errors.New("ledger: billing period not found")
	ErrInvalidPeriod  = errors.New("ledger: invalid period key")
	ErrInvalidAmount  = errors.New("ledger: reservation amount must be positive")

	// Audit recorder errors
	ErrDuplicateCompletion = errors.New("ledger: action handle already completed")
	ErrHandleAbandoned     = errors.New("ledger: action handle swept as abandoned")
	ErrAuditWriteFailed    = errors.New("ledger: audit entry write failed")

	// Store errors
	ErrStoreNotReady     = errors.New("ledger: store not ready")
	ErrStoreClosed       = errors.New("ledger: store is closed")
	ErrTransactionFailed = errors.New("ledger: transaction failed")
	ErrMigrationFailed   = errors.New("ledger: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrOrgNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrPeriodNotFound)
}

// IsMisuse returns true if the error signals incorrect use of the API by
// the calling code path (fatal to that path, not retryable).
func IsMisuse(err error) bool {
	return errors.Is(err, ErrDuplicateCompletion) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidInput)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried with backoff. Anything the store surfaces that is not a
// known-permanent condition should be treated as transient by callers;
// this helper covers the sentinels this package itself produces.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrAuditWriteFailed)
}
