package quota

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("quota: not found")
	ErrInvalidInput = errors.New("quota: invalid input")

	// Account errors
	ErrAccountNotFound = errors.New("quota: account not found")
	ErrAccountExists   = errors.New("quota: account already exists")

	// Ledger errors
	ErrInsufficientQuota   = errors.New("quota: insufficient quota")
	ErrTransactionNotFound = errors.New("quota: transaction not found")
	ErrInvalidRefundTarget = errors.New("quota: only consume transactions can be refunded")
	ErrAlreadyRefunded     = errors.New("quota: transaction already refunded")
	ErrInvalidGrantAmount  = errors.New("quota: grant amount must be positive")
	ErrInvalidConsumeCount = errors.New("quota: consume count must be positive")

	// Order errors
	ErrOrderNotFound      = errors.New("quota: order not found")
	ErrUnknownPackage     = errors.New("quota: unknown credit package")
	ErrInvalidOrderState  = errors.New("quota: order is not in a settleable state")
	ErrOrderCancelled     = errors.New("quota: order already cancelled")
	ErrPaidOrderImmutable = errors.New("quota: paid order cannot be cancelled, request a refund instead")

	// Store errors
	ErrStoreConflict = errors.New("quota: store conflict, retry the operation")
	ErrStoreClosed   = errors.New("quota: store is closed")
)

// InsufficientQuotaError reports a consume rejected by the balance check.
// It carries the amounts so callers can branch on fields instead of
// parsing messages. It unwraps to ErrInsufficientQuota.
type InsufficientQuotaError struct {
	Required  int64
	Available int64
}

func (e *InsufficientQuotaError) Error() string {
	return fmt.Sprintf("quota: insufficient quota: required %d, available %d", e.Required, e.Available)
}

// Unwrap makes errors.Is(err, ErrInsufficientQuota) true.
func (e *InsufficientQuotaError) Unwrap() error { return ErrInsufficientQuota }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// IsPreconditionFailed returns true if the error is a caller precondition
// violation that should never be retried.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrInvalidRefundTarget) ||
		errors.Is(err, ErrAlreadyRefunded) ||
		errors.Is(err, ErrInvalidOrderState) ||
		errors.Is(err, ErrOrderCancelled) ||
		errors.Is(err, ErrPaidOrderImmutable)
}

// IsRetryable returns true if the error is transient and the whole
// operation can be retried by a caller that de-duplicates.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreConflict)
}
