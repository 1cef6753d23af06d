package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound                = errors.New("entity not found")
	ErrAlreadyExists           = errors.New("entity already exists")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrInsufficientTalkTime    = errors.New("insufficient talk time")
	ErrEntitlementLookupFailed = errors.New("failed to fetch entitlements")
	ErrEntitlementWriteFailed  = errors.New("failed to persist entitlement balances")
	ErrOperationFailed         = errors.New("operation failed")
	ErrReadDatabaseRow         = errors.New("failed to read database row")
	ErrInvalidExecContext      = errors.New("invalid executor context")
	ErrLockNotAcquired         = errors.New("lock not acquired")
)

// InsufficientTalkTimeError reports how far a deduction got before the
// balance ran out. Nothing is persisted when it is returned.
type InsufficientTalkTimeError struct {
	Requested int
	Available int
}

func (e *InsufficientTalkTimeError) Error() string {
	return fmt.Sprintf("insufficient talk time: requested %ds, available %ds", e.Requested, e.Available)
}

func (e *InsufficientTalkTimeError) Unwrap() error { return ErrInsufficientTalkTime }
