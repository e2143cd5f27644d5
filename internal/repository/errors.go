package repository

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrReferralNotFound    = errors.New("referral not found")

	// ErrInsufficientFunds is returned when settling a debit would drive a
	// balance below zero. The transaction ends up marked failed.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTransactionSettled is returned when a settle call loses the race on
	// the pending -> completed|failed transition.
	ErrTransactionSettled = errors.New("transaction already settled")

	// ErrDuplicateReferral is returned when a (referrer, referee) pair
	// already has a referral row.
	ErrDuplicateReferral = errors.New("referral already exists")

	// ErrStaleReferralStatus is returned when a compare-and-set on the
	// referral status column finds the row no longer in the expected state.
	ErrStaleReferralStatus = errors.New("referral status changed concurrently")

	// ErrStorageUnavailable wraps driver-level failures. Callers may retry
	// with backoff; no partial write is visible when it is returned.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
