package gov

import "errors"

// Every error aborts the whole command with no partial state change.
var (
	// Configuration
	ErrTokenNotConfigured = errors.New("fungible collateral asset not configured")
	ErrNftNotConfigured   = errors.New("non-fungible collateral asset not configured")
	ErrAlreadyConfigured  = errors.New("collateral asset already configured")

	// Accounting
	ErrInsufficientBalance = errors.New("amount exceeds unlocked balance")
	ErrNftLocked           = errors.New("NFT is locked by an active vote")
	ErrNftNotOwned         = errors.New("NFT not in the account's ledger balance")
	ErrNftNotDeposited     = errors.New("NFT not deposited in the ledger")
	ErrZeroLockCount       = errors.New("NFT lock count is already zero")
	ErrNotDelegated        = errors.New("amount exceeds delegation to this delegatee")

	// Authorization
	ErrNotOwner = errors.New("caller does not own this record")
)

// Category labels an error for rejection logging and metrics.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrTokenNotConfigured) || errors.Is(err, ErrNftNotConfigured) ||
		errors.Is(err, ErrAlreadyConfigured):
		return "configuration"
	case errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrNftLocked) ||
		errors.Is(err, ErrNftNotOwned) || errors.Is(err, ErrNftNotDeposited) ||
		errors.Is(err, ErrZeroLockCount) || errors.Is(err, ErrNotDelegated):
		return "accounting"
	case errors.Is(err, ErrNotOwner):
		return "authorization"
	default:
		return "internal"
	}
}
