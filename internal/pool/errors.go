package pool

import "errors"

// Every error aborts the whole command with no partial state change.
// Sentinels exist so rejection reasons can be labeled per category.
var (
	// Authorization
	ErrNotAdmin  = errors.New("caller is not a pool admin")
	ErrNotTrader = errors.New("caller is not the pool trader")

	// Admission
	ErrZeroAmount     = errors.New("amount must be positive")
	ErrBelowMinInvest = errors.New("investment below configured minimum")
	ErrPrivatePool    = errors.New("investor not allow-listed in private pool")
	ErrInvestorLimit  = errors.New("investor count ceiling reached")
	ErrEmissionCap    = errors.New("mint would exceed LP emission cap")

	// Accounting
	ErrInsufficientLP  = errors.New("divest exceeds LP balance")
	ErrSameBlockDivest = errors.New("LP minted this block is not yet divestable")
	ErrOpenPositions   = errors.New("operation requires zero open positions")

	// Market safety
	ErrSlippage = errors.New("realized exchange amount outside slippage bound")

	// Configuration
	ErrUnknownToken    = errors.New("token has no registered decimals")
	ErrNotOpenPosition = errors.New("source token is neither base nor an open position")
	ErrSameToken       = errors.New("exchange requires two distinct tokens")
	ErrReentrantCall   = errors.New("reentrant call into pool ledger")
)

// Category labels an error for rejection logging and metrics.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrNotAdmin) || errors.Is(err, ErrNotTrader):
		return "authorization"
	case errors.Is(err, ErrZeroAmount) || errors.Is(err, ErrBelowMinInvest) ||
		errors.Is(err, ErrPrivatePool) || errors.Is(err, ErrInvestorLimit) ||
		errors.Is(err, ErrEmissionCap):
		return "admission"
	case errors.Is(err, ErrInsufficientLP) || errors.Is(err, ErrSameBlockDivest) ||
		errors.Is(err, ErrOpenPositions):
		return "accounting"
	case errors.Is(err, ErrSlippage):
		return "market"
	case errors.Is(err, ErrUnknownToken) || errors.Is(err, ErrNotOpenPosition) ||
		errors.Is(err, ErrSameToken) || errors.Is(err, ErrReentrantCall):
		return "configuration"
	default:
		return "internal"
	}
}
