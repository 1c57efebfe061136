package leverage

import (
	fpmath "PoolCore/internal/math"
	"errors"
	"fmt"
	"math/big"
)

// ErrExceeded rejects an exchange that would push position exposure past
// the trader's permitted maximum.
var ErrExceeded = errors.New("leverage ceiling exceeded")

// Guard bounds the trader's directional exposure relative to their own
// stake. Below the threshold the trader may deploy up to the threshold
// unleveraged; above it, each extra unit of stake permits slope extra
// units of exposure.
type Guard struct {
	threshold *big.Int
	slope     *big.Int // fixed-point, denominator = 100%
}

func NewGuard(threshold, slope *big.Int) *Guard {
	return &Guard{
		threshold: fpmath.Clone(threshold),
		slope:     fpmath.Clone(slope),
	}
}

// MaxExposure evaluates the threshold-plus-linear-slope curve for the
// trader's own base-value stake.
func (g *Guard) MaxExposure(traderStake *big.Int) *big.Int {
	if traderStake.Cmp(g.threshold) <= 0 {
		return fpmath.Clone(g.threshold)
	}
	excess := new(big.Int).Sub(traderStake, g.threshold)
	leveraged := fpmath.Percentage(excess, g.slope)
	return new(big.Int).Add(g.threshold, leveraged)
}

// Check verifies, pre-trade, that adding proposedExposure on top of the
// current open-positions value stays within the curve. Exposure-reducing
// trades are never checked; callers only invoke this for base-to-position
// exchanges.
func (g *Guard) Check(traderStake, positionsValue, proposedExposure *big.Int) error {
	max := g.MaxExposure(traderStake)
	total := new(big.Int).Add(positionsValue, proposedExposure)
	if total.Cmp(max) > 0 {
		return fmt.Errorf("%w: exposure %s over maximum %s (stake %s)",
			ErrExceeded, total, max, traderStake)
	}
	return nil
}
