package pool

import (
	fpmath "PoolCore/internal/math"
	"math/big"
)

// Acquisition is one planned position purchase funded by an investment:
// spend BaseSpend of the base token to acquire roughly Expected of Token.
type Acquisition struct {
	Token     string
	BaseSpend *big.Int
	Expected  *big.Int
}

// AllocationStrategy decides how an incoming investment is deployed
// across the pool's open positions.
type AllocationStrategy interface {
	ComputeAcquisitions(v *Valuation, amount *big.Int) []Acquisition
}

// ActiveAllocation mirrors the pool's current composition: each open
// position receives the base spend proportional to its share of total
// valuation, so the investor buys into the portfolio as it stands.
type ActiveAllocation struct{}

func (ActiveAllocation) ComputeAcquisitions(v *Valuation, amount *big.Int) []Acquisition {
	if v.TotalBase.Sign() == 0 {
		return nil
	}

	acqs := make([]Acquisition, 0, len(v.Positions))
	for _, pos := range v.Positions {
		spend := fpmath.MulDiv(pos.BaseValue, amount, v.TotalBase, fpmath.RoundDown)
		if spend.Sign() == 0 {
			continue
		}
		expected := fpmath.MulDiv(pos.Balance, amount, v.TotalBase, fpmath.RoundDown)
		acqs = append(acqs, Acquisition{Token: pos.Token, BaseSpend: spend, Expected: expected})
	}
	return acqs
}

// PassiveAllocation never auto-buys; deposits sit in base until the
// trader rebalances explicitly.
type PassiveAllocation struct{}

func (PassiveAllocation) ComputeAcquisitions(*Valuation, *big.Int) []Acquisition {
	return nil
}
