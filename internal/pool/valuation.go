package pool

import (
	fpmath "PoolCore/internal/math"
	"fmt"
	"math/big"
)

// PositionValue is one open position's holdings and base-equivalent
// value at valuation time.
type PositionValue struct {
	Token     string
	Balance   *big.Int // normalized token units
	BaseValue *big.Int // normalized base units
}

// Valuation is a consistent read of the pool's worth in base terms.
// It must be taken fresh inside the operation that prices against it
// and used for every ratio in that operation.
type Valuation struct {
	BaseBalance    *big.Int
	PositionsValue *big.Int
	TotalBase      *big.Int
	Positions      []PositionValue
}

// Valuation reads the pool's current base balance and quotes every open
// position back to base via the oracle. Positions are visited in sorted
// token order so repeated reads are byte-identical.
func (l *Ledger) Valuation() (*Valuation, error) {
	v := &Valuation{
		BaseBalance:    l.baseBalance(),
		PositionsValue: big.NewInt(0),
	}

	for _, token := range l.OpenPositions() {
		bal, err := l.positionBalance(token)
		if err != nil {
			return nil, err
		}
		if bal.Sign() == 0 {
			continue
		}

		value, err := l.oracle.GetPriceOut(token, l.params.BaseToken, bal, nil)
		if err != nil {
			return nil, fmt.Errorf("valuing position %s: %w", token, err)
		}

		v.Positions = append(v.Positions, PositionValue{Token: token, Balance: bal, BaseValue: value})
		v.PositionsValue.Add(v.PositionsValue, value)
	}

	v.TotalBase = new(big.Int).Add(v.BaseBalance, v.PositionsValue)
	return v, nil
}

// baseBalance returns the pool's base-token holdings, normalized.
func (l *Ledger) baseBalance() *big.Int {
	native := l.assets.BalanceOf(l.params.PoolID, l.params.BaseToken)
	return fpmath.Normalize(native, l.params.BaseDecimals)
}

// positionBalance returns the pool's holdings of a position token, normalized.
func (l *Ledger) positionBalance(token string) (*big.Int, error) {
	dec, ok := l.assets.Decimals(token)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	native := l.assets.BalanceOf(l.params.PoolID, token)
	return fpmath.Normalize(native, dec), nil
}
