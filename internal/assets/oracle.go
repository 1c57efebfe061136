package assets

import (
	fpmath "PoolCore/internal/math"
	"PoolCore/internal/pool"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// rateScale is the fixed-point base for pair rates: a rate of 1e18 means
// one normalized unit of `from` buys one normalized unit of `to`.
var rateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// RateOracle quotes and settles exchanges against a configured rate
// table. Quotes are in normalized 18-decimal units on both sides; the
// oracle converts to native precision at the custody boundary. Swaps
// settle against the oracle's own reserve account, pulling the input leg
// through the owner's standing allowance.
type RateOracle struct {
	bank    *Bank
	account uuid.UUID

	mu    sync.RWMutex
	rates map[string]*big.Int
}

func NewRateOracle(bank *Bank, reserveAccount uuid.UUID) *RateOracle {
	return &RateOracle{
		bank:    bank,
		account: reserveAccount,
		rates:   make(map[string]*big.Int),
	}
}

// ReserveAccount returns the account swaps settle against. Pools grant
// it their one-time standing allowance.
func (o *RateOracle) ReserveAccount() uuid.UUID { return o.account }

// SetRate fixes the from->to rate and derives the inverse. Rates are
// normalized-to per normalized-from, scaled by 1e18.
func (o *RateOracle) SetRate(from, to string, rate *big.Int) error {
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("rate %s->%s must be positive", from, to)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rates[from+"|"+to] = new(big.Int).Set(rate)
	o.rates[to+"|"+from] = new(big.Int).Div(new(big.Int).Mul(rateScale, rateScale), rate)
	return nil
}

func (o *RateOracle) rate(from, to string) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r := o.rates[from+"|"+to]
	if r == nil {
		return nil, fmt.Errorf("no rate for %s->%s", from, to)
	}
	return new(big.Int).Set(r), nil
}

// hops expands an optional routing path into successive pairs.
func hops(from, to string, route []string) [][2]string {
	path := make([]string, 0, len(route)+2)
	path = append(path, from)
	path = append(path, route...)
	path = append(path, to)
	pairs := make([][2]string, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		pairs = append(pairs, [2]string{path[i], path[i+1]})
	}
	return pairs
}

func (o *RateOracle) GetPriceOut(from, to string, amountIn *big.Int, route []string) (*big.Int, error) {
	out := new(big.Int).Set(amountIn)
	for _, pair := range hops(from, to, route) {
		r, err := o.rate(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		out = fpmath.MulDiv(out, r, rateScale, fpmath.RoundDown)
	}
	return out, nil
}

func (o *RateOracle) GetPriceIn(from, to string, amountOut *big.Int, route []string) (*big.Int, error) {
	in := new(big.Int).Set(amountOut)
	pairs := hops(from, to, route)
	for i := len(pairs) - 1; i >= 0; i-- {
		r, err := o.rate(pairs[i][0], pairs[i][1])
		if err != nil {
			return nil, err
		}
		in = fpmath.MulDiv(in, rateScale, r, fpmath.RoundUp)
	}
	return in, nil
}

func (o *RateOracle) ExchangeExactIn(owner uuid.UUID, from, to string, amountIn, minOut *big.Int, route []string) (*big.Int, error) {
	out, err := o.GetPriceOut(from, to, amountIn, route)
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: out %s below min %s", pool.ErrSlippage, out, minOut)
	}
	if err := o.settle(owner, from, to, amountIn, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *RateOracle) ExchangeExactOut(owner uuid.UUID, from, to string, amountOut, maxIn *big.Int, route []string) (*big.Int, error) {
	in, err := o.GetPriceIn(from, to, amountOut, route)
	if err != nil {
		return nil, err
	}
	if maxIn != nil && in.Cmp(maxIn) > 0 {
		return nil, fmt.Errorf("%w: in %s above max %s", pool.ErrSlippage, in, maxIn)
	}
	if err := o.settle(owner, from, to, in, amountOut); err != nil {
		return nil, err
	}
	return in, nil
}

// settle moves both legs in native units: the input is pulled from the
// owner through its allowance, the output paid from oracle reserves.
func (o *RateOracle) settle(owner uuid.UUID, from, to string, amountIn, amountOut *big.Int) error {
	fromDec, ok := o.bank.Decimals(from)
	if !ok {
		return fmt.Errorf("unregistered token %s", from)
	}
	toDec, ok := o.bank.Decimals(to)
	if !ok {
		return fmt.Errorf("unregistered token %s", to)
	}
	nativeIn := fpmath.Denormalize(amountIn, fromDec)
	nativeOut := fpmath.Denormalize(amountOut, toDec)
	if err := o.bank.TransferFrom(o.account, owner, o.account, from, nativeIn); err != nil {
		return fmt.Errorf("pull %s leg: %w", from, err)
	}
	if err := o.bank.Transfer(o.account, owner, to, nativeOut); err != nil {
		// Unwind the input leg so a reserve shortfall never strands funds.
		if rerr := o.bank.Transfer(o.account, owner, from, nativeIn); rerr != nil {
			return fmt.Errorf("pay %s leg: %v (unwind failed: %w)", to, err, rerr)
		}
		return fmt.Errorf("pay %s leg: %w", to, err)
	}
	return nil
}
