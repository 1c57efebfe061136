package testutil

import (
	fpmath "PoolCore/internal/math"
	"PoolCore/internal/pool"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Bank is an in-memory fungible-asset port. Balances are kept in native
// units per token, like the real collaborator.
type Bank struct {
	mu         sync.Mutex
	decimals   map[string]uint8
	balances   map[string]map[uuid.UUID]*big.Int
	allowances map[string]*big.Int // owner|spender|token
}

func NewBank() *Bank {
	return &Bank{
		decimals:   make(map[string]uint8),
		balances:   make(map[string]map[uuid.UUID]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

// RegisterToken declares a token and its native precision.
func (b *Bank) RegisterToken(token string, decimals uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decimals[token] = decimals
	if b.balances[token] == nil {
		b.balances[token] = make(map[uuid.UUID]*big.Int)
	}
}

// Mint credits an account with native units out of thin air.
func (b *Bank) Mint(account uuid.UUID, token string, native *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[token][account]
	if bal == nil {
		bal = big.NewInt(0)
	}
	b.balances[token][account] = new(big.Int).Add(bal, native)
}

// MintNormalized credits an account with a normalized amount.
func (b *Bank) MintNormalized(account uuid.UUID, token string, amount *big.Int) {
	b.mu.Lock()
	dec := b.decimals[token]
	b.mu.Unlock()
	b.Mint(account, token, fpmath.Denormalize(amount, dec))
}

func (b *Bank) Decimals(token string) (uint8, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dec, ok := b.decimals[token]
	return dec, ok
}

func (b *Bank) BalanceOf(account uuid.UUID, token string) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[token][account]
	if bal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// NormalizedBalance is a test convenience: BalanceOf scaled to 18 decimals.
func (b *Bank) NormalizedBalance(account uuid.UUID, token string) *big.Int {
	dec, _ := b.Decimals(token)
	return fpmath.Normalize(b.BalanceOf(account, token), dec)
}

func (b *Bank) Transfer(from, to uuid.UUID, token string, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer of %s", token)
	}
	bal := b.balances[token][from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s balance: have %s, need %s", token, bal, amount)
	}
	b.balances[token][from] = new(big.Int).Sub(bal, amount)
	toBal := b.balances[token][to]
	if toBal == nil {
		toBal = big.NewInt(0)
	}
	b.balances[token][to] = new(big.Int).Add(toBal, amount)
	return nil
}

func (b *Bank) Approve(owner, spender uuid.UUID, token string, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowances[allowanceKey(owner, spender, token)] = new(big.Int).Set(amount)
	return nil
}

func (b *Bank) Allowance(owner, spender uuid.UUID, token string) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.allowances[allowanceKey(owner, spender, token)]
	if a == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a)
}

// spendAllowance consumes an approval like transferFrom would.
func (b *Bank) spendAllowance(owner, spender uuid.UUID, token string, amount *big.Int) error {
	b.mu.Lock()
	key := allowanceKey(owner, spender, token)
	a := b.allowances[key]
	if a == nil || a.Cmp(amount) < 0 {
		b.mu.Unlock()
		return fmt.Errorf("insufficient %s allowance for %s", token, spender)
	}
	b.allowances[key] = new(big.Int).Sub(a, amount)
	b.mu.Unlock()
	return b.Transfer(owner, spender, token, amount)
}

func allowanceKey(owner, spender uuid.UUID, token string) string {
	return owner.String() + "|" + spender.String() + "|" + token
}

// Oracle is an in-memory price oracle with a fixed price table. Prices
// are quoted as normalized to-units per normalized from-unit, scaled by
// 1e18. The oracle settles swaps against its own pre-funded reserves.
type Oracle struct {
	bank    *Bank
	Account uuid.UUID
	prices  map[string]*big.Int // from|to
}

var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func NewOracle(bank *Bank) *Oracle {
	return &Oracle{
		bank:    bank,
		Account: uuid.New(),
		prices:  make(map[string]*big.Int),
	}
}

// SetPrice fixes the from->to rate and its inverse.
func (o *Oracle) SetPrice(from, to string, price *big.Int) {
	o.prices[from+"|"+to] = new(big.Int).Set(price)
	inverse := new(big.Int).Div(new(big.Int).Mul(priceScale, priceScale), price)
	o.prices[to+"|"+from] = inverse
}

func (o *Oracle) price(from, to string) (*big.Int, error) {
	p := o.prices[from+"|"+to]
	if p == nil {
		return nil, fmt.Errorf("no price for %s->%s", from, to)
	}
	return p, nil
}

func (o *Oracle) GetPriceOut(from, to string, amountIn *big.Int, route []string) (*big.Int, error) {
	p, err := o.price(from, to)
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(amountIn, p, priceScale, fpmath.RoundDown), nil
}

func (o *Oracle) GetPriceIn(from, to string, amountOut *big.Int, route []string) (*big.Int, error) {
	p, err := o.price(from, to)
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(amountOut, priceScale, p, fpmath.RoundUp), nil
}

func (o *Oracle) ExchangeExactIn(owner uuid.UUID, from, to string, amountIn, minOut *big.Int, route []string) (*big.Int, error) {
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

func (o *Oracle) ExchangeExactOut(owner uuid.UUID, from, to string, amountOut, maxIn *big.Int, route []string) (*big.Int, error) {
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

// settle pulls the input via allowance and delivers the output from the
// oracle's reserves, converting to native units per side.
func (o *Oracle) settle(owner uuid.UUID, from, to string, in, out *big.Int) error {
	fromDec, ok := o.bank.Decimals(from)
	if !ok {
		return fmt.Errorf("unregistered token %s", from)
	}
	toDec, ok := o.bank.Decimals(to)
	if !ok {
		return fmt.Errorf("unregistered token %s", to)
	}
	if err := o.bank.spendAllowance(owner, o.Account, from, fpmath.Denormalize(in, fromDec)); err != nil {
		return err
	}
	return o.bank.Transfer(o.Account, owner, to, fpmath.Denormalize(out, toDec))
}

// NftRegistry is an in-memory non-fungible-asset port.
type NftRegistry struct {
	owners     map[string]map[uint64]uuid.UUID
	powers     map[string]map[uint64]*big.Int
	enumerable map[string]bool
}

func NewNftRegistry() *NftRegistry {
	return &NftRegistry{
		owners:     make(map[string]map[uint64]uuid.UUID),
		powers:     make(map[string]map[uint64]*big.Int),
		enumerable: make(map[string]bool),
	}
}

// MintNft creates an id owned by the account.
func (r *NftRegistry) MintNft(collection string, id uint64, owner uuid.UUID) {
	if r.owners[collection] == nil {
		r.owners[collection] = make(map[uint64]uuid.UUID)
		r.enumerable[collection] = true
	}
	r.owners[collection][id] = owner
}

// SetPower attaches a per-token power score to an id.
func (r *NftRegistry) SetPower(collection string, id uint64, power *big.Int) {
	if r.powers[collection] == nil {
		r.powers[collection] = make(map[uint64]*big.Int)
	}
	r.powers[collection][id] = new(big.Int).Set(power)
}

// SetEnumerable toggles whether OwnedTokens works for the collection.
func (r *NftRegistry) SetEnumerable(collection string, on bool) {
	r.enumerable[collection] = on
}

func (r *NftRegistry) OwnerOf(collection string, id uint64) (uuid.UUID, bool) {
	owner, ok := r.owners[collection][id]
	return owner, ok
}

func (r *NftRegistry) OwnedTokens(account uuid.UUID, collection string) ([]uint64, bool) {
	if !r.enumerable[collection] {
		return nil, false
	}
	var ids []uint64
	for id, owner := range r.owners[collection] {
		if owner == account {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, true
}

func (r *NftRegistry) TotalSupply(collection string) (int, bool) {
	if !r.enumerable[collection] {
		return 0, false
	}
	return len(r.owners[collection]), true
}

func (r *NftRegistry) Transfer(from, to uuid.UUID, collection string, id uint64) error {
	owner, ok := r.owners[collection][id]
	if !ok {
		return fmt.Errorf("NFT %d does not exist in %s", id, collection)
	}
	if owner != from {
		return fmt.Errorf("NFT %d owned by %s, not %s", id, owner, from)
	}
	r.owners[collection][id] = to
	return nil
}

func (r *NftRegistry) PowerOf(collection string, id uint64) (*big.Int, bool) {
	p, ok := r.powers[collection][id]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(p), true
}

// Sinks is an in-memory commission-sink port recording insurance
// callbacks.
type Sinks struct {
	Insurance uuid.UUID
	Treasury  uuid.UUID
	Dividends uuid.UUID

	Callbacks []SinkCallback
}

type SinkCallback struct {
	Pool   uuid.UUID
	Amount *big.Int
}

func NewSinks() *Sinks {
	return &Sinks{
		Insurance: uuid.New(),
		Treasury:  uuid.New(),
		Dividends: uuid.New(),
	}
}

func (s *Sinks) InsuranceAccount() uuid.UUID { return s.Insurance }
func (s *Sinks) TreasuryAccount() uuid.UUID  { return s.Treasury }
func (s *Sinks) DividendsAccount() uuid.UUID { return s.Dividends }

func (s *Sinks) ReceiveRewardFromPool(poolID uuid.UUID, amount *big.Int) error {
	s.Callbacks = append(s.Callbacks, SinkCallback{Pool: poolID, Amount: new(big.Int).Set(amount)})
	return nil
}
