package assets

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// holding is the in-memory balance key (account + token).
type holding struct {
	Account uuid.UUID
	Token   string
}

// grant keys a standing allowance from owner to spender over one token.
type grant struct {
	Owner   uuid.UUID
	Spender uuid.UUID
	Token   string
}

// Bank is the in-process custody ledger behind the asset ports: a token
// registry plus per-account balances and allowances in native units.
// Deposits enter through Mint (credited by the boundary that observed
// the inbound transfer); everything after that is conserved.
type Bank struct {
	mu         sync.RWMutex
	decimals   map[string]uint8
	balances   map[holding]*big.Int
	supply     map[string]*big.Int
	allowances map[grant]*big.Int
}

func NewBank() *Bank {
	return &Bank{
		decimals:   make(map[string]uint8),
		balances:   make(map[holding]*big.Int),
		supply:     make(map[string]*big.Int),
		allowances: make(map[grant]*big.Int),
	}
}

// RegisterToken declares a token and its native precision. Re-registering
// with a different precision is rejected; balances already reference it.
func (b *Bank) RegisterToken(token string, decimals uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.decimals[token]; ok && prev != decimals {
		return fmt.Errorf("token %s already registered with %d decimals", token, prev)
	}
	b.decimals[token] = decimals
	if b.supply[token] == nil {
		b.supply[token] = big.NewInt(0)
	}
	return nil
}

// Mint credits an account with native units, growing the tracked supply.
// Used at the deposit boundary and when seeding reserves.
func (b *Bank) Mint(account uuid.UUID, token string, native *big.Int) error {
	if native.Sign() < 0 {
		return fmt.Errorf("negative mint of %s", token)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.decimals[token]; !ok {
		return fmt.Errorf("unregistered token %s", token)
	}
	b.credit(account, token, native)
	b.supply[token] = new(big.Int).Add(b.supply[token], native)
	return nil
}

// Burn debits an account at the withdrawal boundary, shrinking supply.
func (b *Bank) Burn(account uuid.UUID, token string, native *big.Int) error {
	if native.Sign() < 0 {
		return fmt.Errorf("negative burn of %s", token)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debit(account, token, native); err != nil {
		return err
	}
	b.supply[token] = new(big.Int).Sub(b.supply[token], native)
	return nil
}

func (b *Bank) Decimals(token string) (uint8, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dec, ok := b.decimals[token]
	return dec, ok
}

func (b *Bank) BalanceOf(account uuid.UUID, token string) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bal := b.balances[holding{account, token}]
	if bal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

func (b *Bank) Transfer(from, to uuid.UUID, token string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer of %s", token)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debit(from, token, amount); err != nil {
		return err
	}
	b.credit(to, token, amount)
	return nil
}

func (b *Bank) Approve(owner, spender uuid.UUID, token string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative approval of %s", token)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowances[grant{owner, spender, token}] = new(big.Int).Set(amount)
	return nil
}

func (b *Bank) Allowance(owner, spender uuid.UUID, token string) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a := b.allowances[grant{owner, spender, token}]
	if a == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a)
}

// TransferFrom moves owner's funds to `to` on the strength of an
// allowance granted to spender, consuming the allowance.
func (b *Bank) TransferFrom(spender, owner, to uuid.UUID, token string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer of %s", token)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := grant{owner, spender, token}
	a := b.allowances[key]
	if a == nil || a.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s allowance for %s: have %s, need %s",
			token, spender, a, amount)
	}
	if err := b.debit(owner, token, amount); err != nil {
		return err
	}
	b.allowances[key] = new(big.Int).Sub(a, amount)
	b.credit(to, token, amount)
	return nil
}

// CheckConservation verifies that for every token the sum of balances
// equals the tracked supply. Returns the first mismatch found.
func (b *Bank) CheckConservation() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	totals := make(map[string]*big.Int, len(b.supply))
	for token := range b.supply {
		totals[token] = big.NewInt(0)
	}
	for key, bal := range b.balances {
		totals[key.Token].Add(totals[key.Token], bal)
	}
	for token, total := range totals {
		if total.Cmp(b.supply[token]) != 0 {
			return fmt.Errorf("token %s not conserved: balances sum %s, supply %s",
				token, total, b.supply[token])
		}
	}
	return nil
}

// credit and debit assume b.mu is held.

func (b *Bank) credit(account uuid.UUID, token string, amount *big.Int) {
	key := holding{account, token}
	bal := b.balances[key]
	if bal == nil {
		bal = big.NewInt(0)
	}
	b.balances[key] = new(big.Int).Add(bal, amount)
}

func (b *Bank) debit(account uuid.UUID, token string, amount *big.Int) error {
	key := holding{account, token}
	bal := b.balances[key]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s balance for %s: have %s, need %s",
			token, account, bal, amount)
	}
	b.balances[key] = new(big.Int).Sub(bal, amount)
	return nil
}
