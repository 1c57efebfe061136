package gov

import (
	fpmath "PoolCore/internal/math"
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"
)

// BalanceRecord holds one bucket of collateral: a fungible amount plus a
// set of NFT ids. Amounts are normalized 18-decimal units.
type BalanceRecord struct {
	Tokens *big.Int
	Nfts   map[uint64]bool
}

func newBalanceRecord() BalanceRecord {
	return BalanceRecord{Tokens: big.NewInt(0), Nfts: make(map[uint64]bool)}
}

// NftList returns the record's ids in ascending order.
func (r *BalanceRecord) NftList() []uint64 {
	ids := make([]uint64, 0, len(r.Nfts))
	for id := range r.Nfts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// UserInfo is one voter's full collateral record: owned balances,
// delegated-in buckets, the per-delegatee adjacency of delegations out,
// and per-proposal vote locks.
type UserInfo struct {
	Account uuid.UUID

	Owned     BalanceRecord
	Micropool BalanceRecord
	Treasury  BalanceRecord

	DelegatedTokens map[uuid.UUID]*big.Int
	DelegatedNfts   map[uuid.UUID]map[uint64]bool
	Delegatees      map[uuid.UUID]bool

	// Aggregate across all delegatees; must always equal the sum of
	// DelegatedTokens
	AllDelegatedTokens *big.Int

	// High-water fungible lock per proposal, and the running maximum
	// across the proposals the voter is currently in
	ProposalLocks map[int64]*big.Int
	MaxLocked     *big.Int
}

func newUserInfo(account uuid.UUID) *UserInfo {
	return &UserInfo{
		Account:            account,
		Owned:              newBalanceRecord(),
		Micropool:          newBalanceRecord(),
		Treasury:           newBalanceRecord(),
		DelegatedTokens:    make(map[uuid.UUID]*big.Int),
		DelegatedNfts:      make(map[uuid.UUID]map[uint64]bool),
		Delegatees:         make(map[uuid.UUID]bool),
		AllDelegatedTokens: big.NewInt(0),
		ProposalLocks:      make(map[int64]*big.Int),
		MaxLocked:          big.NewInt(0),
	}
}

// Config wires the keeper's custody accounts and collaborators.
type Config struct {
	// Custody account holding all deposited collateral
	LedgerAccount uuid.UUID

	// Source account treasury delegations are funded from
	TreasurySource uuid.UUID

	Tokens TokenPort
	Nfts   NftPort
}

// Keeper owns the governance collateral ledger: per-voter balances,
// the delegation graph, and vote locks. Voting-power computation only
// reads it.
type Keeper struct {
	cfg Config

	// Configured collateral assets; empty until SetToken/SetNftCollection
	token         string
	tokenDecimals uint8
	nftCollection string

	// Fallbacks for collections without a power extension
	nftTotalPower      *big.Int
	nftConfiguredCount int

	users map[uuid.UUID]*UserInfo

	// Reference count of active votes holding each NFT
	nftLocks map[uint64]int

	// Economic owner of each deposited NFT (delegation moves voting
	// control, never ownership)
	nftHome map[uint64]uuid.UUID
}

func NewKeeper(cfg Config) *Keeper {
	return &Keeper{
		cfg:           cfg,
		nftTotalPower: big.NewInt(0),
		users:         make(map[uuid.UUID]*UserInfo),
		nftLocks:      make(map[uint64]int),
		nftHome:       make(map[uint64]uuid.UUID),
	}
}

// SetToken configures the fungible collateral asset. Re-setting is
// rejected.
func (k *Keeper) SetToken(token string) error {
	if k.token != "" {
		return fmt.Errorf("%w: token %s", ErrAlreadyConfigured, k.token)
	}
	dec, ok := k.cfg.Tokens.Decimals(token)
	if !ok {
		return fmt.Errorf("token %s has no registered decimals", token)
	}
	k.token = token
	k.tokenDecimals = dec
	return nil
}

// SetNftCollection configures the non-fungible collateral asset.
// totalPower and configuredCount are fallbacks for collections without a
// power extension or enumeration.
func (k *Keeper) SetNftCollection(collection string, totalPower *big.Int, configuredCount int) error {
	if k.nftCollection != "" {
		return fmt.Errorf("%w: collection %s", ErrAlreadyConfigured, k.nftCollection)
	}
	k.nftCollection = collection
	k.nftTotalPower = fpmath.Clone(totalPower)
	k.nftConfiguredCount = configuredCount
	return nil
}

// Token returns the configured fungible asset ("" if unset).
func (k *Keeper) Token() string { return k.token }

// NftCollection returns the configured NFT collection ("" if unset).
func (k *Keeper) NftCollection() string { return k.nftCollection }

func (k *Keeper) getOrCreateUser(account uuid.UUID) *UserInfo {
	u := k.users[account]
	if u == nil {
		u = newUserInfo(account)
		k.users[account] = u
	}
	return u
}

// User returns a voter's record, nil if none exists.
func (k *Keeper) User(account uuid.UUID) *UserInfo { return k.users[account] }

// Deposit transfers collateral custody to the ledger and credits the
// depositor's owned record.
func (k *Keeper) Deposit(account uuid.UUID, tokens *big.Int, nftIDs []uint64) error {
	if !fpmath.IsZero(tokens) {
		if k.token == "" {
			return ErrTokenNotConfigured
		}
		if tokens.Sign() < 0 {
			return fmt.Errorf("deposit amount must be non-negative")
		}
	}
	if len(nftIDs) > 0 && k.nftCollection == "" {
		return ErrNftNotConfigured
	}

	if !fpmath.IsZero(tokens) {
		native := fpmath.Denormalize(tokens, k.tokenDecimals)
		if err := k.cfg.Tokens.Transfer(account, k.cfg.LedgerAccount, k.token, native); err != nil {
			return fmt.Errorf("token deposit: %w", err)
		}
	}
	for _, id := range nftIDs {
		if err := k.cfg.Nfts.Transfer(account, k.cfg.LedgerAccount, k.nftCollection, id); err != nil {
			return fmt.Errorf("NFT %d deposit: %w", id, err)
		}
	}

	u := k.getOrCreateUser(account)
	if !fpmath.IsZero(tokens) {
		u.Owned.Tokens.Add(u.Owned.Tokens, tokens)
	}
	for _, id := range nftIDs {
		u.Owned.Nfts[id] = true
		k.nftHome[id] = account
	}
	return nil
}

// Withdraw returns unlocked collateral to the owner's wallet. Fungible
// withdrawal is capped at balance minus the high-water lock; an NFT may
// leave only with a zero lock count.
func (k *Keeper) Withdraw(account uuid.UUID, tokens *big.Int, nftIDs []uint64) error {
	u := k.users[account]
	if u == nil {
		return fmt.Errorf("%w: no record for %s", ErrInsufficientBalance, account)
	}

	if !fpmath.IsZero(tokens) {
		if k.token == "" {
			return ErrTokenNotConfigured
		}
		free := k.freeTokens(u)
		if tokens.Cmp(free) > 0 {
			return fmt.Errorf("%w: %s > free %s", ErrInsufficientBalance, tokens, free)
		}
	}
	for _, id := range nftIDs {
		if !u.Owned.Nfts[id] {
			return fmt.Errorf("%w: %d", ErrNftNotOwned, id)
		}
		if k.nftLocks[id] > 0 {
			return fmt.Errorf("%w: %d (count %d)", ErrNftLocked, id, k.nftLocks[id])
		}
	}

	// Debit before the outbound transfers so a reentrant deposit cannot
	// observe inflated balances.
	if !fpmath.IsZero(tokens) {
		u.Owned.Tokens.Sub(u.Owned.Tokens, tokens)
	}
	for _, id := range nftIDs {
		delete(u.Owned.Nfts, id)
		delete(k.nftHome, id)
	}

	if !fpmath.IsZero(tokens) {
		native := fpmath.Denormalize(tokens, k.tokenDecimals)
		if err := k.cfg.Tokens.Transfer(k.cfg.LedgerAccount, account, k.token, native); err != nil {
			return fmt.Errorf("token withdrawal: %w", err)
		}
	}
	for _, id := range nftIDs {
		if err := k.cfg.Nfts.Transfer(k.cfg.LedgerAccount, account, k.nftCollection, id); err != nil {
			return fmt.Errorf("NFT %d withdrawal: %w", id, err)
		}
	}
	return nil
}

// Delegate moves collateral from the delegator's owned record into the
// delegatee's micropool. Locked collateral cannot be delegated away.
func (k *Keeper) Delegate(from, to uuid.UUID, tokens *big.Int, nftIDs []uint64) error {
	u := k.users[from]
	if u == nil {
		return fmt.Errorf("%w: no record for %s", ErrInsufficientBalance, from)
	}

	if !fpmath.IsZero(tokens) {
		free := k.freeTokens(u)
		if tokens.Cmp(free) > 0 {
			return fmt.Errorf("%w: %s > free %s", ErrInsufficientBalance, tokens, free)
		}
	}
	for _, id := range nftIDs {
		if !u.Owned.Nfts[id] {
			return fmt.Errorf("%w: %d", ErrNftNotOwned, id)
		}
		if k.nftLocks[id] > 0 {
			return fmt.Errorf("%w: %d (count %d)", ErrNftLocked, id, k.nftLocks[id])
		}
	}

	d := k.getOrCreateUser(to)

	if !fpmath.IsZero(tokens) {
		u.Owned.Tokens.Sub(u.Owned.Tokens, tokens)
		if u.DelegatedTokens[to] == nil {
			u.DelegatedTokens[to] = big.NewInt(0)
		}
		u.DelegatedTokens[to].Add(u.DelegatedTokens[to], tokens)
		u.AllDelegatedTokens.Add(u.AllDelegatedTokens, tokens)
		d.Micropool.Tokens.Add(d.Micropool.Tokens, tokens)
	}
	for _, id := range nftIDs {
		delete(u.Owned.Nfts, id)
		if u.DelegatedNfts[to] == nil {
			u.DelegatedNfts[to] = make(map[uint64]bool)
		}
		u.DelegatedNfts[to][id] = true
		d.Micropool.Nfts[id] = true
	}

	u.Delegatees[to] = true
	return nil
}

// Undelegate reverses a delegation. Driving both the token amount and
// the NFT set to empty garbage-collects the delegatee from the
// delegator's adjacency.
func (k *Keeper) Undelegate(from, to uuid.UUID, tokens *big.Int, nftIDs []uint64) error {
	u := k.users[from]
	d := k.users[to]
	if u == nil || d == nil {
		return fmt.Errorf("%w: %s -> %s", ErrNotDelegated, from, to)
	}

	if !fpmath.IsZero(tokens) {
		delegated := u.DelegatedTokens[to]
		if delegated == nil || tokens.Cmp(delegated) > 0 {
			return fmt.Errorf("%w: %s", ErrNotDelegated, tokens)
		}
	}
	for _, id := range nftIDs {
		if u.DelegatedNfts[to] == nil || !u.DelegatedNfts[to][id] {
			return fmt.Errorf("%w: NFT %d", ErrNotDelegated, id)
		}
		if k.nftLocks[id] > 0 {
			return fmt.Errorf("%w: %d (count %d)", ErrNftLocked, id, k.nftLocks[id])
		}
	}

	if !fpmath.IsZero(tokens) {
		u.DelegatedTokens[to].Sub(u.DelegatedTokens[to], tokens)
		u.AllDelegatedTokens.Sub(u.AllDelegatedTokens, tokens)
		d.Micropool.Tokens.Sub(d.Micropool.Tokens, tokens)
		u.Owned.Tokens.Add(u.Owned.Tokens, tokens)
	}
	for _, id := range nftIDs {
		delete(u.DelegatedNfts[to], id)
		delete(d.Micropool.Nfts, id)
		u.Owned.Nfts[id] = true
	}

	k.gcDelegatee(u, to)
	return nil
}

// gcDelegatee enforces the adjacency invariant as an explicit
// post-condition: a delegatee stays in the set iff tokens or NFTs remain
// delegated to them.
func (k *Keeper) gcDelegatee(u *UserInfo, to uuid.UUID) {
	tokensEmpty := u.DelegatedTokens[to] == nil || u.DelegatedTokens[to].Sign() == 0
	nftsEmpty := len(u.DelegatedNfts[to]) == 0
	if tokensEmpty && nftsEmpty {
		delete(u.DelegatedTokens, to)
		delete(u.DelegatedNfts, to)
		delete(u.Delegatees, to)
	}
}

// DelegateTreasury credits a delegatee's treasury record, funded from
// the configured treasury source rather than any delegator.
func (k *Keeper) DelegateTreasury(to uuid.UUID, tokens *big.Int, nftIDs []uint64) error {
	if !fpmath.IsZero(tokens) && k.token == "" {
		return ErrTokenNotConfigured
	}
	if len(nftIDs) > 0 && k.nftCollection == "" {
		return ErrNftNotConfigured
	}

	if !fpmath.IsZero(tokens) {
		native := fpmath.Denormalize(tokens, k.tokenDecimals)
		if err := k.cfg.Tokens.Transfer(k.cfg.TreasurySource, k.cfg.LedgerAccount, k.token, native); err != nil {
			return fmt.Errorf("treasury funding: %w", err)
		}
	}
	for _, id := range nftIDs {
		if err := k.cfg.Nfts.Transfer(k.cfg.TreasurySource, k.cfg.LedgerAccount, k.nftCollection, id); err != nil {
			return fmt.Errorf("treasury NFT %d funding: %w", id, err)
		}
	}

	d := k.getOrCreateUser(to)
	if !fpmath.IsZero(tokens) {
		d.Treasury.Tokens.Add(d.Treasury.Tokens, tokens)
	}
	for _, id := range nftIDs {
		d.Treasury.Nfts[id] = true
		k.nftHome[id] = k.cfg.TreasurySource
	}
	return nil
}

// UndelegateTreasury claws treasury-sourced collateral back to the
// treasury source.
func (k *Keeper) UndelegateTreasury(to uuid.UUID, tokens *big.Int, nftIDs []uint64) error {
	d := k.users[to]
	if d == nil {
		return fmt.Errorf("%w: no record for %s", ErrInsufficientBalance, to)
	}

	if !fpmath.IsZero(tokens) && tokens.Cmp(d.Treasury.Tokens) > 0 {
		return fmt.Errorf("%w: %s > treasury %s", ErrInsufficientBalance, tokens, d.Treasury.Tokens)
	}
	for _, id := range nftIDs {
		if !d.Treasury.Nfts[id] {
			return fmt.Errorf("%w: %d", ErrNftNotOwned, id)
		}
		if k.nftLocks[id] > 0 {
			return fmt.Errorf("%w: %d (count %d)", ErrNftLocked, id, k.nftLocks[id])
		}
	}

	if !fpmath.IsZero(tokens) {
		d.Treasury.Tokens.Sub(d.Treasury.Tokens, tokens)
	}
	for _, id := range nftIDs {
		delete(d.Treasury.Nfts, id)
		delete(k.nftHome, id)
	}

	if !fpmath.IsZero(tokens) {
		native := fpmath.Denormalize(tokens, k.tokenDecimals)
		if err := k.cfg.Tokens.Transfer(k.cfg.LedgerAccount, k.cfg.TreasurySource, k.token, native); err != nil {
			return fmt.Errorf("treasury clawback: %w", err)
		}
	}
	for _, id := range nftIDs {
		if err := k.cfg.Nfts.Transfer(k.cfg.LedgerAccount, k.cfg.TreasurySource, k.nftCollection, id); err != nil {
			return fmt.Errorf("treasury NFT %d clawback: %w", id, err)
		}
	}
	return nil
}

// Lock records collateral held behind a vote. The fungible lock is a
// high-water mark per proposal — voting twice on the same proposal never
// double-locks. Each NFT's reference count is incremented per vote.
func (k *Keeper) Lock(voter uuid.UUID, proposal int64, tokens *big.Int, nftIDs []uint64) error {
	for _, id := range nftIDs {
		if _, deposited := k.nftHome[id]; !deposited {
			return fmt.Errorf("%w: %d", ErrNftNotDeposited, id)
		}
	}

	u := k.getOrCreateUser(voter)
	if !fpmath.IsZero(tokens) {
		// A lock can never exceed the voter's deposited balance, so no
		// single vote can freeze collateral the voter does not hold.
		if tokens.Cmp(u.Owned.Tokens) > 0 {
			return fmt.Errorf("%w: lock %s > owned %s", ErrInsufficientBalance, tokens, u.Owned.Tokens)
		}
		current := u.ProposalLocks[proposal]
		if current == nil || tokens.Cmp(current) > 0 {
			u.ProposalLocks[proposal] = fpmath.Clone(tokens)
		}
		if u.ProposalLocks[proposal].Cmp(u.MaxLocked) > 0 {
			u.MaxLocked = fpmath.Clone(u.ProposalLocks[proposal])
		}
	}
	for _, id := range nftIDs {
		k.nftLocks[id]++
	}
	return nil
}

// Unlock clears one proposal's fungible lock and decrements NFT
// reference counts. MaxLocked stays at its high-water mark until an
// explicit RefreshMaxLock.
func (k *Keeper) Unlock(voter uuid.UUID, proposal int64, nftIDs []uint64) error {
	u := k.users[voter]
	if u == nil {
		return fmt.Errorf("no record for voter %s", voter)
	}

	for _, id := range nftIDs {
		if k.nftLocks[id] == 0 {
			return fmt.Errorf("%w: %d", ErrZeroLockCount, id)
		}
	}

	delete(u.ProposalLocks, proposal)
	for _, id := range nftIDs {
		k.nftLocks[id]--
		if k.nftLocks[id] == 0 {
			delete(k.nftLocks, id)
		}
	}
	return nil
}

// RefreshMaxLock recomputes the voter's high-water lock over the
// caller-supplied list of their currently-active proposals.
func (k *Keeper) RefreshMaxLock(voter uuid.UUID, proposals []int64) error {
	u := k.users[voter]
	if u == nil {
		return fmt.Errorf("no record for voter %s", voter)
	}

	max := big.NewInt(0)
	for _, p := range proposals {
		if lock := u.ProposalLocks[p]; lock != nil && lock.Cmp(max) > 0 {
			max = lock
		}
	}
	u.MaxLocked = fpmath.Clone(max)
	return nil
}

// freeTokens is the withdrawable/delegatable fungible amount: owned
// balance minus the high-water lock, floored at zero.
func (k *Keeper) freeTokens(u *UserInfo) *big.Int {
	free := new(big.Int).Sub(u.Owned.Tokens, u.MaxLocked)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	return free
}

// WithdrawableTokens returns the fungible amount an account may withdraw
// or delegate right now.
func (k *Keeper) WithdrawableTokens(account uuid.UUID) *big.Int {
	u := k.users[account]
	if u == nil {
		return big.NewInt(0)
	}
	return k.freeTokens(u)
}

// WithdrawableNfts returns the owned ids with a zero lock count.
func (k *Keeper) WithdrawableNfts(account uuid.UUID) []uint64 {
	u := k.users[account]
	if u == nil {
		return nil
	}
	var ids []uint64
	for _, id := range u.Owned.NftList() {
		if k.nftLocks[id] == 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// NftLockCount returns an id's active-vote reference count.
func (k *Keeper) NftLockCount(id uint64) int { return k.nftLocks[id] }

// GetAllUsers returns every voter record in deterministic order (for
// snapshot creation).
func (k *Keeper) GetAllUsers() []*UserInfo {
	ids := make([]uuid.UUID, 0, len(k.users))
	for id := range k.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	result := make([]*UserInfo, 0, len(ids))
	for _, id := range ids {
		result = append(result, k.users[id])
	}
	return result
}

// RestoreUser directly sets a voter record (used for snapshot restore).
func (k *Keeper) RestoreUser(u *UserInfo) {
	k.users[u.Account] = u
}

// GetAllNftLocks returns the lock refcounts (for snapshot creation).
func (k *Keeper) GetAllNftLocks() map[uint64]int {
	result := make(map[uint64]int, len(k.nftLocks))
	for id, n := range k.nftLocks {
		result[id] = n
	}
	return result
}

// RestoreNftLock directly sets a lock refcount.
func (k *Keeper) RestoreNftLock(id uint64, count int) {
	k.nftLocks[id] = count
}

// GetAllNftHomes returns the deposited-NFT ownership registry.
func (k *Keeper) GetAllNftHomes() map[uint64]uuid.UUID {
	result := make(map[uint64]uuid.UUID, len(k.nftHome))
	for id, owner := range k.nftHome {
		result[id] = owner
	}
	return result
}

// RestoreNftHome directly sets a deposited NFT's economic owner.
func (k *Keeper) RestoreNftHome(id uint64, owner uuid.UUID) {
	k.nftHome[id] = owner
}

// RestoreAssets directly sets the configured assets (used for snapshot
// restore, bypassing the re-set guard).
func (k *Keeper) RestoreAssets(token string, tokenDecimals uint8, collection string, totalPower *big.Int, configuredCount int) {
	k.token = token
	k.tokenDecimals = tokenDecimals
	k.nftCollection = collection
	k.nftTotalPower = fpmath.Clone(totalPower)
	k.nftConfiguredCount = configuredCount
}

// TokenDecimals returns the configured token's native precision.
func (k *Keeper) TokenDecimals() uint8 { return k.tokenDecimals }

// NftTotalPower returns the configured fallback total power.
func (k *Keeper) NftTotalPower() *big.Int { return k.nftTotalPower }

// NftConfiguredCount returns the configured fallback supply.
func (k *Keeper) NftConfiguredCount() int { return k.nftConfiguredCount }
