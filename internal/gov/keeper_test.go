package gov_test

import (
	"PoolCore/internal/gov"
	"PoolCore/internal/testutil"
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
)

const (
	govToken      = "DEXE"
	nftCollection = "DEXE-NFT"
)

func n(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fixture struct {
	bank     *testutil.Bank
	nfts     *testutil.NftRegistry
	keeper   *gov.Keeper
	ledger   uuid.UUID
	treasury uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	bank := testutil.NewBank()
	bank.RegisterToken(govToken, 18)
	nfts := testutil.NewNftRegistry()

	f := &fixture{
		bank:     bank,
		nfts:     nfts,
		ledger:   uuid.New(),
		treasury: uuid.New(),
	}
	f.keeper = gov.NewKeeper(gov.Config{
		LedgerAccount:  f.ledger,
		TreasurySource: f.treasury,
		Tokens:         bank,
		Nfts:           nfts,
	})
	if err := f.keeper.SetToken(govToken); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := f.keeper.SetNftCollection(nftCollection, n(1000), 0); err != nil {
		t.Fatalf("SetNftCollection: %v", err)
	}
	return f
}

func (f *fixture) fundedVoter(t *testing.T, tokens *big.Int, nftIDs ...uint64) uuid.UUID {
	t.Helper()
	voter := uuid.New()
	f.bank.MintNormalized(voter, govToken, tokens)
	for _, id := range nftIDs {
		f.nfts.MintNft(nftCollection, id, voter)
	}
	if err := f.keeper.Deposit(voter, tokens, nftIDs); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	return voter
}

// ============================================================================
// Test: Deposit / Withdraw
// ============================================================================

func TestDeposit_CreditsOwnedRecord(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100), 1, 2)

	u := f.keeper.User(voter)
	if u.Owned.Tokens.Cmp(n(100)) != 0 {
		t.Errorf("owned tokens: got %s, want %s", u.Owned.Tokens, n(100))
	}
	if !u.Owned.Nfts[1] || !u.Owned.Nfts[2] {
		t.Errorf("owned NFTs: got %v", u.Owned.NftList())
	}
	// Custody moved to the ledger account.
	if got := f.bank.NormalizedBalance(f.ledger, govToken); got.Cmp(n(100)) != 0 {
		t.Errorf("ledger custody: got %s, want %s", got, n(100))
	}
	if owner, _ := f.nfts.OwnerOf(nftCollection, 1); owner != f.ledger {
		t.Errorf("NFT 1 custody: got %s", owner)
	}
}

func TestDeposit_RequiresConfiguration(t *testing.T) {
	bank := testutil.NewBank()
	bank.RegisterToken(govToken, 18)
	keeper := gov.NewKeeper(gov.Config{
		LedgerAccount:  uuid.New(),
		TreasurySource: uuid.New(),
		Tokens:         bank,
		Nfts:           testutil.NewNftRegistry(),
	})

	if err := keeper.Deposit(uuid.New(), n(10), nil); !errors.Is(err, gov.ErrTokenNotConfigured) {
		t.Errorf("unconfigured token: got %v, want ErrTokenNotConfigured", err)
	}
	if err := keeper.Deposit(uuid.New(), nil, []uint64{1}); !errors.Is(err, gov.ErrNftNotConfigured) {
		t.Errorf("unconfigured NFT: got %v, want ErrNftNotConfigured", err)
	}
}

func TestSetToken_RejectsReconfiguration(t *testing.T) {
	f := newFixture(t)
	if err := f.keeper.SetToken("OTHER"); !errors.Is(err, gov.ErrAlreadyConfigured) {
		t.Errorf("re-set token: got %v, want ErrAlreadyConfigured", err)
	}
	if err := f.keeper.SetNftCollection("OTHER-NFT", n(1), 1); !errors.Is(err, gov.ErrAlreadyConfigured) {
		t.Errorf("re-set collection: got %v, want ErrAlreadyConfigured", err)
	}
}

func TestWithdraw_RoundTrip(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100), 7)

	if err := f.keeper.Withdraw(voter, n(100), []uint64{7}); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if got := f.bank.NormalizedBalance(voter, govToken); got.Cmp(n(100)) != 0 {
		t.Errorf("voter balance: got %s, want %s", got, n(100))
	}
	if owner, _ := f.nfts.OwnerOf(nftCollection, 7); owner != voter {
		t.Errorf("NFT 7 owner: got %s", owner)
	}
}

func TestWithdraw_CappedByMaxLock(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100))

	if err := f.keeper.Lock(voter, 1, n(60), nil); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	if err := f.keeper.Withdraw(voter, n(50), nil); !errors.Is(err, gov.ErrInsufficientBalance) {
		t.Errorf("over free balance: got %v, want ErrInsufficientBalance", err)
	}
	if err := f.keeper.Withdraw(voter, n(40), nil); err != nil {
		t.Errorf("within free balance: %v", err)
	}
}

func TestWithdraw_LockedNftRejected(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(0), 9)

	if err := f.keeper.Lock(voter, 1, nil, []uint64{9}); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := f.keeper.Withdraw(voter, nil, []uint64{9}); !errors.Is(err, gov.ErrNftLocked) {
		t.Errorf("locked NFT: got %v, want ErrNftLocked", err)
	}

	if err := f.keeper.Unlock(voter, 1, []uint64{9}); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := f.keeper.Withdraw(voter, nil, []uint64{9}); err != nil {
		t.Errorf("unlocked NFT: %v", err)
	}
}

// ============================================================================
// Test: Delegation
// ============================================================================

func TestDelegate_CreditsMicropool(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100))
	delegatee := uuid.New()

	if err := f.keeper.Delegate(voter, delegatee, n(100), nil); err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	u := f.keeper.User(voter)
	d := f.keeper.User(delegatee)
	if d.Micropool.Tokens.Cmp(n(100)) != 0 {
		t.Errorf("micropool: got %s, want %s", d.Micropool.Tokens, n(100))
	}
	if !u.Delegatees[delegatee] {
		t.Error("delegatee should be in the delegator's set")
	}
	if u.Owned.Tokens.Sign() != 0 {
		t.Errorf("owned should be debited, got %s", u.Owned.Tokens)
	}

	// Undelegating everything garbage-collects the adjacency.
	if err := f.keeper.Undelegate(voter, delegatee, n(100), nil); err != nil {
		t.Fatalf("Undelegate: %v", err)
	}
	if u.Delegatees[delegatee] {
		t.Error("empty delegation should remove the delegatee from the set")
	}
	if u.Owned.Tokens.Cmp(n(100)) != 0 {
		t.Errorf("owned restored: got %s, want %s", u.Owned.Tokens, n(100))
	}
}

func TestDelegate_Conservation(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100))
	d1 := uuid.New()
	d2 := uuid.New()

	if err := f.keeper.Delegate(voter, d1, n(30), nil); err != nil {
		t.Fatalf("Delegate d1: %v", err)
	}
	if err := f.keeper.Delegate(voter, d2, n(50), nil); err != nil {
		t.Fatalf("Delegate d2: %v", err)
	}

	u := f.keeper.User(voter)
	sum := big.NewInt(0)
	for _, amount := range u.DelegatedTokens {
		sum.Add(sum, amount)
	}
	if sum.Cmp(u.AllDelegatedTokens) != 0 {
		t.Errorf("conservation: per-delegatee sum %s != aggregate %s", sum, u.AllDelegatedTokens)
	}
	for delegatee := range u.Delegatees {
		amount := u.DelegatedTokens[delegatee]
		nfts := u.DelegatedNfts[delegatee]
		if (amount == nil || amount.Sign() == 0) && len(nfts) == 0 {
			t.Errorf("delegatee %s in set with no delegated collateral", delegatee)
		}
	}
}

func TestDelegate_CappedByLock(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100))
	delegatee := uuid.New()

	if err := f.keeper.Lock(voter, 1, n(80), nil); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := f.keeper.Delegate(voter, delegatee, n(30), nil); !errors.Is(err, gov.ErrInsufficientBalance) {
		t.Errorf("locked collateral delegated: got %v, want ErrInsufficientBalance", err)
	}
	if err := f.keeper.Delegate(voter, delegatee, n(20), nil); err != nil {
		t.Errorf("free collateral: %v", err)
	}
}

func TestDelegate_NftMovesControl(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(0), 3)
	delegatee := uuid.New()

	if err := f.keeper.Delegate(voter, delegatee, nil, []uint64{3}); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	d := f.keeper.User(delegatee)
	if !d.Micropool.Nfts[3] {
		t.Error("NFT should be in the delegatee's micropool")
	}
	if f.keeper.User(voter).Owned.Nfts[3] {
		t.Error("NFT should have left the owner's record")
	}

	if err := f.keeper.Undelegate(voter, delegatee, nil, []uint64{3}); err != nil {
		t.Fatalf("Undelegate: %v", err)
	}
	if !f.keeper.User(voter).Owned.Nfts[3] {
		t.Error("NFT should be back in the owner's record")
	}
}

func TestUndelegate_MoreThanDelegated(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100))
	delegatee := uuid.New()

	if err := f.keeper.Delegate(voter, delegatee, n(50), nil); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if err := f.keeper.Undelegate(voter, delegatee, n(60), nil); !errors.Is(err, gov.ErrNotDelegated) {
		t.Errorf("over-undelegate: got %v, want ErrNotDelegated", err)
	}
}

func TestDelegateTreasury_ExternallyFunded(t *testing.T) {
	f := newFixture(t)
	f.bank.MintNormalized(f.treasury, govToken, n(500))
	delegatee := uuid.New()

	if err := f.keeper.DelegateTreasury(delegatee, n(500), nil); err != nil {
		t.Fatalf("DelegateTreasury: %v", err)
	}
	d := f.keeper.User(delegatee)
	if d.Treasury.Tokens.Cmp(n(500)) != 0 {
		t.Errorf("treasury record: got %s, want %s", d.Treasury.Tokens, n(500))
	}
	// No delegator was debited; the funding came from the treasury
	// source.
	if got := f.bank.NormalizedBalance(f.treasury, govToken); got.Sign() != 0 {
		t.Errorf("treasury source: got %s, want 0", got)
	}

	if err := f.keeper.UndelegateTreasury(delegatee, n(500), nil); err != nil {
		t.Fatalf("UndelegateTreasury: %v", err)
	}
	if got := f.bank.NormalizedBalance(f.treasury, govToken); got.Cmp(n(500)) != 0 {
		t.Errorf("clawback: got %s, want %s", got, n(500))
	}
}

// ============================================================================
// Test: Locking
// ============================================================================

func TestLock_HighWaterMarkPerProposal(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100))

	// Voting twice on the same proposal does not double-lock.
	if err := f.keeper.Lock(voter, 1, n(40), nil); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := f.keeper.Lock(voter, 1, n(30), nil); err != nil {
		t.Fatalf("Lock again: %v", err)
	}
	if got := f.keeper.WithdrawableTokens(voter); got.Cmp(n(60)) != 0 {
		t.Errorf("withdrawable: got %s, want %s", got, n(60))
	}

	// A larger vote raises the mark.
	if err := f.keeper.Lock(voter, 1, n(70), nil); err != nil {
		t.Fatalf("Lock larger: %v", err)
	}
	if got := f.keeper.WithdrawableTokens(voter); got.Cmp(n(30)) != 0 {
		t.Errorf("withdrawable after raise: got %s, want %s", got, n(30))
	}
}

func TestLock_MaxAcrossProposals(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100))

	if err := f.keeper.Lock(voter, 1, n(40), nil); err != nil {
		t.Fatalf("Lock p1: %v", err)
	}
	if err := f.keeper.Lock(voter, 2, n(70), nil); err != nil {
		t.Fatalf("Lock p2: %v", err)
	}

	// Locks are a maximum, not a sum.
	if got := f.keeper.WithdrawableTokens(voter); got.Cmp(n(30)) != 0 {
		t.Errorf("withdrawable: got %s, want %s", got, n(30))
	}
}

func TestLock_CappedByOwnedBalance(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100))

	// A vote cannot lock more than the voter deposited.
	if err := f.keeper.Lock(voter, 1, n(150), nil); !errors.Is(err, gov.ErrInsufficientBalance) {
		t.Fatalf("oversized lock: got %v, want ErrInsufficientBalance", err)
	}
	if got := f.keeper.WithdrawableTokens(voter); got.Cmp(n(100)) != 0 {
		t.Errorf("withdrawable after rejected lock: got %s, want %s", got, n(100))
	}

	if err := f.keeper.Lock(voter, 1, n(100), nil); err != nil {
		t.Fatalf("Lock full balance: %v", err)
	}
	if got := f.keeper.WithdrawableTokens(voter); got.Sign() != 0 {
		t.Errorf("withdrawable after full lock: got %s, want 0", got)
	}
}

func TestUnlock_RefreshRecomputesMax(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100))

	if err := f.keeper.Lock(voter, 1, n(70), nil); err != nil {
		t.Fatalf("Lock p1: %v", err)
	}
	if err := f.keeper.Lock(voter, 2, n(40), nil); err != nil {
		t.Fatalf("Lock p2: %v", err)
	}
	if err := f.keeper.Unlock(voter, 1, nil); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	// The high-water mark stays until an explicit refresh over the
	// still-active proposals.
	if got := f.keeper.WithdrawableTokens(voter); got.Cmp(n(30)) != 0 {
		t.Errorf("pre-refresh withdrawable: got %s, want %s", got, n(30))
	}
	if err := f.keeper.RefreshMaxLock(voter, []int64{2}); err != nil {
		t.Fatalf("RefreshMaxLock: %v", err)
	}
	if got := f.keeper.WithdrawableTokens(voter); got.Cmp(n(60)) != 0 {
		t.Errorf("post-refresh withdrawable: got %s, want %s", got, n(60))
	}
}

func TestNftLock_ReferenceCounting(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(0), 5)

	// Two concurrent votes hold the same NFT.
	if err := f.keeper.Lock(voter, 1, nil, []uint64{5}); err != nil {
		t.Fatalf("Lock p1: %v", err)
	}
	if err := f.keeper.Lock(voter, 2, nil, []uint64{5}); err != nil {
		t.Fatalf("Lock p2: %v", err)
	}
	if f.keeper.NftLockCount(5) != 2 {
		t.Errorf("lock count: got %d, want 2", f.keeper.NftLockCount(5))
	}

	if err := f.keeper.Unlock(voter, 1, []uint64{5}); err != nil {
		t.Fatalf("Unlock p1: %v", err)
	}
	if err := f.keeper.Unlock(voter, 2, []uint64{5}); err != nil {
		t.Fatalf("Unlock p2: %v", err)
	}

	// Symmetry: a third unlock finds a zero count and is rejected.
	if err := f.keeper.Unlock(voter, 3, []uint64{5}); !errors.Is(err, gov.ErrZeroLockCount) {
		t.Errorf("over-unlock: got %v, want ErrZeroLockCount", err)
	}
}

func TestLock_UndepositedNftRejected(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(10))
	f.nfts.MintNft(nftCollection, 42, voter) // wallet-owned, never deposited

	if err := f.keeper.Lock(voter, 1, nil, []uint64{42}); !errors.Is(err, gov.ErrNftNotDeposited) {
		t.Errorf("undeposited NFT lock: got %v, want ErrNftNotDeposited", err)
	}
}
