package gov_test

import (
	"PoolCore/internal/gov"
	"PoolCore/internal/testutil"
	"testing"

	"github.com/google/uuid"
)

func (f *fixture) calculator() *gov.PowerCalculator {
	return gov.NewPowerCalculator(f.keeper, f.bank, f.nfts)
}

// ============================================================================
// Test: VotingPower
// ============================================================================

func TestVotingPower_PersonalIncludesWallet(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100))

	// 40 more stays in the wallet, undeposited.
	f.bank.MintNormalized(voter, govToken, n(40))

	power, err := f.calculator().VotingPower(voter, gov.VotePersonal)
	if err != nil {
		t.Fatalf("VotingPower: %v", err)
	}
	if power.Tokens.Cmp(n(100)) != 0 {
		t.Errorf("ledger power: got %s, want %s", power.Tokens, n(100))
	}
	if power.WalletTokens.Cmp(n(40)) != 0 {
		t.Errorf("wallet power: got %s, want %s", power.WalletTokens, n(40))
	}
	if power.Total.Cmp(n(140)) != 0 {
		t.Errorf("total: got %s, want %s", power.Total, n(140))
	}
}

func TestVotingPower_MicropoolExcludesWallet(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(100))
	delegatee := uuid.New()

	if err := f.keeper.Delegate(voter, delegatee, n(100), nil); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	// Delegatee holds wallet funds of their own; a micropool vote must
	// not count them.
	f.bank.MintNormalized(delegatee, govToken, n(500))

	power, err := f.calculator().VotingPower(delegatee, gov.VoteMicropool)
	if err != nil {
		t.Fatalf("VotingPower: %v", err)
	}
	if power.Total.Cmp(n(100)) != 0 {
		t.Errorf("micropool total: got %s, want %s", power.Total, n(100))
	}
	if power.WalletTokens.Sign() != 0 {
		t.Errorf("wallet must not count: got %s", power.WalletTokens)
	}
}

func TestVotingPower_TreasuryBucket(t *testing.T) {
	f := newFixture(t)
	f.bank.MintNormalized(f.treasury, govToken, n(300))
	delegatee := uuid.New()

	if err := f.keeper.DelegateTreasury(delegatee, n(300), nil); err != nil {
		t.Fatalf("DelegateTreasury: %v", err)
	}

	power, err := f.calculator().VotingPower(delegatee, gov.VoteTreasury)
	if err != nil {
		t.Fatalf("VotingPower: %v", err)
	}
	if power.Total.Cmp(n(300)) != 0 {
		t.Errorf("treasury total: got %s, want %s", power.Total, n(300))
	}
}

// ============================================================================
// Test: NFT power
// ============================================================================

func TestNftPower_EqualShareWithoutExtension(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(0), 1, 2)
	other := uuid.New()
	f.nfts.MintNft(nftCollection, 3, other)
	f.nfts.MintNft(nftCollection, 4, other)

	// Total power 1000 over 4 tokens: 250 each.
	calc := f.calculator()
	if got := calc.NftPower(1); got.Cmp(n(250)) != 0 {
		t.Errorf("equal share: got %s, want %s", got, n(250))
	}

	power, err := calc.VotingPower(voter, gov.VotePersonal)
	if err != nil {
		t.Fatalf("VotingPower: %v", err)
	}
	if power.NftPower.Cmp(n(500)) != 0 {
		t.Errorf("NFT power for two ids: got %s, want %s", power.NftPower, n(500))
	}
}

func TestNftPower_ExtensionScoreWins(t *testing.T) {
	f := newFixture(t)
	f.fundedVoter(t, n(0), 1)
	f.nfts.SetPower(nftCollection, 1, n(777))

	if got := f.calculator().NftPower(1); got.Cmp(n(777)) != 0 {
		t.Errorf("extension score: got %s, want %s", got, n(777))
	}
}

func TestNftPower_ConfiguredSupplyFallback(t *testing.T) {
	f := newFixture(t)
	f.fundedVoter(t, n(0), 1)

	// Make the collection non-enumerable; the configured count takes
	// over. The fixture configured count is 0, so reconfigure through a
	// fresh keeper.
	bank := testutil.NewBank()
	bank.RegisterToken(govToken, 18)
	nfts := f.nfts
	nfts.SetEnumerable(nftCollection, false)
	keeper := gov.NewKeeper(gov.Config{
		LedgerAccount:  uuid.New(),
		TreasurySource: uuid.New(),
		Tokens:         bank,
		Nfts:           nfts,
	})
	if err := keeper.SetNftCollection(nftCollection, n(1000), 10); err != nil {
		t.Fatalf("SetNftCollection: %v", err)
	}

	calc := gov.NewPowerCalculator(keeper, bank, nfts)
	if got := calc.NftPower(1); got.Cmp(n(100)) != 0 {
		t.Errorf("fallback share: got %s, want %s", got, n(100))
	}
}

// ============================================================================
// Test: NftExactBalance
// ============================================================================

func TestNftExactBalance_SeparatesDepositedFromWallet(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(0), 1, 3)
	f.nfts.MintNft(nftCollection, 5, voter)
	f.nfts.MintNft(nftCollection, 7, voter)

	deposited, wallet := f.calculator().NftExactBalance(voter, 0, 10)
	if len(deposited) != 2 || deposited[0] != 1 || deposited[1] != 3 {
		t.Errorf("deposited: got %v, want [1 3]", deposited)
	}
	if len(wallet) != 2 || wallet[0] != 5 || wallet[1] != 7 {
		t.Errorf("wallet: got %v, want [5 7]", wallet)
	}
}

func TestNftExactBalance_Pagination(t *testing.T) {
	f := newFixture(t)
	voter := f.fundedVoter(t, n(0), 1, 3)
	f.nfts.MintNft(nftCollection, 5, voter)
	f.nfts.MintNft(nftCollection, 7, voter)

	// The window walks deposited ids first, then wallet ids.
	deposited, wallet := f.calculator().NftExactBalance(voter, 1, 2)
	if len(deposited) != 1 || deposited[0] != 3 {
		t.Errorf("deposited page: got %v, want [3]", deposited)
	}
	if len(wallet) != 1 || wallet[0] != 5 {
		t.Errorf("wallet page: got %v, want [5]", wallet)
	}

	deposited, wallet = f.calculator().NftExactBalance(voter, 4, 2)
	if len(deposited) != 0 || len(wallet) != 0 {
		t.Errorf("past the end: got %v %v", deposited, wallet)
	}
}
