package gov

import (
	fpmath "PoolCore/internal/math"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// VoteType selects which collateral bucket a vote draws power from.
type VoteType int

const (
	// Owned ledger balance plus live wallet balance
	VotePersonal VoteType = iota

	// Micropool ledger balance plus live wallet balance
	VoteDelegatedIn

	// Micropool ledger balance only
	VoteMicropool

	// Treasury ledger balance only
	VoteTreasury
)

// VotingPower is the scored weight of one account under one vote type.
// Ledger balances are lockable; wallet balances count toward eligibility
// only — callers must keep the two notions distinct.
type VotingPower struct {
	Tokens       *big.Int // ledger fungible power
	WalletTokens *big.Int // live on-wallet fungible balance
	NftPower     *big.Int
	NftIDs       []uint64
	Total        *big.Int
}

// PowerCalculator derives scalar voting weights from the collateral
// ledger plus live wallet reads. It never mutates the keeper.
type PowerCalculator struct {
	keeper *Keeper
	tokens TokenPort
	nfts   NftPort
}

func NewPowerCalculator(keeper *Keeper, tokens TokenPort, nfts NftPort) *PowerCalculator {
	return &PowerCalculator{keeper: keeper, tokens: tokens, nfts: nfts}
}

// VotingPower scores an account under the given vote type.
func (c *PowerCalculator) VotingPower(account uuid.UUID, vt VoteType) (*VotingPower, error) {
	power := &VotingPower{
		Tokens:       big.NewInt(0),
		WalletTokens: big.NewInt(0),
		NftPower:     big.NewInt(0),
	}

	var record *BalanceRecord
	if u := c.keeper.User(account); u != nil {
		switch vt {
		case VotePersonal:
			record = &u.Owned
		case VoteDelegatedIn, VoteMicropool:
			record = &u.Micropool
		case VoteTreasury:
			record = &u.Treasury
		default:
			return nil, fmt.Errorf("unknown vote type %d", vt)
		}
	}

	if record != nil {
		power.Tokens = fpmath.Clone(record.Tokens)
		power.NftIDs = record.NftList()
	}

	// Owned-but-not-deposited assets count toward eligibility for
	// personal and delegated-in votes, read live from the collaborators.
	if vt == VotePersonal || vt == VoteDelegatedIn {
		if token := c.keeper.Token(); token != "" {
			native := c.tokens.BalanceOf(account, token)
			power.WalletTokens = fpmath.Normalize(native, c.keeper.TokenDecimals())
		}
		if collection := c.keeper.NftCollection(); collection != "" {
			if owned, ok := c.nfts.OwnedTokens(account, collection); ok {
				power.NftIDs = append(power.NftIDs, owned...)
			}
		}
	}

	for _, id := range power.NftIDs {
		power.NftPower.Add(power.NftPower, c.NftPower(id))
	}

	power.Total = new(big.Int).Add(power.Tokens, power.WalletTokens)
	power.Total.Add(power.Total, power.NftPower)
	return power, nil
}

// NftPower scores a single id: the collection's per-token power score
// when the extension exists, otherwise an equal share of the configured
// total power over the collection supply.
func (c *PowerCalculator) NftPower(id uint64) *big.Int {
	collection := c.keeper.NftCollection()
	if collection == "" {
		return big.NewInt(0)
	}

	if score, ok := c.nfts.PowerOf(collection, id); ok {
		return fpmath.Clone(score)
	}

	supply, ok := c.nfts.TotalSupply(collection)
	if !ok {
		supply = c.keeper.NftConfiguredCount()
	}
	if supply <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(c.keeper.NftTotalPower(), big.NewInt(int64(supply)))
}

// NftExactBalance paginates an account's NFT ids, reporting deposited
// ids separately from merely wallet-owned ones so callers can tell
// lockable assets apart from eligible ones. The window walks deposited
// ids first, then wallet ids, both ascending.
func (c *PowerCalculator) NftExactBalance(account uuid.UUID, offset, limit int) (deposited, wallet []uint64) {
	var ledger []uint64
	if u := c.keeper.User(account); u != nil {
		ledger = u.Owned.NftList()
	}

	var owned []uint64
	if collection := c.keeper.NftCollection(); collection != "" {
		owned, _ = c.nfts.OwnedTokens(account, collection)
	}

	if offset < 0 || limit <= 0 {
		return nil, nil
	}
	total := len(ledger) + len(owned)
	if offset >= total {
		return nil, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	for i := offset; i < end; i++ {
		if i < len(ledger) {
			deposited = append(deposited, ledger[i])
		} else {
			wallet = append(wallet, owned[i-len(ledger)])
		}
	}
	return deposited, wallet
}
