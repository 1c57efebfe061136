package event

import (
	"math/big"

	"github.com/google/uuid"
)

// GovDeposit credits collateral (tokens and/or NFTs) to the depositor's
// own balance record.
type GovDeposit struct {
	Meta
	Account uuid.UUID
	Tokens  *big.Int
	NftIDs  []uint64
}

func (c *GovDeposit) CommandType() CommandType { return CommandTypeGovDeposit }

// GovWithdraw returns unlocked collateral to the owner's wallet.
type GovWithdraw struct {
	Meta
	Account uuid.UUID
	Tokens  *big.Int
	NftIDs  []uint64
}

func (c *GovWithdraw) CommandType() CommandType { return CommandTypeGovWithdraw }

// Delegate moves collateral from owned into a delegatee's micropool.
type Delegate struct {
	Meta
	From   uuid.UUID
	To     uuid.UUID
	Tokens *big.Int
	NftIDs []uint64
}

func (c *Delegate) CommandType() CommandType { return CommandTypeDelegate }

// Undelegate reverses a delegation.
type Undelegate struct {
	Meta
	From   uuid.UUID
	To     uuid.UUID
	Tokens *big.Int
	NftIDs []uint64
}

func (c *Undelegate) CommandType() CommandType { return CommandTypeUndelegate }

// DelegateTreasury credits a delegatee's treasury record without debiting
// any delegator (externally funded).
type DelegateTreasury struct {
	Meta
	To     uuid.UUID
	Tokens *big.Int
	NftIDs []uint64
}

func (c *DelegateTreasury) CommandType() CommandType { return CommandTypeDelegateTreasury }

// UndelegateTreasury claws back treasury-sourced collateral.
type UndelegateTreasury struct {
	Meta
	To     uuid.UUID
	Tokens *big.Int
	NftIDs []uint64
}

func (c *UndelegateTreasury) CommandType() CommandType { return CommandTypeUndelegateTreasury }

// VoteLock records collateral locked behind a vote on one proposal.
type VoteLock struct {
	Meta
	Voter    uuid.UUID
	Proposal int64
	Tokens   *big.Int
	NftIDs   []uint64
}

func (c *VoteLock) CommandType() CommandType { return CommandTypeVoteLock }

// VoteUnlock clears one proposal's lock and decrements NFT lock counters.
type VoteUnlock struct {
	Meta
	Voter    uuid.UUID
	Proposal int64
	NftIDs   []uint64
}

func (c *VoteUnlock) CommandType() CommandType { return CommandTypeVoteUnlock }

// RefreshMaxLock recomputes a voter's high-water lock across the supplied
// set of their currently-active proposals.
type RefreshMaxLock struct {
	Meta
	Voter     uuid.UUID
	Proposals []int64
}

func (c *RefreshMaxLock) CommandType() CommandType { return CommandTypeRefreshMaxLock }

// SetGovAssets configures the governance collateral assets. Re-setting an
// already-configured asset is rejected.
type SetGovAssets struct {
	Meta
	Token              string
	NftCollection      string
	NftTotalPower      *big.Int // used when the collection lacks a power extension
	NftConfiguredCount int      // fallback supply when the collection is non-enumerable
}

func (c *SetGovAssets) CommandType() CommandType { return CommandTypeSetGovAssets }
