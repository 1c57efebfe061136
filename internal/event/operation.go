package event

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// OpKind labels a single ledger mutation produced by a command. Operations
// are the persisted, projectable trail of what a command did — one row per
// balance-affecting step, in application order.
type OpKind string

const (
	OpLPMint             OpKind = "lp_mint"
	OpLPBurn             OpKind = "lp_burn"
	OpLPTransfer         OpKind = "lp_transfer"
	OpBaseDeposit        OpKind = "base_deposit"
	OpBasePayout         OpKind = "base_payout"
	OpPositionAcquire    OpKind = "position_acquire"
	OpPositionLiquidate  OpKind = "position_liquidate"
	OpCommissionCharge   OpKind = "commission_charge"
	OpCommissionReward   OpKind = "commission_reward"
	OpParamsChange       OpKind = "params_change"
	OpAdminChange        OpKind = "admin_change"
	OpGovDeposit         OpKind = "gov_deposit"
	OpGovWithdraw        OpKind = "gov_withdraw"
	OpDelegate           OpKind = "delegate"
	OpUndelegate         OpKind = "undelegate"
	OpTreasuryDelegate   OpKind = "treasury_delegate"
	OpTreasuryUndelegate OpKind = "treasury_undelegate"
	OpVoteLock           OpKind = "vote_lock"
	OpVoteUnlock         OpKind = "vote_unlock"
	OpNftLock            OpKind = "nft_lock"
	OpNftUnlock          OpKind = "nft_unlock"
)

// Operation is one applied ledger mutation. Amounts are normalized
// 18-decimal units; fields not relevant to a kind stay zero-valued.
type Operation struct {
	OpID         uuid.UUID
	Kind         OpKind
	Pool         *uuid.UUID
	Account      *uuid.UUID
	Counterparty *uuid.UUID
	Token        string
	Amount       *big.Int
	NftIDs       []uint64
	Proposal     int64
	Sequence     int64
	Timestamp    int64
}

// Batch groups the operations of one applied command.
type Batch struct {
	BatchID    uuid.UUID
	CommandRef string // idempotency key of the source command
	Sequence   int64
	Timestamp  int64
	Ops        []Operation
}

// Validate ensures the batch is well-formed: every operation carries a
// non-negative amount and the batch's own id. Zero-amount operations are
// legal only for kinds that mutate sets rather than balances.
func (b *Batch) Validate() error {
	for _, op := range b.Ops {
		if op.Amount != nil && op.Amount.Sign() < 0 {
			return fmt.Errorf("operation %s has negative amount: %s", op.OpID, op.Amount)
		}
		if op.Kind == "" {
			return fmt.Errorf("operation %s has empty kind", op.OpID)
		}
	}
	return nil
}
