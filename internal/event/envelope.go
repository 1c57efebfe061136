package event

import (
	"time"

	"github.com/google/uuid"
)

// CommandType discriminator for command payloads.
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota

	// Pool partition
	CommandTypeCreatePool
	CommandTypeInvest
	CommandTypeDivest
	CommandTypeExchange
	CommandTypeCommissionSweep
	CommandTypeChangePoolParameters
	CommandTypeModifyAdmins
	CommandTypeModifyPrivateInvestors
	CommandTypeTransferLP

	// Governance partition
	CommandTypeGovDeposit
	CommandTypeGovWithdraw
	CommandTypeDelegate
	CommandTypeUndelegate
	CommandTypeDelegateTreasury
	CommandTypeUndelegateTreasury
	CommandTypeVoteLock
	CommandTypeVoteUnlock
	CommandTypeRefreshMaxLock
	CommandTypeSetGovAssets
)

// Envelope wraps every applied command in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	CommandType CommandType

	// Pool context (nil for governance commands)
	PoolID *uuid.UUID

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Block height the command was sequenced at
	Block int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command payload (for replay)
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all command payloads implement.
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// PoolID returns the pool context (nil for governance commands)
	PoolID() *uuid.UUID

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	// Block returns the block height the command executes at
	Block() int64

	// Timestamp returns the versioned input time in epoch microseconds
	Timestamp() int64
}

// Meta carries the versioned context shared by every command. The core never
// reads the wall clock — block height and timestamp are inputs.
type Meta struct {
	CommandID uuid.UUID
	Pool      *uuid.UUID
	BlockNum  int64
	Time      int64 // epoch microseconds
	Sequence  int64
}

func (m Meta) IdempotencyKey() string { return m.CommandID.String() }
func (m Meta) PoolID() *uuid.UUID     { return m.Pool }
func (m Meta) SourceSequence() int64  { return m.Sequence }
func (m Meta) Block() int64           { return m.BlockNum }
func (m Meta) Timestamp() int64       { return m.Time }

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeCreatePool:
		return "CreatePool"
	case CommandTypeInvest:
		return "Invest"
	case CommandTypeDivest:
		return "Divest"
	case CommandTypeExchange:
		return "Exchange"
	case CommandTypeCommissionSweep:
		return "CommissionSweep"
	case CommandTypeChangePoolParameters:
		return "ChangePoolParameters"
	case CommandTypeModifyAdmins:
		return "ModifyAdmins"
	case CommandTypeModifyPrivateInvestors:
		return "ModifyPrivateInvestors"
	case CommandTypeTransferLP:
		return "TransferLP"
	case CommandTypeGovDeposit:
		return "GovDeposit"
	case CommandTypeGovWithdraw:
		return "GovWithdraw"
	case CommandTypeDelegate:
		return "Delegate"
	case CommandTypeUndelegate:
		return "Undelegate"
	case CommandTypeDelegateTreasury:
		return "DelegateTreasury"
	case CommandTypeUndelegateTreasury:
		return "UndelegateTreasury"
	case CommandTypeVoteLock:
		return "VoteLock"
	case CommandTypeVoteUnlock:
		return "VoteUnlock"
	case CommandTypeRefreshMaxLock:
		return "RefreshMaxLock"
	case CommandTypeSetGovAssets:
		return "SetGovAssets"
	default:
		return "Unknown"
	}
}
