package event

import (
	"math/big"

	"github.com/google/uuid"
)

// ExchangeMode selects which side of a swap the amount fixes.
type ExchangeMode int32

const (
	ExchangeExactIn  ExchangeMode = iota // amount = input, bound = minimum output
	ExchangeExactOut                     // amount = output, bound = maximum input
)

// PositionBound pairs a position token with a caller-supplied slippage bound.
type PositionBound struct {
	Token  string
	Amount *big.Int
}

// CreatePool registers a new trader pool with its parameters.
type CreatePool struct {
	Meta
	Trader               uuid.UUID
	Description          string
	Private              bool
	BaseToken            string
	TotalLPEmission      *big.Int // zero = unlimited
	MinInvest            *big.Int // normalized; zero = none
	CommissionPeriod     int32
	CommissionPercentage *big.Int
	LeverageThreshold    *big.Int
	LeverageSlope        *big.Int
	InvestorLimit        int
	Passive              bool
}

func (c *CreatePool) CommandType() CommandType { return CommandTypeCreatePool }

// Invest deposits base token into a pool in exchange for freshly minted LP.
type Invest struct {
	Meta
	Investor        uuid.UUID
	Amount          *big.Int // normalized base amount
	MinPositionsOut []PositionBound
}

func (c *Invest) CommandType() CommandType { return CommandTypeInvest }

// Divest burns LP for a pro-rata share of the pool, liquidating positions.
type Divest struct {
	Meta
	Investor         uuid.UUID
	AmountLP         *big.Int
	MinPositionsOut  []PositionBound
	MinCommissionOut *big.Int
}

func (c *Divest) CommandType() CommandType { return CommandTypeDivest }

// Exchange rebalances the pool between the base token and a position.
type Exchange struct {
	Meta
	Caller uuid.UUID
	From   string
	To     string
	Amount *big.Int
	Bound  *big.Int
	Mode   ExchangeMode
	Route  []string
}

func (c *Exchange) CommandType() CommandType { return CommandTypeExchange }

// CommissionSweep realizes performance fees over a page of investors.
type CommissionSweep struct {
	Meta
	Caller       uuid.UUID
	Offset       int
	Limit        int
	MinRewardOut *big.Int
}

func (c *CommissionSweep) CommandType() CommandType { return CommandTypeCommissionSweep }

// ChangePoolParameters mutates the admin-gated pool parameters.
type ChangePoolParameters struct {
	Meta
	Caller          uuid.UUID
	Description     string
	Private         bool
	TotalLPEmission *big.Int
	MinInvest       *big.Int
}

func (c *ChangePoolParameters) CommandType() CommandType { return CommandTypeChangePoolParameters }

// ModifyAdmins adds and removes trader-admin accounts.
type ModifyAdmins struct {
	Meta
	Caller uuid.UUID
	Add    []uuid.UUID
	Remove []uuid.UUID
}

func (c *ModifyAdmins) CommandType() CommandType { return CommandTypeModifyAdmins }

// ModifyPrivateInvestors edits the private-pool allow list.
type ModifyPrivateInvestors struct {
	Meta
	Caller uuid.UUID
	Add    []uuid.UUID
	Remove []uuid.UUID
}

func (c *ModifyPrivateInvestors) CommandType() CommandType { return CommandTypeModifyPrivateInvestors }

// TransferLP moves LP between holders, triggering cost-basis bookkeeping.
type TransferLP struct {
	Meta
	From   uuid.UUID
	To     uuid.UUID
	Amount *big.Int
}

func (c *TransferLP) CommandType() CommandType { return CommandTypeTransferLP }
