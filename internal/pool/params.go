package pool

import (
	fpmath "PoolCore/internal/math"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Parameters is the per-pool configuration singleton. It is set at pool
// creation and mutated only through the admin-gated parameter-change
// operation.
type Parameters struct {
	PoolID      uuid.UUID
	Trader      uuid.UUID
	Description string
	Private     bool

	BaseToken    string
	BaseDecimals uint8

	// Zero means unlimited emission
	TotalLPEmission *big.Int

	// Zero means no minimum, normalized units
	MinInvest *big.Int

	CommissionPeriod     fpmath.CommissionPeriod
	CommissionPercentage *big.Int

	// Epoch microseconds of pool creation; anchors epoch arithmetic
	CommissionInitTimestamp int64

	LeverageThreshold *big.Int
	LeverageSlope     *big.Int

	// Zero means unlimited investors
	InvestorLimit int

	// Passive pools never auto-buy positions on invest
	Passive bool
}

// Validate rejects structurally unusable parameter sets.
func (p *Parameters) Validate() error {
	if p.Trader == uuid.Nil {
		return fmt.Errorf("pool %s: trader must be set", p.PoolID)
	}
	if p.BaseToken == "" {
		return fmt.Errorf("pool %s: base token must be set", p.PoolID)
	}
	if p.CommissionPercentage == nil || p.CommissionPercentage.Sign() < 0 ||
		p.CommissionPercentage.Cmp(fpmath.PercentageBase) >= 0 {
		return fmt.Errorf("pool %s: commission percentage must be in [0, 100%%)", p.PoolID)
	}
	switch p.CommissionPeriod {
	case fpmath.PeriodMonth, fpmath.PeriodQuarter, fpmath.PeriodYear:
	default:
		return fmt.Errorf("pool %s: unknown commission period %d", p.PoolID, p.CommissionPeriod)
	}
	if p.TotalLPEmission == nil || p.TotalLPEmission.Sign() < 0 {
		return fmt.Errorf("pool %s: emission cap must be non-negative", p.PoolID)
	}
	if p.MinInvest == nil || p.MinInvest.Sign() < 0 {
		return fmt.Errorf("pool %s: minimum investment must be non-negative", p.PoolID)
	}
	if p.LeverageThreshold == nil || p.LeverageThreshold.Sign() < 0 ||
		p.LeverageSlope == nil || p.LeverageSlope.Sign() < 0 {
		return fmt.Errorf("pool %s: leverage parameters must be non-negative", p.PoolID)
	}
	if p.InvestorLimit < 0 {
		return fmt.Errorf("pool %s: investor limit must be non-negative", p.PoolID)
	}
	return nil
}

// ParameterChange carries the mutable subset of Parameters.
type ParameterChange struct {
	Description     string
	Private         bool
	TotalLPEmission *big.Int
	MinInvest       *big.Int
}

// ChangeParameters applies an admin-gated parameter change. A nonzero
// emission cap below current supply is rejected; the cap is checked at
// mint time, never retroactively.
func (l *Ledger) ChangeParameters(caller uuid.UUID, change ParameterChange) error {
	if !l.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", ErrNotAdmin, caller)
	}
	if change.TotalLPEmission == nil || change.TotalLPEmission.Sign() < 0 {
		return fmt.Errorf("emission cap must be non-negative")
	}
	if change.MinInvest == nil || change.MinInvest.Sign() < 0 {
		return fmt.Errorf("minimum investment must be non-negative")
	}
	if change.TotalLPEmission.Sign() > 0 && change.TotalLPEmission.Cmp(l.totalSupply) < 0 {
		return fmt.Errorf("%w: cap %s below current supply %s",
			ErrEmissionCap, change.TotalLPEmission, l.totalSupply)
	}

	l.params.Description = change.Description
	l.params.Private = change.Private
	l.params.TotalLPEmission = fpmath.Clone(change.TotalLPEmission)
	l.params.MinInvest = fpmath.Clone(change.MinInvest)
	return nil
}

// ModifyAdmins adds then removes admin accounts. The trader is always an
// admin and cannot be removed.
func (l *Ledger) ModifyAdmins(caller uuid.UUID, add, remove []uuid.UUID) error {
	if !l.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", ErrNotAdmin, caller)
	}
	for _, a := range add {
		l.admins[a] = true
	}
	for _, r := range remove {
		if r == l.params.Trader {
			continue
		}
		delete(l.admins, r)
	}
	return nil
}

// ModifyPrivateInvestors edits the private-pool allow list. Removal is
// refused while the account still holds LP.
func (l *Ledger) ModifyPrivateInvestors(caller uuid.UUID, add, remove []uuid.UUID) error {
	if !l.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", ErrNotAdmin, caller)
	}
	for _, a := range add {
		l.privateInvestors[a] = true
	}
	for _, r := range remove {
		if bal, ok := l.lpBalances[r]; ok && bal.Sign() > 0 {
			return fmt.Errorf("cannot remove %s from allow list: still holds %s LP", r, bal)
		}
		delete(l.privateInvestors, r)
	}
	return nil
}
