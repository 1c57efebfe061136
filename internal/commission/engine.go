package commission

import (
	fpmath "PoolCore/internal/math"
	"PoolCore/internal/pool"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// SinkPort names the platform-side receivers of the reward-token fee
// share. The insurance sink additionally gets a per-pool callback so it
// can attribute inflows.
type SinkPort interface {
	InsuranceAccount() uuid.UUID
	TreasuryAccount() uuid.UUID
	DividendsAccount() uuid.UUID

	// ReceiveRewardFromPool notifies the insurance sink of its cut
	ReceiveRewardFromPool(poolID uuid.UUID, amount *big.Int) error
}

// Config is the platform-wide fee split. The platform takes
// PlatformPercentage of every realized fee in base (converted to the
// reward token); the trader keeps the remainder as freshly minted LP.
// The three sink percentages split the platform portion and must sum to
// exactly 100%.
type Config struct {
	RewardToken         string
	PlatformPercentage  *big.Int
	InsurancePercentage *big.Int
	TreasuryPercentage  *big.Int
	DividendsPercentage *big.Int
}

func (c *Config) Validate() error {
	if c.RewardToken == "" {
		return fmt.Errorf("reward token must be set")
	}
	if c.PlatformPercentage == nil || c.PlatformPercentage.Sign() < 0 ||
		c.PlatformPercentage.Cmp(fpmath.PercentageBase) > 0 {
		return fmt.Errorf("platform percentage must be in [0, 100%%]")
	}
	sum := big.NewInt(0)
	for _, p := range []*big.Int{c.InsurancePercentage, c.TreasuryPercentage, c.DividendsPercentage} {
		if p == nil || p.Sign() < 0 {
			return fmt.Errorf("sink percentages must be non-negative")
		}
		sum.Add(sum, p)
	}
	if sum.Cmp(fpmath.PercentageBase) != 0 {
		return fmt.Errorf("sink percentages must sum to 100%%, got %s", sum)
	}
	return nil
}

// Engine computes and realizes performance fees. It owns no ledger
// state; it reads and mutates pool ledgers through their exported
// accounting surface.
type Engine struct {
	cfg   Config
	sinks SinkPort
}

func NewEngine(cfg Config, sinks SinkPort) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, sinks: sinks}, nil
}

// Charge is one investor's realized fee within a sweep.
type Charge struct {
	Investor uuid.UUID
	FeeBase  *big.Int
	FeeLP    *big.Int

	// Unlock epoch the investor was advanced to
	NextEpoch int64
}

// Distribution reports where an aggregate fee went.
type Distribution struct {
	TraderLP     *big.Int
	PlatformBase *big.Int
	RewardOut    *big.Int
	Insurance    *big.Int
	Treasury     *big.Int
	Dividends    *big.Int
}

// SweepResult reports one paginated reinvest-commission pass.
type SweepResult struct {
	Charges      []Charge
	TotalFeeBase *big.Int
	TotalFeeLP   *big.Int
	Skipped      int
	Distribution *Distribution
}

// Reinvest sweeps investors [offset, offset+limit) of the deterministic
// ordering, realizing the performance fee for everyone whose unlock
// epoch has passed. Admin-only, and only with zero open positions so the
// valuation is the liquid base balance alone. Investors whose epoch has
// not unlocked or whose fee computes to zero are skipped, which is
// normal. The aggregate fee is distributed once after the loop.
func (e *Engine) Reinvest(l *pool.Ledger, caller uuid.UUID, offset, limit int, minRewardOut *big.Int, block, ts int64) (*SweepResult, error) {
	if !l.IsAdmin(caller) {
		return nil, fmt.Errorf("%w: %s", pool.ErrNotAdmin, caller)
	}
	if l.OpenPositionCount() > 0 {
		return nil, fmt.Errorf("%w: %d open", pool.ErrOpenPositions, l.OpenPositionCount())
	}

	params := l.Params()
	epoch := fpmath.CommissionEpoch(ts, params.CommissionInitTimestamp, params.CommissionPeriod)

	// Fee math for the whole page runs against one consistent read of
	// balance and supply; the burns are applied afterwards.
	baseBalance := l.BaseBalance()
	supply := fpmath.Clone(l.TotalSupply())

	result := &SweepResult{
		TotalFeeBase: big.NewInt(0),
		TotalFeeLP:   big.NewInt(0),
	}

	if supply.Sign() == 0 {
		return result, nil
	}

	type plannedCharge struct {
		rec      *pool.InvestorInfo
		charge   Charge
		newBasis *big.Int
	}
	var planned []plannedCharge

	for _, rec := range l.InvestorPage(offset, limit) {
		if rec.CommissionUnlockEpoch > epoch {
			result.Skipped++
			continue
		}

		lpBalance := l.LPBalanceOf(rec.Investor)
		currentValue := fpmath.MulDiv(baseBalance, lpBalance, supply, fpmath.RoundDown)
		if currentValue.Cmp(rec.InvestedBase) <= 0 {
			result.Skipped++
			continue
		}

		profit := new(big.Int).Sub(currentValue, rec.InvestedBase)
		feeBase := fpmath.Percentage(profit, params.CommissionPercentage)
		if feeBase.Sign() == 0 {
			result.Skipped++
			continue
		}
		feeLP := fpmath.MulDiv(lpBalance, feeBase, currentValue, fpmath.RoundDown)

		planned = append(planned, plannedCharge{
			rec: rec,
			charge: Charge{
				Investor:  rec.Investor,
				FeeBase:   feeBase,
				FeeLP:     feeLP,
				NextEpoch: epoch + 1,
			},
			newBasis: new(big.Int).Sub(currentValue, feeBase),
		})
		result.TotalFeeBase.Add(result.TotalFeeBase, feeBase)
		result.TotalFeeLP.Add(result.TotalFeeLP, feeLP)
	}

	if result.TotalFeeBase.Sign() == 0 {
		return result, nil
	}

	// The reward bound is checked before anything is written, so a
	// failing bound rejects the sweep with no burns and no basis resets.
	if _, err := e.QuoteDistribution(l, result.TotalFeeBase, result.TotalFeeLP, minRewardOut); err != nil {
		return nil, err
	}

	for _, p := range planned {
		p.rec.InvestedBase = p.newBasis
		p.rec.CommissionUnlockEpoch = p.charge.NextEpoch
		if err := l.BurnFrom(p.rec.Investor, p.charge.FeeLP); err != nil {
			return nil, fmt.Errorf("burning fee LP from %s: %w", p.rec.Investor, err)
		}
		result.Charges = append(result.Charges, p.charge)
	}

	dist, err := e.Distribute(l, result.TotalFeeBase, result.TotalFeeLP, minRewardOut, block)
	if err != nil {
		return nil, err
	}
	result.Distribution = dist
	return result, nil
}

// QuoteDistribution prices a distribution without applying it: the
// trader's LP share, the platform's base share, and the reward-token
// conversion checked against the caller's bound. Rates are fixed within
// a command, so a quote that succeeds realizes exactly as priced.
func (e *Engine) QuoteDistribution(l *pool.Ledger, feeBase, feeLP, minRewardOut *big.Int) (*Distribution, error) {
	traderPct := new(big.Int).Sub(fpmath.PercentageBase, e.cfg.PlatformPercentage)
	dist := &Distribution{
		TraderLP:     fpmath.Percentage(feeLP, traderPct),
		PlatformBase: fpmath.Percentage(feeBase, e.cfg.PlatformPercentage),
		RewardOut:    big.NewInt(0),
		Insurance:    big.NewInt(0),
		Treasury:     big.NewInt(0),
		Dividends:    big.NewInt(0),
	}
	if dist.PlatformBase.Sign() == 0 {
		return dist, nil
	}

	reward, err := l.QuoteBaseForReward(e.cfg.RewardToken, dist.PlatformBase)
	if err != nil {
		return nil, fmt.Errorf("quoting fee conversion: %w", err)
	}
	if minRewardOut != nil && reward.Cmp(minRewardOut) < 0 {
		return nil, fmt.Errorf("converting fee to reward token: %w: out %s below min %s",
			pool.ErrSlippage, reward, minRewardOut)
	}
	dist.RewardOut = reward

	// The dividend sink absorbs the division residual so the split
	// conserves the reward amount exactly.
	dist.Insurance = fpmath.Percentage(reward, e.cfg.InsurancePercentage)
	dist.Treasury = fpmath.Percentage(reward, e.cfg.TreasuryPercentage)
	dist.Dividends = new(big.Int).Sub(reward, new(big.Int).Add(dist.Insurance, dist.Treasury))
	return dist, nil
}

// Distribute routes one aggregate fee: the trader's share is minted back
// as LP (the backing base stays in the pool), the platform's share is
// converted to the reward token and split across the sinks. The whole
// distribution is quoted up front; a failing reward bound returns before
// any mint or transfer.
func (e *Engine) Distribute(l *pool.Ledger, feeBase, feeLP, minRewardOut *big.Int, block int64) (*Distribution, error) {
	params := l.Params()

	dist, err := e.QuoteDistribution(l, feeBase, feeLP, minRewardOut)
	if err != nil {
		return nil, err
	}

	if dist.TraderLP.Sign() > 0 {
		if err := l.MintTo(params.Trader, dist.TraderLP, block); err != nil {
			return nil, fmt.Errorf("minting trader fee LP: %w", err)
		}
	}
	if dist.PlatformBase.Sign() == 0 {
		return dist, nil
	}

	if _, err := l.ExchangeBaseForReward(e.cfg.RewardToken, dist.PlatformBase, minRewardOut); err != nil {
		return nil, fmt.Errorf("converting fee to reward token: %w", err)
	}

	if err := l.PayOutToken(e.sinks.InsuranceAccount(), e.cfg.RewardToken, dist.Insurance); err != nil {
		return nil, fmt.Errorf("insurance payout: %w", err)
	}
	if err := l.PayOutToken(e.sinks.TreasuryAccount(), e.cfg.RewardToken, dist.Treasury); err != nil {
		return nil, fmt.Errorf("treasury payout: %w", err)
	}
	if err := l.PayOutToken(e.sinks.DividendsAccount(), e.cfg.RewardToken, dist.Dividends); err != nil {
		return nil, fmt.Errorf("dividends payout: %w", err)
	}
	if err := e.sinks.ReceiveRewardFromPool(params.PoolID, dist.Insurance); err != nil {
		return nil, fmt.Errorf("insurance callback: %w", err)
	}

	return dist, nil
}
