package commission_test

import (
	"PoolCore/internal/commission"
	fpmath "PoolCore/internal/math"
	"PoolCore/internal/pool"
	"PoolCore/internal/testutil"
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
)

const (
	baseToken   = "USDC"
	rewardToken = "DEXE"
	initTs      = int64(1_000_000)
)

func n(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func pct(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(25), nil))
}

type fixture struct {
	bank   *testutil.Bank
	oracle *testutil.Oracle
	sinks  *testutil.Sinks
	ledger *pool.Ledger
	engine *commission.Engine
	poolID uuid.UUID
	trader uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	bank := testutil.NewBank()
	bank.RegisterToken(baseToken, 6)
	bank.RegisterToken(rewardToken, 18)

	oracle := testutil.NewOracle(bank)
	oracle.SetPrice(rewardToken, baseToken, n(1))
	bank.MintNormalized(oracle.Account, baseToken, n(100_000_000))
	bank.MintNormalized(oracle.Account, rewardToken, n(100_000_000))

	params := pool.Parameters{
		PoolID:                  uuid.New(),
		Trader:                  uuid.New(),
		Description:             "commission test pool",
		BaseToken:               baseToken,
		TotalLPEmission:         big.NewInt(0),
		MinInvest:               big.NewInt(0),
		CommissionPeriod:        fpmath.PeriodMonth,
		CommissionPercentage:    pct(20),
		CommissionInitTimestamp: initTs,
		LeverageThreshold:       n(1_000_000),
		LeverageSlope:           big.NewInt(0),
	}

	ledger, err := pool.NewLedger(params, pool.Config{
		Assets:        bank,
		Oracle:        oracle,
		OracleAccount: oracle.Account,
	})
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}

	sinks := testutil.NewSinks()
	engine, err := commission.NewEngine(commission.Config{
		RewardToken:         rewardToken,
		PlatformPercentage:  pct(30),
		InsurancePercentage: pct(30),
		TreasuryPercentage:  pct(30),
		DividendsPercentage: pct(40),
	}, sinks)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	return &fixture{
		bank:   bank,
		oracle: oracle,
		sinks:  sinks,
		ledger: ledger,
		engine: engine,
		poolID: params.PoolID,
		trader: params.Trader,
	}
}

// investAndAppreciate deposits 1000 base at the init timestamp and then
// grows the pool to 1200 without trades.
func (f *fixture) investAndAppreciate(t *testing.T) uuid.UUID {
	t.Helper()
	investor := uuid.New()
	f.bank.MintNormalized(investor, baseToken, n(1000))
	if _, err := f.ledger.Invest(investor, n(1000), nil, 1, initTs); err != nil {
		t.Fatalf("Invest: %v", err)
	}
	f.bank.MintNormalized(f.poolID, baseToken, n(200))
	return investor
}

// epoch2 is a timestamp one month past the init timestamp.
func epoch2() int64 { return initTs + fpmath.PeriodMonth.Duration() }

// ============================================================================
// Test: Reinvest
// ============================================================================

func TestReinvest_ChargesFeeOnProfit(t *testing.T) {
	f := newFixture(t)
	investor := f.investAndAppreciate(t)

	res, err := f.engine.Reinvest(f.ledger, f.trader, 0, 100, nil, 2, epoch2())
	if err != nil {
		t.Fatalf("Reinvest: %v", err)
	}
	if len(res.Charges) != 1 {
		t.Fatalf("charges: got %d, want 1", len(res.Charges))
	}

	// Basis 1000, value 1200, 20% of the 200 profit: fee 40 base.
	charge := res.Charges[0]
	if charge.FeeBase.Cmp(n(40)) != 0 {
		t.Errorf("fee base: got %s, want %s", charge.FeeBase, n(40))
	}
	wantFeeLP := fpmath.MulDiv(n(1000), n(40), n(1200), fpmath.RoundDown)
	if charge.FeeLP.Cmp(wantFeeLP) != 0 {
		t.Errorf("fee LP: got %s, want %s", charge.FeeLP, wantFeeLP)
	}

	rec := f.ledger.Investor(investor)
	if rec.InvestedBase.Cmp(n(1160)) != 0 {
		t.Errorf("reset basis: got %s, want %s", rec.InvestedBase, n(1160))
	}
	if rec.CommissionUnlockEpoch != 3 {
		t.Errorf("advanced epoch: got %d, want 3", rec.CommissionUnlockEpoch)
	}
}

func TestReinvest_EpochIdempotence(t *testing.T) {
	f := newFixture(t)
	f.investAndAppreciate(t)

	first, err := f.engine.Reinvest(f.ledger, f.trader, 0, 100, nil, 2, epoch2())
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if len(first.Charges) != 1 {
		t.Fatalf("first sweep charges: got %d", len(first.Charges))
	}

	// Same epoch again: the investor's unlock has advanced, nothing to
	// charge.
	second, err := f.engine.Reinvest(f.ledger, f.trader, 0, 100, nil, 3, epoch2())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(second.Charges) != 0 {
		t.Errorf("second sweep should charge nothing, got %d", len(second.Charges))
	}
	if second.Skipped != 1 {
		t.Errorf("second sweep skipped: got %d, want 1", second.Skipped)
	}
}

func TestReinvest_NoFeeWithoutProfit(t *testing.T) {
	f := newFixture(t)
	investor := uuid.New()
	f.bank.MintNormalized(investor, baseToken, n(1000))
	if _, err := f.ledger.Invest(investor, n(1000), nil, 1, initTs); err != nil {
		t.Fatalf("Invest: %v", err)
	}

	res, err := f.engine.Reinvest(f.ledger, f.trader, 0, 100, nil, 2, epoch2())
	if err != nil {
		t.Fatalf("Reinvest: %v", err)
	}
	if len(res.Charges) != 0 {
		t.Errorf("no profit should charge nothing, got %d", len(res.Charges))
	}
	if res.TotalFeeBase.Sign() != 0 {
		t.Errorf("total fee: got %s, want 0", res.TotalFeeBase)
	}
}

func TestReinvest_LockedEpochSkipped(t *testing.T) {
	f := newFixture(t)
	f.investAndAppreciate(t)

	// Still inside epoch 1: the investor's unlock epoch (2) has not
	// passed.
	res, err := f.engine.Reinvest(f.ledger, f.trader, 0, 100, nil, 2, initTs+1)
	if err != nil {
		t.Fatalf("Reinvest: %v", err)
	}
	if len(res.Charges) != 0 {
		t.Errorf("locked epoch should charge nothing, got %d", len(res.Charges))
	}
	if res.Skipped != 1 {
		t.Errorf("skipped: got %d, want 1", res.Skipped)
	}
}

func TestReinvest_RewardBoundRejectsCleanly(t *testing.T) {
	f := newFixture(t)
	investor := f.investAndAppreciate(t)
	lpBefore := fpmath.Clone(f.ledger.LPBalanceOf(investor))

	// The 40 base fee converts to 12 DEXE for the platform; demanding
	// more must reject the sweep before any charge is applied.
	_, err := f.engine.Reinvest(f.ledger, f.trader, 0, 100, n(1000), 2, epoch2())
	if !errors.Is(err, pool.ErrSlippage) {
		t.Fatalf("bound: got %v, want ErrSlippage", err)
	}

	rec := f.ledger.Investor(investor)
	if rec.InvestedBase.Cmp(n(1000)) != 0 {
		t.Errorf("basis changed on rejection: got %s, want %s", rec.InvestedBase, n(1000))
	}
	if rec.CommissionUnlockEpoch != 2 {
		t.Errorf("epoch advanced on rejection: got %d, want 2", rec.CommissionUnlockEpoch)
	}
	if got := f.ledger.LPBalanceOf(investor); got.Cmp(lpBefore) != 0 {
		t.Errorf("fee LP burned on rejection: got %s, want %s", got, lpBefore)
	}
	if f.ledger.TotalSupply().Cmp(n(1000)) != 0 {
		t.Errorf("supply changed on rejection: got %s, want %s", f.ledger.TotalSupply(), n(1000))
	}

	// The same sweep with a satisfiable bound settles exactly as quoted.
	res, err := f.engine.Reinvest(f.ledger, f.trader, 0, 100, n(12), 2, epoch2())
	if err != nil {
		t.Fatalf("Reinvest: %v", err)
	}
	if res.Distribution == nil || res.Distribution.RewardOut.Cmp(n(12)) != 0 {
		t.Errorf("reward out: got %+v, want %s", res.Distribution, n(12))
	}
}

func TestReinvest_AdminOnly(t *testing.T) {
	f := newFixture(t)
	f.investAndAppreciate(t)

	outsider := uuid.New()
	if _, err := f.engine.Reinvest(f.ledger, outsider, 0, 100, nil, 2, epoch2()); !errors.Is(err, pool.ErrNotAdmin) {
		t.Errorf("outsider sweep: got %v, want ErrNotAdmin", err)
	}
}

func TestReinvest_Distribution(t *testing.T) {
	f := newFixture(t)
	f.investAndAppreciate(t)

	res, err := f.engine.Reinvest(f.ledger, f.trader, 0, 100, nil, 2, epoch2())
	if err != nil {
		t.Fatalf("Reinvest: %v", err)
	}
	dist := res.Distribution
	if dist == nil {
		t.Fatal("expected a distribution")
	}

	// Fee 40 base: platform takes 30% (12) converted 1:1 to the reward
	// token; the trader keeps 70% of the fee LP.
	if dist.PlatformBase.Cmp(n(12)) != 0 {
		t.Errorf("platform base: got %s, want %s", dist.PlatformBase, n(12))
	}
	if dist.RewardOut.Cmp(n(12)) != 0 {
		t.Errorf("reward out: got %s, want %s", dist.RewardOut, n(12))
	}
	wantTraderLP := fpmath.Percentage(res.TotalFeeLP, pct(70))
	if dist.TraderLP.Cmp(wantTraderLP) != 0 {
		t.Errorf("trader LP: got %s, want %s", dist.TraderLP, wantTraderLP)
	}
	if f.ledger.LPBalanceOf(f.trader).Cmp(wantTraderLP) != 0 {
		t.Errorf("trader LP balance: got %s", f.ledger.LPBalanceOf(f.trader))
	}

	// The sink split conserves the reward amount exactly: the dividend
	// sink absorbs the residual.
	sum := new(big.Int).Add(dist.Insurance, dist.Treasury)
	sum.Add(sum, dist.Dividends)
	if sum.Cmp(dist.RewardOut) != 0 {
		t.Errorf("sink split: %s + %s + %s != %s", dist.Insurance, dist.Treasury, dist.Dividends, dist.RewardOut)
	}

	// Physical reward-token balances match the split.
	if got := f.bank.NormalizedBalance(f.sinks.Insurance, rewardToken); got.Cmp(dist.Insurance) != 0 {
		t.Errorf("insurance balance: got %s, want %s", got, dist.Insurance)
	}
	if got := f.bank.NormalizedBalance(f.sinks.Dividends, rewardToken); got.Cmp(dist.Dividends) != 0 {
		t.Errorf("dividends balance: got %s, want %s", got, dist.Dividends)
	}

	// The insurance sink is notified once with its cut.
	if len(f.sinks.Callbacks) != 1 {
		t.Fatalf("callbacks: got %d, want 1", len(f.sinks.Callbacks))
	}
	if f.sinks.Callbacks[0].Pool != f.poolID || f.sinks.Callbacks[0].Amount.Cmp(dist.Insurance) != 0 {
		t.Errorf("callback: got %+v", f.sinks.Callbacks[0])
	}
}

func TestReinvest_Pagination(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		investor := uuid.New()
		f.bank.MintNormalized(investor, baseToken, n(1000))
		if _, err := f.ledger.Invest(investor, n(1000), nil, 1, initTs); err != nil {
			t.Fatalf("Invest: %v", err)
		}
	}
	f.bank.MintNormalized(f.poolID, baseToken, n(600))

	// Page of one: exactly one investor charged per call.
	res, err := f.engine.Reinvest(f.ledger, f.trader, 0, 1, nil, 2, epoch2())
	if err != nil {
		t.Fatalf("Reinvest: %v", err)
	}
	if len(res.Charges) != 1 {
		t.Errorf("paged sweep charges: got %d, want 1", len(res.Charges))
	}
}

func TestNewEngine_RejectsBadSplit(t *testing.T) {
	_, err := commission.NewEngine(commission.Config{
		RewardToken:         rewardToken,
		PlatformPercentage:  pct(30),
		InsurancePercentage: pct(30),
		TreasuryPercentage:  pct(30),
		DividendsPercentage: pct(30),
	}, testutil.NewSinks())
	if err == nil {
		t.Error("sink split not summing to 100% must be rejected")
	}
}
