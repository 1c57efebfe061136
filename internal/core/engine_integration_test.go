package core_test

import (
	"PoolCore/internal/commission"
	"PoolCore/internal/core"
	"PoolCore/internal/event"
	"PoolCore/internal/gov"
	"PoolCore/internal/pool"
	"PoolCore/internal/testutil"
	"math/big"
	"testing"

	"github.com/google/uuid"
)

const (
	baseToken   = "USDC"
	rewardToken = "DEXE"
	govToken    = "DGOV"
	initTs      = int64(1_000_000)
)

func n(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func pct(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(25), nil))
}

type testCore struct {
	engine         *core.Engine
	persistChan    chan core.CoreOutput
	projectionChan chan core.CoreOutput
	bank           *testutil.Bank
	oracle         *testutil.Oracle
	sinks          *testutil.Sinks
	keeper         *gov.Keeper
	treasury       uuid.UUID
}

func newTestCore(t *testing.T) *testCore {
	t.Helper()

	bank := testutil.NewBank()
	bank.RegisterToken(baseToken, 6)
	bank.RegisterToken(rewardToken, 18)
	bank.RegisterToken(govToken, 18)

	oracle := testutil.NewOracle(bank)
	oracle.SetPrice(rewardToken, baseToken, n(1))
	bank.MintNormalized(oracle.Account, baseToken, n(100_000_000))
	bank.MintNormalized(oracle.Account, rewardToken, n(100_000_000))

	treasury := uuid.New()
	keeper := gov.NewKeeper(gov.Config{
		LedgerAccount:  uuid.New(),
		TreasurySource: treasury,
		Tokens:         bank,
		Nfts:           testutil.NewNftRegistry(),
	})

	sinks := testutil.NewSinks()
	fees, err := commission.NewEngine(commission.Config{
		RewardToken:         rewardToken,
		PlatformPercentage:  pct(30),
		InsurancePercentage: pct(30),
		TreasuryPercentage:  pct(30),
		DividendsPercentage: pct(40),
	}, sinks)
	if err != nil {
		t.Fatalf("commission.NewEngine: %v", err)
	}

	persistChan := make(chan core.CoreOutput, 1024)
	projectionChan := make(chan core.CoreOutput, 1024)

	engine := core.NewEngine(
		0,
		pool.Config{Assets: bank, Oracle: oracle, OracleAccount: oracle.Account},
		keeper,
		fees,
		persistChan, projectionChan,
		nil, // no DB tier in tests
		nil, // no Prometheus in tests
	)

	return &testCore{
		engine:         engine,
		persistChan:    persistChan,
		projectionChan: projectionChan,
		bank:           bank,
		oracle:         oracle,
		sinks:          sinks,
		keeper:         keeper,
		treasury:       treasury,
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case out := <-ch:
			outputs = append(outputs, out)
		default:
			return outputs
		}
	}
}

func meta(p *uuid.UUID, seq, block, ts int64) event.Meta {
	return event.Meta{
		CommandID: uuid.New(),
		Pool:      p,
		BlockNum:  block,
		Time:      ts,
		Sequence:  seq,
	}
}

func mustCreatePool(poolID uuid.UUID, trader uuid.UUID, seq int64) *event.CreatePool {
	return &event.CreatePool{
		Meta:                 meta(&poolID, seq, 1, initTs),
		Trader:               trader,
		Description:          "integration test pool",
		BaseToken:            baseToken,
		TotalLPEmission:      big.NewInt(0),
		MinInvest:            big.NewInt(0),
		CommissionPeriod:     int32(1), // monthly
		CommissionPercentage: pct(20),
		LeverageThreshold:    n(1_000_000),
		LeverageSlope:        big.NewInt(0),
	}
}

func mustInvest(poolID uuid.UUID, investor uuid.UUID, amount *big.Int, seq int64) *event.Invest {
	return &event.Invest{
		Meta:     meta(&poolID, seq, 2, initTs+1),
		Investor: investor,
		Amount:   amount,
	}
}

func mustDivest(poolID uuid.UUID, investor uuid.UUID, amountLP *big.Int, seq int64) *event.Divest {
	return &event.Divest{
		Meta:     meta(&poolID, seq, 3, initTs+2),
		Investor: investor,
		AmountLP: amountLP,
	}
}

// ============================================================================
// Test: pool lifecycle
// ============================================================================

func TestProcessCommand_CreateInvestDivest(t *testing.T) {
	tc := newTestCore(t)
	poolID := uuid.New()
	trader := uuid.New()
	investor := uuid.New()
	tc.bank.MintNormalized(investor, baseToken, n(1000))

	if err := tc.engine.ProcessCommand(mustCreatePool(poolID, trader, 0)); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if err := tc.engine.ProcessCommand(mustInvest(poolID, investor, n(1000), 1)); err != nil {
		t.Fatalf("Invest: %v", err)
	}
	if err := tc.engine.ProcessCommand(mustDivest(poolID, investor, n(400), 2)); err != nil {
		t.Fatalf("Divest: %v", err)
	}

	outputs := drainOutputs(tc.persistChan)
	if len(outputs) != 3 {
		t.Fatalf("persisted outputs: got %d, want 3", len(outputs))
	}

	l := tc.engine.Pool(poolID)
	if l == nil {
		t.Fatal("pool not registered")
	}
	if got := l.LPBalanceOf(investor); got.Cmp(n(600)) != 0 {
		t.Errorf("LP balance after divest: got %s, want %s", got, n(600))
	}
	if got := l.TotalSupply(); got.Cmp(n(600)) != 0 {
		t.Errorf("total supply: got %s, want %s", got, n(600))
	}

	// The invest batch carries deposit and mint operations.
	kinds := make(map[event.OpKind]int)
	for _, op := range outputs[1].Batch.Ops {
		kinds[op.Kind]++
	}
	if kinds[event.OpBaseDeposit] != 1 || kinds[event.OpLPMint] != 1 {
		t.Errorf("invest ops: got %v", kinds)
	}

	kinds = make(map[event.OpKind]int)
	for _, op := range outputs[2].Batch.Ops {
		kinds[op.Kind]++
	}
	if kinds[event.OpLPBurn] != 1 || kinds[event.OpBasePayout] != 1 {
		t.Errorf("divest ops: got %v", kinds)
	}
}

func TestProcessCommand_RejectedCommandEmitsNothing(t *testing.T) {
	tc := newTestCore(t)
	unknown := uuid.New()

	err := tc.engine.ProcessCommand(mustInvest(unknown, uuid.New(), n(100), 0))
	if err == nil {
		t.Fatal("invest into unknown pool must fail")
	}

	if got := drainOutputs(tc.persistChan); len(got) != 0 {
		t.Errorf("rejected command persisted %d outputs", len(got))
	}
	if got := tc.engine.GetSequence(); got != 0 {
		t.Errorf("sequence advanced on rejection: got %d", got)
	}
}

func TestProcessCommand_DivestCommissionBoundRejectsWholeCommand(t *testing.T) {
	tc := newTestCore(t)
	poolID := uuid.New()
	trader := uuid.New()
	investor := uuid.New()
	tc.bank.MintNormalized(investor, baseToken, n(1000))

	tc.bank.RegisterToken("WETH", 18)
	tc.oracle.SetPrice("WETH", baseToken, n(2000))
	tc.bank.MintNormalized(tc.oracle.Account, "WETH", n(1_000_000))

	if err := tc.engine.ProcessCommand(mustCreatePool(poolID, trader, 0)); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if err := tc.engine.ProcessCommand(mustInvest(poolID, investor, n(1000), 1)); err != nil {
		t.Fatalf("Invest: %v", err)
	}
	if err := tc.engine.ProcessCommand(&event.Exchange{
		Meta:   meta(&poolID, 2, 3, initTs+2),
		Caller: trader,
		From:   baseToken,
		To:     "WETH",
		Amount: n(500),
		Mode:   event.ExchangeExactIn,
	}); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	drainOutputs(tc.persistChan)

	// The position doubles, so the divest realizes a fee. A commission
	// bound the reward conversion cannot meet must reject the whole
	// command: no burn, no liquidation, no payout.
	tc.oracle.SetPrice("WETH", baseToken, n(4000))
	err := tc.engine.ProcessCommand(&event.Divest{
		Meta:             meta(&poolID, 3, 4, initTs+3),
		Investor:         investor,
		AmountLP:         n(700),
		MinCommissionOut: n(1000),
	})
	if err == nil {
		t.Fatal("unsatisfiable commission bound must reject the divest")
	}

	if got := drainOutputs(tc.persistChan); len(got) != 0 {
		t.Errorf("rejected divest persisted %d outputs", len(got))
	}
	if got := tc.engine.GetSequence(); got != 3 {
		t.Errorf("core sequence advanced on rejection: got %d, want 3", got)
	}
	if got := tc.bank.NormalizedBalance(investor, baseToken); got.Sign() != 0 {
		t.Errorf("investor wallet credited on rejection: %s", got)
	}
	wantWeth := new(big.Int).Div(n(1), big.NewInt(4))
	if got := tc.bank.NormalizedBalance(poolID, "WETH"); got.Cmp(wantWeth) != 0 {
		t.Errorf("pool position changed on rejection: got %s, want %s", got, wantWeth)
	}

	// The same divest with a satisfiable bound settles as quoted: value
	// 1050 against basis 700 leaves a 70 fee, 30% of it (21) converted
	// 1:1 to the reward token.
	if err := tc.engine.ProcessCommand(&event.Divest{
		Meta:             meta(&poolID, 4, 4, initTs+3),
		Investor:         investor,
		AmountLP:         n(700),
		MinCommissionOut: n(21),
	}); err != nil {
		t.Fatalf("Divest retry: %v", err)
	}
	outputs := drainOutputs(tc.persistChan)
	if len(outputs) != 1 {
		t.Fatalf("outputs after retry: got %d, want 1", len(outputs))
	}
	var reward *big.Int
	for _, op := range outputs[0].Batch.Ops {
		if op.Kind == event.OpCommissionReward {
			reward = op.Amount
		}
	}
	if reward == nil || reward.Cmp(n(21)) != 0 {
		t.Errorf("commission reward: got %v, want %s", reward, n(21))
	}
}

func TestProcessCommand_RebalanceEmitsBothPositionOps(t *testing.T) {
	tc := newTestCore(t)
	poolID := uuid.New()
	trader := uuid.New()
	investor := uuid.New()
	tc.bank.MintNormalized(investor, baseToken, n(4000))

	tc.bank.RegisterToken("WETH", 18)
	tc.bank.RegisterToken("WBTC", 8)
	tc.oracle.SetPrice("WETH", baseToken, n(2000))
	// 20 WETH per WBTC
	tc.oracle.SetPrice("WETH", "WBTC", new(big.Int).Div(n(1), big.NewInt(20)))
	tc.bank.MintNormalized(tc.oracle.Account, "WETH", n(1_000_000))
	tc.bank.MintNormalized(tc.oracle.Account, "WBTC", n(1_000_000))

	if err := tc.engine.ProcessCommand(mustCreatePool(poolID, trader, 0)); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if err := tc.engine.ProcessCommand(mustInvest(poolID, investor, n(4000), 1)); err != nil {
		t.Fatalf("Invest: %v", err)
	}
	if err := tc.engine.ProcessCommand(&event.Exchange{
		Meta:   meta(&poolID, 2, 3, initTs+2),
		Caller: trader,
		From:   baseToken,
		To:     "WETH",
		Amount: n(2000),
		Mode:   event.ExchangeExactIn,
	}); err != nil {
		t.Fatalf("Exchange into WETH: %v", err)
	}
	drainOutputs(tc.persistChan)

	if err := tc.engine.ProcessCommand(&event.Exchange{
		Meta:   meta(&poolID, 3, 4, initTs+3),
		Caller: trader,
		From:   "WETH",
		To:     "WBTC",
		Amount: n(1),
		Mode:   event.ExchangeExactIn,
	}); err != nil {
		t.Fatalf("Exchange WETH->WBTC: %v", err)
	}

	outputs := drainOutputs(tc.persistChan)
	if len(outputs) != 1 {
		t.Fatalf("outputs: got %d, want 1", len(outputs))
	}
	ops := outputs[0].Batch.Ops
	if len(ops) != 2 {
		t.Fatalf("rebalance ops: got %d, want 2", len(ops))
	}
	var liq, acq *event.Operation
	for i := range ops {
		switch ops[i].Kind {
		case event.OpPositionLiquidate:
			liq = &ops[i]
		case event.OpPositionAcquire:
			acq = &ops[i]
		}
	}
	if liq == nil || liq.Token != "WETH" || liq.Amount.Cmp(n(1)) != 0 {
		t.Errorf("liquidate op = %+v", liq)
	}
	wantOut := new(big.Int).Div(n(1), big.NewInt(20))
	if acq == nil || acq.Token != "WBTC" || acq.Amount.Cmp(wantOut) != 0 {
		t.Errorf("acquire op = %+v", acq)
	}
}

func TestProcessCommand_DuplicatePoolID(t *testing.T) {
	tc := newTestCore(t)
	poolID := uuid.New()

	if err := tc.engine.ProcessCommand(mustCreatePool(poolID, uuid.New(), 0)); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if err := tc.engine.ProcessCommand(mustCreatePool(poolID, uuid.New(), 1)); err == nil {
		t.Fatal("second CreatePool with same id must fail")
	}
}

// ============================================================================
// Test: idempotency
// ============================================================================

func TestProcessCommand_DuplicateIgnored(t *testing.T) {
	tc := newTestCore(t)
	poolID := uuid.New()
	cmd := mustCreatePool(poolID, uuid.New(), 0)

	if err := tc.engine.ProcessCommand(cmd); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Redelivery of the same command: acknowledged, not reapplied.
	if err := tc.engine.ProcessCommand(cmd); err != nil {
		t.Fatalf("redelivery must be silently acknowledged: %v", err)
	}

	if got := drainOutputs(tc.persistChan); len(got) != 1 {
		t.Errorf("outputs after redelivery: got %d, want 1", len(got))
	}
	if got := tc.engine.GetSequence(); got != 1 {
		t.Errorf("sequence after redelivery: got %d, want 1", got)
	}
}

// ============================================================================
// Test: source sequence validation
// ============================================================================

func TestProcessCommand_SequenceGap(t *testing.T) {
	tc := newTestCore(t)
	poolID := uuid.New()

	if err := tc.engine.ProcessCommand(mustCreatePool(poolID, uuid.New(), 0)); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	// Source sequence jumps from 1 to 5: gap.
	investor := uuid.New()
	tc.bank.MintNormalized(investor, baseToken, n(100))
	if err := tc.engine.ProcessCommand(mustInvest(poolID, investor, n(100), 5)); err == nil {
		t.Fatal("sequence gap must be rejected")
	}
}

func TestProcessCommand_PartitionsAreIndependent(t *testing.T) {
	tc := newTestCore(t)
	poolA := uuid.New()
	poolB := uuid.New()

	// Both pools and the governance partition each count from zero.
	if err := tc.engine.ProcessCommand(mustCreatePool(poolA, uuid.New(), 0)); err != nil {
		t.Fatalf("CreatePool A: %v", err)
	}
	if err := tc.engine.ProcessCommand(mustCreatePool(poolB, uuid.New(), 0)); err != nil {
		t.Fatalf("CreatePool B: %v", err)
	}

	setAssets := &event.SetGovAssets{
		Meta:  meta(nil, 0, 1, initTs),
		Token: govToken,
	}
	if err := tc.engine.ProcessCommand(setAssets); err != nil {
		t.Fatalf("SetGovAssets: %v", err)
	}
}

// ============================================================================
// Test: hash chain
// ============================================================================

func TestProcessCommand_DeterministicHashChain(t *testing.T) {
	poolID := uuid.New()
	trader := uuid.New()
	investor := uuid.New()

	run := func() ([32]byte, []core.CoreOutput) {
		tc := newTestCore(t)
		tc.bank.MintNormalized(investor, baseToken, n(1000))
		commands := []event.Command{
			mustCreatePool(poolID, trader, 0),
			mustInvest(poolID, investor, n(1000), 1),
			mustDivest(poolID, investor, n(250), 2),
		}
		for i, cmd := range commands {
			if err := tc.engine.ProcessCommand(cmd); err != nil {
				t.Fatalf("command %d: %v", i, err)
			}
		}
		return tc.engine.GetStateHash(), drainOutputs(tc.persistChan)
	}

	hash1, outputs1 := run()
	hash2, outputs2 := run()

	if hash1 != hash2 {
		t.Errorf("state hash differs across identical runs: %x vs %x", hash1, hash2)
	}
	for i := range outputs1 {
		if outputs1[i].Envelope.StateHash != outputs2[i].Envelope.StateHash {
			t.Errorf("envelope %d state hash differs", i)
		}
	}
}

func TestProcessCommand_EnvelopeChainsHashes(t *testing.T) {
	tc := newTestCore(t)
	poolID := uuid.New()
	investor := uuid.New()
	tc.bank.MintNormalized(investor, baseToken, n(500))

	if err := tc.engine.ProcessCommand(mustCreatePool(poolID, uuid.New(), 0)); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if err := tc.engine.ProcessCommand(mustInvest(poolID, investor, n(500), 1)); err != nil {
		t.Fatalf("Invest: %v", err)
	}

	outputs := drainOutputs(tc.persistChan)
	if len(outputs) != 2 {
		t.Fatalf("outputs: got %d, want 2", len(outputs))
	}

	first := outputs[0].Envelope
	second := outputs[1].Envelope
	if first.Sequence != 0 || second.Sequence != 1 {
		t.Errorf("sequences: got %d, %d", first.Sequence, second.Sequence)
	}
	if second.PrevHash != first.StateHash {
		t.Error("second envelope does not chain to the first")
	}
	if first.PoolID == nil || *first.PoolID != poolID {
		t.Errorf("envelope pool id: got %v", first.PoolID)
	}
	if first.CommandType != event.CommandTypeCreatePool {
		t.Errorf("envelope command type: got %v", first.CommandType)
	}
}

// ============================================================================
// Test: emission
// ============================================================================

func TestProcessCommand_ProjectionDropDoesNotBlock(t *testing.T) {
	tc := newTestCore(t)

	// Rebuild the engine with a projection channel of capacity 1; the
	// core must keep applying commands when projections lag.
	tinyProjection := make(chan core.CoreOutput, 1)
	fees, err := commission.NewEngine(commission.Config{
		RewardToken:         rewardToken,
		PlatformPercentage:  pct(30),
		InsurancePercentage: pct(30),
		TreasuryPercentage:  pct(30),
		DividendsPercentage: pct(40),
	}, tc.sinks)
	if err != nil {
		t.Fatalf("commission.NewEngine: %v", err)
	}
	engine := core.NewEngine(
		0,
		pool.Config{Assets: tc.bank, Oracle: tc.oracle, OracleAccount: tc.oracle.Account},
		tc.keeper,
		fees,
		tc.persistChan, tinyProjection,
		nil, nil,
	)

	for i := int64(0); i < 5; i++ {
		if err := engine.ProcessCommand(mustCreatePool(uuid.New(), uuid.New(), 0)); err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
	}

	if got := len(drainOutputs(tc.persistChan)); got != 5 {
		t.Errorf("persist outputs: got %d, want 5", got)
	}
	if got := len(drainOutputs(tinyProjection)); got != 1 {
		t.Errorf("projection outputs: got %d, want 1 (rest dropped)", got)
	}
}

// ============================================================================
// Test: governance flow
// ============================================================================

func TestProcessCommand_GovernanceFlow(t *testing.T) {
	tc := newTestCore(t)
	voter := uuid.New()
	delegatee := uuid.New()
	tc.bank.MintNormalized(voter, govToken, n(100))

	commands := []event.Command{
		&event.SetGovAssets{Meta: meta(nil, 0, 1, initTs), Token: govToken},
		&event.GovDeposit{Meta: meta(nil, 1, 2, initTs+1), Account: voter, Tokens: n(100)},
		&event.Delegate{Meta: meta(nil, 2, 3, initTs+2), From: voter, To: delegatee, Tokens: n(40)},
		&event.VoteLock{Meta: meta(nil, 3, 4, initTs+3), Voter: voter, Proposal: 7, Tokens: n(30)},
	}
	for i, cmd := range commands {
		if err := tc.engine.ProcessCommand(cmd); err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
	}

	u := tc.keeper.User(voter)
	if u == nil {
		t.Fatal("voter record missing")
	}
	if u.Owned.Tokens.Cmp(n(60)) != 0 {
		t.Errorf("owned after delegation: got %s, want %s", u.Owned.Tokens, n(60))
	}
	if u.AllDelegatedTokens.Cmp(n(40)) != 0 {
		t.Errorf("delegated: got %s, want %s", u.AllDelegatedTokens, n(40))
	}
	if u.MaxLocked.Cmp(n(30)) != 0 {
		t.Errorf("max locked: got %s, want %s", u.MaxLocked, n(30))
	}

	outputs := drainOutputs(tc.persistChan)
	if len(outputs) != 4 {
		t.Fatalf("outputs: got %d, want 4", len(outputs))
	}
	if outputs[2].Batch.Ops[0].Kind != event.OpDelegate {
		t.Errorf("delegate op kind: got %s", outputs[2].Batch.Ops[0].Kind)
	}
	for _, out := range outputs {
		if out.Envelope.PoolID != nil {
			t.Error("governance envelope must carry no pool id")
		}
	}
}

// ============================================================================
// Test: snapshot round trip
// ============================================================================

func TestSnapshot_RoundTrip(t *testing.T) {
	tc := newTestCore(t)
	poolID := uuid.New()
	trader := uuid.New()
	investor := uuid.New()
	voter := uuid.New()
	tc.bank.MintNormalized(investor, baseToken, n(1000))
	tc.bank.MintNormalized(voter, govToken, n(50))

	commands := []event.Command{
		mustCreatePool(poolID, trader, 0),
		mustInvest(poolID, investor, n(1000), 1),
		&event.SetGovAssets{Meta: meta(nil, 0, 1, initTs), Token: govToken},
		&event.GovDeposit{Meta: meta(nil, 1, 2, initTs+1), Account: voter, Tokens: n(50)},
	}
	for i, cmd := range commands {
		if err := tc.engine.ProcessCommand(cmd); err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
	}
	drainOutputs(tc.persistChan)

	snap := tc.engine.CreateSnapshotState()
	if snap.Sequence != 3 {
		t.Errorf("snapshot sequence: got %d, want 3", snap.Sequence)
	}

	// A fresh engine over the same ports restores to an identical state.
	restoredPersist := make(chan core.CoreOutput, 1024)
	restoredProjection := make(chan core.CoreOutput, 1024)
	fees, err := commission.NewEngine(commission.Config{
		RewardToken:         rewardToken,
		PlatformPercentage:  pct(30),
		InsurancePercentage: pct(30),
		TreasuryPercentage:  pct(30),
		DividendsPercentage: pct(40),
	}, tc.sinks)
	if err != nil {
		t.Fatalf("commission.NewEngine: %v", err)
	}
	keeper := gov.NewKeeper(gov.Config{
		LedgerAccount:  uuid.New(),
		TreasurySource: uuid.New(),
		Tokens:         tc.bank,
		Nfts:           testutil.NewNftRegistry(),
	})
	engine := core.NewEngine(
		0,
		pool.Config{Assets: tc.bank, Oracle: tc.oracle, OracleAccount: tc.oracle.Account},
		keeper,
		fees,
		restoredPersist, restoredProjection,
		nil, nil,
	)
	if err := engine.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}

	if engine.GetSequence() != 4 {
		t.Errorf("restored sequence: got %d, want 4", engine.GetSequence())
	}
	if engine.GetStateHash() != tc.engine.GetStateHash() {
		t.Error("restored chain tip differs")
	}

	l := engine.Pool(poolID)
	if l == nil {
		t.Fatal("pool missing after restore")
	}
	if got := l.LPBalanceOf(investor); got.Cmp(n(1000)) != 0 {
		t.Errorf("restored LP balance: got %s, want %s", got, n(1000))
	}
	u := keeper.User(voter)
	if u == nil || u.Owned.Tokens.Cmp(n(50)) != 0 {
		t.Error("restored voter record wrong")
	}

	// A redelivered command from before the snapshot is still recognized
	// as a duplicate via the warmed LRU.
	engine.WarmLRU(snap.IdempotencyKeys)
	if err := engine.ProcessCommand(commands[3]); err != nil {
		t.Fatalf("redelivery after restore must be acknowledged: %v", err)
	}
	if got := drainOutputs(restoredPersist); len(got) != 0 {
		t.Errorf("redelivery after restore produced %d outputs", len(got))
	}
}
