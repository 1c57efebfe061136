package pool

import (
	"PoolCore/internal/event"
	"PoolCore/internal/leverage"
	fpmath "PoolCore/internal/math"
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"
)

// Ledger owns one trader pool: parameters, LP supply and balances,
// per-investor accounting records, and open-position membership. No
// other component mutates these. All amounts are normalized 18-decimal
// units; native conversion happens at the asset-port boundary.
type Ledger struct {
	params           Parameters
	admins           map[uuid.UUID]bool
	privateInvestors map[uuid.UUID]bool

	totalSupply *big.Int
	lpBalances  map[uuid.UUID]*big.Int
	investors   map[uuid.UUID]*InvestorInfo
	positions   map[string]bool

	// LP minted per holder in the current block, excluded from the
	// divestable balance until the next block
	blockMints map[uuid.UUID]*BlockMint

	assets        AssetPort
	oracle        PriceOracle
	oracleAccount uuid.UUID
	strategy      AllocationStrategy
	guard         *leverage.Guard

	checkSelfInvest bool

	// lazy one-time oracle allowance grants, per token
	approved map[string]bool

	// reentrancy flag; ports must not call back into the ledger
	busy bool
}

// BlockMint records LP minted to one holder within one block.
type BlockMint struct {
	Holder uuid.UUID
	Block  int64
	Amount *big.Int
}

// Config wires the ledger's external collaborators.
type Config struct {
	Assets        AssetPort
	Oracle        PriceOracle
	OracleAccount uuid.UUID

	// Whether trader self-investment is leverage-checked
	LeverageCheckSelfInvest bool
}

func NewLedger(params Parameters, cfg Config) (*Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	dec, ok := cfg.Assets.Decimals(params.BaseToken)
	if !ok {
		return nil, fmt.Errorf("%w: base token %s", ErrUnknownToken, params.BaseToken)
	}
	params.BaseDecimals = dec

	var strategy AllocationStrategy = ActiveAllocation{}
	if params.Passive {
		strategy = PassiveAllocation{}
	}

	l := &Ledger{
		params:           params,
		admins:           map[uuid.UUID]bool{params.Trader: true},
		privateInvestors: make(map[uuid.UUID]bool),
		totalSupply:      big.NewInt(0),
		lpBalances:       make(map[uuid.UUID]*big.Int),
		investors:        make(map[uuid.UUID]*InvestorInfo),
		positions:        make(map[string]bool),
		blockMints:       make(map[uuid.UUID]*BlockMint),
		assets:           cfg.Assets,
		oracle:           cfg.Oracle,
		oracleAccount:    cfg.OracleAccount,
		strategy:         strategy,
		guard:            leverage.NewGuard(params.LeverageThreshold, params.LeverageSlope),
		checkSelfInvest:  cfg.LeverageCheckSelfInvest,
		approved:         make(map[string]bool),
	}
	return l, nil
}

// Params returns a copy of the pool parameters.
func (l *Ledger) Params() Parameters { return l.params }

// IsTrader reports whether the account is the pool's trader.
func (l *Ledger) IsTrader(account uuid.UUID) bool { return account == l.params.Trader }

// IsAdmin reports whether the account is the trader or a trader-admin.
func (l *Ledger) IsAdmin(account uuid.UUID) bool { return l.admins[account] }

func (l *Ledger) enter() error {
	if l.busy {
		return ErrReentrantCall
	}
	l.busy = true
	return nil
}

func (l *Ledger) exit() { l.busy = false }

// ExchangeFill is one realized leg against the oracle.
type ExchangeFill struct {
	Token    string
	Spent    *big.Int
	Received *big.Int
}

// InvestResult reports what an investment did.
type InvestResult struct {
	MintedLP     *big.Int
	Acquisitions []ExchangeFill
}

// GetInvestTokens is the pure preview of invest: for the given base
// amount it returns the planned per-position acquisitions. No side
// effects beyond oracle quotes.
func (l *Ledger) GetInvestTokens(amount *big.Int) ([]Acquisition, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	v, err := l.Valuation()
	if err != nil {
		return nil, err
	}
	return l.strategy.ComputeAcquisitions(v, amount), nil
}

// Invest deposits `amount` of base token and mints LP against a fresh
// valuation. Active pools deploy the deposit pro-rata into open
// positions, each leg bounded by the caller's per-position minimum.
func (l *Ledger) Invest(investor uuid.UUID, amount *big.Int, minPositionsOut []event.PositionBound, block, ts int64) (*InvestResult, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.exit()

	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	isTrader := l.IsTrader(investor)
	if !isTrader {
		if l.params.MinInvest.Sign() > 0 && amount.Cmp(l.params.MinInvest) < 0 {
			return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinInvest, amount, l.params.MinInvest)
		}
		if l.params.Private && !l.IsAdmin(investor) && !l.privateInvestors[investor] {
			return nil, fmt.Errorf("%w: %s", ErrPrivatePool, investor)
		}
		if l.investors[investor] == nil && l.params.InvestorLimit > 0 &&
			len(l.investors) >= l.params.InvestorLimit {
			return nil, fmt.Errorf("%w: limit %d", ErrInvestorLimit, l.params.InvestorLimit)
		}
	}

	// Valuation must be read fresh here and used for both the mint
	// ratio and the acquisition split.
	v, err := l.Valuation()
	if err != nil {
		return nil, err
	}

	minted := fpmath.Clone(amount)
	if l.totalSupply.Sign() > 0 && v.TotalBase.Sign() > 0 {
		minted = fpmath.MulDiv(amount, l.totalSupply, v.TotalBase, fpmath.RoundDown)
	}

	if l.params.TotalLPEmission.Sign() > 0 {
		after := new(big.Int).Add(l.totalSupply, minted)
		if after.Cmp(l.params.TotalLPEmission) > 0 {
			return nil, fmt.Errorf("%w: %s > %s", ErrEmissionCap, after, l.params.TotalLPEmission)
		}
	}

	acqs := l.strategy.ComputeAcquisitions(v, amount)
	if isTrader && l.checkSelfInvest && len(acqs) > 0 {
		spend := big.NewInt(0)
		for _, a := range acqs {
			spend.Add(spend, a.BaseSpend)
		}
		if err := l.guard.Check(l.traderStake(v), v.PositionsValue, spend); err != nil {
			return nil, err
		}
	}

	// Every acquisition leg is priced against its bound before the
	// deposit settles, so a failing bound rejects the invest with no
	// balance moved.
	bounds := boundMap(minPositionsOut)
	for _, acq := range acqs {
		quoted, err := l.oracle.GetPriceOut(l.params.BaseToken, acq.Token, acq.BaseSpend, nil)
		if err != nil {
			return nil, fmt.Errorf("quoting %s: %w", acq.Token, err)
		}
		if min := bounds[acq.Token]; min != nil && quoted.Cmp(min) < 0 {
			return nil, fmt.Errorf("acquiring %s: %w: out %s below min %s", acq.Token, ErrSlippage, quoted, min)
		}
	}

	native := fpmath.Denormalize(amount, l.params.BaseDecimals)
	if err := l.assets.Transfer(investor, l.params.PoolID, l.params.BaseToken, native); err != nil {
		return nil, fmt.Errorf("base deposit: %w", err)
	}

	fills := make([]ExchangeFill, 0, len(acqs))
	for _, acq := range acqs {
		if err := l.ensureOracleAllowance(l.params.BaseToken); err != nil {
			return nil, err
		}
		received, err := l.oracle.ExchangeExactIn(
			l.params.PoolID, l.params.BaseToken, acq.Token,
			acq.BaseSpend, bounds[acq.Token], nil)
		if err != nil {
			return nil, fmt.Errorf("acquiring %s: %w", acq.Token, err)
		}
		fills = append(fills, ExchangeFill{Token: acq.Token, Spent: acq.BaseSpend, Received: received})
	}

	// All external calls are done; the remaining writes cannot fail.
	l.mint(investor, minted, block)

	if !isTrader {
		rec := l.investors[investor]
		if rec == nil {
			rec = &InvestorInfo{
				Investor:              investor,
				InvestedBase:          big.NewInt(0),
				CommissionUnlockEpoch: fpmath.NextCommissionEpoch(ts, l.params.CommissionInitTimestamp, l.params.CommissionPeriod),
			}
			l.investors[investor] = rec
		}
		rec.InvestedBase.Add(rec.InvestedBase, amount)
	}

	return &InvestResult{MintedLP: minted, Acquisitions: fills}, nil
}

// DivestResult reports what a divestment did.
type DivestResult struct {
	// Pro-rata base share before liquidations
	BaseShare *big.Int

	// Per-position liquidations back to base
	Liquidations []ExchangeFill

	// Total base-equivalent value of the burned LP
	Value *big.Int

	// Performance fee withheld, base and LP denominated
	FeeBase *big.Int
	FeeLP   *big.Int

	// Base actually paid to the caller (Value - FeeBase)
	Payout *big.Int
}

// Divest burns `amountLP` for the pro-rata share of the pool. The trader
// may only divest with zero open positions and pays no commission; an
// investor's share of every position is liquidated back to base and a
// performance fee is taken against their own cost basis.
func (l *Ledger) Divest(caller uuid.UUID, amountLP *big.Int, minPositionsOut []event.PositionBound, block int64) (*DivestResult, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.exit()

	balance, err := l.divestChecks(caller, amountLP, block)
	if err != nil {
		return nil, err
	}

	if l.IsTrader(caller) {
		return l.divestTrader(caller, amountLP)
	}
	plan, err := l.planDivestInvestor(caller, amountLP, balance, minPositionsOut)
	if err != nil {
		return nil, err
	}
	return l.applyDivestInvestor(caller, amountLP, plan)
}

// QuoteDivest prices a divest against current oracle rates without
// touching any state. It runs the same admission checks and fee math as
// Divest, so a quote that succeeds settles exactly as priced within the
// same block.
func (l *Ledger) QuoteDivest(caller uuid.UUID, amountLP *big.Int, minPositionsOut []event.PositionBound, block int64) (*DivestResult, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.exit()

	balance, err := l.divestChecks(caller, amountLP, block)
	if err != nil {
		return nil, err
	}

	if l.IsTrader(caller) {
		if len(l.positions) > 0 {
			return nil, fmt.Errorf("%w: %d open", ErrOpenPositions, len(l.positions))
		}
		payout := fpmath.MulDiv(l.baseBalance(), amountLP, l.totalSupply, fpmath.RoundDown)
		return &DivestResult{
			BaseShare: payout,
			Value:     payout,
			FeeBase:   big.NewInt(0),
			FeeLP:     big.NewInt(0),
			Payout:    payout,
		}, nil
	}

	plan, err := l.planDivestInvestor(caller, amountLP, balance, minPositionsOut)
	if err != nil {
		return nil, err
	}
	return plan.result, nil
}

func (l *Ledger) divestChecks(caller uuid.UUID, amountLP *big.Int, block int64) (*big.Int, error) {
	if amountLP == nil || amountLP.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	balance := l.LPBalanceOf(caller)
	if amountLP.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrInsufficientLP, amountLP, balance)
	}
	divestable := new(big.Int).Sub(balance, l.sameBlockMinted(caller, block))
	if amountLP.Cmp(divestable) > 0 {
		return nil, fmt.Errorf("%w: divestable %s of %s", ErrSameBlockDivest, divestable, balance)
	}
	return balance, nil
}

// divestTrader pays out base only; capital deployed in positions cannot
// be cashed out by the trader.
func (l *Ledger) divestTrader(trader uuid.UUID, amountLP *big.Int) (*DivestResult, error) {
	if len(l.positions) > 0 {
		return nil, fmt.Errorf("%w: %d open", ErrOpenPositions, len(l.positions))
	}

	payout := fpmath.MulDiv(l.baseBalance(), amountLP, l.totalSupply, fpmath.RoundDown)

	l.burn(trader, amountLP)

	native := fpmath.Denormalize(payout, l.params.BaseDecimals)
	if err := l.assets.Transfer(l.params.PoolID, trader, l.params.BaseToken, native); err != nil {
		return nil, fmt.Errorf("base payout: %w", err)
	}

	return &DivestResult{
		BaseShare: payout,
		Value:     payout,
		FeeBase:   big.NewInt(0),
		FeeLP:     big.NewInt(0),
		Payout:    payout,
	}, nil
}

// divestPlan is a fully priced investor divest. Every number comes from
// oracle views, so applying the plan settles exactly as quoted.
type divestPlan struct {
	result       *DivestResult
	basisPortion *big.Int
}

// planDivestInvestor prices the divest without mutating anything. All
// per-position bounds are checked here; apply cannot fail on a bound.
func (l *Ledger) planDivestInvestor(investor uuid.UUID, amountLP, balance *big.Int, minPositionsOut []event.PositionBound) (*divestPlan, error) {
	rec := l.investors[investor]
	if rec == nil {
		return nil, fmt.Errorf("%w: no investor record for %s", ErrInsufficientLP, investor)
	}

	// Base share is taken against the pre-liquidation balance; the
	// liquidation proceeds land on top of it.
	baseShare := fpmath.MulDiv(l.baseBalance(), amountLP, l.totalSupply, fpmath.RoundDown)

	bounds := boundMap(minPositionsOut)
	value := fpmath.Clone(baseShare)
	fills := make([]ExchangeFill, 0, len(l.positions))
	for _, token := range l.OpenPositions() {
		posBal, err := l.positionBalance(token)
		if err != nil {
			return nil, err
		}
		sell := fpmath.MulDiv(posBal, amountLP, l.totalSupply, fpmath.RoundDown)
		if sell.Sign() == 0 {
			continue
		}
		quoted, err := l.oracle.GetPriceOut(token, l.params.BaseToken, sell, nil)
		if err != nil {
			return nil, fmt.Errorf("quoting %s: %w", token, err)
		}
		if min := bounds[token]; min != nil && quoted.Cmp(min) < 0 {
			return nil, fmt.Errorf("liquidating %s: %w: out %s below min %s", token, ErrSlippage, quoted, min)
		}
		fills = append(fills, ExchangeFill{Token: token, Spent: sell, Received: quoted})
		value.Add(value, quoted)
	}

	// Performance fee on the realized portion, against this investor's
	// own cost basis. The LP equivalent keeps the full-precision
	// intermediate product.
	basisPortion := fpmath.MulDiv(rec.InvestedBase, amountLP, balance, fpmath.RoundDown)
	feeBase := big.NewInt(0)
	feeLP := big.NewInt(0)
	if value.Cmp(basisPortion) > 0 {
		profit := new(big.Int).Sub(value, basisPortion)
		feeBase = fpmath.Percentage(profit, l.params.CommissionPercentage)
		if feeBase.Sign() > 0 {
			feeLP = fpmath.MulDiv(amountLP, feeBase, value, fpmath.RoundDown)
		}
	}

	return &divestPlan{
		result: &DivestResult{
			BaseShare:    baseShare,
			Liquidations: fills,
			Value:        value,
			FeeBase:      feeBase,
			FeeLP:        feeLP,
			Payout:       new(big.Int).Sub(value, feeBase),
		},
		basisPortion: basisPortion,
	}, nil
}

func (l *Ledger) applyDivestInvestor(investor uuid.UUID, amountLP *big.Int, plan *divestPlan) (*DivestResult, error) {
	rec := l.investors[investor]

	for _, fill := range plan.result.Liquidations {
		if err := l.ensureOracleAllowance(fill.Token); err != nil {
			return nil, err
		}
		// The quoted amount doubles as the bound: a settlement that
		// drifts from the plan is rejected.
		if _, err := l.oracle.ExchangeExactIn(
			l.params.PoolID, fill.Token, l.params.BaseToken, fill.Spent, fill.Received, nil); err != nil {
			return nil, fmt.Errorf("liquidating %s: %w", fill.Token, err)
		}
		if remaining, err := l.positionBalance(fill.Token); err == nil && remaining.Sign() == 0 {
			delete(l.positions, fill.Token)
		}
	}

	l.burn(investor, amountLP)
	rec.InvestedBase.Sub(rec.InvestedBase, plan.basisPortion)
	if rec.InvestedBase.Sign() < 0 {
		rec.InvestedBase.SetInt64(0)
	}
	if l.LPBalanceOf(investor).Sign() == 0 {
		delete(l.investors, investor)
	}

	native := fpmath.Denormalize(plan.result.Payout, l.params.BaseDecimals)
	if err := l.assets.Transfer(l.params.PoolID, investor, l.params.BaseToken, native); err != nil {
		return nil, fmt.Errorf("base payout: %w", err)
	}

	return plan.result, nil
}

// ExchangeResult reports a settled rebalance.
type ExchangeResult struct {
	From      string
	To        string
	AmountIn  *big.Int
	AmountOut *big.Int
	Opened    bool
	Closed    bool
}

// Exchange rebalances between base and a position, admin-only. The
// source must be base or an open position. Base-to-position trades are
// leverage-checked pre-trade on their base-equivalent magnitude;
// exposure-reducing trades never are.
func (l *Ledger) Exchange(caller uuid.UUID, from, to string, amount, bound *big.Int, mode event.ExchangeMode, route []string) (*ExchangeResult, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.exit()

	if !l.IsAdmin(caller) {
		return nil, fmt.Errorf("%w: %s", ErrNotAdmin, caller)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if from == to {
		return nil, fmt.Errorf("%w: %s", ErrSameToken, from)
	}
	if from != l.params.BaseToken && !l.positions[from] {
		return nil, fmt.Errorf("%w: %s", ErrNotOpenPosition, from)
	}
	if _, ok := l.assets.Decimals(to); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, to)
	}

	if from == l.params.BaseToken {
		baseMagnitude := amount
		if mode == event.ExchangeExactOut {
			quoted, err := l.oracle.GetPriceIn(from, to, amount, route)
			if err != nil {
				return nil, fmt.Errorf("quoting exposure: %w", err)
			}
			baseMagnitude = quoted
		}
		v, err := l.Valuation()
		if err != nil {
			return nil, err
		}
		if err := l.guard.Check(l.traderStake(v), v.PositionsValue, baseMagnitude); err != nil {
			return nil, err
		}
	}

	if err := l.ensureOracleAllowance(from); err != nil {
		return nil, err
	}
	if err := l.ensureOracleAllowance(to); err != nil {
		return nil, err
	}

	var amountIn, amountOut *big.Int
	var err error
	switch mode {
	case event.ExchangeExactIn:
		amountIn = fpmath.Clone(amount)
		amountOut, err = l.oracle.ExchangeExactIn(l.params.PoolID, from, to, amount, bound, route)
	case event.ExchangeExactOut:
		amountOut = fpmath.Clone(amount)
		amountIn, err = l.oracle.ExchangeExactOut(l.params.PoolID, from, to, amount, bound, route)
	default:
		return nil, fmt.Errorf("unknown exchange mode %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("exchange %s->%s: %w", from, to, err)
	}

	result := &ExchangeResult{From: from, To: to, AmountIn: amountIn, AmountOut: amountOut}

	if to != l.params.BaseToken && !l.positions[to] && amountOut.Sign() > 0 {
		l.positions[to] = true
		result.Opened = true
	}
	if from != l.params.BaseToken {
		if remaining, err := l.positionBalance(from); err == nil && remaining.Sign() == 0 {
			delete(l.positions, from)
			result.Closed = true
		}
	}

	return result, nil
}

// TransferResult reports the basis bookkeeping of an LP transfer.
type TransferResult struct {
	// Cost basis credited to the receiver
	BasisMoved *big.Int

	// Same-block minted amount carried to the receiver
	GuardCarried *big.Int

	NewInvestor   bool
	SenderCleared bool
}

// TransferLP moves LP between holders with symmetric cost-basis
// bookkeeping: the sender's basis is peeled off pro-rata and credited to
// the receiver. Shares sent by the trader arrive as newly-earned basis
// at their current base-equivalent value, so an in-kind reward is not
// taxed again. The same-block mint mark travels with the shares so a
// transfer cannot launder freshly minted LP into a divestable balance.
func (l *Ledger) TransferLP(from, to uuid.UUID, amount *big.Int, block, ts int64) (*TransferResult, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.exit()

	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if from == to {
		return nil, fmt.Errorf("cannot transfer LP to self")
	}

	balance := l.LPBalanceOf(from)
	if amount.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrInsufficientLP, amount, balance)
	}

	var basis *big.Int
	if l.IsTrader(from) {
		// In-kind reward: the receiver's basis is the current value of
		// the shares, not the trader's (nonexistent) cost basis.
		if l.totalSupply.Sign() > 0 {
			v, err := l.Valuation()
			if err != nil {
				return nil, err
			}
			basis = fpmath.MulDiv(amount, v.TotalBase, l.totalSupply, fpmath.RoundDown)
		} else {
			basis = big.NewInt(0)
		}
	} else {
		rec := l.investors[from]
		if rec == nil {
			return nil, fmt.Errorf("no investor record for sender %s", from)
		}
		basis = fpmath.MulDiv(rec.InvestedBase, amount, balance, fpmath.RoundDown)
		rec.InvestedBase.Sub(rec.InvestedBase, basis)
	}

	l.lpBalances[from] = new(big.Int).Sub(balance, amount)
	toBal := l.LPBalanceOf(to)
	l.lpBalances[to] = new(big.Int).Add(toBal, amount)

	carried := l.carryBlockMint(from, to, amount, block)

	result := &TransferResult{BasisMoved: basis, GuardCarried: carried}

	if !l.IsTrader(to) {
		rec := l.investors[to]
		if rec == nil {
			rec = &InvestorInfo{
				Investor:              to,
				InvestedBase:          big.NewInt(0),
				CommissionUnlockEpoch: fpmath.NextCommissionEpoch(ts, l.params.CommissionInitTimestamp, l.params.CommissionPeriod),
			}
			l.investors[to] = rec
			result.NewInvestor = true
		}
		rec.InvestedBase.Add(rec.InvestedBase, basis)
	}

	if l.lpBalances[from].Sign() == 0 {
		delete(l.lpBalances, from)
		if l.investors[from] != nil {
			delete(l.investors, from)
			result.SenderCleared = true
		}
	}

	return result, nil
}

// traderStake is the trader's own base-value share of the pool.
func (l *Ledger) traderStake(v *Valuation) *big.Int {
	if l.totalSupply.Sign() == 0 {
		return big.NewInt(0)
	}
	return fpmath.MulDiv(l.LPBalanceOf(l.params.Trader), v.TotalBase, l.totalSupply, fpmath.RoundDown)
}

func (l *Ledger) ensureOracleAllowance(token string) error {
	if l.approved[token] {
		return nil
	}
	if err := l.assets.Approve(l.params.PoolID, l.oracleAccount, token, maxAllowance); err != nil {
		return fmt.Errorf("approving oracle for %s: %w", token, err)
	}
	l.approved[token] = true
	return nil
}

func (l *Ledger) mint(account uuid.UUID, amount *big.Int, block int64) {
	bal := l.LPBalanceOf(account)
	l.lpBalances[account] = new(big.Int).Add(bal, amount)
	l.totalSupply.Add(l.totalSupply, amount)

	bm := l.blockMints[account]
	if bm == nil || bm.Block != block {
		bm = &BlockMint{Holder: account, Block: block, Amount: big.NewInt(0)}
		l.blockMints[account] = bm
	}
	bm.Amount.Add(bm.Amount, amount)
}

func (l *Ledger) burn(account uuid.UUID, amount *big.Int) {
	bal := l.LPBalanceOf(account)
	l.lpBalances[account] = new(big.Int).Sub(bal, amount)
	if l.lpBalances[account].Sign() == 0 {
		delete(l.lpBalances, account)
	}
	l.totalSupply.Sub(l.totalSupply, amount)
}

// sameBlockMinted returns the LP minted to the holder in this block.
func (l *Ledger) sameBlockMinted(account uuid.UUID, block int64) *big.Int {
	bm := l.blockMints[account]
	if bm == nil || bm.Block != block {
		return big.NewInt(0)
	}
	return bm.Amount
}

// carryBlockMint moves up to `amount` of the sender's same-block mint
// mark onto the receiver.
func (l *Ledger) carryBlockMint(from, to uuid.UUID, amount *big.Int, block int64) *big.Int {
	marked := l.sameBlockMinted(from, block)
	if marked.Sign() == 0 {
		return big.NewInt(0)
	}
	carried := fpmath.Clone(fpmath.Min(marked, amount))

	fromMark := l.blockMints[from]
	fromMark.Amount.Sub(fromMark.Amount, carried)
	if fromMark.Amount.Sign() == 0 {
		delete(l.blockMints, from)
	}

	toMark := l.blockMints[to]
	if toMark == nil || toMark.Block != block {
		toMark = &BlockMint{Holder: to, Block: block, Amount: big.NewInt(0)}
		l.blockMints[to] = toMark
	}
	toMark.Amount.Add(toMark.Amount, carried)
	return carried
}

// LPBalanceOf returns the holder's LP balance (zero if none).
func (l *Ledger) LPBalanceOf(account uuid.UUID) *big.Int {
	bal := l.lpBalances[account]
	if bal == nil {
		return big.NewInt(0)
	}
	return bal
}

// TotalSupply returns the current LP supply.
func (l *Ledger) TotalSupply() *big.Int { return l.totalSupply }

// OpenPositions returns the open-position tokens in sorted order.
func (l *Ledger) OpenPositions() []string {
	tokens := make([]string, 0, len(l.positions))
	for t := range l.positions {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// MintTo mints LP outside the invest path (commission distribution).
func (l *Ledger) MintTo(account uuid.UUID, amount *big.Int, block int64) error {
	if l.params.TotalLPEmission.Sign() > 0 {
		after := new(big.Int).Add(l.totalSupply, amount)
		if after.Cmp(l.params.TotalLPEmission) > 0 {
			return fmt.Errorf("%w: %s > %s", ErrEmissionCap, after, l.params.TotalLPEmission)
		}
	}
	l.mint(account, amount, block)
	return nil
}

// BurnFrom burns LP outside the divest path (commission extraction).
func (l *Ledger) BurnFrom(account uuid.UUID, amount *big.Int) error {
	bal := l.LPBalanceOf(account)
	if amount.Cmp(bal) > 0 {
		return fmt.Errorf("%w: burn %s > balance %s", ErrInsufficientLP, amount, bal)
	}
	l.burn(account, amount)
	return nil
}

// PayOutBase transfers normalized base from the pool to an account.
func (l *Ledger) PayOutBase(to uuid.UUID, amount *big.Int) error {
	native := fpmath.Denormalize(amount, l.params.BaseDecimals)
	return l.assets.Transfer(l.params.PoolID, to, l.params.BaseToken, native)
}

// PayOutToken transfers a normalized amount of any registered token from
// the pool to an account.
func (l *Ledger) PayOutToken(to uuid.UUID, token string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	dec, ok := l.assets.Decimals(token)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	native := fpmath.Denormalize(amount, dec)
	return l.assets.Transfer(l.params.PoolID, to, token, native)
}

// QuoteBaseForReward prices a base-to-reward conversion without
// settling it.
func (l *Ledger) QuoteBaseForReward(rewardToken string, amount *big.Int) (*big.Int, error) {
	return l.oracle.GetPriceOut(l.params.BaseToken, rewardToken, amount, nil)
}

// ExchangeBaseForReward converts pool-held base into the reward token
// via the oracle, delivering to the given account.
func (l *Ledger) ExchangeBaseForReward(rewardToken string, amount, minOut *big.Int) (*big.Int, error) {
	if err := l.ensureOracleAllowance(l.params.BaseToken); err != nil {
		return nil, err
	}
	return l.oracle.ExchangeExactIn(l.params.PoolID, l.params.BaseToken, rewardToken, amount, minOut, nil)
}

// BaseBalance returns the pool's normalized base-token balance.
func (l *Ledger) BaseBalance() *big.Int { return l.baseBalance() }

// OpenPositionCount returns the number of open positions.
func (l *Ledger) OpenPositionCount() int { return len(l.positions) }

func boundMap(bounds []event.PositionBound) map[string]*big.Int {
	m := make(map[string]*big.Int, len(bounds))
	for _, b := range bounds {
		m[b.Token] = b.Amount
	}
	return m
}

// --- snapshot support ---

// GetAllBalances returns every LP balance (for snapshot creation).
func (l *Ledger) GetAllBalances() map[uuid.UUID]*big.Int {
	result := make(map[uuid.UUID]*big.Int, len(l.lpBalances))
	for k, v := range l.lpBalances {
		result[k] = v
	}
	return result
}

// RestoreBalance directly sets an LP balance (used for snapshot restore).
func (l *Ledger) RestoreBalance(account uuid.UUID, amount *big.Int) {
	l.lpBalances[account] = fpmath.Clone(amount)
}

// RestoreTotalSupply directly sets the LP supply (used for snapshot restore).
func (l *Ledger) RestoreTotalSupply(supply *big.Int) {
	l.totalSupply = fpmath.Clone(supply)
}

// RestorePosition directly marks a token as an open position.
func (l *Ledger) RestorePosition(token string) {
	l.positions[token] = true
}

// Admins returns the admin set in sorted order (for snapshot creation).
func (l *Ledger) Admins() []uuid.UUID {
	return sortedSet(l.admins)
}

// RestoreAdmin directly adds an admin (used for snapshot restore).
func (l *Ledger) RestoreAdmin(account uuid.UUID) {
	l.admins[account] = true
}

// PrivateInvestors returns the allow list in sorted order.
func (l *Ledger) PrivateInvestors() []uuid.UUID {
	return sortedSet(l.privateInvestors)
}

// RestorePrivateInvestor directly adds an allow-list entry.
func (l *Ledger) RestorePrivateInvestor(account uuid.UUID) {
	l.privateInvestors[account] = true
}

// GetAllBlockMints returns the live same-block mint marks.
func (l *Ledger) GetAllBlockMints() []*BlockMint {
	result := make([]*BlockMint, 0, len(l.blockMints))
	for _, bm := range l.blockMints {
		result = append(result, bm)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Holder[:], result[j].Holder[:]) < 0
	})
	return result
}

// RestoreBlockMint directly sets a same-block mint mark.
func (l *Ledger) RestoreBlockMint(bm *BlockMint) {
	l.blockMints[bm.Holder] = bm
}

// RestoreParameters directly replaces the pool parameters.
func (l *Ledger) RestoreParameters(params Parameters) {
	l.params = params
}

func sortedSet(set map[uuid.UUID]bool) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}
