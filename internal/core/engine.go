package core

import (
	"PoolCore/internal/commission"
	"PoolCore/internal/event"
	"PoolCore/internal/gov"
	"PoolCore/internal/leverage"
	fpmath "PoolCore/internal/math"
	"PoolCore/internal/observability"
	"PoolCore/internal/pool"
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownPool   = errors.New("no pool with this id")
	ErrDuplicatePool = errors.New("pool id already exists")
)

// Engine is the single-threaded command processor. It owns every pool
// ledger and the governance keeper; all state mutation flows through
// ProcessCommand. Timestamps and block heights are versioned inputs —
// the engine never reads the wall clock for state.
type Engine struct {
	sequence          int64
	hasher            *StateHasher
	pools             map[uuid.UUID]*pool.Ledger
	keeper            *gov.Keeper
	fees              *commission.Engine
	poolWiring        pool.Config
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one applied command: its envelope plus the operations
// it produced.
type CoreOutput struct {
	Envelope *event.Envelope
	Batch    *event.Batch
}

func NewEngine(
	startSequence int64,
	poolWiring pool.Config,
	keeper *gov.Keeper,
	fees *commission.Engine,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		pools:             make(map[uuid.UUID]*pool.Ledger),
		keeper:            keeper,
		fees:              fees,
		poolWiring:        poolWiring,
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// Pool returns the ledger for a pool id, nil if none exists.
func (e *Engine) Pool(id uuid.UUID) *pool.Ledger { return e.pools[id] }

// Keeper returns the governance keeper.
func (e *Engine) Keeper() *gov.Keeper { return e.keeper }

// ProcessCommand is the main processing pipeline: dedup, source-order
// validation, dispatch, invariant post-checks, state hashing, emission.
func (e *Engine) ProcessCommand(cmd event.Command) error {
	start := time.Now()
	commandType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := e.idempotency.IsDuplicate(commandType, idempotencyKey)

	// Step 2: Source sequence validation
	partition := e.getPartition(cmd)
	sourceSequence := cmd.SourceSequence()
	if err := e.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(commandType, "sequence").Inc()
		}
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	// Duplicates are acknowledged without reprocessing
	if isDuplicate {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(commandType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch
	batch, err := e.dispatch(cmd)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(commandType, rejectionReason(cmd, err)).Inc()
		}
		return fmt.Errorf("%s rejected: %w", commandType, err)
	}

	if err := batch.Validate(); err != nil {
		panic(fmt.Sprintf("FATAL: malformed batch for %s: %v", commandType, err))
	}

	// Step 4: Post-checks. A violated conservation invariant means the
	// in-memory state is corrupt; continuing would persist the damage.
	if err := e.postCheckInvariants(cmd); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", commandType, err))
	}

	// Step 5: State hash chain
	stateDigest := e.computeStateDigest(cmd, batch)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)

	payload, err := event.MarshalCommand(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s payload: %v", commandType, err))
	}

	envelope := &event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		PoolID:         cmd.PoolID(),
		Timestamp:      time.UnixMicro(cmd.Timestamp()),
		Block:          cmd.Block(),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{Envelope: envelope, Batch: batch}
	e.sequence++

	// Step 6: Emit. Persistence gets a blocking send (backpressure, no
	// command is ever lost); projections get a non-blocking send and can
	// rebuild from the command log if they fall behind.
	e.persistChan <- output
	select {
	case e.projectionChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}

	// Step 7: Mark as processed
	e.idempotency.MarkProcessed(commandType, idempotencyKey)

	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		for _, op := range batch.Ops {
			e.metrics.CoreOperations.WithLabelValues(string(op.Kind)).Inc()
		}
		if pid := cmd.PoolID(); pid != nil {
			if l := e.pools[*pid]; l != nil {
				supply, _ := new(big.Float).SetInt(l.TotalSupply()).Float64()
				e.metrics.PoolLPSupply.WithLabelValues(pid.String()).Set(supply)
				e.metrics.PoolInvestors.WithLabelValues(pid.String()).Set(float64(l.InvestorCount()))
				e.metrics.PoolOpenPosCount.WithLabelValues(pid.String()).Set(float64(l.OpenPositionCount()))
			}
		}
	}

	return nil
}

// getPartition determines the partition key for sequence validation.
// Each pool is its own partition; governance is one shared partition.
func (e *Engine) getPartition(cmd event.Command) string {
	if pid := cmd.PoolID(); pid != nil {
		return fmt.Sprintf("pool:%s", pid)
	}
	return "gov"
}

// rejectionReason labels a dispatch error for metrics.
func rejectionReason(cmd event.Command, err error) string {
	if errors.Is(err, leverage.ErrExceeded) {
		return "market"
	}
	if errors.Is(err, ErrUnknownPool) || errors.Is(err, ErrDuplicatePool) {
		return "configuration"
	}
	if cmd.PoolID() != nil {
		return pool.Category(err)
	}
	return gov.Category(err)
}

func (e *Engine) dispatch(cmd event.Command) (*event.Batch, error) {
	switch c := cmd.(type) {
	case *event.CreatePool:
		return e.handleCreatePool(c)
	case *event.Invest:
		return e.handleInvest(c)
	case *event.Divest:
		return e.handleDivest(c)
	case *event.Exchange:
		return e.handleExchange(c)
	case *event.CommissionSweep:
		return e.handleCommissionSweep(c)
	case *event.ChangePoolParameters:
		return e.handleChangeParameters(c)
	case *event.ModifyAdmins:
		return e.handleModifyAdmins(c)
	case *event.ModifyPrivateInvestors:
		return e.handleModifyPrivateInvestors(c)
	case *event.TransferLP:
		return e.handleTransferLP(c)
	case *event.GovDeposit:
		return e.handleGovDeposit(c)
	case *event.GovWithdraw:
		return e.handleGovWithdraw(c)
	case *event.Delegate:
		return e.handleDelegate(c)
	case *event.Undelegate:
		return e.handleUndelegate(c)
	case *event.DelegateTreasury:
		return e.handleDelegateTreasury(c)
	case *event.UndelegateTreasury:
		return e.handleUndelegateTreasury(c)
	case *event.VoteLock:
		return e.handleVoteLock(c)
	case *event.VoteUnlock:
		return e.handleVoteUnlock(c)
	case *event.RefreshMaxLock:
		return e.handleRefreshMaxLock(c)
	case *event.SetGovAssets:
		return e.handleSetGovAssets(c)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

func (e *Engine) poolFor(cmd event.Command) (*pool.Ledger, error) {
	pid := cmd.PoolID()
	if pid == nil {
		return nil, fmt.Errorf("%w: command carries no pool id", ErrUnknownPool)
	}
	l := e.pools[*pid]
	if l == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, pid)
	}
	return l, nil
}

// newBatch starts an operation batch for one command.
func (e *Engine) newBatch(cmd event.Command) *event.Batch {
	return &event.Batch{
		BatchID:    uuid.New(),
		CommandRef: cmd.IdempotencyKey(),
		Sequence:   e.sequence,
		Timestamp:  cmd.Timestamp(),
	}
}

func (e *Engine) op(kind event.OpKind, cmd event.Command) event.Operation {
	return event.Operation{
		OpID:      uuid.New(),
		Kind:      kind,
		Pool:      cmd.PoolID(),
		Sequence:  e.sequence,
		Timestamp: cmd.Timestamp(),
	}
}

// --- Pool command handlers ---

func (e *Engine) handleCreatePool(c *event.CreatePool) (*event.Batch, error) {
	pid := c.PoolID()
	if pid == nil {
		return nil, fmt.Errorf("%w: CreatePool carries no pool id", ErrUnknownPool)
	}
	if e.pools[*pid] != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePool, pid)
	}

	params := pool.Parameters{
		PoolID:                  *pid,
		Trader:                  c.Trader,
		Description:             c.Description,
		Private:                 c.Private,
		BaseToken:               c.BaseToken,
		TotalLPEmission:         fpmath.Clone(c.TotalLPEmission),
		MinInvest:               fpmath.Clone(c.MinInvest),
		CommissionPeriod:        fpmath.CommissionPeriod(c.CommissionPeriod),
		CommissionPercentage:    fpmath.Clone(c.CommissionPercentage),
		CommissionInitTimestamp: c.Timestamp(),
		LeverageThreshold:       fpmath.Clone(c.LeverageThreshold),
		LeverageSlope:           fpmath.Clone(c.LeverageSlope),
		InvestorLimit:           c.InvestorLimit,
		Passive:                 c.Passive,
	}

	l, err := pool.NewLedger(params, e.poolWiring)
	if err != nil {
		return nil, err
	}
	e.pools[*pid] = l

	batch := e.newBatch(c)
	op := e.op(event.OpParamsChange, c)
	op.Account = &c.Trader
	batch.Ops = append(batch.Ops, op)
	return batch, nil
}

func (e *Engine) handleInvest(c *event.Invest) (*event.Batch, error) {
	l, err := e.poolFor(c)
	if err != nil {
		return nil, err
	}

	res, err := l.Invest(c.Investor, c.Amount, c.MinPositionsOut, c.Block(), c.Timestamp())
	if err != nil {
		return nil, err
	}

	batch := e.newBatch(c)

	deposit := e.op(event.OpBaseDeposit, c)
	deposit.Account = &c.Investor
	deposit.Token = l.Params().BaseToken
	deposit.Amount = c.Amount
	batch.Ops = append(batch.Ops, deposit)

	for _, fill := range res.Acquisitions {
		acq := e.op(event.OpPositionAcquire, c)
		acq.Token = fill.Token
		acq.Amount = fill.Received
		batch.Ops = append(batch.Ops, acq)
	}

	mint := e.op(event.OpLPMint, c)
	mint.Account = &c.Investor
	mint.Amount = res.MintedLP
	batch.Ops = append(batch.Ops, mint)

	if e.metrics != nil {
		e.metrics.PoolInvestments.WithLabelValues(c.PoolID().String()).Inc()
	}
	return batch, nil
}

func (e *Engine) handleDivest(c *event.Divest) (*event.Batch, error) {
	l, err := e.poolFor(c)
	if err != nil {
		return nil, err
	}

	// The whole divest is priced before anything settles: position
	// bounds inside the quote, the commission bound against the quoted
	// fee. A failing bound rejects the command with the ledger untouched.
	quote, err := l.QuoteDivest(c.Investor, c.AmountLP, c.MinPositionsOut, c.Block())
	if err != nil {
		return nil, err
	}
	if quote.FeeBase.Sign() > 0 {
		if _, err := e.fees.QuoteDistribution(l, quote.FeeBase, quote.FeeLP, c.MinCommissionOut); err != nil {
			return nil, err
		}
	}

	res, err := l.Divest(c.Investor, c.AmountLP, c.MinPositionsOut, c.Block())
	if err != nil {
		return nil, err
	}

	batch := e.newBatch(c)

	burn := e.op(event.OpLPBurn, c)
	burn.Account = &c.Investor
	burn.Amount = c.AmountLP
	batch.Ops = append(batch.Ops, burn)

	for _, fill := range res.Liquidations {
		liq := e.op(event.OpPositionLiquidate, c)
		liq.Token = fill.Token
		liq.Amount = fill.Spent
		batch.Ops = append(batch.Ops, liq)
	}

	payout := e.op(event.OpBasePayout, c)
	payout.Account = &c.Investor
	payout.Token = l.Params().BaseToken
	payout.Amount = res.Payout
	batch.Ops = append(batch.Ops, payout)

	// Divest realizes the performance fee immediately; the withheld
	// base is distributed in the same command.
	if res.FeeBase.Sign() > 0 {
		charge := e.op(event.OpCommissionCharge, c)
		charge.Account = &c.Investor
		charge.Amount = res.FeeBase
		batch.Ops = append(batch.Ops, charge)

		dist, err := e.fees.Distribute(l, res.FeeBase, res.FeeLP, c.MinCommissionOut, c.Block())
		if err != nil {
			return nil, err
		}
		e.appendDistributionOps(batch, c, l, dist)
	}

	if e.metrics != nil {
		e.metrics.PoolDivestments.WithLabelValues(c.PoolID().String()).Inc()
	}
	return batch, nil
}

func (e *Engine) appendDistributionOps(batch *event.Batch, cmd event.Command, l *pool.Ledger, dist *commission.Distribution) {
	trader := l.Params().Trader
	if dist.TraderLP.Sign() > 0 {
		mint := e.op(event.OpLPMint, cmd)
		mint.Account = &trader
		mint.Amount = dist.TraderLP
		batch.Ops = append(batch.Ops, mint)
	}
	if dist.RewardOut.Sign() > 0 {
		reward := e.op(event.OpCommissionReward, cmd)
		reward.Amount = dist.RewardOut
		batch.Ops = append(batch.Ops, reward)
	}
}

func (e *Engine) handleExchange(c *event.Exchange) (*event.Batch, error) {
	l, err := e.poolFor(c)
	if err != nil {
		return nil, err
	}

	res, err := l.Exchange(c.Caller, c.From, c.To, c.Amount, c.Bound, c.Mode, c.Route)
	if err != nil {
		return nil, err
	}

	// Each non-base leg gets its own op: a position-to-position
	// rebalance liquidates one position and acquires another, and the
	// projections must see both.
	batch := e.newBatch(c)
	if res.From != l.Params().BaseToken {
		liq := e.op(event.OpPositionLiquidate, c)
		liq.Token = res.From
		liq.Amount = res.AmountIn
		batch.Ops = append(batch.Ops, liq)
	}
	if res.To != l.Params().BaseToken {
		acq := e.op(event.OpPositionAcquire, c)
		acq.Token = res.To
		acq.Amount = res.AmountOut
		batch.Ops = append(batch.Ops, acq)
	}

	if e.metrics != nil {
		e.metrics.PoolExchanges.WithLabelValues(c.PoolID().String()).Inc()
	}
	return batch, nil
}

func (e *Engine) handleCommissionSweep(c *event.CommissionSweep) (*event.Batch, error) {
	l, err := e.poolFor(c)
	if err != nil {
		return nil, err
	}

	res, err := e.fees.Reinvest(l, c.Caller, c.Offset, c.Limit, c.MinRewardOut, c.Block(), c.Timestamp())
	if err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	for i := range res.Charges {
		charge := e.op(event.OpCommissionCharge, c)
		charge.Account = &res.Charges[i].Investor
		charge.Amount = res.Charges[i].FeeBase
		batch.Ops = append(batch.Ops, charge)
	}
	if res.Distribution != nil {
		e.appendDistributionOps(batch, c, l, res.Distribution)
	}

	if e.metrics != nil {
		pid := c.PoolID().String()
		e.metrics.CommissionSweeps.WithLabelValues(pid).Inc()
		e.metrics.CommissionCharges.WithLabelValues(pid).Add(float64(len(res.Charges)))
		e.metrics.CommissionSkipped.WithLabelValues(pid).Add(float64(res.Skipped))
	}
	return batch, nil
}

func (e *Engine) handleChangeParameters(c *event.ChangePoolParameters) (*event.Batch, error) {
	l, err := e.poolFor(c)
	if err != nil {
		return nil, err
	}

	change := pool.ParameterChange{
		Description:     c.Description,
		Private:         c.Private,
		TotalLPEmission: c.TotalLPEmission,
		MinInvest:       c.MinInvest,
	}
	if err := l.ChangeParameters(c.Caller, change); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	op := e.op(event.OpParamsChange, c)
	op.Account = &c.Caller
	batch.Ops = append(batch.Ops, op)
	return batch, nil
}

func (e *Engine) handleModifyAdmins(c *event.ModifyAdmins) (*event.Batch, error) {
	l, err := e.poolFor(c)
	if err != nil {
		return nil, err
	}
	if err := l.ModifyAdmins(c.Caller, c.Add, c.Remove); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	op := e.op(event.OpAdminChange, c)
	op.Account = &c.Caller
	batch.Ops = append(batch.Ops, op)
	return batch, nil
}

func (e *Engine) handleModifyPrivateInvestors(c *event.ModifyPrivateInvestors) (*event.Batch, error) {
	l, err := e.poolFor(c)
	if err != nil {
		return nil, err
	}
	if err := l.ModifyPrivateInvestors(c.Caller, c.Add, c.Remove); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	op := e.op(event.OpAdminChange, c)
	op.Account = &c.Caller
	batch.Ops = append(batch.Ops, op)
	return batch, nil
}

func (e *Engine) handleTransferLP(c *event.TransferLP) (*event.Batch, error) {
	l, err := e.poolFor(c)
	if err != nil {
		return nil, err
	}

	if _, err := l.TransferLP(c.From, c.To, c.Amount, c.Block(), c.Timestamp()); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	op := e.op(event.OpLPTransfer, c)
	op.Account = &c.From
	op.Counterparty = &c.To
	op.Amount = c.Amount
	batch.Ops = append(batch.Ops, op)
	return batch, nil
}

// --- Governance command handlers ---

func (e *Engine) handleGovDeposit(c *event.GovDeposit) (*event.Batch, error) {
	if err := e.keeper.Deposit(c.Account, c.Tokens, c.NftIDs); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	op := e.op(event.OpGovDeposit, c)
	op.Account = &c.Account
	op.Amount = c.Tokens
	op.NftIDs = c.NftIDs
	batch.Ops = append(batch.Ops, op)

	if e.metrics != nil {
		e.metrics.GovDeposits.Inc()
	}
	return batch, nil
}

func (e *Engine) handleGovWithdraw(c *event.GovWithdraw) (*event.Batch, error) {
	if err := e.keeper.Withdraw(c.Account, c.Tokens, c.NftIDs); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	op := e.op(event.OpGovWithdraw, c)
	op.Account = &c.Account
	op.Amount = c.Tokens
	op.NftIDs = c.NftIDs
	batch.Ops = append(batch.Ops, op)

	if e.metrics != nil {
		e.metrics.GovWithdrawals.Inc()
	}
	return batch, nil
}

func (e *Engine) handleDelegate(c *event.Delegate) (*event.Batch, error) {
	if err := e.keeper.Delegate(c.From, c.To, c.Tokens, c.NftIDs); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	op := e.op(event.OpDelegate, c)
	op.Account = &c.From
	op.Counterparty = &c.To
	op.Amount = c.Tokens
	op.NftIDs = c.NftIDs
	batch.Ops = append(batch.Ops, op)

	if e.metrics != nil {
		e.metrics.GovDelegations.WithLabelValues("delegate").Inc()
	}
	return batch, nil
}

func (e *Engine) handleUndelegate(c *event.Undelegate) (*event.Batch, error) {
	if err := e.keeper.Undelegate(c.From, c.To, c.Tokens, c.NftIDs); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	op := e.op(event.OpUndelegate, c)
	op.Account = &c.From
	op.Counterparty = &c.To
	op.Amount = c.Tokens
	op.NftIDs = c.NftIDs
	batch.Ops = append(batch.Ops, op)

	if e.metrics != nil {
		e.metrics.GovDelegations.WithLabelValues("undelegate").Inc()
	}
	return batch, nil
}

func (e *Engine) handleDelegateTreasury(c *event.DelegateTreasury) (*event.Batch, error) {
	if err := e.keeper.DelegateTreasury(c.To, c.Tokens, c.NftIDs); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	op := e.op(event.OpTreasuryDelegate, c)
	op.Account = &c.To
	op.Amount = c.Tokens
	op.NftIDs = c.NftIDs
	batch.Ops = append(batch.Ops, op)

	if e.metrics != nil {
		e.metrics.GovDelegations.WithLabelValues("treasury_delegate").Inc()
	}
	return batch, nil
}

func (e *Engine) handleUndelegateTreasury(c *event.UndelegateTreasury) (*event.Batch, error) {
	if err := e.keeper.UndelegateTreasury(c.To, c.Tokens, c.NftIDs); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	op := e.op(event.OpTreasuryUndelegate, c)
	op.Account = &c.To
	op.Amount = c.Tokens
	op.NftIDs = c.NftIDs
	batch.Ops = append(batch.Ops, op)

	if e.metrics != nil {
		e.metrics.GovDelegations.WithLabelValues("treasury_undelegate").Inc()
	}
	return batch, nil
}

func (e *Engine) handleVoteLock(c *event.VoteLock) (*event.Batch, error) {
	if err := e.keeper.Lock(c.Voter, c.Proposal, c.Tokens, c.NftIDs); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	lock := e.op(event.OpVoteLock, c)
	lock.Account = &c.Voter
	lock.Amount = c.Tokens
	lock.Proposal = c.Proposal
	batch.Ops = append(batch.Ops, lock)

	if len(c.NftIDs) > 0 {
		nft := e.op(event.OpNftLock, c)
		nft.Account = &c.Voter
		nft.NftIDs = c.NftIDs
		nft.Proposal = c.Proposal
		batch.Ops = append(batch.Ops, nft)
	}

	if e.metrics != nil {
		e.metrics.GovVoteLocks.Inc()
	}
	return batch, nil
}

func (e *Engine) handleVoteUnlock(c *event.VoteUnlock) (*event.Batch, error) {
	if err := e.keeper.Unlock(c.Voter, c.Proposal, c.NftIDs); err != nil {
		return nil, err
	}

	batch := e.newBatch(c)
	unlock := e.op(event.OpVoteUnlock, c)
	unlock.Account = &c.Voter
	unlock.Proposal = c.Proposal
	batch.Ops = append(batch.Ops, unlock)

	if len(c.NftIDs) > 0 {
		nft := e.op(event.OpNftUnlock, c)
		nft.Account = &c.Voter
		nft.NftIDs = c.NftIDs
		nft.Proposal = c.Proposal
		batch.Ops = append(batch.Ops, nft)
	}

	if e.metrics != nil {
		e.metrics.GovVoteUnlocks.Inc()
	}
	return batch, nil
}

// handleRefreshMaxLock mutates only the voter's high-water mark; the
// command still needs an envelope in the log, so it produces an empty
// batch.
func (e *Engine) handleRefreshMaxLock(c *event.RefreshMaxLock) (*event.Batch, error) {
	if err := e.keeper.RefreshMaxLock(c.Voter, c.Proposals); err != nil {
		return nil, err
	}
	return e.newBatch(c), nil
}

func (e *Engine) handleSetGovAssets(c *event.SetGovAssets) (*event.Batch, error) {
	if c.Token != "" {
		if err := e.keeper.SetToken(c.Token); err != nil {
			return nil, err
		}
	}
	if c.NftCollection != "" {
		if err := e.keeper.SetNftCollection(c.NftCollection, c.NftTotalPower, c.NftConfiguredCount); err != nil {
			return nil, err
		}
	}
	return e.newBatch(c), nil
}

// --- State digest & invariants ---

// computeStateDigest builds the canonical bytes hashed into the state
// chain. Pool commands digest the whole affected pool (supply, sorted
// LP balances, investor records, open positions); governance commands
// digest the voter records the batch touched.
func (e *Engine) computeStateDigest(cmd event.Command, batch *event.Batch) []byte {
	if pid := cmd.PoolID(); pid != nil {
		if l := e.pools[*pid]; l != nil {
			return e.poolDigest(l)
		}
		return nil
	}
	return e.govDigest(batch)
}

func (e *Engine) poolDigest(l *pool.Ledger) []byte {
	digest := make([]byte, 0, 512)
	params := l.Params()
	digest = append(digest, params.PoolID[:]...)
	digest = appendAmount(digest, l.TotalSupply())

	balances := l.GetAllBalances()
	holders := make([]uuid.UUID, 0, len(balances))
	for h := range balances {
		holders = append(holders, h)
	}
	sort.Slice(holders, func(i, j int) bool {
		return bytes.Compare(holders[i][:], holders[j][:]) < 0
	})
	for _, h := range holders {
		digest = append(digest, h[:]...)
		digest = appendAmount(digest, balances[h])
	}

	for _, rec := range l.GetAllInvestors() {
		digest = append(digest, rec.Investor[:]...)
		digest = appendAmount(digest, rec.InvestedBase)
		digest = appendAmount(digest, big.NewInt(rec.CommissionUnlockEpoch))
	}

	for _, token := range l.OpenPositions() {
		digest = append(digest, byte(len(token)))
		digest = append(digest, token...)
	}
	return digest
}

func (e *Engine) govDigest(batch *event.Batch) []byte {
	affected := make(map[uuid.UUID]bool)
	for i := range batch.Ops {
		if batch.Ops[i].Account != nil {
			affected[*batch.Ops[i].Account] = true
		}
		if batch.Ops[i].Counterparty != nil {
			affected[*batch.Ops[i].Counterparty] = true
		}
	}

	accounts := make([]uuid.UUID, 0, len(affected))
	for a := range affected {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i][:], accounts[j][:]) < 0
	})

	digest := make([]byte, 0, len(accounts)*96)
	for _, a := range accounts {
		u := e.keeper.User(a)
		if u == nil {
			continue
		}
		digest = append(digest, a[:]...)
		digest = appendAmount(digest, u.Owned.Tokens)
		digest = appendAmount(digest, u.Micropool.Tokens)
		digest = appendAmount(digest, u.Treasury.Tokens)
		digest = appendAmount(digest, u.AllDelegatedTokens)
		digest = appendAmount(digest, u.MaxLocked)
		digest = appendAmount(digest, big.NewInt(int64(len(u.Owned.Nfts))))
		digest = appendAmount(digest, big.NewInt(int64(len(u.Micropool.Nfts))))
		digest = appendAmount(digest, big.NewInt(int64(len(u.Treasury.Nfts))))
	}
	return digest
}

// appendAmount writes a non-negative big.Int with a 2-byte LE length
// prefix.
func appendAmount(buf []byte, v *big.Int) []byte {
	b := v.Bytes()
	buf = append(buf, byte(len(b)), byte(len(b)>>8))
	return append(buf, b...)
}

// postCheckInvariants validates conservation after a command applied.
func (e *Engine) postCheckInvariants(cmd event.Command) error {
	if pid := cmd.PoolID(); pid != nil {
		l := e.pools[*pid]
		if l == nil {
			return nil
		}

		// LP supply must equal the sum of all holder balances.
		sum := big.NewInt(0)
		for _, bal := range l.GetAllBalances() {
			sum.Add(sum, bal)
		}
		if sum.Cmp(l.TotalSupply()) != 0 {
			return fmt.Errorf("pool %s: supply %s != balance sum %s", pid, l.TotalSupply(), sum)
		}

		// Cost bases never go negative.
		for _, rec := range l.GetAllInvestors() {
			if rec.InvestedBase.Sign() < 0 {
				return fmt.Errorf("pool %s: negative basis for %s: %s", pid, rec.Investor, rec.InvestedBase)
			}
		}
		return nil
	}

	// Delegation conservation: every voter's aggregate equals the sum of
	// their per-delegatee amounts, and the adjacency set holds exactly
	// the delegatees with something delegated.
	for _, u := range e.keeper.GetAllUsers() {
		sum := big.NewInt(0)
		for _, amount := range u.DelegatedTokens {
			sum.Add(sum, amount)
		}
		if sum.Cmp(u.AllDelegatedTokens) != 0 {
			return fmt.Errorf("voter %s: aggregate %s != delegation sum %s", u.Account, u.AllDelegatedTokens, sum)
		}
		for to := range u.Delegatees {
			tokens := u.DelegatedTokens[to]
			if (tokens == nil || tokens.Sign() == 0) && len(u.DelegatedNfts[to]) == 0 {
				return fmt.Errorf("voter %s: empty delegatee %s still in adjacency", u.Account, to)
			}
		}
	}
	return nil
}

// --- Snapshot Restore & Startup ---

// PoolSnapshot is one pool's serializable state.
type PoolSnapshot struct {
	Params           pool.Parameters
	TotalSupply      *big.Int
	Balances         map[uuid.UUID]*big.Int
	Investors        []*pool.InvestorInfo
	Positions        []string
	BlockMints       []*pool.BlockMint
	Admins           []uuid.UUID
	PrivateInvestors []uuid.UUID
}

// GovSnapshot is the governance keeper's serializable state.
type GovSnapshot struct {
	Token              string
	TokenDecimals      uint8
	NftCollection      string
	NftTotalPower      *big.Int
	NftConfiguredCount int
	Users              []*gov.UserInfo
	NftLocks           map[uint64]int
	NftHomes           map[uint64]uuid.UUID
}

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Pools           map[uuid.UUID]*PoolSnapshot
	Gov             *GovSnapshot
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for
// persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	pools := make(map[uuid.UUID]*PoolSnapshot, len(e.pools))
	for id, l := range e.pools {
		pools[id] = &PoolSnapshot{
			Params:           l.Params(),
			TotalSupply:      fpmath.Clone(l.TotalSupply()),
			Balances:         l.GetAllBalances(),
			Investors:        l.GetAllInvestors(),
			Positions:        l.OpenPositions(),
			BlockMints:       l.GetAllBlockMints(),
			Admins:           l.Admins(),
			PrivateInvestors: l.PrivateInvestors(),
		}
	}

	return &SnapshotState{
		Sequence:  e.sequence - 1, // Last processed sequence
		StateHash: e.hasher.GetPrevHash(),
		Pools:     pools,
		Gov: &GovSnapshot{
			Token:              e.keeper.Token(),
			TokenDecimals:      e.keeper.TokenDecimals(),
			NftCollection:      e.keeper.NftCollection(),
			NftTotalPower:      e.keeper.NftTotalPower(),
			NftConfiguredCount: e.keeper.NftConfiguredCount(),
			Users:              e.keeper.GetAllUsers(),
			NftLocks:           e.keeper.GetAllNftLocks(),
			NftHomes:           e.keeper.GetAllNftHomes(),
		},
		SequenceState:   e.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot rebuilds the engine's in-memory state. On warm
// restart the caller loads the latest snapshot and then replays the
// command log past it.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	e.sequence = snap.Sequence + 1 // Next sequence to assign
	e.hasher.SetPrevHash(snap.StateHash)

	for id, ps := range snap.Pools {
		l, err := pool.NewLedger(ps.Params, e.poolWiring)
		if err != nil {
			return fmt.Errorf("restoring pool %s: %w", id, err)
		}
		l.RestoreTotalSupply(ps.TotalSupply)
		for account, balance := range ps.Balances {
			l.RestoreBalance(account, balance)
		}
		for _, rec := range ps.Investors {
			l.RestoreInvestor(rec)
		}
		for _, token := range ps.Positions {
			l.RestorePosition(token)
		}
		for _, bm := range ps.BlockMints {
			l.RestoreBlockMint(bm)
		}
		for _, admin := range ps.Admins {
			l.RestoreAdmin(admin)
		}
		for _, investor := range ps.PrivateInvestors {
			l.RestorePrivateInvestor(investor)
		}
		e.pools[id] = l
	}

	if snap.Gov != nil {
		g := snap.Gov
		e.keeper.RestoreAssets(g.Token, g.TokenDecimals, g.NftCollection, g.NftTotalPower, g.NftConfiguredCount)
		for _, u := range g.Users {
			e.keeper.RestoreUser(u)
		}
		for id, count := range g.NftLocks {
			e.keeper.RestoreNftLock(id, count)
		}
		for id, owner := range g.NftHomes {
			e.keeper.RestoreNftHome(id, owner)
		}
	}

	for partition, nextSeq := range snap.SequenceState {
		e.sequenceValidator.RestorePartition(partition, nextSeq)
	}
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache so recently
// processed commands avoid cold-path DB lookups after restart.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}
