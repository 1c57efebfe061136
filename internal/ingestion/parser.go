package ingestion

import (
	"PoolCore/internal/event"
	fpmath "PoolCore/internal/math"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type string)
// into a typed event.Command. The ingestion shell validates, parses, and
// converts raw payloads before sending them to the core.
func ParseRawCommand(raw RawCommand, commandType string) (event.Command, error) {
	switch commandType {
	case "CreatePool":
		return parseCreatePool(raw.Data)
	case "Invest":
		return parseInvest(raw.Data)
	case "Divest":
		return parseDivest(raw.Data)
	case "Exchange":
		return parseExchange(raw.Data)
	case "CommissionSweep":
		return parseCommissionSweep(raw.Data)
	case "ChangePoolParameters":
		return parseChangePoolParameters(raw.Data)
	case "ModifyAdmins":
		return parseModifyAdmins(raw.Data)
	case "ModifyPrivateInvestors":
		return parseModifyPrivateInvestors(raw.Data)
	case "TransferLP":
		return parseTransferLP(raw.Data)
	case "GovDeposit":
		return parseGovDeposit(raw.Data)
	case "GovWithdraw":
		return parseGovWithdraw(raw.Data)
	case "Delegate":
		return parseDelegate(raw.Data)
	case "Undelegate":
		return parseUndelegate(raw.Data)
	case "DelegateTreasury":
		return parseDelegateTreasury(raw.Data)
	case "UndelegateTreasury":
		return parseUndelegateTreasury(raw.Data)
	case "VoteLock":
		return parseVoteLock(raw.Data)
	case "VoteUnlock":
		return parseVoteUnlock(raw.Data)
	case "RefreshMaxLock":
		return parseRefreshMaxLock(raw.Data)
	case "SetGovAssets":
		return parseSetGovAssets(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers. Amounts are
// base-10 strings because normalized 18-decimal values exceed int64.

type metaJSON struct {
	CommandID   string `json:"command_id"`
	PoolID      string `json:"pool_id,omitempty"`
	Block       int64  `json:"block"`
	TimestampUs int64  `json:"timestamp_us"`
	Sequence    int64  `json:"sequence"`
}

func parseMeta(j metaJSON, needPool bool) (event.Meta, error) {
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return event.Meta{}, fmt.Errorf("parse command_id: %w", err)
	}

	var poolID *uuid.UUID
	if j.PoolID != "" {
		id, err := uuid.Parse(j.PoolID)
		if err != nil {
			return event.Meta{}, fmt.Errorf("parse pool_id: %w", err)
		}
		poolID = &id
	}
	if needPool && poolID == nil {
		return event.Meta{}, fmt.Errorf("missing pool_id")
	}

	return event.Meta{
		CommandID: commandID,
		Pool:      poolID,
		BlockNum:  j.Block,
		Time:      j.TimestampUs,
		Sequence:  j.Sequence,
	}, nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, err := fpmath.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

func parseAccount(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

func parseAccountList(field string, in []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(in))
	for _, s := range in {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse %s entry %q: %w", field, s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

type positionBoundJSON struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func parseBounds(in []positionBoundJSON) ([]event.PositionBound, error) {
	out := make([]event.PositionBound, 0, len(in))
	for _, b := range in {
		amount, err := parseAmount("bound amount", b.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, event.PositionBound{Token: b.Token, Amount: amount})
	}
	return out, nil
}

// --- Pool commands ---

type createPoolJSON struct {
	metaJSON
	Trader               string `json:"trader"`
	Description          string `json:"description"`
	Private              bool   `json:"private"`
	BaseToken            string `json:"base_token"`
	TotalLPEmission      string `json:"total_lp_emission"`
	MinInvest            string `json:"min_invest"`
	CommissionPeriod     int32  `json:"commission_period"`
	CommissionPercentage string `json:"commission_percentage"`
	LeverageThreshold    string `json:"leverage_threshold"`
	LeverageSlope        string `json:"leverage_slope"`
	InvestorLimit        int    `json:"investor_limit"`
	Passive              bool   `json:"passive"`
}

func parseCreatePool(data []byte) (*event.CreatePool, error) {
	var j createPoolJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreatePool: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, true)
	if err != nil {
		return nil, err
	}
	trader, err := parseAccount("trader", j.Trader)
	if err != nil {
		return nil, err
	}
	emission, err := parseAmount("total_lp_emission", j.TotalLPEmission)
	if err != nil {
		return nil, err
	}
	minInvest, err := parseAmount("min_invest", j.MinInvest)
	if err != nil {
		return nil, err
	}
	commission, err := parseAmount("commission_percentage", j.CommissionPercentage)
	if err != nil {
		return nil, err
	}
	threshold, err := parseAmount("leverage_threshold", j.LeverageThreshold)
	if err != nil {
		return nil, err
	}
	slope, err := parseAmount("leverage_slope", j.LeverageSlope)
	if err != nil {
		return nil, err
	}
	return &event.CreatePool{
		Meta:                 meta,
		Trader:               trader,
		Description:          j.Description,
		Private:              j.Private,
		BaseToken:            j.BaseToken,
		TotalLPEmission:      emission,
		MinInvest:            minInvest,
		CommissionPeriod:     j.CommissionPeriod,
		CommissionPercentage: commission,
		LeverageThreshold:    threshold,
		LeverageSlope:        slope,
		InvestorLimit:        j.InvestorLimit,
		Passive:              j.Passive,
	}, nil
}

type investJSON struct {
	metaJSON
	Investor        string              `json:"investor"`
	Amount          string              `json:"amount"`
	MinPositionsOut []positionBoundJSON `json:"min_positions_out,omitempty"`
}

func parseInvest(data []byte) (*event.Invest, error) {
	var j investJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Invest: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, true)
	if err != nil {
		return nil, err
	}
	investor, err := parseAccount("investor", j.Investor)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	bounds, err := parseBounds(j.MinPositionsOut)
	if err != nil {
		return nil, err
	}
	return &event.Invest{
		Meta:            meta,
		Investor:        investor,
		Amount:          amount,
		MinPositionsOut: bounds,
	}, nil
}

type divestJSON struct {
	metaJSON
	Investor         string              `json:"investor"`
	AmountLP         string              `json:"amount_lp"`
	MinPositionsOut  []positionBoundJSON `json:"min_positions_out,omitempty"`
	MinCommissionOut string              `json:"min_commission_out,omitempty"`
}

func parseDivest(data []byte) (*event.Divest, error) {
	var j divestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Divest: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, true)
	if err != nil {
		return nil, err
	}
	investor, err := parseAccount("investor", j.Investor)
	if err != nil {
		return nil, err
	}
	amountLP, err := parseAmount("amount_lp", j.AmountLP)
	if err != nil {
		return nil, err
	}
	bounds, err := parseBounds(j.MinPositionsOut)
	if err != nil {
		return nil, err
	}
	minCommission, err := parseAmount("min_commission_out", j.MinCommissionOut)
	if err != nil {
		return nil, err
	}
	return &event.Divest{
		Meta:             meta,
		Investor:         investor,
		AmountLP:         amountLP,
		MinPositionsOut:  bounds,
		MinCommissionOut: minCommission,
	}, nil
}

type exchangeJSON struct {
	metaJSON
	Caller string   `json:"caller"`
	From   string   `json:"from"`
	To     string   `json:"to"`
	Amount string   `json:"amount"`
	Bound  string   `json:"bound,omitempty"`
	Mode   string   `json:"mode"` // "exact_in" or "exact_out"
	Route  []string `json:"route,omitempty"`
}

func parseExchange(data []byte) (*event.Exchange, error) {
	var j exchangeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Exchange: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, true)
	if err != nil {
		return nil, err
	}
	caller, err := parseAccount("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	bound, err := parseAmount("bound", j.Bound)
	if err != nil {
		return nil, err
	}

	mode := event.ExchangeExactIn
	if j.Mode == "exact_out" {
		mode = event.ExchangeExactOut
	}

	return &event.Exchange{
		Meta:   meta,
		Caller: caller,
		From:   j.From,
		To:     j.To,
		Amount: amount,
		Bound:  bound,
		Mode:   mode,
		Route:  j.Route,
	}, nil
}

type commissionSweepJSON struct {
	metaJSON
	Caller       string `json:"caller"`
	Offset       int    `json:"offset"`
	Limit        int    `json:"limit"`
	MinRewardOut string `json:"min_reward_out,omitempty"`
}

func parseCommissionSweep(data []byte) (*event.CommissionSweep, error) {
	var j commissionSweepJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CommissionSweep: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, true)
	if err != nil {
		return nil, err
	}
	caller, err := parseAccount("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	minReward, err := parseAmount("min_reward_out", j.MinRewardOut)
	if err != nil {
		return nil, err
	}
	return &event.CommissionSweep{
		Meta:         meta,
		Caller:       caller,
		Offset:       j.Offset,
		Limit:        j.Limit,
		MinRewardOut: minReward,
	}, nil
}

type changePoolParametersJSON struct {
	metaJSON
	Caller          string `json:"caller"`
	Description     string `json:"description"`
	Private         bool   `json:"private"`
	TotalLPEmission string `json:"total_lp_emission"`
	MinInvest       string `json:"min_invest"`
}

func parseChangePoolParameters(data []byte) (*event.ChangePoolParameters, error) {
	var j changePoolParametersJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ChangePoolParameters: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, true)
	if err != nil {
		return nil, err
	}
	caller, err := parseAccount("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	emission, err := parseAmount("total_lp_emission", j.TotalLPEmission)
	if err != nil {
		return nil, err
	}
	minInvest, err := parseAmount("min_invest", j.MinInvest)
	if err != nil {
		return nil, err
	}
	return &event.ChangePoolParameters{
		Meta:            meta,
		Caller:          caller,
		Description:     j.Description,
		Private:         j.Private,
		TotalLPEmission: emission,
		MinInvest:       minInvest,
	}, nil
}

type modifyAccountsJSON struct {
	metaJSON
	Caller string   `json:"caller"`
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

func parseModifyAdmins(data []byte) (*event.ModifyAdmins, error) {
	var j modifyAccountsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ModifyAdmins: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, true)
	if err != nil {
		return nil, err
	}
	caller, err := parseAccount("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	add, err := parseAccountList("add", j.Add)
	if err != nil {
		return nil, err
	}
	remove, err := parseAccountList("remove", j.Remove)
	if err != nil {
		return nil, err
	}
	return &event.ModifyAdmins{Meta: meta, Caller: caller, Add: add, Remove: remove}, nil
}

func parseModifyPrivateInvestors(data []byte) (*event.ModifyPrivateInvestors, error) {
	var j modifyAccountsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ModifyPrivateInvestors: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, true)
	if err != nil {
		return nil, err
	}
	caller, err := parseAccount("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	add, err := parseAccountList("add", j.Add)
	if err != nil {
		return nil, err
	}
	remove, err := parseAccountList("remove", j.Remove)
	if err != nil {
		return nil, err
	}
	return &event.ModifyPrivateInvestors{Meta: meta, Caller: caller, Add: add, Remove: remove}, nil
}

type transferLPJSON struct {
	metaJSON
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func parseTransferLP(data []byte) (*event.TransferLP, error) {
	var j transferLPJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TransferLP: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, true)
	if err != nil {
		return nil, err
	}
	from, err := parseAccount("from", j.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAccount("to", j.To)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.TransferLP{Meta: meta, From: from, To: to, Amount: amount}, nil
}

// --- Governance commands ---

type govBalanceJSON struct {
	metaJSON
	Account string   `json:"account"`
	Tokens  string   `json:"tokens,omitempty"`
	NftIDs  []uint64 `json:"nft_ids,omitempty"`
}

func parseGovDeposit(data []byte) (*event.GovDeposit, error) {
	var j govBalanceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse GovDeposit: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, false)
	if err != nil {
		return nil, err
	}
	account, err := parseAccount("account", j.Account)
	if err != nil {
		return nil, err
	}
	tokens, err := parseAmount("tokens", j.Tokens)
	if err != nil {
		return nil, err
	}
	return &event.GovDeposit{Meta: meta, Account: account, Tokens: tokens, NftIDs: j.NftIDs}, nil
}

func parseGovWithdraw(data []byte) (*event.GovWithdraw, error) {
	var j govBalanceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse GovWithdraw: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, false)
	if err != nil {
		return nil, err
	}
	account, err := parseAccount("account", j.Account)
	if err != nil {
		return nil, err
	}
	tokens, err := parseAmount("tokens", j.Tokens)
	if err != nil {
		return nil, err
	}
	return &event.GovWithdraw{Meta: meta, Account: account, Tokens: tokens, NftIDs: j.NftIDs}, nil
}

type delegationJSON struct {
	metaJSON
	From   string   `json:"from,omitempty"`
	To     string   `json:"to"`
	Tokens string   `json:"tokens,omitempty"`
	NftIDs []uint64 `json:"nft_ids,omitempty"`
}

func parseDelegate(data []byte) (*event.Delegate, error) {
	var j delegationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Delegate: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, false)
	if err != nil {
		return nil, err
	}
	from, err := parseAccount("from", j.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAccount("to", j.To)
	if err != nil {
		return nil, err
	}
	tokens, err := parseAmount("tokens", j.Tokens)
	if err != nil {
		return nil, err
	}
	return &event.Delegate{Meta: meta, From: from, To: to, Tokens: tokens, NftIDs: j.NftIDs}, nil
}

func parseUndelegate(data []byte) (*event.Undelegate, error) {
	var j delegationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Undelegate: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, false)
	if err != nil {
		return nil, err
	}
	from, err := parseAccount("from", j.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAccount("to", j.To)
	if err != nil {
		return nil, err
	}
	tokens, err := parseAmount("tokens", j.Tokens)
	if err != nil {
		return nil, err
	}
	return &event.Undelegate{Meta: meta, From: from, To: to, Tokens: tokens, NftIDs: j.NftIDs}, nil
}

func parseDelegateTreasury(data []byte) (*event.DelegateTreasury, error) {
	var j delegationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DelegateTreasury: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, false)
	if err != nil {
		return nil, err
	}
	to, err := parseAccount("to", j.To)
	if err != nil {
		return nil, err
	}
	tokens, err := parseAmount("tokens", j.Tokens)
	if err != nil {
		return nil, err
	}
	return &event.DelegateTreasury{Meta: meta, To: to, Tokens: tokens, NftIDs: j.NftIDs}, nil
}

func parseUndelegateTreasury(data []byte) (*event.UndelegateTreasury, error) {
	var j delegationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UndelegateTreasury: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, false)
	if err != nil {
		return nil, err
	}
	to, err := parseAccount("to", j.To)
	if err != nil {
		return nil, err
	}
	tokens, err := parseAmount("tokens", j.Tokens)
	if err != nil {
		return nil, err
	}
	return &event.UndelegateTreasury{Meta: meta, To: to, Tokens: tokens, NftIDs: j.NftIDs}, nil
}

type voteLockJSON struct {
	metaJSON
	Voter    string   `json:"voter"`
	Proposal int64    `json:"proposal"`
	Tokens   string   `json:"tokens,omitempty"`
	NftIDs   []uint64 `json:"nft_ids,omitempty"`
}

func parseVoteLock(data []byte) (*event.VoteLock, error) {
	var j voteLockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse VoteLock: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, false)
	if err != nil {
		return nil, err
	}
	voter, err := parseAccount("voter", j.Voter)
	if err != nil {
		return nil, err
	}
	tokens, err := parseAmount("tokens", j.Tokens)
	if err != nil {
		return nil, err
	}
	return &event.VoteLock{Meta: meta, Voter: voter, Proposal: j.Proposal, Tokens: tokens, NftIDs: j.NftIDs}, nil
}

func parseVoteUnlock(data []byte) (*event.VoteUnlock, error) {
	var j voteLockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse VoteUnlock: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, false)
	if err != nil {
		return nil, err
	}
	voter, err := parseAccount("voter", j.Voter)
	if err != nil {
		return nil, err
	}
	return &event.VoteUnlock{Meta: meta, Voter: voter, Proposal: j.Proposal, NftIDs: j.NftIDs}, nil
}

type refreshMaxLockJSON struct {
	metaJSON
	Voter     string  `json:"voter"`
	Proposals []int64 `json:"proposals"`
}

func parseRefreshMaxLock(data []byte) (*event.RefreshMaxLock, error) {
	var j refreshMaxLockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RefreshMaxLock: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, false)
	if err != nil {
		return nil, err
	}
	voter, err := parseAccount("voter", j.Voter)
	if err != nil {
		return nil, err
	}
	return &event.RefreshMaxLock{Meta: meta, Voter: voter, Proposals: j.Proposals}, nil
}

type setGovAssetsJSON struct {
	metaJSON
	Token              string `json:"token,omitempty"`
	NftCollection      string `json:"nft_collection,omitempty"`
	NftTotalPower      string `json:"nft_total_power,omitempty"`
	NftConfiguredCount int    `json:"nft_configured_count,omitempty"`
}

func parseSetGovAssets(data []byte) (*event.SetGovAssets, error) {
	var j setGovAssetsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetGovAssets: %w", err)
	}
	meta, err := parseMeta(j.metaJSON, false)
	if err != nil {
		return nil, err
	}
	totalPower, err := parseAmount("nft_total_power", j.NftTotalPower)
	if err != nil {
		return nil, err
	}
	return &event.SetGovAssets{
		Meta:               meta,
		Token:              j.Token,
		NftCollection:      j.NftCollection,
		NftTotalPower:      totalPower,
		NftConfiguredCount: j.NftConfiguredCount,
	}, nil
}
