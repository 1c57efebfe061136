package query

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// LPBalanceResponse represents a holder's LP balance in one pool.
type LPBalanceResponse struct {
	PoolID       uuid.UUID `json:"pool_id"`
	Account      uuid.UUID `json:"account"`
	Balance      string    `json:"balance"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// GovStakeResponse represents a user's projected governance balances.
// Columns mirror the keeper's balance records: owned collateral, tokens
// delegated into the user's micropool, treasury-sourced tokens, the
// aggregate the user has delegated out, and the vote-lock high-water mark.
type GovStakeResponse struct {
	Account      uuid.UUID `json:"account"`
	Owned        string    `json:"owned"`
	Micropool    string    `json:"micropool"`
	Treasury     string    `json:"treasury"`
	AllDelegated string    `json:"all_delegated"`
	MaxLocked    string    `json:"max_locked"`

	// Owned minus the lock high-water mark, floored at zero. The core is
	// authoritative at withdraw time; this is the projected view.
	Withdrawable string `json:"withdrawable"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// GetLPBalance returns a holder's LP balance in one pool. A holder with no
// row has a zero balance.
func (qs *QueryService) GetLPBalance(ctx context.Context, poolID, account uuid.UUID) (*LPBalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &LPBalanceResponse{
		PoolID:       poolID,
		Account:      account,
		Balance:      "0",
		AsOfSequence: asOfSeq,
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.lp_balances
		WHERE pool_id = $1 AND account = $2
	`, poolID.String(), account.String()).Scan(&resp.Balance)
	if err == sql.ErrNoRows {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// GetGovStake returns a user's projected governance balances. A user with
// no row has all-zero balances.
func (qs *QueryService) GetGovStake(ctx context.Context, account uuid.UUID) (*GovStakeResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &GovStakeResponse{
		Account:      account,
		Owned:        "0",
		Micropool:    "0",
		Treasury:     "0",
		AllDelegated: "0",
		MaxLocked:    "0",
		Withdrawable: "0",
		AsOfSequence: asOfSeq,
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT owned::text, micropool::text, treasury::text, all_delegated::text, max_locked::text,
		       GREATEST(owned - max_locked, 0)::text
		FROM projections.gov_stakes
		WHERE account = $1
	`, account.String()).Scan(&resp.Owned, &resp.Micropool, &resp.Treasury, &resp.AllDelegated, &resp.MaxLocked, &resp.Withdrawable)
	if err == sql.ErrNoRows {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	return resp, nil
}
