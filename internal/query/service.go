package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables. All
// responses include as_of_sequence for freshness semantics: the last
// sequence the projection worker has applied, not the core's head.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPool returns a pool's projected summary.
func (qs *QueryService) GetPool(ctx context.Context, poolID uuid.UUID) (*PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &PoolResponse{PoolID: poolID, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT trader, base_token, description, private, lp_supply::text
		FROM projections.pools
		WHERE pool_id = $1
	`, poolID.String()).Scan(&resp.Trader, &resp.BaseToken, &resp.Description, &resp.Private, &resp.LPSupply)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM projections.lp_balances
		WHERE pool_id = $1 AND balance > 0
	`, poolID.String()).Scan(&resp.InvestorCount)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// ListPools returns pool summaries ordered by pool id with cursor
// pagination.
func (qs *QueryService) ListPools(ctx context.Context, limit int, afterPoolID *uuid.UUID) ([]PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT pool_id, trader, base_token, description, private, lp_supply::text
		FROM projections.pools
	`
	args := []interface{}{}
	argIdx := 1

	if afterPoolID != nil {
		query += fmt.Sprintf(" WHERE pool_id > $%d", argIdx)
		args = append(args, afterPoolID.String())
		argIdx++
	}

	query += " ORDER BY pool_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []PoolResponse
	for rows.Next() {
		var p PoolResponse
		var id string
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(&id, &p.Trader, &p.BaseToken, &p.Description, &p.Private, &p.LPSupply); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("corrupt pool id %q: %w", id, err)
		}
		p.PoolID = parsed
		pools = append(pools, p)
	}

	return pools, rows.Err()
}

// GetPoolPositions returns a pool's open positions.
func (qs *QueryService) GetPoolPositions(ctx context.Context, poolID uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT token, amount::text
		FROM projections.positions
		WHERE pool_id = $1 AND amount > 0
		ORDER BY token
	`, poolID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		p.PoolID = poolID
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(&p.Token, &p.Amount); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetDelegations returns all outgoing delegation edges for a delegator.
func (qs *QueryService) GetDelegations(ctx context.Context, delegator uuid.UUID) ([]DelegationResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT delegator, delegatee, tokens::text
		FROM projections.delegations
		WHERE delegator = $1 AND tokens > 0
		ORDER BY delegatee
	`, delegator.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []DelegationResponse
	for rows.Next() {
		var d DelegationResponse
		d.AsOfSequence = asOfSeq
		if err := rows.Scan(&d.Delegator, &d.Delegatee, &d.Tokens); err != nil {
			return nil, err
		}
		edges = append(edges, d)
	}

	return edges, rows.Err()
}

// GetCommissionHistory returns commission events for a pool, newest first,
// with cursor-based pagination.
func (qs *QueryService) GetCommissionHistory(
	ctx context.Context,
	poolID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]CommissionHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT op_id, pool_id, account, kind, amount::text, sequence, timestamp
		FROM projections.commission_history
		WHERE pool_id = $1
	`
	args := []interface{}{poolID.String()}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []CommissionHistoryResponse
	for rows.Next() {
		var h CommissionHistoryResponse
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(&h.OpID, &h.PoolID, &h.Account, &h.Kind, &h.Amount, &h.Sequence, &h.Timestamp); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetCommandHistory returns applied commands from the log, newest first,
// optionally filtered to one pool.
func (qs *QueryService) GetCommandHistory(
	ctx context.Context,
	poolID *uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]CommandHistoryEntry, error) {
	query := `
		SELECT sequence, command_type, idempotency_key, pool_id, block, source_sequence
		FROM command_log.commands
	`
	args := []interface{}{}
	argIdx := 1
	where := ""

	if poolID != nil {
		where = fmt.Sprintf(" WHERE pool_id = $%d", argIdx)
		args = append(args, poolID.String())
		argIdx++
	}
	if afterSequence != nil {
		if where == "" {
			where = fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		} else {
			where += fmt.Sprintf(" AND sequence < $%d", argIdx)
		}
		args = append(args, *afterSequence)
		argIdx++
	}

	query += where
	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CommandHistoryEntry
	for rows.Next() {
		var e CommandHistoryEntry
		if err := rows.Scan(
			&e.Sequence, &e.CommandType, &e.IdempotencyKey, &e.PoolID,
			&e.Block, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the command log and LP
// supply conservation across the projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM command_log.commands c1
		LEFT JOIN command_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.sequence > 0 AND c1.prev_hash != COALESCE(c2.state_hash, c1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Each pool's projected supply must equal the sum of its holder balances
	supplyRows, err := qs.db.QueryContext(ctx, `
		SELECT p.pool_id, p.lp_supply::text, COALESCE(SUM(b.balance), 0)::text
		FROM projections.pools p
		LEFT JOIN projections.lp_balances b ON b.pool_id = p.pool_id
		GROUP BY p.pool_id, p.lp_supply
		HAVING p.lp_supply != COALESCE(SUM(b.balance), 0)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer supplyRows.Close()

	for supplyRows.Next() {
		var d SupplyDiff
		if err := supplyRows.Scan(&d.PoolID, &d.Supply, &d.Balances); err != nil {
			return nil, err
		}
		report.SupplyMismatches = append(report.SupplyMismatches, d)
	}
	if err := supplyRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SupplyMismatches) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
