package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence    int64
	CommandType string
	PoolID      *string
	Payload     []byte
	Ops         []OperationEntry
	Timestamp   int64
}

// OperationEntry is a simplified ledger operation for projection consumption.
// Amounts are normalized 18-decimal integers as base-10 strings.
type OperationEntry struct {
	OpID         string
	Kind         string
	PoolID       *string
	Account      *string
	Counterparty *string
	Token        string
	Amount       string
	Proposal     int64
	Timestamp    int64
}

// ProjectionWorker updates projection tables from applied commands.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the command log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop. Outputs at or below the stored
// watermark are skipped, so replaying the command log through the core
// never double-applies to projection tables.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	if err := pw.loadWatermark(ctx); err != nil {
		log.Printf("WARN: load projection watermark: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if output.Sequence <= pw.lastSeq {
				continue
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the command log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) loadWatermark(ctx context.Context) error {
	err := pw.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&pw.lastSeq)
	if err == sql.ErrNoRows {
		return nil
	}
	return err
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.CommandType == "CreatePool" {
		if err := pw.insertPoolRow(ctx, tx, output); err != nil {
			return fmt.Errorf("pool registry: %w", err)
		}
	}

	for _, op := range output.Ops {
		if err := pw.applyOperation(ctx, tx, output.Sequence, op); err != nil {
			return fmt.Errorf("op %s (%s): %w", op.OpID, op.Kind, err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// insertPoolRow registers a pool from its CreatePool payload.
func (pw *ProjectionWorker) insertPoolRow(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	if output.PoolID == nil {
		return fmt.Errorf("CreatePool without pool id at seq=%d", output.Sequence)
	}

	var payload struct {
		Trader      string
		Description string
		Private     bool
		BaseToken   string
	}
	if err := json.Unmarshal(output.Payload, &payload); err != nil {
		return fmt.Errorf("decode CreatePool payload: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pools (pool_id, trader, base_token, description, private, lp_supply, last_sequence)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (pool_id) DO NOTHING
	`, *output.PoolID, payload.Trader, payload.BaseToken, payload.Description, payload.Private, output.Sequence)
	return err
}

func (pw *ProjectionWorker) applyOperation(ctx context.Context, tx *sql.Tx, seq int64, op OperationEntry) error {
	switch op.Kind {
	case "lp_mint":
		if err := pw.adjustLPBalance(ctx, tx, seq, op.PoolID, op.Account, op.Amount, "+"); err != nil {
			return err
		}
		return pw.adjustLPSupply(ctx, tx, seq, op.PoolID, op.Amount, "+")

	case "lp_burn":
		if err := pw.adjustLPBalance(ctx, tx, seq, op.PoolID, op.Account, op.Amount, "-"); err != nil {
			return err
		}
		return pw.adjustLPSupply(ctx, tx, seq, op.PoolID, op.Amount, "-")

	case "lp_transfer":
		if err := pw.adjustLPBalance(ctx, tx, seq, op.PoolID, op.Account, op.Amount, "-"); err != nil {
			return err
		}
		return pw.adjustLPBalance(ctx, tx, seq, op.PoolID, op.Counterparty, op.Amount, "+")

	case "position_acquire":
		return pw.adjustPosition(ctx, tx, seq, op.PoolID, op.Token, op.Amount, "+")

	case "position_liquidate":
		return pw.adjustPosition(ctx, tx, seq, op.PoolID, op.Token, op.Amount, "-")

	case "commission_charge", "commission_reward":
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.commission_history (op_id, pool_id, account, kind, amount, sequence, timestamp)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
			ON CONFLICT (op_id) DO NOTHING
		`, op.OpID, op.PoolID, op.Account, op.Kind, op.Amount, seq, op.Timestamp)
		return err

	case "gov_deposit":
		return pw.adjustStake(ctx, tx, seq, op.Account, "owned", op.Amount, "+")

	case "gov_withdraw":
		return pw.adjustStake(ctx, tx, seq, op.Account, "owned", op.Amount, "-")

	case "delegate":
		if err := pw.adjustDelegationEdge(ctx, tx, seq, op.Account, op.Counterparty, op.Amount, "+"); err != nil {
			return err
		}
		if err := pw.adjustStake(ctx, tx, seq, op.Account, "owned", op.Amount, "-"); err != nil {
			return err
		}
		if err := pw.adjustStake(ctx, tx, seq, op.Account, "all_delegated", op.Amount, "+"); err != nil {
			return err
		}
		return pw.adjustStake(ctx, tx, seq, op.Counterparty, "micropool", op.Amount, "+")

	case "undelegate":
		if err := pw.adjustDelegationEdge(ctx, tx, seq, op.Account, op.Counterparty, op.Amount, "-"); err != nil {
			return err
		}
		if err := pw.adjustStake(ctx, tx, seq, op.Account, "owned", op.Amount, "+"); err != nil {
			return err
		}
		if err := pw.adjustStake(ctx, tx, seq, op.Account, "all_delegated", op.Amount, "-"); err != nil {
			return err
		}
		return pw.adjustStake(ctx, tx, seq, op.Counterparty, "micropool", op.Amount, "-")

	case "treasury_delegate":
		return pw.adjustStake(ctx, tx, seq, op.Account, "treasury", op.Amount, "+")

	case "treasury_undelegate":
		return pw.adjustStake(ctx, tx, seq, op.Account, "treasury", op.Amount, "-")

	case "vote_lock":
		// max_locked is a high-water mark; unlocks leave it in place until
		// the core refreshes it
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.gov_stakes (account, max_locked, last_sequence)
			VALUES ($1, $2::numeric, $3)
			ON CONFLICT (account) DO UPDATE SET
				max_locked = GREATEST(projections.gov_stakes.max_locked, $2::numeric),
				last_sequence = $3
		`, op.Account, op.Amount, seq)
		return err

	default:
		// base_deposit, base_payout, vote_unlock, nft_lock, nft_unlock,
		// params_change, admin_change: no projection table tracks these;
		// the command log remains the source of truth
		return nil
	}
}

func (pw *ProjectionWorker) adjustLPBalance(ctx context.Context, tx *sql.Tx, seq int64, poolID, account *string, amount, sign string) error {
	if poolID == nil || account == nil {
		return fmt.Errorf("lp balance op missing pool or account")
	}
	query := fmt.Sprintf(`
		INSERT INTO projections.lp_balances (pool_id, account, balance, last_sequence)
		VALUES ($1, $2, %s$3::numeric, $4)
		ON CONFLICT (pool_id, account)
		DO UPDATE SET balance = projections.lp_balances.balance %s $3::numeric, last_sequence = $4
	`, signPrefix(sign), sign)
	_, err := tx.ExecContext(ctx, query, *poolID, *account, amount, seq)
	return err
}

func (pw *ProjectionWorker) adjustLPSupply(ctx context.Context, tx *sql.Tx, seq int64, poolID *string, amount, sign string) error {
	if poolID == nil {
		return fmt.Errorf("lp supply op missing pool")
	}
	query := fmt.Sprintf(`
		UPDATE projections.pools
		SET lp_supply = lp_supply %s $2::numeric, last_sequence = $3
		WHERE pool_id = $1
	`, sign)
	_, err := tx.ExecContext(ctx, query, *poolID, amount, seq)
	return err
}

func (pw *ProjectionWorker) adjustPosition(ctx context.Context, tx *sql.Tx, seq int64, poolID *string, token, amount, sign string) error {
	if poolID == nil {
		return fmt.Errorf("position op missing pool")
	}
	query := fmt.Sprintf(`
		INSERT INTO projections.positions (pool_id, token, amount, last_sequence)
		VALUES ($1, $2, %s$3::numeric, $4)
		ON CONFLICT (pool_id, token)
		DO UPDATE SET amount = projections.positions.amount %s $3::numeric, last_sequence = $4
	`, signPrefix(sign), sign)
	_, err := tx.ExecContext(ctx, query, *poolID, token, amount, seq)
	return err
}

func (pw *ProjectionWorker) adjustStake(ctx context.Context, tx *sql.Tx, seq int64, account *string, column, amount, sign string) error {
	if account == nil {
		return fmt.Errorf("stake op missing account")
	}
	query := fmt.Sprintf(`
		INSERT INTO projections.gov_stakes (account, %s, last_sequence)
		VALUES ($1, %s$2::numeric, $3)
		ON CONFLICT (account)
		DO UPDATE SET %s = projections.gov_stakes.%s %s $2::numeric, last_sequence = $3
	`, column, signPrefix(sign), column, column, sign)
	_, err := tx.ExecContext(ctx, query, *account, amount, seq)
	return err
}

func (pw *ProjectionWorker) adjustDelegationEdge(ctx context.Context, tx *sql.Tx, seq int64, delegator, delegatee *string, amount, sign string) error {
	if delegator == nil || delegatee == nil {
		return fmt.Errorf("delegation op missing delegator or delegatee")
	}
	query := fmt.Sprintf(`
		INSERT INTO projections.delegations (delegator, delegatee, tokens, last_sequence)
		VALUES ($1, $2, %s$3::numeric, $4)
		ON CONFLICT (delegator, delegatee)
		DO UPDATE SET tokens = projections.delegations.tokens %s $3::numeric, last_sequence = $4
	`, signPrefix(sign), sign)
	_, err := tx.ExecContext(ctx, query, *delegator, *delegatee, amount, seq)
	return err
}

func signPrefix(sign string) string {
	if sign == "-" {
		return "-"
	}
	return ""
}

// RebuildProjections rebuilds the projection tables from the command log.
// LP balances and commission history rebuild in pure SQL; the remaining
// tables truncate and repopulate as the worker consumes new output.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.pools`,
		`TRUNCATE projections.lp_balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.gov_stakes`,
		`TRUNCATE projections.delegations`,
		`TRUNCATE projections.commission_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Rebuild LP balances from mint/burn/transfer operations
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.lp_balances (pool_id, account, balance, last_sequence)
		SELECT pool_id, holder, SUM(delta), MAX(sequence)
		FROM (
			SELECT pool_id, account AS holder, amount::numeric AS delta, sequence
			FROM command_log.operations WHERE kind = 'lp_mint'
			UNION ALL
			SELECT pool_id, account, -amount::numeric, sequence
			FROM command_log.operations WHERE kind = 'lp_burn'
			UNION ALL
			SELECT pool_id, account, -amount::numeric, sequence
			FROM command_log.operations WHERE kind = 'lp_transfer'
			UNION ALL
			SELECT pool_id, counterparty, amount::numeric, sequence
			FROM command_log.operations WHERE kind = 'lp_transfer'
		) deltas
		GROUP BY pool_id, holder
	`)
	if err != nil {
		return fmt.Errorf("rebuild lp balances: %w", err)
	}

	// Rebuild commission history directly from operations
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.commission_history (op_id, pool_id, account, kind, amount, sequence, timestamp)
		SELECT op_id, pool_id, account, kind, amount::numeric, sequence, timestamp
		FROM command_log.operations
		WHERE kind IN ('commission_charge', 'commission_reward')
		ON CONFLICT (op_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("rebuild commission history: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
