package persistence

import (
	"PoolCore/internal/event"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// CommandLogWriter writes applied commands and their operations to Postgres
// using multi-row INSERT. Switch to pgx CopyFrom if throughput ever demands
// the COPY protocol; multi-row INSERT keeps the writer portable.
type CommandLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// execer is satisfied by *sql.DB and *sql.Tx so batch writes can run inside
// the worker's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CommandRow represents a row in command_log.commands
type CommandRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	PoolID         *string
	Payload        []byte // JSON-encoded command payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	Block          int64
	SourceSequence int64
}

// OperationRow represents a row in command_log.operations.
// Amounts are normalized 18-decimal integers stored as NUMERIC; they travel
// as base-10 strings because int64 cannot hold them.
type OperationRow struct {
	OpID         string
	BatchID      string
	CommandRef   string
	Sequence     int64
	Kind         string
	PoolID       *string
	Account      *string
	Counterparty *string
	Token        string
	Amount       string
	NftIDs       []int64
	Proposal     int64
	Timestamp    int64
}

func NewCommandLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *CommandLogWriter {
	return &CommandLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// CommandRowFromEnvelope converts a core envelope into its persisted form.
func CommandRowFromEnvelope(env *event.Envelope) CommandRow {
	row := CommandRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
		Block:          env.Block,
		SourceSequence: env.SourceSequence,
	}
	if env.PoolID != nil {
		s := env.PoolID.String()
		row.PoolID = &s
	}
	return row
}

// OperationRowsFromBatch converts a command's operation batch into rows.
func OperationRowsFromBatch(b *event.Batch) []OperationRow {
	if b == nil || len(b.Ops) == 0 {
		return nil
	}

	rows := make([]OperationRow, 0, len(b.Ops))
	for _, op := range b.Ops {
		row := OperationRow{
			OpID:       op.OpID.String(),
			BatchID:    b.BatchID.String(),
			CommandRef: b.CommandRef,
			Sequence:   op.Sequence,
			Kind:       string(op.Kind),
			Token:      op.Token,
			Amount:     "0",
			Proposal:   op.Proposal,
			Timestamp:  op.Timestamp,
		}
		if op.Pool != nil {
			s := op.Pool.String()
			row.PoolID = &s
		}
		if op.Account != nil {
			s := op.Account.String()
			row.Account = &s
		}
		if op.Counterparty != nil {
			s := op.Counterparty.String()
			row.Counterparty = &s
		}
		if op.Amount != nil {
			row.Amount = op.Amount.String()
		}
		if len(op.NftIDs) > 0 {
			row.NftIDs = make([]int64, len(op.NftIDs))
			for i, id := range op.NftIDs {
				row.NftIDs[i] = int64(id)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteCommandBatch writes a batch of commands to command_log.commands.
func (w *CommandLogWriter) WriteCommandBatch(ctx context.Context, ex execer, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO command_log.commands
		(sequence, command_type, idempotency_key, pool_id, payload, state_hash, prev_hash, timestamp, block, source_sequence)
		VALUES `

	values := make([]string, 0, len(commands))
	args := make([]interface{}, 0, len(commands)*10)

	for i, c := range commands {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			c.Sequence, c.CommandType, c.IdempotencyKey, c.PoolID,
			c.Payload, c.StateHash, c.PrevHash, c.Timestamp, c.Block, c.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteOperationBatch writes a batch of operations to command_log.operations.
func (w *CommandLogWriter) WriteOperationBatch(ctx context.Context, ex execer, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO command_log.operations
		(op_id, batch_id, command_ref, sequence, kind, pool_id, account, counterparty, token, amount, nft_ids, proposal, timestamp)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*13)

	for i, o := range ops {
		base := i * 13
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
			base+8, base+9, base+10, base+11, base+12, base+13,
		))
		args = append(args,
			o.OpID, o.BatchID, o.CommandRef, o.Sequence, o.Kind,
			o.PoolID, o.Account, o.Counterparty, o.Token, o.Amount,
			pq.Array(o.NftIDs), o.Proposal, o.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (op_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// MarshalPayload serializes a command payload to JSON for storage.
func MarshalPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
