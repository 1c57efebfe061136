package persistence_test

import (
	"context"
	"crypto/sha256"
	"math/big"
	"testing"
	"time"

	"PoolCore/internal/event"
	"PoolCore/internal/persistence"
	"PoolCore/internal/testutil"

	"github.com/google/uuid"
)

func sampleEnvelope(seq int64, poolID *uuid.UUID) *event.Envelope {
	return &event.Envelope{
		Sequence:       seq,
		IdempotencyKey: uuid.NewString(),
		CommandType:    event.CommandTypeInvest,
		PoolID:         poolID,
		Timestamp:      time.UnixMicro(1_700_000_000_000_000),
		Block:          42,
		SourceSequence: seq + 100,
		Payload:        []byte(`{"Investor":"x"}`),
		StateHash:      sha256.Sum256([]byte("state")),
		PrevHash:       sha256.Sum256([]byte("prev")),
	}
}

func TestCommandRowFromEnvelope(t *testing.T) {
	poolID := uuid.New()
	env := sampleEnvelope(9, &poolID)

	row := persistence.CommandRowFromEnvelope(env)

	if row.Sequence != 9 || row.CommandType != "Invest" {
		t.Errorf("row header = %d/%s, want 9/Invest", row.Sequence, row.CommandType)
	}
	if row.PoolID == nil || *row.PoolID != poolID.String() {
		t.Errorf("pool id = %v, want %s", row.PoolID, poolID)
	}
	if row.IdempotencyKey != env.IdempotencyKey {
		t.Errorf("idempotency key = %s, want %s", row.IdempotencyKey, env.IdempotencyKey)
	}
	if string(row.StateHash) != string(env.StateHash[:]) {
		t.Error("state hash not copied")
	}
	if string(row.Payload) != `{"Investor":"x"}` {
		t.Errorf("payload = %s", row.Payload)
	}

	// Governance commands have no pool context.
	govRow := persistence.CommandRowFromEnvelope(sampleEnvelope(10, nil))
	if govRow.PoolID != nil {
		t.Errorf("gov pool id = %v, want nil", govRow.PoolID)
	}
}

func TestOperationRowsFromBatch(t *testing.T) {
	poolID := uuid.New()
	account := uuid.New()

	batch := &event.Batch{
		BatchID:    uuid.New(),
		CommandRef: "cmd-1",
		Sequence:   5,
		Timestamp:  1234,
		Ops: []event.Operation{
			{
				OpID:      uuid.New(),
				Kind:      event.OpLPMint,
				Pool:      &poolID,
				Account:   &account,
				Token:     "USDT",
				Amount:    big.NewInt(500),
				Sequence:  5,
				Timestamp: 1234,
			},
			{
				OpID:      uuid.New(),
				Kind:      event.OpNftLock,
				Account:   &account,
				NftIDs:    []uint64{2, 4},
				Proposal:  7,
				Sequence:  5,
				Timestamp: 1234,
			},
		},
	}

	rows := persistence.OperationRowsFromBatch(batch)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	mint := rows[0]
	if mint.Kind != string(event.OpLPMint) || mint.Amount != "500" || mint.Token != "USDT" {
		t.Errorf("mint row = %+v", mint)
	}
	if mint.PoolID == nil || *mint.PoolID != poolID.String() {
		t.Errorf("mint pool = %v", mint.PoolID)
	}
	if mint.BatchID != batch.BatchID.String() || mint.CommandRef != "cmd-1" {
		t.Errorf("mint batch linkage = %s/%s", mint.BatchID, mint.CommandRef)
	}

	lock := rows[1]
	// Set-mutating operations carry a zero amount, never an empty string:
	// the column is NUMERIC.
	if lock.Amount != "0" {
		t.Errorf("lock amount = %q, want 0", lock.Amount)
	}
	if len(lock.NftIDs) != 2 || lock.NftIDs[0] != 2 || lock.NftIDs[1] != 4 {
		t.Errorf("lock nft ids = %v", lock.NftIDs)
	}
	if lock.Proposal != 7 {
		t.Errorf("lock proposal = %d", lock.Proposal)
	}
}

func TestWriterAndSnapshotRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewCommandLogWriter(db, 10, time.Millisecond)
	poolID := uuid.New()

	rows := []persistence.CommandRow{
		persistence.CommandRowFromEnvelope(sampleEnvelope(1, &poolID)),
		persistence.CommandRowFromEnvelope(sampleEnvelope(2, &poolID)),
	}
	if err := writer.WriteCommandBatch(ctx, db, rows); err != nil {
		t.Fatalf("write commands: %v", err)
	}
	// Re-writing the same sequences is a no-op, not an error.
	if err := writer.WriteCommandBatch(ctx, db, rows); err != nil {
		t.Fatalf("rewrite commands: %v", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	loaded, err := snapMgr.LoadCommandsFrom(ctx, 1, 100)
	if err != nil {
		t.Fatalf("load commands: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded = %d rows, want 2", len(loaded))
	}
	if loaded[0].Sequence != 1 || loaded[1].Sequence != 2 {
		t.Errorf("order = %d,%d", loaded[0].Sequence, loaded[1].Sequence)
	}
	if string(loaded[0].Payload) != string(rows[0].Payload) {
		t.Errorf("payload = %s", loaded[0].Payload)
	}
	if string(loaded[0].StateHash) != string(rows[0].StateHash) {
		t.Error("state hash lost")
	}

	head, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if head != 2 {
		t.Errorf("head = %d, want 2", head)
	}

	// Idempotency checker sees the written commands.
	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate(rows[0].CommandType, rows[0].IdempotencyKey)
	if err != nil {
		t.Fatalf("duplicate check: %v", err)
	}
	if !dup {
		t.Error("expected written command to be a duplicate")
	}
	dup, err = checker.IsDuplicate("Invest", uuid.NewString())
	if err != nil {
		t.Fatalf("duplicate check: %v", err)
	}
	if dup {
		t.Error("unexpected duplicate for fresh key")
	}
}
