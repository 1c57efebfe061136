package ingestion_test

import (
	"PoolCore/internal/event"
	"PoolCore/internal/ingestion"
	"encoding/json"
	"testing"
	"time"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseCreatePool(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":            "550e8400-e29b-41d4-a716-446655440000",
		"pool_id":               "660e8400-e29b-41d4-a716-446655440001",
		"block":                 int64(10),
		"timestamp_us":          int64(1700000000000000),
		"sequence":              int64(0),
		"trader":                "770e8400-e29b-41d4-a716-446655440002",
		"description":           "momentum fund",
		"base_token":            "USDC",
		"total_lp_emission":     "0",
		"min_invest":            "1000000000000000000",
		"commission_period":     int32(1),
		"commission_percentage": "200000000000000000000000000",
		"leverage_threshold":    "2500000000000000000000",
		"leverage_slope":        "0",
		"investor_limit":        50,
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "CreatePool")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cp, ok := cmd.(*event.CreatePool)
	if !ok {
		t.Fatalf("expected *event.CreatePool, got %T", cmd)
	}

	if cp.BaseToken != "USDC" {
		t.Errorf("base_token: got %s, want USDC", cp.BaseToken)
	}
	if cp.PoolID() == nil || cp.PoolID().String() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("pool_id: got %v", cp.PoolID())
	}
	if cp.MinInvest.String() != "1000000000000000000" {
		t.Errorf("min_invest: got %s", cp.MinInvest)
	}
	if cp.InvestorLimit != 50 {
		t.Errorf("investor_limit: got %d, want 50", cp.InvestorLimit)
	}
	if cp.CommandType() != event.CommandTypeCreatePool {
		t.Errorf("command type: got %v, want CreatePool", cp.CommandType())
	}
}

func TestParseInvest(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"pool_id":      "660e8400-e29b-41d4-a716-446655440001",
		"block":        int64(11),
		"timestamp_us": int64(1700000000000000),
		"sequence":     int64(1),
		"investor":     "770e8400-e29b-41d4-a716-446655440002",
		"amount":       "500000000000000000000",
		"min_positions_out": []map[string]interface{}{
			{"token": "WETH", "amount": "100000000000000000"},
		},
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "Invest")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	inv, ok := cmd.(*event.Invest)
	if !ok {
		t.Fatalf("expected *event.Invest, got %T", cmd)
	}

	if inv.Amount.String() != "500000000000000000000" {
		t.Errorf("amount: got %s", inv.Amount)
	}
	if len(inv.MinPositionsOut) != 1 || inv.MinPositionsOut[0].Token != "WETH" {
		t.Errorf("bounds: got %+v", inv.MinPositionsOut)
	}
	if inv.SourceSequence() != 1 {
		t.Errorf("sequence: got %d, want 1", inv.SourceSequence())
	}
}

func TestParseExchange(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"pool_id":      "660e8400-e29b-41d4-a716-446655440001",
		"block":        int64(12),
		"timestamp_us": int64(1700000000000000),
		"sequence":     int64(2),
		"caller":       "770e8400-e29b-41d4-a716-446655440002",
		"from":         "USDC",
		"to":           "WETH",
		"amount":       "250000000000000000000",
		"bound":        "80000000000000000",
		"mode":         "exact_in",
		"route":        []string{"USDC", "WETH"},
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "Exchange")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ex, ok := cmd.(*event.Exchange)
	if !ok {
		t.Fatalf("expected *event.Exchange, got %T", cmd)
	}

	if ex.From != "USDC" || ex.To != "WETH" {
		t.Errorf("pair: got %s -> %s", ex.From, ex.To)
	}
	if ex.Mode != event.ExchangeExactIn {
		t.Errorf("mode: got %v, want ExchangeExactIn", ex.Mode)
	}
	if len(ex.Route) != 2 {
		t.Errorf("route: got %v", ex.Route)
	}
}

func TestParseExchange_ExactOutMode(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"pool_id":      "660e8400-e29b-41d4-a716-446655440001",
		"block":        int64(12),
		"timestamp_us": int64(1700000000000000),
		"sequence":     int64(2),
		"caller":       "770e8400-e29b-41d4-a716-446655440002",
		"from":         "WETH",
		"to":           "USDC",
		"amount":       "100000000000000000000",
		"mode":         "exact_out",
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "Exchange")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.(*event.Exchange).Mode != event.ExchangeExactOut {
		t.Error("mode: want ExchangeExactOut")
	}
}

func TestParseGovDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"block":        int64(20),
		"timestamp_us": int64(1700000000000000),
		"sequence":     int64(0),
		"account":      "770e8400-e29b-41d4-a716-446655440002",
		"tokens":       "100000000000000000000",
		"nft_ids":      []uint64{1, 5, 9},
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "GovDeposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := cmd.(*event.GovDeposit)
	if !ok {
		t.Fatalf("expected *event.GovDeposit, got %T", cmd)
	}

	if dep.PoolID() != nil {
		t.Error("governance command must carry no pool id")
	}
	if dep.Tokens.String() != "100000000000000000000" {
		t.Errorf("tokens: got %s", dep.Tokens)
	}
	if len(dep.NftIDs) != 3 || dep.NftIDs[2] != 9 {
		t.Errorf("nft_ids: got %v", dep.NftIDs)
	}
}

func TestParseDelegate(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"block":        int64(21),
		"timestamp_us": int64(1700000000000000),
		"sequence":     int64(1),
		"from":         "770e8400-e29b-41d4-a716-446655440002",
		"to":           "880e8400-e29b-41d4-a716-446655440003",
		"tokens":       "40000000000000000000",
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "Delegate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	del, ok := cmd.(*event.Delegate)
	if !ok {
		t.Fatalf("expected *event.Delegate, got %T", cmd)
	}
	if del.Tokens.String() != "40000000000000000000" {
		t.Errorf("tokens: got %s", del.Tokens)
	}
	if del.From.String() != "770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("from: got %s", del.From)
	}
}

func TestParseVoteLock(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"block":        int64(22),
		"timestamp_us": int64(1700000000000000),
		"sequence":     int64(2),
		"voter":        "770e8400-e29b-41d4-a716-446655440002",
		"proposal":     int64(7),
		"tokens":       "30000000000000000000",
		"nft_ids":      []uint64{2},
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "VoteLock")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	vl, ok := cmd.(*event.VoteLock)
	if !ok {
		t.Fatalf("expected *event.VoteLock, got %T", cmd)
	}
	if vl.Proposal != 7 {
		t.Errorf("proposal: got %d, want 7", vl.Proposal)
	}
	if len(vl.NftIDs) != 1 || vl.NftIDs[0] != 2 {
		t.Errorf("nft_ids: got %v", vl.NftIDs)
	}
}

func TestParseSetGovAssets(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":           "550e8400-e29b-41d4-a716-446655440000",
		"block":                int64(1),
		"timestamp_us":         int64(1700000000000000),
		"sequence":             int64(0),
		"token":                "DGOV",
		"nft_collection":       "DGOV-NFT",
		"nft_total_power":      "1000000000000000000000",
		"nft_configured_count": 10,
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "SetGovAssets")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	sa, ok := cmd.(*event.SetGovAssets)
	if !ok {
		t.Fatalf("expected *event.SetGovAssets, got %T", cmd)
	}
	if sa.Token != "DGOV" || sa.NftCollection != "DGOV-NFT" {
		t.Errorf("assets: got %s / %s", sa.Token, sa.NftCollection)
	}
	if sa.NftConfiguredCount != 10 {
		t.Errorf("configured count: got %d", sa.NftConfiguredCount)
	}
}

func TestParseMissingPoolID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"block":        int64(11),
		"timestamp_us": int64(1700000000000000),
		"sequence":     int64(1),
		"investor":     "770e8400-e29b-41d4-a716-446655440002",
		"amount":       "1",
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawCommand(raw, "Invest"); err == nil {
		t.Fatal("expected error for pool command without pool_id")
	}
}

func TestParseUnknownCommandType_Fails(t *testing.T) {
	raw := ingestion.RawCommand{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawCommand(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown command type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawCommand{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawCommand(raw, "Invest")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "not-a-uuid",
		"pool_id":      "also-not-a-uuid",
		"block":        int64(0),
		"timestamp_us": int64(0),
		"sequence":     int64(0),
		"investor":     "still-not-a-uuid",
		"amount":       "1",
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawCommand(raw, "Invest"); err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseInvalidAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"pool_id":      "660e8400-e29b-41d4-a716-446655440001",
		"block":        int64(11),
		"timestamp_us": int64(1700000000000000),
		"sequence":     int64(1),
		"investor":     "770e8400-e29b-41d4-a716-446655440002",
		"amount":       "12.5e3",
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawCommand(raw, "Invest"); err == nil {
		t.Fatal("expected error for non-integer amount")
	}
}
