package query

import "github.com/google/uuid"

// PoolResponse represents a pool summary for API queries.
// Amounts are normalized 18-decimal integers as base-10 strings.
type PoolResponse struct {
	PoolID        uuid.UUID `json:"pool_id"`
	Trader        string    `json:"trader"`
	BaseToken     string    `json:"base_token"`
	Description   string    `json:"description"`
	Private       bool      `json:"private"`
	LPSupply      string    `json:"lp_supply"`
	InvestorCount int64     `json:"investor_count"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

// PositionResponse represents one open pool position for API queries.
type PositionResponse struct {
	PoolID       uuid.UUID `json:"pool_id"`
	Token        string    `json:"token"`
	Amount       string    `json:"amount"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// DelegationResponse represents one delegation edge for API queries.
type DelegationResponse struct {
	Delegator    string `json:"delegator"`
	Delegatee    string `json:"delegatee"`
	Tokens       string `json:"tokens"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// CommissionHistoryResponse represents one realized commission event.
type CommissionHistoryResponse struct {
	OpID         string  `json:"op_id"`
	PoolID       *string `json:"pool_id,omitempty"`
	Account      *string `json:"account,omitempty"`
	Kind         string  `json:"kind"`
	Amount       string  `json:"amount"`
	Sequence     int64   `json:"sequence"`
	Timestamp    int64   `json:"timestamp"`
	AsOfSequence int64   `json:"as_of_sequence"`
}

// CommandHistoryEntry represents one applied command from the log.
type CommandHistoryEntry struct {
	Sequence       int64   `json:"sequence"`
	CommandType    string  `json:"command_type"`
	IdempotencyKey string  `json:"idempotency_key"`
	PoolID         *string `json:"pool_id,omitempty"`
	Block          int64   `json:"block"`
	SourceSequence int64   `json:"source_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool         `json:"is_healthy"`
	HashChainBreaks  []int64      `json:"hash_chain_breaks,omitempty"`
	SupplyMismatches []SupplyDiff `json:"supply_mismatches,omitempty"`
}

// SupplyDiff represents a pool whose projected LP supply disagrees with
// the sum of its projected holder balances.
type SupplyDiff struct {
	PoolID   string `json:"pool_id"`
	Supply   string `json:"supply"`
	Balances string `json:"balances"`
}
