package ingestion

import (
	"PoolCore/internal/event"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// AdminIngestService provides manual command injection via the admin HTTP
// API. It is for operational interventions, not for high-throughput
// ingestion (use NATS for that). Injected commands use the wall clock for
// both block context and source sequence because they bypass the
// sequencer.
type AdminIngestService struct {
	commandChan chan<- event.Command
}

func NewAdminIngestService(commandChan chan<- event.Command) *AdminIngestService {
	return &AdminIngestService{commandChan: commandChan}
}

func adminMeta(pool *uuid.UUID) event.Meta {
	now := time.Now().UnixMicro()
	return event.Meta{
		CommandID: uuid.New(),
		Pool:      pool,
		BlockNum:  now,
		Time:      now,
		Sequence:  now, // Admin-injected: use timestamp as sequence
	}
}

// InjectInvest manually injects an Invest command.
func (s *AdminIngestService) InjectInvest(
	ctx context.Context,
	poolID, investor uuid.UUID,
	amount *big.Int,
) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	cmd := &event.Invest{
		Meta:     adminMeta(&poolID),
		Investor: investor,
		Amount:   amount,
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectCommissionSweep manually injects a CommissionSweep command.
func (s *AdminIngestService) InjectCommissionSweep(
	ctx context.Context,
	poolID, caller uuid.UUID,
	offset, limit int,
) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}

	cmd := &event.CommissionSweep{
		Meta:   adminMeta(&poolID),
		Caller: caller,
		Offset: offset,
		Limit:  limit,
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectSetGovAssets manually injects a SetGovAssets command.
func (s *AdminIngestService) InjectSetGovAssets(
	ctx context.Context,
	token, nftCollection string,
	nftTotalPower *big.Int,
	nftConfiguredCount int,
) error {
	if token == "" && nftCollection == "" {
		return fmt.Errorf("token or nft_collection required")
	}

	cmd := &event.SetGovAssets{
		Meta:               adminMeta(nil),
		Token:              token,
		NftCollection:      nftCollection,
		NftTotalPower:      nftTotalPower,
		NftConfiguredCount: nftConfiguredCount,
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectRefreshMaxLock manually injects a RefreshMaxLock command.
func (s *AdminIngestService) InjectRefreshMaxLock(
	ctx context.Context,
	voter uuid.UUID,
	proposals []int64,
) error {
	cmd := &event.RefreshMaxLock{
		Meta:      adminMeta(nil),
		Voter:     voter,
		Proposals: proposals,
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
