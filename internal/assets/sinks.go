package assets

import (
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// PlatformSinks names the platform-side accounts that receive the fee
// split and attributes the insurance share per pool, so a shortfall in
// one pool can later be weighed against what it paid in.
type PlatformSinks struct {
	insurance uuid.UUID
	treasury  uuid.UUID
	dividends uuid.UUID

	mu      sync.Mutex
	inflows map[uuid.UUID]*big.Int
}

func NewPlatformSinks(insurance, treasury, dividends uuid.UUID) *PlatformSinks {
	return &PlatformSinks{
		insurance: insurance,
		treasury:  treasury,
		dividends: dividends,
		inflows:   make(map[uuid.UUID]*big.Int),
	}
}

func (s *PlatformSinks) InsuranceAccount() uuid.UUID { return s.insurance }
func (s *PlatformSinks) TreasuryAccount() uuid.UUID  { return s.treasury }
func (s *PlatformSinks) DividendsAccount() uuid.UUID { return s.dividends }

// ReceiveRewardFromPool records the insurance share attributed to a pool.
func (s *PlatformSinks) ReceiveRewardFromPool(poolID uuid.UUID, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.inflows[poolID]
	if total == nil {
		total = big.NewInt(0)
	}
	s.inflows[poolID] = new(big.Int).Add(total, amount)
	return nil
}

// InsuranceInflow returns the cumulative insurance share a pool has paid.
func (s *PlatformSinks) InsuranceInflow(poolID uuid.UUID) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.inflows[poolID]
	if total == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(total)
}
