package pool

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/google/uuid"
)

// InvestorInfo is the per-investor accounting record. The trader never
// has one; their equity is tracked implicitly via LP balance.
type InvestorInfo struct {
	Investor uuid.UUID

	// Cost basis in normalized base units
	InvestedBase *big.Int

	// Epoch at/after which performance fee may next be extracted
	CommissionUnlockEpoch int64
}

// sortedInvestors returns investor ids in byte order. Pagination and
// sweep iteration must be deterministic across replicas and replays.
func (l *Ledger) sortedInvestors() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(l.investors))
	for id := range l.investors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

// InvestorPage returns the investor records in [offset, offset+limit) of
// the deterministic ordering.
func (l *Ledger) InvestorPage(offset, limit int) []*InvestorInfo {
	ids := l.sortedInvestors()
	if offset >= len(ids) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	page := make([]*InvestorInfo, 0, end-offset)
	for _, id := range ids[offset:end] {
		page = append(page, l.investors[id])
	}
	return page
}

// Investor returns the record for an account, nil if none exists.
func (l *Ledger) Investor(account uuid.UUID) *InvestorInfo {
	return l.investors[account]
}

// InvestorCount returns the number of live investor records.
func (l *Ledger) InvestorCount() int {
	return len(l.investors)
}

// GetAllInvestors returns every record in deterministic order (for
// snapshot creation).
func (l *Ledger) GetAllInvestors() []*InvestorInfo {
	result := make([]*InvestorInfo, 0, len(l.investors))
	for _, id := range l.sortedInvestors() {
		result = append(result, l.investors[id])
	}
	return result
}

// RestoreInvestor directly sets a record (used for snapshot restore).
func (l *Ledger) RestoreInvestor(info *InvestorInfo) {
	l.investors[info.Investor] = info
}
