package assets

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// collection holds one NFT collection's ownership and power records.
type collection struct {
	owners     map[uint64]uuid.UUID
	powers     map[uint64]*big.Int
	enumerable bool
	hasPower   bool
}

// NftRegistry is the in-process non-fungible custody ledger.
type NftRegistry struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func NewNftRegistry() *NftRegistry {
	return &NftRegistry{collections: make(map[string]*collection)}
}

// RegisterCollection declares a collection. Non-enumerable collections
// answer OwnedTokens and TotalSupply with false.
func (r *NftRegistry) RegisterCollection(name string, enumerable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.collections[name] == nil {
		r.collections[name] = &collection{
			owners:     make(map[uint64]uuid.UUID),
			powers:     make(map[uint64]*big.Int),
			enumerable: enumerable,
		}
	}
}

// MintNft assigns a fresh id to an owner, with an optional power score.
// A nil power leaves the collection without the power extension.
func (r *NftRegistry) MintNft(name string, id uint64, owner uuid.UUID, power *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.collections[name]
	if c == nil {
		return fmt.Errorf("unregistered collection %s", name)
	}
	if _, exists := c.owners[id]; exists {
		return fmt.Errorf("nft %s/%d already minted", name, id)
	}
	c.owners[id] = owner
	if power != nil {
		c.powers[id] = new(big.Int).Set(power)
		c.hasPower = true
	}
	return nil
}

func (r *NftRegistry) OwnerOf(name string, id uint64) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.collections[name]
	if c == nil {
		return uuid.Nil, false
	}
	owner, ok := c.owners[id]
	return owner, ok
}

func (r *NftRegistry) OwnedTokens(account uuid.UUID, name string) ([]uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.collections[name]
	if c == nil || !c.enumerable {
		return nil, false
	}
	var ids []uint64
	for id, owner := range c.owners {
		if owner == account {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, true
}

func (r *NftRegistry) TotalSupply(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.collections[name]
	if c == nil || !c.enumerable {
		return 0, false
	}
	return len(c.owners), true
}

func (r *NftRegistry) Transfer(from, to uuid.UUID, name string, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.collections[name]
	if c == nil {
		return fmt.Errorf("unregistered collection %s", name)
	}
	owner, ok := c.owners[id]
	if !ok {
		return fmt.Errorf("nft %s/%d does not exist", name, id)
	}
	if owner != from {
		return fmt.Errorf("nft %s/%d not owned by %s", name, id, from)
	}
	c.owners[id] = to
	return nil
}

func (r *NftRegistry) PowerOf(name string, id uint64) (*big.Int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.collections[name]
	if c == nil || !c.hasPower {
		return nil, false
	}
	p, ok := c.powers[id]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(p), true
}
