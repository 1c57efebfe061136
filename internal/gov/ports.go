package gov

import (
	"math/big"

	"github.com/google/uuid"
)

// TokenPort is the fungible-collateral collaborator. Amounts cross this
// boundary in the token's native precision.
type TokenPort interface {
	// Decimals returns the token's native precision, false if unregistered
	Decimals(token string) (uint8, bool)

	// BalanceOf returns the account's balance in native units
	BalanceOf(account uuid.UUID, token string) *big.Int

	// Transfer moves native-unit funds between accounts
	Transfer(from, to uuid.UUID, token string, amount *big.Int) error
}

// NftPort is the non-fungible-collateral collaborator.
type NftPort interface {
	// OwnerOf returns the current owner of an id, false if it does not exist
	OwnerOf(collection string, id uint64) (uuid.UUID, bool)

	// OwnedTokens enumerates an account's ids in ascending order. Returns
	// false when the collection is non-enumerable.
	OwnedTokens(account uuid.UUID, collection string) ([]uint64, bool)

	// TotalSupply returns the collection size, false when unknown
	TotalSupply(collection string) (int, bool)

	// Transfer moves one id between accounts
	Transfer(from, to uuid.UUID, collection string, id uint64) error

	// PowerOf returns the per-token power score, false when the
	// collection has no power extension
	PowerOf(collection string, id uint64) (*big.Int, bool)
}
