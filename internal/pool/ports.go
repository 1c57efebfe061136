package pool

import (
	"math/big"

	"github.com/google/uuid"
)

// AssetPort is the fungible-asset collaborator. Amounts cross this
// boundary in each token's native precision; the ledger converts with
// the decimal normalizer on its side.
type AssetPort interface {
	// Decimals returns the token's native precision, false if unregistered
	Decimals(token string) (uint8, bool)

	// BalanceOf returns the account's balance in native units
	BalanceOf(account uuid.UUID, token string) *big.Int

	// Transfer moves native-unit funds between accounts
	Transfer(from, to uuid.UUID, token string, amount *big.Int) error

	// Approve grants spender a standing allowance over owner's funds
	Approve(owner, spender uuid.UUID, token string, amount *big.Int) error

	// Allowance returns the remaining approved amount in native units
	Allowance(owner, spender uuid.UUID, token string) *big.Int
}

// PriceOracle is the quoting and routing collaborator. All amounts on
// this boundary are normalized 18-decimal units; the oracle handles
// native conversion and DEX routing internally. The core never computes
// prices itself.
type PriceOracle interface {
	// GetPriceOut quotes how much of `to` an exact input of `from` buys (view)
	GetPriceOut(from, to string, amountIn *big.Int, route []string) (*big.Int, error)

	// GetPriceIn quotes how much of `from` an exact output of `to` costs (view)
	GetPriceIn(from, to string, amountOut *big.Int, route []string) (*big.Int, error)

	// ExchangeExactIn swaps an exact input from owner's funds, failing below minOut
	ExchangeExactIn(owner uuid.UUID, from, to string, amountIn, minOut *big.Int, route []string) (*big.Int, error)

	// ExchangeExactOut swaps for an exact output, failing above maxIn
	ExchangeExactOut(owner uuid.UUID, from, to string, amountOut, maxIn *big.Int, route []string) (*big.Int, error)
}

// maxAllowance is the one-time standing grant made to the oracle per token.
var maxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
