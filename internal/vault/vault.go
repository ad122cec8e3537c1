// Package vault moves asset value in and out of the lending pair through a
// pooled share vault whose assets-per-share rate drifts as it earns yield.
package vault

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrSkimTooMuch        = errors.New("vault: skim too much")
	ErrInsufficientShares = errors.New("vault: insufficient share balance")
	ErrInsufficientFunds  = errors.New("vault: insufficient token balance")
	ErrZeroAddress        = errors.New("vault: transfer to zero address")
	ErrInvalidAmount      = errors.New("vault: invalid amount")
)

// Vault is the pooled settlement vault as seen by the pair. Share amounts are
// per token; conversions use the vault's rate at the time of the call.
//
// Snapshot, RevertToSnapshot and DiscardSnapshot journal the vault's state so
// a caller can undo every change made after a snapshot.
type Vault interface {
	ToShares(token common.Address, amount *big.Int, roundUp bool) (*big.Int, error)
	ToAmount(token common.Address, shares *big.Int, roundUp bool) (*big.Int, error)
	Transfer(token, from, to common.Address, shares *big.Int) error
	Deposit(token, from, to common.Address, amount *big.Int) (amountOut, sharesOut *big.Int, err error)
	Withdraw(token, from, to common.Address, shares *big.Int) (amountOut, sharesOut *big.Int, err error)
	BalanceOf(token, holder common.Address) *big.Int

	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}
