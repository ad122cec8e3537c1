// Package collateral holds the non-fungible tokens that secure loans.
package collateral

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNonexistentToken = errors.New("collateral: nonexistent token")
	ErrNotOwner         = errors.New("collateral: from is not the owner")
	ErrNotApproved      = errors.New("collateral: operator not owner nor approved")
	ErrAlreadyMinted    = errors.New("collateral: token already minted")
	ErrInvalidTokenID   = errors.New("collateral: token id is not a uint256")
	ErrZeroAddress      = errors.New("collateral: zero address")
	ErrUnknownMethod    = errors.New("collateral: unknown method")
)

// Token is one non-fungible token contract.
type Token interface {
	Address() common.Address
	OwnerOf(id *big.Int) (common.Address, error)
	// TransferFrom moves id from from to to, authorised by operator.
	TransferFrom(operator, from, to common.Address, id *big.Int) error

	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}
