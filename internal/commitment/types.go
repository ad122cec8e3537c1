package commitment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Domain binds a signature to one chain and one pair contract.
type Domain struct {
	ChainID  *big.Int       `json:"chain_id"`
	Contract common.Address `json:"contract"`
}

// Lend is a lender's offer to fund a loan on the given terms. With AnyTokenID
// set the offer covers any collateral token and TokenID is hashed as zero.
type Lend struct {
	Contract          common.Address `json:"contract"`
	TokenID           *big.Int       `json:"token_id"`
	AnyTokenID        bool           `json:"any_token_id"`
	Valuation         *big.Int       `json:"valuation"`
	Duration          uint64         `json:"duration"`
	AnnualInterestBPS uint16         `json:"annual_interest_bps"`
	Nonce             uint64         `json:"nonce"`
	Deadline          uint64         `json:"deadline"`
}

// Borrow is a borrower's offer to post TokenID as collateral on the given
// terms.
type Borrow struct {
	Contract          common.Address `json:"contract"`
	TokenID           *big.Int       `json:"token_id"`
	Valuation         *big.Int       `json:"valuation"`
	Duration          uint64         `json:"duration"`
	AnnualInterestBPS uint16         `json:"annual_interest_bps"`
	Nonce             uint64         `json:"nonce"`
	Deadline          uint64         `json:"deadline"`
}
