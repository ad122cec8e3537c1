package pair

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-nft-lending/internal/commitment"
)

// consumeNonce returns signer's current nonce and advances it. The advance is
// part of the transaction, so a rejected operation leaves the nonce unused.
func (tx *Tx) consumeNonce(signer common.Address) uint64 {
	n := tx.p.state.nonces[signer]
	tx.p.state.nonces[signer] = n + 1
	return n
}

func (tx *Tx) verify(signer common.Address, msg commitment.Message, deadline uint64, sig []byte) error {
	if tx.now > deadline {
		return ErrSignatureExpired
	}
	got, err := commitment.Recover(tx.p.Domain(), msg, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if got != signer {
		return ErrSignatureInvalid
	}
	return nil
}

// RequestAndBorrow posts collateral id on behalf of recipient and funds it in
// the same step with lender's signed Lend commitment. anyTokenID selects a
// commitment signed for any token of the collection.
func (tx *Tx) RequestAndBorrow(id *big.Int, lender, recipient common.Address, terms Terms, skimCollateral, anyTokenID bool, deadline uint64, sig []byte) error {
	if err := terms.validate(); err != nil {
		return err
	}
	msg := commitment.Lend{
		Contract:          tx.p.token.Address(),
		TokenID:           cloneBig(id),
		AnyTokenID:        anyTokenID,
		Valuation:         cloneBig(terms.Valuation),
		Duration:          terms.Duration,
		AnnualInterestBPS: terms.AnnualInterestBPS,
		Nonce:             tx.consumeNonce(lender),
		Deadline:          deadline,
	}
	if err := tx.verify(lender, msg, deadline, sig); err != nil {
		return err
	}
	if err := tx.requestLoan(tx.sender, id, terms, recipient, skimCollateral); err != nil {
		return err
	}
	return tx.lend(lender, id, terms, false)
}

// TakeCollateralAndLend takes collateral id from borrower under the
// borrower's signed Borrow commitment and funds it from the sender.
func (tx *Tx) TakeCollateralAndLend(id *big.Int, borrower common.Address, terms Terms, skimFunds bool, deadline uint64, sig []byte) error {
	if err := terms.validate(); err != nil {
		return err
	}
	msg := commitment.Borrow{
		Contract:          tx.p.token.Address(),
		TokenID:           cloneBig(id),
		Valuation:         cloneBig(terms.Valuation),
		Duration:          terms.Duration,
		AnnualInterestBPS: terms.AnnualInterestBPS,
		Nonce:             tx.consumeNonce(borrower),
		Deadline:          deadline,
	}
	if err := tx.verify(borrower, msg, deadline, sig); err != nil {
		return err
	}
	if err := tx.requestLoan(borrower, id, terms, borrower, false); err != nil {
		return err
	}
	return tx.lend(tx.sender, id, terms, skimFunds)
}
