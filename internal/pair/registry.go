package pair

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-nft-lending/internal/interest"
	"github.com/0gfoundation/0g-nft-lending/internal/vault"
)

var bps = big.NewInt(interest.BPS)

// ── Loan records ──────────────────────────────────────────────────────────────

func (tx *Tx) loan(id *big.Int) (Loan, bool) {
	return tx.p.state.loan(id)
}

func (tx *Tx) putLoan(l Loan) { tx.p.state.loans[tokenKey(l.TokenID)] = l.clone() }

func (tx *Tx) deleteLoan(id *big.Int) { delete(tx.p.state.loans, tokenKey(id)) }

// Loan reads the record for id inside the transaction.
func (tx *Tx) Loan(id *big.Int) (Loan, bool) {
	l, ok := tx.loan(id)
	if !ok {
		return Loan{TokenID: cloneBig(id)}, false
	}
	return l.clone(), true
}

func (tx *Tx) FeesEarned() *big.Int { return new(big.Int).Set(tx.p.state.feesEarned) }

func (tx *Tx) addFees(shares *big.Int) {
	tx.p.state.feesEarned = new(big.Int).Add(tx.p.state.feesEarned, shares)
}

// elapsed is the loan's age at the transaction timestamp. A clock that
// reports a time before the start counts as zero.
func (tx *Tx) elapsed(l Loan) uint64 {
	if tx.now <= l.StartTime {
		return 0
	}
	return tx.now - l.StartTime
}

// ── Operations ────────────────────────────────────────────────────────────────

// RequestLoan takes custody of collateral id from the sender and opens a
// request on terms with recipient as borrower. With skimCollateral the pair
// must already hold the token.
func (tx *Tx) RequestLoan(id *big.Int, terms Terms, recipient common.Address, skimCollateral bool) error {
	return tx.requestLoan(tx.sender, id, terms, recipient, skimCollateral)
}

func (tx *Tx) requestLoan(from common.Address, id *big.Int, terms Terms, recipient common.Address, skim bool) error {
	if !validTokenID(id) {
		return fmt.Errorf("%w: invalid token id", ErrNoLoan)
	}
	if err := terms.validate(); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	if _, exists := tx.loan(id); exists {
		return ErrLoanExists
	}

	self := tx.p.params.Address
	if skim {
		owner, err := tx.p.token.OwnerOf(id)
		if err != nil || owner != self {
			return fmt.Errorf("%w: token %s", ErrCollateralNotHeld, id)
		}
	} else if err := tx.p.token.TransferFrom(self, from, self, id); err != nil {
		return fmt.Errorf("pair: take collateral %s: %w", id, err)
	}

	tx.putLoan(Loan{
		TokenID:  id,
		Status:   StatusRequested,
		Borrower: recipient,
		Terms:    terms,
	})
	tx.emit(Event{
		Type:     EventLoanRequested,
		Sender:   from,
		TokenID:  cloneBig(id),
		Borrower: addr(recipient),
		Terms:    ptrTerms(terms),
	})
	return nil
}

// UpdateLoanParams changes the terms of a request (borrower, any terms) or of
// an outstanding loan (lender, only terms no worse for the borrower).
func (tx *Tx) UpdateLoanParams(id *big.Int, terms Terms) error {
	if err := terms.validate(); err != nil {
		return err
	}
	l, ok := tx.loan(id)
	if !ok {
		return ErrNoLoan
	}
	switch l.Status {
	case StatusOutstanding:
		if tx.sender != l.Lender {
			return ErrNotLender
		}
		if !terms.NoWorseThan(l.Terms) {
			return ErrWorseTerms
		}
	case StatusRequested:
		if tx.sender != l.Borrower {
			return ErrNotBorrower
		}
	default:
		return ErrNoLoan
	}
	l.Terms = terms
	tx.putLoan(l)
	tx.emit(Event{
		Type:    EventLoanTermsUpdated,
		TokenID: cloneBig(id),
		Terms:   ptrTerms(terms),
	})
	return nil
}

// Lend funds the request on id as the sender. accepted must equal the stored
// terms exactly.
func (tx *Tx) Lend(id *big.Int, accepted Terms, skimFunds bool) error {
	return tx.lend(tx.sender, id, accepted, skimFunds)
}

func (tx *Tx) lend(lender common.Address, id *big.Int, accepted Terms, skim bool) error {
	l, ok := tx.loan(id)
	if !ok {
		return ErrNoLoan
	}
	if l.Status != StatusRequested {
		return ErrNotRequested
	}
	if !accepted.Equal(l.Terms) {
		return ErrTermsChanged
	}
	if lender == (common.Address{}) {
		return fmt.Errorf("%w: lender", ErrZeroAddress)
	}

	approved, err := tx.p.approvers.Resolve(lender).OnLoanRequest(tx.ctx, cloneBig(id), l.Terms.clone())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoanRejected, err)
	}
	if !approved {
		return ErrLoanRejected
	}

	total, err := tx.p.adapter.SharesIn(l.Terms.Valuation)
	if err != nil {
		return err
	}
	openFee := mulBPS(total, tx.p.params.OpenFeeBPS)
	protocolFee := mulBPS(openFee, tx.p.params.ProtocolFeeBPS)
	toBorrower := new(big.Int).Sub(total, openFee)
	fromLender := new(big.Int).Add(toBorrower, protocolFee)

	if err := tx.p.adapter.Collect(lender, fromLender, skim, tx.p.state.feesEarned); err != nil {
		return err
	}
	if err := tx.p.adapter.Pay(l.Borrower, toBorrower); err != nil {
		return err
	}
	tx.addFees(protocolFee)

	l.Lender = lender
	l.StartTime = tx.now
	l.Status = StatusOutstanding
	tx.putLoan(l)
	tx.emit(Event{
		Type:        EventLoanFunded,
		Sender:      lender,
		TokenID:     cloneBig(id),
		Borrower:    addr(l.Borrower),
		Lender:      addr(lender),
		Terms:       ptrTerms(l.Terms),
		StartTime:   tx.now,
		Shares:      fromLender,
		PayeeShares: toBorrower,
		FeeShares:   protocolFee,
	})
	return nil
}

// Repay settles the outstanding loan on id from the sender and returns the
// collateral to the borrower. Repayment is allowed up to and including the
// last second of the term.
func (tx *Tx) Repay(id *big.Int, skimFunds bool) error {
	l, ok := tx.loan(id)
	if !ok || l.Status != StatusOutstanding {
		return ErrNoLoan
	}
	elapsed := tx.elapsed(l)
	if elapsed > l.Terms.Duration {
		return ErrLoanExpired
	}

	owed, err := interest.Owed(l.Terms.Valuation, elapsed, l.Terms.AnnualInterestBPS)
	if err != nil {
		return fmt.Errorf("pair: interest on %s: %w", id, err)
	}
	fee := mulBPS(new(big.Int).Sub(owed, l.Terms.Valuation), tx.p.params.ProtocolFeeBPS)

	total, err := tx.p.adapter.SharesIn(owed)
	if err != nil {
		return err
	}
	feeShares, err := tx.p.adapter.SharesOut(fee)
	if err != nil {
		return err
	}
	toLender := new(big.Int).Sub(total, feeShares)

	if err := tx.p.adapter.Collect(tx.sender, total, skimFunds, tx.p.state.feesEarned); err != nil {
		return err
	}
	if err := tx.p.adapter.Pay(l.Lender, toLender); err != nil {
		return err
	}
	tx.addFees(feeShares)

	self := tx.p.params.Address
	if err := tx.p.token.TransferFrom(self, self, l.Borrower, id); err != nil {
		return fmt.Errorf("pair: release collateral %s: %w", id, err)
	}
	tx.deleteLoan(id)
	tx.emit(Event{
		Type:        EventLoanRepaid,
		TokenID:     cloneBig(id),
		Borrower:    addr(l.Borrower),
		Lender:      addr(l.Lender),
		Amount:      owed,
		Shares:      total,
		PayeeShares: toLender,
		FeeShares:   feeShares,
	})
	return nil
}

// RemoveCollateral releases token id to recipient. The borrower may withdraw
// an unfunded request; the lender may seize once the term has strictly
// passed; anyone may sweep a token the pair holds without a record.
func (tx *Tx) RemoveCollateral(id *big.Int, recipient common.Address) error {
	if !validTokenID(id) {
		return fmt.Errorf("%w: invalid token id", ErrNoLoan)
	}
	l, ok := tx.loan(id)
	if ok {
		switch l.Status {
		case StatusRequested:
			if tx.sender != l.Borrower {
				return ErrNotBorrower
			}
		case StatusOutstanding:
			if tx.sender != l.Lender {
				return ErrNotLender
			}
			if tx.elapsed(l) <= l.Terms.Duration {
				return ErrNotExpired
			}
		}
	}

	self := tx.p.params.Address
	if err := tx.p.token.TransferFrom(self, self, recipient, id); err != nil {
		return fmt.Errorf("pair: release collateral %s: %w", id, err)
	}
	if ok {
		tx.deleteLoan(id)
	}
	ev := Event{
		Type:      EventCollateralRemoved,
		TokenID:   cloneBig(id),
		Recipient: addr(recipient),
	}
	if ok {
		ev.Borrower = addr(l.Borrower)
		if l.Status == StatusOutstanding {
			ev.Lender = addr(l.Lender)
		}
	}
	tx.emit(ev)
	return nil
}

// WithdrawFees sends the whole fee balance to the configured recipient.
func (tx *Tx) WithdrawFees() error {
	shares := new(big.Int).Set(tx.p.state.feesEarned)
	to := tx.p.params.FeeRecipient
	if shares.Sign() > 0 {
		if err := tx.p.adapter.Pay(to, shares); err != nil {
			if errors.Is(err, vault.ErrZeroAddress) {
				return fmt.Errorf("%w: %v", ErrFeeRecipientUnset, err)
			}
			return err
		}
	}
	tx.p.state.feesEarned = new(big.Int)
	tx.emit(Event{
		Type:      EventFeesWithdrawn,
		Recipient: addr(to),
		Shares:    shares,
	})
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// mulBPS returns floor(v * rate / BPS).
func mulBPS(v *big.Int, rate uint16) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(int64(rate)))
	return out.Quo(out, bps)
}

func ptrTerms(t Terms) *Terms {
	c := t.clone()
	return &c
}
