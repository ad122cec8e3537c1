package pair

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type EventType string

const (
	EventLoanRequested     EventType = "loan.requested"
	EventLoanFunded        EventType = "loan.funded"
	EventLoanTermsUpdated  EventType = "loan.terms_updated"
	EventLoanRepaid        EventType = "loan.repaid"
	EventCollateralRemoved EventType = "collateral.removed"
	EventFeesWithdrawn     EventType = "fees.withdrawn"
)

// Event is a committed state change. Share amounts are vault shares of the
// pair's asset; Amount is in asset units.
type Event struct {
	Type    EventType      `json:"type"`
	Pair    common.Address `json:"pair"`
	Time    uint64         `json:"time"`
	Sender  common.Address `json:"sender"`
	TokenID *big.Int       `json:"token_id,omitempty"`

	Borrower  *common.Address `json:"borrower,omitempty"`
	Lender    *common.Address `json:"lender,omitempty"`
	Recipient *common.Address `json:"recipient,omitempty"`
	Terms     *Terms          `json:"terms,omitempty"`
	StartTime uint64          `json:"start_time,omitempty"`

	// loan.funded: Shares pulled from the lender, PayeeShares to the borrower.
	// loan.repaid: Shares pulled from the payer, PayeeShares to the lender.
	// fees.withdrawn: Shares sent to the recipient.
	Amount      *big.Int `json:"amount,omitempty"`
	Shares      *big.Int `json:"shares,omitempty"`
	PayeeShares *big.Int `json:"payee_shares,omitempty"`
	FeeShares   *big.Int `json:"fee_shares,omitempty"`
}

// Emitter receives events after the operation that produced them commits.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, Event) error { return nil }

func addr(a common.Address) *common.Address { return &a }
