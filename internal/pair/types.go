package pair

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-nft-lending/internal/interest"
)

// Status is the lifecycle stage of the loan on one collateral token.
type Status uint8

const (
	StatusNone        Status = 0
	StatusRequested   Status = 1
	StatusOutstanding Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusRequested:
		return "requested"
	case StatusOutstanding:
		return "outstanding"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none":
		*s = StatusNone
	case "requested":
		*s = StatusRequested
	case "outstanding":
		*s = StatusOutstanding
	default:
		return fmt.Errorf("pair: unknown status %q", b)
	}
	return nil
}

// Terms are the negotiated loan parameters. Valuation is the principal in
// asset units.
type Terms struct {
	Valuation         *big.Int `json:"valuation"`
	Duration          uint64   `json:"duration"`
	AnnualInterestBPS uint16   `json:"annual_interest_bps"`
}

// Equal reports whether every field of t matches o exactly.
func (t Terms) Equal(o Terms) bool {
	return cmpBig(t.Valuation, o.Valuation) == 0 &&
		t.Duration == o.Duration &&
		t.AnnualInterestBPS == o.AnnualInterestBPS
}

// NoWorseThan reports whether t is at least as good for the borrower as o:
// no larger valuation, no shorter duration and no higher rate.
func (t Terms) NoWorseThan(o Terms) bool {
	return cmpBig(t.Valuation, o.Valuation) <= 0 &&
		t.Duration >= o.Duration &&
		t.AnnualInterestBPS <= o.AnnualInterestBPS
}

func (t Terms) validate() error {
	if !interest.FitsUint128(t.Valuation) {
		return ErrValuationTooLarge
	}
	if !interest.WithinBound(t.Duration, t.AnnualInterestBPS) {
		return ErrRateTimeTooLarge
	}
	return nil
}

func (t Terms) clone() Terms {
	t.Valuation = cloneBig(t.Valuation)
	return t
}

// Loan is the record kept for one collateral token.
type Loan struct {
	TokenID   *big.Int       `json:"token_id"`
	Status    Status         `json:"status"`
	Borrower  common.Address `json:"borrower"`
	Lender    common.Address `json:"lender"`
	StartTime uint64         `json:"start_time"`
	Terms     Terms          `json:"terms"`
}

func (l Loan) clone() Loan {
	l.TokenID = cloneBig(l.TokenID)
	l.Terms = l.Terms.clone()
	return l
}

// Params configure one pair instance.
type Params struct {
	Address        common.Address // the pair's own address: vault account and EIP-712 verifying contract
	Asset          common.Address
	ChainID        *big.Int
	OpenFeeBPS     uint16
	ProtocolFeeBPS uint16
	FeeRecipient   common.Address
}

const (
	DefaultOpenFeeBPS     = 100
	DefaultProtocolFeeBPS = 1000
)

func tokenKey(id *big.Int) common.Hash { return common.BigToHash(id) }

// validTokenID reports whether id is a uint256. BigToHash drops the sign and
// the high bits, so anything else would alias another token's record.
func validTokenID(id *big.Int) bool {
	return id != nil && id.Sign() >= 0 && id.BitLen() <= 256
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cmpBig(a, b *big.Int) int {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b)
}
