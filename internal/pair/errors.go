package pair

import (
	"errors"

	"github.com/0gfoundation/0g-nft-lending/internal/collateral"
	"github.com/0gfoundation/0g-nft-lending/internal/commitment"
	"github.com/0gfoundation/0g-nft-lending/internal/interest"
	"github.com/0gfoundation/0g-nft-lending/internal/vault"
)

// Kind groups rejections by cause so callers can tell them apart.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPrecondition
	KindTemporal
	KindSettlement
	KindArithmetic
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindTemporal:
		return "temporal"
	case KindSettlement:
		return "settlement"
	case KindArithmetic:
		return "arithmetic"
	case KindAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// Error is a classified pair rejection. Compare with errors.Is against the
// exported sentinels.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

// NewError returns a classified sentinel for packages built on the pair.
func NewError(k Kind, msg string) *Error { return &Error{Kind: k, msg: msg} }

var (
	ErrNoLoan            = NewError(KindPrecondition, "pair: no loan")
	ErrLoanExists        = NewError(KindPrecondition, "pair: loan exists")
	ErrNotRequested      = NewError(KindPrecondition, "pair: loan not requested")
	ErrNotBorrower       = NewError(KindPrecondition, "pair: not the borrower")
	ErrNotLender         = NewError(KindPrecondition, "pair: not the lender")
	ErrTermsChanged      = NewError(KindPrecondition, "pair: loan terms changed")
	ErrWorseTerms        = NewError(KindPrecondition, "pair: worse params")
	ErrCollateralNotHeld = NewError(KindPrecondition, "pair: skim collateral not held")
	ErrValuationTooLarge = NewError(KindPrecondition, "pair: valuation exceeds 128 bits")
	ErrRateTimeTooLarge  = NewError(KindPrecondition, "pair: duration times rate exceeds interest bound")
	ErrZeroAddress       = NewError(KindPrecondition, "pair: zero address")
	ErrLoanRejected      = NewError(KindPrecondition, "pair: loan rejected by lender hook")

	ErrLoanExpired      = NewError(KindTemporal, "pair: loan expired")
	ErrNotExpired       = NewError(KindTemporal, "pair: not expired")
	ErrSignatureExpired = NewError(KindTemporal, "pair: signature expired")

	ErrFeeRecipientUnset = NewError(KindSettlement, "pair: fee recipient not set")

	ErrSignatureInvalid = NewError(KindAuthorization, "pair: signature invalid")
)

// KindOf classifies err, including errors returned by the vault, collateral,
// interest and commitment packages. Unrecognised errors are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, vault.ErrSkimTooMuch),
		errors.Is(err, vault.ErrInsufficientShares),
		errors.Is(err, vault.ErrInsufficientFunds),
		errors.Is(err, vault.ErrZeroAddress),
		errors.Is(err, vault.ErrInvalidAmount):
		return KindSettlement
	case errors.Is(err, interest.ErrOverflow),
		errors.Is(err, interest.ErrInvalidPrincipal):
		return KindArithmetic
	case errors.Is(err, commitment.ErrBadSignature):
		return KindAuthorization
	case errors.Is(err, collateral.ErrNonexistentToken),
		errors.Is(err, collateral.ErrNotOwner),
		errors.Is(err, collateral.ErrNotApproved),
		errors.Is(err, collateral.ErrZeroAddress),
		errors.Is(err, collateral.ErrAlreadyMinted),
		errors.Is(err, collateral.ErrInvalidTokenID):
		return KindPrecondition
	}
	return KindUnknown
}

// IsWrongCaller reports whether err rejects the caller's identity rather
// than the loan's state.
func IsWrongCaller(err error) bool {
	return errors.Is(err, ErrNotBorrower) || errors.Is(err, ErrNotLender)
}
