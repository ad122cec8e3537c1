package api

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gin-gonic/gin"

	"github.com/0gfoundation/0g-nft-lending/internal/pair"
)

// TermsJSON accepts the valuation as a decimal or 0x-hex string.
type TermsJSON struct {
	Valuation         *math.HexOrDecimal256 `json:"valuation"`
	Duration          uint64                `json:"duration"`
	AnnualInterestBPS uint16                `json:"annual_interest_bps"`
}

func (t TermsJSON) terms() pair.Terms {
	return pair.Terms{
		Valuation:         (*big.Int)(t.Valuation),
		Duration:          t.Duration,
		AnnualInterestBPS: t.AnnualInterestBPS,
	}
}

// termsOf rejects terms without a valuation before they reach the engine.
func termsOf(c *gin.Context, t TermsJSON) (pair.Terms, bool) {
	if t.Valuation == nil {
		badRequest(c, "missing terms.valuation")
		return pair.Terms{}, false
	}
	return t.terms(), true
}

func termsJSON(t pair.Terms) TermsJSON {
	return TermsJSON{
		Valuation:         (*math.HexOrDecimal256)(t.Valuation),
		Duration:          t.Duration,
		AnnualInterestBPS: t.AnnualInterestBPS,
	}
}

type RequestPayload struct {
	Terms          TermsJSON      `json:"terms"`
	Recipient      common.Address `json:"recipient"`
	SkimCollateral bool           `json:"skim_collateral"`
}

type ParamsPayload struct {
	Terms TermsJSON `json:"terms"`
}

type LendPayload struct {
	Terms TermsJSON `json:"terms"`
	Skim  bool      `json:"skim"`
}

type RepayPayload struct {
	Skim bool `json:"skim"`
}

type RemovePayload struct {
	Recipient common.Address `json:"recipient"`
}

type RequestAndBorrowPayload struct {
	Lender         common.Address `json:"lender"`
	Recipient      common.Address `json:"recipient"`
	Terms          TermsJSON      `json:"terms"`
	SkimCollateral bool           `json:"skim_collateral"`
	AnyTokenID     bool           `json:"any_token_id"`
	Deadline       uint64         `json:"deadline"`
	Signature      hexutil.Bytes  `json:"signature"`
}

type TakeAndLendPayload struct {
	Borrower  common.Address `json:"borrower"`
	Terms     TermsJSON      `json:"terms"`
	Skim      bool           `json:"skim"`
	Deadline  uint64         `json:"deadline"`
	Signature hexutil.Bytes  `json:"signature"`
}

// LoanView is a loan record as served to clients.
type LoanView struct {
	TokenID    *math.HexOrDecimal256 `json:"token_id"`
	Status     pair.Status           `json:"status"`
	Borrower   common.Address        `json:"borrower"`
	Lender     common.Address        `json:"lender"`
	StartTime  uint64                `json:"start_time"`
	Expiry     uint64                `json:"expiry,omitempty"`
	Terms      TermsJSON             `json:"terms"`
	AmountOwed *math.HexOrDecimal256 `json:"amount_owed,omitempty"`
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *Server) handlePair(c *gin.Context) {
	p := s.Pair.Params()
	c.JSON(http.StatusOK, gin.H{
		"address":          p.Address,
		"asset":            p.Asset,
		"collateral":       s.Pair.Collateral().Address(),
		"chain_id":         (*math.HexOrDecimal256)(p.ChainID),
		"open_fee_bps":     p.OpenFeeBPS,
		"protocol_fee_bps": p.ProtocolFeeBPS,
		"fee_recipient":    p.FeeRecipient,
	})
}

func (s *Server) handleGetLoan(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}
	l, found := s.Pair.Loan(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no loan", "status": pair.StatusNone})
		return
	}
	view := LoanView{
		TokenID:   (*math.HexOrDecimal256)(l.TokenID),
		Status:    l.Status,
		Borrower:  l.Borrower,
		Lender:    l.Lender,
		StartTime: l.StartTime,
		Terms:     termsJSON(l.Terms),
	}
	if l.Status == pair.StatusOutstanding {
		view.Expiry = l.StartTime + l.Terms.Duration
		owed, err := s.Pair.AmountOwed(c.Request.Context(), id)
		switch {
		case err == nil:
			view.AmountOwed = (*math.HexOrDecimal256)(owed)
		case errors.Is(err, pair.ErrLoanExpired):
		default:
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleNonce(c *gin.Context) {
	who, ok := address(c, "address")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": who, "nonce": s.Pair.Nonce(who)})
}

func (s *Server) handleFees(c *gin.Context) {
	p := s.Pair.Params()
	c.JSON(http.StatusOK, gin.H{
		"fees_earned_shares": (*math.HexOrDecimal256)(s.Pair.FeesEarned()),
		"fee_recipient":      p.FeeRecipient,
	})
}

func (s *Server) handleVaultBalance(c *gin.Context) {
	holder, ok := address(c, "holder")
	if !ok {
		return
	}
	asset := s.Pair.Params().Asset
	shares := s.Pair.Vault().BalanceOf(asset, holder)
	amount, err := s.Pair.Vault().ToAmount(asset, shares, false)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := gin.H{
		"holder": holder,
		"asset":  asset,
		"shares": (*math.HexOrDecimal256)(shares),
		"amount": (*math.HexOrDecimal256)(amount),
	}
	if s.Faucet != nil {
		out["wallet"] = (*math.HexOrDecimal256)(s.Faucet.Vault.WalletOf(asset, holder))
	}
	c.JSON(http.StatusOK, out)
}

// ── Signed operations ─────────────────────────────────────────────────────────

func (s *Server) done(c *gin.Context, id *big.Int, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	l, _ := s.Pair.Loan(id)
	c.JSON(http.StatusOK, gin.H{"token_id": (*math.HexOrDecimal256)(id), "status": l.Status})
}

func (s *Server) handleRequest(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}
	var p RequestPayload
	if !payload(c, &p) {
		return
	}
	terms, ok := termsOf(c, p.Terms)
	if !ok {
		return
	}
	err := s.Pair.RequestLoan(c.Request.Context(), sender(c), id, terms, p.Recipient, p.SkimCollateral)
	s.done(c, id, err)
}

func (s *Server) handleParams(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}
	var p ParamsPayload
	if !payload(c, &p) {
		return
	}
	terms, ok := termsOf(c, p.Terms)
	if !ok {
		return
	}
	s.done(c, id, s.Pair.UpdateLoanParams(c.Request.Context(), sender(c), id, terms))
}

func (s *Server) handleLend(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}
	var p LendPayload
	if !payload(c, &p) {
		return
	}
	terms, ok := termsOf(c, p.Terms)
	if !ok {
		return
	}
	s.done(c, id, s.Pair.Lend(c.Request.Context(), sender(c), id, terms, p.Skim))
}

func (s *Server) handleRepay(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}
	var p RepayPayload
	if !payload(c, &p) {
		return
	}
	s.done(c, id, s.Pair.Repay(c.Request.Context(), sender(c), id, p.Skim))
}

func (s *Server) handleRemove(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}
	var p RemovePayload
	if !payload(c, &p) {
		return
	}
	s.done(c, id, s.Pair.RemoveCollateral(c.Request.Context(), sender(c), id, p.Recipient))
}

func (s *Server) handleRequestAndBorrow(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}
	var p RequestAndBorrowPayload
	if !payload(c, &p) {
		return
	}
	terms, ok := termsOf(c, p.Terms)
	if !ok {
		return
	}
	err := s.Pair.RequestAndBorrow(c.Request.Context(), sender(c), id, p.Lender, p.Recipient,
		terms, p.SkimCollateral, p.AnyTokenID, p.Deadline, p.Signature)
	s.done(c, id, err)
}

func (s *Server) handleTakeAndLend(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}
	var p TakeAndLendPayload
	if !payload(c, &p) {
		return
	}
	terms, ok := termsOf(c, p.Terms)
	if !ok {
		return
	}
	err := s.Pair.TakeCollateralAndLend(c.Request.Context(), sender(c), id, p.Borrower,
		terms, p.Skim, p.Deadline, p.Signature)
	s.done(c, id, err)
}

func (s *Server) handleWithdrawFees(c *gin.Context) {
	withdrawn, err := s.Pair.WithdrawFees(c.Request.Context(), sender(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"withdrawn_shares": (*math.HexOrDecimal256)(withdrawn),
		"fee_recipient":    s.Pair.Params().FeeRecipient,
	})
}
