package api

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gin-gonic/gin"

	"github.com/0gfoundation/0g-nft-lending/internal/collateral"
	"github.com/0gfoundation/0g-nft-lending/internal/pair"
	"github.com/0gfoundation/0g-nft-lending/internal/vault"
)

// Faucet exposes the in-memory ledgers to the dev routes. Each faucet call
// runs inside the pair's transaction boundary so it never interleaves with
// an engine operation.
type Faucet struct {
	Vault *vault.Ledger
	NFT   *collateral.Ledger
}

type MintAssetPayload struct {
	Amount  *math.HexOrDecimal256 `json:"amount"`
	Deposit bool                  `json:"deposit"`
}

type MintCollateralPayload struct {
	TokenID *math.HexOrDecimal256 `json:"token_id"`
}

type ApproveAllPayload struct {
	Approved *bool `json:"approved"`
}

func (s *Server) handleMintAsset(c *gin.Context) {
	var p MintAssetPayload
	if !payload(c, &p) {
		return
	}
	if p.Amount == nil || (*big.Int)(p.Amount).Sign() <= 0 {
		badRequest(c, "amount must be positive")
		return
	}
	to := sender(c)
	asset := s.Pair.Params().Asset
	amount := (*big.Int)(p.Amount)
	var shares *big.Int
	err := s.Pair.Atomic(c.Request.Context(), to, func(*pair.Tx) error {
		if err := s.Faucet.Vault.MintAsset(asset, to, amount); err != nil {
			return err
		}
		if !p.Deposit {
			return nil
		}
		var err error
		_, shares, err = s.Faucet.Vault.Deposit(asset, to, to, amount)
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	out := gin.H{"to": to, "amount": p.Amount}
	if shares != nil {
		out["shares"] = (*math.HexOrDecimal256)(shares)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleMintCollateral(c *gin.Context) {
	var p MintCollateralPayload
	if !payload(c, &p) {
		return
	}
	if p.TokenID == nil {
		badRequest(c, "missing token_id")
		return
	}
	to := sender(c)
	err := s.Pair.Atomic(c.Request.Context(), to, func(*pair.Tx) error {
		return s.Faucet.NFT.Mint(to, (*big.Int)(p.TokenID))
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"to": to, "token_id": p.TokenID})
}

// handleApproveAll sets the sender's operator approval for the pair, which
// pull-mode requests need. Approval defaults to true.
func (s *Server) handleApproveAll(c *gin.Context) {
	var p ApproveAllPayload
	if !payload(c, &p) {
		return
	}
	approved := p.Approved == nil || *p.Approved
	owner := sender(c)
	err := s.Pair.Atomic(c.Request.Context(), owner, func(*pair.Tx) error {
		s.Faucet.NFT.SetApprovalForAll(owner, s.Pair.Address(), approved)
		return nil
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner, "operator": s.Pair.Address(), "approved": approved})
}
