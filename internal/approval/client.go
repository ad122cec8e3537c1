// Package approval reaches lender-operated loan approval hooks over HTTP.
package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-nft-lending/internal/pair"
)

// Request is the body POSTed to a hook.
type Request struct {
	Pair              common.Address        `json:"pair"`
	Lender            common.Address        `json:"lender"`
	TokenID           *math.HexOrDecimal256 `json:"tokenId"`
	Valuation         *math.HexOrDecimal256 `json:"valuation"`
	Duration          uint64                `json:"duration"`
	AnnualInterestBPS uint16                `json:"annualInterestBPS"`
}

// Response is what a hook answers with.
type Response struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Client is a pair.Approver that asks a remote hook for every loan funded by
// one lender.
type Client struct {
	url    string
	token  string
	pair   common.Address
	lender common.Address
	http   *http.Client
	log    *zap.Logger
}

func NewClient(url, token string, pairAddr, lender common.Address, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:    url,
		token:  token,
		pair:   pairAddr,
		lender: lender,
		http:   &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (c *Client) do(ctx context.Context, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

// OnLoanRequest implements pair.Approver. Transport failures and non-2xx
// answers are errors, which abort the lend.
func (c *Client) OnLoanRequest(ctx context.Context, tokenID *big.Int, terms pair.Terms) (bool, error) {
	resp, err := c.do(ctx, Request{
		Pair:              c.pair,
		Lender:            c.lender,
		TokenID:           (*math.HexOrDecimal256)(tokenID),
		Valuation:         (*math.HexOrDecimal256)(terms.Valuation),
		Duration:          terms.Duration,
		AnnualInterestBPS: terms.AnnualInterestBPS,
	})
	if err != nil {
		return false, fmt.Errorf("approval hook %s: %w", c.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("approval hook %s: status %d: %s", c.url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("approval hook %s: decode: %w", c.url, err)
	}
	if !out.Approved {
		c.log.Info("loan rejected by hook",
			zap.String("lender", c.lender.Hex()),
			zap.String("token_id", tokenID.String()),
			zap.String("reason", out.Reason),
		)
	}
	return out.Approved, nil
}

// BindAll registers a client for every lender in hooks, keyed by hex address.
func BindAll(a *pair.Approvers, hooks map[string]string, token string, pairAddr common.Address, timeout time.Duration, log *zap.Logger) error {
	for lender, url := range hooks {
		if !common.IsHexAddress(lender) {
			return fmt.Errorf("approval hook: invalid lender address %q", lender)
		}
		addr := common.HexToAddress(lender)
		a.Bind(addr, NewClient(url, token, pairAddr, addr, timeout, log))
	}
	return nil
}
