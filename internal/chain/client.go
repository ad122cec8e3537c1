// Package chain reads time and identity from an EVM node so the pair can run
// against block timestamps instead of the local clock.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// HeaderReader is the part of an RPC client this package needs.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client is a pair.Clock backed by the latest block header.
type Client struct {
	eth   HeaderReader
	close func()
}

func New(eth HeaderReader) *Client { return &Client{eth: eth, close: func() {}} }

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{eth: eth, close: eth.Close}, nil
}

func (c *Client) Close() { c.close() }

// Now returns the latest block's timestamp.
func (c *Client) Now(ctx context.Context) (uint64, error) {
	h, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	return h.Time, nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return id, nil
}

// VerifyChainID fails when the node serves a chain other than want.
// Commitments are signed over the chain id, so a mismatch would make every
// signature fail.
func (c *Client) VerifyChainID(ctx context.Context, want *big.Int) error {
	got, err := c.ChainID(ctx)
	if err != nil {
		return err
	}
	if got.Cmp(want) != 0 {
		return fmt.Errorf("chain id mismatch: node serves %s, configured %s", got, want)
	}
	return nil
}
