package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var ErrNoCaller = errors.New("chain: rpc client cannot call contracts")

// Callee executes batch Call actions against one contract as an eth_call at
// the latest block. State changes made by the callee are discarded by the
// node, so it suits oracles and other view functions.
type Callee struct {
	eth    ethereum.ContractCaller
	target common.Address
}

// Contract returns a Callee for target over the client's connection.
func (c *Client) Contract(target common.Address) (*Callee, error) {
	cc, ok := c.eth.(ethereum.ContractCaller)
	if !ok {
		return nil, ErrNoCaller
	}
	return &Callee{eth: cc, target: target}, nil
}

func (c *Callee) Target() common.Address { return c.target }

func (c *Callee) Call(ctx context.Context, caller common.Address, data []byte) ([]byte, error) {
	to := c.target
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{From: caller, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s: %w", to.Hex(), err)
	}
	return out, nil
}
