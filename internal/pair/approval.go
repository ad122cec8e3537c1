package pair

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Approver is consulted before a lender's funds move and may veto the loan.
type Approver interface {
	OnLoanRequest(ctx context.Context, tokenID *big.Int, terms Terms) (bool, error)
}

type ApproverFunc func(ctx context.Context, tokenID *big.Int, terms Terms) (bool, error)

func (f ApproverFunc) OnLoanRequest(ctx context.Context, tokenID *big.Int, terms Terms) (bool, error) {
	return f(ctx, tokenID, terms)
}

// AcceptAll approves every loan.
type AcceptAll struct{}

func (AcceptAll) OnLoanRequest(context.Context, *big.Int, Terms) (bool, error) { return true, nil }

// Approvers maps lender addresses to their hooks. Lenders without a hook get
// AcceptAll.
type Approvers struct {
	mu    sync.RWMutex
	hooks map[common.Address]Approver
}

func NewApprovers() *Approvers {
	return &Approvers{hooks: make(map[common.Address]Approver)}
}

func (a *Approvers) Bind(lender common.Address, hook Approver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks[lender] = hook
}

func (a *Approvers) Unbind(lender common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.hooks, lender)
}

func (a *Approvers) Resolve(lender common.Address) Approver {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if hook, ok := a.hooks[lender]; ok {
		return hook
	}
	return AcceptAll{}
}
