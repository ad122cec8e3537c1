// Package pair is the loan lifecycle engine for one collateral token contract
// and one fungible asset: the per-token loan state machine, fee accounting,
// nonce-protected signed origination, and the all-or-nothing transaction
// boundary every operation runs in.
package pair

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-nft-lending/internal/collateral"
	"github.com/0gfoundation/0g-nft-lending/internal/commitment"
	"github.com/0gfoundation/0g-nft-lending/internal/interest"
	"github.com/0gfoundation/0g-nft-lending/internal/vault"
)

// Clock supplies the timestamp an operation runs at.
type Clock interface {
	Now(ctx context.Context) (uint64, error)
}

type ClockFunc func(ctx context.Context) (uint64, error)

func (f ClockFunc) Now(ctx context.Context) (uint64, error) { return f(ctx) }

// SystemClock reads the local wall clock.
var SystemClock Clock = ClockFunc(func(context.Context) (uint64, error) {
	return uint64(time.Now().Unix()), nil
})

// Observer is told the outcome of every top-level operation.
type Observer interface {
	ObserveOperation(op string, err error)
	ObserveFees(shares *big.Int)
}

type state struct {
	loans      map[common.Hash]Loan
	nonces     map[common.Address]uint64
	feesEarned *big.Int
}

func (s state) loan(id *big.Int) (Loan, bool) {
	if !validTokenID(id) {
		return Loan{}, false
	}
	l, ok := s.loans[tokenKey(id)]
	return l, ok
}

func (s state) clone() state {
	out := state{
		loans:      make(map[common.Hash]Loan, len(s.loans)),
		nonces:     make(map[common.Address]uint64, len(s.nonces)),
		feesEarned: s.feesEarned,
	}
	for k, v := range s.loans {
		out.loans[k] = v
	}
	for k, v := range s.nonces {
		out.nonces[k] = v
	}
	return out
}

// Pair holds every loan against one collateral contract.
type Pair struct {
	params    Params
	vault     vault.Vault
	adapter   *vault.Adapter
	token     collateral.Token
	approvers *Approvers
	emitter   Emitter
	clock     Clock
	observer  Observer
	log       *zap.Logger

	mu    sync.Mutex
	state state
}

type Option func(*Pair)

func WithClock(c Clock) Option { return func(p *Pair) { p.clock = c } }
func WithEmitter(e Emitter) Option { return func(p *Pair) { p.emitter = e } }
func WithApprovers(a *Approvers) Option { return func(p *Pair) { p.approvers = a } }
func WithObserver(o Observer) Option { return func(p *Pair) { p.observer = o } }

// New returns a pair settling params.Asset through v with token as
// collateral. Zero fee parameters are replaced by the protocol defaults.
func New(params Params, v vault.Vault, token collateral.Token, log *zap.Logger, opts ...Option) *Pair {
	if params.OpenFeeBPS == 0 {
		params.OpenFeeBPS = DefaultOpenFeeBPS
	}
	if params.ProtocolFeeBPS == 0 {
		params.ProtocolFeeBPS = DefaultProtocolFeeBPS
	}
	if params.ChainID == nil {
		params.ChainID = new(big.Int)
	}
	p := &Pair{
		params:    params,
		vault:     v,
		adapter:   vault.NewAdapter(v, params.Asset, params.Address),
		token:     token,
		approvers: NewApprovers(),
		emitter:   nopEmitter{},
		clock:     SystemClock,
		log:       log,
		state: state{
			loans:      make(map[common.Hash]Loan),
			nonces:     make(map[common.Address]uint64),
			feesEarned: new(big.Int),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ── Accessors ─────────────────────────────────────────────────────────────────

func (p *Pair) Address() common.Address { return p.params.Address }
func (p *Pair) Vault() vault.Vault { return p.vault }
func (p *Pair) Collateral() collateral.Token { return p.token }
func (p *Pair) Approvers() *Approvers { return p.approvers }

func (p *Pair) Params() Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.params
	out.ChainID = cloneBig(p.params.ChainID)
	return out
}

// Domain is the EIP-712 domain commitments to this pair are signed under.
func (p *Pair) Domain() commitment.Domain {
	return commitment.Domain{ChainID: cloneBig(p.params.ChainID), Contract: p.params.Address}
}

// Loan returns the record for id. A token without a record reports
// StatusNone and false.
func (p *Pair) Loan(id *big.Int) (Loan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.state.loan(id)
	if !ok {
		return Loan{TokenID: cloneBig(id), Status: StatusNone}, false
	}
	return l.clone(), true
}

// Nonce is the nonce the signer's next commitment must carry.
func (p *Pair) Nonce(signer common.Address) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.nonces[signer]
}

// FeesEarned is the protocol fee balance in vault shares.
func (p *Pair) FeesEarned() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.state.feesEarned)
}

// AmountOwed quotes what repaying the outstanding loan on id would cost in
// asset units at the current clock.
func (p *Pair) AmountOwed(ctx context.Context, id *big.Int) (*big.Int, error) {
	now, err := p.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("pair: read clock: %w", err)
	}
	p.mu.Lock()
	l, ok := p.state.loan(id)
	p.mu.Unlock()
	if !ok || l.Status != StatusOutstanding {
		return nil, ErrNoLoan
	}
	var elapsed uint64
	if now > l.StartTime {
		elapsed = now - l.StartTime
	}
	if elapsed > l.Terms.Duration {
		return nil, ErrLoanExpired
	}
	return interest.Owed(l.Terms.Valuation, elapsed, l.Terms.AnnualInterestBPS)
}

func (p *Pair) SetFeeRecipient(to common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params.FeeRecipient = to
}

// ── Transaction boundary ──────────────────────────────────────────────────────

// Tx is the context of one atomic operation: a single caller and a single
// timestamp. It is only valid inside the function passed to Atomic.
type Tx struct {
	ctx    context.Context
	p      *Pair
	sender common.Address
	now    uint64
	events []Event
}

func (tx *Tx) Context() context.Context { return tx.ctx }
func (tx *Tx) Sender() common.Address { return tx.sender }
func (tx *Tx) Now() uint64 { return tx.now }
func (tx *Tx) Pair() *Pair { return tx.p }

func (tx *Tx) emit(ev Event) {
	ev.Pair = tx.p.params.Address
	ev.Time = tx.now
	if ev.Sender == (common.Address{}) {
		ev.Sender = tx.sender
	}
	tx.events = append(tx.events, ev)
}

// Atomic runs fn as sender with exclusive access to the pair. If fn returns
// an error every change it made to the pair, the vault and the collateral
// token is undone and no events are emitted.
func (p *Pair) Atomic(ctx context.Context, sender common.Address, fn func(tx *Tx) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now, err := p.clock.Now(ctx)
	if err != nil {
		return fmt.Errorf("pair: read clock: %w", err)
	}
	tx := &Tx{ctx: ctx, p: p, sender: sender, now: now}

	saved := p.state.clone()
	vsnap := p.vault.Snapshot()
	csnap := p.token.Snapshot()

	if err := fn(tx); err != nil {
		p.state = saved
		p.vault.RevertToSnapshot(vsnap)
		p.token.RevertToSnapshot(csnap)
		return err
	}
	p.vault.DiscardSnapshot(vsnap)
	p.token.DiscardSnapshot(csnap)

	for _, ev := range tx.events {
		if err := p.emitter.Emit(ctx, ev); err != nil {
			p.log.Warn("emit event", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
	return nil
}

// run executes one top-level operation and records its outcome.
func (p *Pair) run(ctx context.Context, op string, sender common.Address, id *big.Int, fn func(tx *Tx) error) error {
	err := p.Atomic(ctx, sender, fn)
	if p.observer != nil {
		p.observer.ObserveOperation(op, err)
		p.observer.ObserveFees(p.FeesEarned())
	}
	fields := []zap.Field{zap.String("op", op), zap.String("sender", sender.Hex())}
	if id != nil {
		fields = append(fields, zap.String("token_id", id.String()))
	}
	if err != nil {
		p.log.Debug("operation rejected", append(fields, zap.Error(err))...)
		return err
	}
	p.log.Info("operation committed", fields...)
	return nil
}

// ── Top-level operations ──────────────────────────────────────────────────────

// Batch runs fn like Atomic and reports it to the observer as one "batch"
// operation.
func (p *Pair) Batch(ctx context.Context, sender common.Address, fn func(tx *Tx) error) error {
	return p.run(ctx, "batch", sender, nil, fn)
}

func (p *Pair) RequestLoan(ctx context.Context, sender common.Address, id *big.Int, terms Terms, recipient common.Address, skimCollateral bool) error {
	return p.run(ctx, "request_loan", sender, id, func(tx *Tx) error {
		return tx.RequestLoan(id, terms, recipient, skimCollateral)
	})
}

func (p *Pair) UpdateLoanParams(ctx context.Context, sender common.Address, id *big.Int, terms Terms) error {
	return p.run(ctx, "update_loan_params", sender, id, func(tx *Tx) error {
		return tx.UpdateLoanParams(id, terms)
	})
}

func (p *Pair) Lend(ctx context.Context, sender common.Address, id *big.Int, accepted Terms, skimFunds bool) error {
	return p.run(ctx, "lend", sender, id, func(tx *Tx) error {
		return tx.Lend(id, accepted, skimFunds)
	})
}

func (p *Pair) Repay(ctx context.Context, sender common.Address, id *big.Int, skimFunds bool) error {
	return p.run(ctx, "repay", sender, id, func(tx *Tx) error {
		return tx.Repay(id, skimFunds)
	})
}

func (p *Pair) RemoveCollateral(ctx context.Context, sender common.Address, id *big.Int, recipient common.Address) error {
	return p.run(ctx, "remove_collateral", sender, id, func(tx *Tx) error {
		return tx.RemoveCollateral(id, recipient)
	})
}

// WithdrawFees sends the fee balance to the recipient and returns the shares
// it sent.
func (p *Pair) WithdrawFees(ctx context.Context, sender common.Address) (*big.Int, error) {
	var withdrawn *big.Int
	err := p.run(ctx, "withdraw_fees", sender, nil, func(tx *Tx) error {
		withdrawn = tx.FeesEarned()
		return tx.WithdrawFees()
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

func (p *Pair) RequestAndBorrow(ctx context.Context, sender common.Address, id *big.Int, lender, recipient common.Address, terms Terms, skimCollateral, anyTokenID bool, deadline uint64, sig []byte) error {
	return p.run(ctx, "request_and_borrow", sender, id, func(tx *Tx) error {
		return tx.RequestAndBorrow(id, lender, recipient, terms, skimCollateral, anyTokenID, deadline, sig)
	})
}

func (p *Pair) TakeCollateralAndLend(ctx context.Context, sender common.Address, id *big.Int, borrower common.Address, terms Terms, skimFunds bool, deadline uint64, sig []byte) error {
	return p.run(ctx, "take_collateral_and_lend", sender, id, func(tx *Tx) error {
		return tx.TakeCollateralAndLend(id, borrower, terms, skimFunds, deadline, sig)
	})
}
