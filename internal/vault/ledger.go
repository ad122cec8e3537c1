package vault

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Rebase is a token's vault total: Elastic assets backing Base shares.
type Rebase struct {
	Elastic *big.Int `json:"elastic"`
	Base    *big.Int `json:"base"`
}

type ledgerState struct {
	totals  map[common.Address]Rebase
	shares  map[common.Address]map[common.Address]*big.Int
	wallets map[common.Address]map[common.Address]*big.Int
}

// Ledger is an in-memory Vault. Besides share balances it tracks plain token
// balances ("wallets") so deposits and withdrawals have somewhere to come
// from and go to.
type Ledger struct {
	mu        sync.RWMutex
	state     ledgerState
	snapshots []ledgerState
}

func NewLedger() *Ledger {
	return &Ledger{state: ledgerState{
		totals:  make(map[common.Address]Rebase),
		shares:  make(map[common.Address]map[common.Address]*big.Int),
		wallets: make(map[common.Address]map[common.Address]*big.Int),
	}}
}

// ── Conversions ───────────────────────────────────────────────────────────────

// toBase converts an asset amount into shares: elastic * base / total.elastic.
func (r Rebase) toBase(elastic *big.Int, roundUp bool) (*big.Int, error) {
	if r.Elastic.Sign() == 0 {
		return new(big.Int).Set(elastic), nil
	}
	return mulDiv(elastic, r.Base, r.Elastic, roundUp)
}

// toElastic converts shares into an asset amount: base * elastic / total.base.
func (r Rebase) toElastic(base *big.Int, roundUp bool) (*big.Int, error) {
	if r.Base.Sign() == 0 {
		return new(big.Int).Set(base), nil
	}
	return mulDiv(base, r.Elastic, r.Base, roundUp)
}

func mulDiv(x, y, d *big.Int, roundUp bool) (*big.Int, error) {
	ux, o1 := uint256.FromBig(x)
	uy, o2 := uint256.FromBig(y)
	ud, o3 := uint256.FromBig(d)
	if o1 || o2 || o3 || ud.IsZero() {
		return nil, ErrInvalidAmount
	}
	q, overflow := new(uint256.Int).MulDivOverflow(ux, uy, ud)
	if overflow {
		return nil, ErrInvalidAmount
	}
	if roundUp && !new(uint256.Int).MulMod(ux, uy, ud).IsZero() {
		q.AddUint64(q, 1)
	}
	return q.ToBig(), nil
}

func (l *Ledger) ToShares(token common.Address, amount *big.Int, roundUp bool) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total(token).toBase(amount, roundUp)
}

func (l *Ledger) ToAmount(token common.Address, shares *big.Int, roundUp bool) (*big.Int, error) {
	if err := checkAmount(shares); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total(token).toElastic(shares, roundUp)
}

// ── Movements ─────────────────────────────────────────────────────────────────

func (l *Ledger) Transfer(token, from, to common.Address, shares *big.Int) error {
	if err := checkAmount(shares); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(l.state.shares, token, from)
	if bal.Cmp(shares) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientShares, from.Hex(), bal, shares)
	}
	l.credit(l.state.shares, token, from, new(big.Int).Neg(shares))
	l.credit(l.state.shares, token, to, shares)
	return nil
}

// Deposit moves amount from from's wallet into the vault and credits the
// minted shares to to. The amount actually taken is the share value rounded
// up, so it may be slightly less than requested but never more.
func (l *Ledger) Deposit(token, from, to common.Address, amount *big.Int) (*big.Int, *big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, nil, err
	}
	if to == (common.Address{}) {
		return nil, nil, ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.total(token)
	share, err := total.toBase(amount, false)
	if err != nil {
		return nil, nil, err
	}
	taken, err := total.toElastic(share, true)
	if err != nil {
		return nil, nil, err
	}
	if taken.Cmp(amount) > 0 {
		taken = new(big.Int).Set(amount)
	}
	if bal := l.balance(l.state.wallets, token, from); bal.Cmp(taken) < 0 {
		return nil, nil, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), bal, taken)
	}
	l.credit(l.state.wallets, token, from, new(big.Int).Neg(taken))
	l.credit(l.state.shares, token, to, share)
	l.state.totals[token] = Rebase{
		Elastic: new(big.Int).Add(total.Elastic, taken),
		Base:    new(big.Int).Add(total.Base, share),
	}
	return taken, share, nil
}

// Withdraw burns shares held by from and pays the asset value, rounded down,
// into to's wallet.
func (l *Ledger) Withdraw(token, from, to common.Address, shares *big.Int) (*big.Int, *big.Int, error) {
	if err := checkAmount(shares); err != nil {
		return nil, nil, err
	}
	if to == (common.Address{}) {
		return nil, nil, ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal := l.balance(l.state.shares, token, from); bal.Cmp(shares) < 0 {
		return nil, nil, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientShares, from.Hex(), bal, shares)
	}
	total := l.total(token)
	amount, err := total.toElastic(shares, false)
	if err != nil {
		return nil, nil, err
	}
	l.credit(l.state.shares, token, from, new(big.Int).Neg(shares))
	l.credit(l.state.wallets, token, to, amount)
	l.state.totals[token] = Rebase{
		Elastic: new(big.Int).Sub(total.Elastic, amount),
		Base:    new(big.Int).Sub(total.Base, shares),
	}
	return amount, new(big.Int).Set(shares), nil
}

// MintAsset credits amount to holder's wallet out of thin air.
func (l *Ledger) MintAsset(token, holder common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(l.state.wallets, token, holder, amount)
	return nil
}

// AccrueYield adds assets to a token's total without minting shares, raising
// the value of every outstanding share.
func (l *Ledger) AccrueYield(token common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.total(token)
	l.state.totals[token] = Rebase{Elastic: new(big.Int).Add(total.Elastic, amount), Base: total.Base}
	return nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balance(l.state.shares, token, holder))
}

// WalletOf returns holder's token balance outside the vault.
func (l *Ledger) WalletOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balance(l.state.wallets, token, holder))
}

func (l *Ledger) Totals(token common.Address) Rebase {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t := l.total(token)
	return Rebase{Elastic: new(big.Int).Set(t.Elastic), Base: new(big.Int).Set(t.Base)}
}

// ── Journal ───────────────────────────────────────────────────────────────────

func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = append(l.snapshots, l.state.clone())
	return len(l.snapshots) - 1
}

func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.snapshots) {
		panic(fmt.Sprintf("vault: snapshot %d does not exist", id))
	}
	l.state = l.snapshots[id]
	l.snapshots = l.snapshots[:id]
}

func (l *Ledger) DiscardSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.snapshots) {
		panic(fmt.Sprintf("vault: snapshot %d does not exist", id))
	}
	l.snapshots = l.snapshots[:id]
}

// ── helpers (callers hold l.mu) ───────────────────────────────────────────────

func (l *Ledger) total(token common.Address) Rebase {
	t, ok := l.state.totals[token]
	if !ok {
		return Rebase{Elastic: new(big.Int), Base: new(big.Int)}
	}
	return t
}

func (l *Ledger) balance(m map[common.Address]map[common.Address]*big.Int, token, holder common.Address) *big.Int {
	if b, ok := m[token][holder]; ok {
		return b
	}
	return new(big.Int)
}

// credit adds delta (possibly negative) to a balance. Balances are replaced,
// never mutated in place, so snapshots can share unchanged entries.
func (l *Ledger) credit(m map[common.Address]map[common.Address]*big.Int, token, holder common.Address, delta *big.Int) {
	inner, ok := m[token]
	if !ok {
		inner = make(map[common.Address]*big.Int)
		m[token] = inner
	}
	next := new(big.Int).Add(l.balance(m, token, holder), delta)
	if next.Sign() == 0 {
		delete(inner, holder)
		return
	}
	inner[holder] = next
}

func (s ledgerState) clone() ledgerState {
	out := ledgerState{
		totals:  make(map[common.Address]Rebase, len(s.totals)),
		shares:  cloneBalances(s.shares),
		wallets: cloneBalances(s.wallets),
	}
	for k, v := range s.totals {
		out.totals[k] = v
	}
	return out
}

func cloneBalances(m map[common.Address]map[common.Address]*big.Int) map[common.Address]map[common.Address]*big.Int {
	out := make(map[common.Address]map[common.Address]*big.Int, len(m))
	for token, inner := range m {
		cp := make(map[common.Address]*big.Int, len(inner))
		for holder, v := range inner {
			cp[holder] = v
		}
		out[token] = cp
	}
	return out
}

func checkAmount(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
