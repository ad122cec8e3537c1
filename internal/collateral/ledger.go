package collateral

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc721ABI = `[
 {"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"approve","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"setApprovalForAll","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
 {"type":"function","name":"ownerOf","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

// ABI is the subset of ERC-721 that Ledger.Call understands.
var ABI = mustParseABI(erc721ABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("collateral: parse abi: %v", err))
	}
	return parsed
}

type ledgerState struct {
	owners    map[common.Hash]common.Address
	approved  map[common.Hash]common.Address
	operators map[common.Address]map[common.Address]bool
}

// Ledger is an in-memory ERC-721 contract.
type Ledger struct {
	addr common.Address

	mu        sync.RWMutex
	state     ledgerState
	snapshots []ledgerState
}

func NewLedger(addr common.Address) *Ledger {
	return &Ledger{addr: addr, state: ledgerState{
		owners:    make(map[common.Hash]common.Address),
		approved:  make(map[common.Hash]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
	}}
}

func key(id *big.Int) common.Hash { return common.BigToHash(id) }

// validID reports whether id is a uint256. key drops the sign and high bits.
func validID(id *big.Int) bool { return id != nil && id.Sign() >= 0 && id.BitLen() <= 256 }

// owner must be called with l.mu held.
func (l *Ledger) owner(id *big.Int) (common.Address, bool) {
	if !validID(id) {
		return common.Address{}, false
	}
	o, ok := l.state.owners[key(id)]
	return o, ok
}

func (l *Ledger) Address() common.Address { return l.addr }

func (l *Ledger) Mint(to common.Address, id *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if !validID(id) {
		return fmt.Errorf("%w: %s", ErrInvalidTokenID, id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.state.owners[key(id)]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMinted, id)
	}
	l.state.owners[key(id)] = to
	return nil
}

func (l *Ledger) OwnerOf(id *big.Int) (common.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owner, ok := l.owner(id)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNonexistentToken, id)
	}
	return owner, nil
}

func (l *Ledger) GetApproved(id *big.Int) common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !validID(id) {
		return common.Address{}
	}
	return l.state.approved[key(id)]
}

func (l *Ledger) IsApprovedForAll(owner, operator common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.operators[owner][operator]
}

// Approve lets to move id. caller must be the owner or one of its operators.
func (l *Ledger) Approve(caller, to common.Address, id *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owner(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNonexistentToken, id)
	}
	if caller != owner && !l.state.operators[owner][caller] {
		return ErrNotApproved
	}
	l.state.approved[key(id)] = to
	return nil
}

func (l *Ledger) SetApprovalForAll(owner, operator common.Address, approved bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ops, ok := l.state.operators[owner]
	if !ok {
		ops = make(map[common.Address]bool)
		l.state.operators[owner] = ops
	}
	if approved {
		ops[operator] = true
	} else {
		delete(ops, operator)
	}
}

func (l *Ledger) TransferFrom(operator, from, to common.Address, id *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owner(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNonexistentToken, id)
	}
	if owner != from {
		return fmt.Errorf("%w: token %s is held by %s", ErrNotOwner, id, owner.Hex())
	}
	if operator != owner && l.state.approved[key(id)] != operator && !l.state.operators[owner][operator] {
		return fmt.Errorf("%w: %s on token %s", ErrNotApproved, operator.Hex(), id)
	}
	delete(l.state.approved, key(id))
	l.state.owners[key(id)] = to
	return nil
}

// Call executes ABI-encoded calldata as if sent by caller and returns the
// ABI-encoded result.
func (l *Ledger) Call(_ context.Context, caller common.Address, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrUnknownMethod
	}
	method, err := ABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %x", ErrUnknownMethod, data[:4])
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("collateral: decode %s: %w", method.Name, err)
	}

	switch method.Name {
	case "transferFrom":
		return nil, l.TransferFrom(caller, args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int))
	case "approve":
		return nil, l.Approve(caller, args[0].(common.Address), args[1].(*big.Int))
	case "setApprovalForAll":
		l.SetApprovalForAll(caller, args[0].(common.Address), args[1].(bool))
		return nil, nil
	case "ownerOf":
		owner, err := l.OwnerOf(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(owner)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method.Name)
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
		panic(fmt.Sprintf("collateral: snapshot %d does not exist", id))
	}
	l.state = l.snapshots[id]
	l.snapshots = l.snapshots[:id]
}

func (l *Ledger) DiscardSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.snapshots) {
		panic(fmt.Sprintf("collateral: snapshot %d does not exist", id))
	}
	l.snapshots = l.snapshots[:id]
}

func (s ledgerState) clone() ledgerState {
	out := ledgerState{
		owners:    make(map[common.Hash]common.Address, len(s.owners)),
		approved:  make(map[common.Hash]common.Address, len(s.approved)),
		operators: make(map[common.Address]map[common.Address]bool, len(s.operators)),
	}
	for k, v := range s.owners {
		out.owners[k] = v
	}
	for k, v := range s.approved {
		out.approved[k] = v
	}
	for owner, ops := range s.operators {
		cp := make(map[common.Address]bool, len(ops))
		for op, ok := range ops {
			cp[op] = ok
		}
		out.operators[owner] = cp
	}
	return out
}
