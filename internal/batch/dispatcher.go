// Package batch executes ordered lists of pair and vault actions as one
// all-or-nothing unit.
package batch

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-nft-lending/internal/pair"
)

var (
	ErrUnknownAction    = pair.NewError(pair.KindPrecondition, "batch: unknown action")
	ErrDecode           = pair.NewError(pair.KindPrecondition, "batch: malformed action data")
	ErrTooManyActions   = pair.NewError(pair.KindPrecondition, "batch: too many actions")
	ErrForbiddenTarget  = pair.NewError(pair.KindPrecondition, "batch: call target forbidden")
	ErrUnknownTarget    = pair.NewError(pair.KindPrecondition, "batch: unknown call target")
	ErrCallDataTooLarge = pair.NewError(pair.KindPrecondition, "batch: call data too large")
	ErrBadAmount        = pair.NewError(pair.KindPrecondition, "batch: negative vault amount")
	ErrLengthMismatch   = pair.NewError(pair.KindPrecondition, "batch: recipients and shares differ in length")
)

// Callee is an external contract a Call action may reach. caller is always
// the pair's address.
type Callee interface {
	Call(ctx context.Context, caller common.Address, data []byte) ([]byte, error)
}

type journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// ActionObserver is told the outcome of every executed action.
type ActionObserver interface {
	ObserveAction(kind string, err error)
}

// ActionError reports which action aborted a batch.
type ActionError struct {
	Index int
	Kind  Kind
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("batch: action %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

type Config struct {
	VaultAddress common.Address
	MaxCallData  int
	MaxActions   int
}

const (
	DefaultMaxCallData = 4096
	DefaultMaxActions  = 32
)

// Result carries the last vault outputs and the return data of each Call
// action, indexed like the submitted actions.
type Result struct {
	Value1  *big.Int        `json:"value1"`
	Value2  *big.Int        `json:"value2"`
	Returns []hexutil.Bytes `json:"returns"`
}

type Dispatcher struct {
	pair     *pair.Pair
	cfg      Config
	callees  map[common.Address]Callee
	observer ActionObserver
	log      *zap.Logger
}

func NewDispatcher(p *pair.Pair, cfg Config, log *zap.Logger) *Dispatcher {
	if cfg.MaxCallData <= 0 {
		cfg.MaxCallData = DefaultMaxCallData
	}
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = DefaultMaxActions
	}
	return &Dispatcher{
		pair:    p,
		cfg:     cfg,
		callees: make(map[common.Address]Callee),
		log:     log,
	}
}

// Register makes c reachable by Call actions at addr. Registration happens
// at startup, before the dispatcher is shared.
func (d *Dispatcher) Register(addr common.Address, c Callee) { d.callees[addr] = c }

func (d *Dispatcher) SetObserver(o ActionObserver) { d.observer = o }

func (d *Dispatcher) forbidden(target common.Address) bool {
	return target == d.pair.Collateral().Address() ||
		target == d.cfg.VaultAddress ||
		target == d.pair.Address()
}

// Cook runs actions in order as sender. If any action fails nothing any of
// them did survives, including changes made by journaling callees.
func (d *Dispatcher) Cook(ctx context.Context, sender common.Address, actions []Action) (*Result, error) {
	if len(actions) > d.cfg.MaxActions {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyActions, len(actions), d.cfg.MaxActions)
	}
	var res *Result
	err := d.pair.Batch(ctx, sender, func(tx *pair.Tx) error {
		snaps := make(map[common.Address]int)
		for addr, c := range d.callees {
			if j, ok := c.(journal); ok {
				snaps[addr] = j.Snapshot()
			}
		}
		c := &cook{d: d, tx: tx, res: &Result{
			Value1:  new(big.Int),
			Value2:  new(big.Int),
			Returns: make([]hexutil.Bytes, len(actions)),
		}}
		for i, a := range actions {
			err := c.step(i, a)
			if d.observer != nil {
				d.observer.ObserveAction(a.Kind.String(), err)
			}
			if err != nil {
				for addr, id := range snaps {
					d.callees[addr].(journal).RevertToSnapshot(id)
				}
				return &ActionError{Index: i, Kind: a.Kind, Err: err}
			}
		}
		for addr, id := range snaps {
			d.callees[addr].(journal).DiscardSnapshot(id)
		}
		res = c.res
		return nil
	})
	if err != nil {
		d.log.Debug("batch rejected", zap.String("sender", sender.Hex()), zap.Int("actions", len(actions)), zap.Error(err))
		return nil, err
	}
	d.log.Info("batch committed", zap.String("sender", sender.Hex()), zap.Int("actions", len(actions)))
	return res, nil
}

// ── Execution ─────────────────────────────────────────────────────────────────

type cook struct {
	d   *Dispatcher
	tx  *pair.Tx
	res *Result
}

func terms(v interface{}, duration uint64, rate uint16) pair.Terms {
	return pair.Terms{Valuation: v.(*big.Int), Duration: duration, AnnualInterestBPS: rate}
}

// deadlineArg narrows an ABI uint256 deadline to the engine's uint64 seconds.
func deadlineArg(v interface{}) (uint64, error) {
	d := v.(*big.Int)
	if !d.IsUint64() {
		return 0, fmt.Errorf("%w: deadline %s exceeds 64 bits", ErrDecode, d)
	}
	return d.Uint64(), nil
}

// amount resolves a signed vault amount against the previous outputs.
func (c *cook) amount(v *big.Int) (*big.Int, error) {
	switch {
	case v.Cmp(UseValue1) == 0:
		return new(big.Int).Set(c.res.Value1), nil
	case v.Cmp(UseValue2) == 0:
		return new(big.Int).Set(c.res.Value2), nil
	case v.Sign() < 0:
		return nil, fmt.Errorf("%w: %s", ErrBadAmount, v)
	}
	return v, nil
}

func (c *cook) step(i int, a Action) error {
	args, err := decode(a)
	if err != nil {
		return err
	}
	tx := c.tx
	v := c.d.pair.Vault()
	sender := tx.Sender()

	switch a.Kind {
	case KindRepay:
		return tx.Repay(args[0].(*big.Int), args[1].(bool))

	case KindRemoveCollateral:
		return tx.RemoveCollateral(args[0].(*big.Int), args[1].(common.Address))

	case KindUpdateLoanParams:
		return tx.UpdateLoanParams(args[0].(*big.Int), terms(args[1], args[2].(uint64), args[3].(uint16)))

	case KindRequestLoan:
		return tx.RequestLoan(args[0].(*big.Int), terms(args[1], args[2].(uint64), args[3].(uint16)),
			args[4].(common.Address), args[5].(bool))

	case KindLend:
		return tx.Lend(args[0].(*big.Int), terms(args[1], args[2].(uint64), args[3].(uint16)), args[4].(bool))

	case KindVaultDeposit:
		amount, err := c.amount(args[2].(*big.Int))
		if err != nil {
			return err
		}
		out, share, err := v.Deposit(args[0].(common.Address), sender, args[1].(common.Address), amount)
		if err != nil {
			return err
		}
		c.res.Value1, c.res.Value2 = out, share
		return nil

	case KindVaultWithdraw:
		share, err := c.amount(args[2].(*big.Int))
		if err != nil {
			return err
		}
		out, burned, err := v.Withdraw(args[0].(common.Address), sender, args[1].(common.Address), share)
		if err != nil {
			return err
		}
		c.res.Value1, c.res.Value2 = out, burned
		return nil

	case KindVaultTransfer:
		share, err := c.amount(args[2].(*big.Int))
		if err != nil {
			return err
		}
		return v.Transfer(args[0].(common.Address), sender, args[1].(common.Address), share)

	case KindVaultTransferMultiple:
		token := args[0].(common.Address)
		tos, shares := args[1].([]common.Address), args[2].([]*big.Int)
		if len(tos) != len(shares) {
			return fmt.Errorf("%w: %d and %d", ErrLengthMismatch, len(tos), len(shares))
		}
		for j, to := range tos {
			if err := v.Transfer(token, sender, to, shares[j]); err != nil {
				return err
			}
		}
		return nil

	case KindCall:
		out, err := c.call(args[0].(common.Address), args[1].([]byte), args[2].(bool), args[3].(bool))
		if err != nil {
			return err
		}
		c.res.Returns[i] = out
		return nil

	case KindRequestAndBorrow:
		deadline, err := deadlineArg(args[8])
		if err != nil {
			return err
		}
		return tx.RequestAndBorrow(args[0].(*big.Int), args[1].(common.Address), args[2].(common.Address),
			terms(args[3], args[4].(uint64), args[5].(uint16)), args[6].(bool), args[7].(bool),
			deadline, args[9].([]byte))

	case KindTakeCollateralAndLend:
		deadline, err := deadlineArg(args[6])
		if err != nil {
			return err
		}
		return tx.TakeCollateralAndLend(args[0].(*big.Int), args[1].(common.Address),
			terms(args[2], args[3].(uint64), args[4].(uint16)), args[5].(bool),
			deadline, args[7].([]byte))

	case KindWithdrawFees:
		return tx.WithdrawFees()
	}
	return fmt.Errorf("%w: %d", ErrUnknownAction, a.Kind)
}

// call forwards data to a registered callee with the pair as caller. The
// collateral token is never a valid target: the pair holds standing transfer
// approvals from its users, so a call on their behalf could move anyone's
// tokens.
func (c *cook) call(target common.Address, data []byte, useValue1, useValue2 bool) ([]byte, error) {
	if c.d.forbidden(target) {
		return nil, fmt.Errorf("%w: %s", ErrForbiddenTarget, target.Hex())
	}
	callee, ok := c.d.callees[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target.Hex())
	}
	payload := append([]byte(nil), data...)
	if useValue1 {
		payload = append(payload, common.LeftPadBytes(c.res.Value1.Bytes(), 32)...)
	}
	if useValue2 {
		payload = append(payload, common.LeftPadBytes(c.res.Value2.Bytes(), 32)...)
	}
	if len(payload) > c.d.cfg.MaxCallData {
		return nil, fmt.Errorf("%w: %d bytes", ErrCallDataTooLarge, len(payload))
	}
	return callee.Call(c.tx.Context(), c.d.pair.Address(), payload)
}
