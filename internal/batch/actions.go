package batch

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0gfoundation/0g-nft-lending/internal/pair"
)

// Kind tags an action. The numbering is part of the wire format.
type Kind uint8

const (
	KindRepay                 Kind = 2
	KindRemoveCollateral      Kind = 4
	KindUpdateLoanParams      Kind = 11
	KindRequestLoan           Kind = 12
	KindLend                  Kind = 13
	KindVaultDeposit          Kind = 20
	KindVaultWithdraw         Kind = 21
	KindVaultTransfer         Kind = 22
	KindVaultTransferMultiple Kind = 23
	KindCall                  Kind = 30
	KindRequestAndBorrow      Kind = 40
	KindTakeCollateralAndLend Kind = 41
	KindWithdrawFees          Kind = 50
)

var kindNames = map[Kind]string{
	KindRepay:                 "repay",
	KindRemoveCollateral:      "remove_collateral",
	KindUpdateLoanParams:      "update_loan_params",
	KindRequestLoan:           "request_loan",
	KindLend:                  "lend",
	KindVaultDeposit:          "vault_deposit",
	KindVaultWithdraw:         "vault_withdraw",
	KindVaultTransfer:         "vault_transfer",
	KindVaultTransferMultiple: "vault_transfer_multiple",
	KindCall:                  "call",
	KindRequestAndBorrow:      "request_and_borrow",
	KindTakeCollateralAndLend: "take_collateral_and_lend",
	KindWithdrawFees:          "withdraw_fees",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Action is one step of a batch: a kind and its ABI-encoded arguments.
type Action struct {
	Kind Kind          `json:"kind"`
	Data hexutil.Bytes `json:"data"`
}

// Vault amounts are signed so these markers can stand in for the outputs of
// the previous deposit or withdraw.
var (
	UseValue1 = big.NewInt(-1) // previous amount
	UseValue2 = big.NewInt(-2) // previous share
)

// ── ABI layouts ───────────────────────────────────────────────────────────────

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("batch: abi type %s: %v", t, err))
	}
	return typ
}

func arguments(types ...string) abi.Arguments {
	out := make(abi.Arguments, len(types))
	for i, t := range types {
		out[i] = abi.Argument{Type: mustType(t)}
	}
	return out
}

var layouts = map[Kind]abi.Arguments{
	KindRepay:                 arguments("uint256", "bool"),
	KindRemoveCollateral:      arguments("uint256", "address"),
	KindUpdateLoanParams:      arguments("uint256", "uint128", "uint64", "uint16"),
	KindRequestLoan:           arguments("uint256", "uint128", "uint64", "uint16", "address", "bool"),
	KindLend:                  arguments("uint256", "uint128", "uint64", "uint16", "bool"),
	KindVaultDeposit:          arguments("address", "address", "int256"),
	KindVaultWithdraw:         arguments("address", "address", "int256"),
	KindVaultTransfer:         arguments("address", "address", "int256"),
	KindVaultTransferMultiple: arguments("address", "address[]", "uint256[]"),
	KindCall:                  arguments("address", "bytes", "bool", "bool"),
	KindRequestAndBorrow:      arguments("uint256", "address", "address", "uint128", "uint64", "uint16", "bool", "bool", "uint256", "bytes"),
	KindTakeCollateralAndLend: arguments("uint256", "address", "uint128", "uint64", "uint16", "bool", "uint256", "bytes"),
	KindWithdrawFees:          arguments(),
}

func encode(k Kind, values ...interface{}) (Action, error) {
	data, err := layouts[k].Pack(values...)
	if err != nil {
		return Action{}, fmt.Errorf("batch: encode %s: %w", k, err)
	}
	return Action{Kind: k, Data: data}, nil
}

func decode(a Action) ([]interface{}, error) {
	layout, ok := layouts[a.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAction, a.Kind)
	}
	if len(layout) == 0 {
		return nil, nil
	}
	values, err := layout.Unpack(a.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, a.Kind, err)
	}
	return values, nil
}

// ── Encoders ──────────────────────────────────────────────────────────────────

func EncodeRepay(id *big.Int, skim bool) (Action, error) {
	return encode(KindRepay, id, skim)
}

func EncodeRemoveCollateral(id *big.Int, to common.Address) (Action, error) {
	return encode(KindRemoveCollateral, id, to)
}

func EncodeUpdateLoanParams(id *big.Int, t pair.Terms) (Action, error) {
	return encode(KindUpdateLoanParams, id, t.Valuation, t.Duration, t.AnnualInterestBPS)
}

func EncodeRequestLoan(id *big.Int, t pair.Terms, to common.Address, skim bool) (Action, error) {
	return encode(KindRequestLoan, id, t.Valuation, t.Duration, t.AnnualInterestBPS, to, skim)
}

func EncodeLend(id *big.Int, t pair.Terms, skim bool) (Action, error) {
	return encode(KindLend, id, t.Valuation, t.Duration, t.AnnualInterestBPS, skim)
}

func EncodeVaultDeposit(token, to common.Address, amount *big.Int) (Action, error) {
	return encode(KindVaultDeposit, token, to, amount)
}

func EncodeVaultWithdraw(token, to common.Address, share *big.Int) (Action, error) {
	return encode(KindVaultWithdraw, token, to, share)
}

func EncodeVaultTransfer(token, to common.Address, share *big.Int) (Action, error) {
	return encode(KindVaultTransfer, token, to, share)
}

func EncodeVaultTransferMultiple(token common.Address, tos []common.Address, shares []*big.Int) (Action, error) {
	return encode(KindVaultTransferMultiple, token, tos, shares)
}

// EncodeCall builds a call to target. useValue1 and useValue2 append the
// previous vault outputs to data as 32-byte words.
func EncodeCall(target common.Address, data []byte, useValue1, useValue2 bool) (Action, error) {
	return encode(KindCall, target, data, useValue1, useValue2)
}

func EncodeRequestAndBorrow(id *big.Int, lender, recipient common.Address, t pair.Terms, skimCollateral, anyTokenID bool, deadline uint64, sig []byte) (Action, error) {
	return encode(KindRequestAndBorrow, id, lender, recipient, t.Valuation, t.Duration, t.AnnualInterestBPS,
		skimCollateral, anyTokenID, new(big.Int).SetUint64(deadline), sig)
}

func EncodeTakeCollateralAndLend(id *big.Int, borrower common.Address, t pair.Terms, skimFunds bool, deadline uint64, sig []byte) (Action, error) {
	return encode(KindTakeCollateralAndLend, id, borrower, t.Valuation, t.Duration, t.AnnualInterestBPS,
		skimFunds, new(big.Int).SetUint64(deadline), sig)
}

func EncodeWithdrawFees() Action { return Action{Kind: KindWithdrawFees} }
