package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Adapter settles one asset through a Vault on behalf of the contract at self.
// Conversions always round toward self: up for shares it must receive, down
// for shares it pays out.
type Adapter struct {
	vault Vault
	asset common.Address
	self  common.Address
}

func NewAdapter(v Vault, asset, self common.Address) *Adapter {
	return &Adapter{vault: v, asset: asset, self: self}
}

func (a *Adapter) Asset() common.Address { return a.asset }
func (a *Adapter) Vault() Vault          { return a.vault }

// SharesIn is the share amount a payer must provide to cover amount.
func (a *Adapter) SharesIn(amount *big.Int) (*big.Int, error) {
	return a.vault.ToShares(a.asset, amount, true)
}

// SharesOut is the share amount a payee may receive for amount.
func (a *Adapter) SharesOut(amount *big.Int) (*big.Int, error) {
	return a.vault.ToShares(a.asset, amount, false)
}

// Balance is self's share balance in the vault.
func (a *Adapter) Balance() *big.Int {
	return a.vault.BalanceOf(a.asset, a.self)
}

// Available is self's share balance minus reserved, floored at zero.
func (a *Adapter) Available(reserved *big.Int) *big.Int {
	avail := a.Balance()
	if reserved != nil {
		avail.Sub(avail, reserved)
	}
	if avail.Sign() < 0 {
		avail.SetInt64(0)
	}
	return avail
}

// Collect brings shares under self's control. In pull mode they are moved out
// of from's vault balance. In skim mode they must already sit in self's
// balance beyond reserved; anything above shares stays there unclaimed and can
// be skimmed by a later call.
func (a *Adapter) Collect(from common.Address, shares *big.Int, skim bool, reserved *big.Int) error {
	if skim {
		if avail := a.Available(reserved); avail.Cmp(shares) < 0 {
			return fmt.Errorf("%w: available %s, required %s", ErrSkimTooMuch, avail, shares)
		}
		return nil
	}
	if err := a.vault.Transfer(a.asset, from, a.self, shares); err != nil {
		return fmt.Errorf("collect %s shares from %s: %w", shares, from.Hex(), err)
	}
	return nil
}

// Pay moves shares from self to to.
func (a *Adapter) Pay(to common.Address, shares *big.Int) error {
	if err := a.vault.Transfer(a.asset, a.self, to, shares); err != nil {
		return fmt.Errorf("pay %s shares to %s: %w", shares, to.Hex(), err)
	}
	return nil
}

// Move transfers shares between two third parties, e.g. lender to borrower.
func (a *Adapter) Move(from, to common.Address, shares *big.Int) error {
	if err := a.vault.Transfer(a.asset, from, to, shares); err != nil {
		return fmt.Errorf("move %s shares %s -> %s: %w", shares, from.Hex(), to.Hex(), err)
	}
	return nil
}
