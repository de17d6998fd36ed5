package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned when a debit would drive an asset
// balance negative.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

func balanceKey(addr []byte, symbol string) []byte {
	return prefixedKey(balancePrefix, []byte(symbol), addr)
}

// Balance returns the fungible asset balance held by an address. Missing
// accounts read as zero.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("state: address must not be empty")
	}
	return m.loadBigInt(balanceKey(addr, symbol))
}

// SetBalance overwrites an asset balance. Values must be non-negative and fit
// a 256-bit word; anything else is rejected rather than silently truncated.
func (m *Manager) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("state: balance overflow")
	}
	return m.writeBigInt(balanceKey(addr, symbol), amount)
}

// AddBalance credits an asset balance.
func (m *Manager) AddBalance(addr []byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	balance, err := m.Balance(addr, symbol)
	if err != nil {
		return err
	}
	return m.SetBalance(addr, symbol, new(big.Int).Add(balance, amount))
}

// SubBalance debits an asset balance, failing with ErrInsufficientBalance
// when the holder cannot cover the amount.
func (m *Manager) SubBalance(addr []byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: debit amount must be non-negative")
	}
	balance, err := m.Balance(addr, symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return m.SetBalance(addr, symbol, new(big.Int).Sub(balance, amount))
}
