package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"creditnet/crypto"
)

var creditVaultSeed = []byte("creditnet/module/credit-vault")

// VaultAddress derives the module account that custodies pooled lender
// deposits. The derivation is fixed so every node agrees on the address.
func VaultAddress() crypto.Address {
	digest := ethcrypto.Keccak256(creditVaultSeed)
	return crypto.MustNewAddress(crypto.AccountPrefix, digest[12:])
}

// Vault moves fungible assets between participant accounts and the module
// account. It satisfies the credit engine's AssetMover contract: exactly-once
// effect on success, no effect on failure.
type Vault struct {
	mgr *Manager
}

// NewVault creates an asset mover backed by the given state manager.
func NewVault(mgr *Manager) *Vault {
	return &Vault{mgr: mgr}
}

// TransferIn pulls amount of token from a participant into the vault.
func (v *Vault) TransferIn(token string, from crypto.Address, amount *big.Int) error {
	if v == nil || v.mgr == nil {
		return fmt.Errorf("vault: state manager unavailable")
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("vault: negative transfer")
	}
	payer := from.Bytes()
	vault := VaultAddress().Bytes()
	if err := v.mgr.SubBalance(payer, token, amount); err != nil {
		return fmt.Errorf("vault: debit payer: %w", err)
	}
	if err := v.mgr.AddBalance(vault, token, amount); err != nil {
		if restoreErr := v.mgr.AddBalance(payer, token, amount); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("vault: restore payer: %w", restoreErr))
		}
		return err
	}
	return nil
}

// TransferOut pushes amount of token from the vault to a participant.
func (v *Vault) TransferOut(token string, to crypto.Address, amount *big.Int) error {
	if v == nil || v.mgr == nil {
		return fmt.Errorf("vault: state manager unavailable")
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("vault: negative transfer")
	}
	vault := VaultAddress().Bytes()
	recipient := to.Bytes()
	if err := v.mgr.SubBalance(vault, token, amount); err != nil {
		return fmt.Errorf("vault: debit vault: %w", err)
	}
	if err := v.mgr.AddBalance(recipient, token, amount); err != nil {
		if restoreErr := v.mgr.AddBalance(vault, token, amount); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("vault: restore vault: %w", restoreErr))
		}
		return err
	}
	return nil
}
