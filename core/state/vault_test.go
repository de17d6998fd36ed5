package state

import (
	"errors"
	"math/big"
	"testing"
)

func TestVaultAddressDeterministic(t *testing.T) {
	first := VaultAddress()
	second := VaultAddress()
	if !first.Equal(second) {
		t.Fatalf("vault address not stable: %s vs %s", first, second)
	}
	if first.IsZero() {
		t.Fatalf("vault address is zero")
	}
}

func TestVaultTransferIn(t *testing.T) {
	mgr := newTestManager(t)
	vault := NewVault(mgr)
	payer := stateAddr(t, 0x20)

	if err := mgr.SetBalance(payer.Bytes(), "CNET", big.NewInt(1000)); err != nil {
		t.Fatalf("seed payer: %v", err)
	}
	if err := vault.TransferIn("CNET", payer, big.NewInt(300)); err != nil {
		t.Fatalf("transfer in: %v", err)
	}

	payerBalance, _ := mgr.Balance(payer.Bytes(), "CNET")
	if payerBalance.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("payer balance = %s, want 700", payerBalance)
	}
	vaultBalance, _ := mgr.Balance(VaultAddress().Bytes(), "CNET")
	if vaultBalance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("vault balance = %s, want 300", vaultBalance)
	}
}

func TestVaultTransferInInsufficientFunds(t *testing.T) {
	mgr := newTestManager(t)
	vault := NewVault(mgr)
	payer := stateAddr(t, 0x21)

	if err := mgr.SetBalance(payer.Bytes(), "CNET", big.NewInt(100)); err != nil {
		t.Fatalf("seed payer: %v", err)
	}
	if err := vault.TransferIn("CNET", payer, big.NewInt(300)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("underfunded pull: got %v, want ErrInsufficientBalance", err)
	}

	payerBalance, _ := mgr.Balance(payer.Bytes(), "CNET")
	if payerBalance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed pull changed payer balance: %s", payerBalance)
	}
	vaultBalance, _ := mgr.Balance(VaultAddress().Bytes(), "CNET")
	if vaultBalance.Sign() != 0 {
		t.Fatalf("failed pull credited vault: %s", vaultBalance)
	}
}

func TestVaultTransferOut(t *testing.T) {
	mgr := newTestManager(t)
	vault := NewVault(mgr)
	recipient := stateAddr(t, 0x22)

	if err := mgr.SetBalance(VaultAddress().Bytes(), "CNET", big.NewInt(500)); err != nil {
		t.Fatalf("seed vault: %v", err)
	}
	if err := vault.TransferOut("CNET", recipient, big.NewInt(200)); err != nil {
		t.Fatalf("transfer out: %v", err)
	}

	recipientBalance, _ := mgr.Balance(recipient.Bytes(), "CNET")
	if recipientBalance.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("recipient balance = %s, want 200", recipientBalance)
	}
	vaultBalance, _ := mgr.Balance(VaultAddress().Bytes(), "CNET")
	if vaultBalance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("vault balance = %s, want 300", vaultBalance)
	}

	if err := vault.TransferOut("CNET", recipient, big.NewInt(400)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdrawn push: got %v, want ErrInsufficientBalance", err)
	}
}

func TestVaultIgnoresZeroAmounts(t *testing.T) {
	mgr := newTestManager(t)
	vault := NewVault(mgr)
	party := stateAddr(t, 0x23)

	if err := vault.TransferIn("CNET", party, big.NewInt(0)); err != nil {
		t.Fatalf("zero pull: %v", err)
	}
	if err := vault.TransferIn("CNET", party, nil); err != nil {
		t.Fatalf("nil pull: %v", err)
	}
	if err := vault.TransferOut("CNET", party, big.NewInt(-1)); err == nil {
		t.Fatalf("accepted negative push")
	}
}
