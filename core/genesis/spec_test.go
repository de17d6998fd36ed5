package genesis

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"creditnet/core/state"
	"creditnet/crypto"
	"creditnet/native/credit"
	"creditnet/native/registry"
	"creditnet/storage"
)

func writeSpec(t *testing.T, spec Spec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.json")
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return path
}

func TestLoadSpecAndApply(t *testing.T) {
	lender := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, 20))
	borrower := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x02}, 20))

	spec := Spec{
		ChainName: "creditnet-test",
		Tokens: []TokenSpec{
			{Symbol: "USDM", Decimals: 6},
			{Symbol: "cnet", Decimals: 18},
		},
		Accounts: map[string]map[string]string{
			lender.String(): {"CNET": "5000"},
		},
		Pools: []PoolSpec{
			{Lender: lender.String(), Token: "CNET", Amount: "3000"},
		},
		CreditLines: []CreditLineSpec{
			{
				Lender:            lender.String(),
				Borrower:          borrower.String(),
				Token:             "CNET",
				CreditLimit:       "10000",
				MinAPRBps:         500,
				MaxAPRBps:         1500,
				OriginationFeeBps: 100,
			},
		},
	}

	loaded, err := LoadSpec(writeSpec(t, spec))
	if err != nil {
		t.Fatalf("LoadSpec: %v", err)
	}
	if loaded.ChainName != "creditnet-test" {
		t.Fatalf("unexpected chain name: %q", loaded.ChainName)
	}
	if len(loaded.Tokens) != 2 || len(loaded.Pools) != 1 || len(loaded.CreditLines) != 1 {
		t.Fatalf("unexpected spec shape: %+v", loaded)
	}

	db := storage.NewMemDB()
	defer db.Close()
	manager := state.NewManager(db)

	if err := Apply(loaded, manager); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	tokens, err := manager.TokenList()
	if err != nil {
		t.Fatalf("token list: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "CNET" || tokens[1] != "USDM" {
		t.Fatalf("unexpected token list: %v", tokens)
	}

	balance, err := manager.Balance(lender.Bytes(), "CNET")
	if err != nil {
		t.Fatalf("lender balance: %v", err)
	}
	if balance.String() != "5000" {
		t.Fatalf("unexpected lender balance: %s", balance.String())
	}

	pool, err := manager.PoolBalance(lender, "CNET")
	if err != nil {
		t.Fatalf("pool balance: %v", err)
	}
	if pool.String() != "3000" {
		t.Fatalf("unexpected pool balance: %s", pool.String())
	}

	vaultBalance, err := manager.Balance(state.VaultAddress().Bytes(), "CNET")
	if err != nil {
		t.Fatalf("vault balance: %v", err)
	}
	if vaultBalance.String() != "3000" {
		t.Fatalf("seeded pool must be mirrored in the vault, got %s", vaultBalance.String())
	}

	line, ok, err := manager.CreditLineGet(lender, borrower, "CNET")
	if err != nil {
		t.Fatalf("credit line get: %v", err)
	}
	if !ok {
		t.Fatalf("expected seeded credit line")
	}
	if line.CreditLimit.String() != "10000" || line.MinAPRBps != 500 || line.MaxAPRBps != 1500 || line.OriginationFeeBps != 100 {
		t.Fatalf("unexpected credit line: %+v", line)
	}

	name, applied, err := manager.GenesisApplied()
	if err != nil {
		t.Fatalf("genesis marker: %v", err)
	}
	if !applied || name != "creditnet-test" {
		t.Fatalf("unexpected genesis marker: %q applied=%t", name, applied)
	}

	if err := Apply(loaded, manager); err == nil {
		t.Fatalf("expected second apply to fail")
	} else if !strings.Contains(err.Error(), "already applied") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplySeedsWorkingLedger(t *testing.T) {
	lender := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x03}, 20))
	borrower := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x04}, 20))

	spec := Spec{
		ChainName: "creditnet-test",
		Tokens:    []TokenSpec{{Symbol: "CNET", Decimals: 18}},
		Accounts: map[string]map[string]string{
			lender.String(): {"CNET": "5000"},
		},
		Pools: []PoolSpec{
			{Lender: lender.String(), Token: "CNET", Amount: "3000"},
		},
		CreditLines: []CreditLineSpec{
			{
				Lender:            lender.String(),
				Borrower:          borrower.String(),
				Token:             "CNET",
				CreditLimit:       "10000",
				MinAPRBps:         500,
				MaxAPRBps:         1500,
				OriginationFeeBps: 100,
			},
		},
	}

	db := storage.NewMemDB()
	defer db.Close()
	manager := state.NewManager(db)
	if err := Apply(&spec, manager); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	engine := credit.NewEngine()
	engine.SetState(manager)
	engine.SetAssets(state.NewVault(manager))
	reg := registry.NewRegistry()
	reg.SetState(manager)
	reg.SetTransferHook(engine)
	engine.SetRegistry(reg)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })

	loan, err := engine.Borrow(borrower, lender, "CNET", big.NewInt(1000), credit.MaxAPRBps)
	if err != nil {
		t.Fatalf("borrow against seeded line: %v", err)
	}
	if loan.Principal.String() != "1010" {
		t.Fatalf("unexpected principal: %s", loan.Principal.String())
	}

	if err := engine.Withdraw(lender, "CNET", big.NewInt(500)); err != nil {
		t.Fatalf("withdraw seeded liquidity: %v", err)
	}

	pool, err := manager.PoolBalance(lender, "CNET")
	if err != nil {
		t.Fatalf("pool balance: %v", err)
	}
	if pool.String() != "1500" {
		t.Fatalf("unexpected pool balance: %s", pool.String())
	}
	lenderBalance, err := manager.Balance(lender.Bytes(), "CNET")
	if err != nil {
		t.Fatalf("lender balance: %v", err)
	}
	if lenderBalance.String() != "5500" {
		t.Fatalf("unexpected lender balance: %s", lenderBalance.String())
	}
	borrowerBalance, err := manager.Balance(borrower.Bytes(), "CNET")
	if err != nil {
		t.Fatalf("borrower balance: %v", err)
	}
	if borrowerBalance.String() != "1000" {
		t.Fatalf("unexpected borrower balance: %s", borrowerBalance.String())
	}
}

func TestLoadSpecRejectsInvalid(t *testing.T) {
	lender := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x05}, 20)).String()
	borrower := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x06}, 20)).String()

	cases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name:    "unknown field",
			raw:     `{"chainName":"x-test","tokens":[],"bogus":1}`,
			wantErr: "unknown field",
		},
		{
			name:    "missing chain name",
			raw:     `{"tokens":[{"symbol":"CNET","decimals":18}]}`,
			wantErr: "chainName",
		},
		{
			name:    "undefined account token",
			raw:     `{"chainName":"x-test","tokens":[{"symbol":"CNET","decimals":18}],"accounts":{"` + lender + `":{"DOGE":"5"}}}`,
			wantErr: "undefined token",
		},
		{
			name:    "negative amount",
			raw:     `{"chainName":"x-test","tokens":[{"symbol":"CNET","decimals":18}],"accounts":{"` + lender + `":{"CNET":"-5"}}}`,
			wantErr: "must not be negative",
		},
		{
			name:    "duplicate pool",
			raw:     `{"chainName":"x-test","tokens":[{"symbol":"CNET","decimals":18}],"pools":[{"lender":"` + lender + `","token":"CNET","amount":"1"},{"lender":"` + lender + `","token":"cnet","amount":"2"}]}`,
			wantErr: "duplicate pool",
		},
		{
			name:    "self credit line",
			raw:     `{"chainName":"x-test","tokens":[{"symbol":"CNET","decimals":18}],"creditLines":[{"lender":"` + lender + `","borrower":"` + lender + `","token":"CNET","creditLimit":"10","minAprBps":1,"maxAprBps":2,"originationFeeBps":0}]}`,
			wantErr: "must differ",
		},
		{
			name:    "inverted apr bounds",
			raw:     `{"chainName":"x-test","tokens":[{"symbol":"CNET","decimals":18}],"creditLines":[{"lender":"` + lender + `","borrower":"` + borrower + `","token":"CNET","creditLimit":"10","minAprBps":200,"maxAprBps":100,"originationFeeBps":0}]}`,
			wantErr: "creditLines[0]",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "genesis.json")
			if err := os.WriteFile(path, []byte(tc.raw), 0o644); err != nil {
				t.Fatalf("write spec: %v", err)
			}
			_, err := LoadSpec(path)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.wantErr)
			}
		})
	}
}
