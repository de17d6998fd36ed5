package genesis

import (
	"fmt"
	"sort"
	"strings"

	"creditnet/core/state"
	"creditnet/crypto"
	"creditnet/native/credit"
)

// Apply seeds an empty ledger store from the spec and stamps it as applied.
// Bootstrap writes go straight to state and emit no events.
func Apply(spec *Spec, manager *state.Manager) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return fmt.Errorf("state manager must not be nil")
	}
	if err := spec.validate(); err != nil {
		return err
	}
	if name, applied, err := manager.GenesisApplied(); err != nil {
		return err
	} else if applied {
		return fmt.Errorf("genesis already applied for chain %q", name)
	}

	// 1) Tokens (sorted)
	tokens := append([]TokenSpec(nil), spec.Tokens...)
	sort.Slice(tokens, func(i, j int) bool {
		return strings.ToUpper(tokens[i].Symbol) < strings.ToUpper(tokens[j].Symbol)
	})
	for i := range tokens {
		if err := manager.RegisterToken(tokens[i].Symbol, tokens[i].Decimals); err != nil {
			return fmt.Errorf("register token %q: %w", tokens[i].Symbol, err)
		}
	}

	// 2) Account balances (outer: addresses sorted; inner: symbols sorted)
	accounts := make([]string, 0, len(spec.Accounts))
	for account := range spec.Accounts {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, addrStr := range accounts {
		addr, err := crypto.DecodeAddress(addrStr)
		if err != nil {
			return fmt.Errorf("accounts[%q]: %w", addrStr, err)
		}
		balances := spec.Accounts[addrStr]
		symbols := make([]string, 0, len(balances))
		normalized := make(map[string]string, len(balances))
		for symbol := range balances {
			canonical, err := credit.NormalizeToken(symbol)
			if err != nil {
				return fmt.Errorf("accounts[%q][%q]: %w", addrStr, symbol, err)
			}
			symbols = append(symbols, canonical)
			normalized[canonical] = balances[symbol]
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			amount, err := parseAmountString(normalized[symbol])
			if err != nil {
				return fmt.Errorf("accounts[%q][%q]: %w", addrStr, symbol, err)
			}
			if err := manager.SetBalance(addr.Bytes(), symbol, amount); err != nil {
				return fmt.Errorf("accounts[%q][%q]: %w", addrStr, symbol, err)
			}
		}
	}

	// 3) Pool deposits. The vault account is credited alongside each pool
	// record so seeded liquidity stays withdrawable.
	vault := state.VaultAddress().Bytes()
	for i := range spec.Pools {
		pool := &spec.Pools[i]
		lender, err := crypto.DecodeAddress(pool.Lender)
		if err != nil {
			return fmt.Errorf("pools[%d]: lender: %w", i, err)
		}
		symbol, err := credit.NormalizeToken(pool.Token)
		if err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		amount, err := parseAmountString(pool.Amount)
		if err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		if err := manager.SetPoolBalance(lender, symbol, amount); err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		if amount.Sign() > 0 {
			if err := manager.AddBalance(vault, symbol, amount); err != nil {
				return fmt.Errorf("pools[%d]: fund vault: %w", i, err)
			}
		}
	}

	// 4) Credit lines
	tokenSymbols := make(map[string]struct{}, len(spec.Tokens))
	for i := range spec.Tokens {
		canonical, err := credit.NormalizeToken(spec.Tokens[i].Symbol)
		if err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
		tokenSymbols[canonical] = struct{}{}
	}
	for i := range spec.CreditLines {
		line, err := spec.CreditLines[i].parse(tokenSymbols)
		if err != nil {
			return fmt.Errorf("creditLines[%d]: %w", i, err)
		}
		if err := manager.CreditLinePut(line); err != nil {
			return fmt.Errorf("creditLines[%d]: %w", i, err)
		}
	}

	return manager.MarkGenesisApplied(strings.TrimSpace(spec.ChainName))
}
