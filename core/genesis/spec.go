package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"creditnet/crypto"
	"creditnet/native/credit"
)

// Spec is the JSON genesis document seeding a fresh node: registered asset
// tokens, participant balances, initial pool deposits, and pre-authorized
// credit lines.
type Spec struct {
	ChainName   string                       `json:"chainName"`
	Tokens      []TokenSpec                  `json:"tokens"`
	Accounts    map[string]map[string]string `json:"accounts,omitempty"` // addr -> token -> amount
	Pools       []PoolSpec                   `json:"pools,omitempty"`
	CreditLines []CreditLineSpec             `json:"creditLines,omitempty"`
}

// TokenSpec registers one lendable asset.
type TokenSpec struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// PoolSpec seeds one lender's deposit pool.
type PoolSpec struct {
	Lender string `json:"lender"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// CreditLineSpec pre-authorizes one borrower against a lender's pool.
type CreditLineSpec struct {
	Lender            string `json:"lender"`
	Borrower          string `json:"borrower"`
	Token             string `json:"token"`
	CreditLimit       string `json:"creditLimit"`
	MinAPRBps         uint64 `json:"minAprBps"`
	MaxAPRBps         uint64 `json:"maxAprBps"`
	OriginationFeeBps uint64 `json:"originationFeeBps"`
}

// LoadSpec reads and validates the genesis document at path.
func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec Spec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *Spec) validate() error {
	if strings.TrimSpace(s.ChainName) == "" {
		return fmt.Errorf("chainName must be provided")
	}

	// tokens
	tokenSymbols := make(map[string]struct{}, len(s.Tokens))
	for i := range s.Tokens {
		token := &s.Tokens[i]
		normalized, err := credit.NormalizeToken(token.Symbol)
		if err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
		if token.Decimals > 18 {
			return fmt.Errorf("tokens[%d]: decimals must be 18 or fewer", i)
		}
		if _, exists := tokenSymbols[normalized]; exists {
			return fmt.Errorf("tokens[%d]: duplicate symbol %q", i, token.Symbol)
		}
		tokenSymbols[normalized] = struct{}{}
	}

	// accounts (outer: addresses sorted; inner: symbols sorted)
	accounts := make([]string, 0, len(s.Accounts))
	for account := range s.Accounts {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		if _, err := crypto.DecodeAddress(account); err != nil {
			return fmt.Errorf("accounts[%q]: %w", account, err)
		}
		balances := s.Accounts[account]
		symbols := make([]string, 0, len(balances))
		for symbol := range balances {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		seen := make(map[string]struct{}, len(symbols))
		for _, symbol := range symbols {
			normalized, err := requireToken(tokenSymbols, symbol)
			if err != nil {
				return fmt.Errorf("accounts[%q][%q]: %w", account, symbol, err)
			}
			if _, dup := seen[normalized]; dup {
				return fmt.Errorf("accounts[%q]: duplicate token %q", account, symbol)
			}
			seen[normalized] = struct{}{}
			if _, err := parseAmountString(balances[symbol]); err != nil {
				return fmt.Errorf("accounts[%q][%q]: %w", account, symbol, err)
			}
		}
	}

	// pools
	poolKeys := make(map[string]struct{}, len(s.Pools))
	for i := range s.Pools {
		pool := &s.Pools[i]
		lender, err := crypto.DecodeAddress(pool.Lender)
		if err != nil {
			return fmt.Errorf("pools[%d]: lender: %w", i, err)
		}
		normalized, err := requireToken(tokenSymbols, pool.Token)
		if err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		if _, err := parseAmountString(pool.Amount); err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		key := string(lender.Bytes()) + ":" + normalized
		if _, dup := poolKeys[key]; dup {
			return fmt.Errorf("pools[%d]: duplicate pool for lender %q token %q", i, pool.Lender, pool.Token)
		}
		poolKeys[key] = struct{}{}
	}

	// credit lines
	lineKeys := make(map[string]struct{}, len(s.CreditLines))
	for i := range s.CreditLines {
		line, err := s.CreditLines[i].parse(tokenSymbols)
		if err != nil {
			return fmt.Errorf("creditLines[%d]: %w", i, err)
		}
		key := string(line.Lender.Bytes()) + ":" + string(line.Borrower.Bytes()) + ":" + line.Token
		if _, dup := lineKeys[key]; dup {
			return fmt.Errorf("creditLines[%d]: duplicate line for lender %q borrower %q token %q", i, s.CreditLines[i].Lender, s.CreditLines[i].Borrower, s.CreditLines[i].Token)
		}
		lineKeys[key] = struct{}{}
	}
	return nil
}

// parse converts the JSON form into a sanitized ledger record.
func (c *CreditLineSpec) parse(tokenSymbols map[string]struct{}) (*credit.CreditLine, error) {
	lender, err := crypto.DecodeAddress(c.Lender)
	if err != nil {
		return nil, fmt.Errorf("lender: %w", err)
	}
	borrower, err := crypto.DecodeAddress(c.Borrower)
	if err != nil {
		return nil, fmt.Errorf("borrower: %w", err)
	}
	if lender.Equal(borrower) {
		return nil, fmt.Errorf("lender and borrower must differ")
	}
	limit, err := parseAmountString(c.CreditLimit)
	if err != nil {
		return nil, fmt.Errorf("creditLimit: %w", err)
	}
	sanitized, err := credit.SanitizeCreditLine(&credit.CreditLine{
		Lender:            lender,
		Borrower:          borrower,
		Token:             c.Token,
		CreditLimit:       limit,
		MinAPRBps:         c.MinAPRBps,
		MaxAPRBps:         c.MaxAPRBps,
		OriginationFeeBps: c.OriginationFeeBps,
	})
	if err != nil {
		return nil, err
	}
	if _, exists := tokenSymbols[sanitized.Token]; !exists {
		return nil, fmt.Errorf("undefined token %q", c.Token)
	}
	return sanitized, nil
}

func requireToken(defined map[string]struct{}, symbol string) (string, error) {
	normalized, err := credit.NormalizeToken(symbol)
	if err != nil {
		return "", err
	}
	if _, ok := defined[normalized]; !ok {
		return "", fmt.Errorf("undefined token %q", symbol)
	}
	return normalized, nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
