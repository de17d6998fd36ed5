package credit

import (
	"fmt"
	"math/big"
	"strings"

	"creditnet/crypto"
)

// CreditLine is the lender-authored configuration governing how much a single
// borrower may draw in a given token and at what rate band. Amounts are
// expressed as big integers in the token's smallest unit; rates are basis
// points (1 bp = 0.01%).
type CreditLine struct {
	Lender   crypto.Address
	Borrower crypto.Address
	Token    string
	// CreditLimit caps the borrower's aggregate outstanding principal across
	// all open loans on this line. Zero revokes new borrowing.
	CreditLimit *big.Int
	// MinAPRBps and MaxAPRBps bound the utilization-interpolated rate locked
	// into each loan at issuance.
	MinAPRBps uint64
	MaxAPRBps uint64
	// OriginationFeeBps is charged on the requested amount and capitalised
	// into the loan principal.
	OriginationFeeBps uint64
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (l *CreditLine) Clone() *CreditLine {
	if l == nil {
		return nil
	}
	clone := *l
	if l.CreditLimit != nil {
		clone.CreditLimit = new(big.Int).Set(l.CreditLimit)
	} else {
		clone.CreditLimit = big.NewInt(0)
	}
	return &clone
}

// Loan is a single drawn position. OriginalBorrower never changes and pins
// credit-limit exposure; CurrentHolder follows the ownership token and holds
// the right and obligation to repay.
type Loan struct {
	ID               uint64
	OriginalBorrower crypto.Address
	CurrentHolder    crypto.Address
	Lender           crypto.Address
	Token            string
	// Principal is the requested amount plus the capitalised origination fee,
	// fixed at issuance.
	Principal         *big.Int
	RepaidPrincipal   *big.Int
	ForgivenPrincipal *big.Int
	// FixedAPRBps is locked at issuance and never recalculated.
	FixedAPRBps          uint64
	StartTimestamp       int64
	LastPaymentTimestamp int64
	Closed               bool
}

// Clone returns a deep copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Principal = cloneBigInt(l.Principal)
	clone.RepaidPrincipal = cloneBigInt(l.RepaidPrincipal)
	clone.ForgivenPrincipal = cloneBigInt(l.ForgivenPrincipal)
	return &clone
}

// Outstanding returns principal minus repaid and forgiven principal.
func (l *Loan) Outstanding() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Set(ensureBigInt(l.Principal))
	out.Sub(out, ensureBigInt(l.RepaidPrincipal))
	out.Sub(out, ensureBigInt(l.ForgivenPrincipal))
	return out
}

// LoanCounts tracks per-address loan counters. Active moves with the ownership
// token and drops at closure; Lifetime only ever grows.
type LoanCounts struct {
	Active   uint64
	Lifetime uint64
}

// RepaymentReceipt reports how an incoming payment was applied. Amount is the
// portion the waterfall consumed; any surplus stays with the payer.
type RepaymentReceipt struct {
	LoanID        uint64
	Amount        *big.Int
	InterestPaid  *big.Int
	PrincipalPaid *big.Int
	Outstanding   *big.Int
	Closed        bool
}

// BorrowingSummary is a read-model row for one (borrower, lender, token)
// triple: the maintained running total against its credit limit.
type BorrowingSummary struct {
	Borrower       crypto.Address
	Lender         crypto.Address
	Token          string
	Borrowing      *big.Int
	CreditLimit    *big.Int
	UtilizationBps uint64
}

// NormalizeToken canonicalises an asset symbol: trimmed, uppercased, 2 to 12
// characters, leading letter, A-Z and digits only.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if len(trimmed) < 2 || len(trimmed) > 12 {
		return "", fmt.Errorf("credit: token symbol length out of range: %q", symbol)
	}
	if trimmed[0] < 'A' || trimmed[0] > 'Z' {
		return "", fmt.Errorf("credit: token symbol must start with a letter: %q", symbol)
	}
	for _, c := range trimmed {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", fmt.Errorf("credit: token symbol has invalid character: %q", symbol)
		}
	}
	return trimmed, nil
}

// SanitizeCreditLine validates and normalises a credit line, returning a clone
// with canonical token casing and non-nil amounts. The original is untouched.
func SanitizeCreditLine(l *CreditLine) (*CreditLine, error) {
	if l == nil {
		return nil, fmt.Errorf("credit: nil credit line")
	}
	clone := l.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	clone.Token = token
	if clone.CreditLimit.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if clone.MaxAPRBps > MaxAPRBps || clone.MinAPRBps > clone.MaxAPRBps {
		return nil, ErrInvalidAPRBounds
	}
	if clone.CreditLimit.Sign() > 0 && clone.MinAPRBps < MinAPRBps {
		return nil, ErrInvalidAPRBounds
	}
	if clone.OriginationFeeBps > MaxAPRBps {
		return nil, ErrInvalidFee
	}
	return clone, nil
}

// SanitizeLoan normalises a loan record loaded from storage, defaulting nil
// amounts and validating the accounting identity.
func SanitizeLoan(l *Loan) (*Loan, error) {
	if l == nil {
		return nil, fmt.Errorf("credit: nil loan")
	}
	clone := l.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	clone.Token = token
	if clone.Principal == nil {
		clone.Principal = big.NewInt(0)
	}
	if clone.RepaidPrincipal == nil {
		clone.RepaidPrincipal = big.NewInt(0)
	}
	if clone.ForgivenPrincipal == nil {
		clone.ForgivenPrincipal = big.NewInt(0)
	}
	if clone.Principal.Sign() < 0 || clone.RepaidPrincipal.Sign() < 0 || clone.ForgivenPrincipal.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	settled := new(big.Int).Add(clone.RepaidPrincipal, clone.ForgivenPrincipal)
	if settled.Cmp(clone.Principal) > 0 {
		return nil, fmt.Errorf("credit: loan %d settled beyond principal", clone.ID)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
