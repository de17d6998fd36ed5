package credit

import (
	"errors"
	"math/big"
	"testing"
)

func TestNormalizeToken(t *testing.T) {
	got, err := NormalizeToken("  cnet ")
	if err != nil || got != "CNET" {
		t.Fatalf("normalize = %q (%v), want CNET", got, err)
	}
	if got, err := NormalizeToken("usd1"); err != nil || got != "USD1" {
		t.Fatalf("normalize = %q (%v), want USD1", got, err)
	}
	for _, bad := range []string{"", "A", "ABCDEFGHIJKLM", "1AB", "AB$", "A B"} {
		if _, err := NormalizeToken(bad); err == nil {
			t.Fatalf("normalize accepted %q", bad)
		}
	}
}

func TestSanitizeCreditLine(t *testing.T) {
	base := func() *CreditLine {
		return &CreditLine{
			Lender:      makeAddress(0x01),
			Borrower:    makeAddress(0x02),
			Token:       "cnet",
			CreditLimit: big.NewInt(1000),
			MinAPRBps:   500,
			MaxAPRBps:   1500,
		}
	}

	line, err := SanitizeCreditLine(base())
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if line.Token != "CNET" {
		t.Fatalf("token not canonicalised: %q", line.Token)
	}

	negative := base()
	negative.CreditLimit = big.NewInt(-1)
	if _, err := SanitizeCreditLine(negative); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative limit: got %v, want ErrInvalidAmount", err)
	}

	overCap := base()
	overCap.MaxAPRBps = MaxAPRBps + 1
	if _, err := SanitizeCreditLine(overCap); !errors.Is(err, ErrInvalidAPRBounds) {
		t.Fatalf("max above cap: got %v, want ErrInvalidAPRBounds", err)
	}

	inverted := base()
	inverted.MinAPRBps = 2000
	if _, err := SanitizeCreditLine(inverted); !errors.Is(err, ErrInvalidAPRBounds) {
		t.Fatalf("min above max: got %v, want ErrInvalidAPRBounds", err)
	}

	zeroFloor := base()
	zeroFloor.MinAPRBps = 0
	if _, err := SanitizeCreditLine(zeroFloor); !errors.Is(err, ErrInvalidAPRBounds) {
		t.Fatalf("zero min on open limit: got %v, want ErrInvalidAPRBounds", err)
	}

	// Revoked lines (zero limit) are exempt from the rate floor.
	revoked := base()
	revoked.CreditLimit = big.NewInt(0)
	revoked.MinAPRBps = 0
	revoked.MaxAPRBps = 0
	if _, err := SanitizeCreditLine(revoked); err != nil {
		t.Fatalf("revoked line: %v", err)
	}

	highFee := base()
	highFee.OriginationFeeBps = MaxAPRBps + 1
	if _, err := SanitizeCreditLine(highFee); !errors.Is(err, ErrInvalidFee) {
		t.Fatalf("fee above cap: got %v, want ErrInvalidFee", err)
	}
}

func TestSanitizeLoanAccountingIdentity(t *testing.T) {
	loan := &Loan{
		ID:                7,
		Token:             "CNET",
		Principal:         big.NewInt(1000),
		RepaidPrincipal:   big.NewInt(600),
		ForgivenPrincipal: big.NewInt(500),
	}
	if _, err := SanitizeLoan(loan); err == nil {
		t.Fatalf("accepted loan settled beyond principal")
	}

	loan.ForgivenPrincipal = big.NewInt(400)
	sanitized, err := SanitizeLoan(loan)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	wantBig(t, sanitized.Outstanding(), 0, "outstanding at full settlement")

	sparse := &Loan{ID: 8, Token: "CNET", Principal: big.NewInt(100)}
	sanitized, err = SanitizeLoan(sparse)
	if err != nil {
		t.Fatalf("sanitize sparse: %v", err)
	}
	if sanitized.RepaidPrincipal == nil || sanitized.ForgivenPrincipal == nil {
		t.Fatalf("nil amounts not defaulted: %+v", sanitized)
	}
	wantBig(t, sanitized.Outstanding(), 100, "outstanding for fresh loan")
}

func TestLoanCloneIsDeep(t *testing.T) {
	loan := &Loan{
		ID:              1,
		Token:           "CNET",
		Principal:       big.NewInt(1000),
		RepaidPrincipal: big.NewInt(100),
	}
	clone := loan.Clone()
	clone.Principal.SetInt64(5)
	clone.RepaidPrincipal.SetInt64(5)
	wantBig(t, loan.Principal, 1000, "principal after clone mutation")
	wantBig(t, loan.RepaidPrincipal, 100, "repaid after clone mutation")
}
