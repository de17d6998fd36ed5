package modules

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"creditnet/crypto"
	nativecommon "creditnet/native/common"
	"creditnet/native/credit"
	"creditnet/native/registry"
)

func moduleAddr(t *testing.T, fill byte) crypto.Address {
	t.Helper()
	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = fill
	}
	return crypto.MustNewAddress(crypto.AccountPrefix, payload)
}

func TestWrapErrorMapsSentinelsToTransportCodes(t *testing.T) {
	m := &CreditModule{}
	cases := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"validation", credit.ErrInvalidAmount, http.StatusBadRequest, codeInvalidParams},
		{"validation wrapped", fmt.Errorf("deposit: %w", credit.ErrInvalidToken), http.StatusBadRequest, codeInvalidParams},
		{"registry holder", registry.ErrInvalidHolder, http.StatusBadRequest, codeInvalidParams},
		{"authorization", credit.ErrNotLender, http.StatusForbidden, codeUnauthorized},
		{"registry owner", registry.ErrNotOwner, http.StatusForbidden, codeUnauthorized},
		{"capacity", credit.ErrInsufficientLiquidity, http.StatusConflict, codeServerError},
		{"loan cap", credit.ErrLoanCapReached, http.StatusConflict, codeServerError},
		{"not found", credit.ErrLoanNotFound, http.StatusNotFound, codeServerError},
		{"token not found", registry.ErrTokenNotFound, http.StatusNotFound, codeServerError},
		{"closed", credit.ErrLoanClosed, http.StatusConflict, codeServerError},
		{"paused", nativecommon.ErrModulePaused, http.StatusServiceUnavailable, codeServerError},
		{"unclassified", fmt.Errorf("disk on fire"), http.StatusInternalServerError, codeServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			moduleErr := m.wrapError(tc.err)
			if moduleErr == nil {
				t.Fatalf("expected module error")
			}
			if moduleErr.HTTPStatus != tc.status {
				t.Fatalf("expected status %d got %d", tc.status, moduleErr.HTTPStatus)
			}
			if moduleErr.Code != tc.code {
				t.Fatalf("expected code %d got %d", tc.code, moduleErr.Code)
			}
			if moduleErr.Message == "" {
				t.Fatalf("expected message")
			}
		})
	}
	if m.wrapError(nil) != nil {
		t.Fatalf("nil error should map to nil")
	}
}

func TestMakeTxHashShape(t *testing.T) {
	m := &CreditModule{nowFn: func() time.Time { return time.Unix(1_700_000_000, 42) }}
	hash := m.makeTxHash("deposit", "cnet1lender:CNET", nil)
	if !strings.HasPrefix(hash, "0x") {
		t.Fatalf("expected 0x prefix, got %s", hash)
	}
	if len(hash) != 66 {
		t.Fatalf("expected 32-byte digest, got %d chars", len(hash))
	}
	if again := m.makeTxHash("deposit", "cnet1lender:CNET", nil); again != hash {
		t.Fatalf("same inputs and clock should hash identically")
	}
	if other := m.makeTxHash("withdraw", "cnet1lender:CNET", nil); other == hash {
		t.Fatalf("different kinds should hash differently")
	}
}

func TestModuleGuardsMissingCollaborators(t *testing.T) {
	var missing *CreditModule
	if _, err := missing.GetLoan(1); err == nil || err.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected server error from nil module, got %+v", err)
	}

	noRegistry := NewCreditModule(credit.NewEngine(), nil)
	holder := moduleAddr(t, 0x01)
	buyer := moduleAddr(t, 0x02)
	if _, err := noRegistry.TransferLoan(1, holder, buyer); err == nil {
		t.Fatalf("expected transfer without registry to fail")
	}
	if _, err := noRegistry.OwnerOf(1); err == nil {
		t.Fatalf("expected ownerOf without registry to fail")
	}
}
