package modules

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"creditnet/crypto"
	nativecommon "creditnet/native/common"
	"creditnet/native/credit"
	"creditnet/native/registry"
)

// CreditModule exposes the lending ledger to the JSON-RPC surface. The engine
// owns all ledger state; the module only translates parameters and maps
// sentinel errors onto transport codes.
type CreditModule struct {
	engine   *credit.Engine
	registry *registry.Registry
	nowFn    func() time.Time
}

// NewCreditModule wires the long-lived engine and ownership registry.
func NewCreditModule(engine *credit.Engine, reg *registry.Registry) *CreditModule {
	return &CreditModule{engine: engine, registry: reg, nowFn: time.Now}
}

func (m *CreditModule) ready() *ModuleError {
	if m == nil || m.engine == nil {
		return serverError("credit module not available")
	}
	return nil
}

// UpdateCreditLine replaces the lender's terms for a borrower and token.
func (m *CreditModule) UpdateCreditLine(lender, borrower crypto.Address, token string, creditLimit *big.Int, minAPRBps, maxAPRBps, originationFeeBps uint64) (string, *ModuleError) {
	if err := m.ready(); err != nil {
		return "", err
	}
	if err := m.engine.UpdateCreditLine(lender, borrower, token, creditLimit, minAPRBps, maxAPRBps, originationFeeBps); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("updateCreditLine", lender.String()+":"+borrower.String()+":"+token, creditLimit), nil
}

// Deposit moves lender funds into the pool.
func (m *CreditModule) Deposit(lender crypto.Address, token string, amount *big.Int) (string, *ModuleError) {
	if err := m.ready(); err != nil {
		return "", err
	}
	if err := m.engine.Deposit(lender, token, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("deposit", lender.String()+":"+token, amount), nil
}

// Withdraw returns undeployed pool funds to the lender.
func (m *CreditModule) Withdraw(lender crypto.Address, token string, amount *big.Int) (string, *ModuleError) {
	if err := m.ready(); err != nil {
		return "", err
	}
	if err := m.engine.Withdraw(lender, token, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("withdraw", lender.String()+":"+token, amount), nil
}

// Borrow issues a loan against the borrower's credit line.
func (m *CreditModule) Borrow(borrower, lender crypto.Address, token string, requested *big.Int, maxAcceptableAPRBps uint64) (*credit.Loan, string, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, "", err
	}
	loan, err := m.engine.Borrow(borrower, lender, token, requested, maxAcceptableAPRBps)
	if err != nil {
		return nil, "", m.wrapError(err)
	}
	return loan, m.makeTxHash("borrow", borrower.String()+":"+token, requested, loan.Principal), nil
}

// Repay settles interest first, then principal, from any payer.
func (m *CreditModule) Repay(payer crypto.Address, loanID uint64, amount *big.Int) (*credit.RepaymentReceipt, string, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, "", err
	}
	receipt, err := m.engine.Repay(payer, loanID, amount)
	if err != nil {
		return nil, "", m.wrapError(err)
	}
	hash := m.makeTxHash("repay", fmt.Sprintf("%d:%s", loanID, payer.String()), amount, receipt.InterestPaid, receipt.PrincipalPaid)
	return receipt, hash, nil
}

// ForgivePrincipal writes down outstanding principal from the lender's pool.
func (m *CreditModule) ForgivePrincipal(caller crypto.Address, loanID uint64, amount *big.Int) (string, *ModuleError) {
	if err := m.ready(); err != nil {
		return "", err
	}
	if err := m.engine.ForgivePrincipal(caller, loanID, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("forgivePrincipal", fmt.Sprintf("%d:%s", loanID, caller.String()), amount), nil
}

// ForgiveInterest waives all interest accrued so far on a loan.
func (m *CreditModule) ForgiveInterest(caller crypto.Address, loanID uint64) (string, *ModuleError) {
	if err := m.ready(); err != nil {
		return "", err
	}
	if err := m.engine.ForgiveInterest(caller, loanID); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("forgiveInterest", fmt.Sprintf("%d:%s", loanID, caller.String())), nil
}

// TransferLoan moves the repayment obligation to a new holder through the
// ownership registry, which fires the ledger's transfer hook.
func (m *CreditModule) TransferLoan(loanID uint64, from, to crypto.Address) (string, *ModuleError) {
	if err := m.ready(); err != nil {
		return "", err
	}
	if m.registry == nil {
		return "", serverError("ownership registry not available")
	}
	if err := m.registry.Transfer(loanID, from, to); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("transferLoan", fmt.Sprintf("%d:%s:%s", loanID, from.String(), to.String())), nil
}

// GetLoan returns the loan record.
func (m *CreditModule) GetLoan(loanID uint64) (*credit.Loan, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	loan, err := m.engine.GetLoan(loanID)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return loan, nil
}

// GetCreditLine returns the stored line for a (lender, borrower, token) key.
func (m *CreditModule) GetCreditLine(lender, borrower crypto.Address, token string) (*credit.CreditLine, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	line, err := m.engine.GetCreditLine(lender, borrower, token)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return line, nil
}

// GetPoolBalance returns the lender's undeployed funds for a token.
func (m *CreditModule) GetPoolBalance(lender crypto.Address, token string) (*big.Int, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	balance, err := m.engine.GetPoolBalance(lender, token)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return balance, nil
}

// AccruedInterest previews interest owed on a loan right now.
func (m *CreditModule) AccruedInterest(loanID uint64) (*big.Int, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	interest, err := m.engine.LoanInterest(loanID)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return interest, nil
}

// BorrowingSummary reports the running outstanding total for a triple against
// its credit limit.
func (m *CreditModule) BorrowingSummary(borrower, lender crypto.Address, token string) (*credit.BorrowingSummary, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	summary, err := m.engine.GetBorrowingSummary(borrower, lender, token)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return summary, nil
}

// OwnerOf resolves the current holder of a loan position.
func (m *CreditModule) OwnerOf(loanID uint64) (crypto.Address, *ModuleError) {
	if err := m.ready(); err != nil {
		return crypto.Address{}, err
	}
	if m.registry == nil {
		return crypto.Address{}, serverError("ownership registry not available")
	}
	owner, err := m.registry.OwnerOf(loanID)
	if err != nil {
		return crypto.Address{}, m.wrapError(err)
	}
	return owner, nil
}

var (
	validationSentinels = []error{
		credit.ErrInvalidAmount, credit.ErrInvalidAddress, credit.ErrInvalidToken,
		credit.ErrUnknownToken, credit.ErrInvalidAPRBounds, credit.ErrInvalidFee,
		credit.ErrSelfCredit, registry.ErrInvalidHolder,
	}
	authSentinels = []error{
		credit.ErrNotLender, credit.ErrNotHolder, credit.ErrUnauthorizedBorrower,
		registry.ErrNotOwner,
	}
	capacitySentinels = []error{
		credit.ErrExceedsCreditLimit, credit.ErrInsufficientLiquidity,
		credit.ErrInsufficientBalance, credit.ErrAPRAboveLimit,
		credit.ErrLoanCapReached, credit.ErrExceedsOutstanding,
	}
	notFoundSentinels = []error{credit.ErrLoanNotFound, registry.ErrTokenNotFound}
	conflictSentinels = []error{credit.ErrLoanClosed, registry.ErrTokenExists}
)

func (m *CreditModule) wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	switch {
	case matchesAny(err, validationSentinels):
		return invalidParams(err.Error())
	case matchesAny(err, authSentinels):
		return &ModuleError{HTTPStatus: http.StatusForbidden, Code: codeUnauthorized, Message: err.Error()}
	case matchesAny(err, capacitySentinels):
		return &ModuleError{HTTPStatus: http.StatusConflict, Code: codeServerError, Message: err.Error()}
	case matchesAny(err, notFoundSentinels):
		return &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeServerError, Message: err.Error()}
	case matchesAny(err, conflictSentinels):
		return &ModuleError{HTTPStatus: http.StatusConflict, Code: codeServerError, Message: err.Error()}
	case errors.Is(err, nativecommon.ErrModulePaused):
		return &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: codeServerError, Message: err.Error()}
	default:
		return serverError(err.Error())
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (m *CreditModule) makeTxHash(kind, primary string, amounts ...*big.Int) string {
	parts := []string{kind, primary}
	for _, amount := range amounts {
		if amount != nil {
			parts = append(parts, amount.String())
		}
	}
	parts = append(parts, fmt.Sprintf("%d", m.nowFn().UTC().UnixNano()))
	payload := strings.Join(parts, "|")
	hash := ethcrypto.Keccak256([]byte(payload))
	return "0x" + hex.EncodeToString(hash)
}
