package credit

import "errors"

// Validation failures: rejected before any state is touched.
var (
	ErrInvalidAmount    = errors.New("credit: amount must be positive")
	ErrInvalidAddress   = errors.New("credit: invalid address")
	ErrInvalidToken     = errors.New("credit: invalid token symbol")
	ErrUnknownToken     = errors.New("credit: token not registered")
	ErrInvalidAPRBounds = errors.New("credit: apr bounds out of range")
	ErrInvalidFee       = errors.New("credit: origination fee out of range")
	ErrSelfCredit       = errors.New("credit: lender and borrower must differ")
)

// Authorization failures. Repayment is intentionally open to any payer and is
// never gated here.
var (
	ErrNotLender            = errors.New("credit: caller is not the lender")
	ErrNotHolder            = errors.New("credit: caller is not the current holder")
	ErrUnauthorizedBorrower = errors.New("credit: no credit line for borrower")
)

// Capacity failures: the request is well formed but exceeds a limit.
var (
	ErrExceedsCreditLimit    = errors.New("credit: exceeds credit limit")
	ErrInsufficientLiquidity = errors.New("credit: insufficient pool liquidity")
	ErrInsufficientBalance   = errors.New("credit: insufficient pool balance")
	ErrAPRAboveLimit         = errors.New("credit: apr exceeds caller limit")
	ErrLoanCapReached        = errors.New("credit: loan count cap reached")
	ErrExceedsOutstanding    = errors.New("credit: amount exceeds outstanding principal")
)

// State failures: the target record is not in an operable state.
var (
	ErrLoanNotFound = errors.New("credit: loan not found")
	ErrLoanClosed   = errors.New("credit: loan already closed")
)

// Wiring failures surface misconfigured engines, not caller mistakes.
var (
	errNilState    = errors.New("credit: state backend not configured")
	errNilRegistry = errors.New("credit: ownership registry not configured")
	errNilAssets   = errors.New("credit: asset mover not configured")
)
