package events

import (
	"math/big"
	"strconv"

	"creditnet/crypto"
)

const (
	TypeCreditLineUpdated        = "credit.line_updated"
	TypeCreditPoolDeposited      = "credit.pool_deposited"
	TypeCreditPoolWithdrawn      = "credit.pool_withdrawn"
	TypeCreditLoanIssued         = "credit.loan_issued"
	TypeCreditLoanRepaid         = "credit.loan_repaid"
	TypeCreditPrincipalForgiven  = "credit.principal_forgiven"
	TypeCreditInterestForgiven   = "credit.interest_forgiven"
	TypeCreditLoanClosed         = "credit.loan_closed"
	TypeCreditLoanTransferred    = "credit.loan_transferred"
	TypeCreditUtilizationUpdated = "credit.utilization_updated"
)

type CreditLineUpdated struct {
	Lender            crypto.Address
	Borrower          crypto.Address
	Token             string
	CreditLimit       *big.Int
	MinAPRBps         uint64
	MaxAPRBps         uint64
	OriginationFeeBps uint64
}

func (CreditLineUpdated) EventType() string { return TypeCreditLineUpdated }

func (e CreditLineUpdated) Record() *Record {
	return &Record{
		Type: TypeCreditLineUpdated,
		Attributes: map[string]string{
			"lender":            e.Lender.String(),
			"borrower":          e.Borrower.String(),
			"token":             e.Token,
			"creditLimit":       formatAmount(e.CreditLimit),
			"minAprBps":         uintToString(e.MinAPRBps),
			"maxAprBps":         uintToString(e.MaxAPRBps),
			"originationFeeBps": uintToString(e.OriginationFeeBps),
		},
	}
}

type PoolDeposited struct {
	Lender  crypto.Address
	Token   string
	Amount  *big.Int
	Balance *big.Int
}

func (PoolDeposited) EventType() string { return TypeCreditPoolDeposited }

func (e PoolDeposited) Record() *Record {
	return &Record{
		Type: TypeCreditPoolDeposited,
		Attributes: map[string]string{
			"lender":  e.Lender.String(),
			"token":   e.Token,
			"amount":  formatAmount(e.Amount),
			"balance": formatAmount(e.Balance),
		},
	}
}

type PoolWithdrawn struct {
	Lender  crypto.Address
	Token   string
	Amount  *big.Int
	Balance *big.Int
}

func (PoolWithdrawn) EventType() string { return TypeCreditPoolWithdrawn }

func (e PoolWithdrawn) Record() *Record {
	return &Record{
		Type: TypeCreditPoolWithdrawn,
		Attributes: map[string]string{
			"lender":  e.Lender.String(),
			"token":   e.Token,
			"amount":  formatAmount(e.Amount),
			"balance": formatAmount(e.Balance),
		},
	}
}

type LoanIssued struct {
	LoanID    uint64
	Borrower  crypto.Address
	Lender    crypto.Address
	Token     string
	Requested *big.Int
	Fee       *big.Int
	Principal *big.Int
	APRBps    uint64
	IssuedAt  int64
}

func (LoanIssued) EventType() string { return TypeCreditLoanIssued }

func (e LoanIssued) Record() *Record {
	return &Record{
		Type: TypeCreditLoanIssued,
		Attributes: map[string]string{
			"loanId":    uintToString(e.LoanID),
			"borrower":  e.Borrower.String(),
			"lender":    e.Lender.String(),
			"token":     e.Token,
			"requested": formatAmount(e.Requested),
			"fee":       formatAmount(e.Fee),
			"principal": formatAmount(e.Principal),
			"aprBps":    uintToString(e.APRBps),
			"issuedAt":  intToString(e.IssuedAt),
		},
	}
}

type LoanRepaid struct {
	LoanID        uint64
	Payer         crypto.Address
	Amount        *big.Int
	InterestPaid  *big.Int
	PrincipalPaid *big.Int
	Outstanding   *big.Int
}

func (LoanRepaid) EventType() string { return TypeCreditLoanRepaid }

func (e LoanRepaid) Record() *Record {
	return &Record{
		Type: TypeCreditLoanRepaid,
		Attributes: map[string]string{
			"loanId":        uintToString(e.LoanID),
			"payer":         e.Payer.String(),
			"amount":        formatAmount(e.Amount),
			"interestPaid":  formatAmount(e.InterestPaid),
			"principalPaid": formatAmount(e.PrincipalPaid),
			"outstanding":   formatAmount(e.Outstanding),
		},
	}
}

type PrincipalForgiven struct {
	LoanID      uint64
	Lender      crypto.Address
	Amount      *big.Int
	Outstanding *big.Int
}

func (PrincipalForgiven) EventType() string { return TypeCreditPrincipalForgiven }

func (e PrincipalForgiven) Record() *Record {
	return &Record{
		Type: TypeCreditPrincipalForgiven,
		Attributes: map[string]string{
			"loanId":      uintToString(e.LoanID),
			"lender":      e.Lender.String(),
			"amount":      formatAmount(e.Amount),
			"outstanding": formatAmount(e.Outstanding),
		},
	}
}

type InterestForgiven struct {
	LoanID     uint64
	Lender     crypto.Address
	Forgiven   *big.Int
	ForgivenAt int64
}

func (InterestForgiven) EventType() string { return TypeCreditInterestForgiven }

func (e InterestForgiven) Record() *Record {
	return &Record{
		Type: TypeCreditInterestForgiven,
		Attributes: map[string]string{
			"loanId":     uintToString(e.LoanID),
			"lender":     e.Lender.String(),
			"forgiven":   formatAmount(e.Forgiven),
			"forgivenAt": intToString(e.ForgivenAt),
		},
	}
}

type LoanClosed struct {
	LoanID   uint64
	Holder   crypto.Address
	ClosedAt int64
}

func (LoanClosed) EventType() string { return TypeCreditLoanClosed }

func (e LoanClosed) Record() *Record {
	return &Record{
		Type: TypeCreditLoanClosed,
		Attributes: map[string]string{
			"loanId":   uintToString(e.LoanID),
			"holder":   e.Holder.String(),
			"closedAt": intToString(e.ClosedAt),
		},
	}
}

type LoanTransferred struct {
	LoanID uint64
	From   crypto.Address
	To     crypto.Address
}

func (LoanTransferred) EventType() string { return TypeCreditLoanTransferred }

func (e LoanTransferred) Record() *Record {
	return &Record{
		Type: TypeCreditLoanTransferred,
		Attributes: map[string]string{
			"loanId": uintToString(e.LoanID),
			"from":   e.From.String(),
			"to":     e.To.String(),
		},
	}
}

type UtilizationUpdated struct {
	Borrower       crypto.Address
	Lender         crypto.Address
	Token          string
	Borrowing      *big.Int
	CreditLimit    *big.Int
	UtilizationBps uint64
}

func (UtilizationUpdated) EventType() string { return TypeCreditUtilizationUpdated }

func (e UtilizationUpdated) Record() *Record {
	return &Record{
		Type: TypeCreditUtilizationUpdated,
		Attributes: map[string]string{
			"borrower":       e.Borrower.String(),
			"lender":         e.Lender.String(),
			"token":          e.Token,
			"borrowing":      formatAmount(e.Borrowing),
			"creditLimit":    formatAmount(e.CreditLimit),
			"utilizationBps": uintToString(e.UtilizationBps),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
