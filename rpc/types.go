package rpc

import (
	"math/big"

	"creditnet/native/credit"
)

// LoanResult renders a loan record for RPC consumers. Amounts are decimal
// strings in the token's smallest unit.
type LoanResult struct {
	LoanID               uint64 `json:"loanId"`
	OriginalBorrower     string `json:"originalBorrower"`
	CurrentHolder        string `json:"currentHolder"`
	Lender               string `json:"lender"`
	Token                string `json:"token"`
	Principal            string `json:"principal"`
	RepaidPrincipal      string `json:"repaidPrincipal"`
	ForgivenPrincipal    string `json:"forgivenPrincipal"`
	Outstanding          string `json:"outstanding"`
	FixedAPRBps          uint64 `json:"fixedAprBps"`
	StartTimestamp       int64  `json:"startTimestamp"`
	LastPaymentTimestamp int64  `json:"lastPaymentTimestamp"`
	Closed               bool   `json:"closed"`
}

func newLoanResult(loan *credit.Loan) *LoanResult {
	if loan == nil {
		return nil
	}
	return &LoanResult{
		LoanID:               loan.ID,
		OriginalBorrower:     loan.OriginalBorrower.String(),
		CurrentHolder:        loan.CurrentHolder.String(),
		Lender:               loan.Lender.String(),
		Token:                loan.Token,
		Principal:            decimalString(loan.Principal),
		RepaidPrincipal:      decimalString(loan.RepaidPrincipal),
		ForgivenPrincipal:    decimalString(loan.ForgivenPrincipal),
		Outstanding:          loan.Outstanding().String(),
		FixedAPRBps:          loan.FixedAPRBps,
		StartTimestamp:       loan.StartTimestamp,
		LastPaymentTimestamp: loan.LastPaymentTimestamp,
		Closed:               loan.Closed,
	}
}

// CreditLineResult renders a stored credit line.
type CreditLineResult struct {
	Lender            string `json:"lender"`
	Borrower          string `json:"borrower"`
	Token             string `json:"token"`
	CreditLimit       string `json:"creditLimit"`
	MinAPRBps         uint64 `json:"minAprBps"`
	MaxAPRBps         uint64 `json:"maxAprBps"`
	OriginationFeeBps uint64 `json:"originationFeeBps"`
}

func newCreditLineResult(line *credit.CreditLine) *CreditLineResult {
	if line == nil {
		return nil
	}
	return &CreditLineResult{
		Lender:            line.Lender.String(),
		Borrower:          line.Borrower.String(),
		Token:             line.Token,
		CreditLimit:       decimalString(line.CreditLimit),
		MinAPRBps:         line.MinAPRBps,
		MaxAPRBps:         line.MaxAPRBps,
		OriginationFeeBps: line.OriginationFeeBps,
	}
}

// RepaymentResult reports how a payment was applied by the waterfall.
type RepaymentResult struct {
	LoanID        uint64 `json:"loanId"`
	AmountApplied string `json:"amountApplied"`
	InterestPaid  string `json:"interestPaid"`
	PrincipalPaid string `json:"principalPaid"`
	Outstanding   string `json:"outstanding"`
	Closed        bool   `json:"closed"`
	TxHash        string `json:"txHash"`
}

func newRepaymentResult(receipt *credit.RepaymentReceipt, txHash string) *RepaymentResult {
	if receipt == nil {
		return nil
	}
	return &RepaymentResult{
		LoanID:        receipt.LoanID,
		AmountApplied: decimalString(receipt.Amount),
		InterestPaid:  decimalString(receipt.InterestPaid),
		PrincipalPaid: decimalString(receipt.PrincipalPaid),
		Outstanding:   decimalString(receipt.Outstanding),
		Closed:        receipt.Closed,
		TxHash:        txHash,
	}
}

// BorrowingSummaryResult is the running outstanding total for one
// (borrower, lender, token) triple against its credit limit.
type BorrowingSummaryResult struct {
	Borrower       string `json:"borrower"`
	Lender         string `json:"lender"`
	Token          string `json:"token"`
	Borrowing      string `json:"borrowing"`
	CreditLimit    string `json:"creditLimit"`
	UtilizationBps uint64 `json:"utilizationBps"`
}

func newBorrowingSummaryResult(summary *credit.BorrowingSummary) *BorrowingSummaryResult {
	if summary == nil {
		return nil
	}
	return &BorrowingSummaryResult{
		Borrower:       summary.Borrower.String(),
		Lender:         summary.Lender.String(),
		Token:          summary.Token,
		Borrowing:      decimalString(summary.Borrowing),
		CreditLimit:    decimalString(summary.CreditLimit),
		UtilizationBps: summary.UtilizationBps,
	}
}

func decimalString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
