package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"creditnet/crypto"
	"creditnet/native/credit"
	"creditnet/rpc/modules"
)

type creditLineParams struct {
	Lender            string `json:"lender"`
	Borrower          string `json:"borrower"`
	Token             string `json:"token"`
	CreditLimit       string `json:"creditLimit"`
	MinAPRBps         uint64 `json:"minAprBps"`
	MaxAPRBps         uint64 `json:"maxAprBps"`
	OriginationFeeBps uint64 `json:"originationFeeBps"`
}

type poolAmountParams struct {
	Lender string `json:"lender"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type borrowParams struct {
	Borrower            string  `json:"borrower"`
	Lender              string  `json:"lender"`
	Token               string  `json:"token"`
	Amount              string  `json:"amount"`
	MaxAcceptableAPRBps *uint64 `json:"maxAcceptableAprBps,omitempty"`
}

type repayParams struct {
	Payer  string `json:"payer"`
	LoanID uint64 `json:"loanId"`
	Amount string `json:"amount"`
}

type forgivePrincipalParams struct {
	Caller string `json:"caller"`
	LoanID uint64 `json:"loanId"`
	Amount string `json:"amount"`
}

type forgiveInterestParams struct {
	Caller string `json:"caller"`
	LoanID uint64 `json:"loanId"`
}

type transferLoanParams struct {
	LoanID uint64 `json:"loanId"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type creditLineQueryParams struct {
	Lender   string `json:"lender"`
	Borrower string `json:"borrower"`
	Token    string `json:"token"`
}

type poolBalanceParams struct {
	Lender string `json:"lender"`
	Token  string `json:"token"`
}

type borrowingSummaryParams struct {
	Borrower string `json:"borrower"`
	Lender   string `json:"lender"`
	Token    string `json:"token"`
}

type loanQueryParams struct {
	LoanID uint64 `json:"loanId"`
}

type txResult struct {
	TxHash string `json:"txHash"`
}

type borrowResult struct {
	Loan   *LoanResult `json:"loan"`
	TxHash string      `json:"txHash"`
}

type loanEnvelope struct {
	Loan *LoanResult `json:"loan"`
}

type creditLineEnvelope struct {
	CreditLine *CreditLineResult `json:"creditLine"`
}

type poolBalanceResult struct {
	Lender  string `json:"lender"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

type accruedInterestResult struct {
	LoanID          uint64 `json:"loanId"`
	AccruedInterest string `json:"accruedInterest"`
}

type ownerOfResult struct {
	LoanID uint64 `json:"loanId"`
	Owner  string `json:"owner"`
}

func (s *Server) handleCreditUpdateCreditLine(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creditLineParams
	if !decodeParams(w, req, &params) {
		return
	}
	lender, err := decodeBech32(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender", err.Error())
		return
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	limit, err := parseNonNegativeAmount(params.CreditLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creditLimit", err.Error())
		return
	}
	txHash, moduleErr := s.credit.UpdateCreditLine(lender, borrower, params.Token, limit, params.MinAPRBps, params.MaxAPRBps, params.OriginationFeeBps)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, txResult{TxHash: txHash})
}

func (s *Server) handleCreditDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handlePoolAmountTx(w, r, req, s.credit.Deposit)
}

func (s *Server) handleCreditWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handlePoolAmountTx(w, r, req, s.credit.Withdraw)
}

func (s *Server) handleCreditBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params borrowParams
	if !decodeParams(w, req, &params) {
		return
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	lender, err := decodeBech32(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	maxAPR := credit.MaxAPRBps
	if params.MaxAcceptableAPRBps != nil {
		maxAPR = *params.MaxAcceptableAPRBps
	}
	loan, txHash, moduleErr := s.credit.Borrow(borrower, lender, params.Token, amount, maxAPR)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, borrowResult{Loan: newLoanResult(loan), TxHash: txHash})
}

func (s *Server) handleCreditRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params repayParams
	if !decodeParams(w, req, &params) {
		return
	}
	payer, err := decodeBech32(params.Payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payer", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receipt, txHash, moduleErr := s.credit.Repay(payer, params.LoanID, amount)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, newRepaymentResult(receipt, txHash))
}

func (s *Server) handleCreditForgivePrincipal(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params forgivePrincipalParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, moduleErr := s.credit.ForgivePrincipal(caller, params.LoanID, amount)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, txResult{TxHash: txHash})
}

func (s *Server) handleCreditForgiveInterest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params forgiveInterestParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	txHash, moduleErr := s.credit.ForgiveInterest(caller, params.LoanID)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, txResult{TxHash: txHash})
}

func (s *Server) handleCreditTransferLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params transferLoanParams
	if !decodeParams(w, req, &params) {
		return
	}
	from, err := decodeBech32(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from", err.Error())
		return
	}
	to, err := decodeBech32(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid to", err.Error())
		return
	}
	txHash, moduleErr := s.credit.TransferLoan(params.LoanID, from, to)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, txResult{TxHash: txHash})
}

func (s *Server) handleCreditGetLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	loanID, ok := parseLoanIDParam(w, req)
	if !ok {
		return
	}
	loan, moduleErr := s.credit.GetLoan(loanID)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, loanEnvelope{Loan: newLoanResult(loan)})
}

func (s *Server) handleCreditGetCreditLine(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creditLineQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	lender, err := decodeBech32(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender", err.Error())
		return
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	line, moduleErr := s.credit.GetCreditLine(lender, borrower, params.Token)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, creditLineEnvelope{CreditLine: newCreditLineResult(line)})
}

func (s *Server) handleCreditGetPoolBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params poolBalanceParams
	if !decodeParams(w, req, &params) {
		return
	}
	lender, err := decodeBech32(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender", err.Error())
		return
	}
	balance, moduleErr := s.credit.GetPoolBalance(lender, params.Token)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, poolBalanceResult{
		Lender:  params.Lender,
		Token:   strings.ToUpper(strings.TrimSpace(params.Token)),
		Balance: decimalString(balance),
	})
}

func (s *Server) handleCreditGetBorrowingSummary(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params borrowingSummaryParams
	if !decodeParams(w, req, &params) {
		return
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	lender, err := decodeBech32(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender", err.Error())
		return
	}
	summary, moduleErr := s.credit.BorrowingSummary(borrower, lender, params.Token)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, newBorrowingSummaryResult(summary))
}

func (s *Server) handleCreditGetAccruedInterest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	loanID, ok := parseLoanIDParam(w, req)
	if !ok {
		return
	}
	interest, moduleErr := s.credit.AccruedInterest(loanID)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, accruedInterestResult{LoanID: loanID, AccruedInterest: decimalString(interest)})
}

func (s *Server) handleCreditOwnerOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	loanID, ok := parseLoanIDParam(w, req)
	if !ok {
		return
	}
	owner, moduleErr := s.credit.OwnerOf(loanID)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, ownerOfResult{LoanID: loanID, Owner: owner.String()})
}

func (s *Server) handlePoolAmountTx(w http.ResponseWriter, _ *http.Request, req *RPCRequest, fn func(crypto.Address, string, *big.Int) (string, *modules.ModuleError)) {
	var params poolAmountParams
	if !decodeParams(w, req, &params) {
		return
	}
	lender, err := decodeBech32(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, moduleErr := fn(lender, params.Token, amount)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, txResult{TxHash: txHash})
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func parseLoanIDParam(w http.ResponseWriter, req *RPCRequest) (uint64, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected loanId parameter", nil)
		return 0, false
	}
	var direct uint64
	if err := json.Unmarshal(req.Params[0], &direct); err == nil {
		return direct, true
	}
	var wrapped loanQueryParams
	if err := json.Unmarshal(req.Params[0], &wrapped); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid loanId parameter", err.Error())
		return 0, false
	}
	return wrapped.LoanID, true
}

func decodeBech32(value string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(value))
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

func parseNonNegativeAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return value, nil
}
