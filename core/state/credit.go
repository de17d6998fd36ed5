package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"creditnet/crypto"
	"creditnet/native/credit"
)

func creditLineKey(lender, borrower []byte, token string) []byte {
	return prefixedKey(creditLinePrefix, lender, borrower, []byte(token))
}

func creditPoolKey(lender []byte, token string) []byte {
	return prefixedKey(creditPoolPrefix, lender, []byte(token))
}

func creditLoanKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return prefixedKey(creditLoanPrefix, buf)
}

func creditBorrowKey(borrower, lender []byte, token string) []byte {
	return prefixedKey(creditBorrowPrefix, borrower, lender, []byte(token))
}

func creditCountsKey(addr []byte) []byte {
	return prefixedKey(creditCountsPrefix, addr)
}

func loanOwnerKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return prefixedKey(ownerPrefix, buf)
}

func addressPayload(addr crypto.Address) ([20]byte, error) {
	var raw [20]byte
	b := addr.Bytes()
	if len(b) != len(raw) {
		return raw, fmt.Errorf("state: malformed address payload")
	}
	copy(raw[:], b)
	return raw, nil
}

func payloadAddress(raw [20]byte) crypto.Address {
	return crypto.MustNewAddress(crypto.AccountPrefix, raw[:])
}

type storedCreditLine struct {
	Lender            [20]byte
	Borrower          [20]byte
	Token             string
	CreditLimit       *big.Int
	MinAPRBps         uint64
	MaxAPRBps         uint64
	OriginationFeeBps uint64
}

func newStoredCreditLine(line *credit.CreditLine) (*storedCreditLine, error) {
	lender, err := addressPayload(line.Lender)
	if err != nil {
		return nil, err
	}
	borrower, err := addressPayload(line.Borrower)
	if err != nil {
		return nil, err
	}
	limit := big.NewInt(0)
	if line.CreditLimit != nil {
		limit = new(big.Int).Set(line.CreditLimit)
	}
	return &storedCreditLine{
		Lender:            lender,
		Borrower:          borrower,
		Token:             line.Token,
		CreditLimit:       limit,
		MinAPRBps:         line.MinAPRBps,
		MaxAPRBps:         line.MaxAPRBps,
		OriginationFeeBps: line.OriginationFeeBps,
	}, nil
}

func (s *storedCreditLine) toCreditLine() (*credit.CreditLine, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil credit line record")
	}
	return credit.SanitizeCreditLine(&credit.CreditLine{
		Lender:            payloadAddress(s.Lender),
		Borrower:          payloadAddress(s.Borrower),
		Token:             s.Token,
		CreditLimit:       s.CreditLimit,
		MinAPRBps:         s.MinAPRBps,
		MaxAPRBps:         s.MaxAPRBps,
		OriginationFeeBps: s.OriginationFeeBps,
	})
}

type storedLoan struct {
	ID                   uint64
	OriginalBorrower     [20]byte
	CurrentHolder        [20]byte
	Lender               [20]byte
	Token                string
	Principal            *big.Int
	RepaidPrincipal      *big.Int
	ForgivenPrincipal    *big.Int
	FixedAPRBps          uint64
	StartTimestamp       *big.Int
	LastPaymentTimestamp *big.Int
	Closed               bool
}

func newStoredLoan(loan *credit.Loan) (*storedLoan, error) {
	borrower, err := addressPayload(loan.OriginalBorrower)
	if err != nil {
		return nil, err
	}
	holder, err := addressPayload(loan.CurrentHolder)
	if err != nil {
		return nil, err
	}
	lender, err := addressPayload(loan.Lender)
	if err != nil {
		return nil, err
	}
	record := &storedLoan{
		ID:                   loan.ID,
		OriginalBorrower:     borrower,
		CurrentHolder:        holder,
		Lender:               lender,
		Token:                loan.Token,
		Principal:            big.NewInt(0),
		RepaidPrincipal:      big.NewInt(0),
		ForgivenPrincipal:    big.NewInt(0),
		FixedAPRBps:          loan.FixedAPRBps,
		StartTimestamp:       big.NewInt(loan.StartTimestamp),
		LastPaymentTimestamp: big.NewInt(loan.LastPaymentTimestamp),
		Closed:               loan.Closed,
	}
	if loan.Principal != nil {
		record.Principal = new(big.Int).Set(loan.Principal)
	}
	if loan.RepaidPrincipal != nil {
		record.RepaidPrincipal = new(big.Int).Set(loan.RepaidPrincipal)
	}
	if loan.ForgivenPrincipal != nil {
		record.ForgivenPrincipal = new(big.Int).Set(loan.ForgivenPrincipal)
	}
	return record, nil
}

func (s *storedLoan) toLoan() (*credit.Loan, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil loan record")
	}
	loan := &credit.Loan{
		ID:                s.ID,
		OriginalBorrower:  payloadAddress(s.OriginalBorrower),
		CurrentHolder:     payloadAddress(s.CurrentHolder),
		Lender:            payloadAddress(s.Lender),
		Token:             s.Token,
		Principal:         s.Principal,
		RepaidPrincipal:   s.RepaidPrincipal,
		ForgivenPrincipal: s.ForgivenPrincipal,
		FixedAPRBps:       s.FixedAPRBps,
		Closed:            s.Closed,
	}
	if s.StartTimestamp != nil {
		loan.StartTimestamp = s.StartTimestamp.Int64()
	}
	if s.LastPaymentTimestamp != nil {
		loan.LastPaymentTimestamp = s.LastPaymentTimestamp.Int64()
	}
	return credit.SanitizeLoan(loan)
}

type storedLoanCounts struct {
	Active   uint64
	Lifetime uint64
}

// CreditLineGet loads the credit line for a (lender, borrower, token) triple.
func (m *Manager) CreditLineGet(lender, borrower crypto.Address, token string) (*credit.CreditLine, bool, error) {
	stored := new(storedCreditLine)
	ok, err := m.getRecord(creditLineKey(lender.Bytes(), borrower.Bytes(), token), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	line, err := stored.toCreditLine()
	if err != nil {
		return nil, false, err
	}
	return line, true, nil
}

// CreditLinePut sanitises and persists a credit line, replacing any previous
// configuration wholesale.
func (m *Manager) CreditLinePut(line *credit.CreditLine) error {
	sanitized, err := credit.SanitizeCreditLine(line)
	if err != nil {
		return err
	}
	record, err := newStoredCreditLine(sanitized)
	if err != nil {
		return err
	}
	key := creditLineKey(sanitized.Lender.Bytes(), sanitized.Borrower.Bytes(), sanitized.Token)
	return m.putRecord(key, record)
}

// PoolBalance returns the lender's undeployed pool funds for a token.
func (m *Manager) PoolBalance(lender crypto.Address, token string) (*big.Int, error) {
	return m.loadBigInt(creditPoolKey(lender.Bytes(), token))
}

// SetPoolBalance overwrites a pool balance. Negative or 256-bit-overflowing
// values are rejected.
func (m *Manager) SetPoolBalance(lender crypto.Address, token string, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative pool balance")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("state: pool balance overflow")
	}
	return m.writeBigInt(creditPoolKey(lender.Bytes(), token), amount)
}

// LoanGet loads a loan record by ID.
func (m *Manager) LoanGet(id uint64) (*credit.Loan, bool, error) {
	stored := new(storedLoan)
	ok, err := m.getRecord(creditLoanKey(id), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	loan, err := stored.toLoan()
	if err != nil {
		return nil, false, err
	}
	return loan, true, nil
}

// LoanPut persists a loan record.
func (m *Manager) LoanPut(loan *credit.Loan) error {
	sanitized, err := credit.SanitizeLoan(loan)
	if err != nil {
		return err
	}
	record, err := newStoredLoan(sanitized)
	if err != nil {
		return err
	}
	return m.putRecord(creditLoanKey(sanitized.ID), record)
}

// LoanDelete removes a loan record. Only issuance rollback uses this; settled
// loans are closed, never deleted.
func (m *Manager) LoanDelete(id uint64) error {
	return m.db.Delete(creditLoanKey(id))
}

// NextLoanID allocates the next monotonically increasing loan identifier.
func (m *Manager) NextLoanID() (uint64, error) {
	last, err := m.loadBigInt(creditLoanSeqKey)
	if err != nil {
		return 0, err
	}
	if last.Sign() < 0 || last.BitLen() >= 64 {
		return 0, fmt.Errorf("state: loan sequence out of range")
	}
	next := last.Uint64() + 1
	if err := m.writeBigInt(creditLoanSeqKey, new(big.Int).SetUint64(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// RevertLoanID rolls the allocator back so the identifier is issued again.
func (m *Manager) RevertLoanID(id uint64) error {
	if id == 0 {
		return fmt.Errorf("state: cannot revert loan id zero")
	}
	return m.writeBigInt(creditLoanSeqKey, new(big.Int).SetUint64(id-1))
}

// BorrowedAmount returns the maintained outstanding-principal total for a
// (borrower, lender, token) triple.
func (m *Manager) BorrowedAmount(borrower, lender crypto.Address, token string) (*big.Int, error) {
	return m.loadBigInt(creditBorrowKey(borrower.Bytes(), lender.Bytes(), token))
}

// SetBorrowedAmount overwrites the running total. Zero clears the record.
func (m *Manager) SetBorrowedAmount(borrower, lender crypto.Address, token string, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative borrowing total")
	}
	key := creditBorrowKey(borrower.Bytes(), lender.Bytes(), token)
	if amount.Sign() == 0 {
		return m.db.Delete(key)
	}
	return m.writeBigInt(key, amount)
}

// LoanCountsGet returns the loan counters for an address, zero when absent.
func (m *Manager) LoanCountsGet(addr crypto.Address) (*credit.LoanCounts, error) {
	stored := new(storedLoanCounts)
	ok, err := m.getRecord(creditCountsKey(addr.Bytes()), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &credit.LoanCounts{}, nil
	}
	return &credit.LoanCounts{Active: stored.Active, Lifetime: stored.Lifetime}, nil
}

// LoanCountsPut persists the loan counters for an address.
func (m *Manager) LoanCountsPut(addr crypto.Address, counts *credit.LoanCounts) error {
	if counts == nil {
		counts = &credit.LoanCounts{}
	}
	record := &storedLoanCounts{Active: counts.Active, Lifetime: counts.Lifetime}
	return m.putRecord(creditCountsKey(addr.Bytes()), record)
}

// LoanOwnerGet resolves the registry's current holder of a loan token.
func (m *Manager) LoanOwnerGet(id uint64) (crypto.Address, bool, error) {
	var raw [20]byte
	ok, err := m.getRecord(loanOwnerKey(id), &raw)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return payloadAddress(raw), true, nil
}

// LoanOwnerPut records the holder of a loan token.
func (m *Manager) LoanOwnerPut(id uint64, owner crypto.Address) error {
	raw, err := addressPayload(owner)
	if err != nil {
		return err
	}
	return m.putRecord(loanOwnerKey(id), &raw)
}

// LoanOwnerDelete removes the ownership record when a token is burned.
func (m *Manager) LoanOwnerDelete(id uint64) error {
	return m.db.Delete(loanOwnerKey(id))
}
