package credit

import (
	"math/big"
	"sync"
	"time"

	"creditnet/core/events"
	"creditnet/crypto"
	nativecommon "creditnet/native/common"
)

const moduleName = "credit"

// engineState is the narrow persistence surface the engine mutates. All
// methods operate on sanitised records; implementations return clones so the
// engine can mutate freely before writing back.
type engineState interface {
	CreditLineGet(lender, borrower crypto.Address, token string) (*CreditLine, bool, error)
	CreditLinePut(line *CreditLine) error
	PoolBalance(lender crypto.Address, token string) (*big.Int, error)
	SetPoolBalance(lender crypto.Address, token string, amount *big.Int) error
	LoanGet(id uint64) (*Loan, bool, error)
	LoanPut(loan *Loan) error
	LoanDelete(id uint64) error
	NextLoanID() (uint64, error)
	RevertLoanID(id uint64) error
	BorrowedAmount(borrower, lender crypto.Address, token string) (*big.Int, error)
	SetBorrowedAmount(borrower, lender crypto.Address, token string, amount *big.Int) error
	LoanCountsGet(addr crypto.Address) (*LoanCounts, error)
	LoanCountsPut(addr crypto.Address, counts *LoanCounts) error
	HasToken(symbol string) (bool, error)
}

// AssetMover moves the underlying fungible asset between participants and the
// module vault. Implementations guarantee exactly-once effect on success and
// no effect on failure.
type AssetMover interface {
	TransferIn(token string, from crypto.Address, amount *big.Int) error
	TransferOut(token string, to crypto.Address, amount *big.Int) error
}

// TokenRegistry is the engine's capability view of the ownership-token
// registry. The engine mints at issuance, burns at closure, and commits the
// holder record while handling a transfer hook; it never initiates transfers
// itself. All three mutators are invoked inside engine commands, so they share
// the engine's serialisation.
type TokenRegistry interface {
	Mint(holder crypto.Address, loanID uint64) error
	Burn(loanID uint64) error
	SetOwner(loanID uint64, holder crypto.Address) error
	OwnerOf(loanID uint64) (crypto.Address, error)
}

// Engine owns the credit ledger. Every public operation is a command handler:
// it validates purely, mutates ledger state, performs external interactions
// last, and unwinds every prior write when an interaction fails. A single
// mutex serialises mutations so no caller observes a partially applied
// update.
type Engine struct {
	mu       sync.RWMutex
	state    engineState
	registry TokenRegistry
	assets   AssetMover
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	nowFn    func() int64
}

// NewEngine creates a credit engine with a no-op emitter. Callers wire the
// state backend, registry, and asset mover before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the ownership-token registry collaborator.
func (e *Engine) SetRegistry(registry TokenRegistry) { e.registry = registry }

// SetAssets configures the asset mover collaborator.
func (e *Engine) SetAssets(assets AssetMover) { e.assets = assets }

// SetPauses wires the module pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if e.assets == nil {
		return errNilAssets
	}
	return nil
}

// requireToken normalises a symbol and checks it against the registered
// asset list.
func (e *Engine) requireToken(symbol string) (string, error) {
	token, err := NormalizeToken(symbol)
	if err != nil {
		return "", ErrInvalidToken
	}
	known, err := e.state.HasToken(token)
	if err != nil {
		return "", err
	}
	if !known {
		return "", ErrUnknownToken
	}
	return token, nil
}

func (e *Engine) loadLoan(id uint64) (*Loan, error) {
	loan, ok, err := e.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	return loan, nil
}

func (e *Engine) poolBalance(lender crypto.Address, token string) (*big.Int, error) {
	balance, err := e.state.PoolBalance(lender, token)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = big.NewInt(0)
	}
	return balance, nil
}

func (e *Engine) loanCounts(addr crypto.Address) (*LoanCounts, error) {
	counts, err := e.state.LoanCountsGet(addr)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = &LoanCounts{}
	}
	return counts, nil
}

// UpdateCreditLine validates and atomically replaces the lender's credit-line
// configuration for one borrower and token. Existing loans keep their fixed
// APR; only future issuance sees the new bounds.
func (e *Engine) UpdateCreditLine(lender, borrower crypto.Address, token string, creditLimit *big.Int, minAPRBps, maxAPRBps, originationFeeBps uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if lender.IsZero() || borrower.IsZero() {
		return ErrInvalidAddress
	}
	if lender.Equal(borrower) {
		return ErrSelfCredit
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	normalized, err := e.requireToken(token)
	if err != nil {
		return err
	}
	line, err := SanitizeCreditLine(&CreditLine{
		Lender:            lender,
		Borrower:          borrower,
		Token:             normalized,
		CreditLimit:       creditLimit,
		MinAPRBps:         minAPRBps,
		MaxAPRBps:         maxAPRBps,
		OriginationFeeBps: originationFeeBps,
	})
	if err != nil {
		return err
	}
	if err := e.state.CreditLinePut(line); err != nil {
		return err
	}
	e.emit(events.CreditLineUpdated{
		Lender:            line.Lender,
		Borrower:          line.Borrower,
		Token:             line.Token,
		CreditLimit:       cloneBig(line.CreditLimit),
		MinAPRBps:         line.MinAPRBps,
		MaxAPRBps:         line.MaxAPRBps,
		OriginationFeeBps: line.OriginationFeeBps,
	})
	return nil
}

// Deposit moves the lender's own funds into their pool balance so they can be
// lent out. The asset pull is the final step; a failed pull leaves the pool
// untouched.
func (e *Engine) Deposit(lender crypto.Address, token string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if lender.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	normalized, err := e.requireToken(token)
	if err != nil {
		return err
	}
	balance, err := e.poolBalance(lender, normalized)
	if err != nil {
		return err
	}
	updated := new(big.Int).Add(balance, amount)
	if err := e.state.SetPoolBalance(lender, normalized, updated); err != nil {
		return err
	}
	if err := e.assets.TransferIn(normalized, lender, amount); err != nil {
		if restoreErr := e.state.SetPoolBalance(lender, normalized, balance); restoreErr != nil {
			return joinErr(err, restoreErr)
		}
		return err
	}
	e.emit(events.PoolDeposited{Lender: lender, Token: normalized, Amount: cloneBig(amount), Balance: updated})
	return nil
}

// Withdraw returns undeployed pool funds to the lender.
func (e *Engine) Withdraw(lender crypto.Address, token string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if lender.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	normalized, err := e.requireToken(token)
	if err != nil {
		return err
	}
	balance, err := e.poolBalance(lender, normalized)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	updated := new(big.Int).Sub(balance, amount)
	if err := e.state.SetPoolBalance(lender, normalized, updated); err != nil {
		return err
	}
	if err := e.assets.TransferOut(normalized, lender, amount); err != nil {
		if restoreErr := e.state.SetPoolBalance(lender, normalized, balance); restoreErr != nil {
			return joinErr(err, restoreErr)
		}
		return err
	}
	e.emit(events.PoolWithdrawn{Lender: lender, Token: normalized, Amount: cloneBig(amount), Balance: updated})
	return nil
}

// Borrow draws a new loan against the borrower's credit line. The requested
// amount plus the capitalised origination fee becomes the loan principal; the
// APR is interpolated from the line's band at the post-issuance utilization
// and locked for the loan's life. maxAcceptableAPRBps is the caller's
// slippage bound.
func (e *Engine) Borrow(borrower, lender crypto.Address, token string, requested *big.Int, maxAcceptableAPRBps uint64) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if borrower.IsZero() || lender.IsZero() {
		return nil, ErrInvalidAddress
	}
	if requested == nil || requested.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	normalized, err := e.requireToken(token)
	if err != nil {
		return nil, err
	}
	counts, err := e.loanCounts(borrower)
	if err != nil {
		return nil, err
	}
	if counts.Active >= MaxLoansPerUser || counts.Lifetime >= MaxLoansPerUser {
		return nil, ErrLoanCapReached
	}
	line, ok, err := e.state.CreditLineGet(lender, borrower, normalized)
	if err != nil {
		return nil, err
	}
	if !ok || line.CreditLimit == nil || line.CreditLimit.Sign() == 0 {
		return nil, ErrUnauthorizedBorrower
	}

	fee := new(big.Int).SetUint64(line.OriginationFeeBps)
	fee.Mul(fee, requested)
	fee.Quo(fee, basisPoints)
	totalPrincipal := new(big.Int).Add(requested, fee)

	borrowed, err := e.state.BorrowedAmount(borrower, lender, normalized)
	if err != nil {
		return nil, err
	}
	if borrowed == nil {
		borrowed = big.NewInt(0)
	}
	projected := new(big.Int).Add(borrowed, totalPrincipal)
	if projected.Cmp(line.CreditLimit) > 0 {
		return nil, ErrExceedsCreditLimit
	}
	pool, err := e.poolBalance(lender, normalized)
	if err != nil {
		return nil, err
	}
	if pool.Cmp(requested) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	apr := InterpolateAPR(line.MinAPRBps, line.MaxAPRBps, projected, line.CreditLimit)
	if apr > maxAcceptableAPRBps {
		return nil, ErrAPRAboveLimit
	}

	// Effects. Every write below must be unwound if a later step fails.
	now := e.now()
	id, err := e.state.NextLoanID()
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		ID:                   id,
		OriginalBorrower:     borrower,
		CurrentHolder:        borrower,
		Lender:               lender,
		Token:                normalized,
		Principal:            totalPrincipal,
		RepaidPrincipal:      big.NewInt(0),
		ForgivenPrincipal:    big.NewInt(0),
		FixedAPRBps:          apr,
		StartTimestamp:       now,
		LastPaymentTimestamp: now,
		Closed:               false,
	}
	undo := newUndoLog()
	undo.push(func() error { return e.state.RevertLoanID(id) })
	if err := e.state.LoanPut(loan); err != nil {
		return nil, undo.unwind(err)
	}
	undo.push(func() error { return e.state.LoanDelete(id) })
	if err := e.state.SetBorrowedAmount(borrower, lender, normalized, projected); err != nil {
		return nil, undo.unwind(err)
	}
	prevBorrowed := borrowed
	undo.push(func() error { return e.state.SetBorrowedAmount(borrower, lender, normalized, prevBorrowed) })
	updatedCounts := &LoanCounts{Active: counts.Active + 1, Lifetime: counts.Lifetime + 1}
	if err := e.state.LoanCountsPut(borrower, updatedCounts); err != nil {
		return nil, undo.unwind(err)
	}
	prevCounts := counts
	undo.push(func() error { return e.state.LoanCountsPut(borrower, prevCounts) })
	remainingPool := new(big.Int).Sub(pool, requested)
	if err := e.state.SetPoolBalance(lender, normalized, remainingPool); err != nil {
		return nil, undo.unwind(err)
	}
	prevPool := pool
	undo.push(func() error { return e.state.SetPoolBalance(lender, normalized, prevPool) })

	// Interactions.
	if err := e.registry.Mint(borrower, id); err != nil {
		return nil, undo.unwind(err)
	}
	undo.push(func() error { return e.registry.Burn(id) })
	if err := e.assets.TransferOut(normalized, borrower, requested); err != nil {
		return nil, undo.unwind(err)
	}

	e.emit(events.LoanIssued{
		LoanID:    id,
		Borrower:  borrower,
		Lender:    lender,
		Token:     normalized,
		Requested: cloneBig(requested),
		Fee:       fee,
		Principal: cloneBig(totalPrincipal),
		APRBps:    apr,
		IssuedAt:  now,
	})
	e.emitUtilization(borrower, lender, normalized, projected, line.CreditLimit)
	return loan.Clone(), nil
}

// Repay applies a payment to a loan: accrued interest first, then outstanding
// principal. Only a payment covering the full accrued interest advances the
// accrual clock; a partial interest payment leaves the timestamp untouched so
// the unpaid remainder keeps accruing. Any payer may repay any open loan.
func (e *Engine) Repay(payer crypto.Address, loanID uint64, amount *big.Int) (*RepaymentReceipt, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if payer.IsZero() {
		return nil, ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Closed {
		return nil, ErrLoanClosed
	}
	now := e.now()
	interest := AccruedInterest(loan, now)
	outstanding := loan.Outstanding()

	interestPaid := new(big.Int).Set(interest)
	if amount.Cmp(interestPaid) < 0 {
		interestPaid.Set(amount)
	}
	principalPaid := new(big.Int).Sub(amount, interestPaid)
	if principalPaid.Cmp(outstanding) > 0 {
		principalPaid.Set(outstanding)
	}
	consumed := new(big.Int).Add(interestPaid, principalPaid)

	prevLoan := loan.Clone()
	loan.RepaidPrincipal = new(big.Int).Add(loan.RepaidPrincipal, principalPaid)
	if interestPaid.Cmp(interest) == 0 {
		loan.LastPaymentTimestamp = now
	}
	remaining := loan.Outstanding()
	settled := new(big.Int).Add(loan.RepaidPrincipal, loan.ForgivenPrincipal)
	closing := settled.Cmp(loan.Principal) >= 0
	if closing {
		loan.Closed = true
	}

	borrowed, err := e.state.BorrowedAmount(loan.OriginalBorrower, loan.Lender, loan.Token)
	if err != nil {
		return nil, err
	}
	if borrowed == nil {
		borrowed = big.NewInt(0)
	}
	pool, err := e.poolBalance(loan.Lender, loan.Token)
	if err != nil {
		return nil, err
	}

	undo := newUndoLog()
	if err := e.state.LoanPut(loan); err != nil {
		return nil, undo.unwind(err)
	}
	undo.push(func() error { return e.state.LoanPut(prevLoan) })
	reducedBorrowed := new(big.Int).Sub(borrowed, principalPaid)
	if reducedBorrowed.Sign() < 0 {
		reducedBorrowed = big.NewInt(0)
	}
	if err := e.state.SetBorrowedAmount(loan.OriginalBorrower, loan.Lender, loan.Token, reducedBorrowed); err != nil {
		return nil, undo.unwind(err)
	}
	prevBorrowed := borrowed
	undo.push(func() error {
		return e.state.SetBorrowedAmount(loan.OriginalBorrower, loan.Lender, loan.Token, prevBorrowed)
	})
	credited := new(big.Int).Add(pool, consumed)
	if err := e.state.SetPoolBalance(loan.Lender, loan.Token, credited); err != nil {
		return nil, undo.unwind(err)
	}
	prevPool := pool
	undo.push(func() error { return e.state.SetPoolBalance(loan.Lender, loan.Token, prevPool) })

	var prevCounts *LoanCounts
	if closing {
		counts, err := e.loanCounts(loan.CurrentHolder)
		if err != nil {
			return nil, undo.unwind(err)
		}
		prevCounts = counts
		updated := &LoanCounts{Active: counts.Active, Lifetime: counts.Lifetime}
		if updated.Active > 0 {
			updated.Active--
		}
		if err := e.state.LoanCountsPut(loan.CurrentHolder, updated); err != nil {
			return nil, undo.unwind(err)
		}
		holder := loan.CurrentHolder
		undo.push(func() error { return e.state.LoanCountsPut(holder, prevCounts) })
	}

	// Interactions.
	if err := e.assets.TransferIn(loan.Token, payer, consumed); err != nil {
		return nil, undo.unwind(err)
	}
	if closing {
		if err := e.registry.Burn(loanID); err != nil {
			undo.push(func() error { return e.assets.TransferOut(loan.Token, payer, consumed) })
			return nil, undo.unwind(err)
		}
	}

	e.emit(events.LoanRepaid{
		LoanID:        loanID,
		Payer:         payer,
		Amount:        cloneBig(consumed),
		InterestPaid:  interestPaid,
		PrincipalPaid: principalPaid,
		Outstanding:   cloneBig(remaining),
	})
	e.emitTripleUtilization(loan.OriginalBorrower, loan.Lender, loan.Token, reducedBorrowed)
	if closing {
		e.emit(events.LoanClosed{LoanID: loanID, Holder: loan.CurrentHolder, ClosedAt: now})
	}
	return &RepaymentReceipt{
		LoanID:        loanID,
		Amount:        consumed,
		InterestPaid:  cloneBig(interestPaid),
		PrincipalPaid: cloneBig(principalPaid),
		Outstanding:   remaining,
		Closed:        closing,
	}, nil
}

// ForgivePrincipal writes off part of a loan's outstanding principal at the
// lender's expense: the amount is burned from the lender's pool balance, not
// conjured. Forgiving the full remainder closes the loan.
func (e *Engine) ForgivePrincipal(caller crypto.Address, loanID uint64, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	loan, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	if loan.Closed {
		return ErrLoanClosed
	}
	if !caller.Equal(loan.Lender) {
		return ErrNotLender
	}
	outstanding := loan.Outstanding()
	if amount.Cmp(outstanding) > 0 {
		return ErrExceedsOutstanding
	}
	pool, err := e.poolBalance(loan.Lender, loan.Token)
	if err != nil {
		return err
	}
	if pool.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	borrowed, err := e.state.BorrowedAmount(loan.OriginalBorrower, loan.Lender, loan.Token)
	if err != nil {
		return err
	}
	if borrowed == nil {
		borrowed = big.NewInt(0)
	}

	prevLoan := loan.Clone()
	loan.ForgivenPrincipal = new(big.Int).Add(loan.ForgivenPrincipal, amount)
	remaining := loan.Outstanding()
	settled := new(big.Int).Add(loan.RepaidPrincipal, loan.ForgivenPrincipal)
	closing := settled.Cmp(loan.Principal) >= 0
	if closing {
		loan.Closed = true
	}

	undo := newUndoLog()
	if err := e.state.LoanPut(loan); err != nil {
		return undo.unwind(err)
	}
	undo.push(func() error { return e.state.LoanPut(prevLoan) })
	if err := e.state.SetPoolBalance(loan.Lender, loan.Token, new(big.Int).Sub(pool, amount)); err != nil {
		return undo.unwind(err)
	}
	prevPool := pool
	undo.push(func() error { return e.state.SetPoolBalance(loan.Lender, loan.Token, prevPool) })
	reducedBorrowed := new(big.Int).Sub(borrowed, amount)
	if reducedBorrowed.Sign() < 0 {
		reducedBorrowed = big.NewInt(0)
	}
	if err := e.state.SetBorrowedAmount(loan.OriginalBorrower, loan.Lender, loan.Token, reducedBorrowed); err != nil {
		return undo.unwind(err)
	}
	prevBorrowed := borrowed
	undo.push(func() error {
		return e.state.SetBorrowedAmount(loan.OriginalBorrower, loan.Lender, loan.Token, prevBorrowed)
	})

	var prevCounts *LoanCounts
	if closing {
		counts, err := e.loanCounts(loan.CurrentHolder)
		if err != nil {
			return undo.unwind(err)
		}
		prevCounts = counts
		updated := &LoanCounts{Active: counts.Active, Lifetime: counts.Lifetime}
		if updated.Active > 0 {
			updated.Active--
		}
		if err := e.state.LoanCountsPut(loan.CurrentHolder, updated); err != nil {
			return undo.unwind(err)
		}
		holder := loan.CurrentHolder
		undo.push(func() error { return e.state.LoanCountsPut(holder, prevCounts) })
		if err := e.registry.Burn(loanID); err != nil {
			return undo.unwind(err)
		}
	}

	e.emit(events.PrincipalForgiven{
		LoanID:      loanID,
		Lender:      loan.Lender,
		Amount:      cloneBig(amount),
		Outstanding: cloneBig(remaining),
	})
	e.emitTripleUtilization(loan.OriginalBorrower, loan.Lender, loan.Token, reducedBorrowed)
	if closing {
		e.emit(events.LoanClosed{LoanID: loanID, Holder: loan.CurrentHolder, ClosedAt: e.now()})
	}
	return nil
}

// ForgiveInterest waives every unit of interest accrued to date by advancing
// the accrual clock to now. Partial interest forgiveness is not supported.
func (e *Engine) ForgiveInterest(caller crypto.Address, loanID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	loan, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	if loan.Closed {
		return ErrLoanClosed
	}
	if !caller.Equal(loan.Lender) {
		return ErrNotLender
	}
	now := e.now()
	forgiven := AccruedInterest(loan, now)
	loan.LastPaymentTimestamp = now
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	e.emit(events.InterestForgiven{
		LoanID:     loanID,
		Lender:     loan.Lender,
		Forgiven:   forgiven,
		ForgivenAt: now,
	})
	return nil
}

// HandleOwnershipTransfer reconciles the ledger when a loan's ownership token
// moves between holders. The registry invokes it before the new holder gains
// repay rights. Credit attribution is untouched: the original borrower, the
// lender, the fixed APR, and the borrowing totals all stay exactly as they
// were.
func (e *Engine) HandleOwnershipTransfer(loanID uint64, from, to crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrInvalidAddress
	}
	if to.Equal(from) {
		return ErrInvalidAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	loan, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	if loan.Closed {
		return ErrLoanClosed
	}
	if !from.Equal(loan.CurrentHolder) {
		return ErrNotHolder
	}
	fromCounts, err := e.loanCounts(from)
	if err != nil {
		return err
	}
	toCounts, err := e.loanCounts(to)
	if err != nil {
		return err
	}
	prevLoan := loan.Clone()
	loan.CurrentHolder = to

	undo := newUndoLog()
	if err := e.state.LoanPut(loan); err != nil {
		return undo.unwind(err)
	}
	undo.push(func() error { return e.state.LoanPut(prevLoan) })
	updatedFrom := &LoanCounts{Active: fromCounts.Active, Lifetime: fromCounts.Lifetime}
	if updatedFrom.Active > 0 {
		updatedFrom.Active--
	}
	if err := e.state.LoanCountsPut(from, updatedFrom); err != nil {
		return undo.unwind(err)
	}
	prevFrom := fromCounts
	undo.push(func() error { return e.state.LoanCountsPut(from, prevFrom) })
	updatedTo := &LoanCounts{Active: toCounts.Active + 1, Lifetime: toCounts.Lifetime}
	if err := e.state.LoanCountsPut(to, updatedTo); err != nil {
		return undo.unwind(err)
	}
	undo.push(func() error { return e.state.LoanCountsPut(to, toCounts) })

	// The holder record in the registry is committed here so that the ledger
	// update and the ownership update land in the same critical section.
	if err := e.registry.SetOwner(loanID, to); err != nil {
		return undo.unwind(err)
	}

	e.emit(events.LoanTransferred{LoanID: loanID, From: from, To: to})
	return nil
}

// GetLoan returns a copy of the loan record.
func (e *Engine) GetLoan(loanID uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadLoan(loanID)
}

// GetCreditLine returns a copy of the credit line, or ErrUnauthorizedBorrower
// when none exists.
func (e *Engine) GetCreditLine(lender, borrower crypto.Address, token string) (*CreditLine, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	line, ok, err := e.state.CreditLineGet(lender, borrower, normalized)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorizedBorrower
	}
	return line, nil
}

// GetPoolBalance returns the lender's undeployed pool funds for a token.
func (e *Engine) GetPoolBalance(lender crypto.Address, token string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.poolBalance(lender, normalized)
}

// LoanInterest previews the interest accrued on a loan at the engine clock.
func (e *Engine) LoanInterest(loanID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	return AccruedInterest(loan, e.now()), nil
}

// CurrentBorrowing returns the maintained outstanding-principal total for a
// (borrower, lender, token) triple.
func (e *Engine) CurrentBorrowing(borrower, lender crypto.Address, token string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	borrowed, err := e.state.BorrowedAmount(borrower, lender, normalized)
	if err != nil {
		return nil, err
	}
	if borrowed == nil {
		borrowed = big.NewInt(0)
	}
	return borrowed, nil
}

// GetBorrowingSummary reports the triple's running total against its credit
// limit. A missing line yields a zero limit and zero utilization.
func (e *Engine) GetBorrowingSummary(borrower, lender crypto.Address, token string) (*BorrowingSummary, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	borrowed, err := e.state.BorrowedAmount(borrower, lender, normalized)
	if err != nil {
		return nil, err
	}
	if borrowed == nil {
		borrowed = big.NewInt(0)
	}
	limit := big.NewInt(0)
	if line, ok, err := e.state.CreditLineGet(lender, borrower, normalized); err != nil {
		return nil, err
	} else if ok && line.CreditLimit != nil {
		limit = new(big.Int).Set(line.CreditLimit)
	}
	return &BorrowingSummary{
		Borrower:       borrower,
		Lender:         lender,
		Token:          normalized,
		Borrowing:      borrowed,
		CreditLimit:    limit,
		UtilizationBps: UtilizationBps(borrowed, limit),
	}, nil
}

// LoanCountsFor returns the loan counters tracked for an address.
func (e *Engine) LoanCountsFor(addr crypto.Address) (*LoanCounts, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loanCounts(addr)
}

func (e *Engine) emitUtilization(borrower, lender crypto.Address, token string, borrowing, limit *big.Int) {
	e.emit(events.UtilizationUpdated{
		Borrower:       borrower,
		Lender:         lender,
		Token:          token,
		Borrowing:      cloneBig(borrowing),
		CreditLimit:    cloneBig(limit),
		UtilizationBps: UtilizationBps(borrowing, limit),
	})
}

// emitTripleUtilization looks the credit limit back up for operations that do
// not already hold the line.
func (e *Engine) emitTripleUtilization(borrower, lender crypto.Address, token string, borrowing *big.Int) {
	limit := big.NewInt(0)
	if line, ok, err := e.state.CreditLineGet(lender, borrower, token); err == nil && ok && line.CreditLimit != nil {
		limit = line.CreditLimit
	}
	e.emitUtilization(borrower, lender, token, borrowing, limit)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
