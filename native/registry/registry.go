package registry

import (
	"errors"

	"creditnet/crypto"
)

// Token errors, grouped so callers can branch with errors.Is.
var (
	ErrTokenNotFound = errors.New("registry: ownership token not found")
	ErrTokenExists   = errors.New("registry: ownership token already minted")
	ErrNotOwner      = errors.New("registry: caller does not own token")
	ErrInvalidHolder = errors.New("registry: invalid holder address")

	errNilState = errors.New("registry: state not configured")
	errNilHook  = errors.New("registry: transfer hook not configured")
)

// registryState is the narrow view of ledger state the registry needs to
// persist token ownership.
type registryState interface {
	LoanOwnerGet(loanID uint64) (crypto.Address, bool, error)
	LoanOwnerPut(loanID uint64, owner crypto.Address) error
	LoanOwnerDelete(loanID uint64) error
}

// TransferHook is notified before a transfer completes. The hook reconciles
// the ledger side of the move and commits the new holder record; an error
// aborts the transfer with no ownership change.
type TransferHook interface {
	HandleOwnershipTransfer(loanID uint64, from, to crypto.Address) error
}

// Registry tracks the transferable ownership tokens minted for open loans.
// The mutating methods Mint, Burn and SetOwner are only ever invoked from
// inside ledger commands and inherit their serialisation; Transfer is the
// externally reachable entry point and funnels through the hook, which runs
// the actual state change under the same serialisation.
type Registry struct {
	state registryState
	hook  TransferHook
}

func NewRegistry() *Registry {
	return &Registry{}
}

// SetState configures the registry's persistence backend.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetTransferHook configures the ledger hook fired on transfers.
func (r *Registry) SetTransferHook(hook TransferHook) { r.hook = hook }

// Mint records holder as the owner of the token for loanID. Minting an
// already-minted token fails.
func (r *Registry) Mint(holder crypto.Address, loanID uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if holder.IsZero() {
		return ErrInvalidHolder
	}
	if _, ok, err := r.state.LoanOwnerGet(loanID); err != nil {
		return err
	} else if ok {
		return ErrTokenExists
	}
	return r.state.LoanOwnerPut(loanID, holder)
}

// Burn retires the token for loanID. Burning a token that was never minted
// fails with ErrTokenNotFound.
func (r *Registry) Burn(loanID uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if _, ok, err := r.state.LoanOwnerGet(loanID); err != nil {
		return err
	} else if !ok {
		return ErrTokenNotFound
	}
	return r.state.LoanOwnerDelete(loanID)
}

// SetOwner rewrites the owner record for an existing token. It is called by
// the ledger while it handles a transfer hook and must not be used to mint.
func (r *Registry) SetOwner(loanID uint64, holder crypto.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if holder.IsZero() {
		return ErrInvalidHolder
	}
	if _, ok, err := r.state.LoanOwnerGet(loanID); err != nil {
		return err
	} else if !ok {
		return ErrTokenNotFound
	}
	return r.state.LoanOwnerPut(loanID, holder)
}

// OwnerOf resolves the current owner of the token for loanID.
func (r *Registry) OwnerOf(loanID uint64) (crypto.Address, error) {
	if r == nil || r.state == nil {
		return crypto.Address{}, errNilState
	}
	owner, ok, err := r.state.LoanOwnerGet(loanID)
	if err != nil {
		return crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, ErrTokenNotFound
	}
	return owner, nil
}

// Transfer moves the token for loanID from one holder to another. The
// ownership hook fires before the new holder gains any rights; the hook both
// validates the move against the ledger and commits the holder record, so a
// hook failure leaves ownership untouched. The owner check below is a
// pre-flight only; the authoritative check happens inside the hook.
func (r *Registry) Transfer(loanID uint64, from, to crypto.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if r.hook == nil {
		return errNilHook
	}
	if to.IsZero() {
		return ErrInvalidHolder
	}
	owner, ok, err := r.state.LoanOwnerGet(loanID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotFound
	}
	if !owner.Equal(from) {
		return ErrNotOwner
	}
	return r.hook.HandleOwnershipTransfer(loanID, from, to)
}
