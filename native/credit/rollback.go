package credit

import "errors"

// undoLog collects compensating writes for one command. unwind replays them
// in reverse so a failed interaction leaves the ledger exactly as it was
// before the command started.
type undoLog struct {
	steps []func() error
}

func newUndoLog() *undoLog {
	return &undoLog{}
}

func (u *undoLog) push(fn func() error) {
	if fn == nil {
		return
	}
	u.steps = append(u.steps, fn)
}

// unwind runs the compensations newest-first and returns the original cause,
// joined with any restore failures so none is silently lost.
func (u *undoLog) unwind(cause error) error {
	if u == nil {
		return cause
	}
	for i := len(u.steps) - 1; i >= 0; i-- {
		if err := u.steps[i](); err != nil {
			cause = errors.Join(cause, err)
		}
	}
	u.steps = nil
	return cause
}

func joinErr(cause, extra error) error {
	return errors.Join(cause, extra)
}
