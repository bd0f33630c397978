package optd

import (
	"errors"
	"fmt"

	"github.com/regenheat/optimization-engine/pkg/models"
)

// ErrLedgerGap flags an append whose iteration number is not exactly one
// past the previous entry. The run loop treats it as a runner fault.
var ErrLedgerGap = errors.New("ledger iteration out of sequence")

// Ledger is the append-only convergence history of one job. Iteration
// numbers start at 1 and increase strictly by one; entries are never
// mutated or removed. The ledger wraps the store's iteration table and
// enforces numbering before anything is persisted.
type Ledger struct {
	jobID string
	store Store
	last  int
}

// NewLedger opens the ledger for a job, resuming numbering from whatever
// the store already holds.
func NewLedger(store Store, jobID string) (*Ledger, error) {
	last, err := store.LastIteration(jobID)
	if err != nil {
		return nil, err
	}
	return &Ledger{jobID: jobID, store: store, last: last}, nil
}

// Append persists the next iteration record. The record's number must be
// exactly l.Last()+1.
func (l *Ledger) Append(rec *models.IterationRecord) error {
	if rec.Iteration != l.last+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrLedgerGap, rec.Iteration, l.last+1)
	}
	rec.JobID = l.jobID
	if err := l.store.AppendIteration(rec); err != nil {
		return err
	}
	l.last = rec.Iteration
	return nil
}

// Last returns the highest iteration number appended so far, zero if none.
func (l *Ledger) Last() int { return l.last }
