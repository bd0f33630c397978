package optd

import (
	"errors"
	"testing"

	"github.com/regenheat/optimization-engine/pkg/models"
)

func TestLedgerStrictSequence(t *testing.T) {
	store := NewMemoryStore()
	rec, _ := store.CreateJob(testScenario("scn-a"))

	ledger, err := NewLedger(store, rec.Job.ID)
	if err != nil {
		t.Fatalf("open ledger failed: %v", err)
	}
	if ledger.Last() != 0 {
		t.Fatalf("expected empty ledger, last=%d", ledger.Last())
	}

	for i := 1; i <= 3; i++ {
		if err := ledger.Append(&models.IterationRecord{Iteration: i, Objective: float64(i)}); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}
	if ledger.Last() != 3 {
		t.Fatalf("expected last=3, got %d", ledger.Last())
	}
}

func TestLedgerRejectsGap(t *testing.T) {
	store := NewMemoryStore()
	rec, _ := store.CreateJob(testScenario("scn-a"))
	ledger, _ := NewLedger(store, rec.Job.ID)

	if err := ledger.Append(&models.IterationRecord{Iteration: 1}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := ledger.Append(&models.IterationRecord{Iteration: 3}); !errors.Is(err, ErrLedgerGap) {
		t.Fatalf("expected ErrLedgerGap for skipped number, got %v", err)
	}
	// A rejected append must not advance the sequence.
	if ledger.Last() != 1 {
		t.Fatalf("expected last=1 after rejected append, got %d", ledger.Last())
	}
}

func TestLedgerRejectsReuse(t *testing.T) {
	store := NewMemoryStore()
	rec, _ := store.CreateJob(testScenario("scn-a"))
	ledger, _ := NewLedger(store, rec.Job.ID)

	ledger.Append(&models.IterationRecord{Iteration: 1})
	if err := ledger.Append(&models.IterationRecord{Iteration: 1}); !errors.Is(err, ErrLedgerGap) {
		t.Fatalf("expected ErrLedgerGap for reused number, got %v", err)
	}
	if err := ledger.Append(&models.IterationRecord{Iteration: 0}); !errors.Is(err, ErrLedgerGap) {
		t.Fatalf("expected ErrLedgerGap for zero number, got %v", err)
	}
}

func TestLedgerResumesFromStore(t *testing.T) {
	store := NewMemoryStore()
	rec, _ := store.CreateJob(testScenario("scn-a"))
	jobID := rec.Job.ID

	first, _ := NewLedger(store, jobID)
	first.Append(&models.IterationRecord{Iteration: 1})
	first.Append(&models.IterationRecord{Iteration: 2})

	resumed, err := NewLedger(store, jobID)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if resumed.Last() != 2 {
		t.Fatalf("expected resumed last=2, got %d", resumed.Last())
	}
	if err := resumed.Append(&models.IterationRecord{Iteration: 3}); err != nil {
		t.Fatalf("append after resume failed: %v", err)
	}
}
