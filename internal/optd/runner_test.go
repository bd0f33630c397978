package optd

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/regenheat/optimization-engine/internal/optimize"
	"github.com/regenheat/optimization-engine/pkg/models"
)

// parabolaEvaluator reports fuel (x-3)^2, minimized at x=3.
func parabolaEvaluator(*models.Scenario) optimize.Evaluator {
	return optimize.EvaluatorFunc(func(point map[string]float64) (*models.PerformanceMetrics, error) {
		d := point["x"] - 3
		return &models.PerformanceMetrics{
			FuelConsumptionMW: d * d,
			CO2EmissionsKgH:   d * d * 202,
			ThermalEfficiency: 0.8,
			PressureDropPa:    500,
			OperatingCostPerH: d * d * 42,
		}, nil
	})
}

func newTestRunner(store Store, eval EvaluatorFactory) (*Runner, *Broadcaster) {
	bus := NewBroadcaster()
	runner := NewRunner(store, bus, eval, optimize.EconomicsParams{
		FuelPricePerMWh:       42,
		OperatingHoursPerYear: 8400,
	})
	return runner, bus
}

func TestRunnerCompletesOnBudget(t *testing.T) {
	store := NewMemoryStore()
	runner, bus := newTestRunner(store, parabolaEvaluator)

	rec, _ := store.CreateJob(testScenario("scn-a"))
	jobID := rec.Job.ID
	events, unsubscribe := bus.Subscribe(jobID)
	defer unsubscribe()

	runner.Run(context.Background(), jobID, &atomic.Bool{})

	final, err := store.GetJob(jobID)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if final.Job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.Job.Status, final.Job.Error)
	}
	if final.Job.Progress != 100 {
		t.Fatalf("expected progress 100, got %v", final.Job.Progress)
	}

	// Hill descent from x=0 on (x-3)^2 with a 5-iteration budget visits
	// 0, 2.5, 5, 0, 3.75; the best is 0.25 at x=2.5.
	iterations, err := store.Iterations(jobID, 0)
	if err != nil {
		t.Fatalf("iterations failed: %v", err)
	}
	if len(iterations) != 5 {
		t.Fatalf("expected 5 ledger entries, got %d", len(iterations))
	}
	wantObjectives := []float64{9, 0.25, 4, 9, 0.5625}
	prevBest := iterations[0].Best
	for i, rec := range iterations {
		if rec.Iteration != i+1 {
			t.Fatalf("entry %d: expected iteration %d, got %d", i, i+1, rec.Iteration)
		}
		if rec.Objective != wantObjectives[i] {
			t.Fatalf("entry %d: expected objective %v, got %v", i, wantObjectives[i], rec.Objective)
		}
		if rec.Best > prevBest {
			t.Fatalf("entry %d: best regressed from %v to %v", i, prevBest, rec.Best)
		}
		prevBest = rec.Best
	}
	if iterations[4].Best != 0.25 {
		t.Fatalf("expected final best 0.25, got %v", iterations[4].Best)
	}
	if final.Job.BestPoint["x"] != 2.5 {
		t.Fatalf("expected best point x=2.5, got %v", final.Job.BestPoint)
	}

	rs, err := store.GetResult(jobID)
	if err != nil {
		t.Fatalf("results missing after completion: %v", err)
	}
	if rs.BaselineObjective != 9 || rs.OptimizedObjective != 0.25 {
		t.Fatalf("expected baseline 9 / optimized 0.25, got %v / %v", rs.BaselineObjective, rs.OptimizedObjective)
	}

	// The event stream ends with a completed event and iteration numbers
	// never go backwards.
	var last *models.EventMessage
	lastIter := 0
	for event := range events {
		if event.Type == models.EventProgress {
			iter := event.Payload["iteration"].(int)
			if iter < lastIter {
				t.Fatalf("progress events out of order: %d after %d", iter, lastIter)
			}
			lastIter = iter
		}
		last = event
	}
	if last == nil || last.Type != models.EventCompleted {
		t.Fatalf("expected completed as final event, got %+v", last)
	}
}

func TestRunnerFailsOnEvaluatorError(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	failing := func(*models.Scenario) optimize.Evaluator {
		return optimize.EvaluatorFunc(func(point map[string]float64) (*models.PerformanceMetrics, error) {
			calls++
			if calls >= 3 {
				return nil, fmt.Errorf("solver diverged at x=%v", point["x"])
			}
			d := point["x"] - 3
			return &models.PerformanceMetrics{FuelConsumptionMW: d * d, ThermalEfficiency: 0.8}, nil
		})
	}
	runner, _ := newTestRunner(store, failing)

	rec, _ := store.CreateJob(testScenario("scn-a"))
	runner.Run(context.Background(), rec.Job.ID, &atomic.Bool{})

	final, _ := store.GetJob(rec.Job.ID)
	if final.Job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", final.Job.Status)
	}
	if final.Job.ErrorKind != ErrorKindObjective {
		t.Fatalf("expected %s error kind, got %s", ErrorKindObjective, final.Job.ErrorKind)
	}

	if final.Job.Error == "" {
		t.Fatalf("failed job must carry an error message")
	}

	// The ledger keeps the two successful iterations; the failed one is
	// never recorded.
	iterations, _ := store.Iterations(rec.Job.ID, 0)
	if len(iterations) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(iterations))
	}
	if _, err := store.GetResult(rec.Job.ID); err == nil {
		t.Fatalf("failed job must not produce results")
	}
}

func TestRunnerCancelBeforeStart(t *testing.T) {
	store := NewMemoryStore()
	runner, _ := newTestRunner(store, parabolaEvaluator)

	rec, _ := store.CreateJob(testScenario("scn-a"))
	flag := &atomic.Bool{}
	flag.Store(true)

	runner.Run(context.Background(), rec.Job.ID, flag)

	final, _ := store.GetJob(rec.Job.ID)
	if final.Job.Status != models.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Job.Status)
	}
	if final.Job.StartedAtUnixMs != 0 {
		t.Fatalf("cancelled-before-start job must never run")
	}
}

func TestRunnerCancelBetweenIterations(t *testing.T) {
	store := NewMemoryStore()
	flag := &atomic.Bool{}
	calls := 0
	counting := func(*models.Scenario) optimize.Evaluator {
		return optimize.EvaluatorFunc(func(point map[string]float64) (*models.PerformanceMetrics, error) {
			calls++
			if calls == 2 {
				// Request cancellation mid-run; the in-flight evaluation
				// still completes and is recorded.
				flag.Store(true)
			}
			d := point["x"] - 3
			return &models.PerformanceMetrics{FuelConsumptionMW: d * d, ThermalEfficiency: 0.8}, nil
		})
	}
	runner, _ := newTestRunner(store, counting)

	scenario := testScenario("scn-a")
	scenario.Termination.MaxIterations = 50
	rec, _ := store.CreateJob(scenario)
	runner.Run(context.Background(), rec.Job.ID, flag)

	final, _ := store.GetJob(rec.Job.ID)
	if final.Job.Status != models.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Job.Status)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 evaluations before the flag was seen, got %d", calls)
	}
	iterations, _ := store.Iterations(rec.Job.ID, 0)
	if len(iterations) != 2 {
		t.Fatalf("expected the second iteration to finish and be recorded, got %d entries", len(iterations))
	}

	if _, err := store.GetResult(rec.Job.ID); err == nil {
		t.Fatalf("cancelled job must not produce results")
	}
}

func TestRunnerTimeoutCompletesNormally(t *testing.T) {
	store := NewMemoryStore()
	slow := func(*models.Scenario) optimize.Evaluator {
		return optimize.EvaluatorFunc(func(point map[string]float64) (*models.PerformanceMetrics, error) {
			time.Sleep(5 * time.Millisecond)
			d := point["x"] - 3
			return &models.PerformanceMetrics{FuelConsumptionMW: d * d, ThermalEfficiency: 0.8}, nil
		})
	}
	runner, _ := newTestRunner(store, slow)

	scenario := testScenario("scn-a")
	scenario.Termination.MaxIterations = 10000
	scenario.Termination.MaxRuntimeMs = 20
	rec, _ := store.CreateJob(scenario)
	runner.Run(context.Background(), rec.Job.ID, &atomic.Bool{})

	final, _ := store.GetJob(rec.Job.ID)
	if final.Job.Status != models.JobStatusCompleted {
		t.Fatalf("runtime budget exhaustion must complete normally, got %s", final.Job.Status)
	}
	if final.Job.CurrentIteration == 0 {
		t.Fatalf("expected at least one iteration before the budget ran out")
	}
	if _, err := store.GetResult(rec.Job.ID); err != nil {
		t.Fatalf("timed-out job still produces results: %v", err)
	}
}

func TestRunnerConvergenceTolerance(t *testing.T) {
	store := NewMemoryStore()
	runner, _ := newTestRunner(store, parabolaEvaluator)

	scenario := testScenario("scn-a")
	scenario.Termination.MaxIterations = 10000
	scenario.Termination.Tolerance = 0.001
	scenario.Termination.ToleranceWindow = 5
	rec, _ := store.CreateJob(scenario)
	runner.Run(context.Background(), rec.Job.ID, &atomic.Bool{})

	final, _ := store.GetJob(rec.Job.ID)
	if final.Job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Job.Status)
	}
	if final.Job.CurrentIteration >= 10000 {
		t.Fatalf("expected convergence well before the iteration budget")
	}
	if final.Job.BestObjective > 0.3 {
		t.Fatalf("expected a near-optimal best, got %v", final.Job.BestObjective)
	}
}

func TestRunnerInfeasibleNeverPromoted(t *testing.T) {
	store := NewMemoryStore()
	runner, _ := newTestRunner(store, parabolaEvaluator)

	// Pressure constraint that always fails: no candidate is feasible, the
	// run still completes with the baseline as best known design.
	scenario := testScenario("scn-a")
	maxPa := 100.0
	scenario.Constraints = []models.Constraint{
		{Name: "max_pressure_drop", Kind: models.ConstraintMetric, Target: "pressure_drop_pa", Max: &maxPa, Active: true},
	}
	rec, _ := store.CreateJob(scenario)
	runner.Run(context.Background(), rec.Job.ID, &atomic.Bool{})

	final, _ := store.GetJob(rec.Job.ID)
	if final.Job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.Job.Status, final.Job.Error)
	}

	iterations, _ := store.Iterations(rec.Job.ID, 0)
	for _, it := range iterations {
		if it.Improved {
			t.Fatalf("iteration %d: infeasible point marked improved", it.Iteration)
		}
	}

	// The finished job keeps the ledger's last best; the baseline fallback
	// lives in the result set only, so the best column never regresses.
	lastBest := iterations[len(iterations)-1].Best
	if final.Job.BestObjective != lastBest {
		t.Fatalf("expected job best %v to match the ledger, got %v", lastBest, final.Job.BestObjective)
	}

	rs, err := store.GetResult(rec.Job.ID)
	if err != nil {
		t.Fatalf("results missing: %v", err)
	}
	if rs.BestPoint["x"] != 0 {
		t.Fatalf("expected baseline best point, got %v", rs.BestPoint)
	}
	if rs.FeasibilityScore != 0 {
		t.Fatalf("expected feasibility 0, got %v", rs.FeasibilityScore)
	}
}
