package optd

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/regenheat/optimization-engine/internal/optimize"
	"github.com/regenheat/optimization-engine/pkg/logger"
	"github.com/regenheat/optimization-engine/pkg/models"
)

// EvaluatorFactory builds the physics model for one scenario. The daemon
// injects the surrogate by default; deployments swap in the full model.
type EvaluatorFactory func(*models.Scenario) optimize.Evaluator

// Runner drives a single optimization job from Running to a terminal
// status. One invocation owns the job exclusively: it is the only writer
// of the job's progress fields and ledger while the job runs.
type Runner struct {
	store Store
	bus   *Broadcaster
	eval  EvaluatorFactory
	econ  optimize.EconomicsParams
}

func NewRunner(store Store, bus *Broadcaster, eval EvaluatorFactory, econ optimize.EconomicsParams) *Runner {
	return &Runner{store: store, bus: bus, eval: eval, econ: econ}
}

// Run executes the job's iteration loop. The cancel flag is observed
// between iterations only; an in-flight evaluation always finishes.
// Budget exhaustion (iterations, evaluations, wall clock) is a normal
// completion, not a failure.
func (r *Runner) Run(ctx context.Context, jobID string, cancelled *atomic.Bool) {
	rec, err := r.store.GetJob(jobID)
	if err != nil {
		logger.Error("job vanished before start", "job_id", jobID, "error", err)
		return
	}

	// A job cancelled while still queued never transitions to Running.
	if cancelled.Load() || ctx.Err() != nil {
		r.finishCancelled(jobID, 0)
		return
	}

	if _, err := r.store.SetStatus(jobID, models.JobStatusRunning, "", ""); err != nil {
		logger.Error("failed to mark job running", "job_id", jobID, "error", err)
		return
	}
	logger.Info("job started", "job_id", jobID, "scenario_id", rec.Scenario.ID,
		"algorithm", rec.Scenario.Algorithm, "objective", string(rec.Scenario.Objective))

	scenario := rec.Scenario
	objective, err := optimize.NewObjectiveFunction(scenario.Objective, scenario.Weights)
	if err != nil {
		r.finishFailed(jobID, &RunnerFault{Reason: "build objective", Err: err})
		return
	}
	start := optimize.MapToPoint(scenario.Variables, scenario.BaselinePoint())
	algorithm, err := optimize.New(scenario.Algorithm, scenario.Variables, start, scenario.Seed)
	if err != nil {
		r.finishFailed(jobID, &RunnerFault{Reason: "build algorithm", Err: err})
		return
	}
	ledger, err := NewLedger(r.store, jobID)
	if err != nil {
		r.finishFailed(jobID, &RunnerFault{Reason: "open ledger", Err: err})
		return
	}
	evaluator := r.eval(scenario)

	var (
		startedAt   = time.Now()
		iteration   = 0
		evaluations = 0
		best        = math.MaxFloat64
		bestAny     = math.MaxFloat64
		bestPoint   map[string]float64
		haveBest    = false
		history     []optimize.Step
		converged   = false
	)
	strategy := convergenceStrategy(scenario.Termination)

	for {
		// 1. Cooperative cancellation, checked between iterations only.
		if cancelled.Load() || ctx.Err() != nil {
			r.finishCancelled(jobID, iteration)
			return
		}

		// 2. Termination budget. Exhaustion completes the run normally.
		if done, reason := budgetExhausted(scenario.Termination, iteration, evaluations, time.Since(startedAt)); done {
			logger.Info("budget exhausted", "job_id", jobID, "reason", reason, "iteration", iteration)
			break
		}
		if strategy != nil {
			if ok, reason := strategy.CheckConvergence(history); ok {
				logger.Info("converged", "job_id", jobID, "reason", reason, "iteration", iteration)
				converged = true
				break
			}
		}

		// 3. Ask the algorithm for the next candidate. Exhaustion means the
		// search settled before the budget did.
		point, ok := algorithm.Next()
		if !ok {
			logger.Info("algorithm exhausted", "job_id", jobID, "iteration", iteration)
			converged = true
			break
		}
		namedPoint := optimize.PointToMap(scenario.Variables, point)

		// 4. Evaluate. A single model failure fails the whole job.
		metrics, err := evaluator.Evaluate(namedPoint)
		evaluations++
		if err != nil {
			r.finishFailed(jobID, &ObjectiveEvaluationError{Iteration: iteration + 1, Err: err})
			return
		}
		value, err := objective.Score(metrics)
		if err != nil {
			r.finishFailed(jobID, &ObjectiveEvaluationError{Iteration: iteration + 1, Err: err})
			return
		}
		_, feasible := optimize.EvaluateConstraints(scenario, namedPoint, metrics)

		// 5. Tell the algorithm the outcome.
		algorithm.Observe(point, value, feasible)

		// 6. Record the iteration: ledger append, best promotion, progress.
		// Only strictly better feasible points are promoted to best; the
		// ledger's best column stays monotone either way.
		iteration++
		if value < bestAny {
			bestAny = value
		}
		improved := feasible && value < best
		if improved {
			best = value
			bestPoint = namedPoint
			haveBest = true
		}
		ledgerBest := bestAny
		if haveBest {
			ledgerBest = best
		}
		if err := ledger.Append(&models.IterationRecord{
			Iteration: iteration,
			Objective: value,
			Best:      ledgerBest,
			Improved:  improved,
			Feasible:  feasible,
			Point:     namedPoint,
			AtUnixMs:  nowUnixMs(),
		}); err != nil {
			r.finishFailed(jobID, &RunnerFault{Reason: "ledger append", Err: err})
			return
		}
		history = append(history, optimize.Step{Iteration: iteration, Value: value, Best: ledgerBest})

		progress := runProgress(scenario.Termination, iteration, time.Since(startedAt))
		if err := r.store.UpdateProgress(jobID, iteration, progress, value, ledgerBest, bestPoint); err != nil {
			r.finishFailed(jobID, &RunnerFault{Reason: "update progress", Err: err})
			return
		}

		r.bus.Publish(&models.EventMessage{
			Type:  models.EventProgress,
			JobID: jobID,
			Payload: map[string]any{
				"iteration": iteration,
				"objective": value,
				"best":      ledgerBest,
				"feasible":  feasible,
				"progress":  progress,
			},
		})
		if improved {
			r.bus.Publish(&models.EventMessage{
				Type:  models.EventImprovement,
				JobID: jobID,
				Payload: map[string]any{
					"iteration": iteration,
					"best":      best,
					"point":     bestPoint,
				},
			})
		}
	}

	finalBest := bestAny
	if haveBest {
		finalBest = best
	}
	r.finishCompleted(jobID, scenario, bestPoint, haveBest, finalBest, optimize.RunInfo{Iterations: iteration, Converged: converged})
}

// budgetExhausted checks the scenario's termination budget. Unset limits
// never trigger, except MaxIterations which always has a floor.
func budgetExhausted(t models.Termination, iteration, evaluations int, elapsed time.Duration) (bool, string) {
	if t.MaxIterations > 0 && iteration >= t.MaxIterations {
		return true, "max iterations"
	}
	if t.MaxEvaluations > 0 && evaluations >= t.MaxEvaluations {
		return true, "max evaluations"
	}
	if t.MaxRuntimeMs > 0 && elapsed >= t.MaxRuntime() {
		return true, "max runtime"
	}
	return false, ""
}

// convergenceStrategy maps the scenario's tolerance settings onto a
// detector. Without both tolerance and window the run is budget-only.
func convergenceStrategy(t models.Termination) optimize.ConvergenceStrategy {
	if t.Tolerance <= 0 || t.ToleranceWindow <= 0 {
		return nil
	}
	return optimize.NewThresholdStrategy(&optimize.ConvergenceConfig{
		NoImprovementIterations: t.ToleranceWindow,
		ImprovementThreshold:    t.Tolerance,
		MinIterations:           t.ToleranceWindow,
	})
}

// runProgress is the monotone percentage shown to clients: the larger of
// the iteration fraction and the wall-clock fraction, capped below 100
// until the job actually finishes.
func runProgress(t models.Termination, iteration int, elapsed time.Duration) float64 {
	frac := 0.0
	if t.MaxIterations > 0 {
		frac = float64(iteration) / float64(t.MaxIterations)
	}
	if t.MaxRuntimeMs > 0 {
		if tf := float64(elapsed.Milliseconds()) / float64(t.MaxRuntimeMs); tf > frac {
			frac = tf
		}
	}
	progress := frac * 100
	if progress > 99.9 {
		progress = 99.9
	}
	return progress
}

func (r *Runner) finishCancelled(jobID string, iteration int) {
	if _, err := r.store.SetStatus(jobID, models.JobStatusCancelled, "", ""); err != nil {
		logger.Error("failed to mark job cancelled", "job_id", jobID, "error", err)
		return
	}
	logger.Info("job cancelled", "job_id", jobID, "iteration", iteration)
	r.bus.Publish(&models.EventMessage{
		Type:    models.EventCancelled,
		JobID:   jobID,
		Payload: map[string]any{"iteration": iteration},
	})
}

func (r *Runner) finishFailed(jobID string, cause error) {
	kind := ErrorKindRunner
	var evalErr *ObjectiveEvaluationError
	if errors.As(cause, &evalErr) {
		kind = ErrorKindObjective
	}

	if _, err := r.store.SetStatus(jobID, models.JobStatusFailed, kind, cause.Error()); err != nil {
		logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
		return
	}
	logger.Error("job failed", "job_id", jobID, "kind", kind, "error", cause)
	r.bus.Publish(&models.EventMessage{
		Type:  models.EventFailed,
		JobID: jobID,
		Payload: map[string]any{
			"error_kind": kind,
			"error":      cause.Error(),
		},
	})
}

func (r *Runner) finishCompleted(jobID string, scenario *models.Scenario, bestPoint map[string]float64, haveBest bool, ledgerBest float64, info optimize.RunInfo) {
	// A run that never found a feasible improvement still completes; the
	// baseline is then the best known design.
	if !haveBest || bestPoint == nil {
		bestPoint = scenario.BaselinePoint()
	}

	aggregator := optimize.NewAggregator(r.eval(scenario), r.econ)
	rs, err := aggregator.Aggregate(scenario, bestPoint, info)
	if err != nil {
		r.finishFailed(jobID, &RunnerFault{Reason: "aggregate results", Err: err})
		return
	}
	rs.JobID = jobID
	if err := r.store.SetResult(jobID, rs); err != nil {
		r.finishFailed(jobID, &RunnerFault{Reason: "store results", Err: err})
		return
	}

	rec, err := r.store.SetStatus(jobID, models.JobStatusCompleted, "", "")
	if err != nil {
		logger.Error("failed to mark job completed", "job_id", jobID, "error", err)
		return
	}
	// The job keeps the ledger's best, which is monotone across the run.
	// The result set may carry a different optimized value when the search
	// fell back to the baseline point.
	jobBest := rs.OptimizedObjective
	if info.Iterations > 0 {
		jobBest = ledgerBest
	}
	if err := r.store.UpdateProgress(jobID, info.Iterations, 100, rec.Job.CurrentObjective, jobBest, bestPoint); err != nil {
		logger.Error("failed to finalize progress", "job_id", jobID, "error", err)
	}

	logger.Info("job completed", "job_id", jobID,
		"iterations", info.Iterations,
		"converged", info.Converged,
		"best_objective", rs.OptimizedObjective)
	r.bus.Publish(&models.EventMessage{
		Type:  models.EventCompleted,
		JobID: jobID,
		Payload: map[string]any{
			"iterations":          info.Iterations,
			"converged":           info.Converged,
			"best_objective":      rs.OptimizedObjective,
			"baseline_objective":  rs.BaselineObjective,
			"annual_cost_savings": rs.Economics.AnnualCostSavings,
		},
	})
}
