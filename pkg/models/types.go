package models

import "time"

// JobStatus represents the lifecycle state of an optimization job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ObjectiveKind identifies what a scenario optimizes for
type ObjectiveKind string

const (
	ObjectiveMinimizeFuel       ObjectiveKind = "minimize_fuel"
	ObjectiveMinimizeCO2        ObjectiveKind = "minimize_co2"
	ObjectiveMaximizeEfficiency ObjectiveKind = "maximize_efficiency"
	ObjectiveMinimizeCost       ObjectiveKind = "minimize_cost"
	ObjectiveMultiObjective     ObjectiveKind = "multi_objective"
)

// VariableKind distinguishes continuous from discrete design variables
type VariableKind string

const (
	VariableContinuous VariableKind = "continuous"
	VariableDiscrete   VariableKind = "discrete"
)

// DesignVariable is a bounded numeric parameter the optimizer may adjust
type DesignVariable struct {
	Name     string       `json:"name" yaml:"name"`
	Unit     string       `json:"unit,omitempty" yaml:"unit,omitempty"`
	Lower    float64      `json:"lower" yaml:"lower"`
	Upper    float64      `json:"upper" yaml:"upper"`
	Baseline float64      `json:"baseline" yaml:"baseline"`
	Kind     VariableKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	// Step is the grid spacing for discrete variables; ignored for continuous ones.
	Step float64 `json:"step,omitempty" yaml:"step,omitempty"`
}

// ConstraintKind identifies what a constraint is evaluated against
type ConstraintKind string

const (
	// ConstraintMetric bounds a performance metric at the evaluated point.
	ConstraintMetric ConstraintKind = "metric"
	// ConstraintVariable bounds a design variable directly (beyond its declared range).
	ConstraintVariable ConstraintKind = "variable"
)

// Constraint bounds a metric or variable at every candidate point
type Constraint struct {
	Name      string         `json:"name" yaml:"name"`
	Kind      ConstraintKind `json:"kind" yaml:"kind"`
	Target    string         `json:"target" yaml:"target"`
	Min       *float64       `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64       `json:"max,omitempty" yaml:"max,omitempty"`
	Tolerance float64        `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Active    bool           `json:"active" yaml:"active"`
}

// Termination holds the budget after which a run completes normally
type Termination struct {
	MaxIterations  int     `json:"max_iterations" yaml:"max_iterations"`
	MaxEvaluations int     `json:"max_evaluations,omitempty" yaml:"max_evaluations,omitempty"`
	Tolerance      float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	// ToleranceWindow is the number of consecutive iterations whose improvement
	// must stay below Tolerance before the run is considered converged.
	ToleranceWindow int   `json:"tolerance_window,omitempty" yaml:"tolerance_window,omitempty"`
	MaxRuntimeMs    int64 `json:"max_runtime_ms,omitempty" yaml:"max_runtime_ms,omitempty"`
}

// MaxRuntime returns the wall-clock budget as a duration (zero means unlimited).
func (t Termination) MaxRuntime() time.Duration {
	return time.Duration(t.MaxRuntimeMs) * time.Millisecond
}

// Scenario is an immutable optimization request template.
// It is parsed and validated once at job submission and read-only thereafter.
type Scenario struct {
	ID          string                    `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string                    `json:"name,omitempty" yaml:"name,omitempty"`
	Objective   ObjectiveKind             `json:"objective" yaml:"objective"`
	Weights     map[ObjectiveKind]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Algorithm   string                    `json:"algorithm" yaml:"algorithm"`
	Variables   []DesignVariable          `json:"variables" yaml:"variables"`
	Constraints []Constraint              `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Termination Termination               `json:"termination" yaml:"termination"`
	Seed        int64                     `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// BaselinePoint returns the scenario's starting design point keyed by variable name.
func (s *Scenario) BaselinePoint() map[string]float64 {
	point := make(map[string]float64, len(s.Variables))
	for _, v := range s.Variables {
		point[v.Name] = v.Baseline
	}
	return point
}

// Variable looks up a design variable by name.
func (s *Scenario) Variable(name string) (DesignVariable, bool) {
	for _, v := range s.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return DesignVariable{}, false
}

// Job is one execution attempt of a Scenario
type Job struct {
	ID               string             `json:"id"`
	ScenarioID       string             `json:"scenario_id"`
	Status           JobStatus          `json:"status"`
	Progress         float64            `json:"progress"`
	CurrentIteration int                `json:"current_iteration"`
	CurrentObjective float64            `json:"current_objective"`
	BestObjective    float64            `json:"best_objective"`
	BestPoint        map[string]float64 `json:"best_point,omitempty"`
	ErrorKind        string             `json:"error_kind,omitempty"`
	Error            string             `json:"error,omitempty"`
	CreatedAtUnixMs  int64              `json:"created_at_unix_ms"`
	StartedAtUnixMs  int64              `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs    int64              `json:"ended_at_unix_ms,omitempty"`
}

// RuntimeMs returns the job's elapsed wall-clock time in milliseconds,
// measured against now for a running job, zero if the job never started.
func (j *Job) RuntimeMs(nowUnixMs int64) int64 {
	if j.StartedAtUnixMs == 0 {
		return 0
	}
	if j.EndedAtUnixMs > 0 {
		return j.EndedAtUnixMs - j.StartedAtUnixMs
	}
	return nowUnixMs - j.StartedAtUnixMs
}

// IterationRecord is one append-only entry in a job's convergence ledger.
// Iteration numbers are strictly increasing per job, starting at 1, never reused.
type IterationRecord struct {
	JobID     string             `json:"job_id"`
	Iteration int                `json:"iteration"`
	Objective float64            `json:"objective"`
	Best      float64            `json:"best"`
	Improved  bool               `json:"improved"`
	Feasible  bool               `json:"feasible"`
	Point     map[string]float64 `json:"point,omitempty"`
	AtUnixMs  int64              `json:"at_unix_ms"`
}

// PerformanceMetrics is the output of one objective-function evaluation
type PerformanceMetrics struct {
	// FuelConsumptionMW is the thermal power drawn from fuel.
	FuelConsumptionMW float64 `json:"fuel_consumption_mw"`
	// CO2EmissionsKgH is the carbon output at the evaluated operating point.
	CO2EmissionsKgH float64 `json:"co2_emissions_kg_h"`
	// ThermalEfficiency is the regenerator heat-recovery efficiency in [0,1].
	ThermalEfficiency float64 `json:"thermal_efficiency"`
	// PressureDropPa is the flue-side pressure drop across the checkerwork.
	PressureDropPa float64 `json:"pressure_drop_pa"`
	// OperatingCostPerH is the combined hourly operating cost.
	OperatingCostPerH float64 `json:"operating_cost_per_h"`
}

// Economics summarizes the money side of an optimized design
type Economics struct {
	FuelSavingsPct    float64 `json:"fuel_savings_pct"`
	CO2ReductionPct   float64 `json:"co2_reduction_pct"`
	AnnualCostSavings float64 `json:"annual_cost_savings"`
	PaybackYears      float64 `json:"payback_years"`
}

// ResultSet compares baseline against optimized performance.
// Produced once at Completed status; immutable after creation.
type ResultSet struct {
	JobID              string              `json:"job_id"`
	BestPoint          map[string]float64  `json:"best_point"`
	Baseline           *PerformanceMetrics `json:"baseline"`
	Optimized          *PerformanceMetrics `json:"optimized"`
	BaselineObjective  float64             `json:"baseline_objective"`
	OptimizedObjective float64             `json:"optimized_objective"`
	// Improvements holds the signed percentage change per metric,
	// (optimized - baseline) / |baseline| * 100. Callers decide directionality.
	Improvements     map[string]float64 `json:"improvements"`
	Economics        Economics          `json:"economics"`
	FeasibilityScore float64            `json:"feasibility_score"`
	ConfidenceScore  float64            `json:"confidence_score"`
	CreatedAtUnixMs  int64              `json:"created_at_unix_ms"`
}

// EventType classifies the live events a job emits
type EventType string

const (
	EventProgress    EventType = "progress"
	EventImprovement EventType = "improvement"
	EventCompleted   EventType = "completed"
	EventFailed      EventType = "failed"
	EventCancelled   EventType = "cancelled"
)

// Terminal reports whether the event ends a job's stream.
func (t EventType) Terminal() bool {
	switch t {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	}
	return false
}

// EventMessage is a transient progress or terminal notification for one job.
// Per-job ordering is strict; no ordering is guaranteed across jobs.
type EventMessage struct {
	Type     EventType      `json:"type"`
	JobID    string         `json:"job_id"`
	Payload  map[string]any `json:"payload,omitempty"`
	AtUnixMs int64          `json:"at_unix_ms"`
}
