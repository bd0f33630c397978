package optimize

import (
	"fmt"
	"math"

	"github.com/regenheat/optimization-engine/pkg/utils"
)

// Step is one ledger entry as seen by convergence detection.
type Step struct {
	Iteration int
	Value     float64
	Best      float64
}

// ConvergenceStrategy defines how to detect convergence
type ConvergenceStrategy interface {
	// CheckConvergence checks if optimization has converged based on history
	CheckConvergence(history []Step) (converged bool, reason string)
	// Name returns the name of the convergence strategy
	Name() string
}

// ConvergenceConfig holds configuration for convergence detection
type ConvergenceConfig struct {
	// NoImprovementIterations is the number of iterations without improvement before stopping
	NoImprovementIterations int
	// ImprovementThreshold is the minimum relative improvement to consider significant
	ImprovementThreshold float64
	// ValueTolerance is the absolute tolerance for objective changes to be considered equal
	ValueTolerance float64
	// MinIterations is the minimum number of iterations before convergence can be detected
	MinIterations int
	// PlateauIterations is the number of iterations with similar best values before stopping
	PlateauIterations int
}

// DefaultConvergenceConfig returns a default convergence configuration
func DefaultConvergenceConfig() *ConvergenceConfig {
	return &ConvergenceConfig{
		NoImprovementIterations: 5,
		ImprovementThreshold:    0.01, // 1% improvement
		ValueTolerance:          0.001,
		MinIterations:           3,
		PlateauIterations:       5,
	}
}

// NoImprovementStrategy detects convergence when there's no improvement for N iterations
type NoImprovementStrategy struct {
	config *ConvergenceConfig
}

// NewNoImprovementStrategy creates a new no-improvement convergence strategy
func NewNoImprovementStrategy(config *ConvergenceConfig) *NoImprovementStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &NoImprovementStrategy{config: config}
}

func (s *NoImprovementStrategy) Name() string {
	return "no_improvement"
}

func (s *NoImprovementStrategy) CheckConvergence(history []Step) (converged bool, reason string) {
	if len(history) < s.config.MinIterations {
		return false, ""
	}

	bestValue := math.MaxFloat64
	bestIndex := -1
	for i, step := range history {
		if step.Value < bestValue {
			bestValue = step.Value
			bestIndex = i
		}
	}
	if bestIndex < 0 {
		return false, ""
	}

	sinceBest := len(history) - 1 - bestIndex
	if sinceBest >= s.config.NoImprovementIterations {
		return true, fmt.Sprintf("no improvement for %d iterations (best at iteration %d)", sinceBest, history[bestIndex].Iteration)
	}
	return false, ""
}

// PlateauStrategy detects convergence when objective values have plateaued
type PlateauStrategy struct {
	config *ConvergenceConfig
}

// NewPlateauStrategy creates a new plateau convergence strategy
func NewPlateauStrategy(config *ConvergenceConfig) *PlateauStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &PlateauStrategy{config: config}
}

func (s *PlateauStrategy) Name() string {
	return "plateau"
}

func (s *PlateauStrategy) CheckConvergence(history []Step) (converged bool, reason string) {
	if len(history) < s.config.MinIterations || len(history) < s.config.PlateauIterations {
		return false, ""
	}

	recent := history[len(history)-s.config.PlateauIterations:]
	minValue, maxValue := recent[0].Value, recent[0].Value
	for _, step := range recent {
		if step.Value < minValue {
			minValue = step.Value
		}
		if step.Value > maxValue {
			maxValue = step.Value
		}
	}

	spread := maxValue - minValue
	if spread <= s.config.ValueTolerance {
		return true, fmt.Sprintf("objective plateaued for %d iterations (range: %.6f)", s.config.PlateauIterations, spread)
	}
	return false, ""
}

// ThresholdStrategy detects convergence when recent improvements of the best
// value fall below the relative threshold
type ThresholdStrategy struct {
	config *ConvergenceConfig
}

// NewThresholdStrategy creates a new improvement threshold convergence strategy
func NewThresholdStrategy(config *ConvergenceConfig) *ThresholdStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &ThresholdStrategy{config: config}
}

func (s *ThresholdStrategy) Name() string {
	return "improvement_threshold"
}

func (s *ThresholdStrategy) CheckConvergence(history []Step) (converged bool, reason string) {
	if len(history) < s.config.MinIterations+1 {
		return false, ""
	}

	window := s.config.NoImprovementIterations
	if len(history) < window {
		window = len(history)
	}
	recent := history[len(history)-window:]
	if len(recent) < 2 {
		return false, ""
	}

	maxImprovement := 0.0
	counted := 0
	for i := 1; i < len(recent); i++ {
		prev := math.Abs(recent[i-1].Best)
		if prev == 0 {
			continue
		}
		improvement := (recent[i-1].Best - recent[i].Best) / prev
		if improvement > maxImprovement {
			maxImprovement = improvement
		}
		counted++
	}

	if counted > 0 && maxImprovement <= s.config.ImprovementThreshold {
		return true, fmt.Sprintf("improvements below threshold (max: %.4f%%, threshold: %.4f%%)", maxImprovement*100, s.config.ImprovementThreshold*100)
	}
	return false, ""
}

// VarianceStrategy detects convergence when the recent objective values are
// stable relative to their mean
type VarianceStrategy struct {
	config *ConvergenceConfig
}

// NewVarianceStrategy creates a new variance-based convergence strategy
func NewVarianceStrategy(config *ConvergenceConfig) *VarianceStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &VarianceStrategy{config: config}
}

func (s *VarianceStrategy) Name() string {
	return "variance"
}

func (s *VarianceStrategy) CheckConvergence(history []Step) (converged bool, reason string) {
	if len(history) < s.config.MinIterations {
		return false, ""
	}

	window := s.config.PlateauIterations
	if len(history) < window {
		window = len(history)
	}
	recent := history[len(history)-window:]
	if len(recent) < 2 {
		return false, ""
	}

	values := make([]float64, len(recent))
	for i, step := range recent {
		values[i] = step.Value
	}
	mean := utils.Mean(values)
	if mean <= 0 {
		return false, ""
	}

	relativeStddev := utils.StdDev(values) / mean
	if relativeStddev < s.config.ImprovementThreshold {
		return true, fmt.Sprintf("low objective variance (relative stddev: %.4f%%)", relativeStddev*100)
	}
	return false, ""
}

// CombinedStrategy runs multiple strategies and converges if any one does
type CombinedStrategy struct {
	strategies []ConvergenceStrategy
}

// NewCombinedStrategy creates the default combined convergence strategy
func NewCombinedStrategy(config *ConvergenceConfig) *CombinedStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &CombinedStrategy{
		strategies: []ConvergenceStrategy{
			NewNoImprovementStrategy(config),
			NewPlateauStrategy(config),
			NewThresholdStrategy(config),
		},
	}
}

func (s *CombinedStrategy) Name() string {
	return "combined"
}

func (s *CombinedStrategy) CheckConvergence(history []Step) (converged bool, reason string) {
	for _, strategy := range s.strategies {
		if ok, reason := strategy.CheckConvergence(history); ok {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), reason)
		}
	}
	return false, ""
}

// AddStrategy adds a custom strategy to the combined strategy
func (s *CombinedStrategy) AddStrategy(strategy ConvergenceStrategy) {
	s.strategies = append(s.strategies, strategy)
}
