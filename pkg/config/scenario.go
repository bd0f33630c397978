package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/regenheat/optimization-engine/pkg/models"
)

// LoadScenario loads and validates a scenario file.
func LoadScenario(path string) (*models.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}
	scenario, err := ParseScenarioYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario file %s: %w", path, err)
	}
	return scenario, nil
}

// ParseScenarioYAML parses and validates a YAML scenario document.
func ParseScenarioYAML(data []byte) (*models.Scenario, error) {
	var scenario models.Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario YAML: %w", err)
	}
	if err := ValidateScenario(&scenario); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// MarshalScenarioYAML serializes a scenario back to YAML.
func MarshalScenarioYAML(scenario *models.Scenario) ([]byte, error) {
	data, err := yaml.Marshal(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scenario: %w", err)
	}
	return data, nil
}

// ValidateScenario checks a scenario's variables, constraints, objective and
// termination budget. Scenarios are validated exactly once, at registration or
// submission, so a malformed configuration can never surface mid-run.
func ValidateScenario(s *models.Scenario) error {
	if s == nil {
		return fmt.Errorf("scenario is required")
	}

	switch s.Objective {
	case models.ObjectiveMinimizeFuel,
		models.ObjectiveMinimizeCO2,
		models.ObjectiveMaximizeEfficiency,
		models.ObjectiveMinimizeCost:
	case models.ObjectiveMultiObjective:
		if len(s.Weights) == 0 {
			return fmt.Errorf("multi_objective scenario requires non-empty weights")
		}
		for kind, w := range s.Weights {
			if kind == models.ObjectiveMultiObjective {
				return fmt.Errorf("weights cannot reference multi_objective")
			}
			if w < 0 {
				return fmt.Errorf("weight for %s cannot be negative", kind)
			}
		}
	default:
		return fmt.Errorf("invalid objective: %s", s.Objective)
	}

	if s.Algorithm == "" {
		return fmt.Errorf("algorithm cannot be empty")
	}

	if len(s.Variables) == 0 {
		return fmt.Errorf("at least one design variable must be defined")
	}
	names := make(map[string]bool)
	for _, v := range s.Variables {
		if v.Name == "" {
			return fmt.Errorf("design variable name cannot be empty")
		}
		if names[v.Name] {
			return fmt.Errorf("duplicate design variable: %s", v.Name)
		}
		names[v.Name] = true

		if v.Lower >= v.Upper {
			return fmt.Errorf("variable %s: lower bound %g must be below upper bound %g", v.Name, v.Lower, v.Upper)
		}
		if v.Baseline < v.Lower || v.Baseline > v.Upper {
			return fmt.Errorf("variable %s: baseline %g outside bounds [%g, %g]", v.Name, v.Baseline, v.Lower, v.Upper)
		}
		switch v.Kind {
		case "", models.VariableContinuous:
		case models.VariableDiscrete:
			if v.Step <= 0 {
				return fmt.Errorf("variable %s: discrete variables require a positive step", v.Name)
			}
		default:
			return fmt.Errorf("variable %s: invalid kind %s (must be continuous or discrete)", v.Name, v.Kind)
		}
	}

	for _, c := range s.Constraints {
		if c.Name == "" {
			return fmt.Errorf("constraint name cannot be empty")
		}
		if c.Target == "" {
			return fmt.Errorf("constraint %s: target cannot be empty", c.Name)
		}
		switch c.Kind {
		case models.ConstraintMetric:
		case models.ConstraintVariable:
			if !names[c.Target] {
				return fmt.Errorf("constraint %s: unknown design variable %s", c.Name, c.Target)
			}
		default:
			return fmt.Errorf("constraint %s: invalid kind %s (must be metric or variable)", c.Name, c.Kind)
		}
		if c.Min == nil && c.Max == nil {
			return fmt.Errorf("constraint %s: at least one of min/max is required", c.Name)
		}
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			return fmt.Errorf("constraint %s: min %g exceeds max %g", c.Name, *c.Min, *c.Max)
		}
		if c.Tolerance < 0 {
			return fmt.Errorf("constraint %s: tolerance cannot be negative", c.Name)
		}
	}

	t := s.Termination
	if t.MaxIterations <= 0 {
		return fmt.Errorf("termination max_iterations must be positive, got %d", t.MaxIterations)
	}
	if t.MaxEvaluations < 0 {
		return fmt.Errorf("termination max_evaluations cannot be negative")
	}
	if t.Tolerance < 0 {
		return fmt.Errorf("termination tolerance cannot be negative")
	}
	if t.MaxRuntimeMs < 0 {
		return fmt.Errorf("termination max_runtime_ms cannot be negative")
	}

	return nil
}

// ValidateOverrides checks submitted initial-value overrides against a
// scenario's declared variables and bounds.
func ValidateOverrides(s *models.Scenario, overrides map[string]float64) error {
	for name, value := range overrides {
		v, ok := s.Variable(name)
		if !ok {
			return fmt.Errorf("override references unknown variable: %s", name)
		}
		if value < v.Lower || value > v.Upper {
			return fmt.Errorf("override %s=%g outside declared bounds [%g, %g]", name, value, v.Lower, v.Upper)
		}
	}
	return nil
}
