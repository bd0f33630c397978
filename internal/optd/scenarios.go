package optd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/regenheat/optimization-engine/pkg/config"
	"github.com/regenheat/optimization-engine/pkg/logger"
	"github.com/regenheat/optimization-engine/pkg/models"
	"github.com/regenheat/optimization-engine/pkg/utils"
)

// ScenarioStore is the registry of validated scenarios available for
// submission. Scenarios come from the configured scenario directory at
// startup and from API registration; once registered they are immutable.
type ScenarioStore struct {
	mu        sync.RWMutex
	scenarios map[string]*models.Scenario
}

func NewScenarioStore() *ScenarioStore {
	return &ScenarioStore{
		scenarios: make(map[string]*models.Scenario),
	}
}

// LoadDir loads every .yaml/.yml scenario file in dir. Invalid files are
// skipped with a warning so one bad file cannot keep the daemon down.
func (s *ScenarioStore) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read scenario dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		scenario, err := config.LoadScenario(path)
		if err != nil {
			logger.Warn("skipping invalid scenario file", "path", path, "error", err)
			continue
		}
		if _, err := s.Register(scenario); err != nil {
			logger.Warn("skipping scenario", "path", path, "error", err)
			continue
		}
		loaded++
	}
	logger.Info("scenarios loaded", "dir", dir, "count", loaded)
	return nil
}

// Register validates and stores a scenario, assigning an ID when absent.
func (s *ScenarioStore) Register(scenario *models.Scenario) (*models.Scenario, error) {
	if err := config.ValidateScenario(scenario); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if scenario.ID == "" {
		scenario.ID = utils.GenerateScenarioID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.scenarios[scenario.ID]; exists {
		return nil, fmt.Errorf("scenario already registered: %s", scenario.ID)
	}
	s.scenarios[scenario.ID] = scenario
	return scenario, nil
}

// Get looks a scenario up by ID.
func (s *ScenarioStore) Get(id string) (*models.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scenario, ok := s.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScenarioNotFound, id)
	}
	return scenario, nil
}

// List returns every registered scenario, sorted by ID.
func (s *ScenarioStore) List() []*models.Scenario {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Scenario, 0, len(s.scenarios))
	for _, scenario := range s.scenarios {
		out = append(out, scenario)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithOverrides clones a scenario with submitted baseline overrides
// applied. The registered scenario is never mutated.
func WithOverrides(scenario *models.Scenario, overrides map[string]float64) (*models.Scenario, error) {
	if len(overrides) == 0 {
		return scenario, nil
	}
	if err := config.ValidateOverrides(scenario, overrides); err != nil {
		return nil, &ValidationError{Field: "overrides", Reason: err.Error()}
	}

	clone := *scenario
	clone.Variables = make([]models.DesignVariable, len(scenario.Variables))
	copy(clone.Variables, scenario.Variables)
	for i := range clone.Variables {
		if v, ok := overrides[clone.Variables[i].Name]; ok {
			clone.Variables[i].Baseline = v
		}
	}
	return &clone, nil
}
