package optd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestScenarioStoreRegister(t *testing.T) {
	store := NewScenarioStore()

	registered, err := store.Register(testScenario(""))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if registered.ID == "" {
		t.Fatalf("expected generated scenario ID")
	}

	got, err := store.Get(registered.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != registered.Name {
		t.Fatalf("expected registered scenario, got %+v", got)
	}

	if _, err := store.Register(registered); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	if _, err := store.Get("scn-missing"); !errors.Is(err, ErrScenarioNotFound) {
		t.Fatalf("expected ErrScenarioNotFound, got %v", err)
	}
}

func TestScenarioStoreRejectsInvalid(t *testing.T) {
	store := NewScenarioStore()

	invalid := testScenario("scn-a")
	invalid.Variables[0].Lower = 20 // lower above upper

	var verr *ValidationError
	if _, err := store.Register(invalid); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestScenarioStoreLoadDir(t *testing.T) {
	dir := t.TempDir()
	valid := `
id: scn-file
name: from disk
objective: minimize_fuel
algorithm: hill_descent
variables:
  - name: x
    lower: 0
    upper: 10
    baseline: 5
termination:
  max_iterations: 10
`
	if err := os.WriteFile(filepath.Join(dir, "valid.yaml"), []byte(valid), 0o644); err != nil {
		t.Fatalf("write fixture failed: %v", err)
	}
	// A broken file is skipped, not fatal.
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("objective: ["), 0o644); err != nil {
		t.Fatalf("write fixture failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write fixture failed: %v", err)
	}

	store := NewScenarioStore()
	if err := store.LoadDir(dir); err != nil {
		t.Fatalf("load dir failed: %v", err)
	}

	if len(store.List()) != 1 {
		t.Fatalf("expected 1 loaded scenario, got %d", len(store.List()))
	}
	got, err := store.Get("scn-file")
	if err != nil {
		t.Fatalf("expected scenario from disk: %v", err)
	}
	if got.Variables[0].Baseline != 5 {
		t.Fatalf("unexpected scenario content: %+v", got)
	}
}

func TestWithOverrides(t *testing.T) {
	scenario := testScenario("scn-a")

	applied, err := WithOverrides(scenario, map[string]float64{"x": 7})
	if err != nil {
		t.Fatalf("overrides failed: %v", err)
	}
	if applied.Variables[0].Baseline != 7 {
		t.Fatalf("expected overridden baseline, got %v", applied.Variables[0].Baseline)
	}
	// The registered scenario is never mutated.
	if scenario.Variables[0].Baseline != 0 {
		t.Fatalf("original scenario mutated: %v", scenario.Variables[0].Baseline)
	}

	var verr *ValidationError
	if _, err := WithOverrides(scenario, map[string]float64{"x": 99}); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for out-of-bounds override, got %v", err)
	}
	if _, err := WithOverrides(scenario, map[string]float64{"nope": 1}); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for unknown variable, got %v", err)
	}

	same, err := WithOverrides(scenario, nil)
	if err != nil || same != scenario {
		t.Fatalf("expected identity for empty overrides")
	}
}

func TestScenarioStoreListSorted(t *testing.T) {
	store := NewScenarioStore()
	for _, id := range []string{"scn-c", "scn-a", "scn-b"} {
		if _, err := store.Register(testScenario(id)); err != nil {
			t.Fatalf("register %s failed: %v", id, err)
		}
	}
	list := store.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 scenarios, got %d", len(list))
	}
	want := []string{"scn-a", "scn-b", "scn-c"}
	for i, s := range list {
		if s.ID != want[i] {
			t.Fatalf("expected sorted order %v, got %s at %d", want, s.ID, i)
		}
	}
}
