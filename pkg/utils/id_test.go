package utils

import (
	"strings"
	"testing"
)

func TestGenerateJobIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateJobID()
		if !strings.HasPrefix(id, "job-") {
			t.Fatalf("expected job- prefix, got %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateScenarioID(t *testing.T) {
	id := GenerateScenarioID()
	if !strings.HasPrefix(id, "scn-") {
		t.Fatalf("expected scn- prefix, got %s", id)
	}
	if len(id) != len("scn-")+8 {
		t.Fatalf("unexpected id length: %s", id)
	}
}
