package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateJobID generates a job ID with a timestamp prefix for log readability.
func GenerateJobID() string {
	return fmt.Sprintf("job-%s-%s", time.Now().UTC().Format("20060102-150405"), shortUUID())
}

// GenerateScenarioID generates an ID for scenarios registered without one.
func GenerateScenarioID() string {
	return "scn-" + shortUUID()
}

func shortUUID() string {
	return uuid.NewString()[:8]
}
