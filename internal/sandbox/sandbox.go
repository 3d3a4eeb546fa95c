// Package sandbox provides isolated execution of candidate artifacts before
// acceptance. The contract is simple: the artifact runs with a wall-clock
// timeout, and the result says whether it behaved. A hung artifact is a
// failed artifact.
package sandbox

import (
	"context"
	"time"
)

// Result is the outcome of one sandbox run.
type Result struct {
	Passed bool
	Reason string
	Logs   []string
}

// Sandbox executes artifact content in isolation. Run must return within
// the given timeout; exceeding it is a failure, never a hang.
type Sandbox interface {
	Run(ctx context.Context, content string, timeout time.Duration) (Result, error)
}
