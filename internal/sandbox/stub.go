package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Stub is a deterministic sandbox for tests and offline runs. Behavior is
// driven by markers in the content itself:
//
//	infinite_loop_test  - reports a timeout failure without waiting
//	sandbox_fail_test   - reports a plain execution failure
//
// Everything else passes. Calls are counted so tests can assert whether the
// sandbox ran at all.
type Stub struct {
	mu    sync.Mutex
	calls int
}

// NewStub creates a stub sandbox.
func NewStub() *Stub {
	return &Stub{}
}

// Run inspects the content markers and returns the scripted result.
func (s *Stub) Run(ctx context.Context, content string, timeout time.Duration) (Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{Passed: false, Reason: "context cancelled"}, err
	}

	switch {
	case strings.Contains(content, "infinite_loop_test"):
		return Result{
			Passed: false,
			Reason: fmt.Sprintf("execution timed out after %v", timeout),
			Logs:   []string{"simulated non-terminating artifact"},
		}, nil
	case strings.Contains(content, "sandbox_fail_test"):
		return Result{
			Passed: false,
			Reason: "execution failed",
			Logs:   []string{"simulated runtime failure"},
		}, nil
	}
	return Result{Passed: true, Reason: "evaluation completed"}, nil
}

// Calls returns how many times Run was invoked.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
