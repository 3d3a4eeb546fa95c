package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStubMarkers(t *testing.T) {
	tests := []struct {
		name    string
		content string
		passed  bool
	}{
		{name: "plain content passes", content: "package main\n\nfunc main() {}\n", passed: true},
		{name: "infinite loop marker fails", content: "// infinite_loop_test\nfor {}\n", passed: false},
		{name: "failure marker fails", content: "// sandbox_fail_test\n", passed: false},
	}

	stub := NewStub()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := stub.Run(context.Background(), tt.content, time.Second)
			require.NoError(t, err)
			require.Equal(t, tt.passed, result.Passed, "reason: %s", result.Reason)
		})
	}
	require.Equal(t, len(tests), stub.Calls())
}

func TestStubTimeoutReason(t *testing.T) {
	stub := NewStub()
	result, err := stub.Run(context.Background(), "infinite_loop_test", 3*time.Second)
	require.NoError(t, err)
	require.False(t, result.Passed)
	require.Contains(t, result.Reason, "timed out")
}

func TestInterpreterRejectsForbiddenImports(t *testing.T) {
	sb := NewInterpreter()
	code := `package main

import "os/exec"

func main() { _ = exec.Command }
`
	result, err := sb.Run(context.Background(), code, time.Second)
	require.NoError(t, err)
	require.False(t, result.Passed)
	require.Contains(t, result.Reason, "forbidden imports")
}

func TestInterpreterEvaluatesSafeCode(t *testing.T) {
	sb := NewInterpreter()
	code := `package main

import "strings"

func main() {
	_ = strings.ToUpper("ok")
}
`
	result, err := sb.Run(context.Background(), code, 5*time.Second)
	require.NoError(t, err)
	require.True(t, result.Passed, "reason: %s", result.Reason)
}

func TestInterpreterReportsSyntaxErrors(t *testing.T) {
	sb := NewInterpreter()
	result, err := sb.Run(context.Background(), "package main\n\nfunc main() {", time.Second)
	require.NoError(t, err)
	require.False(t, result.Passed)
}
