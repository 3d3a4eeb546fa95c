package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"forgeline/internal/logging"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Interpreter runs Go artifacts in a yaegi interpreter instead of compiling
// them. Only whitelisted stdlib packages may be imported; filesystem,
// network, exec and syscall access stay blocked.
type Interpreter struct {
	allowedPackages map[string]bool
}

// NewInterpreter creates the yaegi-backed sandbox.
func NewInterpreter() *Interpreter {
	return &Interpreter{
		allowedPackages: map[string]bool{
			"strings":         true,
			"strconv":         true,
			"fmt":             true,
			"math":            true,
			"regexp":          true,
			"encoding/json":   true,
			"encoding/base64": true,
			"time":            true,
			"sort":            true,
			"bytes":           true,
			"errors":          true,
			"unicode":         true,

			// Blocked: os, os/exec, net, net/http, syscall, unsafe.
		},
	}
}

// Run evaluates the content inside a fresh interpreter. Evaluation happens
// on a goroutine so a non-terminating artifact only costs the timeout, not
// the pipeline. The interpreter goroutine is abandoned on timeout; yaegi
// has no preemption, so this leaks the goroutine rather than blocking us.
func (s *Interpreter) Run(ctx context.Context, content string, timeout time.Duration) (Result, error) {
	timer := logging.StartTimer(logging.CategorySandbox, "Run")
	defer timer.Stop()

	if err := s.validateImports(content); err != nil {
		return Result{Passed: false, Reason: err.Error()}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		i := interp.New(interp.Options{})
		if err := i.Use(stdlib.Symbols); err != nil {
			done <- fmt.Errorf("failed to load stdlib symbols: %w", err)
			return
		}
		_, err := i.Eval(s.wrapCode(content))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			logging.Get(logging.CategorySandbox).Warn("Sandbox evaluation failed: %v", err)
			return Result{Passed: false, Reason: fmt.Sprintf("evaluation failed: %v", err)}, nil
		}
		return Result{Passed: true, Reason: "evaluation completed"}, nil
	case <-runCtx.Done():
		logging.Get(logging.CategorySandbox).Warn("Sandbox run timed out after %v", timeout)
		return Result{Passed: false, Reason: fmt.Sprintf("execution timed out after %v", timeout)}, nil
	}
}

// validateImports rejects content importing anything off the whitelist
// before the interpreter ever sees it.
func (s *Interpreter) validateImports(code string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import (") {
			inBlock = true
			continue
		}
		if inBlock && strings.HasPrefix(trimmed, ")") {
			inBlock = false
			continue
		}
		if inBlock {
			if pkg := strings.Trim(trimmed, `"`); pkg != "" {
				imports = append(imports, pkg)
			}
		} else if strings.HasPrefix(trimmed, "import ") {
			pkg := strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`)
			imports = append(imports, pkg)
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if !s.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}

// wrapCode ensures the content carries a package clause the interpreter
// accepts.
func (s *Interpreter) wrapCode(code string) string {
	if strings.Contains(code, "package ") {
		return code
	}
	return "package main\n\n" + code
}
