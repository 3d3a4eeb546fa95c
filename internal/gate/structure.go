package gate

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"

	"forgeline/internal/artifact"
)

// parseGo attempts to parse content as a Go source file, comments included.
func parseGo(content string) (*ast.File, bool) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "artifact.go", content, parser.ParseComments)
	if err != nil {
		return nil, false
	}
	return file, true
}

// StructuralChecker enforces shape limits: total lines, function count, and
// mandatory documentation. Go content gets full AST checks; other content
// gets the line and heuristic function counts only.
type StructuralChecker struct {
	Limits StructureLimits
}

func (c *StructuralChecker) Name() string { return "structure" }

// funcDefRe counts function definitions in non-Go content.
var funcDefRe = regexp.MustCompile(`(?m)^\s*(?:def\s+\w+|function\s+\w+|func\s+\w+)`)

func (c *StructuralChecker) Check(content, name string, kind artifact.Kind) []artifact.Issue {
	var issues []artifact.Issue

	lines := strings.Count(content, "\n") + 1
	if c.Limits.MaxLines > 0 && lines > c.Limits.MaxLines {
		issues = append(issues, artifact.Issue{
			Kind:        artifact.IssueStructuralViolation,
			Description: fmt.Sprintf("%d lines exceeds limit of %d", lines, c.Limits.MaxLines),
			Severity:    artifact.SeverityMedium,
		})
	}

	file, isGo := parseGo(content)
	if isGo {
		issues = append(issues, c.checkGo(file)...)
		return issues
	}

	funcCount := len(funcDefRe.FindAllString(content, -1))
	if c.Limits.MaxFunctions > 0 && funcCount > c.Limits.MaxFunctions {
		issues = append(issues, artifact.Issue{
			Kind:        artifact.IssueStructuralViolation,
			Description: fmt.Sprintf("%d functions exceeds limit of %d", funcCount, c.Limits.MaxFunctions),
			Severity:    artifact.SeverityMedium,
		})
	}
	if c.Limits.RequireDocs && !hasLeadingComment(content) {
		issues = append(issues, artifact.Issue{
			Kind:        artifact.IssueStructuralViolation,
			Description: "missing leading documentation comment",
			Severity:    artifact.SeverityLow,
		})
	}
	return issues
}

func (c *StructuralChecker) checkGo(file *ast.File) []artifact.Issue {
	var issues []artifact.Issue

	var funcs []*ast.FuncDecl
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			funcs = append(funcs, fn)
		}
	}

	if c.Limits.MaxFunctions > 0 && len(funcs) > c.Limits.MaxFunctions {
		issues = append(issues, artifact.Issue{
			Kind:        artifact.IssueStructuralViolation,
			Description: fmt.Sprintf("%d functions exceeds limit of %d", len(funcs), c.Limits.MaxFunctions),
			Severity:    artifact.SeverityMedium,
		})
	}

	if c.Limits.RequireDocs {
		if file.Doc == nil {
			issues = append(issues, artifact.Issue{
				Kind:        artifact.IssueStructuralViolation,
				Description: "missing package documentation comment",
				Severity:    artifact.SeverityLow,
			})
		}
		for _, fn := range funcs {
			if fn.Doc == nil {
				issues = append(issues, artifact.Issue{
					Kind:        artifact.IssueStructuralViolation,
					Description: fmt.Sprintf("function %s has no documentation comment", fn.Name.Name),
					Severity:    artifact.SeverityLow,
				})
			}
		}
	}
	return issues
}

// hasLeadingComment reports whether the first non-blank line opens a comment
// or a docstring.
func hasLeadingComment(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		return strings.HasPrefix(trimmed, "//") ||
			strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "/*") ||
			strings.HasPrefix(trimmed, `"""`) ||
			strings.HasPrefix(trimmed, "'''")
	}
	return false
}

// ContextChecker flags risky constructs that appear inside function bodies,
// where they will actually run: process control, dynamic execution, and
// unrecovered panics. Top-level mentions (doc comments, string tables)
// are out of scope for this checker.
type ContextChecker struct{}

func (c *ContextChecker) Name() string { return "context" }

// riskyCallRe finds dynamic-execution calls on indented lines of non-Go
// content. The indent requirement approximates "inside a function body".
var riskyCallRe = regexp.MustCompile(`(?m)^[ \t]+.*\b(eval|exec|compile)\s*\(`)

func (c *ContextChecker) Check(content, name string, kind artifact.Kind) []artifact.Issue {
	file, isGo := parseGo(content)
	if !isGo {
		var issues []artifact.Issue
		for _, match := range riskyCallRe.FindAllStringSubmatch(content, -1) {
			issues = append(issues, artifact.Issue{
				Kind:        artifact.IssueSecurityViolation,
				Description: fmt.Sprintf("dynamic execution call %q inside a code block", match[1]),
				Severity:    artifact.SeverityCritical,
			})
		}
		return issues
	}

	var issues []artifact.Issue
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		issues = append(issues, checkBody(fn)...)
	}
	return issues
}

// checkBody walks one function body for risky calls.
func checkBody(fn *ast.FuncDecl) []artifact.Issue {
	var issues []artifact.Issue
	hasPanic := false
	hasRecover := false

	ast.Inspect(fn.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if ident, ok := call.Fun.(*ast.Ident); ok {
			switch ident.Name {
			case "panic":
				hasPanic = true
			case "recover":
				hasRecover = true
			}
		}
		if sel, ok := call.Fun.(*ast.SelectorExpr); ok {
			if ident, ok := sel.X.(*ast.Ident); ok {
				if ident.Name == "os" && sel.Sel.Name == "Exit" {
					issues = append(issues, artifact.Issue{
						Kind:        artifact.IssueSecurityViolation,
						Description: fmt.Sprintf("os.Exit call in function %s", fn.Name.Name),
						Severity:    artifact.SeverityHigh,
					})
				}
				if ident.Name == "exec" && sel.Sel.Name == "Command" {
					issues = append(issues, artifact.Issue{
						Kind:        artifact.IssueSecurityViolation,
						Description: fmt.Sprintf("exec.Command call in function %s", fn.Name.Name),
						Severity:    artifact.SeverityCritical,
					})
				}
				if ident.Name == "syscall" {
					issues = append(issues, artifact.Issue{
						Kind:        artifact.IssueSecurityViolation,
						Description: fmt.Sprintf("syscall.%s call in function %s", sel.Sel.Name, fn.Name.Name),
						Severity:    artifact.SeverityCritical,
					})
				}
			}
		}
		return true
	})

	if hasPanic && !hasRecover {
		issues = append(issues, artifact.Issue{
			Kind:        artifact.IssueStructuralViolation,
			Description: fmt.Sprintf("panic without recover in function %s", fn.Name.Name),
			Severity:    artifact.SeverityMedium,
		})
	}
	return issues
}
