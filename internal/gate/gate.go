// Package gate implements the policy gate: an ordered list of independent
// checkers that each scan submitted content and emit typed issues. Every
// checker always runs; a submission is rejected iff any checker found an
// issue. Severity grades the finding but never changes the verdict.
package gate

import (
	"fmt"
	"regexp"
	"strings"

	"forgeline/internal/artifact"
	"forgeline/internal/logging"
)

// Checker inspects content and reports zero or more issues. Checkers are
// stateless and independent; the gate runs them in order and never
// short-circuits.
type Checker interface {
	Name() string
	Check(content, name string, kind artifact.Kind) []artifact.Issue
}

// PolicyGate validates artifact content against the configured rule set.
type PolicyGate struct {
	checkers []Checker
}

// New builds the standard checker chain from a rule set.
func New(rules *RuleSet) *PolicyGate {
	if rules == nil {
		rules = DefaultRules()
	}
	return &PolicyGate{
		checkers: []Checker{
			&KeywordChecker{Keywords: rules.Keywords},
			&RegexRuleChecker{Rules: rules.Rules},
			&ImportChecker{Allow: rules.ImportAllow},
			&StructuralChecker{Limits: rules.Structure},
			&ContextChecker{},
		},
	}
}

// NewWithCheckers builds a gate from an explicit checker list.
func NewWithCheckers(checkers ...Checker) *PolicyGate {
	return &PolicyGate{checkers: checkers}
}

// Validate runs every checker over the content and aggregates their issues
// into one report. The report is rejected iff at least one issue was found.
func (g *PolicyGate) Validate(content, name string, kind artifact.Kind) *artifact.ValidationReport {
	timer := logging.StartTimer(logging.CategoryGate, "Validate")
	defer timer.Stop()

	report := &artifact.ValidationReport{
		Subject: name,
		Status:  artifact.ReportApproved,
	}

	for _, checker := range g.checkers {
		issues := checker.Check(content, name, kind)
		if len(issues) > 0 {
			logging.GateDebug("%s found %d issues in %s", checker.Name(), len(issues), name)
		}
		report.Issues = append(report.Issues, issues...)
	}

	if len(report.Issues) > 0 {
		report.Status = artifact.ReportRejected
		logging.Gate("Rejected %s: %d issues", name, len(report.Issues))
	} else {
		logging.GateDebug("Approved %s", name)
	}
	return report
}

// KeywordChecker flags banned substrings, case-insensitively.
type KeywordChecker struct {
	Keywords []string
}

func (c *KeywordChecker) Name() string { return "keywords" }

func (c *KeywordChecker) Check(content, name string, kind artifact.Kind) []artifact.Issue {
	lower := strings.ToLower(content)
	var issues []artifact.Issue
	for _, kw := range c.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			issues = append(issues, artifact.Issue{
				Kind:        artifact.IssueSecurityViolation,
				Description: fmt.Sprintf("banned keyword %q", kw),
				Severity:    artifact.SeverityCritical,
			})
		}
	}
	return issues
}

// RegexRuleChecker flags pattern matches from the configured rule list.
type RegexRuleChecker struct {
	Rules []RegexRule
}

func (c *RegexRuleChecker) Name() string { return "patterns" }

func (c *RegexRuleChecker) Check(content, name string, kind artifact.Kind) []artifact.Issue {
	var issues []artifact.Issue
	for _, rule := range c.Rules {
		re, err := compileRule(rule.Pattern)
		if err != nil {
			logging.Get(logging.CategoryGate).Warn("Skipping invalid pattern %q: %v", rule.Pattern, err)
			continue
		}
		if re.MatchString(content) {
			issues = append(issues, artifact.Issue{
				Kind:        artifact.IssueSecurityViolation,
				Description: fmt.Sprintf("forbidden pattern: %s", rule.Description),
				Severity:    severityOrDefault(rule.Severity),
			})
		}
	}
	return issues
}

// compileRule compiles a policy pattern in multiline, case-insensitive
// mode. Rule files state only the pattern; the scan flags are the engine's.
func compileRule(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?im)" + pattern)
}

func severityOrDefault(s string) artifact.Severity {
	switch artifact.Severity(s) {
	case artifact.SeverityLow, artifact.SeverityMedium, artifact.SeverityHigh, artifact.SeverityCritical:
		return artifact.Severity(s)
	}
	return artifact.SeverityMedium
}

// ImportChecker extracts every import from the content and requires each to
// match at least one allow pattern. Go content is parsed with go/ast; other
// content falls back to line-based extraction.
type ImportChecker struct {
	Allow []string
}

func (c *ImportChecker) Name() string { return "imports" }

func (c *ImportChecker) Check(content, name string, kind artifact.Kind) []artifact.Issue {
	imports := extractImports(content)

	var issues []artifact.Issue
	for _, imp := range imports {
		if !c.allowed(imp) {
			issues = append(issues, artifact.Issue{
				Kind:        artifact.IssueSecurityViolation,
				Description: fmt.Sprintf("import %q is not on the allow list", imp),
				Severity:    artifact.SeverityCritical,
			})
		}
	}
	return issues
}

func (c *ImportChecker) allowed(imp string) bool {
	for _, pattern := range c.Allow {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(imp) {
			return true
		}
	}
	return false
}

// importLineRe matches bare and quoted import statements plus from-imports.
var importLineRe = regexp.MustCompile(`(?m)^\s*(?:import\s+"([^"]+)"|import\s+([A-Za-z_][\w./]*)|from\s+([A-Za-z_][\w.]*)\s+import\b)`)

// extractImports pulls import paths out of content. AST extraction is used
// when the content parses as Go; everything else goes through the line
// scanner, which understands both quoted and bare import forms.
func extractImports(content string) []string {
	if file, ok := parseGo(content); ok {
		var imports []string
		for _, imp := range file.Imports {
			imports = append(imports, strings.Trim(imp.Path.Value, `"`))
		}
		return imports
	}

	var imports []string
	seen := map[string]bool{}
	for _, match := range importLineRe.FindAllStringSubmatch(content, -1) {
		for _, group := range match[1:] {
			if group == "" || seen[group] {
				continue
			}
			seen[group] = true
			imports = append(imports, group)
		}
	}
	return imports
}
