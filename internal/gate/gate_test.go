package gate

import (
	"os"
	"strings"
	"testing"

	"forgeline/internal/artifact"

	"github.com/stretchr/testify/require"
)

const cleanGoArtifact = `// Package sorter provides a version comparator.
package sorter

import "strings"

// Compare reports the ordering of two dotted version strings.
func Compare(a, b string) int {
	return strings.Compare(a, b)
}
`

func hasIssueKind(issues []artifact.Issue, kind string) bool {
	for _, i := range issues {
		if i.Kind == kind {
			return true
		}
	}
	return false
}

func TestValidateTable(t *testing.T) {
	g := New(DefaultRules())

	tests := []struct {
		name      string
		content   string
		rejected  bool
		issueKind string
	}{
		{
			name:     "clean go artifact approved",
			content:  cleanGoArtifact,
			rejected: false,
		},
		{
			name:      "bare import os rejected as security violation",
			content:   "import os",
			rejected:  true,
			issueKind: artifact.IssueSecurityViolation,
		},
		{
			name:      "go import os rejected",
			content:   "// Package x does things.\npackage x\n\nimport \"os\"\n\n// Run runs.\nfunc Run() { _ = os.Getenv(\"HOME\") }\n",
			rejected:  true,
			issueKind: artifact.IssueSecurityViolation,
		},
		{
			name:      "banned keyword rejected",
			content:   "# cleanup helper\nrm -rf /tmp/workdir\n",
			rejected:  true,
			issueKind: artifact.IssueSecurityViolation,
		},
		{
			name:      "eval pattern rejected",
			content:   "# dynamic loader\nresult = eval(user_input)\n",
			rejected:  true,
			issueKind: artifact.IssueSecurityViolation,
		},
		{
			name:      "missing documentation is structural",
			content:   "x = 1\n",
			rejected:  true,
			issueKind: artifact.IssueStructuralViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := g.Validate(tt.content, "subject", artifact.KindCode)
			require.Equal(t, tt.rejected, report.Rejected(), "issues: %v", report.Issues)
			if tt.issueKind != "" {
				require.True(t, hasIssueKind(report.Issues, tt.issueKind),
					"expected issue kind %s in %v", tt.issueKind, report.Issues)
			}
		})
	}
}

func TestRegexRulesScanMultilineCaseInsensitive(t *testing.T) {
	// Rule files write plain patterns; the checker supplies the scan flags,
	// so anchors bind per line and matching ignores case.
	g := NewWithCheckers(&RegexRuleChecker{Rules: []RegexRule{
		{Pattern: `^import\s+ctypes`, Severity: "critical", Description: "ctypes import"},
	}})

	content := "# helper module\nIMPORT CTYPES\nx = 1\n"
	report := g.Validate(content, "subject", artifact.KindCode)
	require.True(t, report.Rejected())
	require.Contains(t, report.Issues[0].Description, "ctypes")

	// The same anchored pattern must not fire mid-line.
	clean := "# helper module\nvalue = \"import ctypes is banned\"\n"
	require.False(t, g.Validate(clean, "subject", artifact.KindCode).Rejected())
}

func TestSeverityIsInformational(t *testing.T) {
	// A single low-severity issue must still reject.
	g := NewWithCheckers(&StructuralChecker{Limits: StructureLimits{RequireDocs: true}})
	report := g.Validate("x = 1\n", "subject", artifact.KindRecord)
	require.True(t, report.Rejected())
	require.Equal(t, artifact.SeverityLow, report.Issues[0].Severity)
}

func TestNoShortCircuit(t *testing.T) {
	// Content that trips keyword, pattern, and import checkers at once:
	// every checker's findings must appear in the one report.
	content := "import os\nos.system('rm -rf /')\nresult = eval(data)\n"
	g := New(DefaultRules())
	report := g.Validate(content, "subject", artifact.KindCode)
	require.True(t, report.Rejected())
	require.GreaterOrEqual(t, len(report.Issues), 3, "issues: %v", report.Issues)
}

func TestStructuralLimits(t *testing.T) {
	g := NewWithCheckers(&StructuralChecker{Limits: StructureLimits{MaxLines: 3}})
	content := "# doc\nline2\nline3\nline4\nline5\n"
	report := g.Validate(content, "subject", artifact.KindRecord)
	require.True(t, report.Rejected())
	require.True(t, hasIssueKind(report.Issues, artifact.IssueStructuralViolation))
}

func TestGoFunctionDocsRequired(t *testing.T) {
	content := `// Package x is documented.
package x

func undocumented() {}
`
	g := NewWithCheckers(&StructuralChecker{Limits: StructureLimits{RequireDocs: true}})
	report := g.Validate(content, "subject", artifact.KindCode)
	require.True(t, report.Rejected())
	require.Contains(t, report.Issues[0].Description, "undocumented")
}

func TestContextCheckerGo(t *testing.T) {
	content := `// Package x is documented.
package x

import "os"

// Quit exits the process.
func Quit() {
	os.Exit(1)
}
`
	g := NewWithCheckers(&ContextChecker{})
	report := g.Validate(content, "subject", artifact.KindCode)
	require.True(t, report.Rejected())
	require.Contains(t, report.Issues[0].Description, "os.Exit")
}

func TestLoadRulesOverride(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/rules.yaml"
	rules := `keywords:
  - forbidden_marker
structure:
  max_lines: 100
`
	require.NoError(t, os.WriteFile(path, []byte(rules), 0644))

	rs, err := LoadRules(path)
	require.NoError(t, err)
	require.Equal(t, []string{"forbidden_marker"}, rs.Keywords)
	require.Equal(t, 100, rs.Structure.MaxLines)
	// Untouched sections keep defaults.
	require.NotEmpty(t, rs.ImportAllow)

	g := New(rs)
	report := g.Validate("# doc\nforbidden_marker here\n", "subject", artifact.KindRecord)
	require.True(t, report.Rejected())
}

func TestReportSummary(t *testing.T) {
	report := &artifact.ValidationReport{
		Subject: "thing",
		Status:  artifact.ReportRejected,
		Issues:  []artifact.Issue{{Kind: artifact.IssueSecurityViolation, Description: "bad"}},
	}
	require.True(t, strings.Contains(report.Summary(), "rejected"))
}
