package gate

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// RegexRule is one pattern-based policy rule.
type RegexRule struct {
	Pattern     string `yaml:"pattern"`
	Severity    string `yaml:"severity"`
	Description string `yaml:"description"`
}

// StructureLimits bounds artifact shape.
type StructureLimits struct {
	MaxLines     int  `yaml:"max_lines"`
	MaxFunctions int  `yaml:"max_functions"`
	RequireDocs  bool `yaml:"require_docs"`
}

// RuleSet is the complete policy configuration. A YAML rule file replaces
// whichever sections it defines; missing sections keep the defaults.
type RuleSet struct {
	Keywords    []string        `yaml:"keywords"`
	Rules       []RegexRule     `yaml:"rules"`
	ImportAllow []string        `yaml:"import_allow"`
	Structure   StructureLimits `yaml:"structure"`
}

// DefaultRules returns the built-in policy rule set.
func DefaultRules() *RuleSet {
	return &RuleSet{
		Keywords: []string{
			"rm -rf",
			"os.system",
			"subprocess.popen",
			"drop table",
			"shutil.rmtree",
			"__import__",
		},
		Rules: []RegexRule{
			{Pattern: `\beval\s*\(`, Severity: "critical", Description: "dynamic evaluation"},
			{Pattern: `\bexec\s*\(`, Severity: "critical", Description: "dynamic execution"},
			{Pattern: `open\s*\([^)]*['"]w`, Severity: "high", Description: "direct file write"},
			{Pattern: `\bsocket\s*\.`, Severity: "high", Description: "raw socket use"},
		},
		ImportAllow: []string{
			`^(fmt|strings|strconv|bytes|errors|sort|time|regexp)$`,
			`^(math|unicode|container|encoding)(/.+)?$`,
			`^(json|re|typing|dataclasses|datetime|collections|itertools|functools|textwrap|enum|abc)$`,
		},
		Structure: StructureLimits{
			MaxLines:     500,
			MaxFunctions: 20,
			RequireDocs:  true,
		},
	}
}

// LoadRules reads a YAML rule file over the defaults. An empty path returns
// the defaults unchanged.
func LoadRules(path string) (*RuleSet, error) {
	rs := DefaultRules()
	if path == "" {
		return rs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy rules: %w", err)
	}

	var override RuleSet
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse policy rules: %w", err)
	}

	if len(override.Keywords) > 0 {
		rs.Keywords = override.Keywords
	}
	if len(override.Rules) > 0 {
		rs.Rules = override.Rules
	}
	if len(override.ImportAllow) > 0 {
		rs.ImportAllow = override.ImportAllow
	}
	if override.Structure.MaxLines > 0 {
		rs.Structure.MaxLines = override.Structure.MaxLines
	}
	if override.Structure.MaxFunctions > 0 {
		rs.Structure.MaxFunctions = override.Structure.MaxFunctions
	}

	if err := rs.compileCheck(); err != nil {
		return nil, err
	}
	return rs, nil
}

// compileCheck validates every pattern up front so a bad rule file fails at
// startup instead of during validation.
func (rs *RuleSet) compileCheck() error {
	for _, r := range rs.Rules {
		if _, err := compileRule(r.Pattern); err != nil {
			return fmt.Errorf("invalid policy pattern %q: %w", r.Pattern, err)
		}
	}
	for _, p := range rs.ImportAllow {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid import allow pattern %q: %w", p, err)
		}
	}
	return nil
}
