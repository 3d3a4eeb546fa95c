// Package ethics defines the external acceptability check consulted before
// generation and again before acceptance. The default checker applies an
// ordered list of veto principles; the first violated principle decides.
package ethics

import (
	"context"
	"fmt"
	"strings"

	"forgeline/internal/logging"
)

// Proposition describes intended content before or after it exists.
type Proposition struct {
	Intent  string
	Name    string
	Content string
	Creator string
}

// Decision is the checker's verdict. A decline carries the reason verbatim
// into the artifact's status reason.
type Decision struct {
	Approved bool
	Reason   string
}

// Checker evaluates a proposition. An error means the check itself could
// not run, which callers treat as a decline.
type Checker interface {
	Check(ctx context.Context, p Proposition) (Decision, error)
}

// Principle is one veto rule. Violated returns a human-readable reason when
// the proposition breaks the principle.
type Principle struct {
	Name     string
	Violated func(p Proposition) (bool, string)
}

// PrincipleChecker applies principles in order and declines on the first
// violation.
type PrincipleChecker struct {
	principles []Principle
}

// NewPrincipleChecker returns the default principle set.
func NewPrincipleChecker() *PrincipleChecker {
	return &PrincipleChecker{
		principles: []Principle{
			{
				Name: "no_self_replication",
				Violated: func(p Proposition) (bool, string) {
					return containsAny(p, "self_replicate", "copy itself", "spawn copies"),
						"proposition describes self-replicating behavior"
				},
			},
			{
				Name: "no_safety_bypass",
				Violated: func(p Proposition) (bool, string) {
					return containsAny(p, "bypass validation", "disable safety", "skip gate", "bypass gate"),
						"proposition attempts to bypass acceptance safeguards"
				},
			},
			{
				Name: "no_exfiltration",
				Violated: func(p Proposition) (bool, string) {
					return containsAny(p, "exfiltrate", "leak credentials", "steal"),
						"proposition describes data exfiltration"
				},
			},
			{
				Name: "no_destruction",
				Violated: func(p Proposition) (bool, string) {
					return containsAny(p, "delete all", "wipe", "destroy data"),
						"proposition describes destructive behavior"
				},
			},
		},
	}
}

// Check applies every principle in order.
func (c *PrincipleChecker) Check(ctx context.Context, p Proposition) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	for _, principle := range c.principles {
		violated, reason := principle.Violated(p)
		if violated {
			logging.Get(logging.CategoryPipeline).Warn("Ethics veto (%s): %s", principle.Name, reason)
			return Decision{Approved: false, Reason: fmt.Sprintf("%s: %s", principle.Name, reason)}, nil
		}
	}
	return Decision{Approved: true, Reason: "no principle violated"}, nil
}

func containsAny(p Proposition, needles ...string) bool {
	haystack := strings.ToLower(p.Intent + "\n" + p.Name + "\n" + p.Content)
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// Approve is a checker that accepts everything. Used where the ethics hook
// is intentionally disabled.
type Approve struct{}

// Check approves unconditionally.
func (Approve) Check(ctx context.Context, p Proposition) (Decision, error) {
	return Decision{Approved: true, Reason: "checks disabled"}, nil
}
