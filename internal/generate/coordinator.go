// Package generate implements the generation coordinator: it turns an
// intent into pending artifact content by consulting the ethics check,
// walking an ordered backend list with retries, and pre-screening the
// candidate through the policy gate. The coordinator never accepts or
// rejects artifacts; that is the pipeline's job alone.
package generate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"forgeline/internal/activity"
	"forgeline/internal/artifact"
	"forgeline/internal/ethics"
	"forgeline/internal/gate"
	"forgeline/internal/logging"
	"forgeline/internal/store"
)

// Request describes one generation task.
type Request struct {
	Name     string
	Kind     artifact.Kind
	Intent   string
	Creator  string
	ParentID string
	Metadata map[string]string
}

// Feedback is the pipeline's notification about an artifact this
// coordinator produced.
type Feedback struct {
	ArtifactID string
	Name       string
	Accepted   bool
	Reason     string
}

// historyLimit bounds the in-memory feedback ring.
const historyLimit = 50

// Coordinator drives generation across an ordered backend list.
type Coordinator struct {
	backends   []Backend
	ethics     ethics.Checker
	gate       *gate.PolicyGate
	store      *store.ContentStore
	activity   activity.Sink
	maxRetries int
	backoff    time.Duration

	mu      sync.Mutex
	history []Feedback
}

// New creates a coordinator. Backends are tried in the listed order; each
// gets maxRetries attempts with exponential backoff before the next one.
func New(backends []Backend, ec ethics.Checker, pg *gate.PolicyGate, cs *store.ContentStore, sink activity.Sink, maxRetries int, backoff time.Duration) *Coordinator {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if sink == nil {
		sink = activity.Nop{}
	}
	return &Coordinator{
		backends:   backends,
		ethics:     ec,
		gate:       pg,
		store:      cs,
		activity:   sink,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Generate runs one request end to end and stores the winning candidate as
// a pending artifact. An ethics decline is terminal for the request; backend
// failures fall through to the next backend, and full exhaustion returns
// ErrGenerationExhausted.
func (c *Coordinator) Generate(ctx context.Context, req Request) (*artifact.Artifact, error) {
	timer := logging.StartTimer(logging.CategoryGenerate, "Generate")
	defer timer.Stop()

	decision, err := c.ethics.Check(ctx, ethics.Proposition{
		Intent:  req.Intent,
		Name:    req.Name,
		Creator: req.Creator,
	})
	if err != nil {
		return nil, fmt.Errorf("ethics check failed: %w", err)
	}
	if !decision.Approved {
		c.activity.Record("generation_vetoed", map[string]interface{}{
			"name":   req.Name,
			"reason": decision.Reason,
		})
		return nil, &artifact.EthicsVeto{Reason: decision.Reason}
	}

	prompt := c.buildPrompt(req)

	candidate, backendName, err := c.tryBackends(ctx, prompt)
	if err != nil {
		c.activity.Record("generation_exhausted", map[string]interface{}{"name": req.Name})
		return nil, err
	}

	report := c.gate.Validate(candidate, req.Name, req.Kind)
	if report.Rejected() {
		logging.Generate("Candidate for %s failed policy pre-screen: %s", req.Name, report.Summary())
		c.Notify(Feedback{Name: req.Name, Accepted: false, Reason: report.Summary()})
		c.activity.Record("generation_prescreen_rejected", map[string]interface{}{
			"name":   req.Name,
			"issues": len(report.Issues),
		})
		return nil, fmt.Errorf("candidate for %s failed policy pre-screen: %s", req.Name, report.Summary())
	}

	meta := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["generator"] = backendName

	a, err := c.store.Add(req.Name, req.Kind, candidate, req.Creator, req.ParentID, meta)
	if err != nil {
		return nil, err
	}

	logging.Generate("Stored candidate %s for %s via %s", a.ID, req.Name, backendName)
	c.activity.Record("generation_stored", map[string]interface{}{
		"artifact_id": a.ID,
		"name":        req.Name,
		"backend":     backendName,
	})
	return a, nil
}

// tryBackends walks the backend list in order. Within one backend, failed
// attempts back off exponentially; an empty candidate counts as a failure.
func (c *Coordinator) tryBackends(ctx context.Context, prompt string) (string, string, error) {
	for _, backend := range c.backends {
		for attempt := 1; attempt <= c.maxRetries; attempt++ {
			candidate, err := backend.Generate(ctx, prompt)
			if err == nil && strings.TrimSpace(candidate) != "" {
				return candidate, backend.Name(), nil
			}
			if err != nil {
				logging.Get(logging.CategoryGenerate).Warn("Backend %s attempt %d/%d failed: %v",
					backend.Name(), attempt, c.maxRetries, err)
			} else {
				logging.Get(logging.CategoryGenerate).Warn("Backend %s attempt %d/%d returned empty content",
					backend.Name(), attempt, c.maxRetries)
			}
			if attempt < c.maxRetries {
				wait := c.backoff * (1 << (attempt - 1))
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return "", "", ctx.Err()
				}
			}
		}
	}
	return "", "", artifact.ErrGenerationExhausted
}

// buildPrompt renders the request into the backend prompt, folding in
// recent rejection reasons so repeated mistakes get called out explicitly.
func (c *Coordinator) buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Produce %s content named %q.\n\nIntent:\n%s\n", req.Kind, req.Name, req.Intent)

	rejections := c.recentRejections(req.Name)
	if len(rejections) > 0 {
		b.WriteString("\nEarlier candidates were rejected. Avoid repeating these problems:\n")
		for _, r := range rejections {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}

// Notify records pipeline feedback about a produced artifact. The history
// is a bounded ring; old entries fall off the front.
func (c *Coordinator) Notify(f Feedback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, f)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
	logging.GenerateDebug("Feedback for %s (accepted=%v): %s", f.Name, f.Accepted, f.Reason)
}

// recentRejections returns rejection reasons recorded for a name, newest
// last. Caller-facing; takes the lock itself.
func (c *Coordinator) recentRejections(name string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var reasons []string
	for _, f := range c.history {
		if !f.Accepted && f.Name == name && f.Reason != "" {
			reasons = append(reasons, f.Reason)
		}
	}
	return reasons
}

// History returns a snapshot of the feedback ring.
func (c *Coordinator) History() []Feedback {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Feedback, len(c.history))
	copy(out, c.history)
	return out
}
