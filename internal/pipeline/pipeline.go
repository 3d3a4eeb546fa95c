// Package pipeline implements artifact acceptance: every pending artifact
// passes through the policy gate, the ethics check, the sandbox, and
// lineage verification, in that fixed order, halting at the first failure.
// The pipeline is the only writer of accepted and rejected statuses.
package pipeline

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
	"forgeline/internal/generate"
	"forgeline/internal/graph"
	"forgeline/internal/lineage"
	"forgeline/internal/logging"
	"forgeline/internal/sandbox"
	"forgeline/internal/store"
)

// Loader activates an accepted artifact. Activation failure is retryable:
// the artifact keeps its clean validation record and waits for another pass.
type Loader interface {
	Load(a *artifact.Artifact, content string) error
}

// Notifier receives the outcome for every processed artifact. The
// generation coordinator implements it to bias future prompts.
type Notifier interface {
	Notify(f generate.Feedback)
}

// Outcome classifies one processing attempt.
type Outcome string

const (
	OutcomeAccepted       Outcome = "accepted"
	OutcomeRejected       Outcome = "rejected"
	OutcomeLoadFailed     Outcome = "load_failed"
	OutcomeContentMissing Outcome = "content_missing"
	OutcomeSkipped        Outcome = "skipped"
)

// CycleStats summarizes one pipeline pass. Load failures and missing
// content are counted apart from rejections: rejection is terminal, the
// other two are recoverable.
type CycleStats struct {
	Processed      int
	Accepted       int
	Rejected       int
	LoadFailed     int
	ContentMissing int
	Errors         int
}

// Options configures a Pipeline.
type Options struct {
	SandboxEnabled  bool
	SandboxTimeout  time.Duration
	MaxGateAttempts int
}

// Pipeline coordinates the acceptance gates and their side effects.
type Pipeline struct {
	store    *store.ContentStore
	ledger   *lineage.Ledger
	graph    *graph.Graph
	gate     *gate.PolicyGate
	ethics   ethics.Checker
	sandbox  sandbox.Sandbox
	loader   Loader
	notifier Notifier
	activity activity.Sink
	opts     Options

	claimsMu sync.Mutex
	claims   map[string]bool
	attempts map[string]int

	healthMu       sync.Mutex
	running        bool
	lastCycle      time.Time
	cycles         int
	accepted       int
	rejected       int
	loadFailed     int
	contentMissing int
	errors         int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a pipeline. Loader and notifier may be nil; sandbox may be
// nil only when Options.SandboxEnabled is false.
func New(cs *store.ContentStore, ll *lineage.Ledger, gr *graph.Graph, pg *gate.PolicyGate, ec ethics.Checker, sb sandbox.Sandbox, loader Loader, notifier Notifier, sink activity.Sink, opts Options) *Pipeline {
	if sink == nil {
		sink = activity.Nop{}
	}
	if opts.SandboxTimeout <= 0 {
		opts.SandboxTimeout = 5 * time.Second
	}
	if opts.MaxGateAttempts < 1 {
		opts.MaxGateAttempts = 5
	}
	return &Pipeline{
		store:    cs,
		ledger:   ll,
		graph:    gr,
		gate:     pg,
		ethics:   ec,
		sandbox:  sb,
		loader:   loader,
		notifier: notifier,
		activity: sink,
		opts:     opts,
		claims:   make(map[string]bool),
		attempts: make(map[string]int),
	}
}

// SetNotifier wires the feedback receiver after construction. The
// coordinator needs the store to exist first, so wiring happens late.
// Must be called before the worker starts.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

// claim takes the exclusive processing claim for an artifact. Returns false
// when another worker already holds it.
func (p *Pipeline) claim(id string) bool {
	p.claimsMu.Lock()
	defer p.claimsMu.Unlock()
	if p.claims[id] {
		return false
	}
	p.claims[id] = true
	return true
}

func (p *Pipeline) release(id string) {
	p.claimsMu.Lock()
	defer p.claimsMu.Unlock()
	delete(p.claims, id)
}

// ProcessArtifact runs one artifact through the full gate sequence. Only
// pending and accepted_load_failed artifacts are eligible; anything else is
// skipped. The claim guarantees no two workers process the same id at once.
func (p *Pipeline) ProcessArtifact(ctx context.Context, id string) (Outcome, error) {
	if !p.claim(id) {
		logging.PipelineDebug("Artifact %s already claimed, skipping", id)
		return OutcomeSkipped, nil
	}
	defer p.release(id)

	timer := logging.StartTimer(logging.CategoryPipeline, "ProcessArtifact")
	defer timer.Stop()

	a, content, err := p.store.Get(id)
	if err != nil {
		return OutcomeSkipped, err
	}

	switch a.Status {
	case artifact.StatusPending, artifact.StatusAcceptedLoadFailed:
	case artifact.StatusContentMissing:
	default:
		logging.PipelineDebug("Artifact %s has status %s, nothing to do", id, a.Status)
		return OutcomeSkipped, nil
	}

	if a.Status == artifact.StatusContentMissing {
		if err := p.store.SetStatus(id, artifact.StatusContentMissing, "content blob missing"); err != nil {
			return OutcomeSkipped, err
		}
		p.activity.Record("artifact_content_missing", map[string]interface{}{"artifact_id": id})
		return OutcomeContentMissing, nil
	}

	p.claimsMu.Lock()
	p.attempts[id]++
	attempt := p.attempts[id]
	p.claimsMu.Unlock()
	if attempt > p.opts.MaxGateAttempts {
		return p.reject(a, fmt.Sprintf("retry budget exhausted after %d attempts", attempt-1))
	}

	// Gate 1: policy.
	report := p.gate.Validate(content, a.Name, a.Kind)
	if report.Rejected() {
		return p.reject(a, describeReport(report))
	}

	// Gate 2: ethics.
	decision, err := p.ethics.Check(ctx, ethics.Proposition{
		Intent:  a.Metadata["intent"],
		Name:    a.Name,
		Content: content,
		Creator: a.Creator,
	})
	if err != nil {
		logging.Get(logging.CategoryPipeline).Error("Ethics check failed for %s: %v", id, err)
		return OutcomeSkipped, fmt.Errorf("ethics check failed: %w", err)
	}
	if !decision.Approved {
		return p.reject(a, fmt.Sprintf("ethics veto: %s", decision.Reason))
	}

	// Gate 3: sandbox, when enabled.
	if p.opts.SandboxEnabled && p.sandbox != nil {
		result, err := p.sandbox.Run(ctx, content, p.opts.SandboxTimeout)
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("sandbox run failed: %w", err)
		}
		if !result.Passed {
			return p.reject(a, fmt.Sprintf("sandbox: %s", result.Reason))
		}
	}

	// Gate 4: lineage. Record first so the artifact's own entry exists,
	// then verify the whole ancestry transitively.
	parentHashes, err := p.parentHashes(a)
	if err != nil {
		return p.reject(a, err.Error())
	}
	if _, err := p.ledger.Record(a.ID, string(a.Kind), a.ContentHash, parentHashes, map[string]string{"name": a.Name}); err != nil {
		return OutcomeSkipped, err
	}
	ok, err := p.ledger.Verify(a.ID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !ok {
		return p.reject(a, "lineage verification failed: ancestry hash unresolved")
	}

	// Every gate passed: activate.
	if p.loader != nil {
		if err := p.loader.Load(a, content); err != nil {
			logging.Get(logging.CategoryPipeline).Warn("Activation failed for %s: %v", id, err)
			if serr := p.store.SetStatus(id, artifact.StatusAcceptedLoadFailed, fmt.Sprintf("activation failed: %v", err)); serr != nil {
				return OutcomeSkipped, serr
			}
			p.notify(generate.Feedback{ArtifactID: a.ID, Name: a.Name, Accepted: false, Reason: "activation failed"})
			p.activity.Record("artifact_load_failed", map[string]interface{}{
				"artifact_id": a.ID,
				"error":       err.Error(),
			})
			return OutcomeLoadFailed, nil
		}
	}

	return p.accept(a, content)
}

// accept performs the acceptance side effects: store status, graph node and
// provenance edge, activity record, coordinator feedback.
func (p *Pipeline) accept(a *artifact.Artifact, content string) (Outcome, error) {
	if err := p.store.SetStatus(a.ID, artifact.StatusAccepted, "all gates passed"); err != nil {
		return OutcomeSkipped, err
	}

	if err := p.graph.AddNode(a.ID, string(a.Kind), a.ContentPreview, string(artifact.StatusAccepted),
		map[string]string{"name": a.Name, "creator": a.Creator}, a.ParentID); err != nil {
		// The artifact is accepted either way; the graph is an index, not
		// the source of truth.
		logging.Get(logging.CategoryPipeline).Warn("Graph update failed for %s: %v", a.ID, err)
	}

	doc := extractDocPreview(content)
	p.activity.Record("artifact_accepted", map[string]interface{}{
		"artifact_id": a.ID,
		"name":        a.Name,
		"doc":         doc,
	})
	p.notify(generate.Feedback{ArtifactID: a.ID, Name: a.Name, Accepted: true, Reason: "accepted"})

	p.claimsMu.Lock()
	delete(p.attempts, a.ID)
	p.claimsMu.Unlock()

	logging.Pipeline("Accepted %s (%s)", a.ID, a.Name)
	return OutcomeAccepted, nil
}

// reject marks the artifact rejected with the failing gate's reason.
// Rejection is terminal; the artifact never re-enters the pipeline.
func (p *Pipeline) reject(a *artifact.Artifact, reason string) (Outcome, error) {
	if err := p.store.SetStatus(a.ID, artifact.StatusRejected, reason); err != nil {
		return OutcomeSkipped, err
	}

	if err := p.graph.AddNode(a.ID, string(a.Kind), a.ContentPreview, string(artifact.StatusRejected),
		map[string]string{"name": a.Name, "creator": a.Creator}, a.ParentID); err != nil {
		logging.Get(logging.CategoryPipeline).Warn("Graph update failed for %s: %v", a.ID, err)
	}

	p.activity.Record("artifact_rejected", map[string]interface{}{
		"artifact_id": a.ID,
		"name":        a.Name,
		"reason":      reason,
	})
	p.notify(generate.Feedback{ArtifactID: a.ID, Name: a.Name, Accepted: false, Reason: reason})

	p.claimsMu.Lock()
	delete(p.attempts, a.ID)
	p.claimsMu.Unlock()

	logging.Pipeline("Rejected %s (%s): %s", a.ID, a.Name, reason)
	return OutcomeRejected, nil
}

func (p *Pipeline) notify(f generate.Feedback) {
	if p.notifier != nil {
		p.notifier.Notify(f)
	}
}

// parentHashes resolves the artifact's parent chain link to content hashes
// for the lineage record. A dangling parent id is a lineage integrity
// failure, not a storage error.
func (p *Pipeline) parentHashes(a *artifact.Artifact) ([]string, error) {
	if a.ParentID == "" {
		return nil, nil
	}
	parent, _, err := p.store.Get(a.ParentID)
	if err == artifact.ErrNotFound {
		return nil, &artifact.LineageIntegrityError{ArtifactID: a.ID, MissingRef: a.ParentID}
	}
	if err != nil {
		return nil, err
	}
	return []string{parent.ContentHash}, nil
}

// RunCycle processes every eligible artifact once: all pending artifacts
// plus earlier accepted_load_failed ones getting their retry.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleStats, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "RunCycle")
	defer timer.Stop()

	var stats CycleStats
	for _, status := range []artifact.Status{artifact.StatusPending, artifact.StatusAcceptedLoadFailed} {
		list, err := p.store.List("", status)
		if err != nil {
			return stats, err
		}
		for _, a := range list {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			outcome, err := p.ProcessArtifact(ctx, a.ID)
			if err != nil {
				logging.Get(logging.CategoryPipeline).Error("Processing %s failed: %v", a.ID, err)
				stats.Errors++
				continue
			}
			switch outcome {
			case OutcomeAccepted:
				stats.Accepted++
				stats.Processed++
			case OutcomeRejected:
				stats.Rejected++
				stats.Processed++
			case OutcomeLoadFailed:
				stats.LoadFailed++
				stats.Processed++
			case OutcomeContentMissing:
				stats.ContentMissing++
				stats.Processed++
			}
		}
	}

	p.healthMu.Lock()
	p.lastCycle = time.Now().UTC()
	p.cycles++
	p.accepted += stats.Accepted
	p.rejected += stats.Rejected
	p.loadFailed += stats.LoadFailed
	p.contentMissing += stats.ContentMissing
	p.errors += stats.Errors
	p.healthMu.Unlock()

	logging.Pipeline("Cycle complete: processed=%d accepted=%d rejected=%d load_failed=%d content_missing=%d errors=%d",
		stats.Processed, stats.Accepted, stats.Rejected, stats.LoadFailed, stats.ContentMissing, stats.Errors)
	return stats, nil
}

// describeReport folds the report's issues into one status reason.
func describeReport(r *artifact.ValidationReport) string {
	var parts []string
	for i, issue := range r.Issues {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("and %d more", len(r.Issues)-3))
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Kind, issue.Description))
	}
	return "policy: " + strings.Join(parts, "; ")
}

// extractDocPreview returns the leading comment block of the content,
// truncated to 200 characters.
func extractDocPreview(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" && len(lines) == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "//"):
			lines = append(lines, strings.TrimSpace(strings.TrimPrefix(trimmed, "//")))
		case strings.HasPrefix(trimmed, "#"):
			lines = append(lines, strings.TrimSpace(strings.TrimPrefix(trimmed, "#")))
		default:
			return artifact.Preview(strings.Join(lines, " "), 200)
		}
	}
	return artifact.Preview(strings.Join(lines, " "), 200)
}
