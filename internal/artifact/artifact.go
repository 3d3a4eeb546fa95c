// Package artifact defines the core domain types shared by the content
// store, lineage ledger, relationship graph, and acceptance pipeline.
package artifact

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an artifact.
type Status string

const (
	// StatusPending marks a freshly stored artifact awaiting acceptance.
	StatusPending Status = "pending"
	// StatusAccepted is terminal: the artifact passed every gate and loaded.
	StatusAccepted Status = "accepted"
	// StatusRejected is terminal: some gate rejected the artifact.
	StatusRejected Status = "rejected"
	// StatusContentMissing means the metadata record exists but the content
	// blob could not be found.
	StatusContentMissing Status = "content_missing"
	// StatusAcceptedLoadFailed means every gate passed but activation failed.
	// Unlike rejected, it is eligible for a future retry.
	StatusAcceptedLoadFailed Status = "accepted_load_failed"
)

// Kind classifies artifact content.
type Kind string

const (
	KindCode   Kind = "code"
	KindScroll Kind = "scroll"
	KindRecord Kind = "record"
)

// Artifact is a versioned, content-addressed unit of stored data. Artifacts
// are never mutated in place: superseding content creates a new Artifact
// whose ParentID points at the prior version.
type Artifact struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Kind           Kind              `json:"kind"`
	ContentHash    string            `json:"content_hash"`
	Status         Status            `json:"status"`
	StatusReason   string            `json:"status_reason,omitempty"`
	Creator        string            `json:"creator"`
	ParentID       string            `json:"parent_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ContentPreview string            `json:"content_preview,omitempty"`
}

// NewID derives an artifact id from the content hash plus a UUID. The hash
// prefix gives the id a content fingerprint; the UUID keeps ids unique under
// rapid concurrent creation, where a wall-clock component would collide.
func NewID(contentHash string) string {
	prefix := contentHash
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Preview truncates content to n runes for metadata records and graph nodes.
func Preview(content string, n int) string {
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n]) + "..."
}

// Severity grades a policy issue. Severity is informational only: any issue,
// regardless of severity, rejects the subject.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Issue kinds emitted by the policy gate.
const (
	IssueSecurityViolation   = "Security_Violation"
	IssueStructuralViolation = "Structural_Violation"
)

// Issue is a single structural or security finding.
type Issue struct {
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// ReportStatus is the outcome of a validation run.
type ReportStatus string

const (
	ReportApproved ReportStatus = "approved"
	ReportRejected ReportStatus = "rejected"
)

// ValidationReport is the complete result of a policy gate run. The gate
// collects every issue in one pass; Status is rejected iff Issues is
// non-empty.
type ValidationReport struct {
	Subject string       `json:"subject"`
	Status  ReportStatus `json:"status"`
	Issues  []Issue      `json:"issues"`
}

// Rejected reports whether the subject failed validation.
func (r *ValidationReport) Rejected() bool {
	return r.Status == ReportRejected
}

// Summary renders a short human-readable digest of the report.
func (r *ValidationReport) Summary() string {
	if !r.Rejected() {
		return fmt.Sprintf("%s: approved", r.Subject)
	}
	return fmt.Sprintf("%s: rejected (%d issues)", r.Subject, len(r.Issues))
}
