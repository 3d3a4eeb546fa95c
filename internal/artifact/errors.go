package artifact

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no artifact exists for the given id or name.
var ErrNotFound = errors.New("artifact not found")

// ErrGenerationExhausted is returned when every generation backend has been
// tried and none produced usable content.
var ErrGenerationExhausted = errors.New("all generation backends exhausted")

// StorageError wraps an I/O failure reading or writing the content store.
// The artifact stays pending, so the pipeline retries it on a later tick.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// EthicsVeto is returned when the external ethics check declines a
// proposition. Terminal for that proposition.
type EthicsVeto struct {
	Reason string
}

func (e *EthicsVeto) Error() string {
	return fmt.Sprintf("ethics veto: %s", e.Reason)
}

// SandboxFailure marks a failed or timed-out sandbox run. The pipeline
// treats it identically to a validation rejection.
type SandboxFailure struct {
	Reason string
	Logs   []string
}

func (e *SandboxFailure) Error() string {
	return fmt.Sprintf("sandbox failure: %s", e.Reason)
}

// LineageIntegrityError marks a broken parent-hash chain. Critical: it
// indicates store corruption rather than an authoring mistake, so the
// artifact is rejected and flagged for manual audit.
type LineageIntegrityError struct {
	ArtifactID string
	MissingRef string
}

func (e *LineageIntegrityError) Error() string {
	return fmt.Sprintf("lineage integrity: artifact %s references unresolved parent hash %s", e.ArtifactID, e.MissingRef)
}
