// Package artifact tracks pipeline outputs in a durable, filesystem-backed
// ledger. The ledger is the source of truth for resume decisions, so status
// reads must reflect on-disk reality across process restarts, never a
// previous run's in-memory view.
package artifact

import "fmt"

// Status is the lifecycle state of a tracked artifact.
type Status string

const (
	StatusMissing    Status = "missing"
	StatusInProgress Status = "in-progress"
	StatusComplete   Status = "complete"
	StatusInvalid    Status = "invalid"
)

// Artifact is one ledger entry: a logical key bound to a filesystem path.
type Artifact struct {
	Key    string
	Path   string
	Status Status
	// Reason records why an artifact was marked invalid.
	Reason string
}

// ValidationError reports an artifact that was claimed complete but whose
// backing file is missing or empty on disk.
type ValidationError struct {
	Key    string
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("artifact %q failed validation at %s: %s", e.Key, e.Path, e.Reason)
}
