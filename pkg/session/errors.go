package session

import (
	"errors"
	"fmt"
)

var (
	ErrSessionAlreadyActive = errors.New("session already active for execution unit")
	ErrNoActiveSession      = errors.New("no active session for execution unit")
	ErrNoExecutionUnit      = errors.New("context carries no execution unit")
	ErrArtifactCapture      = errors.New("artifact capture failed")
)

// StateError reports registry misuse by the test layer.
type StateError struct {
	Unit string
	Op   string
	Err  error
}

func (e *StateError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s for unit %s: %v", e.Op, e.Unit, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// ArtifactCaptureError wraps a screenshot failure. It is logged, never
// returned from teardown.
type ArtifactCaptureError struct {
	Label string
	Err   error
}

func (e *ArtifactCaptureError) Error() string {
	return fmt.Sprintf("capture artifact %q: %v", e.Label, e.Err)
}

func (e *ArtifactCaptureError) Is(target error) bool { return target == ErrArtifactCapture }
func (e *ArtifactCaptureError) Unwrap() error        { return e.Err }

// PanicError is a panic recovered inside Scope.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("test panicked: %v", e.Value)
}
