// Package apperr defines the error taxonomy shared by the tree builder,
// retriever, snapshot stores and orchestrator.
package apperr

import (
	"errors"
	"fmt"
)

// Operation-before-build errors. All are caller-recoverable.
var (
	ErrTreeNotInitialized      = errors.New("tree not initialized: add a document first")
	ErrRetrieverNotInitialized = errors.New("retriever not initialized: no tree to search")
	ErrOrchestratorNotReady    = errors.New("orchestrator not ready: no tree has been built or restored")
)

var (
	// ErrOverwriteRequired is returned when a build would replace an existing
	// tree and the caller did not consent.
	ErrOverwriteRequired = errors.New("a tree already exists: overwrite consent required")
	// ErrEmptyDocument is returned when the input text yields no chunks.
	ErrEmptyDocument = errors.New("document has no text content")
	// ErrNodeNotFound is returned for an unknown node index.
	ErrNodeNotFound = errors.New("node not found")
)

// ConfigurationError reports an invalid or contradictory parameter.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// Configf builds a ConfigurationError for field.
func Configf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ProviderError is an embedding, summarization or QA failure that survived
// the retry budget.
type ProviderError struct {
	Provider string // e.g. "genai:gemini-embedding-001"
	Stage    string // e.g. "embed", "summarize", "answer"
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s failed after %d attempt(s): %v", e.Provider, e.Stage, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CorruptSnapshotError reports a snapshot that failed decoding or structural
// validation.
type CorruptSnapshotError struct {
	Location string
	Reason   string
	Err      error
}

func (e *CorruptSnapshotError) Error() string {
	msg := fmt.Sprintf("corrupt snapshot %s: %s", e.Location, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptSnapshotError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsProvider reports whether err is (or wraps) a ProviderError.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsCorruptSnapshot reports whether err is (or wraps) a CorruptSnapshotError.
func IsCorruptSnapshot(err error) bool {
	var ce *CorruptSnapshotError
	return errors.As(err, &ce)
}

// IsNotReady reports whether err signals that no tree exists yet.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrTreeNotInitialized) ||
		errors.Is(err, ErrRetrieverNotInitialized) ||
		errors.Is(err, ErrOrchestratorNotReady)
}
