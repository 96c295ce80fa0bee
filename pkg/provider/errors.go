package provider

import (
	"fmt"
	"strings"
)

// Error kinds reported to the host.
const (
	// KindFailed is the kind of every error that does not say otherwise.
	KindFailed = "failed"
	// KindUnknown marks lookups of resources that do not exist.
	KindUnknown = "unknown"
)

// ProviderError aborts the current action. The dispatcher reports it to the
// host as {"error": {"message": ..., "kind": ...}}.
type ProviderError struct {
	Message string
	Kind    string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// Errorf creates a ProviderError with a formatted message.
func Errorf(format string, args ...any) error {
	return &ProviderError{Message: fmt.Sprintf(format, args...)}
}

// NotFound creates the error a provider returns when asked for a resource
// that does not exist.
func NotFound(name string) error {
	return &ProviderError{
		Message: fmt.Sprintf("resource %q not found", name),
		Kind:    KindUnknown,
	}
}

// SaveProblem is one error record the document engine produced while
// loading or saving.
type SaveProblem struct {
	// File is the path of the file the record is about.
	File string
	// Kind is the value of the error record, e.g. put_failed.
	Kind    string
	Line    string
	Char    string
	Path    string
	Message string
}

// String renders the problem the way it appears in the error message.
func (p SaveProblem) String() string {
	var head string
	switch {
	case p.Line != "":
		head = fmt.Sprintf("Error in %s:%s:%s %s", p.File, p.Line, p.Char, p.Kind)
	case p.Path != "":
		head = fmt.Sprintf("Error in %s at node %s (%s)", p.File, p.Path, p.Kind)
	default:
		head = fmt.Sprintf("Error in %s (%s)", p.File, p.Kind)
	}
	if p.Message != "" {
		return head + "\n" + p.Message
	}
	return head
}

// DocumentSaveError is the ProviderError returned when a document session
// cannot be saved.
type DocumentSaveError struct {
	ProviderError
	Problems []SaveProblem
}

func newDocumentSaveError(problems []SaveProblem) *DocumentSaveError {
	return &DocumentSaveError{
		ProviderError: problemError("failed to save", problems),
		Problems:      problems,
	}
}

// Unwrap exposes the embedded ProviderError to errors.As.
func (e *DocumentSaveError) Unwrap() error {
	return &e.ProviderError
}

// DocumentLoadError is the ProviderError returned when a file selected by a
// document session cannot be parsed.
type DocumentLoadError struct {
	ProviderError
	Problems []SaveProblem
}

func newDocumentLoadError(problems []SaveProblem) *DocumentLoadError {
	return &DocumentLoadError{
		ProviderError: problemError("failed to load", problems),
		Problems:      problems,
	}
}

// Unwrap exposes the embedded ProviderError to errors.As.
func (e *DocumentLoadError) Unwrap() error {
	return &e.ProviderError
}

func problemError(what string, problems []SaveProblem) ProviderError {
	lines := make([]string, len(problems))
	for i, p := range problems {
		lines[i] = p.String()
	}
	return ProviderError{
		Message: what + ": invalid file format:\n" + strings.Join(lines, "\n"),
		Kind:    KindFailed,
	}
}
