package engine

import (
	"errors"
	"fmt"

	"github.com/openfroyo/ral/pkg/providers/host"
)

// ErrorClass says which part of an apply failed.
type ErrorClass string

const (
	// ErrorClassTransport indicates the target could not be reached or a
	// provider could not be staged or started.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassProvider indicates a provider reported an error or produced
	// output that could not be understood.
	ErrorClassProvider ErrorClass = "provider"

	// ErrorClassPolicy indicates policies could not be evaluated.
	ErrorClassPolicy ErrorClass = "policy"

	// ErrorClassUnsupported indicates a type has no provider or the provider
	// is not suitable for the target.
	ErrorClassUnsupported ErrorClass = "unsupported"
)

// EngineError is a classified error with the type and resource it concerns.
// nolint:revive // EngineError reads better than engine.Error at call sites
type EngineError struct {
	Class ErrorClass `json:"class"`

	// Type is the resource type being worked on.
	Type string `json:"type,omitempty"`

	// Resource is the resource name, if the error concerns a single one.
	Resource string `json:"resource,omitempty"`

	// Operation is what the engine was doing, e.g. "get" or "set".
	Operation string `json:"operation,omitempty"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	subject := e.Type
	if e.Resource != "" {
		subject = fmt.Sprintf("%s[%s]", e.Type, e.Resource)
	}
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Class, subject, e.Operation, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Class, subject, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches other engine errors of the same class.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

func newError(class ErrorClass, typ, operation string, err error) *EngineError {
	return &EngineError{Class: class, Type: typ, Operation: operation, Err: err}
}

// WithResource adds the resource name to an error.
func (e *EngineError) WithResource(name string) *EngineError {
	e.Resource = name
	return e
}

// classify wraps an error from a provider call. Errors the provider itself
// reported are provider errors; failures to run it are transport errors.
func classify(typ, operation string, err error) *EngineError {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	var aerr *host.ActionError
	var rerr *host.ResponseError
	if errors.As(err, &aerr) || errors.As(err, &rerr) {
		return newError(ErrorClassProvider, typ, operation, err)
	}
	return newError(ErrorClassTransport, typ, operation, err)
}

// ErrorClassOf returns the class of err, or "" if it is not an engine error.
func ErrorClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsUnsupported returns true if err says a type cannot be managed.
func IsUnsupported(err error) bool {
	return ErrorClassOf(err) == ErrorClassUnsupported
}

// IsTransport returns true if err is a failure to reach the target.
func IsTransport(err error) bool {
	return ErrorClassOf(err) == ErrorClassTransport
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
