package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block the run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the update that caused it.
	SeverityError Severity = "error"

	// SeverityCritical blocks the update that caused it.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of severity s stop an update.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code. The module must define
// a set named deny in its package; each element is either a message string
// or an object with message and optional severity.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Input is the document a policy sees as input for one pending update.
type Input struct {
	// Type is the resource type, e.g. host.
	Type string `json:"type"`

	// Name is the resource name.
	Name string `json:"name"`

	// Is holds the current attributes; ensure is absent for resources that
	// do not exist.
	Is map[string]any `json:"is"`

	// Should holds the desired attributes.
	Should map[string]any `json:"should"`

	// Changed lists the desired attributes that differ from the current
	// ones, sorted.
	Changed []string `json:"changed"`

	// Noop is set when the run only reports what it would change.
	Noop bool `json:"noop"`

	// Target names the system the update is applied to.
	Target string `json:"target"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Type and Resource identify the update that violated the policy.
	Type     string `json:"type"`
	Resource string `json:"resource"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	return v.Type + "[" + v.Resource + "]: " + v.Message + " (" + v.Policy + ")"
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block updates.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Denied reports whether a blocking violation names the resource.
func (r *Result) Denied(typ, name string) bool {
	for _, v := range r.Violations {
		if v.Type == typ && v.Resource == name {
			return true
		}
	}
	return false
}
