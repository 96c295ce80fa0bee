package engine

import (
	"time"

	"github.com/openfroyo/ral/pkg/policy"
	"github.com/openfroyo/ral/pkg/providers/host"
	"github.com/openfroyo/ral/pkg/ral"
	"github.com/openfroyo/ral/pkg/stores"
)

// OperationType is what applying an update will do to its resource.
type OperationType string

const (
	// OperationNoop means the resource is already in its desired state.
	OperationNoop OperationType = "noop"

	// OperationCreate brings an absent resource into existence.
	OperationCreate OperationType = "create"

	// OperationUpdate changes attributes of an existing resource.
	OperationUpdate OperationType = "update"

	// OperationDelete removes an existing resource.
	OperationDelete OperationType = "delete"
)

// operationFor classifies upd by its ensure attribute and the attributes
// that differ.
func operationFor(upd *ral.Update) OperationType {
	isAbsent := upd.Is.Lookup("ensure", "") == "absent"
	shouldEnsure, given := upd.Should.Attrs["ensure"]

	switch {
	case given && shouldEnsure == "absent" && !isAbsent:
		return OperationDelete
	case isAbsent && !(given && shouldEnsure == "absent"):
		return OperationCreate
	}
	for _, attr := range upd.Should.Attrs.Keys() {
		if upd.Changed(attr) {
			return OperationUpdate
		}
	}
	return OperationNoop
}

// ResourcePlan is the planned update of one resource.
type ResourcePlan struct {
	Update    *ral.Update   `json:"update"`
	Operation OperationType `json:"operation"`
}

// PlanUnit holds the planned updates of all resources of one type. Each
// unit is enforced with a single provider.
type PlanUnit struct {
	// Type is the resource type.
	Type string `json:"type"`

	// Resources in manifest order.
	Resources []*ResourcePlan `json:"resources"`

	provider *host.Provider
}

// Pending returns the updates that change something.
func (u *PlanUnit) Pending() []*ral.Update {
	var out []*ral.Update
	for _, rp := range u.Resources {
		if rp.Operation != OperationNoop {
			out = append(out, rp.Update)
		}
	}
	return out
}

// Plan is the set of updates needed to bring a target to a manifest.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// Sources are the manifest files the plan was computed from.
	Sources []string `json:"sources"`

	// Units are in the order types first appear in the manifest.
	Units []*PlanUnit `json:"units"`

	Summary PlanSummary `json:"summary"`

	CreatedAt time.Time `json:"created_at"`
}

// PlanSummary counts the planned operations.
type PlanSummary struct {
	Total     int `json:"total"`
	ToCreate  int `json:"to_create"`
	ToUpdate  int `json:"to_update"`
	ToDelete  int `json:"to_delete"`
	Unchanged int `json:"unchanged"`
}

func (s *PlanSummary) add(op OperationType) {
	s.Total++
	switch op {
	case OperationCreate:
		s.ToCreate++
	case OperationUpdate:
		s.ToUpdate++
	case OperationDelete:
		s.ToDelete++
	default:
		s.Unchanged++
	}
}

// HasChanges reports whether applying the plan would change anything.
func (s PlanSummary) HasChanges() bool {
	return s.ToCreate+s.ToUpdate+s.ToDelete > 0
}

// UnitResult is the outcome of enforcing one plan unit.
type UnitResult struct {
	Type string `json:"type"`

	// Applied lists the updates handed to the provider, with the changes it
	// reported.
	Applied []*ral.Update `json:"applied,omitempty"`

	// Denied lists the blocking policy violations; their resources were
	// left alone.
	Denied []policy.Violation `json:"denied,omitempty"`

	Warnings []policy.Violation `json:"warnings,omitempty"`

	Err error `json:"-"`
}

// Changes counts the attribute changes in the unit.
func (r *UnitResult) Changes() int {
	n := 0
	for _, upd := range r.Applied {
		n += len(upd.Changes)
	}
	return n
}

// Report is the outcome of applying a plan.
type Report struct {
	RunID    string            `json:"run_id"`
	Noop     bool              `json:"noop"`
	Status   stores.RunStatus  `json:"status"`
	Units    []*UnitResult     `json:"units"`
	Duration time.Duration     `json:"duration"`
}

// Changes counts the attribute changes across all units.
func (r *Report) Changes() int {
	n := 0
	for _, u := range r.Units {
		n += u.Changes()
	}
	return n
}

// Err returns the errors of all failed units joined, or nil.
func (r *Report) Err() error {
	var errs []error
	for _, u := range r.Units {
		if u.Err != nil {
			errs = append(errs, u.Err)
		}
	}
	return joinErrors(errs)
}
