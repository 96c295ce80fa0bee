package stores

import (
	"context"
	"time"

	"github.com/openfroyo/ral/pkg/ral"
)

// RunStatus represents the status of an apply run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusDenied marks runs in which policy denied at least one update.
	RunStatusDenied RunStatus = "denied"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one invocation of ralsh apply.
type Run struct {
	ID          string     `json:"id"`
	Manifest    string     `json:"manifest"`
	Target      string     `json:"target"`
	Noop        bool       `json:"noop"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// ChangeRecord is one attribute change a provider reported during a run.
// Is and Was hold the JSON encoding of the values.
type ChangeRecord struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	ResourceType string    `json:"resource_type"`
	ResourceName string    `json:"resource_name"`
	Attr         string    `json:"attr"`
	Is           *string   `json:"is,omitempty"`
	Was          *string   `json:"was,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Event represents an append-only log event
type Event struct {
	ID           int64      `json:"id"`
	RunID        *string    `json:"run_id,omitempty"`
	Level        EventLevel `json:"level"`
	ResourceType *string    `json:"resource_type,omitempty"`
	ResourceName *string    `json:"resource_name,omitempty"`
	Message      string     `json:"message"`
	Timestamp    time.Time  `json:"timestamp"`
}

// ResourceState is the state last applied to a resource.
type ResourceState struct {
	ResourceType string    `json:"resource_type"`
	ResourceName string    `json:"resource_name"`
	State        string    `json:"state"` // JSON of the resource
	Hash         string    `json:"hash"`  // SHA256 of State
	LastRunID    string    `json:"last_run_id"`
	LastApplied  time.Time `json:"last_applied"`
}

// Journal defines the interface for the persistence layer
type Journal interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Changes
	RecordUpdate(ctx context.Context, runID, resourceType string, upd *ral.Update) error
	ListChanges(ctx context.Context, runID string) ([]*ChangeRecord, error)

	// Events
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Resource state
	UpsertResourceState(ctx context.Context, runID, resourceType string, res ral.Resource) (*ResourceState, error)
	GetResourceState(ctx context.Context, resourceType, resourceName string) (*ResourceState, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
