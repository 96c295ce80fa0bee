package engine

import (
	"github.com/openfroyo/ral/pkg/policy"
	"github.com/openfroyo/ral/pkg/providers/host"
	"github.com/openfroyo/ral/pkg/stores"
	"github.com/openfroyo/ral/pkg/telemetry"
)

// Engine plans and applies manifests against one target.
type Engine struct {
	registry    *host.Registry
	runner      *host.Runner
	policy      *policy.Engine
	journal     stores.Journal
	tel         *telemetry.Telemetry
	log         *telemetry.Logger
	parallelism int
	target      string
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy gates every update through the policy engine before it is
// handed to a provider.
func WithPolicy(p *policy.Engine) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithJournal records runs, changes and applied state in j.
func WithJournal(j stores.Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithParallelism sets how many resource types are enforced concurrently.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithTelemetry makes the engine log, trace and count through tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Engine) {
		e.tel = tel
	}
}

// WithTarget names the target in the journal and in policy input.
func WithTarget(name string) Option {
	return func(e *Engine) {
		e.target = name
	}
}

// New creates an engine running the providers of registry through runner.
func New(registry *host.Registry, runner *host.Runner, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		runner:      runner,
		parallelism: 1,
		target:      "local",
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tel == nil {
		e.tel = telemetry.Disabled(telemetry.Nop())
	}
	e.log = e.tel.Logger.NewComponentLogger("engine")
	return e
}
