package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/ral/pkg/config"
	"github.com/openfroyo/ral/pkg/protocol"
	"github.com/openfroyo/ral/pkg/ral"
	"github.com/openfroyo/ral/pkg/telemetry"
)

// ErrNotSuitable is wrapped by errors for providers that cannot manage
// resources on the target.
var ErrNotSuitable = errors.New("provider is not suitable on this target")

// Plan fetches the current state of every resource in manifest and computes
// the updates that bring it to the desired state. Nothing is changed on the
// target.
func (e *Engine) Plan(ctx context.Context, manifest *config.Manifest) (_ *Plan, err error) {
	if manifest == nil {
		return nil, fmt.Errorf("manifest is nil")
	}

	op := telemetry.StartOperation(e.tel.WithContext(ctx), "plan",
		attribute.StringSlice("ral.sources", manifest.SourceFiles))
	defer func() { op.End(err) }()
	ctx = op.Ctx

	plan := &Plan{
		ID:        uuid.New().String(),
		Sources:   manifest.SourceFiles,
		CreatedAt: time.Now(),
	}

	for _, typ := range manifest.Types() {
		unit, err := e.planUnit(ctx, typ, manifest.ResourcesOf(typ))
		if err != nil {
			return nil, err
		}
		for _, rp := range unit.Resources {
			plan.Summary.add(rp.Operation)
		}
		plan.Units = append(plan.Units, unit)
	}

	op.Logger.WithFields(map[string]interface{}{
		"plan_id":   plan.ID,
		"types":     len(plan.Units),
		"resources": plan.Summary.Total,
		"duration":  op.Timer.Duration().String(),
	}).Debug("computed plan")
	return plan, nil
}

func (e *Engine) planUnit(ctx context.Context, typ string, resources []config.ResourceConfig) (*PlanUnit, error) {
	prov, err := e.registry.Open(e.runner, typ)
	if err != nil {
		return nil, newError(ErrorClassUnsupported, typ, "open", err)
	}
	ok, err := prov.Suitable(ctx)
	if err != nil {
		return nil, classify(typ, "describe", err)
	}
	if !ok {
		return nil, newError(ErrorClassUnsupported, typ, "describe", ErrNotSuitable)
	}

	names := make([]string, len(resources))
	for i, rc := range resources {
		names[i] = rc.Name
	}
	current, err := prov.Get(ctx, names)
	if err != nil {
		return nil, classify(typ, string(protocol.ActionGet), err)
	}
	byName := make(map[string]ral.Resource, len(current))
	for _, res := range current {
		byName[res.Name] = res
	}

	unit := &PlanUnit{Type: typ, provider: prov}
	for _, rc := range resources {
		is, found := byName[rc.Name]
		if !found {
			is = ral.NewResource(rc.Name, ral.Attrs{"ensure": "absent"})
		}
		upd := ral.NewUpdate(is, rc.Resource())
		unit.Resources = append(unit.Resources, &ResourcePlan{Update: upd, Operation: operationFor(upd)})
	}
	return unit, nil
}
