package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/ral/pkg/protocol"
	"github.com/openfroyo/ral/pkg/ral"
	"github.com/openfroyo/ral/pkg/stores"
	"github.com/openfroyo/ral/pkg/telemetry"
)

// Apply enforces plan on the target. Types are enforced concurrently up to
// the engine's parallelism; within a type, updates go to the provider in
// manifest order. With noop set, providers report what they would change
// without changing it.
//
// A failing type does not stop the others. The returned error is only set
// when the run could not be started; failures of individual types are in
// the report.
func (e *Engine) Apply(ctx context.Context, plan *Plan, noop bool) (*Report, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}

	report := &Report{RunID: uuid.New().String(), Noop: noop}
	manifest := strings.Join(plan.Sources, ",")
	ctx, span := e.tel.Tracer.StartApplySpan(ctx, report.RunID, manifest)
	defer span.End()
	start := time.Now()
	log := e.log.WithField("run_id", report.RunID)

	if e.journal != nil {
		run := &stores.Run{
			ID:        report.RunID,
			Manifest:  manifest,
			Target:    e.target,
			Noop:      noop,
			Status:    stores.RunStatusRunning,
			StartedAt: start,
		}
		if err := e.journal.CreateRun(ctx, run); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to journal run: %w", err)
		}
	}
	log.Infof("applying %d types from %s (noop=%t)", len(plan.Units), manifest, noop)

	report.Units = make([]*UnitResult, len(plan.Units))
	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup
	for i, unit := range plan.Units {
		wg.Add(1)
		go func(i int, unit *PlanUnit) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				report.Units[i] = &UnitResult{Type: unit.Type, Err: classify(unit.Type, "apply", ctx.Err())}
				return
			}
			report.Units[i] = e.applyUnit(ctx, report.RunID, unit, noop)
		}(i, unit)
	}
	wg.Wait()

	report.Duration = time.Since(start)
	report.Status = runStatus(report)
	err := report.Err()
	if e.journal != nil {
		var msg *string
		if err != nil {
			s := err.Error()
			msg = &s
		}
		// The run context may be cancelled; the outcome is still recorded.
		if jerr := e.journal.FinishRun(context.WithoutCancel(ctx), report.RunID, report.Status, msg); jerr != nil {
			log.WithError(jerr).Error("failed to journal run outcome")
		}
	}

	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	log.Infof("run %s: %d changes in %s", report.Status, report.Changes(), report.Duration)
	return report, nil
}

func runStatus(r *Report) stores.RunStatus {
	denied := false
	for _, u := range r.Units {
		if u.Err != nil {
			return stores.RunStatusFailed
		}
		if len(u.Denied) > 0 {
			denied = true
		}
	}
	if denied {
		return stores.RunStatusDenied
	}
	return stores.RunStatusCompleted
}

func (e *Engine) applyUnit(ctx context.Context, runID string, unit *PlanUnit, noop bool) *UnitResult {
	result := &UnitResult{Type: unit.Type}
	log := e.log.WithProvider(unit.Type).WithField("run_id", runID)

	pending := unit.Pending()
	if len(pending) == 0 {
		log.Debug("nothing to do")
		return result
	}

	if e.policy != nil {
		verdict, err := e.policy.Evaluate(ctx, unit.Type, e.target, noop, pending)
		if err != nil {
			result.Err = newError(ErrorClassPolicy, unit.Type, "evaluate", err)
			e.event(ctx, runID, stores.EventLevelError, unit.Type, "", result.Err.Error())
			return result
		}
		for _, v := range verdict.Warnings {
			log.Warn(v.String())
			e.event(ctx, runID, stores.EventLevelWarning, unit.Type, v.Resource, v.String())
		}
		result.Warnings = verdict.Warnings
		if !verdict.Allowed {
			result.Denied = verdict.Violations
			allowed := pending[:0:0]
			for _, upd := range pending {
				if verdict.Denied(unit.Type, upd.Name()) {
					continue
				}
				allowed = append(allowed, upd)
			}
			for _, v := range verdict.Violations {
				log.Error(v.String())
				e.event(ctx, runID, stores.EventLevelError, unit.Type, v.Resource, "denied: "+v.String())
			}
			pending = allowed
		}
	}
	if len(pending) == 0 {
		return result
	}

	if err := e.enforce(ctx, unit, pending, noop); err != nil {
		result.Err = err
		e.event(ctx, runID, stores.EventLevelError, unit.Type, "", err.Error())
		return result
	}
	result.Applied = pending

	for _, upd := range pending {
		for _, c := range upd.Changes {
			log.Infof("%s[%s]: %s", unit.Type, upd.Name(), c)
		}
		e.journalUpdate(ctx, runID, unit.Type, upd, noop)
	}
	return result
}

// enforce hands the updates to the provider. Providers without set are
// driven one resource at a time through update; in noop mode the changes
// are then derived from the plan.
func (e *Engine) enforce(ctx context.Context, unit *PlanUnit, updates []*ral.Update, noop bool) error {
	prov := unit.provider
	meta, err := prov.Describe(ctx)
	if err != nil {
		return classify(unit.Type, string(protocol.ActionDescribe), err)
	}

	if meta.Supports(string(protocol.ActionSet)) {
		if err := prov.Set(ctx, updates, noop); err != nil {
			return classify(unit.Type, string(protocol.ActionSet), err)
		}
		return nil
	}
	if !meta.Supports(string(protocol.ActionUpdate)) {
		return newError(ErrorClassUnsupported, unit.Type, "enforce",
			fmt.Errorf("provider %s supports neither set nor update", prov.Name))
	}

	for _, upd := range updates {
		if noop {
			for _, attr := range upd.Should.Attrs.Keys() {
				if upd.Changed(attr) {
					upd.Record(ral.Change{Attr: attr, Is: upd.Should.Attrs[attr], Was: upd.Is.Attrs[attr]})
				}
			}
			continue
		}
		changes, err := prov.Update(ctx, upd.Name(), upd.Should.Attrs)
		if err != nil {
			return classify(unit.Type, string(protocol.ActionUpdate), err).WithResource(upd.Name())
		}
		for _, c := range changes {
			upd.Record(c)
		}
	}
	return nil
}

func (e *Engine) journalUpdate(ctx context.Context, runID, typ string, upd *ral.Update, noop bool) {
	if e.journal == nil {
		return
	}
	log := e.log.WithProvider(typ)
	if err := e.journal.RecordUpdate(ctx, runID, typ, upd); err != nil {
		log.WithError(err).Warnf("failed to journal changes of %s", upd.Name())
	}
	if noop {
		return
	}
	if _, err := e.journal.UpsertResourceState(ctx, runID, typ, upd.Resource()); err != nil {
		log.WithError(err).Warnf("failed to journal state of %s", upd.Name())
	}
}

func (e *Engine) event(ctx context.Context, runID string, level stores.EventLevel, typ, name, msg string) {
	if e.journal == nil {
		return
	}
	ev := &stores.Event{RunID: &runID, Level: level, ResourceType: &typ, Message: msg}
	if name != "" {
		ev.ResourceName = &name
	}
	if err := e.journal.AppendEvent(ctx, ev); err != nil {
		e.log.WithError(err).Warn("failed to journal event")
	}
}
