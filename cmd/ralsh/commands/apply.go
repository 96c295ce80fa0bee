package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/ral/pkg/config"
	"github.com/openfroyo/ral/pkg/engine"
	"github.com/openfroyo/ral/pkg/policy"
	"github.com/openfroyo/ral/pkg/stores"
)

func newApplyCommand(a *app) *cobra.Command {
	var (
		files       []string
		noop        bool
		planOnly    bool
		watch       bool
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Bring resources to the state declared in a manifest",
		Long: `Apply a desired-state manifest to the target.

This command:
  - Loads the manifest (CUE, YAML or JSON files, or directories of CUE files)
  - Fetches the current state of every declared resource
  - Checks pending changes against the configured policies
  - Enforces the allowed changes with each type's provider
  - Records the run and its changes in the journal`,
		Example: `  # Show what would change
  ralsh apply -f site.cue --noop

  # Apply two manifests, enforcing up to 4 types at once
  ralsh apply -f site.cue -f extra.yaml --parallelism 4

  # Re-apply whenever the manifest or a policy changes
  ralsh apply -f site.cue --policy /etc/ralsh/policies --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := a.engine(ctx, parallelism)
			if err != nil {
				return err
			}
			run := func() error {
				return applyOnce(ctx, a, eng, files, noop, planOnly)
			}
			if !watch {
				return run()
			}
			if err := run(); err != nil {
				a.log.WithError(err).Error("apply failed")
			}
			return watchAndApply(ctx, a, files, run)
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "manifest file or directory (repeatable)")
	cmd.Flags().BoolVar(&noop, "noop", false, "report the changes that would be made without making them")
	cmd.Flags().BoolVar(&planOnly, "plan", false, "print the plan and stop")
	cmd.Flags().BoolVar(&watch, "watch", false, "apply again when a manifest or policy changes")
	cmd.Flags().IntVar(&parallelism, "parallelism", 1, "number of types enforced concurrently")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func applyOnce(ctx context.Context, a *app, eng *engine.Engine, files []string, noop, planOnly bool) error {
	manifest, err := config.LoadManifest(ctx, files...)
	if err != nil {
		return err
	}
	plan, err := eng.Plan(ctx, manifest)
	if err != nil {
		return err
	}
	printPlan(a.out, a.color, plan)
	if planOnly || !plan.Summary.HasChanges() {
		return nil
	}

	report, err := eng.Apply(ctx, plan, noop)
	if err != nil {
		return err
	}
	printReport(a.out, a.color, report)
	switch report.Status {
	case stores.RunStatusFailed:
		return report.Err()
	case stores.RunStatusDenied:
		return fmt.Errorf("run %s: changes denied by policy", report.RunID)
	}
	return nil
}

// watchAndApply runs apply whenever a manifest or policy file changes,
// until ctx is done. Policies are reloaded before each run.
func watchAndApply(ctx context.Context, a *app, files []string, apply func() error) error {
	loader := policy.NewLoader(a.tel.Logger)
	// manifest directories contribute their .cue files
	loader.AcceptExtensions(".cue")
	paths := append(append([]string{}, files...), a.settings.Policies...)
	changed := make(chan string, 1)
	err := loader.Watch(ctx, paths, func(path string) {
		select {
		case changed <- path:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = loader.StopWatching() }()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case path := <-changed:
			a.log.Infof("%s changed, applying again", path)
			if err := a.rules.Reload(ctx); err != nil {
				a.log.WithError(err).Error("failed to reload policies")
				continue
			}
			if err := apply(); err != nil {
				a.log.WithError(err).Error("apply failed")
			}
		}
	}
}

func printPlan(w io.Writer, c palette, plan *engine.Plan) {
	for _, unit := range plan.Units {
		for _, rp := range unit.Resources {
			if rp.Operation == engine.OperationNoop {
				continue
			}
			fmt.Fprintf(w, "%s%-6s%s %s[%s]\n", c.yellow, rp.Operation, c.reset, unit.Type, rp.Update.Name())
			for _, attr := range rp.Update.Should.Attrs.Keys() {
				if rp.Update.Changed(attr) {
					fmt.Fprintf(w, "         %s: '%s' -> '%s'\n", attr,
						formatValue(rp.Update.Is.Attrs[attr]), formatValue(rp.Update.Should.Attrs[attr]))
				}
			}
		}
	}
	s := plan.Summary
	fmt.Fprintf(w, "Plan: %d to create, %d to update, %d to delete, %d unchanged\n",
		s.ToCreate, s.ToUpdate, s.ToDelete, s.Unchanged)
}

func printReport(w io.Writer, c palette, report *engine.Report) {
	for _, unit := range report.Units {
		for _, v := range unit.Warnings {
			fmt.Fprintf(w, "%swarning:%s %s\n", c.yellow, c.reset, v)
		}
		for _, v := range unit.Denied {
			fmt.Fprintf(w, "%sdenied:%s %s\n", c.red, c.reset, v)
		}
		if unit.Err != nil {
			fmt.Fprintf(w, "%sfailed:%s %v\n", c.red, c.reset, unit.Err)
		}
		for _, upd := range unit.Applied {
			for _, ch := range upd.Changes {
				fmt.Fprintf(w, "%s[%s]: %s\n", unit.Type, upd.Name(), ch)
			}
		}
	}
	verb := "applied"
	if report.Noop {
		verb = "would apply"
	}
	fmt.Fprintf(w, "Run %s %s: %s %d changes in %s\n", report.RunID, report.Status, verb, report.Changes(), report.Duration.Round(time.Millisecond))
}
