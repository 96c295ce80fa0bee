package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newJournalCommand(a *app) *cobra.Command {
	var (
		limit  int
		events bool
		del    bool
	)

	cmd := &cobra.Command{
		Use:   "journal [RUN_ID]",
		Short: "Show recent runs and the changes they made",
		Long: `Without arguments, list the most recent runs, newest first.
With a run id, list the changes recorded for that run. With --delete,
remove the run together with its changes and events.`,
		Example: `  # Last 5 runs
  ralsh journal --limit 5

  # Changes and events of one run
  ralsh journal 1b0f3c9e-6f1e-4c43-9a55-3a4a7b1e6c2d --events

  # Forget a run
  ralsh journal --delete 1b0f3c9e-6f1e-4c43-9a55-3a4a7b1e6c2d`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			journal, err := a.openJournal(ctx)
			if err != nil {
				return err
			}

			if del {
				if len(args) == 0 {
					return fmt.Errorf("--delete needs a run id")
				}
				if err := journal.DeleteRun(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "deleted run %s\n", args[0])
				return nil
			}

			if len(args) == 0 {
				runs, err := journal.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				for _, run := range runs {
					noop := ""
					if run.Noop {
						noop = " (noop)"
					}
					fmt.Fprintf(a.out, "%s  %s  %-9s %s on %s%s\n",
						run.ID, run.StartedAt.Local().Format(time.DateTime), run.Status, run.Manifest, run.Target, noop)
				}
				return nil
			}

			run, err := journal.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Run %s %s, %s on %s\n", run.ID, run.Status, run.Manifest, run.Target)
			if run.Error != nil {
				fmt.Fprintf(a.out, "%serror:%s %s\n", a.color.red, a.color.reset, *run.Error)
			}

			changes, err := journal.ListChanges(ctx, run.ID)
			if err != nil {
				return err
			}
			for _, c := range changes {
				fmt.Fprintf(a.out, "%s[%s]: %s(%s -> %s)\n",
					c.ResourceType, c.ResourceName, c.Attr, deref(c.Was), deref(c.Is))
			}

			if events {
				evs, err := journal.GetEvents(ctx, &run.ID, nil, limit, 0)
				if err != nil {
					return err
				}
				for _, ev := range evs {
					fmt.Fprintf(a.out, "%s %-7s %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.Level, ev.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs or events to show")
	cmd.Flags().BoolVar(&events, "events", false, "also show the events of the run")
	cmd.Flags().BoolVar(&del, "delete", false, "delete the run instead of showing it")
	return cmd
}

// deref returns the JSON text of a journaled value, or null.
func deref(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}
