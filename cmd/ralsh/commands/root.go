package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/ral/pkg/config"
	"github.com/openfroyo/ral/pkg/engine"
	"github.com/openfroyo/ral/pkg/ral"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := newApp(version, os.Stdout)
	defer a.close(ctx)
	return newRootCommand(a, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(a *app, commit, buildDate string) *cobra.Command {
	var (
		explain bool
		noop    bool
	)

	rootCmd := &cobra.Command{
		Use:   "ralsh [TYPE [NAME [ATTRIBUTE=VALUE]...]]",
		Short: "Print resources managed by providers and modify them",
		Long: `ralsh runs resource providers on the local machine or over ssh.

The positional arguments make ralsh behave in the following way:
  ralsh           : list all the types that providers are installed for
  ralsh TYPE      : list all instances of TYPE
  ralsh TYPE NAME : list just TYPE[NAME]
  ralsh TYPE NAME ATTRIBUTE=VALUE ... :
                    modify TYPE[NAME] by setting the provided attributes
                    to the corresponding values. Print the resulting resource
                    and a list of the changes that were made.

Providers are *.prov executables found in the include directories and in
their providers subdirectories.`,
		Example: `  # Show all /etc/hosts entries
  ralsh host

  # Add an alias, showing what would change first
  ralsh --noop host db.example.com ip=10.0.0.5 host_aliases=db,postgres
  ralsh host db.example.com ip=10.0.0.5 host_aliases=db,postgres

  # Explain the attributes of a type on a remote machine
  ralsh --target ssh://admin@node1 -e host`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", a.version, commit, buildDate),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch {
			case len(args) == 0 && explain:
				return fmt.Errorf("please provide a type\nrun 'ralsh' to see a list of all types")
			case len(args) == 0:
				return listTypes(a)
			case explain:
				return explainType(ctx, a, args[0])
			case len(args) == 1:
				return listResources(ctx, a, args[0])
			case len(args) == 2:
				return showResource(ctx, a, args[0], args[1])
			}
			return modifyResource(ctx, a, args[0], args[1], args[2:], noop)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfgPath, "config", "c", "", "settings file (default $HOME/.ralsh.yaml)")
	flags.StringSliceP("include", "I", nil, "search directory for providers (repeatable)")
	flags.StringP("log-level", "l", "warn", "log level: trace, debug, info, warn, error or fatal")
	flags.String("target", "local", "where providers run: local or ssh://[user@]host[:port]")
	flags.String("journal", "", "journal database")
	flags.StringSlice("policy", nil, "policy file or directory (repeatable)")
	for key, flag := range map[string]string{
		"include":   "include",
		"log_level": "log-level",
		"target":    "target",
		"journal":   "journal",
		"policies":  "policy",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.Flags().BoolVarP(&explain, "explain", "e", false, "print an explanation of TYPE, which must be provided")
	rootCmd.Flags().BoolVar(&noop, "noop", false, "report the changes that would be made without making them")

	rootCmd.AddCommand(newApplyCommand(a))
	rootCmd.AddCommand(newJournalCommand(a))
	return rootCmd
}

func listTypes(a *app) error {
	for _, t := range a.registry.Types() {
		fmt.Fprintln(a.out, t)
	}
	return nil
}

func explainType(ctx context.Context, a *app, typ string) error {
	prov, err := a.provider(ctx, typ)
	if err != nil {
		return err
	}
	meta, err := prov.Describe(ctx)
	if err != nil {
		return err
	}
	printExplanation(a.out, a.color, typ, prov.Path, meta)
	return nil
}

func listResources(ctx context.Context, a *app, typ string) error {
	prov, err := a.provider(ctx, typ)
	if err != nil {
		return err
	}
	resources, err := prov.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", typ, err)
	}
	for _, res := range resources {
		printResource(a.out, a.color, typ, res)
	}
	return nil
}

func showResource(ctx context.Context, a *app, typ, name string) error {
	prov, err := a.provider(ctx, typ)
	if err != nil {
		return err
	}
	res, found, err := prov.Find(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", name, err)
	}
	if found {
		printResource(a.out, a.color, typ, res)
	}
	return nil
}

// modifyResource enforces the attributes given as ATTR=VALUE arguments. The
// update goes through the engine, so policies apply and the change is
// journaled like any apply run.
func modifyResource(ctx context.Context, a *app, typ, name string, args []string, noop bool) error {
	prov, err := a.provider(ctx, typ)
	if err != nil {
		return err
	}
	meta, err := prov.Describe(ctx)
	if err != nil {
		return err
	}

	attrs := ral.Attrs{}
	for _, arg := range args {
		attr, text, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected ATTRIBUTE=VALUE, got %q", arg)
		}
		v, err := meta.ParseValue(attr, text)
		if err != nil {
			return fmt.Errorf("failed to read attribute %s: %w\nrun 'ralsh -e %s' to get a list of attributes and valid values", attr, err, typ)
		}
		attrs[attr] = v
	}

	manifest := &config.Manifest{
		SourceFiles: []string{"command line"},
		Resources:   []config.ResourceConfig{{Type: typ, Name: name, Attrs: attrs, Source: "command line"}},
	}
	report, err := a.apply(ctx, manifest, noop)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", name, err)
	}
	return printModification(a.out, a.color, report, a.plan)
}

// apply plans and applies manifest with the configured policies and
// journal. The plan is kept in a.plan for printing.
func (a *app) apply(ctx context.Context, manifest *config.Manifest, noop bool) (*engine.Report, error) {
	eng, err := a.engine(ctx, 1)
	if err != nil {
		return nil, err
	}
	plan, err := eng.Plan(ctx, manifest)
	if err != nil {
		return nil, err
	}
	a.plan = plan
	return eng.Apply(ctx, plan, noop)
}

func (a *app) engine(ctx context.Context, parallelism int) (*engine.Engine, error) {
	pe, err := a.policies(ctx)
	if err != nil {
		return nil, err
	}
	a.rules = pe
	journal, err := a.openJournal(ctx)
	if err != nil {
		return nil, err
	}
	return engine.New(a.registry, a.runner,
		engine.WithPolicy(pe),
		engine.WithJournal(journal),
		engine.WithParallelism(parallelism),
		engine.WithTelemetry(a.tel),
		engine.WithTarget(a.settings.Target),
	), nil
}

func printModification(w io.Writer, c palette, report *engine.Report, plan *engine.Plan) error {
	unit := report.Units[0]
	if unit.Err != nil {
		fmt.Fprintf(w, "%sfailed: %v%s\n", c.red, unit.Err, c.reset)
		return unit.Err
	}
	if len(unit.Denied) > 0 {
		for _, v := range unit.Denied {
			fmt.Fprintf(w, "%sdenied: %s%s\n", c.red, v, c.reset)
		}
		return fmt.Errorf("update denied by policy")
	}
	for _, v := range unit.Warnings {
		fmt.Fprintf(w, "%swarning: %s%s\n", c.yellow, v, c.reset)
	}

	upd := plan.Units[0].Resources[0].Update
	printResource(w, c, unit.Type, upd.Resource())
	printChanges(w, c, upd.Changes)
	return nil
}
