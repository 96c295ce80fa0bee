package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/viper"

	"github.com/openfroyo/ral/pkg/config"
	"github.com/openfroyo/ral/pkg/engine"
	"github.com/openfroyo/ral/pkg/policy"
	"github.com/openfroyo/ral/pkg/providers/host"
	"github.com/openfroyo/ral/pkg/stores"
	"github.com/openfroyo/ral/pkg/telemetry"
	"github.com/openfroyo/ral/pkg/transports/local"
	"github.com/openfroyo/ral/pkg/transports/ssh"
)

// app holds what every command needs: settings, telemetry and a
// connection to the target.
type app struct {
	v       *viper.Viper
	cfgPath string
	version string

	out   io.Writer
	color palette

	settings *config.Settings
	tel      *telemetry.Telemetry
	log      *telemetry.Logger
	target   host.Target
	registry *host.Registry
	runner   *host.Runner
	journal  *stores.SQLiteStore

	// rules is the policy engine of the last engine built.
	rules *policy.Engine
	// plan is the last plan computed by apply.
	plan *engine.Plan
}

func newApp(version string, out io.Writer) *app {
	a := &app{v: viper.New(), version: version, out: out}
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		a.color = ansiPalette
	}
	return a
}

// setup loads settings and connects to the target.
func (a *app) setup(ctx context.Context) error {
	settings, err := config.Load(a.v, a.cfgPath)
	if err != nil {
		return err
	}
	a.settings = settings

	tel, err := telemetry.NewTelemetry(settings.Telemetry(a.version))
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	a.tel = tel
	a.log = tel.Logger.NewComponentLogger("ralsh")

	if settings.IsLocal() {
		a.target = local.New(local.WithLogger(tel.Logger))
	} else {
		cfg, err := settings.SSHConfig()
		if err != nil {
			return err
		}
		client, err := ssh.Dial(ctx, cfg, tel.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", settings.Target, err)
		}
		a.target = ssh.NewTarget(client)
	}

	a.registry = host.NewRegistry(providerDirs(settings.Include)...)
	if err := a.registry.Scan(); err != nil {
		return err
	}
	a.runner = host.NewRunner(a.target, host.WithTelemetry(tel), host.WithTargetName(settings.Target))
	return nil
}

// providerDirs searches every include directory and its providers
// subdirectory.
func providerDirs(include []string) []string {
	var dirs []string
	for _, dir := range include {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		dirs = append(dirs, dir, filepath.Join(dir, "providers"))
	}
	return dirs
}

// openJournal opens the journal database, creating it if needed.
func (a *app) openJournal(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	path := a.settings.Journal
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	j, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := j.Init(ctx); err != nil {
		return nil, err
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return nil, err
	}
	if err := j.HealthCheck(ctx); err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("journal %s is not usable: %w", path, err)
	}
	a.journal = j
	return j, nil
}

// policies builds the policy engine from the configured paths.
func (a *app) policies(ctx context.Context) (*policy.Engine, error) {
	pe, err := policy.NewEngine(a.tel.Logger, policy.WithMetrics(a.tel.Metrics))
	if err != nil {
		return nil, err
	}
	if len(a.settings.Policies) > 0 {
		if err := pe.LoadPolicies(ctx, a.settings.Policies); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// provider opens the provider for typ and checks it can run on the target.
func (a *app) provider(ctx context.Context, typ string) (*host.Provider, error) {
	prov, err := a.registry.Open(a.runner, typ)
	if err != nil {
		return nil, fmt.Errorf("%w\nrun 'ralsh' to see a list of all types", err)
	}
	ok, err := prov.Suitable(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("provider %s is not suitable on %s", typ, a.settings.Target)
	}
	return prov, nil
}

// close releases the target and journal and writes the metrics textfile.
func (a *app) close(ctx context.Context) {
	if a.tel == nil {
		return
	}
	if err := a.tel.Metrics.WriteTextfile(); err != nil {
		a.log.WithError(err).Warn("failed to write metrics")
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close journal")
		}
	}
	if a.target != nil {
		if err := a.target.Close(); err != nil {
			a.log.WithError(err).Warn("failed to clean up target")
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.log.WithError(err).Debug("telemetry shutdown")
	}
}
