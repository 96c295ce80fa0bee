package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/openfroyo/ral/pkg/transports/ssh"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USER", "tester")
	for _, key := range []string{"RALSH_LOG_LEVEL", "RALSH_TARGET", "RALSH_INCLUDE", "RALSH_DATA_DIR", "RALSH_JOURNAL"} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	s, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !s.IsLocal() || s.LogLevel != "warn" || len(s.Include) != 0 {
		t.Errorf("unexpected settings %+v", s)
	}
	if want := filepath.Join(home, ".local", "share", "ralsh", "journal.db"); s.Journal != want {
		t.Errorf("journal = %s, want %s", s.Journal, want)
	}
	if s.SSH.Port != 22 || s.SSH.User != "tester" || s.SSH.AuthMethod != ssh.AuthMethodKey || s.SSH.ConnectionTimeout != 30*time.Second {
		t.Errorf("unexpected ssh defaults %+v", s.SSH)
	}
}

func TestLoadFile(t *testing.T) {
	home := isolate(t)
	writeManifest(t, filepath.Join(home, ".ralsh.yaml"), `
include: [/opt/providers, /usr/share/ralsh]
log_level: debug
target: ssh://admin@node1:2222
policies: [/etc/ralsh/policies]
ssh:
  auth: agent
  sudo: true
  connect_timeout: 5s
metrics:
  textfile: /var/lib/node_exporter/ralsh.prom
tracing:
  exporter: stdout
`)

	s, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if strings.Join(s.Include, ":") != "/opt/providers:/usr/share/ralsh" || s.LogLevel != "debug" {
		t.Errorf("unexpected settings %+v", s)
	}

	cfg, err := s.SSHConfig()
	if err != nil {
		t.Fatalf("SSHConfig() error = %v", err)
	}
	if cfg.Host != "node1" || cfg.User != "admin" || cfg.Port != 2222 {
		t.Errorf("unexpected address %s@%s", cfg.User, cfg.Address())
	}
	if cfg.AuthMethod != ssh.AuthMethodAgent || !cfg.Sudo || cfg.ConnectionTimeout != 5*time.Second || cfg.WorkDir != "/tmp" {
		t.Errorf("unexpected ssh config %+v", cfg)
	}

	tel := s.Telemetry("1.2.3")
	if !tel.Metrics.Enabled || tel.Metrics.Textfile != "/var/lib/node_exporter/ralsh.prom" {
		t.Errorf("unexpected metrics config %+v", tel.Metrics)
	}
	if !tel.Tracing.Enabled || tel.Tracing.Exporter != "stdout" || tel.ServiceVersion != "1.2.3" || tel.Logging.Level != "debug" {
		t.Errorf("unexpected telemetry config %+v", tel)
	}
	if err := tel.Validate(); err != nil {
		t.Errorf("telemetry config invalid: %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	home := isolate(t)
	cfgPath := filepath.Join(home, "custom.yaml")
	writeManifest(t, cfgPath, "log_level: info\ntarget: ssh://node2\n")
	t.Setenv("RALSH_LOG_LEVEL", "error")
	t.Setenv("RALSH_DATA_DIR", "/srv/providers")

	s, err := Load(viper.New(), cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.LogLevel != "error" {
		t.Errorf("environment should override the file, got %s", s.LogLevel)
	}
	if s.Target != "ssh://node2" {
		t.Errorf("target = %s", s.Target)
	}
	if len(s.Include) != 1 || s.Include[0] != "/srv/providers" {
		t.Errorf("include = %v", s.Include)
	}
	cfg, err := s.SSHConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.User != "tester" || cfg.Port != 22 {
		t.Errorf("expected defaults for user and port, got %s:%d", cfg.User, cfg.Port)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad log level", "log_level: loud\n", "log_level: must be one of trace, debug, info, warn, error, fatal, got loud"},
		{"bad target", "target: ftp://node1\n", "expected local or ssh://"},
		{"otlp without endpoint", "tracing:\n  exporter: otlp\n", "tracing.endpoint: is required"},
		{"bad exporter", "tracing:\n  exporter: jaeger\n", "tracing.exporter"},
		{"not yaml", "log_level: [\n", "read settings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := isolate(t)
			cfgPath := filepath.Join(home, "ralsh.yaml")
			writeManifest(t, cfgPath, tt.content)

			_, err := Load(viper.New(), cfgPath)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}

	isolate(t)
	if _, err := Load(viper.New(), "/nonexistent/ralsh.yaml"); err == nil {
		t.Error("expected error for missing settings file")
	}
}

func TestFlagOverride(t *testing.T) {
	isolate(t)
	v := viper.New()
	v.Set("target", "ssh://root@10.1.2.3")

	s, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg, err := s.SSHConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "10.1.2.3" || cfg.User != "root" {
		t.Errorf("unexpected ssh config %+v", cfg)
	}
}
