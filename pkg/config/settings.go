package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/openfroyo/ral/pkg/telemetry"
	"github.com/openfroyo/ral/pkg/transports/ssh"
)

// Settings holds the ralsh configuration.
type Settings struct {
	// Include lists directories searched for *.prov providers, in order.
	Include []string `mapstructure:"include"`

	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error fatal"`

	// Journal is the sqlite database runs are recorded in.
	Journal string `mapstructure:"journal" validate:"required"`

	// Target is "local" or ssh://[user@]host[:port].
	Target string `mapstructure:"target" validate:"required"`

	// Policies lists .rego/.json files and directories checked before
	// changes are made.
	Policies []string `mapstructure:"policies"`

	// SSH holds connection settings for ssh targets. Host, user and port
	// from the target URL take precedence.
	SSH ssh.Config `mapstructure:"ssh" validate:"-"`

	Metrics MetricsSettings `mapstructure:"metrics"`
	Tracing TracingSettings `mapstructure:"tracing"`
}

// MetricsSettings configures the node-exporter textfile ralsh writes.
type MetricsSettings struct {
	Textfile string `mapstructure:"textfile"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Exporter     string  `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
}

// SetDefaults registers the default settings with v.
func SetDefaults(v *viper.Viper) {
	home := os.Getenv("HOME")
	sshDefaults := ssh.DefaultConfig("", os.Getenv("USER"))

	v.SetDefault("include", []string{})
	v.SetDefault("log_level", "warn")
	v.SetDefault("journal", filepath.Join(home, ".local", "share", "ralsh", "journal.db"))
	v.SetDefault("target", "local")
	v.SetDefault("policies", []string{})

	v.SetDefault("ssh.user", sshDefaults.User)
	v.SetDefault("ssh.port", sshDefaults.Port)
	v.SetDefault("ssh.auth", string(sshDefaults.AuthMethod))
	v.SetDefault("ssh.known_hosts", sshDefaults.KnownHostsPath)
	v.SetDefault("ssh.strict_host_key_checking", sshDefaults.StrictHostKeyChecking)
	v.SetDefault("ssh.connect_timeout", sshDefaults.ConnectionTimeout)
	v.SetDefault("ssh.keepalive_retries", sshDefaults.MaxKeepAliveRetries)
	v.SetDefault("ssh.workdir", sshDefaults.WorkDir)
	v.SetDefault("ssh.proxy_port", sshDefaults.ProxyPort)
	for _, key := range []string{"password", "private_key", "passphrase", "proxy_host", "proxy_user"} {
		v.SetDefault("ssh."+key, "")
	}
	v.SetDefault("ssh.sudo", false)
	v.SetDefault("ssh.keepalive", sshDefaults.KeepAliveInterval)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sampling_rate", 1.0)
}

// Load reads settings into v and decodes them. Values come, in increasing
// precedence, from defaults, the settings file, RALSH_* environment
// variables and flags bound to v. The settings file is cfgPath if given,
// otherwise $HOME/.ralsh.yaml when it exists.
func Load(v *viper.Viper, cfgPath string) (*Settings, error) {
	SetDefaults(v)

	v.SetConfigType("yaml")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(os.Getenv("HOME"))
		v.SetConfigName(".ralsh")
	}

	v.SetEnvPrefix("RALSH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// RALSH_DATA_DIR names the provider directory, like libral's ralsh.
	if err := v.BindEnv("include", "RALSH_INCLUDE", "RALSH_DATA_DIR"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fe := verrs[0]
			return fmt.Errorf("invalid setting %s: %s", strings.TrimPrefix(fe.Namespace(), "Settings."), settingMessage(fe))
		}
		return err
	}
	if s.Target != "local" {
		if _, err := s.SSHConfig(); err != nil {
			return err
		}
	}
	return nil
}

func settingMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of %s, got %v", strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	default:
		return fmt.Sprintf("invalid value %v", fe.Value())
	}
}

// IsLocal reports whether providers run on this machine.
func (s *Settings) IsLocal() bool {
	return s.Target == "local"
}

// SSHConfig returns the connection settings for an ssh:// target.
func (s *Settings) SSHConfig() (*ssh.Config, error) {
	u, err := url.Parse(s.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", s.Target, err)
	}
	if u.Scheme != "ssh" || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid target %q: expected local or ssh://[user@]host[:port]", s.Target)
	}

	cfg := s.SSH
	cfg.Host = u.Hostname()
	if u.User != nil && u.User.Username() != "" {
		cfg.User = u.User.Username()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: bad port %q", s.Target, p)
		}
		cfg.Port = port
	}
	return &cfg, nil
}

// Telemetry returns the telemetry configuration for ralsh.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.LogLevel
	if s.Metrics.Textfile != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Textfile = s.Metrics.Textfile
	}
	if s.Tracing.Exporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = s.Tracing.Exporter
		cfg.Tracing.Endpoint = s.Tracing.Endpoint
		cfg.Tracing.Insecure = s.Tracing.Insecure
		cfg.Tracing.SamplingRate = s.Tracing.SamplingRate
	}
	return cfg
}
