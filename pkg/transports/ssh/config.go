package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"

	// AuthMethodAgent uses the agent listening on SSH_AUTH_SOCK
	AuthMethodAgent AuthMethod = "agent"
)

// Config holds SSH connection configuration. The mapstructure tags match the
// keys of the ssh section of the ralsh settings file.
type Config struct {
	Host string `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	User string `mapstructure:"user" validate:"required"`

	AuthMethod AuthMethod `mapstructure:"auth" validate:"oneof=password key agent"`

	// Password for password authentication.
	Password string `mapstructure:"password" validate:"required_if=AuthMethod password"`

	// PrivateKeyPath defaults to the first of ~/.ssh/id_ed25519, id_rsa and
	// id_ecdsa that exists.
	PrivateKeyPath       string `mapstructure:"private_key"`
	PrivateKeyPassphrase string `mapstructure:"passphrase"`

	// KnownHostsPath is consulted when StrictHostKeyChecking is set.
	KnownHostsPath        string `mapstructure:"known_hosts"`
	StrictHostKeyChecking bool   `mapstructure:"strict_host_key_checking"`

	ConnectionTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`

	// KeepAliveInterval of zero disables keep-alive requests.
	KeepAliveInterval   time.Duration `mapstructure:"keepalive" validate:"gte=0"`
	MaxKeepAliveRetries int           `mapstructure:"keepalive_retries" validate:"gte=0"`

	// Sudo runs providers through sudo -n on the remote host.
	Sudo bool `mapstructure:"sudo"`

	// WorkDir is the parent of the directory providers are staged into.
	WorkDir string `mapstructure:"workdir" validate:"required"`

	// ProxyHost is a jump host the connection is tunneled through. It is
	// authenticated with the same method and credentials as the target.
	ProxyHost string `mapstructure:"proxy_host" validate:"omitempty,hostname_rfc1123|ip"`
	ProxyPort int    `mapstructure:"proxy_port" validate:"omitempty,min=1,max=65535"`
	ProxyUser string `mapstructure:"proxy_user" validate:"required_with=ProxyHost"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		MaxKeepAliveRetries:   3,
		WorkDir:               "/tmp",
		ProxyPort:             22,
	}
}

// Validate checks if the configuration is valid. For key authentication
// without a key path, the default key locations are searched and the first
// one found is stored in the config.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fieldError(verrs[0])
		}
		return err
	}

	if c.AuthMethod == AuthMethodKey {
		if c.PrivateKeyPath == "" {
			c.PrivateKeyPath = defaultKey(os.Getenv("HOME"))
		}
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("private_key is required for key authentication and no default key found")
		}
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	}
	if c.AuthMethod == AuthMethodAgent && os.Getenv("SSH_AUTH_SOCK") == "" {
		return fmt.Errorf("agent authentication requires SSH_AUTH_SOCK")
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return fmt.Errorf("%s is required", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of %s, got %v", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Errorf("invalid %s: %v", fe.Field(), fe.Value())
	}
}

func defaultKey(home string) string {
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// authMethods builds the client auth methods. Signers from an agent are
// fetched through signers, which is nil unless AuthMethod is agent.
func (c *Config) authMethods(signers func() ([]ssh.Signer, error)) ([]ssh.AuthMethod, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Many servers only offer keyboard-interactive for passwords.
		return []ssh.AuthMethod{
			ssh.Password(c.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		}, nil

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	case AuthMethodAgent:
		if signers == nil {
			return nil, fmt.Errorf("no ssh agent connection")
		}
		return []ssh.AuthMethod{ssh.PublicKeysCallback(signers)}, nil
	}
	return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
}

// clientConfig creates the ssh.ClientConfig for user.
func (c *Config) clientConfig(user string, signers func() ([]ssh.Signer, error)) (*ssh.ClientConfig, error) {
	auth, err := c.authMethods(signers)
	if err != nil {
		return nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking {
		if c.KnownHostsPath == "" {
			return nil, fmt.Errorf("strict host key checking requires known_hosts")
		}
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ProxyAddress returns the formatted proxy address (host:port).
func (c *Config) ProxyAddress() string {
	if c.ProxyHost == "" {
		return ""
	}
	return net.JoinHostPort(c.ProxyHost, strconv.Itoa(c.ProxyPort))
}

// IsProxyEnabled returns true if a proxy/jump host is configured.
func (c *Config) IsProxyEnabled() bool {
	return c.ProxyHost != ""
}
