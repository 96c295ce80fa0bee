package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/openfroyo/ral/pkg/telemetry"
)

// Client is a single SSH connection to the target host, optionally through
// a jump host.
type Client struct {
	config *Config
	log    *telemetry.Logger

	mu     sync.Mutex
	client *ssh.Client
	proxy  *ssh.Client
	agent  net.Conn
	stop   chan struct{}
}

// Dial validates config and connects to the host it names.
func Dial(ctx context.Context, config *Config, log *telemetry.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = telemetry.Nop()
	}
	c := &Client{config: config, log: log.NewComponentLogger("ssh").WithField("host", config.Address())}
	if err := c.connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	var signers func() ([]ssh.Signer, error)
	if c.config.AuthMethod == AuthMethodAgent {
		conn, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
		if err != nil {
			return &TransportError{Op: "connect", Err: fmt.Errorf("failed to reach ssh agent: %w", err), IsAuthError: true}
		}
		c.agent = conn
		signers = agent.NewClient(conn).Signers
	}

	targetConfig, err := c.config.clientConfig(c.config.User, signers)
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	var conn net.Conn
	if c.config.IsProxyEnabled() {
		proxyConfig, err := c.config.clientConfig(c.config.ProxyUser, signers)
		if err != nil {
			return &TransportError{Op: "connect-proxy", Err: err, IsAuthError: true}
		}
		c.log.Debugf("connecting through proxy %s", c.config.ProxyAddress())
		if c.proxy, err = dial(ctx, c.config.ProxyAddress(), proxyConfig, nil); err != nil {
			return &TransportError{Op: "connect-proxy", Err: err, IsTemporary: true}
		}
		if conn, err = c.proxy.DialContext(ctx, "tcp", address); err != nil {
			return &TransportError{Op: "connect-via-proxy", Err: err, IsTemporary: true}
		}
	}

	c.client, err = dial(ctx, address, targetConfig, conn)
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}
	c.log.Info("SSH connection established")

	if c.config.KeepAliveInterval > 0 {
		c.stop = make(chan struct{})
		go c.keepAlive(c.client, c.stop)
	}
	return nil
}

// dial opens an SSH connection to address, over conn when it is not nil.
func dial(ctx context.Context, address string, config *ssh.ClientConfig, conn net.Conn) (*ssh.Client, error) {
	if conn == nil {
		d := net.Dialer{Timeout: config.Timeout}
		var err error
		if conn, err = d.DialContext(ctx, "tcp", address); err != nil {
			return nil, err
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(ncc, chans, reqs), nil
}

func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			c.log.WithError(err).Warnf("keep-alive failed (%d)", retries)
			if retries >= c.config.MaxKeepAliveRetries {
				c.log.Error("keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
	}
}

// Exec runs cmd through the remote user's shell with stdin as its input.
// The command's exit status is returned, not treated as an error.
func (c *Client) Exec(ctx context.Context, cmd string, stdin []byte) (stdout, stderr []byte, code int, err error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, nil, 0, &TransportError{Op: "exec", Err: errors.New("not connected")}
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, nil, 0, &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdin = bytes.NewReader(stdin)
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	c.log.Debugf("exec %s", cmd)
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, nil, 0, &TransportError{Op: "exec", Err: ctx.Err()}
	case runErr = <-done:
	}

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		code = exitErr.ExitStatus()
	default:
		return nil, nil, 0, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
	}
	return outBuf.Bytes(), errBuf.Bytes(), code, nil
}

// SSH returns the underlying connection.
func (c *Client) SSH() *ssh.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	var errs []error
	if c.client != nil {
		errs = append(errs, c.client.Close())
		c.client = nil
	}
	if c.proxy != nil {
		errs = append(errs, c.proxy.Close())
		c.proxy = nil
	}
	if c.agent != nil {
		errs = append(errs, c.agent.Close())
		c.agent = nil
	}
	if err := errors.Join(errs...); err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}
