package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/sftp"

	"github.com/openfroyo/ral/pkg/providers/host"
)

// Target runs providers on the host a Client is connected to.
type Target struct {
	client *Client
	config *Config

	mu      sync.Mutex
	workDir string
	staged  map[string]string
}

var _ host.Target = (*Target)(nil)

// NewTarget wraps an established connection. Closing the target closes
// client.
func NewTarget(client *Client) *Target {
	return &Target{client: client, config: client.config, staged: make(map[string]string)}
}

// Open connects to the host described by config and returns a target for it.
func Open(ctx context.Context, config *Config) (*Target, error) {
	client, err := Dial(ctx, config, nil)
	if err != nil {
		return nil, err
	}
	return NewTarget(client), nil
}

// Stage copies the executable at localPath into the target's private
// directory, creating it on first use. Staging the same file twice copies
// it once.
func (t *Target) Stage(ctx context.Context, localPath string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if remote, ok := t.staged[localPath]; ok {
		return remote, nil
	}
	if t.workDir == "" {
		dir, err := t.mkdtemp(ctx)
		if err != nil {
			return "", err
		}
		t.workDir = dir
	}

	remote := path.Join(t.workDir, filepath.Base(localPath))
	if err := t.upload(localPath, remote); err != nil {
		return "", &TransportError{Op: "upload", Err: err}
	}
	t.client.log.Debugf("staged %s as %s", localPath, remote)
	t.staged[localPath] = remote
	return remote, nil
}

func (t *Target) mkdtemp(ctx context.Context) (string, error) {
	cmd := "mktemp -d " + shellQuote(path.Join(t.config.WorkDir, "ral.XXXXXXXX"))
	stdout, stderr, code, err := t.client.Exec(ctx, cmd, nil)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", &TransportError{
			Op:  "mktemp",
			Err: fmt.Errorf("exited with status %d: %s", code, strings.TrimSpace(string(stderr))),
		}
	}
	return strings.TrimSpace(string(stdout)), nil
}

func (t *Target) upload(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	client, err := sftp.NewClient(t.client.SSH())
	if err != nil {
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	defer client.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close remote file: %w", err)
	}
	if err := client.Chmod(remotePath, 0o700); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	return nil
}

// Run executes program on the remote host.
func (t *Target) Run(ctx context.Context, program string, args []string, stdin []byte) (*host.Result, error) {
	words := make([]string, 0, len(args)+3)
	if t.config.Sudo {
		words = append(words, "sudo", "-n")
	}
	words = append(words, shellQuote(program))
	for _, a := range args {
		words = append(words, shellQuote(a))
	}

	stdout, stderr, code, err := t.client.Exec(ctx, strings.Join(words, " "), stdin)
	if err != nil {
		return nil, err
	}
	return &host.Result{Stdout: stdout, Stderr: stderr, ExitCode: code}, nil
}

// Close removes the staged providers and closes the connection.
func (t *Target) Close() error {
	t.mu.Lock()
	dir := t.workDir
	t.workDir = ""
	t.staged = make(map[string]string)
	t.mu.Unlock()

	var rmErr error
	if dir != "" {
		_, stderr, code, err := t.client.Exec(context.Background(), "rm -rf "+shellQuote(dir), nil)
		switch {
		case err != nil:
			rmErr = err
		case code != 0:
			rmErr = &TransportError{Op: "cleanup", Err: fmt.Errorf("rm exited with status %d: %s", code, strings.TrimSpace(string(stderr)))}
		}
	}
	if err := t.client.Close(); err != nil {
		return err
	}
	return rmErr
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
