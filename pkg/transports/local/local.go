// Package local runs providers as child processes on the machine the host
// program runs on.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/openfroyo/ral/pkg/providers/host"
	"github.com/openfroyo/ral/pkg/telemetry"
)

// Target executes programs locally.
type Target struct {
	log *telemetry.Logger
	env []string
}

var _ host.Target = (*Target)(nil)

// Option configures a Target.
type Option func(*Target)

// WithLogger sets the logger commands are logged to.
func WithLogger(log *telemetry.Logger) Option {
	return func(t *Target) {
		t.log = log
	}
}

// WithEnv adds environment variables of the form KEY=VALUE to every
// program run.
func WithEnv(env ...string) Option {
	return func(t *Target) {
		t.env = append(t.env, env...)
	}
}

// New creates a local target.
func New(opts ...Option) *Target {
	t := &Target{log: telemetry.Nop()}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.NewComponentLogger("local")
	return t
}

// Stage checks that localPath is an executable file and returns it
// unchanged.
func (t *Target) Stage(_ context.Context, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", localPath, err)
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return "", fmt.Errorf("failed to stage %s: not an executable file", localPath)
	}
	return localPath, nil
}

// Run executes program and waits for it to exit.
func (t *Target) Run(ctx context.Context, program string, args []string, stdin []byte) (*host.Result, error) {
	t.log.WithField("program", program).Debugf("running %v", args)

	cmd := exec.CommandContext(ctx, program, args...)
	if len(t.env) > 0 {
		cmd.Env = append(os.Environ(), t.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &host.Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		res.ExitCode = exitErr.ExitCode()
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%s: %w", program, ctx.Err())
	default:
		return nil, fmt.Errorf("failed to run %s: %w", program, err)
	}
	return res, nil
}

// Close does nothing; staging leaves no files behind.
func (t *Target) Close() error {
	return nil
}
