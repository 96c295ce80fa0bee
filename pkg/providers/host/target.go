// Package host runs provider executables on behalf of a host program. It
// speaks the JSON protocol of pkg/protocol to providers, checks their output
// the same way for every action, and converts responses into pkg/ral values.
package host

import (
	"context"
)

// Target is a system provider programs can run on.
type Target interface {
	// Stage makes the executable at localPath runnable on the target and
	// returns the path to run it by.
	Stage(ctx context.Context, localPath string) (string, error)

	// Run executes program with args, feeding it stdin. A non-zero exit
	// status is reported through Result.ExitCode, not as an error.
	Run(ctx context.Context, program string, args []string, stdin []byte) (*Result, error)

	// Close removes whatever Stage left on the target.
	Close() error
}

// Result is the outcome of running a program.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}
