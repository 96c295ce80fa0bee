package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/openfroyo/ral/pkg/protocol"
	"github.com/openfroyo/ral/pkg/provider"
	"github.com/openfroyo/ral/pkg/telemetry"
)

// ActionError reports a provider run that did not produce a usable
// response: a non-zero exit status or output that is not JSON.
type ActionError struct {
	Provider string
	Action   protocol.Action
	ExitCode int
	Stdout   string
	Stderr   string
	// Invalid is set when the provider exited successfully but its output
	// could not be parsed.
	Invalid bool
}

func (e *ActionError) Error() string {
	if e.Invalid {
		return fmt.Sprintf("action '%s' returned invalid JSON '%s'", e.Action, e.Stdout)
	}
	msg := fmt.Sprintf("action '%s' exited with status %d", e.Action, e.ExitCode)
	if e.Stdout != "" {
		msg += fmt.Sprintf(". Output was '%s'", e.Stdout)
	}
	if e.Stderr != "" {
		msg += fmt.Sprintf(". stderr was '%s'", e.Stderr)
	}
	return msg
}

// ResponseError is an error response sent by a provider.
type ResponseError struct {
	Provider string
	Action   protocol.Action
	Message  string
	Kind     string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Action, e.Message)
}

// NotFound reports whether the provider answered that the resource does not
// exist.
func (e *ResponseError) NotFound() bool {
	return e.Kind == provider.KindUnknown
}

// Runner executes provider actions on a target.
type Runner struct {
	target     Target
	targetName string
	tel        *telemetry.Telemetry
	log        *telemetry.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTelemetry makes the runner log, trace and count through tel.
func WithTelemetry(tel *telemetry.Telemetry) RunnerOption {
	return func(r *Runner) {
		r.tel = tel
	}
}

// WithTargetName names the target in logs and spans, e.g. local or
// ssh://admin@node1.
func WithTargetName(name string) RunnerOption {
	return func(r *Runner) {
		r.targetName = name
	}
}

// NewRunner creates a runner executing providers on target.
func NewRunner(target Target, opts ...RunnerOption) *Runner {
	r := &Runner{target: target}
	for _, opt := range opts {
		opt(r)
	}
	if r.tel == nil {
		r.tel = telemetry.Disabled(telemetry.Nop())
	}
	r.log = r.tel.Logger.NewComponentLogger("runner")
	if r.targetName != "" {
		r.log = r.log.WithField("target", r.targetName)
	}
	return r
}

// Target returns the target providers run on.
func (r *Runner) Target() Target {
	return r.target
}

// Run executes action of the provider at path with input as request. The
// raw response is returned; an error response is turned into a
// *ResponseError.
func (r *Runner) Run(ctx context.Context, name, path string, action protocol.Action, input any) ([]byte, error) {
	ctx, span := r.tel.Tracer.StartActionSpan(ctx, name, string(action))
	defer span.End()
	timer := telemetry.NewTimer()
	log := r.log.WithProvider(name).WithAction(string(action))
	if r.targetName != "" {
		span.SetAttributes(telemetry.AttrTarget.String(r.targetName))
	}

	var stdin []byte
	if input != nil {
		var err error
		if stdin, err = json.Marshal(input); err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", action, err)
		}
		if res := gjson.GetBytes(stdin, "resource.name"); res.Exists() {
			span.SetAttributes(telemetry.AttrResourceName.String(res.String()))
		}
	}

	out, err := r.run(ctx, log, name, path, action, stdin)
	r.tel.Metrics.RecordAction(name, string(action), timer.Duration())
	if err != nil {
		kind := provider.KindFailed
		var rerr *ResponseError
		if errors.As(err, &rerr) && rerr.Kind != "" {
			kind = rerr.Kind
		}
		span.SetAttributes(telemetry.AttrErrorKind.String(kind))
		r.tel.Metrics.RecordActionError(name, string(action), kind)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if n := gjson.GetBytes(out, "resources.#"); action != protocol.ActionDescribe && n.Exists() {
		span.SetAttributes(telemetry.AttrResourceCount.Int64(n.Int()))
	}
	telemetry.RecordSuccess(span)
	return out, nil
}

func (r *Runner) run(ctx context.Context, log *telemetry.Logger, name, path string, action protocol.Action, stdin []byte) ([]byte, error) {
	res, err := r.target.Run(ctx, path, []string{action.Arg()}, stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", name, err)
	}

	stdout := bytes.TrimSpace(res.Stdout)
	stderr := bytes.TrimSpace(res.Stderr)
	relay(log, stderr)

	if res.ExitCode != 0 {
		return nil, &ActionError{
			Provider: name,
			Action:   action,
			ExitCode: res.ExitCode,
			Stdout:   string(stdout),
			Stderr:   string(stderr),
		}
	}
	if action == protocol.ActionDescribe {
		return stdout, nil
	}
	if !gjson.ValidBytes(stdout) {
		return nil, &ActionError{Provider: name, Action: action, Stdout: string(stdout), Invalid: true}
	}
	if e := gjson.GetBytes(stdout, "error"); e.Exists() {
		return nil, &ResponseError{
			Provider: name,
			Action:   action,
			Message:  e.Get("message").String(),
			Kind:     e.Get("kind").String(),
		}
	}
	return stdout, nil
}

// relay logs every line a provider wrote to stderr.
func relay(log *telemetry.Logger, stderr []byte) {
	sc := bufio.NewScanner(bytes.NewReader(stderr))
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			log.Debug(line)
		}
	}
}
