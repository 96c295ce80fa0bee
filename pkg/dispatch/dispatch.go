// Package dispatch turns a provider's capabilities into a provider
// executable: it reads the action from the command line, decodes the request
// from stdin, invokes the capability and writes the response to stdout.
//
// A provider's main function is usually just
//
//	func main() {
//		os.Exit(dispatch.New("host", caps, opts...).Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
//	}
package dispatch

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openfroyo/ral/pkg/protocol"
	"github.com/openfroyo/ral/pkg/provider"
	"github.com/openfroyo/ral/pkg/ral"
	"github.com/openfroyo/ral/pkg/telemetry"
)

// Capabilities is the set of actions a provider implements. A nil function
// means the action is not supported.
type Capabilities struct {
	// Describe writes the provider's metadata to w. No request is read.
	Describe func(ctx *provider.Context, w io.Writer) error
	// Get returns the resources with the given names. Names the provider
	// does not know should come back as ensure=absent resources.
	Get func(ctx *provider.Context, names []string) ([]ral.Resource, error)
	// Set enforces the updates. Changes are recorded through ctx.
	Set func(ctx *provider.Context, updates []*ral.Update, noop bool) error
	// List returns every resource the provider manages.
	List func(ctx *provider.Context) ([]ral.Resource, error)
	// Find returns one resource, or provider.NotFound if there is none.
	Find func(ctx *provider.Context, name string) (ral.Resource, error)
	// Update enforces a single desired state.
	Update func(ctx *provider.Context, upd *ral.Update) error
}

// Supports reports whether the capability for action is present.
func (c *Capabilities) Supports(action protocol.Action) bool {
	switch action {
	case protocol.ActionDescribe:
		return c.Describe != nil
	case protocol.ActionGet:
		return c.Get != nil
	case protocol.ActionSet:
		return c.Set != nil
	case protocol.ActionList:
		return c.List != nil
	case protocol.ActionFind:
		return c.Find != nil
	case protocol.ActionUpdate:
		return c.Update != nil
	default:
		return false
	}
}

// Actions returns the supported actions.
func (c *Capabilities) Actions() []protocol.Action {
	var out []protocol.Action
	for _, a := range protocol.Actions {
		if c.Supports(a) {
			out = append(out, a)
		}
	}
	return out
}

// Dispatcher services one action per process for a provider.
type Dispatcher struct {
	name string
	caps Capabilities
	opts []provider.Option
}

// New creates a dispatcher for the provider name. opts are applied to the
// Context created for the action.
func New(name string, caps Capabilities, opts ...provider.Option) *Dispatcher {
	return &Dispatcher{name: name, caps: caps, opts: opts}
}

// Capabilities returns the provider's capability set.
func (d *Dispatcher) Capabilities() *Capabilities {
	return &d.caps
}

// Run services the action named in args and returns the process exit
// status. Errors raised by the provider are written to stdout as error
// responses; the exit status is 1 only for a missing ral_action argument or
// a failure to write the response.
func (d *Dispatcher) Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	action, ok := protocol.ActionFromArgs(args)
	if !ok {
		d.usage(stderr)
		return 1
	}

	opts := append([]provider.Option{provider.WithLogger(telemetry.NewDiagnosticLogger(stderr))}, d.opts...)
	ctx := provider.NewContext(opts...)
	enc := protocol.NewEncoder(stdout)

	resp, err := d.dispatch(ctx, action, stdin, stdout)
	switch {
	case err != nil:
		message, kind := errorBody(err)
		err = enc.EncodeError(message, kind)
	case resp != nil:
		err = enc.Encode(resp)
	}
	if err != nil {
		ctx.Logger().WithAction(string(action)).WithError(err).Error("failed to write response")
		return 1
	}
	return 0
}

func (d *Dispatcher) usage(w io.Writer) {
	actions := make([]string, 0, len(protocol.Actions))
	for _, a := range d.caps.Actions() {
		actions = append(actions, string(a))
	}
	fmt.Fprintf(w, "usage: %s %s<action>\n", d.name, protocol.ActionArg)
	fmt.Fprintf(w, "  actions: %s\n", strings.Join(actions, ", "))
}

func (d *Dispatcher) dispatch(ctx *provider.Context, action protocol.Action, stdin io.Reader, stdout io.Writer) (any, error) {
	if !d.caps.Supports(action) {
		return nil, &provider.ProviderError{Message: "Unknown action " + string(action)}
	}
	dec := protocol.NewDecoder(stdin)

	switch action {
	case protocol.ActionDescribe:
		return nil, d.caps.Describe(ctx, stdout)

	case protocol.ActionGet:
		var req protocol.GetRequest
		if err := dec.Decode(&req); err != nil {
			return nil, err
		}
		res, err := d.caps.Get(ctx, req.Names)
		if err != nil {
			return nil, err
		}
		return resources(res), nil

	case protocol.ActionSet:
		var req protocol.SetRequest
		if err := dec.Decode(&req); err != nil {
			return nil, err
		}
		updates := make([]*ral.Update, 0, len(req.Updates))
		for _, u := range req.Updates {
			if err := u.Validate(); err != nil {
				return nil, err
			}
			updates = append(updates, u.Update())
		}
		if err := d.caps.Set(ctx, updates, req.Ral.Noop); err != nil {
			return nil, err
		}
		return ctx.Result(), nil

	case protocol.ActionList:
		res, err := d.caps.List(ctx)
		if err != nil {
			return nil, err
		}
		return resources(res), nil

	case protocol.ActionFind:
		var req protocol.FindRequest
		if err := dec.Decode(&req); err != nil {
			return nil, err
		}
		if req.Resource.Name == "" {
			return nil, provider.Errorf("find request is missing a resource name")
		}
		res, err := d.caps.Find(ctx, req.Resource.Name)
		if err != nil {
			return nil, err
		}
		return &protocol.FindResponse{Resource: res}, nil

	case protocol.ActionUpdate:
		var req protocol.UpdateRequest
		if err := dec.Decode(&req); err != nil {
			return nil, err
		}
		return d.update(ctx, req.Resource)
	}
	return nil, &provider.ProviderError{Message: "Unknown action " + string(action)}
}

// update looks up the current state with Find, runs the Update capability
// and reports every desired attribute that differed from the current state.
func (d *Dispatcher) update(ctx *provider.Context, should ral.Resource) (any, error) {
	is := ral.NewResource(should.Name, nil)
	if d.caps.Find != nil {
		found, err := d.caps.Find(ctx, should.Name)
		var perr *provider.ProviderError
		switch {
		case err == nil:
			is = found
		case errors.As(err, &perr) && perr.Kind == provider.KindUnknown:
		default:
			return nil, err
		}
	}

	upd := ral.NewUpdate(is, should)
	if err := d.caps.Update(ctx, upd); err != nil {
		return nil, err
	}

	changes := make(map[string]protocol.ChangeValue)
	for _, attr := range should.Attrs.Keys() {
		if upd.Changed(attr) {
			changes[attr] = protocol.ChangeValue{Is: should.Attrs[attr], Was: is.Attrs[attr]}
		}
	}
	return &protocol.UpdateResponse{Changes: changes}, nil
}

func resources(res []ral.Resource) *protocol.ResourcesResponse {
	if res == nil {
		res = []ral.Resource{}
	}
	return &protocol.ResourcesResponse{Resources: res}
}

// errorBody returns the message and kind reported for err.
func errorBody(err error) (message, kind string) {
	var perr *provider.ProviderError
	if errors.As(err, &perr) {
		return perr.Message, perr.Kind
	}
	return err.Error(), ""
}
