// Package provider contains what provider logic needs while servicing one
// action: the execution Context with its logging, document sessions and
// change recording, the errors a provider reports, and the metadata it
// describes itself with.
package provider

import (
	"os"

	"github.com/google/uuid"

	"github.com/openfroyo/ral/pkg/ral"
	"github.com/openfroyo/ral/pkg/telemetry"
	"github.com/openfroyo/ral/pkg/tree"
)

// ChangeSet holds the changes made to one resource. The key "name" holds
// the resource name; every other key maps an attribute to its ral.Change.
type ChangeSet map[string]any

// Result is what a set action reports back to the host.
type Result struct {
	// Derive asks the host to compute changes for every resource without an
	// entry in Changes by comparing is and should.
	Derive  bool        `json:"derive"`
	Changes []ChangeSet `json:"changes"`
}

// Context is created fresh for each action and discarded afterwards. It is
// not safe for concurrent use.
type Context struct {
	id     string
	log    *telemetry.Logger
	open   tree.Opener
	derive bool

	order   []string
	changes map[string]ChangeSet
}

// Option configures a Context.
type Option func(*Context)

// WithLogger replaces the diagnostic logger, which by default writes to
// stderr.
func WithLogger(l *telemetry.Logger) Option {
	return func(c *Context) {
		c.log = l
	}
}

// WithOpener sets the function WithDocument opens engines with.
func WithOpener(open tree.Opener) Option {
	return func(c *Context) {
		c.open = open
	}
}

// NewContext creates a context for one action.
func NewContext(opts ...Option) *Context {
	c := &Context{
		id:      uuid.NewString(),
		changes: make(map[string]ChangeSet),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = telemetry.NewDiagnosticLogger(os.Stderr)
	}
	c.log = c.log.WithInvocation(c.id)
	return c
}

// ID returns the invocation id of the context.
func (c *Context) ID() string {
	return c.id
}

// Logger returns the diagnostic logger.
func (c *Context) Logger() *telemetry.Logger {
	return c.log
}

// Log writes msg to the host's diagnostic channel.
func (c *Context) Log(msg string) {
	c.log.Info(msg)
}

// Logf is Log with formatting.
func (c *Context) Logf(format string, args ...any) {
	c.log.Infof(format, args...)
}

// Error returns a ProviderError carrying msg. Returning it from a
// capability aborts the action.
func (c *Context) Error(msg string) error {
	return &ProviderError{Message: msg}
}

// DeriveChanges tells the host to compute changes by comparing is and
// should for every resource the provider did not record changes for.
func (c *Context) DeriveChanges() {
	c.derive = true
}

// Change records a change for every attribute in upd.Should whose value
// differs from upd.Is.
func (c *Context) Change(upd *ral.Update) {
	for _, attr := range upd.Should.Attrs.Keys() {
		c.record(upd, attr, upd.Should.Attrs[attr])
	}
}

// ChangeAttr records a change of attr to its desired value if it differs
// from the current one.
func (c *Context) ChangeAttr(upd *ral.Update, attr string) {
	c.record(upd, attr, upd.Should.Attrs[attr])
}

// ChangeTo records that attr was set to value, if value differs from the
// current one.
func (c *Context) ChangeTo(upd *ral.Update, attr string, value any) {
	c.record(upd, attr, value)
}

func (c *Context) record(upd *ral.Update, attr string, value any) {
	was := upd.Is.Attrs[attr]
	if ral.ValuesEqual(value, was) {
		return
	}
	name := upd.Name()
	cs, ok := c.changes[name]
	if !ok {
		cs = ChangeSet{}
		c.changes[name] = cs
		c.order = append(c.order, name)
	}
	cs[ral.NameAttr] = name
	change := ral.Change{Attr: attr, Is: value, Was: was}
	cs[attr] = change
	upd.Record(change)
}

// Changes returns the changes recorded for the resource name, or nil.
func (c *Context) Changes(name string) ChangeSet {
	return c.changes[name]
}

// Result returns the derive flag and the recorded changes, one entry per
// resource in the order resources were first changed.
func (c *Context) Result() Result {
	res := Result{Derive: c.derive, Changes: make([]ChangeSet, 0, len(c.order))}
	for _, name := range c.order {
		res.Changes = append(res.Changes, c.changes[name])
	}
	return res
}

// AddAbsent appends an ensure=absent resource for every name in names that
// is not in resources.
func AddAbsent(resources []ral.Resource, names []string) []ral.Resource {
	have := make(map[string]bool, len(resources))
	for _, r := range resources {
		have[r.Name] = true
	}
	for _, name := range names {
		if have[name] {
			continue
		}
		have[name] = true
		resources = append(resources, ral.NewResource(name, ral.Attrs{"ensure": "absent"}))
	}
	return resources
}
