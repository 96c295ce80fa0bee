package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/ral/pkg/protocol"
	"github.com/openfroyo/ral/pkg/provider"
	"github.com/openfroyo/ral/pkg/ral"
)

// Provider is one provider executable as seen from the host.
type Provider struct {
	// Name is the resource type the provider manages.
	Name string
	// Path is the location of the executable on the host.
	Path string

	runner *Runner
	staged string
	meta   *provider.Metadata
}

// Provider returns a handle for the provider name at path.
func (r *Runner) Provider(name, path string) *Provider {
	return &Provider{Name: name, Path: path, runner: r}
}

func (p *Provider) run(ctx context.Context, action protocol.Action, input any) ([]byte, error) {
	if p.staged == "" {
		staged, err := p.runner.target.Stage(ctx, p.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to stage provider %s: %w", p.Name, err)
		}
		p.staged = staged
	}
	if action != protocol.ActionDescribe {
		meta, err := p.Describe(ctx)
		if err != nil {
			return nil, err
		}
		if !meta.Supports(string(action)) {
			return nil, fmt.Errorf("provider %s does not support %s", p.Name, action)
		}
	}
	return p.runner.Run(ctx, p.Name, p.staged, action, input)
}

// Describe runs the describe action once and returns the parsed metadata.
func (p *Provider) Describe(ctx context.Context) (*provider.Metadata, error) {
	if p.meta != nil {
		return p.meta, nil
	}
	out, err := p.run(ctx, protocol.ActionDescribe, nil)
	if err != nil {
		return nil, err
	}
	meta, err := provider.ParseMetadata(out)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.Name, err)
	}
	p.meta = meta
	return meta, nil
}

// Suitable reports whether the provider can manage resources on the target.
// Providers that list commands are suitable when all of them are found.
func (p *Provider) Suitable(ctx context.Context) (bool, error) {
	meta, err := p.Describe(ctx)
	if err != nil {
		return false, err
	}
	s := meta.Provider.Suitable
	if len(s.Commands) == 0 {
		return s.Value, nil
	}
	for _, cmd := range s.Commands {
		res, err := p.runner.target.Run(ctx, "/bin/sh", []string{"-c", "command -v " + shellQuote(cmd)}, nil)
		if err != nil {
			return false, err
		}
		if res.ExitCode != 0 {
			p.runner.log.WithProvider(p.Name).Debugf("command %s not found", cmd)
			return false, nil
		}
	}
	return true, nil
}

// Get fetches the resources with the given names.
func (p *Provider) Get(ctx context.Context, names []string) ([]ral.Resource, error) {
	out, err := p.run(ctx, protocol.ActionGet, &protocol.GetRequest{Names: names})
	if err != nil {
		return nil, err
	}
	return p.resources(out)
}

// List fetches every resource the provider manages.
func (p *Provider) List(ctx context.Context) ([]ral.Resource, error) {
	out, err := p.run(ctx, protocol.ActionList, struct{}{})
	if err != nil {
		return nil, err
	}
	res, err := p.resources(out)
	if err != nil {
		return nil, err
	}
	p.runner.tel.Metrics.SetResourceCount(p.Name, len(res))
	return res, nil
}

func (p *Provider) resources(out []byte) ([]ral.Resource, error) {
	var resp struct {
		Resources *[]ral.Resource `json:"resources"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.Name, err)
	}
	if resp.Resources == nil {
		return nil, fmt.Errorf("provider %s did not produce a 'resources' entry", p.Name)
	}
	return *resp.Resources, nil
}

// Find fetches one resource. The boolean is false when the provider does
// not know the resource.
func (p *Provider) Find(ctx context.Context, name string) (ral.Resource, bool, error) {
	req := &protocol.FindRequest{Resource: protocol.ResourceRef{Name: name}}
	out, err := p.run(ctx, protocol.ActionFind, req)
	var rerr *ResponseError
	if errors.As(err, &rerr) && rerr.NotFound() {
		return ral.Resource{}, false, nil
	}
	if err != nil {
		return ral.Resource{}, false, err
	}

	var resp protocol.FindResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return ral.Resource{}, false, fmt.Errorf("provider %s: find of '%s': %w", p.Name, name, err)
	}
	if resp.Resource.Name != name {
		return ral.Resource{}, false, fmt.Errorf("provider %s: find of name '%s' returned resource named '%s'",
			p.Name, name, resp.Resource.Name)
	}
	return resp.Resource, true, nil
}

// Set enforces the updates and records the reported changes in them.
// When the provider asks for derived changes, updates it reported nothing
// for get changes computed from is and should.
func (p *Provider) Set(ctx context.Context, updates []*ral.Update, noop bool) error {
	req := &protocol.SetRequest{Ral: protocol.RalOptions{Noop: noop}}
	byName := make(map[string]*ral.Update, len(updates))
	for _, upd := range updates {
		req.Updates = append(req.Updates, protocol.NewSetUpdate(upd))
		byName[upd.Name()] = upd
	}

	out, err := p.run(ctx, protocol.ActionSet, req)
	if err != nil {
		return err
	}
	var resp protocol.SetResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return fmt.Errorf("provider %s: malformed set response: %w", p.Name, err)
	}

	reported := make(map[string]bool, len(resp.Changes))
	for _, entry := range resp.Changes {
		upd, ok := byName[entry.Name]
		if !ok {
			p.runner.log.WithProvider(p.Name).Warnf("set reported changes for unknown resource %s", entry.Name)
			continue
		}
		reported[entry.Name] = true
		attrs := make([]string, 0, len(entry.Changes))
		for attr := range entry.Changes {
			attrs = append(attrs, attr)
		}
		sort.Strings(attrs)
		for _, attr := range attrs {
			c := entry.Changes[attr]
			p.record(upd, ral.Change{Attr: attr, Is: c.Is, Was: c.Was})
		}
	}

	if resp.Derive {
		for _, upd := range updates {
			if reported[upd.Name()] {
				continue
			}
			for _, attr := range upd.Should.Attrs.Keys() {
				if upd.Changed(attr) {
					p.record(upd, ral.Change{Attr: attr, Is: upd.Should.Attrs[attr], Was: upd.Is.Attrs[attr]})
				}
			}
		}
	}
	return nil
}

func (p *Provider) record(upd *ral.Update, c ral.Change) {
	upd.Record(c)
	p.runner.tel.Metrics.RecordChange(p.Name, c.Attr)
}

// Update enforces the desired attributes of a single resource and returns
// the changes the provider made.
func (p *Provider) Update(ctx context.Context, name string, should ral.Attrs) ([]ral.Change, error) {
	req := &protocol.UpdateRequest{Resource: ral.NewResource(name, should).Without(ral.NameAttr)}
	out, err := p.run(ctx, protocol.ActionUpdate, req)
	if err != nil {
		var rerr *ResponseError
		if errors.As(err, &rerr) {
			return nil, fmt.Errorf("update failed: %s", rerr.Message)
		}
		return nil, err
	}

	var resp protocol.UpdateResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("provider %s: malformed update response: %w", p.Name, err)
	}
	attrs := make([]string, 0, len(resp.Changes))
	for attr := range resp.Changes {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	changes := make([]ral.Change, 0, len(attrs))
	for _, attr := range attrs {
		c := resp.Changes[attr]
		changes = append(changes, ral.Change{Attr: attr, Is: c.Is, Was: c.Was})
		p.runner.tel.Metrics.RecordChange(p.Name, attr)
	}
	return changes, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
