package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/openfroyo/ral/pkg/dispatch"
	"github.com/openfroyo/ral/pkg/provider"
	"github.com/openfroyo/ral/pkg/ral"
	"github.com/openfroyo/ral/pkg/tree"
	"github.com/openfroyo/ral/pkg/tree/memtree"
)

const (
	hostsFile = "/etc/hosts"
	hostsTree = "/files" + hostsFile
	scratch   = "/scratch/entry"
)

var metadata = provider.Metadata{Provider: provider.Description{
	Type:     "host",
	Invoke:   "json",
	Actions:  []string{"describe", "get", "set", "list", "find", "update"},
	Suitable: provider.Suitable{Value: true},
	Desc:     "Manages entries in /etc/hosts.",
	Attributes: map[string]provider.Attribute{
		"name":         {Desc: "The canonical host name."},
		"ensure":       {Desc: "Whether the entry should exist.", Type: "enum[present, absent]"},
		"ip":           {Desc: "The IP address of the host.", Type: "string"},
		"host_aliases": {Desc: "Additional names for the host.", Type: "array[string]"},
		"comment":      {Desc: "A comment at the end of the entry.", Type: "string"},
		"target":       {Desc: "The file holding the entry.", Type: "string", Kind: "r"},
	},
}}

var hostsDoc = provider.DocumentConfig{Lens: memtree.HostsLens, Incl: []string{hostsFile}}

// hosts manages /etc/hosts entries keyed by their canonical name.
type hosts struct{}

func (h *hosts) capabilities() dispatch.Capabilities {
	return dispatch.Capabilities{
		Describe: h.describe,
		Get:      h.get,
		Set:      h.set,
		List:     h.list,
		Find:     h.find,
		Update:   h.update,
	}
}

func (h *hosts) describe(_ *provider.Context, w io.Writer) error {
	return metadata.Write(w)
}

func (h *hosts) get(ctx *provider.Context, names []string) ([]ral.Resource, error) {
	var res []ral.Resource
	err := ctx.WithDocument(hostsDoc, func(s *tree.Session) error {
		for _, name := range names {
			if err := checkName(name); err != nil {
				return err
			}
			r, ok, err := lookup(s, name)
			if err != nil {
				return err
			}
			if ok {
				res = append(res, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return provider.AddAbsent(res, names), nil
}

func (h *hosts) list(ctx *provider.Context) ([]ral.Resource, error) {
	var res []ral.Resource
	err := ctx.WithDocument(hostsDoc, func(s *tree.Session) error {
		paths, err := s.Match(hostsTree + "/*[label() != '#comment']")
		if err != nil {
			return err
		}
		for _, p := range paths {
			n, err := s.Tree(p)
			if err != nil {
				return err
			}
			res = append(res, toResource(n))
		}
		return nil
	})
	return res, err
}

func (h *hosts) find(ctx *provider.Context, name string) (ral.Resource, error) {
	if err := checkName(name); err != nil {
		return ral.Resource{}, err
	}
	var (
		res   ral.Resource
		found bool
	)
	err := ctx.WithDocument(hostsDoc, func(s *tree.Session) error {
		var err error
		res, found, err = lookup(s, name)
		return err
	})
	if err != nil {
		return ral.Resource{}, err
	}
	if !found {
		return ral.Resource{}, provider.NotFound(name)
	}
	return res, nil
}

func (h *hosts) set(ctx *provider.Context, updates []*ral.Update, noop bool) error {
	cfg := hostsDoc
	cfg.Save = !noop
	return ctx.WithDocument(cfg, func(s *tree.Session) error {
		for _, upd := range updates {
			if err := h.enforce(ctx, s, upd, noop); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *hosts) update(ctx *provider.Context, upd *ral.Update) error {
	return h.set(ctx, []*ral.Update{upd}, false)
}

// enforce brings one entry into its desired state and records the changes.
func (h *hosts) enforce(ctx *provider.Context, s *tree.Session, upd *ral.Update, noop bool) error {
	if err := checkName(upd.Name()); err != nil {
		return err
	}
	is := upd.Is.Lookup("ensure", "absent")
	should := "present"
	if v, ok := upd.Lookup("ensure"); ok {
		e, ok := v.(string)
		if !ok || (e != "present" && e != "absent") {
			return provider.Errorf("%s: ensure must be present or absent, not %v", upd.Name(), v)
		}
		should = e
	}

	if should == "absent" {
		if is == "absent" {
			return nil
		}
		if !noop {
			if _, err := s.Remove(entryPath(upd.Name())); err != nil {
				return err
			}
		}
		ctx.ChangeTo(upd, "ensure", "absent")
		return nil
	}

	ip, _ := upd.Get("ip").(string)
	if ip == "" {
		return provider.Errorf("%s: ip is required for an entry that is present", upd.Name())
	}
	aliases, err := stringList(upd.Get("host_aliases"))
	if err != nil {
		return provider.Errorf("%s: host_aliases: %v", upd.Name(), err)
	}
	comment, _ := upd.Get("comment").(string)

	if is == "present" && !upd.Changed("ip") && !upd.Changed("host_aliases") && !upd.Changed("comment") {
		return nil
	}
	if !noop {
		if err := writeEntry(s, upd.Name(), ip, aliases, comment); err != nil {
			return err
		}
	}

	ctx.ChangeTo(upd, "ensure", "present")
	ctx.ChangeTo(upd, "ip", ip)
	if _, ok := upd.Should.Get("host_aliases"); ok {
		ctx.ChangeAttr(upd, "host_aliases")
	}
	if _, ok := upd.Should.Get("comment"); ok {
		ctx.ChangeAttr(upd, "comment")
	}
	return nil
}

// writeEntry builds the entry in a scratch area, then moves it over the
// existing entry for name or appends it as a new one.
func writeEntry(s *tree.Session, name, ip string, aliases []string, comment string) error {
	b, err := s.BuildNode(scratch)
	if err != nil {
		return err
	}
	if _, err := b.Child("ipaddr", ip); err != nil {
		return err
	}
	if _, err := b.Child("canonical", name); err != nil {
		return err
	}
	for _, a := range aliases {
		if _, err := b.Child("alias", a); err != nil {
			return err
		}
	}
	if comment != "" {
		if _, err := b.Child("#comment", comment); err != nil {
			return err
		}
	}

	next, err := nextSeq(s)
	if err != nil {
		return err
	}
	return b.MoveOrCreate(entryPath(name), hostsTree+"/"+strconv.Itoa(next))
}

// nextSeq returns a label larger than that of every existing entry.
func nextSeq(s *tree.Session) (int, error) {
	paths, err := s.Match(hostsTree + "/*[label() != '#comment']")
	if err != nil {
		return 0, err
	}
	max := 0
	for _, p := range paths {
		if n, err := strconv.Atoi(tree.Label(p)); err == nil && n > max {
			max = n
		}
	}
	return max + 1, nil
}

func entryPath(name string) string {
	return fmt.Sprintf("%s/*[canonical = '%s']", hostsTree, name)
}

func lookup(s *tree.Session, name string) (ral.Resource, bool, error) {
	paths, err := s.Match(entryPath(name))
	if err != nil || len(paths) == 0 {
		return ral.Resource{}, false, err
	}
	if len(paths) > 1 {
		return ral.Resource{}, false, provider.Errorf("multiple entries with hostname '%s'", name)
	}
	n, err := s.Tree(paths[0])
	if err != nil {
		return ral.Resource{}, false, err
	}
	return toResource(n), true, nil
}

func toResource(n tree.Node) ral.Resource {
	aliases := make([]any, 0)
	for _, a := range n.ChildrenLabeled("alias") {
		aliases = append(aliases, a.Val())
	}
	attrs := ral.Attrs{
		"ensure":       "present",
		"ip":           n.Child("ipaddr").Val(),
		"host_aliases": aliases,
		"target":       hostsFile,
	}
	if c := n.Child("#comment"); c.HasValue() {
		attrs["comment"] = c.Val()
	}
	return ral.NewResource(n.Child("canonical").Val(), attrs)
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, " \t\n#'") {
		return provider.Errorf("invalid host name %q", name)
	}
	return nil
}

func stringList(v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.Fields(x), nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected a string, got %v", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %v", v)
	}
}
