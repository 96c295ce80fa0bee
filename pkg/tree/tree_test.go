package tree_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/openfroyo/ral/pkg/tree"
	"github.com/openfroyo/ral/pkg/tree/memtree"
)

const hostsFile = `127.0.0.1	localhost
10.0.0.1	srv.example.com srv # app server
`

func openHosts(t *testing.T) (*tree.Session, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "etc"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "etc", "hosts"), []byte(hostsFile), 0o644); err != nil {
		t.Fatal(err)
	}
	eng := memtree.New(memtree.WithRoot(root))
	if err := eng.Transform(memtree.HostsLens, []string{"/etc/hosts"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := eng.Load(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return tree.NewSession(eng), root
}

func TestLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/files/etc/hosts/1", "1"},
		{"/files/etc/hosts/1/alias[2]", "alias"},
		{"/files/etc/hosts/*[canonical = 'a/b']", "*"},
		{"/augeas/files/etc/hosts/error", "error"},
		{"label", "label"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := tree.Label(tt.path); got != tt.want {
				t.Errorf("Label(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestSessionTree(t *testing.T) {
	s, _ := openHosts(t)

	n, err := s.Tree("/files/etc/hosts/2")
	if err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if n.Label != "2" || n.HasValue() {
		t.Errorf("root = %q (value %v), want label 2 without value", n.Label, n.HasValue())
	}

	var labels []string
	for _, c := range n.Children {
		labels = append(labels, c.Label)
	}
	want := []string{"ipaddr", "canonical", "alias", "#comment"}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("children = %v, want %v", labels, want)
	}
	if got := n.Child("canonical").Val(); got != "srv.example.com" {
		t.Errorf("Child(canonical) = %q", got)
	}
	if got := n.Child("#comment").Val(); got != "app server" {
		t.Errorf("Child(#comment) = %q", got)
	}

	missing := n.Child("nope")
	if missing.HasValue() || len(missing.Children) != 0 || missing.Label != "" {
		t.Errorf("Child(nope) = %+v, want empty placeholder", missing)
	}
	if got := missing.Child("deeper").Val(); got != "" {
		t.Errorf("chained lookup on placeholder = %q", got)
	}

	full, err := s.Tree("/files/etc/hosts")
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Children) != 2 {
		t.Errorf("hosts has %d children, want 2", len(full.Children))
	}
}

func TestNodeString(t *testing.T) {
	v1, v2 := "10.0.0.1", "srv"
	n := tree.Node{
		Label: "1",
		Children: []tree.Node{
			{Label: "ipaddr", Value: &v1},
			{Label: "canonical", Value: &v2},
		},
	}
	want := " { 1 { ipaddr = 10.0.0.1 } { canonical = srv } }"
	if got := n.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestBuilderAlwaysAppends(t *testing.T) {
	s, _ := openHosts(t)

	first, err := s.BuildNode("/scratch/entry")
	if err != nil {
		t.Fatalf("BuildNode() error = %v", err)
	}
	second, err := s.BuildNode("/scratch/entry")
	if err != nil {
		t.Fatalf("BuildNode() error = %v", err)
	}
	if first.Path() == second.Path() {
		t.Fatalf("second BuildNode() reused %s", first.Path())
	}
	if second.Path() != "/scratch/entry[2]" {
		t.Errorf("second.Path() = %q, want /scratch/entry[2]", second.Path())
	}

	if _, err := second.Child("alias", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := second.Child("alias", "b"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Match("/scratch/entry[2]/alias")
	if !reflect.DeepEqual(got, []string{"/scratch/entry[2]/alias[1]", "/scratch/entry[2]/alias[2]"}) {
		t.Errorf("aliases = %v", got)
	}
}

func TestBuilderEmptyValue(t *testing.T) {
	s, _ := openHosts(t)

	bare, err := s.BuildNode("/scratch/bare")
	if err != nil {
		t.Fatal(err)
	}
	empty, err := s.Build("/scratch/empty", "")
	if err != nil {
		t.Fatal(err)
	}
	bareChild, err := empty.ChildNode("bare")
	if err != nil {
		t.Fatal(err)
	}
	emptyChild, err := empty.Child("empty", "")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		path      string
		wantValue bool
	}{
		{"BuildNode", bare.Path(), false},
		{"Build with empty string", empty.Path(), true},
		{"ChildNode", bareChild.Path(), false},
		{"Child with empty string", emptyChild.Path(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok, err := s.Get(tt.path)
			if err != nil {
				t.Fatalf("Get(%s) error = %v", tt.path, err)
			}
			if ok != tt.wantValue || val != "" {
				t.Errorf("Get(%s) = %q, %v, want \"\", %v", tt.path, val, ok, tt.wantValue)
			}
		})
	}
}

func buildEntry(t *testing.T, s *tree.Session, ip, canonical string) *tree.Builder {
	t.Helper()
	b, err := s.BuildNode("/scratch/01")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Child("ipaddr", ip); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Child("canonical", canonical); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBuilderMoveOrCreate(t *testing.T) {
	t.Run("creates when target is missing", func(t *testing.T) {
		s, root := openHosts(t)
		b := buildEntry(t, s, "10.9.9.9", "new.example.com")

		err := b.MoveOrCreate("/files/etc/hosts/*[canonical = 'new.example.com']", "/files/etc/hosts/3")
		if err != nil {
			t.Fatalf("MoveOrCreate() error = %v", err)
		}
		if b.Path() != "/files/etc/hosts/3" {
			t.Errorf("Path() = %q", b.Path())
		}
		if got, _ := s.Match("/scratch/*"); len(got) != 0 {
			t.Errorf("scratch not empty: %v", got)
		}
		if err := s.Engine().Save(); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(filepath.Join(root, "etc", "hosts"))
		want := hostsFile + "10.9.9.9\tnew.example.com\n"
		if string(data) != want {
			t.Errorf("hosts =\n%s\nwant\n%s", data, want)
		}
	})

	t.Run("replaces when target exists", func(t *testing.T) {
		s, _ := openHosts(t)
		b := buildEntry(t, s, "10.0.0.2", "srv.example.com")

		err := b.MoveOrCreate("/files/etc/hosts/*[canonical = 'srv.example.com']", "/files/etc/hosts/3")
		if err != nil {
			t.Fatalf("MoveOrCreate() error = %v", err)
		}
		if got, _ := s.Match("/files/etc/hosts/3"); len(got) != 0 {
			t.Errorf("fallback path was created: %v", got)
		}
		if b.Path() != "/files/etc/hosts/2" {
			t.Errorf("Path() = %q, want /files/etc/hosts/2", b.Path())
		}
		v, _, _ := s.Get("/files/etc/hosts/2/ipaddr")
		if v != "10.0.0.2" {
			t.Errorf("ipaddr = %q, want 10.0.0.2", v)
		}
		if got, _ := s.Match("/files/etc/hosts/2/alias"); len(got) != 0 {
			t.Errorf("old children survived: %v", got)
		}
	})
}

func TestSessionResolve(t *testing.T) {
	s, _ := openHosts(t)

	if p, err := s.Resolve("/files/etc/hosts/*[canonical = 'localhost']"); err != nil || p != "/files/etc/hosts/1" {
		t.Errorf("Resolve() = %q, %v", p, err)
	}
	if _, err := s.Resolve("/files/etc/hosts/*[canonical = 'x']"); !errors.Is(err, tree.ErrNoMatch) {
		t.Errorf("Resolve(missing) error = %v, want ErrNoMatch", err)
	}
	if _, err := s.Resolve("/files/etc/hosts/*"); !errors.Is(err, tree.ErrAmbiguous) {
		t.Errorf("Resolve(ambiguous) error = %v, want ErrAmbiguous", err)
	}
}

func TestSessionDump(t *testing.T) {
	s, _ := openHosts(t)

	got, err := s.Dump("/files/etc/hosts/1")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"/files/etc/hosts/1",
		"/files/etc/hosts/1/ipaddr = 127.0.0.1",
		"/files/etc/hosts/1/canonical = localhost",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dump() = %v, want %v", got, want)
	}
}
