package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCUEParser_ParseInline(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		wantErr bool
		want    []string
	}{
		{
			name: "resource list",
			content: `
resources: [
	{type: "host", name: "web", attrs: {ip: "10.0.0.1"}},
	{type: "service", name: "nginx"},
]`,
			want: []string{"host[web]", "service[nginx]"},
		},
		{
			name: "concise form sorted by type and name",
			content: `
service: sshd: {ensure: "running"}
host: web: {ip: "10.0.0.1"}
host: db: {ip: "10.0.0.2"}`,
			want: []string{"host[db]", "host[web]", "service[sshd]"},
		},
		{
			name: "list first, then concise",
			content: `
host: db: {}
resources: [{type: "host", name: "web"}]`,
			want: []string{"host[web]", "host[db]"},
		},
		{
			name: "hidden fields are not resources",
			content: `
_managed: {ensure: "present", comment: "managed"}
host: web: _managed & {ip: "10.0.0.1"}`,
			want: []string{"host[web]"},
		},
		{
			name:    "missing name",
			content: `resources: [{type: "host"}]`,
			wantErr: true,
		},
		{
			name:    "type with slash",
			content: `resources: [{type: "a/b", name: "x"}]`,
			wantErr: true,
		},
		{
			name:    "unknown resource field",
			content: `resources: [{type: "host", name: "web", ip: "10.0.0.1"}]`,
			wantErr: true,
		},
		{
			name:    "attrs that are not an object",
			content: `host: web: "10.0.0.1"`,
			wantErr: true,
		},
		{
			name:    "incomplete value",
			content: `host: web: {ip: string}`,
			wantErr: true,
		},
		{
			name:    "syntax error",
			content: `host: web: {`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manifest, err := parser.ParseInline(ctx, tt.content)
			if tt.wantErr {
				var merr *ManifestError
				if !errors.As(err, &merr) {
					t.Fatalf("expected *ManifestError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInline() error = %v", err)
			}

			var ids []string
			for _, r := range manifest.Resources {
				ids = append(ids, r.ID())
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("resources = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestCUEParser_Attributes(t *testing.T) {
	parser := NewCUEParser()

	manifest, err := parser.ParseInline(context.Background(), `
_managed: {ensure: "present"}
host: web: _managed & {ip: "10.0.0.1", host_aliases: ["www", "web1"]}`)
	if err != nil {
		t.Fatalf("ParseInline() error = %v", err)
	}

	res := manifest.Resources[0].Resource()
	if res.Name != "web" || res.Lookup("ensure", "") != "present" || res.Lookup("ip", "") != "10.0.0.1" {
		t.Errorf("unexpected resource %v", res)
	}
	aliases, ok := res.Attrs["host_aliases"].([]any)
	if !ok || len(aliases) != 2 || aliases[0] != "www" {
		t.Errorf("host_aliases = %#v", res.Attrs["host_aliases"])
	}
}

func TestCUEParser_ParseDirectory(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, filepath.Join(dir, "hosts.cue"), "package site\n\nhost: web: {ip: \"10.0.0.1\"}\n")
	writeManifest(t, filepath.Join(dir, "more.cue"), "package site\n\nhost: web: {comment: \"frontend\"}\nhost: db: {}\n")
	writeManifest(t, filepath.Join(dir, "notes.txt"), "not cue")

	manifest, err := NewCUEParser().Parse(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(manifest.SourceFiles) != 2 {
		t.Errorf("source files = %v", manifest.SourceFiles)
	}
	if len(manifest.Resources) != 2 {
		t.Fatalf("expected 2 resources, got %v", manifest.Resources)
	}
	web := manifest.Resources[1]
	if web.Name != "web" || web.Attrs["ip"] != "10.0.0.1" || web.Attrs["comment"] != "frontend" {
		t.Errorf("files were not unified: %+v", web)
	}
}

func TestCUEParser_Errors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	parser := NewCUEParser()

	if _, err := parser.Parse(ctx, nil); err == nil {
		t.Error("expected error for no sources")
	}
	if _, err := parser.Parse(ctx, []string{filepath.Join(dir, "missing.cue")}); err == nil {
		t.Error("expected error for missing source")
	}

	empty := filepath.Join(dir, "empty")
	if err := os.Mkdir(empty, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse(ctx, []string{empty}); err == nil || !strings.Contains(err.Error(), "no CUE files found") {
		t.Errorf("expected no CUE files error, got %v", err)
	}

	broken := filepath.Join(dir, "broken.cue")
	writeManifest(t, broken, "host: web: {\n")
	_, err := parser.Parse(ctx, []string{broken})
	var merr *ManifestError
	if !errors.As(err, &merr) {
		t.Fatalf("expected *ManifestError, got %v", err)
	}
	if merr.Errors[0].File != broken || merr.Errors[0].Line == 0 {
		t.Errorf("expected position in %s, got %+v", broken, merr.Errors[0])
	}

	conflict := filepath.Join(dir, "conflict.cue")
	writeManifest(t, conflict, "host: web: {ip: \"10.0.0.1\"}\nhost: web: {ip: \"10.0.0.2\"}\n")
	_, err = parser.Parse(ctx, []string{conflict})
	if !errors.As(err, &merr) {
		t.Fatalf("expected *ManifestError, got %v", err)
	}
	if !strings.Contains(err.Error(), conflict) {
		t.Errorf("expected error to name %s, got %v", conflict, err)
	}
}

func TestSchemaRegistry(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	if got := sr.ListSchemas(); len(got) != 1 || got[0] != "manifest" {
		t.Errorf("ListSchemas() = %v", got)
	}

	if err := sr.RegisterSchema("port", "port: int & >0 & <65536"); err != nil {
		t.Fatalf("RegisterSchema() error = %v", err)
	}
	if err := sr.RegisterSchema("broken", "port: int &"); err == nil {
		t.Error("expected error for invalid schema")
	}
	if _, ok := sr.GetSchema("port"); !ok {
		t.Error("expected to find port schema")
	}

	tests := []struct {
		name    string
		schema  string
		data    any
		wantErr bool
	}{
		{"valid port", "port", map[string]any{"port": 22}, false},
		{"port out of range", "port", map[string]any{"port": 70000}, true},
		{"valid manifest", "manifest", map[string]any{"host": map[string]any{"web": map[string]any{}}}, false},
		{"manifest with bad resources", "manifest", map[string]any{"resources": "web"}, true},
		{"unknown schema", "nope", map[string]any{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(ctx, tt.schema, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAgainstSchema() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func writeManifest(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
