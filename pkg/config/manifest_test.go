package config

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseYAML(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
		wantErr string
	}{
		{
			name: "both forms",
			content: `
resources:
  - type: host
    name: web
    attrs:
      ip: 10.0.0.1
host:
  db:
    ip: 10.0.0.2
    host_aliases: [postgres]
`,
			want: []string{"host[web]", "host[db]"},
		},
		{
			name:    "json",
			content: `{"host": {"web": {"ip": "10.0.0.1"}}}`,
			want:    []string{"host[web]"},
		},
		{
			name:    "empty document",
			content: "",
			want:    nil,
		},
		{
			name:    "invalid yaml",
			content: "host: [",
			wantErr: "site.yaml",
		},
		{
			name:    "scalar attributes",
			content: "host:\n  web: 10.0.0.1\n",
			wantErr: "site.yaml",
		},
		{
			name:    "missing name",
			content: "resources:\n  - type: host\n",
			wantErr: "site.yaml",
		},
		{
			name:    "name repeated in attrs",
			content: "host:\n  web:\n    name: other\n",
			wantErr: "name must not be given as an attribute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manifest, err := ParseYAML("site.yaml", []byte(tt.content))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseYAML() error = %v", err)
			}
			var ids []string
			for _, r := range manifest.Resources {
				ids = append(ids, r.ID())
				if r.Source != "site.yaml" {
					t.Errorf("source = %q", r.Source)
				}
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("resources = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	cueFile := filepath.Join(dir, "site.cue")
	yamlFile := filepath.Join(dir, "extra.yaml")
	writeManifest(t, cueFile, "host: web: {ip: \"10.0.0.1\"}\n")
	writeManifest(t, yamlFile, "service:\n  nginx:\n    ensure: running\nhost:\n  db: {}\n")
	ctx := context.Background()

	manifest, err := LoadManifest(ctx, cueFile, yamlFile)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if got := strings.Join(manifest.Types(), ","); got != "host,service" {
		t.Errorf("Types() = %s", got)
	}
	hosts := manifest.ResourcesOf("host")
	if len(hosts) != 2 || hosts[0].Name != "web" || hosts[1].Name != "db" {
		t.Errorf("ResourcesOf(host) = %v", hosts)
	}
	if len(manifest.SourceFiles) != 2 {
		t.Errorf("SourceFiles = %v", manifest.SourceFiles)
	}

	dup := filepath.Join(dir, "dup.yaml")
	writeManifest(t, dup, "host:\n  web:\n    ip: 10.0.0.9\n")
	_, err = LoadManifest(ctx, cueFile, dup)
	var merr *ManifestError
	if !errors.As(err, &merr) {
		t.Fatalf("expected *ManifestError, got %v", err)
	}
	if !strings.Contains(err.Error(), "host[web]: duplicate resource, already declared in "+cueFile) {
		t.Errorf("unexpected error: %v", err)
	}

	spaced := filepath.Join(dir, "spaced.yaml")
	writeManifest(t, spaced, "\"my type\":\n  web: {}\n")
	if _, err := LoadManifest(ctx, spaced); err == nil || !strings.Contains(err.Error(), "must not contain slashes or whitespace") {
		t.Errorf("expected type validation error, got %v", err)
	}

	if _, err := LoadManifest(ctx, filepath.Join(dir, "site.toml")); err == nil {
		t.Error("expected error for missing file")
	}
	toml := filepath.Join(dir, "site.toml")
	writeManifest(t, toml, "")
	if _, err := LoadManifest(ctx, toml); err == nil || !strings.Contains(err.Error(), "unsupported manifest type") {
		t.Errorf("expected unsupported type error, got %v", err)
	}
	if _, err := LoadManifest(ctx); err == nil {
		t.Error("expected error without manifests")
	}
}

func TestResourceConfig(t *testing.T) {
	rc := ResourceConfig{Type: "host", Name: "web", Attrs: map[string]any{"ip": "10.0.0.1"}}
	if rc.ID() != "host[web]" {
		t.Errorf("ID() = %s", rc.ID())
	}
	res := rc.Resource()
	res.Attrs["ip"] = "changed"
	if rc.Attrs["ip"] != "10.0.0.1" {
		t.Error("Resource() must copy the attributes")
	}
}

func TestManifestErrorString(t *testing.T) {
	err := &ManifestError{Errors: []ValidationError{
		{File: "site.cue", Line: 3, Column: 7, Path: "host.web.ip", Message: "conflicting values"},
		{Path: "host[db]", Message: "duplicate resource"},
	}}
	want := "invalid manifest:\n  site.cue:3:7: host.web.ip: conflicting values\n  host[db]: duplicate resource"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
