package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, key := range []string{"yaml", "mapstructure"} {
			name, _, _ := strings.Cut(f.Tag.Get(key), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return ""
	})
	return v
}

// LoadManifest reads the desired state from the given files and
// directories. CUE sources (.cue files and directories) are unified into one
// document; .yaml, .yml and .json files are read on their own. A resource
// may only be declared once across all sources.
func LoadManifest(ctx context.Context, paths ...string) (*Manifest, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no manifest given")
	}

	var cueSources, yamlSources []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		switch ext := filepath.Ext(path); {
		case info.IsDir(), ext == ".cue":
			cueSources = append(cueSources, path)
		case ext == ".yaml", ext == ".yml", ext == ".json":
			yamlSources = append(yamlSources, path)
		default:
			return nil, fmt.Errorf("unsupported manifest type: %s", path)
		}
	}

	manifest := &Manifest{}
	if len(cueSources) > 0 {
		m, err := NewCUEParser().Parse(ctx, cueSources)
		if err != nil {
			return nil, err
		}
		manifest.merge(m)
	}
	for _, path := range yamlSources {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		m, err := ParseYAML(path, data)
		if err != nil {
			return nil, err
		}
		manifest.merge(m)
	}

	if errs := checkResources(manifest.Resources); len(errs) > 0 {
		return nil, &ManifestError{Errors: errs}
	}
	return manifest, nil
}

func (m *Manifest) merge(other *Manifest) {
	m.SourceFiles = append(m.SourceFiles, other.SourceFiles...)
	m.Resources = append(m.Resources, other.Resources...)
}

// ParseYAML parses a YAML or JSON manifest. It accepts the same two forms as
// CUE manifests.
func ParseYAML(name string, data []byte) (*Manifest, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ManifestError{Errors: []ValidationError{{File: name, Message: err.Error()}}}
	}
	if doc == nil {
		doc = map[string]any{}
	}

	parser := NewCUEParser()
	if err := parser.schemaRegistry.ValidateAgainstSchema(context.Background(), "manifest", doc); err != nil {
		errs := convertCUEErrors(errors.Unwrap(err))
		if len(errs) == 0 {
			errs = []ValidationError{{Message: err.Error()}}
		}
		for i := range errs {
			errs[i].File = name
			errs[i].Line, errs[i].Column = 0, 0
		}
		return nil, &ManifestError{Errors: errs}
	}

	resources, errs := extractResources(doc, name)
	if len(errs) > 0 {
		return nil, &ManifestError{Errors: errs}
	}
	return &Manifest{SourceFiles: []string{name}, Resources: resources}, nil
}

// extractResources turns a decoded manifest document into resources. The
// explicit resources list comes first, followed by the type: name: attrs
// entries sorted by type and name.
func extractResources(doc map[string]any, source string) ([]ResourceConfig, []ValidationError) {
	var resources []ResourceConfig
	var errs []ValidationError

	if list, ok := doc["resources"].([]any); ok {
		for i, item := range list {
			path := fmt.Sprintf("resources[%d]", i)
			fields, ok := item.(map[string]any)
			if !ok {
				errs = append(errs, ValidationError{File: source, Path: path, Message: "resource must be an object"})
				continue
			}
			typ, _ := fields["type"].(string)
			name, _ := fields["name"].(string)
			attrs, err := attrMap(fields["attrs"])
			if err != nil {
				errs = append(errs, ValidationError{File: source, Path: path + ".attrs", Message: err.Error()})
				continue
			}
			resources = append(resources, ResourceConfig{Type: typ, Name: name, Attrs: attrs, Source: source})
		}
	}

	types := make([]string, 0, len(doc))
	for typ := range doc {
		if typ != "resources" {
			types = append(types, typ)
		}
	}
	sort.Strings(types)

	for _, typ := range types {
		byName, ok := doc[typ].(map[string]any)
		if !ok {
			errs = append(errs, ValidationError{File: source, Path: typ, Message: "expected resources by name"})
			continue
		}
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			attrs, err := attrMap(byName[name])
			if err != nil {
				errs = append(errs, ValidationError{File: source, Path: typ + "." + name, Message: err.Error()})
				continue
			}
			resources = append(resources, ResourceConfig{Type: typ, Name: name, Attrs: attrs, Source: source})
		}
	}

	return resources, errs
}

func attrMap(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	attrs, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("attributes must be an object, got %T", v)
	}
	if _, ok := attrs["name"]; ok {
		return nil, fmt.Errorf("name must not be given as an attribute")
	}
	return attrs, nil
}

// checkResources validates every resource and rejects duplicates.
func checkResources(resources []ResourceConfig) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]ResourceConfig)

	for _, r := range resources {
		if err := validate.Struct(r); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				errs = append(errs, ValidationError{File: r.Source, Path: r.ID(), Message: err.Error()})
				continue
			}
			for _, fe := range verrs {
				errs = append(errs, ValidationError{File: r.Source, Path: r.ID() + "." + fe.Field(), Message: fieldMessage(fe)})
			}
			continue
		}

		if prev, ok := seen[r.ID()]; ok {
			errs = append(errs, ValidationError{
				File:    r.Source,
				Path:    r.ID(),
				Message: fmt.Sprintf("duplicate resource, already declared in %s", prev.Source),
			})
			continue
		}
		seen[r.ID()] = r
	}

	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "excludesall":
		return fmt.Sprintf("must not contain slashes or whitespace, got %q", fe.Value())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
