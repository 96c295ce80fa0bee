package config

import (
	"fmt"
	"strings"

	"github.com/openfroyo/ral/pkg/ral"
)

// ResourceConfig is one desired resource from a manifest.
type ResourceConfig struct {
	// Type is the provider type managing the resource (e.g., "host").
	Type string `json:"type" yaml:"type" validate:"required,excludesall=/ \t"`

	// Name identifies the resource among all resources of its type.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Attrs are the desired attribute values. Attributes not listed are
	// left alone.
	Attrs map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`

	// Source is the file the resource was declared in.
	Source string `json:"-" yaml:"-"`
}

// ID returns the resource's type[name] identifier.
func (r ResourceConfig) ID() string {
	return r.Type + "[" + r.Name + "]"
}

// Resource returns the desired state as a ral.Resource.
func (r ResourceConfig) Resource() ral.Resource {
	return ral.NewResource(r.Name, ral.Attrs(r.Attrs).Clone())
}

// Manifest is the desired state of a set of resources.
type Manifest struct {
	// SourceFiles lists the files the manifest was read from.
	SourceFiles []string

	// Resources in declaration order; resources of the concise form are
	// sorted by type and name.
	Resources []ResourceConfig
}

// Types returns the resource types in the order they first appear.
func (m *Manifest) Types() []string {
	var types []string
	seen := make(map[string]bool)
	for _, r := range m.Resources {
		if !seen[r.Type] {
			seen[r.Type] = true
			types = append(types, r.Type)
		}
	}
	return types
}

// ResourcesOf returns the desired state of all resources of type typ.
func (m *Manifest) ResourcesOf(typ string) []ral.Resource {
	var out []ral.Resource
	for _, r := range m.Resources {
		if r.Type == typ {
			out = append(out, r.Resource())
		}
	}
	return out
}

// ValidationError represents a problem found in a manifest.
type ValidationError struct {
	// File is the file containing the error.
	File string `json:"file,omitempty"`

	// Line and Column locate the error, when known.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	// Path is the path to the offending value (e.g., "resources[2].name").
	Path string `json:"path,omitempty"`

	// Message describes the error.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ManifestError collects every problem found while loading a manifest.
type ManifestError struct {
	Errors []ValidationError
}

func (e *ManifestError) Error() string {
	lines := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		lines[i] = ve.String()
	}
	return "invalid manifest:\n  " + strings.Join(lines, "\n  ")
}
