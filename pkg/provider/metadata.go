package provider

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// Metadata is what a provider prints for the describe action.
type Metadata struct {
	Provider Description `yaml:"provider"`
}

// Description describes a provider type.
type Description struct {
	Type     string   `yaml:"type" validate:"required"`
	Invoke   string   `yaml:"invoke" validate:"required,oneof=json simple"`
	Actions  []string `yaml:"actions" validate:"required,min=1,dive,oneof=describe get set list find update"`
	Suitable Suitable `yaml:"suitable"`
	Desc     string   `yaml:"desc,omitempty"`

	Attributes map[string]Attribute `yaml:"attributes" validate:"required,dive"`
}

// Attribute describes one attribute of a provider's resources.
type Attribute struct {
	Desc string `yaml:"desc,omitempty"`
	// Type is e.g. string, boolean, array[string] or enum[present,absent].
	Type string `yaml:"type,omitempty"`
	// Kind is r for read-only attributes, w for write-only ones, and rw or
	// empty for the rest.
	Kind string `yaml:"kind,omitempty" validate:"omitempty,oneof=r w rw"`
}

// Suitable says whether a provider can run on a system. It is either a
// plain boolean or a list of commands that must be available.
type Suitable struct {
	Value    bool
	Commands []string
}

// UnmarshalYAML accepts `true`, `false` and `{commands: [...]}`.
func (s *Suitable) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&s.Value)
	}
	var spec struct {
		Commands []string `yaml:"commands"`
	}
	if err := node.Decode(&spec); err != nil {
		return fmt.Errorf("suitable must be a boolean or a mapping with commands: %w", err)
	}
	s.Commands = spec.Commands
	return nil
}

// MarshalYAML writes the boolean form unless commands are set.
func (s Suitable) MarshalYAML() (any, error) {
	if len(s.Commands) > 0 {
		return map[string][]string{"commands": s.Commands}, nil
	}
	return s.Value, nil
}

// Validate checks the metadata for missing or malformed fields.
func (m *Metadata) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid provider metadata: %w", err)
	}
	if _, ok := m.Provider.Attributes["name"]; !ok {
		return fmt.Errorf("invalid provider metadata: attribute 'name' is missing")
	}
	return nil
}

// Supports reports whether the provider lists action.
func (m *Metadata) Supports(action string) bool {
	for _, a := range m.Provider.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// AttributeNames returns the attribute names in sorted order.
func (m *Metadata) AttributeNames() []string {
	names := make([]string, 0, len(m.Provider.Attributes))
	for n := range m.Provider.Attributes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Write prints the metadata as a YAML document.
func (m *Metadata) Write(w io.Writer) error {
	if _, err := io.WriteString(w, "---\n"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return enc.Close()
}

// ParseMetadata reads and validates describe output.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse provider metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
