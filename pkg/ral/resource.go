package ral

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// NameAttr is the attribute key under which a resource's name travels on the wire.
const NameAttr = "name"

// Attrs maps attribute names to values.
type Attrs map[string]any

// Clone returns a shallow copy of the attribute map.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Keys returns the attribute names in sorted order.
func (a Attrs) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resource is an individual thing that a provider manages. The name
// identifies it uniquely among all resources of that provider.
type Resource struct {
	Name  string
	Attrs Attrs
}

// NewResource creates a resource. A nil attrs map is replaced by an empty one.
func NewResource(name string, attrs Attrs) Resource {
	if attrs == nil {
		attrs = Attrs{}
	}
	return Resource{Name: name, Attrs: attrs}
}

// Get returns the value of attribute key and whether it is set.
func (r Resource) Get(key string) (any, bool) {
	v, ok := r.Attrs[key]
	return v, ok
}

// Lookup returns the string value of attribute key, or def if the attribute
// is missing or not a string.
func (r Resource) Lookup(key, def string) string {
	if s, ok := r.Attrs[key].(string); ok {
		return s
	}
	return def
}

// Without returns a copy of the resource lacking the attributes keys. The
// receiver is not modified.
func (r Resource) Without(keys ...string) Resource {
	attrs := r.Attrs.Clone()
	for _, k := range keys {
		delete(attrs, k)
	}
	return Resource{Name: r.Name, Attrs: attrs}
}

// Equal reports whether both resources have the same name and structurally
// equal attributes.
func (r Resource) Equal(other Resource) bool {
	if r.Name != other.Name || len(r.Attrs) != len(other.Attrs) {
		return false
	}
	for k, v := range r.Attrs {
		ov, ok := other.Attrs[k]
		if !ok || !ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

func (r Resource) String() string {
	parts := make([]string, 0, len(r.Attrs))
	for _, k := range r.Attrs.Keys() {
		parts = append(parts, fmt.Sprintf("%s: %v", k, r.Attrs[k]))
	}
	return fmt.Sprintf("{ %s:: %s }", r.Name, strings.Join(parts, ", "))
}

// MarshalJSON encodes the resource as one flat object with the name stored
// under "name" next to the attributes.
func (r Resource) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(r.Attrs)+1)
	for k, v := range r.Attrs {
		obj[k] = v
	}
	obj[NameAttr] = r.Name
	return json.Marshal(obj)
}

// UnmarshalJSON decodes a flat object. The object must carry a string "name".
func (r *Resource) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	name, ok := obj[NameAttr].(string)
	if !ok {
		return fmt.Errorf("resource does not have a name")
	}
	delete(obj, NameAttr)
	r.Name = name
	r.Attrs = Attrs(obj)
	return nil
}

// ValuesEqual compares two attribute values structurally. A missing value is
// represented by nil and only equals nil.
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize maps the Go representations an attribute value can take onto the
// ones encoding/json produces, so values built in code compare equal to
// values decoded from a request.
func normalize(v any) any {
	switch x := v.(type) {
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case Attrs:
		return normalize(map[string]any(x))
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	default:
		return v
	}
}
