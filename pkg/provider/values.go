package provider

import (
	"fmt"
	"strings"
)

// ParseValue converts the command line text for attr into a value of the
// attribute's declared type. Attributes without a type are strings.
func (m *Metadata) ParseValue(attr, text string) (any, error) {
	def, ok := m.Provider.Attributes[attr]
	if !ok {
		return nil, fmt.Errorf("unknown attribute %s", attr)
	}
	typ := strings.Join(strings.Fields(def.Type), "")

	switch {
	case typ == "" || typ == "string":
		return text, nil
	case typ == "boolean":
		switch {
		case strings.EqualFold(text, "true"):
			return true, nil
		case strings.EqualFold(text, "false"):
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean: must be either 'true' or 'false'")
	case typ == "array[string]":
		out := []any{}
		if text == "" {
			return out, nil
		}
		for _, elt := range strings.Split(text, ",") {
			elt = strings.TrimSpace(elt)
			if elt == "" {
				return nil, fmt.Errorf("bad array: entries in '%s' can not be blank", text)
			}
			out = append(out, elt)
		}
		return out, nil
	case strings.HasPrefix(typ, "enum[") && strings.HasSuffix(typ, "]"):
		for _, opt := range strings.Split(typ[len("enum["):len(typ)-1], ",") {
			if opt == text {
				return text, nil
			}
		}
		return nil, fmt.Errorf("value '%s' is not a legal value for this enum", text)
	}
	return nil, fmt.Errorf("unknown type '%s'", def.Type)
}
