package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/openfroyo/ral/pkg/provider"
	"github.com/openfroyo/ral/pkg/ral"
)

// palette holds the escape sequences used to color output; all empty when
// stdout is not a terminal.
type palette struct {
	green, blue, red, yellow, reset string
}

var ansiPalette = palette{
	green:  "\033[0;32m",
	blue:   "\033[0;34m",
	red:    "\033[0;31m",
	yellow: "\033[0;33m",
	reset:  "\033[0m",
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = "'" + formatValue(e) + "'"
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case nil:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// ensureFirst returns the names with ensure moved to the front.
func ensureFirst(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "ensure" {
			out = append(out, n)
		}
	}
	for _, n := range names {
		if n != "ensure" {
			out = append(out, n)
		}
	}
	return out
}

func maxLen(names []string) int {
	n := 0
	for _, s := range names {
		if len(s) > n {
			n = len(s)
		}
	}
	return n
}

// printResource prints res in the form
//
//	host { 'web':
//	  ensure => 'present',
//	  ip     => '10.0.0.1',
//	}
func printResource(w io.Writer, c palette, typ string, res ral.Resource) {
	fmt.Fprintf(w, "%s%s%s { '%s%s%s':\n", c.blue, typ, c.reset, c.blue, res.Name, c.reset)
	names := ensureFirst(res.Attrs.Keys())
	width := maxLen(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s%-*s%s => '%s',\n", c.green, width, name, c.reset, formatValue(res.Attrs[name]))
	}
	fmt.Fprintln(w, "}")
}

func printChanges(w io.Writer, c palette, changes []ral.Change) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "no changes")
		return
	}
	for _, ch := range changes {
		fmt.Fprintf(w, "%s%s%s\n", c.yellow, ch, c.reset)
	}
}

func printExplanation(w io.Writer, c palette, prov string, path string, meta *provider.Metadata) {
	fmt.Fprintf(w, "Type %s (from %s)\n", prov, path)
	if meta.Provider.Desc != "" {
		fmt.Fprintf(w, "%s\n", strings.TrimSpace(meta.Provider.Desc))
	}

	var names []string
	for _, n := range meta.AttributeNames() {
		if n != "name" && n != "ensure" {
			names = append(names, n)
		}
	}
	for _, special := range []string{"ensure", "name"} {
		if _, ok := meta.Provider.Attributes[special]; ok {
			names = append([]string{special}, names...)
		}
	}

	width := maxLen(names)
	for _, n := range names {
		attr := meta.Provider.Attributes[n]
		kind, typ := attr.Kind, attr.Type
		if kind == "" {
			kind = "rw"
		}
		if typ == "" {
			typ = "string"
		}
		fmt.Fprintf(w, "  %s%-*s%s : %s\n", c.green, width, n, c.reset, attr.Desc)
		fmt.Fprintf(w, "  %-*s  . kind = %s%s%s\n", width, "", c.blue, kind, c.reset)
		fmt.Fprintf(w, "  %-*s  . type = %s%s%s\n", width, "", c.blue, typ, c.reset)
	}
}
