package memtree

import (
	"fmt"
	"strconv"
	"strings"
)

type axis int

const (
	axisChild axis = iota
	axisDescendant
)

type predKind int

const (
	predIndex predKind = iota
	predLast
	predLastPlusOne
	predChildExists
	predChildValue
	predLabel
	predSelfValue
)

type pred struct {
	kind  predKind
	index int
	label string
	value string
	neg   bool
}

type step struct {
	axis  axis
	name  string
	preds []pred
}

// creatable reports whether a missing node for this step can be created.
func (s step) creatable() bool {
	if s.axis != axisChild || s.name == "*" || s.name == "" {
		return false
	}
	for _, p := range s.preds {
		switch p.kind {
		case predIndex, predLast, predLastPlusOne:
		default:
			return false
		}
	}
	return true
}

// parsePath splits an absolute path expression into steps.
func parsePath(path string) ([]step, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrBadPath, path)
	}
	var (
		steps []step
		depth int
		quote byte
		start = 1
		ax    = axisChild
	)
	if strings.HasPrefix(path, "//") {
		ax = axisDescendant
		start = 2
	}
	flush := func(end int) error {
		raw := path[start:end]
		if raw == "" {
			return fmt.Errorf("%w: empty step in %q", ErrBadPath, path)
		}
		st, err := parseStep(raw)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrBadPath, path, err)
		}
		st.axis = ax
		steps = append(steps, st)
		return nil
	}
	if path == "/" {
		return nil, nil
	}
	for i := start; i < len(path); i++ {
		c := path[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			if depth > 0 {
				quote = c
			}
		case c == '[':
			depth++
		case c == ']':
			depth--
		case c == '/' && depth == 0:
			if err := flush(i); err != nil {
				return nil, err
			}
			ax = axisChild
			if i+1 < len(path) && path[i+1] == '/' {
				ax = axisDescendant
				i++
			}
			start = i + 1
		}
	}
	if depth != 0 || quote != 0 {
		return nil, fmt.Errorf("%w: unbalanced predicate in %q", ErrBadPath, path)
	}
	if start == len(path) {
		// trailing slash
		return steps, nil
	}
	if err := flush(len(path)); err != nil {
		return nil, err
	}
	return steps, nil
}

func parseStep(raw string) (step, error) {
	i := strings.IndexByte(raw, '[')
	if i == 0 {
		return step{}, fmt.Errorf("step %q has no label", raw)
	}
	if i < 0 {
		return step{name: raw}, nil
	}
	st := step{name: raw[:i]}
	rest := raw[i:]
	for rest != "" {
		if rest[0] != '[' {
			return step{}, fmt.Errorf("unexpected %q after predicate", rest)
		}
		end := closingBracket(rest)
		if end < 0 {
			return step{}, fmt.Errorf("unterminated predicate %q", rest)
		}
		p, err := parsePred(strings.TrimSpace(rest[1:end]))
		if err != nil {
			return step{}, err
		}
		st.preds = append(st.preds, p)
		rest = rest[end+1:]
	}
	return st, nil
}

func closingBracket(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}

func parsePred(expr string) (pred, error) {
	switch expr {
	case "last()":
		return pred{kind: predLast}, nil
	case "last()+1", "last() + 1":
		return pred{kind: predLastPlusOne}, nil
	}
	if n, err := strconv.Atoi(expr); err == nil {
		if n < 1 {
			return pred{}, fmt.Errorf("index %d out of range", n)
		}
		return pred{kind: predIndex, index: n}, nil
	}

	lhs, op, rhs := splitComparison(expr)
	if op == "" {
		if lhs == "" {
			return pred{}, fmt.Errorf("empty predicate")
		}
		return pred{kind: predChildExists, label: lhs}, nil
	}
	val, err := unquote(rhs)
	if err != nil {
		return pred{}, err
	}
	p := pred{value: val, neg: op == "!="}
	switch lhs {
	case "label()":
		p.kind = predLabel
	case ".":
		p.kind = predSelfValue
	default:
		p.kind = predChildValue
		p.label = lhs
	}
	return p, nil
}

func splitComparison(expr string) (lhs, op, rhs string) {
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '!' && i+1 < len(expr) && expr[i+1] == '=':
			return strings.TrimSpace(expr[:i]), "!=", strings.TrimSpace(expr[i+2:])
		case c == '=':
			return strings.TrimSpace(expr[:i]), "=", strings.TrimSpace(expr[i+1:])
		}
	}
	return strings.TrimSpace(expr), "", ""
}

func unquote(s string) (string, error) {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], nil
	}
	return "", fmt.Errorf("expected quoted string, got %q", s)
}
