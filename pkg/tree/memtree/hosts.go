package memtree

import (
	"net"
	"strconv"
	"strings"
)

// HostsLens is the name under which the Hosts lens is registered.
const HostsLens = "Hosts.lns"

// Hosts is a lens for hosts(5) files. Each entry becomes a node labeled
// with its sequence number and children ipaddr, canonical, zero or more
// alias, and an optional #comment. Comment lines become #comment nodes.
type Hosts struct{}

func (Hosts) Parse(text string) ([]*Node, error) {
	var (
		nodes []*Node
		lead  string
		seq   int
	)
	for i, seg := range strings.SplitAfter(text, "\n") {
		if seg == "" {
			continue
		}
		line := strings.TrimSuffix(seg, "\n")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			lead += seg
			continue
		}

		var n *Node
		if strings.HasPrefix(trimmed, "#") {
			n = NewNode("#comment", strings.TrimSpace(trimmed[1:]))
		} else {
			var err error
			seq++
			n, err = parseHostsEntry(line, i+1, seq)
			if err != nil {
				return nil, err
			}
		}
		n.lead = lead
		n.remember(seg)
		lead = ""
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func parseHostsEntry(line string, lineNo, seq int) (*Node, error) {
	body, comment, _ := strings.Cut(line, "#")
	fields := strings.Fields(body)
	start := len(line) - len(strings.TrimLeft(line, " \t")) + 1

	addr := fields[0]
	host, _, _ := strings.Cut(addr, "%")
	if net.ParseIP(host) == nil {
		return nil, &ParseError{Line: lineNo, Char: start, Message: "invalid address " + strconv.Quote(addr)}
	}
	if len(fields) < 2 {
		return nil, &ParseError{
			Line:    lineNo,
			Char:    len(strings.TrimRight(body, " \t")) + 1,
			Message: "expected canonical name after address",
		}
	}

	n := NewNode(strconv.Itoa(seq), "")
	n.Append(NewNode("ipaddr", addr))
	n.Append(NewNode("canonical", fields[1]))
	for _, a := range fields[2:] {
		n.Append(NewNode("alias", a))
	}
	if c := strings.TrimSpace(comment); c != "" {
		n.Append(NewNode("#comment", c))
	}
	return n, nil
}

func (Hosts) Render(nodes []*Node) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(n.lead)
		if n.unchanged() {
			b.WriteString(n.raw)
			continue
		}
		switch {
		case n.Label == "#comment":
			b.WriteString("#")
			if n.Value != nil {
				b.WriteString(" " + *n.Value)
			}
			b.WriteString("\n")
		case isSeq(n.Label):
			line, err := renderHostsEntry(n)
			if err != nil {
				return "", err
			}
			b.WriteString(line)
		default:
			return "", &RenderError{Node: n, Message: "unexpected node " + strconv.Quote(n.Label)}
		}
	}
	return b.String(), nil
}

func renderHostsEntry(n *Node) (string, error) {
	var (
		fields  []string
		comment string
		state   int // 0: expect ipaddr, 1: expect canonical, 2: aliases
	)
	for _, c := range n.Children {
		if c.Value == nil || *c.Value == "" {
			return "", &RenderError{Node: c, Message: "node has no value"}
		}
		switch {
		case c.Label == "ipaddr" && state == 0:
			state = 1
		case c.Label == "canonical" && state == 1:
			state = 2
		case c.Label == "alias" && state == 2:
		case c.Label == "#comment" && state == 2 && comment == "":
			comment = *c.Value
			continue
		default:
			return "", &RenderError{Node: c, Message: "unexpected node " + strconv.Quote(c.Label)}
		}
		if strings.ContainsAny(*c.Value, " \t\n#") {
			return "", &RenderError{Node: c, Message: "value " + strconv.Quote(*c.Value) + " contains whitespace or #"}
		}
		fields = append(fields, *c.Value)
	}
	switch state {
	case 0:
		return "", &RenderError{Node: n, Message: "entry has no ipaddr"}
	case 1:
		return "", &RenderError{Node: n, Message: "entry has no canonical"}
	}
	line := strings.Join(fields, "\t")
	if comment != "" {
		line += "\t# " + comment
	}
	return line + "\n", nil
}

func isSeq(label string) bool {
	if label == "" {
		return false
	}
	for _, r := range label {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
