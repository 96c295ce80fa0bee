package memtree

import (
	"strconv"
	"strings"
)

// Node is one node of the in-memory tree. Lenses produce and consume Nodes.
type Node struct {
	Label    string
	Value    *string
	Children []*Node

	parent *Node
	// lead is text that preceded the node in its file and is written back
	// in front of it.
	lead string
	// raw and fp remember how the node was parsed; a node whose
	// fingerprint is unchanged is written back as raw.
	raw string
	fp  string
}

// NewNode creates a node. An empty value creates a node without a value.
func NewNode(label, value string, children ...*Node) *Node {
	n := &Node{Label: label}
	if value != "" {
		n.Value = &value
	}
	for _, c := range children {
		n.Append(c)
	}
	return n
}

// Val returns the node's value or "".
func (n *Node) Val() string {
	if n.Value == nil {
		return ""
	}
	return *n.Value
}

// Append adds c as the last child of n.
func (n *Node) Append(c *Node) {
	c.parent = n
	n.Children = append(n.Children, c)
}

// Child returns the first child labeled label, or nil.
func (n *Node) Child(label string) *Node {
	for _, c := range n.Children {
		if c.Label == label {
			return c
		}
	}
	return nil
}

// fingerprint renders the subtree in a form that changes whenever a label,
// value or child of the subtree changes.
func (n *Node) fingerprint() string {
	var b strings.Builder
	n.writeFingerprint(&b)
	return b.String()
}

func (n *Node) writeFingerprint(b *strings.Builder) {
	b.WriteString("{")
	b.WriteString(strconv.Quote(n.Label))
	if n.Value != nil {
		b.WriteString("=")
		b.WriteString(strconv.Quote(*n.Value))
	}
	for _, c := range n.Children {
		c.writeFingerprint(b)
	}
	b.WriteString("}")
}

// remember records the node's current form as its parsed form.
func (n *Node) remember(raw string) {
	n.raw = raw
	n.fp = n.fingerprint()
}

// unchanged reports whether the node still looks like it did when parsed.
func (n *Node) unchanged() bool {
	return n.fp != "" && n.fp == n.fingerprint()
}

func (n *Node) index() int {
	if n.parent == nil {
		return -1
	}
	for i, c := range n.parent.Children {
		if c == n {
			return i
		}
	}
	return -1
}

func (n *Node) detach() {
	if i := n.index(); i >= 0 {
		p := n.parent
		p.Children = append(p.Children[:i], p.Children[i+1:]...)
	}
	n.parent = nil
}

// insertChild adds c after the last child labeled c.Label, or at the end.
func (n *Node) insertChild(c *Node) {
	pos := len(n.Children)
	for i := len(n.Children) - 1; i >= 0; i-- {
		if n.Children[i].Label == c.Label {
			pos = i + 1
			break
		}
	}
	c.parent = n
	n.Children = append(n.Children, nil)
	copy(n.Children[pos+1:], n.Children[pos:])
	n.Children[pos] = c
}

func (n *Node) isAncestorOf(other *Node) bool {
	for p := other; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

func (n *Node) count() int {
	total := 1
	for _, c := range n.Children {
		total += c.count()
	}
	return total
}

// path returns the canonical path of n. A position is added to a segment
// only when the parent has several children with the same label.
func (n *Node) path() string {
	if n.parent == nil {
		return ""
	}
	seg := n.Label
	same, pos := 0, 0
	for _, c := range n.parent.Children {
		if c.Label == n.Label {
			same++
			if c == n {
				pos = same
			}
		}
	}
	if same > 1 {
		seg += "[" + strconv.Itoa(pos) + "]"
	}
	return n.parent.path() + "/" + seg
}
