package tree

import (
	"strings"
)

// Node is a read-only snapshot of one tree position.
type Node struct {
	Label    string
	Value    *string
	Children []Node
}

// Child returns the first child labeled label. When there is none it
// returns an empty Node, so lookups can be chained.
func (n Node) Child(label string) Node {
	for _, c := range n.Children {
		if c.Label == label {
			return c
		}
	}
	return Node{}
}

// ChildrenLabeled returns all children labeled label, in document order.
func (n Node) ChildrenLabeled(label string) []Node {
	var out []Node
	for _, c := range n.Children {
		if c.Label == label {
			out = append(out, c)
		}
	}
	return out
}

// Val returns the node's value, or "" when it has none.
func (n Node) Val() string {
	if n.Value == nil {
		return ""
	}
	return *n.Value
}

// HasValue reports whether the node carries a value.
func (n Node) HasValue() bool {
	return n.Value != nil
}

// String renders the subtree in the { LABEL = VALUE CHILDREN } notation.
func (n Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n Node) write(b *strings.Builder) {
	b.WriteString(" { ")
	b.WriteString(n.Label)
	if n.Value != nil {
		b.WriteString(" = ")
		b.WriteString(*n.Value)
	}
	for _, c := range n.Children {
		c.write(b)
	}
	b.WriteString(" }")
}

// Label derives a node label from a path: the last segment with any
// trailing predicates removed.
func Label(path string) string {
	seg := path
	if i := lastSlash(path); i >= 0 {
		seg = path[i+1:]
	}
	if i := strings.IndexByte(seg, '['); i >= 0 {
		seg = seg[:i]
	}
	return seg
}

// lastSlash finds the last '/' that is not inside a predicate.
func lastSlash(path string) int {
	depth := 0
	for i := len(path) - 1; i >= 0; i-- {
		switch path[i] {
		case ']':
			depth++
		case '[':
			depth--
		case '/':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Tree materializes the subtree rooted at path, which must match exactly
// one node.
func (s *Session) Tree(path string) (Node, error) {
	children, err := s.eng.Match(path + "/*")
	if err != nil {
		return Node{}, err
	}
	node := Node{Label: Label(path)}
	val, ok, err := s.eng.Get(path)
	if err != nil {
		return Node{}, err
	}
	if ok {
		node.Value = &val
	}
	for _, c := range children {
		child, err := s.Tree(c)
		if err != nil {
			return Node{}, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}
