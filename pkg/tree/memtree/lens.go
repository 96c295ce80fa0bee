package memtree

import (
	"fmt"
)

// Lens turns the text of a file into a list of top-level nodes and back.
type Lens interface {
	// Parse returns the nodes for text. Failures should be reported as a
	// *ParseError so the position ends up in the error record.
	Parse(text string) ([]*Node, error)
	// Render produces the text for nodes. Failures should be reported as a
	// *RenderError naming the offending node.
	Render(nodes []*Node) (string, error)
}

// ParseError describes text a lens could not parse.
type ParseError struct {
	Line    int
	Char    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Char, e.Message)
}

// RenderError describes a node a lens could not turn into text. Node is the
// offending node; Message says what is wrong with it.
type RenderError struct {
	Node    *Node
	Message string
}

func (e *RenderError) Error() string {
	label := ""
	if e.Node != nil {
		label = e.Node.Label
	}
	return fmt.Sprintf("cannot render node %q: %s", label, e.Message)
}
