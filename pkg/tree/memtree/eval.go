package memtree

import (
	"fmt"
)

// eval returns the nodes matching steps below root, in document order.
func eval(root *Node, steps []step) []*Node {
	ctx := []*Node{root}
	for _, st := range steps {
		var next []*Node
		seen := make(map[*Node]bool)
		for _, n := range ctx {
			for _, m := range applyStep(n, st) {
				if !seen[m] {
					seen[m] = true
					next = append(next, m)
				}
			}
		}
		ctx = next
		if len(ctx) == 0 {
			break
		}
	}
	return ctx
}

func applyStep(n *Node, st step) []*Node {
	if st.axis == axisChild {
		return filter(candidates(n, st.name), st.preds)
	}
	var out []*Node
	var walk func(*Node)
	walk = func(d *Node) {
		out = append(out, filter(candidates(d, st.name), st.preds)...)
		for _, c := range d.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

func candidates(n *Node, name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if name == "*" || c.Label == name {
			out = append(out, c)
		}
	}
	return out
}

func filter(nodes []*Node, preds []pred) []*Node {
	for _, p := range preds {
		if len(nodes) == 0 {
			return nil
		}
		switch p.kind {
		case predIndex:
			if p.index > len(nodes) {
				return nil
			}
			nodes = []*Node{nodes[p.index-1]}
		case predLast:
			nodes = nodes[len(nodes)-1:]
		case predLastPlusOne:
			return nil
		default:
			var kept []*Node
			for _, n := range nodes {
				if p.holds(n) {
					kept = append(kept, n)
				}
			}
			nodes = kept
		}
	}
	return nodes
}

func (p pred) holds(n *Node) bool {
	var ok bool
	switch p.kind {
	case predChildExists:
		return n.Child(p.label) != nil
	case predChildValue:
		for _, c := range n.Children {
			if c.Label == p.label && c.Value != nil && *c.Value == p.value {
				ok = true
				break
			}
		}
	case predLabel:
		ok = n.Label == p.value
	case predSelfValue:
		ok = n.Value != nil && *n.Value == p.value
	}
	if p.neg {
		return !ok
	}
	return ok
}

// resolveOrCreate returns the single node matching steps, creating it and
// any missing ancestors if nothing matches.
func resolveOrCreate(root *Node, steps []step, pathx string) (*Node, error) {
	nodes := eval(root, steps)
	switch len(nodes) {
	case 1:
		return nodes[0], nil
	case 0:
	default:
		return nil, fmt.Errorf("%w: %s", ErrMultipleMatches, pathx)
	}

	// find the longest prefix that resolves to an existing node
	parent := root
	i := len(steps) - 1
	for ; i > 0; i-- {
		prefix := eval(root, steps[:i])
		if len(prefix) == 1 {
			parent = prefix[0]
			break
		}
		if len(prefix) > 1 {
			return nil, fmt.Errorf("%w: %s", ErrMultipleMatches, pathx)
		}
	}
	if i < 0 {
		i = 0
	}
	for _, st := range steps[i:] {
		if !st.creatable() {
			return nil, fmt.Errorf("%w: cannot create node for %s", ErrBadPath, pathx)
		}
		c := &Node{Label: st.name}
		parent.insertChild(c)
		parent = c
	}
	return parent, nil
}
