package resolve

import (
	"strconv"
	"strings"
)

// Path is an ordered list of segments: string keys for objects and int
// indices for arrays.
type Path []any

// P builds a Path from keys and indices.
func P(segments ...any) Path { return Path(segments) }

// Dotted builds a Path from a dot-separated expression such as
// "uplink_message.rx_metadata.0.rssi". Segments that parse as non-negative
// integers become array indices.
func Dotted(expr string) Path {
	parts := strings.Split(expr, ".")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		if i, err := strconv.Atoi(part); err == nil && i >= 0 {
			p = append(p, i)
			continue
		}
		p = append(p, part)
	}
	return p
}

// Paths converts dotted expressions into Paths, keeping their order.
func Paths(exprs ...string) []Path {
	out := make([]Path, len(exprs))
	for i, e := range exprs {
		out[i] = Dotted(e)
	}
	return out
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		switch s := seg.(type) {
		case string:
			parts[i] = s
		case int:
			parts[i] = strconv.Itoa(s)
		default:
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ".")
}

// Lookup follows path from doc. It reports false when a segment is missing,
// addresses the wrong container type, or indexes out of bounds. A JSON null
// at the end of the path is returned as present.
func Lookup(doc *Value, path Path) (*Value, bool) {
	cur := doc
	for _, seg := range path {
		var ok bool
		switch s := seg.(type) {
		case string:
			cur, ok = cur.Field(s)
		case int:
			cur, ok = cur.Index(s)
		}
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// FirstPresent tries each candidate path in order and returns the first one
// that resolves to a non-null value.
func FirstPresent(doc *Value, candidates ...Path) (*Value, bool) {
	for _, p := range candidates {
		if v, ok := Lookup(doc, p); ok && !v.IsNull() {
			return v, true
		}
	}
	return nil, false
}

type frame struct {
	node  *Value
	depth int
}

// SearchKeys walks doc looking for a key whose name matches one of names
// (case-insensitively) and whose value is a non-null scalar. Containers are
// expanded only while they sit fewer than maxDepth edges from the root, so a
// match is never deeper than maxDepth. Each container is visited at most
// once, which keeps aliased or self-referencing documents finite.
//
// The walk is a depth-first stack traversal. When several keys match, which
// one wins depends on traversal order; callers get "some match within the
// bound", not a semantically chosen one.
func SearchKeys(doc *Value, names []string, maxDepth int) (*Value, bool) {
	if doc == nil || maxDepth <= 0 {
		return nil, false
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = struct{}{}
	}

	visited := map[*Value]struct{}{}
	stack := []frame{{node: doc, depth: 0}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[top.node]; seen {
			continue
		}
		visited[top.node] = struct{}{}

		var children []*Value
		switch top.node.Kind() {
		case KindObject:
			for _, key := range top.node.keys {
				child := top.node.obj[key]
				if _, ok := want[strings.ToLower(key)]; ok && child.IsScalar() {
					return child, true
				}
				children = append(children, child)
			}
		case KindArray:
			children = top.node.arr
		default:
			continue
		}

		if top.depth+1 >= maxDepth {
			// Children of this node sit at depth+1; their own keys would be
			// matched at depth+2, past the bound.
			continue
		}
		for i := len(children) - 1; i >= 0; i-- {
			c := children[i]
			if k := c.Kind(); k == KindObject || k == KindArray {
				stack = append(stack, frame{node: c, depth: top.depth + 1})
			}
		}
	}
	return nil, false
}
