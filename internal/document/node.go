// Package document models a tax return as an ordered element tree and converts it
// to and from its canonical serialized form.
package document

import (
	"strconv"
	"strings"
)

// Attr is a single attribute. Order is significant for serialization.
type Attr struct {
	Name  string
	Value string
}

// Node is one element of a return. A node carries either a text Value or Children,
// never both. Line and Column are set by Parse and are zero for built trees.
type Node struct {
	Name     string
	Attrs    []Attr
	Value    string
	Children []*Node

	Line   int
	Column int
}

// NewNode returns an element with the given name.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// Leaf returns a text element.
func Leaf(name, value string) *Node {
	return &Node{Name: name, Value: value}
}

// Append adds children in order and returns n.
func (n *Node) Append(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// SetAttr replaces an existing attribute or appends a new one.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// IsLeaf reports whether the node has no child elements.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Child returns the first direct child with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every direct child with the given name.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Find resolves a slash-separated path relative to n. A segment may carry a
// 1-based index, e.g. "Form8949/Transaction[2]/ProceedsAmt".
func (n *Node) Find(path string) *Node {
	cur := n
	for _, seg := range splitPath(path) {
		name, idx := parseSegment(seg)
		matches := cur.ChildrenNamed(name)
		if idx < 1 || idx > len(matches) {
			return nil
		}
		cur = matches[idx-1]
	}
	return cur
}

// Text returns the value at path and whether the element exists.
func (n *Node) Text(path string) (string, bool) {
	found := n.Find(path)
	if found == nil {
		return "", false
	}
	return found.Value, true
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Name:   n.Name,
		Value:  n.Value,
		Line:   n.Line,
		Column: n.Column,
	}
	if len(n.Attrs) > 0 {
		out.Attrs = append([]Attr(nil), n.Attrs...)
	}
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// SegmentNames returns the path segment for each child of n: the child name,
// suffixed with a 1-based index when the name repeats among its siblings.
func (n *Node) SegmentNames() []string {
	counts := make(map[string]int, len(n.Children))
	for _, c := range n.Children {
		counts[c.Name]++
	}
	seen := make(map[string]int, len(n.Children))
	out := make([]string, len(n.Children))
	for i, c := range n.Children {
		if counts[c.Name] == 1 {
			out[i] = c.Name
			continue
		}
		seen[c.Name]++
		out[i] = c.Name + "[" + strconv.Itoa(seen[c.Name]) + "]"
	}
	return out
}

// Walk visits n and every descendant depth-first, passing the path of each node
// relative to n ("" for n itself). Returning false from fn skips the subtree.
func (n *Node) Walk(fn func(path string, node *Node) bool) {
	walk(n, "", fn)
}

func walk(n *Node, path string, fn func(string, *Node) bool) {
	if !fn(path, n) {
		return
	}
	segs := n.SegmentNames()
	for i, c := range n.Children {
		walk(c, JoinPath(path, segs[i]), fn)
	}
}

// LeafPath is a text element and its path relative to the node it was listed from.
type LeafPath struct {
	Path  string
	Value string
}

// Leaves lists every text element under n in document order.
func (n *Node) Leaves() []LeafPath {
	var out []LeafPath
	n.Walk(func(path string, c *Node) bool {
		if c != n && c.IsLeaf() {
			out = append(out, LeafPath{Path: path, Value: c.Value})
		}
		return true
	})
	return out
}

// JoinPath joins path segments with "/".
func JoinPath(parent, seg string) string {
	if parent == "" {
		return seg
	}
	return parent + "/" + seg
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func parseSegment(seg string) (string, int) {
	open := strings.IndexByte(seg, '[')
	if open < 0 || !strings.HasSuffix(seg, "]") {
		return seg, 1
	}
	idx, err := strconv.Atoi(seg[open+1 : len(seg)-1])
	if err != nil {
		return seg, 0
	}
	return seg[:open], idx
}
