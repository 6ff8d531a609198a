// Package dom models the content tree a module instance renders into its
// display region. It is deliberately minimal: the orchestrator only needs to
// attach, retain, and swap whole subtrees, never to style or lay them out.
package dom

// Node is one element of a module's content tree.
type Node struct {
	Tag      string
	Class    string
	Text     string
	Children []*Node
}

// NewNode returns an empty element with the given tag.
func NewNode(tag string) *Node {
	return &Node{Tag: tag}
}

// NewText returns a text-only element.
func NewText(text string) *Node {
	return &Node{Tag: "span", Text: text}
}

// Append adds children to the node and returns it for chaining.
func (n *Node) Append(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}
