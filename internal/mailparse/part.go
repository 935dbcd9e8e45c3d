// Package mailparse locates renderable body content and document attachments
// inside a message's MIME tree. Output is purely structural; nothing here
// interprets what the content means.
package mailparse

// Part is one node of a message's MIME tree: either a container
// (multipart/*, Children set) or a leaf carrying decoded content.
type Part struct {
	MediaType string
	Filename  string
	Body      []byte // decoded content, empty for containers and detached attachments
	Children  []*Part
}

// IsContainer reports whether the part only groups other parts.
func (p *Part) IsContainer() bool {
	return len(p.Children) > 0
}

const (
	// maxDepth bounds traversal on arbitrarily nested trees.
	maxDepth = 32
	// maxParts bounds traversal on malformed trees with duplicated or
	// self-referencing children.
	maxParts = 1024
)

type frame struct {
	part  *Part
	depth int
}

// walk visits parts depth-first with an explicit stack, stopping at the depth
// and node caps so a cyclic or degenerate tree can never hang processing.
// Children are visited in declaration order.
func walk(root *Part, visit func(p *Part, depth int) bool) {
	if root == nil {
		return
	}
	stack := []frame{{part: root, depth: 0}}
	visited := 0
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.part == nil || f.depth > maxDepth {
			continue
		}
		visited++
		if visited > maxParts {
			return
		}
		if !visit(f.part, f.depth) {
			return
		}
		// push children in reverse so they pop in declaration order
		for i := len(f.part.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{part: f.part.Children[i], depth: f.depth + 1})
		}
	}
}
