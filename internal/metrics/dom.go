package metrics

// NodeType mirrors the DOM nodeType values.
type NodeType int

const (
	ElementNode  NodeType = 1
	TextNode     NodeType = 3
	CommentNode  NodeType = 8
	DocumentNode NodeType = 9
)

// Node is a read-only DOM tree node.
type Node struct {
	Type     NodeType `json:"type" yaml:"type"`
	Name     string   `json:"name,omitempty" yaml:"name"`
	Children []*Node  `json:"children,omitempty" yaml:"children"`
}

// Document is the host's view of the page at finalization time.
type Document struct {
	Root *Node
	// SerializedSize is the length of the serialized document markup.
	SerializedSize int
}

// DOMStats summarizes the document tree. TotalNodes is the number of nodes
// matched by the universal selector, so text and comment nodes are not
// counted and it equals Elements.
type DOMStats struct {
	Elements     int `json:"elements"`
	DocumentSize int `json:"documentSize"`
	MaxDOMDepth  int `json:"maxDOMDepth"`
	TotalNodes   int `json:"totalNodes"`
}

type nodeDepth struct {
	node  *Node
	depth int
}

// ComputeDOMStats walks the tree depth-first with an explicit stack. Depth
// counts element nodes only: the outermost element is depth 1.
func ComputeDOMStats(doc Document) DOMStats {
	stats := DOMStats{DocumentSize: doc.SerializedSize}
	if doc.Root == nil {
		return stats
	}

	stack := []nodeDepth{{node: doc.Root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.node == nil {
			continue
		}

		depth := top.depth
		if top.node.Type == ElementNode {
			stats.Elements++
			stats.TotalNodes++
			depth++
			if depth > stats.MaxDOMDepth {
				stats.MaxDOMDepth = depth
			}
		}

		for i := len(top.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, nodeDepth{node: top.node.Children[i], depth: depth})
		}
	}
	return stats
}
