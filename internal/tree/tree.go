// Package tree holds the node/layer structure produced by the builder and
// searched by the retriever.
//
// A published Tree is treated as immutable: readers hold a *Tree without
// locking, and corrections go through WithNodeText, which returns a new Tree
// sharing every untouched node.
package tree

import (
	"fmt"
	"slices"
	"sort"
)

// Node is a leaf chunk (Layer 0, no children) or a summary of its children.
// Children is ascending and duplicate-free; with soft clustering a node may
// be the child of several parents, so the structure is a DAG.
type Node struct {
	Index      int                  `json:"index"`
	Text       string               `json:"text"`
	Embeddings map[string][]float32 `json:"embeddings"`
	Children   []int                `json:"children"`
	Layer      int                  `json:"layer"`
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Tree indexes nodes by identity and by layer.
type Tree struct {
	AllNodes     map[int]*Node
	LeafNodes    []int
	LayerToNodes map[int][]int
	NumLayers    int
}

// New assembles a Tree from nodes and validates it.
func New(nodes []*Node) (*Tree, error) {
	t := &Tree{
		AllNodes:     make(map[int]*Node, len(nodes)),
		LayerToNodes: make(map[int][]int),
	}
	for _, n := range nodes {
		if n == nil {
			return nil, fmt.Errorf("nil node")
		}
		if _, dup := t.AllNodes[n.Index]; dup {
			return nil, fmt.Errorf("duplicate node index %d", n.Index)
		}
		t.AllNodes[n.Index] = n
		t.LayerToNodes[n.Layer] = append(t.LayerToNodes[n.Layer], n.Index)
		if n.Layer+1 > t.NumLayers {
			t.NumLayers = n.Layer + 1
		}
	}
	for layer := range t.LayerToNodes {
		sort.Ints(t.LayerToNodes[layer])
	}
	t.LeafNodes = slices.Clone(t.LayerToNodes[0])
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks every structural invariant of the tree.
func (t *Tree) Validate() error {
	if t == nil {
		return fmt.Errorf("nil tree")
	}
	n := len(t.AllNodes)
	if n == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	for i := 0; i < n; i++ {
		node, ok := t.AllNodes[i]
		if !ok {
			return fmt.Errorf("node indices are not sequential: missing %d of %d", i, n)
		}
		if node == nil || node.Index != i {
			return fmt.Errorf("node stored under %d has mismatched index", i)
		}
	}

	seen := make(map[int]int, n)
	for layer := 0; layer < t.NumLayers; layer++ {
		members, ok := t.LayerToNodes[layer]
		if !ok || len(members) == 0 {
			return fmt.Errorf("layer %d is empty", layer)
		}
		for _, idx := range members {
			node, ok := t.AllNodes[idx]
			if !ok {
				return fmt.Errorf("layer %d lists unknown node %d", layer, idx)
			}
			if prev, dup := seen[idx]; dup {
				return fmt.Errorf("node %d appears in layers %d and %d", idx, prev, layer)
			}
			seen[idx] = layer
			if node.Layer != layer {
				return fmt.Errorf("node %d has layer %d but is listed in layer %d", idx, node.Layer, layer)
			}
		}
	}
	if t.NumLayers != len(t.LayerToNodes) {
		return fmt.Errorf("num_layers %d does not match %d layer sets", t.NumLayers, len(t.LayerToNodes))
	}
	if len(seen) != n {
		return fmt.Errorf("layer sets cover %d of %d nodes", len(seen), n)
	}
	if !slices.Equal(sortedCopy(t.LeafNodes), sortedCopy(t.LayerToNodes[0])) {
		return fmt.Errorf("leaf_nodes does not equal layer 0")
	}

	var models []string
	for i := 0; i < n; i++ {
		node := t.AllNodes[i]
		if err := validateChildren(t, node); err != nil {
			return err
		}
		keys := embeddingKeys(node)
		if i == 0 {
			models = keys
		} else if !slices.Equal(keys, models) {
			return fmt.Errorf("node %d has embeddings for %v, expected %v", i, keys, models)
		}
	}
	return nil
}

func validateChildren(t *Tree, node *Node) error {
	if node.Layer == 0 {
		if len(node.Children) != 0 {
			return fmt.Errorf("leaf node %d has children", node.Index)
		}
		return nil
	}
	if len(node.Children) == 0 {
		return fmt.Errorf("summary node %d has no children", node.Index)
	}
	maxChild := -1
	for i, c := range node.Children {
		if i > 0 && c <= node.Children[i-1] {
			return fmt.Errorf("node %d children are not ascending and unique", node.Index)
		}
		child, ok := t.AllNodes[c]
		if !ok {
			return fmt.Errorf("node %d references missing child %d", node.Index, c)
		}
		if child.Layer >= node.Layer {
			return fmt.Errorf("node %d (layer %d) has child %d at layer %d", node.Index, node.Layer, c, child.Layer)
		}
		maxChild = max(maxChild, child.Layer)
	}
	if node.Layer != maxChild+1 {
		return fmt.Errorf("node %d has layer %d, expected %d", node.Index, node.Layer, maxChild+1)
	}
	return nil
}

// Node returns the node with the given index.
func (t *Tree) Node(index int) (*Node, bool) {
	n, ok := t.AllNodes[index]
	return n, ok
}

// Layer returns the nodes of one layer in ascending index order.
func (t *Tree) Layer(layer int) []*Node {
	idx := t.LayerToNodes[layer]
	out := make([]*Node, 0, len(idx))
	for _, i := range idx {
		out = append(out, t.AllNodes[i])
	}
	return out
}

// Nodes returns every node in ascending index order.
func (t *Tree) Nodes() []*Node {
	out := make([]*Node, 0, len(t.AllNodes))
	for i := 0; i < len(t.AllNodes); i++ {
		out = append(out, t.AllNodes[i])
	}
	return out
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.AllNodes) }

// Models returns the embedding model names carried by every node.
func (t *Tree) Models() []string {
	if n, ok := t.AllNodes[0]; ok {
		return embeddingKeys(n)
	}
	return nil
}

// WithNodeText returns a copy of the tree whose node index carries text.
// Summaries above the node are not regenerated.
func (t *Tree) WithNodeText(index int, text string) (*Tree, bool) {
	old, ok := t.AllNodes[index]
	if !ok {
		return nil, false
	}
	cp := t.shallowClone()
	updated := *old
	updated.Text = text
	cp.AllNodes[index] = &updated
	return cp, true
}

func (t *Tree) shallowClone() *Tree {
	cp := &Tree{
		AllNodes:     make(map[int]*Node, len(t.AllNodes)),
		LeafNodes:    slices.Clone(t.LeafNodes),
		LayerToNodes: make(map[int][]int, len(t.LayerToNodes)),
		NumLayers:    t.NumLayers,
	}
	for k, v := range t.AllNodes {
		cp.AllNodes[k] = v
	}
	for k, v := range t.LayerToNodes {
		cp.LayerToNodes[k] = slices.Clone(v)
	}
	return cp
}

func embeddingKeys(n *Node) []string {
	keys := make([]string, 0, len(n.Embeddings))
	for k := range n.Embeddings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCopy(s []int) []int {
	out := slices.Clone(s)
	sort.Ints(out)
	return out
}
