package tree

import "slices"

// NodeInfo is the read-only view of one node.
type NodeInfo struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	Layer    int    `json:"layer"`
	Children []int  `json:"children"`
}

// NodesInfo lists leaf nodes and every layer's nodes.
type NodesInfo struct {
	LeafNodes    []NodeInfo         `json:"leaf_nodes"`
	SummaryNodes map[int][]NodeInfo `json:"summary_nodes"`
	NumLayers    int                `json:"num_layers"`
	TotalNodes   int                `json:"total_nodes"`
}

// Info is the aggregate shape of a tree.
type Info struct {
	NumLayers        int `json:"num_layers"`
	TotalNodes       int `json:"total_nodes"`
	LeafNodeCount    int `json:"leaf_node_count"`
	SummaryNodeCount int `json:"summary_node_count"`
}

// Info summarizes the tree.
func (t *Tree) Info() Info {
	return Info{
		NumLayers:        t.NumLayers,
		TotalNodes:       len(t.AllNodes),
		LeafNodeCount:    len(t.LeafNodes),
		SummaryNodeCount: len(t.AllNodes) - len(t.LeafNodes),
	}
}

// NodesInfo projects every node. SummaryNodes is keyed by every layer,
// layer 0 included.
func (t *Tree) NodesInfo() NodesInfo {
	out := NodesInfo{
		LeafNodes:    make([]NodeInfo, 0, len(t.LeafNodes)),
		SummaryNodes: make(map[int][]NodeInfo, t.NumLayers),
		NumLayers:    t.NumLayers,
		TotalNodes:   len(t.AllNodes),
	}
	for _, idx := range t.LeafNodes {
		out.LeafNodes = append(out.LeafNodes, nodeInfo(t.AllNodes[idx]))
	}
	for layer := 0; layer < t.NumLayers; layer++ {
		nodes := t.Layer(layer)
		infos := make([]NodeInfo, 0, len(nodes))
		for _, n := range nodes {
			infos = append(infos, nodeInfo(n))
		}
		out.SummaryNodes[layer] = infos
	}
	return out
}

func nodeInfo(n *Node) NodeInfo {
	children := slices.Clone(n.Children)
	if children == nil {
		children = []int{}
	}
	return NodeInfo{Index: n.Index, Text: n.Text, Layer: n.Layer, Children: children}
}
