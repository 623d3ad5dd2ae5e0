// Package retriever selects a token-bounded set of tree nodes relevant to a
// query, either over the whole collapsed tree or layer by layer from the
// top.
package retriever

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/chunker"
	"github.com/dgallion1/raptree/internal/metrics"
	"github.com/dgallion1/raptree/internal/provider"
	"github.com/dgallion1/raptree/internal/tree"
)

// SelectionMode chooses between a fixed count and a similarity cutoff.
type SelectionMode string

const (
	SelectTopK      SelectionMode = "top_k"
	SelectThreshold SelectionMode = "threshold"
)

// Defaults.
const (
	DefaultTopK      = 10
	DefaultThreshold = 0.5
	DefaultMaxTokens = 3500
)

// Options parameterize one retrieval.
type Options struct {
	SelectionMode SelectionMode
	TopK          int
	Threshold     float64
	// StartLayer is the first layer searched in layered mode; -1 means the
	// topmost layer.
	StartLayer int
	// LayersToTraverse bounds the descent in layered mode; 0 means down to
	// the leaves.
	LayersToTraverse      int
	ContextEmbeddingModel string
	MaxTokens             int
	CollapseTree          bool
}

// DefaultOptions returns collapsed top-10 retrieval under 3500 tokens.
func DefaultOptions(model string) Options {
	return Options{
		SelectionMode:         SelectTopK,
		TopK:                  DefaultTopK,
		Threshold:             DefaultThreshold,
		StartLayer:            -1,
		ContextEmbeddingModel: model,
		MaxTokens:             DefaultMaxTokens,
		CollapseTree:          true,
	}
}

// Validate checks options that do not depend on a tree.
func (o Options) Validate() error {
	switch o.SelectionMode {
	case SelectTopK:
		if o.TopK <= 0 {
			return apperr.Configf("top_k", "must be > 0 in top_k mode, got %d", o.TopK)
		}
	case SelectThreshold:
		if o.Threshold < 0 || o.Threshold > 1 {
			return apperr.Configf("threshold", "must be within [0, 1], got %g", o.Threshold)
		}
	default:
		return apperr.Configf("selection_mode", "unsupported mode %q", o.SelectionMode)
	}
	if o.MaxTokens <= 0 {
		return apperr.Configf("max_tokens", "must be > 0, got %d", o.MaxTokens)
	}
	if o.StartLayer < -1 {
		return apperr.Configf("start_layer", "must be >= -1, got %d", o.StartLayer)
	}
	if o.LayersToTraverse < 0 {
		return apperr.Configf("layers_to_traverse", "must be >= 0, got %d", o.LayersToTraverse)
	}
	if o.ContextEmbeddingModel == "" {
		return apperr.Configf("context_embedding_model", "is required")
	}
	return nil
}

// Provenance identifies one node that contributed to a context.
type Provenance struct {
	Layer int     `json:"layer"`
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Result is an assembled context and the nodes it came from, in order.
type Result struct {
	Context string       `json:"context"`
	Nodes   []Provenance `json:"nodes"`
	Tokens  int          `json:"tokens"`
}

// Retriever searches one immutable tree.
type Retriever struct {
	tree      *tree.Tree
	embedders map[string]provider.Embedder
	tok       chunker.Tokenizer
}

// New returns a Retriever over t. A nil tree yields
// ErrRetrieverNotInitialized.
func New(t *tree.Tree, embedders map[string]provider.Embedder, tok chunker.Tokenizer) (*Retriever, error) {
	if t == nil {
		return nil, apperr.ErrRetrieverNotInitialized
	}
	if tok == nil {
		tok = chunker.WordTokenizer{}
	}
	return &Retriever{tree: t, embedders: embedders, tok: tok}, nil
}

// Retrieve assembles a context for query.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) (*Result, error) {
	if r == nil || r.tree == nil {
		return nil, apperr.ErrRetrieverNotInitialized
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.StartLayer >= r.tree.NumLayers {
		return nil, apperr.Configf("start_layer", "%d is beyond the top layer %d", opts.StartLayer, r.tree.NumLayers-1)
	}
	embedder, ok := r.embedders[opts.ContextEmbeddingModel]
	if !ok {
		return nil, apperr.Configf("context_embedding_model", "no embedder named %q", opts.ContextEmbeddingModel)
	}
	if !slices.Contains(r.tree.Models(), opts.ContextEmbeddingModel) {
		return nil, apperr.Configf("context_embedding_model", "tree has no %q embeddings", opts.ContextEmbeddingModel)
	}

	qv, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var ranked []scored
	if opts.CollapseTree {
		metrics.Retrievals.WithLabelValues("collapsed").Inc()
		ranked = r.selectNodes(r.tree.Nodes(), qv, opts)
	} else {
		metrics.Retrievals.WithLabelValues("layered").Inc()
		ranked = r.traverse(qv, opts)
	}

	res := r.assemble(ranked, opts.MaxTokens)
	metrics.ContextTokens.Observe(float64(res.Tokens))
	return res, nil
}

type scored struct {
	node  *tree.Node
	score float64
}

// selectNodes ranks candidates by similarity and applies the selection
// policy. Ties break toward the lower index.
func (r *Retriever) selectNodes(candidates []*tree.Node, qv []float32, opts Options) []scored {
	if len(candidates) == 0 {
		return nil
	}
	ranked := make([]scored, len(candidates))
	for i, n := range candidates {
		ranked[i] = scored{node: n, score: Cosine(qv, n.Embeddings[opts.ContextEmbeddingModel])}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].node.Index < ranked[j].node.Index
	})

	if opts.SelectionMode == SelectTopK {
		return ranked[:min(opts.TopK, len(ranked))]
	}
	cut := 0
	for cut < len(ranked) && ranked[cut].score >= opts.Threshold {
		cut++
	}
	if cut == 0 {
		// Never return nothing: fall back to the single best node.
		cut = 1
	}
	return ranked[:cut]
}

// traverse selects layer by layer from the start layer downwards; each
// step's candidates are the children of the previous step's selection.
func (r *Retriever) traverse(qv []float32, opts Options) []scored {
	start := opts.StartLayer
	if start < 0 {
		start = r.tree.NumLayers - 1
	}
	steps := start + 1
	if opts.LayersToTraverse > 0 {
		steps = min(opts.LayersToTraverse, start+1)
	}

	var out []scored
	candidates := r.tree.Layer(start)
	for step := 0; step < steps && len(candidates) > 0; step++ {
		selected := r.selectNodes(candidates, qv, opts)
		out = append(out, selected...)
		if step == steps-1 {
			break
		}
		candidates = r.childrenOf(selected)
	}
	return out
}

func (r *Retriever) childrenOf(selected []scored) []*tree.Node {
	seen := make(map[int]bool)
	var idx []int
	for _, s := range selected {
		for _, c := range s.node.Children {
			if !seen[c] {
				seen[c] = true
				idx = append(idx, c)
			}
		}
	}
	sort.Ints(idx)
	out := make([]*tree.Node, 0, len(idx))
	for _, i := range idx {
		if n, ok := r.tree.Node(i); ok {
			out = append(out, n)
		}
	}
	return out
}

// assemble joins node texts in ranking order and stops before the first
// node that would push the context over maxTokens.
func (r *Retriever) assemble(ranked []scored, maxTokens int) *Result {
	res := &Result{Nodes: []Provenance{}}
	var parts []string
	for _, s := range ranked {
		candidate := strings.Join(append(parts, s.node.Text), "\n\n")
		n := r.tok.Count(candidate)
		if n > maxTokens {
			break
		}
		parts = append(parts, s.node.Text)
		res.Context = candidate
		res.Tokens = n
		res.Nodes = append(res.Nodes, Provenance{
			Layer: s.node.Layer,
			Index: s.node.Index,
			Text:  s.node.Text,
			Score: s.score,
		})
	}
	return res
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// zero or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
