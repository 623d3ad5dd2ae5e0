// Package builder turns raw text into a summarization tree: leaf chunks are
// embedded, clustered, summarized and re-embedded layer by layer until the
// layer cap is reached or a layer collapses into a single cluster.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/chunker"
	"github.com/dgallion1/raptree/internal/cluster"
	"github.com/dgallion1/raptree/internal/provider"
	"github.com/dgallion1/raptree/internal/tree"
)

// Clusterer groups the nodes of one layer.
type Clusterer interface {
	Cluster(ctx context.Context, items []cluster.Item, opts cluster.Options) ([][]int, error)
}

// Progress reports a completed layer. Layer 0 is the leaf layer.
type Progress struct {
	Layer      int
	Nodes      int // nodes created on this layer
	TotalNodes int
}

// Builder constructs trees. It is safe for concurrent use; every Build
// works on its own node set.
type Builder struct {
	cfg        Config
	providers  *provider.Set
	clusterer  Clusterer
	tok        chunker.Tokenizer
	log        *slog.Logger
	onProgress func(Progress)
}

// Option customizes a Builder.
type Option func(*Builder)

func WithLogger(l *slog.Logger) Option { return func(b *Builder) { b.log = l } }

func WithTokenizer(t chunker.Tokenizer) Option { return func(b *Builder) { b.tok = t } }

func WithClusterer(c Clusterer) Option { return func(b *Builder) { b.clusterer = c } }

// WithProgress registers a callback invoked after each layer.
func WithProgress(fn func(Progress)) Option { return func(b *Builder) { b.onProgress = fn } }

// New validates cfg against providers and returns a Builder.
func New(cfg Config, providers *provider.Set, opts ...Option) (*Builder, error) {
	if providers == nil || providers.Summarizer == nil {
		return nil, apperr.Configf("summarization_model", "a summarizer is required")
	}
	if err := cfg.Validate(providers.Models()); err != nil {
		return nil, err
	}
	b := &Builder{
		cfg:       cfg,
		providers: providers,
		tok:       chunker.WordTokenizer{},
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.clusterer == nil {
		b.clusterer = cluster.New(b.log)
	}
	return b, nil
}

// Config returns the builder configuration.
func (b *Builder) Config() Config { return b.cfg }

// Reporting returns a copy of b that reports layer progress to fn instead
// of the callback given at construction.
func (b *Builder) Reporting(fn func(Progress)) *Builder {
	cp := *b
	cp.onProgress = fn
	return &cp
}

// Build constructs a tree from text. Either the whole tree is returned or
// an error; partial trees are never exposed.
func (b *Builder) Build(ctx context.Context, text string) (*tree.Tree, error) {
	start := time.Now()
	chunks, err := chunker.Split(text, b.cfg.ChunkMaxTokens, b.tok)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, apperr.ErrEmptyDocument
	}
	b.log.Info("chunked document", "chunks", len(chunks))

	all, err := b.buildLeaves(ctx, chunks)
	if err != nil {
		return nil, err
	}
	b.progress(Progress{Layer: 0, Nodes: len(all), TotalNodes: len(all)})

	current := all
	for layer := 0; layer < b.cfg.NumLayers && len(current) > 1; layer++ {
		next, collapsed, err := b.buildLayer(ctx, layer, current, len(all))
		if err != nil {
			return nil, fmt.Errorf("build layer %d: %w", layer+1, err)
		}
		all = append(all, next...)
		b.log.Info("built layer", "layer", layer+1, "clusters", len(next), "from_nodes", len(current))
		b.progress(Progress{Layer: layer + 1, Nodes: len(next), TotalNodes: len(all)})
		current = next
		if collapsed {
			break
		}
	}

	t, err := tree.New(all)
	if err != nil {
		return nil, fmt.Errorf("assemble tree: %w", err)
	}
	b.log.Info("tree built", "nodes", t.Len(), "layers", t.NumLayers, "duration", time.Since(start))
	return t, nil
}

func (b *Builder) buildLeaves(ctx context.Context, chunks []string) ([]*tree.Node, error) {
	leaves := make([]*tree.Node, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			emb, err := b.providers.EmbedAll(gctx, chunk)
			if err != nil {
				return fmt.Errorf("embed leaf %d: %w", i, err)
			}
			leaves[i] = &tree.Node{Index: i, Text: chunk, Embeddings: emb, Layer: 0}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return leaves, nil
}

// buildLayer clusters current and creates one summary node per cluster,
// with indices base, base+1, ... in cluster order. collapsed reports a
// single cluster covering every node of current.
func (b *Builder) buildLayer(ctx context.Context, layer int, current []*tree.Node, base int) ([]*tree.Node, bool, error) {
	byIndex := make(map[int]*tree.Node, len(current))
	items := make([]cluster.Item, len(current))
	for i, n := range current {
		byIndex[n.Index] = n
		items[i] = cluster.Item{
			Index:  n.Index,
			Vector: n.Embeddings[b.cfg.ClusterEmbeddingModel],
			Tokens: b.tok.Count(n.Text),
		}
	}

	clusters, err := b.clusterer.Cluster(ctx, items, b.cfg.clusterOptions(layer))
	if err != nil {
		return nil, false, fmt.Errorf("cluster: %w", err)
	}
	if len(clusters) == 0 {
		return nil, false, fmt.Errorf("cluster: no clusters for %d nodes", len(current))
	}

	next := make([]*tree.Node, len(clusters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for ci, members := range clusters {
		g.Go(func() error {
			texts := make([]string, len(members))
			for i, idx := range members {
				n, ok := byIndex[idx]
				if !ok {
					return fmt.Errorf("cluster %d references node %d outside the layer", ci, idx)
				}
				texts[i] = n.Text
			}
			summary, err := b.summarize(gctx, texts)
			if err != nil {
				return fmt.Errorf("summarize cluster %d: %w", ci, err)
			}
			emb, err := b.providers.EmbedAll(gctx, summary)
			if err != nil {
				return fmt.Errorf("embed summary %d: %w", base+ci, err)
			}
			next[ci] = &tree.Node{
				Index:      base + ci,
				Text:       summary,
				Embeddings: emb,
				Children:   members,
				Layer:      layer + 1,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	collapsed := len(clusters) == 1 && len(clusters[0]) == len(current)
	return next, collapsed, nil
}

// summarize calls the summarizer and holds the result to the configured
// length.
func (b *Builder) summarize(ctx context.Context, texts []string) (string, error) {
	summary, err := b.providers.Summarizer.Summarize(ctx, texts, b.cfg.SummarizationLength)
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		b.log.Warn("empty summary, falling back to member text")
		summary = strings.Join(texts, " ")
	}
	return chunker.Truncate(summary, b.cfg.SummarizationLength, b.tok), nil
}

func (b *Builder) progress(p Progress) {
	if b.onProgress != nil {
		b.onProgress(p)
	}
}
