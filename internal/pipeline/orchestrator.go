// Package pipeline is the public facade over tree building, retrieval,
// question answering and snapshots. It owns the current tree and runs
// asynchronous build jobs.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/builder"
	"github.com/dgallion1/raptree/internal/chunker"
	"github.com/dgallion1/raptree/internal/loader"
	"github.com/dgallion1/raptree/internal/metrics"
	"github.com/dgallion1/raptree/internal/provider"
	"github.com/dgallion1/raptree/internal/retriever"
	"github.com/dgallion1/raptree/internal/snapshot"
	"github.com/dgallion1/raptree/internal/tree"
)

// TreeInfo is the aggregate shape of the current tree.
type TreeInfo = tree.Info

// Config parameterizes an Orchestrator.
type Config struct {
	Builder  builder.Config
	Retrieve retriever.Options

	JobWorkers   int
	MaxQueueSize int
	JobTTL       time.Duration

	Snapshots snapshot.Options
}

// AddOptions controls what happens when a tree already exists. Overwrite
// grants consent up front; otherwise Confirm, when set, is asked with the
// current tree's shape.
type AddOptions struct {
	Overwrite bool
	Confirm   func(TreeInfo) bool
	// Progress receives layer completions of this build.
	Progress func(builder.Progress)
}

// Answer is a QA response with the nodes its context came from.
type Answer struct {
	Answer  string                 `json:"answer"`
	Context string                 `json:"context"`
	Nodes   []retriever.Provenance `json:"nodes"`
}

// Orchestrator holds the current tree. Readers take a snapshot of the tree
// pointer and work lock-free; writers serialize on writeMu and swap the
// pointer only after success.
type Orchestrator struct {
	mu   sync.RWMutex
	tree *tree.Tree

	writeMu sync.Mutex

	builder   *builder.Builder
	providers *provider.Set
	tok       chunker.Tokenizer
	cfg       Config
	log       *slog.Logger

	jobs    *JobStore
	queue   chan *Job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stateMu sync.Mutex
	started bool
	stopped bool
}

// Option customizes an Orchestrator.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	log       *slog.Logger
	tok       chunker.Tokenizer
	clusterer builder.Clusterer
}

func WithLogger(l *slog.Logger) Option { return func(o *orchestratorOptions) { o.log = l } }

func WithTokenizer(t chunker.Tokenizer) Option { return func(o *orchestratorOptions) { o.tok = t } }

// WithClusterer replaces the clustering engine used by builds.
func WithClusterer(c builder.Clusterer) Option {
	return func(o *orchestratorOptions) { o.clusterer = c }
}

// New validates cfg against providers. Configuration problems surface here,
// not on first use.
func New(cfg Config, providers *provider.Set, opts ...Option) (*Orchestrator, error) {
	oo := orchestratorOptions{log: slog.Default(), tok: chunker.WordTokenizer{}}
	for _, opt := range opts {
		opt(&oo)
	}
	if providers == nil {
		return nil, apperr.Configf("providers", "a provider set is required")
	}
	if err := cfg.Retrieve.Validate(); err != nil {
		return nil, err
	}
	if !slices.Contains(providers.Models(), cfg.Retrieve.ContextEmbeddingModel) {
		return nil, apperr.Configf("context_embedding_model", "%q is not among the embedding models %v",
			cfg.Retrieve.ContextEmbeddingModel, providers.Models())
	}
	if cfg.JobWorkers <= 0 {
		cfg.JobWorkers = 1
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 16
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = time.Hour
	}

	bopts := []builder.Option{builder.WithLogger(oo.log), builder.WithTokenizer(oo.tok)}
	if oo.clusterer != nil {
		bopts = append(bopts, builder.WithClusterer(oo.clusterer))
	}
	b, err := builder.New(cfg.Builder, providers, bopts...)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		builder:   b,
		providers: providers,
		tok:       oo.tok,
		cfg:       cfg,
		log:       oo.log,
		jobs:      NewJobStore(cfg.JobTTL),
		queue:     make(chan *Job, cfg.MaxQueueSize),
	}
	o.log.Info("orchestrator configured",
		"embedding_models", providers.Models(),
		"cluster_embedding_model", cfg.Builder.ClusterEmbeddingModel,
		"context_embedding_model", cfg.Retrieve.ContextEmbeddingModel,
		"num_layers", cfg.Builder.NumLayers,
		"chunk_max_tokens", cfg.Builder.ChunkMaxTokens,
		"summarization_length", cfg.Builder.SummarizationLength,
		"qa", providers.QA != nil,
	)
	return o, nil
}

// Tree returns the current tree, or nil.
func (o *Orchestrator) Tree() *tree.Tree {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tree
}

func (o *Orchestrator) swap(t *tree.Tree) {
	o.mu.Lock()
	o.tree = t
	o.mu.Unlock()

	metrics.TreeNodes.Reset()
	if t == nil {
		return
	}
	for layer := 0; layer < t.NumLayers; layer++ {
		metrics.TreeNodes.WithLabelValues(strconv.Itoa(layer)).Set(float64(len(t.LayerToNodes[layer])))
	}
}

// Add builds a tree from text and makes it current. An existing tree is
// only replaced with consent; without it ErrOverwriteRequired is returned
// and the existing tree stays.
func (o *Orchestrator) Add(ctx context.Context, text string, opts AddOptions) (TreeInfo, error) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	if current := o.Tree(); current != nil && !consent(current, opts) {
		return TreeInfo{}, apperr.ErrOverwriteRequired
	}

	b := o.builder
	if opts.Progress != nil {
		b = b.Reporting(opts.Progress)
	}
	start := time.Now()
	t, err := b.Build(ctx, text)
	metrics.BuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Builds.WithLabelValues("error").Inc()
		o.log.Error("build failed", "error", err)
		return TreeInfo{}, err
	}
	metrics.Builds.WithLabelValues("ok").Inc()

	o.swap(t)
	info := t.Info()
	o.log.Info("tree replaced", "num_layers", info.NumLayers, "total_nodes", info.TotalNodes, "duration", time.Since(start))
	return info, nil
}

func consent(current *tree.Tree, opts AddOptions) bool {
	if opts.Overwrite {
		return true
	}
	return opts.Confirm != nil && opts.Confirm(current.Info())
}

// AddDocument loads r with the loader for filename and builds from its
// text.
func (o *Orchestrator) AddDocument(ctx context.Context, r io.Reader, filename string, opts AddOptions) (TreeInfo, error) {
	text, err := loader.LoadText(r, filename)
	if err != nil {
		return TreeInfo{}, err
	}
	return o.Add(ctx, text, opts)
}

// DefaultRetrieveOptions returns the configured retrieval options.
func (o *Orchestrator) DefaultRetrieveOptions() retriever.Options {
	return o.cfg.Retrieve
}

// Retrieve assembles a context for question from the current tree.
func (o *Orchestrator) Retrieve(ctx context.Context, question string, opts retriever.Options) (*retriever.Result, error) {
	t := o.Tree()
	if t == nil {
		return nil, apperr.ErrOrchestratorNotReady
	}
	r, err := retriever.New(t, o.providers.Embedders, o.tok)
	if err != nil {
		return nil, err
	}
	return r.Retrieve(ctx, question, opts)
}

// Answer retrieves a context for question and asks the QA provider.
func (o *Orchestrator) Answer(ctx context.Context, question string, opts retriever.Options) (*Answer, error) {
	if o.providers.QA == nil {
		return nil, apperr.Configf("qa_model", "no question answering provider is configured")
	}
	res, err := o.Retrieve(ctx, question, opts)
	if err != nil {
		return nil, err
	}
	text, err := o.providers.QA.Answer(ctx, res.Context, question)
	if err != nil {
		return nil, fmt.Errorf("answer: %w", err)
	}
	return &Answer{Answer: strings.TrimSpace(text), Context: res.Context, Nodes: res.Nodes}, nil
}

// Persist writes the current tree to location.
func (o *Orchestrator) Persist(ctx context.Context, location string) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	t := o.Tree()
	if t == nil {
		return apperr.ErrTreeNotInitialized
	}
	store, err := snapshot.ForPath(location, o.cfg.Snapshots)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, t); err != nil {
		return err
	}
	o.log.Info("tree persisted", "location", store.Location(), "total_nodes", t.Len())
	return nil
}

// Restore replaces the current tree with the snapshot at location. The
// snapshot must carry embeddings for the configured context model.
func (o *Orchestrator) Restore(ctx context.Context, location string) (TreeInfo, error) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	store, err := snapshot.ForPath(location, o.cfg.Snapshots)
	if err != nil {
		return TreeInfo{}, err
	}
	t, err := store.Load(ctx)
	if err != nil {
		return TreeInfo{}, err
	}
	if !slices.Contains(t.Models(), o.cfg.Retrieve.ContextEmbeddingModel) {
		return TreeInfo{}, apperr.Configf("context_embedding_model", "snapshot %s has embeddings for %v, not %q",
			store.Location(), t.Models(), o.cfg.Retrieve.ContextEmbeddingModel)
	}
	o.swap(t)
	o.log.Info("tree restored", "location", store.Location(), "total_nodes", t.Len())
	return t.Info(), nil
}

// TreeInfo reports the shape of the current tree.
func (o *Orchestrator) TreeInfo() (TreeInfo, error) {
	t := o.Tree()
	if t == nil {
		return TreeInfo{}, apperr.ErrTreeNotInitialized
	}
	return t.Info(), nil
}

// NodesInfo lists every node of the current tree.
func (o *Orchestrator) NodesInfo() (tree.NodesInfo, error) {
	t := o.Tree()
	if t == nil {
		return tree.NodesInfo{}, apperr.ErrTreeNotInitialized
	}
	return t.NodesInfo(), nil
}

// UpdateNodeText corrects the text of one node. Embeddings and the
// summaries above it are left as they are.
func (o *Orchestrator) UpdateNodeText(index int, text string) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	t := o.Tree()
	if t == nil {
		return apperr.ErrTreeNotInitialized
	}
	if strings.TrimSpace(text) == "" {
		return apperr.Configf("text", "must not be empty")
	}
	updated, ok := t.WithNodeText(index, text)
	if !ok {
		return fmt.Errorf("node %d: %w", index, apperr.ErrNodeNotFound)
	}
	o.swap(updated)
	o.log.Info("node text updated", "index", index)
	return nil
}

// Delete drops the current tree.
func (o *Orchestrator) Delete() error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	if o.Tree() == nil {
		return apperr.ErrTreeNotInitialized
	}
	o.swap(nil)
	o.log.Info("tree deleted")
	return nil
}
