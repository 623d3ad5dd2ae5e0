// Package cluster groups node embeddings into (possibly overlapping)
// clusters for the next summary layer.
//
// Vectors are reduced with PCA, a diagonal Gaussian mixture is fitted for a
// range of component counts and the count with the lowest BIC wins. A node
// joins every component whose posterior clears the threshold, so clusters
// may overlap.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/dgallion1/raptree/internal/apperr"
)

// SelectionMode decides how many qualifying clusters a node may join.
type SelectionMode string

const (
	SelectThreshold SelectionMode = "threshold"
	SelectTopK      SelectionMode = "top_k"
)

// Defaults.
const (
	DefaultReductionDim = 10
	DefaultThreshold    = 0.5
	DefaultMaxClusters  = 50
	DefaultMaxDepth     = 3
	DefaultSeed         = 224
)

// Item is one node offered for clustering.
type Item struct {
	Index  int
	Vector []float32
	Tokens int
}

// Options tune one clustering pass.
type Options struct {
	ReductionDim     int
	Threshold        float64
	SelectionMode    SelectionMode
	TopK             int
	MaxClusterTokens int // 0 disables re-clustering
	MaxClusters      int
	MaxDepth         int
	Seed             uint64
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ReductionDim:  DefaultReductionDim,
		Threshold:     DefaultThreshold,
		SelectionMode: SelectThreshold,
		TopK:          5,
		MaxClusters:   DefaultMaxClusters,
		MaxDepth:      DefaultMaxDepth,
		Seed:          DefaultSeed,
	}
}

func (o Options) withDefaults() Options {
	if o.ReductionDim <= 0 {
		o.ReductionDim = DefaultReductionDim
	}
	if o.MaxClusters <= 0 {
		o.MaxClusters = DefaultMaxClusters
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.SelectionMode == "" {
		o.SelectionMode = SelectThreshold
	}
	return o
}

// Validate reports the first invalid option.
func (o Options) Validate() error {
	if o.Threshold < 0 || o.Threshold > 1 {
		return apperr.Configf("cluster_threshold", "must be within [0, 1], got %g", o.Threshold)
	}
	switch o.SelectionMode {
	case SelectThreshold, "":
	case SelectTopK:
		if o.TopK <= 0 {
			return apperr.Configf("top_k", "must be > 0 in top_k mode, got %d", o.TopK)
		}
	default:
		return apperr.Configf("selection_mode", "unsupported mode %q", o.SelectionMode)
	}
	if o.MaxClusterTokens < 0 {
		return apperr.Configf("max_cluster_tokens", "must be >= 0, got %d", o.MaxClusterTokens)
	}
	return nil
}

// Engine clusters items. The zero value is not usable; call New.
type Engine struct {
	log *slog.Logger
	// split partitions items once; positions index into the argument.
	split func(ctx context.Context, items []Item, opts Options) ([][]int, error)
}

// New returns an Engine backed by PCA and a Gaussian mixture.
func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{log: log}
	e.split = gmmPartition
	return e
}

// Cluster returns groups of item indices. Members are ascending, groups are
// ordered by their smallest member, and together they cover every item.
func (e *Engine) Cluster(ctx context.Context, items []Item, opts Options) ([][]int, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if len(items) == 0 {
		return nil, nil
	}
	if err := checkDims(items); err != nil {
		return nil, err
	}

	groups, err := e.cluster(ctx, items, opts, 0)
	if err != nil {
		return nil, err
	}
	out := normalize(groups)
	e.log.Debug("clustered layer", "items", len(items), "clusters", len(out))
	return out, nil
}

// cluster returns groups of Item.Index values.
func (e *Engine) cluster(ctx context.Context, items []Item, opts Options, depth int) ([][]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if degenerate(items, opts) {
		return [][]int{indicesOf(items)}, nil
	}

	parts, err := e.split(ctx, items, opts)
	if err != nil {
		return nil, err
	}

	var out [][]int
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		sub := make([]Item, len(part))
		tokens := 0
		for i, pos := range part {
			sub[i] = items[pos]
			tokens += items[pos].Tokens
		}
		oversized := opts.MaxClusterTokens > 0 && tokens > opts.MaxClusterTokens
		if oversized && len(sub) > 1 && len(sub) < len(items) && depth+1 < opts.MaxDepth {
			e.log.Debug("re-clustering oversized cluster", "members", len(sub), "tokens", tokens, "depth", depth+1)
			nested, err := e.cluster(ctx, sub, opts, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		out = append(out, indicesOf(sub))
	}
	return out, nil
}

// minRelativeSpread is the smallest spread, relative to the mean vector
// norm, that still counts as distinct embeddings.
const minRelativeSpread = 1e-4

// degenerate reports inputs that cannot be meaningfully split: too few
// items, or embeddings whose spread around their centroid is negligible.
func degenerate(items []Item, opts Options) bool {
	if len(items) <= 1 || len(items) <= opts.ReductionDim+1 {
		return true
	}
	vectors := make([][]float64, len(items))
	meanNorm := 0.0
	for i, it := range items {
		vectors[i] = toFloat64(it.Vector)
		meanNorm += norm(vectors[i])
	}
	meanNorm /= float64(len(items))

	spread := 0.0
	for _, row := range center(vectors) {
		spread = max(spread, norm(row))
	}
	if meanNorm == 0 {
		return spread < 1e-12
	}
	return spread <= minRelativeSpread*meanNorm
}

func checkDims(items []Item) error {
	dim := len(items[0].Vector)
	if dim == 0 {
		return fmt.Errorf("item %d has an empty vector", items[0].Index)
	}
	for _, it := range items[1:] {
		if len(it.Vector) != dim {
			return fmt.Errorf("item %d has dimension %d, expected %d", it.Index, len(it.Vector), dim)
		}
	}
	return nil
}

// assign turns per-component posteriors into memberships. A node that
// clears no threshold joins its most likely component.
func assign(posteriors [][]float64, opts Options) [][]int {
	if len(posteriors) == 0 {
		return nil
	}
	k := len(posteriors[0])
	groups := make([][]int, k)
	for i, probs := range posteriors {
		var picked []int
		for c, p := range probs {
			if p > opts.Threshold {
				picked = append(picked, c)
			}
		}
		if opts.SelectionMode == SelectTopK && len(picked) > opts.TopK {
			sort.SliceStable(picked, func(a, b int) bool {
				return probs[picked[a]] > probs[picked[b]]
			})
			picked = picked[:opts.TopK]
		}
		if len(picked) == 0 {
			picked = []int{argmax(probs)}
		}
		for _, c := range picked {
			groups[c] = append(groups[c], i)
		}
	}
	return groups
}

// normalize sorts members, drops empty and duplicate groups, and orders
// groups by smallest member.
func normalize(groups [][]int) [][]int {
	out := make([][]int, 0, len(groups))
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		g = slices.Clone(g)
		sort.Ints(g)
		g = slices.Compact(g)
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return slices.Compare(out[i], out[j]) < 0
	})
	return slices.CompactFunc(out, func(a, b []int) bool { return slices.Equal(a, b) })
}

func indicesOf(items []Item) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.Index
	}
	return out
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
