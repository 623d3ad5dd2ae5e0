package builder

import (
	"slices"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/chunker"
	"github.com/dgallion1/raptree/internal/cluster"
)

// Defaults.
const (
	DefaultNumLayers           = 5
	DefaultTopK                = 5
	DefaultSummarizationLength = 100
	DefaultWorkers             = 4
)

// Config parameterizes tree construction.
type Config struct {
	ChunkMaxTokens int
	// NumLayers caps the number of summary layers above the leaves.
	NumLayers int
	// ClusterThresholds holds the soft-membership threshold per layer; the
	// last value applies to every deeper layer.
	ClusterThresholds     []float64
	SelectionMode         cluster.SelectionMode
	TopK                  int
	SummarizationLength   int
	ClusterEmbeddingModel string
	ReductionDim          int
	// MaxClusterTokens bounds the input of one summarization call; oversized
	// clusters are re-clustered. Zero disables the bound.
	MaxClusterTokens int
	Workers          int
	Seed             uint64
}

// DefaultConfig returns the stock configuration with one model named
// clusterModel.
func DefaultConfig(clusterModel string) Config {
	return Config{
		ChunkMaxTokens:        chunker.DefaultMaxTokens,
		NumLayers:             DefaultNumLayers,
		ClusterThresholds:     []float64{cluster.DefaultThreshold},
		SelectionMode:         cluster.SelectTopK,
		TopK:                  DefaultTopK,
		SummarizationLength:   DefaultSummarizationLength,
		ClusterEmbeddingModel: clusterModel,
		ReductionDim:          cluster.DefaultReductionDim,
		MaxClusterTokens:      3500,
		Workers:               DefaultWorkers,
		Seed:                  cluster.DefaultSeed,
	}
}

// Validate checks the configuration against the embedding models that
// will be available.
func (c Config) Validate(models []string) error {
	if c.ChunkMaxTokens <= 0 {
		return apperr.Configf("chunk_max_tokens", "must be > 0, got %d", c.ChunkMaxTokens)
	}
	if c.NumLayers <= 0 {
		return apperr.Configf("num_layers", "must be > 0, got %d", c.NumLayers)
	}
	if len(c.ClusterThresholds) == 0 {
		return apperr.Configf("cluster_threshold", "at least one threshold is required")
	}
	for i, th := range c.ClusterThresholds {
		if th < 0 || th > 1 {
			return apperr.Configf("cluster_threshold", "layer %d threshold must be within [0, 1], got %g", i, th)
		}
	}
	switch c.SelectionMode {
	case cluster.SelectThreshold:
	case cluster.SelectTopK:
		if c.TopK <= 0 {
			return apperr.Configf("top_k", "must be > 0 in top_k mode, got %d", c.TopK)
		}
	default:
		return apperr.Configf("selection_mode", "unsupported mode %q", c.SelectionMode)
	}
	if c.SummarizationLength <= 0 {
		return apperr.Configf("summarization_length", "must be > 0, got %d", c.SummarizationLength)
	}
	if c.ReductionDim < 0 {
		return apperr.Configf("reduction_dimension", "must be >= 0, got %d", c.ReductionDim)
	}
	if c.MaxClusterTokens < 0 {
		return apperr.Configf("max_cluster_tokens", "must be >= 0, got %d", c.MaxClusterTokens)
	}
	if c.Workers <= 0 {
		return apperr.Configf("workers", "must be > 0, got %d", c.Workers)
	}
	if !slices.Contains(models, c.ClusterEmbeddingModel) {
		return apperr.Configf("cluster_embedding_model", "%q is not among the embedding models %v", c.ClusterEmbeddingModel, models)
	}
	return nil
}

// threshold returns the soft-clustering threshold for clustering layer.
func (c Config) threshold(layer int) float64 {
	if layer < len(c.ClusterThresholds) {
		return c.ClusterThresholds[layer]
	}
	return c.ClusterThresholds[len(c.ClusterThresholds)-1]
}

func (c Config) clusterOptions(layer int) cluster.Options {
	opts := cluster.DefaultOptions()
	opts.Threshold = c.threshold(layer)
	opts.SelectionMode = c.SelectionMode
	opts.TopK = c.TopK
	opts.MaxClusterTokens = c.MaxClusterTokens
	if c.ReductionDim > 0 {
		opts.ReductionDim = c.ReductionDim
	}
	opts.Seed = c.Seed
	return opts
}
