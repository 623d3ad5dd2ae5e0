// Package config loads raptree settings from defaults, an optional YAML
// file and the environment, in that order of precedence (environment wins).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/builder"
	"github.com/dgallion1/raptree/internal/chunker"
	"github.com/dgallion1/raptree/internal/cluster"
	"github.com/dgallion1/raptree/internal/provider"
	"github.com/dgallion1/raptree/internal/retriever"
)

// DefaultModelName names the single embedding model configured through
// EmbeddingModel.
const DefaultModelName = "EMB"

// DefaultEmbeddingSpec is used when no embedding model is configured.
const DefaultEmbeddingSpec = "local:256"

type Config struct {
	Port           string        `yaml:"port"`
	APIKey         string        `yaml:"api_key"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	JobWorkers     int           `yaml:"job_workers"`
	MaxQueueSize   int           `yaml:"max_queue_size"`
	JobTTL         time.Duration `yaml:"job_ttl"`
	SnapshotPath   string        `yaml:"snapshot_path"`
	// SnapshotDir holds snapshot locations supplied over HTTP.
	SnapshotDir string `yaml:"snapshot_dir"`

	PathstoreURL    string `yaml:"pathstore_url"`
	PathstoreAPIKey string `yaml:"pathstore_api_key"`

	// Provider credentials.
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	OllamaBaseURL   string `yaml:"ollama_base_url"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`

	// EmbeddingModel is a single "kind:model" spec registered under the
	// name EMB. It is mutually exclusive with EmbeddingModels.
	EmbeddingModel string `yaml:"embedding_model"`
	// EmbeddingModels maps model names to "kind:model" specs.
	EmbeddingModels       map[string]string `yaml:"embedding_models"`
	SummarizationModel    string            `yaml:"summarization_model"`
	QAModel               string            `yaml:"qa_model"`
	ClusterEmbeddingModel string            `yaml:"cluster_embedding_model"`
	ContextEmbeddingModel string            `yaml:"context_embedding_model"`

	// Tree builder.
	ChunkMaxTokens       int       `yaml:"chunk_max_tokens"`
	NumLayers            int       `yaml:"num_layers"`
	ClusterThresholds    []float64 `yaml:"cluster_thresholds"`
	BuilderSelectionMode string    `yaml:"builder_selection_mode"`
	BuilderTopK          int       `yaml:"builder_top_k"`
	SummarizationLength  int       `yaml:"summarization_length"`
	ReductionDimension   int       `yaml:"reduction_dimension"`
	MaxClusterTokens     int       `yaml:"max_cluster_tokens"`
	BuildWorkers         int       `yaml:"build_workers"`
	Seed                 uint64    `yaml:"seed"`

	// Tree retriever.
	RetrieverSelectionMode string  `yaml:"retriever_selection_mode"`
	RetrieverTopK          int     `yaml:"retriever_top_k"`
	RetrieverThreshold     float64 `yaml:"retriever_threshold"`
	StartLayer             int     `yaml:"start_layer"`
	LayersToTraverse       int     `yaml:"layers_to_traverse"`
	MaxTokens              int     `yaml:"max_tokens"`
	CollapseTree           bool    `yaml:"collapse_tree"`

	// Provider calls.
	ProviderMaxRetries int           `yaml:"provider_max_retries"`
	ProviderTimeout    time.Duration `yaml:"provider_timeout"`
	ProviderBaseDelay  time.Duration `yaml:"provider_base_delay"`
	ProviderMaxDelay   time.Duration `yaml:"provider_max_delay"`
	StatsWindow        time.Duration `yaml:"stats_window"`

	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`
}

// Defaults returns the stock configuration.
func Defaults() Config {
	retry := provider.DefaultRetryPolicy()
	return Config{
		Port:           "8090",
		MaxUploadBytes: 50 << 20,
		JobWorkers:     1,
		MaxQueueSize:   16,
		JobTTL:         time.Hour,
		SnapshotPath:   "raptree.json",
		SnapshotDir:    "snapshots",

		SummarizationModel: "local:",
		QAModel:            "local:",

		ChunkMaxTokens:       chunker.DefaultMaxTokens,
		NumLayers:            builder.DefaultNumLayers,
		ClusterThresholds:    []float64{cluster.DefaultThreshold},
		BuilderSelectionMode: string(cluster.SelectTopK),
		BuilderTopK:          builder.DefaultTopK,
		SummarizationLength:  builder.DefaultSummarizationLength,
		ReductionDimension:   cluster.DefaultReductionDim,
		MaxClusterTokens:     builder.DefaultConfig("").MaxClusterTokens,
		BuildWorkers:         builder.DefaultWorkers,
		Seed:                 cluster.DefaultSeed,

		RetrieverSelectionMode: string(retriever.SelectTopK),
		RetrieverTopK:          retriever.DefaultTopK,
		RetrieverThreshold:     retriever.DefaultThreshold,
		StartLayer:             -1,
		MaxTokens:              retriever.DefaultMaxTokens,
		CollapseTree:           true,

		ProviderMaxRetries: retry.MaxRetries,
		ProviderTimeout:    retry.Timeout,
		ProviderBaseDelay:  retry.BaseDelay,
		ProviderMaxDelay:   retry.MaxDelay,
		StatsWindow:        time.Hour,

		LogFormat: "json",
		LogLevel:  "info",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// RAPTREE_CONFIG (if any) and environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("RAPTREE_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperr.Configf("RAPTREE_CONFIG", "parse %s: %v", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	p := &envParser{}
	c.Port = envOr("PORT", c.Port)
	c.APIKey = envOr("RAPTREE_API_KEY", c.APIKey)
	c.MaxUploadBytes = p.envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)
	c.JobWorkers = p.envInt("JOB_WORKERS", c.JobWorkers)
	c.MaxQueueSize = p.envInt("MAX_QUEUE_SIZE", c.MaxQueueSize)
	c.JobTTL = p.envDuration("JOB_TTL", c.JobTTL)
	c.SnapshotPath = envOr("SNAPSHOT_PATH", c.SnapshotPath)
	c.SnapshotDir = envOr("SNAPSHOT_DIR", c.SnapshotDir)

	c.PathstoreURL = envOr("PATHSTORE_URL", c.PathstoreURL)
	c.PathstoreAPIKey = envOr("PATHSTORE_API_KEY", c.PathstoreAPIKey)

	c.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.OpenAIAPIKey = envOr("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = envOr("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OllamaBaseURL = envOr("OLLAMA_BASE_URL", c.OllamaBaseURL)
	c.GeminiAPIKey = envOr("GEMINI_API_KEY", c.GeminiAPIKey)

	c.EmbeddingModel = envOr("EMBEDDING_MODEL", c.EmbeddingModel)
	if v := os.Getenv("EMBEDDING_MODELS"); v != "" {
		m, err := parseModelMap(v)
		if err != nil {
			return apperr.Configf("EMBEDDING_MODELS", "%v", err)
		}
		c.EmbeddingModels = m
	}
	c.SummarizationModel = envOr("SUMMARIZATION_MODEL", c.SummarizationModel)
	c.QAModel = envOr("QA_MODEL", c.QAModel)
	c.ClusterEmbeddingModel = envOr("CLUSTER_EMBEDDING_MODEL", c.ClusterEmbeddingModel)
	c.ContextEmbeddingModel = envOr("CONTEXT_EMBEDDING_MODEL", c.ContextEmbeddingModel)

	c.ChunkMaxTokens = p.envInt("CHUNK_MAX_TOKENS", c.ChunkMaxTokens)
	c.NumLayers = p.envInt("NUM_LAYERS", c.NumLayers)
	if v := os.Getenv("CLUSTER_THRESHOLDS"); v != "" {
		th, err := parseFloats(v)
		if err != nil {
			return apperr.Configf("CLUSTER_THRESHOLDS", "%v", err)
		}
		c.ClusterThresholds = th
	}
	c.BuilderSelectionMode = envOr("BUILDER_SELECTION_MODE", c.BuilderSelectionMode)
	c.BuilderTopK = p.envInt("BUILDER_TOP_K", c.BuilderTopK)
	c.SummarizationLength = p.envInt("SUMMARIZATION_LENGTH", c.SummarizationLength)
	c.ReductionDimension = p.envInt("REDUCTION_DIMENSION", c.ReductionDimension)
	c.MaxClusterTokens = p.envInt("MAX_CLUSTER_TOKENS", c.MaxClusterTokens)
	c.BuildWorkers = p.envInt("BUILD_WORKERS", c.BuildWorkers)
	c.Seed = uint64(p.envInt64("CLUSTER_SEED", int64(c.Seed)))

	c.RetrieverSelectionMode = envOr("RETRIEVER_SELECTION_MODE", c.RetrieverSelectionMode)
	c.RetrieverTopK = p.envInt("RETRIEVER_TOP_K", c.RetrieverTopK)
	c.RetrieverThreshold = p.envFloat("RETRIEVER_THRESHOLD", c.RetrieverThreshold)
	c.StartLayer = p.envInt("START_LAYER", c.StartLayer)
	c.LayersToTraverse = p.envInt("LAYERS_TO_TRAVERSE", c.LayersToTraverse)
	c.MaxTokens = p.envInt("MAX_TOKENS", c.MaxTokens)
	c.CollapseTree = p.envBool("COLLAPSE_TREE", c.CollapseTree)

	c.ProviderMaxRetries = p.envInt("PROVIDER_MAX_RETRIES", c.ProviderMaxRetries)
	c.ProviderTimeout = p.envDuration("PROVIDER_TIMEOUT", c.ProviderTimeout)
	c.ProviderBaseDelay = p.envDuration("PROVIDER_BASE_DELAY", c.ProviderBaseDelay)
	c.ProviderMaxDelay = p.envDuration("PROVIDER_MAX_DELAY", c.ProviderMaxDelay)
	c.StatsWindow = p.envDuration("STATS_WINDOW", c.StatsWindow)

	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	return p.err
}

// Validate checks everything that can be checked without constructing
// providers.
func (c Config) Validate() error {
	if c.EmbeddingModel != "" && len(c.EmbeddingModels) > 0 {
		return apperr.Configf("embedding_model", "set either embedding_model or embedding_models, not both")
	}
	specs := c.EmbeddingSpecs()
	for name, spec := range specs {
		if name == "" {
			return apperr.Configf("embedding_models", "model names must not be empty")
		}
		if _, _, err := provider.ParseSpec(spec); err != nil {
			return apperr.Configf("embedding_models", "%s: %v", name, err)
		}
	}
	if c.SummarizationModel == "" {
		return apperr.Configf("summarization_model", "is required")
	}
	if c.MaxUploadBytes <= 0 {
		return apperr.Configf("max_upload_bytes", "must be > 0, got %d", c.MaxUploadBytes)
	}
	if c.SnapshotDir == "" {
		return apperr.Configf("snapshot_dir", "is required")
	}
	if c.JobWorkers <= 0 {
		return apperr.Configf("job_workers", "must be > 0, got %d", c.JobWorkers)
	}
	if c.MaxQueueSize <= 0 {
		return apperr.Configf("max_queue_size", "must be > 0, got %d", c.MaxQueueSize)
	}
	if c.ProviderMaxRetries <= 0 {
		return apperr.Configf("provider_max_retries", "must be > 0, got %d", c.ProviderMaxRetries)
	}
	if c.ProviderTimeout <= 0 {
		return apperr.Configf("provider_timeout", "must be > 0, got %s", c.ProviderTimeout)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return apperr.Configf("log_format", "must be json or text, got %q", c.LogFormat)
	}

	models := c.ModelNames()
	clusterModel, err := c.clusterModel()
	if err != nil {
		return err
	}
	bc := c.Builder()
	bc.ClusterEmbeddingModel = clusterModel
	if err := bc.Validate(models); err != nil {
		return err
	}
	ro, err := c.Retriever()
	if err != nil {
		return err
	}
	if err := ro.Validate(); err != nil {
		return err
	}
	return nil
}

// EmbeddingSpecs maps each embedding model name to its provider spec.
func (c Config) EmbeddingSpecs() map[string]string {
	if c.EmbeddingModel != "" {
		return map[string]string{DefaultModelName: c.EmbeddingModel}
	}
	if len(c.EmbeddingModels) > 0 {
		out := make(map[string]string, len(c.EmbeddingModels))
		for k, v := range c.EmbeddingModels {
			out[k] = v
		}
		return out
	}
	return map[string]string{DefaultModelName: DefaultEmbeddingSpec}
}

// ModelNames lists the embedding model names, sorted.
func (c Config) ModelNames() []string {
	specs := c.EmbeddingSpecs()
	out := make([]string, 0, len(specs))
	for k := range specs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ProviderSpecs is the input to provider.Registry.Resolve.
func (c Config) ProviderSpecs() provider.Specs {
	return provider.Specs{
		Embedders:  c.EmbeddingSpecs(),
		Summarizer: c.SummarizationModel,
		QA:         c.QAModel,
	}
}

// RetryPolicy derives the provider retry policy.
func (c Config) RetryPolicy() provider.RetryPolicy {
	return provider.RetryPolicy{
		MaxRetries: c.ProviderMaxRetries,
		Timeout:    c.ProviderTimeout,
		BaseDelay:  c.ProviderBaseDelay,
		MaxDelay:   c.ProviderMaxDelay,
	}
}

// clusterModel resolves the cluster embedding model: explicit, or the only
// configured model.
func (c Config) clusterModel() (string, error) {
	return c.pickModel("cluster_embedding_model", c.ClusterEmbeddingModel)
}

func (c Config) pickModel(field, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	names := c.ModelNames()
	if len(names) == 1 {
		return names[0], nil
	}
	return "", apperr.Configf(field, "must be set when several embedding models are configured (%s)", strings.Join(names, ", "))
}

// Builder derives the tree builder configuration.
func (c Config) Builder() builder.Config {
	model, _ := c.clusterModel()
	return builder.Config{
		ChunkMaxTokens:        c.ChunkMaxTokens,
		NumLayers:             c.NumLayers,
		ClusterThresholds:     append([]float64(nil), c.ClusterThresholds...),
		SelectionMode:         cluster.SelectionMode(c.BuilderSelectionMode),
		TopK:                  c.BuilderTopK,
		SummarizationLength:   c.SummarizationLength,
		ClusterEmbeddingModel: model,
		ReductionDim:          c.ReductionDimension,
		MaxClusterTokens:      c.MaxClusterTokens,
		Workers:               c.BuildWorkers,
		Seed:                  c.Seed,
	}
}

// Retriever derives the default retrieval options.
func (c Config) Retriever() (retriever.Options, error) {
	model, err := c.pickModel("context_embedding_model", c.ContextEmbeddingModel)
	if err != nil {
		return retriever.Options{}, err
	}
	return retriever.Options{
		SelectionMode:         retriever.SelectionMode(c.RetrieverSelectionMode),
		TopK:                  c.RetrieverTopK,
		Threshold:             c.RetrieverThreshold,
		StartLayer:            c.StartLayer,
		LayersToTraverse:      c.LayersToTraverse,
		ContextEmbeddingModel: model,
		MaxTokens:             c.MaxTokens,
		CollapseTree:          c.CollapseTree,
	}, nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, apperr.Configf("log_level", "%v", err)
	}
	return l, nil
}

// LogValue summarizes the effective settings without secrets.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("embedding_models", c.ModelNames()),
		slog.String("summarization_model", c.SummarizationModel),
		slog.String("qa_model", c.QAModel),
		slog.Int("chunk_max_tokens", c.ChunkMaxTokens),
		slog.Int("num_layers", c.NumLayers),
		slog.Any("cluster_thresholds", c.ClusterThresholds),
		slog.String("builder_selection_mode", c.BuilderSelectionMode),
		slog.Int("summarization_length", c.SummarizationLength),
		slog.String("retriever_selection_mode", c.RetrieverSelectionMode),
		slog.Int("retriever_top_k", c.RetrieverTopK),
		slog.Int("max_tokens", c.MaxTokens),
		slog.Bool("collapse_tree", c.CollapseTree),
	)
}

// parseModelMap parses "NAME=kind:model,NAME2=kind:model".
func parseModelMap(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, spec, ok := strings.Cut(pair, "=")
		name, spec = strings.TrimSpace(name), strings.TrimSpace(spec)
		if !ok || name == "" || spec == "" {
			return nil, fmt.Errorf("expected NAME=kind:model, got %q", pair)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("model %q listed twice", name)
		}
		out[name] = spec
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envParser reads typed environment values. A malformed value is kept as
// the first error instead of being replaced by the fallback.
type envParser struct {
	err error
}

func (p *envParser) fail(key, v string, err error) {
	if p.err == nil {
		p.err = apperr.Configf(key, "invalid value %q: %v", v, err)
	}
}

func (p *envParser) envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *envParser) envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *envParser) envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *envParser) envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return b
}

func (p *envParser) envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}
