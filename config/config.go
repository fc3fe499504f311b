package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/ingestion"
	"github.com/poiesic/folio/search"
	"github.com/poiesic/folio/segment"
)

// FileName is the config file looked up by LoadDefault.
const FileName = "folio.yaml"

// Store kinds.
const (
	StoreBadger = "badger"
	StoreQdrant = "qdrant"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = fmt.Errorf("%w: invalid configuration", core.ErrInput)

// AIConfig configures the embedding and chat services.
type AIConfig struct {
	EmbeddingHost  string        `yaml:"embedding_host"`
	ChatHost       string        `yaml:"chat_host"`
	EmbeddingModel string        `yaml:"embedding_model"`
	ChatModel      string        `yaml:"chat_model"`
	APIKey         string        `yaml:"api_key,omitempty"`
	Dimension      int           `yaml:"dimension"`
	QueryCacheSize int           `yaml:"query_cache_size"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// StoreConfig selects and configures the vector store.
type StoreConfig struct {
	Kind       string        `yaml:"kind"`
	Path       string        `yaml:"path"`
	URL        string        `yaml:"url,omitempty"`
	APIKey     string        `yaml:"api_key,omitempty"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SegmentConfig controls chunk size and overlap, in characters.
type SegmentConfig struct {
	MaxChars int `yaml:"max_chars"`
	Overlap  int `yaml:"overlap"`
}

// RetrievalConfig controls how many passages are fetched per question.
type RetrievalConfig struct {
	K        int     `yaml:"k"`
	MinScore float32 `yaml:"min_score"`
}

// GenerationConfig controls the answer engine.
type GenerationConfig struct {
	MaxToolRounds int           `yaml:"max_tool_rounds"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	Temperature   float64       `yaml:"temperature"`
}

// IngestionConfig controls the ingestion pipeline.
type IngestionConfig struct {
	Workers      int           `yaml:"workers"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config is the root process configuration.
type Config struct {
	AI         AIConfig         `yaml:"ai"`
	Store      StoreConfig      `yaml:"store"`
	Segment    SegmentConfig    `yaml:"segment"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Server     ServerConfig     `yaml:"server"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		AI: AIConfig{
			EmbeddingHost:  aiDefaults.EmbeddingHost,
			ChatHost:       aiDefaults.ChatHost,
			EmbeddingModel: aiDefaults.EmbeddingModel,
			ChatModel:      aiDefaults.ChatModel,
			Dimension:      aiDefaults.Dimension,
			QueryCacheSize: aiDefaults.QueryCacheSize,
			Timeout:        aiDefaults.Timeout,
			MaxAttempts:    aiDefaults.MaxAttempts,
		},
		Store: StoreConfig{
			Kind:       StoreBadger,
			Path:       "folio.db",
			Collection: ingestion.DefaultCollection,
			Timeout:    10 * time.Second,
		},
		Segment: SegmentConfig{
			MaxChars: segment.DefaultMaxChars,
			Overlap:  segment.DefaultOverlap,
		},
		Retrieval: RetrievalConfig{
			K:        search.DefaultK,
			MinScore: -1,
		},
		Generation: GenerationConfig{
			MaxToolRounds: 2,
			CallTimeout:   60 * time.Second,
		},
		Ingestion: IngestionConfig{
			Workers:      1,
			FetchTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8000",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads a config from path, then applies FOLIO_* environment overrides.
// Keys missing from the file keep their defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./folio.yaml first, then ~/.config/folio/folio.yaml.
// It returns the path that was read, or "" when only defaults apply.
func LoadDefault() (*Config, string, error) {
	candidates := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "folio", FileName))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	cfg := Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

// Save writes cfg to path as YAML, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from FOLIO_* variables found through lookup.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	strs := map[string]*string{
		"FOLIO_EMBEDDING_HOST":  &c.AI.EmbeddingHost,
		"FOLIO_CHAT_HOST":       &c.AI.ChatHost,
		"FOLIO_EMBEDDING_MODEL": &c.AI.EmbeddingModel,
		"FOLIO_CHAT_MODEL":      &c.AI.ChatModel,
		"FOLIO_API_KEY":         &c.AI.APIKey,
		"FOLIO_STORE":           &c.Store.Kind,
		"FOLIO_STORE_PATH":      &c.Store.Path,
		"FOLIO_QDRANT_URL":      &c.Store.URL,
		"FOLIO_QDRANT_API_KEY":  &c.Store.APIKey,
		"FOLIO_COLLECTION":      &c.Store.Collection,
		"FOLIO_ADDR":            &c.Server.Addr,
	}
	for key, field := range strs {
		if v, ok := lookup(key); ok {
			*field = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"FOLIO_DIMENSION":     &c.AI.Dimension,
		"FOLIO_CHUNK_MAX":     &c.Segment.MaxChars,
		"FOLIO_CHUNK_OVERLAP": &c.Segment.Overlap,
		"FOLIO_TOP_K":         &c.Retrieval.K,
		"FOLIO_WORKERS":       &c.Ingestion.Workers,
	}
	for key, field := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
		}
		*field = n
	}

	if v, ok := lookup("FOLIO_MIN_SCORE"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		if err != nil {
			return fmt.Errorf("%w: FOLIO_MIN_SCORE: %w", ErrInvalidConfig, err)
		}
		c.Retrieval.MinScore = float32(f)
	}
	return nil
}

// Validate checks the configuration for values the components would reject.
func (c *Config) Validate() error {
	if err := c.AIConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.Store.Kind {
	case StoreBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for the badger store", ErrInvalidConfig)
		}
	case StoreQdrant:
		if c.Store.URL == "" {
			return fmt.Errorf("%w: store.url is required for the qdrant store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store kind %q", ErrInvalidConfig, c.Store.Kind)
	}
	if c.Store.Collection == "" {
		return fmt.Errorf("%w: store.collection is required", ErrInvalidConfig)
	}

	if c.Segment.MaxChars <= 0 {
		return fmt.Errorf("%w: segment.max_chars must be positive", ErrInvalidConfig)
	}
	if c.Segment.Overlap < 0 || c.Segment.Overlap >= c.Segment.MaxChars {
		return fmt.Errorf("%w: segment.overlap must be within [0, max_chars)", ErrInvalidConfig)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("%w: retrieval.k must be positive", ErrInvalidConfig)
	}
	if c.Retrieval.MinScore < -1 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("%w: retrieval.min_score must be within [-1, 1]", ErrInvalidConfig)
	}
	if c.Generation.MaxToolRounds < 0 {
		return fmt.Errorf("%w: generation.max_tool_rounds must not be negative", ErrInvalidConfig)
	}
	if c.Generation.CallTimeout <= 0 {
		return fmt.Errorf("%w: generation.call_timeout must be positive", ErrInvalidConfig)
	}
	if c.Ingestion.Workers < 1 {
		return fmt.Errorf("%w: ingestion.workers must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// AIConfig converts the ai section into the provider configuration.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithChatHost(c.AI.ChatHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithChatModel(c.AI.ChatModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithDimension(c.AI.Dimension),
		ai.WithQueryCacheSize(c.AI.QueryCacheSize),
		ai.WithTimeout(c.AI.Timeout),
		ai.WithRetries(c.AI.MaxAttempts, ai.DefaultConfig().RetryDelay),
	)
}
