package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for mmrag.
type Config struct {
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Index      IndexConfig      `yaml:"index"`
	Retrieve   RetrieveConfig   `yaml:"retrieve"`
	Store      StoreConfig      `yaml:"store"`
	Generation GenerationConfig `yaml:"generation"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`    // "hash", "openai", "jina", "ollama"
	Model             string        `yaml:"model"`       // e.g., "jina-embeddings-v4"
	APIKeyEnv         string        `yaml:"api_key_env"` // Environment variable for API key
	BaseURL           string        `yaml:"base_url"`
	Dimension         int           `yaml:"dimension"`
	MaxTextLength     int           `yaml:"max_text_length"` // runes
	MaxImageBytes     int           `yaml:"max_image_bytes"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unlimited
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        uint64        `yaml:"max_retries"`
}

// IndexConfig selects the vector index backend. A non-empty RemoteURL
// selects the remote index; otherwise the in-process index is used,
// persisted to Path when set.
type IndexConfig struct {
	RemoteURL       string        `yaml:"remote_url"`
	Path            string        `yaml:"path"`
	Timeout         time.Duration `yaml:"timeout"`
	RebuildOnChange bool          `yaml:"rebuild_on_change"`
}

// RetrieveConfig holds retrieval pipeline limits.
type RetrieveConfig struct {
	TopK               int           `yaml:"top_k"`
	MaxContextHits     int           `yaml:"max_context_hits"`
	MaxContextBytes    int           `yaml:"max_context_bytes"` // 0 = unbounded
	MinResolvedHits    int           `yaml:"min_resolved_hits"`
	ResolveConcurrency int           `yaml:"resolve_concurrency"`
	EmbedTimeout       time.Duration `yaml:"embed_timeout"`
	SearchTimeout      time.Duration `yaml:"search_timeout"`
	ResolveTimeout     time.Duration `yaml:"resolve_timeout"`
	MinScore           float64       `yaml:"min_score"` // 0 = disabled
	// PrivateFirstOnTie flips the merge tie-break so private hits precede
	// shared hits of equal score.
	PrivateFirstOnTie bool `yaml:"private_first_on_tie"`
}

// StoreConfig selects the object store holding original content.
type StoreConfig struct {
	Backend          string `yaml:"backend"` // "memory", "bolt", "sqlite", "minio", "s3", "redis"
	Path             string `yaml:"path"`
	Bucket           string `yaml:"bucket"`
	Prefix           string `yaml:"prefix"`
	Endpoint         string `yaml:"endpoint"`
	Region           string `yaml:"region"`
	UseSSL           bool   `yaml:"use_ssl"`
	AccessKeyEnv     string `yaml:"access_key_env"`
	SecretKeyEnv     string `yaml:"secret_key_env"`
	RedisAddr        string `yaml:"redis_addr"`
	RedisPasswordEnv string `yaml:"redis_password_env"`
	RedisDB          int    `yaml:"redis_db"`
	CacheEntries     int    `yaml:"cache_entries"` // 0 disables the resolve cache
}

// GenerationConfig holds answer generation configuration.
type GenerationConfig struct {
	Provider   string        `yaml:"provider"` // "openai", "deepseek", "ollama", "template"
	Model      string        `yaml:"model"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries uint64        `yaml:"max_retries"`
	Fallback   string        `yaml:"fallback"` // "template" or "" for none
}

// IngestConfig holds filesystem extraction configuration.
type IngestConfig struct {
	Includes     []string `yaml:"includes"`
	Excludes     []string `yaml:"excludes"`
	MaxUnitChars int      `yaml:"max_unit_chars"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	IndexAddr      string        `yaml:"index_addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	// JWTSecretEnv names the env var holding an HS256 secret. When set,
	// callers identify with a bearer token whose subject is the identity.
	JWTSecretEnv string `yaml:"jwt_secret_env"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:      "hash",
			Model:         "hash-v1",
			APIKeyEnv:     "EMBEDDING_API_KEY",
			Dimension:     256,
			MaxTextLength: 8192,
			MaxImageBytes: 4 << 20,
			Burst:         1,
			Timeout:       30 * time.Second,
			MaxRetries:    3,
		},
		Index: IndexConfig{
			Timeout: 5 * time.Second,
		},
		Retrieve: RetrieveConfig{
			TopK:               10,
			MaxContextHits:     8,
			MaxContextBytes:    32 << 10,
			MinResolvedHits:    1,
			ResolveConcurrency: 4,
			EmbedTimeout:       10 * time.Second,
			SearchTimeout:      2 * time.Second,
			ResolveTimeout:     2 * time.Second,
		},
		Store: StoreConfig{
			Backend:          "bolt",
			Region:           "us-east-1",
			AccessKeyEnv:     "STORE_ACCESS_KEY",
			SecretKeyEnv:     "STORE_SECRET_KEY",
			RedisAddr:        "localhost:6379",
			RedisPasswordEnv: "REDIS_PASSWORD",
			CacheEntries:     512,
		},
		Generation: GenerationConfig{
			Provider:   "template",
			Model:      "gpt-4o-mini",
			APIKeyEnv:  "OPENAI_API_KEY",
			Timeout:    60 * time.Second,
			MaxRetries: 2,
		},
		Ingest: IngestConfig{
			Includes:     []string{"**/*.md", "**/*.txt", "**/*.png", "**/*.jpg", "**/*.jpeg", "**/*.gif", "**/*.webp"},
			Excludes:     []string{"**/.git/**", "**/.mmrag/**", "**/node_modules/**", "**/vendor/**"},
			MaxUnitChars: 2000,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			IndexAddr:      ":8081",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   90 * time.Second,
			RequestTimeout: 60 * time.Second,
			CORSOrigins:    []string{"http://localhost:*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for mmrag.yaml).
// A .env file in dir is loaded into the environment first; existing
// variables win.
func LoadFromDir(dir string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	path := filepath.Join(dir, "mmrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".mmrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks limits that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	var errs []error
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension))
	}
	if c.Embedding.MaxTextLength <= 0 {
		errs = append(errs, fmt.Errorf("embedding.max_text_length must be positive"))
	}
	if c.Embedding.MaxImageBytes <= 0 {
		errs = append(errs, fmt.Errorf("embedding.max_image_bytes must be positive"))
	}
	if c.Retrieve.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieve.top_k must be positive, got %d", c.Retrieve.TopK))
	}
	if c.Retrieve.MaxContextHits <= 0 {
		errs = append(errs, fmt.Errorf("retrieve.max_context_hits must be positive"))
	}
	if c.Retrieve.MaxContextBytes < 0 {
		errs = append(errs, fmt.Errorf("retrieve.max_context_bytes must not be negative"))
	}
	if c.Retrieve.MinResolvedHits < 0 || c.Retrieve.MinResolvedHits > c.Retrieve.MaxContextHits {
		errs = append(errs, fmt.Errorf("retrieve.min_resolved_hits must be within [0, max_context_hits]"))
	}
	if c.Retrieve.ResolveConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("retrieve.resolve_concurrency must be positive"))
	}
	if c.Retrieve.SearchTimeout <= 0 || c.Retrieve.ResolveTimeout <= 0 || c.Retrieve.EmbedTimeout <= 0 {
		errs = append(errs, fmt.Errorf("retrieve timeouts must be positive"))
	}
	switch c.Store.Backend {
	case "memory", "bolt", "sqlite", "minio", "s3", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported store backend: %q", c.Store.Backend))
	}
	if (c.Store.Backend == "minio" || c.Store.Backend == "s3") && c.Store.Bucket == "" {
		errs = append(errs, fmt.Errorf("store.bucket is required for the %s backend", c.Store.Backend))
	}
	switch c.Generation.Fallback {
	case "", "template":
	default:
		errs = append(errs, fmt.Errorf("unsupported generation fallback: %q", c.Generation.Fallback))
	}
	return errors.Join(errs...)
}

// DataDir returns the directory holding local state for root.
func DataDir(dir string) string {
	return filepath.Join(dir, ".mmrag")
}

// IndexDBPath returns the default path of the persisted vector index.
func IndexDBPath(dir string) string {
	return filepath.Join(DataDir(dir), "index.db")
}

// ObjectDBPath returns the default path of the local object store.
func ObjectDBPath(dir string) string {
	return filepath.Join(DataDir(dir), "objects.db")
}

// EnsureDataDir ensures the .mmrag directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(DataDir(dir), 0755)
}

// Secret reads the value of the environment variable named by envName.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}
