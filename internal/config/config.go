// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level ragd configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Vector    VectorConfig              `mapstructure:"vector"`
	Embedding EmbeddingConfig           `mapstructure:"embedding"`
	Chunking  ChunkingConfig            `mapstructure:"chunking"`
	Retrieval RetrievalConfig           `mapstructure:"retrieval"`
	Models    ModelsConfig              `mapstructure:"models"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Ingest    IngestConfig              `mapstructure:"ingest"`
	Logging   LoggingConfig             `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen       string          `mapstructure:"listen"`
	CORSOrigins  []string        `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
	Auth         AuthConfig      `mapstructure:"auth"`
	MaxUploadMB  int             `mapstructure:"max_upload_mb"`
}

// RateLimitConfig is a per-client token bucket. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// AuthConfig lists bearer tokens accepted by the API. Empty means open.
type AuthConfig struct {
	Tokens []string `mapstructure:"tokens"`
}

// StorageConfig locates on-disk state.
type StorageConfig struct {
	DataDir        string `mapstructure:"data_dir"`
	DataFolder     string `mapstructure:"data_folder"`
	DefaultRAGFile string `mapstructure:"default_rag_file"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	Backend    string       `mapstructure:"backend"`
	Dimensions int          `mapstructure:"dimensions"`
	SQLite     SQLiteConfig `mapstructure:"sqlite"`
	Milvus     MilvusConfig `mapstructure:"milvus"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type MilvusConfig struct {
	Address    string `mapstructure:"address"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
	DBName     string `mapstructure:"db_name"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Backend     string `mapstructure:"backend"`
	Model       string `mapstructure:"model"`
	Dimensions  int    `mapstructure:"dimensions"`
	Endpoint    string `mapstructure:"endpoint"`
	APIKey      string `mapstructure:"api_key"`
	VectorsPath string `mapstructure:"vectors_path"`
	BatchSize   int    `mapstructure:"batch_size"`
}

// ChunkingConfig controls how extracted text is split before embedding.
type ChunkingConfig struct {
	Mode          string `mapstructure:"mode"`
	MaxWords      int    `mapstructure:"max_words"`
	MaxBytes      int    `mapstructure:"max_bytes"`
	MetadataLimit int    `mapstructure:"metadata_limit"`
}

// RetrievalConfig controls ranking and context assembly.
type RetrievalConfig struct {
	TopK            int     `mapstructure:"top_k"`
	PerNamespaceK   int     `mapstructure:"per_namespace_k"`
	Threshold       float64 `mapstructure:"threshold"`
	MaxContextChars int     `mapstructure:"max_context_chars"`
}

// ModelsConfig controls generation model selection.
type ModelsConfig struct {
	Default      string   `mapstructure:"default"`
	Failover     []string `mapstructure:"failover"`
	MaxTokens    int      `mapstructure:"max_tokens"`
	Temperature  float64  `mapstructure:"temperature"`
	SystemPrompt string   `mapstructure:"system_prompt"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// IngestConfig controls document discovery and URL fetching.
type IngestConfig struct {
	Watch          bool          `mapstructure:"watch"`
	WatchNamespace string        `mapstructure:"watch_namespace"`
	Patterns       []string      `mapstructure:"patterns"`
	URLTimeout     time.Duration `mapstructure:"url_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Debounce       time.Duration `mapstructure:"debounce"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Keys bound to the unprefixed environment variables older deployments use.
var envAliases = map[string]string{
	"storage.data_folder":      "DATA_FOLDER",
	"storage.default_rag_file": "DEFAULT_RAG_FILE_PATH",
	"logging.file":             "LOG_FILE_PATH",
	"logging.level":            "LOGGING_LEVEL",
	"embedding.model":          "EMBEDDING_MODEL",
	"vector.milvus.address":    "MILVUS_ADDRESS",
	"vector.milvus.api_key":    "MILVUS_API_KEY",
	"providers.openai.api_key": "OPENAI_API_KEY",
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "0.0.0.0:5001")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.rate_limit.rps", 0)
	v.SetDefault("server.rate_limit.burst", 20)
	v.SetDefault("server.max_upload_mb", 50)

	v.SetDefault("storage.data_dir", "")
	v.SetDefault("storage.data_folder", "data")
	v.SetDefault("storage.default_rag_file", "")

	v.SetDefault("vector.backend", "sqlite")
	v.SetDefault("vector.dimensions", 1536)
	v.SetDefault("vector.sqlite.path", "")
	v.SetDefault("vector.milvus.address", "localhost:19530")
	v.SetDefault("vector.milvus.collection", "ragd_chunks")

	v.SetDefault("embedding.backend", "openai")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.batch_size", 64)

	v.SetDefault("chunking.mode", "words")
	v.SetDefault("chunking.max_words", 500)
	v.SetDefault("chunking.max_bytes", 1000)
	v.SetDefault("chunking.metadata_limit", 40960)

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.per_namespace_k", 10)
	v.SetDefault("retrieval.threshold", 0.0)
	v.SetDefault("retrieval.max_context_chars", 12000)

	v.SetDefault("models.default", "openai/gpt-4-turbo")
	v.SetDefault("models.max_tokens", 1024)
	v.SetDefault("models.temperature", 0.2)

	v.SetDefault("ingest.watch", false)
	v.SetDefault("ingest.patterns", []string{"**/*.{pdf,txt}"})
	v.SetDefault("ingest.url_timeout", 15*time.Second)
	v.SetDefault("ingest.user_agent", "ragd/1.0")
	v.SetDefault("ingest.debounce", 2*time.Second)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
}

// SetupEnv enables RAGD_ prefixed environment overrides plus the flat
// aliases in envAliases.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("RAGD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, alias := range envAliases {
		prefixed := "RAGD_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, alias)
	}
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix RAGD_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, ragerr.Errorf(ragerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes, resolves and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ragerr.Errorf(ragerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if err := cfg.applyHostPort(os.Getenv("API_HOST"), os.Getenv("API_PORT")); err != nil {
		return nil, err
	}

	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// applyHostPort lets API_HOST and API_PORT override either half of
// server.listen.
func (c *Config) applyHostPort(host, port string) error {
	if host == "" && port == "" {
		return nil
	}

	curHost, curPort, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err)
	}
	if host != "" {
		curHost = host
	}
	if port != "" {
		curPort = port
	}
	c.Server.Listen = net.JoinHostPort(curHost, curPort)
	return nil
}

// ResolvePaths fills in the paths derived from storage.data_dir.
func (c *Config) ResolvePaths() error {
	if c.Storage.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ragerr.Errorf(ragerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
		}
		c.Storage.DataDir = filepath.Join(home, ".ragd")
	}
	if c.Storage.DefaultRAGFile == "" {
		c.Storage.DefaultRAGFile = filepath.Join(c.Storage.DataDir, "default_rag.txt")
	}
	if c.Vector.SQLite.Path == "" {
		c.Vector.SQLite.Path = filepath.Join(c.Storage.DataDir, "vectors.db")
	}
	return nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateVector()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateChunking()...)
	errs = append(errs, c.validateRetrieval()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, invalid("config: server.listen must not be empty"))
	} else if _, portStr, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, invalid("config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
	} else if port, err := strconv.Atoi(portStr); err != nil {
		errs = append(errs, invalid("config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, invalid("config: server.listen port must be between 1 and 65535, got %d", port))
	}

	if c.Server.RateLimit.RPS < 0 {
		errs = append(errs, invalid("config: server.rate_limit.rps must not be negative, got %g", c.Server.RateLimit.RPS))
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst <= 0 {
		errs = append(errs, invalid("config: server.rate_limit.burst must be greater than 0 when rps is set, got %d", c.Server.RateLimit.Burst))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, invalid("config: server.max_upload_mb must be greater than 0, got %d", c.Server.MaxUploadMB))
	}
	for i, origin := range c.Server.CORSOrigins {
		if origin == "*" {
			errs = append(errs, invalid("config: server.cors_origins[%d] must name an origin; \"*\" is not allowed", i))
		}
	}
	for i, tok := range c.Server.Auth.Tokens {
		if strings.TrimSpace(tok) == "" {
			errs = append(errs, invalid("config: server.auth.tokens[%d] must not be empty", i))
		}
	}

	return errs
}

func (c *Config) validateVector() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "milvus": true, "memory": true}
	if !validBackends[c.Vector.Backend] {
		errs = append(errs, invalid("config: vector.backend must be one of [sqlite, milvus, memory], got %q", c.Vector.Backend))
	}
	if c.Vector.Dimensions <= 0 {
		errs = append(errs, invalid("config: vector.dimensions must be greater than 0, got %d", c.Vector.Dimensions))
	}
	if c.Vector.Backend == "milvus" {
		if c.Vector.Milvus.Address == "" {
			errs = append(errs, invalid("config: vector.milvus.address must not be empty"))
		}
		if c.Vector.Milvus.Collection == "" {
			errs = append(errs, invalid("config: vector.milvus.collection must not be empty"))
		}
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	validBackends := map[string]bool{"openai": true, "google": true, "ollama": true, "local": true, "fasttext": true}
	if !validBackends[c.Embedding.Backend] {
		errs = append(errs, invalid("config: embedding.backend must be one of [openai, google, ollama, local, fasttext], got %q", c.Embedding.Backend))
	}
	if c.Embedding.Dimensions < 0 {
		errs = append(errs, invalid("config: embedding.dimensions must not be negative, got %d", c.Embedding.Dimensions))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, invalid("config: embedding.batch_size must be greater than 0, got %d", c.Embedding.BatchSize))
	}
	if c.Embedding.Backend == "local" && c.Embedding.Endpoint == "" {
		errs = append(errs, invalid("config: embedding.endpoint is required for the local backend"))
	}
	if c.Embedding.Backend == "fasttext" && c.Embedding.VectorsPath == "" {
		errs = append(errs, invalid("config: embedding.vectors_path is required for the fasttext backend"))
	}

	return errs
}

func (c *Config) validateChunking() []error {
	var errs []error

	switch c.Chunking.Mode {
	case "words":
		if c.Chunking.MaxWords <= 0 {
			errs = append(errs, invalid("config: chunking.max_words must be greater than 0, got %d", c.Chunking.MaxWords))
		}
	case "bytes":
		if c.Chunking.MaxBytes <= 0 {
			errs = append(errs, invalid("config: chunking.max_bytes must be greater than 0, got %d", c.Chunking.MaxBytes))
		}
	default:
		errs = append(errs, invalid("config: chunking.mode must be one of [words, bytes], got %q", c.Chunking.Mode))
	}
	if c.Chunking.MetadataLimit <= 0 {
		errs = append(errs, invalid("config: chunking.metadata_limit must be greater than 0, got %d", c.Chunking.MetadataLimit))
	}

	return errs
}

func (c *Config) validateRetrieval() []error {
	var errs []error

	if c.Retrieval.TopK <= 0 {
		errs = append(errs, invalid("config: retrieval.top_k must be greater than 0, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.PerNamespaceK < c.Retrieval.TopK {
		errs = append(errs, invalid("config: retrieval.per_namespace_k must be at least top_k (%d), got %d",
			c.Retrieval.TopK, c.Retrieval.PerNamespaceK))
	}
	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		errs = append(errs, invalid("config: retrieval.threshold must be between -1 and 1, got %g", c.Retrieval.Threshold))
	}
	if c.Retrieval.MaxContextChars <= 0 {
		errs = append(errs, invalid("config: retrieval.max_context_chars must be greater than 0, got %d", c.Retrieval.MaxContextChars))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	if c.Models.Default == "" {
		errs = append(errs, invalid("config: models.default must not be empty"))
	} else if !strings.Contains(c.Models.Default, "/") {
		errs = append(errs, invalid("config: models.default must be in \"provider/model\" format, got %q", c.Models.Default))
	}

	for i, model := range c.Models.Failover {
		if !strings.Contains(model, "/") {
			errs = append(errs, invalid("config: models.failover[%d] must be in \"provider/model\" format, got %q", i, model))
			continue
		}
		// A nil providers map means only defaults are in play.
		if c.Providers != nil {
			name := ProviderFromModel(model)
			if _, ok := c.Providers[name]; !ok {
				errs = append(errs, invalid("config: models.failover[%d] %q references provider %q which is not configured", i, model, name))
			}
		}
	}

	if c.Models.MaxTokens <= 0 {
		errs = append(errs, invalid("config: models.max_tokens must be greater than 0, got %d", c.Models.MaxTokens))
	}
	if c.Models.Temperature < 0 || c.Models.Temperature > 2 {
		errs = append(errs, invalid("config: models.temperature must be between 0 and 2, got %g", c.Models.Temperature))
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, invalid("config: logging.format must be one of [text, json], got %q", c.Logging.Format))
	}
	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, invalid("config: logging.max_size_mb must not be negative, got %d", c.Logging.MaxSizeMB))
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, invalid("config: logging.max_backups must not be negative, got %d", c.Logging.MaxBackups))
	}

	return errs
}

func invalid(format string, args ...any) error {
	return ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue, format, args...)
}

// ProviderFromModel extracts the provider prefix from a "provider/model" string.
func ProviderFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}
