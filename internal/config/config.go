package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/visualmem/internal/domain/rank"
)

// Config holds the visualmem API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	LLM       LLMConfig       `yaml:"llm"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds index and key layout settings.
type StorageConfig struct {
	KeyPrefix       string `yaml:"key_prefix"`
	IndexName       string `yaml:"index_name"`
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
	CacheTTLSec     int    `yaml:"embedding_cache_ttl_sec"`
}

// EncoderConfig holds the cross-modal embedding provider settings.
// The provider serves a SigLIP-family model behind an OpenAI-compatible
// embeddings endpoint that accepts text and base64 image data URIs.
type EncoderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// LLMConfig holds the chat completion provider settings
// (query rewrite, time-window extraction, narrative generation).
type LLMConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	VisionModel    string `yaml:"vision_model"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	EnableRewrite  bool   `yaml:"enable_rewrite"`
	RewriteCount   int    `yaml:"rewrite_count"`
	MaxEvidence    int    `yaml:"max_evidence"`
	MaxImagesToLLM int    `yaml:"max_images_to_llm"`
}

// RerankConfig holds cross-encoder rerank API settings.
type RerankConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// RetrievalConfig holds default retrieval parameters, overridable per request.
type RetrievalConfig struct {
	TopK             int     `yaml:"top_k"`
	CoarseMultiplier int     `yaml:"coarse_multiplier"`
	Strategy         string  `yaml:"rerank_strategy"` // linear, rrf, cross_encoder
	RRFConstant      int     `yaml:"rrf_constant"`
	DenseWeight      float64 `yaml:"dense_weight"`
	SparseWeight     float64 `yaml:"sparse_weight"`
	EnableHybrid     bool    `yaml:"enable_hybrid"`
	EnableRerank     bool    `yaml:"enable_rerank"`
}

// IngestConfig holds the batch write buffer settings. CaptureIntervalSec
// mirrors the producer's capture cadence and is echoed in /api/stats.
type IngestConfig struct {
	BatchSize          int `yaml:"batch_size"`
	FlushIntervalSec   int `yaml:"flush_interval_sec"`
	CaptureIntervalSec int `yaml:"capture_interval_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "visualmem:"
	}
	if c.Storage.IndexName == "" {
		c.Storage.IndexName = "visualmem:frames:idx"
	}
	if c.Storage.HNSWM <= 0 {
		c.Storage.HNSWM = 16
	}
	if c.Storage.HNSWEFConstruct <= 0 {
		c.Storage.HNSWEFConstruct = 200
	}
	if c.Storage.CacheTTLSec <= 0 {
		c.Storage.CacheTTLSec = 3600
	}
	if c.Encoder.TimeoutSec <= 0 {
		c.Encoder.TimeoutSec = 30
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 60
	}
	if c.LLM.RewriteCount <= 0 {
		c.LLM.RewriteCount = 3
	}
	if c.LLM.MaxEvidence <= 0 {
		c.LLM.MaxEvidence = 5
	}
	if c.LLM.MaxImagesToLLM <= 0 {
		c.LLM.MaxImagesToLLM = 19
	}
	if c.Rerank.TimeoutSec <= 0 {
		c.Rerank.TimeoutSec = 10
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 10
	}
	if c.Retrieval.CoarseMultiplier <= 0 {
		c.Retrieval.CoarseMultiplier = 3
	}
	if c.Retrieval.Strategy == "" {
		c.Retrieval.Strategy = string(rank.RRF)
	}
	if c.Retrieval.RRFConstant <= 0 {
		c.Retrieval.RRFConstant = rank.DefaultRRFConstant
	}
	if c.Retrieval.DenseWeight <= 0 {
		c.Retrieval.DenseWeight = 0.7
	}
	if c.Retrieval.SparseWeight <= 0 {
		c.Retrieval.SparseWeight = 0.3
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 10
	}
	if c.Ingest.FlushIntervalSec <= 0 {
		c.Ingest.FlushIntervalSec = 60
	}
	if c.Ingest.CaptureIntervalSec <= 0 {
		c.Ingest.CaptureIntervalSec = 3
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Encoder.Dimensions <= 0 {
		return fmt.Errorf("encoder.dimensions is required")
	}
	if c.Encoder.Model == "" {
		return fmt.Errorf("encoder.model is required")
	}
	if !rank.Strategy(c.Retrieval.Strategy).IsValid() {
		return fmt.Errorf(
			"retrieval.rerank_strategy must be one of linear, rrf, cross_encoder, got %q",
			c.Retrieval.Strategy,
		)
	}
	if rank.Strategy(c.Retrieval.Strategy) == rank.CrossEncoder && c.Rerank.BaseURL == "" {
		return fmt.Errorf("rerank.base_url is required for the cross_encoder strategy")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
