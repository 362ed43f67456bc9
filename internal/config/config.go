// Package config loads the agentmem configuration from defaults, the user
// config file, the project config file and AGENTMEM_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/agentmem/internal/embed"
	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
	"github.com/Aman-CERP/agentmem/internal/learning"
	"github.com/Aman-CERP/agentmem/internal/logging"
	"github.com/Aman-CERP/agentmem/internal/search"
	"github.com/Aman-CERP/agentmem/internal/store"
	"github.com/Aman-CERP/agentmem/internal/telemetry"
	"github.com/Aman-CERP/agentmem/internal/watcher"
)

// CurrentVersion is the config schema version written by WriteYAML.
const CurrentVersion = 1

// ProjectConfigNames are the project config files, in lookup order.
var ProjectConfigNames = []string{".agentmem.yaml", ".agentmem.yml"}

// Config is the complete agentmem configuration.
type Config struct {
	Version    int                         `yaml:"version" json:"version"`
	Search     search.EnhancedHybridConfig `yaml:"search" json:"search"`
	Classifier search.ClassifierConfig     `yaml:"classifier" json:"classifier"`
	Threshold  search.ThresholdConfig      `yaml:"threshold" json:"threshold"`
	Predictor  search.PredictorConfig      `yaml:"predictor" json:"predictor"`
	Rerank     search.RerankConfig         `yaml:"rerank" json:"rerank"`
	Fuzzy      search.FuzzyConfig          `yaml:"fuzzy" json:"fuzzy"`
	BM25       store.BM25Config            `yaml:"bm25" json:"bm25"`
	Vector     VectorConfig                `yaml:"vector" json:"vector"`
	Storage    StorageConfig               `yaml:"storage" json:"storage"`
	Embeddings embed.Config                `yaml:"embeddings" json:"embeddings"`
	Learning   learning.Config             `yaml:"learning" json:"learning"`
	Metrics    MetricsConfig               `yaml:"metrics" json:"metrics"`
	Logging    logging.Config              `yaml:"logging" json:"logging"`
	Watch      watcher.Options             `yaml:"watch" json:"watch"`
}

// VectorConfig tunes the HNSW graph. Dimensions come from the embedder.
type VectorConfig struct {
	M        int `yaml:"m" json:"m"`
	EfSearch int `yaml:"ef_search" json:"ef_search"`
}

// StorageConfig locates the data directory and picks the BM25 backend.
type StorageConfig struct {
	DataDir     string            `yaml:"data_dir" json:"data_dir"`
	BM25Backend store.BM25Backend `yaml:"bm25_backend" json:"bm25_backend"`

	// LockWait is how long writers wait for another process's lock.
	LockWait time.Duration `yaml:"lock_wait" json:"lock_wait"`
}

// MetricsConfig configures the collector and the optional Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`
	Path   string `yaml:"path" json:"path"`

	Persist bool `yaml:"persist" json:"persist"`

	telemetry.Config `yaml:",inline"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	vec := store.DefaultVectorStoreConfig(0)
	return &Config{
		Version:    CurrentVersion,
		Search:     search.DefaultEngineConfig(),
		Classifier: search.DefaultClassifierConfig(),
		Threshold:  search.DefaultThresholdConfig(),
		Predictor:  search.DefaultPredictorConfig(),
		Rerank:     search.DefaultRerankConfig(),
		Fuzzy:      search.DefaultFuzzyConfig(),
		BM25:       store.DefaultBM25Config(),
		Vector: VectorConfig{
			M:        vec.M,
			EfSearch: vec.EfSearch,
		},
		Storage: StorageConfig{
			DataDir:     DefaultDataDir(),
			BM25Backend: store.BM25BackendSQLite,
			LockWait:    5 * time.Second,
		},
		Embeddings: embed.DefaultConfig(),
		Learning:   learning.DefaultConfig(),
		Metrics: MetricsConfig{
			Path:    "/metrics",
			Persist: true,
			Config:  telemetry.DefaultConfig(),
		},
		Logging: logging.DefaultConfig(),
		Watch:   watcher.DefaultOptions(),
	}
}

// DefaultDataDir returns ~/.agentmem/data, or a temp directory when the home
// directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".agentmem", "data")
	}
	return filepath.Join(home, ".agentmem", "data")
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/agentmem/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/agentmem/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentmem", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "agentmem", "config.yaml")
	}
	return filepath.Join(home, ".config", "agentmem", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration for the project in dir. Sources are applied in
// order of increasing precedence:
//  1. Defaults
//  2. User config (~/.config/agentmem/config.yaml)
//  3. Project config (.agentmem.yaml in dir)
//  4. Environment variables (AGENTMEM_*)
//
// Values present in a file replace the current value, including zeros.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if dir != "" {
		if path := FindProjectConfig(dir); path != "" {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with a single file, then env overrides.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FindProjectConfig returns the project config path in dir, or "".
// .agentmem.yaml takes precedence over .agentmem.yml.
func FindProjectConfig(dir string) string {
	for _, name := range ProjectConfigNames {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// loadYAML decodes path on top of c. Unknown keys are rejected.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return agenterrors.ConfigError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return agenterrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

// applyEnvOverrides applies AGENTMEM_* environment variables. Values that
// do not parse are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AGENTMEM_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("AGENTMEM_BM25_BACKEND"); v != "" {
		c.Storage.BM25Backend = store.BM25Backend(strings.ToLower(v))
	}

	if v := os.Getenv("AGENTMEM_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("AGENTMEM_FULLTEXT_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Search.FulltextWeight = w
		}
	}
	if v := os.Getenv("AGENTMEM_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFK = k
		}
	}
	if v := os.Getenv("AGENTMEM_ENABLE_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Search.EnableCache = b
		}
	}
	if v := os.Getenv("AGENTMEM_ENABLE_LEARNING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Search.EnableLearning = b
		}
	}

	if v := os.Getenv("AGENTMEM_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("AGENTMEM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AGENTMEM_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return agenterrors.ConfigError(fmt.Sprintf("unsupported config version %d (expected %d)", c.Version, CurrentVersion), nil)
	}

	if err := c.Search.Validate(); err != nil {
		return err
	}
	if c.Search.VectorWeight+c.Search.FulltextWeight == 0 {
		return agenterrors.ConfigError("search.vector_weight and search.fulltext_weight must not both be zero", nil)
	}
	if c.Threshold.MinThreshold > c.Threshold.MaxThreshold {
		return agenterrors.ConfigError(fmt.Sprintf("threshold.min_threshold %.2f exceeds max_threshold %.2f",
			c.Threshold.MinThreshold, c.Threshold.MaxThreshold), nil)
	}
	if c.Rerank.DecayDays <= 0 {
		return agenterrors.ConfigError("rerank.decay_days must be positive", nil)
	}
	if c.Fuzzy.MaxEditDistance < 0 || c.Fuzzy.MinMatchLength < 0 {
		return agenterrors.ConfigError("fuzzy.max_edit_distance and fuzzy.min_match_length must not be negative", nil)
	}

	if c.BM25.K1 <= 0 {
		return agenterrors.ConfigError(fmt.Sprintf("bm25.k1 must be positive, got %v", c.BM25.K1), nil)
	}
	if c.BM25.B < 0 || c.BM25.B > 1 {
		return agenterrors.ConfigError(fmt.Sprintf("bm25.b must be between 0 and 1, got %v", c.BM25.B), nil)
	}
	if c.Vector.M <= 0 || c.Vector.EfSearch <= 0 {
		return agenterrors.ConfigError("vector.m and vector.ef_search must be positive", nil)
	}

	switch c.Storage.BM25Backend {
	case store.BM25BackendMemory, store.BM25BackendSQLite, store.BM25BackendBleve:
	default:
		return agenterrors.ConfigError(fmt.Sprintf("storage.bm25_backend must be 'memory', 'sqlite' or 'bleve', got %q", c.Storage.BM25Backend), nil)
	}
	if c.Storage.LockWait < 0 {
		return agenterrors.ConfigError("storage.lock_wait must not be negative", nil)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "", embed.ProviderStatic:
	default:
		return agenterrors.ConfigError(fmt.Sprintf("embeddings.provider must be 'static', got %q", c.Embeddings.Provider), nil)
	}

	if err := c.Learning.Validate(); err != nil {
		return err
	}

	if c.Metrics.LatencyWindow <= 0 {
		return agenterrors.ConfigError("metrics.latency_window must be positive", nil)
	}
	if c.Metrics.Listen != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return agenterrors.ConfigError(fmt.Sprintf("metrics.path must start with '/', got %q", c.Metrics.Path), nil)
	}

	if err := c.Watch.Validate(); err != nil {
		return agenterrors.ConfigError("invalid watch config", err)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return agenterrors.ConfigError(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}
	return nil
}

// VectorStoreConfig returns the HNSW config for an embedder of dims dimensions.
func (c *Config) VectorStoreConfig(dims int) store.VectorStoreConfig {
	return store.VectorStoreConfig{Dimensions: dims, M: c.Vector.M, EfSearch: c.Vector.EfSearch}
}

// ClassifierConfig returns the classifier config with the General strategy
// weights taken from the engine's fusion weights.
func (c *Config) ClassifierConfig() search.ClassifierConfig {
	cc := c.Classifier
	cc.GeneralVectorWeight = c.Search.VectorWeight
	cc.GeneralFulltextWeight = c.Search.FulltextWeight
	return cc
}

// WriteYAML writes the configuration to a YAML file, creating its directory.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
