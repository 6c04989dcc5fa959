// Package config provides configuration management for askneu.
// The environment is consulted once at load time; an optional JSON
// settings file overlays the environment and can be reloaded.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/askneu/askneu/pkg/models"
)

// Defaults applied when the environment leaves a value unset.
const (
	DefaultListenAddr       = ":8080"
	DefaultLLMMaxTokens     = 500
	DefaultLLMTemperature   = 0.2
	DefaultShardListTTL     = 60 * time.Minute
	DefaultEmbedCacheSize   = 1024
	DefaultEmbedCacheMaxAge = 10 * time.Minute

	// DefaultUpstreamCap bounds concurrent in-flight upstream requests
	// (embedding + store + LLM) across the whole process.
	DefaultUpstreamCap = 64
)

// Config holds the application configuration.
type Config struct {
	ListenAddr string `json:"listen_addr"`

	// Default retrieval mode when a request does not specify one.
	DefaultMode models.Mode `json:"default_mode"`

	// Embedding provider settings
	EmbedEndpoint    string        `json:"embed_endpoint"`
	EmbedAPIKey      string        `json:"-"`
	EmbedModelID     string        `json:"embed_model_id"`
	EmbedCacheSize   int           `json:"embed_cache_size"`
	EmbedCacheMaxAge time.Duration `json:"embed_cache_max_age"`

	// Vector store settings
	VectorStoreEndpoint string        `json:"vector_store_endpoint"`
	VectorStoreAPIKey   string        `json:"-"`
	VectorStoreTenant   string        `json:"vector_store_tenant"`
	VectorStoreDatabase string        `json:"vector_store_database"`
	UnifiedCollectionID string        `json:"unified_collection_id"`
	ShardListTTL        time.Duration `json:"shard_list_ttl"`

	// LLM chat provider settings
	LLMEndpoint    string  `json:"llm_endpoint"`
	LLMAPIKey      string  `json:"-"`
	LLMModel       string  `json:"llm_model"`
	LLMMaxTokens   int     `json:"llm_max_tokens"`
	LLMTemperature float64 `json:"llm_temperature"`

	// UpstreamCap bounds concurrent upstream requests process-wide.
	UpstreamCap int64 `json:"upstream_cap"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		ListenAddr:       DefaultListenAddr,
		DefaultMode:      models.ModeFast,
		EmbedCacheSize:   DefaultEmbedCacheSize,
		EmbedCacheMaxAge: DefaultEmbedCacheMaxAge,
		ShardListTTL:     DefaultShardListTTL,
		LLMMaxTokens:     DefaultLLMMaxTokens,
		LLMTemperature:   DefaultLLMTemperature,
		UpstreamCap:      DefaultUpstreamCap,
	}
}

// Load builds the configuration from the environment, applies the
// optional settings-file overlay, and validates the result.
func Load() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()

	if path := settingsPath(); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("load settings file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// Get returns the last successfully loaded configuration, loading it
// on first use.
func Get() *Config {
	configMu.RLock()
	cfg := globalConfig
	configMu.RUnlock()
	if cfg != nil {
		return cfg
	}
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// settingsPath returns the path of the optional settings overlay file.
func settingsPath() string {
	return os.Getenv("ASKNEU_SETTINGS")
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("MODE"); v != "" {
		if mode, err := models.ParseMode(v); err == nil {
			c.DefaultMode = mode
		}
	}
	c.EmbedEndpoint = envOr("EMBED_ENDPOINT", c.EmbedEndpoint)
	c.EmbedAPIKey = envOr("EMBED_API_KEY", c.EmbedAPIKey)
	c.EmbedModelID = envOr("EMBED_MODEL_ID", c.EmbedModelID)
	if v, ok := envInt("EMBED_CACHE_SIZE"); ok && v > 0 {
		c.EmbedCacheSize = v
	}

	c.VectorStoreEndpoint = envOr("VECTOR_STORE_ENDPOINT", c.VectorStoreEndpoint)
	c.VectorStoreAPIKey = envOr("VECTOR_STORE_API_KEY", c.VectorStoreAPIKey)
	c.VectorStoreTenant = envOr("VECTOR_STORE_TENANT", c.VectorStoreTenant)
	c.VectorStoreDatabase = envOr("VECTOR_STORE_DATABASE", c.VectorStoreDatabase)
	c.UnifiedCollectionID = envOr("UNIFIED_COLLECTION_ID", c.UnifiedCollectionID)
	if v, ok := envInt("SHARD_LIST_TTL_SECONDS"); ok && v > 0 {
		c.ShardListTTL = time.Duration(v) * time.Second
	}

	c.LLMEndpoint = envOr("LLM_ENDPOINT", c.LLMEndpoint)
	c.LLMAPIKey = envOr("LLM_API_KEY", c.LLMAPIKey)
	c.LLMModel = envOr("LLM_MODEL", c.LLMModel)
	if v, ok := envInt("LLM_MAX_TOKENS"); ok && v > 0 {
		c.LLMMaxTokens = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.LLMTemperature = f
		}
	}
	if v, ok := envInt("UPSTREAM_CAP"); ok && v > 0 {
		c.UpstreamCap = int64(v)
	}
}

// applyFile overlays settings from a JSON file onto the config.
// Unknown keys are ignored; secrets cannot be set from the file.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}

	if v, ok := settings["listen_addr"].(string); ok && v != "" {
		c.ListenAddr = v
	}
	if v, ok := settings["default_mode"].(string); ok {
		if mode, err := models.ParseMode(v); err == nil {
			c.DefaultMode = mode
		}
	}
	if v, ok := settings["embed_cache_size"].(float64); ok && v > 0 {
		c.EmbedCacheSize = int(v)
	}
	if v, ok := settings["shard_list_ttl_seconds"].(float64); ok && v > 0 {
		c.ShardListTTL = time.Duration(v) * time.Second
	}
	if v, ok := settings["unified_collection_id"].(string); ok {
		c.UnifiedCollectionID = v
	}
	if v, ok := settings["llm_max_tokens"].(float64); ok && v > 0 {
		c.LLMMaxTokens = int(v)
	}
	if v, ok := settings["llm_temperature"].(float64); ok && v >= 0 {
		c.LLMTemperature = v
	}
	if v, ok := settings["upstream_cap"].(float64); ok && v > 0 {
		c.UpstreamCap = int64(v)
	}
	return nil
}

// Validate fails fast on missing required values.
func (c *Config) Validate() error {
	var missing []string
	if c.EmbedEndpoint == "" {
		missing = append(missing, "EMBED_ENDPOINT")
	}
	if c.EmbedModelID == "" {
		missing = append(missing, "EMBED_MODEL_ID")
	}
	if c.VectorStoreEndpoint == "" {
		missing = append(missing, "VECTOR_STORE_ENDPOINT")
	}
	if c.LLMEndpoint == "" {
		missing = append(missing, "LLM_ENDPOINT")
	}
	if c.LLMModel == "" {
		missing = append(missing, "LLM_MODEL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
