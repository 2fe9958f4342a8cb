package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Cache     CacheConfig     `json:"cache"`
	Qdrant    QdrantConfig    `json:"qdrant"`
	Embedding EmbeddingConfig `json:"embedding"`
	Memory    MemoryConfig    `json:"memory"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// StoreConfig selects the persistent store backend. Backend is one of
// "mongo", "postgres" or "memory".
type StoreConfig struct {
	Backend       string `json:"backend"`
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`
	PostgresDSN   string `json:"postgres_dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

// CacheConfig selects the result cache backend. An empty RedisURL
// keeps the cache in process memory.
type CacheConfig struct {
	RedisURL   string `json:"redis_url"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// QdrantConfig enables the embedding sidecar collection.
type QdrantConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// MemoryConfig carries the relevance policy defaults.
type MemoryConfig struct {
	MinEmbedLength           int     `json:"min_embed_length"`
	DefaultSearchLimit       int     `json:"default_search_limit"`
	MaxEntries               int     `json:"max_entries"`
	MinRelevanceScore        float64 `json:"min_relevance_score"`
	MaxAgeDays               float64 `json:"max_age_days"`
	CompressionThresholdDays float64 `json:"compression_threshold_days"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
