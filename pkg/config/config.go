// Package config loads docqa settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/joho/godotenv"
)

// Backend names accepted by VECTOR_STORE and CATALOG.
const (
	BackendQdrant = "qdrant"
	BackendNeo4j  = "neo4j"
	BackendMemory = "memory"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	CORSOrigin string
	LogLevel   slog.Level

	OllamaURL     string
	EmbedModel    string
	ChatModel     string
	OllamaTimeout time.Duration

	VectorStore      string
	QdrantURL        string
	QdrantCollection string
	VectorDims       int

	Catalog   string
	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	NATSURL string

	ChunkSize     int
	ChunkOverlap  int
	TopK          int
	IngestWorkers int

	MaxUploadBytes int64
	RateLimitRPS   float64
	RateLimitBurst int
	MetricsPort    string
}

// Load reads .env files (default ".env"; missing files are skipped) into the
// process environment without overriding it, then builds and validates a
// Config.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment.
func FromEnv() (Config, error) {
	p := &parser{}
	cfg := Config{
		Port:       envOr("PORT", "8080"),
		CORSOrigin: envOr("CORS_ORIGIN", "http://localhost:4200"),
		LogLevel:   p.level("LOG_LEVEL", slog.LevelInfo),

		OllamaURL:     envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:    envOr("EMBED_MODEL", "nomic-embed-text"),
		ChatModel:     envOr("CHAT_MODEL", "llama3.1:8b"),
		OllamaTimeout: p.duration("OLLAMA_TIMEOUT", 120*time.Second),

		VectorStore:      strings.ToLower(envOr("VECTOR_STORE", BackendQdrant)),
		QdrantURL:        envOr("QDRANT_URL", "localhost:6334"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "docs"),
		VectorDims:       p.int("VECTOR_DIMS", 768),

		Catalog:   strings.ToLower(envOr("CATALOG", BackendNeo4j)),
		Neo4jURL:  envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser: envOr("NEO4J_USER", "neo4j"),
		Neo4jPass: envOr("NEO4J_PASS", "password"),

		NATSURL: envOr("NATS_URL", "nats://localhost:4222"),

		ChunkSize:     p.int("CHUNK_SIZE", 1000),
		ChunkOverlap:  p.int("CHUNK_OVERLAP", 200),
		TopK:          p.int("TOP_K", 5),
		IngestWorkers: p.int("INGEST_WORKERS", 4),

		MaxUploadBytes: int64(p.int("MAX_UPLOAD_BYTES", 20<<20)),
		RateLimitRPS:   p.float("RATE_LIMIT_RPS", 10),
		RateLimitBurst: p.int("RATE_LIMIT_BURST", 20),
		MetricsPort:    envOr("METRICS_PORT", "9091"),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and backend names.
func (c Config) Validate() error {
	if err := domain.ValidateChunkParams(c.ChunkSize, c.ChunkOverlap); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("config: %w", domain.NewValidationError("TOP_K", strconv.Itoa(c.TopK), domain.ErrInvalidParameter))
	}
	if c.IngestWorkers <= 0 {
		return fmt.Errorf("config: %w", domain.NewValidationError("INGEST_WORKERS", strconv.Itoa(c.IngestWorkers), domain.ErrInvalidParameter))
	}
	if c.VectorDims <= 0 {
		return fmt.Errorf("config: %w", domain.NewValidationError("VECTOR_DIMS", strconv.Itoa(c.VectorDims), domain.ErrInvalidParameter))
	}
	if c.VectorStore != BackendQdrant && c.VectorStore != BackendMemory {
		return fmt.Errorf("config: %w", domain.NewValidationError("VECTOR_STORE", c.VectorStore, domain.ErrInvalidParameter))
	}
	if c.Catalog != BackendNeo4j && c.Catalog != BackendMemory {
		return fmt.Errorf("config: %w", domain.NewValidationError("CATALOG", c.Catalog, domain.ErrInvalidParameter))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parser keeps the first conversion error.
type parser struct{ err error }

func (p *parser) fail(key, val string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: %s=%q: %w: %w", key, val, domain.ErrInvalidParameter, err)
	}
}

func (p *parser) int(key string, fallback int) int {
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

func (p *parser) float(key string, fallback float64) float64 {
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

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
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

func (p *parser) level(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return l
}
