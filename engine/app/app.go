// Package app wires configuration into the docqa services shared by the
// API server and the ingestion worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/docqa/engine/catalog"
	"github.com/WessleyAI/docqa/engine/ingest"
	"github.com/WessleyAI/docqa/engine/rag"
	"github.com/WessleyAI/docqa/engine/semantic"
	"github.com/WessleyAI/docqa/pkg/config"
	"github.com/WessleyAI/docqa/pkg/metrics"
	"github.com/WessleyAI/docqa/pkg/ollama"
	"github.com/WessleyAI/docqa/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// App holds the wired services.
type App struct {
	Ingest  *ingest.Service
	RAG     *rag.Service
	Catalog catalog.Catalog
	Store   semantic.Index
	Ollama  *ollama.Client
	Metrics *metrics.Set

	closers []func(context.Context) error
}

// Options overrides parts of the wiring. Zero fields use cfg.
type Options struct {
	// Registry receives the docqa metrics; nil creates one.
	Registry *metrics.Registry
	// Embedder and Generator replace the Ollama client when set.
	Embedder  ingest.Embedder
	Generator rag.Generator
}

// Build connects the configured backends and assembles the services.
// On error, anything already opened is closed.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger, opts ...Options) (_ *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Registry == nil {
		o.Registry = metrics.New()
	}

	a := &App{Metrics: metrics.NewSet(o.Registry)}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	breaker := resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: resilience.DefaultBreakerOpts.FailThreshold,
		Timeout:       resilience.DefaultBreakerOpts.Timeout,
		OnStateChange: func(from, to resilience.State) {
			log.Warn("ollama breaker state change", "from", from.String(), "to", to.String())
		},
	})
	a.Ollama = ollama.New(ollama.Config{
		BaseURL:    cfg.OllamaURL,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
		Dims:       cfg.VectorDims,
		Timeout:    cfg.OllamaTimeout,
		Breaker:    breaker,
	})
	var (
		embedder  ingest.Embedder = a.Ollama
		generator rag.Generator   = a.Ollama
	)
	if o.Embedder != nil {
		embedder = o.Embedder
	}
	if o.Generator != nil {
		generator = o.Generator
	}

	if a.Store, err = a.openStore(ctx, cfg, log); err != nil {
		return nil, err
	}
	if a.Catalog, err = a.openCatalog(ctx, cfg, log); err != nil {
		return nil, err
	}

	a.Ingest, err = ingest.New(ingest.Deps{
		Embedder: embedder,
		Store:    a.Store,
		Catalog:  a.Catalog,
		Metrics:  a.Metrics,
		Logger:   log.With("component", "ingest"),
	}, ingest.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Workers:      cfg.IngestWorkers,
	})
	if err != nil {
		return nil, err
	}

	a.RAG = rag.New(embedder, a.Store, generator,
		rag.Options{TopK: cfg.TopK}, a.Metrics, log.With("component", "rag"))
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (semantic.Index, error) {
	switch cfg.VectorStore {
	case config.BackendMemory:
		log.Warn("using in-memory vector store; documents are lost on restart")
		return semantic.NewMemory(), nil
	case config.BackendQdrant:
		vs, err := semantic.New(cfg.QdrantURL, cfg.QdrantCollection)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return vs.Close() })
		if err := vs.EnsureCollection(ctx, cfg.VectorDims); err != nil {
			return nil, err
		}
		log.Info("qdrant ready", "url", cfg.QdrantURL, "collection", cfg.QdrantCollection, "dims", cfg.VectorDims)
		return vs, nil
	default:
		return nil, fmt.Errorf("app: unknown vector store %q", cfg.VectorStore)
	}
}

func (a *App) openCatalog(ctx context.Context, cfg config.Config, log *slog.Logger) (catalog.Catalog, error) {
	switch cfg.Catalog {
	case config.BackendMemory:
		return catalog.NewMemory(), nil
	case config.BackendNeo4j:
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return nil, fmt.Errorf("app: neo4j driver: %w", err)
		}
		a.closers = append(a.closers, driver.Close)
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return nil, fmt.Errorf("app: neo4j connect %s: %w", cfg.Neo4jURL, err)
		}
		cat, err := catalog.NewNeo4j(driver)
		if err != nil {
			return nil, err
		}
		if err := cat.Init(ctx); err != nil {
			return nil, err
		}
		log.Info("neo4j catalog ready", "url", cfg.Neo4jURL)
		return cat, nil
	default:
		return nil, fmt.Errorf("app: unknown catalog %q", cfg.Catalog)
	}
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
