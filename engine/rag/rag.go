// Package rag answers questions against the chunks of one document.
// It embeds the question, queries the store restricted to the document's
// doc_id, joins the top chunks into context, builds a prompt, and calls the
// generator for the final answer.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/engine/semantic"
	"github.com/WessleyAI/docqa/pkg/metrics"
)

// ErrNoMatchingContent is reported by Context.Err when no chunk matched.
var ErrNoMatchingContent = domain.ErrNoMatchingContent

// DefaultSeparator joins chunk texts into context.
const DefaultSeparator = " "

// Embedder produces a vector for the question.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces an answer from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Service is the retrieval service.
type Service struct {
	embed   Embedder
	store   semantic.Store
	gen     Generator
	opts    Options
	metrics *metrics.Set
	logger  *slog.Logger
}

// Options configures retrieval.
type Options struct {
	// TopK is used when a caller passes k <= 0.
	TopK      int
	Separator string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{TopK: semantic.DefaultTopK, Separator: DefaultSeparator}
}

// New creates a Service. gen may be nil, in which case Ask fails for
// documents with matching content and Retrieve still works. m may be nil.
func New(embed Embedder, store semantic.Store, gen Generator, opts Options, m *metrics.Set, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.Separator == "" {
		opts.Separator = def.Separator
	}
	return &Service{embed: embed, store: store, gen: gen, opts: opts, metrics: m, logger: logger}
}

// Context is the content retrieved for one question.
type Context struct {
	DocID  string
	Found  bool
	Chunks []semantic.SearchResult

	sep string
}

// Text joins the retrieved chunks in rank order, or returns the no-content
// sentinel when nothing matched.
func (c Context) Text() string {
	if !c.Found {
		return NoContentMessage(c.DocID)
	}
	sep := c.sep
	if sep == "" {
		sep = DefaultSeparator
	}
	parts := make([]string, len(c.Chunks))
	for i, ch := range c.Chunks {
		parts[i] = ch.Content
	}
	return strings.Join(parts, sep)
}

// Err returns ErrNoMatchingContent when nothing matched, else nil.
func (c Context) Err() error {
	if c.Found {
		return nil
	}
	return fmt.Errorf("rag: %s: %w", c.DocID, ErrNoMatchingContent)
}

// NoContentMessage is the answer given for a document with no matching chunk.
func NoContentMessage(docID string) string {
	return "No content found for document " + docID
}

// Answer is the structured response to a question.
type Answer struct {
	DocID   string   `json:"doc_id"`
	Answer  string   `json:"answer"`
	Found   bool     `json:"found"`
	Sources []Source `json:"sources"`
}

// Source is one chunk backing an answer.
type Source struct {
	ID         string  `json:"id"`
	ChunkIndex int     `json:"chunk_index"`
	Filename   string  `json:"filename"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// Retrieve embeds question and returns the top k chunks of docID.
// k <= 0 uses Options.TopK. An empty result is not an error.
func (s *Service) Retrieve(ctx context.Context, question, docID string, k int) (Context, error) {
	if err := domain.ValidateQuestion(question, docID); err != nil {
		return Context{}, err
	}
	if k <= 0 {
		k = s.opts.TopK
	}
	if s.metrics != nil {
		s.metrics.Queries.Inc()
	}

	start := time.Now()
	vec, err := s.embed.Embed(ctx, question)
	if err != nil {
		return Context{}, fmt.Errorf("rag: embed question: %w: %w", domain.ErrEmbedding, err)
	}
	if len(vec) == 0 {
		return Context{}, fmt.Errorf("rag: embed question: empty vector: %w", domain.ErrEmbedding)
	}
	if s.metrics != nil {
		s.metrics.EmbedSeconds.Since(start)
	}

	start = time.Now()
	results, err := s.store.Query(ctx, vec, docID, k)
	if err != nil {
		if !errors.Is(err, domain.ErrStoreQuery) {
			err = fmt.Errorf("%w: %w", domain.ErrStoreQuery, err)
		}
		return Context{}, fmt.Errorf("rag: query %s: %w", docID, err)
	}
	if s.metrics != nil {
		s.metrics.QuerySeconds.Since(start)
	}

	c := Context{DocID: docID, Found: len(results) > 0, Chunks: results, sep: s.opts.Separator}
	if !c.Found {
		s.logger.Info("rag: no content", "doc_id", docID)
		if s.metrics != nil {
			s.metrics.NoContent.Inc()
		}
		return c, nil
	}
	s.logger.Info("rag: retrieved", "doc_id", docID, "chunks", len(results), "top_score", results[0].Score)
	return c, nil
}

// Ask retrieves context for question and generates an answer. When no chunk
// matches, the answer is the no-content sentinel and the generator is not
// called.
func (s *Service) Ask(ctx context.Context, question, docID string, k int) (*Answer, error) {
	c, err := s.Retrieve(ctx, question, docID, k)
	if err != nil {
		return nil, err
	}
	if !c.Found {
		return &Answer{DocID: docID, Answer: c.Text(), Sources: []Source{}}, nil
	}
	if s.gen == nil {
		return nil, errors.New("rag: no generator configured")
	}

	reply, err := s.gen.Generate(ctx, BuildPrompt(c.Text(), question))
	if err != nil {
		return nil, fmt.Errorf("rag: generate: %w", err)
	}

	sources := make([]Source, len(c.Chunks))
	for i, r := range c.Chunks {
		sources[i] = Source{
			ID:         r.ID,
			ChunkIndex: r.ChunkIndex,
			Filename:   r.Filename,
			Content:    r.Content,
			Score:      r.Score,
		}
	}
	return &Answer{DocID: docID, Answer: strings.TrimSpace(reply), Found: true, Sources: sources}, nil
}
