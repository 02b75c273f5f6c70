// Package ingest turns uploaded documents into embedded, indexed chunks.
//
// The pipeline is validate, detect, extract, segment, then embed and store
// each chunk. A chunk that fails to embed or store is logged and skipped.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/WessleyAI/docqa/engine/catalog"
	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/engine/extract"
	"github.com/WessleyAI/docqa/engine/segment"
	"github.com/WessleyAI/docqa/engine/semantic"
	"github.com/WessleyAI/docqa/pkg/fn"
	"github.com/WessleyAI/docqa/pkg/metrics"
	"github.com/google/uuid"
)

// DefaultWorkers is the number of chunks embedded concurrently.
const DefaultWorkers = 4

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder  Embedder
	Store     semantic.Store
	Extractor extract.Extractor // nil uses extract.New()
	Catalog   catalog.Catalog   // optional
	Metrics   *metrics.Set      // optional
	Logger    *slog.Logger
	// NewID generates document ids; nil uses uuid.NewString.
	NewID func() string
}

// Options tunes segmentation and concurrency. Zero values take defaults.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Workers      int
}

// DefaultOptions returns the default ingestion options.
func DefaultOptions() Options {
	return Options{ChunkSize: segment.DefaultSize, ChunkOverlap: segment.DefaultOverlap, Workers: DefaultWorkers}
}

// Service runs the ingestion pipeline.
type Service struct {
	deps    Deps
	seg     segment.Segmenter
	workers int
	log     *slog.Logger
	now     func() time.Time

	fromUpload fn.Stage[Upload, IngestResult]
	fromText   fn.Stage[ExtractedDoc, IngestResult]
}

// New creates a Service. It fails with domain.ErrInvalidParameter when the
// chunk options are invalid.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Embedder == nil || deps.Store == nil {
		return nil, errors.New("ingest: embedder and store are required")
	}
	def := DefaultOptions()
	if opts.ChunkSize == 0 {
		opts.ChunkSize = def.ChunkSize
		if opts.ChunkOverlap == 0 {
			opts.ChunkOverlap = def.ChunkOverlap
		}
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	seg, err := segment.New(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	s := &Service{deps: deps, seg: seg, workers: opts.Workers, log: deps.Logger, now: time.Now}
	s.fromText = s.textPipeline()
	s.fromUpload = s.uploadPipeline()
	return s, nil
}

// Segmenter returns the configured segmenter.
func (s *Service) Segmenter() segment.Segmenter { return s.seg }

// Ingest extracts, segments, embeds, and stores an uploaded file under a
// fresh doc_id.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte) (IngestResult, error) {
	start := s.now()
	res, err := s.fromUpload(ctx, Upload{Filename: filename, Data: data}).Unwrap()
	s.observe(start, err)
	return res, err
}

// IngestText ingests already extracted text.
func (s *Service) IngestText(ctx context.Context, filename, text string) (IngestResult, error) {
	start := s.now()
	res, err := s.fromText(ctx, ExtractedDoc{Filename: filename, Text: text}).Unwrap()
	s.observe(start, err)
	return res, err
}

func (s *Service) observe(start time.Time, err error) {
	if s.deps.Metrics == nil || err != nil {
		return
	}
	s.deps.Metrics.DocumentsIngested.Inc()
	s.deps.Metrics.IngestSeconds.Since(start)
}

// --- Pipeline Stages ---

// Validate rejects empty uploads.
var Validate fn.Stage[Upload, Upload] = func(_ context.Context, u Upload) fn.Result[Upload] {
	if err := domain.ValidateUpload(u.Filename, u.Data); err != nil {
		return fn.Err[Upload](err)
	}
	return fn.Ok(u)
}

// Detect classifies the upload and rejects unsupported formats.
var Detect fn.Stage[Upload, Upload] = func(_ context.Context, u Upload) fn.Result[Upload] {
	format, err := extract.Detect(u.Filename, u.Data)
	if err != nil {
		return fn.Err[Upload](fmt.Errorf("ingest: %s: %w", u.Filename, err))
	}
	u.Format = format
	return fn.Ok(u)
}

// NewExtract creates a stage that extracts the upload's text.
func NewExtract(ex extract.Extractor) fn.Stage[Upload, ExtractedDoc] {
	return func(ctx context.Context, u Upload) fn.Result[ExtractedDoc] {
		text, err := ex.Extract(ctx, u.Filename, u.Data)
		if err != nil {
			return fn.Err[ExtractedDoc](fmt.Errorf("ingest: extract %s: %w", u.Filename, err))
		}
		return fn.Ok(ExtractedDoc{DocID: u.DocID, Filename: u.Filename, Text: text})
	}
}

// NewAssignID creates a stage that gives the document a fresh id.
func NewAssignID(newID func() string) fn.Stage[ExtractedDoc, ExtractedDoc] {
	return func(_ context.Context, d ExtractedDoc) fn.Result[ExtractedDoc] {
		d.DocID = newID()
		d.Length = utf8.RuneCountInString(d.Text)
		return fn.Ok(d)
	}
}

// NewSegment creates a stage that splits the text into chunks.
func NewSegment(seg segment.Segmenter) fn.Stage[ExtractedDoc, SegmentedDoc] {
	return func(_ context.Context, d ExtractedDoc) fn.Result[SegmentedDoc] {
		texts, err := seg.Split(d.Text)
		if err != nil {
			return fn.Err[SegmentedDoc](err)
		}
		chunks := make([]domain.Chunk, len(texts))
		for i, t := range texts {
			chunks[i] = domain.Chunk{DocID: d.DocID, Index: i, Text: t}
		}
		return fn.Ok(SegmentedDoc{ExtractedDoc: d, Chunks: chunks})
	}
}

// NewStore creates a stage that embeds and stores every chunk with bounded
// concurrency. Per-chunk failures are recorded in the result, not returned.
func NewStore(emb Embedder, store semantic.Store, workers int, m *metrics.Set, log *slog.Logger) fn.Stage[SegmentedDoc, IngestResult] {
	return func(ctx context.Context, d SegmentedDoc) fn.Result[IngestResult] {
		results := fn.ParMapResult(ctx, d.Chunks, workers, func(ctx context.Context, _ int, c domain.Chunk) fn.Result[int] {
			return fn.FromPair(c.Index, storeChunk(ctx, emb, store, d.Filename, c))
		})
		if err := ctx.Err(); err != nil {
			return fn.Err[IngestResult](fmt.Errorf("ingest: %s: %w", d.DocID, err))
		}

		res := IngestResult{
			DocID:          d.DocID,
			Filename:       d.Filename,
			TotalChunks:    len(d.Chunks),
			DocumentLength: d.Length,
		}
		for i, r := range results {
			if r.IsOk() {
				res.StoredChunks++
				continue
			}
			err := r.Err()
			kind := failureKind(err)
			log.Warn("ingest: chunk skipped",
				"doc_id", d.DocID,
				"chunk_index", d.Chunks[i].Index,
				"kind", kind,
				"error", err,
			)
			res.Failures = append(res.Failures, ChunkError{Index: d.Chunks[i].Index, Err: err})
			if m != nil {
				m.ChunkFailure(kind)
			}
		}
		res.FailedChunks = len(res.Failures)
		if m != nil {
			m.ChunksProduced.Add(int64(res.TotalChunks))
			m.ChunksStored.Add(int64(res.StoredChunks))
		}
		return fn.Ok(res)
	}
}

func storeChunk(ctx context.Context, emb Embedder, store semantic.Store, filename string, c domain.Chunk) error {
	vec, err := emb.Embed(ctx, c.Text)
	if err != nil {
		return fmt.Errorf("chunk %d: %w: %w", c.Index, domain.ErrEmbedding, err)
	}
	if len(vec) == 0 {
		return fmt.Errorf("chunk %d: empty vector: %w", c.Index, domain.ErrEmbedding)
	}
	rec := semantic.NewRecord(c.DocID, filename, c.Index, c.Text, vec)
	if err := store.Put(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrStoreWrite) {
			return fmt.Errorf("chunk %d: %w", c.Index, err)
		}
		return fmt.Errorf("chunk %d: %w: %w", c.Index, domain.ErrStoreWrite, err)
	}
	return nil
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmbedding):
		return "embedding"
	case errors.Is(err, domain.ErrStoreWrite):
		return "store_write"
	default:
		return "unknown"
	}
}

// NewRegister creates a stage that records the document in the catalog.
// Catalog failures are logged and do not fail ingestion.
func NewRegister(cat catalog.Catalog, now func() time.Time, log *slog.Logger) fn.Stage[IngestResult, IngestResult] {
	return func(ctx context.Context, r IngestResult) fn.Result[IngestResult] {
		if cat == nil {
			return fn.Ok(r)
		}
		doc := domain.Document{
			DocID:        r.DocID,
			Filename:     r.Filename,
			TotalLength:  r.DocumentLength,
			TotalChunks:  r.TotalChunks,
			StoredChunks: r.StoredChunks,
			CreatedAt:    now().UTC(),
		}
		if err := cat.Save(ctx, doc); err != nil {
			log.Warn("ingest: catalog save failed", "doc_id", r.DocID, "error", err)
		}
		return fn.Ok(r)
	}
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

func (s *Service) textPipeline() fn.Stage[ExtractedDoc, IngestResult] {
	log := s.log
	assigned := fn.Then(LoggedTap[ExtractedDoc]("assign", log), NewAssignID(s.deps.NewID))
	segmented := fn.Then(assigned, fn.TracedStage("ingest.segment", fn.Then(LoggedTap[ExtractedDoc]("segment", log), NewSegment(s.seg))))
	stored := fn.Then(segmented, fn.TracedStage("ingest.store", fn.Then(LoggedTap[SegmentedDoc]("store", log),
		NewStore(s.deps.Embedder, s.deps.Store, s.workers, s.deps.Metrics, log))))
	registered := fn.Then(stored, NewRegister(s.deps.Catalog, s.now, log))

	return fn.Then(registered, fn.TapStage(func(_ context.Context, r IngestResult) {
		log.Info("ingest: done",
			"doc_id", r.DocID,
			"filename", r.Filename,
			"total_chunks", r.TotalChunks,
			"stored_chunks", r.StoredChunks,
			"failed_chunks", r.FailedChunks,
			"document_length", r.DocumentLength,
		)
	}))
}

func (s *Service) uploadPipeline() fn.Stage[Upload, IngestResult] {
	log := s.log
	validated := fn.Then(LoggedTap[Upload]("validate", log), Validate)
	detected := fn.Then(validated, fn.Then(LoggedTap[Upload]("detect", log), Detect))
	extracted := fn.Then(detected, fn.TracedStage("ingest.extract", fn.Then(LoggedTap[Upload]("extract", log), NewExtract(s.deps.Extractor))))
	return fn.Then(extracted, s.fromText)
}
