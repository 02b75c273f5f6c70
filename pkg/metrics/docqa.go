package metrics

// Buckets for model and index round trips, in seconds.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Set is the named metrics recorded by ingestion and retrieval.
type Set struct {
	reg *Registry

	DocumentsIngested *Counter
	ChunksProduced    *Counter
	ChunksStored      *Counter
	ChunksFailed      *Counter
	IngestSeconds     *Histogram

	Queries      *Counter
	NoContent    *Counter
	EmbedSeconds *Histogram
	QuerySeconds *Histogram
}

// NewSet registers the docqa metrics on r. A nil r gets a private registry.
func NewSet(r *Registry) *Set {
	if r == nil {
		r = New()
	}
	return &Set{
		reg:               r,
		DocumentsIngested: r.Counter("docqa_documents_ingested_total", "Documents that completed ingestion"),
		ChunksProduced:    r.Counter("docqa_chunks_produced_total", "Chunks produced by segmentation"),
		ChunksStored:      r.Counter("docqa_chunks_stored_total", "Chunks embedded and written to the index"),
		ChunksFailed:      r.Counter("docqa_chunks_failed_total", "Chunks skipped after an embed or write failure"),
		IngestSeconds:     r.Histogram("docqa_ingest_duration_seconds", "Wall time of one ingestion", latencyBuckets),
		Queries:           r.Counter("docqa_queries_total", "Retrieval requests"),
		NoContent:         r.Counter("docqa_no_content_total", "Retrievals that matched no chunk"),
		EmbedSeconds:      r.Histogram("docqa_embed_duration_seconds", "Question embedding latency", latencyBuckets),
		QuerySeconds:      r.Histogram("docqa_index_query_duration_seconds", "Vector index query latency", latencyBuckets),
	}
}

// Registry returns the registry the set was registered on.
func (s *Set) Registry() *Registry { return s.reg }

// ChunkFailure counts one skipped chunk under its failure kind.
func (s *Set) ChunkFailure(kind string) {
	s.ChunksFailed.Inc()
	s.reg.Counter(WithLabels("docqa_chunk_failures_total", "kind", kind), "Skipped chunks by failure kind").Inc()
}
