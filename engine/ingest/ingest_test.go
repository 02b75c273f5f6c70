package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/WessleyAI/docqa/engine/catalog"
	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/engine/semantic"
	"github.com/WessleyAI/docqa/pkg/metrics"
)

// --- Mocks ---

type mockEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn func(text string) bool
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.failOn != nil && m.failOn(text) {
		return nil, errors.New("model unavailable")
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	v := h.Sum32()
	return []float32{float32(v%97) + 1, float32(v%89) + 1, float32(v%83) + 1}, nil
}

type failingStore struct {
	semantic.Store
	failIndex int
}

func (f *failingStore) Put(ctx context.Context, rec semantic.Record) error {
	if rec.ChunkIndex == f.failIndex {
		return errors.New("connection reset")
	}
	return f.Store.Put(ctx, rec)
}

type failingCatalog struct{ catalog.Catalog }

func (failingCatalog) Save(context.Context, domain.Document) error {
	return errors.New("neo4j down")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequentialIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("doc-%d", n)
	}
}

func newTestService(t *testing.T, deps Deps, opts Options) *Service {
	t.Helper()
	if deps.Embedder == nil {
		deps.Embedder = &mockEmbedder{}
	}
	if deps.Store == nil {
		deps.Store = semantic.NewMemory()
	}
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	if deps.NewID == nil {
		deps.NewID = sequentialIDs()
	}
	svc, err := New(deps, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

// text2400 has no whitespace so no window is trimmed.
var text2400 = strings.Repeat("abcdefghij", 240)

// --- Tests ---

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}, Options{}); err == nil {
		t.Fatal("expected error without embedder and store")
	}
}

func TestNew_InvalidChunkParams(t *testing.T) {
	deps := Deps{Embedder: &mockEmbedder{}, Store: semantic.NewMemory()}
	cases := []Options{
		{ChunkSize: -1},
		{ChunkSize: 100, ChunkOverlap: 100},
		{ChunkSize: 100, ChunkOverlap: -5},
	}
	for _, opts := range cases {
		if _, err := New(deps, opts); !errors.Is(err, domain.ErrInvalidParameter) {
			t.Errorf("New(%+v) = %v, want ErrInvalidParameter", opts, err)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	svc := newTestService(t, Deps{}, Options{})
	seg := svc.Segmenter()
	if seg.Size != 1000 || seg.Overlap != 200 {
		t.Fatalf("unexpected defaults %+v", seg)
	}
}

func TestIngest_ThreeChunks(t *testing.T) {
	store := semantic.NewMemory()
	svc := newTestService(t, Deps{Store: store}, Options{})

	res, err := svc.Ingest(context.Background(), "notes.txt", []byte(text2400))
	if err != nil {
		t.Fatal(err)
	}
	if res.DocID != "doc-1" || res.Filename != "notes.txt" {
		t.Fatalf("unexpected identity %+v", res)
	}
	if res.TotalChunks != 3 || res.StoredChunks != 3 || !res.Complete() {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.DocumentLength != 2400 {
		t.Fatalf("document length = %d", res.DocumentLength)
	}
	n, err := store.CountByDocID(context.Background(), "doc-1")
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestIngest_EveryIndexStored(t *testing.T) {
	store := semantic.NewMemory()
	emb := &mockEmbedder{}
	svc := newTestService(t, Deps{Store: store, Embedder: emb}, Options{ChunkSize: 100, ChunkOverlap: 20, Workers: 3})

	res, err := svc.IngestText(context.Background(), "long.txt", strings.Repeat("0123456789", 100))
	if err != nil {
		t.Fatal(err)
	}
	// ceil((1000-20)/80) windows
	if res.TotalChunks != 13 || res.StoredChunks != 13 {
		t.Fatalf("unexpected counts %+v", res)
	}
	vec, _ := emb.Embed(context.Background(), "probe")
	hits, err := store.Query(context.Background(), vec, res.DocID, 100)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int]bool)
	for _, h := range hits {
		seen[h.ChunkIndex] = true
		if h.DocID != res.DocID || h.Filename != "long.txt" {
			t.Fatalf("bad hit %+v", h)
		}
	}
	for i := range res.TotalChunks {
		if !seen[i] {
			t.Fatalf("chunk %d missing", i)
		}
	}
}

func TestIngest_EmbeddingFailureSkipsChunk(t *testing.T) {
	m := metrics.NewSet(nil)
	bad := text2400[800:1800]
	emb := &mockEmbedder{failOn: func(s string) bool { return s == bad }}
	store := semantic.NewMemory()
	svc := newTestService(t, Deps{Store: store, Embedder: emb, Metrics: m}, Options{})

	res, err := svc.Ingest(context.Background(), "notes.txt", []byte(text2400))
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalChunks != 3 || res.StoredChunks != 2 || res.FailedChunks != 1 || res.Complete() {
		t.Fatalf("unexpected counts %+v", res)
	}
	if len(res.Failures) != 1 || res.Failures[0].Index != 1 || !errors.Is(res.Failures[0].Err, domain.ErrEmbedding) {
		t.Fatalf("unexpected failures %+v", res.Failures)
	}
	if n, _ := store.CountByDocID(context.Background(), res.DocID); n != 2 {
		t.Fatalf("stored %d", n)
	}
	if m.ChunksFailed.Value() != 1 || m.ChunksStored.Value() != 2 || m.ChunksProduced.Value() != 3 {
		t.Fatalf("metrics: failed=%d stored=%d produced=%d", m.ChunksFailed.Value(), m.ChunksStored.Value(), m.ChunksProduced.Value())
	}
	if !strings.Contains(m.Registry().Render(), `docqa_chunk_failures_total{kind="embedding"} 1`) {
		t.Fatalf("missing labeled failure:\n%s", m.Registry().Render())
	}
}

func TestIngest_StoreFailureSkipsChunk(t *testing.T) {
	store := &failingStore{Store: semantic.NewMemory(), failIndex: 2}
	svc := newTestService(t, Deps{Store: store}, Options{})

	res, err := svc.Ingest(context.Background(), "notes.txt", []byte(text2400))
	if err != nil {
		t.Fatal(err)
	}
	if res.StoredChunks != 2 || res.FailedChunks != 1 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if !errors.Is(res.Failures[0].Err, domain.ErrStoreWrite) || failureKind(res.Failures[0].Err) != "store_write" {
		t.Fatalf("unexpected failure %v", res.Failures[0].Err)
	}
}

func TestIngest_UnsupportedFormat(t *testing.T) {
	emb := &mockEmbedder{}
	svc := newTestService(t, Deps{Embedder: emb}, Options{})

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	if _, err := svc.Ingest(context.Background(), "image.png", png); !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if emb.calls != 0 {
		t.Fatal("embedder should not be called")
	}
}

func TestIngest_EmptyUpload(t *testing.T) {
	svc := newTestService(t, Deps{}, Options{})
	if _, err := svc.Ingest(context.Background(), "empty.txt", nil); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestIngestText_EmptyProducesNoChunks(t *testing.T) {
	svc := newTestService(t, Deps{}, Options{})
	res, err := svc.IngestText(context.Background(), "blank.txt", "   ")
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalChunks != 0 || res.StoredChunks != 0 {
		t.Fatalf("unexpected counts %+v", res)
	}
}

func TestIngest_ReingestGetsNewDocID(t *testing.T) {
	store := semantic.NewMemory()
	svc := newTestService(t, Deps{Store: store}, Options{})
	ctx := context.Background()

	first, err := svc.Ingest(ctx, "notes.txt", []byte(text2400))
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Ingest(ctx, "notes.txt", []byte(text2400))
	if err != nil {
		t.Fatal(err)
	}
	if first.DocID == second.DocID {
		t.Fatal("re-ingestion must produce a new doc_id")
	}
	for _, id := range []string{first.DocID, second.DocID} {
		if n, _ := store.CountByDocID(ctx, id); n != 3 {
			t.Fatalf("%s has %d chunks", id, n)
		}
	}
}

func TestIngest_RegistersInCatalog(t *testing.T) {
	cat := catalog.NewMemory()
	m := metrics.NewSet(nil)
	svc := newTestService(t, Deps{Catalog: cat, Metrics: m}, Options{})

	res, err := svc.Ingest(context.Background(), "notes.txt", []byte(text2400))
	if err != nil {
		t.Fatal(err)
	}
	doc, err := cat.Get(context.Background(), res.DocID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Filename != "notes.txt" || doc.TotalChunks != 3 || doc.StoredChunks != 3 || doc.TotalLength != 2400 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}
	if m.DocumentsIngested.Value() != 1 {
		t.Fatalf("documents ingested = %d", m.DocumentsIngested.Value())
	}
}

func TestIngest_CatalogFailureTolerated(t *testing.T) {
	svc := newTestService(t, Deps{Catalog: failingCatalog{}}, Options{})
	res, err := svc.Ingest(context.Background(), "notes.txt", []byte(text2400))
	if err != nil {
		t.Fatalf("catalog failure should not fail ingestion: %v", err)
	}
	if res.StoredChunks != 3 {
		t.Fatalf("unexpected counts %+v", res)
	}
}

func TestIngest_Cancelled(t *testing.T) {
	svc := newTestService(t, Deps{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.IngestText(ctx, "notes.txt", text2400); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFailureKind(t *testing.T) {
	cases := map[error]string{
		fmt.Errorf("x: %w", domain.ErrEmbedding):  "embedding",
		fmt.Errorf("x: %w", domain.ErrStoreWrite): "store_write",
		errors.New("other"):                       "unknown",
	}
	for err, want := range cases {
		if got := failureKind(err); got != want {
			t.Errorf("failureKind(%v) = %q, want %q", err, got, want)
		}
	}
}
