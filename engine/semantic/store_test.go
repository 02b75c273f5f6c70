package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/WessleyAI/docqa/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

// --- Mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertErr  error
	deleteReq  *pb.DeletePoints
	deleteErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	countReq   *pb.CountPoints
	countResp  *pb.CountResponse
	countErr   error
	indexReq   *pb.CreateFieldIndexCollection
	indexErr   error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleteReq = in
	return &pb.PointsOperationResponse{}, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}
func (m *mockPoints) Count(_ context.Context, in *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	m.countReq = in
	return m.countResp, m.countErr
}
func (m *mockPoints) CreateFieldIndex(_ context.Context, in *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.indexReq = in
	return &pb.PointsOperationResponse{}, m.indexErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	createReq *pb.CreateCollection
	createErr error
	deleteErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.createReq = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: true}, m.deleteErr
}

func scored(docID string, idx int, content string, score float32) *pb.ScoredPoint {
	return &pb.ScoredPoint{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(docID, idx)}},
		Score: score,
		Payload: map[string]*pb.Value{
			"content":     {Kind: &pb.Value_StringValue{StringValue: content}},
			"doc_id":      {Kind: &pb.Value_StringValue{StringValue: docID}},
			"filename":    {Kind: &pb.Value_StringValue{StringValue: "f.pdf"}},
			"chunk_index": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(idx)}},
		},
	}
}

// --- Tests ---

func TestNewWithClients(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "test")
	if vs == nil {
		t.Fatal("expected non-nil")
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "test"}},
		},
	}
	pts := &mockPoints{}
	vs := NewWithClients(pts, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.createReq != nil || pts.indexReq != nil {
		t.Error("existing collection should not be recreated")
	}
}

func TestEnsureCollection_CreatesCosineWithIndex(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	pts := &mockPoints{}
	vs := NewWithClients(pts, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := cols.createReq.GetVectorsConfig().GetParams()
	if params.GetSize() != 768 || params.GetDistance() != pb.Distance_Cosine {
		t.Errorf("unexpected vector params: %+v", params)
	}
	if pts.indexReq.GetFieldName() != "doc_id" || pts.indexReq.GetFieldType() != pb.FieldType_FieldTypeKeyword {
		t.Errorf("unexpected field index: %+v", pts.indexReq)
	}
}

func TestEnsureCollection_Errors(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("rpc fail")}, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected list error")
	}
	vs = NewWithClients(&mockPoints{}, &mockCollections{listResp: &pb.ListCollectionsResponse{}, createErr: errors.New("create fail")}, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected create error")
	}
	vs = NewWithClients(&mockPoints{indexErr: errors.New("index fail")}, &mockCollections{listResp: &pb.ListCollectionsResponse{}}, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected index error")
	}
}

func TestDeleteCollection(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "test")
	if err := vs.DeleteCollection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vs = NewWithClients(&mockPoints{}, &mockCollections{deleteErr: errors.New("fail")}, "test")
	if err := vs.DeleteCollection(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPut_Payload(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	rec := NewRecord("doc-1", "report.pdf", 3, "hello", []float32{1, 2})
	if err := vs.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(pts.upsertReq.GetPoints()) != 1 {
		t.Fatalf("expected 1 point, got %d", len(pts.upsertReq.GetPoints()))
	}
	p := pts.upsertReq.GetPoints()[0]
	if p.GetId().GetUuid() != PointID("doc-1", 3) {
		t.Errorf("unexpected id %s", p.GetId().GetUuid())
	}
	pl := p.GetPayload()
	if pl["doc_id"].GetStringValue() != "doc-1" || pl["filename"].GetStringValue() != "report.pdf" ||
		pl["content"].GetStringValue() != "hello" || pl["chunk_index"].GetIntegerValue() != 3 {
		t.Errorf("unexpected payload: %v", pl)
	}
	if !pts.upsertReq.GetWait() {
		t.Error("upsert should wait")
	}
}

func TestPut_ErrorWrapsStoreWrite(t *testing.T) {
	vs := NewWithClients(&mockPoints{upsertErr: errors.New("unavailable")}, &mockCollections{}, "test")
	err := vs.Put(context.Background(), NewRecord("d", "f", 0, "x", []float32{1}))
	if !errors.Is(err, domain.ErrStoreWrite) {
		t.Fatalf("expected ErrStoreWrite, got %v", err)
	}
}

func TestUpsert_Empty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.upsertReq != nil {
		t.Error("empty upsert should not call qdrant")
	}
}

func TestQuery_FilterAndOrder(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		scored("doc-1", 2, "two", 0.5),
		scored("doc-1", 0, "zero", 0.9),
		scored("doc-2", 1, "leak", 0.99),
		scored("doc-1", 1, "one", 0.5),
	}}}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	results, err := vs.Query(context.Background(), []float32{1, 0}, "doc-1", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []string{"zero", "one", "two"}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(results))
	}
	for i, r := range results {
		if r.Content != want[i] || r.DocID != "doc-1" {
			t.Errorf("result %d: got %+v", i, r)
		}
	}

	cond := pts.searchReq.GetFilter().GetMust()[0].GetField()
	if cond.GetKey() != "doc_id" || cond.GetMatch().GetKeyword() != "doc-1" {
		t.Errorf("unexpected filter: %+v", cond)
	}
	if pts.searchReq.GetLimit() != 3 {
		t.Errorf("expected limit 3, got %d", pts.searchReq.GetLimit())
	}
}

func TestQuery_DefaultK(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	results, err := vs.Query(context.Background(), []float32{1}, "doc-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty, got %d", len(results))
	}
	if pts.searchReq.GetLimit() != DefaultTopK {
		t.Errorf("expected limit %d, got %d", DefaultTopK, pts.searchReq.GetLimit())
	}
}

func TestQuery_ErrorWrapsStoreQuery(t *testing.T) {
	vs := NewWithClients(&mockPoints{searchErr: errors.New("down")}, &mockCollections{}, "test")
	_, err := vs.Query(context.Background(), []float32{1}, "doc-1", 5)
	if !errors.Is(err, domain.ErrStoreQuery) {
		t.Fatalf("expected ErrStoreQuery, got %v", err)
	}
}

func TestDeleteAndCountByDocID(t *testing.T) {
	pts := &mockPoints{countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 7}}}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if err := vs.DeleteByDocID(context.Background(), "doc-9"); err != nil {
		t.Fatalf("DeleteByDocID: %v", err)
	}
	cond := pts.deleteReq.GetPoints().GetFilter().GetMust()[0].GetField()
	if cond.GetMatch().GetKeyword() != "doc-9" {
		t.Errorf("unexpected delete filter: %+v", cond)
	}
	n, err := vs.CountByDocID(context.Background(), "doc-9")
	if err != nil || n != 7 {
		t.Fatalf("CountByDocID = %d, %v", n, err)
	}
	if !proto.Equal(pts.countReq.GetFilter(), pts.deleteReq.GetPoints().GetFilter()) {
		t.Errorf("count and delete filters differ: %v vs %v", pts.countReq.GetFilter(), pts.deleteReq.GetPoints().GetFilter())
	}
	if !pts.countReq.GetExact() {
		t.Error("count should be exact")
	}

	vs = NewWithClients(&mockPoints{deleteErr: errors.New("x"), countErr: errors.New("y")}, &mockCollections{}, "test")
	if err := vs.DeleteByDocID(context.Background(), "d"); err == nil {
		t.Error("expected delete error")
	}
	if _, err := vs.CountByDocID(context.Background(), "d"); !errors.Is(err, domain.ErrStoreQuery) {
		t.Errorf("expected ErrStoreQuery, got %v", err)
	}
}

func TestPointID_Deterministic(t *testing.T) {
	if PointID("a", 1) != PointID("a", 1) {
		t.Error("PointID should be deterministic")
	}
	if PointID("a", 1) == PointID("a", 2) || PointID("a", 1) == PointID("b", 1) {
		t.Error("PointID should differ across doc/chunk")
	}
}
