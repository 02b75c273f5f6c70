package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/WessleyAI/docqa/engine/semantic"
	"github.com/WessleyAI/docqa/pkg/natsutil"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestConsumer_IngestsUpload(t *testing.T) {
	nc := startTestNATS(t)
	store := semantic.NewMemory()
	svc := newTestService(t, Deps{Store: store}, Options{})

	sub, err := StartConsumer(nc, svc, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	reply, err := natsutil.Request[IngestRequest, IngestReply](context.Background(), nc, Subject,
		IngestRequest{Filename: "notes.txt", Data: []byte(text2400)}, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Error != "" || reply.Result == nil {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if reply.Result.TotalChunks != 3 || reply.Result.StoredChunks != 3 {
		t.Fatalf("unexpected result %+v", reply.Result)
	}
	if n, _ := store.CountByDocID(context.Background(), reply.Result.DocID); n != 3 {
		t.Fatalf("stored %d", n)
	}
}

func TestConsumer_IngestsText(t *testing.T) {
	nc := startTestNATS(t)
	svc := newTestService(t, Deps{}, Options{})
	sub, err := StartConsumer(nc, svc, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	reply, err := natsutil.Request[IngestRequest, IngestReply](context.Background(), nc, Subject,
		IngestRequest{Filename: "short.txt", Text: "a short note"}, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Result == nil || reply.Result.TotalChunks != 1 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestConsumer_RepliesWithError(t *testing.T) {
	nc := startTestNATS(t)
	svc := newTestService(t, Deps{}, Options{})
	sub, err := StartConsumer(nc, svc, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	reply, err := natsutil.Request[IngestRequest, IngestReply](context.Background(), nc, Subject,
		IngestRequest{Filename: "empty.txt"}, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Result != nil || reply.Error == "" {
		t.Fatalf("expected error reply, got %+v", reply)
	}
}

func TestConsumer_DropsMalformed(t *testing.T) {
	nc := startTestNATS(t)
	emb := &mockEmbedder{}
	svc := newTestService(t, Deps{Embedder: emb}, Options{})
	sub, err := StartConsumer(nc, svc, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if _, err := nc.Request(Subject, []byte("{bad"), 200*time.Millisecond); err == nil {
		t.Fatal("malformed request should get no reply")
	}
	if emb.calls != 0 {
		t.Fatal("embedder should not be called")
	}
}
