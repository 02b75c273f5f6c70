package ingest

import (
	"context"
	"log/slog"

	"github.com/WessleyAI/docqa/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// Subject carries ingestion requests.
	Subject = "docqa.ingest"
	// Queue is the queue group shared by ingestion workers.
	Queue = "docqa-ingest"
)

// IngestRequest is the message body on Subject. Text, when set, is ingested
// as-is and Data is ignored.
type IngestRequest struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data,omitempty"`
	Text     string `json:"text,omitempty"`
}

// IngestReply answers an IngestRequest. Exactly one of Result and Error is set.
type IngestReply struct {
	Result *IngestResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// StartConsumer subscribes svc to Subject in the Queue group.
func StartConsumer(nc *nats.Conn, svc *Service, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return natsutil.Serve(nc, Subject, Queue, func(ctx context.Context, req IngestRequest) IngestReply {
		return svc.handle(ctx, req, log)
	}, func(msg *nats.Msg, err error) {
		log.Warn("ingest: dropped message", "subject", msg.Subject, "error", err)
	})
}

func (s *Service) handle(ctx context.Context, req IngestRequest, log *slog.Logger) IngestReply {
	var (
		res IngestResult
		err error
	)
	if req.Text != "" {
		res, err = s.IngestText(ctx, req.Filename, req.Text)
	} else {
		res, err = s.Ingest(ctx, req.Filename, req.Data)
	}
	if err != nil {
		log.Error("ingest: request failed", "filename", req.Filename, "error", err)
		return IngestReply{Error: err.Error()}
	}
	return IngestReply{Result: &res}
}
