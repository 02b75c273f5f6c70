// Command ingest feeds documents into docqa.
//
//	ingest -worker                 serve ingestion requests from NATS
//	ingest [-local] FILE...        ingest files once
//	ingest [-local] -dir DIR       watch DIR for new .pdf/.txt/.md files
//
// Without -local, files are sent to a worker over NATS and the command waits
// for each reply. With -local, they are ingested in-process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/WessleyAI/docqa/engine/app"
	"github.com/WessleyAI/docqa/engine/ingest"
	"github.com/WessleyAI/docqa/pkg/config"
	"github.com/WessleyAI/docqa/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// submitter runs one file through ingestion, wherever that happens.
type submitter interface {
	Submit(ctx context.Context, filename string, data []byte) (ingest.IngestResult, error)
}

type localSubmitter struct{ svc *ingest.Service }

func (l localSubmitter) Submit(ctx context.Context, filename string, data []byte) (ingest.IngestResult, error) {
	return l.svc.Ingest(ctx, filename, data)
}

type natsSubmitter struct {
	nc      *nats.Conn
	timeout time.Duration
}

func (n natsSubmitter) Submit(ctx context.Context, filename string, data []byte) (ingest.IngestResult, error) {
	reply, err := natsutil.Request[ingest.IngestRequest, ingest.IngestReply](ctx, n.nc, ingest.Subject,
		ingest.IngestRequest{Filename: filename, Data: data}, n.timeout)
	if err != nil {
		return ingest.IngestResult{}, err
	}
	if reply.Error != "" {
		return ingest.IngestResult{}, errors.New(reply.Error)
	}
	if reply.Result == nil {
		return ingest.IngestResult{}, errors.New("empty reply")
	}
	return *reply.Result, nil
}

func main() {
	var (
		worker    = flag.Bool("worker", false, "serve ingestion requests from NATS")
		local     = flag.Bool("local", false, "ingest in-process instead of through NATS")
		dir       = flag.String("dir", "", "directory to watch for documents")
		interval  = flag.Duration("interval", 30*time.Second, "scan interval for -dir")
		stateFile = flag.String("state", "", "processed files state (default DIR/.ingest-state.json)")
		timeout   = flag.Duration("timeout", 5*time.Minute, "per-file NATS request timeout")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *worker {
		err = runWorker(ctx, cfg, log)
	} else {
		err = runClient(ctx, cfg, log, *local, *dir, *interval, *stateFile, *timeout, flag.Args())
	}
	if err != nil {
		log.Error("ingest exited with error", "err", err)
		os.Exit(1)
	}
}

func runWorker(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer a.Close(context.Background())
	a.Metrics.Registry().ServeAsync(ctx, ":"+cfg.MetricsPort, log)

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("docqa-ingest-worker"))
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", cfg.NATSURL, err)
	}
	defer nc.Drain()

	if _, err := ingest.StartConsumer(nc, a.Ingest, log); err != nil {
		return fmt.Errorf("subscribe %s: %w", ingest.Subject, err)
	}
	log.Info("ingest worker started", "subject", ingest.Subject, "queue", ingest.Queue)
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func runClient(ctx context.Context, cfg config.Config, log *slog.Logger, local bool, dir string, interval time.Duration, stateFile string, timeout time.Duration, files []string) error {
	if dir == "" && len(files) == 0 {
		return errors.New("nothing to ingest: pass files or -dir")
	}

	var sub submitter
	if local {
		a, err := app.Build(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("build services: %w", err)
		}
		defer a.Close(context.Background())
		sub = localSubmitter{svc: a.Ingest}
	} else {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("docqa-ingest-client"))
		if err != nil {
			return fmt.Errorf("nats connect %s: %w", cfg.NATSURL, err)
		}
		defer nc.Close()
		sub = natsSubmitter{nc: nc, timeout: timeout}
	}

	if dir != "" {
		if stateFile == "" {
			stateFile = filepath.Join(dir, ".ingest-state.json")
		}
		w := &watcher{dir: dir, stateFile: stateFile, sub: sub, log: log}
		return w.run(ctx, interval)
	}

	var failed int
	for _, path := range files {
		if _, err := submitFile(ctx, sub, path, log); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func submitFile(ctx context.Context, sub submitter, path string, log *slog.Logger) (ingest.IngestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error("read failed", "file", path, "error", err)
		return ingest.IngestResult{}, err
	}
	res, err := sub.Submit(ctx, filepath.Base(path), data)
	if err != nil {
		log.Error("ingest failed", "file", path, "error", err)
		return res, err
	}
	log.Info("file ingested",
		"file", path,
		"doc_id", res.DocID,
		"total_chunks", res.TotalChunks,
		"stored_chunks", res.StoredChunks,
	)
	return res, nil
}
