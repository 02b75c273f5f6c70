package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WessleyAI/docqa/engine/extract"
)

// watcher ingests new files found in dir. A file is keyed by name and size;
// it is marked processed only when every chunk was stored, so partial
// ingestions are retried on the next scan.
type watcher struct {
	dir       string
	stateFile string
	sub       submitter
	log       *slog.Logger

	processed map[string]string // file key -> doc_id
}

func (w *watcher) run(ctx context.Context, interval time.Duration) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	w.processed = loadState(w.stateFile)
	w.log.Info("watching for documents", "dir", w.dir, "interval", interval)

	w.scan(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("shutting down")
			return nil
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// scan returns the number of files ingested.
func (w *watcher) scan(ctx context.Context) int {
	if w.processed == nil {
		w.processed = make(map[string]string)
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Error("readdir failed", "error", err)
		return 0
	}

	var count int
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !extract.SupportedExtension(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		key := fmt.Sprintf("%s:%d", name, info.Size())
		if _, ok := w.processed[key]; ok {
			continue
		}

		res, err := submitFile(ctx, w.sub, filepath.Join(w.dir, name), w.log)
		if err != nil {
			continue
		}
		if !res.Complete() {
			w.log.Warn("file partially stored, will retry on next scan", "file", name, "failed_chunks", res.FailedChunks)
			continue
		}
		w.processed[key] = res.DocID
		count++
		if err := saveState(w.stateFile, w.processed); err != nil {
			w.log.Error("save state failed", "error", err)
		}
	}
	return count
}

func loadState(path string) map[string]string {
	m := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
