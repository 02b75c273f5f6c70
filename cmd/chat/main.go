// Command chat is a terminal client for the docqa API. It uploads a file or
// picks an existing doc_id, then answers questions read line by line from
// stdin.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/WessleyAI/docqa/engine/rag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// apiClient calls the docqa HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type uploadResult struct {
	Message     string `json:"message"`
	DocID       string `json:"doc_id"`
	TotalChunks int    `json:"total_chunks"`
}

func (c *apiClient) upload(ctx context.Context, path string) (uploadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return uploadResult{}, err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return uploadResult{}, err
	}
	fw.Write(data)
	mw.Close()

	var out uploadResult
	err = c.do(ctx, "/api/upload", mw.FormDataContentType(), &body, &out)
	return out, err
}

func (c *apiClient) ask(ctx context.Context, question, docID string, k int) (*rag.Answer, error) {
	body, err := json.Marshal(map[string]any{"question": question, "doc_id": docID, "k": k})
	if err != nil {
		return nil, err
	}
	var out rag.Answer
	if err := c.do(ctx, "/api/ask", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// session answers each non-empty line of in until EOF or ctx is done.
func session(ctx context.Context, c *apiClient, docID string, k int, showSources bool, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			fmt.Fprint(out, "> ")
			continue
		}
		ans, err := c.ask(ctx, q, docID, k)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n> ", err)
			continue
		}
		fmt.Fprintln(out, ans.Answer)
		if showSources {
			for _, s := range ans.Sources {
				fmt.Fprintf(out, "  [chunk %d, score %.3f]\n", s.ChunkIndex, s.Score)
			}
		}
		fmt.Fprint(out, "> ")
	}
	fmt.Fprintln(out)
	return sc.Err()
}

func main() {
	var (
		api     = flag.String("api", envOr("DOCQA_API", "http://localhost:8080"), "docqa API base URL")
		docID   = flag.String("doc", "", "doc_id to ask about")
		file    = flag.String("file", "", "upload this file first and ask about it")
		k       = flag.Int("k", 5, "number of chunks to retrieve")
		sources = flag.Bool("sources", false, "print the chunks behind each answer")
		timeout = flag.Duration("timeout", 5*time.Minute, "per-request timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := newAPIClient(*api, *timeout)
	if *file != "" {
		res, err := c.upload(ctx, *file)
		if err != nil {
			logger.Error("upload failed", "file", *file, "err", err)
			os.Exit(1)
		}
		logger.Info(res.Message, "doc_id", res.DocID)
		*docID = res.DocID
	}
	if *docID == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -doc DOC_ID | -file PATH")
		os.Exit(2)
	}

	if err := session(ctx, c, *docID, *k, *sources, os.Stdin, os.Stdout); err != nil {
		logger.Error("read input", "err", err)
		os.Exit(1)
	}
}
