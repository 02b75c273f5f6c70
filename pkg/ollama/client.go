// Package ollama talks to an Ollama server for embeddings and text generation.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/WessleyAI/docqa/pkg/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	// ErrDimensionMismatch is returned when the server's vector length does
	// not match the configured dimension.
	ErrDimensionMismatch = errors.New("ollama: embedding dimension mismatch")
	// ErrEmptyResponse is returned when the server answers without content.
	ErrEmptyResponse = errors.New("ollama: empty response")
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
	// Dims is the expected embedding length. Zero disables the check.
	Dims int
	// Timeout bounds each HTTP request. Zero means no client-side timeout.
	Timeout time.Duration
	// Breaker guards every call; nil uses a breaker with default options.
	Breaker *resilience.Breaker
}

// Client is an Ollama HTTP client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	embedModel string
	chatModel  string
	dims       int
	http       *http.Client
	breaker    *resilience.Breaker
}

// New creates a Client.
func New(cfg Config) *Client {
	b := cfg.Breaker
	if b == nil {
		b = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
		dims:       cfg.Dims,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: b,
	}
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

type generateReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResp struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return resilience.Do(c.breaker, ctx, func(ctx context.Context) ([]float32, error) {
		var result embedResp
		if err := c.post(ctx, "/api/embeddings", embedReq{Model: c.embedModel, Prompt: text}, &result); err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		if len(result.Embedding) == 0 {
			return nil, fmt.Errorf("ollama embed: %w", ErrEmptyResponse)
		}
		if c.dims > 0 && len(result.Embedding) != c.dims {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(result.Embedding), c.dims)
		}

		out := make([]float32, len(result.Embedding))
		for i, v := range result.Embedding {
			out[i] = float32(v)
		}
		return out, nil
	})
}

// Generate returns the model's completion of prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return resilience.Do(c.breaker, ctx, func(ctx context.Context) (string, error) {
		var result generateResp
		if err := c.post(ctx, "/api/generate", generateReq{Model: c.chatModel, Prompt: prompt}, &result); err != nil {
			return "", fmt.Errorf("ollama generate: %w", err)
		}
		if strings.TrimSpace(result.Response) == "" {
			return "", fmt.Errorf("ollama generate: %w", ErrEmptyResponse)
		}
		return result.Response, nil
	})
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama ping: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
