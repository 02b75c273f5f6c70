package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/WessleyAI/docqa/engine/catalog"
	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/engine/extract"
	"github.com/WessleyAI/docqa/engine/ingest"
	"github.com/WessleyAI/docqa/engine/rag"
	"github.com/WessleyAI/docqa/pkg/resilience"
)

// multipartMemory is the part of a multipart form held in memory; the rest
// spills to temp files.
const multipartMemory = 32 << 20

type ingester interface {
	Ingest(ctx context.Context, filename string, data []byte) (ingest.IngestResult, error)
}

type asker interface {
	Ask(ctx context.Context, question, docID string, k int) (*rag.Answer, error)
}

func newMux(ing ingester, ask asker, cat catalog.Catalog, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/upload", handleUpload(ing, logger))
	mux.HandleFunc("POST /api/ask", handleAsk(ask, logger))
	mux.HandleFunc("GET /api/documents", handleListDocuments(cat, logger))
	mux.HandleFunc("GET /api/documents/{id}", handleGetDocument(cat, logger))
	return mux
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UploadResponse is the JSON response for POST /api/upload.
type UploadResponse struct {
	Message string `json:"message"`
	ingest.IngestResult
}

func uploadMessage(r ingest.IngestResult) string {
	if r.Complete() {
		return fmt.Sprintf("Successfully stored ALL %d chunks from %s", r.TotalChunks, r.Filename)
	}
	return fmt.Sprintf("Stored %d of %d chunks from %s", r.StoredChunks, r.TotalChunks, r.Filename)
}

func handleUpload(ing ingester, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, bodyStatus(err), "invalid multipart form: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()

		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			writeError(w, bodyStatus(err), "read upload: "+err.Error())
			return
		}

		res, err := ing.Ingest(r.Context(), hdr.Filename, data)
		if err != nil {
			status := errorStatus(err)
			if status >= http.StatusInternalServerError {
				logger.Error("upload failed", "filename", hdr.Filename, "err", err)
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, UploadResponse{Message: uploadMessage(res), IngestResult: res})
	}
}

// AskRequest is the body for POST /api/ask. Form fields of the same names
// are accepted too.
type AskRequest struct {
	Question string `json:"question"`
	DocID    string `json:"doc_id"`
	K        int    `json:"k,omitempty"`
}

func decodeAsk(r *http.Request) (AskRequest, error) {
	var req AskRequest
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid request body: %w", err)
		}
		return req, nil
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return req, fmt.Errorf("invalid form: %w", err)
	}
	req.Question = r.FormValue("question")
	req.DocID = r.FormValue("doc_id")
	if k := r.FormValue("k"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil {
			return req, fmt.Errorf("k must be an integer: %w", err)
		}
		req.K = n
	}
	return req, nil
}

func handleAsk(ask asker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeAsk(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := domain.ValidateQuestion(req.Question, req.DocID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		answer, err := ask.Ask(r.Context(), req.Question, req.DocID, req.K)
		if err != nil {
			status := errorStatus(err)
			if status >= http.StatusInternalServerError {
				logger.Error("ask failed", "doc_id", req.DocID, "err", err)
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, answer)
	}
}

func handleGetDocument(cat catalog.Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := cat.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			status := errorStatus(err)
			if status >= http.StatusInternalServerError {
				logger.Error("document lookup failed", "doc_id", r.PathValue("id"), "err", err)
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleListDocuments(cat catalog.Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, err1 := queryInt(r, "offset", 0)
		limit, err2 := queryInt(r, "limit", 50)
		if err := errors.Join(err1, err2); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		docs, err := cat.List(r.Context(), offset, limit)
		if err != nil {
			logger.Error("document list failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if docs == nil {
			docs = []domain.Document{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	}
}

// --- Helpers ---

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// errorStatus maps pipeline errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidParameter), errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, extract.ErrUnreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, domain.ErrStoreQuery):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func bodyStatus(err error) int {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
