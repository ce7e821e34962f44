package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/recallhq/recall/internal/conversation"
	"github.com/recallhq/recall/internal/knowledge"
	"github.com/recallhq/recall/internal/log"
	"github.com/recallhq/recall/internal/retrieval"
)

// maxAskBytes caps the ask request body size.
const maxAskBytes = 1 << 20 // 1MB

// SSE event types for answer streaming.
const (
	EventSources = "sources" // Selected chunks, sent before any answer text
	EventChunk   = "chunk"   // Partial answer text
	EventDone    = "done"    // Stream completed successfully
	EventError   = "error"   // Error occurred during streaming
)

// AskRequest is the request body for /api/ask and /api/ask/stream.
//
// Mode defaults to "fast" on this surface; pass "intelligent" (or its
// alias "smart") to run the relevance judge over the candidates.
type AskRequest struct {
	Question  string `json:"question"`
	Document  string `json:"document,omitempty"`   // scope to one document by name
	Mode      string `json:"mode,omitempty"`       // "fast" | "intelligent" | "smart"
	TopK      int    `json:"top_k,omitempty"`      // 0 = configured default
	SessionID string `json:"session_id,omitempty"` // conversation to read and record history
}

// AskResponse is the JSON answer payload.
type AskResponse struct {
	Answer    string               `json:"answer"`
	Query     string               `json:"query"`
	Mode      retrieval.Mode       `json:"mode"`
	Chunks    []retrieval.Selected `json:"chunks"`
	Stats     retrieval.Stats      `json:"stats"`
	SessionID string               `json:"session_id,omitempty"`
}

// SourcesPayload is the SSE data payload carrying the selected chunks.
type SourcesPayload struct {
	Chunks []retrieval.Selected `json:"chunks"`
	Stats  retrieval.Stats      `json:"stats"`
}

// ChunkPayload is the SSE data payload for streaming answer text.
type ChunkPayload struct {
	Text string `json:"text"`
}

// DonePayload is the SSE data payload when streaming completes.
type DonePayload struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorPayload is the SSE data payload when an error occurs.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// askHandler handles question answering endpoints.
type askHandler struct {
	retriever Retriever
	answerer  Answerer
	sessions  *conversation.Store
	logger    log.Logger
}

// RegisterRoutes registers ask routes on the given mux.
func (h *askHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ask", h.ask)
	mux.HandleFunc("POST /api/ask/stream", h.stream)
}

// fault is a request problem that maps to an HTTP error or SSE error event.
type fault struct {
	status  int
	code    string
	message string
}

// resolve parses and validates the request body, resolving the session if
// one was named. A nil *fault means the request is ready to run.
func (h *askHandler) resolve(r *http.Request, w http.ResponseWriter) (retrieval.AskRequest, *conversation.Session, *fault) {
	var none retrieval.AskRequest

	var req AskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return none, nil, &fault{http.StatusBadRequest, "invalid_request", "invalid request body"}
	}

	if strings.TrimSpace(req.Question) == "" {
		return none, nil, &fault{http.StatusBadRequest, "missing_question", "question is required"}
	}

	// This surface defaults to fast retrieval; judging every candidate is
	// opt-in for callers that want precision over latency.
	mode := retrieval.ModeFast
	if req.Mode != "" {
		parsed, err := retrieval.ParseMode(req.Mode)
		if err != nil {
			return none, nil, &fault{http.StatusBadRequest, "invalid_mode", err.Error()}
		}
		mode = parsed
	}

	var sess *conversation.Session
	var turns []conversation.Turn
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			return none, nil, &fault{http.StatusBadRequest, "invalid_session", "session_id is not a valid UUID"}
		}
		sess, err = h.sessions.Get(id)
		if err != nil {
			return none, nil, &fault{http.StatusNotFound, "session_not_found", "session not found"}
		}
		turns = sess.Window.Turns()
	}

	return retrieval.AskRequest{
		Question: req.Question,
		Document: req.Document,
		Mode:     mode,
		TopK:     req.TopK,
		Turns:    turns,
	}, sess, nil
}

// ask handles POST /api/ask: retrieve, answer, and return everything as
// one JSON response.
func (h *askHandler) ask(w http.ResponseWriter, r *http.Request) {
	req, sess, f := h.resolve(r, w)
	if f != nil {
		writeError(w, h.logger, f.status, f.code, f.message)
		return
	}

	res, err := h.retriever.Ask(r.Context(), req)
	if err != nil {
		f := h.askFault(err)
		writeError(w, h.logger, f.status, f.code, f.message)
		return
	}

	answerText, err := h.answerer.Answer(r.Context(), req.Question, res.Chunks, req.Turns)
	if err != nil {
		h.logger.Error("generating answer", "error", err)
		writeError(w, h.logger, http.StatusBadGateway, "generation_failed", "answer generation failed")
		return
	}

	resp := AskResponse{
		Answer: answerText,
		Query:  res.Query,
		Mode:   res.Mode,
		Chunks: res.Chunks,
		Stats:  res.Stats,
	}
	if sess != nil {
		sess.Window.Record(req.Question, answerText, retrieval.Citations(res.Chunks)...)
		resp.SessionID = sess.ID.String()
	}

	writeData(w, h.logger, http.StatusOK, resp)
}

// stream handles POST /api/ask/stream: same pipeline as ask, but the
// answer streams over SSE as the model produces it. Errors after the SSE
// headers are committed arrive as error events, not HTTP statuses.
func (h *askHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	req, sess, f := h.resolve(r, w)
	if f != nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: f.code, Message: f.message})
		return
	}

	ctx := r.Context()
	h.logger.Debug("SSE stream started", "question_len", len(req.Question), "mode", req.Mode)

	res, err := h.retriever.Ask(ctx, req)
	if err != nil {
		f := h.askFault(err)
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: f.code, Message: f.message})
		return
	}

	if err := writeEvent(w, flusher, EventSources, SourcesPayload{Chunks: res.Chunks, Stats: res.Stats}); err != nil {
		h.logger.Debug("client disconnected before sources", "error", err)
		return
	}

	answerText, err := h.answerer.Stream(ctx, req.Question, res.Chunks, req.Turns,
		func(ctx context.Context, text string) error {
			return writeEvent(w, flusher, EventChunk, ChunkPayload{Text: text})
		})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected during stream")
			return
		}
		h.logger.Error("streaming answer", "error", err)
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "generation_failed", Message: "answer generation failed"})
		return
	}

	done := DonePayload{Answer: answerText}
	if sess != nil {
		sess.Window.Record(req.Question, answerText, retrieval.Citations(res.Chunks)...)
		done.SessionID = sess.ID.String()
	}
	_ = writeEvent(w, flusher, EventDone, done)

	h.logger.Debug("SSE stream completed", "selected", len(res.Chunks))
}

// askFault maps retrieval errors to HTTP faults.
func (h *askHandler) askFault(err error) *fault {
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuestion):
		return &fault{http.StatusBadRequest, "missing_question", "question is required"}
	case errors.Is(err, retrieval.ErrNoDocuments):
		return &fault{http.StatusNotFound, "no_documents", "the knowledge base is empty; upload a document first"}
	case errors.Is(err, knowledge.ErrNotFound):
		return &fault{http.StatusNotFound, "document_not_found", "document not found"}
	default:
		h.logger.Error("retrieval failed", "error", err)
		return &fault{http.StatusInternalServerError, "internal_error", "internal server error"}
	}
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
