package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/recallhq/recall/internal/knowledge"
	"github.com/recallhq/recall/internal/retrieval"
	"github.com/recallhq/recall/internal/testutil"
)

func askBody(t *testing.T, req AskRequest) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	return bytes.NewReader(data)
}

func postAsk(t *testing.T, h http.Handler, path string, body *bytes.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAsk(t *testing.T) {
	fx := newFixture()
	h := newTestServer(t, fx)

	rec := postAsk(t, h, "/api/ask", askBody(t, AskRequest{Question: "How long are audit records kept?"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp AskResponse
	decodeData(t, rec, &resp)
	if resp.Answer != fx.answerer.answer {
		t.Errorf("answer = %q, want %q", resp.Answer, fx.answerer.answer)
	}
	if len(resp.Chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(resp.Chunks))
	}
	if resp.Chunks[0].Name != "notes.md" {
		t.Errorf("chunk name = %q, want notes.md", resp.Chunks[0].Name)
	}
	if resp.SessionID != "" {
		t.Errorf("session_id = %q, want empty without a session", resp.SessionID)
	}

	// The HTTP surface defaults to fast mode.
	if got := fx.retriever.lastRequest().Mode; got != retrieval.ModeFast {
		t.Errorf("mode = %q, want %q", got, retrieval.ModeFast)
	}
}

func TestAskModeSelection(t *testing.T) {
	tests := []struct {
		mode string
		want retrieval.Mode
	}{
		{mode: "fast", want: retrieval.ModeFast},
		{mode: "intelligent", want: retrieval.ModeIntelligent},
		{mode: "smart", want: retrieval.ModeIntelligent},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			fx := newFixture()
			h := newTestServer(t, fx)

			rec := postAsk(t, h, "/api/ask", askBody(t, AskRequest{Question: "q", Mode: tt.mode}))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if got := fx.retriever.lastRequest().Mode; got != tt.want {
				t.Errorf("mode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAskWithSession(t *testing.T) {
	fx := newFixture()
	h := newTestServer(t, fx)
	sess := fx.sessions.Create()

	rec := postAsk(t, h, "/api/ask", askBody(t, AskRequest{
		Question:  "How long are audit records kept?",
		SessionID: sess.ID.String(),
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp AskResponse
	decodeData(t, rec, &resp)
	if resp.SessionID != sess.ID.String() {
		t.Errorf("session_id = %q, want %q", resp.SessionID, sess.ID)
	}
	if sess.Window.Len() != 1 {
		t.Fatalf("window turns = %d, want 1", sess.Window.Len())
	}
	if got := sess.Window.Turns()[0].Citations; len(got) != 1 || got[0] != "1f3870be274f6c49b3e31a0c6728957f#0" {
		t.Errorf("turn citations = %v, want the selected chunk identity", got)
	}

	// The second ask carries the first turn as history.
	rec = postAsk(t, h, "/api/ask", askBody(t, AskRequest{
		Question:  "And after that?",
		SessionID: sess.ID.String(),
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("second ask status = %d, want %d", rec.Code, http.StatusOK)
	}
	turns := fx.retriever.lastRequest().Turns
	if len(turns) != 1 {
		t.Fatalf("retriever saw %d turns, want 1", len(turns))
	}
	if turns[0].Question != "How long are audit records kept?" {
		t.Errorf("turn question = %q", turns[0].Question)
	}
	if sess.Window.Len() != 2 {
		t.Errorf("window turns = %d, want 2", sess.Window.Len())
	}
}

func TestAskValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		wantCode string
	}{
		{name: "malformed body", body: "{not json", status: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "missing question", body: `{"question":"  "}`, status: http.StatusBadRequest, wantCode: "missing_question"},
		{name: "unknown mode", body: `{"question":"q","mode":"psychic"}`, status: http.StatusBadRequest, wantCode: "invalid_mode"},
		{name: "malformed session id", body: `{"question":"q","session_id":"not-a-uuid"}`, status: http.StatusBadRequest, wantCode: "invalid_session"},
		{name: "unknown session", body: `{"question":"q","session_id":"5f0c9ee4-4c8d-4b2e-9a37-3a4be06918e1"}`, status: http.StatusNotFound, wantCode: "session_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, newFixture())

			req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.status, rec.Body.String())
			}
			if code := errCode(t, rec); code != tt.wantCode {
				t.Errorf("error code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestAskRetrievalErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		wantCode string
	}{
		{name: "empty knowledge base", err: retrieval.ErrNoDocuments, status: http.StatusNotFound, wantCode: "no_documents"},
		{name: "unknown document", err: knowledge.ErrNotFound, status: http.StatusNotFound, wantCode: "document_not_found"},
		{name: "internal failure", err: errors.New("index exploded"), status: http.StatusInternalServerError, wantCode: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture()
			fx.retriever.err = tt.err
			h := newTestServer(t, fx)

			rec := postAsk(t, h, "/api/ask", askBody(t, AskRequest{Question: "q"}))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if code := errCode(t, rec); code != tt.wantCode {
				t.Errorf("error code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestAskGenerationFailure(t *testing.T) {
	fx := newFixture()
	fx.answerer.err = errors.New("model unavailable")
	h := newTestServer(t, fx)
	sess := fx.sessions.Create()

	rec := postAsk(t, h, "/api/ask", askBody(t, AskRequest{Question: "q", SessionID: sess.ID.String()}))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if code := errCode(t, rec); code != "generation_failed" {
		t.Errorf("error code = %q, want generation_failed", code)
	}
	// Failed turns never enter the history window.
	if sess.Window.Len() != 0 {
		t.Errorf("window turns = %d, want 0", sess.Window.Len())
	}
}

func TestAskStream(t *testing.T) {
	fx := newFixture()
	h := newTestServer(t, fx)
	sess := fx.sessions.Create()

	rec := postAsk(t, h, "/api/ask/stream", askBody(t, AskRequest{
		Question:  "How long are audit records kept?",
		SessionID: sess.ID.String(),
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ctype := rec.Header().Get("Content-Type"); ctype != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ctype)
	}

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	if len(events) == 0 {
		t.Fatal("no SSE events")
	}
	if events[0].Type != EventSources {
		t.Fatalf("first event = %q, want %q", events[0].Type, EventSources)
	}

	var sources SourcesPayload
	if err := json.Unmarshal([]byte(events[0].Data), &sources); err != nil {
		t.Fatalf("decoding sources: %v", err)
	}
	if len(sources.Chunks) != 1 || sources.Chunks[0].Name != "notes.md" {
		t.Errorf("sources chunks = %+v", sources.Chunks)
	}

	var streamed strings.Builder
	for _, ev := range testutil.FindAllEvents(events, EventChunk) {
		var chunk ChunkPayload
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			t.Fatalf("decoding chunk: %v", err)
		}
		streamed.WriteString(chunk.Text)
	}
	if streamed.String() != fx.answerer.answer {
		t.Errorf("streamed text = %q, want %q", streamed.String(), fx.answerer.answer)
	}

	doneEv := testutil.FindEvent(events, EventDone)
	if doneEv == nil {
		t.Fatal("no done event")
	}
	var done DonePayload
	if err := json.Unmarshal([]byte(doneEv.Data), &done); err != nil {
		t.Fatalf("decoding done: %v", err)
	}
	if done.Answer != fx.answerer.answer {
		t.Errorf("done answer = %q, want %q", done.Answer, fx.answerer.answer)
	}
	if done.SessionID != sess.ID.String() {
		t.Errorf("done session_id = %q, want %q", done.SessionID, sess.ID)
	}
	if sess.Window.Len() != 1 {
		t.Errorf("window turns = %d, want 1", sess.Window.Len())
	}
}

func TestAskStreamRetrievalError(t *testing.T) {
	fx := newFixture()
	fx.retriever.err = retrieval.ErrNoDocuments
	h := newTestServer(t, fx)

	rec := postAsk(t, h, "/api/ask/stream", askBody(t, AskRequest{Question: "q"}))

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want a single error event", events)
	}
	var payload ErrorPayload
	if err := json.Unmarshal([]byte(events[0].Data), &payload); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	if payload.Code != "no_documents" {
		t.Errorf("error code = %q, want no_documents", payload.Code)
	}
}

func TestAskStreamGenerationError(t *testing.T) {
	fx := newFixture()
	fx.answerer.err = errors.New("model unavailable")
	h := newTestServer(t, fx)

	rec := postAsk(t, h, "/api/ask/stream", askBody(t, AskRequest{Question: "q"}))

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	if ev := testutil.FindEvent(events, EventSources); ev == nil {
		t.Fatal("no sources event before the failure")
	}
	errEv := testutil.FindEvent(events, EventError)
	if errEv == nil {
		t.Fatal("no error event")
	}
	var payload ErrorPayload
	if err := json.Unmarshal([]byte(errEv.Data), &payload); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	if payload.Code != "generation_failed" {
		t.Errorf("error code = %q, want generation_failed", payload.Code)
	}
	if testutil.FindEvent(events, EventDone) != nil {
		t.Error("done event present after failure")
	}
}
