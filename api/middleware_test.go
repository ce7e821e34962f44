package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/recallhq/recall/internal/log"
)

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	})
	h := recoveryMiddleware(log.NewNop())(panicking)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if code := errCode(t, rec); code != "internal_error" {
		t.Errorf("error code = %q, want internal_error", code)
	}
}

func TestRecoveryMiddlewareAfterHeadersSent(t *testing.T) {
	leaky := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		panic("mid-response")
	})
	h := recoveryMiddleware(log.NewNop())(leaky)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/leaky", nil))

	// Headers already went out; the recovery must not write a second
	// status or an error body on top of the partial response.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if strings.Contains(rec.Body.String(), "internal_error") {
		t.Errorf("error body appended after partial response: %q", rec.Body.String())
	}
}

func TestStatusWriter(t *testing.T) {
	t.Run("explicit status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		sw := &statusWriter{w: rec}
		sw.WriteHeader(http.StatusNotFound)
		if _, err := sw.Write([]byte("nope")); err != nil {
			t.Fatalf("write: %v", err)
		}
		if sw.statusCode != http.StatusNotFound {
			t.Errorf("statusCode = %d, want %d", sw.statusCode, http.StatusNotFound)
		}
		if sw.bytesWritten != 4 {
			t.Errorf("bytesWritten = %d, want 4", sw.bytesWritten)
		}
	})

	t.Run("implicit 200 on first write", func(t *testing.T) {
		rec := httptest.NewRecorder()
		sw := &statusWriter{w: rec}
		if _, err := sw.Write([]byte("ok")); err != nil {
			t.Fatalf("write: %v", err)
		}
		if sw.statusCode != http.StatusOK {
			t.Errorf("statusCode = %d, want %d", sw.statusCode, http.StatusOK)
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		rec := httptest.NewRecorder()
		sw := &statusWriter{w: rec}
		if sw.Unwrap() != rec {
			t.Error("Unwrap did not return the underlying writer")
		}
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := requestIDMiddleware()(inner)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	header := rec.Header().Get("X-Request-ID")
	if header == "" {
		t.Fatal("no X-Request-ID header")
	}
	if seen != header {
		t.Errorf("context id %q != header id %q", seen, header)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Level: slog.LevelDebug})

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := loggingMiddleware(logger)(inner)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tea", nil))

	out := buf.String()
	if !strings.Contains(out, "http request") {
		t.Fatalf("no request log line in %q", out)
	}
	if !strings.Contains(out, "status=418") {
		t.Errorf("log line missing status: %q", out)
	}
	if !strings.Contains(out, "path=/tea") {
		t.Errorf("log line missing path: %q", out)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	})

	h := chain(inner, mark("first"), mark("second"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"first", "second", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
