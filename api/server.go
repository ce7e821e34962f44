package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/recallhq/recall/internal/conversation"
	"github.com/recallhq/recall/internal/genai"
	"github.com/recallhq/recall/internal/knowledge"
	"github.com/recallhq/recall/internal/log"
	"github.com/recallhq/recall/internal/retrieval"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// SSE streaming of a long answer needs headroom here.
	WriteTimeout = 2 * time.Minute

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 2 * time.Minute
)

// DocumentStore is the slice of the knowledge base the document endpoints
// use. *knowledge.Manager satisfies it.
type DocumentStore interface {
	Upload(ctx context.Context, name string, content []byte) (string, error)
	Update(ctx context.Context, name string, content []byte) (knowledge.UpdateResult, error)
	UpdateForce(ctx context.Context, name string, content []byte) (knowledge.UpdateResult, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]knowledge.Document, error)
	Info(ctx context.Context, name string) (knowledge.Document, error)
}

// Retriever runs retrieval requests. *retrieval.Pipeline satisfies it.
type Retriever interface {
	Ask(ctx context.Context, req retrieval.AskRequest) (*retrieval.AskResult, error)
}

// Answerer generates grounded answers from selected chunks.
// *answer.Generator satisfies it.
type Answerer interface {
	Answer(ctx context.Context, question string, chunks []retrieval.Selected, turns []conversation.Turn) (string, error)
	Stream(ctx context.Context, question string, chunks []retrieval.Selected, turns []conversation.Turn, fn genai.StreamFunc) (string, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger     log.Logger
	Documents  DocumentStore       // Required
	Retriever  Retriever           // Required
	Answerer   Answerer            // Required
	Sessions   *conversation.Store // Required
	TrustProxy bool                // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst  int                 // Rate limiter burst size per IP (0 = default 60)
}

// Server is the HTTP server for recall's REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Documents == nil {
		return nil, errors.New("document store is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.Answerer == nil {
		return nil, errors.New("answerer is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Config{})
	}

	mux := http.NewServeMux()

	dh := &documentsHandler{store: cfg.Documents, logger: logger}
	dh.RegisterRoutes(mux)

	ah := &askHandler{
		retriever: cfg.Retriever,
		answerer:  cfg.Answerer,
		sessions:  cfg.Sessions,
		logger:    logger,
	}
	ah.RegisterRoutes(mux)

	sh := &sessionsHandler{store: cfg.Sessions, logger: logger}
	sh.RegisterRoutes(mux)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery -> RequestID -> Logging -> RateLimit -> Routes
	// RequestID runs before Logging so request_id is in log attributes.
	handler := chain(mux,
		recoveryMiddleware(logger),
		requestIDMiddleware(),
		loggingMiddleware(logger),
		rateLimitMiddleware(rl, cfg.TrustProxy, logger),
	)

	// Top-level mux keeps health probes outside the middleware stack
	topMux := http.NewServeMux()
	hh := &healthHandler{store: cfg.Documents, logger: logger}
	hh.RegisterRoutes(topMux)
	topMux.Handle("/", handler)

	return &Server{mux: topMux, logger: logger}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP server and blocks until the context is canceled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
