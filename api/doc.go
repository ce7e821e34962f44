// Package api provides the JSON REST API server for recall.
//
// # Architecture
//
// The server uses Go 1.22+ routing with a layered middleware stack:
//
//	Recovery -> RequestID -> Logging -> RateLimit -> Routes
//
// Health probes (/health, /ready) bypass the middleware stack via a
// top-level mux, ensuring they remain fast and unauthenticated.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /health - returns {"status":"ok"}
//   - GET /ready  - checks the knowledge base is reachable
//
// Documents:
//   - POST   /api/documents        - upload a document (multipart, field "file")
//   - GET    /api/documents        - list indexed documents
//   - GET    /api/documents/{name} - document info by filename
//   - PUT    /api/documents/{name} - replace content (raw body; ?force=1 rebuilds even if unchanged)
//   - DELETE /api/documents/{key}  - delete by content key
//
// Questions:
//   - POST /api/ask        - retrieve and answer, JSON response
//   - POST /api/ask/stream - retrieve and answer, SSE response
//
// Sessions:
//   - POST   /api/sessions      - create a conversation session
//   - GET    /api/sessions      - list active sessions
//   - GET    /api/sessions/{id} - session with its history window
//   - DELETE /api/sessions/{id} - drop a session
//
// # Error Handling
//
// All responses use an envelope format:
//
//	Success: {"data": <payload>}
//	Error:   {"error": {"code": "...", "message": "..."}}
//
// Errors during SSE streaming are sent as SSE events (event: error),
// not HTTP error responses, since SSE headers are already committed.
//
// # SSE Streaming
//
// Answers stream via Server-Sent Events with typed events:
//
//   - sources: selected chunks with provenance and retrieval stats,
//     sent once before any answer text
//   - chunk:   incremental answer text
//   - done:    final answer with session metadata
//   - error:   request or generation failure
//
// # Rate Limiting
//
// A per-IP token bucket (1 token/sec refill, configurable burst) guards
// all /api routes. Behind a reverse proxy, set TrustProxy so the client
// IP is read from X-Real-IP / X-Forwarded-For.
package api
