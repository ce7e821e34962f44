package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/recallhq/recall/internal/conversation"
	"github.com/recallhq/recall/internal/log"
)

// SessionInfo is the session summary payload.
type SessionInfo struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Turns     int       `json:"turns"`
}

// SessionDetail is a session with its history window.
type SessionDetail struct {
	SessionInfo
	History []conversation.Turn `json:"history"`
}

// SessionListResponse carries the session listing.
type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	Total    int           `json:"total"`
}

// sessionsHandler handles conversation session endpoints.
type sessionsHandler struct {
	store  *conversation.Store
	logger log.Logger
}

// RegisterRoutes registers session routes on the given mux.
func (h *sessionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.create)
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.remove)
}

// create handles POST /api/sessions. Sessions are cheap; there is nothing
// to configure, so the body is ignored.
func (h *sessionsHandler) create(w http.ResponseWriter, _ *http.Request) {
	sess := h.store.Create()
	h.logger.Info("session created", "id", sess.ID)
	writeData(w, h.logger, http.StatusCreated, summarize(sess))
}

// list handles GET /api/sessions.
func (h *sessionsHandler) list(w http.ResponseWriter, _ *http.Request) {
	sessions := h.store.List()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, summarize(sess))
	}
	writeData(w, h.logger, http.StatusOK, SessionListResponse{Sessions: infos, Total: len(infos)})
}

// get handles GET /api/sessions/{id}, returning the history window.
func (h *sessionsHandler) get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	history := sess.Window.Turns()
	if history == nil {
		history = []conversation.Turn{}
	}
	writeData(w, h.logger, http.StatusOK, SessionDetail{
		SessionInfo: summarize(sess),
		History:     history,
	})
}

// remove handles DELETE /api/sessions/{id}.
func (h *sessionsHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_session", "session id is not a valid UUID")
		return
	}
	if err := h.store.Delete(id); err != nil {
		writeError(w, h.logger, http.StatusNotFound, "session_not_found", "session not found")
		return
	}

	h.logger.Info("session deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// lookup parses the path ID and fetches the session, writing the error
// response itself when either step fails.
func (h *sessionsHandler) lookup(w http.ResponseWriter, r *http.Request) (*conversation.Session, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_session", "session id is not a valid UUID")
		return nil, false
	}
	sess, err := h.store.Get(id)
	if err != nil {
		writeError(w, h.logger, http.StatusNotFound, "session_not_found", "session not found")
		return nil, false
	}
	return sess, true
}

func summarize(sess *conversation.Session) SessionInfo {
	return SessionInfo{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		Turns:     sess.Window.Len(),
	}
}
