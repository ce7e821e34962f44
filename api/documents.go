package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/recallhq/recall/internal/knowledge"
	"github.com/recallhq/recall/internal/log"
)

// maxUploadBytes caps the size of one uploaded document.
// Matches the preload cap: larger files are data dumps, not documents.
const maxUploadBytes = 10 << 20 // 10MB

// documentsHandler handles document lifecycle endpoints.
type documentsHandler struct {
	store  DocumentStore
	logger log.Logger
}

// RegisterRoutes registers document routes on the given mux.
func (h *documentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents", h.upload)
	mux.HandleFunc("GET /api/documents", h.list)
	mux.HandleFunc("GET /api/documents/{name}", h.info)
	mux.HandleFunc("PUT /api/documents/{name}", h.update)
	mux.HandleFunc("DELETE /api/documents/{key}", h.remove)
}

// UploadResponse reports a completed upload.
type UploadResponse struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// UpdateResponse reports the effect of a replace call.
type UpdateResponse struct {
	Document knowledge.Document `json:"document"`
	Outcome  string             `json:"outcome"`
}

// ListResponse carries the document listing.
type ListResponse struct {
	Documents []knowledge.Document `json:"documents"`
	Total     int                  `json:"total"`
}

// upload handles POST /api/documents: multipart form with a "file" part.
// An optional "name" field overrides the filename.
func (h *documentsHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		if tooLarge(err) {
			writeError(w, h.logger, http.StatusRequestEntityTooLarge, "too_large", "document exceeds the 10MB limit")
			return
		}
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "multipart form with a \"file\" part is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "missing \"file\" part")
		return
	}
	defer file.Close() //nolint:errcheck // read-only temp file

	name := header.Filename
	if override := r.FormValue("name"); override != "" {
		name = override
	}
	if name == "" {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "document name is required")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "reading uploaded file failed")
		return
	}

	key, err := h.store.Upload(r.Context(), name, content)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.logger.Info("document uploaded", "name", name, "key", key, "size", len(content))
	writeData(w, h.logger, http.StatusCreated, UploadResponse{Name: name, Key: key})
}

// update handles PUT /api/documents/{name}: the raw request body replaces
// the document's content. ?force=1 rebuilds even when the content hash is
// unchanged.
func (h *documentsHandler) update(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	content, err := io.ReadAll(r.Body)
	if err != nil {
		if tooLarge(err) {
			writeError(w, h.logger, http.StatusRequestEntityTooLarge, "too_large", "document exceeds the 10MB limit")
			return
		}
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "reading request body failed")
		return
	}

	force := r.URL.Query().Get("force")
	var res knowledge.UpdateResult
	if force == "1" || force == "true" {
		res, err = h.store.UpdateForce(r.Context(), name, content)
	} else {
		res, err = h.store.Update(r.Context(), name, content)
	}
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.logger.Info("document updated", "name", name, "outcome", res.Outcome.String())
	writeData(w, h.logger, http.StatusOK, UpdateResponse{
		Document: res.Document,
		Outcome:  res.Outcome.String(),
	})
}

// remove handles DELETE /api/documents/{key}: deletion is by content key,
// so a stale client cannot delete a document that was replaced since it
// last looked.
func (h *documentsHandler) remove(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := h.store.Delete(r.Context(), key); err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.logger.Info("document deleted", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

// list handles GET /api/documents.
func (h *documentsHandler) list(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.List(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if docs == nil {
		docs = []knowledge.Document{}
	}
	writeData(w, h.logger, http.StatusOK, ListResponse{Documents: docs, Total: len(docs)})
}

// info handles GET /api/documents/{name}.
func (h *documentsHandler) info(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Info(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeData(w, h.logger, http.StatusOK, doc)
}

// writeStoreError maps knowledge base errors to HTTP responses.
func (h *documentsHandler) writeStoreError(w http.ResponseWriter, err error) {
	var ingest *knowledge.IngestError
	switch {
	case errors.Is(err, knowledge.ErrNotFound):
		writeError(w, h.logger, http.StatusNotFound, "document_not_found", "document not found")
	case errors.As(err, &ingest):
		writeError(w, h.logger, http.StatusBadRequest, "invalid_document", ingest.Error())
	default:
		h.logger.Error("document operation failed", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// tooLarge reports whether err came from MaxBytesReader tripping.
func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
