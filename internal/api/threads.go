package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/engine"
	"github.com/starford/marginalia/internal/thread"
)

func threadKey(r *http.Request) thread.Key {
	return thread.Key{BlockID: blockID(r), Annotator: chi.URLParam(r, "annotator")}
}

// threadEngine opens the document and checks the block exists.
func (h *Handler) threadEngine(w http.ResponseWriter, r *http.Request, op string) (*engine.Engine, bool) {
	eng, err := h.svc.Open(r.Context(), docName(r))
	if err != nil {
		writeError(w, op, err)
		return nil, false
	}
	if !eng.HasBlock(blockID(r)) {
		writeError(w, op, fmt.Errorf("block %s: %w", blockID(r), apperr.ErrNotFound))
		return nil, false
	}
	return eng, true
}

// ListThreads handles GET /api/documents/{name}/blocks/{blockID}/threads.
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.threadEngine(w, r, "list threads")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eng.Threads(blockID(r)))
}

// GetThread handles GET /api/documents/{name}/blocks/{blockID}/threads/{annotator}.
//
//	@Summary		Get one annotation thread
//	@Tags			threads
//	@Produce		json
//	@Param			name		path		string	true	"Document name"
//	@Param			blockID		path		string	true	"Block id"
//	@Param			annotator	path		string	true	"Annotator name"
//	@Success		200			{object}	ThreadView
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{name}/blocks/{blockID}/threads/{annotator} [get]
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.threadEngine(w, r, "get thread")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eng.Thread(threadKey(r)))
}

// SubmitMessage handles POST .../threads/{annotator}/messages.
//
//	@Summary		Add a user turn to a thread
//	@Tags			threads
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SubmitMessageRequest	true	"Message"
//	@Success		201		{object}	thread.Message
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{name}/blocks/{blockID}/threads/{annotator}/messages [post]
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req SubmitMessageRequest
	if !decode(w, r, &req) {
		return
	}
	eng, err := h.svc.Open(r.Context(), docName(r))
	if err != nil {
		writeError(w, "submit message", err)
		return
	}
	msg, err := eng.SubmitUserMessage(threadKey(r), req.Content)
	if err != nil {
		writeError(w, "submit message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ResetThread handles PUT .../threads/{annotator}.
func (h *Handler) ResetThread(w http.ResponseWriter, r *http.Request) {
	var req ResetThreadRequest
	if !decode(w, r, &req) {
		return
	}
	eng, err := h.svc.Open(r.Context(), docName(r))
	if err != nil {
		writeError(w, "reset thread", err)
		return
	}
	if err := eng.ResetThread(threadKey(r), req.Messages); err != nil {
		writeError(w, "reset thread", err)
		return
	}
	writeJSON(w, http.StatusOK, eng.Thread(threadKey(r)))
}

// ToggleThread handles POST .../threads/{annotator}/toggle.
func (h *Handler) ToggleThread(w http.ResponseWriter, r *http.Request) {
	eng, err := h.svc.Open(r.Context(), docName(r))
	if err != nil {
		writeError(w, "toggle thread", err)
		return
	}
	state, err := eng.ToggleVisibility(threadKey(r))
	if err != nil {
		writeError(w, "toggle thread", err)
		return
	}
	writeJSON(w, http.StatusOK, VisibilityResponse{Visibility: state})
}

// DismissThread handles POST .../threads/{annotator}/dismiss.
func (h *Handler) DismissThread(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.threadEngine(w, r, "dismiss thread")
	if !ok {
		return
	}
	eng.Dismiss(threadKey(r))
	w.WriteHeader(http.StatusNoContent)
}
