package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func blockID(r *http.Request) string {
	return chi.URLParam(r, "blockID")
}

// ListBlocks handles GET /api/documents/{name}/blocks.
//
//	@Summary		List a document's blocks with their threads
//	@Tags			blocks
//	@Produce		json
//	@Param			name	path		string	true	"Document name"
//	@Success		200		{array}		BlockView
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{name}/blocks [get]
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	eng, err := h.svc.Open(r.Context(), docName(r))
	if err != nil {
		writeError(w, "list blocks", err)
		return
	}
	writeJSON(w, http.StatusOK, eng.Blocks())
}

// InsertBlock handles POST /api/documents/{name}/blocks.
func (h *Handler) InsertBlock(w http.ResponseWriter, r *http.Request) {
	var req InsertBlockRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Level < 0 || req.Level > 6 {
		writeJSON(w, http.StatusBadRequest, errorBody("level must be between 0 and 6"))
		return
	}
	id, err := h.svc.InsertBlock(r.Context(), docName(r), req.After, req.Level, req.Text)
	if err != nil {
		writeError(w, "insert block", err)
		return
	}
	writeJSON(w, http.StatusCreated, BlockIDResponse{BlockID: id})
}

// EditBlock handles PUT /api/documents/{name}/blocks/{blockID}.
//
//	@Summary		Replace a block's text
//	@Tags			blocks
//	@Accept			json
//	@Param			name	path	string				true	"Document name"
//	@Param			blockID	path	string				true	"Block id"
//	@Param			body	body	EditBlockRequest	true	"New text"
//	@Success		204
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{name}/blocks/{blockID} [put]
func (h *Handler) EditBlock(w http.ResponseWriter, r *http.Request) {
	var req EditBlockRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.EditBlock(r.Context(), docName(r), blockID(r), req.Text); err != nil {
		writeError(w, "edit block", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteBlock handles DELETE /api/documents/{name}/blocks/{blockID}.
func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteBlock(r.Context(), docName(r), blockID(r)); err != nil {
		writeError(w, "delete block", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SplitBlock handles POST /api/documents/{name}/blocks/{blockID}/split.
func (h *Handler) SplitBlock(w http.ResponseWriter, r *http.Request) {
	var req SplitBlockRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.svc.SplitBlock(r.Context(), docName(r), blockID(r), req.Offset)
	if err != nil {
		writeError(w, "split block", err)
		return
	}
	writeJSON(w, http.StatusCreated, BlockIDResponse{BlockID: id})
}

// JoinBlock handles POST /api/documents/{name}/blocks/{blockID}/join.
func (h *Handler) JoinBlock(w http.ResponseWriter, r *http.Request) {
	var req JoinBlockRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Next == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("next is required"))
		return
	}
	if err := h.svc.JoinBlocks(r.Context(), docName(r), blockID(r), req.Next); err != nil {
		writeError(w, "join blocks", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
