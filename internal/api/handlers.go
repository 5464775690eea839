package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marginalia/internal/checksum"
	"github.com/starford/marginalia/internal/workspace"
)

// Handler holds API route handlers.
type Handler struct {
	svc *workspace.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *workspace.Service) *Handler {
	return &Handler{svc: svc}
}

func docName(r *http.Request) string {
	return chi.URLParam(r, "name")
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List documents with optional pagination and filtering
//	@Tags			documents
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Success		200		{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.List(r.Context(), limit, offset, q.Get("tag"))
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: items, Total: total})
}

// CreateDocument handles POST /api/documents.
//
//	@Summary		Create a document from editor JSON
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateDocumentRequest	true	"Document to create"
//	@Success		201		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	doc, err := h.svc.Create(r.Context(), req.Name, req.Title, req.Tags, req.Content)
	if err != nil {
		writeError(w, "create document", err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// ImportDocument handles POST /api/documents/import.
//
//	@Summary		Import a Markdown note from the vault
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ImportDocumentRequest	true	"Vault path"
//	@Success		201		{object}	DocumentDetail
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/import [post]
func (h *Handler) ImportDocument(w http.ResponseWriter, r *http.Request) {
	var req ImportDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	doc, err := h.svc.Import(r.Context(), req.Path)
	if err != nil {
		writeError(w, "import document", err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// GetDocument handles GET /api/documents/{name}. The document is opened
// and starts annotating edits.
//
//	@Summary		Open a document
//	@Tags			documents
//	@Produce		json
//	@Param			name	path		string	true	"Document name"
//	@Success		200		{object}	DocumentDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{name} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), docName(r))
	if err != nil {
		writeError(w, "get document", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(doc.Checksum))
	writeJSON(w, http.StatusOK, doc)
}

// SaveDocument handles PUT /api/documents/{name}.
//
//	@Summary		Save an open document with optimistic concurrency
//	@Tags			documents
//	@Produce		json
//	@Param			name		path	string	true	"Document name"
//	@Param			If-Match	header	string	false	"Checksum of the last save"
//	@Success		200		{object}	DocumentDetail
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{name} [put]
func (h *Handler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	ifMatch := checksum.FromETag(r.Header.Get("If-Match"))
	doc, err := h.svc.Save(r.Context(), docName(r), ifMatch)
	if err != nil {
		writeError(w, "save document", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(doc.Checksum))
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/documents/{name}.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), docName(r)); err != nil {
		writeError(w, "delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportDocument handles POST /api/documents/{name}/export.
func (h *Handler) ExportDocument(w http.ResponseWriter, r *http.Request) {
	path, err := h.svc.Export(r.Context(), docName(r))
	if err != nil {
		writeError(w, "export document", err)
		return
	}
	writeJSON(w, http.StatusOK, ExportResponse{Path: path})
}

// CloseDocument handles POST /api/documents/{name}/close.
func (h *Handler) CloseDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CloseDocument(docName(r)); err != nil {
		writeError(w, "close document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reannotate handles POST /api/documents/{name}/reannotate.
func (h *Handler) Reannotate(w http.ResponseWriter, r *http.Request) {
	eng, err := h.svc.Open(r.Context(), docName(r))
	if err != nil {
		writeError(w, "reannotate", err)
		return
	}
	eng.Reannotate()
	w.WriteHeader(http.StatusAccepted)
}

// Flush handles POST /api/documents/{name}/flush: a pending cycle runs now.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	eng, err := h.svc.Open(r.Context(), docName(r))
	if err != nil {
		writeError(w, "flush", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ran": eng.Flush()})
}

// HideAll handles POST /api/documents/{name}/hide-all.
func (h *Handler) HideAll(w http.ResponseWriter, r *http.Request) {
	eng, err := h.svc.Open(r.Context(), docName(r))
	if err != nil {
		writeError(w, "hide all", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"hidden": eng.HideAll()})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across saved blocks
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	out := make([]SearchResult, len(results))
	for i, res := range results {
		out[i] = SearchResult{Document: res.Document, Title: res.Title, BlockID: res.BlockID, Snippet: res.Snippet}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: out})
}
