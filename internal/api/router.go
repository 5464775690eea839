package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marginalia/internal/workspace"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events, where the token may
// also arrive as ?access_token=.
func NewRouter(svc *workspace.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	root := chi.NewRouter()
	if sseHandler != nil {
		root.With(StreamAuthMiddleware(authEnabled, token)).Get("/events", sseHandler.ServeHTTP)
	}

	root.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))
		routes(r, h)
	})
	return root
}

func routes(r chi.Router, h *Handler) {
	// Documents.
	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.CreateDocument)
	r.Post("/documents/import", h.ImportDocument)
	r.Route("/documents/{name}", func(r chi.Router) {
		r.Get("/", h.GetDocument)
		r.Put("/", h.SaveDocument)
		r.Delete("/", h.DeleteDocument)
		r.Post("/export", h.ExportDocument)
		r.Post("/close", h.CloseDocument)
		r.Post("/reannotate", h.Reannotate)
		r.Post("/flush", h.Flush)
		r.Post("/hide-all", h.HideAll)

		// Blocks.
		r.Get("/blocks", h.ListBlocks)
		r.Post("/blocks", h.InsertBlock)
		r.Route("/blocks/{blockID}", func(r chi.Router) {
			r.Put("/", h.EditBlock)
			r.Delete("/", h.DeleteBlock)
			r.Post("/split", h.SplitBlock)
			r.Post("/join", h.JoinBlock)

			// Threads.
			r.Get("/threads", h.ListThreads)
			r.Get("/threads/{annotator}", h.GetThread)
			r.Put("/threads/{annotator}", h.ResetThread)
			r.Post("/threads/{annotator}/messages", h.SubmitMessage)
			r.Post("/threads/{annotator}/toggle", h.ToggleThread)
			r.Post("/threads/{annotator}/dismiss", h.DismissThread)
		})
	})

	// Search.
	r.Get("/search", h.Search)
}
