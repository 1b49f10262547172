package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tape/internal/collection"
	"github.com/starford/tape/internal/hotlist"
)

// Events publishes change notifications and serves them to SSE clients.
type Events interface {
	http.Handler
	PublishNoteEvent(kind, collection string, id int64)
	PublishCollectionEvent(kind, collection string)
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// events, if non-nil, receives change notifications after each mutation
// and is mounted at GET /events inside the auth group.
// importDefaults apply to every hotlist import before query overrides.
func NewRouter(svc *collection.Service, authEnabled bool, token string, events Events, importDefaults ...hotlist.Option) chi.Router {
	h := NewHandler(svc, events, importDefaults...)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Whole collection.
	r.Get("/tree", h.Tree)
	r.Get("/export", h.Export)
	r.Put("/export", h.Replace)
	r.Get("/export/hotlist", h.ExportHotlist)
	r.Post("/import", h.Import)

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{id}", h.GetNote)
	r.Put("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)
	r.Post("/notes/{id}/move", h.MoveNote)

	// Search.
	r.Get("/search", h.Search)
	r.Get("/filter", h.Filter)

	// Snapshots.
	r.Get("/snapshots", h.ListSnapshots)
	r.Post("/snapshots/{key}/restore", h.RestoreSnapshot)

	// SSE endpoint (protected by same auth middleware).
	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	return r
}
