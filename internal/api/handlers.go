package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tape/internal/apperr"
	"github.com/starford/tape/internal/collection"
	"github.com/starford/tape/internal/hotlist"
	"github.com/starford/tape/internal/index"
	"github.com/starford/tape/internal/sse"
)

const maxRequestBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc            *collection.Service
	events         Events
	importDefaults []hotlist.Option
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(svc *collection.Service, events Events, importDefaults ...hotlist.Option) *Handler {
	return &Handler{svc: svc, events: events, importDefaults: importDefaults}
}

func (h *Handler) noteEvent(kind string, id int64) {
	if h.events != nil {
		h.events.PublishNoteEvent(kind, h.svc.Name(), id)
	}
}

func (h *Handler) collectionEvent(kind string) {
	if h.events != nil {
		h.events.PublishCollectionEvent(kind, h.svc.Name())
	}
}

// noteID parses the {id} URL parameter.
func noteID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("note id %q: %w", chi.URLParam(r, "id"), apperr.ErrInvalid)
	}
	return id, nil
}

// decode reads a JSON request body into v and validates it.
func decode(w http.ResponseWriter, r *http.Request, v interface{ Validate() error }) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", apperr.ErrInvalid)
	}
	return v.Validate()
}

// optionalInt parses an integer query parameter, returning nil when absent.
func optionalInt(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", name, raw, apperr.ErrInvalid)
	}
	return &v, nil
}

// Tree handles GET /api/tree.
//
//	@Summary		Get the whole collection as a nested tree
//	@Tags			collection
//	@Produce		json
//	@Success		200	{object}	TreeResponse
//	@Security		BearerAuth
//	@Router			/tree [get]
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.Tree(r.Context())
	if err != nil {
		writeError(w, "tree", err)
		return
	}
	w.Header().Set("ETag", etag(h.svc.Checksum()))
	writeJSON(w, http.StatusOK, TreeResponse{Notes: nodes})
}

// Export handles GET /api/export.
//
//	@Summary		Download the collection file
//	@Tags			collection
//	@Produce		json
//	@Success		200	{array}	tree.Record
//	@Security		BearerAuth
//	@Router			/export [get]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.Export(r.Context())
	if err != nil {
		writeError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.svc.Name()))
	w.Header().Set("ETag", etag(h.svc.Checksum()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ExportHotlist handles GET /api/export/hotlist.
//
//	@Summary		Download the collection as an Opera hotlist
//	@Tags			collection
//	@Produce		plain
//	@Success		200	{string}	string
//	@Security		BearerAuth
//	@Router			/export/hotlist [get]
func (h *Handler) ExportHotlist(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.svc.ExportHotlist(r.Context(), &buf); err != nil {
		writeError(w, "export hotlist", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="notes.adr"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Replace handles PUT /api/export.
//
//	@Summary		Replace the whole collection
//	@Description	The body is a collection file. Corrupt input leaves the collection untouched.
//	@Tags			collection
//	@Accept			json
//	@Produce		json
//	@Param			If-Match	header		string	false	"Collection checksum"
//	@Success		200			{object}	ReplaceResponse
//	@Failure		409			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/export [put]
func (h *Handler) Replace(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	n, err := h.svc.Replace(r.Context(), r.Body, ifMatch(r))
	if err != nil {
		writeError(w, "replace collection", err)
		return
	}
	h.collectionEvent(sse.CollectionReloaded)
	cs := h.svc.Checksum()
	w.Header().Set("ETag", etag(cs))
	writeJSON(w, http.StatusOK, ReplaceResponse{Notes: n, Checksum: cs})
}

// Import handles POST /api/import.
//
//	@Summary		Import an Opera hotlist
//	@Description	The body is the hotlist file. Imported notes are appended under parent_id, or at the top level.
//	@Tags			collection
//	@Accept			plain
//	@Produce		json
//	@Param			parent_id	query		int		false	"Parent note"
//	@Param			skip_trash	query		bool	false	"Drop the trash folder"
//	@Param			folder_tags	query		bool	false	"Tag notes with their folder path"
//	@Success		201			{object}	ImportResponse
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/import [post]
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	parentID, err := optionalInt(r, "parent_id")
	if err != nil {
		writeError(w, "import", err)
		return
	}
	opts := append([]hotlist.Option{}, h.importDefaults...)
	q := r.URL.Query()
	for name, opt := range map[string]func(bool) hotlist.Option{
		"skip_trash":  hotlist.WithSkipTrash,
		"folder_tags": hotlist.WithFolderTags,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, "import", fmt.Errorf("%s %q: %w", name, raw, apperr.ErrInvalid))
			return
		}
		opts = append(opts, opt(v))
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	res, err := h.svc.Import(r.Context(), r.Body, parentID, opts...)
	if err != nil {
		writeError(w, "import", err)
		return
	}
	h.collectionEvent(sse.CollectionReloaded)
	writeJSON(w, http.StatusCreated, res)
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes with optional pagination and filtering
//	@Tags			notes
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Param			sort	query		string	false	"Sort field"	Enums(position, created_at, modified_at, title)
//	@Success		200		{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListNotes(r.Context(), index.ListQuery{
		Limit:  limit,
		Offset: offset,
		Tag:    q.Get("tag"),
		Sort:   q.Get("sort"),
	})
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: total})
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a single note by id
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		int	true	"Note id"
//	@Success		200	{object}	models.Note
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	n, err := h.svc.GetNote(r.Context(), id)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	w.Header().Set("ETag", etag(n.Checksum))
	writeJSON(w, http.StatusOK, n)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	models.Note
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, "create note", err)
		return
	}
	n, err := h.svc.CreateNote(r.Context(), req.model())
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	h.noteEvent(sse.NoteCreated, n.ID)
	w.Header().Set("ETag", etag(n.Checksum))
	writeJSON(w, http.StatusCreated, n)
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Update an existing note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		int					true	"Note id"
//	@Param			If-Match	header		string				false	"Note checksum"
//	@Param			body		body		UpdateNoteRequest	true	"Fields to change"
//	@Success		200			{object}	models.Note
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, "update note", err)
		return
	}
	var req UpdateNoteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, "update note", err)
		return
	}
	n, err := h.svc.UpdateNote(r.Context(), id, req.model(), ifMatch(r))
	if err != nil {
		writeError(w, "update note", err)
		return
	}
	h.noteEvent(sse.NoteUpdated, n.ID)
	w.Header().Set("ETag", etag(n.Checksum))
	writeJSON(w, http.StatusOK, n)
}

// MoveNote handles POST /api/notes/{id}/move.
//
//	@Summary		Move a note and its subtree
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int				true	"Note id"
//	@Param			body	body		MoveNoteRequest	true	"New parent and position"
//	@Success		200		{object}	models.Note
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/move [post]
func (h *Handler) MoveNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, "move note", err)
		return
	}
	var req MoveNoteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, "move note", err)
		return
	}
	pos := -1
	if req.Position != nil {
		pos = *req.Position
	}
	n, err := h.svc.MoveNote(r.Context(), id, req.ParentID, pos)
	if err != nil {
		writeError(w, "move note", err)
		return
	}
	h.noteEvent(sse.NoteMoved, n.ID)
	writeJSON(w, http.StatusOK, n)
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note and its subtree
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		int	true	"Note id"
//	@Success		200	{object}	DeleteResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, "delete note", err)
		return
	}
	removed, err := h.svc.DeleteNote(r.Context(), id)
	if err != nil {
		writeError(w, "delete note", err)
		return
	}
	h.noteEvent(sse.NoteDeleted, id)
	writeJSON(w, http.StatusOK, DeleteResponse{Removed: removed})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	false	"Search query"
//	@Param			tag		query		string	false	"Tag glob pattern"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	results, err := h.svc.Search(r.Context(), q.Get("q"), q.Get("tag"), limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Filter handles GET /api/filter.
//
//	@Summary		Notes whose title, tags or body contain the text
//	@Tags			search
//	@Produce		json
//	@Param			q	query		string	false	"Case-insensitive text"
//	@Success		200	{object}	FilterResponse
//	@Security		BearerAuth
//	@Router			/filter [get]
func (h *Handler) Filter(w http.ResponseWriter, r *http.Request) {
	notes, err := h.svc.Filter(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, "filter", err)
		return
	}
	writeJSON(w, http.StatusOK, FilterResponse{Notes: notes})
}

// ListSnapshots handles GET /api/snapshots.
//
//	@Summary		List saved versions of the collection, oldest first
//	@Tags			snapshots
//	@Produce		json
//	@Success		200	{object}	SnapshotListResponse
//	@Security		BearerAuth
//	@Router			/snapshots [get]
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.Snapshots(r.Context())
	if err != nil {
		writeError(w, "list snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotListResponse{Snapshots: snaps})
}

// RestoreSnapshot handles POST /api/snapshots/{key}/restore.
//
//	@Summary		Replace the collection with a saved version
//	@Tags			snapshots
//	@Produce		json
//	@Param			key	path		string	true	"Snapshot key"
//	@Success		200	{object}	ReplaceResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/snapshots/{key}/restore [post]
func (h *Handler) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Restore(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, "restore snapshot", err)
		return
	}
	h.collectionEvent(sse.CollectionReloaded)
	cs := h.svc.Checksum()
	w.Header().Set("ETag", etag(cs))
	writeJSON(w, http.StatusOK, ReplaceResponse{Notes: n, Checksum: cs})
}
