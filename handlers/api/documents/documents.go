package documents

import (
	"io"
	"net/http"
	"sort"
	"strings"

	"scrapbook-server/core"
	"scrapbook-server/handlers/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// MaxDocumentSize caps the request body accepted by HandleSave.
const MaxDocumentSize = 32 << 20

// NextItemIDHeader carries the id the editor should give its next item.
const NextItemIDHeader = "X-Next-Item-Id"

type (
	SaveResponse struct {
		Message string `json:"message"`
		ID      string `json:"id"`
	}

	CreateResponse struct {
		ID string `json:"id"`
	}

	RenameRequest struct {
		NewID string `json:"newId"`
	}

	RenameResponse struct {
		ID string `json:"id"`
	}
)

func HandleSave(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		log := logrus.WithField("document_id", id)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxDocumentSize))
		if err != nil {
			api.RenderError(w, r, log, err, "Failed to read request body")
			return
		}
		defer r.Body.Close()

		items, err := core.DecodeDocument(body)
		if err != nil {
			log.WithError(err).Warn("Rejected malformed scrapbook")
			api.RenderBadRequest(w, r, "Scrapbook data must be a list of items")
			return
		}

		if err := store.Save(r.Context(), id, items); err != nil {
			api.RenderError(w, r, log, err, "Failed to save scrapbook")
			return
		}

		safeID, _ := core.Sanitize(id)
		render.JSON(w, r, SaveResponse{Message: "Scrapbook saved", ID: safeID})
	}
}

func HandleLoad(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		log := logrus.WithField("document_id", id)

		items, err := store.Load(r.Context(), id)
		if err != nil {
			api.RenderError(w, r, log, err, "Failed to load scrapbook")
			return
		}

		data, err := core.EncodeDocument(items)
		if err != nil {
			api.RenderError(w, r, log, err, "Failed to load scrapbook")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(NextItemIDHeader, core.NextItemID(items))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func HandleList(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := store.ListIDs(r.Context())
		if err != nil {
			api.RenderError(w, r, logrus.StandardLogger(), err, "Failed to list scrapbooks")
			return
		}
		if ids == nil {
			ids = []string{}
		}
		sort.Strings(ids)
		render.JSON(w, r, ids)
	}
}

// HandleCreate hands out a fresh id. Nothing is stored until the first save.
func HandleCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := "new-" + strings.ToLower(ulid.Make().String())
		logrus.WithField("document_id", id).Debug("Generated scrapbook id")

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateResponse{ID: id})
	}
}

func HandleDelete(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		log := logrus.WithField("document_id", id)

		if err := store.Delete(r.Context(), id); err != nil {
			api.RenderError(w, r, log, err, "Failed to delete scrapbook")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleRename(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		log := logrus.WithField("document_id", id)

		var req RenameRequest
		if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, 64<<10), &req); err != nil {
			log.WithError(err).Warn("Rejected malformed rename request")
			api.RenderBadRequest(w, r, "Request body must be {\"newId\": \"...\"}")
			return
		}
		newID, err := store.Rename(r.Context(), id, req.NewID)
		if err != nil {
			api.RenderError(w, r, log.WithField("new_id", req.NewID), err, "Failed to rename scrapbook")
			return
		}
		render.JSON(w, r, RenameResponse{ID: newID})
	}
}
