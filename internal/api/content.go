/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/sanctuary/internal/content"
	"github.com/friendsincode/sanctuary/internal/models"
)

func (a *API) handleContentList(w http.ResponseWriter, r *http.Request) {
	filter := content.Filter{Type: models.ContentType(r.URL.Query().Get("type"))}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	items, err := a.content.List(r.Context(), filter)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleContentSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}

	items, err := a.content.Search(r.Context(), q, limit)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleContentCreate(w http.ResponseWriter, r *http.Request) {
	var item models.ContentItem
	if err := decodeJSON(w, r, &item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if err := a.content.Create(r.Context(), &item); err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleContentGet(w http.ResponseWriter, r *http.Request) {
	item, err := a.content.GetByID(r.Context(), chi.URLParam(r, "contentID"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleContentUpdate applies a partial JSON document over the stored item.
func (a *API) handleContentUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contentID")
	item, err := a.content.GetByID(r.Context(), id)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	if err := decodeJSON(w, r, item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	item.ID = id

	if err := a.content.Update(r.Context(), item); err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleContentDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.content.Delete(r.Context(), chi.URLParam(r, "contentID")); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
