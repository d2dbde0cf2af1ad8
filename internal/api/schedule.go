/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/schedule"
)

const maxImportBytes = 4 << 20

type scheduleAddRequest struct {
	ContentID    string     `json:"content_id"`
	At           *int       `json:"at,omitempty"`
	Duration     float64    `json:"duration"`
	Delay        float64    `json:"delay"`
	Transition   string     `json:"transition"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

type scheduleOrderRequest struct {
	IDs []string `json:"ids"`
}

type scheduleTimingRequest struct {
	Duration     *float64   `json:"duration,omitempty"`
	Delay        *float64   `json:"delay,omitempty"`
	Transition   *string    `json:"transition,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

func (a *API) handleScheduleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.session.Schedule()})
}

func (a *API) handleScheduleAdd(w http.ResponseWriter, r *http.Request) {
	var req scheduleAddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ContentID == "" {
		writeError(w, http.StatusBadRequest, "content_id_required")
		return
	}

	entry, err := a.session.ScheduleContent(r.Context(), req.ContentID, schedule.ScheduleOptions{
		At:           req.At,
		Duration:     req.Duration,
		Delay:        req.Delay,
		Transition:   models.Transition(req.Transition),
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleScheduleReorder(w http.ResponseWriter, r *http.Request) {
	var req scheduleOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	sequence := make([]models.ScheduledItem, len(req.IDs))
	for i, id := range req.IDs {
		sequence[i] = models.ScheduledItem{ID: id, Order: i}
	}
	if err := a.session.Reorder(r.Context(), sequence); err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.session.Schedule()})
}

func (a *API) handleScheduleRemove(w http.ResponseWriter, r *http.Request) {
	if err := a.session.Unschedule(r.Context(), chi.URLParam(r, "scheduledID")); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleScheduleTiming(w http.ResponseWriter, r *http.Request) {
	var req scheduleTimingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	update := schedule.TimingUpdate{
		Duration:     req.Duration,
		Delay:        req.Delay,
		ScheduledFor: req.ScheduledFor,
	}
	if req.Transition != nil {
		t := models.Transition(*req.Transition)
		update.Transition = &t
	}

	entry, err := a.session.UpdateTiming(r.Context(), chi.URLParam(r, "scheduledID"), update)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleScheduleExport downloads the schedule as a YAML document.
func (a *API) handleScheduleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := a.session.ExportSchedule(r.Context(), &buf); err != nil {
		a.writeDomainError(w, err)
		return
	}

	filename := fmt.Sprintf("schedule-%s.yaml", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleScheduleImport replaces the schedule with an uploaded YAML document.
// The import is applied on the session worker.
func (a *API) handleScheduleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "document_too_large")
		return
	}

	var items []models.ScheduledItem
	err = a.session.Submit(r.Context(), func(ctx context.Context) error {
		var importErr error
		items, importErr = a.session.ImportSchedule(ctx, bytes.NewReader(data))
		return importErr
	})
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	a.logger.Info().Int("items", len(items)).Msg("schedule imported")
	writeJSON(w, http.StatusOK, map[string]any{"imported": len(items), "items": items})
}
