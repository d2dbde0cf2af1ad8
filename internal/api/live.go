/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/output"
)

type liveItemRequest struct {
	ContentID string `json:"content_id"`
}

type toggleRequest struct {
	On *bool `json:"on,omitempty"`
}

type seekRequest struct {
	Position *float64 `json:"position,omitempty"`
	Delta    *float64 `json:"delta,omitempty"`
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

// Live API handlers

func (a *API) handleLiveState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.session.State())
}

// handleLiveSelect previews an item. An empty content_id clears the selection.
func (a *API) handleLiveSelect(w http.ResponseWriter, r *http.Request) {
	var req liveItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.ContentID == "" {
		writeJSON(w, http.StatusOK, a.session.ClearSelection(r.Context()))
		return
	}
	a.writeState(w, r, func() (models.LiveState, error) {
		return a.session.SelectByID(r.Context(), req.ContentID)
	})
}

// handleLiveGo puts an item live. Without a content_id the current
// selection goes live.
func (a *API) handleLiveGo(w http.ResponseWriter, r *http.Request) {
	var req liveItemRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.ContentID == "" {
		selected := a.session.SelectedItem()
		if selected == nil {
			writeError(w, http.StatusBadRequest, "no_selection")
			return
		}
		a.writeState(w, r, func() (models.LiveState, error) {
			return a.session.GoLive(r.Context(), selected)
		})
		return
	}
	a.writeState(w, r, func() (models.LiveState, error) {
		return a.session.GoLiveByID(r.Context(), req.ContentID)
	})
}

func (a *API) handleLiveGoScheduled(w http.ResponseWriter, r *http.Request) {
	a.writeState(w, r, func() (models.LiveState, error) {
		return a.session.GoLiveScheduled(r.Context(), chi.URLParam(r, "scheduledID"))
	})
}

func (a *API) handleLiveNext(w http.ResponseWriter, r *http.Request) {
	a.writeState(w, r, func() (models.LiveState, error) {
		return a.session.Next(r.Context())
	})
}

func (a *API) handleLivePrevious(w http.ResponseWriter, r *http.Request) {
	a.writeState(w, r, func() (models.LiveState, error) {
		return a.session.Previous(r.Context())
	})
}

func (a *API) handleLiveClear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.session.ClearLive(r.Context()))
}

// handleLiveBlackout toggles the global blackout, or sets it when "on" is
// given.
func (a *API) handleLiveBlackout(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.On == nil {
		writeJSON(w, http.StatusOK, a.session.ToggleBlackout(r.Context()))
		return
	}
	a.writeState(w, r, func() (models.LiveState, error) {
		return a.session.SetBlackout(r.Context(), output.AllTargets, *req.On)
	})
}

func (a *API) writeState(w http.ResponseWriter, r *http.Request, fn func() (models.LiveState, error)) {
	state, err := fn()
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Playback API handlers

func (a *API) handlePlaybackState(w http.ResponseWriter, r *http.Request) {
	state, ok := a.session.PlaybackState()
	if !ok {
		writeError(w, http.StatusNotFound, "no_media")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) handlePlaybackPlay(w http.ResponseWriter, r *http.Request) {
	a.writePlayback(w, func() (models.PlaybackState, error) {
		return a.session.Play(r.Context())
	})
}

func (a *API) handlePlaybackPause(w http.ResponseWriter, r *http.Request) {
	a.writePlayback(w, func() (models.PlaybackState, error) {
		return a.session.Pause(r.Context())
	})
}

func (a *API) handlePlaybackToggle(w http.ResponseWriter, r *http.Request) {
	a.writePlayback(w, func() (models.PlaybackState, error) {
		return a.session.TogglePlay(r.Context())
	})
}

func (a *API) handlePlaybackStop(w http.ResponseWriter, r *http.Request) {
	a.writePlayback(w, func() (models.PlaybackState, error) {
		return a.session.Stop(r.Context())
	})
}

// handlePlaybackSeek seeks to an absolute position or by a relative delta.
func (a *API) handlePlaybackSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	switch {
	case req.Position != nil:
		a.writePlayback(w, func() (models.PlaybackState, error) {
			return a.session.Seek(r.Context(), *req.Position)
		})
	case req.Delta != nil:
		a.writePlayback(w, func() (models.PlaybackState, error) {
			return a.session.SeekBy(r.Context(), *req.Delta)
		})
	default:
		writeError(w, http.StatusBadRequest, "position_or_delta_required")
	}
}

func (a *API) handlePlaybackVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	a.writePlayback(w, func() (models.PlaybackState, error) {
		return a.session.SetVolume(r.Context(), req.Volume)
	})
}

func (a *API) handlePlaybackMute(w http.ResponseWriter, r *http.Request) {
	a.writePlayback(w, func() (models.PlaybackState, error) {
		return a.session.ToggleMute(r.Context())
	})
}

func (a *API) writePlayback(w http.ResponseWriter, fn func() (models.PlaybackState, error)) {
	state, err := fn()
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
