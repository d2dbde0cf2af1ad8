/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/sanctuary/internal/auth"
	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/output"
	"github.com/friendsincode/sanctuary/internal/telemetry"
)

type targetRegisterRequest struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Kind       string `json:"kind"`
	Resolution string `json:"resolution"`
	Transport  string `json:"transport"` // redis, nats or amqp
}

type resolutionRequest struct {
	Resolution string `json:"resolution"`
}

func (a *API) handleTargetsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"targets": a.session.Targets()})
}

// handleTargetsRegister registers a display target living in another
// process, reached through one of the configured brokers.
func (a *API) handleTargetsRegister(w http.ResponseWriter, r *http.Request) {
	var req targetRegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id_required")
		return
	}
	kind := models.TargetKind(req.Kind)
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_kind")
		return
	}

	var tr output.Transport
	switch strings.ToLower(req.Transport) {
	case "redis":
		if a.remotes.Redis != nil {
			tr = output.NewRedisTransport(a.remotes.Redis, req.ID)
		}
	case "nats":
		if a.remotes.NATS != nil {
			tr = output.NewNATSTransport(a.remotes.NATS, req.ID)
		}
	case "amqp":
		if a.remotes.AMQP != nil {
			amqpTr, err := output.NewAMQPTransport(a.remotes.AMQP, req.ID)
			if err != nil {
				a.logger.Error().Err(err).Str("target_id", req.ID).Msg("amqp transport setup failed")
				writeError(w, http.StatusBadGateway, "transport_setup_failed")
				return
			}
			tr = amqpTr
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown_transport")
		return
	}
	if tr == nil {
		writeError(w, http.StatusBadRequest, "transport_unavailable")
		return
	}

	target, err := a.session.RegisterTarget(r.Context(), models.DisplayTarget{
		ID:         req.ID,
		Label:      req.Label,
		Kind:       kind,
		Resolution: req.Resolution,
	}, tr)
	if err != nil {
		_ = tr.Close()
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, target)
}

func (a *API) handleTargetsRemove(w http.ResponseWriter, r *http.Request) {
	if err := a.session.UnregisterTarget(r.Context(), chi.URLParam(r, "targetID")); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleTargetFullscreen(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(w, r, &req); err != nil || req.On == nil {
		writeError(w, http.StatusBadRequest, "on_required")
		return
	}
	a.writeTarget(w, func() (models.DisplayTarget, error) {
		return a.session.SetFullscreen(r.Context(), chi.URLParam(r, "targetID"), *req.On)
	})
}

func (a *API) handleTargetBlackout(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(w, r, &req); err != nil || req.On == nil {
		writeError(w, http.StatusBadRequest, "on_required")
		return
	}
	id := chi.URLParam(r, "targetID")
	if id == output.AllTargets {
		writeError(w, http.StatusBadRequest, "use_live_blackout")
		return
	}
	if _, err := a.session.SetBlackout(r.Context(), id, *req.On); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeTarget(w, func() (models.DisplayTarget, error) {
		return a.session.Target(id)
	})
}

func (a *API) handleTargetResolution(w http.ResponseWriter, r *http.Request) {
	var req resolutionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	a.writeTarget(w, func() (models.DisplayTarget, error) {
		return a.session.SetResolution(chi.URLParam(r, "targetID"), req.Resolution)
	})
}

func (a *API) handleTargetReactivate(w http.ResponseWriter, r *http.Request) {
	a.writeTarget(w, func() (models.DisplayTarget, error) {
		return a.session.ReactivateTarget(r.Context(), chi.URLParam(r, "targetID"))
	})
}

func (a *API) writeTarget(w http.ResponseWriter, fn func() (models.DisplayTarget, error)) {
	target, err := fn()
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (a *API) handleAppearanceGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Appearance())
}

func (a *API) handleAppearanceSet(w http.ResponseWriter, r *http.Request) {
	var req models.OutputAppearance
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	writeJSON(w, http.StatusOK, a.session.SetAppearance(r.Context(), req))
}

// handleOutputSocket registers the connecting output window as a display
// target for as long as the socket stays open.
func (a *API) handleOutputSocket(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.TargetID != "" && claims.TargetID != targetID {
		writeError(w, http.StatusForbidden, "target_mismatch")
		return
	}
	q := r.URL.Query()
	kind := models.TargetKind(q.Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_kind")
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// Output windows never send; reading only services control frames.
	ctx := conn.CloseRead(r.Context())
	tr := output.NewWSTransport(conn)

	target, err := a.session.RegisterTarget(ctx, models.DisplayTarget{
		ID:         targetID,
		Label:      q.Get("label"),
		Kind:       kind,
		Resolution: q.Get("resolution"),
	}, tr)
	if err != nil {
		a.logger.Warn().Err(err).Str("target_id", targetID).Msg("output registration rejected")
		conn.Close(ws.StatusPolicyViolation, "registration rejected")
		return
	}
	defer a.session.DetachTarget(target.ID, tr)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Str("target_id", target.ID).Msg("output window disconnected")
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				a.logger.Debug().Err(err).Str("target_id", target.ID).Msg("output ping failed")
				return
			}
		}
	}
}
