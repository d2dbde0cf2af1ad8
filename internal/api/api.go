/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/sanctuary/internal/auth"
	"github.com/friendsincode/sanctuary/internal/content"
	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/live"
	"github.com/friendsincode/sanctuary/internal/logbuffer"
	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/output"
	"github.com/friendsincode/sanctuary/internal/playback"
	"github.com/friendsincode/sanctuary/internal/presenter"
	"github.com/friendsincode/sanctuary/internal/schedule"
	"github.com/friendsincode/sanctuary/internal/telemetry"
)

// Remotes holds the optional broker connections used to reach display
// targets running in other processes.
type Remotes struct {
	Redis *redis.Client
	NATS  *nats.Conn
	AMQP  *amqp.Connection
}

// API exposes HTTP handlers.
type API struct {
	session   *presenter.Service
	content   *content.Store
	bus       events.Broker
	remotes   Remotes
	jwtSecret []byte
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(session *presenter.Service, store *content.Store, bus events.Broker, remotes Remotes, jwtSecret []byte, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		session:   session,
		content:   store,
		bus:       bus,
		remotes:   remotes,
		jwtSecret: jwtSecret,
		logBuffer: logBuf,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers every endpoint on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Group(func(wr chi.Router) {
		wr.Use(auth.Middleware(a.jwtSecret))
		wr.With(auth.RequireRole(auth.RoleOutput, auth.RoleOperator)).Get("/ws/outputs/{targetID}", a.handleOutputSocket)
		wr.With(auth.RequireRole(auth.RoleOperator)).Get("/ws/events", a.handleEvents)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(a.jwtSecret))

		// Output windows may read the live state, nothing else.
		r.Group(func(rr chi.Router) {
			rr.Use(auth.RequireRole(auth.RoleOperator, auth.RoleOutput))
			rr.Get("/live", a.handleLiveState)
			rr.Get("/playback", a.handlePlaybackState)
			rr.Get("/appearance", a.handleAppearanceGet)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(auth.RequireRole(auth.RoleOperator))

			pr.Route("/content", func(r chi.Router) {
				r.Get("/", a.handleContentList)
				r.Post("/", a.handleContentCreate)
				r.Get("/search", a.handleContentSearch)
				r.Get("/{contentID}", a.handleContentGet)
				r.Patch("/{contentID}", a.handleContentUpdate)
				r.Delete("/{contentID}", a.handleContentDelete)
			})

			pr.Route("/schedule", func(r chi.Router) {
				r.Get("/", a.handleScheduleList)
				r.Post("/", a.handleScheduleAdd)
				r.Put("/order", a.handleScheduleReorder)
				r.Get("/export", a.handleScheduleExport)
				r.Post("/import", a.handleScheduleImport)
				r.Delete("/{scheduledID}", a.handleScheduleRemove)
				r.Patch("/{scheduledID}/timing", a.handleScheduleTiming)
			})

			pr.Post("/live/select", a.handleLiveSelect)
			pr.Post("/live/go", a.handleLiveGo)
			pr.Post("/live/go-scheduled/{scheduledID}", a.handleLiveGoScheduled)
			pr.Post("/live/next", a.handleLiveNext)
			pr.Post("/live/previous", a.handleLivePrevious)
			pr.Post("/live/blackout", a.handleLiveBlackout)
			pr.Delete("/live", a.handleLiveClear)

			pr.Post("/playback/play", a.handlePlaybackPlay)
			pr.Post("/playback/pause", a.handlePlaybackPause)
			pr.Post("/playback/toggle", a.handlePlaybackToggle)
			pr.Post("/playback/stop", a.handlePlaybackStop)
			pr.Post("/playback/seek", a.handlePlaybackSeek)
			pr.Post("/playback/volume", a.handlePlaybackVolume)
			pr.Post("/playback/mute", a.handlePlaybackMute)

			pr.Route("/targets", func(r chi.Router) {
				r.Get("/", a.handleTargetsList)
				r.Post("/", a.handleTargetsRegister)
				r.Route("/{targetID}", func(r chi.Router) {
					r.Delete("/", a.handleTargetsRemove)
					r.Post("/fullscreen", a.handleTargetFullscreen)
					r.Post("/blackout", a.handleTargetBlackout)
					r.Post("/resolution", a.handleTargetResolution)
					r.Post("/reactivate", a.handleTargetReactivate)
				})
			})

			pr.Post("/appearance", a.handleAppearanceSet)

			pr.Route("/logs", func(r chi.Router) {
				r.Get("/", a.handleLogs)
				r.Get("/components", a.handleLogComponents)
				r.Get("/stats", a.handleLogStats)
				r.Delete("/", a.handleClearLogs)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := a.session.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"phase":    state.Phase,
		"sequence": state.Sequence,
		"targets":  len(a.session.Targets()),
	})
}

// handleEvents streams bus events to an operator console.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// Track WebSocket connection
	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// Operator consoles only listen.
	ctx = conn.CloseRead(ctx)

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.AllEventTypes
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Error().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload, ok := <-sub:
					if !ok {
						continue
					}
					if err := a.writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Debug().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":    eventType,
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, events.EventType(trimmed))
	}
	return result
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(dst)
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeDomainError maps session errors onto HTTP status codes.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, presenter.ErrNotFound), errors.Is(err, content.ErrNotFound),
		errors.Is(err, schedule.ErrNotFound), errors.Is(err, output.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, schedule.ErrInvalidSequence):
		writeError(w, http.StatusBadRequest, "invalid_sequence")
	case errors.Is(err, schedule.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "invalid_transition")
	case errors.Is(err, schedule.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, "invalid_document")
	case errors.Is(err, models.ErrInvalidContent):
		writeError(w, http.StatusUnprocessableEntity, "invalid_content")
	case errors.Is(err, content.ErrTypeImmutable):
		writeError(w, http.StatusUnprocessableEntity, "type_immutable")
	case errors.Is(err, output.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, "invalid_target")
	case errors.Is(err, playback.ErrNoMedia):
		writeError(w, http.StatusConflict, "no_media")
	case errors.Is(err, presenter.ErrEndOfSchedule):
		writeError(w, http.StatusConflict, "end_of_schedule")
	case errors.Is(err, live.ErrNoItem):
		writeError(w, http.StatusBadRequest, "no_item")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request_cancelled")
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
