/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sanctuary/internal/clock"
	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/telemetry"
)

// AllTargets addresses every registered target in SetBlackout.
const AllTargets = "all"

// DefaultDeliveryTimeout bounds a single delivery to one target.
const DefaultDeliveryTimeout = 2 * time.Second

var (
	// ErrTargetNotFound indicates an unknown target id.
	ErrTargetNotFound = errors.New("display target not found")

	// ErrTargetUnreachable indicates a target whose transport failed.
	ErrTargetUnreachable = errors.New("display target unreachable")

	// ErrInvalidTarget indicates a target that cannot be registered.
	ErrInvalidTarget = errors.New("invalid display target")
)

// Config contains router configuration.
type Config struct {
	DeliveryTimeout time.Duration
}

type targetEntry struct {
	target    models.DisplayTarget
	transport Transport
}

// Router fans the live state out to display targets. Broadcasts are
// serialized: each one completes on every target before the next starts, so
// a target never observes a later transition before an earlier one.
type Router struct {
	mu      sync.Mutex
	seq     uint64
	targets map[string]*targetEntry

	// Last broadcast state, replayed to newly registered targets.
	live       *models.ContentItem
	transition models.Transition
	playback   *models.PlaybackState
	blackout   bool
	appearance models.OutputAppearance

	timeout time.Duration
	clock   clock.Clock
	bus     events.Publisher
	logger  zerolog.Logger
}

// NewRouter creates an output router.
func NewRouter(cfg Config, clk clock.Clock, bus events.Publisher, logger zerolog.Logger) *Router {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &Router{
		targets: make(map[string]*targetEntry),
		timeout: cfg.DeliveryTimeout,
		clock:   clk,
		bus:     bus,
		logger:  logger.With().Str("component", "output_router").Logger(),
	}
}

// RegisterTarget adds or replaces a target and immediately pushes the
// current state to it. A target whose initial sync fails is kept but
// marked inactive.
func (r *Router) RegisterTarget(ctx context.Context, target models.DisplayTarget, tr Transport) (models.DisplayTarget, error) {
	target.ID = strings.TrimSpace(target.ID)
	if target.ID == "" || target.ID == AllTargets {
		return models.DisplayTarget{}, fmt.Errorf("%w: id %q", ErrInvalidTarget, target.ID)
	}
	if tr == nil {
		return models.DisplayTarget{}, fmt.Errorf("%w: nil transport", ErrInvalidTarget)
	}
	if target.Kind == "" {
		target.Kind = models.TargetOutput
	}
	if target.Label == "" {
		target.Label = target.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.targets[target.ID]; ok && prev.transport != tr {
		if err := prev.transport.Close(); err != nil {
			r.logger.Debug().Err(err).Str("target_id", target.ID).Msg("closing replaced transport")
		}
	}

	target.Active = true
	target.Transport = tr.Name()
	target.RegisteredAt = r.clock.Now()
	target.LostAt = nil
	target.LostReason = ""
	target.LastSequence = 0

	entry := &targetEntry{target: target, transport: tr}
	r.targets[target.ID] = entry

	r.logger.Info().
		Str("target_id", target.ID).
		Str("kind", string(target.Kind)).
		Str("transport", tr.Name()).
		Msg("display target registered")
	r.bus.Publish(events.EventTargetRegistered, events.Payload{"target": target})

	r.syncLocked(ctx, entry)
	r.updateGaugeLocked()
	return entry.target, nil
}

// UnregisterTarget removes a target and closes its transport.
func (r *Router) UnregisterTarget(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.targets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	r.removeLocked(entry)
	return nil
}

// Detach removes the target only while tr is still its transport. Used by
// connection handlers so a closed connection does not remove a newer one.
func (r *Router) Detach(id string, tr Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.targets[id]
	if !ok || entry.transport != tr {
		return false
	}
	r.removeLocked(entry)
	return true
}

func (r *Router) removeLocked(entry *targetEntry) {
	delete(r.targets, entry.target.ID)
	if err := entry.transport.Close(); err != nil {
		r.logger.Debug().Err(err).Str("target_id", entry.target.ID).Msg("closing transport")
	}
	r.logger.Info().Str("target_id", entry.target.ID).Msg("display target unregistered")
	r.bus.Publish(events.EventTargetRemoved, events.Payload{"target_id": entry.target.ID})
	r.updateGaugeLocked()
}

// BroadcastLive sends SET_LIVE for item (nil clears) with its playback state
// and the transition targets should animate it in with.
func (r *Router) BroadcastLive(ctx context.Context, item *models.ContentItem, pb *models.PlaybackState, transition models.Transition) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.live = item.Clone()
	r.transition = transition
	r.playback = clonePlayback(pb)
	return r.broadcastLocked(ctx, MsgSetLive, r.liveEnvelopeLocked)
}

func (r *Router) liveEnvelopeLocked(*targetEntry) Envelope {
	return Envelope{Live: r.live.Clone(), Transition: r.transition, Playback: clonePlayback(r.playback)}
}

// BroadcastBlackout sends the global blackout flag. Each target receives the
// effective value: global OR its own blackout.
func (r *Router) BroadcastBlackout(ctx context.Context, on bool) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.blackout = on
	return r.broadcastLocked(ctx, MsgSetBlackout, func(e *targetEntry) Envelope {
		return Envelope{Blackout: boolPtr(r.effectiveBlackoutLocked(e))}
	})
}

// BroadcastPlayback sends a PLAYBACK_UPDATE for the live media.
func (r *Router) BroadcastPlayback(ctx context.Context, pb *models.PlaybackState) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.playback = clonePlayback(pb)
	return r.broadcastLocked(ctx, MsgPlaybackUpdate, func(*targetEntry) Envelope {
		return Envelope{Playback: clonePlayback(r.playback)}
	})
}

// SetAppearance sets the backdrop rendered behind content on every target.
func (r *Router) SetAppearance(ctx context.Context, a models.OutputAppearance) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.appearance = a
	return r.broadcastLocked(ctx, MsgSetAppearance, func(*targetEntry) Envelope {
		appearance := r.appearance
		return Envelope{Appearance: &appearance}
	})
}

// Appearance returns the current backdrop.
func (r *Router) Appearance() models.OutputAppearance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appearance
}

// SetFullscreen toggles fullscreen on one target.
func (r *Router) SetFullscreen(ctx context.Context, id string, on bool) (models.DisplayTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.targets[id]
	if !ok {
		return models.DisplayTarget{}, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	entry.target.Fullscreen = on
	r.sendLocked(ctx, entry, MsgSetFullscreen, Envelope{Fullscreen: boolPtr(on)})
	r.bus.Publish(events.EventTargetUpdated, events.Payload{"target": entry.target})
	return entry.target, nil
}

// SetBlackout sets the per-target blackout flag. The target renders black
// while either its own or the global flag is set.
func (r *Router) SetBlackout(ctx context.Context, id string, on bool) (models.DisplayTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.targets[id]
	if !ok {
		return models.DisplayTarget{}, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	entry.target.Blackout = on
	r.sendLocked(ctx, entry, MsgSetBlackout, Envelope{Blackout: boolPtr(r.effectiveBlackoutLocked(entry))})
	r.bus.Publish(events.EventTargetUpdated, events.Payload{"target": entry.target})
	return entry.target, nil
}

// SetResolution records the advisory resolution of a target.
func (r *Router) SetResolution(id, resolution string) (models.DisplayTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.targets[id]
	if !ok {
		return models.DisplayTarget{}, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	entry.target.Resolution = strings.TrimSpace(resolution)
	r.bus.Publish(events.EventTargetUpdated, events.Payload{"target": entry.target})
	return entry.target, nil
}

// ReactivateTarget marks a lost target active again and resyncs it.
func (r *Router) ReactivateTarget(ctx context.Context, id string) (models.DisplayTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.targets[id]
	if !ok {
		return models.DisplayTarget{}, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	entry.target.Active = true
	entry.target.LostAt = nil
	entry.target.LostReason = ""

	if !r.syncLocked(ctx, entry) {
		r.updateGaugeLocked()
		return entry.target, fmt.Errorf("%w: %s", ErrTargetUnreachable, id)
	}
	r.logger.Info().Str("target_id", id).Msg("display target reactivated")
	r.bus.Publish(events.EventTargetUpdated, events.Payload{"target": entry.target})
	r.updateGaugeLocked()
	return entry.target, nil
}

// ListTargets returns all targets ordered by registration time.
func (r *Router) ListTargets() []models.DisplayTarget {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.DisplayTarget, 0, len(r.targets))
	for _, entry := range r.targets {
		out = append(out, entry.target)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

// Target returns one target.
func (r *Router) Target(id string) (models.DisplayTarget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.targets[id]
	if !ok {
		return models.DisplayTarget{}, false
	}
	return entry.target, true
}

// Sequence returns the last assigned sequence number.
func (r *Router) Sequence() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Close closes every transport and forgets all targets.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.targets {
		if err := entry.transport.Close(); err != nil {
			r.logger.Debug().Err(err).Str("target_id", id).Msg("closing transport")
		}
		delete(r.targets, id)
	}
	r.updateGaugeLocked()
}

// syncLocked pushes live item, blackout, fullscreen and appearance to one
// target. It reports whether the target is still active afterwards.
func (r *Router) syncLocked(ctx context.Context, entry *targetEntry) bool {
	steps := []struct {
		typ MessageType
		env Envelope
	}{
		{MsgSetLive, r.liveEnvelopeLocked(entry)},
		{MsgSetBlackout, Envelope{Blackout: boolPtr(r.effectiveBlackoutLocked(entry))}},
		{MsgSetFullscreen, Envelope{Fullscreen: boolPtr(entry.target.Fullscreen)}},
	}
	if !r.appearance.IsZero() {
		appearance := r.appearance
		steps = append(steps, struct {
			typ MessageType
			env Envelope
		}{MsgSetAppearance, Envelope{Appearance: &appearance}})
	}

	for _, step := range steps {
		if !r.sendLocked(ctx, entry, step.typ, step.env) {
			return false
		}
	}
	return true
}

// sendLocked delivers one envelope to one active target with a fresh
// sequence number.
func (r *Router) sendLocked(ctx context.Context, entry *targetEntry, typ MessageType, env Envelope) bool {
	if !entry.target.Active {
		return false
	}
	r.seq++
	env.Seq = r.seq
	env.Type = typ
	env.TargetID = entry.target.ID
	env.SentAt = r.clock.Now()

	if err := r.deliver(ctx, entry, env); err != nil {
		r.markLostLocked(entry, err)
		return false
	}
	entry.target.LastSequence = env.Seq
	return true
}

// broadcastLocked assigns one sequence number and delivers to all active
// targets concurrently. It returns once every delivery has finished or
// timed out.
func (r *Router) broadcastLocked(ctx context.Context, typ MessageType, build func(*targetEntry) Envelope) uint64 {
	r.seq++
	seq := r.seq
	now := r.clock.Now()
	telemetry.OutputBroadcastsTotal.WithLabelValues(string(typ)).Inc()

	type result struct {
		entry *targetEntry
		err   error
	}

	pending := make(map[*targetEntry]struct{})
	results := make(chan result, len(r.targets))
	for _, entry := range r.targets {
		if !entry.target.Active {
			continue
		}
		env := build(entry)
		env.Seq = seq
		env.Type = typ
		env.TargetID = entry.target.ID
		env.SentAt = now

		pending[entry] = struct{}{}
		go func(entry *targetEntry, env Envelope) {
			results <- result{entry: entry, err: r.deliver(ctx, entry, env)}
		}(entry, env)
	}

	// Transports are expected to honour the per-delivery context; the
	// deadline covers ones that do not.
	deadline := time.NewTimer(r.timeout + 250*time.Millisecond)
	defer deadline.Stop()

	for len(pending) > 0 {
		select {
		case res := <-results:
			delete(pending, res.entry)
			if res.err != nil {
				r.markLostLocked(res.entry, res.err)
				continue
			}
			res.entry.target.LastSequence = seq
		case <-deadline.C:
			for entry := range pending {
				r.markLostLocked(entry, context.DeadlineExceeded)
			}
			pending = nil
		}
	}

	r.logger.Debug().Uint64("seq", seq).Str("type", string(typ)).Msg("broadcast delivered")
	return seq
}

// deliver bounds one delivery by the per-target timeout only. The caller's
// cancellation is dropped: an aborted operator request must not make healthy
// targets look unreachable.
func (r *Router) deliver(ctx context.Context, entry *targetEntry, env Envelope) error {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	start := time.Now()
	err := entry.transport.Deliver(dctx, env)
	telemetry.OutputDeliveryDuration.WithLabelValues(entry.transport.Name()).Observe(time.Since(start).Seconds())
	return err
}

func (r *Router) markLostLocked(entry *targetEntry, err error) {
	if !entry.target.Active {
		return
	}
	now := r.clock.Now()
	entry.target.Active = false
	entry.target.LostAt = &now
	entry.target.LostReason = err.Error()

	telemetry.OutputDeliveryFailuresTotal.WithLabelValues(entry.transport.Name()).Inc()
	r.logger.Warn().
		Err(err).
		Str("target_id", entry.target.ID).
		Str("transport", entry.transport.Name()).
		Msg("display target unreachable, deactivated")
	r.bus.Publish(events.EventTargetLost, events.Payload{
		"target_id": entry.target.ID,
		"reason":    fmt.Sprintf("%v: %v", ErrTargetUnreachable, err),
	})
	r.updateGaugeLocked()
}

func (r *Router) effectiveBlackoutLocked(entry *targetEntry) bool {
	return r.blackout || entry.target.Blackout
}

func (r *Router) updateGaugeLocked() {
	active := 0
	for _, entry := range r.targets {
		if entry.target.Active {
			active++
		}
	}
	telemetry.OutputActiveTargets.Set(float64(active))
}
