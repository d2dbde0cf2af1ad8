/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package live tracks the previewed and on-air items of a presentation.
package live

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/playback"
	"github.com/friendsincode/sanctuary/internal/telemetry"
)

// ErrNoItem indicates a select or go-live without an item.
var ErrNoItem = errors.New("no content item given")

// Broadcaster fans live state out to display targets. Each call returns the
// sequence number assigned to the broadcast once delivery has finished.
type Broadcaster interface {
	BroadcastLive(ctx context.Context, item *models.ContentItem, pb *models.PlaybackState, transition models.Transition) uint64
	BroadcastBlackout(ctx context.Context, on bool) uint64
	BroadcastPlayback(ctx context.Context, pb *models.PlaybackState) uint64
}

// Controller owns the LiveState and the playback state of the live item.
// All transitions are serialized on one mutex, so the live item and its
// playback state are never observed out of step.
type Controller struct {
	mu       sync.Mutex
	phase    models.LivePhase
	selected *models.ContentItem
	live     *models.ContentItem
	cueID    string
	trans    models.Transition
	blackout bool
	seq      uint64

	player *playback.Controller
	router Broadcaster
	bus    events.Publisher
	logger zerolog.Logger
}

// NewController creates an idle live controller.
func NewController(router Broadcaster, player *playback.Controller, bus events.Publisher, logger zerolog.Logger) *Controller {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Controller{
		phase:  models.LivePhaseIdle,
		player: player,
		router: router,
		bus:    bus,
		logger: logger.With().Str("component", "live").Logger(),
	}
}

// Select previews item. The live item is not touched and nothing reaches
// the outputs.
func (c *Controller) Select(ctx context.Context, item *models.ContentItem) (models.LiveState, error) {
	if item == nil {
		return models.LiveState{}, ErrNoItem
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.selected = item.Clone()
	c.phase = models.LivePhasePreviewing
	telemetry.LiveTransitionsTotal.WithLabelValues("select").Inc()

	state := c.stateLocked()
	c.bus.Publish(events.EventSelectionChanged, events.Payload{"state": state})
	return state, nil
}

// ClearSelection drops the previewed item.
func (c *Controller) ClearSelection(ctx context.Context) models.LiveState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selected == nil {
		return c.stateLocked()
	}
	c.selected = nil
	if c.phase == models.LivePhasePreviewing {
		c.phase = c.restingPhaseLocked()
	}

	state := c.stateLocked()
	c.bus.Publish(events.EventSelectionChanged, events.Payload{"state": state})
	return state
}

// GoLive puts item on air, replacing any previous live item and its
// playback state. It returns after every active target has been sent the
// new item.
func (c *Controller) GoLive(ctx context.Context, item *models.ContentItem) (models.LiveState, error) {
	return c.GoLiveCue(ctx, item, "", models.TransitionNone)
}

// GoLiveCue is GoLive for an item taken from the schedule entry cueID.
// Targets animate the change with transition.
func (c *Controller) GoLiveCue(ctx context.Context, item *models.ContentItem, cueID string, transition models.Transition) (models.LiveState, error) {
	if item == nil {
		return models.LiveState{}, ErrNoItem
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.live = item.Clone()
	c.cueID = cueID
	c.trans = transition
	c.phase = models.LivePhaseLive

	var pb *models.PlaybackState
	if c.live.IsTimed() {
		c.player.Load(c.live)
		if state, ok := c.player.Snapshot(); ok {
			pb = &state
		}
	} else {
		c.player.Unload()
	}

	c.seq = c.router.BroadcastLive(ctx, c.live, pb, transition)
	telemetry.LiveTransitionsTotal.WithLabelValues("go_live").Inc()

	c.logger.Info().
		Str("content_id", c.live.ID).
		Str("type", string(c.live.Type)).
		Str("cue_id", cueID).
		Str("transition", string(transition)).
		Uint64("seq", c.seq).
		Msg("item live")

	state := c.stateLocked()
	c.bus.Publish(events.EventLiveChanged, events.Payload{"state": state})
	return state, nil
}

// ClearLive takes the live item off air. Targets render their idle
// placeholder.
func (c *Controller) ClearLive(ctx context.Context) models.LiveState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live == nil {
		return c.stateLocked()
	}
	prev := c.live.ID
	c.live = nil
	c.cueID = ""
	c.trans = models.TransitionNone
	c.player.Unload()
	c.phase = c.restingPhaseLocked()

	c.seq = c.router.BroadcastLive(ctx, nil, nil, models.TransitionNone)
	telemetry.LiveTransitionsTotal.WithLabelValues("clear_live").Inc()
	c.logger.Info().Str("content_id", prev).Uint64("seq", c.seq).Msg("live cleared")

	state := c.stateLocked()
	c.bus.Publish(events.EventLiveChanged, events.Payload{"state": state})
	return state
}

// ToggleBlackout flips the global blackout flag.
func (c *Controller) ToggleBlackout(ctx context.Context) models.LiveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setBlackoutLocked(ctx, !c.blackout)
}

// SetBlackout sets the global blackout flag. The live item and its playback
// state are kept, so turning blackout off resumes exactly where it was.
func (c *Controller) SetBlackout(ctx context.Context, on bool) models.LiveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blackout == on {
		return c.stateLocked()
	}
	return c.setBlackoutLocked(ctx, on)
}

func (c *Controller) setBlackoutLocked(ctx context.Context, on bool) models.LiveState {
	c.blackout = on
	c.seq = c.router.BroadcastBlackout(ctx, on)

	gauge := 0.0
	if on {
		gauge = 1
	}
	telemetry.LiveBlackout.Set(gauge)
	telemetry.LiveTransitionsTotal.WithLabelValues("blackout").Inc()
	c.logger.Info().Bool("blackout", on).Uint64("seq", c.seq).Msg("blackout changed")

	state := c.stateLocked()
	c.bus.Publish(events.EventBlackoutChanged, events.Payload{"state": state, "blackout": on})
	return state
}

// State returns a snapshot of the live state.
func (c *Controller) State() models.LiveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Live returns a copy of the live item, or nil.
func (c *Controller) Live() *models.ContentItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live.Clone()
}

// Selected returns a copy of the previewed item, or nil.
func (c *Controller) Selected() *models.ContentItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected.Clone()
}

// Blackout reports the global blackout flag.
func (c *Controller) Blackout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blackout
}

// CueID returns the schedule entry the live item was taken from, if any.
func (c *Controller) CueID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cueID
}

// Playback returns the playback state of the live item. ok is false when
// the live item has no media transport.
func (c *Controller) Playback() (models.PlaybackState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player.Snapshot()
}

// Play starts playback of the live media.
func (c *Controller) Play(ctx context.Context) (models.PlaybackState, error) {
	return c.transport(ctx, c.player.Play)
}

// Pause pauses the live media.
func (c *Controller) Pause(ctx context.Context) (models.PlaybackState, error) {
	return c.transport(ctx, c.player.Pause)
}

// TogglePlay switches between playing and paused.
func (c *Controller) TogglePlay(ctx context.Context) (models.PlaybackState, error) {
	return c.transport(ctx, c.player.TogglePlay)
}

// Stop stops the live media and rewinds it.
func (c *Controller) Stop(ctx context.Context) (models.PlaybackState, error) {
	return c.transport(ctx, c.player.Stop)
}

// Seek moves the live media to sec.
func (c *Controller) Seek(ctx context.Context, sec float64) (models.PlaybackState, error) {
	return c.transport(ctx, func() (models.PlaybackState, error) { return c.player.Seek(sec) })
}

// SeekBy moves the live media relative to its position.
func (c *Controller) SeekBy(ctx context.Context, delta float64) (models.PlaybackState, error) {
	return c.transport(ctx, func() (models.PlaybackState, error) { return c.player.SeekBy(delta) })
}

// SetVolume sets the stored volume of the live media.
func (c *Controller) SetVolume(ctx context.Context, v float64) (models.PlaybackState, error) {
	return c.transport(ctx, func() (models.PlaybackState, error) { return c.player.SetVolume(v) })
}

// ToggleMute flips the muted flag of the live media.
func (c *Controller) ToggleMute(ctx context.Context) (models.PlaybackState, error) {
	return c.transport(ctx, c.player.ToggleMute)
}

// PublishPlayback pushes the playback position to the targets after a tick
// sampled state for the live item. The state sent is re-read under the live
// mutex, so a command that ran after the sample is never overwritten.
func (c *Controller) PublishPlayback(ctx context.Context, sampled models.PlaybackState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live == nil || c.live.ID != sampled.ContentID {
		return false
	}
	current, ok := c.player.Snapshot()
	if !ok || current.ContentID != c.live.ID {
		return false
	}
	c.router.BroadcastPlayback(ctx, &current)
	return true
}

func (c *Controller) transport(ctx context.Context, cmd func() (models.PlaybackState, error)) (models.PlaybackState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := cmd()
	if err != nil {
		return models.PlaybackState{}, err
	}
	c.router.BroadcastPlayback(ctx, &state)
	return state, nil
}

func (c *Controller) restingPhaseLocked() models.LivePhase {
	switch {
	case c.live != nil:
		return models.LivePhaseLive
	case c.selected != nil:
		return models.LivePhasePreviewing
	default:
		return models.LivePhaseIdle
	}
}

func (c *Controller) stateLocked() models.LiveState {
	return models.LiveState{
		Phase:      c.phase,
		Selected:   c.selected.Clone(),
		Live:       c.live.Clone(),
		Blackout:   c.blackout,
		CueID:      c.cueID,
		Transition: c.trans,
		Sequence:   c.seq,
	}
}
