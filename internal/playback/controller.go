/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback owns the transport state of the live video item.
package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sanctuary/internal/clock"
	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/models"
)

// SeekStep is the distance of a single keyboard seek.
const SeekStep = 5.0

// DefaultVolume is the volume of a freshly loaded item.
const DefaultVolume = 1.0

// ErrNoMedia indicates a transport command while no media is loaded.
var ErrNoMedia = errors.New("no media loaded")

// FinishedFunc is called once when playback reaches the end of the media.
type FinishedFunc func(state models.PlaybackState)

// Controller is the Stopped/Playing/Paused state machine for one media item
// at a time. Position is derived from the clock while playing.
type Controller struct {
	mu     sync.Mutex
	clock  clock.Clock
	bus    events.Publisher
	logger zerolog.Logger

	loaded    bool
	contentID string
	duration  float64
	status    models.PlaybackStatus
	base      float64   // position at startedAt, or the fixed position when not playing
	startedAt time.Time // valid while playing
	volume    float64
	muted     bool

	onFinished FinishedFunc
}

// New creates an unloaded controller.
func New(clk clock.Clock, bus events.Publisher, logger zerolog.Logger) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &Controller{
		clock:  clk,
		bus:    bus,
		logger: logger.With().Str("component", "playback").Logger(),
		status: models.PlaybackStopped,
		volume: DefaultVolume,
	}
}

// OnFinished registers the completion callback.
func (c *Controller) OnFinished(fn FinishedFunc) {
	c.mu.Lock()
	c.onFinished = fn
	c.mu.Unlock()
}

// Load discards any previous transport state and prepares a fresh one for
// item: stopped at 0, full volume, unmuted.
func (c *Controller) Load(item *models.ContentItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = true
	c.contentID = item.ID
	c.duration = item.DurationSeconds
	c.status = models.PlaybackStopped
	c.base = 0
	c.startedAt = time.Time{}
	c.volume = DefaultVolume
	c.muted = false

	c.logger.Debug().Str("content_id", item.ID).Float64("duration", c.duration).Msg("media loaded")
}

// Unload discards the transport state.
func (c *Controller) Unload() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		c.logger.Debug().Str("content_id", c.contentID).Msg("media unloaded")
	}
	c.loaded = false
	c.contentID = ""
	c.duration = 0
	c.status = models.PlaybackStopped
	c.base = 0
	c.volume = DefaultVolume
	c.muted = false
}

// Loaded reports whether media is loaded.
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() (models.PlaybackState, bool) {
	return c.do(func() {})
}

// Play starts or resumes playback. Playing from the end restarts at 0.
func (c *Controller) Play() (models.PlaybackState, error) {
	return c.command(func(now time.Time) {
		if c.status == models.PlaybackPlaying {
			return
		}
		if c.duration > 0 && c.base >= c.duration {
			c.base = 0
		}
		c.status = models.PlaybackPlaying
		c.startedAt = now
	})
}

// Pause holds the current position. Pausing a stopped item is a no-op.
func (c *Controller) Pause() (models.PlaybackState, error) {
	return c.command(func(now time.Time) {
		if c.status != models.PlaybackPlaying {
			return
		}
		c.base = c.positionLocked(now)
		c.status = models.PlaybackPaused
	})
}

// TogglePlay switches between playing and paused.
func (c *Controller) TogglePlay() (models.PlaybackState, error) {
	c.mu.Lock()
	playing := c.loaded && c.status == models.PlaybackPlaying
	c.mu.Unlock()
	if playing {
		return c.Pause()
	}
	return c.Play()
}

// Stop halts playback and rewinds to 0.
func (c *Controller) Stop() (models.PlaybackState, error) {
	return c.command(func(time.Time) {
		c.status = models.PlaybackStopped
		c.base = 0
	})
}

// Seek moves to sec, clamped to [0, duration]. The play state is kept.
func (c *Controller) Seek(sec float64) (models.PlaybackState, error) {
	return c.command(func(now time.Time) {
		c.seekLocked(now, sec)
	})
}

// SeekBy moves relative to the current position.
func (c *Controller) SeekBy(delta float64) (models.PlaybackState, error) {
	return c.command(func(now time.Time) {
		c.seekLocked(now, c.positionLocked(now)+delta)
	})
}

// SetVolume stores v clamped to [0, 1]. The muted flag is not touched.
func (c *Controller) SetVolume(v float64) (models.PlaybackState, error) {
	return c.command(func(time.Time) {
		switch {
		case math.IsNaN(v) || v < 0:
			v = 0
		case v > 1:
			v = 1
		}
		c.volume = v
	})
}

// ToggleMute flips the muted flag without changing the stored volume.
func (c *Controller) ToggleMute() (models.PlaybackState, error) {
	return c.command(func(time.Time) {
		c.muted = !c.muted
	})
}

// Tick samples the position, completing playback at the end of the media.
// It reports whether the media is playing or has just finished; in that case
// a playback.tick event is published.
func (c *Controller) Tick() (models.PlaybackState, bool) {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return models.PlaybackState{}, false
	}
	wasPlaying := c.status == models.PlaybackPlaying
	finished := c.settleLocked(c.clock.Now())
	state := c.stateLocked(c.clock.Now())
	cb := c.onFinished
	c.mu.Unlock()

	if !wasPlaying {
		return state, false
	}
	c.bus.Publish(events.EventPlaybackTick, events.Payload{"state": state})
	if finished {
		c.finish(cb, state)
	}
	return state, true
}

// Run calls Tick every interval until ctx is done. onTick receives each
// state for which Tick reported activity.
func (c *Controller) Run(ctx context.Context, interval time.Duration, onTick func(models.PlaybackState)) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if state, active := c.Tick(); active && onTick != nil {
				onTick(state)
			}
		}
	}
}

// command runs fn against a loaded controller and returns the resulting state.
func (c *Controller) command(fn func(now time.Time)) (models.PlaybackState, error) {
	state, ok := c.do(func() { fn(c.clock.Now()) })
	if !ok {
		return models.PlaybackState{}, ErrNoMedia
	}
	return state, nil
}

// do settles completion, applies fn under the lock and fires the finished
// callback afterwards if settling completed playback.
func (c *Controller) do(fn func()) (models.PlaybackState, bool) {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return models.PlaybackState{}, false
	}
	finished := c.settleLocked(c.clock.Now())
	finishedState := c.stateLocked(c.clock.Now())
	fn()
	state := c.stateLocked(c.clock.Now())
	cb := c.onFinished
	c.mu.Unlock()

	if finished {
		c.finish(cb, finishedState)
	}
	return state, true
}

func (c *Controller) finish(cb FinishedFunc, state models.PlaybackState) {
	c.logger.Info().Str("content_id", state.ContentID).Float64("duration", state.Duration).Msg("playback finished")
	if cb != nil {
		cb(state)
	}
}

// settleLocked transitions Playing to Stopped once the end is reached.
func (c *Controller) settleLocked(now time.Time) bool {
	if c.status != models.PlaybackPlaying || c.duration <= 0 {
		return false
	}
	if c.positionLocked(now) < c.duration {
		return false
	}
	c.status = models.PlaybackStopped
	c.base = c.duration
	return true
}

func (c *Controller) seekLocked(now time.Time, sec float64) {
	if math.IsNaN(sec) || sec < 0 {
		sec = 0
	}
	if c.duration > 0 && sec > c.duration {
		sec = c.duration
	}
	c.base = sec
	if c.status == models.PlaybackPlaying {
		c.startedAt = now
	}
}

func (c *Controller) positionLocked(now time.Time) float64 {
	if c.status != models.PlaybackPlaying {
		return c.base
	}
	pos := c.base + now.Sub(c.startedAt).Seconds()
	if c.duration > 0 && pos > c.duration {
		pos = c.duration
	}
	return pos
}

func (c *Controller) stateLocked(now time.Time) models.PlaybackState {
	return models.PlaybackState{
		ContentID:   c.contentID,
		Status:      c.status,
		IsPlaying:   c.status == models.PlaybackPlaying,
		CurrentTime: c.positionLocked(now),
		Duration:    c.duration,
		Volume:      c.volume,
		Muted:       c.muted,
	}
}
