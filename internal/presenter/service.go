/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package presenter owns one presentation session: the schedule, the live
// state, the playback transport and the display targets they feed.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sanctuary/internal/clock"
	"github.com/friendsincode/sanctuary/internal/content"
	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/live"
	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/output"
	"github.com/friendsincode/sanctuary/internal/playback"
	"github.com/friendsincode/sanctuary/internal/schedule"
	"github.com/friendsincode/sanctuary/internal/telemetry"
)

var (
	// ErrNotFound indicates a content item or scheduled item does not exist.
	// Errors from the content and schedule packages are wrapped with it.
	ErrNotFound = errors.New("not found")

	// ErrEndOfSchedule indicates there is no scheduled item in the requested
	// direction.
	ErrEndOfSchedule = errors.New("no further scheduled item")

	// ErrQueueFull indicates the completion queue cannot accept more work.
	ErrQueueFull = errors.New("session queue full")
)

// DefaultTickInterval is how often playback position is pushed to targets.
const DefaultTickInterval = 250 * time.Millisecond

const queueSize = 64

// Config tunes the session.
type Config struct {
	// TickInterval is the PLAYBACK_UPDATE cadence while media plays.
	TickInterval time.Duration
	// AutoAdvance makes the session act on its own advance signal by going
	// live with the next scheduled item.
	AutoAdvance bool
}

// Service is the single owner of a presentation session. Commands are
// serialized on one mutex and queries return copies.
type Service struct {
	mu sync.Mutex

	cfg      Config
	content  content.Repository
	schedule *schedule.Manager
	router   *output.Router
	player   *playback.Controller
	live     *live.Controller
	clock    clock.Clock
	bus      events.Publisher
	logger   zerolog.Logger

	// Timers armed by GoLiveScheduled. gen invalidates callbacks of timers
	// that were stopped too late.
	gen          uint64
	delayTimer   clock.Timer
	advanceTimer clock.Timer

	queue  chan func(context.Context)
	ctx    context.Context
	cancel context.CancelFunc
}

// New wires a session around an existing schedule and router.
func New(cfg Config, repo content.Repository, sched *schedule.Manager, router *output.Router, clk clock.Clock, bus events.Publisher, logger zerolog.Logger) *Service {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if bus == nil {
		bus = events.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	player := playback.New(clk, bus, logger)
	s := &Service{
		cfg:      cfg,
		content:  repo,
		schedule: sched,
		router:   router,
		player:   player,
		live:     live.NewController(router, player, bus, logger),
		clock:    clk,
		bus:      bus,
		logger:   logger.With().Str("component", "presenter").Logger(),
		queue:    make(chan func(context.Context), queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	player.OnFinished(s.onFinished)
	telemetry.ScheduleItems.Set(float64(sched.Len()))
	return s
}

// Run processes queued completions and pushes playback position to the
// targets until ctx is done.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.player.Run(ctx, s.cfg.TickInterval, func(state models.PlaybackState) {
			s.live.PublishPlayback(ctx, state)
		})
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case fn := <-s.queue:
			fn(ctx)
		}
	}
}

// Close stops pending timers. Queued work that has not run is dropped.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimersLocked()
	s.cancel()
}

// Submit queues fn to run on the session worker and waits for its result.
// Asynchronous I/O such as imports finishes through Submit so that its
// mutations are applied one at a time, in arrival order.
func (s *Service) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	job := func(runCtx context.Context) { done <- fn(runCtx) }

	select {
	case s.queue <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue queues fn without waiting. It never blocks.
func (s *Service) enqueue(fn func(context.Context)) bool {
	select {
	case s.queue <- fn:
		return true
	default:
		s.logger.Warn().Msg("session queue full, dropping completion")
		return false
	}
}

// ---- queries ----

// Schedule returns the schedule in order.
func (s *Service) Schedule() []models.ScheduledItem {
	return s.schedule.Items()
}

// LiveItem returns the on-air item, or nil.
func (s *Service) LiveItem() *models.ContentItem {
	return s.live.Live()
}

// SelectedItem returns the previewed item, or nil.
func (s *Service) SelectedItem() *models.ContentItem {
	return s.live.Selected()
}

// PlaybackState returns the transport state of the live item. ok is false
// for items without media playback.
func (s *Service) PlaybackState() (models.PlaybackState, bool) {
	return s.live.Playback()
}

// Targets lists the display targets.
func (s *Service) Targets() []models.DisplayTarget {
	return s.router.ListTargets()
}

// Target returns one display target.
func (s *Service) Target(id string) (models.DisplayTarget, error) {
	t, ok := s.router.Target(id)
	if !ok {
		return models.DisplayTarget{}, fmt.Errorf("%w: %w", ErrNotFound, output.ErrTargetNotFound)
	}
	return t, nil
}

// State returns the live state snapshot.
func (s *Service) State() models.LiveState {
	return s.live.State()
}

// Appearance returns the backdrop pushed to every target.
func (s *Service) Appearance() models.OutputAppearance {
	return s.router.Appearance()
}

// ---- schedule commands ----

// ScheduleContent places a content item into the schedule.
func (s *Service) ScheduleContent(ctx context.Context, contentID string, opts schedule.ScheduleOptions) (models.ScheduledItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.schedule.Schedule(ctx, contentID, opts)
	if err != nil {
		return models.ScheduledItem{}, notFound(err)
	}
	s.scheduleGaugeLocked()
	return entry, nil
}

// Reorder replaces the order of the schedule.
func (s *Service) Reorder(ctx context.Context, sequence []models.ScheduledItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule.Reorder(ctx, sequence)
}

// Unschedule removes an entry. Removing an unknown entry is not an error.
func (s *Service) Unschedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.schedule.Unschedule(ctx, id); err != nil {
		return err
	}
	s.scheduleGaugeLocked()
	return nil
}

// UpdateTiming changes the timing of a scheduled entry.
func (s *Service) UpdateTiming(ctx context.Context, id string, update schedule.TimingUpdate) (models.ScheduledItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.schedule.UpdateTiming(ctx, id, update)
	if err != nil {
		return models.ScheduledItem{}, notFound(err)
	}
	return entry, nil
}

// ExportSchedule writes the schedule as YAML.
func (s *Service) ExportSchedule(ctx context.Context, w io.Writer) error {
	return s.schedule.Export(ctx, w)
}

// ImportSchedule replaces the schedule with a YAML document.
func (s *Service) ImportSchedule(ctx context.Context, r io.Reader) ([]models.ScheduledItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.schedule.Import(ctx, r)
	if err != nil {
		return nil, notFound(err)
	}
	s.scheduleGaugeLocked()
	return items, nil
}

// ---- live commands ----

// Select previews item.
func (s *Service) Select(ctx context.Context, item *models.ContentItem) (models.LiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Select(ctx, item)
}

// SelectByID previews a library item.
func (s *Service) SelectByID(ctx context.Context, contentID string) (models.LiveState, error) {
	item, err := s.lookup(ctx, contentID)
	if err != nil {
		return models.LiveState{}, err
	}
	return s.Select(ctx, item)
}

// ClearSelection drops the previewed item.
func (s *Service) ClearSelection(ctx context.Context) models.LiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.ClearSelection(ctx)
}

// GoLive puts item on air. Pending schedule timers are cancelled.
func (s *Service) GoLive(ctx context.Context, item *models.ContentItem) (models.LiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item == nil {
		return models.LiveState{}, live.ErrNoItem
	}
	s.cancelTimersLocked()
	return s.live.GoLive(ctx, item)
}

// GoLiveByID puts a library item on air.
func (s *Service) GoLiveByID(ctx context.Context, contentID string) (models.LiveState, error) {
	item, err := s.lookup(ctx, contentID)
	if err != nil {
		return models.LiveState{}, err
	}
	return s.GoLive(ctx, item)
}

// GoLiveScheduled puts the content of a scheduled entry on air and arms its
// timers: media starts after the entry's delay, and an entry with a duration
// signals schedule.advance_due once it has been live that long.
func (s *Service) GoLiveScheduled(ctx context.Context, scheduledID string) (models.LiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goLiveScheduledLocked(ctx, scheduledID)
}

// Next goes live with the entry after the current one. With no current
// entry it starts at the top of the schedule.
func (s *Service) Next(ctx context.Context) (models.LiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.neighbourLocked(true)
	if !ok {
		return s.live.State(), ErrEndOfSchedule
	}
	return s.goLiveScheduledLocked(ctx, entry.ID)
}

// Previous goes live with the entry before the current one. With no current
// entry it starts at the bottom of the schedule.
func (s *Service) Previous(ctx context.Context) (models.LiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.neighbourLocked(false)
	if !ok {
		return s.live.State(), ErrEndOfSchedule
	}
	return s.goLiveScheduledLocked(ctx, entry.ID)
}

// ClearLive takes the live item off air and cancels pending timers.
func (s *Service) ClearLive(ctx context.Context) models.LiveState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelTimersLocked()
	return s.live.ClearLive(ctx)
}

// ToggleBlackout flips the global blackout. Turning it on cancels pending
// timers.
func (s *Service) ToggleBlackout(ctx context.Context) models.LiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setGlobalBlackoutLocked(ctx, !s.live.Blackout())
}

// SetBlackout sets blackout on one target, or globally when targetID is
// output.AllTargets.
func (s *Service) SetBlackout(ctx context.Context, targetID string, on bool) (models.LiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if targetID == output.AllTargets || targetID == "" {
		return s.setGlobalBlackoutLocked(ctx, on), nil
	}
	if _, err := s.router.SetBlackout(ctx, targetID, on); err != nil {
		return s.live.State(), targetErr(err)
	}
	return s.live.State(), nil
}

// ---- playback commands ----

// Play starts the live media.
func (s *Service) Play(ctx context.Context) (models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Play(ctx)
}

// Pause pauses the live media.
func (s *Service) Pause(ctx context.Context) (models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Pause(ctx)
}

// TogglePlay switches between playing and paused.
func (s *Service) TogglePlay(ctx context.Context) (models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.TogglePlay(ctx)
}

// Stop stops and rewinds the live media.
func (s *Service) Stop(ctx context.Context) (models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Stop(ctx)
}

// Seek moves the live media to sec.
func (s *Service) Seek(ctx context.Context, sec float64) (models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Seek(ctx, sec)
}

// SeekBy moves the live media by delta seconds.
func (s *Service) SeekBy(ctx context.Context, delta float64) (models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.SeekBy(ctx, delta)
}

// SetVolume sets the stored volume.
func (s *Service) SetVolume(ctx context.Context, v float64) (models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.SetVolume(ctx, v)
}

// ToggleMute flips the muted flag.
func (s *Service) ToggleMute(ctx context.Context) (models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.ToggleMute(ctx)
}

// ---- target commands ----

// RegisterTarget adds a display target and syncs it to the current state.
func (s *Service) RegisterTarget(ctx context.Context, target models.DisplayTarget, tr output.Transport) (models.DisplayTarget, error) {
	return s.router.RegisterTarget(ctx, target, tr)
}

// UnregisterTarget removes a display target.
func (s *Service) UnregisterTarget(ctx context.Context, id string) error {
	return targetErr(s.router.UnregisterTarget(ctx, id))
}

// DetachTarget removes a target only while tr is still its transport.
func (s *Service) DetachTarget(id string, tr output.Transport) bool {
	return s.router.Detach(id, tr)
}

// SetFullscreen sets fullscreen mode on a target.
func (s *Service) SetFullscreen(ctx context.Context, id string, on bool) (models.DisplayTarget, error) {
	t, err := s.router.SetFullscreen(ctx, id, on)
	return t, targetErr(err)
}

// SetResolution records the advisory resolution of a target.
func (s *Service) SetResolution(id, resolution string) (models.DisplayTarget, error) {
	t, err := s.router.SetResolution(id, resolution)
	return t, targetErr(err)
}

// ReactivateTarget resyncs a target that was marked unreachable.
func (s *Service) ReactivateTarget(ctx context.Context, id string) (models.DisplayTarget, error) {
	t, err := s.router.ReactivateTarget(ctx, id)
	return t, targetErr(err)
}

// SetAppearance changes the backdrop on every target.
func (s *Service) SetAppearance(ctx context.Context, a models.OutputAppearance) models.OutputAppearance {
	s.router.SetAppearance(ctx, a)
	return s.router.Appearance()
}

// ---- internals ----

func (s *Service) lookup(ctx context.Context, contentID string) (*models.ContentItem, error) {
	item, err := s.content.GetByID(ctx, contentID)
	if err != nil {
		return nil, notFound(err)
	}
	return item, nil
}

func (s *Service) goLiveScheduledLocked(ctx context.Context, scheduledID string) (models.LiveState, error) {
	entry, ok := s.schedule.Get(scheduledID)
	if !ok {
		return models.LiveState{}, fmt.Errorf("%w: %w: %s", ErrNotFound, schedule.ErrNotFound, scheduledID)
	}
	item, err := s.lookup(ctx, entry.ContentID)
	if err != nil {
		return models.LiveState{}, err
	}

	s.cancelTimersLocked()
	state, err := s.live.GoLiveCue(ctx, item, entry.ID, entry.Transition)
	if err != nil {
		return state, err
	}

	gen := s.gen
	if item.IsTimed() {
		if entry.Delay > 0 {
			s.delayTimer = s.clock.AfterFunc(seconds(entry.Delay), func() { s.delayElapsed(gen) })
		} else if _, err := s.live.Play(ctx); err != nil {
			s.logger.Warn().Err(err).Str("scheduled_id", entry.ID).Msg("start scheduled media")
		}
	}
	if entry.AutoAdvance() {
		s.advanceTimer = s.clock.AfterFunc(seconds(entry.Duration), func() { s.advanceDue(gen, entry.ID) })
	}

	s.logger.Debug().
		Str("scheduled_id", entry.ID).
		Float64("delay", entry.Delay).
		Float64("duration", entry.Duration).
		Msg("scheduled item live")
	return state, nil
}

// neighbourLocked finds the entry after (or before) the current cue.
func (s *Service) neighbourLocked(forward bool) (models.ScheduledItem, bool) {
	cue := s.live.CueID()
	if _, ok := s.schedule.Get(cue); cue == "" || !ok {
		if forward {
			return s.schedule.At(0)
		}
		return s.schedule.At(s.schedule.Len() - 1)
	}
	if forward {
		return s.schedule.Next(cue)
	}
	return s.schedule.Previous(cue)
}

func (s *Service) setGlobalBlackoutLocked(ctx context.Context, on bool) models.LiveState {
	if on {
		s.cancelTimersLocked()
	}
	return s.live.SetBlackout(ctx, on)
}

func (s *Service) cancelTimersLocked() {
	s.gen++
	if s.delayTimer != nil {
		s.delayTimer.Stop()
		s.delayTimer = nil
	}
	if s.advanceTimer != nil {
		s.advanceTimer.Stop()
		s.advanceTimer = nil
	}
}

func (s *Service) delayElapsed(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}
	s.delayTimer = nil
	if _, err := s.live.Play(s.ctx); err != nil {
		s.logger.Warn().Err(err).Msg("start delayed media")
	}
}

func (s *Service) advanceDue(gen uint64, scheduledID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}
	s.advanceTimer = nil

	payload := events.Payload{"scheduled_id": scheduledID}
	next, hasNext := s.schedule.Next(scheduledID)
	if hasNext {
		payload["next_id"] = next.ID
	}
	s.bus.Publish(events.EventAdvanceDue, payload)
	s.logger.Debug().Str("scheduled_id", scheduledID).Bool("has_next", hasNext).Msg("advance due")

	if s.cfg.AutoAdvance && hasNext {
		if _, err := s.goLiveScheduledLocked(s.ctx, next.ID); err != nil {
			s.logger.Warn().Err(err).Str("scheduled_id", next.ID).Msg("auto advance")
		}
	}
}

// onFinished runs from inside playback commands, possibly while the session
// mutex is held, so it only queues work.
func (s *Service) onFinished(state models.PlaybackState) {
	s.enqueue(func(context.Context) {
		payload := events.Payload{"content_id": state.ContentID, "state": state}
		if cue := s.live.CueID(); cue != "" {
			payload["scheduled_id"] = cue
		}
		s.bus.Publish(events.EventPlaybackFinished, payload)
		s.logger.Info().Str("content_id", state.ContentID).Msg("playback finished")
	})
}

func (s *Service) scheduleGaugeLocked() {
	telemetry.ScheduleItems.Set(float64(s.schedule.Len()))
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// notFound folds the package-level not-found errors into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, content.ErrNotFound) || errors.Is(err, schedule.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func targetErr(err error) error {
	if errors.Is(err, output.ErrTargetNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
