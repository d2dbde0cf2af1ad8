/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule maintains the ordered presentation queue.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/sanctuary/internal/content"
	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/models"
)

var (
	// ErrNotFound indicates the scheduled item does not exist.
	ErrNotFound = errors.New("scheduled item not found")

	// ErrInvalidSequence indicates a reorder whose items do not match the schedule.
	ErrInvalidSequence = errors.New("invalid schedule sequence")

	// ErrInvalidTransition indicates an unknown transition kind.
	ErrInvalidTransition = errors.New("invalid transition")
)

// ScheduleOptions controls placement and timing of a new entry.
type ScheduleOptions struct {
	At           *int // insert position, nil appends
	Duration     float64
	Delay        float64
	Transition   models.Transition
	ScheduledFor *time.Time
}

// TimingUpdate is a partial timing change. Nil fields are left untouched.
type TimingUpdate struct {
	Duration     *float64
	Delay        *float64
	Transition   *models.Transition
	ScheduledFor *time.Time
}

// Persister stores the full schedule.
type Persister interface {
	Load(ctx context.Context) ([]models.ScheduledItem, error)
	Save(ctx context.Context, items []models.ScheduledItem) error
}

// Manager owns the ordered schedule. Orders are always 0..n-1.
type Manager struct {
	mu    sync.RWMutex
	items []models.ScheduledItem

	repo   content.Repository
	store  Persister
	bus    events.Publisher
	logger zerolog.Logger
}

// NewManager creates a schedule manager. store may be nil for an in-memory schedule.
func NewManager(repo content.Repository, store Persister, bus events.Publisher, logger zerolog.Logger) *Manager {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Manager{
		repo:   repo,
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "schedule").Logger(),
	}
}

// Load replaces the in-memory schedule with the persisted one.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	items, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	renumber(items)

	m.mu.Lock()
	m.items = items
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info().Int("items", len(items)).Msg("schedule loaded")
	m.publish(snapshot)
	return nil
}

// Schedule places contentID into the schedule.
func (m *Manager) Schedule(ctx context.Context, contentID string, opts ScheduleOptions) (models.ScheduledItem, error) {
	if _, err := m.repo.GetByID(ctx, contentID); err != nil {
		return models.ScheduledItem{}, err
	}
	if !opts.Transition.Valid() {
		return models.ScheduledItem{}, fmt.Errorf("%w: %q", ErrInvalidTransition, opts.Transition)
	}

	now := time.Now()
	item := models.ScheduledItem{
		ID:           uuid.NewString(),
		ContentID:    contentID,
		Duration:     m.clamp("duration", opts.Duration),
		Delay:        m.clamp("delay", opts.Delay),
		Transition:   opts.Transition,
		ScheduledFor: opts.ScheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos := len(m.items)
	if opts.At != nil {
		pos = *opts.At
		if pos < 0 {
			pos = 0
		}
		if pos > len(m.items) {
			pos = len(m.items)
		}
	}

	next := make([]models.ScheduledItem, 0, len(m.items)+1)
	next = append(next, m.items[:pos]...)
	next = append(next, item)
	next = append(next, m.items[pos:]...)

	if err := m.commitLocked(ctx, next); err != nil {
		return models.ScheduledItem{}, err
	}

	item = m.items[pos]
	m.logger.Info().
		Str("scheduled_id", item.ID).
		Str("content_id", contentID).
		Int("order", item.Order).
		Msg("item scheduled")
	return item, nil
}

// Reorder replaces the order assignment with the order of sequence.
// Only item identifiers are read from sequence.
func (m *Manager) Reorder(ctx context.Context, sequence []models.ScheduledItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(sequence) != len(m.items) {
		return fmt.Errorf("%w: expected %d items, got %d", ErrInvalidSequence, len(m.items), len(sequence))
	}

	byID := make(map[string]models.ScheduledItem, len(m.items))
	for _, item := range m.items {
		byID[item.ID] = item
	}

	next := make([]models.ScheduledItem, 0, len(sequence))
	changed := false
	for i, s := range sequence {
		item, ok := byID[s.ID]
		if !ok {
			return fmt.Errorf("%w: unknown or duplicate item %s", ErrInvalidSequence, s.ID)
		}
		delete(byID, s.ID)
		if item.Order != i {
			changed = true
		}
		next = append(next, item)
	}

	if !changed {
		return nil
	}
	return m.commitLocked(ctx, next)
}

// Unschedule removes an entry. Removing an unknown id is a no-op.
func (m *Manager) Unschedule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(id)
	if idx < 0 {
		return nil
	}

	next := make([]models.ScheduledItem, 0, len(m.items)-1)
	next = append(next, m.items[:idx]...)
	next = append(next, m.items[idx+1:]...)

	if err := m.commitLocked(ctx, next); err != nil {
		return err
	}
	m.logger.Info().Str("scheduled_id", id).Msg("item unscheduled")
	return nil
}

// UpdateTiming applies a partial timing update. Negative values are clamped to 0.
func (m *Manager) UpdateTiming(ctx context.Context, id string, update TimingUpdate) (models.ScheduledItem, error) {
	if update.Transition != nil && !update.Transition.Valid() {
		return models.ScheduledItem{}, fmt.Errorf("%w: %q", ErrInvalidTransition, *update.Transition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(id)
	if idx < 0 {
		return models.ScheduledItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	item := m.items[idx]
	orig := item
	if update.Duration != nil {
		item.Duration = m.clamp("duration", *update.Duration)
	}
	if update.Delay != nil {
		item.Delay = m.clamp("delay", *update.Delay)
	}
	if update.Transition != nil {
		item.Transition = *update.Transition
	}
	if update.ScheduledFor != nil {
		t := *update.ScheduledFor
		item.ScheduledFor = &t
	}

	if item.Duration == orig.Duration && item.Delay == orig.Delay &&
		item.Transition == orig.Transition && sameTime(item.ScheduledFor, orig.ScheduledFor) {
		return item, nil
	}
	item.UpdatedAt = time.Now()

	next := m.snapshotLocked()
	next[idx] = item
	if err := m.commitLocked(ctx, next); err != nil {
		return models.ScheduledItem{}, err
	}
	return item, nil
}

// Replace swaps the whole schedule, e.g. after an import.
func (m *Manager) Replace(ctx context.Context, items []models.ScheduledItem) error {
	next := append([]models.ScheduledItem(nil), items...)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked(ctx, next)
}

// Items returns a copy of the schedule in order.
func (m *Manager) Items() []models.ScheduledItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Len returns the number of scheduled entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Get returns the entry with id.
func (m *Manager) Get(id string) (models.ScheduledItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return models.ScheduledItem{}, false
	}
	return m.items[idx], true
}

// At returns the entry at order.
func (m *Manager) At(order int) (models.ScheduledItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if order < 0 || order >= len(m.items) {
		return models.ScheduledItem{}, false
	}
	return m.items[order], true
}

// Next returns the entry following id.
func (m *Manager) Next(id string) (models.ScheduledItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.indexLocked(id)
	if idx < 0 || idx+1 >= len(m.items) {
		return models.ScheduledItem{}, false
	}
	return m.items[idx+1], true
}

// Previous returns the entry preceding id.
func (m *Manager) Previous(id string) (models.ScheduledItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.indexLocked(id)
	if idx <= 0 {
		return models.ScheduledItem{}, false
	}
	return m.items[idx-1], true
}

// commitLocked renumbers next, persists it and only then makes it current.
func (m *Manager) commitLocked(ctx context.Context, next []models.ScheduledItem) error {
	renumber(next)
	if m.store != nil {
		if err := m.store.Save(ctx, next); err != nil {
			return fmt.Errorf("persist schedule: %w", err)
		}
	}
	m.items = next
	m.publish(m.snapshotLocked())
	return nil
}

func (m *Manager) publish(items []models.ScheduledItem) {
	m.bus.Publish(events.EventScheduleChanged, events.Payload{
		"items": items,
		"count": len(items),
	})
}

func (m *Manager) snapshotLocked() []models.ScheduledItem {
	return append([]models.ScheduledItem{}, m.items...)
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.items {
		if m.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) clamp(field string, v float64) float64 {
	if v < 0 {
		m.logger.Warn().Str("field", field).Float64("value", v).Msg("invalid timing clamped to 0")
		return 0
	}
	return v
}

func renumber(items []models.ScheduledItem) {
	for i := range items {
		items[i].Order = i
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
