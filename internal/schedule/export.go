/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/sanctuary/internal/models"
)

// ExportVersion is the current schedule document version.
const ExportVersion = 1

// ErrInvalidDocument indicates an import document that cannot be applied.
var ErrInvalidDocument = errors.New("invalid schedule document")

// Document is the YAML form of a schedule.
type Document struct {
	Version    int             `yaml:"version"`
	ExportedAt time.Time       `yaml:"exported_at"`
	Items      []DocumentEntry `yaml:"items"`
}

// DocumentEntry is one scheduled item in a Document.
type DocumentEntry struct {
	ContentID    string     `yaml:"content_id"`
	Title        string     `yaml:"title,omitempty"`
	Duration     float64    `yaml:"duration,omitempty"`
	Delay        float64    `yaml:"delay,omitempty"`
	Transition   string     `yaml:"transition,omitempty"`
	ScheduledFor *time.Time `yaml:"scheduled_for,omitempty"`
}

// Export writes the current schedule as YAML.
func (m *Manager) Export(ctx context.Context, w io.Writer) error {
	items := m.Items()
	doc := Document{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Items:      make([]DocumentEntry, 0, len(items)),
	}

	for _, item := range items {
		entry := DocumentEntry{
			ContentID:    item.ContentID,
			Duration:     item.Duration,
			Delay:        item.Delay,
			Transition:   string(item.Transition),
			ScheduledFor: item.ScheduledFor,
		}
		if c, err := m.repo.GetByID(ctx, item.ContentID); err == nil {
			entry.Title = c.Title
		}
		doc.Items = append(doc.Items, entry)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	return enc.Close()
}

// Import replaces the schedule with the document read from r. Every entry
// must resolve in the content repository or nothing is changed.
func (m *Manager) Import(ctx context.Context, r io.Reader) ([]models.ScheduledItem, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Version != ExportVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidDocument, doc.Version)
	}

	now := time.Now()
	items := make([]models.ScheduledItem, 0, len(doc.Items))
	for i, entry := range doc.Items {
		if _, err := m.repo.GetByID(ctx, entry.ContentID); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		transition := models.Transition(entry.Transition)
		if !transition.Valid() {
			return nil, fmt.Errorf("%w: entry %d: transition %q", ErrInvalidDocument, i, entry.Transition)
		}
		items = append(items, models.ScheduledItem{
			ID:           uuid.NewString(),
			ContentID:    entry.ContentID,
			Duration:     m.clamp("duration", entry.Duration),
			Delay:        m.clamp("delay", entry.Delay),
			Transition:   transition,
			ScheduledFor: entry.ScheduledFor,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := m.Replace(ctx, items); err != nil {
		return nil, err
	}
	m.logger.Info().Int("items", len(items)).Msg("schedule imported")
	return m.Items(), nil
}
