/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package content is the library of presentable items.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/models"
)

var (
	// ErrNotFound indicates the content item does not exist.
	ErrNotFound = errors.New("content item not found")

	// ErrTypeImmutable indicates an update tried to change the item type.
	ErrTypeImmutable = errors.New("content type cannot change after creation")
)

// Repository resolves content items by id.
type Repository interface {
	GetByID(ctx context.Context, id string) (*models.ContentItem, error)
}

// Invalidator drops any cached copy of a content item.
type Invalidator interface {
	Invalidate(ctx context.Context, id string)
}

// Filter narrows List results.
type Filter struct {
	Type  models.ContentType
	Limit int
}

// Store persists content items with gorm.
type Store struct {
	db          *gorm.DB
	bus         events.Publisher
	invalidator Invalidator
	logger      zerolog.Logger
}

// NewStore creates a content store.
func NewStore(db *gorm.DB, bus events.Publisher, logger zerolog.Logger) *Store {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Store{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "content").Logger(),
	}
}

// SetInvalidator registers the cache to clear on every update and delete.
// It runs before the write returns, so a read that follows the write never
// sees the old item.
func (s *Store) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

func (s *Store) invalidate(ctx context.Context, id string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(context.WithoutCancel(ctx), id)
	}
}

// GetByID loads a single item.
func (s *Store) GetByID(ctx context.Context, id string) (*models.ContentItem, error) {
	var item models.ContentItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("query content item: %w", err)
	}
	return &item, nil
}

// Create validates and inserts a new item, assigning an id when missing.
func (s *Store) Create(ctx context.Context, item *models.ContentItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("create content item: %w", err)
	}

	s.logger.Info().
		Str("content_id", item.ID).
		Str("type", string(item.Type)).
		Str("title", item.Title).
		Msg("content item created")

	return nil
}

// Update replaces the mutable fields of an existing item.
func (s *Store) Update(ctx context.Context, item *models.ContentItem) error {
	existing, err := s.GetByID(ctx, item.ID)
	if err != nil {
		return err
	}
	if item.Type == "" {
		item.Type = existing.Type
	}
	if item.Type != existing.Type {
		return fmt.Errorf("%w: %s -> %s", ErrTypeImmutable, existing.Type, item.Type)
	}
	if err := item.Validate(); err != nil {
		return err
	}

	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(item).Error; err != nil {
		return fmt.Errorf("update content item: %w", err)
	}

	s.invalidate(ctx, item.ID)
	s.bus.Publish(events.EventContentUpdated, events.Payload{"content_id": item.ID})
	return nil
}

// Delete removes an item. Deleting a missing item is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.ContentItem{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete content item: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.invalidate(ctx, id)
		s.bus.Publish(events.EventContentDeleted, events.Payload{"content_id": id})
		s.logger.Info().Str("content_id", id).Msg("content item deleted")
	}
	return nil
}

// List returns items ordered by title.
func (s *Store) List(ctx context.Context, filter Filter) ([]models.ContentItem, error) {
	query := s.db.WithContext(ctx).Order("title ASC")
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var items []models.ContentItem
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	return items, nil
}

// Search matches the query against title and content, case-insensitively.
func (s *Store) Search(ctx context.Context, q string, limit int) ([]models.ContentItem, error) {
	q = strings.TrimSpace(strings.ToLower(q))
	if q == "" {
		return []models.ContentItem{}, nil
	}
	pattern := "%" + q + "%"

	query := s.db.WithContext(ctx).
		Where("LOWER(title) LIKE ? OR LOWER(content) LIKE ? OR LOWER(lyrics) LIKE ?", pattern, pattern, pattern).
		Order("title ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var items []models.ContentItem
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("search content items: %w", err)
	}
	return items, nil
}
