/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/sanctuary/internal/models"
)

// Store persists the schedule with gorm.
type Store struct {
	db *gorm.DB
}

// NewStore creates a schedule store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Load returns the persisted schedule ordered by position.
func (s *Store) Load(ctx context.Context) ([]models.ScheduledItem, error) {
	var items []models.ScheduledItem
	if err := s.db.WithContext(ctx).Order("position ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("query scheduled items: %w", err)
	}
	return items, nil
}

// Save rewrites the schedule table in a single transaction.
func (s *Store) Save(ctx context.Context, items []models.ScheduledItem) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.ScheduledItem{}).Error; err != nil {
			return fmt.Errorf("clear scheduled items: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		rows := append([]models.ScheduledItem(nil), items...)
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert scheduled items: %w", err)
		}
		return nil
	})
}
