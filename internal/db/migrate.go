/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/sanctuary/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.ContentItem{},
		&models.ScheduledItem{},
	); err != nil {
		return err
	}

	if err := compactSchedulePositions(database); err != nil {
		return err
	}

	return nil
}

// compactSchedulePositions renumbers stored schedule rows to 0..n-1. Rows
// edited outside the application can leave gaps the schedule manager would
// otherwise inherit.
func compactSchedulePositions(database *gorm.DB) error {
	return database.Transaction(func(tx *gorm.DB) error {
		var items []models.ScheduledItem
		if err := tx.Order("position ASC, created_at ASC").Find(&items).Error; err != nil {
			return fmt.Errorf("load schedule positions: %w", err)
		}
		for i, item := range items {
			if item.Order == i {
				continue
			}
			if err := tx.Model(&models.ScheduledItem{}).
				Where("id = ?", item.ID).
				Update("position", i).Error; err != nil {
				return fmt.Errorf("compact schedule position %s: %w", item.ID, err)
			}
		}
		return nil
	})
}
