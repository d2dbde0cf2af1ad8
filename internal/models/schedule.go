/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Transition is the visual transition used when an item goes live.
type Transition string

const (
	TransitionNone  Transition = ""
	TransitionFade  Transition = "fade"
	TransitionSlide Transition = "slide"
	TransitionZoom  Transition = "zoom"
)

// Valid reports whether t is a known transition kind.
func (t Transition) Valid() bool {
	switch t {
	case TransitionNone, TransitionFade, TransitionSlide, TransitionZoom:
		return true
	}
	return false
}

// ScheduledItem places one ContentItem into the ordered schedule.
type ScheduledItem struct {
	ID           string     `gorm:"type:uuid;primaryKey" json:"id"`
	ContentID    string     `gorm:"type:uuid;index;not null" json:"content_id"`
	Order        int        `gorm:"column:position;not null" json:"order"`
	Duration     float64    `json:"duration"` // seconds live before auto-advance, 0 = manual
	Delay        float64    `json:"delay"`    // seconds before playback starts
	Transition   Transition `gorm:"type:varchar(16)" json:"transition,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName overrides GORM table name.
func (ScheduledItem) TableName() string {
	return "scheduled_items"
}

// AutoAdvance reports whether the item signals an advance after Duration.
func (s ScheduledItem) AutoAdvance() bool {
	return s.Duration > 0
}
