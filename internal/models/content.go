/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidContent indicates a content item violates its type invariants.
var ErrInvalidContent = errors.New("invalid content item")

// ContentType tags the variant of a ContentItem.
type ContentType string

const (
	ContentSong         ContentType = "song"
	ContentImage        ContentType = "image"
	ContentVideo        ContentType = "video"
	ContentAnnouncement ContentType = "announcement"
	ContentBlank        ContentType = "blank"
	ContentPrayer       ContentType = "prayer"
	ContentBible        ContentType = "bible"
)

// ContentTypes lists every supported content type.
var ContentTypes = []ContentType{
	ContentSong,
	ContentImage,
	ContentVideo,
	ContentAnnouncement,
	ContentBlank,
	ContentPrayer,
	ContentBible,
}

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	for _, known := range ContentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ContentItem is a piece of presentable material held by the library.
// Song and media fields are only populated for their own variants.
type ContentItem struct {
	ID      string      `gorm:"type:uuid;primaryKey" json:"id"`
	Type    ContentType `gorm:"type:varchar(32);index;not null" json:"type"`
	Title   string      `gorm:"type:varchar(255);not null" json:"title"`
	Content string      `gorm:"type:text" json:"content"`

	// Song
	Lyrics     string `gorm:"type:text" json:"lyrics,omitempty"`
	Author     string `gorm:"type:varchar(255)" json:"author,omitempty"`
	CCLINumber string `gorm:"column:ccli_number;type:varchar(64)" json:"ccli_number,omitempty"`

	// Media (image, video)
	URL             string  `gorm:"type:text" json:"url,omitempty"`
	Thumbnail       string  `gorm:"type:text" json:"thumbnail,omitempty"`
	DurationSeconds float64 `json:"duration,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides GORM table name.
func (ContentItem) TableName() string {
	return "content_items"
}

// IsMedia reports whether the item is an image or a video.
func (c *ContentItem) IsMedia() bool {
	return c.Type == ContentImage || c.Type == ContentVideo
}

// IsVideo reports whether the item carries time-based media.
func (c *ContentItem) IsVideo() bool {
	return c.Type == ContentVideo
}

// IsTimed reports whether the item has a playback transport.
func (c *ContentItem) IsTimed() bool {
	return c.IsVideo()
}

// Validate checks the variant invariants of the item.
func (c *ContentItem) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidContent, c.Type)
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidContent)
	}
	if c.IsMedia() && strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("%w: %s item requires a url", ErrInvalidContent, c.Type)
	}
	if !c.IsMedia() && (c.URL != "" || c.Thumbnail != "" || c.DurationSeconds != 0) {
		return fmt.Errorf("%w: media fields set on %s item", ErrInvalidContent, c.Type)
	}
	if c.Type != ContentSong && (c.Lyrics != "" || c.Author != "" || c.CCLINumber != "") {
		return fmt.Errorf("%w: song fields set on %s item", ErrInvalidContent, c.Type)
	}
	if c.DurationSeconds < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidContent)
	}
	return nil
}

// DisplayContent returns the body an output renders for the item.
func (c *ContentItem) DisplayContent() string {
	switch {
	case c.Type == ContentSong && c.Lyrics != "":
		return c.Lyrics
	case c.IsMedia():
		return c.URL
	default:
		return c.Content
	}
}

// Clone returns a copy of the item, or nil.
func (c *ContentItem) Clone() *ContentItem {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
