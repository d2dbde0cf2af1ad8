/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// LivePhase is the selection/live state of a presentation session.
type LivePhase string

const (
	LivePhaseIdle       LivePhase = "idle"
	LivePhasePreviewing LivePhase = "previewing"
	LivePhaseLive       LivePhase = "live"
)

// LiveState is a snapshot of what is previewed and what is on air.
type LiveState struct {
	Phase    LivePhase    `json:"phase"`
	Selected *ContentItem `json:"selected,omitempty"`
	Live     *ContentItem `json:"live,omitempty"`
	Blackout bool         `json:"blackout"`
	// CueID is the scheduled item the live item was taken from, if any.
	CueID      string     `json:"cue_id,omitempty"`
	Transition Transition `json:"transition,omitempty"`
	Sequence   uint64     `json:"sequence"`
}

// PlaybackStatus is the transport state of the live media item.
type PlaybackStatus string

const (
	PlaybackStopped PlaybackStatus = "stopped"
	PlaybackPlaying PlaybackStatus = "playing"
	PlaybackPaused  PlaybackStatus = "paused"
)

// PlaybackState is the transport state for a media-bearing live item.
type PlaybackState struct {
	ContentID   string         `json:"content_id"`
	Status      PlaybackStatus `json:"status"`
	IsPlaying   bool           `json:"is_playing"`
	CurrentTime float64        `json:"current_time"` // seconds
	Duration    float64        `json:"duration"`     // seconds, 0 when unknown
	Volume      float64        `json:"volume"`       // 0.0 to 1.0
	Muted       bool           `json:"muted"`
}

// EffectiveVolume is the audible output level. Muting does not change Volume.
func (p PlaybackState) EffectiveVolume() float64 {
	if p.Muted {
		return 0
	}
	return p.Volume
}

// TargetKind describes the role of a rendering surface.
type TargetKind string

const (
	TargetPreview TargetKind = "preview"
	TargetOutput  TargetKind = "output"
	TargetControl TargetKind = "control"
)

// Valid reports whether k is a known target kind.
func (k TargetKind) Valid() bool {
	switch k {
	case TargetPreview, TargetOutput, TargetControl:
		return true
	}
	return false
}

// DisplayTarget is one rendering surface fed by the output router.
type DisplayTarget struct {
	ID           string     `json:"id"`
	Label        string     `json:"label"`
	Kind         TargetKind `json:"kind"`
	Active       bool       `json:"active"`
	Resolution   string     `json:"resolution,omitempty"` // advisory, e.g. 1920x1080
	Fullscreen   bool       `json:"fullscreen"`
	Blackout     bool       `json:"blackout"` // per-target, combined with the global flag
	Transport    string     `json:"transport"`
	LastSequence uint64     `json:"last_sequence"`
	RegisteredAt time.Time  `json:"registered_at"`
	LostAt       *time.Time `json:"lost_at,omitempty"`
	LostReason   string     `json:"lost_reason,omitempty"`
}

// OutputAppearance is the backdrop every target renders behind content.
type OutputAppearance struct {
	BackgroundColor string `json:"background_color,omitempty"`
	BackgroundImage string `json:"background_image,omitempty"`
}

// IsZero reports whether no appearance has been configured.
func (a OutputAppearance) IsZero() bool {
	return a.BackgroundColor == "" && a.BackgroundImage == ""
}
