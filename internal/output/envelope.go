/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package output routes the live state to every registered display target.
package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/friendsincode/sanctuary/internal/models"
)

// MessageType identifies an output message.
type MessageType string

const (
	MsgSetLive        MessageType = "SET_LIVE"
	MsgSetBlackout    MessageType = "SET_BLACKOUT"
	MsgPlaybackUpdate MessageType = "PLAYBACK_UPDATE"
	MsgSetFullscreen  MessageType = "SET_FULLSCREEN"
	MsgSetAppearance  MessageType = "SET_APPEARANCE"
)

// Envelope is one message delivered to a display target. Seq is assigned by
// the router and increases monotonically across all targets.
type Envelope struct {
	Seq        uint64                   `json:"seq"`
	Type       MessageType              `json:"type"`
	TargetID   string                   `json:"target_id"`
	Live       *models.ContentItem      `json:"live,omitempty"` // nil on SET_LIVE clears the target
	Transition models.Transition        `json:"transition,omitempty"`
	Blackout   *bool                    `json:"blackout,omitempty"`
	Fullscreen *bool                    `json:"fullscreen,omitempty"`
	Playback   *models.PlaybackState    `json:"playback,omitempty"`
	Appearance *models.OutputAppearance `json:"appearance,omitempty"`
	SentAt     time.Time                `json:"sent_at"`
}

// Encode returns the JSON wire form of the envelope.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses the JSON wire form.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func boolPtr(v bool) *bool { return &v }
