/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"sync"

	"github.com/friendsincode/sanctuary/internal/models"
)

// SurfaceState is what a display surface currently renders.
type SurfaceState struct {
	Live       *models.ContentItem
	Transition models.Transition
	Blackout   bool
	Fullscreen bool
	Playback   *models.PlaybackState
	Appearance models.OutputAppearance
	Seq        uint64
}

// Visible returns the item the surface shows, nil when blacked out or idle.
func (s SurfaceState) Visible() *models.ContentItem {
	if s.Blackout {
		return nil
	}
	return s.Live
}

// Surface is the receiving side of a transport. It applies envelopes in
// sequence order and ignores duplicates and stale messages.
type Surface struct {
	mu    sync.Mutex
	state SurfaceState
}

// NewSurface creates an idle surface.
func NewSurface() *Surface {
	return &Surface{}
}

// Apply applies env and reports whether it changed the surface. Envelopes
// with a sequence number at or below the last applied one are dropped.
func (s *Surface) Apply(env Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if env.Seq <= s.state.Seq {
		return false
	}
	s.state.Seq = env.Seq

	switch env.Type {
	case MsgSetLive:
		s.state.Live = env.Live.Clone()
		s.state.Transition = env.Transition
		s.state.Playback = clonePlayback(env.Playback)
	case MsgSetBlackout:
		if env.Blackout != nil {
			s.state.Blackout = *env.Blackout
		}
	case MsgPlaybackUpdate:
		if env.Playback == nil || s.state.Live == nil || env.Playback.ContentID == s.state.Live.ID {
			s.state.Playback = clonePlayback(env.Playback)
		}
	case MsgSetFullscreen:
		if env.Fullscreen != nil {
			s.state.Fullscreen = *env.Fullscreen
		}
	case MsgSetAppearance:
		if env.Appearance != nil {
			s.state.Appearance = *env.Appearance
		}
	}
	return true
}

// State returns a copy of the rendered state.
func (s *Surface) State() SurfaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Live = st.Live.Clone()
	st.Playback = clonePlayback(st.Playback)
	return st
}

// Seq returns the last applied sequence number.
func (s *Surface) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Seq
}

func clonePlayback(p *models.PlaybackState) *models.PlaybackState {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
