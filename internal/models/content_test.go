package models

import (
	"errors"
	"testing"
)

func TestContentItemValidate(t *testing.T) {
	tests := []struct {
		name    string
		item    ContentItem
		wantErr bool
	}{
		{"song", ContentItem{Type: ContentSong, Title: "Amazing Grace", Lyrics: "Amazing grace", Author: "Newton"}, false},
		{"video with url", ContentItem{Type: ContentVideo, Title: "Intro", URL: "https://cdn.example/intro.mp4", DurationSeconds: 42}, false},
		{"image without url", ContentItem{Type: ContentImage, Title: "Logo"}, true},
		{"unknown type", ContentItem{Type: "slideshow", Title: "x"}, true},
		{"missing title", ContentItem{Type: ContentAnnouncement}, true},
		{"song fields on announcement", ContentItem{Type: ContentAnnouncement, Title: "Notice", Author: "Someone"}, true},
		{"url on bible", ContentItem{Type: ContentBible, Title: "John 3:16", URL: "https://example"}, true},
		{"negative duration", ContentItem{Type: ContentVideo, Title: "x", URL: "u", DurationSeconds: -1}, true},
		{"blank", ContentItem{Type: ContentBlank, Title: "Blank"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidContent) {
					t.Fatalf("expected ErrInvalidContent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDisplayContent(t *testing.T) {
	song := &ContentItem{Type: ContentSong, Title: "s", Content: "summary", Lyrics: "verse one"}
	if got := song.DisplayContent(); got != "verse one" {
		t.Errorf("song display content = %q", got)
	}
	video := &ContentItem{Type: ContentVideo, Title: "v", URL: "https://cdn/v.mp4"}
	if got := video.DisplayContent(); got != "https://cdn/v.mp4" {
		t.Errorf("video display content = %q", got)
	}
	note := &ContentItem{Type: ContentAnnouncement, Title: "a", Content: "Welcome"}
	if got := note.DisplayContent(); got != "Welcome" {
		t.Errorf("announcement display content = %q", got)
	}
}

func TestEffectiveVolume(t *testing.T) {
	p := PlaybackState{Volume: 0.6}
	if p.EffectiveVolume() != 0.6 {
		t.Fatalf("expected 0.6, got %v", p.EffectiveVolume())
	}
	p.Muted = true
	if p.EffectiveVolume() != 0 {
		t.Fatalf("muted state should be silent")
	}
	if p.Volume != 0.6 {
		t.Fatalf("mute must not change stored volume")
	}
}
