package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sanctuary/internal/clock"
	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/output"
	"github.com/friendsincode/sanctuary/internal/playback"
)

// surfaceTransport applies every envelope to a surface synchronously.
type surfaceTransport struct {
	surface *output.Surface
	applied []output.Envelope
}

func (t *surfaceTransport) Deliver(_ context.Context, env output.Envelope) error {
	t.applied = append(t.applied, env)
	t.surface.Apply(env)
	return nil
}
func (t *surfaceTransport) Close() error { return nil }
func (t *surfaceTransport) Name() string { return "surface" }

type fixture struct {
	ctrl   *Controller
	router *output.Router
	clock  *clock.Manual
	bus    *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 5, 3, 9, 30, 0, 0, time.UTC))
	bus := events.NewBus()
	router := output.NewRouter(output.Config{DeliveryTimeout: time.Second}, clk, bus, zerolog.Nop())
	player := playback.New(clk, bus, zerolog.Nop())
	return &fixture{
		ctrl:   NewController(router, player, bus, zerolog.Nop()),
		router: router,
		clock:  clk,
		bus:    bus,
	}
}

func (f *fixture) addTarget(t *testing.T, id string) *surfaceTransport {
	t.Helper()
	tr := &surfaceTransport{surface: output.NewSurface()}
	if _, err := f.router.RegisterTarget(context.Background(), models.DisplayTarget{ID: id}, tr); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return tr
}

func announcement(id string) *models.ContentItem {
	return &models.ContentItem{ID: id, Type: models.ContentAnnouncement, Title: id, Content: "text " + id}
}

func video(id string, duration float64) *models.ContentItem {
	return &models.ContentItem{ID: id, Type: models.ContentVideo, Title: id, URL: "https://example.com/" + id + ".mp4", DurationSeconds: duration}
}

func TestSelectNeverReachesOutputs(t *testing.T) {
	f := newFixture(t)
	tr := f.addTarget(t, "projector")
	sent := len(tr.applied)

	state, err := f.ctrl.Select(context.Background(), announcement("a"))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if state.Phase != models.LivePhasePreviewing || state.Live != nil {
		t.Fatalf("unexpected state %+v", state)
	}
	if len(tr.applied) != sent {
		t.Fatal("selection was sent to an output")
	}

	if _, err := f.ctrl.Select(context.Background(), nil); !errors.Is(err, ErrNoItem) {
		t.Fatalf("expected ErrNoItem, got %v", err)
	}
}

func TestGoLiveIsTotalReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addTarget(t, "preview")
	b := f.addTarget(t, "projector")

	f.ctrl.GoLive(ctx, announcement("A"))
	state, _ := f.ctrl.GoLive(ctx, announcement("B"))

	if state.Live == nil || state.Live.ID != "B" || state.Phase != models.LivePhaseLive {
		t.Fatalf("unexpected state %+v", state)
	}
	for name, tr := range map[string]*surfaceTransport{"preview": a, "projector": b} {
		if live := tr.surface.State().Live; live == nil || live.ID != "B" {
			t.Fatalf("%s shows %+v, want B", name, live)
		}
	}
	if state.Sequence != f.router.Sequence() {
		t.Fatalf("state sequence %d, router at %d", state.Sequence, f.router.Sequence())
	}
}

func TestSelectDuringLiveKeepsLiveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.GoLive(ctx, announcement("A"))
	state, _ := f.ctrl.Select(ctx, announcement("B"))
	if state.Live == nil || state.Live.ID != "A" || state.Selected.ID != "B" {
		t.Fatalf("unexpected state %+v", state)
	}

	state = f.ctrl.ClearSelection(ctx)
	if state.Phase != models.LivePhaseLive || state.Selected != nil {
		t.Fatalf("unexpected state after clearing selection %+v", state)
	}
}

func TestVideoPlaybackScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.addTarget(t, "projector")

	f.ctrl.GoLive(ctx, video("v", 300))
	pb, ok := f.ctrl.Playback()
	if !ok {
		t.Fatal("expected playback state for video")
	}
	if pb.IsPlaying || pb.CurrentTime != 0 {
		t.Fatalf("fresh playback should be stopped at 0: %+v", pb)
	}
	if got := tr.surface.State().Playback; got == nil || got.ContentID != "v" {
		t.Fatalf("target did not receive playback with SET_LIVE: %+v", got)
	}

	pb, err := f.ctrl.Play(ctx)
	if err != nil || !pb.IsPlaying {
		t.Fatalf("play: %+v %v", pb, err)
	}
	pb, err = f.ctrl.Seek(ctx, 30)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if !pb.IsPlaying || pb.CurrentTime != 30 {
		t.Fatalf("expected playing at 30, got %+v", pb)
	}
	if got := tr.surface.State().Playback; got == nil || got.CurrentTime != 30 {
		t.Fatalf("target playback not updated: %+v", got)
	}
}

func TestGoLiveReplacesPlaybackState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.GoLive(ctx, video("v1", 100))
	f.ctrl.Play(ctx)
	f.ctrl.SetVolume(ctx, 0.3)
	f.clock.Advance(20 * time.Second)

	f.ctrl.GoLive(ctx, video("v2", 50))
	pb, _ := f.ctrl.Playback()
	if pb.ContentID != "v2" || pb.IsPlaying || pb.CurrentTime != 0 || pb.Volume != playback.DefaultVolume {
		t.Fatalf("expected fresh playback for v2, got %+v", pb)
	}

	f.ctrl.GoLive(ctx, announcement("text"))
	if _, ok := f.ctrl.Playback(); ok {
		t.Fatal("non-media item must have no playback state")
	}
	if _, err := f.ctrl.Play(ctx); !errors.Is(err, playback.ErrNoMedia) {
		t.Fatalf("expected ErrNoMedia, got %v", err)
	}
}

func TestBlackoutTransparency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.addTarget(t, "projector")

	f.ctrl.GoLive(ctx, video("v", 600))
	f.ctrl.Play(ctx)
	f.clock.Advance(42 * time.Second)
	f.ctrl.Pause(ctx)

	before := f.ctrl.State()
	pbBefore, _ := f.ctrl.Playback()

	state := f.ctrl.ToggleBlackout(ctx)
	if !state.Blackout || tr.surface.State().Visible() != nil {
		t.Fatal("blackout should hide the live item on targets")
	}
	if state.Live == nil || state.Live.ID != "v" {
		t.Fatal("blackout must not discard the live item")
	}

	state = f.ctrl.ToggleBlackout(ctx)
	pbAfter, _ := f.ctrl.Playback()
	if state.Blackout || state.Live.ID != before.Live.ID {
		t.Fatalf("unexpected state after blackout off %+v", state)
	}
	if pbAfter.CurrentTime != pbBefore.CurrentTime || pbAfter.CurrentTime != 42 {
		t.Fatalf("blackout changed position: %v -> %v", pbBefore.CurrentTime, pbAfter.CurrentTime)
	}
	if v := tr.surface.State().Visible(); v == nil || v.ID != "v" {
		t.Fatalf("target did not resume the live item: %+v", v)
	}
}

func TestClearLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.addTarget(t, "projector")
	changes := f.bus.Subscribe(events.EventLiveChanged)

	f.ctrl.GoLive(ctx, video("v", 10))
	state := f.ctrl.ClearLive(ctx)
	if state.Live != nil || state.Phase != models.LivePhaseIdle {
		t.Fatalf("unexpected state %+v", state)
	}
	if tr.surface.State().Live != nil {
		t.Fatal("target still shows the cleared item")
	}
	if _, ok := f.ctrl.Playback(); ok {
		t.Fatal("playback state survived clear")
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 live.changed events, got %d", len(changes))
	}

	f.ctrl.Select(ctx, announcement("next"))
	f.ctrl.GoLive(ctx, announcement("now"))
	if state := f.ctrl.ClearLive(ctx); state.Phase != models.LivePhasePreviewing {
		t.Fatalf("expected previewing after clear with selection, got %s", state.Phase)
	}
}

func TestSetVolumeZeroScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctrl.GoLive(ctx, video("v", 60))

	pb, err := f.ctrl.SetVolume(ctx, 0)
	if err != nil {
		t.Fatalf("set volume: %v", err)
	}
	if pb.EffectiveVolume() != 0 || pb.Muted {
		t.Fatalf("expected silent but unmuted, got %+v", pb)
	}
	pb, _ = f.ctrl.ToggleMute(ctx)
	if !pb.Muted {
		t.Fatal("explicit toggleMute should set muted")
	}
}

func TestPublishPlaybackIgnoresStaleItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctrl.GoLive(ctx, video("v1", 60))
	stale, _ := f.ctrl.Playback()
	f.ctrl.GoLive(ctx, video("v2", 60))

	if f.ctrl.PublishPlayback(ctx, stale) {
		t.Fatal("stale playback state was broadcast")
	}
	current, _ := f.ctrl.Playback()
	if !f.ctrl.PublishPlayback(ctx, current) {
		t.Fatal("current playback state was not broadcast")
	}
}

func TestPublishPlaybackDoesNotUndoLaterPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.addTarget(t, "projector")

	f.ctrl.GoLive(ctx, video("v1", 120))
	if _, err := f.ctrl.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	f.clock.Advance(10 * time.Second)
	sampled, _ := f.ctrl.Playback()
	if !sampled.IsPlaying {
		t.Fatal("sample should be playing")
	}

	if _, err := f.ctrl.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	f.ctrl.PublishPlayback(ctx, sampled)

	state, _ := f.ctrl.Playback()
	pb := tr.surface.State().Playback
	if pb == nil || pb.IsPlaying != state.IsPlaying || pb.IsPlaying {
		t.Fatalf("surface playback=%+v, controller IsPlaying=%v", pb, state.IsPlaying)
	}
	if pb.CurrentTime != 10 {
		t.Fatalf("surface currentTime=%v, want 10", pb.CurrentTime)
	}
}

func TestPublishPlaybackIgnoresPreviousLoadOfSameItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.addTarget(t, "projector")

	f.ctrl.GoLive(ctx, video("v1", 120))
	f.ctrl.Play(ctx)
	f.clock.Advance(30 * time.Second)
	old, _ := f.ctrl.Playback()

	f.ctrl.GoLive(ctx, video("v1", 120))
	f.ctrl.PublishPlayback(ctx, old)

	pb := tr.surface.State().Playback
	if pb == nil || pb.IsPlaying || pb.CurrentTime != 0 {
		t.Fatalf("fresh load overwritten by old sample: %+v", pb)
	}
}
