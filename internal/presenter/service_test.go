package presenter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sanctuary/internal/clock"
	"github.com/friendsincode/sanctuary/internal/content"
	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/output"
	"github.com/friendsincode/sanctuary/internal/schedule"
)

type mapRepo map[string]*models.ContentItem

func (r mapRepo) GetByID(_ context.Context, id string) (*models.ContentItem, error) {
	item, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", content.ErrNotFound, id)
	}
	return item.Clone(), nil
}

type session struct {
	svc   *Service
	clock *clock.Manual
	bus   *events.Bus
	out   *output.ChannelTransport
}

func newSession(t *testing.T, cfg Config) *session {
	t.Helper()
	repo := mapRepo{
		"intro":  {ID: "intro", Type: models.ContentAnnouncement, Title: "Welcome", Content: "Good morning"},
		"hymn":   {ID: "hymn", Type: models.ContentSong, Title: "Hymn", Lyrics: "verse one"},
		"clip":   {ID: "clip", Type: models.ContentVideo, Title: "Clip", URL: "https://example.com/clip.mp4", DurationSeconds: 120},
		"closer": {ID: "closer", Type: models.ContentBlank, Title: "End"},
	}
	clk := clock.NewManual(time.Date(2026, 6, 7, 10, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	sched := schedule.NewManager(repo, nil, bus, zerolog.Nop())
	router := output.NewRouter(output.Config{}, clk, bus, zerolog.Nop())

	svc := New(cfg, repo, sched, router, clk, bus, zerolog.Nop())
	t.Cleanup(svc.Close)

	out := output.NewChannelTransport(256)
	if _, err := svc.RegisterTarget(context.Background(), models.DisplayTarget{ID: "projector"}, out); err != nil {
		t.Fatalf("register target: %v", err)
	}
	return &session{svc: svc, clock: clk, bus: bus, out: out}
}

func (s *session) schedule(t *testing.T, contentID string, opts schedule.ScheduleOptions) models.ScheduledItem {
	t.Helper()
	entry, err := s.svc.ScheduleContent(context.Background(), contentID, opts)
	if err != nil {
		t.Fatalf("schedule %s: %v", contentID, err)
	}
	return entry
}

func liveID(state models.LiveState) string {
	if state.Live == nil {
		return ""
	}
	return state.Live.ID
}

func waitEvent(t *testing.T, sub events.Subscriber, within time.Duration) events.Payload {
	t.Helper()
	select {
	case payload := <-sub:
		return payload
	case <-time.After(within):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestGoLiveScheduledDelaysPlayback(t *testing.T) {
	s := newSession(t, Config{})
	ctx := context.Background()
	entry := s.schedule(t, "clip", schedule.ScheduleOptions{Delay: 3})

	state, err := s.svc.GoLiveScheduled(ctx, entry.ID)
	if err != nil {
		t.Fatalf("go live: %v", err)
	}
	if liveID(state) != "clip" || state.CueID != entry.ID {
		t.Fatalf("unexpected state %+v", state)
	}

	s.clock.Advance(2 * time.Second)
	if pb, _ := s.svc.PlaybackState(); pb.IsPlaying {
		t.Fatal("media started before the delay elapsed")
	}
	s.clock.Advance(time.Second)
	pb, ok := s.svc.PlaybackState()
	if !ok || !pb.IsPlaying {
		t.Fatalf("media should play after the delay: %+v", pb)
	}
}

func TestGoLiveScheduledWithoutDelayPlaysImmediately(t *testing.T) {
	s := newSession(t, Config{})
	entry := s.schedule(t, "clip", schedule.ScheduleOptions{})

	if _, err := s.svc.GoLiveScheduled(context.Background(), entry.ID); err != nil {
		t.Fatalf("go live: %v", err)
	}
	if pb, _ := s.svc.PlaybackState(); !pb.IsPlaying {
		t.Fatal("media without delay should start at once")
	}
}

// lastSetLive drains the transport and returns the last SET_LIVE seen.
func (s *session) lastSetLive(t *testing.T) output.Envelope {
	t.Helper()
	var last *output.Envelope
	for len(s.out.C()) > 0 {
		env := <-s.out.C()
		if env.Type == output.MsgSetLive {
			last = &env
		}
	}
	if last == nil {
		t.Fatal("no SET_LIVE delivered")
	}
	return *last
}

func TestGoLiveScheduledCarriesTransition(t *testing.T) {
	s := newSession(t, Config{})
	ctx := context.Background()
	entry := s.schedule(t, "hymn", schedule.ScheduleOptions{Transition: models.TransitionFade})

	state, err := s.svc.GoLiveScheduled(ctx, entry.ID)
	if err != nil {
		t.Fatalf("go live: %v", err)
	}
	if state.Transition != models.TransitionFade {
		t.Fatalf("live state transition = %q, want fade", state.Transition)
	}
	env := s.lastSetLive(t)
	if env.Live == nil || env.Live.ID != "hymn" || env.Transition != models.TransitionFade {
		t.Fatalf("unexpected SET_LIVE %+v", env)
	}

	// An unscheduled go-live cuts straight in.
	if _, err := s.svc.GoLive(ctx, &models.ContentItem{ID: "adhoc", Type: models.ContentBlank}); err != nil {
		t.Fatalf("go live: %v", err)
	}
	if env := s.lastSetLive(t); env.Transition != models.TransitionNone {
		t.Fatalf("ad-hoc go-live kept transition %q", env.Transition)
	}

	// A target registered later replays the transition with the live item.
	if _, err := s.svc.GoLiveScheduled(ctx, entry.ID); err != nil {
		t.Fatalf("go live: %v", err)
	}
	late := output.NewChannelTransport(16)
	if _, err := s.svc.RegisterTarget(ctx, models.DisplayTarget{ID: "stream"}, late); err != nil {
		t.Fatalf("register target: %v", err)
	}
	select {
	case env := <-late.C():
		if env.Type != output.MsgSetLive || env.Transition != models.TransitionFade {
			t.Fatalf("unexpected replay %+v", env)
		}
	default:
		t.Fatal("late target received nothing")
	}
}

func TestAdvanceIsOnlySignalled(t *testing.T) {
	s := newSession(t, Config{})
	ctx := context.Background()
	first := s.schedule(t, "intro", schedule.ScheduleOptions{Duration: 10})
	second := s.schedule(t, "hymn", schedule.ScheduleOptions{})
	due := s.bus.Subscribe(events.EventAdvanceDue)

	s.svc.GoLiveScheduled(ctx, first.ID)
	s.clock.Advance(9 * time.Second)
	if len(due) != 0 {
		t.Fatal("advance signalled early")
	}
	s.clock.Advance(time.Second)

	payload := waitEvent(t, due, time.Second)
	if payload["scheduled_id"] != first.ID || payload["next_id"] != second.ID {
		t.Fatalf("unexpected payload %v", payload)
	}
	if got := liveID(s.svc.State()); got != "intro" {
		t.Fatalf("live item changed to %q without an operator action", got)
	}
}

func TestAutoAdvanceGoesLiveWithNext(t *testing.T) {
	s := newSession(t, Config{AutoAdvance: true})
	first := s.schedule(t, "intro", schedule.ScheduleOptions{Duration: 5})
	second := s.schedule(t, "hymn", schedule.ScheduleOptions{Duration: 5})

	s.svc.GoLiveScheduled(context.Background(), first.ID)
	s.clock.Advance(5 * time.Second)
	if state := s.svc.State(); liveID(state) != "hymn" || state.CueID != second.ID {
		t.Fatalf("expected hymn live, got %+v", state)
	}
	s.clock.Advance(5 * time.Second)
	if got := liveID(s.svc.State()); got != "hymn" {
		t.Fatalf("advanced past the end of the schedule to %q", got)
	}
}

func TestTimersCancelled(t *testing.T) {
	cases := []struct {
		name   string
		cancel func(ctx context.Context, svc *Service)
	}{
		{"clear live", func(ctx context.Context, svc *Service) { svc.ClearLive(ctx) }},
		{"blackout on", func(ctx context.Context, svc *Service) { svc.ToggleBlackout(ctx) }},
		{"global blackout", func(ctx context.Context, svc *Service) { svc.SetBlackout(ctx, output.AllTargets, true) }},
		{"go live", func(ctx context.Context, svc *Service) {
			svc.GoLive(ctx, &models.ContentItem{ID: "adhoc", Type: models.ContentAnnouncement, Title: "Notice"})
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession(t, Config{})
			ctx := context.Background()
			entry := s.schedule(t, "clip", schedule.ScheduleOptions{Delay: 2, Duration: 30})
			s.schedule(t, "hymn", schedule.ScheduleOptions{})
			due := s.bus.Subscribe(events.EventAdvanceDue)

			s.svc.GoLiveScheduled(ctx, entry.ID)
			if s.clock.Pending() != 2 {
				t.Fatalf("expected delay and advance timers, got %d", s.clock.Pending())
			}
			tc.cancel(ctx, s.svc)
			if s.clock.Pending() != 0 {
				t.Fatalf("timers still pending: %d", s.clock.Pending())
			}

			s.clock.Advance(time.Minute)
			if len(due) != 0 {
				t.Fatal("advance signalled after cancellation")
			}
			if pb, ok := s.svc.PlaybackState(); ok && pb.IsPlaying {
				t.Fatal("delayed playback started after cancellation")
			}
		})
	}
}

func TestTargetBlackoutKeepsTimers(t *testing.T) {
	s := newSession(t, Config{})
	ctx := context.Background()
	entry := s.schedule(t, "intro", schedule.ScheduleOptions{Duration: 10})

	s.svc.GoLiveScheduled(ctx, entry.ID)
	state, err := s.svc.SetBlackout(ctx, "projector", true)
	if err != nil {
		t.Fatalf("target blackout: %v", err)
	}
	if state.Blackout {
		t.Fatal("per-target blackout changed the global flag")
	}
	if s.clock.Pending() != 1 {
		t.Fatal("per-target blackout cancelled the advance timer")
	}
	if target, _ := s.svc.Target("projector"); !target.Blackout {
		t.Fatal("target blackout not recorded")
	}

	if _, err := s.svc.SetBlackout(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNextAndPrevious(t *testing.T) {
	s := newSession(t, Config{})
	ctx := context.Background()
	if _, err := s.svc.Next(ctx); !errors.Is(err, ErrEndOfSchedule) {
		t.Fatalf("expected ErrEndOfSchedule on empty schedule, got %v", err)
	}

	s.schedule(t, "intro", schedule.ScheduleOptions{})
	s.schedule(t, "hymn", schedule.ScheduleOptions{})
	s.schedule(t, "closer", schedule.ScheduleOptions{})

	want := []string{"intro", "hymn", "closer"}
	for _, id := range want {
		state, err := s.svc.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if liveID(state) != id {
			t.Fatalf("expected %s live, got %s", id, liveID(state))
		}
	}
	if _, err := s.svc.Next(ctx); !errors.Is(err, ErrEndOfSchedule) {
		t.Fatalf("expected ErrEndOfSchedule, got %v", err)
	}
	if got := liveID(s.svc.State()); got != "closer" {
		t.Fatalf("failed next changed live item to %q", got)
	}

	state, err := s.svc.Previous(ctx)
	if err != nil || liveID(state) != "hymn" {
		t.Fatalf("previous: %s %v", liveID(state), err)
	}

	s.svc.GoLiveByID(ctx, "intro")
	state, _ = s.svc.Previous(ctx)
	if liveID(state) != "closer" {
		t.Fatalf("previous without a cue should start at the bottom, got %s", liveID(state))
	}
}

func TestNotFoundErrors(t *testing.T) {
	s := newSession(t, Config{})
	ctx := context.Background()

	_, err := s.svc.GoLiveByID(ctx, "nope")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected wrapped content not found, got %v", err)
	}
	if _, err := s.svc.SelectByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from select, got %v", err)
	}
	if _, err := s.svc.GoLiveScheduled(ctx, "nope"); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("expected schedule not found, got %v", err)
	}
	if _, err := s.svc.ScheduleContent(ctx, "nope", schedule.ScheduleOptions{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from schedule, got %v", err)
	}
	if err := s.svc.Unschedule(ctx, "nope"); err != nil {
		t.Fatalf("unschedule must be idempotent: %v", err)
	}
	if err := s.svc.UnregisterTarget(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for target, got %v", err)
	}
}

func TestSelectionStaysOffOutputs(t *testing.T) {
	s := newSession(t, Config{})
	ctx := context.Background()
	for len(s.out.C()) > 0 {
		<-s.out.C()
	}

	if _, err := s.svc.SelectByID(ctx, "hymn"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if n := len(s.out.C()); n != 0 {
		t.Fatalf("selection produced %d output messages", n)
	}
	if sel := s.svc.SelectedItem(); sel == nil || sel.ID != "hymn" {
		t.Fatalf("unexpected selection %+v", sel)
	}
	if s.svc.LiveItem() != nil {
		t.Fatal("selection went live")
	}
}

func TestRunPublishesPlaybackAndFinished(t *testing.T) {
	s := newSession(t, Config{TickInterval: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.svc.Run(ctx)
		close(done)
	}()

	finished := s.bus.Subscribe(events.EventPlaybackFinished)
	entry := s.schedule(t, "clip", schedule.ScheduleOptions{})
	if _, err := s.svc.GoLiveScheduled(ctx, entry.ID); err != nil {
		t.Fatalf("go live: %v", err)
	}

	// The tick goroutine may start after the first Advance; keep moving the
	// clock until the media runs out.
	var payload events.Payload
	for i := 0; i < 200 && payload == nil; i++ {
		s.clock.Advance(time.Second)
		select {
		case payload = <-finished:
		case <-time.After(10 * time.Millisecond):
		}
	}
	if payload == nil {
		t.Fatal("playback.finished never published")
	}
	if payload["content_id"] != "clip" || payload["scheduled_id"] != entry.ID {
		t.Fatalf("unexpected payload %v", payload)
	}
	if pb, _ := s.svc.PlaybackState(); pb.IsPlaying || pb.Status != models.PlaybackStopped {
		t.Fatalf("expected stopped playback, got %+v", pb)
	}

	var sawUpdate bool
	for len(s.out.C()) > 0 {
		if env := <-s.out.C(); env.Type == output.MsgPlaybackUpdate {
			sawUpdate = true
		}
	}
	if !sawUpdate {
		t.Fatal("no PLAYBACK_UPDATE reached the target")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSubmitSerializesCompletions(t *testing.T) {
	s := newSession(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.svc.Run(ctx)

	errc := make(chan error, 3)
	for _, id := range []string{"intro", "hymn", "closer"} {
		go func() {
			errc <- s.svc.Submit(ctx, func(ctx context.Context) error {
				_, err := s.svc.ScheduleContent(ctx, id, schedule.ScheduleOptions{})
				return err
			})
		}()
	}
	for i := 0; i < 3; i++ {
		if err := <-errc; err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	items := s.svc.Schedule()
	if len(items) != 3 {
		t.Fatalf("expected 3 scheduled items, got %d", len(items))
	}
	for i, item := range items {
		if item.Order != i {
			t.Fatalf("order not contiguous: %+v", items)
		}
	}

	failing := errors.New("fetch failed")
	if err := s.svc.Submit(ctx, func(context.Context) error { return failing }); !errors.Is(err, failing) {
		t.Fatalf("expected completion error, got %v", err)
	}
}

func TestSubmitHonoursContext(t *testing.T) {
	s := newSession(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.svc.Submit(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
