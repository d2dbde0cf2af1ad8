package eventbus

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sanctuary/internal/events"
)

func TestMessageRoundTripAndEchoSuppression(t *testing.T) {
	local := events.NewBus()
	sub := local.Subscribe(events.EventContentUpdated)

	data, err := marshalMessage(events.EventContentUpdated, events.Payload{"content_id": "abc"}, "node-a")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if deliverRemote(local, "node-a", data, zerolog.Nop()) {
		t.Fatal("own message should be dropped")
	}
	if len(sub) != 0 {
		t.Fatal("echo reached local subscribers")
	}

	if !deliverRemote(local, "node-b", data, zerolog.Nop()) {
		t.Fatal("remote message should be delivered")
	}
	payload := <-sub
	if payload["content_id"] != "abc" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := unmarshalMessage([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid json")
	}
	if _, err := unmarshalMessage([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected error for missing event type")
	}
}

func TestNodeID(t *testing.T) {
	if got := NodeID("fixed"); got != "fixed" {
		t.Fatalf("explicit id not kept: %q", got)
	}
	a, b := NodeID(""), NodeID("")
	if a == b || !strings.Contains(a, "-") {
		t.Fatalf("generated ids should be unique: %q %q", a, b)
	}
}

func TestRedisBusFallsBackToLocal(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 200 * time.Millisecond

	bus := NewRedisBus(cfg, "node-a", zerolog.Nop())
	defer bus.Close()

	if !bus.fallbackActive() {
		t.Fatal("expected fallback mode without Redis")
	}
	assertLocalDelivery(t, bus)
}

func TestNATSBusFallsBackToLocal(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond

	bus := NewNATSBus(cfg, "node-a", zerolog.Nop())
	defer bus.Close()

	if bus.Connected() {
		t.Fatal("expected no NATS connection")
	}
	assertLocalDelivery(t, bus)
}

func assertLocalDelivery(t *testing.T, bus Bus) {
	t.Helper()
	sub := bus.Subscribe(events.EventLiveChanged)
	bus.Publish(events.EventLiveChanged, events.Payload{"phase": "live"})

	select {
	case payload := <-sub:
		if payload["phase"] != "live" {
			t.Fatalf("unexpected payload %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("local subscriber did not receive the event")
	}
	bus.Unsubscribe(events.EventLiveChanged, sub)
}
