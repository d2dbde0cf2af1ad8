package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sanctuary/internal/cache/cachetest"
	"github.com/friendsincode/sanctuary/internal/models"
)

func newTestCache(t *testing.T) (*Cache, *cachetest.Server) {
	t.Helper()
	srv := cachetest.NewServer(t)
	cfg := DefaultConfig()
	cfg.RedisAddr = srv.Addr()
	return NewWithClient(srv.Client(t), cfg, zerolog.Nop()), srv
}

func TestContentItemSetGetInvalidate(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	if _, ok := c.GetContentItem(ctx, "hymn"); ok {
		t.Fatal("empty cache reported a hit")
	}

	item := &models.ContentItem{ID: "hymn", Type: models.ContentSong, Title: "Be Thou My Vision", Lyrics: "verse one"}
	if err := c.SetContentItem(ctx, item); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !srv.Has(KeyContentItem + "hymn") {
		t.Fatal("item not stored under the content key")
	}
	ttl, err := srv.Client(t).TTL(ctx, KeyContentItem+"hymn").Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > DefaultContentItemTTL {
		t.Fatalf("ttl = %v, want within (0, %v]", ttl, DefaultContentItemTTL)
	}

	got, ok := c.GetContentItem(ctx, "hymn")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got.Title != item.Title || got.Lyrics != item.Lyrics || got.Type != models.ContentSong {
		t.Fatalf("unexpected cached item %+v", got)
	}

	if err := c.InvalidateContentItem(ctx, "hymn"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok := c.GetContentItem(ctx, "hymn"); ok {
		t.Fatal("invalidated item still served")
	}
	if !c.IsAvailable() {
		t.Fatal("cache disabled after normal operations")
	}
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	c, srv := newTestCache(t)
	srv.Set(KeyContentItem+"bad", "{not json")

	if _, ok := c.GetContentItem(context.Background(), "bad"); ok {
		t.Fatal("corrupt entry reported a hit")
	}
	if !c.IsAvailable() {
		t.Fatal("a decode failure must not trip the breaker")
	}
}

func TestFlushAllKeepsForeignKeys(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := c.SetContentItem(ctx, &models.ContentItem{ID: id, Type: models.ContentBlank}); err != nil {
			t.Fatalf("set %s: %v", id, err)
		}
	}
	srv.Set("other:key", "1")

	if err := c.FlushAll(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if srv.Has(KeyContentItem+"a") || srv.Has(KeyContentItem+"b") {
		t.Fatal("flush left cached items behind")
	}
	if !srv.Has("other:key") {
		t.Fatal("flush removed a key outside the cache prefix")
	}
}

func TestRedisFailureDisablesCache(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	if err := c.SetContentItem(ctx, &models.ContentItem{ID: "x", Type: models.ContentBlank}); err != nil {
		t.Fatalf("set: %v", err)
	}
	srv.Close()

	deadline := time.Now().Add(2 * time.Second)
	for c.IsAvailable() && time.Now().Before(deadline) {
		c.GetContentItem(ctx, "x")
	}
	if c.IsAvailable() {
		t.Fatal("cache still available after Redis went away")
	}
	if err := c.SetContentItem(ctx, &models.ContentItem{ID: "y", Type: models.ContentBlank}); err != nil {
		t.Fatalf("disabled cache should swallow writes: %v", err)
	}
}

func TestDisabledCacheNeverHits(t *testing.T) {
	c := Disabled(zerolog.Nop())
	ctx := context.Background()

	if err := c.SetContentItem(ctx, &models.ContentItem{ID: "x"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := c.GetContentItem(ctx, "x"); ok {
		t.Fatal("disabled cache reported a hit")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
