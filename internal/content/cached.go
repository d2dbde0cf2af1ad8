/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sanctuary/internal/cache"
	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/models"
)

// CachedRepository is a read-through cache in front of a Repository.
type CachedRepository struct {
	next   Repository
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewCachedRepository wraps next with the Redis cache.
func NewCachedRepository(next Repository, c *cache.Cache, logger zerolog.Logger) *CachedRepository {
	return &CachedRepository{
		next:   next,
		cache:  c,
		logger: logger.With().Str("component", "content_cache").Logger(),
	}
}

// GetByID serves from cache, falling back to the wrapped repository.
func (r *CachedRepository) GetByID(ctx context.Context, id string) (*models.ContentItem, error) {
	if item, ok := r.cache.GetContentItem(ctx, id); ok {
		return item, nil
	}

	item, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetContentItem(ctx, item); err != nil {
		r.logger.Debug().Err(err).Str("content_id", id).Msg("failed to cache content item")
	}
	return item, nil
}

// Invalidate drops id from the cache. Failures are logged; the TTL bounds
// how long a missed invalidation can serve a stale item.
func (r *CachedRepository) Invalidate(ctx context.Context, id string) {
	if err := r.cache.InvalidateContentItem(ctx, id); err != nil {
		r.logger.Warn().Err(err).Str("content_id", id).Msg("cache invalidation failed")
	}
}

// WatchInvalidations drops cached items on content.updated/content.deleted
// until ctx is cancelled. Local writes invalidate synchronously through the
// store; this catches writes made by other nodes sharing the event bus.
func (r *CachedRepository) WatchInvalidations(ctx context.Context, broker events.Broker) {
	updated := broker.Subscribe(events.EventContentUpdated)
	deleted := broker.Subscribe(events.EventContentDeleted)
	defer broker.Unsubscribe(events.EventContentUpdated, updated)
	defer broker.Unsubscribe(events.EventContentDeleted, deleted)

	for {
		var payload events.Payload
		select {
		case <-ctx.Done():
			return
		case payload = <-updated:
		case payload = <-deleted:
		}
		id, _ := payload["content_id"].(string)
		if id == "" {
			continue
		}
		r.Invalidate(ctx, id)
	}
}
