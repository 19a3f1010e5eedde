package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/contactbook-hq/contactbook-backend/internal/logger"
	"github.com/contactbook-hq/contactbook-backend/internal/types"
)

// ContactCache is a redis read cache for single-contact gets. A nil
// *ContactCache is valid and means "no cache": every method is a no-op, so
// the service runs unchanged when redis is down or absent.
type ContactCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger
}

func NewContactCache(rdb *redis.Client, ttl time.Duration, baseLog *logger.Logger) *ContactCache {
	if rdb == nil {
		return nil
	}
	return &ContactCache{rdb: rdb, ttl: ttl, log: baseLog.With("cache", "ContactCache")}
}

func key(contactID uuid.UUID) string {
	return "contact:" + contactID.String()
}

// Get returns the cached contact and whether it was present. Cache errors are
// logged and reported as misses; they never fail the request.
func (cc *ContactCache) Get(ctx context.Context, contactID uuid.UUID) (*types.Contact, bool) {
	if cc == nil {
		return nil, false
	}
	raw, err := cc.rdb.Get(ctx, key(contactID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			cc.log.Debug("Cache get failed", "contact_id", contactID, "error", err)
		}
		return nil, false
	}
	var contact types.Contact
	if err := json.Unmarshal(raw, &contact); err != nil {
		cc.log.Warn("Cache entry corrupt, dropping", "contact_id", contactID, "error", err)
		cc.Invalidate(ctx, contactID)
		return nil, false
	}
	return &contact, true
}

func (cc *ContactCache) Set(ctx context.Context, contact *types.Contact) {
	if cc == nil || contact == nil {
		return
	}
	raw, err := json.Marshal(contact)
	if err != nil {
		cc.log.Warn("Cache marshal failed", "contact_id", contact.ID, "error", err)
		return
	}
	if err := cc.rdb.Set(ctx, key(contact.ID), raw, cc.ttl).Err(); err != nil {
		cc.log.Debug("Cache set failed", "contact_id", contact.ID, "error", err)
	}
}

func (cc *ContactCache) Invalidate(ctx context.Context, contactID uuid.UUID) {
	if cc == nil {
		return
	}
	if err := cc.rdb.Del(ctx, key(contactID)).Err(); err != nil {
		cc.log.Debug("Cache invalidate failed", "contact_id", contactID, "error", err)
	}
}
