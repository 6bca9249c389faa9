package pipeline

import (
	"context"
	"errors"
	"time"

	"voiceagent-platform/pkg/logger"
	"voiceagent-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// ErrBusy means the tenant already has the maximum number of events in flight.
var ErrBusy = errors.New("pipeline: tenant ingest at capacity")

// IngestLimiter caps concurrent event processing per tenant using a Redis
// counter shared by every API instance.
type IngestLimiter struct {
	rdb   redis.Scripter
	limit int
	ttl   time.Duration
}

// NewIngestLimiter returns nil when rdb is nil or limit is not positive;
// a nil limiter admits everything.
func NewIngestLimiter(rdb redis.Scripter, limit int, ttl time.Duration) *IngestLimiter {
	if rdb == nil || limit <= 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &IngestLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func ingestKey(tenantID string) string { return "ingest:tenant:" + tenantID }

// Acquire takes a slot for tenantID. Redis failures admit the event.
func (l *IngestLimiter) Acquire(ctx context.Context, tenantID string) (release func(), err error) {
	noop := func() {}
	if l == nil {
		return noop, nil
	}
	key := ingestKey(tenantID)
	ok, err := utils.AcquireConcurrencyCap(ctx, l.rdb, key, l.limit, l.ttl)
	if err != nil {
		logger.From(ctx).Warn("ingest cap unavailable; admitting event", "tenant_id", tenantID, "err", err)
		return noop, nil
	}
	if !ok {
		return noop, ErrBusy
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := utils.ReleaseConcurrencyCap(rctx, l.rdb, key); err != nil {
			logger.From(ctx).Warn("release ingest cap", "tenant_id", tenantID, "err", err)
		}
	}, nil
}
