/*
Copyright 2025 TechApps UT

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package kv is the fast-state layer of the engine: ephemeral locks,
// windowed counters, breaker flags, cursors, heartbeats and dedupe keys on
// redis. Persistence guarantees live in lib/storage; everything here may be
// lost and the engine must converge regardless, which is why the error
// policy is explicit per key family: rate limits and flag caches fail open,
// dedupe fails toward processing (the DB uniqueness constraint is the
// backstop).
package kv

import (
	"context"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/techappsUT/social-queue/lib/defaults"
)

// Config holds KV construction parameters.
type Config struct {
	// Client is the redis client to use.
	Client redis.UniversalClient
	// Clock is used for rate bucket keys and TTL math.
	Clock clockwork.Clock
	// OpTimeout bounds each redis round trip.
	OpTimeout time.Duration
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("kv: missing redis client")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = defaults.KVTimeout
	}
	return nil
}

// KV is the fast-state handle shared by the scheduler, publisher, automation
// runtime and control plane.
type KV struct {
	client    redis.UniversalClient
	clock     clockwork.Clock
	opTimeout time.Duration
	log       *log.Entry
}

// New creates a KV from config.
func New(cfg Config) (*KV, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &KV{
		client:    cfg.Client,
		clock:     cfg.Clock,
		opTimeout: cfg.OpTimeout,
		log:       log.WithField(defaults.ComponentKey, defaults.ComponentKV),
	}, nil
}

// Clock returns the clock the KV layer stamps bucket keys with.
func (k *KV) Clock() clockwork.Clock {
	return k.clock
}

func (k *KV) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, k.opTimeout)
}

// AcquireLock takes a TTL lock. It returns false without error when the
// lock is held elsewhere.
func (k *KV) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	ok, err := k.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, trace.Wrap(err)
	}
	return ok, nil
}

// ReleaseLock drops a lock early. Losing the race to TTL expiry is fine.
func (k *KV) ReleaseLock(ctx context.Context, key string) error {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	return trace.Wrap(k.client.Del(ctx, key).Err())
}

// SetFlag raises a flag key. A zero ttl makes it permanent until cleared.
func (k *KV) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	return trace.Wrap(k.client.Set(ctx, key, "1", ttl).Err())
}

// ClearFlag drops a flag key.
func (k *KV) ClearFlag(ctx context.Context, key string) error {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	return trace.Wrap(k.client.Del(ctx, key).Err())
}

// FlagSet reports whether a flag key is raised. Transient redis errors fail
// open: breaker and cache reads must not take the engine down with them.
func (k *KV) FlagSet(ctx context.Context, key string) bool {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	n, err := k.client.Exists(ctx, key).Result()
	if err != nil {
		k.log.WithError(err).WithField("key", key).Warn("Flag read failed, treating as unset.")
		return false
	}
	return n > 0
}

// TakeToken admits one request against a windowed counter with the given
// limit. When the bucket is exhausted it returns allowed=false and the time
// until the bucket rolls over. Transient redis errors fail open.
func (k *KV) TakeToken(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	pipe := k.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		k.log.WithError(err).WithField("key", key).Warn("Rate bucket unavailable, admitting request.")
		return true, 0, nil
	}
	if limit <= 0 || incr.Val() <= int64(limit) {
		return true, 0, nil
	}
	ttl, err := k.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return false, ttl, nil
}

// IncrWindow bumps a windowed counter and returns the new value. Used for
// per-tenant abuse counts feeding risk scoring.
func (k *KV) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	pipe := k.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, trace.Wrap(err)
	}
	return incr.Val(), nil
}

// CounterValue reads a counter, returning zero for missing keys.
func (k *KV) CounterValue(ctx context.Context, key string) (int64, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	v, err := k.client.Get(ctx, key).Result()
	switch {
	case err == redis.Nil:
		return 0, nil
	case err != nil:
		return 0, trace.Wrap(err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, trace.BadParameter("counter %q holds non-numeric value %q", key, v)
	}
	return n, nil
}

// Heartbeat refreshes the worker liveness key.
func (k *KV) Heartbeat(ctx context.Context, ttl time.Duration) error {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	now := k.clock.Now().UTC().Format(time.RFC3339)
	return trace.Wrap(k.client.Set(ctx, WorkerHeartbeatKey, now, ttl).Err())
}

// HeartbeatAlive reports whether any worker has beaten recently.
func (k *KV) HeartbeatAlive(ctx context.Context) (bool, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	n, err := k.client.Exists(ctx, WorkerHeartbeatKey).Result()
	if err != nil {
		return false, trace.Wrap(err)
	}
	return n > 0, nil
}

// GetCursor reads a time cursor, returning the zero time when unset.
func (k *KV) GetCursor(ctx context.Context, key string) (time.Time, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	v, err := k.client.Get(ctx, key).Result()
	switch {
	case err == redis.Nil:
		return time.Time{}, nil
	case err != nil:
		return time.Time{}, trace.Wrap(err)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, trace.BadParameter("cursor %q holds malformed time %q", key, v)
	}
	return t, nil
}

// SetCursor advances a time cursor.
func (k *KV) SetCursor(ctx context.Context, key string, t time.Time) error {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	return trace.Wrap(k.client.Set(ctx, key, t.UTC().Format(time.RFC3339Nano), 0).Err())
}

// Dedupe claims a dedupe key. firstSeen=false means the key was already
// claimed and the caller should skip processing. On redis errors it reports
// firstSeen=true: dropping an event is worse than reprocessing one, and the
// DB uniqueness constraint catches the replay.
func (k *KV) Dedupe(ctx context.Context, key string, ttl time.Duration) (firstSeen bool) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	ok, err := k.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		k.log.WithError(err).WithField("key", key).Warn("Dedupe unavailable, processing anyway.")
		return true
	}
	return ok
}

// PushSample appends a sample to a bounded list, trimming to limit.
func (k *KV) PushSample(ctx context.Context, key string, value int64, limit int64) error {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	pipe := k.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, limit-1)
	_, err := pipe.Exec(ctx)
	return trace.Wrap(err)
}

// Samples reads back the bounded sample list, newest first.
func (k *KV) Samples(ctx context.Context, key string) ([]int64, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	raw, err := k.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// TTL returns the remaining TTL of a key, zero if the key is missing.
func (k *KV) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	ttl, err := k.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, trace.Wrap(err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Generation reads the feature-flag cache generation counter.
func (k *KV) Generation(ctx context.Context) int64 {
	n, err := k.CounterValue(ctx, FlagInvalidationKey)
	if err != nil {
		return 0
	}
	return n
}

// BumpGeneration invalidates every in-process feature-flag cache.
func (k *KV) BumpGeneration(ctx context.Context) error {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	return trace.Wrap(k.client.Incr(ctx, FlagInvalidationKey).Err())
}
