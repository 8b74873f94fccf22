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

package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) (*KV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	kv, err := New(Config{
		Client: client,
		Clock:  clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return kv, mr
}

func TestAcquireLock(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	key := PostLockKey(uuid.New(), uuid.New())
	ok, err := kv.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Second worker loses the race.
	ok, err = kv.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// Lock frees after TTL expiry.
	mr.FastForward(2 * time.Minute)
	ok, err = kv.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTakeToken(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	key := RateLimitKey("linkedin", kv.Clock().Now())
	for i := 0; i < 3; i++ {
		allowed, _, err := kv.TakeToken(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed, "request %d should be admitted", i)
	}

	allowed, retryAfter, err := kv.TakeToken(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Greater(t, retryAfter, time.Duration(0))

	// Bucket rolls over.
	mr.FastForward(time.Minute + time.Second)
	allowed, _, err = kv.TakeToken(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestDedupe(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	key := WebhookDedupeKey("stripe", "evt_123")
	require.True(t, kv.Dedupe(ctx, key, time.Hour))
	require.False(t, kv.Dedupe(ctx, key, time.Hour))
}

func TestCursorRoundTrip(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	got, err := kv.GetCursor(ctx, EventRuleCursorKey)
	require.NoError(t, err)
	require.True(t, got.IsZero())

	want := time.Date(2025, 6, 1, 12, 30, 45, 123456000, time.UTC)
	require.NoError(t, kv.SetCursor(ctx, EventRuleCursorKey, want))

	got, err = kv.GetCursor(ctx, EventRuleCursorKey)
	require.NoError(t, err)
	require.True(t, got.Equal(want))
}

func TestPushSampleBounded(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	for i := int64(0); i < 10; i++ {
		require.NoError(t, kv.PushSample(ctx, PublishDurationsKey, i, 5))
	}
	samples, err := kv.Samples(ctx, PublishDurationsKey)
	require.NoError(t, err)
	require.Len(t, samples, 5)
	require.Equal(t, int64(9), samples[0])
}

func TestHeartbeat(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	alive, err := kv.HeartbeatAlive(ctx)
	require.NoError(t, err)
	require.False(t, alive)

	require.NoError(t, kv.Heartbeat(ctx, 45*time.Second))
	alive, err = kv.HeartbeatAlive(ctx)
	require.NoError(t, err)
	require.True(t, alive)

	mr.FastForward(time.Minute)
	alive, err = kv.HeartbeatAlive(ctx)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestFlagRoundTrip(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	tenant := uuid.New()
	require.False(t, kv.FlagSet(ctx, TenantBreakerKey(tenant)))
	require.NoError(t, kv.SetFlag(ctx, TenantBreakerKey(tenant), 0))
	require.True(t, kv.FlagSet(ctx, TenantBreakerKey(tenant)))
	require.NoError(t, kv.ClearFlag(ctx, TenantBreakerKey(tenant)))
	require.False(t, kv.FlagSet(ctx, TenantBreakerKey(tenant)))
}
