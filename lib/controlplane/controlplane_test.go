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

package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/events"
	"github.com/techappsUT/social-queue/lib/guardrails"
	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

type testEnv struct {
	engine *Engine
	store  *storage.Mem
	kv     *kv.KV
	clock  *clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	mem := storage.NewMem(clock)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	fast, err := kv.New(kv.Config{Client: client, Clock: clock})
	require.NoError(t, err)
	checker, err := guardrails.New(guardrails.Config{Store: mem, Clock: clock})
	require.NoError(t, err)
	engine, err := New(Config{Store: mem, KV: fast, Risk: checker, Clock: clock})
	require.NoError(t, err)

	return &testEnv{engine: engine, store: mem, kv: fast, clock: clock}
}

func (e *testEnv) setFlag(t *testing.T, key string, global bool, tenants map[uuid.UUID]bool) {
	t.Helper()
	require.NoError(t, e.engine.Flags().Set(context.Background(), &types.FeatureFlag{
		Key:             key,
		EnabledGlobally: global,
		EnabledTenants:  tenants,
	}))
}

func TestFlagCache(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()

	// Missing flags resolve to false and the miss is cached.
	require.False(t, e.engine.Flags().EnabledFor(ctx, types.FlagMaintenanceMode, tenantID))

	// A write through the cache invalidates the cached miss.
	e.setFlag(t, types.FlagMaintenanceMode, true, nil)
	require.True(t, e.engine.Flags().EnabledFor(ctx, types.FlagMaintenanceMode, tenantID))

	// Per-tenant overrides win over the global default.
	e.setFlag(t, types.FlagMaintenanceMode, true, map[uuid.UUID]bool{tenantID: false})
	require.False(t, e.engine.Flags().EnabledFor(ctx, types.FlagMaintenanceMode, tenantID))
	require.True(t, e.engine.Flags().EnabledFor(ctx, types.FlagMaintenanceMode, uuid.New()))
}

func TestFlagCacheCrossProcessInvalidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	other := NewFlagCache(e.store, e.kv)

	require.False(t, other.EnabledFor(ctx, types.FlagTenantRiskControls, uuid.Nil))

	// A write through the engine's cache bumps the shared generation; the
	// second cache observes it without waiting out its TTL.
	e.setFlag(t, types.FlagTenantRiskControls, true, nil)
	require.True(t, other.EnabledFor(ctx, types.FlagTenantRiskControls, uuid.Nil))
}

func TestBreakerSwitches(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()

	require.NoError(t, e.engine.EngageGlobalBreaker(ctx, "operator", "provider outage"))
	require.True(t, e.kv.FlagSet(ctx, kv.GlobalPublishBreakerKey))
	require.NoError(t, e.engine.ReleaseGlobalBreaker(ctx, "operator"))
	require.False(t, e.kv.FlagSet(ctx, kv.GlobalPublishBreakerKey))

	require.NoError(t, e.engine.EngageTenantBreaker(ctx, tenantID, "operator", "abuse"))
	require.True(t, e.kv.FlagSet(ctx, kv.TenantBreakerKey(tenantID)))
	require.NoError(t, e.engine.ReleaseTenantBreaker(ctx, tenantID, "operator"))
	require.False(t, e.kv.FlagSet(ctx, kv.TenantBreakerKey(tenantID)))

	var actions []string
	for _, entry := range e.store.AuditEntries() {
		actions = append(actions, entry.Action)
	}
	require.Equal(t, []string{
		"breaker.global_engaged", "breaker.global_released",
		"breaker.tenant_engaged", "breaker.tenant_released",
	}, actions)
}

func TestMaintenanceMode(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, e.engine.SetMaintenanceMode(ctx, true, "operator"))
	require.True(t, e.kv.FlagSet(ctx, kv.MaintenanceModeKey))
	require.NoError(t, e.engine.SetMaintenanceMode(ctx, false, "operator"))
	require.False(t, e.kv.FlagSet(ctx, kv.MaintenanceModeKey))
}

func TestHeartbeatIncident(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// A live heartbeat raises nothing.
	require.NoError(t, e.kv.Heartbeat(ctx, defaults.HeartbeatTTL))
	require.NoError(t, e.engine.AutoRecover(ctx))
	require.Empty(t, e.store.Incidents())

	// Let the heartbeat key expire.
	require.NoError(t, e.kv.ClearFlag(ctx, kv.WorkerHeartbeatKey))
	require.NoError(t, e.engine.AutoRecover(ctx))
	incidents := e.store.Incidents()
	require.Len(t, incidents, 1)
	require.Equal(t, types.IncidentWorkerHeartbeat, incidents[0].Type)

	// The open incident is not duplicated on the next pass.
	require.NoError(t, e.engine.AutoRecover(ctx))
	require.Len(t, e.store.Incidents(), 1)
}

func TestGlobalFailureRateBreaker(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, e.kv.Heartbeat(ctx, defaults.HeartbeatTTL))
	e.setFlag(t, types.FlagGlobalPublishBreaker, true, nil)

	tenantID := uuid.New()
	post := &types.Post{TenantID: tenantID, ProjectID: uuid.New(), Title: "p"}
	require.NoError(t, e.store.CreatePost(ctx, post))
	channelID := uuid.New()

	// One success, one failure: 50% over the window.
	require.NoError(t, e.store.AppendPublishEvent(ctx, events.NewChannelEvent(
		tenantID, post.ID, channelID, events.ChannelPublishSucceeded, types.EventStatusOK, 1, nil)))
	require.NoError(t, e.store.AppendPublishEvent(ctx, events.NewChannelEvent(
		tenantID, post.ID, channelID, events.ChannelPublishFailed, types.EventStatusError, 2, nil)))

	require.NoError(t, e.engine.AutoRecover(ctx))
	require.True(t, e.kv.FlagSet(ctx, kv.GlobalPublishBreakerKey))

	var found bool
	for _, inc := range e.store.Incidents() {
		if inc.Type == types.IncidentGlobalBreaker {
			found = true
		}
	}
	require.True(t, found)

	// With the breaker already engaged the pass is a no-op.
	require.NoError(t, e.engine.AutoRecover(ctx))
	count := 0
	for _, inc := range e.store.Incidents() {
		if inc.Type == types.IncidentGlobalBreaker {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestRiskRecomputeThrottlesTenant(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()
	require.NoError(t, e.store.UpsertSubscription(ctx, &types.CompanySubscription{
		TenantID: tenantID, PlanID: "starter", Status: "active",
	}))
	e.setFlag(t, types.FlagTenantRiskControls, true, nil)

	// All-failed publishing plus all-flagged content plus a saturated abuse
	// counter maxes the composite.
	post := &types.Post{TenantID: tenantID, ProjectID: uuid.New(), Title: "p"}
	require.NoError(t, e.store.CreatePost(ctx, post))
	require.NoError(t, e.store.AppendPublishEvent(ctx, events.NewChannelEvent(
		tenantID, post.ID, uuid.New(), events.ChannelPublishFailed, types.EventStatusError, 1, nil)))
	require.NoError(t, e.store.CreateContentItem(ctx, &types.ContentItem{
		TenantID: tenantID, ProjectID: uuid.New(), Title: "bad",
		Status: types.ContentStatusRejected,
	}))
	for i := 0; i < 100; i++ {
		_, err := e.kv.IncrWindow(ctx, kv.AbuseCounterKey(tenantID), time.Hour)
		require.NoError(t, err)
	}

	require.NoError(t, e.engine.RecomputeRisk(ctx))

	risk, err := e.store.GetTenantRisk(ctx, tenantID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, risk.Score, float64(defaults.TenantRiskThreshold))
	require.Equal(t, types.RiskCritical, risk.Bucket)
	require.True(t, e.kv.FlagSet(ctx, kv.TenantThrottleKey(tenantID)))

	var found bool
	for _, inc := range e.store.Incidents() {
		if inc.Type == types.IncidentTenantThrottled && inc.Subject == tenantID.String() {
			found = true
		}
	}
	require.True(t, found)

	// Without the tenant breaker flag, the breaker stays clear.
	require.False(t, e.kv.FlagSet(ctx, kv.TenantBreakerKey(tenantID)))
}

func TestRiskRecomputeRespectsEnforcementFlag(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()
	require.NoError(t, e.store.UpsertSubscription(ctx, &types.CompanySubscription{
		TenantID: tenantID, PlanID: "starter", Status: "active",
	}))

	post := &types.Post{TenantID: tenantID, ProjectID: uuid.New(), Title: "p"}
	require.NoError(t, e.store.CreatePost(ctx, post))
	require.NoError(t, e.store.AppendPublishEvent(ctx, events.NewChannelEvent(
		tenantID, post.ID, uuid.New(), events.ChannelPublishFailed, types.EventStatusError, 1, nil)))
	require.NoError(t, e.store.CreateContentItem(ctx, &types.ContentItem{
		TenantID: tenantID, ProjectID: uuid.New(), Title: "bad",
		Status: types.ContentStatusRejected,
	}))
	for i := 0; i < 100; i++ {
		_, err := e.kv.IncrWindow(ctx, kv.AbuseCounterKey(tenantID), time.Hour)
		require.NoError(t, err)
	}

	// Enforcement off: the score is recorded but nothing throttles.
	require.NoError(t, e.engine.RecomputeRisk(ctx))
	risk, err := e.store.GetTenantRisk(ctx, tenantID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, risk.Score, float64(defaults.TenantRiskThreshold))
	require.False(t, e.kv.FlagSet(ctx, kv.TenantThrottleKey(tenantID)))
}
