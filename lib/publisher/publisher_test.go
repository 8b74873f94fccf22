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

package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/techappsUT/social-queue/lib/adapters"
	"github.com/techappsUT/social-queue/lib/credentials"
	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/events"
	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/queue"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

type testEnv struct {
	publisher *Publisher
	store     *storage.Mem
	kv        *kv.KV
	queue     *queue.Queue
	creds     *credentials.Store
	clock     *clockwork.FakeClock
	tenantID  uuid.UUID
	projectID uuid.UUID
}

// roundTripFunc stubs provider endpoints without a network listener.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithTransport(t, nil)
}

func newTestEnvWithTransport(t *testing.T, rt http.RoundTripper) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	mem := storage.NewMem(clock)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	fast, err := kv.New(kv.Config{Client: client, Clock: clock})
	require.NoError(t, err)
	q, err := queue.New(queue.Config{Client: client, Store: mem, Clock: clock})
	require.NoError(t, err)
	regCfg := adapters.RegistryConfig{Clock: clock}
	if rt != nil {
		regCfg.HTTPClient = adapters.NewHTTPClient(&http.Client{Transport: rt})
	}
	reg, err := adapters.NewRegistry(regCfg)
	require.NoError(t, err)
	creds, err := credentials.New(credentials.Config{
		Backend:   mem,
		KV:        fast,
		MasterKey: bytes.Repeat([]byte{7}, 32),
		Clock:     clock,
	})
	require.NoError(t, err)

	p, err := New(Config{
		Store:       mem,
		KV:          fast,
		Queue:       q,
		Registry:    reg,
		Credentials: creds,
		Clock:       clock,
	})
	require.NoError(t, err)

	return &testEnv{
		publisher: p,
		store:     mem,
		kv:        fast,
		queue:     q,
		creds:     creds,
		clock:     clock,
		tenantID:  uuid.New(),
		projectID: uuid.New(),
	}
}

func (e *testEnv) addPost(t *testing.T, status types.PostStatus) *types.Post {
	t.Helper()
	now := e.clock.Now()
	post := &types.Post{
		TenantID:  e.tenantID,
		ProjectID: e.projectID,
		Title:     "Launch day",
		Content:   "We are live.",
		Status:    status,
		PublishAt: &now,
	}
	require.NoError(t, e.store.CreatePost(context.Background(), post))
	return post
}

func (e *testEnv) addChannel(t *testing.T, ct types.ChannelType, scenario string) *types.Channel {
	t.Helper()
	ch := &types.Channel{
		TenantID:  e.tenantID,
		ProjectID: e.projectID,
		Type:      ct,
	}
	if scenario != "" {
		ch.Metadata = map[string]string{types.SandboxScenarioKey: scenario}
	}
	require.NoError(t, e.store.CreateChannel(context.Background(), ch))
	return ch
}

func eventTypes(t *testing.T, e *testEnv, postID uuid.UUID) []string {
	t.Helper()
	evs, err := e.store.ListPublishEventsForPost(context.Background(), e.tenantID, postID)
	require.NoError(t, err)
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func TestPublishAllChannelsSucceed(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	post := e.addPost(t, types.PostStatusPublishing)
	e.addChannel(t, types.ChannelTypeWebsite, "")
	e.addChannel(t, types.ChannelTypeLinkedIn, types.SandboxSimulateSuccess)

	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, 0)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusPublished, res.Status)
	require.Equal(t, 2, res.Succeeded)
	require.Zero(t, res.Failed)

	got, err := e.store.GetPost(ctx, e.tenantID, post.ID)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusPublished, got.Status)

	pubs, err := e.store.ListPublications(ctx, e.tenantID, post.ID)
	require.NoError(t, err)
	require.Len(t, pubs, 2)

	// Website publication exists with a slug.
	wp, err := e.store.GetWebsitePublication(ctx, e.tenantID, post.ID)
	require.NoError(t, err)
	require.NotEmpty(t, wp.Slug)

	// Two channel successes and exactly one terminal event.
	typesSeen := eventTypes(t, e, post.ID)
	require.Contains(t, typesSeen, events.ChannelPublishSucceeded)
	require.Contains(t, typesSeen, events.PostPublished)
	require.NotContains(t, typesSeen, events.PostPublishedPartial)
	require.NotContains(t, typesSeen, events.PostPublishFailed)

	// Usage counted once.
	usage, err := e.store.GetUsage(ctx, e.tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, usage.PostsPublished)

	// Analytics jobs enqueued for each publication.
	depth, err := e.queue.Depth(ctx, defaults.QueueAnalytics)
	require.NoError(t, err)
	require.Equal(t, int64(2), depth)
}

func TestPublishPartial(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	post := e.addPost(t, types.PostStatusPublishing)
	e.addChannel(t, types.ChannelTypeWebsite, "")
	e.addChannel(t, types.ChannelTypeFacebook, types.SandboxSimulateAuthError)

	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, 0)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusPublishedPartial, res.Status)
	require.Equal(t, 1, res.Succeeded)
	require.Equal(t, 1, res.Failed)

	typesSeen := eventTypes(t, e, post.ID)
	require.Contains(t, typesSeen, events.ChannelPublishFailed)
	require.Contains(t, typesSeen, events.PostPublishedPartial)
}

func TestPublishAllFailedRetryable(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	post := e.addPost(t, types.PostStatusPublishing)
	ch := e.addChannel(t, types.ChannelTypeX, types.SandboxSimulateRateLimit)

	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, 0)
	require.NoError(t, err)
	require.True(t, res.Retry)
	require.Greater(t, res.RetryDelay, time.Duration(0))

	// Post stays claimed; the retried job finishes it.
	got, err := e.store.GetPost(ctx, e.tenantID, post.ID)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusPublishing, got.Status)

	// Rate limit armed the connector backoff.
	require.True(t, e.kv.FlagSet(ctx, kv.ConnectorBackoffKey(ch.ID)))
}

func TestPublishRetryExhaustion(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	post := e.addPost(t, types.PostStatusPublishing)
	e.addChannel(t, types.ChannelTypeX, types.SandboxSimulateRateLimit)

	// Last attempt of the envelope budget.
	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, defaults.MaxPublishAttempts-1)
	require.NoError(t, err)
	require.False(t, res.Retry)
	require.Equal(t, types.PostStatusFailed, res.Status)

	typesSeen := eventTypes(t, e, post.ID)
	require.Contains(t, typesSeen, events.PostPublishFailed)
}

func TestRetryDelayMonotonic(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.UpsertRetryPolicy(ctx, &types.ChannelRetryPolicy{
		ChannelType: types.ChannelTypeX,
		MaxAttempts: 5,
		Backoff:     types.BackoffExponential,
		RetryDelay:  time.Minute,
	}))
	e.addChannel(t, types.ChannelTypeX, types.SandboxSimulateRateLimit)

	post1 := e.addPost(t, types.PostStatusPublishing)
	res1, err := e.publisher.PublishPost(ctx, e.tenantID, post1.ID, 0)
	require.NoError(t, err)
	require.True(t, res1.Retry)

	post2 := e.addPost(t, types.PostStatusPublishing)
	res2, err := e.publisher.PublishPost(ctx, e.tenantID, post2.ID, 2)
	require.NoError(t, err)
	require.True(t, res2.Retry)

	// Exponential policy with jitter in [d/2, d): attempt 3's floor (2m)
	// is above attempt 1's ceiling (1m).
	require.Greater(t, res2.RetryDelay, res1.RetryDelay)
}

func TestIdempotentRepublish(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	post := e.addPost(t, types.PostStatusPublishing)
	ch := e.addChannel(t, types.ChannelTypeLinkedIn, types.SandboxSimulateSuccess)

	// A publication already exists from a previous crashed attempt.
	require.NoError(t, e.store.CreatePublication(ctx, &types.ChannelPublication{
		TenantID:       e.tenantID,
		PostID:         post.ID,
		ChannelID:      ch.ID,
		Platform:       ch.Type,
		ExternalPostID: "existing-1",
	}))

	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, 1)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusPublished, res.Status)

	// No duplicate publication appeared.
	pubs, err := e.store.ListPublications(ctx, e.tenantID, post.ID)
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	require.Equal(t, "existing-1", pubs[0].ExternalPostID)
}

func TestConcurrentLockSkips(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	post := e.addPost(t, types.PostStatusPublishing)
	e.addChannel(t, types.ChannelTypeWebsite, "")

	acquired, err := e.kv.AcquireLock(ctx, kv.PostLockKey(e.tenantID, post.ID), defaults.PostLockTTL)
	require.NoError(t, err)
	require.True(t, acquired)

	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, 0)
	require.NoError(t, err)
	require.True(t, res.Skipped)

	got, err := e.store.GetPost(ctx, e.tenantID, post.ID)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusPublishing, got.Status)
}

func TestTerminalPostSkipped(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	post := e.addPost(t, types.PostStatusPublishing)
	e.addChannel(t, types.ChannelTypeWebsite, "")

	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, 0)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusPublished, res.Status)

	// Replayed job is a no-op.
	res, err = e.publisher.PublishPost(ctx, e.tenantID, post.ID, 1)
	require.NoError(t, err)
	require.True(t, res.Skipped)

	pubs, err := e.store.ListPublications(ctx, e.tenantID, post.ID)
	require.NoError(t, err)
	require.Len(t, pubs, 1)
}

func TestGlobalBreakerRejects(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	post := e.addPost(t, types.PostStatusPublishing)
	e.addChannel(t, types.ChannelTypeWebsite, "")

	require.NoError(t, e.kv.SetFlag(ctx, kv.GlobalPublishBreakerKey, 0))

	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, 0)
	require.NoError(t, err)
	require.True(t, res.Retry)

	typesSeen := eventTypes(t, e, post.ID)
	require.Contains(t, typesSeen, events.PublishBreakerRejected)

	// Clearing the breaker lets the retry through.
	require.NoError(t, e.kv.ClearFlag(ctx, kv.GlobalPublishBreakerKey))
	res, err = e.publisher.PublishPost(ctx, e.tenantID, post.ID, 1)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusPublished, res.Status)
}

func TestConnectorBreakerDisablesChannel(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	ch := e.addChannel(t, types.ChannelTypeFacebook, types.SandboxSimulateAuthError)

	// Four prior consecutive failures on this channel.
	for i := 1; i <= defaults.ConnectorFailureThreshold-1; i++ {
		require.NoError(t, e.store.AppendPublishEvent(ctx, events.NewChannelEvent(
			e.tenantID, uuid.New(), ch.ID,
			events.ChannelPublishFailed, types.EventStatusError, i, nil,
		)))
	}

	post := e.addPost(t, types.PostStatusPublishing)
	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, defaults.MaxPublishAttempts-1)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusFailed, res.Status)

	got, err := e.store.GetChannel(ctx, e.tenantID, ch.ID)
	require.NoError(t, err)
	require.Equal(t, types.ChannelStatusDisabled, got.Status)

	open, err := e.store.HasOpenIncident(ctx, types.IncidentConnectorDisabled, ch.ID.String())
	require.NoError(t, err)
	require.True(t, open)

	var audited bool
	for _, entry := range e.store.AuditEntries() {
		if entry.Action == "auto_recovery.connector_disabled" {
			audited = true
		}
	}
	require.True(t, audited)
}

func TestQuotaExceededFailsPost(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.UpsertSubscription(ctx, &types.CompanySubscription{
		TenantID: e.tenantID,
		PlanID:   "free",
		Status:   "active",
	}))
	require.NoError(t, e.store.IncrementUsage(ctx, e.tenantID, 30, 0))

	post := e.addPost(t, types.PostStatusPublishing)
	e.addChannel(t, types.ChannelTypeWebsite, "")

	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, 0)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusFailed, res.Status)

	got, err := e.store.GetPost(ctx, e.tenantID, post.ID)
	require.NoError(t, err)
	require.Contains(t, got.LastError, "quota")
}

// addThreadsChannel creates a live (non-sandbox) threads channel so the
// delivery exercises the real credential path.
func (e *testEnv) addThreadsChannel(t *testing.T) *types.Channel {
	t.Helper()
	ch := &types.Channel{
		TenantID:  e.tenantID,
		ProjectID: e.projectID,
		Type:      types.ChannelTypeThreads,
		Metadata:  map[string]string{"user_id": "42"},
	}
	require.NoError(t, e.store.CreateChannel(context.Background(), ch))
	return ch
}

func TestRevokedTokenRefreshedBeforeDelivery(t *testing.T) {
	var validations, refreshes int
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		switch {
		case r.URL.Path == "/v1.0/me":
			validations++
			if r.URL.Query().Get("access_token") == "stale" {
				return jsonResponse(http.StatusUnauthorized,
					`{"error_code":"invalid_token","error_description":"token revoked"}`), nil
			}
			return jsonResponse(http.StatusOK, `{"id":"77"}`), nil
		case r.URL.Path == "/v1.0/refresh_access_token":
			refreshes++
			return jsonResponse(http.StatusOK, `{"access_token":"fresh"}`), nil
		case strings.HasSuffix(r.URL.Path, "/threads"):
			return jsonResponse(http.StatusOK, `{"id":"container-1"}`), nil
		case strings.HasSuffix(r.URL.Path, "/threads_publish"):
			return jsonResponse(http.StatusOK, `{"id":"thread-9"}`), nil
		}
		return jsonResponse(http.StatusNotFound, `{}`), nil
	})
	e := newTestEnvWithTransport(t, rt)
	ctx := context.Background()

	// The stored token carries a distant expiry, so the expiry-based refresh
	// never fires; the provider has revoked it server-side anyway.
	exp := e.clock.Now().Add(30 * 24 * time.Hour)
	require.NoError(t, e.creds.Put(ctx, e.tenantID, types.ChannelTypeThreads, credentials.TokenSet{
		AccessToken: "stale",
		ExpiresAt:   &exp,
	}))

	post := e.addPost(t, types.PostStatusPublishing)
	e.addThreadsChannel(t)

	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, 0)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusPublished, res.Status)
	require.Equal(t, 1, refreshes)
	// Rejected once, proven once after the refresh.
	require.Equal(t, 2, validations)

	// The renewed token was persisted for the next delivery.
	tokens, err := e.creds.Get(ctx, e.tenantID, types.ChannelTypeThreads)
	require.NoError(t, err)
	require.Equal(t, "fresh", tokens.AccessToken)
}

func TestCredentialRefreshRetriedOnce(t *testing.T) {
	var refreshes int
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		switch {
		case r.URL.Path == "/v1.0/me":
			// Even the refreshed token is rejected.
			return jsonResponse(http.StatusUnauthorized,
				`{"error_code":"invalid_token","error_description":"token revoked"}`), nil
		case r.URL.Path == "/v1.0/refresh_access_token":
			refreshes++
			return jsonResponse(http.StatusOK, `{"access_token":"fresh"}`), nil
		}
		return jsonResponse(http.StatusNotFound, `{}`), nil
	})
	e := newTestEnvWithTransport(t, rt)
	ctx := context.Background()

	require.NoError(t, e.creds.Put(ctx, e.tenantID, types.ChannelTypeThreads, credentials.TokenSet{
		AccessToken: "stale",
	}))
	post := e.addPost(t, types.PostStatusPublishing)
	e.addThreadsChannel(t)

	res, err := e.publisher.PublishPost(ctx, e.tenantID, post.ID, 0)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusFailed, res.Status)
	// Exactly one refresh attempt before giving up.
	require.Equal(t, 1, refreshes)

	// The auth failure was recorded against the credential.
	row, err := e.store.GetCredential(ctx, e.tenantID, types.ChannelTypeThreads)
	require.NoError(t, err)
	require.Equal(t, types.CredentialStatusError, row.Status)
}

func TestWorkerDeadLettersTerminalFailure(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	post := e.addPost(t, types.PostStatusPublishing)
	e.addChannel(t, types.ChannelTypeX, types.SandboxSimulateRateLimit)

	w := NewWorker(e.publisher, e.queue)
	payload, err := json.Marshal(queue.PublishPayload{PostID: post.ID})
	require.NoError(t, err)
	job := &queue.Job{
		ID:          uuid.New(),
		TenantID:    e.tenantID,
		Type:        queue.JobPublishPost,
		Payload:     payload,
		Attempt:     defaults.MaxPublishAttempts - 1,
		MaxAttempts: defaults.MaxPublishAttempts,
	}
	w.handleJob(ctx, job)

	got, err := e.store.GetPost(ctx, e.tenantID, post.ID)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusFailed, got.Status)

	jobs := e.store.FailedJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, defaults.QueuePublishing, jobs[0].Queue)
	require.Equal(t, e.tenantID, jobs[0].TenantID)
	require.Contains(t, jobs[0].Error, "all channels failed")
}
