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

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/techappsUT/social-queue/lib/events"
	"github.com/techappsUT/social-queue/lib/types"
)

func newTestStore(t *testing.T) (*Mem, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewMem(clock), clock
}

func makePost(t *testing.T, s Store, tenantID uuid.UUID, status types.PostStatus, publishAt *time.Time) *types.Post {
	t.Helper()
	post := &types.Post{
		TenantID:  tenantID,
		ProjectID: uuid.New(),
		Title:     "Launch day",
		Content:   "We are live.",
		Status:    status,
		PublishAt: publishAt,
	}
	require.NoError(t, s.CreatePost(context.Background(), post))
	return post
}

func TestTenantScoping(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetPost(ctx, uuid.Nil, uuid.New())
	require.True(t, trace.IsBadParameter(err))

	_, err = s.ListActiveChannels(ctx, uuid.Nil, uuid.New())
	require.True(t, trace.IsBadParameter(err))

	err = s.AppendPublishEvent(ctx, &types.PublishEvent{PostID: uuid.New()})
	require.True(t, trace.IsBadParameter(err))

	// A post created under one tenant is invisible to another.
	tenantA, tenantB := uuid.New(), uuid.New()
	post := makePost(t, s, tenantA, types.PostStatusDraft, nil)

	got, err := s.GetPost(ctx, tenantA, post.ID)
	require.NoError(t, err)
	require.Equal(t, post.ID, got.ID)

	_, err = s.GetPost(ctx, tenantB, post.ID)
	require.True(t, trace.IsNotFound(err))

	err = s.UpdatePostStatus(ctx, tenantB, post.ID, types.PostStatusFailed, "nope")
	require.True(t, trace.IsNotFound(err))
}

func TestPublicationUniqueness(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()
	postID, channelID := uuid.New(), uuid.New()

	pub := &types.ChannelPublication{
		TenantID:       tenantID,
		PostID:         postID,
		ChannelID:      channelID,
		Platform:       types.ChannelTypeLinkedIn,
		ExternalPostID: "urn:li:share:1",
	}
	require.NoError(t, s.CreatePublication(ctx, pub))

	// Same (post, channel) again: the at-most-once guard fires.
	dup := &types.ChannelPublication{
		TenantID:       tenantID,
		PostID:         postID,
		ChannelID:      channelID,
		Platform:       types.ChannelTypeLinkedIn,
		ExternalPostID: "urn:li:share:2",
	}
	err := s.CreatePublication(ctx, dup)
	require.True(t, trace.IsAlreadyExists(err))

	// Same external id on the same channel from a different post.
	replay := &types.ChannelPublication{
		TenantID:       tenantID,
		PostID:         uuid.New(),
		ChannelID:      channelID,
		Platform:       types.ChannelTypeLinkedIn,
		ExternalPostID: "urn:li:share:1",
	}
	err = s.CreatePublication(ctx, replay)
	require.True(t, trace.IsAlreadyExists(err))

	// A different tenant can record the same external id.
	other := &types.ChannelPublication{
		TenantID:       uuid.New(),
		PostID:         uuid.New(),
		ChannelID:      channelID,
		Platform:       types.ChannelTypeLinkedIn,
		ExternalPostID: "urn:li:share:1",
	}
	require.NoError(t, s.CreatePublication(ctx, other))
}

func TestWebsitePublicationSlugUnique(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	first := &types.WebsitePublication{
		TenantID: tenantID, PostID: uuid.New(), ChannelID: uuid.New(),
		Slug: "launch-day-a1b2c3d4", URL: "https://example.com/launch-day-a1b2c3d4",
	}
	require.NoError(t, s.CreateWebsitePublication(ctx, first))

	err := s.CreateWebsitePublication(ctx, &types.WebsitePublication{
		TenantID: tenantID, PostID: uuid.New(), ChannelID: uuid.New(),
		Slug: "launch-day-a1b2c3d4", URL: "https://example.com/other",
	})
	require.True(t, trace.IsAlreadyExists(err))
}

func TestClaimDuePosts(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()
	now := clock.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	due := makePost(t, s, tenantID, types.PostStatusScheduled, &past)
	makePost(t, s, tenantID, types.PostStatusScheduled, &future)
	makePost(t, s, tenantID, types.PostStatusDraft, nil)

	// Claiming outside a transaction is refused.
	_, err := s.ClaimDuePosts(ctx, now, 10)
	require.True(t, trace.IsBadParameter(err))

	err = s.Tx(ctx, func(tx Store) error {
		claimed, err := tx.ClaimDuePosts(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.Equal(t, due.ID, claimed[0].ID)
		return tx.UpdatePostStatus(ctx, tenantID, claimed[0].ID, types.PostStatusPublishing, "")
	})
	require.NoError(t, err)

	got, err := s.GetPost(ctx, tenantID, due.ID)
	require.NoError(t, err)
	require.Equal(t, types.PostStatusPublishing, got.Status)

	// The second scan finds nothing left to claim.
	err = s.Tx(ctx, func(tx Store) error {
		claimed, err := tx.ClaimDuePosts(ctx, now, 10)
		require.NoError(t, err)
		require.Empty(t, claimed)
		return nil
	})
	require.NoError(t, err)
}

func TestPublishEventAttemptUnique(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tenantID, postID, channelID := uuid.New(), uuid.New(), uuid.New()

	ev := &types.PublishEvent{
		TenantID:  tenantID,
		PostID:    postID,
		ChannelID: &channelID,
		Type:      events.ChannelPublishFailed,
		Status:    types.EventStatusError,
		Attempt:   1,
	}
	require.NoError(t, s.AppendPublishEvent(ctx, ev))
	require.Equal(t, int64(1), ev.ID)

	dup := &types.PublishEvent{
		TenantID:  tenantID,
		PostID:    postID,
		ChannelID: &channelID,
		Type:      events.ChannelPublishFailed,
		Status:    types.EventStatusError,
		Attempt:   1,
	}
	err := s.AppendPublishEvent(ctx, dup)
	require.True(t, trace.IsAlreadyExists(err))

	next := &types.PublishEvent{
		TenantID:  tenantID,
		PostID:    postID,
		ChannelID: &channelID,
		Type:      events.ChannelPublishSucceeded,
		Status:    types.EventStatusOK,
		Attempt:   2,
	}
	require.NoError(t, s.AppendPublishEvent(ctx, next))

	last, err := s.LastChannelAttempt(ctx, tenantID, postID, channelID)
	require.NoError(t, err)
	require.Equal(t, 2, last)
}

func TestConsecutiveChannelFailures(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	tenantID, channelID := uuid.New(), uuid.New()
	since := clock.Now().Add(-time.Hour)

	append := func(postID uuid.UUID, typ string, status types.EventStatus, attempt int) {
		require.NoError(t, s.AppendPublishEvent(ctx, &types.PublishEvent{
			TenantID: tenantID, PostID: postID, ChannelID: &channelID,
			Type: typ, Status: status, Attempt: attempt,
		}))
	}

	append(uuid.New(), events.ChannelPublishSucceeded, types.EventStatusOK, 1)
	append(uuid.New(), events.ChannelPublishFailed, types.EventStatusError, 1)
	append(uuid.New(), events.ChannelPublishFailed, types.EventStatusError, 1)
	append(uuid.New(), events.ChannelPublishFailed, types.EventStatusError, 1)

	n, err := s.ConsecutiveChannelFailures(ctx, tenantID, channelID, since)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// A success resets the streak.
	append(uuid.New(), events.ChannelPublishSucceeded, types.EventStatusOK, 1)
	n, err = s.ConsecutiveChannelFailures(ctx, tenantID, channelID, since)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRunTerminalGuard(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tenantID, ruleID := uuid.New(), uuid.New()

	run := &types.AutomationRun{TenantID: tenantID, RuleID: ruleID}
	require.NoError(t, s.CreateRun(ctx, run))
	require.Equal(t, types.RunStatusQueued, run.Status)

	run.Status = types.RunStatusSuccess
	require.NoError(t, s.UpdateRun(ctx, run))

	// Terminal runs are immutable.
	run.Status = types.RunStatusFailed
	err := s.UpdateRun(ctx, run)
	require.True(t, trace.IsCompareFailed(err))

	got, err := s.GetRun(ctx, tenantID, run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunStatusSuccess, got.Status)
}

func TestRecentRunExists(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	tenantID, ruleID := uuid.New(), uuid.New()

	run := &types.AutomationRun{TenantID: tenantID, RuleID: ruleID}
	require.NoError(t, s.CreateRun(ctx, run))

	since := clock.Now().Add(-5 * time.Minute)
	ok, err := s.RecentRunExists(ctx, tenantID, ruleID, since, []types.RunStatus{
		types.RunStatusQueued, types.RunStatusRunning, types.RunStatusSuccess,
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.RecentRunExists(ctx, tenantID, ruleID, since, []types.RunStatus{types.RunStatusFailed})
	require.NoError(t, err)
	require.False(t, ok)

	// Outside the lookback window nothing matches.
	ok, err = s.RecentRunExists(ctx, tenantID, ruleID, clock.Now().Add(time.Minute), []types.RunStatus{types.RunStatusQueued})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDuplicateTopicLookup(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	tenantID, projectID := uuid.New(), uuid.New()

	item := &types.ContentItem{
		TenantID:  tenantID,
		ProjectID: projectID,
		Title:     "  Five   Tips for Q3  ",
		Body:      "…",
	}
	require.NoError(t, s.CreateContentItem(ctx, item))

	since := clock.Now().Add(-7 * 24 * time.Hour)
	ok, err := s.HasRecentContentTitle(ctx, tenantID, projectID, types.NormalizedTitle("five tips for q3"), since)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.HasRecentContentTitle(ctx, tenantID, projectID, types.NormalizedTitle("six tips for q3"), since)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUsageCounters(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	require.NoError(t, s.IncrementUsage(ctx, tenantID, 1, 0))
	require.NoError(t, s.IncrementUsage(ctx, tenantID, 1, 2))

	u, err := s.GetUsage(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 2, u.PostsPublished)
	require.Equal(t, 2, u.AIGenerations)

	// Month rollover resets counters.
	n, err := s.ResetUsageBefore(ctx, clock.Now().Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	u, err = s.GetUsage(ctx, tenantID)
	require.NoError(t, err)
	require.Zero(t, u.PostsPublished)
	require.Zero(t, u.AIGenerations)
}

func TestStripeEventDedupe(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.MarkStripeEventProcessed(ctx, "evt_123", "checkout.session.completed")
	require.NoError(t, err)
	require.True(t, first)

	first, err = s.MarkStripeEventProcessed(ctx, "evt_123", "checkout.session.completed")
	require.NoError(t, err)
	require.False(t, first)
}

func TestOpenIncidentLookup(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	channelID := uuid.New().String()

	ok, err := s.HasOpenIncident(ctx, types.IncidentConnectorDisabled, channelID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.CreateIncident(ctx, &types.PlatformIncident{
		Type:     types.IncidentConnectorDisabled,
		Severity: "high",
		Subject:  channelID,
	}))

	ok, err = s.HasOpenIncident(ctx, types.IncidentConnectorDisabled, channelID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEventLogCursorOrdering(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendPublishEvent(ctx, &types.PublishEvent{
			TenantID: tenantID, PostID: uuid.New(), Type: "post.published",
			Status: types.EventStatusOK,
		}))
		clock.Advance(time.Second)
	}

	all, err := s.ListPublishEventsAfter(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// Strictly-after semantics: the cursor row itself is excluded.
	rest, err := s.ListPublishEventsAfter(ctx, all[0].CreatedAt, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Greater(t, rest[0].ID, all[0].ID)
}
