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

package credentials

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

func newTestStore(t *testing.T) (*Store, *storage.Mem, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	mem := storage.NewMem(clock)

	mr := miniredis.RunT(t)
	fast, err := kv.New(kv.Config{
		Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Clock:  clock,
	})
	require.NoError(t, err)

	key := bytes.Repeat([]byte{0x42}, 32)
	s, err := New(Config{Backend: mem, KV: fast, MasterKey: key, Clock: clock})
	require.NoError(t, err)
	return s, mem, clock
}

func TestSealRoundTrip(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	exp := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, tenantID, types.ChannelTypeLinkedIn, TokenSet{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-xyz",
		ExpiresAt:    &exp,
		Scopes:       []string{"w_member_social"},
	}))

	// The persisted row holds ciphertext, not the token.
	row, err := mem.GetCredential(ctx, tenantID, types.ChannelTypeLinkedIn)
	require.NoError(t, err)
	require.NotContains(t, string(row.AccessCiphertext), "access-abc")
	require.Equal(t, types.CredentialStatusActive, row.Status)

	got, err := s.Get(ctx, tenantID, types.ChannelTypeLinkedIn)
	require.NoError(t, err)
	require.Equal(t, "access-abc", got.AccessToken)
	require.Equal(t, "refresh-xyz", got.RefreshToken)
}

func TestRevokedCredentialRefused(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	require.NoError(t, s.Put(ctx, tenantID, types.ChannelTypeFacebook, TokenSet{AccessToken: "tok"}))
	require.NoError(t, s.Revoke(ctx, tenantID, types.ChannelTypeFacebook, "user disconnected"))

	_, err := s.Get(ctx, tenantID, types.ChannelTypeFacebook)
	require.True(t, trace.IsAccessDenied(err))
}

func TestExpiring(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	exp := clock.Now().Add(30 * time.Minute)
	require.NoError(t, s.Put(ctx, tenantID, types.ChannelTypeThreads, TokenSet{
		AccessToken: "tok", ExpiresAt: &exp,
	}))

	soon, err := s.Expiring(ctx, tenantID, types.ChannelTypeThreads, time.Hour)
	require.NoError(t, err)
	require.True(t, soon)

	soon, err = s.Expiring(ctx, tenantID, types.ChannelTypeThreads, 10*time.Minute)
	require.NoError(t, err)
	require.False(t, soon)
}

func TestRefreshPersistsAndKeepsOldRefreshToken(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	require.NoError(t, s.Put(ctx, tenantID, types.ChannelTypeX, TokenSet{
		AccessToken:  "old-access",
		RefreshToken: "long-lived-refresh",
	}))

	exp := clock.Now().Add(2 * time.Hour)
	renewed, err := s.Refresh(ctx, tenantID, types.ChannelTypeX, func(ctx context.Context, current TokenSet) (TokenSet, error) {
		require.Equal(t, "old-access", current.AccessToken)
		// Provider response omits a rotated refresh token.
		return TokenSet{AccessToken: "new-access", ExpiresAt: &exp}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "new-access", renewed.AccessToken)
	require.Equal(t, "long-lived-refresh", renewed.RefreshToken)

	got, err := s.Get(ctx, tenantID, types.ChannelTypeX)
	require.NoError(t, err)
	require.Equal(t, "new-access", got.AccessToken)
	require.Equal(t, "long-lived-refresh", got.RefreshToken)
}

func TestRefreshFailureMarksError(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	require.NoError(t, s.Put(ctx, tenantID, types.ChannelTypeTikTok, TokenSet{AccessToken: "tok"}))

	_, err := s.Refresh(ctx, tenantID, types.ChannelTypeTikTok, func(ctx context.Context, current TokenSet) (TokenSet, error) {
		return TokenSet{}, trace.AccessDenied("invalid_grant")
	})
	require.Error(t, err)

	row, err := mem.GetCredential(ctx, tenantID, types.ChannelTypeTikTok)
	require.NoError(t, err)
	require.Equal(t, types.CredentialStatusError, row.Status)
	require.Contains(t, row.LastError, "invalid_grant")
}
