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

package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/techappsUT/social-queue/lib/adapters/providererr"
	"github.com/techappsUT/social-queue/lib/types"
)

func TestRegistryCoversAllChannelTypes(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{})
	require.NoError(t, err)

	for _, ct := range types.AllChannelTypes {
		a, err := r.GetAdapter(ct)
		require.NoError(t, err, "channel type %v", ct)
		require.Equal(t, ct, a.Type())
	}

	_, err = r.GetAdapter(types.ChannelType("myspace"))
	require.True(t, trace.IsNotImplemented(err))
}

func TestMediaOnlyAdaptersRefuseText(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{})
	require.NoError(t, err)

	post := &types.Post{Content: "hello"}
	for _, ct := range []types.ChannelType{types.ChannelTypeInstagram, types.ChannelTypeTikTok, types.ChannelTypePinterest} {
		a, err := r.GetAdapter(ct)
		require.NoError(t, err)
		require.False(t, a.Capabilities().Text, "channel type %v", ct)

		_, err = a.PublishText(context.Background(), PublishRequest{
			Post:    post,
			Channel: &types.Channel{Type: ct},
		})
		require.True(t, trace.IsBadParameter(err), "channel type %v", ct)
	}
}

func TestSandboxScenarios(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{})
	require.NoError(t, err)
	a, err := r.GetAdapter(types.ChannelTypeLinkedIn)
	require.NoError(t, err)

	post := &types.Post{Title: "t", Content: "c"}
	channel := func(scenario string) *types.Channel {
		return &types.Channel{
			Type:     types.ChannelTypeLinkedIn,
			Metadata: map[string]string{types.SandboxScenarioKey: scenario},
		}
	}

	res, err := a.PublishText(context.Background(), PublishRequest{Post: post, Channel: channel(types.SandboxSimulateSuccess)})
	require.NoError(t, err)
	require.NotEmpty(t, res.ExternalPostID)

	_, err = a.PublishText(context.Background(), PublishRequest{Post: post, Channel: channel(types.SandboxSimulateRateLimit)})
	require.True(t, providererr.IsRateLimit(err))

	_, err = a.PublishText(context.Background(), PublishRequest{Post: post, Channel: channel(types.SandboxSimulateAuthError)})
	require.True(t, providererr.IsAuth(err))
}

func TestHTTPClientNormalizesProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"id":"123"}`))
		case "/auth":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":190,"type":"OAuthException","message":"token expired"}}`))
		case "/rate":
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"detail":"upstream exploded"}`))
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client())
	ctx := context.Background()

	resp, err := c.DoJSON(ctx, types.ChannelTypeFacebook, http.MethodGet, srv.URL+"/ok", nil, nil)
	require.NoError(t, err)
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, resp.Decode(&out))
	require.Equal(t, "123", out.ID)

	_, err = c.DoJSON(ctx, types.ChannelTypeFacebook, http.MethodGet, srv.URL+"/auth", nil, nil)
	require.True(t, providererr.IsAuth(err))
	pe, ok := providererr.AsError(err)
	require.True(t, ok)
	require.Equal(t, "190", pe.ProviderCode)

	_, err = c.DoJSON(ctx, types.ChannelTypeX, http.MethodGet, srv.URL+"/rate", nil, nil)
	require.True(t, providererr.IsRateLimit(err))

	_, err = c.DoJSON(ctx, types.ChannelTypeThreads, http.MethodGet, srv.URL+"/boom", nil, nil)
	require.True(t, providererr.IsRetryable(err))
	pe, ok = providererr.AsError(err)
	require.True(t, ok)
	require.Equal(t, providererr.ClassServerError, pe.Class)
}

func TestHTTPClientBreakerOpens(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := c.DoJSON(ctx, types.ChannelTypeX, http.MethodGet, srv.URL, nil, nil)
		require.Error(t, err)
	}
	served := calls

	// The breaker is open now: calls fail fast without reaching the server.
	_, err := c.DoJSON(ctx, types.ChannelTypeX, http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	require.True(t, providererr.IsRetryable(err))
	require.Equal(t, served, calls)
}

func TestSlug(t *testing.T) {
	s := Slug("Five Tips for Q3, Part 2!")
	require.True(t, strings.HasPrefix(s, "five-tips-for-q3-part-2-"), s)
	require.Len(t, strings.TrimPrefix(s, "five-tips-for-q3-part-2-"), 8)

	// Equal titles still produce distinct slugs.
	require.NotEqual(t, Slug("same title"), Slug("same title"))

	// Empty and symbol-only titles degrade to the suffix.
	require.Len(t, Slug("!!!"), 8)
}
