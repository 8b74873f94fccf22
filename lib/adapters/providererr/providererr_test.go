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

package providererr

import (
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/techappsUT/social-queue/lib/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		desc      string
		status    int
		code      string
		class     Class
		retryable bool
		action    string
	}{
		{desc: "unauthorized", status: 401, class: ClassAuth, retryable: false, action: ActionReconnect},
		{desc: "facebook oauth subcode", status: 400, code: "190", class: ClassAuth, retryable: false, action: ActionReconnect},
		{desc: "x invalid token", status: 200, code: "89", class: ClassAuth, retryable: false, action: ActionReconnect},
		{desc: "throttled", status: 429, class: ClassRateLimit, retryable: true, action: ActionBackoff},
		{desc: "x rate code", status: 403, code: "", class: ClassAuth, retryable: false, action: ActionReconnect},
		{desc: "tiktok spam guard", status: 400, code: "spam_risk_too_many_posts", class: ClassRateLimit, retryable: true, action: ActionBackoff},
		{desc: "duplicate content", status: 400, code: "duplicate", class: ClassContentRejected, retryable: false, action: ActionReviewContent},
		{desc: "provider outage", status: 503, class: ClassServerError, retryable: true, action: ActionRetry},
		{desc: "unknown 4xx is permanent", status: 422, code: "whatever", class: ClassContentRejected, retryable: false, action: ActionReviewContent},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			e := Normalize(types.ChannelTypeLinkedIn, tt.status, tt.code, "boom")
			require.Equal(t, tt.class, e.Class)
			require.Equal(t, tt.retryable, e.Retryable)
			require.Equal(t, tt.action, e.SuggestedAction)
		})
	}
}

func TestHelpers(t *testing.T) {
	auth := Normalize(types.ChannelTypeFacebook, 401, "", "expired")
	require.True(t, IsAuth(auth))
	require.False(t, IsRetryable(auth))

	rate := Normalize(types.ChannelTypeX, 429, "88", "slow down")
	require.True(t, IsRateLimit(rate))
	require.True(t, IsRetryable(rate))

	// Wrapped errors still classify.
	wrapped := trace.Wrap(auth)
	require.True(t, IsAuth(wrapped))

	// Unclassified errors are treated as retryable.
	require.True(t, IsRetryable(trace.ConnectionProblem(nil, "dial tcp: timeout")))
}

func TestMetadata(t *testing.T) {
	e := Normalize(types.ChannelTypeThreads, 429, "too_many_requests", "limit hit")
	md := e.Metadata()
	require.Equal(t, "rate_limit", md["class"])
	require.Equal(t, true, md["retryable"])
	require.Equal(t, ActionBackoff, md["suggested_action"])
}
