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
	"fmt"
	"net/http"

	"github.com/gravitational/trace"

	"github.com/techappsUT/social-queue/lib/credentials"
	"github.com/techappsUT/social-queue/lib/types"
)

const linkedinAPI = "https://api.linkedin.com/v2"

// Channel metadata key holding the member or organization URN posts are
// authored as.
const linkedinAuthorKey = "author_urn"

type linkedinAdapter struct {
	http *HTTPClient
}

func newLinkedInAdapter(client *HTTPClient) *linkedinAdapter {
	return &linkedinAdapter{http: client}
}

func (a *linkedinAdapter) Type() types.ChannelType { return types.ChannelTypeLinkedIn }

func (a *linkedinAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{Text: true, Image: true, Video: true, MaxLength: 3000}
}

func (a *linkedinAdapter) headers(tokens credentials.TokenSet) map[string]string {
	return map[string]string{
		"Authorization":             "Bearer " + tokens.AccessToken,
		"X-Restli-Protocol-Version": "2.0.0",
	}
}

func (a *linkedinAdapter) ValidateCredentials(ctx context.Context, tokens credentials.TokenSet) error {
	_, err := a.http.DoJSON(ctx, a.Type(), http.MethodGet, linkedinAPI+"/me", a.headers(tokens), nil)
	return trace.Wrap(err)
}

func (a *linkedinAdapter) RefreshCredentials(ctx context.Context, tokens credentials.TokenSet) (credentials.TokenSet, error) {
	// LinkedIn programmatic refresh is limited to approved partners; tokens
	// are long-lived and reconnection is the recovery path.
	return credentials.TokenSet{}, trace.NotImplemented("linkedin tokens cannot be refreshed, reconnect the channel")
}

func (a *linkedinAdapter) publish(ctx context.Context, req PublishRequest, mediaCategory string, media []map[string]any) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	author := req.Channel.Metadata[linkedinAuthorKey]
	if author == "" {
		return nil, trace.BadParameter("linkedin channel %v has no %s", req.Channel.ID, linkedinAuthorKey)
	}
	shareContent := map[string]any{
		"shareCommentary":    map[string]any{"text": req.Post.Content},
		"shareMediaCategory": mediaCategory,
	}
	if len(media) > 0 {
		shareContent["media"] = media
	}
	body := map[string]any{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": shareContent,
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	resp, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost, linkedinAPI+"/ugcPosts", a.headers(req.Tokens), body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &PublishResult{
		ExternalPostID: out.ID,
		URL:            fmt.Sprintf("https://www.linkedin.com/feed/update/%s", out.ID),
	}, nil
}

func (a *linkedinAdapter) PublishText(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	return a.publish(ctx, req, "NONE", nil)
}

func (a *linkedinAdapter) PublishMedia(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	media := []map[string]any{{
		"status":      "READY",
		"originalUrl": req.Post.MediaURL,
	}}
	return a.publish(ctx, req, "ARTICLE", media)
}
