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
	"net/url"

	"github.com/gravitational/trace"

	"github.com/techappsUT/social-queue/lib/credentials"
	"github.com/techappsUT/social-queue/lib/types"
)

const graphAPI = "https://graph.facebook.com/v19.0"

// Channel metadata key holding the Facebook page id posts go to.
const facebookPageKey = "page_id"

type facebookAdapter struct {
	http *HTTPClient
}

func newFacebookAdapter(client *HTTPClient) *facebookAdapter {
	return &facebookAdapter{http: client}
}

func (a *facebookAdapter) Type() types.ChannelType { return types.ChannelTypeFacebook }

func (a *facebookAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{Text: true, Image: true, Video: true, Reels: true, MaxLength: 63206}
}

func (a *facebookAdapter) ValidateCredentials(ctx context.Context, tokens credentials.TokenSet) error {
	u := fmt.Sprintf("%s/me?access_token=%s", graphAPI, url.QueryEscape(tokens.AccessToken))
	_, err := a.http.DoJSON(ctx, a.Type(), http.MethodGet, u, nil, nil)
	return trace.Wrap(err)
}

func (a *facebookAdapter) RefreshCredentials(ctx context.Context, tokens credentials.TokenSet) (credentials.TokenSet, error) {
	// Long-lived page tokens are renewed through the exchange endpoint
	// using the current token itself.
	u := fmt.Sprintf("%s/oauth/access_token?grant_type=fb_exchange_token&fb_exchange_token=%s",
		graphAPI, url.QueryEscape(tokens.AccessToken))
	resp, err := a.http.DoJSON(ctx, a.Type(), http.MethodGet, u, nil, nil)
	if err != nil {
		return credentials.TokenSet{}, trace.Wrap(err)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := resp.Decode(&out); err != nil {
		return credentials.TokenSet{}, trace.Wrap(err)
	}
	return credentials.TokenSet{AccessToken: out.AccessToken, Scopes: tokens.Scopes}, nil
}

func (a *facebookAdapter) publish(ctx context.Context, req PublishRequest, endpoint string, body map[string]any) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	pageID := req.Channel.Metadata[facebookPageKey]
	if pageID == "" {
		return nil, trace.BadParameter("facebook channel %v has no %s", req.Channel.ID, facebookPageKey)
	}
	body["access_token"] = req.Tokens.AccessToken
	resp, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		fmt.Sprintf("%s/%s/%s", graphAPI, pageID, endpoint), nil, body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, trace.Wrap(err)
	}
	externalID := out.PostID
	if externalID == "" {
		externalID = out.ID
	}
	return &PublishResult{
		ExternalPostID: externalID,
		URL:            fmt.Sprintf("https://www.facebook.com/%s", externalID),
	}, nil
}

func (a *facebookAdapter) PublishText(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	return a.publish(ctx, req, "feed", map[string]any{"message": req.Post.Content})
}

func (a *facebookAdapter) PublishMedia(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	return a.publish(ctx, req, "photos", map[string]any{
		"url":     req.Post.MediaURL,
		"caption": req.Post.Content,
	})
}
