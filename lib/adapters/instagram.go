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

// Channel metadata key holding the Instagram business account id.
const instagramUserKey = "ig_user_id"

// instagramAdapter publishes through the Graph API two-step flow: create a
// media container, then publish it.
type instagramAdapter struct {
	http *HTTPClient
}

func newInstagramAdapter(client *HTTPClient) *instagramAdapter {
	return &instagramAdapter{http: client}
}

func (a *instagramAdapter) Type() types.ChannelType { return types.ChannelTypeInstagram }

func (a *instagramAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{Image: true, Video: true, Reels: true, MaxLength: 2200}
}

func (a *instagramAdapter) ValidateCredentials(ctx context.Context, tokens credentials.TokenSet) error {
	u := fmt.Sprintf("%s/me?access_token=%s", graphAPI, url.QueryEscape(tokens.AccessToken))
	_, err := a.http.DoJSON(ctx, a.Type(), http.MethodGet, u, nil, nil)
	return trace.Wrap(err)
}

func (a *instagramAdapter) RefreshCredentials(ctx context.Context, tokens credentials.TokenSet) (credentials.TokenSet, error) {
	u := fmt.Sprintf("%s/oauth/access_token?grant_type=fb_exchange_token&fb_exchange_token=%s",
		graphAPI, url.QueryEscape(tokens.AccessToken))
	resp, err := a.http.DoJSON(ctx, a.Type(), http.MethodGet, u, nil, nil)
	if err != nil {
		return credentials.TokenSet{}, trace.Wrap(err)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := resp.Decode(&out); err != nil {
		return credentials.TokenSet{}, trace.Wrap(err)
	}
	return credentials.TokenSet{AccessToken: out.AccessToken, Scopes: tokens.Scopes}, nil
}

// PublishText is unsupported: Instagram has no text-only post type. The
// publisher routes on capabilities and should never call this.
func (a *instagramAdapter) PublishText(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	return nil, trace.BadParameter("instagram requires a media attachment")
}

func (a *instagramAdapter) PublishMedia(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	userID := req.Channel.Metadata[instagramUserKey]
	if userID == "" {
		return nil, trace.BadParameter("instagram channel %v has no %s", req.Channel.ID, instagramUserKey)
	}

	create, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		fmt.Sprintf("%s/%s/media", graphAPI, userID), nil, map[string]any{
			"image_url":    req.Post.MediaURL,
			"caption":      req.Post.Content,
			"access_token": req.Tokens.AccessToken,
		})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var container struct {
		ID string `json:"id"`
	}
	if err := create.Decode(&container); err != nil {
		return nil, trace.Wrap(err)
	}

	publish, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		fmt.Sprintf("%s/%s/media_publish", graphAPI, userID), nil, map[string]any{
			"creation_id":  container.ID,
			"access_token": req.Tokens.AccessToken,
		})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := publish.Decode(&out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &PublishResult{
		ExternalPostID: out.ID,
		Metadata:       map[string]any{"creation_id": container.ID},
	}, nil
}
