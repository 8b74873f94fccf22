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

const xAPI = "https://api.x.com/2"

type xAdapter struct {
	http *HTTPClient
}

func newXAdapter(client *HTTPClient) *xAdapter {
	return &xAdapter{http: client}
}

func (a *xAdapter) Type() types.ChannelType { return types.ChannelTypeX }

func (a *xAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{Text: true, Image: true, Video: true, MaxLength: 280}
}

func (a *xAdapter) headers(tokens credentials.TokenSet) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tokens.AccessToken}
}

func (a *xAdapter) ValidateCredentials(ctx context.Context, tokens credentials.TokenSet) error {
	_, err := a.http.DoJSON(ctx, a.Type(), http.MethodGet, xAPI+"/users/me", a.headers(tokens), nil)
	return trace.Wrap(err)
}

func (a *xAdapter) RefreshCredentials(ctx context.Context, tokens credentials.TokenSet) (credentials.TokenSet, error) {
	resp, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		xAPI+"/oauth2/token", nil, map[string]any{
			"grant_type":    "refresh_token",
			"refresh_token": tokens.RefreshToken,
		})
	if err != nil {
		return credentials.TokenSet{}, trace.Wrap(err)
	}
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := resp.Decode(&out); err != nil {
		return credentials.TokenSet{}, trace.Wrap(err)
	}
	return credentials.TokenSet{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		Scopes:       tokens.Scopes,
	}, nil
}

func (a *xAdapter) PublishText(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	resp, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		xAPI+"/tweets", a.headers(req.Tokens), map[string]any{"text": req.Post.Content})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &PublishResult{
		ExternalPostID: out.Data.ID,
		URL:            fmt.Sprintf("https://x.com/i/status/%s", out.Data.ID),
	}, nil
}

// PublishMedia posts text referencing the media URL. First-party media upload
// needs the v1.1 chunked endpoint and an upgraded API tier.
// TODO: switch to native media upload once the account tier supports it.
func (a *xAdapter) PublishMedia(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	text := req.Post.Content
	if req.Post.MediaURL != "" {
		text = fmt.Sprintf("%s %s", text, req.Post.MediaURL)
	}
	resp, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		xAPI+"/tweets", a.headers(req.Tokens), map[string]any{"text": text})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &PublishResult{
		ExternalPostID: out.Data.ID,
		URL:            fmt.Sprintf("https://x.com/i/status/%s", out.Data.ID),
	}, nil
}
