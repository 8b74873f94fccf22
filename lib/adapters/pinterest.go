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

const pinterestAPI = "https://api.pinterest.com/v5"

// Channel metadata key holding the board pins go to.
const pinterestBoardKey = "board_id"

type pinterestAdapter struct {
	http *HTTPClient
}

func newPinterestAdapter(client *HTTPClient) *pinterestAdapter {
	return &pinterestAdapter{http: client}
}

func (a *pinterestAdapter) Type() types.ChannelType { return types.ChannelTypePinterest }

func (a *pinterestAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{Image: true, Video: true, MaxLength: 500}
}

func (a *pinterestAdapter) headers(tokens credentials.TokenSet) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tokens.AccessToken}
}

func (a *pinterestAdapter) ValidateCredentials(ctx context.Context, tokens credentials.TokenSet) error {
	_, err := a.http.DoJSON(ctx, a.Type(), http.MethodGet,
		pinterestAPI+"/user_account", a.headers(tokens), nil)
	return trace.Wrap(err)
}

func (a *pinterestAdapter) RefreshCredentials(ctx context.Context, tokens credentials.TokenSet) (credentials.TokenSet, error) {
	resp, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		pinterestAPI+"/oauth/token", nil, map[string]any{
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

// PublishText is unsupported: a pin requires media. The publisher routes on
// capabilities and should never call this.
func (a *pinterestAdapter) PublishText(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	return nil, trace.BadParameter("pinterest requires a media attachment")
}

func (a *pinterestAdapter) PublishMedia(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	boardID := req.Channel.Metadata[pinterestBoardKey]
	if boardID == "" {
		return nil, trace.BadParameter("pinterest channel %v has no %s", req.Channel.ID, pinterestBoardKey)
	}
	resp, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		pinterestAPI+"/pins", a.headers(req.Tokens), map[string]any{
			"board_id":    boardID,
			"title":       req.Post.Title,
			"description": req.Post.Content,
			"media_source": map[string]any{
				"source_type": "image_url",
				"url":         req.Post.MediaURL,
			},
		})
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
		URL:            fmt.Sprintf("https://www.pinterest.com/pin/%s/", out.ID),
	}, nil
}
