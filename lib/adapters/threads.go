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

const threadsAPI = "https://graph.threads.net/v1.0"

// Channel metadata key holding the Threads user id.
const threadsUserKey = "user_id"

// threadsAdapter publishes through the container flow: create a media
// container, then publish it.
type threadsAdapter struct {
	http *HTTPClient
}

func newThreadsAdapter(client *HTTPClient) *threadsAdapter {
	return &threadsAdapter{http: client}
}

func (a *threadsAdapter) Type() types.ChannelType { return types.ChannelTypeThreads }

func (a *threadsAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{Text: true, Image: true, Video: true, MaxLength: 500}
}

func (a *threadsAdapter) ValidateCredentials(ctx context.Context, tokens credentials.TokenSet) error {
	u := fmt.Sprintf("%s/me?fields=id&access_token=%s", threadsAPI, url.QueryEscape(tokens.AccessToken))
	_, err := a.http.DoJSON(ctx, a.Type(), http.MethodGet, u, nil, nil)
	return trace.Wrap(err)
}

func (a *threadsAdapter) RefreshCredentials(ctx context.Context, tokens credentials.TokenSet) (credentials.TokenSet, error) {
	u := fmt.Sprintf("%s/refresh_access_token?grant_type=th_refresh_token&access_token=%s",
		threadsAPI, url.QueryEscape(tokens.AccessToken))
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

func (a *threadsAdapter) publish(ctx context.Context, req PublishRequest, container map[string]any) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	userID := req.Channel.Metadata[threadsUserKey]
	if userID == "" {
		return nil, trace.BadParameter("threads channel %v has no %s", req.Channel.ID, threadsUserKey)
	}
	container["access_token"] = req.Tokens.AccessToken

	create, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		fmt.Sprintf("%s/%s/threads", threadsAPI, userID), nil, container)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := create.Decode(&created); err != nil {
		return nil, trace.Wrap(err)
	}

	publish, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		fmt.Sprintf("%s/%s/threads_publish", threadsAPI, userID), nil, map[string]any{
			"creation_id":  created.ID,
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
		Metadata:       map[string]any{"creation_id": created.ID},
	}, nil
}

func (a *threadsAdapter) PublishText(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	return a.publish(ctx, req, map[string]any{
		"media_type": "TEXT",
		"text":       req.Post.Content,
	})
}

func (a *threadsAdapter) PublishMedia(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	return a.publish(ctx, req, map[string]any{
		"media_type": "IMAGE",
		"image_url":  req.Post.MediaURL,
		"text":       req.Post.Content,
	})
}
