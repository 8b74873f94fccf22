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
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/techappsUT/social-queue/lib/adapters/providererr"
	"github.com/techappsUT/social-queue/lib/credentials"
	"github.com/techappsUT/social-queue/lib/types"
)

const tiktokAPI = "https://open.tiktokapis.com/v2"

const (
	tiktokPollInterval = 3 * time.Second
	tiktokMaxPolls     = 6
)

// tiktokAdapter publishes through the v2 direct-post flow: init the upload
// from a pull URL, then poll the publish status until the provider reports a
// terminal state.
type tiktokAdapter struct {
	http  *HTTPClient
	clock clockwork.Clock
}

func newTikTokAdapter(client *HTTPClient, clock clockwork.Clock) *tiktokAdapter {
	return &tiktokAdapter{http: client, clock: clock}
}

func (a *tiktokAdapter) Type() types.ChannelType { return types.ChannelTypeTikTok }

func (a *tiktokAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{Video: true, Shorts: true, MaxLength: 2200}
}

func (a *tiktokAdapter) headers(tokens credentials.TokenSet) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tokens.AccessToken}
}

func (a *tiktokAdapter) ValidateCredentials(ctx context.Context, tokens credentials.TokenSet) error {
	_, err := a.http.DoJSON(ctx, a.Type(), http.MethodGet,
		tiktokAPI+"/user/info/?fields=open_id", a.headers(tokens), nil)
	return trace.Wrap(err)
}

func (a *tiktokAdapter) RefreshCredentials(ctx context.Context, tokens credentials.TokenSet) (credentials.TokenSet, error) {
	resp, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		tiktokAPI+"/oauth/token/", nil, map[string]any{
			"grant_type":    "refresh_token",
			"refresh_token": tokens.RefreshToken,
		})
	if err != nil {
		return credentials.TokenSet{}, trace.Wrap(err)
	}
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
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

// PublishText is unsupported: TikTok only accepts video. The publisher
// routes on capabilities and should never call this.
func (a *tiktokAdapter) PublishText(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	return nil, trace.BadParameter("tiktok requires a video attachment")
}

func (a *tiktokAdapter) PublishMedia(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	initResp, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
		tiktokAPI+"/post/publish/video/init/", a.headers(req.Tokens), map[string]any{
			"post_info": map[string]any{
				"title":           req.Post.Title,
				"privacy_level":   "PUBLIC_TO_EVERYONE",
				"disable_comment": false,
			},
			"source_info": map[string]any{
				"source":    "PULL_FROM_URL",
				"video_url": req.Post.MediaURL,
			},
		})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var initOut struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
	}
	if err := initResp.Decode(&initOut); err != nil {
		return nil, trace.Wrap(err)
	}
	publishID := initOut.Data.PublishID
	if publishID == "" {
		return nil, trace.BadParameter("tiktok init returned no publish id")
	}

	for i := 0; i < tiktokMaxPolls; i++ {
		statusResp, err := a.http.DoJSON(ctx, a.Type(), http.MethodPost,
			tiktokAPI+"/post/publish/status/fetch/", a.headers(req.Tokens), map[string]any{
				"publish_id": publishID,
			})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		var statusOut struct {
			Data struct {
				Status        string   `json:"status"`
				PublicPostIDs []string `json:"publicaly_available_post_id"`
				FailReason    string   `json:"fail_reason"`
			} `json:"data"`
		}
		if err := statusResp.Decode(&statusOut); err != nil {
			return nil, trace.Wrap(err)
		}
		switch statusOut.Data.Status {
		case "PUBLISH_COMPLETE":
			externalID := publishID
			if len(statusOut.Data.PublicPostIDs) > 0 {
				externalID = statusOut.Data.PublicPostIDs[0]
			}
			return &PublishResult{
				ExternalPostID: externalID,
				Metadata:       map[string]any{"publish_id": publishID},
			}, nil
		case "FAILED":
			return nil, providererr.Normalize(a.Type(), 400, statusOut.Data.FailReason, "tiktok publish failed")
		}
		select {
		case <-ctx.Done():
			return nil, providererr.NormalizeTransport(a.Type(), ctx.Err())
		case <-a.clock.After(tiktokPollInterval):
		}
	}
	// Still processing after the poll budget; the attempt is retryable and
	// the external-id constraint dedupes if the upload lands later.
	return nil, providererr.Normalize(a.Type(), 0, "processing_timeout", "tiktok publish still processing")
}
