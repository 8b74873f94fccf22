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
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/techappsUT/social-queue/lib/credentials"
	"github.com/techappsUT/social-queue/lib/types"
)

// websiteAdapter is the built-in first-party channel. There is no provider
// to call: publishing means minting a slug and URL that the publisher
// persists as a website publication inside its transaction.
type websiteAdapter struct {
	baseURL string
}

func newWebsiteAdapter(baseURL string) *websiteAdapter {
	return &websiteAdapter{baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *websiteAdapter) Type() types.ChannelType { return types.ChannelTypeWebsite }

func (a *websiteAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{Text: true, Image: true}
}

func (a *websiteAdapter) ValidateCredentials(ctx context.Context, tokens credentials.TokenSet) error {
	return nil
}

func (a *websiteAdapter) RefreshCredentials(ctx context.Context, tokens credentials.TokenSet) (credentials.TokenSet, error) {
	return tokens, nil
}

func (a *websiteAdapter) PublishText(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if res, err, ok := sandboxShortCircuit(req); ok {
		return res, err
	}
	slug := Slug(req.Post.Title)
	return &PublishResult{
		ExternalPostID: slug,
		URL:            fmt.Sprintf("%s/%s", a.baseURL, slug),
		Metadata:       map[string]any{"slug": slug},
	}, nil
}

func (a *websiteAdapter) PublishMedia(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	return a.PublishText(ctx, req)
}

// Slug builds a website slug from a title: lowercase, hyphen-separated,
// suffixed with 8 uuid characters so equal titles never collide on the
// per-tenant slug constraint.
func Slug(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 60 {
		slug = strings.Trim(slug[:60], "-")
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	if slug == "" {
		return suffix
	}
	return slug + "-" + suffix
}
