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

// Package adapters holds the per-platform delivery connectors. One adapter
// serves each channel type behind a uniform contract; the publisher never
// sees provider-specific shapes, only PublishResult and classified errors
// from lib/adapters/providererr.
//
// Adapters are side-effect free toward the store. The website adapter
// computes its slug and URL and hands them back in result metadata; the
// publisher persists both publication rows inside its owning transaction.
package adapters

import (
	"context"

	"github.com/techappsUT/social-queue/lib/credentials"
	"github.com/techappsUT/social-queue/lib/types"
)

// PublishRequest carries everything an adapter needs for one delivery.
type PublishRequest struct {
	Post    *types.Post
	Channel *types.Channel
	Tokens  credentials.TokenSet
}

// PublishResult is the provider's acknowledgment of a delivery.
type PublishResult struct {
	// ExternalPostID is the provider-side identifier. Unique per channel;
	// the store's uniqueness constraint on it backs replay detection.
	ExternalPostID string
	// URL is the public location of the published post, when the provider
	// reports one.
	URL string
	// Metadata carries provider-specific response fields worth keeping.
	Metadata map[string]any
}

// Adapter is the delivery contract for one channel type.
type Adapter interface {
	// Type names the channel type this adapter serves.
	Type() types.ChannelType
	// Capabilities advertises what the platform can deliver; the publisher
	// routes between text and media delivery on it.
	Capabilities() types.Capabilities
	// ValidateCredentials performs a cheap provider call proving the token
	// works. A classified auth error means reconnect.
	ValidateCredentials(ctx context.Context, tokens credentials.TokenSet) error
	// RefreshCredentials exchanges the refresh token for a new token set.
	RefreshCredentials(ctx context.Context, tokens credentials.TokenSet) (credentials.TokenSet, error)
	// PublishText delivers a text-only post.
	PublishText(ctx context.Context, req PublishRequest) (*PublishResult, error)
	// PublishMedia delivers a post with its media attachment.
	PublishMedia(ctx context.Context, req PublishRequest) (*PublishResult, error)
}
