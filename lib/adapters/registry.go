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
	"net/http"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/techappsUT/social-queue/lib/types"
)

// RegistryConfig holds Registry construction parameters.
type RegistryConfig struct {
	// HTTPClient is the shared outbound client. A nil client gets the
	// default adapter client.
	HTTPClient *HTTPClient
	// WebsiteBaseURL is the public base the website adapter builds post
	// URLs from.
	WebsiteBaseURL string
	// Clock drives upload status polling.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *RegistryConfig) CheckAndSetDefaults() error {
	if c.HTTPClient == nil {
		c.HTTPClient = NewHTTPClient(&http.Client{})
	}
	if c.WebsiteBaseURL == "" {
		c.WebsiteBaseURL = "https://posts.socialqueue.local"
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Registry resolves channel types to their adapters. The set is static: every
// supported platform is registered at construction.
type Registry struct {
	adapters map[types.ChannelType]Adapter
}

// NewRegistry builds the full adapter set.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	r := &Registry{adapters: make(map[types.ChannelType]Adapter)}
	for _, a := range []Adapter{
		newWebsiteAdapter(cfg.WebsiteBaseURL),
		newLinkedInAdapter(cfg.HTTPClient),
		newFacebookAdapter(cfg.HTTPClient),
		newInstagramAdapter(cfg.HTTPClient),
		newTikTokAdapter(cfg.HTTPClient, cfg.Clock),
		newThreadsAdapter(cfg.HTTPClient),
		newXAdapter(cfg.HTTPClient),
		newPinterestAdapter(cfg.HTTPClient),
	} {
		r.adapters[a.Type()] = a
	}
	return r, nil
}

// GetAdapter resolves the adapter for a channel type.
func (r *Registry) GetAdapter(t types.ChannelType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, trace.NotImplemented("no adapter registered for channel type %q", t)
	}
	return a, nil
}

// Types lists the registered channel types.
func (r *Registry) Types() []types.ChannelType {
	out := make([]types.ChannelType, 0, len(r.adapters))
	for _, t := range types.AllChannelTypes {
		if _, ok := r.adapters[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
