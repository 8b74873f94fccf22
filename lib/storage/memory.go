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

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/techappsUT/social-queue/lib/types"
)

// Mem is the in-memory Store used by tests. It enforces the same uniqueness
// and tenant-scoping invariants as the Postgres store. Transactions are
// serialized by a single mutex and are not rolled back on error; tests that
// exercise abort paths assert on the explicit compensation the engine
// performs rather than on implicit rollback.
type Mem struct {
	mu    *sync.Mutex
	inTx  bool
	clock clockwork.Clock
	d     *memData
}

type credKey struct {
	tenant    uuid.UUID
	connector types.ChannelType
}

type scopeKey struct {
	tenant  uuid.UUID
	project uuid.UUID
}

type memData struct {
	posts        map[uuid.UUID]*types.Post
	channels     map[uuid.UUID]*types.Channel
	publications []*types.ChannelPublication
	websitePubs  []*types.WebsitePublication

	publishEvents    []*types.PublishEvent
	automationEvents []*types.AutomationEvent
	eventSeq         int64
	autoEventSeq     int64

	rules map[uuid.UUID]*types.AutomationRule
	runs  []*types.AutomationRun

	contentItems    []*types.ContentItem
	templates       map[uuid.UUID]*types.ContentTemplate
	campaigns       map[uuid.UUID]*types.Campaign
	approvals       []*types.Approval
	qualityPolicies map[scopeKey]*types.QualityPolicy

	credentials   map[credKey]*types.ConnectorCredential
	retryPolicies map[types.ChannelType]*types.ChannelRetryPolicy
	rateLimits    map[types.ChannelType]*types.PlatformRateLimit
	flags         map[string]*types.FeatureFlag
	incidents     []*types.PlatformIncident
	risks         map[uuid.UUID]*types.TenantRiskScore
	subs          map[uuid.UUID]*types.CompanySubscription
	usages        map[uuid.UUID]*types.CompanyUsage
	failedJobs    []*types.FailedJob
	stripeEvents  map[string]*types.StripeEvent
	audit         []*types.AuditEntry
}

// NewMem creates an empty in-memory store.
func NewMem(clock clockwork.Clock) *Mem {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Mem{
		mu:    &sync.Mutex{},
		clock: clock,
		d: &memData{
			posts:         make(map[uuid.UUID]*types.Post),
			channels:      make(map[uuid.UUID]*types.Channel),
			rules:         make(map[uuid.UUID]*types.AutomationRule),
			templates:       make(map[uuid.UUID]*types.ContentTemplate),
			campaigns:       make(map[uuid.UUID]*types.Campaign),
			qualityPolicies: make(map[scopeKey]*types.QualityPolicy),
			credentials:   make(map[credKey]*types.ConnectorCredential),
			retryPolicies: make(map[types.ChannelType]*types.ChannelRetryPolicy),
			rateLimits:    make(map[types.ChannelType]*types.PlatformRateLimit),
			flags:         make(map[string]*types.FeatureFlag),
			risks:         make(map[uuid.UUID]*types.TenantRiskScore),
			subs:          make(map[uuid.UUID]*types.CompanySubscription),
			usages:        make(map[uuid.UUID]*types.CompanyUsage),
			stripeEvents:  make(map[string]*types.StripeEvent),
		},
	}
}

func (m *Mem) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// Tx serializes against all other store access and runs fn on a
// transaction-scoped view.
func (m *Mem) Tx(ctx context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return trace.Wrap(fn(m))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	child := *m
	child.inTx = true
	return trace.Wrap(fn(&child))
}

func clonePost(p *types.Post) *types.Post {
	out := *p
	if p.PublishAt != nil {
		t := *p.PublishAt
		out.PublishAt = &t
	}
	return &out
}

// CreatePost inserts a new post.
func (m *Mem) CreatePost(ctx context.Context, post *types.Post) error {
	if err := post.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	if _, ok := m.d.posts[post.ID]; ok {
		return trace.AlreadyExists("post %v already exists", post.ID)
	}
	now := m.clock.Now().UTC()
	post.CreatedAt, post.UpdatedAt = now, now
	m.d.posts[post.ID] = clonePost(post)
	return nil
}

// GetPost fetches one post within the tenant scope.
func (m *Mem) GetPost(ctx context.Context, tenantID, postID uuid.UUID) (*types.Post, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	p, ok := m.d.posts[postID]
	if !ok || p.TenantID != tenantID {
		return nil, trace.NotFound("post %v not found", postID)
	}
	return clonePost(p), nil
}

// UpdatePost persists post fields.
func (m *Mem) UpdatePost(ctx context.Context, post *types.Post) error {
	if err := checkTenant(post.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	existing, ok := m.d.posts[post.ID]
	if !ok || existing.TenantID != post.TenantID {
		return trace.NotFound("post %v not found", post.ID)
	}
	post.CreatedAt = existing.CreatedAt
	post.UpdatedAt = m.clock.Now().UTC()
	m.d.posts[post.ID] = clonePost(post)
	return nil
}

// UpdatePostStatus transitions the lifecycle state only.
func (m *Mem) UpdatePostStatus(ctx context.Context, tenantID, postID uuid.UUID, status types.PostStatus, lastError string) error {
	if err := checkTenant(tenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	p, ok := m.d.posts[postID]
	if !ok || p.TenantID != tenantID {
		return trace.NotFound("post %v not found", postID)
	}
	p.Status = status
	p.LastError = lastError
	p.UpdatedAt = m.clock.Now().UTC()
	return nil
}

// ClaimDuePosts selects due scheduled posts. Claiming is implicit: the Tx
// mutex serializes schedulers, and claimed posts leave the scheduled state
// before the transaction returns.
func (m *Mem) ClaimDuePosts(ctx context.Context, now time.Time, limit int) ([]*types.Post, error) {
	if !m.inTx {
		return nil, trace.BadParameter("ClaimDuePosts must run inside a transaction")
	}
	var out []*types.Post
	for _, p := range m.d.posts {
		if p.Status == types.PostStatusScheduled && p.PublishAt != nil && !p.PublishAt.After(now) {
			out = append(out, clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishAt.Before(*out[j].PublishAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListEligiblePublishNow returns draft and scheduled posts oldest first.
func (m *Mem) ListEligiblePublishNow(ctx context.Context, tenantID, projectID uuid.UUID, limit int) ([]*types.Post, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	var out []*types.Post
	for _, p := range m.d.posts {
		if p.TenantID != tenantID || p.ProjectID != projectID {
			continue
		}
		if p.Status == types.PostStatusDraft || p.Status == types.PostStatusScheduled {
			out = append(out, clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountPostsCreatedSince backs the per-day post cap guardrail.
func (m *Mem) CountPostsCreatedSince(ctx context.Context, tenantID, projectID uuid.UUID, since time.Time) (int, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, trace.Wrap(err)
	}
	defer m.lock()()
	n := 0
	for _, p := range m.d.posts {
		if p.TenantID == tenantID && p.ProjectID == projectID && !p.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func cloneChannel(c *types.Channel) *types.Channel {
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// CreateChannel inserts a channel; (tenant, project, type) is unique.
func (m *Mem) CreateChannel(ctx context.Context, channel *types.Channel) error {
	if err := channel.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	for _, c := range m.d.channels {
		if c.TenantID == channel.TenantID && c.ProjectID == channel.ProjectID && c.Type == channel.Type {
			return trace.AlreadyExists("channel %v already attached", channel.Type)
		}
	}
	now := m.clock.Now().UTC()
	channel.CreatedAt, channel.UpdatedAt = now, now
	m.d.channels[channel.ID] = cloneChannel(channel)
	return nil
}

// GetChannel fetches one channel within the tenant scope.
func (m *Mem) GetChannel(ctx context.Context, tenantID, channelID uuid.UUID) (*types.Channel, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	c, ok := m.d.channels[channelID]
	if !ok || c.TenantID != tenantID {
		return nil, trace.NotFound("channel %v not found", channelID)
	}
	return cloneChannel(c), nil
}

// ListActiveChannels returns the active channels of a project.
func (m *Mem) ListActiveChannels(ctx context.Context, tenantID, projectID uuid.UUID) ([]*types.Channel, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	var out []*types.Channel
	for _, c := range m.d.channels {
		if c.TenantID == tenantID && c.ProjectID == projectID && c.Status == types.ChannelStatusActive {
			out = append(out, cloneChannel(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// UpdateChannelStatus flips a channel between active and disabled.
func (m *Mem) UpdateChannelStatus(ctx context.Context, tenantID, channelID uuid.UUID, status types.ChannelStatus) error {
	if err := checkTenant(tenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	c, ok := m.d.channels[channelID]
	if !ok || c.TenantID != tenantID {
		return trace.NotFound("channel %v not found", channelID)
	}
	c.Status = status
	c.UpdatedAt = m.clock.Now().UTC()
	return nil
}

// CreatePublication records a successful delivery, enforcing both
// uniqueness constraints.
func (m *Mem) CreatePublication(ctx context.Context, pub *types.ChannelPublication) error {
	if err := checkTenant(pub.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	for _, existing := range m.d.publications {
		if existing.TenantID != pub.TenantID {
			continue
		}
		if existing.PostID == pub.PostID && existing.ChannelID == pub.ChannelID {
			return trace.AlreadyExists("publication for post %v channel %v exists", pub.PostID, pub.ChannelID)
		}
		if existing.ChannelID == pub.ChannelID && existing.ExternalPostID == pub.ExternalPostID {
			return trace.AlreadyExists("external post %q already recorded", pub.ExternalPostID)
		}
	}
	if pub.ID == uuid.Nil {
		pub.ID = uuid.New()
	}
	pub.CreatedAt = m.clock.Now().UTC()
	cp := *pub
	m.d.publications = append(m.d.publications, &cp)
	return nil
}

// GetPublication fetches the publication for (post, channel).
func (m *Mem) GetPublication(ctx context.Context, tenantID, postID, channelID uuid.UUID) (*types.ChannelPublication, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	for _, pub := range m.d.publications {
		if pub.TenantID == tenantID && pub.PostID == postID && pub.ChannelID == channelID {
			cp := *pub
			return &cp, nil
		}
	}
	return nil, trace.NotFound("publication not found")
}

// ListPublications returns every publication of a post.
func (m *Mem) ListPublications(ctx context.Context, tenantID, postID uuid.UUID) ([]*types.ChannelPublication, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	var out []*types.ChannelPublication
	for _, pub := range m.d.publications {
		if pub.TenantID == tenantID && pub.PostID == postID {
			cp := *pub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CreateWebsitePublication records a website delivery; slug unique per
// tenant.
func (m *Mem) CreateWebsitePublication(ctx context.Context, pub *types.WebsitePublication) error {
	if err := checkTenant(pub.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	for _, existing := range m.d.websitePubs {
		if existing.TenantID != pub.TenantID {
			continue
		}
		if existing.PostID == pub.PostID {
			return trace.AlreadyExists("website publication for post %v exists", pub.PostID)
		}
		if existing.Slug == pub.Slug {
			return trace.AlreadyExists("slug %q taken", pub.Slug)
		}
	}
	if pub.ID == uuid.Nil {
		pub.ID = uuid.New()
	}
	pub.CreatedAt = m.clock.Now().UTC()
	cp := *pub
	m.d.websitePubs = append(m.d.websitePubs, &cp)
	return nil
}

// GetWebsitePublication fetches the website publication of a post.
func (m *Mem) GetWebsitePublication(ctx context.Context, tenantID, postID uuid.UUID) (*types.WebsitePublication, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	for _, pub := range m.d.websitePubs {
		if pub.TenantID == tenantID && pub.PostID == postID {
			cp := *pub
			return &cp, nil
		}
	}
	return nil, trace.NotFound("website publication not found")
}
