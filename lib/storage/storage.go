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

// Package storage is the transactional persistence layer of the engine.
//
// Two implementations exist: the Postgres store used in production and an
// in-memory store used by tests. Both enforce the tenant-scoping invariant:
// any query over tenant-owned tables that arrives without a tenant id is
// refused with a BadParameter error rather than silently widened.
//
// Writes that cross entities (post status + publication + event) must go
// through Tx so the event log stays gap-free: an event row exists if and
// only if the transition it describes committed.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/techappsUT/social-queue/lib/types"
)

// Store is the persistence contract shared by the scheduler, publisher,
// automation runtime and control plane.
type Store interface {
	// Tx runs fn against a transaction-scoped store. fn returning an
	// error rolls the transaction back.
	Tx(ctx context.Context, fn func(tx Store) error) error

	Posts
	Channels
	Publications
	Events
	Automation
	Content
	Credentials
	Policies
	ControlPlane
	Billing
}

// Posts is post persistence. Post.status is mutated only by the scheduler
// (scheduled → publishing) and the publisher (publishing → terminal).
type Posts interface {
	CreatePost(ctx context.Context, post *types.Post) error
	GetPost(ctx context.Context, tenantID, postID uuid.UUID) (*types.Post, error)
	UpdatePost(ctx context.Context, post *types.Post) error
	UpdatePostStatus(ctx context.Context, tenantID, postID uuid.UUID, status types.PostStatus, lastError string) error
	// ClaimDuePosts selects scheduled posts whose publish time has come,
	// claiming each row against concurrent scheduler instances. The
	// Postgres implementation uses FOR UPDATE SKIP LOCKED; callers must
	// invoke it inside Tx and transition claimed posts before the
	// transaction commits. The scan is deliberately cross-tenant.
	ClaimDuePosts(ctx context.Context, now time.Time, limit int) ([]*types.Post, error)
	// ListEligiblePublishNow returns draft and scheduled posts a
	// publish_now action may pick up, oldest first.
	ListEligiblePublishNow(ctx context.Context, tenantID, projectID uuid.UUID, limit int) ([]*types.Post, error)
	CountPostsCreatedSince(ctx context.Context, tenantID, projectID uuid.UUID, since time.Time) (int, error)
}

// Channels is delivery target persistence.
type Channels interface {
	CreateChannel(ctx context.Context, channel *types.Channel) error
	GetChannel(ctx context.Context, tenantID, channelID uuid.UUID) (*types.Channel, error)
	// ListActiveChannels returns the active channels of a project; the
	// publisher delivers to exactly this set.
	ListActiveChannels(ctx context.Context, tenantID, projectID uuid.UUID) ([]*types.Channel, error)
	UpdateChannelStatus(ctx context.Context, tenantID, channelID uuid.UUID, status types.ChannelStatus) error
}

// Publications is delivery outcome persistence. Uniqueness on
// (tenant, post, channel) and (tenant, channel, external id) is the
// at-most-once guard; CreatePublication returns AlreadyExists on conflict.
type Publications interface {
	CreatePublication(ctx context.Context, pub *types.ChannelPublication) error
	GetPublication(ctx context.Context, tenantID, postID, channelID uuid.UUID) (*types.ChannelPublication, error)
	ListPublications(ctx context.Context, tenantID, postID uuid.UUID) ([]*types.ChannelPublication, error)
	CreateWebsitePublication(ctx context.Context, pub *types.WebsitePublication) error
	GetWebsitePublication(ctx context.Context, tenantID, postID uuid.UUID) (*types.WebsitePublication, error)
}

// Events is the append-only event log.
type Events interface {
	AppendPublishEvent(ctx context.Context, event *types.PublishEvent) error
	AppendAutomationEvent(ctx context.Context, event *types.AutomationEvent) error
	ListPublishEventsForPost(ctx context.Context, tenantID, postID uuid.UUID) ([]*types.PublishEvent, error)
	// ListPublishEventsAfter reads the log strictly after the cursor in
	// ascending created-at order. The event-rule scan is the only caller
	// and runs cross-tenant.
	ListPublishEventsAfter(ctx context.Context, after time.Time, limit int) ([]*types.PublishEvent, error)
	// LastChannelAttempt returns the highest attempt number recorded for
	// (post, channel), zero when no attempt happened yet.
	LastChannelAttempt(ctx context.Context, tenantID, postID, channelID uuid.UUID) (int, error)
	// ConsecutiveChannelFailures counts trailing publish failures on a
	// channel since the given time with no intervening success.
	ConsecutiveChannelFailures(ctx context.Context, tenantID, channelID uuid.UUID, since time.Time) (int, error)
	// PublishOutcomeCounts returns platform-wide per-channel publish
	// outcomes since the given time, feeding the auto breaker.
	PublishOutcomeCounts(ctx context.Context, since time.Time) (ok, failed int, err error)
	TenantPublishOutcomeCounts(ctx context.Context, tenantID uuid.UUID, since time.Time) (ok, failed int, err error)
	AppendAudit(ctx context.Context, entry *types.AuditEntry) error
}

// Automation is rule and run persistence. AutomationRun.status is mutated
// only by the automation runtime.
type Automation interface {
	UpsertRule(ctx context.Context, rule *types.AutomationRule) error
	GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*types.AutomationRule, error)
	// ListEnabledRules is the scheduler's cross-tenant rule scan.
	ListEnabledRules(ctx context.Context, trigger types.TriggerType) ([]*types.AutomationRule, error)
	CreateRun(ctx context.Context, run *types.AutomationRun) error
	GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*types.AutomationRun, error)
	UpdateRun(ctx context.Context, run *types.AutomationRun) error
	LatestRunForRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*types.AutomationRun, error)
	RecentRunExists(ctx context.Context, tenantID, ruleID uuid.UUID, since time.Time, statuses []types.RunStatus) (bool, error)
}

// Content is content item, template and campaign persistence.
type Content interface {
	CreateContentItem(ctx context.Context, item *types.ContentItem) error
	GetContentItem(ctx context.Context, tenantID, itemID uuid.UUID) (*types.ContentItem, error)
	UpdateContentItem(ctx context.Context, item *types.ContentItem) error
	ListContentItemsByStatus(ctx context.Context, tenantID, projectID uuid.UUID, statuses []types.ContentStatus, limit int) ([]*types.ContentItem, error)
	// HasRecentContentTitle backs the duplicate-topic guardrail.
	HasRecentContentTitle(ctx context.Context, tenantID, projectID uuid.UUID, normalizedTitle string, since time.Time) (bool, error)
	// ContentCounts returns total and review-flagged item counts since
	// the given time, feeding risk scoring.
	ContentCounts(ctx context.Context, tenantID uuid.UUID, since time.Time) (total, flagged int, err error)
	CreateTemplate(ctx context.Context, tpl *types.ContentTemplate) error
	GetTemplate(ctx context.Context, tenantID, projectID, tplID uuid.UUID) (*types.ContentTemplate, error)
	CreateCampaign(ctx context.Context, campaign *types.Campaign) error
	GetCampaign(ctx context.Context, tenantID, projectID, campaignID uuid.UUID) (*types.Campaign, error)
	CreateApproval(ctx context.Context, approval *types.Approval) error
	// GetQualityPolicy returns NotFound when (tenant, project) has no
	// policy row; callers treat that as no policy.
	GetQualityPolicy(ctx context.Context, tenantID, projectID uuid.UUID) (*types.QualityPolicy, error)
	UpsertQualityPolicy(ctx context.Context, policy *types.QualityPolicy) error
}

// Credentials is the raw (ciphertext) credential row store. The envelope
// cipher lives in lib/credentials; nothing here sees plaintext.
type Credentials interface {
	GetCredential(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType) (*types.ConnectorCredential, error)
	UpsertCredential(ctx context.Context, cred *types.ConnectorCredential) error
	UpdateCredentialStatus(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType, status types.CredentialStatus, lastError string) error
}

// Policies is retry policy and rate limit persistence. These tables are
// platform-scoped, not tenant-scoped.
type Policies interface {
	GetRetryPolicy(ctx context.Context, channelType types.ChannelType) (*types.ChannelRetryPolicy, error)
	UpsertRetryPolicy(ctx context.Context, policy *types.ChannelRetryPolicy) error
	GetRateLimit(ctx context.Context, platform types.ChannelType) (*types.PlatformRateLimit, error)
	UpsertRateLimit(ctx context.Context, limit *types.PlatformRateLimit) error
}

// ControlPlane is flag, incident and risk persistence.
type ControlPlane interface {
	GetFeatureFlag(ctx context.Context, key string) (*types.FeatureFlag, error)
	UpsertFeatureFlag(ctx context.Context, flag *types.FeatureFlag) error
	CreateIncident(ctx context.Context, incident *types.PlatformIncident) error
	HasOpenIncident(ctx context.Context, incidentType, subject string) (bool, error)
	GetTenantRisk(ctx context.Context, tenantID uuid.UUID) (*types.TenantRiskScore, error)
	UpsertTenantRisk(ctx context.Context, risk *types.TenantRiskScore) error
	CreateFailedJob(ctx context.Context, job *types.FailedJob) error
	// ListTenants enumerates known tenants for periodic passes.
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
}

// Billing is the subscription and usage view. The engine consults it and
// bumps usage counters; plan changes arrive only through the Stripe webhook
// path.
type Billing interface {
	GetSubscription(ctx context.Context, tenantID uuid.UUID) (*types.CompanySubscription, error)
	UpsertSubscription(ctx context.Context, sub *types.CompanySubscription) error
	GetUsage(ctx context.Context, tenantID uuid.UUID) (*types.CompanyUsage, error)
	IncrementUsage(ctx context.Context, tenantID uuid.UUID, postsDelta, aiDelta int) error
	// ResetUsageBefore zeroes usage rows whose period started before the
	// cutoff, returning how many were reset.
	ResetUsageBefore(ctx context.Context, cutoff time.Time) (int, error)
	// MarkStripeEventProcessed records a processed webhook event; first is
	// false when the event id was seen before.
	MarkStripeEventProcessed(ctx context.Context, eventID, eventType string) (first bool, err error)
}

// checkTenant enforces the tenant-scoping invariant shared by both
// implementations.
func checkTenant(tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return trace.BadParameter("refusing tenant-scoped query without tenant id")
	}
	return nil
}
