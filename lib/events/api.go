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

// Package events defines the append-only event vocabulary of the publishing
// engine. Event rows are written by lib/storage inside the transaction that
// performs the transition they describe; this package only names the types
// and provides constructors so spellings stay in one place.
package events

import (
	"github.com/google/uuid"

	"github.com/techappsUT/social-queue/lib/types"
)

// Publish timeline event types.
const (
	PostScheduled           = "post.scheduled"
	PostPublishingStarted   = "post.publishing_started"
	ChannelPublishSucceeded = "channel.publish_succeeded"
	ChannelPublishFailed    = "channel.publish_failed"
	PostPublished           = "post.published"
	PostPublishedPartial    = "post.published_partial"
	PostPublishFailed       = "post.publish_failed"
	PublishNowRequested     = "post.publish_now_requested"
	PublishBreakerRejected  = "post.publish_breaker_rejected"
)

// TerminalPublishEventTypes is the single enum of aggregate post outcomes;
// analytics readers consume exactly these.
var TerminalPublishEventTypes = []string{
	PostPublished,
	PostPublishedPartial,
	PostPublishFailed,
}

// Automation timeline event types.
const (
	AutomationRunQueued     = "automation.run_queued"
	AutomationRunStarted    = "automation.run_started"
	AutomationRunCompleted  = "automation.run_completed"
	ContentGenerated        = "automation.content_generated"
	ContentFlagged          = "automation.content_flagged"
	ContentGenerationFailed = "automation.content_generation_failed"
	PostsScheduled          = "automation.posts_scheduled"
	ApprovalRequired        = "automation.approval_required"
	MetricsSyncQueued       = "automation.metrics_sync_queued"
)

// Metadata keys with a fixed meaning across events.
const (
	MetaNormalizedError = "normalized_error"
	MetaSource          = "source"
	MetaExternalPostID  = "external_post_id"
	MetaPlatform        = "platform"
	MetaError           = "error"
	MetaIdempotent      = "idempotent"
)

// NewPostEvent builds a post-scoped publish event with no channel.
func NewPostEvent(tenantID, postID uuid.UUID, eventType string, status types.EventStatus, meta map[string]any) *types.PublishEvent {
	return &types.PublishEvent{
		TenantID: tenantID,
		PostID:   postID,
		Type:     eventType,
		Status:   status,
		Metadata: meta,
	}
}

// NewChannelEvent builds an attempt-scoped publish event for one channel.
func NewChannelEvent(tenantID, postID, channelID uuid.UUID, eventType string, status types.EventStatus, attempt int, meta map[string]any) *types.PublishEvent {
	ch := channelID
	return &types.PublishEvent{
		TenantID:  tenantID,
		PostID:    postID,
		ChannelID: &ch,
		Type:      eventType,
		Status:    status,
		Attempt:   attempt,
		Metadata:  meta,
	}
}

// NewRunEvent builds a run-scoped automation event.
func NewRunEvent(tenantID, ruleID, runID uuid.UUID, eventType string, status types.EventStatus, meta map[string]any) *types.AutomationEvent {
	rule, run := ruleID, runID
	return &types.AutomationEvent{
		TenantID: tenantID,
		RuleID:   &rule,
		RunID:    &run,
		Type:     eventType,
		Status:   status,
		Metadata: meta,
	}
}
