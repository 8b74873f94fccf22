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

// Package defaults holds the engine-wide constants: scan beats, timeouts,
// thresholds and queue names shared across the publishing control loop.
package defaults

import "time"

// Scan beats for the scheduler loops.
const (
	// DuePostScanInterval is how often the scheduler looks for posts whose
	// publish_at has come due.
	DuePostScanInterval = 30 * time.Second

	// TimeRuleScanInterval is how often cron and interval automation rules
	// are evaluated.
	TimeRuleScanInterval = 30 * time.Second

	// EventRuleScanInterval is how often the event-rule cursor is advanced
	// over the publish event log.
	EventRuleScanInterval = 20 * time.Second

	// HeartbeatInterval is how often a worker refreshes its liveness key.
	HeartbeatInterval = 15 * time.Second

	// HeartbeatTTL is the TTL on the worker liveness key. Three missed
	// beats and the auto-recovery pass raises an incident.
	HeartbeatTTL = 45 * time.Second

	// UsageResetInterval is how often the monthly usage reset pass runs.
	UsageResetInterval = 24 * time.Hour

	// AutoRecoveryInterval is how often the control plane runs its
	// auto-recovery checks.
	AutoRecoveryInterval = time.Minute

	// RiskRecomputeInterval is how often tenant risk scores are refreshed.
	RiskRecomputeInterval = 15 * time.Minute
)

// Deadlines for suspension points.
const (
	// AdapterTimeout bounds a single outbound provider call.
	AdapterTimeout = 20 * time.Second

	// AdapterMaxTimeout is the upper bound used when a provider needs a
	// longer window (video upload status polls).
	AdapterMaxTimeout = 25 * time.Second

	// GeneratorTimeout bounds a single LLM generation call.
	GeneratorTimeout = 30 * time.Second

	// SQLTimeout bounds a single store round trip.
	SQLTimeout = 5 * time.Second

	// KVTimeout bounds a single fast-state round trip.
	KVTimeout = time.Second

	// JobWallBudget is the total wall-clock budget for one publish job.
	// Exceeding it marks the attempt as a retryable failure.
	JobWallBudget = 120 * time.Second

	// RunTimeout bounds one automation run end to end.
	RunTimeout = 2 * time.Minute

	// ShutdownGrace is how long in-flight adapter calls may run after a
	// shutdown signal before the job lock is released.
	ShutdownGrace = 30 * time.Second

	// PostLockTTL is the per-post publish lock TTL. Must exceed
	// JobWallBudget so a live worker never loses its lock mid-job.
	PostLockTTL = 150 * time.Second

	// CredentialRefreshLockTTL serializes token refresh per
	// (tenant, connector type).
	CredentialRefreshLockTTL = 30 * time.Second
)

// Retry and breaker policy.
const (
	// MaxPublishAttempts applies when a channel type has no retry policy
	// row of its own.
	MaxPublishAttempts = 3

	// RetryDelay is the base backoff step when no policy row overrides it.
	RetryDelay = 60 * time.Second

	// ConnectorFailureThreshold is the consecutive-failure count that
	// trips a connector breaker.
	ConnectorFailureThreshold = 5

	// ConnectorFailureWindow is the window the consecutive failures must
	// fall inside.
	ConnectorFailureWindow = time.Hour

	// GlobalFailureRateThreshold is the rolling publish failure rate that
	// auto-raises the global publish breaker.
	GlobalFailureRateThreshold = 0.08

	// GlobalFailureRateWindow is the window over which the rolling rate is
	// computed.
	GlobalFailureRateWindow = time.Hour

	// TenantRiskThreshold is the composite risk score at and above which
	// risk controls engage.
	TenantRiskThreshold = 80

	// TenantThrottleTTL is the TTL on the tenant throttle key set by the
	// auto-recovery pass.
	TenantThrottleTTL = 15 * time.Minute

	// EnqueueRetries bounds the best-effort retry of a queue enqueue after
	// the claiming transaction has committed.
	EnqueueRetries = 3
)

// Automation runtime.
const (
	// RecentRunWindow is the anti-stampede lookback: a rule with a run in
	// this window in a live status is not re-queued.
	RecentRunWindow = 5 * time.Minute

	// GenerationMaxRetries bounds correction retries after a generation
	// contract violation.
	GenerationMaxRetries = 2

	// SchedulePostDelay is applied when a schedule_post action carries no
	// explicit publish time.
	SchedulePostDelay = 5 * time.Minute

	// PublishNowLimit caps posts selected by one publish_now action.
	PublishNowLimit = 5
)

// Fast-state keys and windows.
const (
	// WebhookDedupeTTL is the TTL on webhook dedupe keys.
	WebhookDedupeTTL = time.Hour

	// FlagCacheTTL is the in-process feature flag cache TTL.
	FlagCacheTTL = 30 * time.Second

	// StripeSignatureTolerance is the allowed clock skew on Stripe
	// webhook signatures.
	StripeSignatureTolerance = 5 * time.Minute

	// DurationSampleLimit bounds the publish-duration sample list.
	DurationSampleLimit = 512

	// RateLimitWindow is the bucket width for platform rate limits.
	RateLimitWindow = time.Minute
)

// Work queue names.
const (
	QueuePublishing = "publishing"
	QueueScheduler  = "scheduler"
	QueueAnalytics  = "analytics"
)

// Component names used as the logging component field.
const (
	ComponentKey = "component"

	ComponentPublisher    = "publisher"
	ComponentScheduler    = "scheduler"
	ComponentAutomation   = "automation"
	ComponentControlPlane = "controlplane"
	ComponentStorage      = "storage"
	ComponentKV           = "kv"
	ComponentQueue        = "queue"
	ComponentWebhooks     = "webhooks"
	ComponentAdapters     = "adapters"
	ComponentService      = "service"
)
