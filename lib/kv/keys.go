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

package kv

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/techappsUT/social-queue/lib/types"
)

// Key spellings are fixed here so every component agrees on them. Operators
// grep for these in redis directly; do not reformat.
const (
	GlobalPublishBreakerKey = "platform:breaker:global_publish"
	EventRuleCursorKey      = "automation:event_rules:last_publish_event_at"
	WorkerHeartbeatKey      = "platform:worker:heartbeat"
	PublishDurationsKey     = "platform:metrics:publish_duration_ms"
	MaintenanceModeKey      = "platform:maintenance_read_only"
)

// TenantBreakerKey flags a per-tenant publish pause.
func TenantBreakerKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("platform:breaker:tenant:%s", tenantID)
}

// TenantThrottleKey is the short-lived throttle set by auto-recovery for
// high-risk tenants.
func TenantThrottleKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("platform:throttle:tenant:%s", tenantID)
}

// PostLockKey serializes publishing of one post across workers.
func PostLockKey(tenantID, postID uuid.UUID) string {
	return fmt.Sprintf("publish:lock:%s:%s", tenantID, postID)
}

// ConnectorBackoffKey pauses delivery to one channel until the current rate
// bucket rolls over.
func ConnectorBackoffKey(channelID uuid.UUID) string {
	return fmt.Sprintf("connector_backoff:%s", channelID)
}

// RateLimitKey is the per-minute platform rate bucket.
func RateLimitKey(platform types.ChannelType, now time.Time) string {
	return fmt.Sprintf("rate:platform:%s:%s", platform, now.UTC().Format("200601021504"))
}

// RefreshLockKey serializes credential refresh per (tenant, connector type).
func RefreshLockKey(tenantID uuid.UUID, connector types.ChannelType) string {
	return fmt.Sprintf("credential:refresh:%s:%s", tenantID, connector)
}

// WebhookDedupeKey dedupes inbound webhook deliveries.
func WebhookDedupeKey(provider, eventID string) string {
	return fmt.Sprintf("webhook_dedupe:%s:%s", provider, eventID)
}

// RuleFingerprintKey is the minute-bucketed anti-stampede fingerprint for an
// automation rule dispatch.
func RuleFingerprintKey(ruleID uuid.UUID, trigger types.TriggerType, at time.Time) string {
	return fmt.Sprintf("automation:fingerprint:%s:%s:%s", ruleID, trigger, at.UTC().Format("200601021504"))
}

// RunCancelKey flags an automation run for cancellation between steps.
func RunCancelKey(runID uuid.UUID) string {
	return fmt.Sprintf("automation:cancel:%s", runID)
}

// AbuseCounterKey counts rate-limit violations per tenant for risk scoring.
func AbuseCounterKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("abuse:rate_limit:%s", tenantID)
}

// FlagInvalidationKey bumps on any feature flag write; the in-process cache
// rereads when the generation changes.
const FlagInvalidationKey = "platform:flags:generation"
