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

package types

import (
	"time"

	"github.com/google/uuid"
)

// BackoffKind selects the retry delay progression for a channel type.
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// ChannelRetryPolicy is the per-channel-type retry configuration consulted
// by the publisher when all channels of a post failed retryably.
type ChannelRetryPolicy struct {
	ChannelType ChannelType
	MaxAttempts int
	Backoff     BackoffKind
	RetryDelay  time.Duration
}

// Delay returns the backoff before the given attempt number (1-based).
func (p ChannelRetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Backoff {
	case BackoffExponential:
		return p.RetryDelay << (attempt - 1)
	default:
		return p.RetryDelay * time.Duration(attempt)
	}
}

// PlatformRateLimit caps outbound calls per platform per minute.
type PlatformRateLimit struct {
	Platform          ChannelType
	RequestsPerMinute int
}

// FeatureFlag gates behavior globally or per tenant.
type FeatureFlag struct {
	Key             string
	EnabledGlobally bool
	EnabledTenants  map[uuid.UUID]bool
	UpdatedAt       time.Time
}

// EnabledFor resolves the flag for one tenant: a per-tenant entry wins over
// the global default.
func (f *FeatureFlag) EnabledFor(tenantID uuid.UUID) bool {
	if f == nil {
		return false
	}
	if v, ok := f.EnabledTenants[tenantID]; ok {
		return v
	}
	return f.EnabledGlobally
}

// Feature flag keys the engine consults.
const (
	FlagGlobalPublishBreaker = "enable_global_publish_circuit_breaker"
	FlagTenantPublishBreaker = "enable_tenant_publish_circuit_breaker"
	FlagTenantRiskControls   = "enforce_tenant_risk_controls"
	FlagMaintenanceMode      = "maintenance_mode"
)

// IncidentStatus is the lifecycle of a platform incident.
type IncidentStatus string

const (
	IncidentStatusOpen     IncidentStatus = "open"
	IncidentStatusResolved IncidentStatus = "resolved"
)

// Platform incident types the engine raises.
const (
	IncidentConnectorDisabled = "connector_disabled_repeated_failures"
	IncidentWorkerHeartbeat   = "worker_heartbeat_missing"
	IncidentGlobalBreaker     = "global_publish_breaker_engaged"
	IncidentTenantThrottled   = "tenant_throttled_high_risk"
)

// PlatformIncident is an operator-visible alert raised by the engine.
type PlatformIncident struct {
	ID         uuid.UUID
	Type       string
	Severity   string
	// Subject names what the incident is about, typically a channel or
	// tenant id.
	Subject    string
	Details    map[string]any
	Status     IncidentStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// RiskBucket labels a tenant risk score range.
type RiskBucket string

const (
	RiskLow      RiskBucket = "low"
	RiskMedium   RiskBucket = "medium"
	RiskHigh     RiskBucket = "high"
	RiskCritical RiskBucket = "critical"
)

// BucketForScore maps a composite score to its bucket.
func BucketForScore(score float64) RiskBucket {
	switch {
	case score < 35:
		return RiskLow
	case score < 60:
		return RiskMedium
	case score < 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// TenantRiskScore is the periodically recomputed composite risk of a tenant.
type TenantRiskScore struct {
	TenantID   uuid.UUID
	Score      float64
	Bucket     RiskBucket
	Factors    map[string]float64
	ComputedAt time.Time
}

// QualityPolicy is the per (tenant, project) AI content policy.
type QualityPolicy struct {
	TenantID                 uuid.UUID
	ProjectID                uuid.UUID
	BrandVoiceKeywords       []string
	ForbiddenTopics          []string
	MaxCapsRatio             float64
	MaxExclamationCount      int
	RequireApprovalRiskScore float64
}

// FailedJob is a dead-lettered work queue job kept with its full payload for
// operator replay.
type FailedJob struct {
	ID        uuid.UUID
	Queue     string
	TenantID  uuid.UUID
	Payload   []byte
	Error     string
	Attempts  int
	CreatedAt time.Time
}

// AuditEntry records an operator-relevant engine action.
type AuditEntry struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Actor     string
	Action    string
	Metadata  map[string]any
	CreatedAt time.Time
}
