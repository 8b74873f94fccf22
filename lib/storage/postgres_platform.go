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
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/techappsUT/social-queue/lib/types"
)

// GetRetryPolicy returns the retry policy for a channel type, NotFound when
// no row overrides the engine default.
func (s *PGStore) GetRetryPolicy(ctx context.Context, channelType types.ChannelType) (*types.ChannelRetryPolicy, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var p types.ChannelRetryPolicy
	var delaySeconds int
	err := s.q.QueryRow(ctx, `
		SELECT channel_type, max_attempts, backoff, retry_delay_seconds
		FROM channel_retry_policies WHERE channel_type = $1`, channelType).
		Scan(&p.ChannelType, &p.MaxAttempts, &p.Backoff, &delaySeconds)
	if err != nil {
		return nil, convertError(err)
	}
	p.RetryDelay = time.Duration(delaySeconds) * time.Second
	return &p, nil
}

// UpsertRetryPolicy creates or replaces a retry policy row.
func (s *PGStore) UpsertRetryPolicy(ctx context.Context, policy *types.ChannelRetryPolicy) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO channel_retry_policies (channel_type, max_attempts, backoff, retry_delay_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_type) DO UPDATE SET
			max_attempts = excluded.max_attempts,
			backoff = excluded.backoff,
			retry_delay_seconds = excluded.retry_delay_seconds`,
		policy.ChannelType, policy.MaxAttempts, policy.Backoff, int(policy.RetryDelay.Seconds()))
	return convertError(err)
}

// GetRateLimit returns the per-minute cap for a platform, NotFound when the
// platform is uncapped.
func (s *PGStore) GetRateLimit(ctx context.Context, platform types.ChannelType) (*types.PlatformRateLimit, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var l types.PlatformRateLimit
	err := s.q.QueryRow(ctx, `
		SELECT platform, requests_per_minute FROM platform_rate_limits WHERE platform = $1`, platform).
		Scan(&l.Platform, &l.RequestsPerMinute)
	if err != nil {
		return nil, convertError(err)
	}
	return &l, nil
}

// UpsertRateLimit creates or replaces a rate limit row.
func (s *PGStore) UpsertRateLimit(ctx context.Context, limit *types.PlatformRateLimit) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO platform_rate_limits (platform, requests_per_minute)
		VALUES ($1, $2)
		ON CONFLICT (platform) DO UPDATE SET requests_per_minute = excluded.requests_per_minute`,
		limit.Platform, limit.RequestsPerMinute)
	return convertError(err)
}

// GetFeatureFlag returns a flag, NotFound when it was never written.
func (s *PGStore) GetFeatureFlag(ctx context.Context, key string) (*types.FeatureFlag, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var f types.FeatureFlag
	var tenants []byte
	err := s.q.QueryRow(ctx, `
		SELECT key, enabled_globally, enabled_tenants, updated_at FROM feature_flags WHERE key = $1`, key).
		Scan(&f.Key, &f.EnabledGlobally, &tenants, &f.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal(tenants, &f.EnabledTenants); err != nil {
		return nil, trace.Wrap(err)
	}
	return &f, nil
}

// UpsertFeatureFlag creates or replaces a flag row. Callers bump the KV
// generation afterwards so caches reread.
func (s *PGStore) UpsertFeatureFlag(ctx context.Context, flag *types.FeatureFlag) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO feature_flags (key, enabled_globally, enabled_tenants, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			enabled_globally = excluded.enabled_globally,
			enabled_tenants = excluded.enabled_tenants,
			updated_at = excluded.updated_at`,
		flag.Key, flag.EnabledGlobally, mustJSON(flag.EnabledTenants), s.clock.Now().UTC())
	return convertError(err)
}

// CreateIncident raises an operator-visible incident.
func (s *PGStore) CreateIncident(ctx context.Context, incident *types.PlatformIncident) error {
	if incident.ID == uuid.Nil {
		incident.ID = uuid.New()
	}
	if incident.Status == "" {
		incident.Status = types.IncidentStatusOpen
	}
	if incident.Severity == "" {
		incident.Severity = "warning"
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO platform_incidents (id, incident_type, severity, subject, details, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		incident.ID, incident.Type, incident.Severity, incident.Subject,
		mustJSON(incident.Details), incident.Status, s.clock.Now().UTC())
	return convertError(err)
}

// HasOpenIncident prevents duplicate incidents for the same subject.
func (s *PGStore) HasOpenIncident(ctx context.Context, incidentType, subject string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM platform_incidents
			WHERE incident_type = $1 AND subject = $2 AND status = 'open'
		)`, incidentType, subject).Scan(&exists)
	return exists, convertError(err)
}

// GetTenantRisk returns the latest composite risk, NotFound before the
// first recompute.
func (s *PGStore) GetTenantRisk(ctx context.Context, tenantID uuid.UUID) (*types.TenantRiskScore, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var r types.TenantRiskScore
	var factors []byte
	err := s.q.QueryRow(ctx, `
		SELECT tenant_id, score, bucket, factors, computed_at FROM tenant_risk_scores WHERE tenant_id = $1`, tenantID).
		Scan(&r.TenantID, &r.Score, &r.Bucket, &factors, &r.ComputedAt)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal(factors, &r.Factors); err != nil {
		return nil, trace.Wrap(err)
	}
	return &r, nil
}

// UpsertTenantRisk stores a recomputed score.
func (s *PGStore) UpsertTenantRisk(ctx context.Context, risk *types.TenantRiskScore) error {
	if err := checkTenant(risk.TenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO tenant_risk_scores (tenant_id, score, bucket, factors, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO UPDATE SET
			score = excluded.score,
			bucket = excluded.bucket,
			factors = excluded.factors,
			computed_at = excluded.computed_at`,
		risk.TenantID, risk.Score, risk.Bucket, mustJSON(risk.Factors), s.clock.Now().UTC())
	return convertError(err)
}

// CreateFailedJob dead-letters a job with its full payload.
func (s *PGStore) CreateFailedJob(ctx context.Context, job *types.FailedJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var tenant any
	if job.TenantID != uuid.Nil {
		tenant = job.TenantID
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO failed_jobs (id, queue, tenant_id, payload, error, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Queue, tenant, job.Payload, job.Error, job.Attempts, s.clock.Now().UTC())
	return convertError(err)
}

// ListTenants enumerates tenants known to billing, for periodic passes.
func (s *PGStore) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.q.Query(ctx, `SELECT tenant_id FROM company_subscriptions ORDER BY tenant_id`)
	if err != nil {
		return nil, convertError(err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, convertError(err)
		}
		out = append(out, id)
	}
	return out, trace.Wrap(rows.Err())
}

// GetSubscription returns the tenant's subscription, NotFound when the
// tenant never checked out.
func (s *PGStore) GetSubscription(ctx context.Context, tenantID uuid.UUID) (*types.CompanySubscription, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var sub types.CompanySubscription
	err := s.q.QueryRow(ctx, `
		SELECT tenant_id, plan_id, status, stripe_customer_id, stripe_subscription_id, current_period_end, updated_at
		FROM company_subscriptions WHERE tenant_id = $1`, tenantID).
		Scan(&sub.TenantID, &sub.PlanID, &sub.Status, &sub.StripeCustomerID,
			&sub.StripeSubscriptionID, &sub.CurrentPeriodEnd, &sub.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &sub, nil
}

// UpsertSubscription is called from the Stripe webhook path only.
func (s *PGStore) UpsertSubscription(ctx context.Context, sub *types.CompanySubscription) error {
	if err := checkTenant(sub.TenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO company_subscriptions (tenant_id, plan_id, status, stripe_customer_id, stripe_subscription_id, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = excluded.status,
			stripe_customer_id = excluded.stripe_customer_id,
			stripe_subscription_id = excluded.stripe_subscription_id,
			current_period_end = excluded.current_period_end,
			updated_at = excluded.updated_at`,
		sub.TenantID, sub.PlanID, sub.Status, sub.StripeCustomerID,
		sub.StripeSubscriptionID, sub.CurrentPeriodEnd, s.clock.Now().UTC())
	return convertError(err)
}

// GetUsage returns the current period usage, NotFound before first activity.
func (s *PGStore) GetUsage(ctx context.Context, tenantID uuid.UUID) (*types.CompanyUsage, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var u types.CompanyUsage
	err := s.q.QueryRow(ctx, `
		SELECT tenant_id, period_start, posts_published, ai_generations, updated_at
		FROM company_usages WHERE tenant_id = $1`, tenantID).
		Scan(&u.TenantID, &u.PeriodStart, &u.PostsPublished, &u.AIGenerations, &u.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &u, nil
}

// IncrementUsage bumps the metered counters, creating the period row on
// first use.
func (s *PGStore) IncrementUsage(ctx context.Context, tenantID uuid.UUID, postsDelta, aiDelta int) error {
	if err := checkTenant(tenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := s.clock.Now().UTC()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	_, err := s.q.Exec(ctx, `
		INSERT INTO company_usages (tenant_id, period_start, posts_published, ai_generations, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO UPDATE SET
			posts_published = company_usages.posts_published + excluded.posts_published,
			ai_generations = company_usages.ai_generations + excluded.ai_generations,
			updated_at = excluded.updated_at`,
		tenantID, periodStart, postsDelta, aiDelta, now)
	return convertError(err)
}

// ResetUsageBefore zeroes rows whose period started before the cutoff.
func (s *PGStore) ResetUsageBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := s.clock.Now().UTC()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	tag, err := s.q.Exec(ctx, `
		UPDATE company_usages
		SET period_start = $1, posts_published = 0, ai_generations = 0, updated_at = $2
		WHERE period_start < $3`, periodStart, now, cutoff.UTC())
	if err != nil {
		return 0, convertError(err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkStripeEventProcessed claims a webhook event id; first=false means it
// was processed before and the caller must skip.
func (s *PGStore) MarkStripeEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	tag, err := s.q.Exec(ctx, `
		INSERT INTO stripe_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, s.clock.Now().UTC())
	if err != nil {
		return false, convertError(err)
	}
	return tag.RowsAffected() > 0, nil
}
