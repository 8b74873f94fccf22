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
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/techappsUT/social-queue/lib/types"
)

// GetRetryPolicy returns the retry policy for a channel type.
func (m *Mem) GetRetryPolicy(ctx context.Context, channelType types.ChannelType) (*types.ChannelRetryPolicy, error) {
	defer m.lock()()
	p, ok := m.d.retryPolicies[channelType]
	if !ok {
		return nil, trace.NotFound("no retry policy for %v", channelType)
	}
	cp := *p
	return &cp, nil
}

// UpsertRetryPolicy creates or replaces the retry policy for a channel type.
func (m *Mem) UpsertRetryPolicy(ctx context.Context, policy *types.ChannelRetryPolicy) error {
	defer m.lock()()
	cp := *policy
	m.d.retryPolicies[policy.ChannelType] = &cp
	return nil
}

// GetRateLimit returns the outbound request cap for a platform.
func (m *Mem) GetRateLimit(ctx context.Context, platform types.ChannelType) (*types.PlatformRateLimit, error) {
	defer m.lock()()
	l, ok := m.d.rateLimits[platform]
	if !ok {
		return nil, trace.NotFound("no rate limit for %v", platform)
	}
	cp := *l
	return &cp, nil
}

// UpsertRateLimit creates or replaces the cap for a platform.
func (m *Mem) UpsertRateLimit(ctx context.Context, limit *types.PlatformRateLimit) error {
	defer m.lock()()
	cp := *limit
	m.d.rateLimits[limit.Platform] = &cp
	return nil
}

func cloneFlag(f *types.FeatureFlag) *types.FeatureFlag {
	cp := *f
	if f.EnabledTenants != nil {
		cp.EnabledTenants = make(map[uuid.UUID]bool, len(f.EnabledTenants))
		for k, v := range f.EnabledTenants {
			cp.EnabledTenants[k] = v
		}
	}
	return &cp
}

// GetFeatureFlag fetches a flag by key.
func (m *Mem) GetFeatureFlag(ctx context.Context, key string) (*types.FeatureFlag, error) {
	defer m.lock()()
	f, ok := m.d.flags[key]
	if !ok {
		return nil, trace.NotFound("flag %q not found", key)
	}
	return cloneFlag(f), nil
}

// UpsertFeatureFlag creates or replaces a flag.
func (m *Mem) UpsertFeatureFlag(ctx context.Context, flag *types.FeatureFlag) error {
	if flag.Key == "" {
		return trace.BadParameter("missing flag key")
	}
	defer m.lock()()
	flag.UpdatedAt = m.clock.Now().UTC()
	m.d.flags[flag.Key] = cloneFlag(flag)
	return nil
}

// CreateIncident raises an operator-visible incident.
func (m *Mem) CreateIncident(ctx context.Context, incident *types.PlatformIncident) error {
	defer m.lock()()
	if incident.ID == uuid.Nil {
		incident.ID = uuid.New()
	}
	if incident.Status == "" {
		incident.Status = types.IncidentStatusOpen
	}
	incident.CreatedAt = m.clock.Now().UTC()
	cp := *incident
	m.d.incidents = append(m.d.incidents, &cp)
	return nil
}

// HasOpenIncident reports whether an open incident of the given type and
// subject exists; auto-recovery uses it to avoid duplicate alerts.
func (m *Mem) HasOpenIncident(ctx context.Context, incidentType, subject string) (bool, error) {
	defer m.lock()()
	for _, in := range m.d.incidents {
		if in.Type == incidentType && in.Subject == subject && in.Status == types.IncidentStatusOpen {
			return true, nil
		}
	}
	return false, nil
}

// Incidents returns a copy of all incidents for test assertions.
func (m *Mem) Incidents() []*types.PlatformIncident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.PlatformIncident, 0, len(m.d.incidents))
	for _, in := range m.d.incidents {
		cp := *in
		out = append(out, &cp)
	}
	return out
}

// GetTenantRisk fetches the latest composite risk of a tenant.
func (m *Mem) GetTenantRisk(ctx context.Context, tenantID uuid.UUID) (*types.TenantRiskScore, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	r, ok := m.d.risks[tenantID]
	if !ok {
		return nil, trace.NotFound("no risk score for tenant %v", tenantID)
	}
	cp := *r
	if r.Factors != nil {
		cp.Factors = make(map[string]float64, len(r.Factors))
		for k, v := range r.Factors {
			cp.Factors[k] = v
		}
	}
	return &cp, nil
}

// UpsertTenantRisk stores the recomputed risk of a tenant.
func (m *Mem) UpsertTenantRisk(ctx context.Context, risk *types.TenantRiskScore) error {
	if err := checkTenant(risk.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	cp := *risk
	m.d.risks[risk.TenantID] = &cp
	return nil
}

// CreateFailedJob dead-letters a queue job.
func (m *Mem) CreateFailedJob(ctx context.Context, job *types.FailedJob) error {
	defer m.lock()()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = m.clock.Now().UTC()
	cp := *job
	m.d.failedJobs = append(m.d.failedJobs, &cp)
	return nil
}

// FailedJobs returns a copy of the dead-letter table for test assertions.
func (m *Mem) FailedJobs() []*types.FailedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.FailedJob, 0, len(m.d.failedJobs))
	for _, j := range m.d.failedJobs {
		cp := *j
		out = append(out, &cp)
	}
	return out
}

// ListTenants enumerates tenants with a subscription row.
func (m *Mem) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	defer m.lock()()
	out := make([]uuid.UUID, 0, len(m.d.subs))
	for id := range m.d.subs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// GetSubscription fetches the tenant's subscription.
func (m *Mem) GetSubscription(ctx context.Context, tenantID uuid.UUID) (*types.CompanySubscription, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	s, ok := m.d.subs[tenantID]
	if !ok {
		return nil, trace.NotFound("no subscription for tenant %v", tenantID)
	}
	cp := *s
	if s.CurrentPeriodEnd != nil {
		t := *s.CurrentPeriodEnd
		cp.CurrentPeriodEnd = &t
	}
	return &cp, nil
}

// UpsertSubscription creates or replaces the tenant's subscription.
func (m *Mem) UpsertSubscription(ctx context.Context, sub *types.CompanySubscription) error {
	if err := checkTenant(sub.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	sub.UpdatedAt = m.clock.Now().UTC()
	cp := *sub
	m.d.subs[sub.TenantID] = &cp
	return nil
}

// GetUsage fetches the tenant's current-period usage counters.
func (m *Mem) GetUsage(ctx context.Context, tenantID uuid.UUID) (*types.CompanyUsage, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	u, ok := m.d.usages[tenantID]
	if !ok {
		return nil, trace.NotFound("no usage for tenant %v", tenantID)
	}
	cp := *u
	return &cp, nil
}

// IncrementUsage bumps usage counters, creating the period row on first use.
func (m *Mem) IncrementUsage(ctx context.Context, tenantID uuid.UUID, postsDelta, aiDelta int) error {
	if err := checkTenant(tenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	now := m.clock.Now().UTC()
	u, ok := m.d.usages[tenantID]
	if !ok {
		u = &types.CompanyUsage{
			TenantID:    tenantID,
			PeriodStart: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
		}
		m.d.usages[tenantID] = u
	}
	u.PostsPublished += postsDelta
	u.AIGenerations += aiDelta
	u.UpdatedAt = now
	return nil
}

// ResetUsageBefore zeroes usage rows whose period started before the cutoff.
func (m *Mem) ResetUsageBefore(ctx context.Context, cutoff time.Time) (int, error) {
	defer m.lock()()
	now := m.clock.Now().UTC()
	reset := 0
	for _, u := range m.d.usages {
		if u.PeriodStart.Before(cutoff) {
			u.PeriodStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
			u.PostsPublished = 0
			u.AIGenerations = 0
			u.UpdatedAt = now
			reset++
		}
	}
	return reset, nil
}

// MarkStripeEventProcessed records a processed webhook event id.
func (m *Mem) MarkStripeEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	if eventID == "" {
		return false, trace.BadParameter("missing event id")
	}
	defer m.lock()()
	if _, ok := m.d.stripeEvents[eventID]; ok {
		return false, nil
	}
	m.d.stripeEvents[eventID] = &types.StripeEvent{
		EventID:     eventID,
		Type:        eventType,
		ProcessedAt: m.clock.Now().UTC(),
	}
	return true, nil
}
