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

func cloneRule(r *types.AutomationRule) *types.AutomationRule {
	cp := *r
	return &cp
}

func cloneRun(r *types.AutomationRun) *types.AutomationRun {
	cp := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// UpsertRule creates or replaces an automation rule.
func (m *Mem) UpsertRule(ctx context.Context, rule *types.AutomationRule) error {
	if err := rule.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	now := m.clock.Now().UTC()
	if existing, ok := m.d.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	m.d.rules[rule.ID] = cloneRule(rule)
	return nil
}

// GetRule fetches one rule within the tenant scope.
func (m *Mem) GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*types.AutomationRule, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	r, ok := m.d.rules[ruleID]
	if !ok || r.TenantID != tenantID {
		return nil, trace.NotFound("rule %v not found", ruleID)
	}
	return cloneRule(r), nil
}

// ListEnabledRules is the scheduler's cross-tenant rule scan.
func (m *Mem) ListEnabledRules(ctx context.Context, trigger types.TriggerType) ([]*types.AutomationRule, error) {
	defer m.lock()()
	var out []*types.AutomationRule
	for _, r := range m.d.rules {
		if r.IsEnabled && r.Trigger == trigger {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateRun inserts a queued run.
func (m *Mem) CreateRun(ctx context.Context, run *types.AutomationRun) error {
	if err := checkTenant(run.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = types.RunStatusQueued
	}
	run.CreatedAt = m.clock.Now().UTC()
	m.d.runs = append(m.d.runs, cloneRun(run))
	return nil
}

// GetRun fetches one run within the tenant scope.
func (m *Mem) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*types.AutomationRun, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	for _, r := range m.d.runs {
		if r.ID == runID && r.TenantID == tenantID {
			return cloneRun(r), nil
		}
	}
	return nil, trace.NotFound("run %v not found", runID)
}

// UpdateRun persists run progress. Terminal runs are immutable.
func (m *Mem) UpdateRun(ctx context.Context, run *types.AutomationRun) error {
	if err := checkTenant(run.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	for i, r := range m.d.runs {
		if r.ID != run.ID || r.TenantID != run.TenantID {
			continue
		}
		if r.Status.Terminal() {
			return trace.CompareFailed("run %v is terminal", run.ID)
		}
		run.CreatedAt = r.CreatedAt
		m.d.runs[i] = cloneRun(run)
		return nil
	}
	return trace.CompareFailed("run %v is terminal or missing", run.ID)
}

// LatestRunForRule returns the most recent run of a rule, NotFound if none.
func (m *Mem) LatestRunForRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*types.AutomationRun, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	var latest *types.AutomationRun
	for _, r := range m.d.runs {
		if r.TenantID != tenantID || r.RuleID != ruleID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, trace.NotFound("no runs for rule %v", ruleID)
	}
	return cloneRun(latest), nil
}

// RecentRunExists is the anti-stampede lookback check.
func (m *Mem) RecentRunExists(ctx context.Context, tenantID, ruleID uuid.UUID, since time.Time, statuses []types.RunStatus) (bool, error) {
	if err := checkTenant(tenantID); err != nil {
		return false, trace.Wrap(err)
	}
	defer m.lock()()
	for _, r := range m.d.runs {
		if r.TenantID != tenantID || r.RuleID != ruleID || r.CreatedAt.Before(since) {
			continue
		}
		for _, st := range statuses {
			if r.Status == st {
				return true, nil
			}
		}
	}
	return false, nil
}

func cloneContentItem(it *types.ContentItem) *types.ContentItem {
	cp := *it
	cp.Hashtags = append([]string(nil), it.Hashtags...)
	cp.Channels = append([]types.ChannelType(nil), it.Channels...)
	cp.RiskFlags = append([]string(nil), it.RiskFlags...)
	cp.GuardrailViolations = append([]string(nil), it.GuardrailViolations...)
	return &cp
}

// CreateContentItem inserts a content item.
func (m *Mem) CreateContentItem(ctx context.Context, item *types.ContentItem) error {
	if err := checkTenant(item.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = types.ContentStatusDraft
	}
	now := m.clock.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	m.d.contentItems = append(m.d.contentItems, cloneContentItem(item))
	return nil
}

// GetContentItem fetches one content item within the tenant scope.
func (m *Mem) GetContentItem(ctx context.Context, tenantID, itemID uuid.UUID) (*types.ContentItem, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	for _, it := range m.d.contentItems {
		if it.ID == itemID && it.TenantID == tenantID {
			return cloneContentItem(it), nil
		}
	}
	return nil, trace.NotFound("content item %v not found", itemID)
}

// UpdateContentItem persists content item fields.
func (m *Mem) UpdateContentItem(ctx context.Context, item *types.ContentItem) error {
	if err := checkTenant(item.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	for i, it := range m.d.contentItems {
		if it.ID == item.ID && it.TenantID == item.TenantID {
			item.CreatedAt = it.CreatedAt
			item.UpdatedAt = m.clock.Now().UTC()
			m.d.contentItems[i] = cloneContentItem(item)
			return nil
		}
	}
	return trace.NotFound("content item %v not found", item.ID)
}

// ListContentItemsByStatus returns matching items oldest first.
func (m *Mem) ListContentItemsByStatus(ctx context.Context, tenantID, projectID uuid.UUID, statuses []types.ContentStatus, limit int) ([]*types.ContentItem, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	var out []*types.ContentItem
	for _, it := range m.d.contentItems {
		if it.TenantID != tenantID || it.ProjectID != projectID {
			continue
		}
		for _, st := range statuses {
			if it.Status == st {
				out = append(out, cloneContentItem(it))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HasRecentContentTitle backs the duplicate-topic guardrail.
func (m *Mem) HasRecentContentTitle(ctx context.Context, tenantID, projectID uuid.UUID, normalizedTitle string, since time.Time) (bool, error) {
	if err := checkTenant(tenantID); err != nil {
		return false, trace.Wrap(err)
	}
	defer m.lock()()
	for _, it := range m.d.contentItems {
		if it.TenantID == tenantID && it.ProjectID == projectID &&
			types.NormalizedTitle(it.Title) == normalizedTitle && !it.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// ContentCounts returns total and review-flagged counts in the window.
func (m *Mem) ContentCounts(ctx context.Context, tenantID uuid.UUID, since time.Time) (total, flagged int, err error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, 0, trace.Wrap(err)
	}
	defer m.lock()()
	for _, it := range m.d.contentItems {
		if it.TenantID != tenantID || it.CreatedAt.Before(since) {
			continue
		}
		total++
		if it.Status == types.ContentStatusNeedsReview || it.Status == types.ContentStatusRejected {
			flagged++
		}
	}
	return total, flagged, nil
}

// CreateTemplate inserts a content template.
func (m *Mem) CreateTemplate(ctx context.Context, tpl *types.ContentTemplate) error {
	if err := checkTenant(tpl.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}
	tpl.CreatedAt = m.clock.Now().UTC()
	cp := *tpl
	m.d.templates[tpl.ID] = &cp
	return nil
}

// GetTemplate fetches a template scoped to (tenant, project).
func (m *Mem) GetTemplate(ctx context.Context, tenantID, projectID, tplID uuid.UUID) (*types.ContentTemplate, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	t, ok := m.d.templates[tplID]
	if !ok || t.TenantID != tenantID || t.ProjectID != projectID {
		return nil, trace.NotFound("template %v not found", tplID)
	}
	cp := *t
	return &cp, nil
}

// CreateCampaign inserts a campaign.
func (m *Mem) CreateCampaign(ctx context.Context, campaign *types.Campaign) error {
	if err := checkTenant(campaign.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	campaign.CreatedAt = m.clock.Now().UTC()
	cp := *campaign
	m.d.campaigns[campaign.ID] = &cp
	return nil
}

// GetCampaign fetches a campaign scoped to (tenant, project).
func (m *Mem) GetCampaign(ctx context.Context, tenantID, projectID, campaignID uuid.UUID) (*types.Campaign, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	c, ok := m.d.campaigns[campaignID]
	if !ok || c.TenantID != tenantID || c.ProjectID != projectID {
		return nil, trace.NotFound("campaign %v not found", campaignID)
	}
	cp := *c
	return &cp, nil
}

// CreateApproval records a review decision.
func (m *Mem) CreateApproval(ctx context.Context, approval *types.Approval) error {
	if err := checkTenant(approval.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	if approval.ID == uuid.Nil {
		approval.ID = uuid.New()
	}
	approval.CreatedAt = m.clock.Now().UTC()
	cp := *approval
	m.d.approvals = append(m.d.approvals, &cp)
	return nil
}

// GetQualityPolicy returns the AI quality policy of (tenant, project).
func (m *Mem) GetQualityPolicy(ctx context.Context, tenantID, projectID uuid.UUID) (*types.QualityPolicy, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	p, ok := m.d.qualityPolicies[scopeKey{tenantID, projectID}]
	if !ok {
		return nil, trace.NotFound("no quality policy for project %v", projectID)
	}
	cp := *p
	cp.BrandVoiceKeywords = append([]string(nil), p.BrandVoiceKeywords...)
	cp.ForbiddenTopics = append([]string(nil), p.ForbiddenTopics...)
	return &cp, nil
}

// UpsertQualityPolicy creates or replaces the policy row.
func (m *Mem) UpsertQualityPolicy(ctx context.Context, policy *types.QualityPolicy) error {
	if err := checkTenant(policy.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	cp := *policy
	cp.BrandVoiceKeywords = append([]string(nil), policy.BrandVoiceKeywords...)
	cp.ForbiddenTopics = append([]string(nil), policy.ForbiddenTopics...)
	m.d.qualityPolicies[scopeKey{policy.TenantID, policy.ProjectID}] = &cp
	return nil
}

// GetCredential fetches the credential row for (tenant, connector type).
func (m *Mem) GetCredential(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType) (*types.ConnectorCredential, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	c, ok := m.d.credentials[credKey{tenantID, connector}]
	if !ok {
		return nil, trace.NotFound("credential for %v not found", connector)
	}
	cp := *c
	cp.AccessCiphertext = append([]byte(nil), c.AccessCiphertext...)
	cp.RefreshCiphertext = append([]byte(nil), c.RefreshCiphertext...)
	return &cp, nil
}

// UpsertCredential creates or replaces the credential row atomically.
func (m *Mem) UpsertCredential(ctx context.Context, cred *types.ConnectorCredential) error {
	if err := checkTenant(cred.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	cred.UpdatedAt = m.clock.Now().UTC()
	cp := *cred
	m.d.credentials[credKey{cred.TenantID, cred.ConnectorType}] = &cp
	return nil
}

// UpdateCredentialStatus updates health bookkeeping without touching tokens.
func (m *Mem) UpdateCredentialStatus(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType, status types.CredentialStatus, lastError string) error {
	if err := checkTenant(tenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	c, ok := m.d.credentials[credKey{tenantID, connector}]
	if !ok {
		return trace.NotFound("credential for %v not found", connector)
	}
	c.Status = status
	c.LastError = lastError
	c.UpdatedAt = m.clock.Now().UTC()
	return nil
}
