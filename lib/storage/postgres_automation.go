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
	"github.com/jackc/pgx/v5"

	"github.com/techappsUT/social-queue/lib/types"
)

// UpsertRule creates or replaces an automation rule.
func (s *PGStore) UpsertRule(ctx context.Context, rule *types.AutomationRule) error {
	if err := rule.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := s.clock.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO automation_rules (id, tenant_id, project_id, name, trigger_type, trigger_config, action_type, action_config, guardrails, is_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			trigger_type = excluded.trigger_type,
			trigger_config = excluded.trigger_config,
			action_type = excluded.action_type,
			action_config = excluded.action_config,
			guardrails = excluded.guardrails,
			is_enabled = excluded.is_enabled,
			updated_at = excluded.updated_at`,
		rule.ID, rule.TenantID, rule.ProjectID, rule.Name, rule.Trigger,
		mustJSON(rule.TriggerConfig), rule.Action, mustJSON(rule.ActionConfig),
		mustJSON(rule.Guardrails), rule.IsEnabled, now)
	return convertError(err)
}

const ruleColumns = `id, tenant_id, project_id, name, trigger_type, trigger_config, action_type, action_config, guardrails, is_enabled, created_at, updated_at`

func scanRule(row pgx.Row) (*types.AutomationRule, error) {
	var r types.AutomationRule
	var triggerConfig, actionConfig, guardrails []byte
	err := row.Scan(&r.ID, &r.TenantID, &r.ProjectID, &r.Name, &r.Trigger, &triggerConfig,
		&r.Action, &actionConfig, &guardrails, &r.IsEnabled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal(triggerConfig, &r.TriggerConfig); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := json.Unmarshal(actionConfig, &r.ActionConfig); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := json.Unmarshal(guardrails, &r.Guardrails); err != nil {
		return nil, trace.Wrap(err)
	}
	return &r, nil
}

// GetRule fetches one rule within the tenant scope.
func (s *PGStore) GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*types.AutomationRule, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return scanRule(s.q.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE tenant_id = $1 AND id = $2`, tenantID, ruleID))
}

// ListEnabledRules is the scheduler's cross-tenant rule scan.
func (s *PGStore) ListEnabledRules(ctx context.Context, trigger types.TriggerType) ([]*types.AutomationRule, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.q.Query(ctx, `
		SELECT `+ruleColumns+` FROM automation_rules
		WHERE is_enabled AND trigger_type = $1
		ORDER BY created_at`, trigger)
	if err != nil {
		return nil, convertError(err)
	}
	defer rows.Close()
	var out []*types.AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, r)
	}
	return out, trace.Wrap(rows.Err())
}

// CreateRun inserts a queued run.
func (s *PGStore) CreateRun(ctx context.Context, run *types.AutomationRun) error {
	if err := checkTenant(run.TenantID); err != nil {
		return trace.Wrap(err)
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = types.RunStatusQueued
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := s.clock.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO automation_runs (id, tenant_id, rule_id, status, stats, error, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.TenantID, run.RuleID, run.Status, mustJSON(run.Stats), run.Error,
		now, run.StartedAt, run.FinishedAt)
	if err != nil {
		return convertError(err)
	}
	run.CreatedAt = now
	return nil
}

const runColumns = `id, tenant_id, rule_id, status, stats, error, created_at, started_at, finished_at`

func scanRun(row pgx.Row) (*types.AutomationRun, error) {
	var r types.AutomationRun
	var stats []byte
	err := row.Scan(&r.ID, &r.TenantID, &r.RuleID, &r.Status, &stats, &r.Error,
		&r.CreatedAt, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal(stats, &r.Stats); err != nil {
		return nil, trace.Wrap(err)
	}
	return &r, nil
}

// GetRun fetches one run within the tenant scope.
func (s *PGStore) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*types.AutomationRun, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return scanRun(s.q.QueryRow(ctx,
		`SELECT `+runColumns+` FROM automation_runs WHERE tenant_id = $1 AND id = $2`, tenantID, runID))
}

// UpdateRun persists run progress. Terminal runs are immutable.
func (s *PGStore) UpdateRun(ctx context.Context, run *types.AutomationRun) error {
	if err := checkTenant(run.TenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	tag, err := s.q.Exec(ctx, `
		UPDATE automation_runs SET status = $3, stats = $4, error = $5, started_at = $6, finished_at = $7
		WHERE tenant_id = $1 AND id = $2
			AND status NOT IN ('success', 'partial', 'failed')`,
		run.TenantID, run.ID, run.Status, mustJSON(run.Stats), run.Error, run.StartedAt, run.FinishedAt)
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.CompareFailed("run %v is terminal or missing", run.ID)
	}
	return nil
}

// LatestRunForRule returns the most recent run of a rule, NotFound if none.
func (s *PGStore) LatestRunForRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*types.AutomationRun, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return scanRun(s.q.QueryRow(ctx, `
		SELECT `+runColumns+` FROM automation_runs
		WHERE tenant_id = $1 AND rule_id = $2
		ORDER BY created_at DESC
		LIMIT 1`, tenantID, ruleID))
}

// RecentRunExists is the anti-stampede lookback check.
func (s *PGStore) RecentRunExists(ctx context.Context, tenantID, ruleID uuid.UUID, since time.Time, statuses []types.RunStatus) (bool, error) {
	if err := checkTenant(tenantID); err != nil {
		return false, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	ss := make([]string, 0, len(statuses))
	for _, st := range statuses {
		ss = append(ss, string(st))
	}
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM automation_runs
			WHERE tenant_id = $1 AND rule_id = $2 AND created_at >= $3 AND status = ANY($4)
		)`, tenantID, ruleID, since.UTC(), ss).Scan(&exists)
	return exists, convertError(err)
}

// CreateContentItem inserts a content item.
func (s *PGStore) CreateContentItem(ctx context.Context, item *types.ContentItem) error {
	if err := checkTenant(item.TenantID); err != nil {
		return trace.Wrap(err)
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = types.ContentStatusDraft
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := s.clock.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO content_items (id, tenant_id, project_id, rule_id, run_id, title, normalized_title, body, hashtags, cta, channels, risk_flags, guardrail_violations, risk_score, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)`,
		item.ID, item.TenantID, item.ProjectID, item.RuleID, item.RunID, item.Title,
		types.NormalizedTitle(item.Title), item.Body, mustJSON(item.Hashtags), item.CTA,
		mustJSON(item.Channels), mustJSON(item.RiskFlags), mustJSON(item.GuardrailViolations),
		item.RiskScore, item.Status, item.Error, now)
	if err != nil {
		return convertError(err)
	}
	item.CreatedAt = now
	return nil
}

const contentColumns = `id, tenant_id, project_id, rule_id, run_id, title, body, hashtags, cta, channels, risk_flags, guardrail_violations, risk_score, status, error, created_at, updated_at`

func scanContentItem(row pgx.Row) (*types.ContentItem, error) {
	var it types.ContentItem
	var hashtags, channels, riskFlags, violations []byte
	err := row.Scan(&it.ID, &it.TenantID, &it.ProjectID, &it.RuleID, &it.RunID, &it.Title,
		&it.Body, &hashtags, &it.CTA, &channels, &riskFlags, &violations,
		&it.RiskScore, &it.Status, &it.Error, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{hashtags, &it.Hashtags},
		{channels, &it.Channels},
		{riskFlags, &it.RiskFlags},
		{violations, &it.GuardrailViolations},
	} {
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return &it, nil
}

// GetContentItem fetches one content item within the tenant scope.
func (s *PGStore) GetContentItem(ctx context.Context, tenantID, itemID uuid.UUID) (*types.ContentItem, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return scanContentItem(s.q.QueryRow(ctx,
		`SELECT `+contentColumns+` FROM content_items WHERE tenant_id = $1 AND id = $2`, tenantID, itemID))
}

// UpdateContentItem persists content item fields.
func (s *PGStore) UpdateContentItem(ctx context.Context, item *types.ContentItem) error {
	if err := checkTenant(item.TenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	tag, err := s.q.Exec(ctx, `
		UPDATE content_items SET title = $3, normalized_title = $4, body = $5, hashtags = $6,
			cta = $7, channels = $8, risk_flags = $9, guardrail_violations = $10,
			risk_score = $11, status = $12, error = $13, updated_at = $14
		WHERE tenant_id = $1 AND id = $2`,
		item.TenantID, item.ID, item.Title, types.NormalizedTitle(item.Title), item.Body,
		mustJSON(item.Hashtags), item.CTA, mustJSON(item.Channels), mustJSON(item.RiskFlags),
		mustJSON(item.GuardrailViolations), item.RiskScore, item.Status, item.Error,
		s.clock.Now().UTC())
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("content item %v not found", item.ID)
	}
	return nil
}

// ListContentItemsByStatus returns matching items oldest first.
func (s *PGStore) ListContentItemsByStatus(ctx context.Context, tenantID, projectID uuid.UUID, statuses []types.ContentStatus, limit int) ([]*types.ContentItem, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	ss := make([]string, 0, len(statuses))
	for _, st := range statuses {
		ss = append(ss, string(st))
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+contentColumns+` FROM content_items
		WHERE tenant_id = $1 AND project_id = $2 AND status = ANY($3)
		ORDER BY created_at
		LIMIT $4`, tenantID, projectID, ss, limit)
	if err != nil {
		return nil, convertError(err)
	}
	defer rows.Close()
	var out []*types.ContentItem
	for rows.Next() {
		it, err := scanContentItem(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, it)
	}
	return out, trace.Wrap(rows.Err())
}

// HasRecentContentTitle backs the duplicate-topic guardrail.
func (s *PGStore) HasRecentContentTitle(ctx context.Context, tenantID, projectID uuid.UUID, normalizedTitle string, since time.Time) (bool, error) {
	if err := checkTenant(tenantID); err != nil {
		return false, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM content_items
			WHERE tenant_id = $1 AND project_id = $2 AND normalized_title = $3 AND created_at >= $4
		)`, tenantID, projectID, normalizedTitle, since.UTC()).Scan(&exists)
	return exists, convertError(err)
}

// ContentCounts returns total and review-flagged counts in the window.
func (s *PGStore) ContentCounts(ctx context.Context, tenantID uuid.UUID, since time.Time) (total, flagged int, err error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, 0, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	err = s.q.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE status IN ('needs_review', 'rejected'))
		FROM content_items
		WHERE tenant_id = $1 AND created_at >= $2`, tenantID, since.UTC()).Scan(&total, &flagged)
	return total, flagged, convertError(err)
}

// CreateTemplate inserts a content template.
func (s *PGStore) CreateTemplate(ctx context.Context, tpl *types.ContentTemplate) error {
	if err := checkTenant(tpl.TenantID); err != nil {
		return trace.Wrap(err)
	}
	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO content_templates (id, tenant_id, project_id, name, prompt_template, variables, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tpl.ID, tpl.TenantID, tpl.ProjectID, tpl.Name, tpl.PromptTemplate,
		mustJSON(tpl.Variables), s.clock.Now().UTC())
	return convertError(err)
}

// GetTemplate fetches a template scoped to (tenant, project); a template of
// another project is invisible by construction.
func (s *PGStore) GetTemplate(ctx context.Context, tenantID, projectID, tplID uuid.UUID) (*types.ContentTemplate, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var t types.ContentTemplate
	var variables []byte
	err := s.q.QueryRow(ctx, `
		SELECT id, tenant_id, project_id, name, prompt_template, variables, created_at
		FROM content_templates
		WHERE tenant_id = $1 AND project_id = $2 AND id = $3`, tenantID, projectID, tplID).
		Scan(&t.ID, &t.TenantID, &t.ProjectID, &t.Name, &t.PromptTemplate, &variables, &t.CreatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal(variables, &t.Variables); err != nil {
		return nil, trace.Wrap(err)
	}
	return &t, nil
}

// CreateCampaign inserts a campaign.
func (s *PGStore) CreateCampaign(ctx context.Context, campaign *types.Campaign) error {
	if err := checkTenant(campaign.TenantID); err != nil {
		return trace.Wrap(err)
	}
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO campaigns (id, tenant_id, project_id, name, brand_profile, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		campaign.ID, campaign.TenantID, campaign.ProjectID, campaign.Name,
		mustJSON(campaign.BrandProfile), s.clock.Now().UTC())
	return convertError(err)
}

// GetCampaign fetches a campaign scoped to (tenant, project).
func (s *PGStore) GetCampaign(ctx context.Context, tenantID, projectID, campaignID uuid.UUID) (*types.Campaign, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var c types.Campaign
	var profile []byte
	err := s.q.QueryRow(ctx, `
		SELECT id, tenant_id, project_id, name, brand_profile, created_at
		FROM campaigns
		WHERE tenant_id = $1 AND project_id = $2 AND id = $3`, tenantID, projectID, campaignID).
		Scan(&c.ID, &c.TenantID, &c.ProjectID, &c.Name, &profile, &c.CreatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal(profile, &c.BrandProfile); err != nil {
		return nil, trace.Wrap(err)
	}
	return &c, nil
}

// CreateApproval records a review decision.
func (s *PGStore) CreateApproval(ctx context.Context, approval *types.Approval) error {
	if err := checkTenant(approval.TenantID); err != nil {
		return trace.Wrap(err)
	}
	if approval.ID == uuid.Nil {
		approval.ID = uuid.New()
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO approvals (id, tenant_id, content_item_id, reviewer, approved, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		approval.ID, approval.TenantID, approval.ContentItemID, approval.Reviewer,
		approval.Approved, approval.Note, s.clock.Now().UTC())
	return convertError(err)
}

// GetQualityPolicy returns the AI quality policy of (tenant, project).
func (s *PGStore) GetQualityPolicy(ctx context.Context, tenantID, projectID uuid.UUID) (*types.QualityPolicy, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var p types.QualityPolicy
	var keywords, topics []byte
	err := s.q.QueryRow(ctx, `
		SELECT tenant_id, project_id, brand_voice_keywords, forbidden_topics, max_caps_ratio, max_exclamation_count, require_approval_risk_score
		FROM quality_policies
		WHERE tenant_id = $1 AND project_id = $2`, tenantID, projectID).
		Scan(&p.TenantID, &p.ProjectID, &keywords, &topics, &p.MaxCapsRatio,
			&p.MaxExclamationCount, &p.RequireApprovalRiskScore)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal(keywords, &p.BrandVoiceKeywords); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := json.Unmarshal(topics, &p.ForbiddenTopics); err != nil {
		return nil, trace.Wrap(err)
	}
	return &p, nil
}

// UpsertQualityPolicy creates or replaces the policy row.
func (s *PGStore) UpsertQualityPolicy(ctx context.Context, policy *types.QualityPolicy) error {
	if err := checkTenant(policy.TenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO quality_policies (tenant_id, project_id, brand_voice_keywords, forbidden_topics, max_caps_ratio, max_exclamation_count, require_approval_risk_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, project_id) DO UPDATE SET
			brand_voice_keywords = excluded.brand_voice_keywords,
			forbidden_topics = excluded.forbidden_topics,
			max_caps_ratio = excluded.max_caps_ratio,
			max_exclamation_count = excluded.max_exclamation_count,
			require_approval_risk_score = excluded.require_approval_risk_score`,
		policy.TenantID, policy.ProjectID, mustJSON(policy.BrandVoiceKeywords),
		mustJSON(policy.ForbiddenTopics), policy.MaxCapsRatio,
		policy.MaxExclamationCount, policy.RequireApprovalRiskScore)
	return convertError(err)
}

// GetCredential fetches the credential row for (tenant, connector type).
func (s *PGStore) GetCredential(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType) (*types.ConnectorCredential, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var c types.ConnectorCredential
	var scopes []byte
	err := s.q.QueryRow(ctx, `
		SELECT id, tenant_id, connector_type, access_ciphertext, refresh_ciphertext, expires_at, scopes, status, last_error, last_refreshed_at, created_at, updated_at
		FROM connector_credentials
		WHERE tenant_id = $1 AND connector_type = $2`, tenantID, connector).
		Scan(&c.ID, &c.TenantID, &c.ConnectorType, &c.AccessCiphertext, &c.RefreshCiphertext,
			&c.ExpiresAt, &scopes, &c.Status, &c.LastError, &c.LastRefreshedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal(scopes, &c.Scopes); err != nil {
		return nil, trace.Wrap(err)
	}
	return &c, nil
}

// UpsertCredential creates or replaces the credential row atomically.
func (s *PGStore) UpsertCredential(ctx context.Context, cred *types.ConnectorCredential) error {
	if err := checkTenant(cred.TenantID); err != nil {
		return trace.Wrap(err)
	}
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := s.clock.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO connector_credentials (id, tenant_id, connector_type, access_ciphertext, refresh_ciphertext, expires_at, scopes, status, last_error, last_refreshed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (tenant_id, connector_type) DO UPDATE SET
			access_ciphertext = excluded.access_ciphertext,
			refresh_ciphertext = excluded.refresh_ciphertext,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			status = excluded.status,
			last_error = excluded.last_error,
			last_refreshed_at = excluded.last_refreshed_at,
			updated_at = excluded.updated_at`,
		cred.ID, cred.TenantID, cred.ConnectorType, cred.AccessCiphertext, cred.RefreshCiphertext,
		cred.ExpiresAt, mustJSON(cred.Scopes), cred.Status, cred.LastError, cred.LastRefreshedAt, now)
	return convertError(err)
}

// UpdateCredentialStatus updates health bookkeeping without touching tokens.
func (s *PGStore) UpdateCredentialStatus(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType, status types.CredentialStatus, lastError string) error {
	if err := checkTenant(tenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	tag, err := s.q.Exec(ctx, `
		UPDATE connector_credentials SET status = $3, last_error = $4, updated_at = $5
		WHERE tenant_id = $1 AND connector_type = $2`,
		tenantID, connector, status, lastError, s.clock.Now().UTC())
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("credential for %v not found", connector)
	}
	return nil
}
