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

// schema is applied on startup by the Postgres store. Statements are
// idempotent; the store has no separate migration tool and relies on
// additive changes here.
const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	project_id UUID NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	media_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'draft',
	publish_at TIMESTAMPTZ,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT posts_scheduled_has_publish_at
		CHECK (status <> 'scheduled' OR publish_at IS NOT NULL)
);
CREATE INDEX IF NOT EXISTS posts_due_idx ON posts (publish_at)
	WHERE status = 'scheduled';
CREATE INDEX IF NOT EXISTS posts_tenant_idx ON posts (tenant_id, project_id);

CREATE TABLE IF NOT EXISTS channels (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	project_id UUID NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, project_id, type)
);

CREATE TABLE IF NOT EXISTS channel_publications (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	post_id UUID NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	channel_id UUID NOT NULL,
	platform TEXT NOT NULL,
	external_post_id TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, post_id, channel_id),
	UNIQUE (tenant_id, channel_id, external_post_id)
);

CREATE TABLE IF NOT EXISTS website_publications (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	post_id UUID NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	channel_id UUID NOT NULL,
	slug TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, post_id),
	UNIQUE (tenant_id, slug)
);

CREATE TABLE IF NOT EXISTS publish_events (
	id BIGSERIAL PRIMARY KEY,
	tenant_id UUID NOT NULL,
	post_id UUID NOT NULL,
	channel_id UUID,
	event_type TEXT NOT NULL,
	status TEXT NOT NULL,
	attempt INT NOT NULL DEFAULT 0,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS publish_events_cursor_idx ON publish_events (created_at, id);
CREATE INDEX IF NOT EXISTS publish_events_post_idx ON publish_events (tenant_id, post_id);
CREATE INDEX IF NOT EXISTS publish_events_channel_idx ON publish_events (tenant_id, channel_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS publish_events_attempt_idx
	ON publish_events (tenant_id, post_id, channel_id, event_type, attempt)
	WHERE channel_id IS NOT NULL AND attempt > 0;

CREATE TABLE IF NOT EXISTS automation_rules (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	project_id UUID NOT NULL,
	name TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	trigger_config JSONB NOT NULL DEFAULT '{}',
	action_type TEXT NOT NULL,
	action_config JSONB NOT NULL DEFAULT '{}',
	guardrails JSONB NOT NULL DEFAULT '{}',
	is_enabled BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS automation_rules_trigger_idx ON automation_rules (trigger_type)
	WHERE is_enabled;

CREATE TABLE IF NOT EXISTS automation_runs (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	rule_id UUID NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	stats JSONB NOT NULL DEFAULT '{}',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS automation_runs_rule_idx ON automation_runs (tenant_id, rule_id, created_at DESC);

CREATE TABLE IF NOT EXISTS automation_events (
	id BIGSERIAL PRIMARY KEY,
	tenant_id UUID NOT NULL,
	rule_id UUID,
	run_id UUID,
	event_type TEXT NOT NULL,
	status TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS content_items (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	project_id UUID NOT NULL,
	rule_id UUID,
	run_id UUID,
	title TEXT NOT NULL,
	normalized_title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	hashtags JSONB NOT NULL DEFAULT '[]',
	cta TEXT NOT NULL DEFAULT '',
	channels JSONB NOT NULL DEFAULT '[]',
	risk_flags JSONB NOT NULL DEFAULT '[]',
	guardrail_violations JSONB NOT NULL DEFAULT '[]',
	risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'draft',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS content_items_title_idx ON content_items (tenant_id, project_id, normalized_title, created_at);

CREATE TABLE IF NOT EXISTS content_templates (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	project_id UUID NOT NULL,
	name TEXT NOT NULL,
	prompt_template TEXT NOT NULL,
	variables JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaigns (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	project_id UUID NOT NULL,
	name TEXT NOT NULL,
	brand_profile JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS approvals (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	content_item_id UUID NOT NULL,
	reviewer TEXT NOT NULL DEFAULT '',
	approved BOOLEAN NOT NULL DEFAULT false,
	note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS quality_policies (
	tenant_id UUID NOT NULL,
	project_id UUID NOT NULL,
	brand_voice_keywords JSONB NOT NULL DEFAULT '[]',
	forbidden_topics JSONB NOT NULL DEFAULT '[]',
	max_caps_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_exclamation_count INTEGER NOT NULL DEFAULT 0,
	require_approval_risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, project_id)
);

CREATE TABLE IF NOT EXISTS connector_credentials (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	connector_type TEXT NOT NULL,
	access_ciphertext BYTEA NOT NULL,
	refresh_ciphertext BYTEA,
	expires_at TIMESTAMPTZ,
	scopes JSONB NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'active',
	last_error TEXT NOT NULL DEFAULT '',
	last_refreshed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, connector_type)
);

CREATE TABLE IF NOT EXISTS channel_retry_policies (
	channel_type TEXT PRIMARY KEY,
	max_attempts INT NOT NULL,
	backoff TEXT NOT NULL DEFAULT 'linear',
	retry_delay_seconds INT NOT NULL
);

CREATE TABLE IF NOT EXISTS platform_rate_limits (
	platform TEXT PRIMARY KEY,
	requests_per_minute INT NOT NULL
);

CREATE TABLE IF NOT EXISTS feature_flags (
	key TEXT PRIMARY KEY,
	enabled_globally BOOLEAN NOT NULL DEFAULT false,
	enabled_tenants JSONB NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS platform_incidents (
	id UUID PRIMARY KEY,
	incident_type TEXT NOT NULL,
	severity TEXT NOT NULL DEFAULT 'warning',
	subject TEXT NOT NULL DEFAULT '',
	details JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'open',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS platform_incidents_open_idx ON platform_incidents (incident_type, subject)
	WHERE status = 'open';

CREATE TABLE IF NOT EXISTS tenant_risk_scores (
	tenant_id UUID PRIMARY KEY,
	score DOUBLE PRECISION NOT NULL,
	bucket TEXT NOT NULL,
	factors JSONB NOT NULL DEFAULT '{}',
	computed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS company_subscriptions (
	tenant_id UUID PRIMARY KEY,
	plan_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	stripe_customer_id TEXT NOT NULL DEFAULT '',
	stripe_subscription_id TEXT NOT NULL DEFAULT '',
	current_period_end TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS company_usages (
	tenant_id UUID PRIMARY KEY,
	period_start TIMESTAMPTZ NOT NULL,
	posts_published INT NOT NULL DEFAULT 0,
	ai_generations INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS failed_jobs (
	id UUID PRIMARY KEY,
	queue TEXT NOT NULL,
	tenant_id UUID,
	payload BYTEA NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	attempts INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stripe_events (
	event_id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_log (
	id UUID PRIMARY KEY,
	tenant_id UUID,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
