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
	"github.com/gravitational/trace"
)

// TriggerType says what fires an automation rule.
type TriggerType string

const (
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
	TriggerEvent    TriggerType = "event"
)

// ActionType says what an automation rule does when fired.
type ActionType string

const (
	ActionGeneratePost ActionType = "generate_post"
	ActionSchedulePost ActionType = "schedule_post"
	ActionPublishNow   ActionType = "publish_now"
	ActionSyncMetrics  ActionType = "sync_metrics"
)

// TriggerConfig parameterizes a rule trigger. Exactly the fields relevant to
// the trigger type are consulted.
type TriggerConfig struct {
	// CronExpr is a standard five-field cron expression (cron triggers).
	CronExpr string `json:"cron_expr,omitempty"`
	// IntervalSeconds is the minimum spacing between runs (interval
	// triggers).
	IntervalSeconds int `json:"interval_seconds,omitempty"`
	// EventTypes filters which publish event types fire the rule (event
	// triggers). Empty matches all.
	EventTypes []string `json:"event_types,omitempty"`
	// Statuses filters on the event status, ok or error. Empty matches
	// all.
	Statuses []string `json:"statuses,omitempty"`
}

// Interval returns the interval trigger spacing.
func (c TriggerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ActionConfig parameterizes a rule action.
type ActionConfig struct {
	TemplateID *uuid.UUID    `json:"template_id,omitempty"`
	CampaignID *uuid.UUID    `json:"campaign_id,omitempty"`
	Topic      string        `json:"topic,omitempty"`
	Channels   []ChannelType `json:"channels,omitempty"`
	// PublishAt applies to schedule_post; when absent, posts are scheduled
	// a few minutes out.
	PublishAt *time.Time `json:"publish_at,omitempty"`
	// Limit caps how many posts a publish_now action picks up.
	Limit int `json:"limit,omitempty"`
	// AllowDraftScheduling lets schedule_post pick up draft content items
	// in addition to approved ones.
	AllowDraftScheduling bool `json:"allow_draft_scheduling,omitempty"`
	// MaxRetries bounds generation correction retries.
	MaxRetries int `json:"max_retries,omitempty"`
}

// QuietHours is a daily window during which generated content is flagged for
// review rather than scheduled. Start is inclusive, End exclusive; the
// window wraps midnight when Start > End. Times are "HH:MM" in UTC.
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Guardrails are the per-rule policies evaluated before content or posts
// materialize.
type Guardrails struct {
	MaxPostsPerDayProject int         `json:"max_posts_per_day_project,omitempty"`
	QuietHours            *QuietHours `json:"quiet_hours,omitempty"`
	// BlackoutDates holds ISO dates (YYYY-MM-DD, UTC) on which the rule
	// produces review-gated output only.
	BlackoutDates     []string `json:"blackout_dates,omitempty"`
	DuplicateTopicDays int     `json:"duplicate_topic_days,omitempty"`
	ApprovalRequired   bool    `json:"approval_required,omitempty"`
}

// AutomationRule is a stored trigger → action binding.
type AutomationRule struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	ProjectID     uuid.UUID
	Name          string
	Trigger       TriggerType
	TriggerConfig TriggerConfig
	Action        ActionType
	ActionConfig  ActionConfig
	Guardrails    Guardrails
	IsEnabled     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CheckAndSetDefaults validates the rule and fills generated fields.
func (r *AutomationRule) CheckAndSetDefaults() error {
	if r.TenantID == uuid.Nil {
		return trace.BadParameter("rule is missing tenant id")
	}
	if r.ProjectID == uuid.Nil {
		return trace.BadParameter("rule is missing project id")
	}
	switch r.Trigger {
	case TriggerCron:
		if r.TriggerConfig.CronExpr == "" {
			return trace.BadParameter("cron rule %q has no expression", r.Name)
		}
	case TriggerInterval:
		if r.TriggerConfig.IntervalSeconds <= 0 {
			return trace.BadParameter("interval rule %q has no interval", r.Name)
		}
	case TriggerEvent:
	default:
		return trace.BadParameter("unsupported trigger type %q", r.Trigger)
	}
	switch r.Action {
	case ActionGeneratePost, ActionSchedulePost, ActionPublishNow, ActionSyncMetrics:
	default:
		return trace.BadParameter("unsupported action type %q", r.Action)
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// RunStatus is the lifecycle state of an automation run.
type RunStatus string

const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// Terminal reports whether the status is final. A finished run is never
// mutated; re-queueing creates a new run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusPartial, RunStatusFailed:
		return true
	}
	return false
}

// RunStats aggregates what a run produced.
type RunStats struct {
	Generated int `json:"generated"`
	Scheduled int `json:"scheduled"`
	Published int `json:"published"`
	Flagged   int `json:"flagged"`
	Failed    int `json:"failed"`
}

// AutomationRun is one execution of a rule.
type AutomationRun struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	RuleID     uuid.UUID
	Status     RunStatus
	Stats      RunStats
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}
