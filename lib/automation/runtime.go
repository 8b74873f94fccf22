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

package automation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/events"
	"github.com/techappsUT/social-queue/lib/guardrails"
	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/queue"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

// Config holds the runtime dependencies.
type Config struct {
	Store     storage.Store
	KV        *kv.KV
	Queue     *queue.Queue
	Generator ContentGenerator
	// Guardrails evaluates rule guardrails and quality policies.
	Guardrails *guardrails.Checker
	Clock      clockwork.Clock
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("automation config is missing store")
	}
	if c.KV == nil {
		return trace.BadParameter("automation config is missing kv")
	}
	if c.Queue == nil {
		return trace.BadParameter("automation config is missing queue")
	}
	if c.Generator == nil {
		return trace.BadParameter("automation config is missing content generator")
	}
	if c.Guardrails == nil {
		return trace.BadParameter("automation config is missing guardrails checker")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Runtime executes queued automation runs. It is the only writer of
// AutomationRun.status.
type Runtime struct {
	store     storage.Store
	kv        *kv.KV
	queue     *queue.Queue
	generator ContentGenerator
	checker   *guardrails.Checker
	clock     clockwork.Clock
	log       *log.Entry
}

// New creates a Runtime from config.
func New(cfg Config) (*Runtime, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Runtime{
		store:     cfg.Store,
		kv:        cfg.KV,
		queue:     cfg.Queue,
		generator: cfg.Generator,
		checker:   cfg.Guardrails,
		clock:     cfg.Clock,
		log:       log.WithField(defaults.ComponentKey, defaults.ComponentAutomation),
	}, nil
}

// errCanceled marks a run stopped by the cancel flag between steps.
var errCanceled = trace.LimitExceeded("run canceled")

// ExecuteRun drives one automation run from queued to a terminal status.
// Replaying a terminal run is a no-op.
func (r *Runtime) ExecuteRun(ctx context.Context, tenantID, runID uuid.UUID) error {
	run, err := r.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return trace.Wrap(err)
	}
	if run.Status.Terminal() {
		r.log.WithField("run", runID).Info("Run already terminal, skipping replay.")
		return nil
	}
	rule, err := r.store.GetRule(ctx, tenantID, run.RuleID)
	if err != nil {
		return trace.Wrap(err)
	}

	now := r.clock.Now().UTC()
	run.Status = types.RunStatusRunning
	run.StartedAt = &now
	err = r.store.Tx(ctx, func(tx storage.Store) error {
		if err := tx.UpdateRun(ctx, run); err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(tx.AppendAutomationEvent(ctx, events.NewRunEvent(
			tenantID, rule.ID, run.ID, events.AutomationRunStarted, types.EventStatusOK, nil)))
	})
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaults.RunTimeout)
	defer cancel()

	var stats types.RunStats
	var actionErr error
	if r.canceled(ctx, run.ID) {
		actionErr = errCanceled
	} else {
		switch rule.Action {
		case types.ActionGeneratePost:
			stats, actionErr = r.generatePost(ctx, rule, run)
		case types.ActionSchedulePost:
			stats, actionErr = r.schedulePost(ctx, rule, run)
		case types.ActionPublishNow:
			stats, actionErr = r.publishNow(ctx, rule, run)
		case types.ActionSyncMetrics:
			stats, actionErr = r.syncMetrics(ctx, rule, run)
		default:
			actionErr = trace.BadParameter("unsupported action type %q", rule.Action)
		}
	}

	return trace.Wrap(r.finishRun(ctx, rule, run, stats, actionErr))
}

// canceled checks the between-steps cancel flag.
func (r *Runtime) canceled(ctx context.Context, runID uuid.UUID) bool {
	return r.kv.FlagSet(ctx, kv.RunCancelKey(runID))
}

func (r *Runtime) finishRun(ctx context.Context, rule *types.AutomationRule, run *types.AutomationRun, stats types.RunStats, actionErr error) error {
	now := r.clock.Now().UTC()
	run.Stats = stats
	run.FinishedAt = &now
	produced := stats.Generated + stats.Scheduled + stats.Published
	switch {
	case actionErr != nil:
		run.Status = types.RunStatusFailed
		run.Error = actionErr.Error()
	case stats.Failed > 0 && produced > 0:
		run.Status = types.RunStatusPartial
	case stats.Failed > 0:
		run.Status = types.RunStatusFailed
	default:
		run.Status = types.RunStatusSuccess
	}

	status := types.EventStatusOK
	meta := map[string]any{
		"generated": stats.Generated,
		"scheduled": stats.Scheduled,
		"published": stats.Published,
		"flagged":   stats.Flagged,
		"failed":    stats.Failed,
	}
	if run.Status == types.RunStatusFailed {
		status = types.EventStatusError
		meta[events.MetaError] = run.Error
	}
	err := r.store.Tx(ctx, func(tx storage.Store) error {
		if err := tx.UpdateRun(ctx, run); err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(tx.AppendAutomationEvent(ctx, events.NewRunEvent(
			run.TenantID, rule.ID, run.ID, events.AutomationRunCompleted, status, meta)))
	})
	if err != nil {
		return trace.Wrap(err)
	}
	r.log.WithFields(log.Fields{
		"run":    run.ID,
		"rule":   rule.ID,
		"action": rule.Action,
		"status": run.Status,
	}).Info("Automation run finished.")
	return nil
}

func (r *Runtime) generatePost(ctx context.Context, rule *types.AutomationRule, run *types.AutomationRun) (types.RunStats, error) {
	var stats types.RunStats
	if err := r.checkAIQuota(ctx, rule.TenantID); err != nil {
		return stats, trace.Wrap(err)
	}

	cfg := rule.ActionConfig
	var tpl *types.ContentTemplate
	if cfg.TemplateID != nil {
		var err error
		tpl, err = r.store.GetTemplate(ctx, rule.TenantID, rule.ProjectID, *cfg.TemplateID)
		if err != nil {
			return stats, trace.Wrap(err)
		}
	}
	var campaign *types.Campaign
	if cfg.CampaignID != nil {
		var err error
		campaign, err = r.store.GetCampaign(ctx, rule.TenantID, rule.ProjectID, *cfg.CampaignID)
		if err != nil {
			return stats, trace.Wrap(err)
		}
	}

	content, genErr := r.generateWithRetries(ctx, buildPrompt(cfg, tpl, campaign), cfg.MaxRetries)
	if genErr != nil {
		item := &types.ContentItem{
			TenantID:  rule.TenantID,
			ProjectID: rule.ProjectID,
			RuleID:    &rule.ID,
			RunID:     &run.ID,
			Title:     "generation failed",
			Status:    types.ContentStatusFailed,
			Error:     genErr.Error(),
		}
		err := r.store.Tx(ctx, func(tx storage.Store) error {
			if err := tx.CreateContentItem(ctx, item); err != nil {
				return trace.Wrap(err)
			}
			return trace.Wrap(tx.AppendAutomationEvent(ctx, events.NewRunEvent(
				rule.TenantID, rule.ID, run.ID, events.ContentGenerationFailed, types.EventStatusError,
				map[string]any{events.MetaError: genErr.Error()})))
		})
		if err != nil {
			return stats, trace.Wrap(err)
		}
		stats.Failed++
		return stats, nil
	}

	item := &types.ContentItem{
		TenantID:  rule.TenantID,
		ProjectID: rule.ProjectID,
		RuleID:    &rule.ID,
		RunID:     &run.ID,
		Title:     content.Title,
		Body:      content.Body,
		Hashtags:  content.Hashtags,
		CTA:       content.CTA,
		RiskFlags: content.RiskFlags,
	}
	for _, ch := range content.Channels {
		item.Channels = append(item.Channels, types.ChannelType(ch))
	}

	violations, err := r.checker.Evaluate(ctx, rule.TenantID, rule.ProjectID, rule.Guardrails, content.Title)
	if err != nil {
		return stats, trace.Wrap(err)
	}
	policy, err := r.store.GetQualityPolicy(ctx, rule.TenantID, rule.ProjectID)
	if err != nil && !trace.IsNotFound(err) {
		return stats, trace.Wrap(err)
	}
	report := guardrails.ScoreContent(policy, item)
	item.RiskScore = report.RiskScore
	item.GuardrailViolations = append(violations, report.Violations...)

	needsReview := len(item.RiskFlags) > 0 || len(item.GuardrailViolations) > 0 || report.NeedsApproval
	if needsReview {
		item.Status = types.ContentStatusNeedsReview
	} else {
		item.Status = types.ContentStatusDraft
	}

	err = r.store.Tx(ctx, func(tx storage.Store) error {
		if err := tx.CreateContentItem(ctx, item); err != nil {
			return trace.Wrap(err)
		}
		if err := tx.AppendAutomationEvent(ctx, events.NewRunEvent(
			rule.TenantID, rule.ID, run.ID, events.ContentGenerated, types.EventStatusOK,
			map[string]any{"content_item_id": item.ID.String(), "status": string(item.Status)})); err != nil {
			return trace.Wrap(err)
		}
		if needsReview {
			if err := tx.AppendAutomationEvent(ctx, events.NewRunEvent(
				rule.TenantID, rule.ID, run.ID, events.ContentFlagged, types.EventStatusOK,
				map[string]any{
					"content_item_id":      item.ID.String(),
					"guardrail_violations": item.GuardrailViolations,
					"risk_flags":           item.RiskFlags,
					"risk_score":           item.RiskScore,
				})); err != nil {
				return trace.Wrap(err)
			}
		}
		return trace.Wrap(tx.IncrementUsage(ctx, rule.TenantID, 0, 1))
	})
	if err != nil {
		return stats, trace.Wrap(err)
	}
	stats.Generated++
	if needsReview {
		stats.Flagged++
	}
	return stats, nil
}

// generateWithRetries calls the generator, feeding contract violations back
// as corrections up to the retry budget.
func (r *Runtime) generateWithRetries(ctx context.Context, prompt string, maxRetries int) (*GeneratedContent, error) {
	if maxRetries <= 0 {
		maxRetries = defaults.GenerationMaxRetries
	}
	var corrections []string
	for attempt := 0; attempt <= maxRetries; attempt++ {
		gctx, cancel := context.WithTimeout(ctx, defaults.GeneratorTimeout)
		raw, err := r.generator.Generate(gctx, GenerateRequest{Prompt: prompt, Corrections: corrections})
		cancel()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		content, err := ParseGenerated(raw)
		if err == nil {
			return content, nil
		}
		r.log.WithError(err).WithField("attempt", attempt+1).Info("Generated content violated the contract.")
		corrections = append(corrections, err.Error())
	}
	return nil, trace.BadParameter("generation failed the content contract after %d attempts: %s",
		maxRetries+1, strings.Join(corrections, "; "))
}

// checkAIQuota refuses generation when the tenant's plan AI budget is spent.
func (r *Runtime) checkAIQuota(ctx context.Context, tenantID uuid.UUID) error {
	sub, err := r.store.GetSubscription(ctx, tenantID)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil
		}
		return trace.Wrap(err)
	}
	_, aiQuota := types.QuotaForPlan(sub.PlanID)
	if aiQuota <= 0 {
		return nil
	}
	usage, err := r.store.GetUsage(ctx, tenantID)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil
		}
		return trace.Wrap(err)
	}
	if usage.AIGenerations >= aiQuota {
		return trace.LimitExceeded("ai generation quota of plan %q exhausted (%d used)",
			sub.PlanID, usage.AIGenerations)
	}
	return nil
}

func (r *Runtime) schedulePost(ctx context.Context, rule *types.AutomationRule, run *types.AutomationRun) (types.RunStats, error) {
	var stats types.RunStats
	cfg := rule.ActionConfig
	statuses := []types.ContentStatus{types.ContentStatusApproved}
	if cfg.AllowDraftScheduling {
		statuses = append(statuses, types.ContentStatusDraft)
	}
	items, err := r.store.ListContentItemsByStatus(ctx, rule.TenantID, rule.ProjectID, statuses, 50)
	if err != nil {
		return stats, trace.Wrap(err)
	}

	publishAt := r.clock.Now().UTC().Add(defaults.SchedulePostDelay)
	if cfg.PublishAt != nil {
		publishAt = cfg.PublishAt.UTC()
	}
	for _, item := range items {
		if r.canceled(ctx, run.ID) {
			return stats, errCanceled
		}
		post := &types.Post{
			TenantID:  rule.TenantID,
			ProjectID: rule.ProjectID,
			Title:     item.Title,
			Content:   buildPostContent(item),
			Status:    types.PostStatusScheduled,
			PublishAt: &publishAt,
		}
		item.Status = types.ContentStatusScheduled
		err := r.store.Tx(ctx, func(tx storage.Store) error {
			if err := tx.CreatePost(ctx, post); err != nil {
				return trace.Wrap(err)
			}
			if err := tx.UpdateContentItem(ctx, item); err != nil {
				return trace.Wrap(err)
			}
			return trace.Wrap(tx.AppendPublishEvent(ctx, events.NewPostEvent(
				rule.TenantID, post.ID, events.PostScheduled, types.EventStatusOK,
				map[string]any{events.MetaSource: "automation", "content_item_id": item.ID.String()})))
		})
		if err != nil {
			r.log.WithError(err).WithField("content_item", item.ID).Warn("Scheduling content item failed.")
			stats.Failed++
			continue
		}
		stats.Scheduled++
	}

	if stats.Scheduled > 0 {
		err := r.store.AppendAutomationEvent(ctx, events.NewRunEvent(
			rule.TenantID, rule.ID, run.ID, events.PostsScheduled, types.EventStatusOK,
			map[string]any{"count": stats.Scheduled, "publish_at": publishAt}))
		if err != nil {
			return stats, trace.Wrap(err)
		}
	}
	return stats, nil
}

func (r *Runtime) publishNow(ctx context.Context, rule *types.AutomationRule, run *types.AutomationRun) (types.RunStats, error) {
	var stats types.RunStats
	limit := rule.ActionConfig.Limit
	if limit <= 0 || limit > defaults.PublishNowLimit {
		limit = defaults.PublishNowLimit
	}
	posts, err := r.store.ListEligiblePublishNow(ctx, rule.TenantID, rule.ProjectID, limit)
	if err != nil {
		return stats, trace.Wrap(err)
	}

	now := r.clock.Now().UTC()
	for _, post := range posts {
		if r.canceled(ctx, run.ID) {
			return stats, errCanceled
		}
		err := r.store.Tx(ctx, func(tx storage.Store) error {
			if err := post.Schedule(now); err != nil {
				return trace.Wrap(err)
			}
			if err := post.MarkPublishing(); err != nil {
				return trace.Wrap(err)
			}
			if err := tx.UpdatePost(ctx, post); err != nil {
				return trace.Wrap(err)
			}
			if err := tx.AppendPublishEvent(ctx, events.NewPostEvent(
				rule.TenantID, post.ID, events.PostScheduled, types.EventStatusOK,
				map[string]any{events.MetaSource: "automation_publish_now"})); err != nil {
				return trace.Wrap(err)
			}
			return trace.Wrap(tx.AppendPublishEvent(ctx, events.NewPostEvent(
				rule.TenantID, post.ID, events.PublishNowRequested, types.EventStatusOK, nil)))
		})
		if err != nil {
			r.log.WithError(err).WithField("post", post.ID).Warn("Claiming post for publish-now failed.")
			stats.Failed++
			continue
		}
		if err := r.enqueuePublish(ctx, post); err != nil {
			// The claim committed but the job did not make the queue;
			// release the post so the due-post scan picks it up again.
			r.log.WithError(err).WithField("post", post.ID).Error("Enqueue after publish-now claim failed, reverting.")
			if rerr := r.store.UpdatePostStatus(ctx, post.TenantID, post.ID, types.PostStatusScheduled, "enqueue failed"); rerr != nil {
				r.log.WithError(rerr).WithField("post", post.ID).Error("Revert failed.")
			}
			stats.Failed++
			continue
		}
		stats.Published++
	}
	return stats, nil
}

func (r *Runtime) enqueuePublish(ctx context.Context, post *types.Post) error {
	payload, err := json.Marshal(queue.PublishPayload{PostID: post.ID})
	if err != nil {
		return trace.Wrap(err)
	}
	job := &queue.Job{
		TenantID: post.TenantID,
		Type:     queue.JobPublishPost,
		Payload:  payload,
	}
	var lastErr error
	for i := 0; i < defaults.EnqueueRetries; i++ {
		if lastErr = r.queue.Enqueue(ctx, defaults.QueuePublishing, job); lastErr == nil {
			return nil
		}
	}
	return trace.Wrap(lastErr)
}

func (r *Runtime) syncMetrics(ctx context.Context, rule *types.AutomationRule, run *types.AutomationRun) (types.RunStats, error) {
	// Collection itself belongs to the analytics worker; the run only
	// records that a sync was requested.
	err := r.store.AppendAutomationEvent(ctx, events.NewRunEvent(
		rule.TenantID, rule.ID, run.ID, events.MetricsSyncQueued, types.EventStatusOK, nil))
	return types.RunStats{}, trace.Wrap(err)
}

// buildPostContent flattens a content item into post body text.
func buildPostContent(item *types.ContentItem) string {
	var b strings.Builder
	b.WriteString(item.Body)
	if item.CTA != "" {
		b.WriteString("\n\n")
		b.WriteString(item.CTA)
	}
	if len(item.Hashtags) > 0 {
		b.WriteString("\n\n")
		for i, tag := range item.Hashtags {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString("#" + strings.TrimPrefix(tag, "#"))
		}
	}
	return b.String()
}

// Worker consumes automation run jobs from the scheduler queue.
type Worker struct {
	runtime *Runtime
	queue   *queue.Queue
	log     *log.Entry
}

// NewWorker creates a Worker over a runtime and its queue.
func NewWorker(rt *Runtime, q *queue.Queue) *Worker {
	return &Worker{
		runtime: rt,
		queue:   q,
		log:     log.WithField(defaults.ComponentKey, defaults.ComponentAutomation),
	}
}

// Run consumes run jobs until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		job, err := w.queue.Dequeue(ctx, defaults.QueueScheduler, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.WithError(err).Warn("Dequeue failed.")
			continue
		}
		if job == nil {
			continue
		}
		w.handleJob(ctx, job)
	}
}

func (w *Worker) handleJob(ctx context.Context, job *queue.Job) {
	if job.Type != queue.JobAutomationRun {
		w.log.WithField("type", job.Type).Warn("Unexpected job type on scheduler queue, dead-lettering.")
		if err := w.queue.DeadLetter(ctx, defaults.QueueScheduler, job, trace.BadParameter("unexpected job type %q", job.Type)); err != nil {
			w.log.WithError(err).Error("Dead-letter failed.")
		}
		return
	}
	var payload queue.RunPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		if err := w.queue.DeadLetter(ctx, defaults.QueueScheduler, job, trace.Wrap(err)); err != nil {
			w.log.WithError(err).Error("Dead-letter failed.")
		}
		return
	}
	if err := w.runtime.ExecuteRun(ctx, job.TenantID, payload.RunID); err != nil {
		w.log.WithError(err).WithField("run", payload.RunID).Warn("Run job errored.")
		if _, rerr := w.queue.Retry(ctx, defaults.QueueScheduler, job, err, defaults.RetryDelay); rerr != nil {
			w.log.WithError(rerr).Error("Requeue failed.")
		}
	}
}
