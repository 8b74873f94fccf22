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

// Package scheduler drives the engine's control loops: the due-post scan
// that claims scheduled posts for publishing, the time-rule scan that fires
// cron and interval automation rules, the event-rule scan that follows the
// publish event log through a KV cursor, and the housekeeping beats
// (heartbeat, monthly usage reset).
//
// Multiple scheduler instances may run concurrently. The due-post scan is
// serialized by row claiming in the store; rule dispatch is serialized by a
// minute-bucket fingerprint in KV plus a recent-run check in the store, so a
// timing race between instances cannot double-fire a rule.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/events"
	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/queue"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

// claimBatchSize bounds how many due posts one scan claims.
const claimBatchSize = 50

// eventScanBatchSize bounds how many publish events one event-rule scan
// reads past the cursor.
const eventScanBatchSize = 200

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Config holds Scheduler construction parameters.
type Config struct {
	Store storage.Store
	KV    *kv.KV
	Queue *queue.Queue
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("scheduler: missing store")
	}
	if c.KV == nil {
		return trace.BadParameter("scheduler: missing kv")
	}
	if c.Queue == nil {
		return trace.BadParameter("scheduler: missing queue")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Scheduler runs the control loops.
type Scheduler struct {
	store storage.Store
	kv    *kv.KV
	queue *queue.Queue
	clock clockwork.Clock
	log   *log.Entry
}

// New creates a Scheduler from config.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Scheduler{
		store: cfg.Store,
		kv:    cfg.KV,
		queue: cfg.Queue,
		clock: cfg.Clock,
		log:   log.WithField(defaults.ComponentKey, defaults.ComponentScheduler),
	}, nil
}

// Run drives all loops until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	due := s.clock.NewTicker(defaults.DuePostScanInterval)
	defer due.Stop()
	timeRules := s.clock.NewTicker(defaults.TimeRuleScanInterval)
	defer timeRules.Stop()
	eventRules := s.clock.NewTicker(defaults.EventRuleScanInterval)
	defer eventRules.Stop()
	usage := s.clock.NewTicker(defaults.UsageResetInterval)
	defer usage.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-due.Chan():
			if err := s.ScanDuePosts(ctx); err != nil {
				s.log.WithError(err).Warn("Due-post scan failed.")
			}
		case <-timeRules.Chan():
			if err := s.ScanTimeRules(ctx); err != nil {
				s.log.WithError(err).Warn("Time-rule scan failed.")
			}
		case <-eventRules.Chan():
			if err := s.ScanEventRules(ctx); err != nil {
				s.log.WithError(err).Warn("Event-rule scan failed.")
			}
		case <-usage.Chan():
			if err := s.ResetMonthlyUsage(ctx); err != nil {
				s.log.WithError(err).Warn("Usage reset failed.")
			}
		}
	}
}

// ScanDuePosts claims due scheduled posts and hands them to the publishing
// queue. Claim, transition and event commit in one transaction; the enqueue
// happens after commit with a bounded retry, and an unreachable queue
// reverts the post so the next scan picks it up again.
func (s *Scheduler) ScanDuePosts(ctx context.Context) error {
	defer observeScan("due_posts", time.Now())
	now := s.clock.Now().UTC()
	var claimed []*types.Post
	err := s.store.Tx(ctx, func(tx storage.Store) error {
		posts, err := tx.ClaimDuePosts(ctx, now, claimBatchSize)
		if err != nil {
			return trace.Wrap(err)
		}
		for _, post := range posts {
			if err := post.MarkPublishing(); err != nil {
				return trace.Wrap(err)
			}
			if err := tx.UpdatePostStatus(ctx, post.TenantID, post.ID, types.PostStatusPublishing, ""); err != nil {
				return trace.Wrap(err)
			}
			if err := tx.AppendPublishEvent(ctx, events.NewPostEvent(
				post.TenantID, post.ID, events.PostPublishingStarted, types.EventStatusOK, nil,
			)); err != nil {
				return trace.Wrap(err)
			}
		}
		claimed = posts
		return nil
	})
	if err != nil {
		return trace.Wrap(err)
	}
	for _, post := range claimed {
		s.enqueuePublish(ctx, post)
	}
	postsClaimed.Add(float64(len(claimed)))
	if depth, err := s.queue.Depth(ctx, defaults.QueuePublishing); err == nil {
		queueDepth.WithLabelValues(defaults.QueuePublishing).Set(float64(depth))
	}
	return nil
}

func (s *Scheduler) enqueuePublish(ctx context.Context, post *types.Post) {
	payload, err := json.Marshal(queue.PublishPayload{PostID: post.ID})
	if err != nil {
		s.log.WithError(err).Error("Failed to marshal publish payload.")
		return
	}
	job := &queue.Job{
		TenantID:    post.TenantID,
		Type:        queue.JobPublishPost,
		Payload:     payload,
		MaxAttempts: defaults.MaxPublishAttempts,
	}
	var enqueueErr error
	for i := 0; i < defaults.EnqueueRetries; i++ {
		if enqueueErr = s.queue.Enqueue(ctx, defaults.QueuePublishing, job); enqueueErr == nil {
			return
		}
	}
	s.log.WithError(enqueueErr).WithField("post", post.ID).Error("Enqueue failed, reverting claim.")
	if err := s.store.UpdatePostStatus(ctx, post.TenantID, post.ID, types.PostStatusScheduled, "enqueue failed"); err != nil {
		s.log.WithError(err).Error("Failed to revert claimed post.")
	}
}

// ScanTimeRules fires cron and interval rules that have come due.
func (s *Scheduler) ScanTimeRules(ctx context.Context) error {
	defer observeScan("time_rules", time.Now())
	now := s.clock.Now().UTC()
	for _, trigger := range []types.TriggerType{types.TriggerCron, types.TriggerInterval} {
		rules, err := s.store.ListEnabledRules(ctx, trigger)
		if err != nil {
			return trace.Wrap(err)
		}
		for _, rule := range rules {
			due, err := s.ruleDue(ctx, rule, now)
			if err != nil {
				s.log.WithError(err).WithField("rule", rule.ID).Warn("Due check failed, skipping rule.")
				continue
			}
			if !due {
				continue
			}
			if err := s.DispatchRule(ctx, rule, now); err != nil {
				s.log.WithError(err).WithField("rule", rule.ID).Warn("Rule dispatch failed.")
			}
		}
	}
	return nil
}

// ruleDue decides whether a time rule should fire at now, based on its last
// run.
func (s *Scheduler) ruleDue(ctx context.Context, rule *types.AutomationRule, now time.Time) (bool, error) {
	last := rule.CreatedAt
	latest, err := s.store.LatestRunForRule(ctx, rule.TenantID, rule.ID)
	switch {
	case err == nil:
		last = latest.CreatedAt
	case !trace.IsNotFound(err):
		return false, trace.Wrap(err)
	}

	switch rule.Trigger {
	case types.TriggerCron:
		schedule, err := cronParser.Parse(rule.TriggerConfig.CronExpr)
		if err != nil {
			return false, trace.BadParameter("rule %v has malformed cron expression %q", rule.ID, rule.TriggerConfig.CronExpr)
		}
		// The next fire time after the last run having passed means a tick
		// elapsed that no run covered.
		return !schedule.Next(last).After(now), nil
	case types.TriggerInterval:
		return !now.Before(last.Add(rule.TriggerConfig.Interval())), nil
	}
	return false, nil
}

// DispatchRule creates a queued run for the rule and enqueues its execution,
// guarded against double-dispatch by the minute fingerprint and the
// recent-run lookback.
func (s *Scheduler) DispatchRule(ctx context.Context, rule *types.AutomationRule, now time.Time) error {
	if !s.kv.Dedupe(ctx, kv.RuleFingerprintKey(rule.ID, rule.Trigger, now), 2*time.Minute) {
		return nil
	}
	recent, err := s.store.RecentRunExists(ctx, rule.TenantID, rule.ID, now.Add(-defaults.RecentRunWindow), []types.RunStatus{
		types.RunStatusQueued, types.RunStatusRunning, types.RunStatusSuccess, types.RunStatusPartial,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if recent {
		return nil
	}

	run := &types.AutomationRun{
		TenantID: rule.TenantID,
		RuleID:   rule.ID,
		Status:   types.RunStatusQueued,
	}
	err = s.store.Tx(ctx, func(tx storage.Store) error {
		if err := tx.CreateRun(ctx, run); err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(tx.AppendAutomationEvent(ctx, events.NewRunEvent(
			rule.TenantID, rule.ID, run.ID, events.AutomationRunQueued, types.EventStatusOK, nil,
		)))
	})
	if err != nil {
		return trace.Wrap(err)
	}

	payload, err := json.Marshal(queue.RunPayload{RunID: run.ID})
	if err != nil {
		return trace.Wrap(err)
	}
	s.log.WithFields(log.Fields{"rule": rule.ID, "run": run.ID, "trigger": rule.Trigger}).Info("Dispatched automation run.")
	return trace.Wrap(s.queue.Enqueue(ctx, defaults.QueueScheduler, &queue.Job{
		TenantID: rule.TenantID,
		Type:     queue.JobAutomationRun,
		Payload:  payload,
	}))
}

// ScanEventRules advances the event cursor over the publish log and fires
// matching event rules. The cursor starts at now on first run: event rules
// react to new activity, not history.
func (s *Scheduler) ScanEventRules(ctx context.Context) error {
	defer observeScan("event_rules", time.Now())
	now := s.clock.Now().UTC()
	cursor, err := s.kv.GetCursor(ctx, kv.EventRuleCursorKey)
	if err != nil {
		return trace.Wrap(err)
	}
	if cursor.IsZero() {
		return trace.Wrap(s.kv.SetCursor(ctx, kv.EventRuleCursorKey, now))
	}

	evs, err := s.store.ListPublishEventsAfter(ctx, cursor, eventScanBatchSize)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(evs) == 0 {
		return nil
	}

	rules, err := s.store.ListEnabledRules(ctx, types.TriggerEvent)
	if err != nil {
		return trace.Wrap(err)
	}

	for _, ev := range evs {
		for _, rule := range rules {
			match, err := s.eventMatches(ctx, rule, ev)
			if err != nil {
				s.log.WithError(err).WithField("rule", rule.ID).Warn("Event match failed.")
				continue
			}
			if !match {
				continue
			}
			if err := s.DispatchRule(ctx, rule, now); err != nil {
				s.log.WithError(err).WithField("rule", rule.ID).Warn("Event rule dispatch failed.")
			}
		}
	}
	last := evs[len(evs)-1].CreatedAt
	return trace.Wrap(s.kv.SetCursor(ctx, kv.EventRuleCursorKey, last))
}

func (s *Scheduler) eventMatches(ctx context.Context, rule *types.AutomationRule, ev *types.PublishEvent) (bool, error) {
	if ev.TenantID != rule.TenantID {
		return false, nil
	}
	cfg := rule.TriggerConfig
	if len(cfg.EventTypes) > 0 && !containsString(cfg.EventTypes, ev.Type) {
		return false, nil
	}
	if len(cfg.Statuses) > 0 && !containsString(cfg.Statuses, string(ev.Status)) {
		return false, nil
	}
	// Project scoping goes through the post the event belongs to.
	post, err := s.store.GetPost(ctx, ev.TenantID, ev.PostID)
	if trace.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, trace.Wrap(err)
	}
	return post.ProjectID == rule.ProjectID, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ResetMonthlyUsage zeroes usage rows from previous billing months.
func (s *Scheduler) ResetMonthlyUsage(ctx context.Context) error {
	now := s.clock.Now().UTC()
	cutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	n, err := s.store.ResetUsageBefore(ctx, cutoff)
	if err != nil {
		return trace.Wrap(err)
	}
	if n > 0 {
		s.log.WithField("tenants", n).Info("Reset monthly usage counters.")
	}
	return nil
}
