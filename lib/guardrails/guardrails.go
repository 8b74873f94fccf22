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

// Package guardrails evaluates per-rule publishing guardrails, the AI
// content quality policy and the tenant risk composite. Violations never
// block a run outright: they downgrade generated output to needs_review so a
// human makes the call.
package guardrails

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

// Violation names recorded on ContentItem.GuardrailViolations. Operators
// filter review queues on these strings; keep them stable.
const (
	ViolationMaxPostsPerDay   = "max_posts_per_day"
	ViolationQuietHours       = "quiet_hours"
	ViolationBlackoutDate     = "blackout_date"
	ViolationDuplicateTopic   = "duplicate_topic"
	ViolationApprovalRequired = "approval_required"
)

// Config holds the checker dependencies.
type Config struct {
	Store storage.Store
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("guardrails config is missing store")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Checker evaluates guardrails against the store.
type Checker struct {
	store storage.Store
	clock clockwork.Clock
	log   *log.Entry
}

// New creates a Checker.
func New(cfg Config) (*Checker, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Checker{
		store: cfg.Store,
		clock: cfg.Clock,
		log:   log.WithField(defaults.ComponentKey, defaults.ComponentAutomation),
	}, nil
}

// Evaluate checks every configured guardrail for a rule producing content
// titled title in (tenant, project). It returns the names of the guardrails
// that fired, empty when all pass.
func (c *Checker) Evaluate(ctx context.Context, tenantID, projectID uuid.UUID, g types.Guardrails, title string) ([]string, error) {
	now := c.clock.Now().UTC()
	var violations []string

	if g.MaxPostsPerDayProject > 0 {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		count, err := c.store.CountPostsCreatedSince(ctx, tenantID, projectID, midnight)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if count >= g.MaxPostsPerDayProject {
			violations = append(violations, ViolationMaxPostsPerDay)
		}
	}

	if g.QuietHours != nil {
		within, err := InQuietHours(*g.QuietHours, now)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if within {
			violations = append(violations, ViolationQuietHours)
		}
	}

	today := now.Format("2006-01-02")
	for _, date := range g.BlackoutDates {
		if date == today {
			violations = append(violations, ViolationBlackoutDate)
			break
		}
	}

	if g.DuplicateTopicDays > 0 && title != "" {
		since := now.AddDate(0, 0, -g.DuplicateTopicDays)
		dupe, err := c.store.HasRecentContentTitle(ctx, tenantID, projectID, types.NormalizedTitle(title), since)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if dupe {
			violations = append(violations, ViolationDuplicateTopic)
		}
	}

	if g.ApprovalRequired {
		violations = append(violations, ViolationApprovalRequired)
	}

	if len(violations) != 0 {
		c.log.WithFields(log.Fields{
			"tenant":     tenantID,
			"project":    projectID,
			"violations": violations,
		}).Info("Guardrails fired.")
	}
	return violations, nil
}

// InQuietHours reports whether now falls inside the quiet window. The start
// is inclusive, the end exclusive, and the window wraps midnight when
// start > end. Times are "HH:MM" in UTC.
func InQuietHours(q types.QuietHours, now time.Time) (bool, error) {
	start, err := parseClock(q.Start)
	if err != nil {
		return false, trace.Wrap(err)
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false, trace.Wrap(err)
	}
	minute := now.UTC().Hour()*60 + now.UTC().Minute()
	if start == end {
		return false, nil
	}
	if start < end {
		return minute >= start && minute < end, nil
	}
	// Wraps midnight: 22:00-06:00 covers [22:00, 24:00) and [00:00, 06:00).
	return minute >= start || minute < end, nil
}

func parseClock(s string) (minutes int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, trace.BadParameter("bad quiet hours time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
