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

	"github.com/techappsUT/social-queue/lib/events"
	"github.com/techappsUT/social-queue/lib/types"
)

// AppendPublishEvent appends to the publish timeline, enforcing the
// one-event-per-(post, channel, type, attempt) invariant.
func (m *Mem) AppendPublishEvent(ctx context.Context, event *types.PublishEvent) error {
	if err := checkTenant(event.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	if event.ChannelID != nil && event.Attempt > 0 {
		for _, e := range m.d.publishEvents {
			if e.TenantID == event.TenantID && e.PostID == event.PostID &&
				e.ChannelID != nil && *e.ChannelID == *event.ChannelID &&
				e.Type == event.Type && e.Attempt == event.Attempt {
				return trace.AlreadyExists("duplicate %v attempt %d", event.Type, event.Attempt)
			}
		}
	}
	m.d.eventSeq++
	event.ID = m.d.eventSeq
	event.CreatedAt = m.clock.Now().UTC()
	cp := *event
	m.d.publishEvents = append(m.d.publishEvents, &cp)
	return nil
}

// AppendAutomationEvent appends to the automation timeline.
func (m *Mem) AppendAutomationEvent(ctx context.Context, event *types.AutomationEvent) error {
	if err := checkTenant(event.TenantID); err != nil {
		return trace.Wrap(err)
	}
	defer m.lock()()
	m.d.autoEventSeq++
	event.ID = m.d.autoEventSeq
	event.CreatedAt = m.clock.Now().UTC()
	cp := *event
	m.d.automationEvents = append(m.d.automationEvents, &cp)
	return nil
}

// AutomationEvents returns a copy of the automation timeline for test
// assertions.
func (m *Mem) AutomationEvents() []*types.AutomationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.AutomationEvent, 0, len(m.d.automationEvents))
	for _, e := range m.d.automationEvents {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// ListPublishEventsForPost returns a post's timeline in order.
func (m *Mem) ListPublishEventsForPost(ctx context.Context, tenantID, postID uuid.UUID) ([]*types.PublishEvent, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	defer m.lock()()
	var out []*types.PublishEvent
	for _, e := range m.d.publishEvents {
		if e.TenantID == tenantID && e.PostID == postID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListPublishEventsAfter reads the log strictly after the cursor, ascending.
func (m *Mem) ListPublishEventsAfter(ctx context.Context, after time.Time, limit int) ([]*types.PublishEvent, error) {
	defer m.lock()()
	var out []*types.PublishEvent
	for _, e := range m.d.publishEvents {
		if e.CreatedAt.After(after) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LastChannelAttempt returns the highest attempt number recorded for
// (post, channel).
func (m *Mem) LastChannelAttempt(ctx context.Context, tenantID, postID, channelID uuid.UUID) (int, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, trace.Wrap(err)
	}
	defer m.lock()()
	max := 0
	for _, e := range m.d.publishEvents {
		if e.TenantID == tenantID && e.PostID == postID && e.ChannelID != nil && *e.ChannelID == channelID {
			if e.Attempt > max {
				max = e.Attempt
			}
		}
	}
	return max, nil
}

// ConsecutiveChannelFailures counts trailing failures on a channel inside
// the window with no intervening success.
func (m *Mem) ConsecutiveChannelFailures(ctx context.Context, tenantID, channelID uuid.UUID, since time.Time) (int, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, trace.Wrap(err)
	}
	defer m.lock()()
	count := 0
	for i := len(m.d.publishEvents) - 1; i >= 0; i-- {
		e := m.d.publishEvents[i]
		if e.TenantID != tenantID || e.ChannelID == nil || *e.ChannelID != channelID {
			continue
		}
		if e.Type != events.ChannelPublishSucceeded && e.Type != events.ChannelPublishFailed {
			continue
		}
		if e.CreatedAt.Before(since) {
			break
		}
		if e.Status == types.EventStatusOK {
			break
		}
		count++
	}
	return count, nil
}

// PublishOutcomeCounts returns platform-wide channel outcomes in the window.
func (m *Mem) PublishOutcomeCounts(ctx context.Context, since time.Time) (ok, failed int, err error) {
	defer m.lock()()
	for _, e := range m.d.publishEvents {
		if e.CreatedAt.Before(since) {
			continue
		}
		switch e.Type {
		case events.ChannelPublishSucceeded:
			ok++
		case events.ChannelPublishFailed:
			failed++
		}
	}
	return ok, failed, nil
}

// TenantPublishOutcomeCounts is PublishOutcomeCounts scoped to one tenant.
func (m *Mem) TenantPublishOutcomeCounts(ctx context.Context, tenantID uuid.UUID, since time.Time) (ok, failed int, err error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, 0, trace.Wrap(err)
	}
	defer m.lock()()
	for _, e := range m.d.publishEvents {
		if e.TenantID != tenantID || e.CreatedAt.Before(since) {
			continue
		}
		switch e.Type {
		case events.ChannelPublishSucceeded:
			ok++
		case events.ChannelPublishFailed:
			failed++
		}
	}
	return ok, failed, nil
}

// AppendAudit records an operator-relevant action.
func (m *Mem) AppendAudit(ctx context.Context, entry *types.AuditEntry) error {
	defer m.lock()()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = m.clock.Now().UTC()
	cp := *entry
	m.d.audit = append(m.d.audit, &cp)
	return nil
}

// AuditEntries returns a copy of the audit log for test assertions.
func (m *Mem) AuditEntries() []*types.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.AuditEntry, 0, len(m.d.audit))
	for _, e := range m.d.audit {
		cp := *e
		out = append(out, &cp)
	}
	return out
}
