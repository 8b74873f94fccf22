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

	"github.com/techappsUT/social-queue/lib/events"
	"github.com/techappsUT/social-queue/lib/types"
)

// AppendPublishEvent appends to the publish timeline. Callers performing a
// state transition must call this inside the same Tx as the transition.
func (s *PGStore) AppendPublishEvent(ctx context.Context, event *types.PublishEvent) error {
	if err := checkTenant(event.TenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := s.clock.Now().UTC()
	err := s.q.QueryRow(ctx, `
		INSERT INTO publish_events (tenant_id, post_id, channel_id, event_type, status, attempt, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		event.TenantID, event.PostID, event.ChannelID, event.Type, event.Status,
		event.Attempt, mustJSON(event.Metadata), now).Scan(&event.ID)
	if err != nil {
		return convertError(err)
	}
	event.CreatedAt = now
	return nil
}

// AppendAutomationEvent appends to the automation timeline.
func (s *PGStore) AppendAutomationEvent(ctx context.Context, event *types.AutomationEvent) error {
	if err := checkTenant(event.TenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := s.clock.Now().UTC()
	err := s.q.QueryRow(ctx, `
		INSERT INTO automation_events (tenant_id, rule_id, run_id, event_type, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		event.TenantID, event.RuleID, event.RunID, event.Type, event.Status,
		mustJSON(event.Metadata), now).Scan(&event.ID)
	if err != nil {
		return convertError(err)
	}
	event.CreatedAt = now
	return nil
}

const publishEventColumns = `id, tenant_id, post_id, channel_id, event_type, status, attempt, metadata, created_at`

func scanPublishEvent(row pgx.Row) (*types.PublishEvent, error) {
	var e types.PublishEvent
	var metadata []byte
	err := row.Scan(&e.ID, &e.TenantID, &e.PostID, &e.ChannelID, &e.Type, &e.Status, &e.Attempt, &metadata, &e.CreatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
		return nil, trace.Wrap(err)
	}
	return &e, nil
}

func collectPublishEvents(rows pgx.Rows) ([]*types.PublishEvent, error) {
	defer rows.Close()
	var out []*types.PublishEvent
	for rows.Next() {
		e, err := scanPublishEvent(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, e)
	}
	return out, trace.Wrap(rows.Err())
}

// ListPublishEventsForPost returns a post's timeline in order.
func (s *PGStore) ListPublishEventsForPost(ctx context.Context, tenantID, postID uuid.UUID) ([]*types.PublishEvent, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.q.Query(ctx, `
		SELECT `+publishEventColumns+` FROM publish_events
		WHERE tenant_id = $1 AND post_id = $2
		ORDER BY id`, tenantID, postID)
	if err != nil {
		return nil, convertError(err)
	}
	return collectPublishEvents(rows)
}

// ListPublishEventsAfter reads the log strictly after the cursor, ascending.
func (s *PGStore) ListPublishEventsAfter(ctx context.Context, after time.Time, limit int) ([]*types.PublishEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.q.Query(ctx, `
		SELECT `+publishEventColumns+` FROM publish_events
		WHERE created_at > $1
		ORDER BY created_at, id
		LIMIT $2`, after.UTC(), limit)
	if err != nil {
		return nil, convertError(err)
	}
	return collectPublishEvents(rows)
}

// LastChannelAttempt returns the highest recorded attempt number for
// (post, channel).
func (s *PGStore) LastChannelAttempt(ctx context.Context, tenantID, postID, channelID uuid.UUID) (int, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var attempt int
	err := s.q.QueryRow(ctx, `
		SELECT coalesce(max(attempt), 0) FROM publish_events
		WHERE tenant_id = $1 AND post_id = $2 AND channel_id = $3`,
		tenantID, postID, channelID).Scan(&attempt)
	return attempt, convertError(err)
}

// ConsecutiveChannelFailures counts trailing failures on a channel inside
// the window with no intervening success.
func (s *PGStore) ConsecutiveChannelFailures(ctx context.Context, tenantID, channelID uuid.UUID, since time.Time) (int, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.q.Query(ctx, `
		SELECT status FROM publish_events
		WHERE tenant_id = $1 AND channel_id = $2 AND created_at >= $3
			AND event_type IN ($4, $5)
		ORDER BY id DESC`,
		tenantID, channelID, since.UTC(), events.ChannelPublishSucceeded, events.ChannelPublishFailed)
	if err != nil {
		return 0, convertError(err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		var status types.EventStatus
		if err := rows.Scan(&status); err != nil {
			return 0, convertError(err)
		}
		if status == types.EventStatusOK {
			break
		}
		count++
	}
	return count, trace.Wrap(rows.Err())
}

// PublishOutcomeCounts returns platform-wide channel outcomes in the window.
func (s *PGStore) PublishOutcomeCounts(ctx context.Context, since time.Time) (ok, failed int, err error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	err = s.q.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE event_type = $2),
			count(*) FILTER (WHERE event_type = $3)
		FROM publish_events
		WHERE created_at >= $1`,
		since.UTC(), events.ChannelPublishSucceeded, events.ChannelPublishFailed).Scan(&ok, &failed)
	return ok, failed, convertError(err)
}

// TenantPublishOutcomeCounts is PublishOutcomeCounts scoped to one tenant.
func (s *PGStore) TenantPublishOutcomeCounts(ctx context.Context, tenantID uuid.UUID, since time.Time) (ok, failed int, err error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, 0, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	err = s.q.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE event_type = $3),
			count(*) FILTER (WHERE event_type = $4)
		FROM publish_events
		WHERE tenant_id = $1 AND created_at >= $2`,
		tenantID, since.UTC(), events.ChannelPublishSucceeded, events.ChannelPublishFailed).Scan(&ok, &failed)
	return ok, failed, convertError(err)
}

// AppendAudit records an operator-relevant action.
func (s *PGStore) AppendAudit(ctx context.Context, entry *types.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var tenant any
	if entry.TenantID != uuid.Nil {
		tenant = entry.TenantID
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO audit_log (id, tenant_id, actor, action, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, tenant, entry.Actor, entry.Action, mustJSON(entry.Metadata), s.clock.Now().UTC())
	return convertError(err)
}
