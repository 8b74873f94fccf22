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
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/types"
)

// PGConfig holds Postgres store construction parameters.
type PGConfig struct {
	// ConnString is the pgx connection string or URL.
	ConnString string
	// Clock stamps created/updated times.
	Clock clockwork.Clock
	// OpTimeout bounds a single store round trip.
	OpTimeout time.Duration
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *PGConfig) CheckAndSetDefaults() error {
	if c.ConnString == "" {
		return trace.BadParameter("storage: missing connection string")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = defaults.SQLTimeout
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the Postgres implementation of Store.
type PGStore struct {
	pool      *pgxpool.Pool
	q         querier
	clock     clockwork.Clock
	opTimeout time.Duration
	log       *log.Entry
	inTx      bool
}

// NewPG connects, applies the schema and returns a ready store.
func NewPG(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s := &PGStore{
		pool:      pool,
		q:         pool,
		clock:     cfg.Clock,
		opTimeout: cfg.OpTimeout,
		log:       log.WithField(defaults.ComponentKey, defaults.ComponentStorage),
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, trace.Wrap(err, "applying schema")
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// Tx runs fn in a read-committed transaction. Nested calls join the outer
// transaction.
func (s *PGStore) Tx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return trace.Wrap(fn(s))
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return trace.Wrap(err)
	}
	defer tx.Rollback(ctx)

	child := *s
	child.q = tx
	child.inTx = true
	if err := fn(&child); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(tx.Commit(ctx))
}

func (s *PGStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// convertError maps driver errors to the trace taxonomy.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return trace.NotFound("not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return trace.AlreadyExists("already exists: %v", pgErr.ConstraintName)
	}
	return trace.Wrap(err)
}

func mustJSON(v any) []byte {
	if v == nil {
		return []byte("null")
	}
	out, err := json.Marshal(v)
	if err != nil {
		// Domain records are plain data; marshal cannot fail on them.
		panic(err)
	}
	return out
}

// CreatePost inserts a new post.
func (s *PGStore) CreatePost(ctx context.Context, post *types.Post) error {
	if err := post.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := s.clock.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO posts (id, tenant_id, project_id, title, content, media_url, status, publish_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		post.ID, post.TenantID, post.ProjectID, post.Title, post.Content, post.MediaURL,
		post.Status, post.PublishAt, post.LastError, now)
	return convertError(err)
}

const postColumns = `id, tenant_id, project_id, title, content, media_url, status, publish_at, last_error, created_at, updated_at`

func scanPost(row pgx.Row) (*types.Post, error) {
	var p types.Post
	err := row.Scan(&p.ID, &p.TenantID, &p.ProjectID, &p.Title, &p.Content, &p.MediaURL,
		&p.Status, &p.PublishAt, &p.LastError, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &p, nil
}

// GetPost fetches one post within the tenant scope.
func (s *PGStore) GetPost(ctx context.Context, tenantID, postID uuid.UUID) (*types.Post, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return scanPost(s.q.QueryRow(ctx,
		`SELECT `+postColumns+` FROM posts WHERE tenant_id = $1 AND id = $2`, tenantID, postID))
}

// UpdatePost persists post fields.
func (s *PGStore) UpdatePost(ctx context.Context, post *types.Post) error {
	if err := checkTenant(post.TenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	tag, err := s.q.Exec(ctx, `
		UPDATE posts SET title = $3, content = $4, media_url = $5, status = $6,
			publish_at = $7, last_error = $8, updated_at = $9
		WHERE tenant_id = $1 AND id = $2`,
		post.TenantID, post.ID, post.Title, post.Content, post.MediaURL,
		post.Status, post.PublishAt, post.LastError, s.clock.Now().UTC())
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("post %v not found", post.ID)
	}
	return nil
}

// UpdatePostStatus transitions the lifecycle state only.
func (s *PGStore) UpdatePostStatus(ctx context.Context, tenantID, postID uuid.UUID, status types.PostStatus, lastError string) error {
	if err := checkTenant(tenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	tag, err := s.q.Exec(ctx, `
		UPDATE posts SET status = $3, last_error = $4, updated_at = $5
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, postID, status, lastError, s.clock.Now().UTC())
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("post %v not found", postID)
	}
	return nil
}

// ClaimDuePosts selects due scheduled posts with SKIP LOCKED so concurrent
// scheduler instances never claim the same row. Must run inside Tx.
func (s *PGStore) ClaimDuePosts(ctx context.Context, now time.Time, limit int) ([]*types.Post, error) {
	if !s.inTx {
		return nil, trace.BadParameter("ClaimDuePosts must run inside a transaction")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.q.Query(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE status = 'scheduled' AND publish_at <= $1
		ORDER BY publish_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now.UTC(), limit)
	if err != nil {
		return nil, convertError(err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

func collectPosts(rows pgx.Rows) ([]*types.Post, error) {
	var out []*types.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, p)
	}
	return out, trace.Wrap(rows.Err())
}

// ListEligiblePublishNow returns draft and scheduled posts oldest first.
func (s *PGStore) ListEligiblePublishNow(ctx context.Context, tenantID, projectID uuid.UUID, limit int) ([]*types.Post, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.q.Query(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE tenant_id = $1 AND project_id = $2 AND status IN ('draft', 'scheduled')
		ORDER BY created_at
		LIMIT $3`, tenantID, projectID, limit)
	if err != nil {
		return nil, convertError(err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

// CountPostsCreatedSince backs the per-day post cap guardrail.
func (s *PGStore) CountPostsCreatedSince(ctx context.Context, tenantID, projectID uuid.UUID, since time.Time) (int, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT count(*) FROM posts
		WHERE tenant_id = $1 AND project_id = $2 AND created_at >= $3`,
		tenantID, projectID, since.UTC()).Scan(&n)
	return n, convertError(err)
}

// CreateChannel inserts a channel; (tenant, project, type) is unique.
func (s *PGStore) CreateChannel(ctx context.Context, channel *types.Channel) error {
	if err := channel.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := s.clock.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO channels (id, tenant_id, project_id, type, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		channel.ID, channel.TenantID, channel.ProjectID, channel.Type, channel.Status,
		mustJSON(channel.Metadata), now)
	return convertError(err)
}

func scanChannel(row pgx.Row) (*types.Channel, error) {
	var c types.Channel
	var metadata []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.ProjectID, &c.Type, &c.Status, &metadata, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
		return nil, trace.Wrap(err)
	}
	return &c, nil
}

const channelColumns = `id, tenant_id, project_id, type, status, metadata, created_at, updated_at`

// GetChannel fetches one channel within the tenant scope.
func (s *PGStore) GetChannel(ctx context.Context, tenantID, channelID uuid.UUID) (*types.Channel, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return scanChannel(s.q.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE tenant_id = $1 AND id = $2`, tenantID, channelID))
}

// ListActiveChannels returns the active channels of a project.
func (s *PGStore) ListActiveChannels(ctx context.Context, tenantID, projectID uuid.UUID) ([]*types.Channel, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.q.Query(ctx, `
		SELECT `+channelColumns+` FROM channels
		WHERE tenant_id = $1 AND project_id = $2 AND status = 'active'
		ORDER BY type`, tenantID, projectID)
	if err != nil {
		return nil, convertError(err)
	}
	defer rows.Close()
	var out []*types.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, c)
	}
	return out, trace.Wrap(rows.Err())
}

// UpdateChannelStatus flips a channel between active and disabled.
func (s *PGStore) UpdateChannelStatus(ctx context.Context, tenantID, channelID uuid.UUID, status types.ChannelStatus) error {
	if err := checkTenant(tenantID); err != nil {
		return trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	tag, err := s.q.Exec(ctx, `
		UPDATE channels SET status = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, channelID, status, s.clock.Now().UTC())
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("channel %v not found", channelID)
	}
	return nil
}

// CreatePublication records a successful delivery. AlreadyExists signals an
// idempotent replay.
func (s *PGStore) CreatePublication(ctx context.Context, pub *types.ChannelPublication) error {
	if err := checkTenant(pub.TenantID); err != nil {
		return trace.Wrap(err)
	}
	if pub.ID == uuid.Nil {
		pub.ID = uuid.New()
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO channel_publications (id, tenant_id, post_id, channel_id, platform, external_post_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pub.ID, pub.TenantID, pub.PostID, pub.ChannelID, pub.Platform, pub.ExternalPostID,
		mustJSON(pub.Metadata), s.clock.Now().UTC())
	return convertError(err)
}

// GetPublication fetches the publication for (post, channel), NotFound when
// the delivery has not happened.
func (s *PGStore) GetPublication(ctx context.Context, tenantID, postID, channelID uuid.UUID) (*types.ChannelPublication, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return scanPublication(s.q.QueryRow(ctx, `
		SELECT id, tenant_id, post_id, channel_id, platform, external_post_id, metadata, created_at
		FROM channel_publications
		WHERE tenant_id = $1 AND post_id = $2 AND channel_id = $3`, tenantID, postID, channelID))
}

func scanPublication(row pgx.Row) (*types.ChannelPublication, error) {
	var p types.ChannelPublication
	var metadata []byte
	err := row.Scan(&p.ID, &p.TenantID, &p.PostID, &p.ChannelID, &p.Platform, &p.ExternalPostID, &metadata, &p.CreatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
		return nil, trace.Wrap(err)
	}
	return &p, nil
}

// ListPublications returns every publication of a post.
func (s *PGStore) ListPublications(ctx context.Context, tenantID, postID uuid.UUID) ([]*types.ChannelPublication, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.q.Query(ctx, `
		SELECT id, tenant_id, post_id, channel_id, platform, external_post_id, metadata, created_at
		FROM channel_publications
		WHERE tenant_id = $1 AND post_id = $2
		ORDER BY created_at`, tenantID, postID)
	if err != nil {
		return nil, convertError(err)
	}
	defer rows.Close()
	var out []*types.ChannelPublication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, p)
	}
	return out, trace.Wrap(rows.Err())
}

// CreateWebsitePublication records a website delivery; slug is unique per
// tenant.
func (s *PGStore) CreateWebsitePublication(ctx context.Context, pub *types.WebsitePublication) error {
	if err := checkTenant(pub.TenantID); err != nil {
		return trace.Wrap(err)
	}
	if pub.ID == uuid.Nil {
		pub.ID = uuid.New()
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.q.Exec(ctx, `
		INSERT INTO website_publications (id, tenant_id, post_id, channel_id, slug, url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pub.ID, pub.TenantID, pub.PostID, pub.ChannelID, pub.Slug, pub.URL, s.clock.Now().UTC())
	return convertError(err)
}

// GetWebsitePublication fetches the website publication of a post.
func (s *PGStore) GetWebsitePublication(ctx context.Context, tenantID, postID uuid.UUID) (*types.WebsitePublication, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var p types.WebsitePublication
	err := s.q.QueryRow(ctx, `
		SELECT id, tenant_id, post_id, channel_id, slug, url, created_at
		FROM website_publications
		WHERE tenant_id = $1 AND post_id = $2`, tenantID, postID).
		Scan(&p.ID, &p.TenantID, &p.PostID, &p.ChannelID, &p.Slug, &p.URL, &p.CreatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &p, nil
}
