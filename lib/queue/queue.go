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

// Package queue is the redis-list work queue connecting the scheduler to the
// publishing workers. Jobs are JSON envelopes pushed LPUSH/BRPOP; deferred
// jobs wait in a sorted set keyed by their run time and are promoted to the
// list once due, so the list only ever holds runnable work. A job that
// exhausts its attempts is dead-lettered to the failed_jobs table with its
// full payload so an operator can replay it.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

// Job types carried on the queues.
const (
	JobPublishPost    = "publish_post"
	JobAutomationRun  = "automation_run"
	JobAnalyticsFetch = "analytics_fetch"
)

// Job is the wire envelope for one unit of queued work.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	// RunAt delays processing; the worker requeues jobs seen early.
	RunAt time.Time `json:"run_at,omitempty"`
}

// PublishPayload is the payload of a publish_post job.
type PublishPayload struct {
	PostID uuid.UUID `json:"post_id"`
}

// RunPayload is the payload of an automation_run job.
type RunPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// AnalyticsPayload is the payload of an analytics_fetch job.
type AnalyticsPayload struct {
	PostID         uuid.UUID `json:"post_id"`
	ChannelID      uuid.UUID `json:"channel_id"`
	ExternalPostID string    `json:"external_post_id"`
}

// Config holds Queue construction parameters.
type Config struct {
	// Client is the redis client the lists live on.
	Client redis.UniversalClient
	// Store receives dead-lettered jobs.
	Store storage.Store
	// Clock stamps deferred jobs.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("queue: missing redis client")
	}
	if c.Store == nil {
		return trace.BadParameter("queue: missing store")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Queue is the handle over every named work list.
type Queue struct {
	client redis.UniversalClient
	store  storage.Store
	clock  clockwork.Clock
	log    *log.Entry
}

// New creates a Queue from config.
func New(cfg Config) (*Queue, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Queue{
		client: cfg.Client,
		store:  cfg.Store,
		clock:  cfg.Clock,
		log:    log.WithField(defaults.ComponentKey, defaults.ComponentQueue),
	}, nil
}

func queueKey(name string) string {
	return "queue:" + name
}

func delayedKey(name string) string {
	return queueKey(name) + ":delayed"
}

// promoteBatch bounds how many due deferred jobs one Dequeue call moves.
const promoteBatch = 128

// Enqueue pushes a job onto a named queue. A job whose RunAt has not come
// yet goes to the delay set instead of the list.
func (q *Queue) Enqueue(ctx context.Context, name string, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = defaults.MaxPublishAttempts
	}
	data, err := json.Marshal(job)
	if err != nil {
		return trace.Wrap(err)
	}
	if !job.RunAt.IsZero() && q.clock.Now().Before(job.RunAt) {
		return trace.Wrap(q.client.ZAdd(ctx, delayedKey(name), redis.Z{
			Score:  float64(job.RunAt.UnixMilli()),
			Member: data,
		}).Err())
	}
	return trace.Wrap(q.client.LPush(ctx, queueKey(name), data).Err())
}

// EnqueueAfter pushes a job that becomes eligible at the given time.
func (q *Queue) EnqueueAfter(ctx context.Context, name string, job *Job, delay time.Duration) error {
	job.RunAt = q.clock.Now().UTC().Add(delay)
	return q.Enqueue(ctx, name, job)
}

// Dequeue promotes deferred jobs that have come due, then blocks up to
// timeout for the next runnable job. A waiting deferred job never reaches
// the list early, so an idle worker parks in BRPOP instead of spinning.
func (q *Queue) Dequeue(ctx context.Context, name string, timeout time.Duration) (*Job, error) {
	if err := q.promoteDue(ctx, name); err != nil {
		return nil, trace.Wrap(err)
	}
	res, err := q.client.BRPop(ctx, timeout, queueKey(name)).Result()
	switch {
	case err == redis.Nil:
		return nil, nil
	case err != nil:
		return nil, trace.Wrap(err)
	}
	// BRPop returns [key, value].
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		q.log.WithError(err).WithField("queue", name).Warn("Dropping malformed job envelope.")
		return nil, nil
	}
	return &job, nil
}

// promoteDue moves due members of the delay set onto the list. ZRem
// arbitrates between concurrent workers: only the remover pushes.
func (q *Queue) promoteDue(ctx context.Context, name string) error {
	now := strconv.FormatInt(q.clock.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, delayedKey(name), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return trace.Wrap(err)
	}
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, delayedKey(name), member).Result()
		if err != nil {
			return trace.Wrap(err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, queueKey(name), member).Err(); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Depth returns the number of jobs waiting on a queue, deferred ones
// included.
func (q *Queue) Depth(ctx context.Context, name string) (int64, error) {
	ready, err := q.client.LLen(ctx, queueKey(name)).Result()
	if err != nil {
		return 0, trace.Wrap(err)
	}
	delayed, err := q.client.ZCard(ctx, delayedKey(name)).Result()
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return ready + delayed, nil
}

// Retry requeues a failed job with its attempt count bumped, or dead-letters
// it when the budget is spent. The returned bool reports whether the job was
// requeued.
func (q *Queue) Retry(ctx context.Context, name string, job *Job, cause error, delay time.Duration) (bool, error) {
	job.Attempt++
	if job.Attempt < job.MaxAttempts {
		if err := q.EnqueueAfter(ctx, name, job, delay); err != nil {
			return false, trace.Wrap(err)
		}
		return true, nil
	}
	if err := q.DeadLetter(ctx, name, job, cause); err != nil {
		return false, trace.Wrap(err)
	}
	return false, nil
}

// DeadLetter hands a job to the failed_jobs table.
func (q *Queue) DeadLetter(ctx context.Context, name string, job *Job, cause error) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return trace.Wrap(err)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	q.log.WithFields(log.Fields{
		"queue":   name,
		"job":     job.ID,
		"type":    job.Type,
		"attempt": job.Attempt,
	}).Warn("Dead-lettering job.")
	return trace.Wrap(q.store.CreateFailedJob(ctx, &types.FailedJob{
		Queue:    name,
		TenantID: job.TenantID,
		Payload:  payload,
		Error:    msg,
		Attempts: job.Attempt,
	}))
}
