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

package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/queue"
	"github.com/techappsUT/social-queue/lib/types"
)

func marshalPayload(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// Worker consumes the publishing queue. It owns the requeue/dead-letter
// decision; the Publisher only reports whether an attempt is worth retrying.
type Worker struct {
	publisher *Publisher
	queue     *queue.Queue
	log       *log.Entry
}

// NewWorker creates a Worker over a publisher and its queue.
func NewWorker(p *Publisher, q *queue.Queue) *Worker {
	return &Worker{
		publisher: p,
		queue:     q,
		log:       log.WithField(defaults.ComponentKey, defaults.ComponentPublisher),
	}
}

// Run consumes publish jobs until the context is canceled. It also refreshes
// the worker heartbeat so the control plane can tell live workers from dead
// ones.
func (w *Worker) Run(ctx context.Context) error {
	heartbeat := w.publisher.clock.NewTicker(defaults.HeartbeatInterval)
	defer heartbeat.Stop()
	if err := w.publisher.kv.Heartbeat(ctx, defaults.HeartbeatTTL); err != nil {
		w.log.WithError(err).Warn("Initial heartbeat failed.")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.Chan():
			if err := w.publisher.kv.Heartbeat(ctx, defaults.HeartbeatTTL); err != nil {
				w.log.WithError(err).Warn("Heartbeat failed.")
			}
		default:
		}

		job, err := w.queue.Dequeue(ctx, defaults.QueuePublishing, time.Second)
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
	if job.Type != queue.JobPublishPost {
		w.log.WithField("type", job.Type).Warn("Unexpected job type on publishing queue, dead-lettering.")
		if err := w.queue.DeadLetter(ctx, defaults.QueuePublishing, job, trace.BadParameter("unexpected job type %q", job.Type)); err != nil {
			w.log.WithError(err).Error("Dead-letter failed.")
		}
		return
	}
	var payload queue.PublishPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		if err := w.queue.DeadLetter(ctx, defaults.QueuePublishing, job, trace.Wrap(err)); err != nil {
			w.log.WithError(err).Error("Dead-letter failed.")
		}
		return
	}

	res, err := w.publisher.PublishPost(ctx, job.TenantID, payload.PostID, job.Attempt)
	if err != nil {
		// Infrastructure failure before any decision: requeue within the
		// envelope budget.
		w.log.WithError(err).WithField("post", payload.PostID).Warn("Publish job errored.")
		if _, rerr := w.queue.Retry(ctx, defaults.QueuePublishing, job, err, halfJitter(defaults.RetryDelay)); rerr != nil {
			w.log.WithError(rerr).Error("Requeue failed.")
		}
		return
	}
	if res.Retry {
		job.Attempt++
		if err := w.queue.EnqueueAfter(ctx, defaults.QueuePublishing, job, res.RetryDelay); err != nil {
			w.log.WithError(err).Error("Requeue failed.")
		}
		return
	}
	if res.Status == "" {
		return
	}
	if res.Status == types.PostStatusFailed {
		// Terminal failure: the post is out of attempts, hand the job to the
		// operator's dead-letter table.
		reason := res.Reason
		if reason == "" {
			reason = "publish failed terminally"
		}
		if err := w.queue.DeadLetter(ctx, defaults.QueuePublishing, job, trace.LimitExceeded("%s", reason)); err != nil {
			w.log.WithError(err).Error("Dead-letter failed.")
		}
	}
	w.log.WithFields(log.Fields{
		"post":      payload.PostID,
		"status":    res.Status,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
	}).Info("Publish job finished.")
}
