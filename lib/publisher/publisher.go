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

// Package publisher delivers claimed posts to their channels. One publish job
// runs under a per-post KV lock whose TTL exceeds the job wall budget, so a
// live worker never loses its lock mid-job and a crashed worker's post is
// retried after expiry. Publication rows and their events commit in one
// transaction per channel; the aggregate outcome commits in a final
// transaction, which is what makes the event log gap-free.
package publisher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/techappsUT/social-queue/lib/adapters"
	"github.com/techappsUT/social-queue/lib/adapters/providererr"
	"github.com/techappsUT/social-queue/lib/credentials"
	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/events"
	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/queue"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

// Config holds Publisher construction parameters.
type Config struct {
	Store       storage.Store
	KV          *kv.KV
	Queue       *queue.Queue
	Registry    *adapters.Registry
	Credentials *credentials.Store
	Clock       clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("publisher: missing store")
	}
	if c.KV == nil {
		return trace.BadParameter("publisher: missing kv")
	}
	if c.Queue == nil {
		return trace.BadParameter("publisher: missing queue")
	}
	if c.Registry == nil {
		return trace.BadParameter("publisher: missing adapter registry")
	}
	if c.Credentials == nil {
		return trace.BadParameter("publisher: missing credential store")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Publisher executes publish jobs.
type Publisher struct {
	store    storage.Store
	kv       *kv.KV
	queue    *queue.Queue
	registry *adapters.Registry
	creds    *credentials.Store
	clock    clockwork.Clock
	log      *log.Entry
}

// New creates a Publisher from config.
func New(cfg Config) (*Publisher, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Publisher{
		store:    cfg.Store,
		kv:       cfg.KV,
		queue:    cfg.Queue,
		registry: cfg.Registry,
		creds:    cfg.Credentials,
		clock:    cfg.Clock,
		log:      log.WithField(defaults.ComponentKey, defaults.ComponentPublisher),
	}, nil
}

// Result is the outcome of one publish job.
type Result struct {
	// Status is the post's status after the job, when the job reached a
	// decision. Empty when the job was skipped.
	Status types.PostStatus
	// Reason explains a failed status; the worker records it with the
	// dead-lettered job.
	Reason string
	// Succeeded and Failed count channel deliveries this job.
	Succeeded int
	Failed    int
	// Skipped means another worker holds the post or the post already left
	// the publishing state.
	Skipped bool
	// Retry asks the worker to requeue the job after RetryDelay.
	Retry      bool
	RetryDelay time.Duration
}

type channelOutcome struct {
	channel   *types.Channel
	succeeded bool
	retryable bool
}

// PublishPost runs one publish job. jobAttempt is the zero-based attempt
// count from the queue envelope.
func (p *Publisher) PublishPost(ctx context.Context, tenantID, postID uuid.UUID, jobAttempt int) (*Result, error) {
	lockKey := kv.PostLockKey(tenantID, postID)
	acquired, err := p.kv.AcquireLock(ctx, lockKey, defaults.PostLockTTL)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !acquired {
		p.log.WithField("post", postID).Debug("Post locked by another worker, skipping.")
		return &Result{Skipped: true}, nil
	}
	defer func() {
		if err := p.kv.ReleaseLock(ctx, lockKey); err != nil {
			p.log.WithError(err).Warn("Failed to release post lock, TTL will expire it.")
		}
	}()

	start := p.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, defaults.JobWallBudget)
	defer cancel()

	res, err := p.publishLocked(ctx, tenantID, postID, jobAttempt)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !res.Skipped {
		elapsed := p.clock.Now().Sub(start)
		publishDuration.Observe(elapsed.Seconds())
		if err := p.kv.PushSample(ctx, kv.PublishDurationsKey, elapsed.Milliseconds(), defaults.DurationSampleLimit); err != nil {
			p.log.WithError(err).Debug("Failed to record duration sample.")
		}
	}
	return res, nil
}

func (p *Publisher) publishLocked(ctx context.Context, tenantID, postID uuid.UUID, jobAttempt int) (*Result, error) {
	post, err := p.store.GetPost(ctx, tenantID, postID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if post.Terminal() {
		// Replayed job after a crash between commit and ack.
		return &Result{Status: post.Status, Skipped: true}, nil
	}
	if post.Status != types.PostStatusPublishing {
		p.log.WithFields(log.Fields{"post": postID, "status": post.Status}).Info("Post not claimed for publishing, skipping.")
		return &Result{Skipped: true}, nil
	}

	if rejected, err := p.checkBreakers(ctx, post); err != nil {
		return nil, trace.Wrap(err)
	} else if rejected {
		return &Result{Retry: true, RetryDelay: halfJitter(defaults.RetryDelay)}, nil
	}

	if exceeded, err := p.postQuotaExceeded(ctx, tenantID); err != nil {
		return nil, trace.Wrap(err)
	} else if exceeded {
		if err := p.finishPost(ctx, post, types.PostStatusFailed, "plan post quota exceeded", nil); err != nil {
			return nil, trace.Wrap(err)
		}
		return &Result{Status: types.PostStatusFailed, Reason: "plan post quota exceeded"}, nil
	}

	channels, err := p.store.ListActiveChannels(ctx, tenantID, post.ProjectID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(channels) == 0 {
		if err := p.finishPost(ctx, post, types.PostStatusFailed, "no active channels", nil); err != nil {
			return nil, trace.Wrap(err)
		}
		return &Result{Status: types.PostStatusFailed, Reason: "no active channels"}, nil
	}

	outcomes := make([]channelOutcome, 0, len(channels))
	for _, channel := range channels {
		outcome := p.deliverToChannel(ctx, post, channel)
		outcomes = append(outcomes, outcome)
	}

	return p.aggregate(ctx, post, outcomes, jobAttempt)
}

func (p *Publisher) checkBreakers(ctx context.Context, post *types.Post) (bool, error) {
	var reason string
	switch {
	case p.kv.FlagSet(ctx, kv.MaintenanceModeKey):
		reason = "maintenance mode"
	case p.kv.FlagSet(ctx, kv.GlobalPublishBreakerKey):
		reason = "global publish breaker engaged"
	case p.kv.FlagSet(ctx, kv.TenantBreakerKey(post.TenantID)):
		reason = "tenant publish breaker engaged"
	case p.kv.FlagSet(ctx, kv.TenantThrottleKey(post.TenantID)):
		reason = "tenant throttled for high risk"
	default:
		return false, nil
	}
	p.log.WithFields(log.Fields{"post": post.ID, "reason": reason}).Info("Publish rejected by breaker.")
	err := p.store.AppendPublishEvent(ctx, events.NewPostEvent(
		post.TenantID, post.ID, events.PublishBreakerRejected, types.EventStatusError,
		map[string]any{events.MetaError: reason},
	))
	return true, trace.Wrap(err)
}

func (p *Publisher) postQuotaExceeded(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	sub, err := p.store.GetSubscription(ctx, tenantID)
	if trace.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, trace.Wrap(err)
	}
	postQuota, aiQuota := types.QuotaForPlan(sub.PlanID)
	if postQuota == 0 {
		return false, nil
	}
	usage, err := p.store.GetUsage(ctx, tenantID)
	if trace.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, trace.Wrap(err)
	}
	state := types.BillingState{
		PlanID:         sub.PlanID,
		PostQuota:      postQuota,
		AIQuota:        aiQuota,
		PostsPublished: usage.PostsPublished,
		AIGenerations:  usage.AIGenerations,
	}
	return state.PostQuotaExceeded(), nil
}

// deliverToChannel performs one channel delivery end to end. It never returns
// an error: every failure mode becomes a recorded outcome.
func (p *Publisher) deliverToChannel(ctx context.Context, post *types.Post, channel *types.Channel) channelOutcome {
	logger := p.log.WithFields(log.Fields{"post": post.ID, "channel": channel.ID, "platform": channel.Type})

	// Idempotency: a publication row means this channel already succeeded
	// in an earlier attempt of this post.
	if _, err := p.store.GetPublication(ctx, post.TenantID, post.ID, channel.ID); err == nil {
		logger.Info("Channel already published, skipping.")
		channelAttempts.WithLabelValues(string(channel.Type), "idempotent").Inc()
		return channelOutcome{channel: channel, succeeded: true}
	} else if !trace.IsNotFound(err) {
		logger.WithError(err).Warn("Publication lookup failed.")
		return channelOutcome{channel: channel, retryable: true}
	}

	if p.kv.FlagSet(ctx, kv.ConnectorBackoffKey(channel.ID)) {
		logger.Info("Connector in backoff window, deferring.")
		return channelOutcome{channel: channel, retryable: true}
	}

	if ok := p.admitRate(ctx, post.TenantID, channel); !ok {
		return channelOutcome{channel: channel, retryable: true}
	}

	attempt, err := p.store.LastChannelAttempt(ctx, post.TenantID, post.ID, channel.ID)
	if err != nil {
		logger.WithError(err).Warn("Attempt lookup failed.")
		return channelOutcome{channel: channel, retryable: true}
	}
	attempt++

	result, deliverErr := p.callAdapter(ctx, post, channel)
	if deliverErr == nil {
		if err := p.recordSuccess(ctx, post, channel, attempt, result); err != nil {
			logger.WithError(err).Error("Failed to record publication.")
			return channelOutcome{channel: channel, retryable: true}
		}
		channelAttempts.WithLabelValues(string(channel.Type), "success").Inc()
		return channelOutcome{channel: channel, succeeded: true}
	}

	retryable := p.recordFailure(ctx, post, channel, attempt, deliverErr)
	channelAttempts.WithLabelValues(string(channel.Type), "failure").Inc()
	return channelOutcome{channel: channel, retryable: retryable}
}

// admitRate takes one token from the platform rate bucket, arming the
// connector backoff flag when the bucket is exhausted.
func (p *Publisher) admitRate(ctx context.Context, tenantID uuid.UUID, channel *types.Channel) bool {
	limit, err := p.store.GetRateLimit(ctx, channel.Type)
	if trace.IsNotFound(err) {
		return true
	}
	if err != nil {
		// Fail open, same policy as the KV layer.
		return true
	}
	allowed, retryAfter, err := p.kv.TakeToken(ctx,
		kv.RateLimitKey(channel.Type, p.clock.Now()), limit.RequestsPerMinute, defaults.RateLimitWindow)
	if err != nil || allowed {
		return true
	}
	if retryAfter <= 0 {
		retryAfter = defaults.RateLimitWindow
	}
	if err := p.kv.SetFlag(ctx, kv.ConnectorBackoffKey(channel.ID), retryAfter); err != nil {
		p.log.WithError(err).Debug("Failed to arm connector backoff.")
	}
	if _, err := p.kv.IncrWindow(ctx, kv.AbuseCounterKey(tenantID), 24*time.Hour); err != nil {
		p.log.WithError(err).Debug("Failed to bump abuse counter.")
	}
	return false
}

func (p *Publisher) callAdapter(ctx context.Context, post *types.Post, channel *types.Channel) (*adapters.PublishResult, error) {
	adapter, err := p.registry.GetAdapter(channel.Type)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var tokens credentials.TokenSet
	if channel.Type != types.ChannelTypeWebsite && channel.SandboxScenario() == "" {
		ts, err := p.validTokens(ctx, post.TenantID, channel.Type, adapter)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		tokens = *ts
	}

	req := adapters.PublishRequest{Post: post, Channel: channel, Tokens: tokens}
	ctx, cancel := context.WithTimeout(ctx, defaults.AdapterMaxTimeout)
	defer cancel()

	caps := adapter.Capabilities()
	if post.MediaURL != "" && (caps.Image || caps.Video) {
		return adapter.PublishMedia(ctx, req)
	}
	if !caps.Text {
		return nil, providererr.Normalize(channel.Type, 400, "invalid_media",
			"platform requires a media attachment")
	}
	return adapter.PublishText(ctx, req)
}

// validTokens returns a token set proven against the provider. The stored
// token is validated before every delivery; on an auth rejection the
// credential gets exactly one refresh and re-validation, which recovers
// tokens the provider revoked server-side ahead of their recorded expiry.
func (p *Publisher) validTokens(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType, adapter adapters.Adapter) (*credentials.TokenSet, error) {
	tokens, err := p.tokensFor(ctx, tenantID, connector, adapter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	valErr := adapter.ValidateCredentials(ctx, *tokens)
	if valErr == nil {
		return tokens, nil
	}
	if !providererr.IsAuth(valErr) {
		return nil, trace.Wrap(valErr)
	}
	p.log.WithField("connector", connector).Info("Stored credential rejected by provider, refreshing.")
	renewed, err := p.creds.Refresh(ctx, tenantID, connector, func(ctx context.Context, current credentials.TokenSet) (credentials.TokenSet, error) {
		return adapter.RefreshCredentials(ctx, current)
	})
	if err != nil {
		// Refresh could not recover the credential; the original auth error
		// is the one to classify and record.
		p.log.WithError(err).WithField("connector", connector).Warn("Credential refresh failed.")
		return nil, trace.Wrap(valErr)
	}
	if err := adapter.ValidateCredentials(ctx, *renewed); err != nil {
		return nil, trace.Wrap(err)
	}
	return renewed, nil
}

// tokensFor returns a working token set, refreshing through the adapter when
// the stored credential is about to expire.
func (p *Publisher) tokensFor(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType, adapter adapters.Adapter) (*credentials.TokenSet, error) {
	expiring, err := p.creds.Expiring(ctx, tenantID, connector, 10*time.Minute)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !expiring {
		return p.creds.Get(ctx, tenantID, connector)
	}
	renewed, err := p.creds.Refresh(ctx, tenantID, connector, func(ctx context.Context, current credentials.TokenSet) (credentials.TokenSet, error) {
		return adapter.RefreshCredentials(ctx, current)
	})
	if err != nil {
		// Refresh failure falls back to the stored token; the provider call
		// will classify it if it is truly dead.
		p.log.WithError(err).WithField("connector", connector).Warn("Credential refresh failed, using stored token.")
		return p.creds.Get(ctx, tenantID, connector)
	}
	return renewed, nil
}

// recordSuccess commits the publication row and its success event in one
// transaction. An AlreadyExists publication means a concurrent or replayed
// delivery won; that still counts as success.
func (p *Publisher) recordSuccess(ctx context.Context, post *types.Post, channel *types.Channel, attempt int, result *adapters.PublishResult) error {
	meta := map[string]any{
		events.MetaExternalPostID: result.ExternalPostID,
		events.MetaPlatform:       string(channel.Type),
	}
	err := p.store.Tx(ctx, func(tx storage.Store) error {
		if err := tx.CreatePublication(ctx, &types.ChannelPublication{
			TenantID:       post.TenantID,
			PostID:         post.ID,
			ChannelID:      channel.ID,
			Platform:       channel.Type,
			ExternalPostID: result.ExternalPostID,
			Metadata:       result.Metadata,
		}); err != nil {
			return trace.Wrap(err)
		}
		if channel.Type == types.ChannelTypeWebsite {
			slug, _ := result.Metadata["slug"].(string)
			if slug == "" {
				slug = result.ExternalPostID
			}
			if err := tx.CreateWebsitePublication(ctx, &types.WebsitePublication{
				TenantID:  post.TenantID,
				PostID:    post.ID,
				ChannelID: channel.ID,
				Slug:      slug,
				URL:       result.URL,
			}); err != nil {
				return trace.Wrap(err)
			}
		}
		return trace.Wrap(tx.AppendPublishEvent(ctx, events.NewChannelEvent(
			post.TenantID, post.ID, channel.ID,
			events.ChannelPublishSucceeded, types.EventStatusOK, attempt, meta,
		)))
	})
	if trace.IsAlreadyExists(err) {
		p.log.WithField("channel", channel.ID).Info("Publication already recorded, treating as idempotent success.")
		return nil
	}
	return trace.Wrap(err)
}

// recordFailure appends the failure event and reacts to its class. Returns
// whether the failure is retryable.
func (p *Publisher) recordFailure(ctx context.Context, post *types.Post, channel *types.Channel, attempt int, cause error) bool {
	meta := map[string]any{events.MetaError: cause.Error()}
	if pe, ok := providererr.AsError(cause); ok {
		meta[events.MetaNormalizedError] = pe.Metadata()
	}
	err := p.store.AppendPublishEvent(ctx, events.NewChannelEvent(
		post.TenantID, post.ID, channel.ID,
		events.ChannelPublishFailed, types.EventStatusError, attempt, meta,
	))
	if err != nil && !trace.IsAlreadyExists(err) {
		p.log.WithError(err).Error("Failed to append failure event.")
	}

	switch {
	case providererr.IsAuth(cause):
		if err := p.creds.MarkError(ctx, post.TenantID, channel.Type, cause.Error()); err != nil && !trace.IsNotFound(err) {
			p.log.WithError(err).Warn("Failed to mark credential error.")
		}
	case providererr.IsRateLimit(cause):
		if err := p.kv.SetFlag(ctx, kv.ConnectorBackoffKey(channel.ID), defaults.RateLimitWindow); err != nil {
			p.log.WithError(err).Debug("Failed to arm connector backoff.")
		}
	}

	p.checkConnectorBreaker(ctx, post.TenantID, channel)
	return providererr.IsRetryable(cause)
}

// checkConnectorBreaker disables a channel after repeated consecutive
// failures and raises the operator incident, once.
func (p *Publisher) checkConnectorBreaker(ctx context.Context, tenantID uuid.UUID, channel *types.Channel) {
	since := p.clock.Now().Add(-defaults.ConnectorFailureWindow)
	count, err := p.store.ConsecutiveChannelFailures(ctx, tenantID, channel.ID, since)
	if err != nil {
		p.log.WithError(err).Warn("Failure streak lookup failed.")
		return
	}
	if count < defaults.ConnectorFailureThreshold {
		return
	}
	open, err := p.store.HasOpenIncident(ctx, types.IncidentConnectorDisabled, channel.ID.String())
	if err != nil || open {
		return
	}
	p.log.WithFields(log.Fields{"channel": channel.ID, "failures": count}).Warn("Disabling channel after repeated failures.")
	err = p.store.Tx(ctx, func(tx storage.Store) error {
		if err := tx.UpdateChannelStatus(ctx, tenantID, channel.ID, types.ChannelStatusDisabled); err != nil {
			return trace.Wrap(err)
		}
		if err := tx.CreateIncident(ctx, &types.PlatformIncident{
			Type:     types.IncidentConnectorDisabled,
			Severity: "high",
			Subject:  channel.ID.String(),
			Details: map[string]any{
				"tenant_id": tenantID.String(),
				"platform":  string(channel.Type),
				"failures":  count,
			},
		}); err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(tx.AppendAudit(ctx, &types.AuditEntry{
			TenantID: tenantID,
			Actor:    "auto_recovery",
			Action:   "auto_recovery.connector_disabled",
			Metadata: map[string]any{"channel_id": channel.ID.String(), "failures": count},
		}))
	})
	if err != nil {
		p.log.WithError(err).Error("Failed to disable channel.")
	}
}

// aggregate commits the post's terminal (or retried) state from the channel
// outcomes.
func (p *Publisher) aggregate(ctx context.Context, post *types.Post, outcomes []channelOutcome, jobAttempt int) (*Result, error) {
	res := &Result{}
	anyRetryable := false
	var firstFailedType types.ChannelType
	for _, o := range outcomes {
		if o.succeeded {
			res.Succeeded++
			continue
		}
		res.Failed++
		if firstFailedType == "" {
			firstFailedType = o.channel.Type
		}
		if o.retryable {
			anyRetryable = true
		}
	}

	switch {
	case res.Failed == 0:
		res.Status = types.PostStatusPublished
		if err := p.finishPost(ctx, post, res.Status, "", map[string]any{"channels": res.Succeeded}); err != nil {
			return nil, trace.Wrap(err)
		}
	case res.Succeeded > 0:
		res.Status = types.PostStatusPublishedPartial
		if err := p.finishPost(ctx, post, res.Status, "some channels failed", map[string]any{
			"succeeded": res.Succeeded, "failed": res.Failed,
		}); err != nil {
			return nil, trace.Wrap(err)
		}
	default:
		policy, err := retryPolicyFor(ctx, p.store, firstFailedType)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		nextAttempt := jobAttempt + 1
		if anyRetryable && nextAttempt < policy.MaxAttempts {
			res.Retry = true
			res.RetryDelay = halfJitter(policy.Delay(nextAttempt))
			return res, nil
		}
		res.Status = types.PostStatusFailed
		res.Reason = "all channels failed"
		if err := p.finishPost(ctx, post, res.Status, res.Reason, map[string]any{
			"failed": res.Failed, "attempts": nextAttempt,
		}); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	if res.Status == types.PostStatusPublished || res.Status == types.PostStatusPublishedPartial {
		p.enqueueAnalytics(ctx, post)
	}
	return res, nil
}

// finishPost commits the terminal status, its single terminal event and the
// usage bump in one transaction.
func (p *Publisher) finishPost(ctx context.Context, post *types.Post, status types.PostStatus, lastError string, meta map[string]any) error {
	eventType := events.PostPublishFailed
	eventStatus := types.EventStatusError
	switch status {
	case types.PostStatusPublished:
		eventType, eventStatus = events.PostPublished, types.EventStatusOK
	case types.PostStatusPublishedPartial:
		eventType, eventStatus = events.PostPublishedPartial, types.EventStatusOK
	}
	err := p.store.Tx(ctx, func(tx storage.Store) error {
		if err := tx.UpdatePostStatus(ctx, post.TenantID, post.ID, status, lastError); err != nil {
			return trace.Wrap(err)
		}
		if err := tx.AppendPublishEvent(ctx, events.NewPostEvent(
			post.TenantID, post.ID, eventType, eventStatus, meta,
		)); err != nil {
			return trace.Wrap(err)
		}
		if status == types.PostStatusPublished || status == types.PostStatusPublishedPartial {
			return trace.Wrap(tx.IncrementUsage(ctx, post.TenantID, 1, 0))
		}
		return nil
	})
	if err != nil {
		return trace.Wrap(err)
	}
	postOutcomes.WithLabelValues(string(status)).Inc()
	p.log.WithFields(log.Fields{"post": post.ID, "status": status}).Info("Post reached terminal state.")
	return nil
}

// enqueueAnalytics schedules metric collection for every publication of the
// post. Best effort after commit: analytics loss never fails a publish.
func (p *Publisher) enqueueAnalytics(ctx context.Context, post *types.Post) {
	pubs, err := p.store.ListPublications(ctx, post.TenantID, post.ID)
	if err != nil {
		p.log.WithError(err).Warn("Failed to list publications for analytics.")
		return
	}
	for _, pub := range pubs {
		payload, err := marshalPayload(queue.AnalyticsPayload{
			PostID:         pub.PostID,
			ChannelID:      pub.ChannelID,
			ExternalPostID: pub.ExternalPostID,
		})
		if err != nil {
			continue
		}
		job := &queue.Job{
			TenantID: post.TenantID,
			Type:     queue.JobAnalyticsFetch,
			Payload:  payload,
		}
		if err := p.queue.Enqueue(ctx, defaults.QueueAnalytics, job); err != nil {
			p.log.WithError(err).Warn("Failed to enqueue analytics job.")
		}
	}
}
