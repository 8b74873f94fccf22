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

// Package controlplane owns the operator-facing switches of the publishing
// engine: feature flags, global and per-tenant publish breakers, maintenance
// mode, and the periodic auto-recovery and risk-scoring passes that flip
// them automatically.
package controlplane

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/guardrails"
	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

// Config holds the engine dependencies.
type Config struct {
	Store storage.Store
	KV    *kv.KV
	// Risk recomputes tenant risk scores during the periodic pass.
	Risk  *guardrails.Checker
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("controlplane config is missing store")
	}
	if c.KV == nil {
		return trace.BadParameter("controlplane config is missing kv")
	}
	if c.Risk == nil {
		return trace.BadParameter("controlplane config is missing risk checker")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Engine flips the engine-wide switches and runs the periodic passes.
type Engine struct {
	store storage.Store
	kv    *kv.KV
	risk  *guardrails.Checker
	flags *FlagCache
	clock clockwork.Clock
	log   *log.Entry
}

// New creates an Engine from config.
func New(cfg Config) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{
		store: cfg.Store,
		kv:    cfg.KV,
		risk:  cfg.Risk,
		flags: NewFlagCache(cfg.Store, cfg.KV),
		clock: cfg.Clock,
		log:   log.WithField(defaults.ComponentKey, defaults.ComponentControlPlane),
	}, nil
}

// Flags exposes the cached flag reader.
func (e *Engine) Flags() *FlagCache {
	return e.flags
}

// EngageGlobalBreaker pauses all publishing. Every worker observes the flag
// on its next pre-flight check.
func (e *Engine) EngageGlobalBreaker(ctx context.Context, actor, reason string) error {
	if err := e.kv.SetFlag(ctx, kv.GlobalPublishBreakerKey, 0); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.store.AppendAudit(ctx, &types.AuditEntry{
		Actor:    actor,
		Action:   "breaker.global_engaged",
		Metadata: map[string]any{"reason": reason},
	}))
}

// ReleaseGlobalBreaker resumes publishing.
func (e *Engine) ReleaseGlobalBreaker(ctx context.Context, actor string) error {
	if err := e.kv.ClearFlag(ctx, kv.GlobalPublishBreakerKey); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.store.AppendAudit(ctx, &types.AuditEntry{
		Actor:  actor,
		Action: "breaker.global_released",
	}))
}

// EngageTenantBreaker pauses publishing for one tenant.
func (e *Engine) EngageTenantBreaker(ctx context.Context, tenantID uuid.UUID, actor, reason string) error {
	if err := e.kv.SetFlag(ctx, kv.TenantBreakerKey(tenantID), 0); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.store.AppendAudit(ctx, &types.AuditEntry{
		TenantID: tenantID,
		Actor:    actor,
		Action:   "breaker.tenant_engaged",
		Metadata: map[string]any{"reason": reason},
	}))
}

// ReleaseTenantBreaker resumes publishing for one tenant.
func (e *Engine) ReleaseTenantBreaker(ctx context.Context, tenantID uuid.UUID, actor string) error {
	if err := e.kv.ClearFlag(ctx, kv.TenantBreakerKey(tenantID)); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.store.AppendAudit(ctx, &types.AuditEntry{
		TenantID: tenantID,
		Actor:    actor,
		Action:   "breaker.tenant_released",
	}))
}

// SetMaintenanceMode flips the global read-only flag honored by all write
// surfaces.
func (e *Engine) SetMaintenanceMode(ctx context.Context, on bool, actor string) error {
	var err error
	if on {
		err = e.kv.SetFlag(ctx, kv.MaintenanceModeKey, 0)
	} else {
		err = e.kv.ClearFlag(ctx, kv.MaintenanceModeKey)
	}
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.store.AppendAudit(ctx, &types.AuditEntry{
		Actor:    actor,
		Action:   "maintenance.set",
		Metadata: map[string]any{"enabled": on},
	}))
}

// Run drives the periodic passes until the context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	recovery := e.clock.NewTicker(defaults.AutoRecoveryInterval)
	defer recovery.Stop()
	riskBeat := e.clock.NewTicker(defaults.RiskRecomputeInterval)
	defer riskBeat.Stop()

	e.log.Info("Control plane passes started.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-recovery.Chan():
			if err := e.AutoRecover(ctx); err != nil {
				e.log.WithError(err).Warn("Auto-recovery pass failed.")
			}
		case <-riskBeat.Chan():
			if err := e.RecomputeRisk(ctx); err != nil {
				e.log.WithError(err).Warn("Risk recompute pass failed.")
			}
		}
	}
}

// AutoRecover is one pass of the self-healing checks: worker liveness and
// the rolling global failure rate. Connector-level auto-disable runs inline
// on the publisher's failure path where the channel is already in hand.
func (e *Engine) AutoRecover(ctx context.Context) error {
	if err := e.checkWorkerHeartbeat(ctx); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.checkGlobalFailureRate(ctx))
}

func (e *Engine) checkWorkerHeartbeat(ctx context.Context) error {
	alive, err := e.kv.HeartbeatAlive(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	if alive {
		return nil
	}
	open, err := e.store.HasOpenIncident(ctx, types.IncidentWorkerHeartbeat, "workers")
	if err != nil || open {
		return trace.Wrap(err)
	}
	e.log.Warn("No worker heartbeat, raising incident.")
	return trace.Wrap(e.store.CreateIncident(ctx, &types.PlatformIncident{
		Type:     types.IncidentWorkerHeartbeat,
		Severity: "critical",
		Subject:  "workers",
		Details:  map[string]any{"heartbeat_ttl": defaults.HeartbeatTTL.String()},
	}))
}

func (e *Engine) checkGlobalFailureRate(ctx context.Context) error {
	if !e.flags.EnabledFor(ctx, types.FlagGlobalPublishBreaker, uuid.Nil) {
		return nil
	}
	if e.kv.FlagSet(ctx, kv.GlobalPublishBreakerKey) {
		return nil
	}
	since := e.clock.Now().UTC().Add(-defaults.GlobalFailureRateWindow)
	ok, failed, err := e.store.PublishOutcomeCounts(ctx, since)
	if err != nil {
		return trace.Wrap(err)
	}
	total := ok + failed
	if total == 0 {
		return nil
	}
	rate := float64(failed) / float64(total)
	if rate <= defaults.GlobalFailureRateThreshold {
		return nil
	}
	e.log.WithFields(log.Fields{"rate": rate, "failed": failed, "total": total}).
		Warn("Publish failure rate over threshold, engaging global breaker.")
	if err := e.EngageGlobalBreaker(ctx, "auto_recovery", "publish failure rate over threshold"); err != nil {
		return trace.Wrap(err)
	}
	open, err := e.store.HasOpenIncident(ctx, types.IncidentGlobalBreaker, "platform")
	if err != nil || open {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.store.CreateIncident(ctx, &types.PlatformIncident{
		Type:     types.IncidentGlobalBreaker,
		Severity: "critical",
		Subject:  "platform",
		Details:  map[string]any{"failure_rate": rate, "failed": failed, "total": total},
	}))
}

// RecomputeRisk refreshes every tenant's composite risk score and applies
// throttles where enforcement is on.
func (e *Engine) RecomputeRisk(ctx context.Context) error {
	tenants, err := e.store.ListTenants(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	var errs []error
	for _, tenantID := range tenants {
		if err := e.recomputeTenantRisk(ctx, tenantID); err != nil {
			e.log.WithError(err).WithField("tenant", tenantID).Warn("Risk recompute failed for tenant.")
			errs = append(errs, err)
		}
	}
	return trace.NewAggregate(errs...)
}

func (e *Engine) recomputeTenantRisk(ctx context.Context, tenantID uuid.UUID) error {
	abuse, err := e.kv.CounterValue(ctx, kv.AbuseCounterKey(tenantID))
	if err != nil {
		return trace.Wrap(err)
	}
	risk, err := e.risk.ComputeTenantRisk(ctx, tenantID, abuse)
	if err != nil {
		return trace.Wrap(err)
	}
	if risk.Score < defaults.TenantRiskThreshold {
		return nil
	}
	if !e.flags.EnabledFor(ctx, types.FlagTenantRiskControls, tenantID) {
		return nil
	}
	e.log.WithFields(log.Fields{"tenant": tenantID, "score": risk.Score}).
		Warn("Tenant risk over threshold, throttling.")
	if err := e.kv.SetFlag(ctx, kv.TenantThrottleKey(tenantID), defaults.TenantThrottleTTL); err != nil {
		return trace.Wrap(err)
	}
	if e.flags.EnabledFor(ctx, types.FlagTenantPublishBreaker, tenantID) {
		if err := e.EngageTenantBreaker(ctx, tenantID, "auto_recovery", "tenant risk over threshold"); err != nil {
			return trace.Wrap(err)
		}
	}
	open, err := e.store.HasOpenIncident(ctx, types.IncidentTenantThrottled, tenantID.String())
	if err != nil || open {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.store.CreateIncident(ctx, &types.PlatformIncident{
		Type:     types.IncidentTenantThrottled,
		Severity: "high",
		Subject:  tenantID.String(),
		Details:  map[string]any{"score": risk.Score, "bucket": string(risk.Bucket), "factors": risk.Factors},
	}))
}
