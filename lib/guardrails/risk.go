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

package guardrails

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/techappsUT/social-queue/lib/types"
)

// Risk factor weights. The composite is 0-100; buckets are defined on
// types.RiskBucket.
const (
	riskWeightPublishFailure = 40.0
	riskWeightFlaggedContent = 35.0
	riskWeightAbuse          = 25.0

	publishFailureLookback = 7  // days
	flaggedContentLookback = 30 // days
)

// ComputeTenantRisk recomputes the composite risk score of one tenant.
// abuseCount is the tenant's rate-limit violation counter, maintained in
// fast state by the publisher's admission path.
func (c *Checker) ComputeTenantRisk(ctx context.Context, tenantID uuid.UUID, abuseCount int64) (*types.TenantRiskScore, error) {
	now := c.clock.Now().UTC()

	ok, failed, err := c.store.TenantPublishOutcomeCounts(ctx, tenantID, now.AddDate(0, 0, -publishFailureLookback))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	failureRatio := 0.0
	if total := ok + failed; total > 0 {
		failureRatio = float64(failed) / float64(total)
	}

	total, flagged, err := c.store.ContentCounts(ctx, tenantID, now.AddDate(0, 0, -flaggedContentLookback))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	flaggedRatio := 0.0
	if total > 0 {
		flaggedRatio = float64(flagged) / float64(total)
	}

	abuseRate := clamp01(float64(abuseCount) / 100)

	score := failureRatio*riskWeightPublishFailure +
		flaggedRatio*riskWeightFlaggedContent +
		abuseRate*riskWeightAbuse

	risk := &types.TenantRiskScore{
		TenantID: tenantID,
		Score:    score,
		Bucket:   types.BucketForScore(score),
		Factors: map[string]float64{
			"publish_failure_ratio_7d":  failureRatio,
			"flagged_content_ratio_30d": flaggedRatio,
			"abuse_rate":                abuseRate,
		},
		ComputedAt: now,
	}
	if err := c.store.UpsertTenantRisk(ctx, risk); err != nil {
		return nil, trace.Wrap(err)
	}
	return risk, nil
}
