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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

func newTestChecker(t *testing.T, at time.Time) (*Checker, *storage.Mem, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(at)
	mem := storage.NewMem(clock)
	checker, err := New(Config{Store: mem, Clock: clock})
	require.NoError(t, err)
	return checker, mem, clock
}

func TestQuietHours(t *testing.T) {
	cases := []struct {
		desc   string
		window types.QuietHours
		at     string
		within bool
	}{
		{"inside plain window", types.QuietHours{Start: "09:00", End: "17:00"}, "12:00", true},
		{"start is inclusive", types.QuietHours{Start: "09:00", End: "17:00"}, "09:00", true},
		{"end is exclusive", types.QuietHours{Start: "09:00", End: "17:00"}, "17:00", false},
		{"outside plain window", types.QuietHours{Start: "09:00", End: "17:00"}, "08:59", false},
		{"wrapped window before midnight", types.QuietHours{Start: "22:00", End: "06:00"}, "23:30", true},
		{"wrapped window after midnight", types.QuietHours{Start: "22:00", End: "06:00"}, "05:59", true},
		{"wrapped window daytime", types.QuietHours{Start: "22:00", End: "06:00"}, "12:00", false},
		{"wrapped end is exclusive", types.QuietHours{Start: "22:00", End: "06:00"}, "06:00", false},
		{"empty window", types.QuietHours{Start: "08:00", End: "08:00"}, "08:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			at, err := time.Parse("15:04", tc.at)
			require.NoError(t, err)
			now := time.Date(2025, 6, 1, at.Hour(), at.Minute(), 0, 0, time.UTC)
			within, err := InQuietHours(tc.window, now)
			require.NoError(t, err)
			require.Equal(t, tc.within, within)
		})
	}

	_, err := InQuietHours(types.QuietHours{Start: "25:99", End: "06:00"}, time.Now())
	require.Error(t, err)
}

func TestEvaluateDuplicateTopic(t *testing.T) {
	checker, mem, _ := newTestChecker(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()
	tenantID, projectID := uuid.New(), uuid.New()

	require.NoError(t, mem.CreateContentItem(ctx, &types.ContentItem{
		TenantID:  tenantID,
		ProjectID: projectID,
		Title:     "  Summer   SALE announcement ",
		Status:    types.ContentStatusPublished,
	}))

	g := types.Guardrails{DuplicateTopicDays: 30}
	violations, err := checker.Evaluate(ctx, tenantID, projectID, g, "summer sale ANNOUNCEMENT")
	require.NoError(t, err)
	require.Contains(t, violations, ViolationDuplicateTopic)

	violations, err = checker.Evaluate(ctx, tenantID, projectID, g, "a different topic")
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestEvaluateDailyCap(t *testing.T) {
	checker, mem, _ := newTestChecker(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()
	tenantID, projectID := uuid.New(), uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, mem.CreatePost(ctx, &types.Post{
			TenantID:  tenantID,
			ProjectID: projectID,
			Title:     "post",
		}))
	}

	violations, err := checker.Evaluate(ctx, tenantID, projectID, types.Guardrails{MaxPostsPerDayProject: 3}, "t")
	require.NoError(t, err)
	require.Contains(t, violations, ViolationMaxPostsPerDay)

	violations, err = checker.Evaluate(ctx, tenantID, projectID, types.Guardrails{MaxPostsPerDayProject: 4}, "t")
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestEvaluateBlackoutAndApproval(t *testing.T) {
	checker, _, _ := newTestChecker(t, time.Date(2025, 12, 25, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	violations, err := checker.Evaluate(ctx, uuid.New(), uuid.New(), types.Guardrails{
		BlackoutDates:    []string{"2025-12-24", "2025-12-25"},
		ApprovalRequired: true,
	}, "t")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{ViolationBlackoutDate, ViolationApprovalRequired}, violations)
}

func TestScoreContent(t *testing.T) {
	policy := &types.QualityPolicy{
		BrandVoiceKeywords:       []string{"craft", "quality"},
		ForbiddenTopics:          []string{"gambling"},
		MaxCapsRatio:             0.4,
		MaxExclamationCount:      2,
		RequireApprovalRiskScore: 0.5,
	}

	t.Run("clean content", func(t *testing.T) {
		report := ScoreContent(policy, &types.ContentItem{
			Title: "Quality craft update",
			Body:  "We refined our craft this week. #build",
		})
		require.Equal(t, 1.0, report.ToneScore)
		require.False(t, report.ForbiddenMatch)
		require.Empty(t, report.Violations)
		require.False(t, report.NeedsApproval)
		require.Equal(t, 1, report.HashtagCount)
	})

	t.Run("forbidden topic with risk flags", func(t *testing.T) {
		report := ScoreContent(policy, &types.ContentItem{
			Title:     "Big gambling tips",
			Body:      "WIN BIG NOW!!! GUARANTEED!!!",
			RiskFlags: []string{"spam", "misleading"},
		})
		require.True(t, report.ForbiddenMatch)
		require.Contains(t, report.Violations, PolicyForbiddenTopic)
		require.Contains(t, report.Violations, PolicyCapsRatio)
		require.Contains(t, report.Violations, PolicyExclamations)
		// 2 flags * 0.22 + 0.25 forbidden + 0.25 zero-tone = 0.94.
		require.InDelta(t, 0.94, report.RiskScore, 0.001)
		require.True(t, report.NeedsApproval)
	})

	t.Run("nil policy is zero risk", func(t *testing.T) {
		report := ScoreContent(nil, &types.ContentItem{Title: "ANYTHING!!!", Body: "AT ALL"})
		require.Zero(t, report.RiskScore)
		require.False(t, report.NeedsApproval)
		require.Empty(t, report.Violations)
	})
}

func TestComputeTenantRisk(t *testing.T) {
	checker, mem, _ := newTestChecker(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()
	tenantID := uuid.New()

	// No history at all: zero score, low bucket.
	risk, err := checker.ComputeTenantRisk(ctx, tenantID, 0)
	require.NoError(t, err)
	require.Zero(t, risk.Score)
	require.Equal(t, types.RiskLow, risk.Bucket)

	// Half the recent content flagged plus a saturated abuse counter.
	require.NoError(t, mem.CreateContentItem(ctx, &types.ContentItem{
		TenantID: tenantID, ProjectID: uuid.New(), Title: "ok",
		Status: types.ContentStatusApproved,
	}))
	require.NoError(t, mem.CreateContentItem(ctx, &types.ContentItem{
		TenantID: tenantID, ProjectID: uuid.New(), Title: "flagged",
		Status: types.ContentStatusNeedsReview,
	}))

	risk, err = checker.ComputeTenantRisk(ctx, tenantID, 200)
	require.NoError(t, err)
	// 0.5 * 35 flagged weight + 1.0 * 25 abuse weight.
	require.InDelta(t, 42.5, risk.Score, 0.001)
	require.Equal(t, types.RiskMedium, risk.Bucket)
	require.Equal(t, 0.5, risk.Factors["flagged_content_ratio_30d"])

	// The score is persisted for the control plane.
	stored, err := mem.GetTenantRisk(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, risk.Score, stored.Score)
}
