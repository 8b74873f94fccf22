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
	"strings"
	"unicode"

	"github.com/techappsUT/social-queue/lib/types"
)

// QualityReport is the outcome of scoring generated content against the
// tenant's AI quality policy.
type QualityReport struct {
	CapsRatio        float64
	ExclamationCount int
	// ToneScore is the brand-voice keyword hit ratio, 1.0 when the policy
	// declares no keywords.
	ToneScore      float64
	HashtagCount   int
	ForbiddenMatch bool
	RiskScore      float64
	NeedsApproval  bool
	// Violations names the policy limits the content exceeded.
	Violations []string
}

// Policy violation names.
const (
	PolicyCapsRatio      = "caps_ratio"
	PolicyExclamations   = "exclamation_count"
	PolicyForbiddenTopic = "forbidden_topic"
)

// ScoreContent evaluates a generated item against the quality policy. A nil
// policy yields a zero-risk report.
func ScoreContent(policy *types.QualityPolicy, item *types.ContentItem) QualityReport {
	report := QualityReport{ToneScore: 1.0}
	text := item.Title + " " + item.Body

	report.CapsRatio = capsRatio(text)
	report.ExclamationCount = strings.Count(text, "!")
	report.HashtagCount = countHashtags(text) + len(item.Hashtags)

	if policy == nil {
		return report
	}

	lower := strings.ToLower(text)
	for _, topic := range policy.ForbiddenTopics {
		if topic != "" && strings.Contains(lower, strings.ToLower(topic)) {
			report.ForbiddenMatch = true
			report.Violations = append(report.Violations, PolicyForbiddenTopic)
			break
		}
	}

	if len(policy.BrandVoiceKeywords) > 0 {
		hits := 0
		for _, kw := range policy.BrandVoiceKeywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		report.ToneScore = float64(hits) / float64(len(policy.BrandVoiceKeywords))
	}

	if policy.MaxCapsRatio > 0 && report.CapsRatio > policy.MaxCapsRatio {
		report.Violations = append(report.Violations, PolicyCapsRatio)
	}
	if policy.MaxExclamationCount > 0 && report.ExclamationCount > policy.MaxExclamationCount {
		report.Violations = append(report.Violations, PolicyExclamations)
	}

	score := float64(len(item.RiskFlags)) * 0.22
	if report.ForbiddenMatch {
		score += 0.25
	}
	score += (1 - report.ToneScore) * 0.25
	report.RiskScore = clamp01(score)

	if policy.RequireApprovalRiskScore > 0 && report.RiskScore >= policy.RequireApprovalRiskScore {
		report.NeedsApproval = true
	}
	return report
}

func capsRatio(text string) float64 {
	var upper, alpha int
	for _, r := range text {
		if unicode.IsLetter(r) {
			alpha++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if alpha == 0 {
		return 0
	}
	return float64(upper) / float64(alpha)
}

func countHashtags(text string) int {
	count := 0
	for _, field := range strings.Fields(text) {
		if len(field) > 1 && field[0] == '#' {
			count++
		}
	}
	return count
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
