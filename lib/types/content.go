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

package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentStatus is the review lifecycle of a content item.
type ContentStatus string

const (
	ContentStatusDraft       ContentStatus = "draft"
	ContentStatusNeedsReview ContentStatus = "needs_review"
	ContentStatusApproved    ContentStatus = "approved"
	ContentStatusRejected    ContentStatus = "rejected"
	ContentStatusScheduled   ContentStatus = "scheduled"
	ContentStatusPublished   ContentStatus = "published"
	ContentStatusFailed      ContentStatus = "failed"
)

// ContentItem is AI- or manually authored content awaiting review and
// scheduling.
type ContentItem struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	// RuleID is set when an automation rule produced the item.
	RuleID   *uuid.UUID
	RunID    *uuid.UUID
	Title    string
	Body     string
	Hashtags []string
	CTA      string
	Channels []ChannelType
	// RiskFlags come back from the generator; any flag forces review.
	RiskFlags []string
	// GuardrailViolations names the guardrails that fired when the item
	// was produced.
	GuardrailViolations []string
	RiskScore           float64
	Status              ContentStatus
	Error               string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NormalizedTitle is the duplicate-topic comparison key: lowercased,
// whitespace collapsed.
func NormalizedTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// ContentTemplate is a stored prompt template. Variables are substituted
// into the prompt as {{path.to.var}} references.
type ContentTemplate struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ProjectID      uuid.UUID
	Name           string
	PromptTemplate string
	Variables      map[string]string
	CreatedAt      time.Time
}

// Campaign groups content under a brand profile whose attributes are
// available to prompt templates.
type Campaign struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ProjectID    uuid.UUID
	Name         string
	BrandProfile map[string]string
	CreatedAt    time.Time
}

// Approval records a review decision on a content item.
type Approval struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	ContentItemID uuid.UUID
	Reviewer      string
	Approved      bool
	Note          string
	CreatedAt     time.Time
}
