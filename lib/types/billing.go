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
	"time"

	"github.com/google/uuid"
)

// CompanySubscription is the single subscription record per tenant. The
// engine never writes plan changes itself; the billing collaborator does,
// through the Stripe webhook path.
type CompanySubscription struct {
	TenantID             uuid.UUID
	PlanID               string
	Status               string
	StripeCustomerID     string
	StripeSubscriptionID string
	CurrentPeriodEnd     *time.Time
	UpdatedAt            time.Time
}

// CompanyUsage counts plan-metered activity for the current period.
type CompanyUsage struct {
	TenantID      uuid.UUID
	PeriodStart   time.Time
	PostsPublished int
	AIGenerations  int
	UpdatedAt     time.Time
}

// BillingState is the read-only billing view the engine consults at write
// paths. It is derived from CompanySubscription and CompanyUsage.
type BillingState struct {
	PlanID         string
	Status         string
	PostQuota      int
	AIQuota        int
	PostsPublished int
	AIGenerations  int
	GraceUntil     *time.Time
}

// PostQuotaExceeded reports whether publishing another post would exceed the
// plan. A zero quota means unlimited.
func (b BillingState) PostQuotaExceeded() bool {
	return b.PostQuota > 0 && b.PostsPublished >= b.PostQuota
}

// AIQuotaExceeded reports whether another generation would exceed the plan.
func (b BillingState) AIQuotaExceeded() bool {
	return b.AIQuota > 0 && b.AIGenerations >= b.AIQuota
}

// QuotaForPlan returns the monthly post and AI generation quotas of a plan.
// Unknown plans and enterprise tiers are unlimited (zero).
func QuotaForPlan(planID string) (postQuota, aiQuota int) {
	switch planID {
	case "free":
		return 30, 20
	case "starter":
		return 120, 200
	case "growth":
		return 600, 1000
	}
	return 0, 0
}

// StripeEvent is the processed-webhook bookkeeping row backing dedupe.
type StripeEvent struct {
	EventID     string
	Type        string
	ProcessedAt time.Time
}
