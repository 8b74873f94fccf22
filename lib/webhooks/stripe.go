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

package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/types"
)

// Stripe event types that change the tenant subscription row. Everything
// else is acknowledged and dropped.
const (
	stripeCheckoutCompleted   = "checkout.session.completed"
	stripeSubscriptionUpdated = "customer.subscription.updated"
	stripeSubscriptionDeleted = "customer.subscription.deleted"
)

// stripeEnvelope is the shared outer shape of every Stripe event.
type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSession struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

// verifyStripe checks the `t=<unix>,v1=<hex hmac>` signature over
// "<t>.<body>" and rejects timestamps outside the tolerance window.
func (h *Handler) verifyStripe(header string, body []byte, secret string) error {
	if header == "" {
		return trace.AccessDenied("missing Stripe-Signature header")
	}
	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return trace.AccessDenied("malformed signature timestamp")
			}
			ts = n
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return trace.AccessDenied("incomplete Stripe signature")
	}
	skew := h.clock.Now().UTC().Sub(time.Unix(ts, 0).UTC())
	if skew > defaults.StripeSignatureTolerance || skew < -defaults.StripeSignatureTolerance {
		return trace.AccessDenied("signature timestamp outside tolerance")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	want := mac.Sum(nil)
	for _, sig := range sigs {
		if hmac.Equal(want, sig) {
			return nil
		}
	}
	return trace.AccessDenied("signature mismatch")
}

func stripeEventHeader(body []byte) (eventID, eventType string, err error) {
	var env stripeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", "", trace.BadParameter("event is not a JSON object")
	}
	if env.ID == "" || env.Type == "" {
		return "", "", trace.BadParameter("event carries no id or type")
	}
	return env.ID, env.Type, nil
}

// applyStripeEvent routes a verified, first-seen event to its side effect.
func (h *Handler) applyStripeEvent(ctx context.Context, eventID, eventType string, body []byte) error {
	var env stripeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return trace.BadParameter("event is not a JSON object")
	}
	switch eventType {
	case stripeCheckoutCompleted:
		return trace.Wrap(h.handleCheckoutCompleted(ctx, eventID, env.Data.Object))
	case stripeSubscriptionUpdated, stripeSubscriptionDeleted:
		return trace.Wrap(h.handleSubscriptionChange(ctx, eventID, eventType, env.Data.Object))
	}
	h.log.WithField("type", eventType).Debug("Ignoring Stripe event type.")
	return nil
}

func (h *Handler) handleCheckoutCompleted(ctx context.Context, eventID string, object json.RawMessage) error {
	var session stripeCheckoutSession
	if err := json.Unmarshal(object, &session); err != nil {
		return trace.BadParameter("malformed checkout session")
	}
	tenantID, err := stripeTenantID(session.ClientReferenceID, session.Metadata)
	if err != nil {
		return trace.Wrap(err)
	}
	planID := session.Metadata["plan_id"]
	if planID == "" {
		return trace.BadParameter("checkout session carries no plan_id")
	}
	if err := h.store.UpsertSubscription(ctx, &types.CompanySubscription{
		TenantID:             tenantID,
		PlanID:               planID,
		Status:               "active",
		StripeCustomerID:     session.Customer,
		StripeSubscriptionID: session.Subscription,
	}); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(h.store.AppendAudit(ctx, &types.AuditEntry{
		TenantID: tenantID,
		Actor:    ProviderStripe,
		Action:   "billing.subscription_activated",
		Metadata: map[string]any{"event_id": eventID, "plan_id": planID},
	}))
}

func (h *Handler) handleSubscriptionChange(ctx context.Context, eventID, eventType string, object json.RawMessage) error {
	var sub stripeSubscription
	if err := json.Unmarshal(object, &sub); err != nil {
		return trace.BadParameter("malformed subscription object")
	}
	tenantID, err := stripeTenantID("", sub.Metadata)
	if err != nil {
		return trace.Wrap(err)
	}
	current, err := h.store.GetSubscription(ctx, tenantID)
	if err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	next := &types.CompanySubscription{
		TenantID:             tenantID,
		Status:               sub.Status,
		StripeCustomerID:     sub.Customer,
		StripeSubscriptionID: sub.ID,
	}
	if current != nil {
		next.PlanID = current.PlanID
	}
	if planID := sub.Metadata["plan_id"]; planID != "" {
		next.PlanID = planID
	}
	if eventType == stripeSubscriptionDeleted {
		next.Status = "canceled"
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		next.CurrentPeriodEnd = &end
	}
	if err := h.store.UpsertSubscription(ctx, next); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(h.store.AppendAudit(ctx, &types.AuditEntry{
		TenantID: tenantID,
		Actor:    ProviderStripe,
		Action:   "billing.subscription_updated",
		Metadata: map[string]any{"event_id": eventID, "status": next.Status, "plan_id": next.PlanID},
	}))
}

// stripeTenantID resolves the tenant from client_reference_id or the
// metadata the checkout flow stamps onto every Stripe object.
func stripeTenantID(clientReference string, metadata map[string]string) (uuid.UUID, error) {
	raw := clientReference
	if raw == "" {
		raw = metadata["tenant_id"]
	}
	if raw == "" {
		return uuid.Nil, trace.BadParameter("stripe object carries no tenant reference")
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, trace.BadParameter("malformed tenant reference %q", raw)
	}
	return tenantID, nil
}
