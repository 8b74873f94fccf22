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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

const (
	facebookSecret = "fb-secret"
	stripeSecret   = "whsec_test"
)

type testEnv struct {
	handler *Handler
	store   *storage.Mem
	mr      *miniredis.Miniredis
	clock   *clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	mem := storage.NewMem(clock)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fast, err := kv.New(kv.Config{Client: client, Clock: clock})
	require.NoError(t, err)

	handler, err := New(Config{
		Store: mem,
		KV:    fast,
		Secrets: map[string]string{
			"facebook":     facebookSecret,
			ProviderStripe: stripeSecret,
		},
		Clock: clock,
	})
	require.NoError(t, err)
	return &testEnv{handler: handler, store: mem, mr: mr, clock: clock}
}

func signHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func stripeSignature(secret string, body []byte, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func (e *testEnv) deliver(t *testing.T, provider string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, strings.NewReader(string(body)))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]bool {
	t.Helper()
	var out map[string]bool
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestGenericDelivery(t *testing.T) {
	e := newTestEnv(t)
	body := []byte(`{"id": "evt_fb_1", "type": "page.deauthorized"}`)
	headers := map[string]string{"X-Signature": signHMAC(facebookSecret, body)}

	rec := e.deliver(t, "facebook", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeBody(t, rec)["processed"])

	entries := e.store.AuditEntries()
	require.Len(t, entries, 1)
	require.Equal(t, "webhook.received", entries[0].Action)
	require.Equal(t, "evt_fb_1", entries[0].Metadata["event_id"])

	// A retried delivery is acknowledged but not reprocessed.
	rec = e.deliver(t, "facebook", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeBody(t, rec)["deduplicated"])
	require.Len(t, e.store.AuditEntries(), 1)
}

func TestGenericBadSignature(t *testing.T) {
	e := newTestEnv(t)
	body := []byte(`{"id": "evt_fb_2"}`)

	rec := e.deliver(t, "facebook", body, map[string]string{"X-Signature": signHMAC("wrong", body)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.deliver(t, "facebook", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, e.store.AuditEntries())
}

func TestUnknownProvider(t *testing.T) {
	e := newTestEnv(t)
	rec := e.deliver(t, "myspace", []byte(`{"id": "x"}`), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStripeCheckoutCompleted(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()
	body := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"client_reference_id": %q,
			"customer": "cus_1",
			"subscription": "sub_1",
			"metadata": {"plan_id": "growth"}
		}}
	}`, tenantID))
	headers := map[string]string{"Stripe-Signature": stripeSignature(stripeSecret, body, e.clock.Now())}

	rec := e.deliver(t, "stripe", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeBody(t, rec)["processed"])

	sub, err := e.store.GetSubscription(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, "growth", sub.PlanID)
	require.Equal(t, "active", sub.Status)
	require.Equal(t, "cus_1", sub.StripeCustomerID)

	// Fast-state replay.
	rec = e.deliver(t, "stripe", body, headers)
	require.True(t, decodeBody(t, rec)["deduplicated"])

	// Replay after the dedupe key expired still hits the durable row.
	e.mr.FlushAll()
	rec = e.deliver(t, "stripe", body, headers)
	require.True(t, decodeBody(t, rec)["deduplicated"])
}

func TestStripeSignatureTolerance(t *testing.T) {
	e := newTestEnv(t)
	body := []byte(`{"id": "evt_2", "type": "checkout.session.completed", "data": {"object": {}}}`)

	stale := stripeSignature(stripeSecret, body, e.clock.Now().Add(-10*time.Minute))
	rec := e.deliver(t, "stripe", body, map[string]string{"Stripe-Signature": stale})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	forged := stripeSignature("whsec_wrong", body, e.clock.Now())
	rec = e.deliver(t, "stripe", body, map[string]string{"Stripe-Signature": forged})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeSubscriptionDeleted(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()
	require.NoError(t, e.store.UpsertSubscription(ctx, &types.CompanySubscription{
		TenantID: tenantID, PlanID: "growth", Status: "active",
	}))

	body := []byte(fmt.Sprintf(`{
		"id": "evt_3",
		"type": "customer.subscription.deleted",
		"data": {"object": {
			"id": "sub_1",
			"customer": "cus_1",
			"status": "active",
			"current_period_end": %d,
			"metadata": {"tenant_id": %q}
		}}
	}`, e.clock.Now().Add(24*time.Hour).Unix(), tenantID))
	headers := map[string]string{"Stripe-Signature": stripeSignature(stripeSecret, body, e.clock.Now())}

	rec := e.deliver(t, "stripe", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	sub, err := e.store.GetSubscription(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, "canceled", sub.Status)
	// The plan survives cancellation for the grace period.
	require.Equal(t, "growth", sub.PlanID)
	require.NotNil(t, sub.CurrentPeriodEnd)
}
