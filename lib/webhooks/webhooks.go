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

// Package webhooks receives inbound provider callbacks. Every delivery is
// signature-verified against a per-provider secret, deduplicated by event id
// in fast state, and acknowledged with 200 so providers stop retrying.
// Stripe deliveries additionally update the tenant subscription row.
package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

// maxBodyBytes bounds an inbound delivery payload.
const maxBodyBytes = 1 << 20

// ProviderStripe is the one provider with its own signature scheme and a
// billing side effect.
const ProviderStripe = "stripe"

// Config holds the handler dependencies.
type Config struct {
	Store storage.Store
	KV    *kv.KV
	// Secrets maps provider name to its shared webhook signing secret.
	// Providers without a secret are not routable.
	Secrets map[string]string
	Clock   clockwork.Clock
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("webhooks config is missing store")
	}
	if c.KV == nil {
		return trace.BadParameter("webhooks config is missing kv")
	}
	if len(c.Secrets) == 0 {
		return trace.BadParameter("webhooks config has no provider secrets")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Handler serves POST /webhooks/{provider}.
type Handler struct {
	store   storage.Store
	kv      *kv.KV
	secrets map[string]string
	clock   clockwork.Clock
	router  chi.Router
	log     *log.Entry
}

// New creates a Handler from config.
func New(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{
		store:   cfg.Store,
		kv:      cfg.KV,
		secrets: cfg.Secrets,
		clock:   cfg.Clock,
		log:     log.WithField(defaults.ComponentKey, defaults.ComponentWebhooks),
	}
	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", h.handleDelivery)
	h.router = r
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	secret, ok := h.secrets[provider]
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	var eventID, eventType string
	if provider == ProviderStripe {
		if err := h.verifyStripe(r.Header.Get("Stripe-Signature"), body, secret); err != nil {
			h.log.WithError(err).Warn("Rejected Stripe delivery.")
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
		eventID, eventType, err = stripeEventHeader(body)
	} else {
		if err := verifyHMAC(r.Header.Get("X-Signature"), body, secret); err != nil {
			h.log.WithError(err).WithField("provider", provider).Warn("Rejected delivery.")
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
		eventID, eventType, err = genericEventHeader(r, body)
	}
	if err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	if !h.kv.Dedupe(r.Context(), kv.WebhookDedupeKey(provider, eventID), defaults.WebhookDedupeTTL) {
		writeJSON(w, map[string]bool{"deduplicated": true})
		return
	}
	if provider == ProviderStripe {
		// Durable dedupe outlives the fast-state TTL.
		first, err := h.store.MarkStripeEventProcessed(r.Context(), eventID, eventType)
		if err != nil {
			http.Error(w, "storage unavailable", http.StatusInternalServerError)
			return
		}
		if !first {
			writeJSON(w, map[string]bool{"deduplicated": true})
			return
		}
		if err := h.applyStripeEvent(r.Context(), eventID, eventType, body); err != nil {
			h.log.WithError(err).WithField("event", eventID).Error("Stripe event failed.")
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}
	} else if err := h.recordDelivery(r.Context(), provider, eventID, eventType); err != nil {
		h.log.WithError(err).WithField("provider", provider).Error("Webhook record failed.")
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	h.log.WithFields(log.Fields{"provider": provider, "event": eventID, "type": eventType}).
		Info("Webhook processed.")
	writeJSON(w, map[string]bool{"processed": true})
}

// recordDelivery leaves an audit trail for connector callbacks (deauth
// notices, page unlinks) that carry no engine side effect of their own.
func (h *Handler) recordDelivery(ctx context.Context, provider, eventID, eventType string) error {
	return trace.Wrap(h.store.AppendAudit(ctx, &types.AuditEntry{
		Actor:  provider,
		Action: "webhook.received",
		Metadata: map[string]any{
			"provider": provider,
			"event_id": eventID,
			"type":     eventType,
		},
	}))
}

// verifyHMAC checks the hex HMAC-SHA256 signature carried by non-Stripe
// providers in X-Signature.
func verifyHMAC(header string, body []byte, secret string) error {
	if header == "" {
		return trace.AccessDenied("missing signature header")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)
	got, err := hex.DecodeString(header)
	if err != nil {
		return trace.AccessDenied("malformed signature header")
	}
	if !hmac.Equal(want, got) {
		return trace.AccessDenied("signature mismatch")
	}
	return nil
}

// genericEventHeader extracts the event id and type, preferring headers and
// falling back to the payload's top-level fields.
func genericEventHeader(r *http.Request, body []byte) (eventID, eventType string, err error) {
	var payload struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	// Tolerate non-JSON payloads when headers carry the id.
	_ = json.Unmarshal(body, &payload)
	eventID = r.Header.Get("X-Event-ID")
	if eventID == "" {
		eventID = payload.ID
	}
	if eventID == "" {
		return "", "", trace.BadParameter("delivery carries no event id")
	}
	eventType = r.Header.Get("X-Event-Type")
	if eventType == "" {
		eventType = payload.Type
	}
	return eventID, eventType, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
