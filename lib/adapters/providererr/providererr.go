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

// Package providererr folds the error dialects of every publishing provider
// into one classification the engine can act on. The publisher keys its
// retry, credential and breaker decisions off Class and Retryable alone; raw
// provider payloads only survive in the event log metadata.
package providererr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/techappsUT/social-queue/lib/types"
)

// Class is the normalized provider error class.
type Class string

const (
	// ClassAuth means the credential was rejected; the tenant must
	// reconnect the channel.
	ClassAuth Class = "auth"
	// ClassRateLimit means the provider throttled us; back off until the
	// window rolls over.
	ClassRateLimit Class = "rate_limit"
	// ClassContentRejected means the provider refused this content; a
	// retry with the same payload cannot succeed.
	ClassContentRejected Class = "content_rejected"
	// ClassServerError covers provider outages and transport failures.
	ClassServerError Class = "server_error"
)

// Suggested operator/engine actions per class.
const (
	ActionReconnect     = "reconnect_channel"
	ActionBackoff       = "backoff_and_retry"
	ActionReviewContent = "review_content"
	ActionRetry         = "retry"
)

// Error is a classified provider failure.
type Error struct {
	Provider        types.ChannelType
	Class           Class
	Retryable       bool
	SuggestedAction string
	StatusCode      int
	ProviderCode    string
	Message         string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s, status %d)", e.Provider, e.Message, e.Class, e.StatusCode)
}

// Metadata returns the normalized_error payload stored in event metadata.
func (e *Error) Metadata() map[string]any {
	return map[string]any{
		"class":            string(e.Class),
		"retryable":        e.Retryable,
		"suggested_action": e.SuggestedAction,
		"status_code":      e.StatusCode,
		"provider_code":    e.ProviderCode,
		"message":          e.Message,
	}
}

// Provider codes that signal an auth problem regardless of HTTP status.
// Facebook/Instagram use OAuthException subcodes, X uses 89, LinkedIn and
// TikTok spell it out.
var authCodes = map[string]bool{
	"190":                  true,
	"102":                  true,
	"89":                   true,
	"access_token_invalid": true,
	"invalid_token":        true,
	"access_denied":        true,
	"oauthexception":       true,
	"invalid_grant":        true,
}

var rateLimitCodes = map[string]bool{
	"4":                        true,
	"17":                       true,
	"32":                       true,
	"88":                       true,
	"rate_limit_exceeded":      true,
	"too_many_requests":        true,
	"spam_risk_too_many_posts": true,
}

var contentCodes = map[string]bool{
	"duplicate":        true,
	"spam":             true,
	"policy_violation": true,
	"invalid_media":    true,
	"content_blocked":  true,
	"187":              true,
}

// Normalize maps a provider HTTP failure to its classified form.
func Normalize(provider types.ChannelType, status int, code, message string) *Error {
	e := &Error{
		Provider:     provider,
		StatusCode:   status,
		ProviderCode: code,
		Message:      message,
	}
	lc := strings.ToLower(code)
	switch {
	case status == 401 || status == 403 || authCodes[lc]:
		e.Class, e.Retryable, e.SuggestedAction = ClassAuth, false, ActionReconnect
	case status == 429 || rateLimitCodes[lc]:
		e.Class, e.Retryable, e.SuggestedAction = ClassRateLimit, true, ActionBackoff
	case status >= 500 || status == 0:
		e.Class, e.Retryable, e.SuggestedAction = ClassServerError, true, ActionRetry
	case contentCodes[lc]:
		e.Class, e.Retryable, e.SuggestedAction = ClassContentRejected, false, ActionReviewContent
	default:
		// Remaining 4xx: the request itself is wrong and retrying the same
		// payload cannot help.
		e.Class, e.Retryable, e.SuggestedAction = ClassContentRejected, false, ActionReviewContent
	}
	return e
}

// NormalizeTransport classifies a transport-level failure (dial, timeout,
// breaker open). These are always retryable server errors.
func NormalizeTransport(provider types.ChannelType, err error) *Error {
	return &Error{
		Provider:        provider,
		Class:           ClassServerError,
		Retryable:       true,
		SuggestedAction: ActionRetry,
		Message:         err.Error(),
	}
}

// AsError unwraps err to a classified provider error, if it is one.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsAuth reports whether err is a classified auth failure.
func IsAuth(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Class == ClassAuth
}

// IsRateLimit reports whether err is a classified rate limit.
func IsRateLimit(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Class == ClassRateLimit
}

// IsRetryable reports whether err may succeed on retry. Unclassified errors
// count as retryable: a transient infrastructure failure must not burn a
// post's attempt budget as permanent.
func IsRetryable(err error) bool {
	pe, ok := AsError(err)
	if !ok {
		return true
	}
	return pe.Retryable
}
