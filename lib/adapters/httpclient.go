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

package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/techappsUT/social-queue/lib/adapters/providererr"
	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/types"
)

// HTTPClient is the shared outbound client for every adapter: one timeout,
// one breaker per provider host, one error-normalization path.
type HTTPClient struct {
	client *http.Client
	log    *log.Entry

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHTTPClient creates the shared adapter client. A nil base uses a default
// client bound by the adapter timeout.
func NewHTTPClient(base *http.Client) *HTTPClient {
	if base == nil {
		base = &http.Client{Timeout: defaults.AdapterTimeout}
	}
	return &HTTPClient{
		client:   base,
		log:      log.WithField(defaults.ComponentKey, defaults.ComponentAdapters),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *HTTPClient) breakerFor(host string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    host,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.WithFields(log.Fields{
				"host": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("Provider breaker state changed.")
		},
	})
	c.breakers[host] = cb
	return cb
}

// Response is a decoded provider response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 {
		return trace.BadParameter("empty provider response")
	}
	return trace.Wrap(json.Unmarshal(r.Body, out))
}

// DoJSON performs one provider call through the host breaker. Non-2xx
// statuses and transport failures come back as classified provider errors;
// the caller never inspects raw status codes.
func (c *HTTPClient) DoJSON(ctx context.Context, provider types.ChannelType, method, rawURL string, headers map[string]string, body any) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, trace.BadParameter("malformed provider url %q", rawURL)
	}

	out, err := c.breakerFor(u.Host).Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, providererr.NormalizeTransport(provider, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, providererr.NormalizeTransport(provider, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			code, message := extractProviderError(data)
			return nil, providererr.Normalize(provider, resp.StatusCode, code, message)
		}
		return &Response{StatusCode: resp.StatusCode, Body: data}, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, providererr.NormalizeTransport(provider, err)
		}
		return nil, trace.Wrap(err)
	}
	return out.(*Response), nil
}

// extractProviderError pulls an error code and message out of the common
// provider error envelopes without knowing which provider answered.
func extractProviderError(body []byte) (code, message string) {
	var envelope struct {
		Error struct {
			Code    json.Number `json:"code"`
			Subcode json.Number `json:"error_subcode"`
			Type    string      `json:"type"`
			Message string      `json:"message"`
		} `json:"error"`
		Errors []struct {
			Code    json.Number `json:"code"`
			Message string      `json:"message"`
		} `json:"errors"`
		Code    string `json:"error_code"`
		Message string `json:"error_description"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", string(body)
	}
	switch {
	case envelope.Error.Message != "":
		code := envelope.Error.Code.String()
		if envelope.Error.Type != "" && code == "" {
			code = envelope.Error.Type
		}
		return code, envelope.Error.Message
	case len(envelope.Errors) > 0:
		return envelope.Errors[0].Code.String(), envelope.Errors[0].Message
	case envelope.Code != "":
		return envelope.Code, envelope.Message
	case envelope.Detail != "":
		return "", envelope.Detail
	}
	return "", string(body)
}
