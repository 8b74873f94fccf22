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
	"fmt"

	"github.com/techappsUT/social-queue/lib/adapters/providererr"
	"github.com/techappsUT/social-queue/lib/types"
)

// sandboxShortCircuit handles channels carrying a sandbox scenario. When a
// scenario is set the adapter never reaches the provider: the outcome is
// deterministic, which is what the end-to-end tests and demo tenants rely on.
func sandboxShortCircuit(req PublishRequest) (*PublishResult, error, bool) {
	scenario := req.Channel.SandboxScenario()
	if scenario == "" {
		return nil, nil, false
	}
	switch scenario {
	case types.SandboxSimulateRateLimit:
		return nil, providererr.Normalize(req.Channel.Type, 429, "too_many_requests", "sandbox: simulated rate limit"), true
	case types.SandboxSimulateAuthError:
		return nil, providererr.Normalize(req.Channel.Type, 401, "invalid_token", "sandbox: simulated auth error"), true
	default:
		// simulate_success and unknown scenarios succeed; a typo in demo
		// channel metadata must not break publishing.
		return &PublishResult{
			ExternalPostID: fmt.Sprintf("sandbox-%s-%s", req.Channel.Type, req.Post.ID),
			URL:            fmt.Sprintf("https://sandbox.invalid/%s/%s", req.Channel.Type, req.Post.ID),
			Metadata:       map[string]any{"sandbox": true, "scenario": scenario},
		}, nil, true
	}
}
