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

package publisher

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/gravitational/trace"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

var jitterMu sync.Mutex

// halfJitter returns a random duration in [d/2, d). Spreading retries keeps a
// provider recovery from being hit by every queued post at once.
func halfJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	jitterMu.Lock()
	defer jitterMu.Unlock()
	frac := rand.Int63n(int64(d / 2))
	return d/2 + time.Duration(frac)
}

// retryPolicyFor loads the channel-type retry policy, falling back to engine
// defaults when no row exists.
func retryPolicyFor(ctx context.Context, store storage.Policies, channelType types.ChannelType) (*types.ChannelRetryPolicy, error) {
	policy, err := store.GetRetryPolicy(ctx, channelType)
	if err == nil {
		return policy, nil
	}
	if !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}
	return &types.ChannelRetryPolicy{
		ChannelType: channelType,
		MaxAttempts: defaults.MaxPublishAttempts,
		Backoff:     types.BackoffLinear,
		RetryDelay:  defaults.RetryDelay,
	}, nil
}
