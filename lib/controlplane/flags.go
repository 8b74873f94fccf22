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

package controlplane

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	gocache "github.com/patrickmn/go-cache"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

// cachedFlag wraps a flag row so the absence of a row is cacheable too.
type cachedFlag struct {
	value *types.FeatureFlag
}

// FlagCache is the read path for feature flags: a short-TTL in-process cache
// over the flag table, invalidated across processes by a generation counter
// in fast state that every write bumps.
type FlagCache struct {
	store storage.Store
	kv    *kv.KV
	cache *gocache.Cache

	mu  sync.Mutex
	gen int64
}

// NewFlagCache creates a flag cache.
func NewFlagCache(store storage.Store, fast *kv.KV) *FlagCache {
	return &FlagCache{
		store: store,
		kv:    fast,
		cache: gocache.New(defaults.FlagCacheTTL, 2*defaults.FlagCacheTTL),
	}
}

// EnabledFor resolves a flag for one tenant. Missing flag rows resolve to
// false. Lookup errors also resolve to false so a flag can never fail open
// because the database hiccuped.
func (f *FlagCache) EnabledFor(ctx context.Context, key string, tenantID uuid.UUID) bool {
	f.checkGeneration(ctx)
	if cached, ok := f.cache.Get(key); ok {
		entry, _ := cached.(*cachedFlag)
		return entry.value.EnabledFor(tenantID)
	}
	flag, err := f.store.GetFeatureFlag(ctx, key)
	if err != nil {
		if !trace.IsNotFound(err) {
			return false
		}
		flag = nil
	}
	f.cache.SetDefault(key, &cachedFlag{value: flag})
	return flag.EnabledFor(tenantID)
}

// Set writes a flag and invalidates every process's cache.
func (f *FlagCache) Set(ctx context.Context, flag *types.FeatureFlag) error {
	if err := f.store.UpsertFeatureFlag(ctx, flag); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(f.Invalidate(ctx))
}

// checkGeneration flushes the cache when another process wrote a flag.
func (f *FlagCache) checkGeneration(ctx context.Context) {
	gen := f.kv.Generation(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		f.cache.Flush()
		f.gen = gen
	}
}

// Invalidate bumps the shared generation and drops the local cache
// immediately rather than waiting for the next generation check.
func (f *FlagCache) Invalidate(ctx context.Context) error {
	if err := f.kv.BumpGeneration(ctx); err != nil {
		return trace.Wrap(err)
	}
	f.cache.Flush()
	return nil
}
