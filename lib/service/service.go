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

// Package service assembles the engine from process configuration and runs
// the loops selected by the process roles under one errgroup.
package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/techappsUT/social-queue/lib/adapters"
	"github.com/techappsUT/social-queue/lib/automation"
	"github.com/techappsUT/social-queue/lib/config"
	"github.com/techappsUT/social-queue/lib/controlplane"
	"github.com/techappsUT/social-queue/lib/credentials"
	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/guardrails"
	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/publisher"
	"github.com/techappsUT/social-queue/lib/queue"
	"github.com/techappsUT/social-queue/lib/scheduler"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/webhooks"
)

// Service is one running process: shared backends plus the role loops.
type Service struct {
	cfg   *config.Config
	clock clockwork.Clock
	log   *log.Entry

	store *storage.PGStore
	redis *redis.Client
	kv    *kv.KV
	queue *queue.Queue

	publisher    *publisher.Publisher
	scheduler    *scheduler.Scheduler
	automation   *automation.Runtime
	controlplane *controlplane.Engine
	webhooks     *webhooks.Handler
}

// New connects the backends and constructs every component the configured
// roles need. It fails fast: a process with a broken dependency never starts
// its loops.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	log.SetLevel(level)

	clock := clockwork.NewRealClock()
	s := &Service{
		cfg:   cfg,
		clock: clock,
		log:   log.WithField(defaults.ComponentKey, defaults.ComponentService),
	}

	s.store, err = storage.NewPG(ctx, storage.PGConfig{ConnString: cfg.DatabaseURL, Clock: clock})
	if err != nil {
		return nil, trace.Wrap(err, "connecting to the database")
	}
	s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if s.kv, err = kv.New(kv.Config{Client: s.redis, Clock: clock}); err != nil {
		return nil, trace.Wrap(err)
	}
	if s.queue, err = queue.New(queue.Config{Client: s.redis, Store: s.store, Clock: clock}); err != nil {
		return nil, trace.Wrap(err)
	}

	if err := s.buildRoles(cfg, clock); err != nil {
		return nil, trace.Wrap(err)
	}
	return s, nil
}

func (s *Service) buildRoles(cfg *config.Config, clock clockwork.Clock) error {
	if cfg.HasRole(config.RolePublisher) {
		masterKey, err := cfg.MasterKeyBytes()
		if err != nil {
			return trace.Wrap(err)
		}
		creds, err := credentials.New(credentials.Config{
			Backend:   s.store,
			KV:        s.kv,
			MasterKey: masterKey,
			Clock:     clock,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		registry, err := adapters.NewRegistry(adapters.RegistryConfig{
			WebsiteBaseURL: cfg.WebsiteBaseURL,
			Clock:          clock,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		if s.publisher, err = publisher.New(publisher.Config{
			Store:       s.store,
			KV:          s.kv,
			Queue:       s.queue,
			Registry:    registry,
			Credentials: creds,
			Clock:       clock,
		}); err != nil {
			return trace.Wrap(err)
		}
	}

	if cfg.HasRole(config.RoleScheduler) {
		var err error
		if s.scheduler, err = scheduler.New(scheduler.Config{
			Store: s.store,
			KV:    s.kv,
			Queue: s.queue,
			Clock: clock,
		}); err != nil {
			return trace.Wrap(err)
		}
	}

	needsGuardrails := cfg.HasRole(config.RoleAutomation) || cfg.HasRole(config.RoleControlPlane)
	var checker *guardrails.Checker
	if needsGuardrails {
		var err error
		if checker, err = guardrails.New(guardrails.Config{Store: s.store, Clock: clock}); err != nil {
			return trace.Wrap(err)
		}
	}

	if cfg.HasRole(config.RoleAutomation) {
		generator, err := automation.NewAnthropicGenerator(automation.AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		if s.automation, err = automation.New(automation.Config{
			Store:      s.store,
			KV:         s.kv,
			Queue:      s.queue,
			Generator:  generator,
			Guardrails: checker,
			Clock:      clock,
		}); err != nil {
			return trace.Wrap(err)
		}
	}

	if cfg.HasRole(config.RoleControlPlane) {
		var err error
		if s.controlplane, err = controlplane.New(controlplane.Config{
			Store: s.store,
			KV:    s.kv,
			Risk:  checker,
			Clock: clock,
		}); err != nil {
			return trace.Wrap(err)
		}
	}

	if cfg.HasRole(config.RoleWebhooks) {
		var err error
		if s.webhooks, err = webhooks.New(webhooks.Config{
			Store:   s.store,
			KV:      s.kv,
			Secrets: cfg.WebhookSecrets,
			Clock:   clock,
		}); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Run starts every configured loop and blocks until the context is canceled
// or a loop fails.
func (s *Service) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	if s.scheduler != nil {
		group.Go(func() error { return s.scheduler.Run(ctx) })
	}
	if s.publisher != nil {
		for i := 0; i < s.cfg.PublishWorkers; i++ {
			worker := publisher.NewWorker(s.publisher, s.queue)
			group.Go(func() error { return worker.Run(ctx) })
		}
	}
	if s.automation != nil {
		worker := automation.NewWorker(s.automation, s.queue)
		group.Go(func() error { return worker.Run(ctx) })
	}
	if s.controlplane != nil {
		group.Go(func() error { return s.controlplane.Run(ctx) })
	}
	group.Go(func() error { return s.serveHTTP(ctx) })

	s.log.WithField("roles", s.cfg.Roles).Info("Service started.")
	return trace.Wrap(group.Wait())
}

// serveHTTP serves the metrics endpoint and, when the role is on, the
// webhook receiver. Shutdown waits out in-flight deliveries up to the grace
// period.
func (s *Service) serveHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.webhooks != nil {
		mux.Handle("/webhooks/", s.webhooks)
	}
	server := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.log.WithField("addr", s.cfg.ListenAddr).Info("HTTP server listening.")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return trace.Wrap(err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.ShutdownGrace)
	defer cancel()
	return trace.Wrap(server.Shutdown(shutdownCtx))
}

// Close releases the backends.
func (s *Service) Close() error {
	s.store.Close()
	return trace.Wrap(s.redis.Close())
}
