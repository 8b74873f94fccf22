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

// Package config loads the process configuration from a YAML file and
// applies SQ_-prefixed environment overrides on top. Component-level knobs
// live in per-component Config structs; this package only carries what the
// process needs to wire them together.
package config

import (
	"encoding/hex"
	"os"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// Service roles a process can run. A single binary runs any subset.
const (
	RoleScheduler    = "scheduler"
	RolePublisher    = "publisher"
	RoleAutomation   = "automation"
	RoleControlPlane = "controlplane"
	RoleWebhooks     = "webhooks"
)

// AllRoles is the default role set for a single-process deployment.
var AllRoles = []string{RoleScheduler, RolePublisher, RoleAutomation, RoleControlPlane, RoleWebhooks}

// Config is the process configuration. Field tags are JSON because the YAML
// codec round-trips through JSON.
type Config struct {
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `json:"database_url"`
	// RedisAddr is the host:port of the fast-state Redis.
	RedisAddr string `json:"redis_addr"`
	// MasterKey is the hex-encoded 32-byte credential envelope key.
	MasterKey string `json:"master_key"`
	// AnthropicAPIKey authenticates the content generator.
	AnthropicAPIKey string `json:"anthropic_api_key"`
	// WebsiteBaseURL is the base URL of the first-party website connector.
	WebsiteBaseURL string `json:"website_base_url"`
	// ListenAddr is the bind address of the webhook and metrics server.
	ListenAddr string `json:"listen_addr"`
	// Roles selects which loops this process runs.
	Roles []string `json:"roles"`
	// LogLevel is a logrus level name.
	LogLevel string `json:"log_level"`
	// PublishWorkers is the publish worker pool size.
	PublishWorkers int `json:"publish_workers"`
	// WebhookSecrets maps provider name to its webhook signing secret.
	WebhookSecrets map[string]string `json:"webhook_secrets"`
	// PlatformAdminEmails receive incident notifications.
	PlatformAdminEmails []string `json:"platform_admin_emails"`
}

// ReadFile loads a YAML config file. A missing path returns an empty config
// so a fully env-driven deployment needs no file at all.
func ReadFile(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound("config file %q not found", path)
		}
		return nil, trace.ConvertSystemError(err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, trace.BadParameter("failed parsing config file %q: %v", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SQ_-prefixed environment variables.
func (c *Config) ApplyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.DatabaseURL, "SQ_DATABASE_URL")
	setString(&c.RedisAddr, "SQ_REDIS_ADDR")
	setString(&c.MasterKey, "SQ_MASTER_KEY")
	setString(&c.AnthropicAPIKey, "SQ_ANTHROPIC_API_KEY")
	setString(&c.WebsiteBaseURL, "SQ_WEBSITE_BASE_URL")
	setString(&c.ListenAddr, "SQ_LISTEN_ADDR")
	setString(&c.LogLevel, "SQ_LOG_LEVEL")
	if v := os.Getenv("SQ_ROLES"); v != "" {
		c.Roles = splitList(v)
	}
	if v := os.Getenv("SQ_PLATFORM_ADMIN_EMAILS"); v != "" {
		c.PlatformAdminEmails = splitList(v)
	}
	if v := os.Getenv("SQ_PUBLISH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PublishWorkers = n
		}
	}
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.DatabaseURL == "" {
		return trace.BadParameter("config is missing database_url")
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "127.0.0.1:6379"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return trace.BadParameter("unknown log level %q", c.LogLevel)
	}
	if c.PublishWorkers == 0 {
		c.PublishWorkers = 4
	}
	if len(c.Roles) == 0 {
		c.Roles = append([]string(nil), AllRoles...)
	}
	for _, role := range c.Roles {
		if !isKnownRole(role) {
			return trace.BadParameter("unknown role %q", role)
		}
	}
	if _, err := c.MasterKeyBytes(); err != nil {
		return trace.Wrap(err)
	}
	if c.HasRole(RoleWebhooks) && len(c.WebhookSecrets) == 0 {
		return trace.BadParameter("webhooks role requires webhook_secrets")
	}
	return nil
}

// MasterKeyBytes decodes the hex envelope key.
func (c *Config) MasterKeyBytes() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, trace.BadParameter("config is missing master_key")
	}
	key, err := hex.DecodeString(c.MasterKey)
	if err != nil {
		return nil, trace.BadParameter("master_key is not valid hex")
	}
	if len(key) != 32 {
		return nil, trace.BadParameter("master_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// HasRole reports whether this process runs the given role.
func (c *Config) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func isKnownRole(role string) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
