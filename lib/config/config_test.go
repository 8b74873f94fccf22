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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "socialqueue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: postgres://sq@localhost/sq
redis_addr: 127.0.0.1:6390
master_key: `+testMasterKey+`
roles:
  - publisher
  - scheduler
log_level: debug
webhook_secrets:
  stripe: whsec_x
`), 0o600))

	cfg, err := ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, "postgres://sq@localhost/sq", cfg.DatabaseURL)
	require.Equal(t, "127.0.0.1:6390", cfg.RedisAddr)
	require.Equal(t, []string{"publisher", "scheduler"}, cfg.Roles)
	require.True(t, cfg.HasRole(RolePublisher))
	require.False(t, cfg.HasRole(RoleWebhooks))

	key, err := cfg.MasterKeyBytes()
	require.NoError(t, err)
	require.Len(t, key, 32)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.True(t, trace.IsNotFound(err))

	// No path at all means an env-only deployment.
	cfg, err := ReadFile("")
	require.NoError(t, err)
	require.Empty(t, cfg.DatabaseURL)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SQ_DATABASE_URL", "postgres://env@localhost/sq")
	t.Setenv("SQ_ROLES", "publisher, controlplane")
	t.Setenv("SQ_PUBLISH_WORKERS", "8")
	t.Setenv("SQ_LOG_LEVEL", "warn")

	cfg := &Config{DatabaseURL: "postgres://file@localhost/sq", MasterKey: testMasterKey}
	cfg.ApplyEnv()
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.Equal(t, "postgres://env@localhost/sq", cfg.DatabaseURL)
	require.Equal(t, []string{"publisher", "controlplane"}, cfg.Roles)
	require.Equal(t, 8, cfg.PublishWorkers)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestCheckAndSetDefaults(t *testing.T) {
	base := func() *Config {
		return &Config{DatabaseURL: "postgres://sq@localhost/sq", MasterKey: testMasterKey}
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := base()
		cfg.WebhookSecrets = map[string]string{"stripe": "whsec_x"}
		require.NoError(t, cfg.CheckAndSetDefaults())
		require.Equal(t, ":8090", cfg.ListenAddr)
		require.Equal(t, AllRoles, cfg.Roles)
		require.Equal(t, 4, cfg.PublishWorkers)
	})

	t.Run("missing database url", func(t *testing.T) {
		cfg := &Config{MasterKey: testMasterKey}
		require.True(t, trace.IsBadParameter(cfg.CheckAndSetDefaults()))
	})

	t.Run("unknown role", func(t *testing.T) {
		cfg := base()
		cfg.Roles = []string{"mailer"}
		require.True(t, trace.IsBadParameter(cfg.CheckAndSetDefaults()))
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := base()
		cfg.Roles = []string{RolePublisher}
		cfg.LogLevel = "chatty"
		require.True(t, trace.IsBadParameter(cfg.CheckAndSetDefaults()))
	})

	t.Run("short master key", func(t *testing.T) {
		cfg := base()
		cfg.Roles = []string{RolePublisher}
		cfg.MasterKey = strings.Repeat("ab", 16)[:30]
		require.True(t, trace.IsBadParameter(cfg.CheckAndSetDefaults()))
	})

	t.Run("webhooks role requires secrets", func(t *testing.T) {
		cfg := base()
		cfg.Roles = []string{RoleWebhooks}
		require.True(t, trace.IsBadParameter(cfg.CheckAndSetDefaults()))
	})
}
