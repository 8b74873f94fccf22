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

// Package credentials is the only component that sees connector tokens in
// plaintext. Tokens are sealed with XChaCha20-Poly1305 under a master key
// before they reach lib/storage, and refresh is serialized per
// (tenant, connector type) with a short KV lock so concurrent workers do not
// race the provider's token endpoint.
package credentials

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/techappsUT/social-queue/lib/defaults"
	"github.com/techappsUT/social-queue/lib/kv"
	"github.com/techappsUT/social-queue/lib/storage"
	"github.com/techappsUT/social-queue/lib/types"
)

// TokenSet is a decrypted credential. It never leaves process memory.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

// Config holds Store construction parameters.
type Config struct {
	// Backend persists ciphertext rows.
	Backend storage.Credentials
	// KV provides the refresh lock.
	KV *kv.KV
	// MasterKey is the 32-byte envelope key.
	MasterKey []byte
	// Clock is used for expiry checks.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Backend == nil {
		return trace.BadParameter("credentials: missing backend")
	}
	if c.KV == nil {
		return trace.BadParameter("credentials: missing kv")
	}
	if len(c.MasterKey) != chacha20poly1305.KeySize {
		return trace.BadParameter("credentials: master key must be %d bytes", chacha20poly1305.KeySize)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Store seals, persists and refreshes connector credentials.
type Store struct {
	backend storage.Credentials
	kv      *kv.KV
	key     []byte
	clock   clockwork.Clock
	log     *log.Entry
}

// New creates a Store from config.
func New(cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Store{
		backend: cfg.Backend,
		kv:      cfg.KV,
		key:     cfg.MasterKey,
		clock:   cfg.Clock,
		log:     log.WithField(defaults.ComponentKey, defaults.ComponentAdapters),
	}, nil
}

func (s *Store) seal(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, trace.Wrap(err)
	}
	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (s *Store) open(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return "", trace.BadParameter("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", trace.AccessDenied("credential ciphertext failed authentication")
	}
	return string(plaintext), nil
}

// Put seals and upserts a credential, marking it active.
func (s *Store) Put(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType, tokens TokenSet) error {
	access, err := s.seal(tokens.AccessToken)
	if err != nil {
		return trace.Wrap(err)
	}
	refresh, err := s.seal(tokens.RefreshToken)
	if err != nil {
		return trace.Wrap(err)
	}
	now := s.clock.Now().UTC()
	return trace.Wrap(s.backend.UpsertCredential(ctx, &types.ConnectorCredential{
		TenantID:          tenantID,
		ConnectorType:     connector,
		AccessCiphertext:  access,
		RefreshCiphertext: refresh,
		ExpiresAt:         tokens.ExpiresAt,
		Scopes:            tokens.Scopes,
		Status:            types.CredentialStatusActive,
		LastRefreshedAt:   &now,
	}))
}

// Get returns the decrypted credential. Revoked credentials are refused with
// AccessDenied so callers surface a reconnect prompt rather than retrying.
func (s *Store) Get(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType) (*TokenSet, error) {
	row, err := s.backend.GetCredential(ctx, tenantID, connector)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if row.Status == types.CredentialStatusRevoked {
		return nil, trace.AccessDenied("credential for %v is revoked, reconnect required", connector)
	}
	access, err := s.open(row.AccessCiphertext)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	refresh, err := s.open(row.RefreshCiphertext)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    row.ExpiresAt,
		Scopes:       row.Scopes,
	}, nil
}

// Expiring reports whether the credential expires within the window.
func (s *Store) Expiring(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType, within time.Duration) (bool, error) {
	row, err := s.backend.GetCredential(ctx, tenantID, connector)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return row.Expiring(s.clock.Now(), within), nil
}

// MarkError records a provider auth failure against the credential.
func (s *Store) MarkError(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType, cause string) error {
	return trace.Wrap(s.backend.UpdateCredentialStatus(ctx, tenantID, connector, types.CredentialStatusError, cause))
}

// Revoke marks the credential revoked. Subsequent Gets fail until the tenant
// reconnects the channel.
func (s *Store) Revoke(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType, cause string) error {
	return trace.Wrap(s.backend.UpdateCredentialStatus(ctx, tenantID, connector, types.CredentialStatusRevoked, cause))
}

// RefreshFunc exchanges a refresh token for a new token set at the provider.
type RefreshFunc func(ctx context.Context, current TokenSet) (TokenSet, error)

// Refresh runs fn under the per-(tenant, connector) refresh lock and persists
// the result. When another worker holds the lock the call returns the stored
// credential as-is: the concurrent refresh will have renewed it.
func (s *Store) Refresh(ctx context.Context, tenantID uuid.UUID, connector types.ChannelType, fn RefreshFunc) (*TokenSet, error) {
	lockKey := kv.RefreshLockKey(tenantID, connector)
	acquired, err := s.kv.AcquireLock(ctx, lockKey, defaults.CredentialRefreshLockTTL)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !acquired {
		s.log.WithField("connector", connector).Debug("Refresh lock held elsewhere, using stored credential.")
		return s.Get(ctx, tenantID, connector)
	}
	defer func() {
		if err := s.kv.ReleaseLock(ctx, lockKey); err != nil {
			s.log.WithError(err).Warn("Failed to release refresh lock, TTL will expire it.")
		}
	}()

	current, err := s.Get(ctx, tenantID, connector)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	renewed, err := fn(ctx, *current)
	if err != nil {
		if markErr := s.MarkError(ctx, tenantID, connector, err.Error()); markErr != nil {
			s.log.WithError(markErr).Warn("Failed to record refresh error.")
		}
		return nil, trace.Wrap(err)
	}
	if renewed.RefreshToken == "" {
		// Providers that rotate refresh tokens only sometimes keep the old
		// one valid; retain it when the response omits a new one.
		renewed.RefreshToken = current.RefreshToken
	}
	if err := s.Put(ctx, tenantID, connector, renewed); err != nil {
		return nil, trace.Wrap(err)
	}
	return &renewed, nil
}
