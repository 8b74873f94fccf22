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

package types

import (
	"time"

	"github.com/google/uuid"
)

// CredentialStatus is the health state of a connector credential.
type CredentialStatus string

const (
	CredentialStatusActive  CredentialStatus = "active"
	CredentialStatusRevoked CredentialStatus = "revoked"
	CredentialStatusError   CredentialStatus = "error"
)

// ConnectorCredential is the persisted, encrypted token set for one
// (tenant, connector type) pair. Token fields hold ciphertext; lib/credentials
// owns the envelope cipher and is the only reader of the plaintext.
type ConnectorCredential struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	ConnectorType      ChannelType
	AccessCiphertext   []byte
	RefreshCiphertext  []byte
	ExpiresAt          *time.Time
	Scopes             []string
	Status             CredentialStatus
	LastError          string
	LastRefreshedAt    *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Expiring reports whether the credential expires within d of now.
func (c *ConnectorCredential) Expiring(now time.Time, d time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Before(now.Add(d))
}
