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
	"github.com/gravitational/trace"
)

// ChannelType identifies a delivery target kind. One adapter serves each
// type.
type ChannelType string

const (
	ChannelTypeWebsite   ChannelType = "website"
	ChannelTypeLinkedIn  ChannelType = "linkedin"
	ChannelTypeFacebook  ChannelType = "facebook"
	ChannelTypeInstagram ChannelType = "instagram"
	ChannelTypeTikTok    ChannelType = "tiktok"
	ChannelTypeThreads   ChannelType = "threads"
	ChannelTypeX         ChannelType = "x"
	ChannelTypePinterest ChannelType = "pinterest"
)

// AllChannelTypes lists every channel type the engine ships an adapter for.
var AllChannelTypes = []ChannelType{
	ChannelTypeWebsite,
	ChannelTypeLinkedIn,
	ChannelTypeFacebook,
	ChannelTypeInstagram,
	ChannelTypeTikTok,
	ChannelTypeThreads,
	ChannelTypeX,
	ChannelTypePinterest,
}

// KnownChannelType reports whether t names a supported channel type.
func KnownChannelType(t ChannelType) bool {
	for _, known := range AllChannelTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ChannelStatus is the admin state of a channel.
type ChannelStatus string

const (
	ChannelStatusActive   ChannelStatus = "active"
	ChannelStatusDisabled ChannelStatus = "disabled"
)

// Capabilities advertises what a channel type can deliver. The publisher
// uses it to route between text and media delivery.
type Capabilities struct {
	Text      bool `json:"text"`
	Image     bool `json:"image"`
	Video     bool `json:"video"`
	Reels     bool `json:"reels"`
	Shorts    bool `json:"shorts"`
	MaxLength int  `json:"max_length"`
}

// Channel is an attached delivery target of a project. At most one channel
// of a given type exists per (tenant, project).
type Channel struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	Type      ChannelType
	Status    ChannelStatus
	// Metadata carries provider-specific settings such as page or account
	// identifiers, and the sandbox scenario when one is set.
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SandboxScenarioKey is the channel metadata key holding a sandbox scenario.
const SandboxScenarioKey = "sandbox_scenario"

// Sandbox scenarios understood by adapters.
const (
	SandboxSimulateSuccess   = "simulate_success"
	SandboxSimulateRateLimit = "simulate_rate_limit"
	SandboxSimulateAuthError = "simulate_auth_error"
)

// SandboxScenario returns the configured sandbox scenario, if any.
func (c *Channel) SandboxScenario() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[SandboxScenarioKey]
}

// CheckAndSetDefaults validates the channel and fills generated fields.
func (c *Channel) CheckAndSetDefaults() error {
	if c.TenantID == uuid.Nil {
		return trace.BadParameter("channel is missing tenant id")
	}
	if c.ProjectID == uuid.Nil {
		return trace.BadParameter("channel is missing project id")
	}
	if !KnownChannelType(c.Type) {
		return trace.BadParameter("unsupported channel type %q", c.Type)
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = ChannelStatusActive
	}
	return nil
}

// ChannelPublication records one successful delivery of a post to a channel.
// Its uniqueness constraints are the at-most-once guard for publishing.
type ChannelPublication struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	PostID         uuid.UUID
	ChannelID      uuid.UUID
	Platform       ChannelType
	ExternalPostID string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// WebsitePublication is the built-in website specialization of a channel
// publication. Slug is unique per tenant.
type WebsitePublication struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	PostID    uuid.UUID
	ChannelID uuid.UUID
	Slug      string
	URL       string
	CreatedAt time.Time
}
