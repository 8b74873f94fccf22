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

// EventStatus marks an event as describing a success or a failure.
type EventStatus string

const (
	EventStatusOK    EventStatus = "ok"
	EventStatusError EventStatus = "error"
)

// PublishEvent is one append-only record in the publishing timeline. Events
// are written only inside the transaction that performs the transition they
// describe, so the log can rebuild state with no gaps.
type PublishEvent struct {
	// ID is a monotonically increasing sequence assigned by the store.
	ID        int64
	TenantID  uuid.UUID
	PostID    uuid.UUID
	ChannelID *uuid.UUID
	Type      string
	Status    EventStatus
	// Attempt numbers per-channel delivery attempts from 1; zero for
	// events that are not attempt-scoped.
	Attempt   int
	Metadata  map[string]any
	CreatedAt time.Time
}

// AutomationEvent is one append-only record in the automation timeline.
type AutomationEvent struct {
	ID        int64
	TenantID  uuid.UUID
	RuleID    *uuid.UUID
	RunID     *uuid.UUID
	Type      string
	Status    EventStatus
	Metadata  map[string]any
	CreatedAt time.Time
}
