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

// Package types defines the domain records shared by the publishing engine:
// posts, channels, credentials, automation rules and runs, content items and
// the control-plane records they depend on. Records here carry no behavior
// beyond lifecycle checks; persistence lives in lib/storage.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	PostStatusDraft            PostStatus = "draft"
	PostStatusScheduled        PostStatus = "scheduled"
	PostStatusPublishing       PostStatus = "publishing"
	PostStatusPublished        PostStatus = "published"
	PostStatusPublishedPartial PostStatus = "published_partial"
	PostStatusFailed           PostStatus = "failed"
)

// Post is a unit of content a tenant wants delivered to the channels of its
// project.
type Post struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	Title     string
	Content   string
	// MediaURL, when set, routes delivery through PublishMedia on adapters
	// whose capabilities allow it.
	MediaURL  string
	Status    PostStatus
	PublishAt *time.Time
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckAndSetDefaults validates the post and fills generated fields.
func (p *Post) CheckAndSetDefaults() error {
	if p.TenantID == uuid.Nil {
		return trace.BadParameter("post is missing tenant id")
	}
	if p.ProjectID == uuid.Nil {
		return trace.BadParameter("post is missing project id")
	}
	if p.Title == "" {
		return trace.BadParameter("post is missing title")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = PostStatusDraft
	}
	if p.Status == PostStatusScheduled && p.PublishAt == nil {
		return trace.BadParameter("scheduled post %v has no publish time", p.ID)
	}
	return nil
}

// Schedule transitions the post to scheduled at the given time. Only drafts,
// previously scheduled posts, and failed posts being retried may be
// scheduled.
func (p *Post) Schedule(at time.Time) error {
	switch p.Status {
	case PostStatusDraft, PostStatusScheduled, PostStatusFailed:
	default:
		return trace.BadParameter("cannot schedule post in status %q", p.Status)
	}
	p.Status = PostStatusScheduled
	p.PublishAt = &at
	return nil
}

// MarkPublishing claims the post for delivery. Only the scheduler performs
// this transition.
func (p *Post) MarkPublishing() error {
	if p.Status != PostStatusScheduled {
		return trace.BadParameter("cannot start publishing post in status %q", p.Status)
	}
	p.Status = PostStatusPublishing
	return nil
}

// Terminal reports whether the post has reached a terminal delivery state.
func (p *Post) Terminal() bool {
	switch p.Status {
	case PostStatusPublished, PostStatusPublishedPartial, PostStatusFailed:
		return true
	}
	return false
}
