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

// Package automation executes queued automation runs: content generation
// against the model contract, guardrail and quality gating, scheduling and
// publish-now fan-out. Runs are driven by the scheduler through the work
// queue; this package owns AutomationRun.status exclusively.
package automation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gravitational/trace"
)

// GenerateRequest is one generation attempt. Corrections carry the contract
// errors of prior attempts so the model can fix its output.
type GenerateRequest struct {
	Prompt      string
	Corrections []string
}

// ContentGenerator produces raw model output for a prompt. Implementations
// must honor the context deadline.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GeneratedContent is the output contract every generation must satisfy
// before it becomes a ContentItem. Every field is required: on the array
// fields required means present (an empty array still satisfies it), so a
// model response dropping a field fails validation and triggers a
// correction retry.
type GeneratedContent struct {
	Title     string   `json:"title" validate:"required,max=200"`
	Body      string   `json:"body" validate:"required,max=5000"`
	Hashtags  []string `json:"hashtags" validate:"required,max=10,dive,required,max=80"`
	CTA       string   `json:"cta" validate:"required,max=200"`
	Channels  []string `json:"channels" validate:"required,max=8,dive,oneof=website linkedin facebook instagram tiktok threads x pinterest"`
	RiskFlags []string `json:"risk_flags" validate:"required,max=20"`
}

var contractValidator = validator.New()

// ParseGenerated decodes and validates raw model output against the content
// contract. Violations come back as BadParameter; the runtime turns them
// into correction prompts.
func ParseGenerated(raw string) (*GeneratedContent, error) {
	raw = stripCodeFence(raw)
	var content GeneratedContent
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return nil, trace.BadParameter("output is not a JSON object: %v", err)
	}
	if err := contractValidator.Struct(&content); err != nil {
		return nil, trace.BadParameter("output violates the content contract: %v", err)
	}
	return &content, nil
}

// stripCodeFence tolerates models that wrap JSON in a markdown fence despite
// being told not to.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}
