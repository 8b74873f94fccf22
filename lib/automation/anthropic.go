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

package automation

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/gravitational/trace"
)

const generationSystemPrompt = `You write social media content. Respond with a single JSON object and nothing else. The object must always carry exactly these fields: "title" (string, at most 200 characters), "body" (string, at most 5000 characters), "hashtags" (array of at most 10 strings, no leading #), "cta" (non-empty call to action, at most 200 characters), "channels" (array of channel names the content suits, from: website, linkedin, facebook, instagram, tiktok, threads, x, pinterest), "risk_flags" (array of strings naming any compliance or brand-safety concerns in your own output; empty array if none). Never omit a field.`

// AnthropicConfig configures the Claude-backed generator.
type AnthropicConfig struct {
	APIKey string
	// Model names the Claude model; empty selects a sensible default.
	Model     string
	MaxTokens int64
}

// CheckAndSetDefaults validates the config.
func (c *AnthropicConfig) CheckAndSetDefaults() error {
	if c.APIKey == "" {
		return trace.BadParameter("anthropic config is missing api key")
	}
	if c.Model == "" {
		c.Model = string(anthropic.ModelClaudeSonnet4_0)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	return nil
}

// AnthropicGenerator generates content through the Anthropic Messages API.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicGenerator creates a generator from the config.
func NewAnthropicGenerator(cfg AnthropicConfig) (*AnthropicGenerator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &AnthropicGenerator{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Generate renders one completion. Corrections from prior contract failures
// are sent as follow-up user turns so the model sees what to fix.
func (g *AnthropicGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
	}
	for _, correction := range req.Corrections {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(
			"Your previous response was rejected: "+correction+"\nRespond again with only the corrected JSON object.")))
	}
	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: generationSystemPrompt}},
		Messages:  messages,
	})
	if err != nil {
		return "", trace.Wrap(err)
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", trace.BadParameter("model returned no text content")
	}
	return out.String(), nil
}
