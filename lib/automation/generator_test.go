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
	"strings"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/techappsUT/social-queue/lib/types"
)

func TestParseGenerated(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		content, err := ParseGenerated(validGeneration)
		require.NoError(t, err)
		require.Equal(t, "Launch week recap", content.Title)
		require.Equal(t, []string{"launch", "product"}, content.Hashtags)
	})

	t.Run("fenced output is tolerated", func(t *testing.T) {
		content, err := ParseGenerated("```json\n" + validGeneration + "\n```")
		require.NoError(t, err)
		require.Equal(t, "Launch week recap", content.Title)
	})

	t.Run("missing body", func(t *testing.T) {
		_, err := ParseGenerated(`{"title": "t"}`)
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("title and body alone are not enough", func(t *testing.T) {
		_, err := ParseGenerated(`{"title": "t", "body": "b"}`)
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("empty risk_flags array is present", func(t *testing.T) {
		_, err := ParseGenerated(`{"title": "t", "body": "b", "hashtags": ["a"], "cta": "go", "channels": ["x"], "risk_flags": []}`)
		require.NoError(t, err)
	})

	t.Run("unknown channel", func(t *testing.T) {
		_, err := ParseGenerated(`{"title": "t", "body": "b", "channels": ["myspace"]}`)
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("too many hashtags", func(t *testing.T) {
		tags := `"` + strings.Join(strings.Split(strings.Repeat("x", 11), ""), `","`) + `"`
		_, err := ParseGenerated(`{"title": "t", "body": "b", "hashtags": [` + tags + `]}`)
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ParseGenerated("Here is your post: a great one")
		require.True(t, trace.IsBadParameter(err))
	})
}

func TestRenderPrompt(t *testing.T) {
	vars := map[string]string{
		"topic":      "spring launch",
		"brand.tone": "playful",
	}
	out := RenderPrompt("Write about {{topic}} in a {{ brand.tone }} voice for {{unknown.var}}.", vars)
	require.Equal(t, "Write about spring launch in a playful voice for {{unknown.var}}.", out)
}

func TestBuildPrompt(t *testing.T) {
	cfg := types.ActionConfig{
		Topic:    "summer sale",
		Channels: []types.ChannelType{types.ChannelTypeLinkedIn, types.ChannelTypeWebsite},
	}
	tpl := &types.ContentTemplate{
		PromptTemplate: "Announce {{topic}} for {{brand.name}} with {{discount}} off.",
		Variables:      map[string]string{"discount": "20%"},
	}
	campaign := &types.Campaign{BrandProfile: map[string]string{"name": "Acme"}}

	prompt := buildPrompt(cfg, tpl, campaign)
	require.Contains(t, prompt, "Announce summer sale for Acme with 20% off.")
	require.Contains(t, prompt, "Target channels: linkedin, website.")

	// Without a template the default prompt carries the topic.
	prompt = buildPrompt(types.ActionConfig{Topic: "a thing"}, nil, nil)
	require.Contains(t, prompt, "a thing")
}
