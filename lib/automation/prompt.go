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
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/techappsUT/social-queue/lib/types"
)

var promptVarPattern = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// RenderPrompt substitutes {{path.to.var}} references in a template with
// values from vars. Unknown references are left in place so a broken
// template is visible in the generated output rather than silently blank.
func RenderPrompt(template string, vars map[string]string) string {
	return promptVarPattern.ReplaceAllStringFunc(template, func(ref string) string {
		name := strings.TrimSpace(strings.Trim(ref, "{}"))
		if v, ok := vars[name]; ok {
			return v
		}
		return ref
	})
}

const defaultPromptTemplate = `Write a social media post about {{topic}}. Keep it concise and engaging.`

// buildPrompt assembles the generation prompt from the rule's action config,
// its optional template and the optional campaign brand profile.
func buildPrompt(cfg types.ActionConfig, tpl *types.ContentTemplate, campaign *types.Campaign) string {
	vars := map[string]string{
		"topic": cfg.Topic,
	}
	if tpl != nil {
		for k, v := range tpl.Variables {
			vars[k] = v
		}
	}
	if campaign != nil {
		for k, v := range campaign.BrandProfile {
			vars["brand."+k] = v
		}
	}
	template := defaultPromptTemplate
	if tpl != nil && tpl.PromptTemplate != "" {
		template = tpl.PromptTemplate
	}
	prompt := RenderPrompt(template, vars)

	if len(cfg.Channels) > 0 {
		names := make([]string, 0, len(cfg.Channels))
		for _, ch := range cfg.Channels {
			names = append(names, string(ch))
		}
		sort.Strings(names)
		prompt += fmt.Sprintf("\n\nTarget channels: %s.", strings.Join(names, ", "))
	}
	return prompt
}
