package inprocess

import (
	"context"

	"github.com/kandev/agentmux/internal/backend"
	"github.com/kandev/agentmux/internal/credentials"
)

// Provider auth types known to ResolveGenerator.
const (
	AuthTypeOpenAI    = "openai"
	AuthTypeAnthropic = "anthropic"
	AuthTypeGemini    = "gemini"
	AuthTypeVertex    = "vertex-ai"
)

// providerEnv lists, per auth type, the environment variables consulted for
// each generator field, in priority order.
type providerEnv struct {
	apiKey  []string
	baseURL []string
	model   []string
}

var providerEnvVars = map[string]providerEnv{
	AuthTypeOpenAI: {
		apiKey:  []string{"OPENAI_API_KEY"},
		baseURL: []string{"OPENAI_BASE_URL"},
		model:   []string{"OPENAI_MODEL"},
	},
	AuthTypeAnthropic: {
		apiKey:  []string{"ANTHROPIC_API_KEY"},
		baseURL: []string{"ANTHROPIC_BASE_URL"},
		model:   []string{"ANTHROPIC_MODEL"},
	},
	AuthTypeGemini: {
		apiKey:  []string{"GEMINI_API_KEY"},
		baseURL: []string{"GOOGLE_GEMINI_BASE_URL"},
		model:   []string{"GEMINI_MODEL"},
	},
	AuthTypeVertex: {
		apiKey:  []string{"GOOGLE_API_KEY"},
		baseURL: []string{"GOOGLE_VERTEX_BASE_URL"},
		model:   []string{"GEMINI_MODEL"},
	},
}

// ResolveGenerator builds an agent's provider identity. Each field resolves as
// explicit override, then the parent's value when the provider is unchanged,
// then the provider's environment variables through creds (which may be nil).
func ResolveGenerator(ctx context.Context, parent GeneratorConfig, o *backend.AuthOverrides, creds *credentials.Manager) GeneratorConfig {
	if o == nil {
		return parent
	}

	authType := o.AuthType
	if authType == "" {
		authType = parent.AuthType
	}
	inherit := authType == parent.AuthType
	vars := providerEnvVars[authType]

	resolve := func(override, inherited string, envKeys []string) string {
		if override != "" {
			return override
		}
		if inherit && inherited != "" {
			return inherited
		}
		if creds != nil && len(envKeys) > 0 {
			if v, ok := creds.FirstValue(ctx, envKeys...); ok {
				return v
			}
		}
		return ""
	}

	return GeneratorConfig{
		AuthType: authType,
		APIKey:   resolve(o.APIKey, parent.APIKey, vars.apiKey),
		BaseURL:  resolve(o.BaseURL, parent.BaseURL, vars.baseURL),
		Model:    resolve(o.Model, parent.Model, vars.model),
	}
}
