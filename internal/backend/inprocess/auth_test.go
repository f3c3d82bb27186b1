package inprocess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kandev/agentmux/internal/backend"
	"github.com/kandev/agentmux/internal/credentials"
)

func TestResolveGenerator(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-openai-key")
	t.Setenv("OPENAI_BASE_URL", "https://env.example/v1")
	t.Setenv("OPENAI_MODEL", "")

	creds := credentials.NewManager(newTestLogger())
	creds.AddProvider(credentials.NewEnvProvider(""))

	parent := GeneratorConfig{
		AuthType: AuthTypeGemini,
		APIKey:   "parent-key",
		BaseURL:  "https://parent.example",
		Model:    "gemini-pro",
	}
	ctx := context.Background()

	tests := []struct {
		name      string
		overrides *backend.AuthOverrides
		want      GeneratorConfig
	}{
		{
			name:      "no overrides inherits",
			overrides: nil,
			want:      parent,
		},
		{
			name:      "same provider inherits unset fields",
			overrides: &backend.AuthOverrides{Model: "gemini-flash"},
			want: GeneratorConfig{
				AuthType: AuthTypeGemini,
				APIKey:   "parent-key",
				BaseURL:  "https://parent.example",
				Model:    "gemini-flash",
			},
		},
		{
			name:      "different provider falls back to env",
			overrides: &backend.AuthOverrides{AuthType: AuthTypeOpenAI, Model: "gpt-4o"},
			want: GeneratorConfig{
				AuthType: AuthTypeOpenAI,
				APIKey:   "env-openai-key",
				BaseURL:  "https://env.example/v1",
				Model:    "gpt-4o",
			},
		},
		{
			name:      "explicit override wins over env",
			overrides: &backend.AuthOverrides{AuthType: AuthTypeOpenAI, APIKey: "sk-explicit"},
			want: GeneratorConfig{
				AuthType: AuthTypeOpenAI,
				APIKey:   "sk-explicit",
				BaseURL:  "https://env.example/v1",
			},
		},
		{
			name:      "unknown provider never inherits",
			overrides: &backend.AuthOverrides{AuthType: "custom"},
			want:      GeneratorConfig{AuthType: "custom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveGenerator(ctx, parent, tt.overrides, creds)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveGeneratorWithoutCredentials(t *testing.T) {
	got := ResolveGenerator(context.Background(),
		GeneratorConfig{AuthType: AuthTypeGemini, APIKey: "k"},
		&backend.AuthOverrides{AuthType: AuthTypeAnthropic},
		nil)
	assert.Equal(t, GeneratorConfig{AuthType: AuthTypeAnthropic}, got)
}
