package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{Providers: DefaultProviders})
	assert.Error(t, err)

	_, err = NewRegistry(RegistryConfig{Providers: DefaultProviders, DefaultProvider: "cohere"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistry_GetClient(t *testing.T) {
	reg, err := NewRegistry(RegistryConfig{
		Providers:       DefaultProviders,
		DefaultProvider: "openai",
		Getenv:          testEnv(map[string]string{"OPENAI_API_KEY": "k", "ANTHROPIC_API_KEY": "k"}),
	})
	require.NoError(t, err)

	def, err := reg.GetDefaultClient()
	require.NoError(t, err)
	assert.Equal(t, OpenAIDefaultModel, def.GetModel())

	again, err := reg.GetClient("openai/" + OpenAIDefaultModel)
	require.NoError(t, err)
	assert.Same(t, def, again, "clients are cached per provider and model")

	mini, err := reg.GetClient("openai/gpt-4.1-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-mini", mini.GetModel())

	claude, err := reg.GetClient("anthropic")
	require.NoError(t, err)
	assert.Equal(t, AnthropicDefaultModel, claude.GetModel())
}

func TestRegistry_GetClientErrors(t *testing.T) {
	reg, err := NewRegistry(RegistryConfig{
		Providers:       DefaultProviders,
		DefaultProvider: "openai",
		Getenv:          testEnv(map[string]string{"OPENAI_API_KEY": "k"}),
	})
	require.NoError(t, err)

	tests := []struct {
		spec string
		want error
	}{
		{"mistral", ErrUnknownProvider},
		{"openai/gpt-2", ErrUnsupportedModel},
		{"anthropic", ErrEmptyAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			_, err := reg.GetClient(tt.spec)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = reg.GetClient("")
	assert.Error(t, err)
}
