package engine

import (
	"context"
	"testing"

	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/MCPJam/inspector-sub001/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatModelRequiresModelID(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	_, err := NewChatModel(context.Background(), model.ModelDef{Provider: model.ProviderAnthropic}, &model.EnvironmentFile{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model id")
}

func TestNewChatModelMissingAPIKey(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)
	env := &model.EnvironmentFile{}

	for _, provider := range []model.ProviderType{
		model.ProviderAnthropic,
		model.ProviderOpenAI,
		model.ProviderDeepSeek,
		model.ProviderGoogle,
	} {
		_, err := NewChatModel(context.Background(), model.ModelDef{ID: "m", Provider: provider}, env)
		require.Error(t, err, "provider %s", provider)
		assert.Contains(t, err.Error(), "API key")
	}
}

func TestNewChatModelUnsupportedProvider(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	_, err := NewChatModel(context.Background(), model.ModelDef{ID: "m", Provider: "vertex"}, &model.EnvironmentFile{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestNewChatModelAnthropic(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)
	env := &model.EnvironmentFile{
		ProviderAPIKeys: map[string]string{"anthropic": "test-key"},
	}

	llm, err := NewChatModel(context.Background(), model.ModelDef{ID: "claude-sonnet-4", Provider: model.ProviderAnthropic}, env)
	require.NoError(t, err)
	assert.NotNil(t, llm)
}

func TestNewChatModelAzureRequiresEndpointSettings(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	env := &model.EnvironmentFile{
		ProviderAPIKeys: map[string]string{"azure": "test-key"},
	}
	_, err := NewChatModel(context.Background(), model.ModelDef{ID: "gpt-4o", Provider: model.ProviderAzure}, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseUrl")

	env.Providers = map[string]model.ProviderSettings{
		"azure": {BaseURL: "https://example.openai.azure.com"},
	}
	_, err = NewChatModel(context.Background(), model.ModelDef{ID: "gpt-4o", Provider: model.ProviderAzure}, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiVersion")
}

func TestNewChatModelAzureAPIKey(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	env := &model.EnvironmentFile{
		ProviderAPIKeys: map[string]string{"azure": "test-key"},
		Providers: map[string]model.ProviderSettings{
			"azure": {
				BaseURL:    "https://example.openai.azure.com",
				APIVersion: "2024-06-01",
			},
		},
	}

	llm, err := NewChatModel(context.Background(), model.ModelDef{ID: "gpt-4o", Provider: model.ProviderAzure}, env)
	require.NoError(t, err)
	assert.NotNil(t, llm)
}

func TestNewChatModelBedrockRequiresCredentials(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	env := &model.EnvironmentFile{}
	_, err := NewChatModel(context.Background(), model.ModelDef{ID: "anthropic.claude-v2", Provider: model.ProviderBedrock}, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region")

	env.Providers = map[string]model.ProviderSettings{
		"bedrock": {Region: "us-east-1"},
	}
	_, err = NewChatModel(context.Background(), model.ModelDef{ID: "anthropic.claude-v2", Provider: model.ProviderBedrock}, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accessKeyId")
}

func TestNewChatModelOllamaNeedsNoKey(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	env := &model.EnvironmentFile{
		Providers: map[string]model.ProviderSettings{
			"ollama": {BaseURL: "http://localhost:11434"},
		},
	}

	llm, err := NewChatModel(context.Background(), model.ModelDef{ID: "llama3", Provider: model.ProviderOllama}, env)
	require.NoError(t, err)
	assert.NotNil(t, llm)
}
