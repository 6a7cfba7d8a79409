package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/MCPJam/inspector-sub001/model"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const deepSeekBaseURL = "https://api.deepseek.com/v1"

// NewChatModel builds the in-process model client for the direct execution
// path. API keys come from the environment descriptor's provider key map;
// provider-specific extras (azure endpoint, bedrock region) come from its
// providers block.
func NewChatModel(ctx context.Context, def model.ModelDef, env *model.EnvironmentFile) (llms.Model, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("model id is empty")
	}

	apiKey := env.ProviderAPIKeys[string(def.Provider)]
	settings := env.Providers[string(def.Provider)]

	logger.Logger.Debug("Creating model client",
		"provider", def.Provider,
		"model", def.ID)

	switch def.Provider {
	case model.ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("provider %q requires an API key", def.Provider)
		}
		return anthropic.New(
			anthropic.WithModel(def.ID),
			anthropic.WithToken(apiKey),
		)

	case model.ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("provider %q requires an API key", def.Provider)
		}
		opts := []openai.Option{
			openai.WithToken(apiKey),
			openai.WithModel(def.ID),
		}
		if settings.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(settings.BaseURL))
		}
		return openai.New(opts...)

	case model.ProviderDeepSeek:
		if apiKey == "" {
			return nil, fmt.Errorf("provider %q requires an API key", def.Provider)
		}
		baseURL := settings.BaseURL
		if baseURL == "" {
			baseURL = deepSeekBaseURL
		}
		return openai.New(
			openai.WithToken(apiKey),
			openai.WithModel(def.ID),
			openai.WithBaseURL(baseURL),
		)

	case model.ProviderOllama:
		opts := []ollama.Option{
			ollama.WithModel(def.ID),
		}
		if settings.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(settings.BaseURL))
		}
		return ollama.New(opts...)

	case model.ProviderGoogle:
		if apiKey == "" {
			return nil, fmt.Errorf("provider %q requires an API key", def.Provider)
		}
		return googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(def.ID),
		)

	case model.ProviderAzure:
		return newAzureModel(ctx, def, apiKey, settings)

	case model.ProviderBedrock:
		return newBedrockModel(ctx, def, settings)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", def.Provider)
	}
}

func newAzureModel(ctx context.Context, def model.ModelDef, apiKey string, settings model.ProviderSettings) (llms.Model, error) {
	if settings.BaseURL == "" {
		return nil, fmt.Errorf("azure provider requires baseUrl")
	}
	if settings.APIVersion == "" {
		return nil, fmt.Errorf("azure provider requires apiVersion")
	}

	opts := []openai.Option{
		openai.WithModel(def.ID),
		openai.WithAPIVersion(settings.APIVersion),
		openai.WithBaseURL(settings.BaseURL),
	}

	if strings.ToLower(settings.AuthType) == "entra_id" {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
		token, err := cred.GetToken(ctx, policy.TokenRequestOptions{
			Scopes: []string{"https://cognitiveservices.azure.com/.default"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get Azure token: %w", err)
		}
		opts = append(opts,
			openai.WithAPIType(openai.APITypeAzureAD),
			openai.WithToken(token.Token),
		)
	} else {
		if apiKey == "" {
			return nil, fmt.Errorf("azure provider requires an API key when using api_key authentication")
		}
		opts = append(opts,
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithToken(apiKey),
		)
	}

	return openai.New(opts...)
}

func newBedrockModel(ctx context.Context, def model.ModelDef, settings model.ProviderSettings) (llms.Model, error) {
	if settings.Region == "" {
		return nil, fmt.Errorf("bedrock provider requires region")
	}
	if settings.AccessKeyID == "" || settings.SecretAccessKey == "" {
		return nil, fmt.Errorf("bedrock provider requires accessKeyId and secretAccessKey")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(settings.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			settings.AccessKeyID,
			settings.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	brc := bedrockruntime.NewFromConfig(cfg)
	return bedrock.New(
		bedrock.WithClient(brc),
		bedrock.WithModel(def.ID),
	)
}
