package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// GoogleDefaultModel is used when ClientConfig.Model is empty.
const GoogleDefaultModel = "gemini-2.5-flash"

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

type googleProvider struct {
	baseProvider
	client *genai.Client
}

func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		base, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, err
		}
		cc.HTTPOptions.BaseURL = base + "/"
	}
	if config.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		baseProvider: baseProvider{model: model},
		client:       client,
	}, nil
}

func (p *googleProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, options.Model, contents, buildGenerationConfig(options))
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	content := resp.Text()
	if content == "" {
		return "", 0, 0, NewProviderError("google", ErrorTypeUnknown, 0, "no candidates returned", ErrEmptyResponse)
	}

	var in, out int
	if u := resp.UsageMetadata; u != nil {
		in, out = int(u.PromptTokenCount), int(u.CandidatesTokenCount)
	}
	return content, tokenCount(in, prompt), tokenCount(out, content), nil
}

func buildGenerationConfig(options RequestOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(min(options.MaxTokens, math.MaxInt32)),
	}
	if options.System != "" {
		config.SystemInstruction = genai.NewContentFromText(options.System, genai.RoleUser)
	}
	if options.Temperature != nil {
		config.Temperature = genai.Ptr(float32(clamp(*options.Temperature, 0, 2)))
	}
	if options.TopP != nil {
		config.TopP = genai.Ptr(float32(*options.TopP))
	}
	if options.JSON {
		config.ResponseMIMEType = "application/json"
	}
	return config
}

func (p *googleProvider) handleError(err error) error {
	if ce := classifyContext("google", err); ce != nil {
		return ce
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if isSafetyBlock(apiErr.Message) {
			return NewProviderError("google", ErrorTypeContentPolicy, apiErr.Code, "request blocked by safety filters", err)
		}
		return classifyStatus("google", apiErr.Code, apiErr.Message, err)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		message := gErr.Message
		if message == "" && len(gErr.Errors) > 0 {
			message = gErr.Errors[0].Message
		}
		if isSafetyBlock(message) {
			return NewProviderError("google", ErrorTypeContentPolicy, gErr.Code, "request blocked by safety filters", err)
		}
		return classifyStatus("google", gErr.Code, message, err)
	}

	return NewProviderError("google", ErrorTypeUnknown, 0, "request failed", err)
}

func isSafetyBlock(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "safety") || strings.Contains(lower, "blocked")
}
