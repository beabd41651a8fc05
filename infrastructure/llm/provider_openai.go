package llm

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIDefaultModel is used when ClientConfig.Model is empty.
const OpenAIDefaultModel = "gpt-4.1"

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

type openAIProvider struct {
	baseProvider
	client *openai.Client
}

func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	model := config.Model
	if model == "" {
		model = OpenAIDefaultModel
	}

	cc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		base, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, err
		}
		cc.BaseURL = base
	}
	if config.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	return &openAIProvider{
		baseProvider: baseProvider{model: model},
		client:       openai.NewClientWithConfig(cc),
	}, nil
}

func (p *openAIProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())

	resp, err := p.client.CreateChatCompletion(ctx, buildOpenAIRequest(prompt, options))
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", 0, 0, NewProviderError("openai", ErrorTypeUnknown, 0, "no choices returned", ErrEmptyResponse)
	}

	content := resp.Choices[0].Message.Content
	return content, tokenCount(resp.Usage.PromptTokens, prompt), tokenCount(resp.Usage.CompletionTokens, content), nil
}

func buildOpenAIRequest(prompt string, options RequestOptions) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if options.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: options.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:     options.Model,
		Messages:  messages,
		MaxTokens: options.MaxTokens,
	}
	if options.Temperature != nil {
		req.Temperature = float32(clamp(*options.Temperature, 0, 2))
	}
	if options.TopP != nil {
		req.TopP = float32(clamp(*options.TopP, 0, 1))
	}
	if options.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return req
}

func (p *openAIProvider) handleError(err error) error {
	if ce := classifyContext("openai", err); ce != nil {
		return ce
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus("openai", apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus("openai", reqErr.HTTPStatusCode, "", err)
	}
	return NewProviderError("openai", ErrorTypeUnknown, 0, "request failed", err)
}
