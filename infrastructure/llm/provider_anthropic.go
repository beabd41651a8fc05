package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicDefaultModel is used when ClientConfig.Model is empty.
const AnthropicDefaultModel = "claude-4-sonnet"

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

type anthropicProvider struct {
	baseProvider
	client anthropic.Client
}

func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	model := config.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	// RetryMiddleware owns retries.
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey), option.WithMaxRetries(0)}
	if config.BaseURL != "" {
		base, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: config.Timeout}))
	}

	return &anthropicProvider{
		baseProvider: baseProvider{model: model},
		client:       anthropic.NewClient(opts...),
	}, nil
}

func (p *anthropicProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())

	msg, err := p.client.Messages.New(ctx, buildAnthropicParams(prompt, options))
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	content := text.String()
	if content == "" {
		return "", 0, 0, NewProviderError("anthropic", ErrorTypeUnknown, 0, "no text blocks returned", ErrEmptyResponse)
	}

	return content, tokenCount(int(msg.Usage.InputTokens), prompt), tokenCount(int(msg.Usage.OutputTokens), content), nil
}

func buildAnthropicParams(prompt string, options RequestOptions) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: int64(options.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	// Anthropic caps temperature at 1.
	if options.Temperature != nil {
		params.Temperature = anthropic.Float(clamp(*options.Temperature, 0, 1))
	}
	if options.TopP != nil {
		params.TopP = anthropic.Float(*options.TopP)
	}
	if options.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: options.System}}
	}
	return params
}

func (p *anthropicProvider) handleError(err error) error {
	if ce := classifyContext("anthropic", err); ce != nil {
		return ce
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus("anthropic", apiErr.StatusCode, "", err)
	}
	return NewProviderError("anthropic", ErrorTypeUnknown, 0, "request failed", err)
}
