package llm

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// ProviderConfig describes one provider known to a Registry.
type ProviderConfig struct {
	// Type selects the registered ProviderFactory.
	Type string
	// EnvVar names the environment variable holding the API key.
	EnvVar string
	// DefaultModel is used when a spec names only the provider.
	DefaultModel string
	// SupportedModels restricts the models a spec may name. Empty allows any.
	SupportedModels []string
	BaseURL         string
	Middleware      []Middleware
}

// RegistryConfig configures NewRegistry.
type RegistryConfig struct {
	Providers         map[string]ProviderConfig
	DefaultProvider   string
	DefaultTimeout    time.Duration
	DefaultMiddleware []Middleware
	// Getenv reads API keys. Defaults to os.Getenv.
	Getenv func(string) string
}

// DefaultProviders lists the hosted providers the judge can use.
var DefaultProviders = map[string]ProviderConfig{
	"openai": {
		Type:         "openai",
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: OpenAIDefaultModel,
		SupportedModels: []string{
			"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano",
			"gpt-4o", "gpt-4o-mini",
			"o4-mini", "o3", "o3-mini",
		},
	},
	"anthropic": {
		Type:         "anthropic",
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: AnthropicDefaultModel,
		SupportedModels: []string{
			"claude-4-opus", "claude-4-sonnet", "claude-4.1-opus",
			"claude-3.7-sonnet", "claude-3.5-sonnet", "claude-3.5-haiku",
		},
	},
	"google": {
		Type:         "google",
		EnvVar:       "GOOGLE_API_KEY",
		DefaultModel: GoogleDefaultModel,
		SupportedModels: []string{
			"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.5-flash-lite",
			"gemini-2.0-flash", "gemini-2.0-flash-lite",
		},
	},
}

// Registry creates provider clients lazily from "provider[/model]" specs
// and caches one client per provider/model pair.
type Registry struct {
	providers         map[string]ProviderConfig
	defaultProvider   string
	defaultTimeout    time.Duration
	defaultMiddleware []Middleware
	getenv            func(string) string

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry validates config and returns an empty registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DefaultProvider == "" {
		return nil, fmt.Errorf("default provider cannot be empty")
	}
	if _, ok := config.Providers[config.DefaultProvider]; !ok {
		return nil, fmt.Errorf("%w: default provider %q is not configured", ErrUnknownProvider, config.DefaultProvider)
	}
	getenv := config.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	return &Registry{
		providers:         config.Providers,
		defaultProvider:   config.DefaultProvider,
		defaultTimeout:    config.DefaultTimeout,
		defaultMiddleware: config.DefaultMiddleware,
		getenv:            getenv,
		clients:           make(map[string]*Client),
	}, nil
}

// GetDefaultClient returns the client for the default provider and model.
func (r *Registry) GetDefaultClient() (*Client, error) {
	return r.GetClient(r.defaultProvider)
}

// GetClient returns the client for spec, which is "provider" or
// "provider/model". Clients are created on first use.
func (r *Registry) GetClient(spec string) (*Client, error) {
	if spec == "" {
		return nil, fmt.Errorf("provider specification cannot be empty")
	}
	provider, model := r.parseSpec(spec)
	key := provider + "/" + model

	r.mu.RLock()
	client, ok := r.clients[key]
	r.mu.RUnlock()
	if ok {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[key]; ok {
		return client, nil
	}
	client, err := r.createClient(provider, model)
	if err != nil {
		return nil, err
	}
	r.clients[key] = client
	return client, nil
}

func (r *Registry) parseSpec(spec string) (provider, model string) {
	provider, model, _ = strings.Cut(spec, "/")
	if model == "" {
		model = r.providers[provider].DefaultModel
	}
	return provider, model
}

func (r *Registry) createClient(provider, model string) (*Client, error) {
	pc, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if len(pc.SupportedModels) > 0 && !slices.Contains(pc.SupportedModels, model) {
		return nil, fmt.Errorf("%w: %q is not offered by %s", ErrUnsupportedModel, model, provider)
	}
	apiKey := r.getenv(pc.EnvVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s is not set for provider %q", ErrEmptyAPIKey, pc.EnvVar, provider)
	}

	middleware := append(slices.Clone(r.defaultMiddleware), pc.Middleware...)
	return NewClient(pc.Type, ClientConfig{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    pc.BaseURL,
		Timeout:    r.defaultTimeout,
		Middleware: middleware,
	})
}
