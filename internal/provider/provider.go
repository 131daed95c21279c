// Package provider is the single entry point through which the intake
// controller talks to a language model. The concrete backend is chosen from
// an explicit Config; an offline substitute is used when no remote provider
// is configured.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"intake-agent/internal/domain"
	"intake-agent/internal/integrations/azure"
	"intake-agent/internal/integrations/openai"
	"intake-agent/internal/integrations/paramstore"
)

// Kind names a provider backend.
type Kind string

const (
	KindMock        Kind = "mock"
	KindOpenAI      Kind = "openai"
	KindLiteLLM     Kind = "litellm"
	KindAzureOpenAI Kind = "azure_openai"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultModel       = "gpt-4o-mini"
	DefaultLiteLLMBase = "http://localhost:4000"
	DefaultTemperature = 0.4
	DefaultMaxTokens   = 120
)

// Request is one completion call: a system instruction followed by the
// dialogue in chat order.
type Request struct {
	System   string
	Messages []domain.ChatMessage
}

// Provider completes a prompt. Implementations return "" with a nil error
// when the upstream answered without content.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// Config selects and parameterises a provider. Zero values fall back to the
// package defaults.
type Config struct {
	Kind            Kind
	APIKey          string
	APIKeyParam     string
	Model           string
	APIBase         string
	AzureAPIVersion string
	Timeout         time.Duration
	Temperature     float64
	MaxTokens       int
}

// ParseKind normalises a provider name. Empty input selects the mock.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindMock, nil
	case KindMock, KindOpenAI, KindLiteLLM, KindAzureOpenAI:
		return k, nil
	default:
		return "", fmt.Errorf("provider: unsupported AI_PROVIDER %q", s)
	}
}

func (c Config) withDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindMock
	}
	c.Model = strings.TrimSpace(c.Model)
	if c.Model == "" && c.Kind != KindAzureOpenAI {
		c.Model = DefaultModel
	}
	c.APIBase = strings.TrimSpace(c.APIBase)
	if c.APIBase == "" && c.Kind == KindLiteLLM {
		c.APIBase = DefaultLiteLLMBase
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// Validate reports the first configuration problem as a ErrorConfig *Error.
func (c Config) Validate() error {
	c = c.withDefaults()
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return &Error{Kind: ErrorConfig, Err: err}
	}
	if c.Kind == KindMock {
		return nil
	}
	if strings.TrimSpace(c.APIKey) == "" && strings.TrimSpace(c.APIKeyParam) == "" {
		return &Error{Kind: ErrorConfig, Err: fmt.Errorf("provider: %s requires AI_API_KEY or AI_API_KEY_PARAM", c.Kind)}
	}
	if c.Kind == KindAzureOpenAI {
		if c.APIBase == "" {
			return &Error{Kind: ErrorConfig, Err: errors.New("provider: azure_openai requires AI_API_BASE")}
		}
		if c.Model == "" {
			return &Error{Kind: ErrorConfig, Err: errors.New("provider: azure_openai requires AI_MODEL (deployment name)")}
		}
	}
	return nil
}

// New builds the provider described by cfg. getter is only consulted when
// cfg.APIKeyParam is set and may be nil otherwise. An invalid configuration
// never fails construction: the returned provider reports the problem on
// every call so that the rest of the service keeps working.
func New(cfg Config, getter paramstore.Getter) Provider {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return &Unavailable{kind: cfg.Kind, err: err}
	}
	if cfg.Kind == KindMock {
		return NewMock()
	}

	key, err := keyFunc(cfg, getter)
	if err != nil {
		return &Unavailable{kind: cfg.Kind, err: &Error{Kind: ErrorConfig, Err: err}}
	}

	switch cfg.Kind {
	case KindAzureOpenAI:
		client, err := azure.NewClient(azure.KeyFunc(key), azure.Config{
			Endpoint:   cfg.APIBase,
			Deployment: cfg.Model,
			APIVersion: cfg.AzureAPIVersion,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return &Unavailable{kind: cfg.Kind, err: &Error{Kind: ErrorConfig, Err: err}}
		}
		return &azureProvider{client: client, cfg: cfg}
	default:
		opts := []openai.Option{openai.WithTimeout(cfg.Timeout)}
		if cfg.APIBase != "" {
			opts = append(opts, openai.WithBaseURL(cfg.APIBase))
		}
		client, err := openai.NewClient(openai.KeyFunc(key), opts...)
		if err != nil {
			return &Unavailable{kind: cfg.Kind, err: &Error{Kind: ErrorConfig, Err: err}}
		}
		return &chatProvider{kind: cfg.Kind, client: client, cfg: cfg}
	}
}

// keyFunc prefers a static key; otherwise the SSM parameter is read until
// it succeeds once. A parameter that cannot be reached is a connectivity
// failure; a missing or malformed one is a configuration failure.
func keyFunc(cfg Config, getter paramstore.Getter) (func(context.Context) (string, error), error) {
	if k := strings.TrimSpace(cfg.APIKey); k != "" {
		return func(context.Context) (string, error) { return k, nil }, nil
	}
	if getter == nil {
		return nil, errors.New("provider: AI_API_KEY_PARAM is set but no parameter store is available")
	}
	cached := paramstore.NewCachedToken(getter, cfg.APIKeyParam)
	return func(ctx context.Context) (string, error) {
		tok, err := cached.Get(ctx)
		if err != nil {
			var fe *paramstore.FetchError
			if errors.As(err, &fe) && !fe.Missing() {
				return "", &Error{Kind: ErrorConnectivity, Err: err}
			}
			return "", &Error{Kind: ErrorConfig, Err: err}
		}
		return tok, nil
	}, nil
}

func withSystem(req Request) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(req.Messages)+1)
	if s := strings.TrimSpace(req.System); s != "" {
		out = append(out, domain.ChatMessage{Role: domain.ChatRoleSystem, Content: req.System})
	}
	return append(out, req.Messages...)
}

// chatProvider serves openai and litellm through the OpenAI-compatible client.
type chatProvider struct {
	kind   Kind
	client *openai.Client
	cfg    Config
}

func (p *chatProvider) Name() string { return string(p.kind) }

func (p *chatProvider) Complete(ctx context.Context, req Request) (string, error) {
	temp := p.cfg.Temperature
	out, err := p.client.Chat(ctx, openai.ChatOptions{
		Model:       p.cfg.Model,
		Temperature: &temp,
		MaxTokens:   p.cfg.MaxTokens,
	}, withSystem(req))
	if err != nil {
		return "", Classify(err)
	}
	return strings.TrimSpace(out), nil
}

type azureProvider struct {
	client *azure.Client
	cfg    Config
}

func (p *azureProvider) Name() string { return string(KindAzureOpenAI) }

func (p *azureProvider) Complete(ctx context.Context, req Request) (string, error) {
	out, err := p.client.Chat(ctx, float32(p.cfg.Temperature), p.cfg.MaxTokens, withSystem(req))
	if err != nil {
		return "", Classify(err)
	}
	return strings.TrimSpace(out), nil
}

// Unavailable is returned by New when the configuration cannot produce a
// working provider.
type Unavailable struct {
	kind Kind
	err  error
}

func (u *Unavailable) Name() string { return string(u.kind) }

func (u *Unavailable) Complete(context.Context, Request) (string, error) {
	return "", u.err
}

// Err returns the configuration problem.
func (u *Unavailable) Err() error { return u.err }
