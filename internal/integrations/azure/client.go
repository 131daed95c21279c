package azure

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"intake-agent/internal/domain"
)

const (
	DefaultAPIVersion = "2024-02-15-preview"
	defaultTimeout    = 60 * time.Second
)

// KeyFunc resolves the api-key header value.
type KeyFunc func(ctx context.Context) (string, error)

// Config selects the Azure OpenAI resource and deployment.
type Config struct {
	Endpoint   string
	Deployment string
	APIVersion string
	Timeout    time.Duration
}

// Client calls an Azure OpenAI chat deployment through the go-openai SDK.
type Client struct {
	cfg        Config
	key        KeyFunc
	httpClient *http.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(key KeyFunc, cfg Config) (*Client, error) {
	if key == nil {
		return nil, errors.New("azure: key func must not be nil")
	}
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if cfg.Endpoint == "" {
		return nil, errors.New("azure: endpoint must not be empty")
	}
	cfg.Deployment = strings.TrimSpace(cfg.Deployment)
	if cfg.Deployment == "" {
		return nil, errors.New("azure: deployment must not be empty")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		key:        key,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Chat sends messages to the configured deployment. An empty choice list
// yields "" and no error.
func (c *Client) Chat(ctx context.Context, temperature float32, maxTokens int, messages []domain.ChatMessage) (string, error) {
	apiKey, err := c.key(ctx)
	if err != nil {
		return "", err
	}

	config := openai.DefaultAzureConfig(apiKey, c.cfg.Endpoint)
	config.APIVersion = c.cfg.APIVersion
	config.HTTPClient = c.httpClient
	// The deployment name is passed through unchanged.
	config.AzureModelMapperFunc = func(model string) string { return model }
	client := openai.NewClientWithConfig(config)

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Deployment,
		Messages:    oaMsgs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		N:           1,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
