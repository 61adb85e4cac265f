package llm

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"content-router/internal/common/errors"
	"content-router/internal/storage"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicBackend talks to Anthropic's Messages API.
type AnthropicBackend struct {
	client *anthropic.Client
	config *storage.ChatBackendConfig
}

func NewAnthropicBackend(config *storage.ChatBackendConfig) (*AnthropicBackend, error) {
	if config.APIKey == "" {
		return nil, errors.ConfigError("chat backend " + config.ID + " has no API key")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.TimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(config.TimeoutSeconds)*time.Second))
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicBackend{client: &client, config: config}, nil
}

func (b *AnthropicBackend) Provider() string {
	return b.config.Provider
}

func (b *AnthropicBackend) Model() string {
	return b.config.Model
}

// SupportsJSONMode is false: the Messages API has no json_object response
// format, so JSON-only output is requested through the prompt instead.
func (b *AnthropicBackend) SupportsJSONMode() bool {
	return false
}

func (b *AnthropicBackend) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	maxTokens := b.config.MaxTokens
	if opts != nil && opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system, converted := convertAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.config.Model),
		MaxTokens: int64(maxTokens),
		Messages:  converted,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts != nil && opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	} else if b.config.Temperature > 0 {
		params.Temperature = anthropic.Float(b.config.Temperature)
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	content := ""
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	response := &Response{
		Content:          content,
		Provider:         b.config.Provider,
		Model:            b.config.Model,
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	if response.TotalTokens == 0 {
		estimateUsage(response, messages, content)
	}
	return response, nil
}

// convertAnthropicMessages folds system turns into the system prompt and
// maps the rest onto the Messages API roles.
func convertAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	system := ""
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += msg.Content
		case RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system, result
}
