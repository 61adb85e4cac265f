package llm

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"content-router/internal/common/errors"
	"content-router/internal/storage"
)

// OpenAIBackend talks to OpenAI or any OpenAI-compatible endpoint
// (a custom BaseURL selects the compatible service).
type OpenAIBackend struct {
	client *openai.Client
	config *storage.ChatBackendConfig
}

// Known backend/model combinations that reject the json_object response
// format despite speaking the OpenAI wire protocol.
var jsonModeIncompatible = map[string]bool{
	"deepseek/deepseek-reasoner": true,
}

func NewOpenAIBackend(config *storage.ChatBackendConfig) (*OpenAIBackend, error) {
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

	client := openai.NewClient(opts...)
	return &OpenAIBackend{client: &client, config: config}, nil
}

func (b *OpenAIBackend) Provider() string {
	return b.config.Provider
}

func (b *OpenAIBackend) Model() string {
	return b.config.Model
}

func (b *OpenAIBackend) SupportsJSONMode() bool {
	return !jsonModeIncompatible[b.config.Provider+"/"+b.config.Model]
}

func (b *OpenAIBackend) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(b.config.Model),
		Messages: convertOpenAIMessages(messages),
	}

	maxTokens := b.config.MaxTokens
	if opts != nil && opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	if opts != nil && opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	} else if b.config.Temperature > 0 {
		params.Temperature = openai.Float(b.config.Temperature)
	}

	if opts != nil && opts.JSONMode && b.SupportsJSONMode() {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, errors.InternalError("chat backend returned no choices", nil)
	}

	content := completion.Choices[0].Message.Content
	response := &Response{
		Content:          content,
		Provider:         b.config.Provider,
		Model:            b.config.Model,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
	}
	if response.TotalTokens == 0 {
		estimateUsage(response, messages, content)
	}
	return response, nil
}

func convertOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			result = append(result, openai.AssistantMessage(msg.Content))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

// estimateUsage fills in ceil(len/4) token counts when the backend omits
// usage data.
func estimateUsage(response *Response, messages []Message, content string) {
	prompt := 0
	for _, msg := range messages {
		prompt += EstimateTokens(msg.Content)
	}
	response.PromptTokens = prompt
	response.CompletionTokens = EstimateTokens(content)
	response.TotalTokens = response.PromptTokens + response.CompletionTokens
	response.TokensEstimated = true
}
