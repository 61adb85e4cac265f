package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"content-router/internal/common/errors"
	"content-router/internal/common/logging"
	"content-router/internal/storage"
)

const jsonOnlyInstruction = "Respond with a single JSON object only. No prose, no markdown fences."

// backendEntry pairs a live backend with the config that produced it, so
// retry counts stay visible to the client.
type backendEntry struct {
	backend Backend
	config  *storage.ChatBackendConfig
}

// Client tries configured backends strictly in order, retrying transient
// failures per backend before falling through to the next one.
type Client struct {
	entries  []backendEntry
	recorder *UsageRecorder
	logger   logging.Logger
	userID   string

	mu     sync.RWMutex
	active Backend
}

// NewClient builds a client from the user's enabled backend configs,
// already ordered by position. Absence of any usable backend is a
// configuration error.
func NewClient(userID string, configs []*storage.ChatBackendConfig, recorder *UsageRecorder, logger logging.Logger) (*Client, error) {
	var entries []backendEntry
	for _, config := range configs {
		if !config.Enabled {
			continue
		}
		backend, err := newBackend(config)
		if err != nil {
			logger.Warn("skipping misconfigured chat backend",
				logging.String("backend_id", config.ID), logging.Err(err))
			continue
		}
		entries = append(entries, backendEntry{backend: backend, config: config})
	}

	if len(entries) == 0 {
		return nil, errors.ConfigError("no active chat backend configured")
	}

	return &Client{
		entries:  entries,
		recorder: recorder,
		logger:   logger,
		userID:   userID,
	}, nil
}

func newBackend(config *storage.ChatBackendConfig) (Backend, error) {
	switch config.Provider {
	case "anthropic":
		return NewAnthropicBackend(config)
	default:
		// openai and any openai-compatible endpoint selected by BaseURL
		return NewOpenAIBackend(config)
	}
}

// BackendFailure is one backend's final failure inside an AggregateError.
type BackendFailure struct {
	Provider string
	Model    string
	Err      error
}

// AggregateError is raised when every configured backend has been
// exhausted.
type AggregateError struct {
	Failures []BackendFailure
}

func (e *AggregateError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, failure := range e.Failures {
		parts[i] = fmt.Sprintf("%s/%s: %v", failure.Provider, failure.Model, failure.Err)
	}
	return "all chat backends failed: " + strings.Join(parts, "; ")
}

// Chat runs the messages against the first backend that succeeds. Each
// backend gets maxRetries+1 attempts with exponential backoff; only rate
// limits, 5xx responses, and connection/timeout errors are retried. Other
// failures move straight to the next backend.
func (c *Client) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	var failures []BackendFailure

	for _, entry := range c.entries {
		response, err := c.tryBackend(ctx, entry, messages, opts)
		if err == nil {
			c.mu.Lock()
			c.active = entry.backend
			c.mu.Unlock()
			c.recordUsage(messages, opts, response, nil)
			return response, nil
		}

		failures = append(failures, BackendFailure{
			Provider: entry.backend.Provider(),
			Model:    entry.backend.Model(),
			Err:      err,
		})
		c.recordUsage(messages, opts, &Response{
			Provider: entry.backend.Provider(),
			Model:    entry.backend.Model(),
		}, err)
		c.logger.Warn("chat backend exhausted, falling through",
			logging.String("provider", entry.backend.Provider()),
			logging.String("model", entry.backend.Model()),
			logging.Err(err))
	}

	return nil, &AggregateError{Failures: failures}
}

func (c *Client) tryBackend(ctx context.Context, entry backendEntry, messages []Message, opts *ChatOptions) (*Response, error) {
	attempts := entry.config.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		response, err := entry.backend.Chat(ctx, messages, opts)
		if err == nil {
			return response, nil
		}
		lastErr = err

		class := classifyError(err)
		if !class.retryable() {
			return nil, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := class.backoffBase() * (1 << attempt)
		c.logger.Debug("retrying chat backend",
			logging.String("provider", entry.backend.Provider()),
			logging.Int("attempt", attempt+1),
			logging.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// ActiveBackend reports which backend served the most recent successful
// call.
func (c *Client) ActiveBackend() (provider, model string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return "", "", false
	}
	return c.active.Provider(), c.active.Model(), true
}

// ChatJSON appends a JSON-only instruction, requests structured output
// where the backend supports it, and parses the first balanced JSON
// object out of the response into v. Returns the raw response text for
// diagnostics alongside any parse failure.
func (c *Client) ChatJSON(ctx context.Context, messages []Message, opts *ChatOptions, v interface{}) (string, error) {
	augmented := make([]Message, 0, len(messages)+1)
	augmented = append(augmented, messages...)
	augmented = append(augmented, Message{Role: RoleUser, Content: jsonOnlyInstruction})

	jsonOpts := ChatOptions{}
	if opts != nil {
		jsonOpts = *opts
	}
	jsonOpts.JSONMode = true

	response, err := c.Chat(ctx, augmented, &jsonOpts)
	if err != nil {
		return "", err
	}

	raw := response.Content
	cleaned := StripThinkBlocks(raw)
	object, found := ExtractJSONObject(cleaned)
	if !found {
		return raw, errors.ParsingError("no JSON object in chat response", raw, nil)
	}
	if err := json.Unmarshal([]byte(object), v); err != nil {
		return raw, errors.ParsingError("invalid JSON in chat response", raw, err)
	}
	return raw, nil
}

func (c *Client) recordUsage(messages []Message, opts *ChatOptions, response *Response, callErr error) {
	if c.recorder == nil {
		return
	}

	requestPayload, _ := json.Marshal(messages)
	entry := &storage.UsageLog{
		UserID:           c.userID,
		Provider:         response.Provider,
		Model:            response.Model,
		PromptTokens:     response.PromptTokens,
		CompletionTokens: response.CompletionTokens,
		TotalTokens:      response.TotalTokens,
		TokensEstimated:  response.TokensEstimated,
		RequestPayload:   string(requestPayload),
		ResponsePayload:  response.Content,
		Status:           "success",
	}
	if opts != nil {
		entry.SessionID = opts.SessionID
		entry.SessionType = opts.SessionType
	}
	if callErr != nil {
		entry.Status = "error"
		entry.Error = callErr.Error()
	}
	c.recorder.Record(entry)
}
