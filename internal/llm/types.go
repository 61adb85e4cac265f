// Package llm provides a resilient chat client over one or more
// language-model backends. Backends are tried strictly in configured
// order with per-backend retry and exponential backoff; usage is
// recorded asynchronously so callers never block on bookkeeping.
package llm

import "context"

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes a single chat call.
type ChatOptions struct {
	MaxTokens   int
	Temperature *float64

	// JSONMode requests structured output from backends that support it
	JSONMode bool

	// SessionID and SessionType tag the usage log entry for later
	// aggregation
	SessionID   string
	SessionType string
}

// Response is a completed chat call. Token counts are estimated from
// character length when the backend omits usage data.
type Response struct {
	Content  string
	Provider string
	Model    string

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	TokensEstimated  bool
}

// Backend is one configured language-model endpoint.
type Backend interface {
	Provider() string
	Model() string
	SupportsJSONMode() bool
	Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error)
}

// EstimateTokens approximates a token count as ceil(len/4), used when a
// backend does not report usage.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
