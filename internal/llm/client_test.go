package llm

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "content-router/internal/common/errors"
	"content-router/internal/common/logging"
	"content-router/internal/storage"
)

type stubBackend struct {
	provider string
	model    string
	fail     error
	failN    int // fail the first N calls, then succeed
	content  string
	calls    int
}

func (s *stubBackend) Provider() string       { return s.provider }
func (s *stubBackend) Model() string          { return s.model }
func (s *stubBackend) SupportsJSONMode() bool { return true }

func (s *stubBackend) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	s.calls++
	if s.fail != nil && (s.failN == 0 || s.calls <= s.failN) {
		return nil, s.fail
	}
	return &Response{
		Content:  s.content,
		Provider: s.provider,
		Model:    s.model,
	}, nil
}

type captureStore struct {
	mu   sync.Mutex
	logs []*storage.UsageLog
}

func (c *captureStore) CreateUsageLog(log *storage.UsageLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, log)
	return nil
}

func (c *captureStore) entries() []*storage.UsageLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*storage.UsageLog(nil), c.logs...)
}

func newStubClient(store UsageStore, backends ...*stubBackend) *Client {
	entries := make([]backendEntry, len(backends))
	for i, backend := range backends {
		entries[i] = backendEntry{
			backend: backend,
			config:  &storage.ChatBackendConfig{MaxRetries: 0},
		}
	}
	var recorder *UsageRecorder
	if store != nil {
		recorder = NewUsageRecorder(store, 10, logging.NewNopLogger())
	}
	return &Client{
		entries:  entries,
		recorder: recorder,
		logger:   logging.NewNopLogger(),
		userID:   "user-1",
	}
}

// apiError builds an SDK error with enough request/response context for
// its Error() method to format safely.
func apiError(status int) *openai.Error {
	req, _ := http.NewRequest(http.MethodPost, "https://api.example/v1/chat/completions", nil)
	return &openai.Error{
		StatusCode: status,
		Request:    req,
		Response: &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Body:       http.NoBody,
		},
	}
}

func rateLimitError() error {
	return apiError(429)
}

func badRequestError() error {
	return apiError(400)
}

func TestClient_FallbackToSecondBackend(t *testing.T) {
	first := &stubBackend{provider: "openai", model: "gpt-a", fail: rateLimitError()}
	second := &stubBackend{provider: "anthropic", model: "claude-b", content: "hello"}
	client := newStubClient(nil, first, second)

	response, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", response.Content)
	assert.Equal(t, "anthropic", response.Provider)

	provider, model, ok := client.ActiveBackend()
	require.True(t, ok)
	assert.Equal(t, "anthropic", provider)
	assert.Equal(t, "claude-b", model)
}

func TestClient_AggregateErrorNamesAllBackends(t *testing.T) {
	first := &stubBackend{provider: "openai", model: "gpt-a", fail: rateLimitError()}
	second := &stubBackend{provider: "anthropic", model: "claude-b", fail: rateLimitError()}
	client := newStubClient(nil, first, second)

	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)

	var aggregate *AggregateError
	require.True(t, stderrors.As(err, &aggregate))
	assert.Len(t, aggregate.Failures, 2)
	assert.Contains(t, err.Error(), "openai/gpt-a")
	assert.Contains(t, err.Error(), "anthropic/claude-b")
}

func TestClient_FatalErrorSkipsRetries(t *testing.T) {
	backend := &stubBackend{provider: "openai", model: "gpt-a", fail: badRequestError()}
	client := newStubClient(nil, backend)
	client.entries[0].config.MaxRetries = 3

	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, backend.calls, "non-retryable failure must not be retried")
}

func TestClient_RetryThenSucceed(t *testing.T) {
	serverErr := apiError(503)
	backend := &stubBackend{provider: "openai", model: "gpt-a", fail: serverErr, failN: 1, content: "ok"}
	client := newStubClient(nil, backend)
	client.entries[0].config.MaxRetries = 1

	response, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", response.Content)
	assert.Equal(t, 2, backend.calls)
}

func TestClient_RecordsUsageAsync(t *testing.T) {
	store := &captureStore{}
	backend := &stubBackend{provider: "openai", model: "gpt-a", content: "done"}
	client := newStubClient(store, backend)

	_, err := client.Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}},
		&ChatOptions{SessionID: "sess-1", SessionType: "classification"})
	require.NoError(t, err)

	client.recorder.Close()

	logs := store.entries()
	require.Len(t, logs, 1)
	assert.Equal(t, "success", logs[0].Status)
	assert.Equal(t, "openai", logs[0].Provider)
	assert.Equal(t, "sess-1", logs[0].SessionID)
	assert.Equal(t, "classification", logs[0].SessionType)
	assert.NotEmpty(t, logs[0].ID)
}

func TestClient_RecordsFailedBackends(t *testing.T) {
	store := &captureStore{}
	first := &stubBackend{provider: "openai", model: "gpt-a", fail: rateLimitError()}
	second := &stubBackend{provider: "anthropic", model: "claude-b", content: "hello"}
	client := newStubClient(store, first, second)

	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	client.recorder.Close()

	logs := store.entries()
	require.Len(t, logs, 2)
	statuses := map[string]string{}
	for _, log := range logs {
		statuses[log.Provider] = log.Status
	}
	assert.Equal(t, "error", statuses["openai"])
	assert.Equal(t, "success", statuses["anthropic"])
}

func TestUsageRecorder_RecordAfterClose(t *testing.T) {
	store := &captureStore{}
	recorder := NewUsageRecorder(store, 10, logging.NewNopLogger())

	recorder.Record(&storage.UsageLog{Provider: "openai", Model: "gpt-a", Status: "success"})
	recorder.Close()

	recorder.Record(&storage.UsageLog{Provider: "openai", Model: "gpt-a", Status: "success"})
	recorder.Close()

	logs := store.entries()
	require.Len(t, logs, 1)
}

func TestClient_ChatJSON(t *testing.T) {
	backend := &stubBackend{
		provider: "openai",
		model:    "gpt-a",
		content:  "<think>planning the shape</think>Here you go: {\"title\":\"Buy milk\",\"note\":\"a \\\"quoted\\\" {value}\"}",
	}
	client := newStubClient(nil, backend)

	var parsed struct {
		Title string `json:"title"`
		Note  string `json:"note"`
	}
	raw, err := client.ChatJSON(context.Background(), []Message{{Role: RoleUser, Content: "map it"}}, nil, &parsed)
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", parsed.Title)
	assert.Equal(t, `a "quoted" {value}`, parsed.Note)
	assert.Contains(t, raw, "Here you go")
}

func TestClient_ChatJSONParseFailureKeepsRaw(t *testing.T) {
	backend := &stubBackend{provider: "openai", model: "gpt-a", content: "no structured data here"}
	client := newStubClient(nil, backend)

	var parsed map[string]interface{}
	raw, err := client.ChatJSON(context.Background(), []Message{{Role: RoleUser, Content: "map it"}}, nil, &parsed)
	require.Error(t, err)
	assert.True(t, commonerrors.IsType(err, commonerrors.ErrTypeParsing))
	assert.Equal(t, "no structured data here", raw)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failureClass
	}{
		{name: "rate limit", err: apiError(429), want: failureRateLimit},
		{name: "server error", err: apiError(502), want: failureServer},
		{name: "bad request", err: apiError(400), want: failureFatal},
		{name: "auth failure", err: apiError(401), want: failureFatal},
		{name: "deadline", err: context.DeadlineExceeded, want: failureTimeout},
		{name: "dial failure", err: &net.OpError{Op: "dial", Err: stderrors.New("connection refused")}, want: failureConnection},
		{name: "unknown", err: stderrors.New("weird"), want: failureFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestFailureClassBackoff(t *testing.T) {
	assert.Greater(t, failureRateLimit.backoffBase(), failureServer.backoffBase())
	assert.Equal(t, failureTimeout.backoffBase(), failureRateLimit.backoffBase())
	assert.False(t, failureFatal.retryable())
	assert.True(t, failureConnection.retryable())
}

func TestNewClientRequiresUsableBackend(t *testing.T) {
	_, err := NewClient("user-1", []*storage.ChatBackendConfig{
		{ID: "b1", Provider: "openai", Enabled: false, APIKey: "k"},
		{ID: "b2", Provider: "openai", Enabled: true}, // missing API key
	}, nil, logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, commonerrors.IsType(err, commonerrors.ErrTypeConfig))
}
