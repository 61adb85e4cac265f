package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-router/internal/common/cache"
	"content-router/internal/common/logging"
	"content-router/internal/storage"
)

type createNoteInput struct {
	Title   string `json:"title" jsonschema:"the note title"`
	Content string `json:"content,omitempty" jsonschema:"the note body"`
	Reject  bool   `json:"reject,omitempty" jsonschema:"make the destination reject the note"`
}

type createNoteOutput struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	server := sdk.NewServer(&sdk.Implementation{Name: "test-server", Version: "0.1.0"}, nil)
	sdk.AddTool(server, &sdk.Tool{
		Name:        "create_note",
		Description: "Create a note in the destination system",
	}, func(ctx context.Context, req *sdk.CallToolRequest, input createNoteInput) (*sdk.CallToolResult, createNoteOutput, error) {
		if input.Reject {
			return &sdk.CallToolResult{
				IsError: true,
				Content: []sdk.Content{&sdk.TextContent{Text: "Error: destination rejected the note"}},
			}, createNoteOutput{}, nil
		}
		return nil, createNoteOutput{ID: "note-1", URL: "https://notes.example/note-1"}, nil
	})

	serverTransport, clientTransport := sdk.NewInMemoryTransports()

	ctx := context.Background()
	_, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	config := &storage.RemoteServerConfig{
		ID:             "srv-1",
		Name:           "test-server",
		TransportType:  storage.TransportHTTP,
		ServerURL:      "http://unused.example",
		TimeoutSeconds: 5,
		CacheTTL:       60,
	}

	client := NewClient(config, cache.NewLocalCache(time.Minute, time.Minute), logging.NewNopLogger())
	client.testTransport = clientTransport
	require.NoError(t, client.Initialize(ctx))
	t.Cleanup(client.Cleanup)

	return client
}

func TestClient_ListTools(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	tools, err := client.ListTools(ctx, false)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "create_note", tools[0].Name)
	assert.NotNil(t, tools[0].InputSchema)

	// Second call is served from cache
	_, found := client.cache.Get(ctx, client.cacheKey())
	assert.True(t, found)

	tools, err = client.ListTools(ctx, false)
	require.NoError(t, err)
	assert.Len(t, tools, 1)
}

func TestClient_GetToolSchema(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	schema, err := client.GetToolSchema(ctx, "create_note")
	require.NoError(t, err)
	assert.NotNil(t, schema)

	schema, err = client.GetToolSchema(ctx, "missing_tool")
	require.NoError(t, err)
	assert.Nil(t, schema)
}

func TestClient_CallTool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	result, err := client.CallTool(ctx, "create_note", map[string]interface{}{
		"title":   "Buy oat milk",
		"content": "from the corner shop",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.NotNil(t, result.Structured)
}

func TestClient_CallToolToolLevelError(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	result, err := client.CallTool(ctx, "create_note", map[string]interface{}{
		"title":  "Buy oat milk",
		"reject": true,
	})
	require.NoError(t, err, "tool-level failures must not surface as transport errors")
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text, "destination rejected")
}

func TestConvertInputSchema(t *testing.T) {
	assert.Nil(t, convertInputSchema(nil))

	direct := &jsonschema.Schema{Type: "object", Required: []string{"title"}}
	assert.Same(t, direct, convertInputSchema(direct))

	// Servers not built on the SDK hand back generic JSON
	converted := convertInputSchema(map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"title", "content"},
	})
	require.NotNil(t, converted)
	assert.Equal(t, "object", converted.Type)
	assert.Equal(t, []string{"title", "content"}, converted.Required)

	assert.Nil(t, convertInputSchema(make(chan int)))
}

func TestClient_HealthCheck(t *testing.T) {
	client := newTestClient(t)
	assert.True(t, client.HealthCheck(context.Background()))
}

func TestClient_UninitializedOperationsFail(t *testing.T) {
	config := &storage.RemoteServerConfig{ID: "srv-x", Name: "x", TransportType: storage.TransportHTTP}
	client := NewClient(config, cache.NewLocalCache(time.Minute, time.Minute), logging.NewNopLogger())

	assert.False(t, client.HealthCheck(context.Background()))

	_, err := client.CallTool(context.Background(), "anything", nil)
	assert.Error(t, err)
}

func TestClient_CleanupReleasesSession(t *testing.T) {
	client := newTestClient(t)

	client.Cleanup()
	client.Cleanup() // repeated cleanup is safe

	_, err := client.CallTool(context.Background(), "create_note", nil)
	assert.Error(t, err)
	assert.False(t, client.HealthCheck(context.Background()))
}

func TestClient_BuildTransportValidation(t *testing.T) {
	tests := []struct {
		name   string
		config *storage.RemoteServerConfig
	}{
		{
			name:   "stdio without command",
			config: &storage.RemoteServerConfig{ID: "a", TransportType: storage.TransportStdio},
		},
		{
			name:   "http without url",
			config: &storage.RemoteServerConfig{ID: "b", TransportType: storage.TransportHTTP},
		},
		{
			name:   "unknown transport",
			config: &storage.RemoteServerConfig{ID: "c", TransportType: "carrier-pigeon"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.config, nil, logging.NewNopLogger())
			_, err := client.buildTransport()
			assert.Error(t, err)
		})
	}
}

func TestResultIndicatesError(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		structured interface{}
		want       bool
	}{
		{name: "clean text", text: "Created page successfully", want: false},
		{name: "error prefix", text: "Error: permission denied", want: true},
		{name: "embedded status code", text: "request failed with status 503", want: true},
		{name: "success status code ignored", text: "done, status 200", want: false},
		{name: "structured error field", structured: map[string]interface{}{"error": "nope"}, want: true},
		{name: "structured empty error field", structured: map[string]interface{}{"error": ""}, want: false},
		{name: "structured failed status", structured: map[string]interface{}{"status": "failed"}, want: true},
		{name: "structured ok status", structured: map[string]interface{}{"status": "ok"}, want: false},
		{name: "structured isError flag", structured: map[string]interface{}{"isError": true}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resultIndicatesError(tt.text, tt.structured))
		})
	}
}
