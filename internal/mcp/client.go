package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"content-router/internal/common/cache"
	"content-router/internal/common/errors"
	commonhttp "content-router/internal/common/http"
	"content-router/internal/common/logging"
	"content-router/internal/storage"
)

const (
	clientName    = "content-router"
	clientVersion = "1.0.0"

	defaultTimeout = 30 * time.Second
)

// Client talks to one remote tool server. It owns the underlying session
// (and, for stdio transports, the child process) and must be cleaned up
// before being re-initialized with a different configuration.
type Client struct {
	config *storage.RemoteServerConfig
	cache  cache.Cache
	logger logging.Logger

	mu      sync.Mutex
	session *sdk.ClientSession

	// testTransport overrides the config-derived transport in tests
	testTransport sdk.Transport
}

// NewClient creates a client for the given remote server config. The cache
// is shared across clients; tool catalogs are namespaced by config ID.
func NewClient(config *storage.RemoteServerConfig, toolCache cache.Cache, logger logging.Logger) *Client {
	return &Client{
		config: config,
		cache:  toolCache,
		logger: logger.WithFields(logging.String("server_id", config.ID), logging.String("server", config.Name)),
	}
}

// Initialize establishes the session. An existing session is cleaned up
// first so that stdio child processes are never leaked across
// re-initializations.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.cleanupLocked()
	}

	transport, err := c.buildTransport()
	if err != nil {
		return err
	}

	client := sdk.NewClient(&sdk.Implementation{Name: clientName, Version: clientVersion}, nil)

	attempts := c.config.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return errors.ConnectionError("connection cancelled", ctx.Err())
			}
		}

		connectCtx, cancel := context.WithTimeout(ctx, c.timeout())
		session, err := client.Connect(connectCtx, transport, nil)
		cancel()
		if err == nil {
			c.session = session
			c.logger.Info("connected to remote server",
				logging.String("transport", string(c.config.TransportType)))
			return nil
		}
		lastErr = err
		c.logger.Warn("remote server connection attempt failed",
			logging.Int("attempt", attempt+1), logging.Err(err))
	}

	return errors.ConnectionError(
		fmt.Sprintf("failed to connect to remote server %s", c.config.Name), lastErr)
}

func (c *Client) buildTransport() (sdk.Transport, error) {
	if c.testTransport != nil {
		return c.testTransport, nil
	}

	switch c.config.TransportType {
	case storage.TransportStdio:
		if c.config.Command == "" {
			return nil, errors.ConfigError("stdio transport requires a command")
		}
		cmd := exec.Command(c.config.Command, c.config.Args...)
		cmd.Env = os.Environ()
		if key := c.authToken(); key != "" {
			cmd.Env = append(cmd.Env, "MCP_API_KEY="+key)
		}
		return &sdk.CommandTransport{Command: cmd}, nil

	case storage.TransportHTTP:
		if c.config.ServerURL == "" {
			return nil, errors.ConfigError("http transport requires a server URL")
		}
		httpClient := commonhttp.NewHTTPClient(commonhttp.WithTimeout(c.timeout()))
		if token := c.authToken(); token != "" {
			httpClient.Transport = &authTransport{base: httpClient.Transport, token: token}
		}
		return &sdk.StreamableClientTransport{
			Endpoint:   c.config.ServerURL,
			HTTPClient: httpClient,
		}, nil

	default:
		return nil, errors.ConfigError(
			fmt.Sprintf("unsupported transport type: %s", c.config.TransportType))
	}
}

func (c *Client) authToken() string {
	switch c.config.AuthType {
	case "api_key":
		return c.config.APIKey
	case "oauth":
		return c.config.OAuthToken
	default:
		return ""
	}
}

// authTransport injects a bearer token into every outgoing request.
type authTransport struct {
	base  http.RoundTripper
	token string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

func (c *Client) timeout() time.Duration {
	if c.config.TimeoutSeconds > 0 {
		return time.Duration(c.config.TimeoutSeconds) * time.Second
	}
	return defaultTimeout
}

func (c *Client) cacheTTL() time.Duration {
	if c.config.CacheTTL > 0 {
		return time.Duration(c.config.CacheTTL) * time.Second
	}
	return 0
}

func (c *Client) cacheKey() string {
	return "tools:" + c.config.ID
}

// ListTools returns the server's tool catalog. Results are cached for the
// config's TTL; forceRefresh bypasses and repopulates the cache.
func (c *Client) ListTools(ctx context.Context, forceRefresh bool) ([]*Tool, error) {
	ttl := c.cacheTTL()
	if !forceRefresh && ttl > 0 && c.cache != nil {
		if value, found := c.cache.Get(ctx, c.cacheKey()); found {
			if tools, ok := decodeTools(value); ok {
				return tools, nil
			}
		}
	}

	session := c.currentSession()
	if session == nil {
		return nil, errors.ConnectionError("remote server not initialized", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	result, err := session.ListTools(callCtx, nil)
	if err != nil {
		return nil, c.transportError("list tools", err)
	}

	tools := make([]*Tool, 0, len(result.Tools))
	for _, tool := range result.Tools {
		tools = append(tools, &Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: convertInputSchema(tool.InputSchema),
		})
	}

	if ttl > 0 && c.cache != nil {
		if err := c.cache.Set(ctx, c.cacheKey(), tools, ttl); err != nil {
			c.logger.Warn("failed to cache tool catalog", logging.Err(err))
		}
	}

	return tools, nil
}

// GetToolSchema returns the input schema for a tool, or nil when the server
// does not expose a tool by that name.
func (c *Client) GetToolSchema(ctx context.Context, name string) (*jsonschema.Schema, error) {
	tools, err := c.ListTools(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, tool := range tools {
		if tool.Name == name {
			return tool.InputSchema, nil
		}
	}
	return nil, nil
}

// CallTool invokes a named tool. Tool-level failures come back as a
// ToolResult with IsError set; only transport failures return an error.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*ToolResult, error) {
	session := c.currentSession()
	if session == nil {
		return nil, errors.ConnectionError("remote server not initialized", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	result, err := session.CallTool(callCtx, &sdk.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, c.transportError("call tool "+name, err)
	}

	text := joinTextContent(result.Content)
	toolResult := &ToolResult{
		IsError:    result.IsError,
		Text:       text,
		Structured: result.StructuredContent,
	}
	if !toolResult.IsError {
		toolResult.IsError = resultIndicatesError(text, result.StructuredContent)
	}
	return toolResult, nil
}

// HealthCheck pings the server. A client that was never initialized is
// unhealthy rather than an error.
func (c *Client) HealthCheck(ctx context.Context) bool {
	session := c.currentSession()
	if session == nil {
		return false
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	return session.Ping(pingCtx, nil) == nil
}

// Cleanup closes the session and, for stdio transports, terminates the
// child process. Safe to call repeatedly.
func (c *Client) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
}

func (c *Client) cleanupLocked() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		c.logger.Warn("error closing remote server session", logging.Err(err))
	}
	c.session = nil
}

func (c *Client) currentSession() *sdk.ClientSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) transportError(operation string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.TimeoutError(operation)
	}
	return errors.ConnectionError("failed to "+operation, err)
}

func joinTextContent(content []sdk.Content) string {
	var parts []string
	for _, part := range content {
		if text, ok := part.(*sdk.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var embeddedStatusPattern = regexp.MustCompile(`(?i)\b(?:status(?:\s+code)?[:\s]+|HTTP[:\s]+)([45]\d\d)\b`)

// resultIndicatesError inspects the heterogeneous result shapes remote
// servers return for failure signals: an error field or failure status in
// structured output, an error-prefixed message, or an embedded 4xx/5xx
// status code in free text. The protocol does not pin these shapes down,
// so this is best-effort by construction.
func resultIndicatesError(text string, structured interface{}) bool {
	if doc, ok := structured.(map[string]interface{}); ok {
		if errValue, exists := doc["error"]; exists && errValue != nil {
			if msg, ok := errValue.(string); !ok || msg != "" {
				return true
			}
		}
		if status, ok := doc["status"].(string); ok {
			switch strings.ToLower(status) {
			case "error", "failed", "failure":
				return true
			}
		}
		if isError, ok := doc["isError"].(bool); ok && isError {
			return true
		}
	}

	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "error:") || strings.HasPrefix(lower, "error ") {
		return true
	}
	return embeddedStatusPattern.MatchString(trimmed)
}

// decodeTools recovers a tool list from a cache value. Local caches hand
// back the original slice; Redis hands back generic JSON that needs a
// round trip.
// convertInputSchema narrows the SDK's untyped schema field. Servers
// built on the same SDK hand back *jsonschema.Schema directly; anything
// else goes through a JSON round trip.
func convertInputSchema(value interface{}) *jsonschema.Schema {
	switch schema := value.(type) {
	case nil:
		return nil
	case *jsonschema.Schema:
		return schema
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil
	}
	return &schema
}

func decodeTools(value interface{}) ([]*Tool, bool) {
	if tools, ok := value.([]*Tool); ok {
		return tools, true
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var tools []*Tool
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, false
	}
	return tools, true
}
