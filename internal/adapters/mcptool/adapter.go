// Package mcptool implements the generic remote-tool adapter: it delivers
// items by invoking a named tool on a user-configured remote server over
// either transport.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"content-router/internal/adapters"
	"content-router/internal/common/errors"
	"content-router/internal/common/logging"
	"content-router/internal/mapping"
	"content-router/internal/mcp"
	"content-router/internal/storage"
)

const AdapterType = "mcptool"

// Default tool names by remote server type, used when neither the rule
// nor the server config names one.
var serverTypeDefaultTools = map[string]string{
	"notion":   "create_page",
	"obsidian": "create_note",
	"linear":   "create_issue",
	"todoist":  "create_task",
}

type Adapter struct {
	deps     *adapters.Deps
	params   *adapters.InitParams
	client   *mcp.Client
	toolName string
	logger   logging.Logger
}

func (a *Adapter) Type() string {
	return AdapterType
}

func (a *Adapter) Validate(params *adapters.InitParams) error {
	if params.RemoteServer == nil {
		return errors.ConfigError("mcptool adapter requires a remote server config")
	}
	if !params.RemoteServer.Enabled {
		return errors.ConfigError("remote server " + params.RemoteServer.Name + " is disabled")
	}
	if resolveToolName(params) == "" {
		return errors.ConfigError("no tool name configured for remote server " + params.RemoteServer.Name)
	}
	return nil
}

func (a *Adapter) Initialize(ctx context.Context, params *adapters.InitParams) error {
	if err := a.Validate(params); err != nil {
		return err
	}
	toolName := resolveToolName(params)

	client := mcp.NewClient(params.RemoteServer, a.deps.ToolCache, a.deps.Logger)
	if err := client.Initialize(ctx); err != nil {
		return err
	}

	a.params = params
	a.client = client
	a.toolName = toolName
	a.logger = a.deps.Logger.WithFields(
		logging.String("adapter", AdapterType),
		logging.String("tool", toolName))
	return nil
}

// resolveToolName picks the tool: explicit rule config, then the server's
// default tool, then the server-type default.
func resolveToolName(params *adapters.InitParams) string {
	if name, ok := params.Config["tool_name"].(string); ok && name != "" {
		return name
	}
	if params.RemoteServer.DefaultTool != "" {
		return params.RemoteServer.DefaultTool
	}
	return serverTypeDefaultTools[params.RemoteServer.ServerType]
}

func (a *Adapter) Distribute(ctx context.Context, item *storage.Item) *storage.DistributionResult {
	arguments := a.buildArguments(ctx, item)

	result, err := a.client.CallTool(ctx, a.toolName, arguments)
	if err != nil {
		return adapters.FailedResult(a.params, AdapterType, item, err.Error())
	}
	if result.IsError {
		message := strings.TrimSpace(result.Text)
		if message == "" {
			message = fmt.Sprintf("tool %s reported an error", a.toolName)
		}
		return adapters.FailedResult(a.params, AdapterType, item, message)
	}

	externalID, externalURL := extractExternalRef(result)
	return adapters.SuccessResult(a.params, AdapterType, item, externalID, externalURL)
}

// buildArguments produces the tool call payload: model-driven mapping when
// the rule carries instructions, a static per-server-type mapping
// otherwise.
func (a *Adapter) buildArguments(ctx context.Context, item *storage.Item) map[string]interface{} {
	schema, err := a.client.GetToolSchema(ctx, a.toolName)
	if err != nil {
		a.logger.Warn("failed to fetch tool schema, mapping without it", logging.Err(err))
	}

	if a.params.Instructions != "" && a.deps.Mapper != nil {
		mapped, err := a.deps.Mapper.Transform(ctx, item, mapping.Options{
			Instructions:  a.params.Instructions,
			ToolName:      a.toolName,
			TargetSchema:  schema,
			AllowFallback: true,
		})
		if err == nil {
			return mapped
		}
		a.logger.Warn("mapping service failed, using static mapping", logging.Err(err))
	}

	return staticMapping(a.params.RemoteServer.ServerType, item)
}

// staticMapping is the small per-server-type field mapper used when no
// mapping instructions are configured.
func staticMapping(serverType string, item *storage.Item) map[string]interface{} {
	title := item.SuggestedTitle
	if title == "" {
		title = item.OriginalContent
		if len(title) > 50 {
			title = title[:50]
		}
	}

	switch serverType {
	case "notion":
		return map[string]interface{}{
			"title":   title,
			"content": item.OriginalContent,
		}
	case "obsidian":
		return map[string]interface{}{
			"filename": title,
			"content":  item.OriginalContent,
		}
	case "linear":
		return map[string]interface{}{
			"title":       title,
			"description": item.OriginalContent,
		}
	default:
		return mapping.FallbackMapping(item)
	}
}

var urlPattern = regexp.MustCompile(`https?://[^\s"']+`)

// extractExternalRef digs a destination identifier and URL out of the
// heterogeneous result shapes remote tools return: structured fields,
// nested objects, JSON embedded in text, or a bare URL. Best effort; both
// values may be empty.
func extractExternalRef(result *mcp.ToolResult) (string, string) {
	if doc, ok := result.Structured.(map[string]interface{}); ok {
		if id, url := refFromDocument(doc); id != "" || url != "" {
			return id, url
		}
	}

	trimmed := strings.TrimSpace(result.Text)
	if strings.HasPrefix(trimmed, "{") {
		var doc map[string]interface{}
		if json.Unmarshal([]byte(trimmed), &doc) == nil {
			if id, url := refFromDocument(doc); id != "" || url != "" {
				return id, url
			}
		}
	}

	return "", urlPattern.FindString(trimmed)
}

func refFromDocument(doc map[string]interface{}) (string, string) {
	id := stringField(doc, "id", "page_id", "task_id", "issue_id")
	url := stringField(doc, "url", "link", "href")

	if id == "" && url == "" {
		for _, key := range []string{"data", "result", "page"} {
			if nested, ok := doc[key].(map[string]interface{}); ok {
				return refFromDocument(nested)
			}
		}
	}
	return id, url
}

func stringField(doc map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		switch value := doc[key].(type) {
		case string:
			if value != "" {
				return value
			}
		case float64:
			return fmt.Sprintf("%.0f", value)
		}
	}
	return ""
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	return a.client != nil && a.client.HealthCheck(ctx)
}

func (a *Adapter) Cleanup() {
	if a.client != nil {
		a.client.Cleanup()
		a.client = nil
	}
}
