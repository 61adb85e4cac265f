// Package todoist implements the fixed task-manager adapter, delivering
// items as Todoist tasks over its REST API.
package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"content-router/internal/adapters"
	"content-router/internal/common/errors"
	"content-router/internal/storage"
)

const (
	AdapterType = "todoist"

	defaultBaseURL = "https://api.todoist.com/rest/v2"

	// Content longer than this always gets a description, even when the
	// title matches
	descriptionThreshold = 200
)

// Item priority to Todoist priority (1 lowest, 4 highest).
var priorityTable = map[string]int{
	"urgent": 4,
	"high":   3,
	"medium": 2,
	"low":    1,
}

const defaultPriority = 1

type Adapter struct {
	deps      *adapters.Deps
	params    *adapters.InitParams
	apiToken  string
	projectID string
	baseURL   string
}

func (a *Adapter) Type() string {
	return AdapterType
}

func (a *Adapter) Validate(params *adapters.InitParams) error {
	token, _ := params.Config["api_token"].(string)
	if token == "" {
		return errors.ConfigError("todoist adapter requires an api_token")
	}
	return nil
}

func (a *Adapter) Initialize(ctx context.Context, params *adapters.InitParams) error {
	if err := a.Validate(params); err != nil {
		return err
	}
	a.params = params
	a.apiToken, _ = params.Config["api_token"].(string)
	a.projectID, _ = params.Config["project_id"].(string)
	a.baseURL = defaultBaseURL
	if base, ok := params.Config["base_url"].(string); ok && base != "" {
		a.baseURL = strings.TrimRight(base, "/")
	}
	return nil
}

type taskRequest struct {
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	DueString   string `json:"due_string,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
}

type taskResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (a *Adapter) Distribute(ctx context.Context, item *storage.Item) *storage.DistributionResult {
	task := a.buildTask(item, time.Now())

	payload, err := json.Marshal(task)
	if err != nil {
		return adapters.FailedResult(a.params, AdapterType, item, "failed to encode task: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/tasks", bytes.NewReader(payload))
	if err != nil {
		return adapters.FailedResult(a.params, AdapterType, item, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+a.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.deps.HTTPClient.Do(req)
	if err != nil {
		return adapters.FailedResult(a.params, AdapterType, item, err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := fmt.Sprintf("todoist returned %d", resp.StatusCode)
		if len(body) > 0 {
			message += ": " + strings.TrimSpace(string(body))
		}
		return adapters.FailedResult(a.params, AdapterType, item, message)
	}

	var created taskResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return adapters.FailedResult(a.params, AdapterType, item, "unexpected todoist response: "+err.Error())
	}

	return adapters.SuccessResult(a.params, AdapterType, item, created.ID, created.URL)
}

// buildTask maps the item onto a Todoist task. now anchors the
// day-relative due-date hints.
func (a *Adapter) buildTask(item *storage.Item, now time.Time) *taskRequest {
	title := item.SuggestedTitle
	if title == "" {
		title = item.OriginalContent
	}

	task := &taskRequest{
		Content:   title,
		Priority:  mapPriority(item),
		ProjectID: a.projectID,
	}

	// A description rides along when the title does not carry the full
	// content, or the content is long
	if title != item.OriginalContent || len(item.OriginalContent) > descriptionThreshold {
		task.Description = item.OriginalContent
	}

	if due := dueString(item, now); due != "" {
		task.DueString = due
	}

	return task
}

func mapPriority(item *storage.Item) int {
	raw, ok := item.Entities["priority"].(string)
	if !ok {
		return defaultPriority
	}
	if priority, ok := priorityTable[strings.ToLower(raw)]; ok {
		return priority
	}
	return defaultPriority
}

// dueString turns the item's first date entity into a Todoist due hint:
// natural language for day-relative dates, the ISO date otherwise.
func dueString(item *storage.Item, now time.Time) string {
	date := firstDate(item)
	if date == "" {
		return ""
	}

	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		// Pass non-ISO hints through as written
		return date
	}

	today := now.Truncate(24 * time.Hour)
	switch parsed.Truncate(24 * time.Hour) {
	case today:
		return "today"
	case today.AddDate(0, 0, 1):
		return "tomorrow"
	case today.AddDate(0, 0, -1):
		return "yesterday"
	default:
		return date
	}
}

func firstDate(item *storage.Item) string {
	switch dates := item.Entities["dates"].(type) {
	case []interface{}:
		if len(dates) > 0 {
			if date, ok := dates[0].(string); ok {
				return date
			}
		}
	case []string:
		if len(dates) > 0 {
			return dates[0]
		}
	case string:
		return dates
	}
	return ""
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/projects", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+a.apiToken)

	resp, err := a.deps.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (a *Adapter) Cleanup() {}
