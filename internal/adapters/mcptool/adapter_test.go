package mcptool

import (
	"testing"

	"content-router/internal/adapters"
	"content-router/internal/mcp"
	"content-router/internal/storage"
)

func testServer() *storage.RemoteServerConfig {
	return &storage.RemoteServerConfig{
		ID:            "srv-1",
		UserID:        "user-1",
		Name:          "notes",
		ServerType:    "obsidian",
		TransportType: storage.TransportStdio,
		Command:       "mcp-obsidian",
		Enabled:       true,
	}
}

func TestValidate(t *testing.T) {
	adapter := &Adapter{}

	if err := adapter.Validate(&adapters.InitParams{Config: map[string]interface{}{}}); err == nil {
		t.Error("expected error without a remote server")
	}

	disabled := testServer()
	disabled.Enabled = false
	if err := adapter.Validate(&adapters.InitParams{
		Config:       map[string]interface{}{},
		RemoteServer: disabled,
	}); err == nil {
		t.Error("expected error for disabled server")
	}

	unresolvable := testServer()
	unresolvable.ServerType = "generic"
	if err := adapter.Validate(&adapters.InitParams{
		Config:       map[string]interface{}{},
		RemoteServer: unresolvable,
	}); err == nil {
		t.Error("expected error when no tool name resolves")
	}

	if err := adapter.Validate(&adapters.InitParams{
		Config:       map[string]interface{}{},
		RemoteServer: testServer(),
	}); err != nil {
		t.Errorf("expected valid params, got %v", err)
	}
}

func TestResolveToolName(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]interface{}
		server func(*storage.RemoteServerConfig)
		want   string
	}{
		{
			name:   "rule config wins",
			config: map[string]interface{}{"tool_name": "append_note"},
			server: func(s *storage.RemoteServerConfig) { s.DefaultTool = "create_note" },
			want:   "append_note",
		},
		{
			name:   "server default tool next",
			config: map[string]interface{}{},
			server: func(s *storage.RemoteServerConfig) { s.DefaultTool = "create_daily_note" },
			want:   "create_daily_note",
		},
		{
			name:   "server type fallback",
			config: map[string]interface{}{},
			server: func(s *storage.RemoteServerConfig) { s.ServerType = "linear" },
			want:   "create_issue",
		},
		{
			name:   "unknown type resolves empty",
			config: map[string]interface{}{},
			server: func(s *storage.RemoteServerConfig) { s.ServerType = "generic" },
			want:   "",
		},
		{
			name:   "empty config value ignored",
			config: map[string]interface{}{"tool_name": ""},
			server: func(s *storage.RemoteServerConfig) {},
			want:   "create_note",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testServer()
			tt.server(server)
			got := resolveToolName(&adapters.InitParams{Config: tt.config, RemoteServer: server})
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestStaticMapping(t *testing.T) {
	item := &storage.Item{
		OriginalContent: "draft the quarterly report",
		SuggestedTitle:  "Quarterly report",
		Category:        "work",
	}

	notion := staticMapping("notion", item)
	if notion["title"] != "Quarterly report" || notion["content"] != "draft the quarterly report" {
		t.Errorf("unexpected notion mapping: %v", notion)
	}

	obsidian := staticMapping("obsidian", item)
	if obsidian["filename"] != "Quarterly report" {
		t.Errorf("unexpected obsidian mapping: %v", obsidian)
	}

	linear := staticMapping("linear", item)
	if linear["description"] != "draft the quarterly report" {
		t.Errorf("unexpected linear mapping: %v", linear)
	}

	generic := staticMapping("generic", item)
	if generic["title"] != "Quarterly report" || generic["category"] != "work" {
		t.Errorf("unexpected generic mapping: %v", generic)
	}
}

func TestStaticMappingTruncatesTitle(t *testing.T) {
	item := &storage.Item{
		OriginalContent: "this content is well over fifty characters long and has no suggested title",
	}

	mapped := staticMapping("notion", item)
	title, _ := mapped["title"].(string)
	if len(title) != 50 {
		t.Errorf("expected 50 char title, got %d", len(title))
	}
	if mapped["content"] != item.OriginalContent {
		t.Error("content should not be truncated")
	}
}

func TestExtractExternalRef(t *testing.T) {
	tests := []struct {
		name    string
		result  *mcp.ToolResult
		wantID  string
		wantURL string
	}{
		{
			name: "structured fields",
			result: &mcp.ToolResult{Structured: map[string]interface{}{
				"id":  "page-1",
				"url": "https://notion.so/page-1",
			}},
			wantID:  "page-1",
			wantURL: "https://notion.so/page-1",
		},
		{
			name: "structured nested under data",
			result: &mcp.ToolResult{Structured: map[string]interface{}{
				"data": map[string]interface{}{"page_id": "p-9", "link": "https://x.test/p-9"},
			}},
			wantID:  "p-9",
			wantURL: "https://x.test/p-9",
		},
		{
			name:    "json in text",
			result:  &mcp.ToolResult{Text: `{"task_id": "t-3", "url": "https://todoist.com/t-3"}`},
			wantID:  "t-3",
			wantURL: "https://todoist.com/t-3",
		},
		{
			name:   "numeric id",
			result: &mcp.ToolResult{Text: `{"id": 4102}`},
			wantID: "4102",
		},
		{
			name:    "bare url in prose",
			result:  &mcp.ToolResult{Text: "Created note at https://vault.test/note-7 successfully"},
			wantURL: "https://vault.test/note-7",
		},
		{
			name:   "nothing to extract",
			result: &mcp.ToolResult{Text: "Done."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, url := extractExternalRef(tt.result)
			if id != tt.wantID {
				t.Errorf("expected id %q, got %q", tt.wantID, id)
			}
			if url != tt.wantURL {
				t.Errorf("expected url %q, got %q", tt.wantURL, url)
			}
		})
	}
}
