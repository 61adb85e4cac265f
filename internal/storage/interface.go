package storage

import (
	"time"
)

// RoutingStatus tracks where an item is in its distribution lifecycle.
type RoutingStatus string

const (
	RoutingPending    RoutingStatus = "pending"
	RoutingSkipped    RoutingStatus = "skipped"
	RoutingProcessing RoutingStatus = "processing"
	RoutingCompleted  RoutingStatus = "completed"
	RoutingFailed     RoutingStatus = "failed"
)

// Item is a captured piece of user content with classification metadata
// and distribution state. The capture subsystem owns content fields; the
// routing core reads them and appends distribution state.
type Item struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"user_id"`
	OriginalContent string                 `json:"original_content"`
	ContentType     string                 `json:"content_type"`
	Category        string                 `json:"category"`
	Entities        map[string]interface{} `json:"entities,omitempty"`
	Summary         string                 `json:"summary,omitempty"`
	SuggestedTitle  string                 `json:"suggested_title,omitempty"`

	DistributedTargets []string      `json:"distributed_targets,omitempty"`
	RoutingStatus      RoutingStatus `json:"routing_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Condition is a single predicate on an item field. All conditions on a
// rule must hold for the rule to match.
type Condition struct {
	Field    string      `json:"field"`    // dot-path into the item (e.g. "category", "entities.project")
	Operator string      `json:"operator"` // equals, contains, startsWith, endsWith, regex
	Value    interface{} `json:"value"`
}

// DistributionConfig is a user-defined rule binding conditions to an
// adapter. Rules are evaluated in priority order (higher first, creation
// order breaking ties).
type DistributionConfig struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Name        string      `json:"name"`
	AdapterType string      `json:"adapter_type"`
	Enabled     bool        `json:"enabled"`
	Priority    int         `json:"priority"`
	Conditions  []Condition `json:"conditions,omitempty"`

	// Config carries adapter-specific settings as an opaque document.
	Config map[string]interface{} `json:"config,omitempty"`

	// RemoteServerID links the rule to a RemoteServerConfig when the
	// adapter talks to a remote tool server.
	RemoteServerID string `json:"remote_server_id,omitempty"`

	// ProcessingInstructions is optional natural language guiding how
	// item fields are mapped into the destination's input shape.
	ProcessingInstructions string `json:"processing_instructions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransportType selects how a remote tool server is reached.
type TransportType string

const (
	TransportHTTP  TransportType = "http"
	TransportStdio TransportType = "stdio"
)

// RemoteServerConfig is a per-user connection descriptor for a remote
// tool server. Exactly one of ServerURL/Command is authoritative,
// depending on TransportType.
type RemoteServerConfig struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Name          string        `json:"name"`
	ServerType    string        `json:"server_type"` // notion, obsidian, generic, ...
	TransportType TransportType `json:"transport_type"`
	ServerURL     string        `json:"server_url,omitempty"`
	Command       string        `json:"command,omitempty"`
	Args          []string      `json:"args,omitempty"`

	AuthType   string `json:"auth_type"` // api_key, oauth, none
	APIKey     string `json:"api_key,omitempty"`
	OAuthToken string `json:"oauth_token,omitempty"`

	DefaultTool    string `json:"default_tool,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	MaxRetries     int    `json:"max_retries,omitempty"`
	CacheTTL       int    `json:"cache_ttl,omitempty"` // seconds

	Enabled         bool       `json:"enabled"`
	LastHealthy     bool       `json:"last_healthy"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DistributionStatus is the outcome of one rule for one item.
type DistributionStatus string

const (
	DistributionSuccess DistributionStatus = "success"
	DistributionFailed  DistributionStatus = "failed"
)

// DistributionResult records one rule's outcome for one item.
// Append-only, never mutated once written.
type DistributionResult struct {
	ID          string             `json:"id"`
	ItemID      string             `json:"item_id"`
	UserID      string             `json:"user_id"`
	TargetID    string             `json:"target_id"`
	AdapterType string             `json:"adapter_type"`
	Status      DistributionStatus `json:"status"`
	ExternalID  string             `json:"external_id,omitempty"`
	ExternalURL string             `json:"external_url,omitempty"`
	Error       string             `json:"error,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// ChatBackendConfig describes one language-model backend. Backends are
// tried in Position order by the chat client.
type ChatBackendConfig struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	Provider       string  `json:"provider"` // openai, anthropic, or any openai-compatible
	Model          string  `json:"model"`
	APIKey         string  `json:"api_key"`
	BaseURL        string  `json:"base_url,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxRetries     int     `json:"max_retries,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
	Enabled        bool    `json:"enabled"`
	Position       int     `json:"position"`
}

// UsageLog is one chat call's accounting entry, written asynchronously
// by the chat client.
type UsageLog struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	TokensEstimated  bool      `json:"tokens_estimated"`
	RequestPayload   string    `json:"request_payload,omitempty"`
	ResponsePayload  string    `json:"response_payload,omitempty"`
	Status           string    `json:"status"` // success, error
	Error            string    `json:"error,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	SessionType      string    `json:"session_type,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ItemFilters scopes item listing for batch redistribution.
type ItemFilters struct {
	UserID        string
	RoutingStatus RoutingStatus
	Category      string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
}

// StorageConfig is implemented by backend-specific configurations.
type StorageConfig interface {
	Validate() error
	GetType() string
}

// Storage is the persistence contract used by the routing core.
type Storage interface {
	// Connection management
	Connect(config StorageConfig) error
	Close() error
	Health() error

	// Items
	CreateItem(item *Item) error
	GetItem(id string) (*Item, error)
	ListItems(filters ItemFilters) ([]*Item, error)
	UpdateItemRouting(id string, status RoutingStatus) error
	AddDistributedTarget(id string, targetID string) error

	// Distribution results (append-only)
	CreateDistributionResult(result *DistributionResult) error
	GetItemDistributionResults(itemID string) ([]*DistributionResult, error)
	ListDistributionResults(userID string, limit, offset int) ([]*DistributionResult, error)
	CountDistributionResults(userID string) (int, error)

	// Distribution configs (rules)
	CreateDistributionConfig(config *DistributionConfig) error
	GetDistributionConfig(id string) (*DistributionConfig, error)
	// GetDistributionConfigs returns the user's rules ordered by
	// priority descending, then creation time ascending. The router
	// relies on this order when evaluating rules.
	GetDistributionConfigs(userID string) ([]*DistributionConfig, error)
	UpdateDistributionConfig(config *DistributionConfig) error
	DeleteDistributionConfig(id string) error

	// Remote server configs
	CreateRemoteServerConfig(config *RemoteServerConfig) error
	GetRemoteServerConfig(id string) (*RemoteServerConfig, error)
	GetRemoteServerConfigs(userID string) ([]*RemoteServerConfig, error)
	ListEnabledRemoteServerConfigs() ([]*RemoteServerConfig, error)
	UpdateRemoteServerConfig(config *RemoteServerConfig) error
	UpdateRemoteServerHealth(id string, healthy bool, checkedAt time.Time) error
	DeleteRemoteServerConfig(id string) error

	// Chat backends
	CreateChatBackendConfig(config *ChatBackendConfig) error
	GetChatBackendConfigs(userID string) ([]*ChatBackendConfig, error)
	UpdateChatBackendConfig(config *ChatBackendConfig) error
	DeleteChatBackendConfig(id string) error

	// Usage logs
	CreateUsageLog(log *UsageLog) error
}
