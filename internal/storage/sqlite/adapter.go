package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"content-router/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Connect(config storage.StorageConfig) error {
	sqliteConfig, ok := config.(*Config)
	if !ok {
		return fmt.Errorf("invalid config type for SQLite storage")
	}

	newAdapter, err := NewAdapter(sqliteConfig)
	if err != nil {
		return err
	}

	if a.db != nil {
		a.db.Close()
	}

	a.db = newAdapter.db
	a.config = newAdapter.config

	return nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		original_content TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'text',
		category TEXT NOT NULL DEFAULT '',
		entities TEXT NOT NULL DEFAULT '{}',
		summary TEXT NOT NULL DEFAULT '',
		suggested_title TEXT NOT NULL DEFAULT '',
		distributed_targets TEXT NOT NULL DEFAULT '[]',
		routing_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_user_status ON items(user_id, routing_status);
	CREATE INDEX IF NOT EXISTS idx_items_user_category ON items(user_id, category);

	CREATE TABLE IF NOT EXISTS distribution_results (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES items(id),
		user_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		adapter_type TEXT NOT NULL,
		status TEXT NOT NULL,
		external_id TEXT NOT NULL DEFAULT '',
		external_url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_item ON distribution_results(item_id);
	CREATE INDEX IF NOT EXISTS idx_results_user_time ON distribution_results(user_id, timestamp);

	CREATE TABLE IF NOT EXISTS distribution_configs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		adapter_type TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		conditions TEXT NOT NULL DEFAULT '[]',
		config TEXT NOT NULL DEFAULT '{}',
		remote_server_id TEXT NOT NULL DEFAULT '',
		processing_instructions TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_configs_user ON distribution_configs(user_id);

	CREATE TABLE IF NOT EXISTS remote_server_configs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		server_type TEXT NOT NULL DEFAULT 'generic',
		transport_type TEXT NOT NULL DEFAULT 'http',
		server_url TEXT NOT NULL DEFAULT '',
		command TEXT NOT NULL DEFAULT '',
		args TEXT NOT NULL DEFAULT '[]',
		auth_type TEXT NOT NULL DEFAULT 'none',
		api_key TEXT NOT NULL DEFAULT '',
		oauth_token TEXT NOT NULL DEFAULT '',
		default_tool TEXT NOT NULL DEFAULT '',
		timeout_seconds INTEGER NOT NULL DEFAULT 30,
		max_retries INTEGER NOT NULL DEFAULT 0,
		cache_ttl INTEGER NOT NULL DEFAULT 300,
		enabled INTEGER NOT NULL DEFAULT 1,
		last_healthy INTEGER NOT NULL DEFAULT 0,
		last_health_check TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_servers_user ON remote_server_configs(user_id);

	CREATE TABLE IF NOT EXISTS chat_backend_configs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		api_key TEXT NOT NULL DEFAULT '',
		base_url TEXT NOT NULL DEFAULT '',
		max_tokens INTEGER NOT NULL DEFAULT 0,
		temperature REAL NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 2,
		timeout_seconds INTEGER NOT NULL DEFAULT 30,
		enabled INTEGER NOT NULL DEFAULT 1,
		position INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_backends_user ON chat_backend_configs(user_id, position);

	CREATE TABLE IF NOT EXISTS usage_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		tokens_estimated INTEGER NOT NULL DEFAULT 0,
		request_payload TEXT NOT NULL DEFAULT '',
		response_payload TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		session_type TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_logs(user_id, created_at);
	`

	_, err := a.db.Exec(schema)
	return err
}

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Items

func (a *Adapter) CreateItem(item *storage.Item) error {
	if item.Entities == nil {
		item.Entities = map[string]interface{}{}
	}
	if item.DistributedTargets == nil {
		item.DistributedTargets = []string{}
	}
	if item.RoutingStatus == "" {
		item.RoutingStatus = storage.RoutingPending
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := a.db.Exec(`
		INSERT INTO items (id, user_id, original_content, content_type, category,
			entities, summary, suggested_title, distributed_targets, routing_status,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.OriginalContent, item.ContentType, item.Category,
		marshalJSON(item.Entities), item.Summary, item.SuggestedTitle,
		marshalJSON(item.DistributedTargets), string(item.RoutingStatus),
		item.CreatedAt, item.UpdatedAt)
	return err
}

func (a *Adapter) scanItem(row interface{ Scan(...interface{}) error }) (*storage.Item, error) {
	item := &storage.Item{}
	var entities, targets, status string
	err := row.Scan(&item.ID, &item.UserID, &item.OriginalContent, &item.ContentType,
		&item.Category, &entities, &item.Summary, &item.SuggestedTitle,
		&targets, &status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.RoutingStatus = storage.RoutingStatus(status)
	if err := json.Unmarshal([]byte(entities), &item.Entities); err != nil {
		item.Entities = map[string]interface{}{}
	}
	if err := json.Unmarshal([]byte(targets), &item.DistributedTargets); err != nil {
		item.DistributedTargets = []string{}
	}
	return item, nil
}

const itemColumns = `id, user_id, original_content, content_type, category, entities,
	summary, suggested_title, distributed_targets, routing_status, created_at, updated_at`

func (a *Adapter) GetItem(id string) (*storage.Item, error) {
	row := a.db.QueryRow(`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := a.scanItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %s not found", id)
	}
	return item, err
}

func (a *Adapter) ListItems(filters storage.ItemFilters) ([]*storage.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE user_id = ?`
	args := []interface{}{filters.UserID}

	if filters.RoutingStatus != "" {
		query += ` AND routing_status = ?`
		args = append(args, string(filters.RoutingStatus))
	}
	if filters.Category != "" {
		query += ` AND category = ?`
		args = append(args, filters.Category)
	}
	if filters.CreatedAfter != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filters.CreatedAfter)
	}
	if filters.CreatedBefore != nil {
		query += ` AND created_at <= ?`
		args = append(args, *filters.CreatedBefore)
	}
	query += ` ORDER BY created_at ASC`
	if filters.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filters.Limit)
	}

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*storage.Item
	for rows.Next() {
		item, err := a.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (a *Adapter) UpdateItemRouting(id string, status storage.RoutingStatus) error {
	result, err := a.db.Exec(`UPDATE items SET routing_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("item %s not found", id)
	}
	return nil
}

func (a *Adapter) AddDistributedTarget(id string, targetID string) error {
	item, err := a.GetItem(id)
	if err != nil {
		return err
	}
	for _, existing := range item.DistributedTargets {
		if existing == targetID {
			return nil
		}
	}
	targets := append(item.DistributedTargets, targetID)
	_, err = a.db.Exec(`UPDATE items SET distributed_targets = ?, updated_at = ? WHERE id = ?`,
		marshalJSON(targets), time.Now().UTC(), id)
	return err
}

// Distribution results

func (a *Adapter) CreateDistributionResult(result *storage.DistributionResult) error {
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}
	_, err := a.db.Exec(`
		INSERT INTO distribution_results (id, item_id, user_id, target_id, adapter_type,
			status, external_id, external_url, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.ItemID, result.UserID, result.TargetID, result.AdapterType,
		string(result.Status), result.ExternalID, result.ExternalURL, result.Error,
		result.Timestamp)
	return err
}

func (a *Adapter) scanResults(rows *sql.Rows) ([]*storage.DistributionResult, error) {
	defer rows.Close()
	var results []*storage.DistributionResult
	for rows.Next() {
		r := &storage.DistributionResult{}
		var status string
		err := rows.Scan(&r.ID, &r.ItemID, &r.UserID, &r.TargetID, &r.AdapterType,
			&status, &r.ExternalID, &r.ExternalURL, &r.Error, &r.Timestamp)
		if err != nil {
			return nil, err
		}
		r.Status = storage.DistributionStatus(status)
		results = append(results, r)
	}
	return results, rows.Err()
}

const resultColumns = `id, item_id, user_id, target_id, adapter_type, status,
	external_id, external_url, error, timestamp`

func (a *Adapter) GetItemDistributionResults(itemID string) ([]*storage.DistributionResult, error) {
	rows, err := a.db.Query(`SELECT `+resultColumns+` FROM distribution_results
		WHERE item_id = ? ORDER BY timestamp ASC`, itemID)
	if err != nil {
		return nil, err
	}
	return a.scanResults(rows)
}

func (a *Adapter) ListDistributionResults(userID string, limit, offset int) ([]*storage.DistributionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(`SELECT `+resultColumns+` FROM distribution_results
		WHERE user_id = ? ORDER BY timestamp DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return a.scanResults(rows)
}

func (a *Adapter) CountDistributionResults(userID string) (int, error) {
	var count int
	err := a.db.QueryRow(`SELECT COUNT(*) FROM distribution_results WHERE user_id = ?`,
		userID).Scan(&count)
	return count, err
}

// Distribution configs

func (a *Adapter) CreateDistributionConfig(config *storage.DistributionConfig) error {
	now := time.Now().UTC()
	if config.CreatedAt.IsZero() {
		config.CreatedAt = now
	}
	config.UpdatedAt = now
	_, err := a.db.Exec(`
		INSERT INTO distribution_configs (id, user_id, name, adapter_type, enabled,
			priority, conditions, config, remote_server_id, processing_instructions,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		config.ID, config.UserID, config.Name, config.AdapterType, config.Enabled,
		config.Priority, marshalJSON(config.Conditions), marshalJSON(config.Config),
		config.RemoteServerID, config.ProcessingInstructions,
		config.CreatedAt, config.UpdatedAt)
	return err
}

const configColumns = `id, user_id, name, adapter_type, enabled, priority, conditions,
	config, remote_server_id, processing_instructions, created_at, updated_at`

func (a *Adapter) scanConfig(row interface{ Scan(...interface{}) error }) (*storage.DistributionConfig, error) {
	c := &storage.DistributionConfig{}
	var conditions, configDoc string
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.AdapterType, &c.Enabled, &c.Priority,
		&conditions, &configDoc, &c.RemoteServerID, &c.ProcessingInstructions,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(conditions), &c.Conditions); err != nil {
		c.Conditions = nil
	}
	if err := json.Unmarshal([]byte(configDoc), &c.Config); err != nil {
		c.Config = map[string]interface{}{}
	}
	return c, nil
}

func (a *Adapter) GetDistributionConfig(id string) (*storage.DistributionConfig, error) {
	row := a.db.QueryRow(`SELECT `+configColumns+` FROM distribution_configs WHERE id = ?`, id)
	config, err := a.scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("distribution config %s not found", id)
	}
	return config, err
}

func (a *Adapter) GetDistributionConfigs(userID string) ([]*storage.DistributionConfig, error) {
	rows, err := a.db.Query(`SELECT `+configColumns+` FROM distribution_configs
		WHERE user_id = ? ORDER BY priority DESC, created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*storage.DistributionConfig
	for rows.Next() {
		config, err := a.scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, config)
	}
	return configs, rows.Err()
}

func (a *Adapter) UpdateDistributionConfig(config *storage.DistributionConfig) error {
	config.UpdatedAt = time.Now().UTC()
	result, err := a.db.Exec(`
		UPDATE distribution_configs SET name = ?, adapter_type = ?, enabled = ?,
			priority = ?, conditions = ?, config = ?, remote_server_id = ?,
			processing_instructions = ?, updated_at = ?
		WHERE id = ?`,
		config.Name, config.AdapterType, config.Enabled, config.Priority,
		marshalJSON(config.Conditions), marshalJSON(config.Config),
		config.RemoteServerID, config.ProcessingInstructions, config.UpdatedAt,
		config.ID)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("distribution config %s not found", config.ID)
	}
	return nil
}

func (a *Adapter) DeleteDistributionConfig(id string) error {
	_, err := a.db.Exec(`DELETE FROM distribution_configs WHERE id = ?`, id)
	return err
}

// Remote server configs

const serverColumns = `id, user_id, name, server_type, transport_type, server_url,
	command, args, auth_type, api_key, oauth_token, default_tool, timeout_seconds,
	max_retries, cache_ttl, enabled, last_healthy, last_health_check, created_at, updated_at`

func (a *Adapter) CreateRemoteServerConfig(config *storage.RemoteServerConfig) error {
	now := time.Now().UTC()
	if config.CreatedAt.IsZero() {
		config.CreatedAt = now
	}
	config.UpdatedAt = now
	_, err := a.db.Exec(`
		INSERT INTO remote_server_configs (id, user_id, name, server_type, transport_type,
			server_url, command, args, auth_type, api_key, oauth_token, default_tool,
			timeout_seconds, max_retries, cache_ttl, enabled, last_healthy,
			last_health_check, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		config.ID, config.UserID, config.Name, config.ServerType, string(config.TransportType),
		config.ServerURL, config.Command, marshalJSON(config.Args), config.AuthType,
		config.APIKey, config.OAuthToken, config.DefaultTool, config.TimeoutSeconds,
		config.MaxRetries, config.CacheTTL, config.Enabled, config.LastHealthy,
		config.LastHealthCheck, config.CreatedAt, config.UpdatedAt)
	return err
}

func (a *Adapter) scanServer(row interface{ Scan(...interface{}) error }) (*storage.RemoteServerConfig, error) {
	c := &storage.RemoteServerConfig{}
	var transport, args string
	var lastCheck sql.NullTime
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.ServerType, &transport, &c.ServerURL,
		&c.Command, &args, &c.AuthType, &c.APIKey, &c.OAuthToken, &c.DefaultTool,
		&c.TimeoutSeconds, &c.MaxRetries, &c.CacheTTL, &c.Enabled, &c.LastHealthy,
		&lastCheck, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.TransportType = storage.TransportType(transport)
	if err := json.Unmarshal([]byte(args), &c.Args); err != nil {
		c.Args = nil
	}
	if lastCheck.Valid {
		c.LastHealthCheck = &lastCheck.Time
	}
	return c, nil
}

func (a *Adapter) GetRemoteServerConfig(id string) (*storage.RemoteServerConfig, error) {
	row := a.db.QueryRow(`SELECT `+serverColumns+` FROM remote_server_configs WHERE id = ?`, id)
	config, err := a.scanServer(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("remote server config %s not found", id)
	}
	return config, err
}

func (a *Adapter) queryServers(query string, args ...interface{}) ([]*storage.RemoteServerConfig, error) {
	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*storage.RemoteServerConfig
	for rows.Next() {
		config, err := a.scanServer(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, config)
	}
	return configs, rows.Err()
}

func (a *Adapter) GetRemoteServerConfigs(userID string) ([]*storage.RemoteServerConfig, error) {
	return a.queryServers(`SELECT `+serverColumns+` FROM remote_server_configs
		WHERE user_id = ? ORDER BY created_at ASC`, userID)
}

func (a *Adapter) ListEnabledRemoteServerConfigs() ([]*storage.RemoteServerConfig, error) {
	return a.queryServers(`SELECT ` + serverColumns + ` FROM remote_server_configs
		WHERE enabled = 1 ORDER BY created_at ASC`)
}

func (a *Adapter) UpdateRemoteServerConfig(config *storage.RemoteServerConfig) error {
	config.UpdatedAt = time.Now().UTC()
	result, err := a.db.Exec(`
		UPDATE remote_server_configs SET name = ?, server_type = ?, transport_type = ?,
			server_url = ?, command = ?, args = ?, auth_type = ?, api_key = ?,
			oauth_token = ?, default_tool = ?, timeout_seconds = ?, max_retries = ?,
			cache_ttl = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		config.Name, config.ServerType, string(config.TransportType), config.ServerURL,
		config.Command, marshalJSON(config.Args), config.AuthType, config.APIKey,
		config.OAuthToken, config.DefaultTool, config.TimeoutSeconds, config.MaxRetries,
		config.CacheTTL, config.Enabled, config.UpdatedAt, config.ID)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("remote server config %s not found", config.ID)
	}
	return nil
}

func (a *Adapter) UpdateRemoteServerHealth(id string, healthy bool, checkedAt time.Time) error {
	_, err := a.db.Exec(`UPDATE remote_server_configs
		SET last_healthy = ?, last_health_check = ?, updated_at = ? WHERE id = ?`,
		healthy, checkedAt, time.Now().UTC(), id)
	return err
}

func (a *Adapter) DeleteRemoteServerConfig(id string) error {
	_, err := a.db.Exec(`DELETE FROM remote_server_configs WHERE id = ?`, id)
	return err
}

// Chat backends

func (a *Adapter) CreateChatBackendConfig(config *storage.ChatBackendConfig) error {
	_, err := a.db.Exec(`
		INSERT INTO chat_backend_configs (id, user_id, provider, model, api_key,
			base_url, max_tokens, temperature, max_retries, timeout_seconds, enabled, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		config.ID, config.UserID, config.Provider, config.Model, config.APIKey,
		config.BaseURL, config.MaxTokens, config.Temperature, config.MaxRetries,
		config.TimeoutSeconds, config.Enabled, config.Position)
	return err
}

func (a *Adapter) GetChatBackendConfigs(userID string) ([]*storage.ChatBackendConfig, error) {
	rows, err := a.db.Query(`SELECT id, user_id, provider, model, api_key, base_url,
		max_tokens, temperature, max_retries, timeout_seconds, enabled, position
		FROM chat_backend_configs WHERE user_id = ? ORDER BY position ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*storage.ChatBackendConfig
	for rows.Next() {
		c := &storage.ChatBackendConfig{}
		err := rows.Scan(&c.ID, &c.UserID, &c.Provider, &c.Model, &c.APIKey, &c.BaseURL,
			&c.MaxTokens, &c.Temperature, &c.MaxRetries, &c.TimeoutSeconds, &c.Enabled,
			&c.Position)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func (a *Adapter) UpdateChatBackendConfig(config *storage.ChatBackendConfig) error {
	result, err := a.db.Exec(`
		UPDATE chat_backend_configs SET provider = ?, model = ?, api_key = ?,
			base_url = ?, max_tokens = ?, temperature = ?, max_retries = ?,
			timeout_seconds = ?, enabled = ?, position = ?
		WHERE id = ?`,
		config.Provider, config.Model, config.APIKey, config.BaseURL, config.MaxTokens,
		config.Temperature, config.MaxRetries, config.TimeoutSeconds, config.Enabled,
		config.Position, config.ID)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("chat backend config %s not found", config.ID)
	}
	return nil
}

func (a *Adapter) DeleteChatBackendConfig(id string) error {
	_, err := a.db.Exec(`DELETE FROM chat_backend_configs WHERE id = ?`, id)
	return err
}

// Usage logs

func (a *Adapter) CreateUsageLog(log *storage.UsageLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := a.db.Exec(`
		INSERT INTO usage_logs (id, user_id, provider, model, prompt_tokens,
			completion_tokens, total_tokens, tokens_estimated, request_payload,
			response_payload, status, error, session_id, session_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.UserID, log.Provider, log.Model, log.PromptTokens,
		log.CompletionTokens, log.TotalTokens, log.TokensEstimated, log.RequestPayload,
		log.ResponsePayload, log.Status, log.Error, log.SessionID, log.SessionType,
		log.CreatedAt)
	return err
}
