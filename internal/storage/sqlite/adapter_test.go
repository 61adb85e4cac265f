package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-router/internal/storage"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(&Config{
		DatabasePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.NoError(t, (&Config{DatabasePath: "x.db"}).Validate())
}

func TestAdapter_ItemLifecycle(t *testing.T) {
	adapter := newTestAdapter(t)

	item := &storage.Item{
		ID:              "item-1",
		UserID:          "user-1",
		OriginalContent: "buy oat milk",
		ContentType:     "text",
		Category:        "todo",
		Entities:        map[string]interface{}{"people": []interface{}{"sam"}},
		SuggestedTitle:  "Buy oat milk",
	}
	require.NoError(t, adapter.CreateItem(item))

	got, err := adapter.GetItem("item-1")
	require.NoError(t, err)
	assert.Equal(t, "buy oat milk", got.OriginalContent)
	assert.Equal(t, storage.RoutingPending, got.RoutingStatus)
	assert.Equal(t, []interface{}{"sam"}, got.Entities["people"])

	require.NoError(t, adapter.UpdateItemRouting("item-1", storage.RoutingCompleted))
	got, err = adapter.GetItem("item-1")
	require.NoError(t, err)
	assert.Equal(t, storage.RoutingCompleted, got.RoutingStatus)

	require.NoError(t, adapter.AddDistributedTarget("item-1", "rule-a"))
	require.NoError(t, adapter.AddDistributedTarget("item-1", "rule-a")) // idempotent
	require.NoError(t, adapter.AddDistributedTarget("item-1", "rule-b"))
	got, err = adapter.GetItem("item-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"rule-a", "rule-b"}, got.DistributedTargets)

	_, err = adapter.GetItem("missing")
	assert.Error(t, err)
}

func TestAdapter_ListItemsFilters(t *testing.T) {
	adapter := newTestAdapter(t)

	for _, item := range []*storage.Item{
		{ID: "a", UserID: "u1", OriginalContent: "x", Category: "todo", RoutingStatus: storage.RoutingFailed},
		{ID: "b", UserID: "u1", OriginalContent: "y", Category: "idea", RoutingStatus: storage.RoutingCompleted},
		{ID: "c", UserID: "u2", OriginalContent: "z", Category: "todo", RoutingStatus: storage.RoutingFailed},
	} {
		require.NoError(t, adapter.CreateItem(item))
	}

	items, err := adapter.ListItems(storage.ItemFilters{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = adapter.ListItems(storage.ItemFilters{UserID: "u1", RoutingStatus: storage.RoutingFailed})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)

	items, err = adapter.ListItems(storage.ItemFilters{UserID: "u1", Category: "idea"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ID)
}

func TestAdapter_DistributionResults(t *testing.T) {
	adapter := newTestAdapter(t)

	require.NoError(t, adapter.CreateItem(&storage.Item{ID: "item-1", UserID: "u1", OriginalContent: "x"}))

	for i, status := range []storage.DistributionStatus{storage.DistributionSuccess, storage.DistributionFailed} {
		require.NoError(t, adapter.CreateDistributionResult(&storage.DistributionResult{
			ID:          string(rune('a' + i)),
			ItemID:      "item-1",
			UserID:      "u1",
			TargetID:    "rule-1",
			AdapterType: "todoist",
			Status:      status,
			Timestamp:   time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	results, err := adapter.GetItemDistributionResults("item-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, storage.DistributionSuccess, results[0].Status)

	recent, err := adapter.ListDistributionResults("u1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
	// Most recent first
	assert.Equal(t, storage.DistributionFailed, recent[0].Status)

	count, err := adapter.CountDistributionResults("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = adapter.CountDistributionResults("u2")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAdapter_DistributionConfigOrdering(t *testing.T) {
	adapter := newTestAdapter(t)

	base := time.Now().UTC()
	for i, cfg := range []*storage.DistributionConfig{
		{ID: "low", UserID: "u1", AdapterType: "localfile", Enabled: true, Priority: 1},
		{ID: "high", UserID: "u1", AdapterType: "todoist", Enabled: true, Priority: 10,
			Conditions: []storage.Condition{{Field: "category", Operator: "equals", Value: "todo"}}},
		{ID: "mid", UserID: "u1", AdapterType: "webhook", Enabled: false, Priority: 5},
		{ID: "mid-later", UserID: "u1", AdapterType: "localfile", Enabled: true, Priority: 5},
	} {
		cfg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, adapter.CreateDistributionConfig(cfg))
	}

	// Priority descending, creation time breaking ties
	configs, err := adapter.GetDistributionConfigs("u1")
	require.NoError(t, err)
	require.Len(t, configs, 4)
	assert.Equal(t, "high", configs[0].ID)
	assert.Equal(t, "mid", configs[1].ID)
	assert.Equal(t, "mid-later", configs[2].ID)
	assert.Equal(t, "low", configs[3].ID)

	// Conditions survive the JSON round trip
	require.Len(t, configs[0].Conditions, 1)
	assert.Equal(t, "equals", configs[0].Conditions[0].Operator)
	assert.Equal(t, "todo", configs[0].Conditions[0].Value)
}

func TestAdapter_RemoteServerConfig(t *testing.T) {
	adapter := newTestAdapter(t)

	cfg := &storage.RemoteServerConfig{
		ID:            "srv-1",
		UserID:        "u1",
		Name:          "notion",
		ServerType:    "notion",
		TransportType: storage.TransportStdio,
		Command:       "notion-mcp",
		Args:          []string{"--workspace", "main"},
		AuthType:      "api_key",
		APIKey:        "secret",
		CacheTTL:      300,
		Enabled:       true,
	}
	require.NoError(t, adapter.CreateRemoteServerConfig(cfg))

	got, err := adapter.GetRemoteServerConfig("srv-1")
	require.NoError(t, err)
	assert.Equal(t, storage.TransportStdio, got.TransportType)
	assert.Equal(t, []string{"--workspace", "main"}, got.Args)
	assert.Nil(t, got.LastHealthCheck)

	checkedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, adapter.UpdateRemoteServerHealth("srv-1", true, checkedAt))
	got, err = adapter.GetRemoteServerConfig("srv-1")
	require.NoError(t, err)
	assert.True(t, got.LastHealthy)
	require.NotNil(t, got.LastHealthCheck)

	enabled, err := adapter.ListEnabledRemoteServerConfigs()
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
}

func TestAdapter_ChatBackendsAndUsage(t *testing.T) {
	adapter := newTestAdapter(t)

	for i, provider := range []string{"openai", "anthropic"} {
		require.NoError(t, adapter.CreateChatBackendConfig(&storage.ChatBackendConfig{
			ID:       provider,
			UserID:   "u1",
			Provider: provider,
			Model:    "m",
			Enabled:  true,
			Position: i,
		}))
	}

	backends, err := adapter.GetChatBackendConfigs("u1")
	require.NoError(t, err)
	require.Len(t, backends, 2)
	assert.Equal(t, "openai", backends[0].Provider)

	require.NoError(t, adapter.CreateUsageLog(&storage.UsageLog{
		ID:           "log-1",
		UserID:       "u1",
		Provider:     "openai",
		Model:        "m",
		PromptTokens: 12,
		Status:       "success",
	}))
}
