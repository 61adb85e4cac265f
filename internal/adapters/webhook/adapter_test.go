package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"content-router/internal/adapters"
	"content-router/internal/common/logging"
	"content-router/internal/storage"
)

func newTestAdapter(t *testing.T, config map[string]interface{}) *Adapter {
	t.Helper()

	adapter := &Adapter{deps: &adapters.Deps{
		HTTPClient: http.DefaultClient,
		Logger:     logging.NewNopLogger(),
	}}
	params := &adapters.InitParams{
		RuleID: "rule-1",
		UserID: "user-1",
		Config: config,
	}
	if err := adapter.Initialize(context.Background(), params); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return adapter
}

func testItem() *storage.Item {
	return &storage.Item{
		ID:              "item-1",
		UserID:          "user-1",
		OriginalContent: "meeting notes from standup",
		ContentType:     "note",
		Category:        "work",
	}
}

func TestDistributePostsItem(t *testing.T) {
	var received storage.Item
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %s", ct)
		}
		if r.Header.Get("X-Api-Key") != "extra" {
			t.Error("expected custom header to be forwarded")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "evt-9", "url": "https://example.com/evt-9"})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, map[string]interface{}{
		"url":     server.URL,
		"headers": map[string]interface{}{"X-Api-Key": "extra"},
	})
	result := adapter.Distribute(context.Background(), testItem())

	if result.Status != storage.DistributionSuccess {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Error)
	}
	if result.ExternalID != "evt-9" || result.ExternalURL != "https://example.com/evt-9" {
		t.Errorf("expected response ref, got %s / %s", result.ExternalID, result.ExternalURL)
	}
	if received.ID != "item-1" || received.Category != "work" {
		t.Errorf("endpoint received wrong item: %+v", received)
	}
}

func TestDistributeSignsRequests(t *testing.T) {
	const secret = "shh"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timestamp := r.Header.Get("X-Webhook-Timestamp")
		if timestamp == "" {
			t.Fatal("expected timestamp header")
		}
		body, _ := io.ReadAll(r.Body)

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(timestamp))
		mac.Write([]byte("."))
		mac.Write(body)
		want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

		if got := r.Header.Get("X-Webhook-Signature"); got != want {
			t.Errorf("signature mismatch: got %s want %s", got, want)
		}
	}))
	defer server.Close()

	adapter := newTestAdapter(t, map[string]interface{}{
		"url":    server.URL,
		"secret": secret,
	})
	if result := adapter.Distribute(context.Background(), testItem()); result.Status != storage.DistributionSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
}

func TestDistributeUnsignedWithoutSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Webhook-Signature") != "" {
			t.Error("expected no signature header without a secret")
		}
	}))
	defer server.Close()

	adapter := newTestAdapter(t, map[string]interface{}{"url": server.URL})
	if result := adapter.Distribute(context.Background(), testItem()); result.Status != storage.DistributionSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
}

func TestDistributeEndpointError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, map[string]interface{}{"url": server.URL})
	result := adapter.Distribute(context.Background(), testItem())

	if result.Status != storage.DistributionFailed {
		t.Fatalf("expected failed result, got %s", result.Status)
	}
	if !strings.Contains(result.Error, "502") || !strings.Contains(result.Error, "upstream down") {
		t.Errorf("expected status and body in message, got %q", result.Error)
	}
}

func TestDistributeConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	adapter := newTestAdapter(t, map[string]interface{}{"url": server.URL})
	server.Close()

	result := adapter.Distribute(context.Background(), testItem())
	if result.Status != storage.DistributionFailed {
		t.Fatalf("expected failed result, got %s", result.Status)
	}
}

func TestValidate(t *testing.T) {
	adapter := &Adapter{}
	tests := []struct {
		name    string
		config  map[string]interface{}
		wantErr bool
	}{
		{"valid https", map[string]interface{}{"url": "https://example.com/hook"}, false},
		{"valid http", map[string]interface{}{"url": "http://localhost:9000"}, false},
		{"missing url", map[string]interface{}{}, true},
		{"bad scheme", map[string]interface{}{"url": "ftp://example.com"}, true},
		{"not a url", map[string]interface{}{"url": "://broken"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := adapter.Validate(&adapters.InitParams{Config: tt.config})
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
