// Package webhook implements the generic HTTP adapter, posting items as
// JSON to a user-supplied endpoint with optional request signing.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"content-router/internal/adapters"
	"content-router/internal/common/errors"
	"content-router/internal/storage"
)

const (
	AdapterType = "webhook"

	signatureHeader = "X-Webhook-Signature"
	timestampHeader = "X-Webhook-Timestamp"
)

type Adapter struct {
	deps    *adapters.Deps
	params  *adapters.InitParams
	url     string
	secret  string
	headers map[string]string
}

func (a *Adapter) Type() string {
	return AdapterType
}

func (a *Adapter) Validate(params *adapters.InitParams) error {
	endpoint, _ := params.Config["url"].(string)
	if endpoint == "" {
		return errors.ConfigError("webhook adapter requires a url")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.ConfigError("webhook url must be http or https")
	}
	return nil
}

func (a *Adapter) Initialize(ctx context.Context, params *adapters.InitParams) error {
	if err := a.Validate(params); err != nil {
		return err
	}
	a.params = params
	a.url, _ = params.Config["url"].(string)
	a.secret, _ = params.Config["secret"].(string)

	a.headers = map[string]string{}
	if raw, ok := params.Config["headers"].(map[string]interface{}); ok {
		for key, value := range raw {
			if s, ok := value.(string); ok {
				a.headers[key] = s
			}
		}
	}
	return nil
}

func (a *Adapter) Distribute(ctx context.Context, item *storage.Item) *storage.DistributionResult {
	payload, err := json.Marshal(item)
	if err != nil {
		return adapters.FailedResult(a.params, AdapterType, item, "failed to encode item: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return adapters.FailedResult(a.params, AdapterType, item, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range a.headers {
		req.Header.Set(key, value)
	}
	if a.secret != "" {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(timestampHeader, timestamp)
		req.Header.Set(signatureHeader, sign(a.secret, timestamp, payload))
	}

	resp, err := a.deps.HTTPClient.Do(req)
	if err != nil {
		return adapters.FailedResult(a.params, AdapterType, item, err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := fmt.Sprintf("endpoint returned %d", resp.StatusCode)
		if len(body) > 0 {
			message += ": " + strings.TrimSpace(string(body))
		}
		return adapters.FailedResult(a.params, AdapterType, item, message)
	}

	externalID, externalURL := responseRef(body)
	return adapters.SuccessResult(a.params, AdapterType, item, externalID, externalURL)
}

// sign computes the hex HMAC-SHA256 over "timestamp.body", the same
// shape inbound verifiers expect.
func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// responseRef pulls an id and url out of the endpoint's response when
// it answers with JSON. Endpoints are not required to return anything.
func responseRef(body []byte) (string, string) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", ""
	}
	id, _ := doc["id"].(string)
	link, _ := doc["url"].(string)
	return id, link
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.url, nil)
	if err != nil {
		return false
	}
	resp, err := a.deps.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (a *Adapter) Cleanup() {}
