// Package adapters defines the polymorphic destination adapter interface
// and the registry concrete adapters register themselves into. An adapter
// owns validation, initialization, single-item distribution, and health
// checking for one destination kind.
package adapters

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"content-router/internal/common/cache"
	"content-router/internal/common/logging"
	"content-router/internal/mapping"
	"content-router/internal/storage"
)

// InitParams carries everything a rule binds to its adapter instance.
type InitParams struct {
	// RuleID identifies the rule; distribution results reference it as
	// their target
	RuleID string
	UserID string

	// Config is the rule's free-form adapter configuration
	Config map[string]interface{}

	// RemoteServer is set when the rule references a remote tool server
	RemoteServer *storage.RemoteServerConfig

	// Instructions is the rule's natural-language mapping guidance
	Instructions string
}

// Adapter delivers one item to one kind of destination. Distribute never
// returns a Go error for destination-side failures; those come back as a
// failed DistributionResult so sibling rules keep running. Initialize may
// fail for configuration errors and the caller must handle that before
// marking the rule usable.
type Adapter interface {
	Type() string
	Validate(params *InitParams) error
	Initialize(ctx context.Context, params *InitParams) error
	Distribute(ctx context.Context, item *storage.Item) *storage.DistributionResult
	HealthCheck(ctx context.Context) bool
	Cleanup()
}

// Deps are the shared collaborators adapters draw on.
type Deps struct {
	Mapper     *mapping.Service
	ToolCache  cache.Cache
	HTTPClient *http.Client
	Logger     logging.Logger
}

// SuccessResult builds a success DistributionResult for the given rule
// binding.
func SuccessResult(params *InitParams, adapterType string, item *storage.Item, externalID, externalURL string) *storage.DistributionResult {
	return &storage.DistributionResult{
		ID:          uuid.New().String(),
		ItemID:      item.ID,
		UserID:      item.UserID,
		TargetID:    params.RuleID,
		AdapterType: adapterType,
		Status:      storage.DistributionSuccess,
		ExternalID:  externalID,
		ExternalURL: externalURL,
		Timestamp:   time.Now().UTC(),
	}
}

// FailedResult builds a failed DistributionResult carrying a
// human-readable message.
func FailedResult(params *InitParams, adapterType string, item *storage.Item, message string) *storage.DistributionResult {
	return &storage.DistributionResult{
		ID:          uuid.New().String(),
		ItemID:      item.ID,
		UserID:      item.UserID,
		TargetID:    params.RuleID,
		AdapterType: adapterType,
		Status:      storage.DistributionFailed,
		Error:       message,
		Timestamp:   time.Now().UTC(),
	}
}
