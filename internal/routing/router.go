package routing

import (
	"context"
	"fmt"

	"content-router/internal/adapters"
	"content-router/internal/common/logging"
	"content-router/internal/storage"
)

// Summary is the outcome of distributing one item: its final routing
// status and one result per matched rule.
type Summary struct {
	ItemID       string                        `json:"item_id"`
	Status       storage.RoutingStatus         `json:"status"`
	MatchedRules int                           `json:"matched_rules"`
	Results      []*storage.DistributionResult `json:"results"`
}

// Router evaluates a user's rules against an item and drives the matched
// adapters. Rules run in priority order; one rule's failure never blocks
// the others.
type Router struct {
	store     storage.Storage
	evaluator *ConditionEvaluator
	registry  *adapters.Registry
	deps      *adapters.Deps
	logger    logging.Logger
}

func NewRouter(store storage.Storage, deps *adapters.Deps, logger logging.Logger) *Router {
	return &Router{
		store:     store,
		evaluator: NewConditionEvaluator(),
		registry:  adapters.DefaultRegistry,
		deps:      deps,
		logger:    logger,
	}
}

// DistributeItem routes one item through every enabled matching rule and
// records a DistributionResult per rule. Adapter failures are captured in
// results, not returned; the error return covers the item itself being
// unavailable.
func (r *Router) DistributeItem(ctx context.Context, userID, itemID string) (*Summary, error) {
	item, err := r.store.GetItem(itemID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if item.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}

	configs, err := r.store.GetDistributionConfigs(userID)
	if err != nil {
		return nil, err
	}

	matched := make([]*storage.DistributionConfig, 0, len(configs))
	for _, config := range configs {
		if config.Enabled && r.evaluator.Matches(item, config.Conditions) {
			matched = append(matched, config)
		}
	}

	summary := &Summary{ItemID: item.ID, MatchedRules: len(matched)}
	if len(matched) == 0 {
		summary.Status = storage.RoutingSkipped
		r.setRoutingStatus(item.ID, storage.RoutingSkipped)
		r.logger.Debug("no rules matched item", logging.String("item_id", item.ID))
		return summary, nil
	}

	r.setRoutingStatus(item.ID, storage.RoutingProcessing)

	succeeded := 0
	for _, rule := range matched {
		result := r.distributeRule(ctx, item, rule)
		if err := r.store.CreateDistributionResult(result); err != nil {
			r.logger.Error("failed to persist distribution result",
				logging.String("item_id", item.ID),
				logging.String("rule_id", rule.ID),
				logging.Err(err))
		}
		if result.Status == storage.DistributionSuccess {
			succeeded++
			if err := r.store.AddDistributedTarget(item.ID, rule.ID); err != nil {
				r.logger.Error("failed to record distributed target",
					logging.String("item_id", item.ID),
					logging.String("rule_id", rule.ID),
					logging.Err(err))
			}
		}
		summary.Results = append(summary.Results, result)
	}

	if succeeded > 0 {
		summary.Status = storage.RoutingCompleted
	} else {
		summary.Status = storage.RoutingFailed
	}
	r.setRoutingStatus(item.ID, summary.Status)

	r.logger.Info("item distributed",
		logging.String("item_id", item.ID),
		logging.Int("matched", len(matched)),
		logging.Int("succeeded", succeeded))
	return summary, nil
}

// distributeRule runs a single rule's adapter against the item. It never
// returns an error; every failure mode becomes a failed result.
func (r *Router) distributeRule(ctx context.Context, item *storage.Item, rule *storage.DistributionConfig) *storage.DistributionResult {
	params := &adapters.InitParams{
		RuleID:       rule.ID,
		UserID:       rule.UserID,
		Config:       rule.Config,
		Instructions: rule.ProcessingInstructions,
	}

	if rule.RemoteServerID != "" {
		server, err := r.store.GetRemoteServerConfig(rule.RemoteServerID)
		if err != nil {
			return adapters.FailedResult(params, rule.AdapterType, item,
				fmt.Sprintf("%v: %s", ErrRemoteServerNotFound, rule.RemoteServerID))
		}
		params.RemoteServer = server
	}

	adapter, err := r.registry.Create(rule.AdapterType, r.deps)
	if err != nil {
		return adapters.FailedResult(params, rule.AdapterType, item,
			fmt.Sprintf("%v: %s", ErrUnknownAdapterType, rule.AdapterType))
	}
	defer adapter.Cleanup()

	if err := adapter.Initialize(ctx, params); err != nil {
		return adapters.FailedResult(params, rule.AdapterType, item, err.Error())
	}

	return adapter.Distribute(ctx, item)
}

func (r *Router) setRoutingStatus(itemID string, status storage.RoutingStatus) {
	if err := r.store.UpdateItemRouting(itemID, status); err != nil {
		r.logger.Error("failed to update routing status",
			logging.String("item_id", itemID),
			logging.String("status", string(status)),
			logging.Err(err))
	}
}
