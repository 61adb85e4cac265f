// Package mapping converts an item's fields into the input shape a
// destination tool expects, driven by the user's natural-language
// instructions and the tool's declared schema. A deterministic minimal
// mapping covers chat or parse failures when fallback is allowed.
package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"content-router/internal/common/errors"
	"content-router/internal/common/logging"
	"content-router/internal/llm"
	"content-router/internal/storage"
)

const transformSystemPrompt = "You convert captured user content into the exact JSON input an external tool expects. " +
	"Follow the user's mapping instructions and the tool's input schema when given. " +
	"Respond with a single JSON object only."

// ChatClient is the slice of the chat client the mapping service uses.
type ChatClient interface {
	Chat(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (*llm.Response, error)
}

// Options steers one transformation.
type Options struct {
	Instructions string
	ToolName     string
	TargetSchema *jsonschema.Schema

	// AllowFallback downgrades chat, parse, and validation failures to
	// the deterministic minimal mapping
	AllowFallback bool
}

// PreviewResult carries the mapped payload plus diagnostics for display.
type PreviewResult struct {
	Mapped       map[string]interface{} `json:"mapped"`
	Reasoning    string                 `json:"reasoning,omitempty"`
	Raw          string                 `json:"raw,omitempty"`
	UsedFallback bool                   `json:"used_fallback"`
}

// Service is the mapping service.
type Service struct {
	chat   ChatClient
	logger logging.Logger
}

func NewService(chat ChatClient, logger logging.Logger) *Service {
	return &Service{chat: chat, logger: logger}
}

// Transform maps the item into the tool's input shape. With
// opts.AllowFallback set, any failure degrades to FallbackMapping instead
// of propagating.
func (s *Service) Transform(ctx context.Context, item *storage.Item, opts Options) (map[string]interface{}, error) {
	mapped, _, err := s.transform(ctx, item, opts)
	if err != nil {
		if opts.AllowFallback {
			s.logger.Warn("mapping failed, using fallback",
				logging.String("item_id", item.ID),
				logging.String("tool", opts.ToolName),
				logging.Err(err))
			return FallbackMapping(item), nil
		}
		return nil, err
	}
	return mapped, nil
}

// Preview runs the same transformation but keeps the raw response and a
// best-effort reasoning extract for audit display.
func (s *Service) Preview(ctx context.Context, item *storage.Item, opts Options) (*PreviewResult, error) {
	mapped, raw, err := s.transform(ctx, item, opts)
	if err != nil {
		if opts.AllowFallback {
			return &PreviewResult{
				Mapped:       FallbackMapping(item),
				Raw:          raw,
				UsedFallback: true,
			}, nil
		}
		return nil, err
	}
	return &PreviewResult{
		Mapped:    mapped,
		Reasoning: extractReasoning(raw),
		Raw:       raw,
	}, nil
}

func (s *Service) transform(ctx context.Context, item *storage.Item, opts Options) (map[string]interface{}, string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: transformSystemPrompt},
		{Role: llm.RoleUser, Content: s.buildPrompt(item, opts)},
	}

	response, err := s.chat.Chat(ctx, messages, &llm.ChatOptions{
		JSONMode:    true,
		SessionID:   item.ID,
		SessionType: "mapping",
	})
	if err != nil {
		return nil, "", err
	}

	raw := response.Content
	cleaned := llm.StripThinkBlocks(raw)
	object, found := llm.ExtractJSONObject(cleaned)
	if !found {
		return nil, raw, errors.ParsingError("no JSON object in mapping response", raw, nil)
	}

	var mapped map[string]interface{}
	if err := json.Unmarshal([]byte(object), &mapped); err != nil {
		return nil, raw, errors.ParsingError("invalid JSON in mapping response", raw, err)
	}

	if err := validateRequired(mapped, opts.TargetSchema); err != nil {
		return nil, raw, err
	}

	return mapped, raw, nil
}

func (s *Service) buildPrompt(item *storage.Item, opts Options) string {
	var b strings.Builder

	if opts.Instructions != "" {
		b.WriteString("Mapping instructions: ")
		b.WriteString(opts.Instructions)
		b.WriteString("\n\n")
	}
	if opts.ToolName != "" {
		fmt.Fprintf(&b, "Target tool: %s\n", opts.ToolName)
	}
	if opts.TargetSchema != nil {
		if schemaJSON, err := json.Marshal(opts.TargetSchema); err == nil {
			fmt.Fprintf(&b, "Tool input schema:\n%s\n\n", schemaJSON)
		}
	}

	b.WriteString("Item to map:\n")
	fmt.Fprintf(&b, "Content: %s\n", item.OriginalContent)
	if item.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", item.Category)
	}
	if item.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", item.Summary)
	}
	if item.SuggestedTitle != "" {
		fmt.Fprintf(&b, "Suggested title: %s\n", item.SuggestedTitle)
	}
	if len(item.Entities) > 0 {
		if entitiesJSON, err := json.Marshal(item.Entities); err == nil {
			fmt.Fprintf(&b, "Entities: %s\n", entitiesJSON)
		}
	}

	return b.String()
}

// validateRequired checks that every schema-required key is present in the
// mapped result. Shallow by design: the remote tool is the authority on
// deep shape.
func validateRequired(mapped map[string]interface{}, schema *jsonschema.Schema) error {
	if schema == nil {
		return nil
	}
	var missing []string
	for _, key := range schema.Required {
		if _, ok := mapped[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errors.ValidationError("mapping result missing required fields: " + strings.Join(missing, ", "))
	}
	return nil
}

// FallbackMapping is the deterministic minimal mapping used when the
// model-driven transformation is unavailable or rejected.
func FallbackMapping(item *storage.Item) map[string]interface{} {
	title := item.SuggestedTitle
	if title == "" {
		title = item.OriginalContent
		if len(title) > 50 {
			title = title[:50]
		}
	}
	mapped := map[string]interface{}{
		"title":   title,
		"content": item.OriginalContent,
	}
	if item.Category != "" {
		mapped["category"] = item.Category
	}
	return mapped
}

var (
	reasoningMarkers = []string{"Reasoning:", "Explanation:", "Rationale:"}
	regexpThink      = regexp.MustCompile(`(?s)<think(?:ing)?>(.*?)</think(?:ing)?>`)
)

// extractReasoning pulls a human-readable explanation out of the raw
// response when one of the recognized markers is present: a think block,
// a prefixed line, or a reasoning field in the JSON itself.
func extractReasoning(raw string) string {
	if match := regexpThink.FindStringSubmatch(raw); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, marker := range reasoningMarkers {
			if strings.HasPrefix(trimmed, marker) {
				return strings.TrimSpace(strings.TrimPrefix(trimmed, marker))
			}
		}
	}

	if object, found := llm.ExtractJSONObject(raw); found {
		var doc map[string]interface{}
		if json.Unmarshal([]byte(object), &doc) == nil {
			for _, key := range []string{"reasoning", "_reasoning", "explanation"} {
				if value, ok := doc[key].(string); ok && value != "" {
					return value
				}
			}
		}
	}

	return ""
}
