package routing

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"content-router/internal/storage"
)

// ConditionEvaluator matches items against rule conditions. It is safe for
// concurrent use; compiled regex patterns are cached across evaluations.
type ConditionEvaluator struct {
	regexCache map[string]*regexp.Regexp
	mu         sync.RWMutex
}

func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// Matches reports whether the item satisfies every condition in the list.
// An empty condition list always matches. Evaluation fails closed: a missing
// field, a non-string operand on a string operator, an invalid regex, or an
// unknown operator all evaluate to false rather than raising.
func (e *ConditionEvaluator) Matches(item *storage.Item, conditions []storage.Condition) bool {
	if len(conditions) == 0 {
		return true
	}

	doc := itemDocument(item)
	for _, condition := range conditions {
		if !e.evaluateCondition(doc, &condition) {
			return false
		}
	}
	return true
}

func (e *ConditionEvaluator) evaluateCondition(doc map[string]interface{}, condition *storage.Condition) bool {
	value, found := resolvePath(doc, condition.Field)
	if !found {
		return false
	}

	switch condition.Operator {
	case "equals":
		return reflect.DeepEqual(value, condition.Value)

	case "contains":
		test, expected, ok := stringOperands(value, condition.Value)
		return ok && strings.Contains(test, expected)

	case "startsWith":
		test, expected, ok := stringOperands(value, condition.Value)
		return ok && strings.HasPrefix(test, expected)

	case "endsWith":
		test, expected, ok := stringOperands(value, condition.Value)
		return ok && strings.HasSuffix(test, expected)

	case "regex":
		test, pattern, ok := stringOperands(value, condition.Value)
		if !ok {
			return false
		}
		regex := e.compileRegex(pattern)
		return regex != nil && regex.MatchString(test)

	default:
		// Unknown operator fails closed
		return false
	}
}

// compileRegex returns the cached compiled pattern, or nil when the pattern
// does not compile.
func (e *ConditionEvaluator) compileRegex(pattern string) *regexp.Regexp {
	e.mu.RLock()
	regex, exists := e.regexCache[pattern]
	e.mu.RUnlock()
	if exists {
		return regex
	}

	regex, err := regexp.Compile(pattern)
	if err != nil {
		regex = nil
	}

	e.mu.Lock()
	e.regexCache[pattern] = regex
	e.mu.Unlock()
	return regex
}

// stringOperands extracts both operands as strings for the string-only
// operators. Either operand being a non-string makes the condition a
// non-match.
func stringOperands(value, expected interface{}) (string, string, bool) {
	test, ok := value.(string)
	if !ok {
		return "", "", false
	}
	want, ok := expected.(string)
	if !ok {
		return "", "", false
	}
	return test, want, true
}

// itemDocument exposes the item's routable fields under their wire names,
// plus "content" as a shorthand for the original content.
func itemDocument(item *storage.Item) map[string]interface{} {
	return map[string]interface{}{
		"id":               item.ID,
		"user_id":          item.UserID,
		"original_content": item.OriginalContent,
		"content":          item.OriginalContent,
		"content_type":     item.ContentType,
		"category":         item.Category,
		"entities":         item.Entities,
		"summary":          item.Summary,
		"suggested_title":  item.SuggestedTitle,
		"routing_status":   string(item.RoutingStatus),
	}
}

// resolvePath walks a dot-separated path through nested maps. A missing
// segment or a non-map intermediate value resolves to not-found.
func resolvePath(doc map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	var current interface{} = doc
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
