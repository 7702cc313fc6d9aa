// Package validate turns raw oracle payloads into canonical requirements
// records. Validation is deliberately strict about presence and shape but
// lenient about content: long strings are truncated rather than rejected,
// list duplicates are dropped rather than reported, and priorities and
// metrics are normalized rather than refused.
package validate

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/reqforge/reqforge/internal/canon"
	"github.com/reqforge/reqforge/internal/model"
)

// MaxStringLength bounds every string value in a payload. Longer strings
// are truncated, not rejected.
const MaxStringLength = 200

// ValidateAndNormalize validates and normalizes a raw requirements payload.
//
// Exactly one of the return values is populated: a canonical record on
// success, or a non-empty list of human-readable errors on failure. The
// explicit required-field check for summary and acceptance_criteria runs
// before any shape validation and short-circuits it, so missing keys are
// always surfaced as "<field>: Field required".
func ValidateAndNormalize(payload map[string]any) (*model.Requirements, []string) {
	prepared := preparePayload(payload)

	var missing []string
	for _, field := range []string{"summary", "acceptance_criteria"} {
		if _, ok := prepared[field]; !ok {
			missing = append(missing, field+": Field required")
		}
	}
	if len(missing) > 0 {
		return nil, missing
	}

	traceID := ""
	if meta, ok := prepared["meta"].(map[string]any); ok {
		if tid, ok := meta["trace_id"].(string); ok {
			traceID = tid
		}
	}

	req, errs := buildRequirements(prepared, traceID)
	if len(errs) > 0 {
		return nil, errs
	}
	return req, nil
}

// preparePayload makes a normalized, pre-validated copy of the payload:
// every string trimmed to MaxStringLength, stakeholders and dependencies
// deduplicated preserving first-occurrence order.
func preparePayload(payload map[string]any) map[string]any {
	prepared := make(map[string]any, len(payload))
	for key, value := range payload {
		prepared[key] = trimStrings(value)
	}

	for _, field := range []string{"stakeholders", "dependencies"} {
		if list, ok := prepared[field].([]any); ok {
			prepared[field] = dedupeAnyList(list)
		}
	}

	return prepared
}

// truncateString cuts s to at most limit bytes without splitting a rune, so
// the result is always valid UTF-8.
func truncateString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// trimStrings recursively truncates every string in a nested structure.
func trimStrings(value any) any {
	switch typed := value.(type) {
	case string:
		return truncateString(typed, MaxStringLength)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = trimStrings(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = trimStrings(item)
		}
		return out
	default:
		return value
	}
}

// dedupeAnyList removes duplicate string items preserving first-occurrence
// order; non-string items pass through untouched.
func dedupeAnyList(list []any) []any {
	seen := make(map[string]bool, len(list))
	result := make([]any, 0, len(list))
	for _, item := range list {
		str, ok := item.(string)
		if !ok {
			result = append(result, item)
			continue
		}
		if seen[str] {
			continue
		}
		seen[str] = true
		result = append(result, str)
	}
	return result
}

// errorCollector accumulates "<dotted.path>: <message>" validation errors.
type errorCollector struct {
	errs []string
}

func (c *errorCollector) add(path, message string) {
	if path == "" {
		c.errs = append(c.errs, message)
		return
	}
	c.errs = append(c.errs, path+": "+message)
}

// buildRequirements decodes the prepared map into a canonical record,
// applying priority/metric normalization and ID derivation.
func buildRequirements(prepared map[string]any, traceID string) (*model.Requirements, []string) {
	c := &errorCollector{}

	req := &model.Requirements{
		ID:           optionalString(c, prepared, "id"),
		Title:        requiredString(c, prepared, "title"),
		Summary:      requiredString(c, prepared, "summary"),
		Stakeholders: stringList(c, prepared, "stakeholders"),
		Assumptions:  stringList(c, prepared, "assumptions"),
		NonGoals:     stringList(c, prepared, "non_goals"),
		Dependencies: stringList(c, prepared, "dependencies"),
		Constraints:  stringList(c, prepared, "constraints"),
		Confidence:   requiredNumber(c, prepared, "confidence"),
	}

	req.AcceptanceCriteria = acceptanceCriteria(c, prepared)
	req.FunctionalRequirements = functionalRequirements(c, prepared)
	req.NonFunctionalRequirements = nonFunctionalRequirements(c, prepared)
	req.Clarifications = clarifications(c, prepared)
	req.Contradiction = contradiction(c, prepared)
	req.Meta = metaField(c, prepared)

	if len(c.errs) > 0 {
		return nil, c.errs
	}

	if req.ID == "" {
		req.ID = canon.ComputeID(contentMap(req), traceID)
	}

	return req, nil
}

// contentMap renders the record back into a generic map for ID hashing.
// The id and meta keys are stripped inside ComputeID.
func contentMap(req *model.Requirements) map[string]any {
	data, err := json.Marshal(req)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func optionalString(c *errorCollector, data map[string]any, key string) string {
	value, ok := data[key]
	if !ok || value == nil {
		return ""
	}
	str, ok := value.(string)
	if !ok {
		c.add(key, "Input should be a valid string")
		return ""
	}
	return str
}

func requiredString(c *errorCollector, data map[string]any, key string) string {
	value, ok := data[key]
	if !ok || value == nil {
		c.add(key, "Field required")
		return ""
	}
	str, ok := value.(string)
	if !ok {
		c.add(key, "Input should be a valid string")
		return ""
	}
	return str
}

func requiredNumber(c *errorCollector, data map[string]any, key string) float64 {
	value, ok := data[key]
	if !ok || value == nil {
		c.add(key, "Field required")
		return 0
	}
	switch typed := value.(type) {
	case float64:
		return typed
	case int:
		return float64(typed)
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			c.add(key, "Input should be a valid number")
			return 0
		}
		return f
	default:
		c.add(key, "Input should be a valid number")
		return 0
	}
}

// stringList decodes an ordered string list, deduplicating by exact value
// while preserving first occurrence.
func stringList(c *errorCollector, data map[string]any, key string) []string {
	value, ok := data[key]
	if !ok || value == nil {
		return []string{}
	}
	list, ok := value.([]any)
	if !ok {
		if typed, ok := value.([]string); ok {
			return canon.DedupeStrings(typed)
		}
		c.add(key, "Input should be a valid list")
		return []string{}
	}

	out := make([]string, 0, len(list))
	for i, item := range list {
		str, ok := item.(string)
		if !ok {
			c.add(fmt.Sprintf("%s.%d", key, i), "Input should be a valid string")
			continue
		}
		out = append(out, str)
	}
	return canon.DedupeStrings(out)
}

func objectList(c *errorCollector, data map[string]any, key string) []map[string]any {
	value, ok := data[key]
	if !ok || value == nil {
		return nil
	}
	list, ok := value.([]any)
	if !ok {
		c.add(key, "Input should be a valid list")
		return nil
	}

	var out []map[string]any
	for i, item := range list {
		dict, ok := item.(map[string]any)
		if !ok {
			c.add(fmt.Sprintf("%s.%d", key, i), "Input should be a valid object")
			continue
		}
		out = append(out, dict)
	}
	return out
}

func itemString(c *errorCollector, item map[string]any, path, key string, required bool) string {
	value, ok := item[key]
	if !ok || value == nil {
		if required {
			c.add(path+"."+key, "Field required")
		}
		return ""
	}
	str, ok := value.(string)
	if !ok {
		c.add(path+"."+key, "Input should be a valid string")
		return ""
	}
	return str
}

func acceptanceCriteria(c *errorCollector, data map[string]any) []model.AcceptanceCriterion {
	items := objectList(c, data, "acceptance_criteria")
	out := make([]model.AcceptanceCriterion, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("acceptance_criteria.%d", i)
		out = append(out, model.AcceptanceCriterion{
			ID:          itemString(c, item, path, "id", true),
			Description: itemString(c, item, path, "description", true),
			Priority:    canon.NormalizePriority(itemString(c, item, path, "priority", false)),
			Type:        itemString(c, item, path, "type", true),
		})
	}
	return out
}

func functionalRequirements(c *errorCollector, data map[string]any) []model.FunctionalRequirement {
	items := objectList(c, data, "functional_requirements")
	out := make([]model.FunctionalRequirement, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("functional_requirements.%d", i)
		out = append(out, model.FunctionalRequirement{
			ID:          itemString(c, item, path, "id", true),
			Description: itemString(c, item, path, "description", true),
			Rationale:   itemString(c, item, path, "rationale", false),
			Priority:    canon.NormalizePriority(itemString(c, item, path, "priority", false)),
		})
	}
	return out
}

func nonFunctionalRequirements(c *errorCollector, data map[string]any) []model.NonFunctionalRequirement {
	items := objectList(c, data, "non_functional_requirements")
	out := make([]model.NonFunctionalRequirement, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("non_functional_requirements.%d", i)
		out = append(out, model.NonFunctionalRequirement{
			ID:          itemString(c, item, path, "id", true),
			Description: itemString(c, item, path, "description", true),
			Metric:      canon.CanonicalizeMetric(itemString(c, item, path, "metric", false)),
			Target:      item["target"],
		})
	}
	return out
}

func clarifications(c *errorCollector, data map[string]any) []model.Clarification {
	items := objectList(c, data, "clarifications")
	out := make([]model.Clarification, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("clarifications.%d", i)
		out = append(out, model.Clarification{
			ID:       itemString(c, item, path, "id", true),
			Question: itemString(c, item, path, "question", true),
			Context:  itemString(c, item, path, "context", false),
			Severity: itemString(c, item, path, "severity", true),
		})
	}
	return out
}

func contradiction(c *errorCollector, data map[string]any) *model.Contradiction {
	value, ok := data["contradiction"]
	if !ok || value == nil {
		return nil
	}
	dict, ok := value.(map[string]any)
	if !ok {
		c.add("contradiction", "Input should be a valid object")
		return nil
	}

	flag, _ := dict["flag"].(bool)
	var issues []model.ContradictionIssue
	if rawIssues, ok := dict["issues"].([]any); ok {
		for i, raw := range rawIssues {
			item, ok := raw.(map[string]any)
			if !ok {
				c.add(fmt.Sprintf("contradiction.issues.%d", i), "Input should be a valid object")
				continue
			}
			path := fmt.Sprintf("contradiction.issues.%d", i)
			issues = append(issues, model.ContradictionIssue{
				Field:       itemString(c, item, path, "field", true),
				Explanation: itemString(c, item, path, "explanation", true),
			})
		}
	}

	// A flag with zero issues is never constructed; drop the flag instead.
	// With issues present the caller's flag passes through unchanged.
	if len(issues) == 0 {
		return nil
	}
	return &model.Contradiction{Flag: flag, Issues: issues}
}

func metaField(c *errorCollector, data map[string]any) model.Meta {
	value, ok := data["meta"]
	if !ok || value == nil {
		c.add("meta", "Field required")
		return model.Meta{}
	}
	dict, ok := value.(map[string]any)
	if !ok {
		c.add("meta", "Input should be a valid object")
		return model.Meta{}
	}

	meta := model.Meta{
		PromptVersion: itemString(c, dict, "meta", "prompt_version", true),
		Model:         itemString(c, dict, "meta", "model", true),
		TraceID:       itemString(c, dict, "meta", "trace_id", true),
		SchemaVersion: itemString(c, dict, "meta", "schema_version", true),
	}

	if flag, ok := dict["repair_attempted"].(bool); ok {
		meta.RepairAttempted = flag
	}
	if tokens, ok := dict["token_usage"].(float64); ok {
		meta.TokenUsage = int(tokens)
	}

	raw := itemString(c, dict, "meta", "timestamp", true)
	if raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.add("meta.timestamp", "Input should be a valid datetime")
		} else {
			meta.Timestamp = ts.UTC()
		}
	}

	return meta
}
