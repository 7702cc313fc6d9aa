package contradict

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/reqforge/reqforge/internal/llm"
	"github.com/reqforge/reqforge/internal/model"
	"github.com/reqforge/reqforge/internal/usage"
)

// defaultReason is used when a confirming verdict carries no reason.
const defaultReason = "Semantic contradiction between A and B."

// Semantic check status values.
const (
	SemanticSkipped  = "skipped"
	SemanticDisabled = "disabled"
	SemanticOK       = "ok"
	SemanticFailed   = "failed"
)

// SemanticMeta records the outcome of one semantic check for observability.
type SemanticMeta struct {
	Model              string            `json:"model,omitempty"`
	Usage              *model.TokenUsage `json:"usage,omitempty"`
	PairsChecked       int               `json:"pairs_checked"`
	PairsConfirmed     int               `json:"pairs_confirmed"`
	ElapsedMS          int64             `json:"elapsed_ms"`
	Status             string            `json:"status"`
	Error              string            `json:"error,omitempty"`
	CostEstimateUSD    float64           `json:"cost_estimate_usd,omitempty"`
	SkippedDueToCost   bool              `json:"skipped_due_to_cost,omitempty"`
	SkippedDueToConfig bool              `json:"skipped_due_to_config,omitempty"`
	RawResponseExcerpt string            `json:"raw_response_excerpt,omitempty"`
}

// SemanticChecker confirms or dismisses suspicious pairs through the
// external oracle. It never lets an oracle failure escape: every failure
// path returns no issues plus a meta with status "failed".
type SemanticChecker struct {
	client  llm.Client
	cfg     model.SemanticConfig
	pricing model.PricingConfig
	logger  *zap.Logger

	// now is injectable for tests
	now func() time.Time
}

// NewSemanticChecker creates a semantic checker backed by the given oracle.
func NewSemanticChecker(client llm.Client, cfg model.SemanticConfig, pricing model.PricingConfig, logger *zap.Logger) *SemanticChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticChecker{
		client:  client,
		cfg:     cfg,
		pricing: pricing,
		logger:  logger,
		now:     time.Now,
	}
}

// Check batches the pairs into chunks of at most cfg.MaxPairs, issues one
// oracle call per chunk strictly sequentially, and folds confirming
// verdicts into contradiction issues.
//
// Only verdicts with conflict == true and a pair_id matching an input pair
// produce an issue. If the aggregated cost estimate exceeds the configured
// ceiling, the whole check is treated as failed and its confirmations are
// discarded.
func (s *SemanticChecker) Check(ctx context.Context, pairs []llm.SuspiciousPair, traceID string) ([]model.ContradictionIssue, SemanticMeta) {
	meta := SemanticMeta{Status: SemanticSkipped}
	if len(pairs) == 0 {
		return nil, meta
	}

	if !s.cfg.Enabled {
		meta.Status = SemanticDisabled
		meta.SkippedDueToConfig = true
		return nil, meta
	}

	maxPairs := s.cfg.MaxPairs
	if maxPairs <= 0 {
		maxPairs = 5
	}
	maxTokens := s.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}

	start := s.now()
	var (
		confirmed  []model.ContradictionIssue
		aggregated *model.TokenUsage
	)

	fail := func(err error) ([]model.ContradictionIssue, SemanticMeta) {
		meta.Status = SemanticFailed
		meta.Error = err.Error()
		meta.ElapsedMS = s.now().Sub(start).Milliseconds()
		meta.Usage = aggregated
		s.logger.Warn("semantic contradiction check failed",
			zap.String("trace_id", traceID),
			zap.Error(err))
		return nil, meta
	}

	for offset := 0; offset < len(pairs); offset += maxPairs {
		end := min(offset+maxPairs, len(pairs))
		batch := pairs[offset:end]
		meta.PairsChecked += len(batch)

		resp, err := s.client.ClassifyPairs(ctx, llm.ClassifyRequest{
			Pairs:     batch,
			TraceID:   traceID,
			MaxTokens: maxTokens,
		})
		if err != nil {
			return fail(err)
		}

		if meta.Model == "" {
			meta.Model = resp.Model
		}
		if resp.Usage != nil {
			if aggregated == nil {
				aggregated = &model.TokenUsage{}
			}
			sum := aggregated.Add(*resp.Usage)
			aggregated = &sum
		}
		if meta.RawResponseExcerpt == "" {
			meta.RawResponseExcerpt = responseExcerpt(resp.Response)
		}

		verdicts, err := parseVerdicts(resp.Response)
		if err != nil {
			return fail(err)
		}

		pairIndex := make(map[string]llm.SuspiciousPair, len(batch))
		for _, pair := range batch {
			pairIndex[pair.PairID] = pair
		}

		for _, verdict := range verdicts {
			conflict, _ := verdict["conflict"].(bool)
			if !conflict {
				continue
			}
			pairID := stringValue(verdict["pair_id"])
			pair, ok := pairIndex[pairID]
			if !ok {
				continue
			}

			reason := stringValue(verdict["reason"])
			if reason == "" {
				reason = defaultReason
			}
			confirmed = append(confirmed, model.ContradictionIssue{
				Field:       pair.FieldA + " & " + pair.FieldB,
				Explanation: reason,
			})
			meta.PairsConfirmed++
		}
	}

	meta.ElapsedMS = s.now().Sub(start).Milliseconds()
	meta.Usage = aggregated

	if aggregated != nil {
		if cost, ok := usage.Estimate(*aggregated, s.pricing); ok {
			meta.CostEstimateUSD = cost
			if s.cfg.CostCeilingUSD > 0 && cost > s.cfg.CostCeilingUSD {
				// Confirmations past the cost ceiling are dropped, not kept.
				meta.SkippedDueToCost = true
				meta.Status = SemanticFailed
				return nil, meta
			}
		}
	}

	meta.Status = SemanticOK
	return confirmed, meta
}

// parseVerdicts extracts verdict objects from any of the tolerated
// response shapes: a direct list, a chat completion whose content is a
// JSON list, an object with a "results" list, or free text containing a
// JSON array substring. Each attempt is isolated; total failure returns an
// error instead of guessing.
func parseVerdicts(response any) ([]map[string]any, error) {
	switch typed := response.(type) {
	case []map[string]any:
		return typed, nil
	case []any:
		return dictItems(typed), nil
	case map[string]any:
		text, ok := completionContent(typed)
		if !ok || text == "" {
			return nil, nil
		}
		return parseVerdictText(text)
	default:
		return nil, nil
	}
}

func parseVerdictText(text string) ([]map[string]any, error) {
	text = strings.TrimSpace(text)

	var direct any
	firstErr := json.Unmarshal([]byte(text), &direct)
	if firstErr == nil {
		switch typed := direct.(type) {
		case []any:
			return dictItems(typed), nil
		case map[string]any:
			if results, ok := typed["results"].([]any); ok {
				return dictItems(results), nil
			}
			return nil, nil
		}
		return nil, nil
	}

	// Fallback: locate the first JSON array substring.
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start != -1 && end > start {
		var arr []any
		if err := json.Unmarshal([]byte(text[start:end+1]), &arr); err == nil {
			return dictItems(arr), nil
		}
	}

	return nil, fmt.Errorf("failed to parse semantic contradiction JSON response: %v", firstErr)
}

// completionContent pulls choices[0].message.content out of a chat
// completion map, handling both string and part-list content.
func completionContent(completion map[string]any) (string, bool) {
	choices, ok := completion["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}

	switch content := message["content"].(type) {
	case string:
		return strings.TrimSpace(content), true
	case []any:
		var parts []string
		for _, part := range content {
			partMap, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if text := stringValue(partMap["text"]); text != "" {
				parts = append(parts, text)
			} else if text := stringValue(partMap["value"]); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.TrimSpace(strings.Join(parts, "")), true
	default:
		return "", false
	}
}

func dictItems(items []any) []map[string]any {
	var dicts []map[string]any
	for _, item := range items {
		if dict, ok := item.(map[string]any); ok {
			dicts = append(dicts, dict)
		}
	}
	return dicts
}

func stringValue(value any) string {
	s, _ := value.(string)
	return s
}

func responseExcerpt(response any) string {
	data, err := json.Marshal(response)
	if err != nil {
		return ""
	}
	text := string(data)
	if len(text) > 400 {
		cut := 400
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut]
	}
	return text
}
