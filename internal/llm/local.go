package llm

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/reqforge/reqforge/internal/model"
)

// LocalClient is a deterministic offline stub. It derives a minimal payload
// from the raw text and the caller-supplied context without any network
// access, letting the pipeline run end-to-end at zero token cost.
type LocalClient struct {
	model string
}

// NewLocalClient creates a local stub client
func NewLocalClient(config Config) *LocalClient {
	modelName := config.Model
	if modelName == "" {
		modelName = "finalize-requirements-local"
	}
	return &LocalClient{model: modelName}
}

// Name returns the provider name
func (c *LocalClient) Name() string {
	return "local"
}

// IsAvailable always reports true; the stub has no external dependency.
func (c *LocalClient) IsAvailable(ctx context.Context) bool {
	return true
}

// clipRunes caps s at limit bytes without splitting a multi-byte rune.
func clipRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Structure builds a deterministic payload wrapped in a tool-call response
// so the same extraction path handles both providers.
func (c *LocalClient) Structure(ctx context.Context, req StructureRequest) (*StructureResponse, error) {
	title := clipRunes(strings.TrimSpace(req.RawText), 80)
	if title == "" {
		title = "Draft requirements"
	}

	summary := clipRunes(strings.TrimSpace(req.RawText), 200)
	if summary == "" {
		summary = "No requirements text provided."
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = "local-trace"
	}

	payload := map[string]any{
		"title":                       title,
		"summary":                     summary,
		"stakeholders":                contextList(req.Context, "stakeholders"),
		"assumptions":                 []any{},
		"non_goals":                   contextList(req.Context, "non_goals"),
		"acceptance_criteria":         []any{},
		"functional_requirements":     []any{},
		"non_functional_requirements": []any{},
		"dependencies":                contextList(req.Context, "dependencies"),
		"constraints":                 contextList(req.Context, "constraints"),
		"clarifications":              []any{},
		"confidence":                  0.0,
		"meta": map[string]any{
			"prompt_version":   PromptVersion,
			"model":            c.model,
			"timestamp":        "1970-01-01T00:00:00Z",
			"trace_id":         traceID,
			"schema_version":   SchemaVersion,
			"repair_attempted": false,
			"token_usage":      0,
		},
	}

	return &StructureResponse{
		Response: wrapToolCall(payload),
		Model:    c.model,
		Usage:    &model.TokenUsage{},
	}, nil
}

// ClassifyPairs denies every pair. Callers that need specific semantic
// behavior inject their own Client.
func (c *LocalClient) ClassifyPairs(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	verdicts := make([]any, 0, len(req.Pairs))
	for idx, pair := range req.Pairs {
		pairID := pair.PairID
		if pairID == "" {
			pairID = "p-" + strconv.Itoa(idx+1)
		}
		verdicts = append(verdicts, map[string]any{
			"pair_id":    pairID,
			"conflict":   false,
			"reason":     "local: no conflict",
			"confidence": 0.0,
		})
	}

	return &ClassifyResponse{
		Response: verdicts,
		Model:    c.model,
		Usage:    &model.TokenUsage{},
	}, nil
}

// Repair returns the original payload unchanged; the stub cannot improve a
// payload it did not produce, and an unchanged invalid payload correctly
// escalates to human review.
func (c *LocalClient) Repair(ctx context.Context, req RepairRequest) (*StructureResponse, error) {
	return &StructureResponse{
		Response: wrapToolCall(req.OriginalPayload),
		Model:    c.model,
		Usage:    &model.TokenUsage{},
	}, nil
}

// wrapToolCall emulates a chat completion carrying the payload as
// finalize_requirements tool-call arguments.
func wrapToolCall(payload map[string]any) map[string]any {
	arguments, err := json.Marshal(payload)
	if err != nil {
		arguments = []byte("{}")
	}
	return map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{
					"tool_calls": []any{
						map[string]any{
							"function": map[string]any{
								"name":      finalizeFunctionName,
								"arguments": string(arguments),
							},
						},
					},
				},
			},
		},
	}
}

func contextList(context map[string]any, key string) []any {
	if context == nil {
		return []any{}
	}
	switch value := context[key].(type) {
	case []any:
		return value
	case []string:
		out := make([]any, len(value))
		for i, s := range value {
			out[i] = s
		}
		return out
	default:
		return []any{}
	}
}

