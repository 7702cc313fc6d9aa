package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PromptVersion identifies the prompt template generation recorded in every
// record's provenance metadata.
const PromptVersion = "v1"

// SchemaVersion identifies the wire schema generation.
const SchemaVersion = "v1"

// structureSystemPrompt is the system message for the structuring call. The
// model is forced to answer through the finalize_requirements function.
const structureSystemPrompt = `You are a requirements analyst. You receive free-form feature requests and
normalize them into a structured requirements record by calling the
finalize_requirements function.

Rules:
- Fill every field you can infer from the text; leave lists empty rather
  than inventing content.
- Priorities must be one of: low, medium, high.
- When the text is ambiguous, add a clarification instead of guessing.
- Set confidence between 0 and 1 to reflect how complete the record is.`

// semanticSystemPrompt is the system message for the semantic contradiction
// check. The model must answer with a bare JSON array of verdicts.
const semanticSystemPrompt = `You are reviewing candidate contradictions inside a software requirements
record. For each pair, decide whether statement A and statement B genuinely
conflict in the given context.

Respond with ONLY a JSON array, one object per pair:
[{"pair_id": "...", "conflict": true|false, "reason": "...", "confidence": 0.0}]

Do not add prose before or after the array.`

// repairSystemPrompt is the system message for the single repair attempt.
const repairSystemPrompt = `You are repairing a software requirements payload that failed schema
validation. Produce a corrected payload by calling the
finalize_requirements function. Preserve every valid field from the
original payload and fix only what the errors describe.`

// BuildStructureUserMessage encodes the structuring call input as JSON.
func BuildStructureUserMessage(req StructureRequest) string {
	payload := map[string]any{
		"raw_requirement_text": req.RawText,
		"context":              req.Context,
		"trace_id":             req.TraceID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return req.RawText
	}
	return string(data)
}

// BuildSemanticUserMessage renders the numbered pair blocks the semantic
// prompt expects. The shared context is taken from the first pair.
func BuildSemanticUserMessage(pairs []SuspiciousPair) string {
	var b strings.Builder

	contextText := ""
	if len(pairs) > 0 {
		contextText = pairs[0].Context
	}
	if contextText != "" {
		fmt.Fprintf(&b, "Context: %s\n", contextText)
	} else {
		b.WriteString("Context: (not provided)\n")
	}
	b.WriteString("\nPairs:\n")

	for idx, pair := range pairs {
		pairID := pair.PairID
		if pairID == "" {
			pairID = fmt.Sprintf("p-%d", idx+1)
		}
		fmt.Fprintf(&b, "%d) pair_id: %s\n", idx+1, pairID)
		fmt.Fprintf(&b, "   A (%s): %q\n", pair.FieldA, pair.TextA)
		fmt.Fprintf(&b, "   B (%s): %q\n", pair.FieldB, pair.TextB)
		b.WriteString("\n")
	}

	return b.String()
}

// BuildRepairUserMessage encodes the repair call input: the original
// payload, the validator's errors, and a short preview of top-level keys.
func BuildRepairUserMessage(req RepairRequest) string {
	keys := make([]string, 0, len(req.OriginalPayload))
	for key := range req.OriginalPayload {
		keys = append(keys, key)
		if len(keys) >= 10 {
			break
		}
	}

	payload := map[string]any{
		"original_payload":  req.OriginalPayload,
		"validation_errors": req.Errors,
		"top_level_keys":    keys,
		"trace_id":          req.TraceID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return strings.Join(req.Errors, "\n")
	}
	return string(data)
}

// functionSchema is the JSON schema for the finalize_requirements function,
// used as the parameters object for function-calling.
func functionSchema() map[string]any {
	stringList := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	priority := map[string]any{
		"type": "string",
		"enum": []string{"low", "medium", "high"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":           map[string]any{"type": "string"},
			"title":        map[string]any{"type": "string"},
			"summary":      map[string]any{"type": "string"},
			"stakeholders": stringList,
			"assumptions":  stringList,
			"non_goals":    stringList,
			"acceptance_criteria": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":          map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"priority":    priority,
						"type":        map[string]any{"type": "string"},
					},
					"required": []string{"id", "description", "priority", "type"},
				},
			},
			"functional_requirements": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":          map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"rationale":   map[string]any{"type": "string"},
						"priority":    priority,
					},
					"required": []string{"id", "description", "priority"},
				},
			},
			"non_functional_requirements": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":          map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"metric":      map[string]any{"type": "string"},
						"target":      map[string]any{},
					},
					"required": []string{"id", "description"},
				},
			},
			"dependencies": stringList,
			"constraints":  stringList,
			"clarifications": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":       map[string]any{"type": "string"},
						"question": map[string]any{"type": "string"},
						"context":  map[string]any{"type": "string"},
						"severity": map[string]any{"type": "string"},
					},
					"required": []string{"id", "question", "severity"},
				},
			},
			"confidence": map[string]any{"type": "number"},
			"meta":       map[string]any{"type": "object"},
		},
		"required": []string{"title", "summary", "acceptance_criteria", "confidence"},
	}
}
