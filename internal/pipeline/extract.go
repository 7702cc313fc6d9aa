package pipeline

import (
	"encoding/json"
	"fmt"
)

// ExtractFunctionPayload pulls the finalize_requirements arguments out of a
// raw oracle response.
//
// The extraction is a fallback chain over the shapes seen in the wild:
// choices[0].message.tool_calls[0].function.arguments, an alternate single
// "tool_call" key, and a legacy "function_call" key. Arguments may be a
// JSON-encoded string or an already-structured object. Each attempt is
// isolated; when none matches, an error is returned instead of a guess.
func ExtractFunctionPayload(response any) (map[string]any, error) {
	completion, ok := response.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", response)
	}

	message, err := firstChoiceMessage(completion)
	if err != nil {
		return nil, err
	}

	// Preferred shape: a tool_calls list.
	if toolCalls, ok := message["tool_calls"].([]any); ok && len(toolCalls) > 0 {
		if call, ok := toolCalls[0].(map[string]any); ok {
			if fn, ok := call["function"].(map[string]any); ok {
				return decodeArguments(fn["arguments"])
			}
		}
	}

	// Alternate shape: a single tool_call object.
	if call, ok := message["tool_call"].(map[string]any); ok {
		if fn, ok := call["function"].(map[string]any); ok {
			return decodeArguments(fn["arguments"])
		}
		return decodeArguments(call["arguments"])
	}

	// Legacy shape: function_call with inline arguments.
	if call, ok := message["function_call"].(map[string]any); ok {
		return decodeArguments(call["arguments"])
	}

	return nil, fmt.Errorf("no function payload found in response")
}

func firstChoiceMessage(completion map[string]any) (map[string]any, error) {
	choices, ok := completion["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response choice has unexpected shape")
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response choice has no message")
	}
	return message, nil
}

// decodeArguments accepts both a JSON-encoded argument string and an
// already-structured object.
func decodeArguments(arguments any) (map[string]any, error) {
	switch typed := arguments.(type) {
	case string:
		var payload map[string]any
		if err := json.Unmarshal([]byte(typed), &payload); err != nil {
			return nil, fmt.Errorf("decode function arguments: %w", err)
		}
		return payload, nil
	case map[string]any:
		return typed, nil
	default:
		return nil, fmt.Errorf("function arguments have unexpected type %T", arguments)
	}
}
