// Package llm abstracts the external text oracle consulted for structuring,
// semantic confirmation, and repair. The pipeline core treats every call as
// a blocking request/response with a caller-supplied timeout; all parsing of
// the returned payload into domain models happens outside this package.
package llm

import (
	"context"
	"time"

	"github.com/reqforge/reqforge/internal/model"
)

// Client defines the interface for finalize oracles
type Client interface {
	// Name returns the provider name
	Name() string

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool

	// Structure asks the oracle to turn raw requirement text into a
	// structured payload via function-calling
	Structure(ctx context.Context, req StructureRequest) (*StructureResponse, error)

	// ClassifyPairs asks the oracle whether each suspicious pair is a
	// genuine contradiction
	ClassifyPairs(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error)

	// Repair asks the oracle to fix a schema-invalid payload, given the
	// validation errors. Single-shot: no retry policy is implied here.
	Repair(ctx context.Context, req RepairRequest) (*StructureResponse, error)
}

// StructureRequest contains the input for the initial structuring call.
type StructureRequest struct {
	// RawText is the free-form requirement text
	RawText string

	// Context carries caller-supplied hints (stakeholders, dependencies, ...)
	Context map[string]any

	// TraceID correlates the call with the pipeline run
	TraceID string
}

// StructureResponse is the raw outcome of a structuring or repair call. The
// Response field is kept loosely typed on purpose: extraction of the
// function payload tolerates several shapes and lives with the caller.
type StructureResponse struct {
	// Response is the raw completion payload (choices/message/tool_calls...)
	Response any

	// Model is the model that produced the response
	Model string

	// Usage tracks token consumption, when the provider reports it
	Usage *model.TokenUsage
}

// SuspiciousPair is a candidate contradiction surfaced by the deterministic
// rules, pending oracle confirmation.
type SuspiciousPair struct {
	PairID  string `json:"pair_id"`
	RuleID  string `json:"rule_id,omitempty"`
	FieldA  string `json:"field_a"`
	TextA   string `json:"text_a"`
	FieldB  string `json:"field_b"`
	TextB   string `json:"text_b"`
	Context string `json:"context,omitempty"`
}

// ClassifyRequest contains one batch of suspicious pairs.
type ClassifyRequest struct {
	Pairs     []SuspiciousPair
	TraceID   string
	MaxTokens int
}

// ClassifyResponse is the raw outcome of a semantic check call.
type ClassifyResponse struct {
	// Response is either a direct verdict list or a raw completion payload
	Response any

	Model string
	Usage *model.TokenUsage
}

// RepairRequest contains everything the oracle needs for a single repair
// attempt.
type RepairRequest struct {
	// OriginalPayload is the payload that failed validation
	OriginalPayload map[string]any

	// Errors are the validator's human-readable error strings
	Errors []string

	TraceID string
}

// Config holds oracle client configuration
type Config struct {
	// Provider name: "openai", "local", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI
	APIKey string

	// BaseURL for custom endpoints
	BaseURL string

	// Timeout for API requests
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider: "",
		Model:    "",
		Timeout:  30 * time.Second,
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(modelConfig model.LLMConfig) Config {
	return Config{
		Provider: modelConfig.Provider,
		Model:    modelConfig.Model,
		APIKey:   modelConfig.APIKey,
		BaseURL:  modelConfig.BaseURL,
		Timeout:  modelConfig.Timeout,
	}
}
