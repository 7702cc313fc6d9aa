// Package trace builds and ships compact telemetry payloads for pipeline
// runs. The sink is an optional soft dependency: its availability is probed
// once at startup, and when no endpoint is configured a no-op sink takes
// its place. Emission failures are logged, never surfaced to callers.
package trace

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"
)

const (
	excerptLimit = 512
	rawLimit     = 800
)

var (
	emailRE = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	hexRE   = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)
	tokenRE = regexp.MustCompile(`\b(?:sk|lsv2)_[A-Za-z0-9]{16,}\b`)
)

// Mask conservatively redacts likely PII and secrets: email addresses,
// 32+ character hex runs, and token-like sk_/lsv2_ prefixes.
func Mask(text string) string {
	text = emailRE.ReplaceAllString(text, "[REDACTED_EMAIL]")
	text = tokenRE.ReplaceAllString(text, "[REDACTED_TOKEN]")
	text = hexRE.ReplaceAllString(text, "[REDACTED_HEX]")
	return text
}

// Truncate caps text at limit bytes, appending an ellipsis marker when it
// was cut. The cut never splits a multi-byte rune.
func Truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

// Payload is one finalize run's trace record. Large text blobs are
// truncated; raw oracle content appears only when IncludeRaw was set.
type Payload struct {
	TraceID   string `json:"trace_id"`
	Step      string `json:"step"`
	Timestamp string `json:"timestamp"`

	UserInputExcerpt string `json:"user_input_excerpt"`
	ContextExcerpt   string `json:"context_excerpt"`

	Model string         `json:"model,omitempty"`
	Usage map[string]any `json:"usage,omitempty"`

	Validation ValidationInfo `json:"validation"`
	Repair     map[string]any `json:"repair,omitempty"`
	Semantic   any            `json:"semantic_contradiction,omitempty"`

	RawResponseExcerpt string `json:"raw_model_response_excerpt,omitempty"`

	Status string         `json:"status"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// ValidationInfo summarizes the validator outcome inside a trace.
type ValidationInfo struct {
	Status string   `json:"status"`
	Errors []string `json:"errors"`
}

// BuildPayload assembles a masked, truncated trace payload for one run.
type BuildInput struct {
	TraceID          string
	Step             string
	RawText          string
	Context          map[string]any
	Model            string
	Usage            map[string]any
	RawResponse      string
	ValidationStatus string
	ValidationErrors []string
	Repair           map[string]any
	Semantic         any
	Status           string
	Meta             map[string]any
	IncludeRaw       bool
}

// BuildPayload constructs a sink-ready payload, masking likely secrets and
// truncating long text.
func BuildPayload(in BuildInput) Payload {
	payload := Payload{
		TraceID:          in.TraceID,
		Step:             in.Step,
		Timestamp:        time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		UserInputExcerpt: Truncate(Mask(in.RawText), excerptLimit),
		ContextExcerpt:   Truncate(Mask(fmt.Sprintf("%v", in.Context)), excerptLimit),
		Model:            in.Model,
		Usage:            in.Usage,
		Validation: ValidationInfo{
			Status: in.ValidationStatus,
			Errors: append([]string{}, in.ValidationErrors...),
		},
		Repair:   in.Repair,
		Semantic: in.Semantic,
		Status:   in.Status,
		Meta:     in.Meta,
	}

	if in.IncludeRaw && in.RawResponse != "" {
		payload.RawResponseExcerpt = Truncate(Mask(in.RawResponse), rawLimit)
	}

	return payload
}
