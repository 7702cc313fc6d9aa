package model

import "time"

// Requirements is the canonical structured record produced by the pipeline.
// The JSON field names match the wire schema used by the finalize oracle,
// so a validated payload round-trips unchanged.
type Requirements struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	Stakeholders []string `json:"stakeholders"`
	Assumptions  []string `json:"assumptions"`
	NonGoals     []string `json:"non_goals"`

	AcceptanceCriteria        []AcceptanceCriterion      `json:"acceptance_criteria"`
	FunctionalRequirements    []FunctionalRequirement    `json:"functional_requirements"`
	NonFunctionalRequirements []NonFunctionalRequirement `json:"non_functional_requirements"`

	Dependencies   []string        `json:"dependencies"`
	Constraints    []string        `json:"constraints"`
	Clarifications []Clarification `json:"clarifications"`

	Contradiction   *Contradiction   `json:"contradiction,omitempty"`
	AutoAssumptions []AutoAssumption `json:"auto_assumptions,omitempty"`

	Confidence float64 `json:"confidence"`
	Meta       Meta    `json:"meta"`
}

// AcceptanceCriterion describes a single testable acceptance condition.
// Priority is always normalized to low|medium|high before construction.
type AcceptanceCriterion struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Type        string `json:"type"` // functional | non-functional | regression
}

// FunctionalRequirement describes expected behavior and its rationale.
type FunctionalRequirement struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Rationale   string `json:"rationale,omitempty"`
	Priority    string `json:"priority"`
}

// NonFunctionalRequirement describes a quality attribute, usually with a
// canonical metric name and a target value.
type NonFunctionalRequirement struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Metric      string `json:"metric,omitempty"`
	Target      any    `json:"target,omitempty"`
}

// Clarification is a question the pipeline wants answered by a human.
type Clarification struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
	Severity string `json:"severity"` // blocking | important | nice_to_have
}

// ContradictionIssue links a pair of implicated field paths to an
// explanation. Field is always "<fieldA> & <fieldB>" in detection order.
type ContradictionIssue struct {
	Field       string `json:"field"`
	Explanation string `json:"explanation"`
}

// Contradiction collects the issues found by the rule engine and the
// semantic check. Flag is true iff Issues is non-empty; a Contradiction is
// never constructed with a set flag and zero issues.
type Contradiction struct {
	Flag   bool                 `json:"flag"`
	Issues []ContradictionIssue `json:"issues"`
}

// AutoAssumption is a requirement-filling inference attached by the
// pipeline with a confidence score. It is distinct from a contradiction:
// it fills a gap rather than flagging a conflict.
type AutoAssumption struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"` // heuristic that produced it
}

// Meta records how the requirements were produced. It is created once per
// pipeline run and only ever replaced wholesale, never mutated.
type Meta struct {
	PromptVersion   string    `json:"prompt_version"`
	Model           string    `json:"model"`
	Timestamp       time.Time `json:"timestamp"`
	TraceID         string    `json:"trace_id"`
	SchemaVersion   string    `json:"schema_version"`
	RepairAttempted bool      `json:"repair_attempted"`
	TokenUsage      int       `json:"token_usage,omitempty"`
}

// NewMeta creates provenance metadata stamped with the current UTC time.
func NewMeta(promptVersion, schemaVersion, modelName, traceID string) Meta {
	return Meta{
		PromptVersion: promptVersion,
		Model:         modelName,
		Timestamp:     time.Now().UTC(),
		TraceID:       traceID,
		SchemaVersion: schemaVersion,
	}
}

// TokenUsage tracks token consumption for a single oracle call or an
// aggregate over several calls.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the field-wise sum of two usage counters.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// WithContradiction returns a copy of the requirements carrying the given
// contradiction. The receiver is left untouched.
func (r Requirements) WithContradiction(c *Contradiction) Requirements {
	r.Contradiction = c
	return r
}

// WithAutoAssumptions returns a copy carrying the derived assumptions.
func (r Requirements) WithAutoAssumptions(assumptions []AutoAssumption) Requirements {
	r.AutoAssumptions = assumptions
	return r
}

// WithMeta returns a copy carrying replacement provenance metadata.
func (r Requirements) WithMeta(meta Meta) Requirements {
	r.Meta = meta
	return r
}

// Pipeline status values. Only these four strings ever appear in
// FinalizeResult.Status.
const (
	StatusOK                 = "ok"
	StatusPartiallyOK        = "partially_ok"
	StatusNeedsClarification = "needs_clarification"
	StatusNeedsHumanReview   = "needs_human_review"
)

// FinalizeResult is the JSON-serializable outcome of one pipeline run.
type FinalizeResult struct {
	Status       string         `json:"status"`
	Requirements *Requirements  `json:"requirements"`
	Errors       []string       `json:"errors"`
	Meta         map[string]any `json:"meta"`
}
