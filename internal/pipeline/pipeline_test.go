package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reqforge/reqforge/internal/llm"
	"github.com/reqforge/reqforge/internal/model"
	"github.com/reqforge/reqforge/internal/usage"
)

// scriptedClient is an llm.Client whose responses are fixed per method.
type scriptedClient struct {
	structureResp  *llm.StructureResponse
	structureErr   error
	repairResp     *llm.StructureResponse
	repairErr      error
	structureCalls int
	repairCalls    int
}

func (c *scriptedClient) Name() string                         { return "scripted" }
func (c *scriptedClient) IsAvailable(ctx context.Context) bool { return true }

func (c *scriptedClient) Structure(ctx context.Context, req llm.StructureRequest) (*llm.StructureResponse, error) {
	c.structureCalls++
	return c.structureResp, c.structureErr
}

func (c *scriptedClient) Repair(ctx context.Context, req llm.RepairRequest) (*llm.StructureResponse, error) {
	c.repairCalls++
	return c.repairResp, c.repairErr
}

func (c *scriptedClient) ClassifyPairs(ctx context.Context, req llm.ClassifyRequest) (*llm.ClassifyResponse, error) {
	return &llm.ClassifyResponse{Response: []any{}}, nil
}

// toolCallResponse wraps a payload the way chat completions carry function
// arguments.
func toolCallResponse(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	arguments, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return map[string]any{
		"choices": []any{map[string]any{
			"message": map[string]any{
				"tool_calls": []any{map[string]any{
					"function": map[string]any{
						"name":      "finalize_requirements",
						"arguments": string(arguments),
					},
				}},
			},
		}},
	}
}

func completePayload() map[string]any {
	return map[string]any{
		"title":   "CLI Todo App",
		"summary": "A simple CLI todo app.",
		"acceptance_criteria": []any{
			map[string]any{
				"id":          "AC-1",
				"description": "User can add a todo",
				"priority":    "P1",
				"type":        "functional",
			},
		},
		"confidence": 0.9,
		"meta": map[string]any{
			"prompt_version": "v1",
			"model":          "scripted-model",
			"timestamp":      "2026-08-31T10:00:00Z",
			"trace_id":       "t-123",
			"schema_version": "v1",
		},
	}
}

func testConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.Usage.Enabled = false
	cfg.Cache.Enabled = false
	return cfg
}

func newTestPipeline(t *testing.T, cfg *model.Config, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(cfg, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestFinalize_LocalStub_CleanRecord(t *testing.T) {
	p := newTestPipeline(t, testConfig())

	result := p.Finalize(context.Background(), Request{
		RawText: "Build a multi-user web app for note taking. Use Postgres for persistence and support user login and authentication.",
		UseLLM:  false,
	})

	if result.Status != model.StatusOK {
		t.Fatalf("expected status ok, got %q (errors: %v)", result.Status, result.Errors)
	}
	if result.Requirements == nil {
		t.Fatal("expected a requirements record")
	}
	if result.Requirements.Contradiction != nil {
		t.Errorf("unexpected contradiction: %+v", result.Requirements.Contradiction)
	}
	if result.Meta["source"] != "local" {
		t.Errorf("expected source local, got %v", result.Meta["source"])
	}
	if result.Meta["trace_id"] == "" {
		t.Error("expected a generated trace id")
	}
}

func TestFinalize_AutoAssumptions_PartiallyOK(t *testing.T) {
	p := newTestPipeline(t, testConfig())

	result := p.Finalize(context.Background(), Request{
		RawText: "Create a local CLI notes app that lets a single user add, list, and delete notes from the command line.",
		UseLLM:  false,
	})

	if result.Status != model.StatusPartiallyOK {
		t.Fatalf("expected status partially_ok, got %q", result.Status)
	}
	if len(result.Requirements.AutoAssumptions) == 0 {
		t.Fatal("expected derived assumptions")
	}

	var sum float64
	for _, a := range result.Requirements.AutoAssumptions {
		sum += a.Confidence
	}
	if avg := sum / float64(len(result.Requirements.AutoAssumptions)); avg <= autoResolveThreshold {
		t.Errorf("expected average confidence above %v, got %v", autoResolveThreshold, avg)
	}
}

func TestFinalize_AutoAssumptions_LowConfidenceNeedsClarification(t *testing.T) {
	p := newTestPipeline(t, testConfig())

	result := p.Finalize(context.Background(), Request{
		RawText: "Build a simple CLI todo app.",
		UseLLM:  false,
	})

	if result.Status != model.StatusNeedsClarification {
		t.Fatalf("expected status needs_clarification, got %q", result.Status)
	}
	if len(result.Requirements.AutoAssumptions) == 0 {
		t.Error("expected derived assumptions")
	}
}

func TestFinalize_Contradiction_NeedsClarification(t *testing.T) {
	p := newTestPipeline(t, testConfig())

	result := p.Finalize(context.Background(), Request{
		RawText: "The gateway must remain stateless and keep a user session",
		UseLLM:  false,
	})

	if result.Status != model.StatusNeedsClarification {
		t.Fatalf("expected status needs_clarification, got %q", result.Status)
	}
	if result.Requirements.Contradiction == nil {
		t.Fatal("expected a contradiction on the record")
	}
	if !result.Requirements.Contradiction.Flag {
		t.Error("expected contradiction flag set")
	}
}

func TestFinalize_RawPayload_RepairFailure(t *testing.T) {
	p := newTestPipeline(t, testConfig())

	// The local stub echoes the payload on repair, so an invalid payload
	// stays invalid and escalates.
	result := p.Finalize(context.Background(), Request{
		RawPayload: map[string]any{"some": "value"},
		UseLLM:     false,
	})

	if result.Status != model.StatusNeedsHumanReview {
		t.Fatalf("expected status needs_human_review, got %q", result.Status)
	}
	if result.Meta["repair_attempted"] != true {
		t.Error("expected repair_attempted in result meta")
	}

	found := false
	for _, e := range result.Errors {
		if e == "summary: Field required" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the validation error to survive repair, got %v", result.Errors)
	}
}

func TestFinalize_RawPayload_RepairSuccess(t *testing.T) {
	client := &scriptedClient{
		repairResp: &llm.StructureResponse{
			Response: toolCallResponse(t, completePayload()),
			Model:    "gpt-4o-mini",
			Usage:    &model.TokenUsage{PromptTokens: 200, CompletionTokens: 100, TotalTokens: 300},
		},
	}
	p := newTestPipeline(t, testConfig(), WithClient(client))

	result := p.Finalize(context.Background(), Request{
		RawPayload: map[string]any{"title": "Incomplete"},
		UseLLM:     true,
	})

	if result.Status == model.StatusNeedsHumanReview {
		t.Fatalf("repaired run must not escalate, got %q (errors: %v)", result.Status, result.Errors)
	}
	if client.repairCalls != 1 {
		t.Errorf("expected exactly one repair attempt, got %d", client.repairCalls)
	}
	if result.Meta["repair_attempted"] != true {
		t.Error("expected repair_attempted in result meta")
	}
	if !result.Requirements.Meta.RepairAttempted {
		t.Error("expected repair_attempted on the record meta")
	}
	if result.Meta["source"] != "repaired" {
		t.Errorf("expected source repaired, got %v", result.Meta["source"])
	}
	if result.Requirements.Meta.TokenUsage != 300 {
		t.Errorf("expected repair tokens on record meta, got %d", result.Requirements.Meta.TokenUsage)
	}
}

func TestFinalize_StructureErrorEscalates(t *testing.T) {
	client := &scriptedClient{structureErr: errors.New("boom")}
	p := newTestPipeline(t, testConfig(), WithClient(client))

	result := p.Finalize(context.Background(), Request{
		RawText: "Build something",
		UseLLM:  true,
	})

	if result.Status != model.StatusNeedsHumanReview {
		t.Fatalf("expected status needs_human_review, got %q", result.Status)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "LLM call or payload extraction failed") {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
	if result.Requirements != nil {
		t.Error("failed structuring must not produce a record")
	}
}

func TestFinalize_InputSizeGuardrail(t *testing.T) {
	cfg := testConfig()
	cfg.Guardrail.MaxInputChars = 10
	p := newTestPipeline(t, cfg)

	result := p.Finalize(context.Background(), Request{
		RawText: "This text is clearly longer than ten characters.",
		UseLLM:  false,
	})

	if result.Status != model.StatusNeedsHumanReview {
		t.Fatalf("expected status needs_human_review, got %q", result.Status)
	}
	if result.Meta["guardrail"] != "input_size" {
		t.Errorf("expected input_size guardrail marker, got %v", result.Meta["guardrail"])
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "input too large") {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

// fixedLedger reports a fixed daily total.
type fixedLedger struct{ total int }

func (f fixedLedger) RecordRun(tokens int, costUSD float64) error { return nil }
func (f fixedLedger) DailyTotal() (usage.DayStats, error) {
	return usage.DayStats{TotalTokens: f.total}, nil
}

func TestFinalize_DailyQuotaGuardrail(t *testing.T) {
	cfg := testConfig()
	cfg.Guardrail.DailyTokenQuota = 100
	client := &scriptedClient{}
	p := newTestPipeline(t, cfg, WithClient(client), WithLedger(fixedLedger{total: 150}))

	result := p.Finalize(context.Background(), Request{
		RawText: "Build something",
		UseLLM:  true,
	})

	if result.Status != model.StatusNeedsHumanReview {
		t.Fatalf("expected status needs_human_review, got %q", result.Status)
	}
	if result.Meta["guardrail"] != "token_quota" {
		t.Errorf("expected token_quota guardrail marker, got %v", result.Meta["guardrail"])
	}
	if client.structureCalls != 0 {
		t.Error("quota guardrail must block the oracle call")
	}
}

func TestFinalize_QuotaIgnoredWithoutOracle(t *testing.T) {
	cfg := testConfig()
	cfg.Guardrail.DailyTokenQuota = 100
	p := newTestPipeline(t, cfg, WithLedger(fixedLedger{total: 150}))

	result := p.Finalize(context.Background(), Request{
		RawText: "Build a multi-user web app backed by Postgres with user accounts.",
		UseLLM:  false,
	})

	if result.Status == model.StatusNeedsHumanReview {
		t.Errorf("local runs spend no tokens and must pass the quota, got %q", result.Status)
	}
}

func TestFinalize_CacheHitSkipsSecondCall(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = true
	client := &scriptedClient{
		structureResp: &llm.StructureResponse{
			Response: toolCallResponse(t, completePayload()),
			Model:    "gpt-4o-mini",
			Usage:    &model.TokenUsage{TotalTokens: 100},
		},
	}
	p := newTestPipeline(t, cfg, WithClient(client))

	req := Request{RawText: "Build a CLI todo app", UseLLM: true}
	first := p.Finalize(context.Background(), req)
	second := p.Finalize(context.Background(), req)

	if client.structureCalls != 1 {
		t.Fatalf("expected one oracle call across two runs, got %d", client.structureCalls)
	}
	if second.Meta["cache_hit"] != true {
		t.Error("expected cache_hit on the second run")
	}
	if first.Requirements.ID != second.Requirements.ID {
		t.Errorf("cached runs must yield the same record ID: %q vs %q",
			first.Requirements.ID, second.Requirements.ID)
	}
}

func TestFinalize_UsageAndCostAccounting(t *testing.T) {
	cfg := testConfig()
	cfg.Pricing = model.PricingConfig{InputPerMTokensUSD: 10, OutputPerMTokensUSD: 30, SingleCallAlertUSD: 0.001}
	client := &scriptedClient{
		structureResp: &llm.StructureResponse{
			Response: toolCallResponse(t, completePayload()),
			Model:    "gpt-4o-mini",
			Usage:    &model.TokenUsage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
		},
	}
	p := newTestPipeline(t, cfg, WithClient(client))

	result := p.Finalize(context.Background(), Request{RawText: "Build a CLI todo app", UseLLM: true})

	usageMeta, ok := result.Meta["usage"].(map[string]any)
	if !ok {
		t.Fatalf("expected usage meta, got %v", result.Meta["usage"])
	}
	if usageMeta["total_tokens"] != 1500 {
		t.Errorf("expected 1500 total tokens, got %v", usageMeta["total_tokens"])
	}

	cost, ok := result.Meta["cost_estimate_usd"].(float64)
	if !ok || cost <= 0 {
		t.Fatalf("expected a positive cost estimate, got %v", result.Meta["cost_estimate_usd"])
	}
	if result.Meta["cost_alert"] != true {
		t.Error("expected cost_alert above the single call threshold")
	}
	if result.Meta["model"] != "gpt-4o-mini" {
		t.Errorf("expected oracle model in meta, got %v", result.Meta["model"])
	}
}

func TestFinalize_TraceIDPropagates(t *testing.T) {
	p := newTestPipeline(t, testConfig())

	result := p.Finalize(context.Background(), Request{
		RawText: "Build a data export service backed by Postgres storage.",
		UseLLM:  false,
		TraceID: "trace-fixed",
	})

	if result.Meta["trace_id"] != "trace-fixed" {
		t.Errorf("expected trace-fixed, got %v", result.Meta["trace_id"])
	}
	if result.Requirements.Meta.TraceID != "trace-fixed" {
		t.Errorf("expected trace on record meta, got %q", result.Requirements.Meta.TraceID)
	}
}

func TestFinalize_LocalStubSkipsRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.RequestsPerSecond = 0.0001

	p := newTestPipeline(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	for i := 0; i < 3; i++ {
		result := p.Finalize(ctx, Request{
			RawText: "Build a multi-user web app for note taking. Use Postgres for persistence and support user login and authentication.",
			UseLLM:  false,
		})
		if result.Status == model.StatusNeedsHumanReview {
			t.Fatalf("run %d was throttled: %v", i, result.Errors)
		}
	}
}

// confirmingClient confirms every suspicious pair it is asked about.
type confirmingClient struct {
	scriptedClient
}

func (c *confirmingClient) ClassifyPairs(ctx context.Context, req llm.ClassifyRequest) (*llm.ClassifyResponse, error) {
	verdicts := make([]any, 0, len(req.Pairs))
	for _, pair := range req.Pairs {
		verdicts = append(verdicts, map[string]any{
			"pair_id":  pair.PairID,
			"conflict": true,
			"reason":   "A forbids what B requires.",
		})
	}
	return &llm.ClassifyResponse{Response: verdicts}, nil
}

func TestFinalize_SemanticConfirmationNotDuplicated(t *testing.T) {
	payload := completePayload()
	payload["title"] = "The gateway must remain stateless"
	payload["summary"] = "Keep a user session for every login."

	p := newTestPipeline(t, testConfig(), WithClient(&confirmingClient{}))

	result := p.Finalize(context.Background(), Request{
		RawPayload: payload,
		UseLLM:     true,
	})

	if result.Requirements == nil || result.Requirements.Contradiction == nil {
		t.Fatal("expected a contradiction on the record")
	}
	issues := result.Requirements.Contradiction.Issues
	fields := make(map[string]int)
	for _, issue := range issues {
		fields[issue.Field]++
	}
	if fields["title & summary"] != 1 {
		t.Errorf("expected one issue for title & summary, got %d (all: %+v)", fields["title & summary"], issues)
	}
}
