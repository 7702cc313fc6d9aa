package contradict

import (
	"context"
	"errors"
	"testing"

	"github.com/reqforge/reqforge/internal/llm"
	"github.com/reqforge/reqforge/internal/model"
)

// fakeClassifier is an llm.Client stub whose ClassifyPairs behavior is
// scripted per call.
type fakeClassifier struct {
	responses []*llm.ClassifyResponse
	err       error
	calls     int
	batches   [][]llm.SuspiciousPair
}

func (f *fakeClassifier) Name() string                        { return "fake" }
func (f *fakeClassifier) IsAvailable(ctx context.Context) bool { return true }

func (f *fakeClassifier) Structure(ctx context.Context, req llm.StructureRequest) (*llm.StructureResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClassifier) Repair(ctx context.Context, req llm.RepairRequest) (*llm.StructureResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClassifier) ClassifyPairs(ctx context.Context, req llm.ClassifyRequest) (*llm.ClassifyResponse, error) {
	f.batches = append(f.batches, req.Pairs)
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func somePairs(n int) []llm.SuspiciousPair {
	pairs := make([]llm.SuspiciousPair, n)
	for i := range pairs {
		pairs[i] = llm.SuspiciousPair{
			PairID: "p-" + string(rune('1'+i)),
			FieldA: "title",
			TextA:  "stateless",
			FieldB: "summary",
			TextB:  "session",
		}
	}
	return pairs
}

func semanticConfig() model.SemanticConfig {
	return model.SemanticConfig{Enabled: true, MaxPairs: 5, MaxTokens: 256}
}

func TestSemanticChecker_EmptyPairsSkipped(t *testing.T) {
	checker := NewSemanticChecker(&fakeClassifier{}, semanticConfig(), model.PricingConfig{}, nil)

	issues, meta := checker.Check(context.Background(), nil, "t-1")
	if issues != nil {
		t.Errorf("expected no issues, got %v", issues)
	}
	if meta.Status != SemanticSkipped {
		t.Errorf("expected status %q, got %q", SemanticSkipped, meta.Status)
	}
}

func TestSemanticChecker_Disabled(t *testing.T) {
	cfg := semanticConfig()
	cfg.Enabled = false
	fake := &fakeClassifier{}
	checker := NewSemanticChecker(fake, cfg, model.PricingConfig{}, nil)

	issues, meta := checker.Check(context.Background(), somePairs(2), "t-1")
	if issues != nil {
		t.Errorf("expected no issues, got %v", issues)
	}
	if meta.Status != SemanticDisabled || !meta.SkippedDueToConfig {
		t.Errorf("expected disabled status with config skip, got %+v", meta)
	}
	if len(fake.batches) != 0 {
		t.Error("disabled check must not call the oracle")
	}
}

func TestSemanticChecker_ConfirmedAndDenied(t *testing.T) {
	fake := &fakeClassifier{
		responses: []*llm.ClassifyResponse{{
			Response: []any{
				map[string]any{"pair_id": "p-1", "conflict": true, "reason": "A forbids what B requires."},
				map[string]any{"pair_id": "p-2", "conflict": false},
			},
			Model: "gpt-4o-mini",
			Usage: &model.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		}},
	}
	checker := NewSemanticChecker(fake, semanticConfig(), model.PricingConfig{}, nil)

	issues, meta := checker.Check(context.Background(), somePairs(2), "t-1")
	if len(issues) != 1 {
		t.Fatalf("expected 1 confirmed issue, got %d", len(issues))
	}
	if issues[0].Field != "title & summary" {
		t.Errorf("unexpected issue field: %q", issues[0].Field)
	}
	if issues[0].Explanation != "A forbids what B requires." {
		t.Errorf("unexpected explanation: %q", issues[0].Explanation)
	}
	if meta.Status != SemanticOK {
		t.Errorf("expected status ok, got %q", meta.Status)
	}
	if meta.PairsChecked != 2 || meta.PairsConfirmed != 1 {
		t.Errorf("unexpected counters: %+v", meta)
	}
	if meta.Usage == nil || meta.Usage.TotalTokens != 120 {
		t.Errorf("expected aggregated usage of 120 tokens, got %+v", meta.Usage)
	}
}

func TestSemanticChecker_DefaultReason(t *testing.T) {
	fake := &fakeClassifier{
		responses: []*llm.ClassifyResponse{{
			Response: []any{map[string]any{"pair_id": "p-1", "conflict": true}},
		}},
	}
	checker := NewSemanticChecker(fake, semanticConfig(), model.PricingConfig{}, nil)

	issues, _ := checker.Check(context.Background(), somePairs(1), "t-1")
	if len(issues) != 1 || issues[0].Explanation != defaultReason {
		t.Errorf("expected default reason, got %v", issues)
	}
}

func TestSemanticChecker_UnknownPairIDIgnored(t *testing.T) {
	fake := &fakeClassifier{
		responses: []*llm.ClassifyResponse{{
			Response: []any{map[string]any{"pair_id": "p-99", "conflict": true}},
		}},
	}
	checker := NewSemanticChecker(fake, semanticConfig(), model.PricingConfig{}, nil)

	issues, meta := checker.Check(context.Background(), somePairs(1), "t-1")
	if len(issues) != 0 {
		t.Errorf("verdicts for unknown pairs must be dropped, got %v", issues)
	}
	if meta.Status != SemanticOK {
		t.Errorf("expected status ok, got %q", meta.Status)
	}
}

func TestSemanticChecker_OracleErrorFailsClosed(t *testing.T) {
	fake := &fakeClassifier{err: errors.New("connection refused")}
	checker := NewSemanticChecker(fake, semanticConfig(), model.PricingConfig{}, nil)

	issues, meta := checker.Check(context.Background(), somePairs(2), "t-1")
	if issues != nil {
		t.Errorf("failed check must return no issues, got %v", issues)
	}
	if meta.Status != SemanticFailed {
		t.Errorf("expected status failed, got %q", meta.Status)
	}
	if meta.Error == "" {
		t.Error("expected the error to be recorded in meta")
	}
}

func TestSemanticChecker_MalformedResponseFailsClosed(t *testing.T) {
	fake := &fakeClassifier{
		responses: []*llm.ClassifyResponse{{
			Response: map[string]any{
				"choices": []any{map[string]any{
					"message": map[string]any{"content": "not json at all"},
				}},
			},
		}},
	}
	checker := NewSemanticChecker(fake, semanticConfig(), model.PricingConfig{}, nil)

	issues, meta := checker.Check(context.Background(), somePairs(1), "t-1")
	if issues != nil {
		t.Errorf("expected no issues on malformed response, got %v", issues)
	}
	if meta.Status != SemanticFailed || meta.Error == "" {
		t.Errorf("expected failed status with error, got %+v", meta)
	}
}

func TestSemanticChecker_ParsesCompletionContent(t *testing.T) {
	fake := &fakeClassifier{
		responses: []*llm.ClassifyResponse{{
			Response: map[string]any{
				"choices": []any{map[string]any{
					"message": map[string]any{
						"content": `Here are the verdicts: [{"pair_id":"p-1","conflict":true,"reason":"overlap"}] done`,
					},
				}},
			},
		}},
	}
	checker := NewSemanticChecker(fake, semanticConfig(), model.PricingConfig{}, nil)

	issues, meta := checker.Check(context.Background(), somePairs(1), "t-1")
	if len(issues) != 1 || issues[0].Explanation != "overlap" {
		t.Errorf("expected the array substring to be parsed, got %v", issues)
	}
	if meta.Status != SemanticOK {
		t.Errorf("expected status ok, got %q", meta.Status)
	}
}

func TestSemanticChecker_BatchSplitting(t *testing.T) {
	cfg := semanticConfig()
	cfg.MaxPairs = 2
	fake := &fakeClassifier{
		responses: []*llm.ClassifyResponse{
			{Response: []any{}, Usage: &model.TokenUsage{TotalTokens: 50}},
			{Response: []any{}, Usage: &model.TokenUsage{TotalTokens: 30}},
			{Response: []any{}, Usage: &model.TokenUsage{TotalTokens: 20}},
		},
	}
	checker := NewSemanticChecker(fake, cfg, model.PricingConfig{}, nil)

	_, meta := checker.Check(context.Background(), somePairs(5), "t-1")
	if len(fake.batches) != 3 {
		t.Fatalf("expected 3 batches for 5 pairs with max 2, got %d", len(fake.batches))
	}
	if len(fake.batches[0]) != 2 || len(fake.batches[1]) != 2 || len(fake.batches[2]) != 1 {
		t.Errorf("unexpected batch sizes: %d/%d/%d",
			len(fake.batches[0]), len(fake.batches[1]), len(fake.batches[2]))
	}
	if meta.Usage == nil || meta.Usage.TotalTokens != 100 {
		t.Errorf("expected summed usage of 100 tokens, got %+v", meta.Usage)
	}
	if meta.PairsChecked != 5 {
		t.Errorf("expected 5 pairs checked, got %d", meta.PairsChecked)
	}
}

func TestSemanticChecker_CostCeilingFailsClosed(t *testing.T) {
	cfg := semanticConfig()
	cfg.CostCeilingUSD = 0.0001
	pricing := model.PricingConfig{InputPerMTokensUSD: 10, OutputPerMTokensUSD: 30}
	fake := &fakeClassifier{
		responses: []*llm.ClassifyResponse{{
			Response: []any{map[string]any{"pair_id": "p-1", "conflict": true}},
			Usage:    &model.TokenUsage{PromptTokens: 100000, CompletionTokens: 10000, TotalTokens: 110000},
		}},
	}
	checker := NewSemanticChecker(fake, cfg, pricing, nil)

	issues, meta := checker.Check(context.Background(), somePairs(1), "t-1")
	if issues != nil {
		t.Errorf("over-budget check must discard confirmations, got %v", issues)
	}
	if meta.Status != SemanticFailed || !meta.SkippedDueToCost {
		t.Errorf("expected failed status with cost skip, got %+v", meta)
	}
	if meta.CostEstimateUSD <= cfg.CostCeilingUSD {
		t.Errorf("expected estimate above ceiling, got %f", meta.CostEstimateUSD)
	}
}
