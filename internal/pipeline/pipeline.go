// Package pipeline orchestrates a finalize run: guardrails, structuring,
// validation with single-shot repair, contradiction detection, status
// resolution, and accounting. Every run completes with a FinalizeResult;
// oracle failures degrade the status, they never panic or escape as errors.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reqforge/reqforge/internal/cache"
	"github.com/reqforge/reqforge/internal/contradict"
	"github.com/reqforge/reqforge/internal/llm"
	"github.com/reqforge/reqforge/internal/model"
	"github.com/reqforge/reqforge/internal/trace"
	"github.com/reqforge/reqforge/internal/usage"
	"github.com/reqforge/reqforge/internal/validate"
	"github.com/reqforge/reqforge/internal/worker"
)

// Pipeline wires the finalize stages together. Construct it once per
// process; Finalize is safe for concurrent use.
type Pipeline struct {
	cfg     *model.Config
	client  llm.Client
	local   llm.Client
	cache   cache.Cache
	limiter *worker.Limiter
	ledger  usage.Ledger
	sink    trace.Sink
	logger  *zap.Logger
}

// Option customizes pipeline construction, mainly for tests.
type Option func(*Pipeline)

// WithClient overrides the configured oracle client.
func WithClient(client llm.Client) Option {
	return func(p *Pipeline) { p.client = client }
}

// WithLedger overrides the usage ledger.
func WithLedger(ledger usage.Ledger) Option {
	return func(p *Pipeline) { p.ledger = ledger }
}

// WithSink overrides the trace sink.
func WithSink(sink trace.Sink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithCache overrides the structuring cache.
func WithCache(c cache.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// New builds a pipeline from configuration. The oracle client comes from
// the configured provider; a local deterministic stub is always kept
// alongside for no-oracle runs.
func New(cfg *model.Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := llm.NewClient(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		return nil, fmt.Errorf("create oracle client: %w", err)
	}

	p := &Pipeline{
		cfg:     cfg,
		client:  client,
		local:   llm.NewLocalClient(llm.ConfigFromModel(cfg.LLM)),
		limiter: worker.NewLimiter(cfg.LLM.RequestsPerSecond, 1),
		ledger:  usage.NopLedger{},
		sink:    trace.NewSink(cfg.Trace, logger),
		logger:  logger,
	}

	if cfg.Usage.Enabled {
		p.ledger = usage.NewFileLedger(cfg.Usage.Path)
	}
	if cfg.Cache.Enabled {
		if cfg.Cache.Dir != "" {
			p.cache = cache.NewDiskCache(cfg.Cache.Dir, cfg.Cache.TTL)
		} else {
			p.cache = cache.NewMemoryCache(cfg.Cache.TTL, 10*time.Minute)
		}
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Request is the input for one finalize run. Exactly one of RawText and
// RawPayload drives structuring: when RawPayload is set, the oracle
// structuring call is skipped and the payload goes straight to validation.
type Request struct {
	// RawText is the free-form requirement text
	RawText string

	// Context carries caller-supplied hints passed through to the oracle
	Context map[string]any

	// RawPayload bypasses structuring when the caller already has a payload
	RawPayload map[string]any

	// UseLLM selects the configured oracle; false selects the local stub
	UseLLM bool

	// TraceID correlates the run; generated when empty
	TraceID string
}

// run accumulates per-run state so the finish path can assemble the result
// and the trace from one place.
type run struct {
	in      Request
	traceID string
	source  string

	totalUsage  model.TokenUsage
	oracleModel string
	rawResponse string
	cacheHit    bool

	validationStatus string
	validationErrors []string
	repairAttempted  bool
	repairMeta       map[string]any
	semanticMeta     *contradict.SemanticMeta

	result *model.FinalizeResult
}

// Finalize executes the full pipeline for one request. It always returns a
// result; the four possible statuses are ok, partially_ok,
// needs_clarification, and needs_human_review.
func (p *Pipeline) Finalize(ctx context.Context, in Request) *model.FinalizeResult {
	r := &run{
		in:               in,
		traceID:          in.TraceID,
		source:           "payload",
		validationStatus: "skipped",
		result: &model.FinalizeResult{
			Status: model.StatusNeedsHumanReview,
			Meta:   map[string]any{},
		},
	}
	if r.traceID == "" {
		r.traceID = uuid.NewString()
	}
	r.result.Meta["trace_id"] = r.traceID
	r.result.Meta["prompt_version"] = llm.PromptVersion
	r.result.Meta["schema_version"] = llm.SchemaVersion

	p.logger.Debug("finalize run started",
		zap.String("trace_id", r.traceID),
		zap.Bool("use_llm", in.UseLLM),
		zap.Int("raw_text_chars", len(in.RawText)))

	if blocked := p.checkGuardrails(r); blocked {
		return p.finish(ctx, r)
	}

	active := p.local
	if in.UseLLM {
		active = p.client
	}

	payload := in.RawPayload
	if payload == nil {
		if in.UseLLM {
			r.source = "llm"
		} else {
			r.source = "local"
		}
		var failed bool
		payload, failed = p.structure(ctx, active, r)
		if failed {
			return p.finish(ctx, r)
		}
	}

	req, validationErrors := validate.ValidateAndNormalize(payload)
	r.validationStatus = "ok"
	r.validationErrors = validationErrors

	if len(validationErrors) > 0 {
		r.validationStatus = "failed"
		r.repairAttempted = true

		outcome := p.attemptRepair(ctx, active, payload, validationErrors, r.traceID)
		r.repairMeta = outcome.meta
		if outcome.model != "" {
			r.oracleModel = outcome.model
		}
		if outcome.usage != nil {
			r.totalUsage = r.totalUsage.Add(*outcome.usage)
		}

		if outcome.req == nil {
			r.result.Status = model.StatusNeedsHumanReview
			r.result.Errors = outcome.errors
			return p.finish(ctx, r)
		}

		req = outcome.req
		r.source = "repaired"
		r.validationStatus = "repaired"
		r.validationErrors = nil
	}

	req = p.detectContradictions(ctx, active, req, r)

	if assumptions := deriveAutoAssumptions(in.RawText, req); len(assumptions) > 0 {
		withAssumptions := req.WithAutoAssumptions(assumptions)
		req = &withAssumptions
	}

	req = p.stampMeta(req, r)
	r.result.Requirements = req
	r.result.Status = resolveStatus(req)
	r.result.Errors = []string{}
	return p.finish(ctx, r)
}

// checkGuardrails enforces the input-size cap and the daily token quota.
// Either tripping short-circuits the run to needs_human_review before any
// oracle spend.
func (p *Pipeline) checkGuardrails(r *run) bool {
	if r.in.RawPayload == nil {
		if max := p.cfg.Guardrail.MaxInputChars; max > 0 && len(r.in.RawText) > max {
			r.result.Status = model.StatusNeedsHumanReview
			r.result.Errors = []string{fmt.Sprintf("input too large: %d chars (limit %d)", len(r.in.RawText), max)}
			r.result.Meta["guardrail"] = "input_size"
			p.logger.Warn("input size guardrail tripped",
				zap.String("trace_id", r.traceID),
				zap.Int("chars", len(r.in.RawText)))
			return true
		}
	}

	if quota := p.cfg.Guardrail.DailyTokenQuota; r.in.UseLLM && quota > 0 {
		day, err := p.ledger.DailyTotal()
		if err == nil && day.TotalTokens >= quota {
			r.result.Status = model.StatusNeedsHumanReview
			r.result.Errors = []string{fmt.Sprintf("daily token quota exhausted: %d of %d used", day.TotalTokens, quota)}
			r.result.Meta["guardrail"] = "token_quota"
			p.logger.Warn("daily token quota guardrail tripped",
				zap.String("trace_id", r.traceID),
				zap.Int("used", day.TotalTokens),
				zap.Int("quota", quota))
			return true
		}
	}

	return false
}

// waitForSlot applies the per-model rate limit ahead of an oracle call. The
// local stub makes no network calls and is never throttled.
func (p *Pipeline) waitForSlot(ctx context.Context, client llm.Client) error {
	if client == p.local {
		return nil
	}
	return p.limiter.Wait(ctx, p.cfg.LLM.Model)
}

// structure obtains a raw payload for the input text, via the cache when a
// previous run already structured the same text and context. The second
// return value reports an unrecoverable failure already written to r.result.
func (p *Pipeline) structure(ctx context.Context, client llm.Client, r *run) (map[string]any, bool) {
	fail := func(err error) (map[string]any, bool) {
		r.validationStatus = "skipped"
		r.result.Status = model.StatusNeedsHumanReview
		r.result.Errors = []string{extractionFailedMsg + ": " + err.Error()}
		p.logger.Warn("structuring failed",
			zap.String("trace_id", r.traceID),
			zap.Error(err))
		return nil, true
	}

	key := cache.Key(r.in.RawText, r.in.Context)
	if p.cache != nil && r.in.UseLLM {
		if data, ok := p.cache.Get(key); ok {
			var payload map[string]any
			if err := json.Unmarshal(data, &payload); err == nil {
				r.cacheHit = true
				r.result.Meta["cache_hit"] = true
				p.logger.Debug("structuring cache hit", zap.String("trace_id", r.traceID))
				return payload, false
			}
		}
	}

	if err := p.waitForSlot(ctx, client); err != nil {
		return fail(err)
	}

	resp, err := client.Structure(ctx, llm.StructureRequest{
		RawText: r.in.RawText,
		Context: r.in.Context,
		TraceID: r.traceID,
	})
	if err != nil {
		return fail(err)
	}

	r.oracleModel = resp.Model
	if resp.Usage != nil {
		r.totalUsage = r.totalUsage.Add(*resp.Usage)
	}
	if data, merr := json.Marshal(resp.Response); merr == nil {
		r.rawResponse = string(data)
	}

	payload, err := ExtractFunctionPayload(resp.Response)
	if err != nil {
		return fail(err)
	}

	if p.cache != nil && r.in.UseLLM {
		if data, merr := json.Marshal(payload); merr == nil {
			if cerr := p.cache.Set(key, data, p.cfg.Cache.TTL); cerr != nil {
				p.logger.Debug("structuring cache write failed", zap.Error(cerr))
			}
		}
	}

	return payload, false
}

// mergeIssues appends extra issues whose field reference is not already
// present. Suspicious pairs are built from the deterministic issues, so a
// confirmation for a known field is a restatement, not a new finding.
func mergeIssues(base, extra []model.ContradictionIssue) []model.ContradictionIssue {
	seen := make(map[string]bool, len(base))
	for _, issue := range base {
		seen[issue.Field] = true
	}
	for _, issue := range extra {
		if seen[issue.Field] {
			continue
		}
		seen[issue.Field] = true
		base = append(base, issue)
	}
	return base
}

// detectContradictions runs the deterministic rules, sends any suspicious
// pairs through the semantic check, and attaches the merged contradiction
// to the record.
func (p *Pipeline) detectContradictions(ctx context.Context, client llm.Client, req *model.Requirements, r *run) *model.Requirements {
	detected := contradict.Detect(req)

	var issues []model.ContradictionIssue
	if detected != nil {
		issues = append(issues, detected.Issues...)
	}

	pairs := contradict.BuildSuspiciousPairs(req, detected)
	checker := contradict.NewSemanticChecker(client, p.cfg.Semantic, p.cfg.Pricing, p.logger)
	confirmed, semMeta := checker.Check(ctx, pairs, r.traceID)
	issues = mergeIssues(issues, confirmed)

	r.semanticMeta = &semMeta
	r.result.Meta["semantic_contradiction"] = semMeta
	if semMeta.Usage != nil {
		r.totalUsage = r.totalUsage.Add(*semMeta.Usage)
	}

	if len(issues) == 0 {
		return req
	}

	flagged := req.WithContradiction(&model.Contradiction{Flag: true, Issues: issues})
	p.logger.Info("contradictions detected",
		zap.String("trace_id", r.traceID),
		zap.Int("issues", len(issues)))
	return &flagged
}

// stampMeta fills provenance gaps the oracle payload left open and records
// the run's aggregate token usage on the record.
func (p *Pipeline) stampMeta(req *model.Requirements, r *run) *model.Requirements {
	meta := req.Meta
	if meta.TraceID == "" {
		meta.TraceID = r.traceID
	}
	if meta.PromptVersion == "" {
		meta.PromptVersion = llm.PromptVersion
	}
	if meta.SchemaVersion == "" {
		meta.SchemaVersion = llm.SchemaVersion
	}
	if r.oracleModel != "" {
		meta.Model = r.oracleModel
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	meta.RepairAttempted = r.repairAttempted
	meta.TokenUsage = r.totalUsage.TotalTokens

	stamped := req.WithMeta(meta)
	return &stamped
}

// finish closes out a run: cost accounting, the usage ledger, the result
// meta, and the trace emission. It is the single exit point of Finalize.
func (p *Pipeline) finish(ctx context.Context, r *run) *model.FinalizeResult {
	if r.result.Errors == nil {
		r.result.Errors = []string{}
	}

	r.result.Meta["source"] = r.source
	if r.oracleModel != "" {
		r.result.Meta["model"] = r.oracleModel
	}
	if r.repairAttempted {
		r.result.Meta["repair_attempted"] = true
		if r.repairMeta != nil {
			r.result.Meta["repair"] = r.repairMeta
		}
	}

	usageMap := map[string]any{
		"prompt_tokens":     r.totalUsage.PromptTokens,
		"completion_tokens": r.totalUsage.CompletionTokens,
		"total_tokens":      r.totalUsage.TotalTokens,
	}
	r.result.Meta["usage"] = usageMap

	var costUSD float64
	if cost, ok := usage.Estimate(r.totalUsage, p.cfg.Pricing); ok {
		costUSD = cost
		r.result.Meta["cost_estimate_usd"] = cost
		if alert := p.cfg.Pricing.SingleCallAlertUSD; alert > 0 && cost > alert {
			r.result.Meta["cost_alert"] = true
			p.logger.Warn("single run cost above alert threshold",
				zap.String("trace_id", r.traceID),
				zap.Float64("cost_usd", cost))
		}
	}

	if r.totalUsage.TotalTokens > 0 {
		if err := p.ledger.RecordRun(r.totalUsage.TotalTokens, costUSD); err != nil {
			p.logger.Warn("usage ledger write failed", zap.Error(err))
		}
	}

	if p.sink.Available() {
		var semantic any
		if r.semanticMeta != nil {
			semantic = *r.semanticMeta
		}
		p.sink.Emit(ctx, trace.BuildPayload(trace.BuildInput{
			TraceID:          r.traceID,
			Step:             "finalize",
			RawText:          r.in.RawText,
			Context:          r.in.Context,
			Model:            r.oracleModel,
			Usage:            usageMap,
			RawResponse:      r.rawResponse,
			ValidationStatus: r.validationStatus,
			ValidationErrors: r.validationErrors,
			Repair:           r.repairMeta,
			Semantic:         semantic,
			Status:           r.result.Status,
			Meta:             map[string]any{"source": r.source, "cache_hit": r.cacheHit},
			IncludeRaw:       p.cfg.Trace.IncludeRaw,
		}))
	}

	p.logger.Info("finalize run completed",
		zap.String("trace_id", r.traceID),
		zap.String("status", r.result.Status),
		zap.String("source", r.source),
		zap.Int("total_tokens", r.totalUsage.TotalTokens))

	return r.result
}
