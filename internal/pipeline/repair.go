package pipeline

import (
	"context"

	"github.com/reqforge/reqforge/internal/llm"
	"github.com/reqforge/reqforge/internal/model"
	"github.com/reqforge/reqforge/internal/validate"

	"go.uber.org/zap"
)

// extractionFailedMsg prefixes every repair error surfaced to the caller so
// downstream tooling can match on a stable string.
const extractionFailedMsg = "LLM call or payload extraction failed"

// repairOutcome carries everything a repair attempt produced: the repaired
// record when validation passed on the second try, the surviving errors when
// it did not, and a meta map for the trace.
type repairOutcome struct {
	req    *model.Requirements
	errors []string
	meta   map[string]any
	usage  *model.TokenUsage
	model  string
}

// attemptRepair makes exactly one round-trip to the oracle with the invalid
// payload and the validator's error strings, then re-validates whatever
// comes back. There is no retry: a second failure goes to a human.
func (p *Pipeline) attemptRepair(ctx context.Context, client llm.Client, payload map[string]any, validationErrors []string, traceID string) repairOutcome {
	out := repairOutcome{
		errors: validationErrors,
		meta:   map[string]any{"attempted": true},
	}

	if err := p.waitForSlot(ctx, client); err != nil {
		out.meta["error"] = extractionFailedMsg + ": " + err.Error()
		return out
	}

	resp, err := client.Repair(ctx, llm.RepairRequest{
		OriginalPayload: payload,
		Errors:          validationErrors,
		TraceID:         traceID,
	})
	if err != nil {
		out.meta["error"] = extractionFailedMsg + ": " + err.Error()
		return out
	}
	out.model = resp.Model
	out.usage = resp.Usage

	fixed, err := ExtractFunctionPayload(resp.Response)
	if err != nil {
		out.meta["error"] = extractionFailedMsg + ": " + err.Error()
		return out
	}

	req, stillInvalid := validate.ValidateAndNormalize(fixed)
	out.meta["errors_before"] = len(validationErrors)
	out.meta["errors_after"] = len(stillInvalid)

	if len(stillInvalid) > 0 {
		out.errors = stillInvalid
		out.meta["error"] = "repaired payload failed validation"
		p.logger.Warn("repair attempt did not resolve validation errors",
			zap.String("trace_id", traceID),
			zap.Int("errors_before", len(validationErrors)),
			zap.Int("errors_after", len(stillInvalid)))
		return out
	}

	out.req = req
	out.errors = nil
	p.logger.Info("repair attempt succeeded",
		zap.String("trace_id", traceID),
		zap.Int("errors_before", len(validationErrors)))
	return out
}
