package pipeline

import (
	"fmt"
	"strings"

	"github.com/reqforge/reqforge/internal/model"
	"github.com/reqforge/reqforge/internal/textnorm"
)

// autoResolveThreshold is the average confidence auto-derived assumptions
// must exceed for a record to settle at partially_ok instead of bouncing
// back for clarification.
const autoResolveThreshold = 0.6

// deriveAutoAssumptions fills common gaps in a validated record with
// explicit, low-stakes assumptions. Each heuristic inspects the normalized
// input text plus the structured summary; a heuristic that finds no signal
// contributes nothing.
func deriveAutoAssumptions(rawText string, req *model.Requirements) []model.AutoAssumption {
	text := textnorm.Normalize(rawText + " " + req.Summary)
	tokens := map[string]bool{}
	for _, tok := range strings.Fields(text) {
		tokens[tok] = true
	}
	hasPhrase := func(phrase string) bool { return strings.Contains(text, phrase) }

	var assumptions []model.AutoAssumption
	add := func(source, assumption string, confidence float64) {
		assumptions = append(assumptions, model.AutoAssumption{
			ID:         fmt.Sprintf("AA-%d", len(assumptions)+1),
			Text:       assumption,
			Confidence: confidence,
			Source:     source,
		})
	}

	// Interface: explicit "command line" wording is a stronger signal than
	// the bare acronym.
	if tokens["cli"] || hasPhrase("command line") {
		confidence := 0.6
		if hasPhrase("command line") {
			confidence = 0.8
		}
		add("interface", "Interface is a command-line tool; no GUI or web frontend.", confidence)
	}

	// User model.
	if hasPhrase("single user") || hasPhrase("one user") {
		add("user_model", "Single local user; no authentication or multi-user accounts.", 0.85)
	}

	// Persistence: only assume local storage when the input says nothing
	// about where data lives.
	if !mentionsStorage(tokens) {
		add("persistence", "Data is stored locally; no external database required.", 0.55)
	}

	return assumptions
}

var storageTokens = []string{
	"database", "persistence", "persistent", "persist",
	"sql", "postgres", "postgresql", "mysql", "sqlite", "mongodb", "redis",
	"storage", "store", "stored",
}

func mentionsStorage(tokens map[string]bool) bool {
	for _, tok := range storageTokens {
		if tokens[tok] {
			return true
		}
	}
	return false
}

// resolveStatus maps a validated record to its terminal status. Contradiction
// flags and open clarifications always force a round-trip to the author.
// Auto-derived assumptions self-resolve only when their average confidence
// clears the threshold.
func resolveStatus(req *model.Requirements) string {
	if req.Contradiction != nil || len(req.Clarifications) > 0 {
		return model.StatusNeedsClarification
	}
	if len(req.AutoAssumptions) > 0 {
		var sum float64
		for _, a := range req.AutoAssumptions {
			sum += a.Confidence
		}
		if sum/float64(len(req.AutoAssumptions)) > autoResolveThreshold {
			return model.StatusPartiallyOK
		}
		return model.StatusNeedsClarification
	}
	return model.StatusOK
}
