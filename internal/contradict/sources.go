// Package contradict detects semantically conflicting statements inside a
// requirements record. A deterministic rule engine scans normalized field
// text for known tensions (stateless vs session, no-database vs
// persistence, ...); an optional oracle-backed check confirms or dismisses
// the suspicious pairs those rules surface.
package contradict

import (
	"fmt"

	"github.com/reqforge/reqforge/internal/model"
	"github.com/reqforge/reqforge/internal/textnorm"
)

// Source is one free-text field flattened for rule evaluation, keeping its
// provenance so issues can name the implicated fields.
type Source struct {
	Field  string
	Text   string // normalized text
	Tokens []string
}

// CollectSources flattens every free-text field of the record into
// (field path, normalized text, tokens) triples.
//
// Visit order is fixed: title, summary, non_goals, dependencies,
// constraints, then per-requirement descriptions and rationales. List
// fields are indexed as field[idx]. Empty fields are skipped entirely.
func CollectSources(req *model.Requirements) []Source {
	var sources []Source

	add := func(field, text string) {
		if text == "" {
			return
		}
		norm := textnorm.Normalize(text)
		if norm == "" {
			return
		}
		sources = append(sources, Source{
			Field:  field,
			Text:   norm,
			Tokens: textnorm.Tokenize(text),
		})
	}

	add("title", req.Title)
	add("summary", req.Summary)

	for idx, value := range req.NonGoals {
		add(fmt.Sprintf("non_goals[%d]", idx), value)
	}
	for idx, value := range req.Dependencies {
		add(fmt.Sprintf("dependencies[%d]", idx), value)
	}
	for idx, value := range req.Constraints {
		add(fmt.Sprintf("constraints[%d]", idx), value)
	}

	for idx, fr := range req.FunctionalRequirements {
		add(fmt.Sprintf("functional_requirements[%d].description", idx), fr.Description)
		if fr.Rationale != "" {
			add(fmt.Sprintf("functional_requirements[%d].rationale", idx), fr.Rationale)
		}
	}

	for idx, nfr := range req.NonFunctionalRequirements {
		add(fmt.Sprintf("non_functional_requirements[%d].description", idx), nfr.Description)
	}

	return sources
}
