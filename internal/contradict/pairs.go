package contradict

import (
	"fmt"
	"strings"

	"github.com/reqforge/reqforge/internal/llm"
	"github.com/reqforge/reqforge/internal/model"
)

// ruleIDForIssue maps a deterministic issue back to the rule that produced
// it via the rule's fixed explanation prefix.
func ruleIDForIssue(issue model.ContradictionIssue) string {
	switch {
	case strings.HasPrefix(issue.Explanation, "Requirements mention 'stateless'"):
		return "R_stateless_vs_session"
	case strings.HasPrefix(issue.Explanation, "Requirements state there should be no database"):
		return "R_no_db_vs_persistence"
	case strings.HasPrefix(issue.Explanation, "Requirements describe both single-user"):
		return "R_single_user_vs_multi_tenant"
	case strings.HasPrefix(issue.Explanation, "Requirements forbid external network"):
		return "R_no_external_vs_external_api"
	case strings.HasPrefix(issue.Explanation, "An item appears both as a non-goal"):
		return "R_non_goal_vs_dependency"
	default:
		return ""
	}
}

// BuildSuspiciousPairs turns deterministic rule hits into oracle-checkable
// pairs. Pair IDs are assigned in issue order (p-1, p-2, ...) and each
// pair carries the normalized text of both implicated fields plus the
// record summary as shared context.
func BuildSuspiciousPairs(req *model.Requirements, contradiction *model.Contradiction) []llm.SuspiciousPair {
	if contradiction == nil || len(contradiction.Issues) == 0 {
		return nil
	}

	sources := CollectSources(req)
	textByField := make(map[string]string, len(sources))
	for _, source := range sources {
		textByField[source.Field] = source.Text
	}

	pairs := make([]llm.SuspiciousPair, 0, len(contradiction.Issues))
	for idx, issue := range contradiction.Issues {
		fieldA, fieldB, ok := strings.Cut(issue.Field, " & ")
		if !ok {
			continue
		}
		pairs = append(pairs, llm.SuspiciousPair{
			PairID:  fmt.Sprintf("p-%d", idx+1),
			RuleID:  ruleIDForIssue(issue),
			FieldA:  fieldA,
			TextA:   textByField[fieldA],
			FieldB:  fieldB,
			TextB:   textByField[fieldB],
			Context: req.Summary,
		})
	}
	return pairs
}
