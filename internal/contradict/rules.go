package contradict

import (
	"fmt"
	"strings"

	"github.com/reqforge/reqforge/internal/model"
	"github.com/reqforge/reqforge/internal/textnorm"
)

// Detect runs every deterministic rule over the record and returns the
// accumulated contradiction, or nil when no rule fires.
//
// Rules are evaluated independently and their issues concatenated in rule
// definition order; one rule never suppresses another. When several fields
// satisfy a side of a binary rule, the earliest field in collection order
// is reported. That first-match-wins tie-break is a documented contract,
// not an accident: downstream consumers and tests rely on stable field
// references.
func Detect(req *model.Requirements) *model.Contradiction {
	sources := CollectSources(req)

	var issues []model.ContradictionIssue
	issues = append(issues, ruleStatelessVsSession(sources)...)
	issues = append(issues, ruleNoDBVsPersistence(sources)...)
	issues = append(issues, ruleSingleUserVsMultiTenant(sources)...)
	issues = append(issues, ruleNoExternalVsExternalAPI(sources)...)
	issues = append(issues, ruleNonGoalsVsDependencies(req)...)

	if len(issues) == 0 {
		return nil
	}
	return &model.Contradiction{Flag: true, Issues: issues}
}

// fieldsWithToken returns the fields whose token list contains the token,
// in collection order.
func fieldsWithToken(sources []Source, token string) []string {
	var fields []string
	for _, source := range sources {
		for _, t := range source.Tokens {
			if t == token {
				fields = append(fields, source.Field)
				break
			}
		}
	}
	return fields
}

func ruleStatelessVsSession(sources []Source) []model.ContradictionIssue {
	statelessFields := fieldsWithToken(sources, "stateless")
	sessionFields := fieldsWithToken(sources, "session")

	if len(statelessFields) == 0 || len(sessionFields) == 0 {
		return nil
	}
	return []model.ContradictionIssue{{
		Field: statelessFields[0] + " & " + sessionFields[0],
		Explanation: "Requirements mention 'stateless' but also refer to 'session' or " +
			"session state, which implies stateful behavior.",
	}}
}

func hasNoDB(norm string) bool {
	return strings.Contains(norm, "no db") || strings.Contains(norm, "no database")
}

func hasPersistence(norm string) bool {
	return strings.Contains(norm, "persistence") ||
		strings.Contains(norm, "persistent") ||
		strings.Contains(norm, "store data") ||
		strings.Contains(norm, "database")
}

func ruleNoDBVsPersistence(sources []Source) []model.ContradictionIssue {
	var noDBFields, persistenceFields []string
	for _, source := range sources {
		if hasNoDB(source.Text) {
			noDBFields = append(noDBFields, source.Field)
		}
		if hasPersistence(source.Text) {
			persistenceFields = append(persistenceFields, source.Field)
		}
	}

	if len(noDBFields) == 0 || len(persistenceFields) == 0 {
		return nil
	}
	return []model.ContradictionIssue{{
		Field: noDBFields[0] + " & " + persistenceFields[0],
		Explanation: "Requirements state there should be no database but also imply " +
			"data persistence or database usage.",
	}}
}

func hasSingleUser(norm string) bool {
	return strings.Contains(norm, "single user")
}

func hasMultiTenant(norm string) bool {
	return strings.Contains(norm, "multi tenant") || strings.Contains(norm, "multitenant")
}

func ruleSingleUserVsMultiTenant(sources []Source) []model.ContradictionIssue {
	var singleFields, multiFields []string
	for _, source := range sources {
		if hasSingleUser(source.Text) {
			singleFields = append(singleFields, source.Field)
		}
		if hasMultiTenant(source.Text) {
			multiFields = append(multiFields, source.Field)
		}
	}

	if len(singleFields) == 0 || len(multiFields) == 0 {
		return nil
	}
	return []model.ContradictionIssue{{
		Field: singleFields[0] + " & " + multiFields[0],
		Explanation: "Requirements describe both single-user and multi-tenant behavior, " +
			"which are typically mutually exclusive deployment models.",
	}}
}

func hasNoExternalNetwork(norm string) bool {
	return strings.Contains(norm, "no external network") ||
		strings.Contains(norm, "no external access") ||
		strings.Contains(norm, "offline only")
}

func hasExternalAPI(norm string) bool {
	return strings.Contains(norm, "external api") || strings.Contains(norm, "third party api")
}

func ruleNoExternalVsExternalAPI(sources []Source) []model.ContradictionIssue {
	var noExtFields, apiFields []string
	for _, source := range sources {
		if hasNoExternalNetwork(source.Text) {
			noExtFields = append(noExtFields, source.Field)
		}
		if hasExternalAPI(source.Text) {
			apiFields = append(apiFields, source.Field)
		}
	}

	if len(noExtFields) == 0 || len(apiFields) == 0 {
		return nil
	}
	return []model.ContradictionIssue{{
		Field: noExtFields[0] + " & " + apiFields[0],
		Explanation: "Requirements forbid external network access but also reference " +
			"an external API, which requires such access.",
	}}
}

// ruleNonGoalsVsDependencies reports every non-goal whose normalized text
// exactly equals a dependency's normalized text. Unlike the binary rules,
// all matching pairs are reported.
func ruleNonGoalsVsDependencies(req *model.Requirements) []model.ContradictionIssue {
	var issues []model.ContradictionIssue

	for ngIdx, nonGoal := range req.NonGoals {
		ngText := textnorm.Normalize(nonGoal)
		if ngText == "" {
			continue
		}
		for depIdx, dep := range req.Dependencies {
			depText := textnorm.Normalize(dep)
			if depText == "" || ngText != depText {
				continue
			}
			issues = append(issues, model.ContradictionIssue{
				Field: fmt.Sprintf("non_goals[%d] & dependencies[%d]", ngIdx, depIdx),
				Explanation: "An item appears both as a non-goal and as a dependency, " +
					"which is contradictory.",
			})
		}
	}

	return issues
}
