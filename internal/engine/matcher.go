package engine

import "sort"

// RuleMatch is one matched rule plus its independently evaluated
// auto-approval outcome.
type RuleMatch struct {
	Rule              *ApprovalRule
	ShouldAutoApprove bool
}

// MatchRules evaluates candidate rules (pre-filtered to the tenant by the
// rule source) against the entity data and returns every match ordered by
// ascending priority. Callers take index 0 as the governing rule unless an
// explicit rule override is supplied. An empty result means no applicable
// rule — a business outcome, not an error.
func MatchRules(rules []*ApprovalRule, module ModuleType, data EntityData) []RuleMatch {
	candidates := make([]*ApprovalRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.IsActive || rule.ModuleType != module {
			continue
		}
		candidates = append(candidates, rule)
	}

	// Stable so rules with equal priority keep their repository order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	var matches []RuleMatch
	for _, rule := range candidates {
		if !EvaluateAll(rule.QueryConditions, data) {
			continue
		}
		matches = append(matches, RuleMatch{
			Rule:              rule,
			ShouldAutoApprove: shouldAutoApprove(rule, data),
		})
	}
	return matches
}

// shouldAutoApprove is false whenever the rule's auto-approval set is
// disabled, regardless of entity data.
func shouldAutoApprove(rule *ApprovalRule, data EntityData) bool {
	if !rule.AutoApproval.Enabled {
		return false
	}
	return EvaluateAll(rule.AutoApproval.Conditions, data)
}
