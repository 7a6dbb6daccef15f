package engine

import (
	"fmt"

	"github.com/pesio-ai/be-approvals/internal/errors"
)

// ValidateRule checks the structural invariants of a rule and returns a
// validation error carrying the full field-level failure list, or nil.
func ValidateRule(rule *ApprovalRule) error {
	var fields []errors.FieldError
	add := func(field, message string) {
		fields = append(fields, errors.FieldError{Field: field, Message: message})
	}

	if rule.TenantID == "" {
		add("tenant_id", "is required")
	}
	if rule.Name == "" {
		add("name", "is required")
	}
	if !ValidModuleType(rule.ModuleType) {
		add("module_type", fmt.Sprintf("unsupported module type '%s'", rule.ModuleType))
	}
	if len(rule.QueryConditions) == 0 {
		add("query_conditions", "at least one condition is required")
	}
	if rule.SlaHours <= 0 {
		add("sla_hours", "must be greater than zero")
	}
	if rule.Priority < 1 || rule.Priority > 999 {
		add("priority", "must be between 1 and 999")
	}

	if len(rule.Steps) == 0 {
		add("steps", "at least one step is required")
	}
	for i, step := range rule.Steps {
		prefix := fmt.Sprintf("steps[%d]", i)
		if step.Name == "" {
			add(prefix+".name", "is required")
		}
		if len(step.Approvers) == 0 {
			add(prefix+".approvers", "at least one approver is required")
		}
		switch step.ApproverMode {
		case ModeAll, ModeAny:
		case ModeQuorum:
			if step.QuorumCount < 1 || step.QuorumCount > len(step.Approvers) {
				add(prefix+".quorum_count",
					fmt.Sprintf("must be between 1 and %d", len(step.Approvers)))
			}
		default:
			add(prefix+".approver_mode",
				fmt.Sprintf("unsupported approver mode '%s'", step.ApproverMode))
		}
		if step.SlaHours < 0 {
			add(prefix+".sla_hours", "must not be negative")
		}
	}

	for i, level := range rule.Escalation.Levels {
		if level.AfterHours <= 0 {
			add(fmt.Sprintf("escalation.levels[%d].after_hours", i), "must be greater than zero")
		}
		if level.Target.Identifier == "" {
			add(fmt.Sprintf("escalation.levels[%d].target", i), "identifier is required")
		}
	}

	if len(fields) > 0 {
		return errors.Validation(fields)
	}
	return nil
}

// ValidateUrgency checks the 1 (critical) … 5 (very low) range. Zero means
// "not specified" and is allowed.
func ValidateUrgency(urgency int) error {
	if urgency < 0 || urgency > 5 {
		return errors.InvalidInput("urgency", "must be between 1 and 5")
	}
	return nil
}
