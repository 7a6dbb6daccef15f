package engine

import (
	"time"

	"github.com/pesio-ai/be-approvals/internal/errors"
)

// DecisionInput is one approver action to apply to an instance's current
// step. Authorization is checked by the caller before Apply is invoked.
type DecisionInput struct {
	Kind             DecisionKind
	ApproverID       string
	ApproverType     ApproverType
	Comments         string
	DelegatedTo      string
	DelegationReason string
	IPAddress        string
	UserAgent        string
}

// DecisionOutcome is the state produced by applying one decision. The caller
// persists the mutated instance and step (and NextStep when set) and the
// audit record atomically.
type DecisionOutcome struct {
	Decision          *ApprovalDecision
	Instance          *ApprovalInstance
	Step              *ApprovalStep
	NextStep          *ApprovalStep // set when the workflow advanced a step
	StepCompleted     bool
	InstanceCompleted bool
	SlaViolated       bool
}

// ApplyDecision runs one approver decision through the step and instance
// state machines. It mutates inst and step in place and returns the outcome;
// on error nothing is modified.
func ApplyDecision(rule *ApprovalRule, inst *ApprovalInstance, step *ApprovalStep, in DecisionInput, now time.Time) (*DecisionOutcome, error) {
	if inst.IsCompleted() {
		return nil, errors.Conflict("approval instance already processed")
	}
	if step.StepIndex != inst.CurrentStepIndex {
		return nil, errors.Conflict("decision does not target the current step")
	}
	if step.Status.IsTerminal() {
		return nil, errors.Conflict("approval step already completed")
	}

	switch in.Kind {
	case DecisionRejected:
		if in.Comments == "" {
			return nil, errors.InvalidInput("comments", "rejection requires comments")
		}
	case DecisionDelegated:
		if in.DelegatedTo == "" {
			return nil, errors.InvalidInput("delegated_to", "delegation requires a target")
		}
		if in.DelegationReason == "" {
			return nil, errors.InvalidInput("delegation_reason", "delegation requires a reason")
		}
	case DecisionApproved, DecisionEscalated:
	default:
		return nil, errors.InvalidInput("decision", "unknown decision kind")
	}

	out := &DecisionOutcome{
		Decision: newDecisionRecord(inst, step, in, now),
		Instance: inst,
		Step:     step,
	}

	switch in.Kind {
	case DecisionApproved:
		step.RecordApproval(now)
		if step.Status == StatusApproved {
			out.StepCompleted = true
			advanceOrComplete(rule, inst, in.ApproverID, now, out)
		}

	case DecisionRejected:
		step.RecordRejection(now)
		if step.Status == StatusRejected {
			out.StepCompleted = true
			// Rejection short-circuits every remaining step.
			inst.Complete(StatusRejected, now, in.ApproverID, in.Comments)
			out.InstanceCompleted = true
		}

	case DecisionDelegated:
		// Recorded for audit; counts and state are unchanged.

	case DecisionEscalated:
		inst.LastEscalationAt = &now
	}

	out.SlaViolated = now.After(inst.SlaDeadline)
	return out, nil
}

// advanceOrComplete moves to the next configured step, or completes the
// instance as approved when the finished step was the last one.
func advanceOrComplete(rule *ApprovalRule, inst *ApprovalInstance, approverID string, now time.Time, out *DecisionOutcome) {
	nextIndex := inst.CurrentStepIndex + 1
	if nextIndex >= len(rule.Steps) {
		inst.Complete(StatusApproved, now, approverID, "all steps approved")
		out.InstanceCompleted = true
		return
	}

	inst.CurrentStepIndex = nextIndex
	next := NewStep(inst, rule, nextIndex)
	next.Start(now, stepSlaHours(rule, nextIndex))
	out.NextStep = next
}

// stepSlaHours resolves a step's SLA, falling back to the rule-level value.
func stepSlaHours(rule *ApprovalRule, stepIndex int) float64 {
	if h := rule.Steps[stepIndex].SlaHours; h > 0 {
		return h
	}
	return rule.SlaHours
}

func newDecisionRecord(inst *ApprovalInstance, step *ApprovalStep, in DecisionInput, now time.Time) *ApprovalDecision {
	d := &ApprovalDecision{
		TenantID:            inst.TenantID,
		InstanceID:          inst.ID,
		StepID:              step.ID,
		ApproverID:          in.ApproverID,
		ApproverType:        in.ApproverType,
		Decision:            in.Kind,
		Comments:            in.Comments,
		ResponseTimeMinutes: responseMinutes(inst.CreatedAt, now),
		IPAddress:           in.IPAddress,
		UserAgent:           in.UserAgent,
		CreatedAt:           now,
	}
	if in.Kind == DecisionDelegated {
		d.DelegatedTo = &in.DelegatedTo
		d.DelegationReason = &in.DelegationReason
	}
	return d
}

func responseMinutes(from, to time.Time) int {
	m := int(to.Sub(from).Minutes())
	if m < 0 {
		return 0
	}
	return m
}
