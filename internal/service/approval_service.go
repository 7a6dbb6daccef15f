package service

import (
	"context"

	"github.com/pesio-ai/be-approvals/internal/clock"
	"github.com/pesio-ai/be-approvals/internal/engine"
	"github.com/pesio-ai/be-approvals/internal/errors"
	"github.com/pesio-ai/be-approvals/internal/logger"
)

// SubmissionStatus is the outcome class of a submission.
type SubmissionStatus string

const (
	// SubmissionPending means an instance was created and awaits approvers.
	SubmissionPending SubmissionStatus = "pending"
	// SubmissionAutoApproved means the governing rule's auto-approval
	// conditions matched; no instance was created.
	SubmissionAutoApproved SubmissionStatus = "auto_approved"
	// SubmissionNotRequired means no active rule matched the entity data.
	SubmissionNotRequired SubmissionStatus = "not_required"
)

// SubmitInput describes one entity change to route through approval.
type SubmitInput struct {
	TenantID    string
	ModuleType  engine.ModuleType
	EntityID    string
	RequesterID string
	Urgency     int    // 0 = unspecified, 1 (critical) … 5 (very low)
	RuleID      string // optional: pin a specific rule instead of matching
	EntityData  engine.EntityData
}

// SubmitResult is the outcome of a submission.
type SubmitResult struct {
	Status   SubmissionStatus         `json:"status"`
	Instance *engine.ApprovalInstance `json:"instance,omitempty"`
	RuleID   string                   `json:"rule_id,omitempty"`
	RuleName string                   `json:"rule_name,omitempty"`
}

// DecideInput is one approver action against an instance.
type DecideInput struct {
	TenantID         string
	InstanceID       string
	ApproverID       string
	ApproverType     engine.ApproverType
	Decision         engine.DecisionKind
	Comments         string
	DelegatedTo      string
	DelegationReason string
	IPAddress        string
	UserAgent        string
}

// DecideResult reports what the decision did to the workflow.
type DecideResult struct {
	Instance          *engine.ApprovalInstance `json:"instance"`
	Step              *engine.ApprovalStep     `json:"step"`
	NextStep          *engine.ApprovalStep     `json:"next_step,omitempty"`
	StepCompleted     bool                     `json:"step_completed"`
	InstanceCompleted bool                     `json:"instance_completed"`
	SlaViolated       bool                     `json:"sla_violated"`
}

// InstanceDetail is one instance with its full step and decision history.
type InstanceDetail struct {
	Instance  *engine.ApprovalInstance   `json:"instance"`
	Steps     []*engine.ApprovalStep     `json:"steps"`
	Decisions []*engine.ApprovalDecision `json:"decisions"`
}

// ApprovalService orchestrates the approval lifecycle: submission routing,
// decision processing and cancellation. Rule evaluation and state
// transitions are delegated to the engine; this layer loads state, checks
// authorization, persists outcomes and publishes events.
type ApprovalService struct {
	rules     RuleSource
	instances InstanceStore
	steps     StepStore
	decisions DecisionStore
	perms     PermissionResolver
	notifier  Notifier
	sla       *engine.SlaCalculator
	log       *logger.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	rules RuleSource,
	instances InstanceStore,
	steps StepStore,
	decisions DecisionStore,
	perms PermissionResolver,
	notifier Notifier,
	sla *engine.SlaCalculator,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		rules:     rules,
		instances: instances,
		steps:     steps,
		decisions: decisions,
		perms:     perms,
		notifier:  notifier,
		sla:       sla,
		log:       log,
	}
}

// Submit routes an entity change through the approval rules. Exactly one of
// three outcomes is returned: a pending instance, an auto-approval, or
// not-required when no rule matches.
func (s *ApprovalService) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if in.TenantID == "" {
		return nil, errors.InvalidInput("tenant_id", "tenant_id is required")
	}
	if in.EntityID == "" {
		return nil, errors.InvalidInput("entity_id", "entity_id is required")
	}
	if in.RequesterID == "" {
		return nil, errors.InvalidInput("requester_id", "requester_id is required")
	}
	if !engine.ValidModuleType(in.ModuleType) {
		return nil, errors.InvalidInput("module_type", "unsupported module type")
	}
	if err := engine.ValidateUrgency(in.Urgency); err != nil {
		return nil, err
	}

	// One open instance per entity at a time.
	existing, err := s.instances.FindActiveByEntity(ctx, in.TenantID, in.ModuleType, in.EntityID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.Conflict("an approval is already in progress for this entity")
	}

	rule, autoApprove, err := s.resolveRule(ctx, in)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		s.log.Info().
			Str("tenant_id", in.TenantID).
			Str("module_type", string(in.ModuleType)).
			Str("entity_id", in.EntityID).
			Msg("Submission requires no approval: no applicable rule")
		return &SubmitResult{Status: SubmissionNotRequired}, nil
	}

	if autoApprove {
		s.notifier.PublishInstanceEvent(ctx, "auto_approved", &engine.ApprovalInstance{
			TenantID:    in.TenantID,
			RuleID:      rule.ID,
			EntityType:  in.ModuleType,
			EntityID:    in.EntityID,
			RequesterID: in.RequesterID,
		}, in.RequesterID, map[string]any{"rule_name": rule.Name})

		s.log.Info().
			Str("tenant_id", in.TenantID).
			Str("rule_id", rule.ID).
			Str("entity_id", in.EntityID).
			Msg("Submission auto-approved by rule conditions")
		return &SubmitResult{Status: SubmissionAutoApproved, RuleID: rule.ID, RuleName: rule.Name}, nil
	}

	now := clock.Now()
	deadline := s.sla.Deadline(now, rule.SlaHours, in.Urgency, rule.BusinessHoursOnly)
	inst := engine.NewInstance(rule, in.ModuleType, in.EntityID, in.RequesterID, in.Urgency, now, deadline)

	firstStep := engine.NewStep(inst, rule, 0)
	firstStep.Start(now, stepSla(rule, 0))

	if err := s.instances.Create(ctx, inst, firstStep); err != nil {
		return nil, err
	}

	s.notifier.PublishInstanceEvent(ctx, "instance_created", inst, in.RequesterID, map[string]any{
		"rule_name":    rule.Name,
		"step_name":    firstStep.Name,
		"sla_deadline": inst.SlaDeadline,
	})

	s.log.Info().
		Str("tenant_id", inst.TenantID).
		Str("instance_id", inst.ID).
		Str("rule_id", rule.ID).
		Str("entity_id", inst.EntityID).
		Time("sla_deadline", inst.SlaDeadline).
		Msg("Approval instance created")

	return &SubmitResult{Status: SubmissionPending, Instance: inst, RuleID: rule.ID, RuleName: rule.Name}, nil
}

// resolveRule picks the governing rule: an explicit override when given,
// otherwise the highest-priority match against the entity data.
func (s *ApprovalService) resolveRule(ctx context.Context, in SubmitInput) (*engine.ApprovalRule, bool, error) {
	if in.RuleID != "" {
		rule, err := s.rules.GetByID(ctx, in.RuleID, in.TenantID)
		if err != nil {
			return nil, false, err
		}
		if !rule.IsActive {
			return nil, false, errors.Conflict("the requested rule is not active")
		}
		if rule.ModuleType != in.ModuleType {
			return nil, false, errors.InvalidInput("rule_id", "rule does not govern this module type")
		}
		return rule, false, nil
	}

	rules, err := s.rules.FindApplicableRules(ctx, in.TenantID, in.ModuleType)
	if err != nil {
		return nil, false, err
	}
	matches := engine.MatchRules(rules, in.ModuleType, in.EntityData)
	if len(matches) == 0 {
		return nil, false, nil
	}
	return matches[0].Rule, matches[0].ShouldAutoApprove, nil
}

// Decide applies one approver action to an instance's current step.
func (s *ApprovalService) Decide(ctx context.Context, in DecideInput) (*DecideResult, error) {
	inst, err := s.instances.GetByID(ctx, in.InstanceID, in.TenantID)
	if err != nil {
		return nil, err
	}
	if inst.IsCompleted() {
		return nil, errors.Conflict("approval instance already processed")
	}

	rule, err := s.rules.GetByID(ctx, inst.RuleID, inst.TenantID)
	if err != nil {
		return nil, err
	}
	step, err := s.steps.GetCurrent(ctx, inst.ID, inst.TenantID, inst.CurrentStepIndex)
	if err != nil {
		return nil, err
	}

	allowed, err := s.perms.CanApprove(ctx, inst, step, in.ApproverID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errors.Unauthorized("not permitted to act on this approval")
	}

	now := clock.Now()
	outcome, err := engine.ApplyDecision(rule, inst, step, engine.DecisionInput{
		Kind:             in.Decision,
		ApproverID:       in.ApproverID,
		ApproverType:     in.ApproverType,
		Comments:         in.Comments,
		DelegatedTo:      in.DelegatedTo,
		DelegationReason: in.DelegationReason,
		IPAddress:        in.IPAddress,
		UserAgent:        in.UserAgent,
	}, now)
	if err != nil {
		return nil, err
	}

	if err := s.instances.UpdateWithStep(ctx, inst, step, outcome.NextStep); err != nil {
		return nil, err
	}

	// Decision records are audit data: failure to append must not undo an
	// already-committed state transition.
	if err := s.decisions.Create(ctx, outcome.Decision); err != nil {
		s.log.Error().Err(err).
			Str("instance_id", inst.ID).
			Str("approver_id", in.ApproverID).
			Msg("Failed to record approval decision (non-fatal)")
	}

	s.publishDecisionEvents(ctx, inst, in, outcome)

	s.log.Info().
		Str("tenant_id", inst.TenantID).
		Str("instance_id", inst.ID).
		Str("approver_id", in.ApproverID).
		Str("decision", string(in.Decision)).
		Bool("step_completed", outcome.StepCompleted).
		Bool("instance_completed", outcome.InstanceCompleted).
		Msg("Approval decision processed")

	return &DecideResult{
		Instance:          inst,
		Step:              step,
		NextStep:          outcome.NextStep,
		StepCompleted:     outcome.StepCompleted,
		InstanceCompleted: outcome.InstanceCompleted,
		SlaViolated:       outcome.SlaViolated,
	}, nil
}

func (s *ApprovalService) publishDecisionEvents(ctx context.Context, inst *engine.ApprovalInstance, in DecideInput, outcome *engine.DecisionOutcome) {
	s.notifier.PublishInstanceEvent(ctx, "decision_recorded", inst, in.ApproverID, map[string]any{
		"decision":     string(in.Decision),
		"sla_violated": outcome.SlaViolated,
	})

	if !outcome.InstanceCompleted {
		return
	}
	eventType := "instance_approved"
	if inst.Status == engine.StatusRejected {
		eventType = "instance_rejected"
	}
	s.notifier.PublishInstanceEvent(ctx, eventType, inst, in.ApproverID, map[string]any{
		"completion_reason": derefString(inst.CompletionReason),
	})
}

// Cancel withdraws a pending instance. Only the requester may cancel.
func (s *ApprovalService) Cancel(ctx context.Context, instanceID, tenantID, requesterID, reason string) (*engine.ApprovalInstance, error) {
	inst, err := s.instances.GetByID(ctx, instanceID, tenantID)
	if err != nil {
		return nil, err
	}
	if inst.RequesterID != requesterID {
		return nil, errors.Unauthorized("only the requester may cancel an approval")
	}
	if !inst.CanBeCancelled() {
		return nil, errors.Conflict("approval instance already processed")
	}

	now := clock.Now()
	step, err := s.steps.GetCurrent(ctx, inst.ID, inst.TenantID, inst.CurrentStepIndex)
	if err != nil {
		return nil, err
	}
	step.Cancel(now)
	if reason == "" {
		reason = "cancelled by requester"
	}
	inst.Complete(engine.StatusCancelled, now, requesterID, reason)

	if err := s.instances.UpdateWithStep(ctx, inst, step, nil); err != nil {
		return nil, err
	}

	s.notifier.PublishInstanceEvent(ctx, "instance_cancelled", inst, requesterID, map[string]any{
		"reason": reason,
	})

	s.log.Info().
		Str("tenant_id", inst.TenantID).
		Str("instance_id", inst.ID).
		Str("requester_id", requesterID).
		Msg("Approval instance cancelled")
	return inst, nil
}

// GetInstance returns one instance with its steps and decision trail.
func (s *ApprovalService) GetInstance(ctx context.Context, instanceID, tenantID string) (*InstanceDetail, error) {
	inst, err := s.instances.GetByID(ctx, instanceID, tenantID)
	if err != nil {
		return nil, err
	}
	steps, err := s.steps.GetByInstance(ctx, instanceID, tenantID)
	if err != nil {
		return nil, err
	}
	decisions, err := s.decisions.FindByInstance(ctx, instanceID, tenantID)
	if err != nil {
		return nil, err
	}
	return &InstanceDetail{Instance: inst, Steps: steps, Decisions: decisions}, nil
}

// GetPendingForUser lists open instances whose current step names the user
// as an approver.
func (s *ApprovalService) GetPendingForUser(ctx context.Context, tenantID, userID string) ([]*engine.ApprovalInstance, error) {
	return s.instances.FindPendingByUser(ctx, tenantID, userID)
}

// GetDecisionTrail returns the immutable decision history, oldest first.
func (s *ApprovalService) GetDecisionTrail(ctx context.Context, instanceID, tenantID string) ([]*engine.ApprovalDecision, error) {
	return s.decisions.FindByInstance(ctx, instanceID, tenantID)
}

// stepSla resolves a step's SLA budget, inheriting the rule's when unset.
func stepSla(rule *engine.ApprovalRule, stepIndex int) float64 {
	if h := rule.Steps[stepIndex].SlaHours; h > 0 {
		return h
	}
	return rule.SlaHours
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
