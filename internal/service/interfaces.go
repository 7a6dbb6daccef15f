package service

import (
	"context"

	"github.com/pesio-ai/be-approvals/internal/engine"
)

// The engine consumes, and does not implement, the collaborator contracts
// below. Postgres-backed implementations live in internal/repository; tests
// substitute in-memory fakes.

// RuleSource resolves approval rules for a tenant.
type RuleSource interface {
	FindApplicableRules(ctx context.Context, tenantID string, module engine.ModuleType) ([]*engine.ApprovalRule, error)
	GetByID(ctx context.Context, id, tenantID string) (*engine.ApprovalRule, error)
}

// InstanceStore persists approval instances and their first steps.
type InstanceStore interface {
	Create(ctx context.Context, inst *engine.ApprovalInstance, firstStep *engine.ApprovalStep) error
	GetByID(ctx context.Context, id, tenantID string) (*engine.ApprovalInstance, error)
	Update(ctx context.Context, inst *engine.ApprovalInstance) error
	UpdateWithStep(ctx context.Context, inst *engine.ApprovalInstance, step, nextStep *engine.ApprovalStep) error
	FindPendingByUser(ctx context.Context, tenantID, userID string) ([]*engine.ApprovalInstance, error)
	FindOpenForSweep(ctx context.Context, limit int) ([]*engine.ApprovalInstance, error)
	FindActiveByEntity(ctx context.Context, tenantID string, entityType engine.ModuleType, entityID string) (*engine.ApprovalInstance, error)
}

// StepStore reads individual approval steps. Step writes always ride in the
// instance store's transactions.
type StepStore interface {
	GetCurrent(ctx context.Context, instanceID, tenantID string, stepIndex int) (*engine.ApprovalStep, error)
	GetByInstance(ctx context.Context, instanceID, tenantID string) ([]*engine.ApprovalStep, error)
}

// DecisionStore appends and reads the immutable decision trail.
type DecisionStore interface {
	Create(ctx context.Context, d *engine.ApprovalDecision) error
	FindByInstance(ctx context.Context, instanceID, tenantID string) ([]*engine.ApprovalDecision, error)
}

// PermissionResolver decides whether an approver may act on the current
// step of an instance. The decision state machine never embeds policy;
// swapping the resolver swaps the policy.
type PermissionResolver interface {
	CanApprove(ctx context.Context, inst *engine.ApprovalInstance, step *engine.ApprovalStep, approverID string) (bool, error)
}

// Notifier delivers lifecycle events and escalation actions out of band.
type Notifier interface {
	PublishInstanceEvent(ctx context.Context, eventType string, inst *engine.ApprovalInstance, actorID string, payload map[string]any)
	PublishEscalationAction(ctx context.Context, tenantID string, action engine.EscalationAction)
}

// StepApproverResolver is the default PermissionResolver: an approver may
// act when the current step's configured approver list names them (as a
// user id or a group they present). Automated actors are always allowed.
type StepApproverResolver struct{}

// CanApprove checks the step's approver configuration.
func (StepApproverResolver) CanApprove(_ context.Context, _ *engine.ApprovalInstance, step *engine.ApprovalStep, approverID string) (bool, error) {
	if approverID == "system" {
		return true, nil
	}
	for _, a := range step.Approvers {
		if a.Identifier == approverID {
			return true, nil
		}
	}
	return false, nil
}
