package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-approvals/internal/clock"
	"github.com/pesio-ai/be-approvals/internal/engine"
	"github.com/pesio-ai/be-approvals/internal/errors"
	"github.com/pesio-ai/be-approvals/internal/logger"
)

type approvalFixture struct {
	rules     *fakeRuleSource
	instances *fakeInstanceStore
	steps     *fakeStepStore
	decisions *fakeDecisionStore
	notifier  *fakeNotifier
	svc       *ApprovalService
}

func newApprovalFixture(rules ...*engine.ApprovalRule) *approvalFixture {
	steps := &fakeStepStore{}
	f := &approvalFixture{
		rules:     &fakeRuleSource{rules: rules},
		instances: newFakeInstanceStore(steps),
		steps:     steps,
		decisions: &fakeDecisionStore{},
		notifier:  &fakeNotifier{},
	}
	f.svc = NewApprovalService(
		f.rules,
		f.instances,
		f.steps,
		f.decisions,
		StepApproverResolver{},
		f.notifier,
		engine.NewSlaCalculator(nil, nil),
		logger.Nop(),
	)
	return f
}

func fixClock(t *testing.T) time.Time {
	t.Helper()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // Monday
	clock.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { clock.NowFunc = time.Now })
	return now
}

func purchaseRule(id string, priority int) *engine.ApprovalRule {
	return &engine.ApprovalRule{
		ID:         id,
		TenantID:   "t1",
		Name:       "po-over-1000-" + id,
		ModuleType: engine.ModulePurchaseOrder,
		QueryConditions: []engine.Condition{
			{Field: "amount", Operator: engine.OpGT, Value: 1000},
		},
		Steps: []engine.StepConfig{
			{
				Name:         "Manager Review",
				ApproverMode: engine.ModeAll,
				Approvers:    []engine.Approver{{Type: engine.ApproverUser, Identifier: "mgr"}},
			},
			{
				Name:         "Finance Review",
				ApproverMode: engine.ModeAny,
				Approvers: []engine.Approver{
					{Type: engine.ApproverUser, Identifier: "fin1"},
					{Type: engine.ApproverUser, Identifier: "fin2"},
				},
			},
		},
		SlaHours: 24,
		Priority: priority,
		IsActive: true,
	}
}

func submitPO(t *testing.T, f *approvalFixture, amount float64) *SubmitResult {
	t.Helper()
	result, err := f.svc.Submit(context.Background(), SubmitInput{
		TenantID:    "t1",
		ModuleType:  engine.ModulePurchaseOrder,
		EntityID:    "po-1",
		RequesterID: "alice",
		EntityData:  engine.EntityData{"amount": amount},
	})
	require.NoError(t, err)
	return result
}

func TestSubmitCreatesPendingInstance(t *testing.T) {
	now := fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))

	result := submitPO(t, f, 2500)

	assert.Equal(t, SubmissionPending, result.Status)
	require.NotNil(t, result.Instance)
	assert.NotEmpty(t, result.Instance.ID)
	assert.Equal(t, "r1", result.RuleID)
	assert.Equal(t, engine.StatusPending, result.Instance.Status)
	assert.Equal(t, 0, result.Instance.CurrentStepIndex)
	assert.Equal(t, now.Add(24*time.Hour), result.Instance.SlaDeadline)

	step := f.steps.current(result.Instance.ID, 0)
	require.NotNil(t, step)
	assert.Equal(t, "Manager Review", step.Name)
	require.NotNil(t, step.StartedAt)
	assert.True(t, f.notifier.hasEvent("instance_created"))
}

func TestSubmitNotRequiredWhenNoRuleMatches(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))

	result := submitPO(t, f, 500) // below the 1000 threshold

	assert.Equal(t, SubmissionNotRequired, result.Status)
	assert.Nil(t, result.Instance)
	assert.Empty(t, f.instances.instances)
}

func TestSubmitAutoApproved(t *testing.T) {
	fixClock(t)
	rule := purchaseRule("r1", 100)
	rule.QueryConditions = []engine.Condition{{Field: "amount", Operator: engine.OpGT, Value: 0}}
	rule.AutoApproval = engine.AutoApproval{
		Enabled:    true,
		Conditions: []engine.Condition{{Field: "amount", Operator: engine.OpLT, Value: 100}},
	}
	f := newApprovalFixture(rule)

	result := submitPO(t, f, 50)

	assert.Equal(t, SubmissionAutoApproved, result.Status)
	assert.Nil(t, result.Instance)
	assert.Empty(t, f.instances.instances, "auto-approval must not persist an instance")
	assert.True(t, f.notifier.hasEvent("auto_approved"))
}

func TestSubmitPicksHighestPriorityRule(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("low", 500), purchaseRule("high", 10))

	result := submitPO(t, f, 2500)

	assert.Equal(t, "high", result.RuleID)
}

func TestSubmitRuleOverride(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("low", 500), purchaseRule("high", 10))

	result, err := f.svc.Submit(context.Background(), SubmitInput{
		TenantID:    "t1",
		ModuleType:  engine.ModulePurchaseOrder,
		EntityID:    "po-1",
		RequesterID: "alice",
		RuleID:      "low",
		EntityData:  engine.EntityData{"amount": 2500},
	})
	require.NoError(t, err)
	assert.Equal(t, "low", result.RuleID)
}

func TestSubmitRuleOverrideInactive(t *testing.T) {
	fixClock(t)
	rule := purchaseRule("r1", 100)
	rule.IsActive = false
	f := newApprovalFixture(rule)

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		TenantID:    "t1",
		ModuleType:  engine.ModulePurchaseOrder,
		EntityID:    "po-1",
		RequesterID: "alice",
		RuleID:      "r1",
		EntityData:  engine.EntityData{"amount": 2500},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestSubmitRejectsSecondActiveApproval(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))

	submitPO(t, f, 2500)

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		TenantID:    "t1",
		ModuleType:  engine.ModulePurchaseOrder,
		EntityID:    "po-1",
		RequesterID: "alice",
		EntityData:  engine.EntityData{"amount": 3000},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestSubmitValidatesInput(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))

	cases := []struct {
		name string
		in   SubmitInput
	}{
		{"missing tenant", SubmitInput{ModuleType: engine.ModulePurchaseOrder, EntityID: "e", RequesterID: "u"}},
		{"missing entity", SubmitInput{TenantID: "t1", ModuleType: engine.ModulePurchaseOrder, RequesterID: "u"}},
		{"missing requester", SubmitInput{TenantID: "t1", ModuleType: engine.ModulePurchaseOrder, EntityID: "e"}},
		{"unknown module", SubmitInput{TenantID: "t1", ModuleType: "warehouse", EntityID: "e", RequesterID: "u"}},
		{"urgency out of range", SubmitInput{TenantID: "t1", ModuleType: engine.ModulePurchaseOrder, EntityID: "e", RequesterID: "u", Urgency: 9}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), tc.in)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
		})
	}
}

func TestDecideApproveAdvancesToNextStep(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))
	inst := submitPO(t, f, 2500).Instance

	result, err := f.svc.Decide(context.Background(), DecideInput{
		TenantID:   "t1",
		InstanceID: inst.ID,
		ApproverID: "mgr",
		Decision:   engine.DecisionApproved,
	})
	require.NoError(t, err)

	assert.True(t, result.StepCompleted)
	assert.False(t, result.InstanceCompleted)
	require.NotNil(t, result.NextStep)
	assert.Equal(t, 1, result.NextStep.StepIndex)
	assert.Equal(t, "Finance Review", result.NextStep.Name)
	assert.Equal(t, 1, inst.CurrentStepIndex)
	assert.True(t, f.notifier.hasEvent("decision_recorded"))
}

func TestDecideFinalApprovalCompletesInstance(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))
	inst := submitPO(t, f, 2500).Instance

	_, err := f.svc.Decide(context.Background(), DecideInput{
		TenantID: "t1", InstanceID: inst.ID, ApproverID: "mgr", Decision: engine.DecisionApproved,
	})
	require.NoError(t, err)

	// ANY mode: the first finance approval completes the step and instance.
	result, err := f.svc.Decide(context.Background(), DecideInput{
		TenantID: "t1", InstanceID: inst.ID, ApproverID: "fin1", Decision: engine.DecisionApproved,
	})
	require.NoError(t, err)

	assert.True(t, result.InstanceCompleted)
	assert.Equal(t, engine.StatusApproved, inst.Status)
	assert.True(t, f.notifier.hasEvent("instance_approved"))
	assert.Len(t, f.decisions.decisions, 2)
}

func TestDecideRejectShortCircuits(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))
	inst := submitPO(t, f, 2500).Instance

	result, err := f.svc.Decide(context.Background(), DecideInput{
		TenantID:   "t1",
		InstanceID: inst.ID,
		ApproverID: "mgr",
		Decision:   engine.DecisionRejected,
		Comments:   "budget exceeded",
	})
	require.NoError(t, err)

	assert.True(t, result.InstanceCompleted)
	assert.Equal(t, engine.StatusRejected, inst.Status)
	assert.True(t, f.notifier.hasEvent("instance_rejected"))
}

func TestDecideRejectRequiresComments(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))
	inst := submitPO(t, f, 2500).Instance

	_, err := f.svc.Decide(context.Background(), DecideInput{
		TenantID: "t1", InstanceID: inst.ID, ApproverID: "mgr", Decision: engine.DecisionRejected,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
}

func TestDecideUnauthorizedApprover(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))
	inst := submitPO(t, f, 2500).Instance

	_, err := f.svc.Decide(context.Background(), DecideInput{
		TenantID: "t1", InstanceID: inst.ID, ApproverID: "eve", Decision: engine.DecisionApproved,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
	assert.Empty(t, f.decisions.decisions, "unauthorized attempts leave no decision record")
}

func TestDecideOnCompletedInstance(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))
	inst := submitPO(t, f, 2500).Instance

	_, err := f.svc.Decide(context.Background(), DecideInput{
		TenantID: "t1", InstanceID: inst.ID, ApproverID: "mgr",
		Decision: engine.DecisionRejected, Comments: "no",
	})
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), DecideInput{
		TenantID: "t1", InstanceID: inst.ID, ApproverID: "mgr", Decision: engine.DecisionApproved,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestDecideAuditFailureIsNonFatal(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))
	inst := submitPO(t, f, 2500).Instance

	f.decisions.failNext = true
	result, err := f.svc.Decide(context.Background(), DecideInput{
		TenantID: "t1", InstanceID: inst.ID, ApproverID: "mgr", Decision: engine.DecisionApproved,
	})
	require.NoError(t, err)
	assert.True(t, result.StepCompleted)
}

func TestCancelByRequester(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))
	inst := submitPO(t, f, 2500).Instance

	cancelled, err := f.svc.Cancel(context.Background(), inst.ID, "t1", "alice", "ordered elsewhere")
	require.NoError(t, err)

	assert.Equal(t, engine.StatusCancelled, cancelled.Status)
	step := f.steps.current(inst.ID, 0)
	assert.Equal(t, engine.StatusCancelled, step.Status)
	assert.True(t, f.notifier.hasEvent("instance_cancelled"))

	_, err = f.svc.Cancel(context.Background(), inst.ID, "t1", "alice", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestCancelByNonRequester(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))
	inst := submitPO(t, f, 2500).Instance

	_, err := f.svc.Cancel(context.Background(), inst.ID, "t1", "bob", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
}

func TestGetInstanceDetail(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))
	inst := submitPO(t, f, 2500).Instance

	_, err := f.svc.Decide(context.Background(), DecideInput{
		TenantID: "t1", InstanceID: inst.ID, ApproverID: "mgr", Decision: engine.DecisionApproved,
	})
	require.NoError(t, err)

	detail, err := f.svc.GetInstance(context.Background(), inst.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, detail.Instance.ID)
	assert.Len(t, detail.Steps, 2)
	assert.Len(t, detail.Decisions, 1)
}

func TestPendingInboxFollowsCurrentStep(t *testing.T) {
	fixClock(t)
	f := newApprovalFixture(purchaseRule("r1", 100))
	inst := submitPO(t, f, 2500).Instance

	pending, err := f.svc.GetPendingForUser(context.Background(), "t1", "mgr")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = f.svc.Decide(context.Background(), DecideInput{
		TenantID: "t1", InstanceID: inst.ID, ApproverID: "mgr", Decision: engine.DecisionApproved,
	})
	require.NoError(t, err)

	pending, err = f.svc.GetPendingForUser(context.Background(), "t1", "mgr")
	require.NoError(t, err)
	assert.Empty(t, pending, "approved step leaves the manager's inbox")

	pending, err = f.svc.GetPendingForUser(context.Background(), "t1", "fin1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
