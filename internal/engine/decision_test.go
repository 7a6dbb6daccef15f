package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-approvals/internal/errors"
)

func twoStepRule() *ApprovalRule {
	return &ApprovalRule{
		ID:         "r1",
		TenantID:   "t1",
		Name:       "two-step",
		ModuleType: ModuleTicket,
		IsActive:   true,
		Priority:   10,
		SlaHours:   24,
		QueryConditions: []Condition{
			{Field: "amount", Operator: OpGT, Value: 0},
		},
		Steps: []StepConfig{
			{Name: "manager", ApproverMode: ModeAny, Approvers: []Approver{{Type: ApproverUser, Identifier: "mgr"}}},
			{Name: "finance", ApproverMode: ModeAll, Approvers: []Approver{
				{Type: ApproverUser, Identifier: "fin1"},
				{Type: ApproverUser, Identifier: "fin2"},
			}},
		},
	}
}

func startedInstance(rule *ApprovalRule) (*ApprovalInstance, *ApprovalStep, time.Time) {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	inst := NewInstance(rule, ModuleTicket, "e1", "req1", 3, start, start.Add(24*time.Hour))
	inst.ID = "i1"
	inst.CreatedAt = start
	step := NewStep(inst, rule, 0)
	step.ID = "s0"
	step.Start(start, rule.SlaHours)
	return inst, step, start
}

func TestApplyDecisionApproveAdvances(t *testing.T) {
	rule := twoStepRule()
	inst, step, start := startedInstance(rule)
	now := start.Add(2 * time.Hour)

	out, err := ApplyDecision(rule, inst, step, DecisionInput{
		Kind: DecisionApproved, ApproverID: "mgr", ApproverType: ApproverUser,
	}, now)
	require.NoError(t, err)

	assert.True(t, out.StepCompleted)
	assert.False(t, out.InstanceCompleted)
	assert.Equal(t, StatusApproved, step.Status)
	assert.Equal(t, 1, inst.CurrentStepIndex)
	assert.Equal(t, StatusPending, inst.Status)

	require.NotNil(t, out.NextStep)
	assert.Equal(t, "finance", out.NextStep.Name)
	assert.Equal(t, StatusPending, out.NextStep.Status)
	require.NotNil(t, out.NextStep.StartedAt)
	assert.Equal(t, now, *out.NextStep.StartedAt)

	assert.Equal(t, DecisionApproved, out.Decision.Decision)
	assert.Equal(t, 120, out.Decision.ResponseTimeMinutes)
}

func TestApplyDecisionLastStepCompletesInstance(t *testing.T) {
	rule := twoStepRule()
	inst, step, start := startedInstance(rule)
	now := start.Add(time.Hour)

	// Step 0.
	out, err := ApplyDecision(rule, inst, step, DecisionInput{Kind: DecisionApproved, ApproverID: "mgr", ApproverType: ApproverUser}, now)
	require.NoError(t, err)
	finance := out.NextStep
	finance.ID = "s1"

	// Step 1 needs both approvals.
	out, err = ApplyDecision(rule, inst, finance, DecisionInput{Kind: DecisionApproved, ApproverID: "fin1", ApproverType: ApproverUser}, now)
	require.NoError(t, err)
	assert.False(t, out.StepCompleted)
	assert.Equal(t, StatusPending, inst.Status)

	out, err = ApplyDecision(rule, inst, finance, DecisionInput{Kind: DecisionApproved, ApproverID: "fin2", ApproverType: ApproverUser}, now)
	require.NoError(t, err)
	assert.True(t, out.InstanceCompleted)
	assert.Nil(t, out.NextStep)
	assert.Equal(t, StatusApproved, inst.Status)
	assert.Equal(t, "fin2", *inst.CompletedByID)
	assert.NotNil(t, inst.CompletedAt)
	assert.False(t, out.SlaViolated)
}

func TestApplyDecisionRejectShortCircuits(t *testing.T) {
	rule := twoStepRule()
	inst, step, start := startedInstance(rule)

	out, err := ApplyDecision(rule, inst, step, DecisionInput{
		Kind: DecisionRejected, ApproverID: "mgr", ApproverType: ApproverUser,
		Comments: "budget frozen",
	}, start.Add(time.Hour))
	require.NoError(t, err)

	assert.True(t, out.InstanceCompleted)
	assert.Equal(t, StatusRejected, inst.Status)
	assert.Equal(t, StatusRejected, step.Status)
	assert.Equal(t, "budget frozen", *inst.CompletionReason)
	assert.Nil(t, out.NextStep, "rejection skips remaining steps")
}

func TestApplyDecisionValidation(t *testing.T) {
	rule := twoStepRule()

	t.Run("rejection requires comments", func(t *testing.T) {
		inst, step, start := startedInstance(rule)
		_, err := ApplyDecision(rule, inst, step, DecisionInput{Kind: DecisionRejected, ApproverID: "mgr"}, start)
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
	})

	t.Run("delegation requires target and reason", func(t *testing.T) {
		inst, step, start := startedInstance(rule)
		_, err := ApplyDecision(rule, inst, step, DecisionInput{Kind: DecisionDelegated, ApproverID: "mgr"}, start)
		require.Error(t, err)

		_, err = ApplyDecision(rule, inst, step, DecisionInput{Kind: DecisionDelegated, ApproverID: "mgr", DelegatedTo: "u2"}, start)
		require.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		inst, step, start := startedInstance(rule)
		_, err := ApplyDecision(rule, inst, step, DecisionInput{Kind: "vetoed", ApproverID: "mgr"}, start)
		require.Error(t, err)
	})
}

func TestApplyDecisionTerminalInstanceConflicts(t *testing.T) {
	rule := twoStepRule()
	inst, step, start := startedInstance(rule)
	inst.Complete(StatusCancelled, start, "req1", "recalled")

	_, err := ApplyDecision(rule, inst, step, DecisionInput{Kind: DecisionApproved, ApproverID: "mgr"}, start)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestApplyDecisionStaleStepConflicts(t *testing.T) {
	rule := twoStepRule()
	inst, step, start := startedInstance(rule)
	inst.CurrentStepIndex = 1 // decision still targets step 0

	_, err := ApplyDecision(rule, inst, step, DecisionInput{Kind: DecisionApproved, ApproverID: "mgr"}, start)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestApplyDecisionDelegation(t *testing.T) {
	rule := twoStepRule()
	inst, step, start := startedInstance(rule)

	out, err := ApplyDecision(rule, inst, step, DecisionInput{
		Kind: DecisionDelegated, ApproverID: "mgr", ApproverType: ApproverUser,
		DelegatedTo: "backup", DelegationReason: "on leave",
	}, start.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, inst.Status)
	assert.Equal(t, StatusPending, step.Status)
	assert.Zero(t, step.ApprovedCount, "delegation does not change counts")
	assert.Equal(t, "backup", *out.Decision.DelegatedTo)
	assert.Equal(t, "on leave", *out.Decision.DelegationReason)
}

func TestApplyDecisionEscalation(t *testing.T) {
	rule := twoStepRule()
	inst, step, start := startedInstance(rule)
	now := start.Add(time.Hour)

	out, err := ApplyDecision(rule, inst, step, DecisionInput{
		Kind: DecisionEscalated, ApproverID: "mgr", ApproverType: ApproverUser,
	}, now)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, inst.Status)
	require.NotNil(t, inst.LastEscalationAt)
	assert.Equal(t, now, *inst.LastEscalationAt)
	assert.Equal(t, DecisionEscalated, out.Decision.Decision)
}

func TestApplyDecisionSlaViolatedFlag(t *testing.T) {
	rule := twoStepRule()
	rule.Steps = rule.Steps[:1]
	inst, step, start := startedInstance(rule)
	late := start.Add(30 * time.Hour)

	out, err := ApplyDecision(rule, inst, step, DecisionInput{Kind: DecisionApproved, ApproverID: "mgr"}, late)
	require.NoError(t, err)
	assert.True(t, out.InstanceCompleted)
	assert.True(t, out.SlaViolated)
}
