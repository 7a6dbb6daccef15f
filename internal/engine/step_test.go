package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestStep(mode ApproverMode, total, quorum int) *ApprovalStep {
	approvers := make([]Approver, total)
	for i := range approvers {
		approvers[i] = Approver{Type: ApproverUser, Identifier: string(rune('a' + i))}
	}
	return &ApprovalStep{
		DecisionMode:   mode,
		QuorumCount:    quorum,
		Status:         StatusPending,
		Approvers:      approvers,
		TotalApprovers: total,
	}
}

var stepNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func TestStepAllMode(t *testing.T) {
	t.Run("approves only when unanimous", func(t *testing.T) {
		s := newTestStep(ModeAll, 3, 0)
		s.RecordApproval(stepNow)
		s.RecordApproval(stepNow)
		assert.Equal(t, StatusPending, s.Status)

		s.RecordApproval(stepNow)
		assert.Equal(t, StatusApproved, s.Status)
		assert.NotNil(t, s.CompletedAt)
	})

	t.Run("first rejection is terminal", func(t *testing.T) {
		s := newTestStep(ModeAll, 3, 0)
		s.RecordApproval(stepNow)
		s.RecordRejection(stepNow)
		assert.Equal(t, StatusRejected, s.Status)
	})
}

func TestStepAnyMode(t *testing.T) {
	t.Run("first approval wins", func(t *testing.T) {
		s := newTestStep(ModeAny, 3, 0)
		s.RecordApproval(stepNow)
		assert.Equal(t, StatusApproved, s.Status)
	})

	t.Run("rejects only when unanimous", func(t *testing.T) {
		s := newTestStep(ModeAny, 3, 0)
		s.RecordRejection(stepNow)
		assert.Equal(t, StatusPending, s.Status, "single rejection must not complete ANY")
		s.RecordRejection(stepNow)
		assert.Equal(t, StatusPending, s.Status)
		s.RecordRejection(stepNow)
		assert.Equal(t, StatusRejected, s.Status)
	})
}

func TestStepQuorumMode(t *testing.T) {
	t.Run("approves at quorum", func(t *testing.T) {
		s := newTestStep(ModeQuorum, 5, 3)
		s.RecordApproval(stepNow)
		s.RecordApproval(stepNow)
		assert.Equal(t, StatusPending, s.Status)
		s.RecordApproval(stepNow)
		assert.Equal(t, StatusApproved, s.Status)
	})

	t.Run("rejects when quorum unreachable", func(t *testing.T) {
		// n=5, q=3: rejection completes once rejectedCount > n-q = 2.
		s := newTestStep(ModeQuorum, 5, 3)
		s.RecordRejection(stepNow)
		s.RecordRejection(stepNow)
		assert.Equal(t, StatusPending, s.Status)
		s.RecordRejection(stepNow)
		assert.Equal(t, StatusRejected, s.Status)
	})
}

func TestStepForcedTerminal(t *testing.T) {
	s := newTestStep(ModeAll, 3, 0)
	s.RecordApproval(stepNow)
	s.Expire(stepNow)
	assert.Equal(t, StatusExpired, s.Status)

	s2 := newTestStep(ModeAny, 2, 0)
	s2.Cancel(stepNow)
	assert.Equal(t, StatusCancelled, s2.Status)
}

func TestStepRequiredApprovals(t *testing.T) {
	assert.Equal(t, 4, newTestStep(ModeAll, 4, 0).RequiredApprovals())
	assert.Equal(t, 1, newTestStep(ModeAny, 4, 0).RequiredApprovals())
	assert.Equal(t, 3, newTestStep(ModeQuorum, 4, 3).RequiredApprovals())
}

func TestStepPercentages(t *testing.T) {
	s := newTestStep(ModeQuorum, 4, 2)
	s.RecordApproval(stepNow)
	assert.InDelta(t, 50, s.CompletionPercentage(), 1e-9)
	assert.InDelta(t, 25, s.ParticipationPercentage(), 1e-9)

	s.RecordRejection(stepNow)
	assert.InDelta(t, 50, s.ParticipationPercentage(), 1e-9)
}

func TestStepSlaUsage(t *testing.T) {
	s := newTestStep(ModeAny, 1, 0)
	assert.Zero(t, s.SlaUsagePercentage(stepNow), "unstarted step has no usage")

	s.Start(stepNow, 8)
	assert.InDelta(t, 50, s.SlaUsagePercentage(stepNow.Add(4*time.Hour)), 1e-9)
	assert.InDelta(t, 100, s.SlaUsagePercentage(stepNow.Add(20*time.Hour)), 1e-9, "clamped at 100")
}

func TestNewStepFromRule(t *testing.T) {
	rule := &ApprovalRule{
		TenantID: "t1",
		SlaHours: 24,
		Steps: []StepConfig{
			{Name: "manager", ApproverMode: ModeAny, Approvers: []Approver{{Type: ApproverUser, Identifier: "u1"}}},
			{Name: "finance", ApproverMode: ModeQuorum, QuorumCount: 2, Approvers: []Approver{
				{Type: ApproverUser, Identifier: "u2"},
				{Type: ApproverUser, Identifier: "u3"},
				{Type: ApproverGroup, Identifier: "g1"},
			}},
		},
	}
	inst := &ApprovalInstance{ID: "i1", TenantID: "t1"}

	s := NewStep(inst, rule, 1)
	assert.Equal(t, 1, s.StepIndex)
	assert.Equal(t, "finance", s.Name)
	assert.Equal(t, ModeQuorum, s.DecisionMode)
	assert.Equal(t, 2, s.QuorumCount)
	assert.Equal(t, 3, s.TotalApprovers)
	assert.Equal(t, StatusPending, s.Status)

	s.Start(stepNow, stepSlaHours(rule, 1))
	assert.NotNil(t, s.StartedAt)
	assert.Equal(t, stepNow.Add(24*time.Hour), *s.StepDeadline, "inherits rule SLA")
}
