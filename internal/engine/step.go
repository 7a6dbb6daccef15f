package engine

import (
	"math"
	"time"
)

// NewStep materializes the step at stepIndex of a rule for an instance. The
// ID is assigned by the instance store on insert.
func NewStep(inst *ApprovalInstance, rule *ApprovalRule, stepIndex int) *ApprovalStep {
	cfg := rule.Steps[stepIndex]
	quorum := cfg.QuorumCount
	if cfg.ApproverMode != ModeQuorum {
		quorum = 0
	}
	return &ApprovalStep{
		TenantID:       inst.TenantID,
		InstanceID:     inst.ID,
		StepIndex:      stepIndex,
		Name:           cfg.Name,
		DecisionMode:   cfg.ApproverMode,
		QuorumCount:    quorum,
		Status:         StatusPending,
		Approvers:      cfg.Approvers,
		TotalApprovers: len(cfg.Approvers),
	}
}

// Start stamps the step's start time and deadline. slaHours falls back to
// the rule-level SLA when the step config has none.
func (s *ApprovalStep) Start(now time.Time, slaHours float64) {
	s.StartedAt = &now
	if slaHours > 0 {
		deadline := now.Add(time.Duration(slaHours * float64(time.Hour)))
		s.StepDeadline = &deadline
	}
}

// RecordApproval increments the approval count and completes the step when
// the mode's approval condition is met.
func (s *ApprovalStep) RecordApproval(now time.Time) {
	s.ApprovedCount++
	if s.shouldCompleteApproved() {
		s.complete(StatusApproved, now)
	}
}

// RecordRejection increments the rejection count and completes the step as
// rejected when the mode's rejection condition is met.
func (s *ApprovalStep) RecordRejection(now time.Time) {
	s.RejectedCount++
	if s.shouldCompleteRejected() {
		s.complete(StatusRejected, now)
	}
}

// Expire forces the step terminal regardless of counts.
func (s *ApprovalStep) Expire(now time.Time) { s.complete(StatusExpired, now) }

// Cancel forces the step terminal regardless of counts.
func (s *ApprovalStep) Cancel(now time.Time) { s.complete(StatusCancelled, now) }

func (s *ApprovalStep) complete(status Status, now time.Time) {
	s.Status = status
	s.CompletedAt = &now
}

// ShouldComplete reports whether either terminal condition currently holds.
func (s *ApprovalStep) ShouldComplete() bool {
	return s.shouldCompleteApproved() || s.shouldCompleteRejected()
}

// Completion policy:
//
//	mode   | approve-completes when        | reject-completes when
//	ALL    | approved == total             | rejected > 0
//	ANY    | approved > 0                  | rejected == total
//	QUORUM | approved >= quorum            | rejected > total - quorum
func (s *ApprovalStep) shouldCompleteApproved() bool {
	switch s.DecisionMode {
	case ModeAll:
		return s.ApprovedCount >= s.TotalApprovers && s.TotalApprovers > 0
	case ModeAny:
		return s.ApprovedCount > 0
	case ModeQuorum:
		return s.QuorumCount > 0 && s.ApprovedCount >= s.QuorumCount
	}
	return false
}

func (s *ApprovalStep) shouldCompleteRejected() bool {
	switch s.DecisionMode {
	case ModeAll:
		return s.RejectedCount > 0
	case ModeAny:
		return s.TotalApprovers > 0 && s.RejectedCount >= s.TotalApprovers
	case ModeQuorum:
		return s.RejectedCount > s.TotalApprovers-s.QuorumCount
	}
	return false
}

// RequiredApprovals is how many approvals the mode needs.
func (s *ApprovalStep) RequiredApprovals() int {
	switch s.DecisionMode {
	case ModeAny:
		return 1
	case ModeQuorum:
		return s.QuorumCount
	}
	return s.TotalApprovers
}

// CompletionPercentage is approvals over required, capped at 100.
func (s *ApprovalStep) CompletionPercentage() float64 {
	required := s.RequiredApprovals()
	if required == 0 {
		return 0
	}
	return math.Min(100, float64(s.ApprovedCount)/float64(required)*100)
}

// ParticipationPercentage is decisions recorded over total approvers.
func (s *ApprovalStep) ParticipationPercentage() float64 {
	if s.TotalApprovers == 0 {
		return 0
	}
	return math.Min(100,
		float64(s.ApprovedCount+s.RejectedCount)/float64(s.TotalApprovers)*100)
}

// SlaUsagePercentage is the share of the step's SLA window consumed at now,
// clamped to [0, 100]. Steps without a deadline report 0.
func (s *ApprovalStep) SlaUsagePercentage(now time.Time) float64 {
	if s.StartedAt == nil || s.StepDeadline == nil {
		return 0
	}
	window := s.StepDeadline.Sub(*s.StartedAt)
	if window <= 0 {
		return 100
	}
	pct := float64(now.Sub(*s.StartedAt)) / float64(window) * 100
	return math.Max(0, math.Min(100, pct))
}
