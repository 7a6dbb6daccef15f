package engine

import (
	"math"
	"time"
)

// DefaultReminderThresholds are the SLA-consumption percentages at which a
// reminder becomes due, indexed by RemindersSent.
var DefaultReminderThresholds = []float64{25, 50, 75, 90, 95}

// DefaultWarningThreshold is the SLA percentage at which an instance moves
// from active to warning.
const DefaultWarningThreshold = 75.0

// NewInstance builds a pending instance for an entity governed by a rule.
// The ID is assigned by the instance store on insert.
func NewInstance(rule *ApprovalRule, entityType ModuleType, entityID, requesterID string, urgency int, start, deadline time.Time) *ApprovalInstance {
	return &ApprovalInstance{
		TenantID:    rule.TenantID,
		RuleID:      rule.ID,
		EntityType:  entityType,
		EntityID:    entityID,
		Status:      StatusPending,
		Urgency:     urgency,
		SlaDeadline: deadline,
		SlaStarted:  start,
		SlaStatus:   SlaActive,
		RequesterID: requesterID,
	}
}

// IsCompleted reports whether the instance reached a terminal status.
func (i *ApprovalInstance) IsCompleted() bool { return i.Status.IsTerminal() }

// IsSlaBreached reads the stored SLA status.
func (i *ApprovalInstance) IsSlaBreached() bool { return i.SlaStatus == SlaBreached }

// IsSlaWarning reads the stored SLA status.
func (i *ApprovalInstance) IsSlaWarning() bool { return i.SlaStatus == SlaWarning }

// CalculateSlaElapsed returns elapsed time as a percentage of the SLA
// window, clamped to [0, 100].
func (i *ApprovalInstance) CalculateSlaElapsed(now time.Time) float64 {
	window := i.SlaDeadline.Sub(i.SlaStarted)
	if window <= 0 {
		return 100
	}
	pct := float64(now.Sub(i.SlaStarted)) / float64(window) * 100
	return math.Max(0, math.Min(100, pct))
}

// ShouldSendReminder is true exactly once per crossed threshold: the
// threshold at index RemindersSent must have been crossed and not yet sent.
// Callers increment RemindersSent when the reminder is delivered.
func (i *ApprovalInstance) ShouldSendReminder(now time.Time, thresholds []float64) bool {
	if i.IsCompleted() {
		return false
	}
	if len(thresholds) == 0 {
		thresholds = DefaultReminderThresholds
	}
	if i.RemindersSent >= len(thresholds) {
		return false
	}
	return i.CalculateSlaElapsed(now) >= thresholds[i.RemindersSent]
}

// ShouldEscalate is true iff the instance is open and its SLA is breached.
func (i *ApprovalInstance) ShouldEscalate() bool {
	return !i.IsCompleted() && i.SlaStatus == SlaBreached
}

// CanBeCancelled is true only while pending.
func (i *ApprovalInstance) CanBeCancelled() bool { return i.Status == StatusPending }

// IsOverdue reports whether the wall clock passed the SLA deadline.
func (i *ApprovalInstance) IsOverdue(now time.Time) bool {
	return now.After(i.SlaDeadline)
}

// RefreshSlaStatus recomputes the elapsed-minutes counter and the SLA
// status from the wall clock. Terminal instances are left untouched.
func (i *ApprovalInstance) RefreshSlaStatus(now time.Time, warningThreshold float64) {
	if i.IsCompleted() {
		return
	}
	if warningThreshold <= 0 {
		warningThreshold = DefaultWarningThreshold
	}

	elapsed := int(now.Sub(i.SlaStarted).Minutes())
	if elapsed < 0 {
		elapsed = 0
	}
	i.SlaElapsedMinutes = elapsed

	switch {
	case i.IsOverdue(now):
		i.SlaStatus = SlaBreached
	case i.CalculateSlaElapsed(now) >= warningThreshold:
		i.SlaStatus = SlaWarning
	default:
		i.SlaStatus = SlaActive
	}
}

// Complete moves the instance to a terminal status and stamps the
// completion metadata. Completing an already-terminal instance is a no-op.
func (i *ApprovalInstance) Complete(status Status, now time.Time, completedBy, reason string) {
	if i.IsCompleted() {
		return
	}
	i.Status = status
	i.CompletedAt = &now
	if completedBy != "" {
		i.CompletedByID = &completedBy
	}
	if reason != "" {
		i.CompletionReason = &reason
	}
	elapsed := int(now.Sub(i.SlaStarted).Minutes())
	if elapsed < 0 {
		elapsed = 0
	}
	i.SlaElapsedMinutes = elapsed
	if i.IsOverdue(now) {
		i.SlaStatus = SlaBreached
	}
}
