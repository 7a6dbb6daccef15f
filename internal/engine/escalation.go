package engine

import (
	"fmt"
	"sort"
	"time"
)

// SweepConfig is the tenant-level escalation configuration: one record with
// named fields, constructed once and passed by value into the scheduler.
type SweepConfig struct {
	ReminderThresholds   []float64
	WarningThreshold     float64
	AutoApproveOnTimeout bool
}

// DefaultSweepConfig returns the stock thresholds.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		ReminderThresholds:   DefaultReminderThresholds,
		WarningThreshold:     DefaultWarningThreshold,
		AutoApproveOnTimeout: false,
	}
}

// SweepItem pairs an open instance with its governing rule and current step,
// loaded by the caller before the sweep runs.
type SweepItem struct {
	Instance *ApprovalInstance
	Rule     *ApprovalRule
	Step     *ApprovalStep
}

// EscalationScheduler produces reminder / escalation / auto-approve / expire
// actions for a population of open instances. It performs no side effects:
// delivery and state mutation are done by the caller applying the actions,
// so re-running the sweep before the caller commits cannot double-fire —
// the "sent" bookkeeping lives on the instances themselves.
type EscalationScheduler struct {
	cfg SweepConfig
}

// NewEscalationScheduler builds a scheduler with the given configuration.
// Zero-value thresholds fall back to the defaults.
func NewEscalationScheduler(cfg SweepConfig) *EscalationScheduler {
	if len(cfg.ReminderThresholds) == 0 {
		cfg.ReminderThresholds = DefaultReminderThresholds
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = DefaultWarningThreshold
	}
	return &EscalationScheduler{cfg: cfg}
}

// Sweep evaluates every item and returns the due actions sorted by priority
// (urgent first) then due time. Terminal instances are skipped. Instances'
// SLA bookkeeping (elapsed minutes, status) is refreshed in place; callers
// persist it together with the applied actions.
func (s *EscalationScheduler) Sweep(items []SweepItem, now time.Time) []EscalationAction {
	var actions []EscalationAction

	for _, item := range items {
		inst := item.Instance
		if inst == nil || inst.IsCompleted() {
			continue
		}
		inst.RefreshSlaStatus(now, s.cfg.WarningThreshold)

		if a, ok := s.reminderAction(item, now); ok {
			actions = append(actions, a)
		}
		if a, ok := s.escalationAction(item, now); ok {
			actions = append(actions, a)
		}
		if a, ok := s.timeoutAction(item, now); ok {
			actions = append(actions, a)
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Priority != actions[j].Priority {
			return actions[i].Priority > actions[j].Priority
		}
		return actions[i].DueAt.Before(actions[j].DueAt)
	})
	return actions
}

// reminderAction fires once per crossed threshold, gated by RemindersSent.
func (s *EscalationScheduler) reminderAction(item SweepItem, now time.Time) (EscalationAction, bool) {
	inst := item.Instance
	if !inst.ShouldSendReminder(now, s.cfg.ReminderThresholds) {
		return EscalationAction{}, false
	}
	threshold := s.cfg.ReminderThresholds[inst.RemindersSent]
	return EscalationAction{
		Type:        ActionReminder,
		InstanceID:  inst.ID,
		StepID:      stepID(item.Step),
		Priority:    actionPriority(inst, now),
		DueAt:       inst.SlaDeadline,
		Description: fmt.Sprintf("approval pending: %.0f%% of SLA window consumed", threshold),
		Metadata: map[string]any{
			"threshold_pct":  threshold,
			"reminders_sent": inst.RemindersSent,
			"entity_type":    inst.EntityType,
			"entity_id":      inst.EntityID,
		},
	}, true
}

// escalationAction fires while the instance is breached and the rule enables
// automatic escalation, at most once per configured escalation level. Fired
// levels are those already covered by LastEscalationAt.
func (s *EscalationScheduler) escalationAction(item SweepItem, now time.Time) (EscalationAction, bool) {
	inst := item.Instance
	rule := item.Rule
	if rule == nil || !rule.Escalation.Enabled || !inst.ShouldEscalate() {
		return EscalationAction{}, false
	}

	level, ok := nextEscalationLevel(inst, rule, now)
	if !ok {
		return EscalationAction{}, false
	}

	return EscalationAction{
		Type:        ActionEscalation,
		InstanceID:  inst.ID,
		StepID:      stepID(item.Step),
		Priority:    actionPriority(inst, now),
		DueAt:       inst.SlaDeadline,
		Description: fmt.Sprintf("SLA breached: escalate to %s '%s'", level.Target.Type, level.Target.Identifier),
		Metadata: map[string]any{
			"target_type":       level.Target.Type,
			"target_identifier": level.Target.Identifier,
			"after_hours":       level.AfterHours,
			"entity_type":       inst.EntityType,
			"entity_id":         inst.EntityID,
		},
	}, true
}

// nextEscalationLevel picks the first level whose after-hours threshold
// (measured from SLA start) has elapsed and that was not yet fired.
func nextEscalationLevel(inst *ApprovalInstance, rule *ApprovalRule, now time.Time) (EscalationLevel, bool) {
	levels := rule.Escalation.Levels
	if len(levels) == 0 {
		// Breached with no ladder configured: a single unleveled escalation.
		if inst.LastEscalationAt != nil {
			return EscalationLevel{}, false
		}
		return EscalationLevel{Target: Approver{Type: ApproverGroup, Identifier: "default"}}, true
	}

	for _, level := range levels {
		due := inst.SlaStarted.Add(time.Duration(level.AfterHours * float64(time.Hour)))
		if now.Before(due) {
			continue
		}
		if inst.LastEscalationAt != nil && !inst.LastEscalationAt.Before(due) {
			continue // already fired for this level
		}
		return level, true
	}
	return EscalationLevel{}, false
}

// timeoutAction converts overdue instances into expire or auto-approve.
func (s *EscalationScheduler) timeoutAction(item SweepItem, now time.Time) (EscalationAction, bool) {
	inst := item.Instance
	if !inst.IsOverdue(now) {
		return EscalationAction{}, false
	}

	actionType := ActionExpire
	description := "SLA deadline passed: expire approval instance"
	if s.cfg.AutoApproveOnTimeout {
		actionType = ActionAutoApprove
		description = "SLA deadline passed: auto-approve per tenant policy"
	}

	return EscalationAction{
		Type:        actionType,
		InstanceID:  inst.ID,
		StepID:      stepID(item.Step),
		Priority:    actionPriority(inst, now),
		DueAt:       inst.SlaDeadline,
		Description: description,
		Metadata: map[string]any{
			"entity_type": inst.EntityType,
			"entity_id":   inst.EntityID,
		},
	}, true
}

// actionPriority derives notifier priority from urgency and SLA consumption.
func actionPriority(inst *ApprovalInstance, now time.Time) ActionPriority {
	pct := inst.CalculateSlaElapsed(now)
	switch {
	case inst.Urgency == 1 || pct >= 100:
		return PriorityUrgent
	case inst.Urgency == 2 || pct >= 90:
		return PriorityHigh
	case inst.Urgency == 3 || pct >= 75:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func stepID(step *ApprovalStep) string {
	if step == nil {
		return ""
	}
	return step.ID
}

// ExpireInstance applies an expire action: the current step and the
// instance both become expired.
func ExpireInstance(inst *ApprovalInstance, step *ApprovalStep, now time.Time) {
	if step != nil && !step.Status.IsTerminal() {
		step.Expire(now)
	}
	inst.Complete(StatusExpired, now, "system", "SLA deadline passed")
}

// AutoApproveInstance applies an auto-approve action: the current step and
// the instance complete as approved on behalf of the system.
func AutoApproveInstance(inst *ApprovalInstance, step *ApprovalStep, now time.Time) {
	if step != nil && !step.Status.IsTerminal() {
		step.complete(StatusApproved, now)
	}
	inst.Complete(StatusApproved, now, "system", "auto-approved on SLA timeout")
}
