package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-approvals/internal/clock"
	"github.com/pesio-ai/be-approvals/internal/engine"
	"github.com/pesio-ai/be-approvals/internal/errors"
	"github.com/pesio-ai/be-approvals/internal/logger"
)

// SweepResult summarizes one escalation sweep run.
type SweepResult struct {
	Scanned    int `json:"scanned"`
	Reminders  int `json:"reminders"`
	Escalated  int `json:"escalated"`
	Expired    int `json:"expired"`
	Approved   int `json:"approved"`
	Conflicted int `json:"conflicted"`
	Failed     int `json:"failed"`
}

// EscalationService runs the periodic SLA sweep: it loads open instances,
// asks the engine scheduler what is due, applies the resulting actions and
// publishes them. Each instance is handled independently; a failure on one
// never blocks the rest. Optimistic-version conflicts are tolerated — the
// losing write is skipped and the next sweep retries from fresh state.
type EscalationService struct {
	rules     RuleSource
	instances InstanceStore
	steps     StepStore
	notifier  Notifier
	scheduler *engine.EscalationScheduler
	batchSize int
	log       *logger.Logger
}

// NewEscalationService creates a new EscalationService. batchSize caps the
// number of open instances loaded per sweep; zero means the default of 500.
func NewEscalationService(
	rules RuleSource,
	instances InstanceStore,
	steps StepStore,
	notifier Notifier,
	cfg engine.SweepConfig,
	batchSize int,
	log *logger.Logger,
) *EscalationService {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &EscalationService{
		rules:     rules,
		instances: instances,
		steps:     steps,
		notifier:  notifier,
		scheduler: engine.NewEscalationScheduler(cfg),
		batchSize: batchSize,
		log:       log,
	}
}

// RunSweep executes one sweep over all open instances.
func (s *EscalationService) RunSweep(ctx context.Context) (*SweepResult, error) {
	open, err := s.instances.FindOpenForSweep(ctx, s.batchSize)
	if err != nil {
		return nil, err
	}

	now := clock.Now()
	result := &SweepResult{Scanned: len(open)}
	items := make([]engine.SweepItem, 0, len(open))
	ruleCache := make(map[string]*engine.ApprovalRule)

	for _, inst := range open {
		item := engine.SweepItem{Instance: inst}

		rule, ok := ruleCache[inst.RuleID]
		if !ok {
			rule, err = s.rules.GetByID(ctx, inst.RuleID, inst.TenantID)
			if err != nil {
				s.log.Error().Err(err).
					Str("instance_id", inst.ID).
					Str("rule_id", inst.RuleID).
					Msg("Sweep: failed to load rule, skipping instance")
				result.Failed++
				continue
			}
			ruleCache[inst.RuleID] = rule
		}
		item.Rule = rule

		step, err := s.steps.GetCurrent(ctx, inst.ID, inst.TenantID, inst.CurrentStepIndex)
		if err != nil {
			s.log.Error().Err(err).
				Str("instance_id", inst.ID).
				Msg("Sweep: failed to load current step, skipping instance")
			result.Failed++
			continue
		}
		item.Step = step

		items = append(items, item)
	}

	actions := s.scheduler.Sweep(items, now)

	byInstance := make(map[string]engine.SweepItem, len(items))
	for _, item := range items {
		byInstance[item.Instance.ID] = item
	}
	for _, action := range actions {
		item, ok := byInstance[action.InstanceID]
		if !ok {
			continue
		}
		s.applyAction(ctx, item, action, now, result)
	}

	// Instances with no due actions still carry refreshed SLA bookkeeping.
	touched := make(map[string]bool, len(actions))
	for _, action := range actions {
		touched[action.InstanceID] = true
	}
	for _, item := range items {
		if touched[item.Instance.ID] {
			continue
		}
		if err := s.instances.Update(ctx, item.Instance); err != nil {
			s.noteWriteError(err, item.Instance.ID, "sla refresh", result)
		}
	}

	s.log.Info().
		Int("scanned", result.Scanned).
		Int("reminders", result.Reminders).
		Int("escalated", result.Escalated).
		Int("expired", result.Expired).
		Int("auto_approved", result.Approved).
		Int("conflicted", result.Conflicted).
		Int("failed", result.Failed).
		Msg("Escalation sweep completed")
	return result, nil
}

// applyAction mutates and persists one instance for one due action, then
// publishes it. Persistence failure suppresses the publish so the action
// fires again on the next sweep instead of firing without its bookkeeping.
func (s *EscalationService) applyAction(ctx context.Context, item engine.SweepItem, action engine.EscalationAction, now time.Time, result *SweepResult) {
	inst := item.Instance

	var err error
	switch action.Type {
	case engine.ActionReminder:
		inst.RemindersSent++
		err = s.instances.Update(ctx, inst)
		if err == nil {
			result.Reminders++
		}

	case engine.ActionEscalation:
		t := now
		inst.LastEscalationAt = &t
		err = s.instances.Update(ctx, inst)
		if err == nil {
			result.Escalated++
		}

	case engine.ActionExpire:
		engine.ExpireInstance(inst, item.Step, now)
		err = s.instances.UpdateWithStep(ctx, inst, item.Step, nil)
		if err == nil {
			result.Expired++
		}

	case engine.ActionAutoApprove:
		engine.AutoApproveInstance(inst, item.Step, now)
		err = s.instances.UpdateWithStep(ctx, inst, item.Step, nil)
		if err == nil {
			result.Approved++
		}
	}

	if err != nil {
		s.noteWriteError(err, inst.ID, string(action.Type), result)
		return
	}

	s.notifier.PublishEscalationAction(ctx, inst.TenantID, action)
}

// noteWriteError classifies a persistence failure: version conflicts are
// expected under concurrent decisions and only logged at warn level.
func (s *EscalationService) noteWriteError(err error, instanceID, what string, result *SweepResult) {
	if errors.CodeOf(err) == errors.ErrCodeConflict {
		result.Conflicted++
		s.log.Warn().
			Str("instance_id", instanceID).
			Str("action", what).
			Msg("Sweep: instance changed concurrently, retrying next sweep")
		return
	}
	result.Failed++
	s.log.Error().Err(err).
		Str("instance_id", instanceID).
		Str("action", what).
		Msg("Sweep: failed to persist action")
}
