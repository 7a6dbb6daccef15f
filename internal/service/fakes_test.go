package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-approvals/internal/engine"
	"github.com/pesio-ai/be-approvals/internal/errors"
)

// In-memory collaborators for exercising the service layer without Postgres,
// Redis or NATS.

type fakeRuleSource struct {
	rules []*engine.ApprovalRule
}

func (f *fakeRuleSource) FindApplicableRules(_ context.Context, tenantID string, module engine.ModuleType) ([]*engine.ApprovalRule, error) {
	var out []*engine.ApprovalRule
	for _, r := range f.rules {
		if r.TenantID == tenantID && r.ModuleType == module && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuleSource) GetByID(_ context.Context, id, tenantID string) (*engine.ApprovalRule, error) {
	for _, r := range f.rules {
		if r.ID == id && r.TenantID == tenantID {
			return r, nil
		}
	}
	return nil, errors.NotFound("approval rule", id)
}

type fakeInstanceStore struct {
	instances  map[string]*engine.ApprovalInstance
	steps      *fakeStepStore
	nextID     int
	conflictOn map[string]bool // instance IDs whose writes fail with a version conflict
}

func newFakeInstanceStore(steps *fakeStepStore) *fakeInstanceStore {
	return &fakeInstanceStore{
		instances:  make(map[string]*engine.ApprovalInstance),
		steps:      steps,
		conflictOn: make(map[string]bool),
	}
}

func (f *fakeInstanceStore) Create(_ context.Context, inst *engine.ApprovalInstance, firstStep *engine.ApprovalStep) error {
	f.nextID++
	inst.ID = fmt.Sprintf("inst-%d", f.nextID)
	f.instances[inst.ID] = inst

	firstStep.InstanceID = inst.ID
	firstStep.ID = fmt.Sprintf("step-%d-0", f.nextID)
	f.steps.add(firstStep)
	return nil
}

func (f *fakeInstanceStore) GetByID(_ context.Context, id, tenantID string) (*engine.ApprovalInstance, error) {
	inst, ok := f.instances[id]
	if !ok || inst.TenantID != tenantID {
		return nil, errors.NotFound("approval instance", id)
	}
	return inst, nil
}

func (f *fakeInstanceStore) Update(_ context.Context, inst *engine.ApprovalInstance) error {
	if f.conflictOn[inst.ID] {
		return errors.Conflict("approval instance was modified concurrently")
	}
	f.instances[inst.ID] = inst
	return nil
}

func (f *fakeInstanceStore) UpdateWithStep(_ context.Context, inst *engine.ApprovalInstance, step, nextStep *engine.ApprovalStep) error {
	if f.conflictOn[inst.ID] {
		return errors.Conflict("approval instance was modified concurrently")
	}
	f.instances[inst.ID] = inst
	if nextStep != nil {
		nextStep.ID = fmt.Sprintf("%s-%d", inst.ID, nextStep.StepIndex)
		f.steps.add(nextStep)
	}
	return nil
}

func (f *fakeInstanceStore) FindPendingByUser(_ context.Context, tenantID, userID string) ([]*engine.ApprovalInstance, error) {
	var out []*engine.ApprovalInstance
	for _, inst := range f.instances {
		if inst.TenantID != tenantID || inst.Status != engine.StatusPending {
			continue
		}
		step := f.steps.current(inst.ID, inst.CurrentStepIndex)
		if step == nil {
			continue
		}
		for _, a := range step.Approvers {
			if a.Identifier == userID {
				out = append(out, inst)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeInstanceStore) FindOpenForSweep(_ context.Context, limit int) ([]*engine.ApprovalInstance, error) {
	var out []*engine.ApprovalInstance
	for _, inst := range f.instances {
		if inst.Status == engine.StatusPending && len(out) < limit {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *fakeInstanceStore) FindActiveByEntity(_ context.Context, tenantID string, entityType engine.ModuleType, entityID string) (*engine.ApprovalInstance, error) {
	for _, inst := range f.instances {
		if inst.TenantID == tenantID && inst.EntityType == entityType &&
			inst.EntityID == entityID && inst.Status == engine.StatusPending {
			return inst, nil
		}
	}
	return nil, nil
}

type fakeStepStore struct {
	steps []*engine.ApprovalStep
}

func (f *fakeStepStore) add(step *engine.ApprovalStep) {
	f.steps = append(f.steps, step)
}

func (f *fakeStepStore) current(instanceID string, stepIndex int) *engine.ApprovalStep {
	for _, s := range f.steps {
		if s.InstanceID == instanceID && s.StepIndex == stepIndex {
			return s
		}
	}
	return nil
}

func (f *fakeStepStore) GetCurrent(_ context.Context, instanceID, tenantID string, stepIndex int) (*engine.ApprovalStep, error) {
	if s := f.current(instanceID, stepIndex); s != nil {
		return s, nil
	}
	return nil, errors.NotFound("approval step", instanceID)
}

func (f *fakeStepStore) GetByInstance(_ context.Context, instanceID, tenantID string) ([]*engine.ApprovalStep, error) {
	var out []*engine.ApprovalStep
	for _, s := range f.steps {
		if s.InstanceID == instanceID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeDecisionStore struct {
	decisions []*engine.ApprovalDecision
	failNext  bool
}

func (f *fakeDecisionStore) Create(_ context.Context, d *engine.ApprovalDecision) error {
	if f.failNext {
		f.failNext = false
		return errors.New(errors.ErrCodeInternal, "decision store down")
	}
	d.ID = fmt.Sprintf("dec-%d", len(f.decisions)+1)
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakeDecisionStore) FindByInstance(_ context.Context, instanceID, tenantID string) ([]*engine.ApprovalDecision, error) {
	var out []*engine.ApprovalDecision
	for _, d := range f.decisions {
		if d.InstanceID == instanceID {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	events  []string
	actions []engine.EscalationAction
}

func (f *fakeNotifier) PublishInstanceEvent(_ context.Context, eventType string, _ *engine.ApprovalInstance, _ string, _ map[string]any) {
	f.events = append(f.events, eventType)
}

func (f *fakeNotifier) PublishEscalationAction(_ context.Context, _ string, action engine.EscalationAction) {
	f.actions = append(f.actions, action)
}

func (f *fakeNotifier) hasEvent(eventType string) bool {
	for _, e := range f.events {
		if e == eventType {
			return true
		}
	}
	return false
}
