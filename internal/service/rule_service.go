package service

import (
	"context"

	"github.com/pesio-ai/be-approvals/internal/cache"
	"github.com/pesio-ai/be-approvals/internal/engine"
	"github.com/pesio-ai/be-approvals/internal/errors"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/repository"
)

// RuleService handles the administrative lifecycle of approval rules:
// validation, name-collision checks, soft-deactivation and cache
// invalidation. It also serves as the cached RuleSource for the approval
// and escalation services.
type RuleService struct {
	rules *repository.ApprovalRulesRepository
	cache *cache.RuleCache
	log   *logger.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(rules *repository.ApprovalRulesRepository, ruleCache *cache.RuleCache, log *logger.Logger) *RuleService {
	return &RuleService{rules: rules, cache: ruleCache, log: log}
}

// CreateRule validates and persists a new rule.
func (s *RuleService) CreateRule(ctx context.Context, rule *engine.ApprovalRule) (*engine.ApprovalRule, error) {
	if err := engine.ValidateRule(rule); err != nil {
		return nil, err
	}

	taken, err := s.rules.ExistsByName(ctx, rule.TenantID, rule.Name, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, errors.Conflict("a rule with this name already exists")
	}

	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, rule.TenantID, rule.ModuleType)

	s.log.Info().
		Str("tenant_id", rule.TenantID).
		Str("rule_id", rule.ID).
		Str("module_type", string(rule.ModuleType)).
		Int("priority", rule.Priority).
		Msg("Approval rule created")

	return rule, nil
}

// UpdateRule validates and persists changes to an existing rule.
func (s *RuleService) UpdateRule(ctx context.Context, rule *engine.ApprovalRule) (*engine.ApprovalRule, error) {
	if err := engine.ValidateRule(rule); err != nil {
		return nil, err
	}

	existing, err := s.rules.GetByID(ctx, rule.ID, rule.TenantID)
	if err != nil {
		return nil, err
	}

	taken, err := s.rules.ExistsByName(ctx, rule.TenantID, rule.Name, rule.ID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, errors.Conflict("a rule with this name already exists")
	}

	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, rule.TenantID, rule.ModuleType)
	if existing.ModuleType != rule.ModuleType {
		s.cache.Invalidate(ctx, rule.TenantID, existing.ModuleType)
	}

	s.log.Info().
		Str("tenant_id", rule.TenantID).
		Str("rule_id", rule.ID).
		Msg("Approval rule updated")

	return rule, nil
}

// DeactivateRule soft-deletes a rule. Existing instances keep referencing
// it; it simply stops matching new submissions.
func (s *RuleService) DeactivateRule(ctx context.Context, id, tenantID string) error {
	rule, err := s.rules.GetByID(ctx, id, tenantID)
	if err != nil {
		return err
	}
	if err := s.rules.Deactivate(ctx, id, tenantID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, tenantID, rule.ModuleType)

	s.log.Info().
		Str("tenant_id", tenantID).
		Str("rule_id", id).
		Msg("Approval rule deactivated")
	return nil
}

// GetRule returns one rule.
func (s *RuleService) GetRule(ctx context.Context, id, tenantID string) (*engine.ApprovalRule, error) {
	return s.rules.GetByID(ctx, id, tenantID)
}

// ListRules returns a tenant's rules, optionally scoped to a module.
func (s *RuleService) ListRules(ctx context.Context, tenantID string, module engine.ModuleType, activeOnly bool) ([]*engine.ApprovalRule, error) {
	return s.rules.List(ctx, tenantID, module, activeOnly)
}

// ── RuleSource implementation (read-through cache) ───────────────────────────

// FindApplicableRules serves active rules for matching, through the cache.
func (s *RuleService) FindApplicableRules(ctx context.Context, tenantID string, module engine.ModuleType) ([]*engine.ApprovalRule, error) {
	return s.cache.GetActiveRules(ctx, tenantID, module, func(ctx context.Context) ([]*engine.ApprovalRule, error) {
		return s.rules.FindApplicableRules(ctx, tenantID, module)
	})
}

// GetByID resolves one rule for the approval/escalation services.
func (s *RuleService) GetByID(ctx context.Context, id, tenantID string) (*engine.ApprovalRule, error) {
	return s.rules.GetByID(ctx, id, tenantID)
}
