package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approvals/internal/database"
	"github.com/pesio-ai/be-approvals/internal/engine"
	"github.com/pesio-ai/be-approvals/internal/errors"
)

// ApprovalRulesRepository handles CRUD for approval_rules. Condition trees,
// step configs and escalation settings are stored as JSONB; rule matching
// itself happens in the engine, not in SQL.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

const ruleColumns = `
	id, tenant_id, name, module_type,
	query_conditions, steps, escalation, auto_approval,
	sla_hours, business_hours_only, priority, is_active,
	created_at, updated_at`

// Create inserts a new approval rule.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *engine.ApprovalRule) error {
	conditions, steps, escalation, autoApproval, err := marshalRuleBlobs(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_rules
		    (tenant_id, name, module_type,
		     query_conditions, steps, escalation, auto_approval,
		     sla_hours, business_hours_only, priority, is_active)
		VALUES ($1, $2, $3::approval_module_type,
		        $4, $5, $6, $7,
		        $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		rule.TenantID,
		rule.Name,
		rule.ModuleType,
		conditions,
		steps,
		escalation,
		autoApproval,
		rule.SlaHours,
		rule.BusinessHoursOnly,
		rule.Priority,
		rule.IsActive,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

// GetByID retrieves a rule by primary key within a tenant.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, id, tenantID string) (*engine.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM approval_rules
		WHERE id = $1 AND tenant_id = $2
	`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id, tenantID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_rule", id)
	}
	return rule, err
}

// List returns all rules for a tenant, optionally filtered to a module
// and/or to active rules only, ordered by priority.
func (r *ApprovalRulesRepository) List(ctx context.Context, tenantID string, module engine.ModuleType, activeOnly bool) ([]*engine.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM approval_rules
		WHERE tenant_id = $1
	`
	args := []any{tenantID}
	if module != "" {
		query += " AND module_type = $2::approval_module_type"
		args = append(args, module)
	}
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY priority ASC, name ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*engine.ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// FindApplicableRules loads the active rules for one tenant and module in
// priority order, as candidates for engine.MatchRules.
func (r *ApprovalRulesRepository) FindApplicableRules(ctx context.Context, tenantID string, module engine.ModuleType) ([]*engine.ApprovalRule, error) {
	return r.List(ctx, tenantID, module, true)
}

// ExistsByName reports whether another rule with this name exists in the
// tenant (excluding excludeID, which may be empty).
func (r *ApprovalRulesRepository) ExistsByName(ctx context.Context, tenantID, name, excludeID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM approval_rules
			WHERE tenant_id = $1 AND name = $2 AND id::text <> $3
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, tenantID, name, excludeID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check rule name")
	}
	return exists, nil
}

// Update persists changes to an existing rule.
func (r *ApprovalRulesRepository) Update(ctx context.Context, rule *engine.ApprovalRule) error {
	conditions, steps, escalation, autoApproval, err := marshalRuleBlobs(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE approval_rules
		SET name                = $3,
		    module_type         = $4::approval_module_type,
		    query_conditions    = $5,
		    steps               = $6,
		    escalation          = $7,
		    auto_approval       = $8,
		    sla_hours           = $9,
		    business_hours_only = $10,
		    priority            = $11,
		    is_active           = $12,
		    updated_at          = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.TenantID,
		rule.Name,
		rule.ModuleType,
		conditions,
		steps,
		escalation,
		autoApproval,
		rule.SlaHours,
		rule.BusinessHoursOnly,
		rule.Priority,
		rule.IsActive,
	).Scan(&rule.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_rule", rule.ID)
	}
	return err
}

// Deactivate soft-deletes a rule. Rules are never physically removed so
// existing instances keep a resolvable governing rule.
func (r *ApprovalRulesRepository) Deactivate(ctx context.Context, id, tenantID string) error {
	query := `
		UPDATE approval_rules
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, tenantID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_rule", id)
	}
	return err
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalRuleBlobs(rule *engine.ApprovalRule) (conditions, steps, escalation, autoApproval []byte, err error) {
	if conditions, err = json.Marshal(rule.QueryConditions); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal query conditions")
	}
	if steps, err = json.Marshal(rule.Steps); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal steps")
	}
	if escalation, err = json.Marshal(rule.Escalation); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal escalation settings")
	}
	if autoApproval, err = json.Marshal(rule.AutoApproval); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal auto-approval settings")
	}
	return conditions, steps, escalation, autoApproval, nil
}

func scanRule(row rowScanner) (*engine.ApprovalRule, error) {
	rule := &engine.ApprovalRule{}
	var conditions, steps, escalation, autoApproval []byte

	err := row.Scan(
		&rule.ID,
		&rule.TenantID,
		&rule.Name,
		&rule.ModuleType,
		&conditions,
		&steps,
		&escalation,
		&autoApproval,
		&rule.SlaHours,
		&rule.BusinessHoursOnly,
		&rule.Priority,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(conditions, &rule.QueryConditions); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal query conditions")
	}
	if err := json.Unmarshal(steps, &rule.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal steps")
	}
	if err := json.Unmarshal(escalation, &rule.Escalation); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal escalation settings")
	}
	if err := json.Unmarshal(autoApproval, &rule.AutoApproval); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal auto-approval settings")
	}
	return rule, nil
}
