package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approvals/internal/database"
	"github.com/pesio-ai/be-approvals/internal/engine"
	"github.com/pesio-ai/be-approvals/internal/errors"
)

// ApprovalInstancesRepository manages approval instances. Instance + first
// step creation is always done together in a single transaction, and every
// update carries an optimistic version check so two concurrent decisions on
// one instance can never both observe the same pre-decision state.
type ApprovalInstancesRepository struct {
	db *database.DB
}

// NewApprovalInstancesRepository creates a new ApprovalInstancesRepository.
func NewApprovalInstancesRepository(db *database.DB) *ApprovalInstancesRepository {
	return &ApprovalInstancesRepository{db: db}
}

const instanceColumns = `
	id, tenant_id, rule_id, entity_type, entity_id,
	current_step_index, status, urgency,
	sla_deadline, sla_started, sla_elapsed_minutes, sla_status,
	reminders_sent, last_escalation_at,
	requester_id, completed_by_id, completed_at, completion_reason,
	version, created_at, updated_at`

// Create inserts an instance and its first step in one transaction.
func (r *ApprovalInstancesRepository) Create(ctx context.Context, inst *engine.ApprovalInstance, firstStep *engine.ApprovalStep) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		instQuery := `
			INSERT INTO approval_instances
			    (tenant_id, rule_id, entity_type, entity_id,
			     current_step_index, status, urgency,
			     sla_deadline, sla_started, sla_status, requester_id)
			VALUES ($1, $2, $3::approval_module_type, $4,
			        $5, $6::approval_status, $7,
			        $8, $9, $10::sla_status, $11)
			RETURNING id, version, created_at, updated_at
		`

		err := tx.QueryRow(ctx, instQuery,
			inst.TenantID,
			inst.RuleID,
			inst.EntityType,
			inst.EntityID,
			inst.CurrentStepIndex,
			inst.Status,
			inst.Urgency,
			inst.SlaDeadline,
			inst.SlaStarted,
			inst.SlaStatus,
			inst.RequesterID,
		).Scan(&inst.ID, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval instance")
		}

		firstStep.InstanceID = inst.ID
		firstStep.TenantID = inst.TenantID
		return insertStep(ctx, tx, firstStep)
	})
}

// GetByID retrieves an instance by primary key within a tenant.
func (r *ApprovalInstancesRepository) GetByID(ctx context.Context, id, tenantID string) (*engine.ApprovalInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE id = $1 AND tenant_id = $2
	`

	inst, err := scanInstance(r.db.QueryRow(ctx, query, id, tenantID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_instance", id)
	}
	return inst, err
}

// Update persists the mutable fields of an instance guarded by its version.
// A stale version yields a conflict; callers refresh and retry or surface it.
func (r *ApprovalInstancesRepository) Update(ctx context.Context, inst *engine.ApprovalInstance) error {
	query := `
		UPDATE approval_instances
		SET current_step_index  = $4,
		    status              = $5::approval_status,
		    sla_elapsed_minutes = $6,
		    sla_status          = $7::sla_status,
		    reminders_sent      = $8,
		    last_escalation_at  = $9,
		    completed_by_id     = $10,
		    completed_at        = $11,
		    completion_reason   = $12,
		    version             = version + 1,
		    updated_at          = NOW()
		WHERE id = $1 AND tenant_id = $2 AND version = $3
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		inst.ID,
		inst.TenantID,
		inst.Version,
		inst.CurrentStepIndex,
		inst.Status,
		inst.SlaElapsedMinutes,
		inst.SlaStatus,
		inst.RemindersSent,
		inst.LastEscalationAt,
		inst.CompletedByID,
		inst.CompletedAt,
		inst.CompletionReason,
	).Scan(&inst.Version, &inst.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.Conflict("approval instance was modified concurrently")
	}
	return err
}

// UpdateWithStep persists an instance update and one or two step writes in a
// single transaction: the mutated current step and, when the workflow
// advanced, the newly started next step.
func (r *ApprovalInstancesRepository) UpdateWithStep(ctx context.Context, inst *engine.ApprovalInstance, step, nextStep *engine.ApprovalStep) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE approval_instances
			SET current_step_index  = $4,
			    status              = $5::approval_status,
			    sla_elapsed_minutes = $6,
			    sla_status          = $7::sla_status,
			    reminders_sent      = $8,
			    last_escalation_at  = $9,
			    completed_by_id     = $10,
			    completed_at        = $11,
			    completion_reason   = $12,
			    version             = version + 1,
			    updated_at          = NOW()
			WHERE id = $1 AND tenant_id = $2 AND version = $3
			RETURNING version, updated_at
		`
		err := tx.QueryRow(ctx, query,
			inst.ID,
			inst.TenantID,
			inst.Version,
			inst.CurrentStepIndex,
			inst.Status,
			inst.SlaElapsedMinutes,
			inst.SlaStatus,
			inst.RemindersSent,
			inst.LastEscalationAt,
			inst.CompletedByID,
			inst.CompletedAt,
			inst.CompletionReason,
		).Scan(&inst.Version, &inst.UpdatedAt)
		if err == pgx.ErrNoRows {
			return errors.Conflict("approval instance was modified concurrently")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval instance")
		}

		if step != nil {
			if err := updateStepState(ctx, tx, step); err != nil {
				return err
			}
		}
		if nextStep != nil {
			if err := insertStep(ctx, tx, nextStep); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindPendingByUser returns pending instances whose current step lists the
// user (directly or via group id) as an approver, oldest deadline first.
func (r *ApprovalInstancesRepository) FindPendingByUser(ctx context.Context, tenantID, userID string) ([]*engine.ApprovalInstance, error) {
	query := `
		SELECT i.id, i.tenant_id, i.rule_id, i.entity_type, i.entity_id,
		       i.current_step_index, i.status, i.urgency,
		       i.sla_deadline, i.sla_started, i.sla_elapsed_minutes, i.sla_status,
		       i.reminders_sent, i.last_escalation_at,
		       i.requester_id, i.completed_by_id, i.completed_at, i.completion_reason,
		       i.version, i.created_at, i.updated_at
		FROM approval_instances i
		JOIN approval_steps s
		  ON s.instance_id = i.id AND s.step_index = i.current_step_index
		WHERE i.tenant_id = $1
		  AND i.status = 'pending'
		  AND s.status = 'pending'
		  AND s.approvers @> $2::jsonb
		ORDER BY i.sla_deadline ASC
	`
	member, err := json.Marshal([]map[string]string{{"identifier": userID}})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to build approver filter")
	}
	rows, err := r.db.Query(ctx, query, tenantID, member)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find pending approvals")
	}
	defer rows.Close()

	return scanInstances(rows)
}

// FindOpenForSweep returns every pending instance, oldest deadline first,
// for the escalation sweep. A zero limit means no limit.
func (r *ApprovalInstancesRepository) FindOpenForSweep(ctx context.Context, limit int) ([]*engine.ApprovalInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE status = 'pending'
		ORDER BY sla_deadline ASC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load instances for sweep")
	}
	defer rows.Close()

	return scanInstances(rows)
}

// FindActiveByEntity returns the open instance for an entity, or nil.
func (r *ApprovalInstancesRepository) FindActiveByEntity(ctx context.Context, tenantID string, entityType engine.ModuleType, entityID string) (*engine.ApprovalInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE tenant_id = $1 AND entity_type = $2::approval_module_type AND entity_id = $3
		  AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	inst, err := scanInstance(r.db.QueryRow(ctx, query, tenantID, entityType, entityID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanInstances(rows pgx.Rows) ([]*engine.ApprovalInstance, error) {
	var instances []*engine.ApprovalInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval instance")
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func scanInstance(row rowScanner) (*engine.ApprovalInstance, error) {
	inst := &engine.ApprovalInstance{}
	err := row.Scan(
		&inst.ID,
		&inst.TenantID,
		&inst.RuleID,
		&inst.EntityType,
		&inst.EntityID,
		&inst.CurrentStepIndex,
		&inst.Status,
		&inst.Urgency,
		&inst.SlaDeadline,
		&inst.SlaStarted,
		&inst.SlaElapsedMinutes,
		&inst.SlaStatus,
		&inst.RemindersSent,
		&inst.LastEscalationAt,
		&inst.RequesterID,
		&inst.CompletedByID,
		&inst.CompletedAt,
		&inst.CompletionReason,
		&inst.Version,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inst, nil
}
