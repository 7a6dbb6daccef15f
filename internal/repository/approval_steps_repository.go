package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approvals/internal/database"
	"github.com/pesio-ai/be-approvals/internal/engine"
	"github.com/pesio-ai/be-approvals/internal/errors"
)

// ApprovalStepsRepository handles reads and updates on individual approval
// steps. Step creation happens inside instance transactions (see
// ApprovalInstancesRepository).
type ApprovalStepsRepository struct {
	db *database.DB
}

// NewApprovalStepsRepository creates a new ApprovalStepsRepository.
func NewApprovalStepsRepository(db *database.DB) *ApprovalStepsRepository {
	return &ApprovalStepsRepository{db: db}
}

const stepColumns = `
	id, tenant_id, instance_id, step_index, name,
	decision_mode, quorum_count, status,
	started_at, step_deadline, completed_at,
	approvers, approved_count, rejected_count, total_approvers,
	created_at, updated_at`

// GetByInstance returns all steps of an instance ordered by step index.
func (r *ApprovalStepsRepository) GetByInstance(ctx context.Context, instanceID, tenantID string) ([]*engine.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + `
		FROM approval_steps
		WHERE instance_id = $1 AND tenant_id = $2
		ORDER BY step_index ASC
	`

	rows, err := r.db.Query(ctx, query, instanceID, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	var steps []*engine.ApprovalStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// GetCurrent returns the step at the given index within an instance.
func (r *ApprovalStepsRepository) GetCurrent(ctx context.Context, instanceID, tenantID string, stepIndex int) (*engine.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + `
		FROM approval_steps
		WHERE instance_id = $1 AND tenant_id = $2 AND step_index = $3
	`

	step, err := scanStep(r.db.QueryRow(ctx, query, instanceID, tenantID, stepIndex))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_step", instanceID)
	}
	return step, err
}

// ── transactional helpers shared with the instances repository ───────────────

func insertStep(ctx context.Context, tx pgx.Tx, step *engine.ApprovalStep) error {
	approvers, err := json.Marshal(step.Approvers)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal step approvers")
	}

	query := `
		INSERT INTO approval_steps
		    (tenant_id, instance_id, step_index, name,
		     decision_mode, quorum_count, status,
		     started_at, step_deadline,
		     approvers, approved_count, rejected_count, total_approvers)
		VALUES ($1, $2, $3, $4,
		        $5::approver_mode, $6, $7::approval_status,
		        $8, $9,
		        $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		step.TenantID,
		step.InstanceID,
		step.StepIndex,
		step.Name,
		step.DecisionMode,
		step.QuorumCount,
		step.Status,
		step.StartedAt,
		step.StepDeadline,
		approvers,
		step.ApprovedCount,
		step.RejectedCount,
		step.TotalApprovers,
	).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
	}
	return nil
}

func updateStepState(ctx context.Context, tx pgx.Tx, step *engine.ApprovalStep) error {
	query := `
		UPDATE approval_steps
		SET status         = $3::approval_status,
		    approved_count = $4,
		    rejected_count = $5,
		    started_at     = $6,
		    step_deadline  = $7,
		    completed_at   = $8,
		    updated_at     = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING updated_at
	`

	err := tx.QueryRow(ctx, query,
		step.ID,
		step.TenantID,
		step.Status,
		step.ApprovedCount,
		step.RejectedCount,
		step.StartedAt,
		step.StepDeadline,
		step.CompletedAt,
	).Scan(&step.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_step", step.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval step")
	}
	return nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

func scanStep(row rowScanner) (*engine.ApprovalStep, error) {
	step := &engine.ApprovalStep{}
	var approvers []byte

	err := row.Scan(
		&step.ID,
		&step.TenantID,
		&step.InstanceID,
		&step.StepIndex,
		&step.Name,
		&step.DecisionMode,
		&step.QuorumCount,
		&step.Status,
		&step.StartedAt,
		&step.StepDeadline,
		&step.CompletedAt,
		&approvers,
		&step.ApprovedCount,
		&step.RejectedCount,
		&step.TotalApprovers,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(approvers, &step.Approvers); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal step approvers")
	}
	return step, nil
}
