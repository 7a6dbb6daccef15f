package repository

import (
	"context"

	"github.com/pesio-ai/be-approvals/internal/database"
	"github.com/pesio-ai/be-approvals/internal/engine"
	"github.com/pesio-ai/be-approvals/internal/errors"
)

// ApprovalDecisionsRepository appends and reads immutable approver decision
// records. The table has a delete-prevention trigger, so append and read are
// the only operations exposed.
type ApprovalDecisionsRepository struct {
	db *database.DB
}

// NewApprovalDecisionsRepository creates a new ApprovalDecisionsRepository.
func NewApprovalDecisionsRepository(db *database.DB) *ApprovalDecisionsRepository {
	return &ApprovalDecisionsRepository{db: db}
}

// Create inserts one decision record.
func (r *ApprovalDecisionsRepository) Create(ctx context.Context, d *engine.ApprovalDecision) error {
	query := `
		INSERT INTO approval_decisions
		    (tenant_id, instance_id, step_id,
		     approver_id, approver_type, decision, comments,
		     delegated_to, delegation_reason,
		     response_time_minutes, ip_address, user_agent)
		VALUES ($1, $2, $3,
		        $4, $5::approver_type, $6::decision_kind, $7,
		        $8, $9,
		        $10, $11, $12)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		d.TenantID,
		d.InstanceID,
		d.StepID,
		d.ApproverID,
		d.ApproverType,
		d.Decision,
		d.Comments,
		d.DelegatedTo,
		d.DelegationReason,
		d.ResponseTimeMinutes,
		d.IPAddress,
		d.UserAgent,
	).Scan(&d.ID, &d.CreatedAt)
}

// FindByInstance returns the full decision trail for an instance,
// oldest first.
func (r *ApprovalDecisionsRepository) FindByInstance(ctx context.Context, instanceID, tenantID string) ([]*engine.ApprovalDecision, error) {
	query := `
		SELECT id, tenant_id, instance_id, step_id,
		       approver_id, approver_type, decision, comments,
		       delegated_to, delegation_reason,
		       response_time_minutes, ip_address, user_agent,
		       created_at
		FROM approval_decisions
		WHERE instance_id = $1 AND tenant_id = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, instanceID, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get decision trail")
	}
	defer rows.Close()

	var decisions []*engine.ApprovalDecision
	for rows.Next() {
		d := &engine.ApprovalDecision{}
		err := rows.Scan(
			&d.ID,
			&d.TenantID,
			&d.InstanceID,
			&d.StepID,
			&d.ApproverID,
			&d.ApproverType,
			&d.Decision,
			&d.Comments,
			&d.DelegatedTo,
			&d.DelegationReason,
			&d.ResponseTimeMinutes,
			&d.IPAddress,
			&d.UserAgent,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan decision")
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}
