// Package engine implements the approval workflow core: condition evaluation,
// rule matching, SLA deadlines, the instance/step state machines, decision
// processing and the escalation sweep. Everything here is pure and
// synchronous — data is fetched by callers, time comes in as an argument.
package engine

import "time"

// ModuleType identifies the kind of business entity under approval.
type ModuleType string

const (
	ModuleTicket          ModuleType = "ticket"
	ModuleMaterialRequest ModuleType = "material_request"
	ModuleTimecard        ModuleType = "timecard"
	ModuleInvoice         ModuleType = "invoice"
	ModulePurchaseOrder   ModuleType = "purchase_order"
	ModuleExpenseClaim    ModuleType = "expense_claim"
)

// ValidModuleType reports whether m is a supported module.
func ValidModuleType(m ModuleType) bool {
	switch m {
	case ModuleTicket, ModuleMaterialRequest, ModuleTimecard,
		ModuleInvoice, ModulePurchaseOrder, ModuleExpenseClaim:
		return true
	}
	return false
}

// Status is shared by instances and steps. pending is the only non-terminal
// state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool { return s != StatusPending }

// SlaStatus tracks SLA consumption on an instance.
type SlaStatus string

const (
	SlaActive   SlaStatus = "active"
	SlaWarning  SlaStatus = "warning"
	SlaBreached SlaStatus = "breached"
)

// ApproverMode is the per-step decision aggregation policy.
type ApproverMode string

const (
	ModeAll    ApproverMode = "ALL"    // unanimous approval
	ModeAny    ApproverMode = "ANY"    // first approval wins, unanimous reject fails
	ModeQuorum ApproverMode = "QUORUM" // N of M
)

// DecisionKind is one approver action.
type DecisionKind string

const (
	DecisionApproved  DecisionKind = "approved"
	DecisionRejected  DecisionKind = "rejected"
	DecisionDelegated DecisionKind = "delegated"
	DecisionEscalated DecisionKind = "escalated"
)

// ApproverType classifies who (or what) recorded a decision.
type ApproverType string

const (
	ApproverUser      ApproverType = "user"
	ApproverGroup     ApproverType = "group"
	ApproverExternal  ApproverType = "external"
	ApproverAutomated ApproverType = "automated"
)

// LogicalOperator combines adjacent conditions in a condition list.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEQ         Operator = "EQ"
	OpNEQ        Operator = "NEQ"
	OpIn         Operator = "IN"
	OpNotIn      Operator = "NOT_IN"
	OpGT         Operator = "GT"
	OpGTE        Operator = "GTE"
	OpLT         Operator = "LT"
	OpLTE        Operator = "LTE"
	OpContains   Operator = "CONTAINS"
	OpStartsWith Operator = "STARTS_WITH"
	OpExists     Operator = "EXISTS"
	OpBetween    Operator = "BETWEEN"
)

// Condition is one typed comparison against a field of the entity data.
// LogicalOperator combines this condition with the running result of the
// conditions before it; it is ignored on the first condition of a list.
type Condition struct {
	Field           string          `json:"field"`
	Operator        Operator        `json:"operator"`
	Value           any             `json:"value,omitempty"`
	LogicalOperator LogicalOperator `json:"logical_operator,omitempty"`
}

// Approver is one configured approver slot on a step.
type Approver struct {
	Type       ApproverType `json:"type"`
	Identifier string       `json:"identifier"`
	Level      int          `json:"level,omitempty"`
}

// StepConfig is one ordered step definition on a rule.
type StepConfig struct {
	Name         string       `json:"name"`
	ApproverMode ApproverMode `json:"approver_mode"`
	Approvers    []Approver   `json:"approvers"`
	QuorumCount  int          `json:"quorum_count,omitempty"`
	SlaHours     float64      `json:"sla_hours,omitempty"` // 0 = inherit rule SLA
}

// EscalationLevel is one entry in a rule's escalation ladder.
type EscalationLevel struct {
	AfterHours float64  `json:"after_hours"`
	Target     Approver `json:"target"`
}

// EscalationSettings controls automatic escalation for a rule.
type EscalationSettings struct {
	Enabled bool              `json:"enabled"`
	Levels  []EscalationLevel `json:"levels,omitempty"`
}

// AutoApproval is a rule's bypass condition set. Disabled sets never
// auto-approve regardless of entity data.
type AutoApproval struct {
	Enabled    bool        `json:"enabled"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// WorkingHours is the daily business-hours window for SLA clipping,
// expressed as hours of the day [Start, End).
type WorkingHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ApprovalRule selects which entity changes need approval and how they are
// approved. Priority is 1–999; lower wins.
type ApprovalRule struct {
	ID                string             `json:"id"`
	TenantID          string             `json:"tenant_id"`
	Name              string             `json:"name"`
	ModuleType        ModuleType         `json:"module_type"`
	QueryConditions   []Condition        `json:"query_conditions"`
	Steps             []StepConfig       `json:"steps"`
	Escalation        EscalationSettings `json:"escalation"`
	SlaHours          float64            `json:"sla_hours"`
	BusinessHoursOnly bool               `json:"business_hours_only"`
	AutoApproval      AutoApproval       `json:"auto_approval"`
	Priority          int                `json:"priority"`
	IsActive          bool               `json:"is_active"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// ApprovalInstance is one approval attempt for one entity change. Version
// backs the optimistic concurrency check in the instance store.
type ApprovalInstance struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	RuleID            string     `json:"rule_id"`
	EntityType        ModuleType `json:"entity_type"`
	EntityID          string     `json:"entity_id"`
	CurrentStepIndex  int        `json:"current_step_index"`
	Status            Status     `json:"status"`
	Urgency           int        `json:"urgency"` // 1=critical … 5=very low
	SlaDeadline       time.Time  `json:"sla_deadline"`
	SlaStarted        time.Time  `json:"sla_started"`
	SlaElapsedMinutes int        `json:"sla_elapsed_minutes"`
	SlaStatus         SlaStatus  `json:"sla_status"`
	RemindersSent     int        `json:"reminders_sent"`
	LastEscalationAt  *time.Time `json:"last_escalation_at,omitempty"`
	RequesterID       string     `json:"requester_id"`
	CompletedByID     *string    `json:"completed_by_id,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CompletionReason  *string    `json:"completion_reason,omitempty"`
	Version           int        `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ApprovalStep is the live aggregation state for one step of one instance.
type ApprovalStep struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	InstanceID     string       `json:"instance_id"`
	StepIndex      int          `json:"step_index"`
	Name           string       `json:"name"`
	DecisionMode   ApproverMode `json:"decision_mode"`
	QuorumCount    int          `json:"quorum_count,omitempty"`
	Status         Status       `json:"status"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	StepDeadline   *time.Time   `json:"step_deadline,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	Approvers      []Approver   `json:"approvers"`
	ApprovedCount  int          `json:"approved_count"`
	RejectedCount  int          `json:"rejected_count"`
	TotalApprovers int          `json:"total_approvers"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ApprovalDecision is the immutable audit record of one approver action.
type ApprovalDecision struct {
	ID                  string       `json:"id"`
	TenantID            string       `json:"tenant_id"`
	InstanceID          string       `json:"instance_id"`
	StepID              string       `json:"step_id"`
	ApproverID          string       `json:"approver_id"`
	ApproverType        ApproverType `json:"approver_type"`
	Decision            DecisionKind `json:"decision"`
	Comments            string       `json:"comments,omitempty"`
	DelegatedTo         *string      `json:"delegated_to,omitempty"`
	DelegationReason    *string      `json:"delegation_reason,omitempty"`
	ResponseTimeMinutes int          `json:"response_time_minutes"`
	IPAddress           string       `json:"ip_address,omitempty"`
	UserAgent           string       `json:"user_agent,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
}

// ActionType classifies one escalation sweep output.
type ActionType string

const (
	ActionReminder    ActionType = "reminder"
	ActionEscalation  ActionType = "escalation"
	ActionAutoApprove ActionType = "auto_approve"
	ActionExpire      ActionType = "expire"
)

// ActionPriority orders sweep actions for the notifier.
type ActionPriority int

const (
	PriorityLow ActionPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

// String returns the wire form of the priority.
func (p ActionPriority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	}
	return "low"
}

// EscalationAction is one sweep output, consumed by an external notifier.
// It is transient and never persisted by the engine.
type EscalationAction struct {
	Type        ActionType     `json:"type"`
	InstanceID  string         `json:"instance_id"`
	StepID      string         `json:"step_id,omitempty"`
	Priority    ActionPriority `json:"priority"`
	DueAt       time.Time      `json:"due_at"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
