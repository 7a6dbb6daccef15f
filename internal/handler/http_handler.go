package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pesio-ai/be-approvals/internal/engine"
	"github.com/pesio-ai/be-approvals/internal/errors"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/service"
)

// HTTPHandler handles HTTP requests for rules and approvals.
type HTTPHandler struct {
	approvals *service.ApprovalService
	rules     *service.RuleService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(approvals *service.ApprovalService, rules *service.RuleService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		rules:     rules,
		log:       log,
	}
}

// ── rules ────────────────────────────────────────────────────────────────────

// CreateRule handles create rule HTTP requests.
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rule engine.ApprovalRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.rules.CreateRule(r.Context(), &rule)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// GetRule handles get rule HTTP requests.
func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	tenantID := r.URL.Query().Get("tenant_id")
	if id == "" || tenantID == "" {
		http.Error(w, "Rule ID and Tenant ID are required", http.StatusBadRequest)
		return
	}

	rule, err := h.rules.GetRule(r.Context(), id, tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

// ListRules handles list rules HTTP requests.
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "Tenant ID is required", http.StatusBadRequest)
		return
	}

	module := engine.ModuleType(r.URL.Query().Get("module_type"))
	activeOnly := r.URL.Query().Get("active_only") == "true"

	rules, err := h.rules.ListRules(r.Context(), tenantID, module, activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "total": len(rules)})
}

// UpdateRule handles update rule HTTP requests.
func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rule engine.ApprovalRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if rule.ID == "" {
		http.Error(w, "Rule ID is required", http.StatusBadRequest)
		return
	}

	updated, err := h.rules.UpdateRule(r.Context(), &rule)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// DeactivateRule handles rule deactivation HTTP requests.
func (h *HTTPHandler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	tenantID := r.URL.Query().Get("tenant_id")
	if id == "" || tenantID == "" {
		http.Error(w, "Rule ID and Tenant ID are required", http.StatusBadRequest)
		return
	}

	if err := h.rules.DeactivateRule(r.Context(), id, tenantID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"deactivated": true})
}

// ── approvals ────────────────────────────────────────────────────────────────

type submitRequest struct {
	TenantID    string            `json:"tenant_id"`
	ModuleType  engine.ModuleType `json:"module_type"`
	EntityID    string            `json:"entity_id"`
	RequesterID string            `json:"requester_id"`
	Urgency     int               `json:"urgency"`
	RuleID      string            `json:"rule_id,omitempty"`
	EntityData  engine.EntityData `json:"entity_data"`
}

// SubmitApproval handles approval submission HTTP requests.
func (h *HTTPHandler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.approvals.Submit(r.Context(), service.SubmitInput{
		TenantID:    req.TenantID,
		ModuleType:  req.ModuleType,
		EntityID:    req.EntityID,
		RequesterID: req.RequesterID,
		Urgency:     req.Urgency,
		RuleID:      req.RuleID,
		EntityData:  req.EntityData,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Status == service.SubmissionPending {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, result)
}

type decideRequest struct {
	TenantID         string              `json:"tenant_id"`
	InstanceID       string              `json:"instance_id"`
	ApproverID       string              `json:"approver_id"`
	ApproverType     engine.ApproverType `json:"approver_type,omitempty"`
	Decision         engine.DecisionKind `json:"decision"`
	Comments         string              `json:"comments,omitempty"`
	DelegatedTo      string              `json:"delegated_to,omitempty"`
	DelegationReason string              `json:"delegation_reason,omitempty"`
}

// DecideApproval handles approver decision HTTP requests.
func (h *HTTPHandler) DecideApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.InstanceID == "" || req.TenantID == "" || req.ApproverID == "" {
		http.Error(w, "Instance ID, Tenant ID and Approver ID are required", http.StatusBadRequest)
		return
	}
	if req.ApproverType == "" {
		req.ApproverType = engine.ApproverUser
	}

	result, err := h.approvals.Decide(r.Context(), service.DecideInput{
		TenantID:         req.TenantID,
		InstanceID:       req.InstanceID,
		ApproverID:       req.ApproverID,
		ApproverType:     req.ApproverType,
		Decision:         req.Decision,
		Comments:         req.Comments,
		DelegatedTo:      req.DelegatedTo,
		DelegationReason: req.DelegationReason,
		IPAddress:        clientIP(r),
		UserAgent:        r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type cancelRequest struct {
	TenantID    string `json:"tenant_id"`
	InstanceID  string `json:"instance_id"`
	RequesterID string `json:"requester_id"`
	Reason      string `json:"reason,omitempty"`
}

// CancelApproval handles cancellation HTTP requests.
func (h *HTTPHandler) CancelApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.InstanceID == "" || req.TenantID == "" || req.RequesterID == "" {
		http.Error(w, "Instance ID, Tenant ID and Requester ID are required", http.StatusBadRequest)
		return
	}

	inst, err := h.approvals.Cancel(r.Context(), req.InstanceID, req.TenantID, req.RequesterID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inst)
}

// GetApproval handles get instance HTTP requests.
func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	tenantID := r.URL.Query().Get("tenant_id")
	if id == "" || tenantID == "" {
		http.Error(w, "Instance ID and Tenant ID are required", http.StatusBadRequest)
		return
	}

	detail, err := h.approvals.GetInstance(r.Context(), id, tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

// ListPendingApprovals handles pending-inbox HTTP requests.
func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	userID := r.URL.Query().Get("user_id")
	if tenantID == "" || userID == "" {
		http.Error(w, "Tenant ID and User ID are required", http.StatusBadRequest)
		return
	}

	instances, err := h.approvals.GetPendingForUser(r.Context(), tenantID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"instances": instances, "total": len(instances)})
}

// GetDecisionTrail handles decision-history HTTP requests.
func (h *HTTPHandler) GetDecisionTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	instanceID := r.URL.Query().Get("instance_id")
	tenantID := r.URL.Query().Get("tenant_id")
	if instanceID == "" || tenantID == "" {
		http.Error(w, "Instance ID and Tenant ID are required", http.StatusBadRequest)
		return
	}

	decisions, err := h.approvals.GetDecisionTrail(r.Context(), instanceID, tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions, "total": len(decisions)})
}

// ── helpers ──────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  []errors.FieldError `json:"fields,omitempty"`
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response body")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	body := errorBody{Code: string(errors.CodeOf(err)), Message: err.Error()}

	var appErr *errors.Error
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
		body.Fields = appErr.Fields
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	h.writeJSON(w, status, errorResponse{Error: body})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
