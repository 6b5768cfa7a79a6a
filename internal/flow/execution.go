package flow

import "time"

// ExecutionPhase is the lifecycle state of a workflow execution.
type ExecutionPhase string

const (
	PhaseIdle      ExecutionPhase = "idle"
	PhaseRunning   ExecutionPhase = "running"
	PhaseCompleted ExecutionPhase = "completed"
	PhaseFailed    ExecutionPhase = "failed"
	PhaseCancelled ExecutionPhase = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (p ExecutionPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// FlowMembership places a node in one of the islands of an execution so the
// editor can group nodes by flow.
type FlowMembership struct {
	FlowID    string `json:"flowId"`
	FlowName  string `json:"flowName"`
	FlowIndex int    `json:"flowIndex"`
}

// FlowState is the backend-reported status of one flow.
type FlowState struct {
	Status      string `json:"status"`
	FlowName    string `json:"flowName"`
	Error       string `json:"error,omitempty"`
	EntryNodeID string `json:"entryNodeId,omitempty"`
}

// ExecutionRecord is the persisted history entry of one execution.
type ExecutionRecord struct {
	ID           string                `json:"id"`
	WorkflowID   string                `json:"workflow_id"`
	TriggerType  string                `json:"trigger_type"` // "manual" | "cron"
	TriggerRef   string                `json:"trigger_ref,omitempty"`
	Status       ExecutionPhase        `json:"status"`
	Progress     int                   `json:"progress"`
	NodeStatuses map[string]NodeStatus `json:"node_statuses,omitempty"`
	FlowStatuses map[string]FlowState  `json:"flow_statuses,omitempty"`
	ResultURL    string                `json:"result_url,omitempty"`
	Error        *string               `json:"error,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

// Schedule runs a saved workflow on a cron expression.
type Schedule struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	CronExpr   string     `json:"cron_expr"`
	Timezone   string     `json:"timezone,omitempty"`
	Enabled    bool       `json:"enabled"`
	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
