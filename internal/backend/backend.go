// Package backend talks to the external execution service that performs the
// actual node computation. The engine only submits workflows, polls their
// status and requests cancellation.
package backend

import (
	"context"
	"errors"

	"github.com/soochol/nodeflow/internal/flow"
)

// ErrUnknownExecution is returned by the simulator for ids it never issued.
var ErrUnknownExecution = errors.New("unknown execution")

// Backend is the execution service contract.
type Backend interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
	Status(ctx context.Context, executionID string) (*StatusResponse, error)
	Cancel(ctx context.Context, executionID string) error
}

// Status values reported by the backend for a whole execution.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Terminal reports whether an execution status ends polling.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

type SubmitRequest struct {
	WorkflowID   string         `json:"workflowId"`
	WorkflowData *flow.Document `json:"workflowData"`
}

type SubmitResponse struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"executionId"`
	Error       string `json:"error,omitempty"`
}

type StatusRequest struct {
	ExecutionID string `json:"executionId"`
}

type NodeStatus struct {
	NodeID    string          `json:"nodeId"`
	Status    flow.NodeStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	ResultURL string          `json:"resultUrl,omitempty"`
}

type FlowStatus struct {
	FlowID      string `json:"flowId"`
	FlowName    string `json:"flowName"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	EntryNodeID string `json:"entryNodeId"`
}

type StatusResponse struct {
	Success      bool           `json:"success"`
	Status       string         `json:"status"`
	Progress     int            `json:"progress"`
	NodeStatuses []NodeStatus   `json:"nodeStatuses"`
	FlowStatuses []FlowStatus   `json:"flowStatuses"`
	ResultURL    string         `json:"resultUrl,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type CancelRequest struct {
	ExecutionID string `json:"executionId"`
}

type CancelResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
