// Package models defines the request and response payloads of the
// transaction API.
package models

import (
	"time"

	"github.com/sagaclaw/sagaclaw/pkg/coordinator"
)

// TransactionSubmitRequest describes a saga submission payload.
type TransactionSubmitRequest struct {
	TransactionID string            `json:"transaction_id,omitempty" validate:"omitempty,max=100"`
	TimeoutMS     int               `json:"timeout_ms,omitempty" validate:"omitempty,min=1"`
	Steps         []StepRequest     `json:"steps" validate:"required,min=1,dive"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// StepRequest defines one step of a submitted saga.
type StepRequest struct {
	StepID             string         `json:"step_id" validate:"required,min=1,max=100"`
	ServiceName        string         `json:"service_name" validate:"required,min=1"`
	Action             string         `json:"action" validate:"required,min=1"`
	CompensationAction string         `json:"compensation_action" validate:"required,min=1"`
	Payload            map[string]any `json:"payload,omitempty"`
	TimeoutMS          int            `json:"timeout_ms,omitempty" validate:"omitempty,min=1"`
	RetryCount         *int           `json:"retry_count,omitempty" validate:"omitempty,min=0"`
	DependsOn          []string       `json:"depends_on,omitempty"`
}

// ToSagaStep converts the API step into a coordinator step definition.
// An absent retry_count gets the coordinator default; an explicit 0
// disables retries.
func (s StepRequest) ToSagaStep() coordinator.SagaStep {
	retries := coordinator.DefaultStepRetries
	if s.RetryCount != nil {
		retries = *s.RetryCount
	}
	return coordinator.SagaStep{
		StepID:             s.StepID,
		ServiceName:        s.ServiceName,
		Action:             s.Action,
		CompensationAction: s.CompensationAction,
		Payload:            s.Payload,
		Timeout:            time.Duration(s.TimeoutMS) * time.Millisecond,
		RetryCount:         retries,
		DependsOn:          s.DependsOn,
	}
}

// TransactionSubmitResponse is returned when a saga is accepted.
type TransactionSubmitResponse struct {
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// StepStatusView reports the runtime state of one step.
type StepStatusView struct {
	StepID     string     `json:"step_id"`
	Status     string     `json:"status"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`
}

// TransactionStatusResponse returns the full state of one transaction.
type TransactionStatusResponse struct {
	TransactionID  string           `json:"transaction_id"`
	Status         string           `json:"status"`
	Steps          []StepStatusView `json:"steps"`
	CompletedSteps []string         `json:"completed_steps"`
	FailedSteps    []string         `json:"failed_steps"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	TimeoutAt      time.Time        `json:"timeout_at"`
}

// TransactionSummary is one row of the list response.
type TransactionSummary struct {
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TransactionListResponse is a paginated list of transactions.
type TransactionListResponse struct {
	Items  []TransactionSummary `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// CancelResponse reports the outcome of a cancellation request.
type CancelResponse struct {
	TransactionID string `json:"transaction_id"`
	Cancelled     bool   `json:"cancelled"`
}
