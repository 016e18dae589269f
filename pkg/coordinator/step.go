// Package coordinator implements a saga-based distributed transaction
// coordinator: dependency-graph step scheduling, durable checkpointing,
// reverse-order compensation, crash recovery and timeout enforcement.
package coordinator

import (
	"context"
	"time"
)

const (
	// DefaultStepTimeout bounds a single service call when the step does
	// not declare its own timeout.
	DefaultStepTimeout = 30 * time.Second

	// DefaultStepRetries is the retry budget for a step whose definition
	// does not declare one.
	DefaultStepRetries = 3

	// DefaultSagaTimeout is the transaction-level deadline applied when
	// the caller does not declare one.
	DefaultSagaTimeout = 300 * time.Second
)

// SagaStep defines one executable unit of a saga. Definitions are
// immutable once the transaction starts.
type SagaStep struct {
	StepID             string         `json:"step_id"`
	ServiceName        string         `json:"service_name"`
	Action             string         `json:"action"`
	CompensationAction string         `json:"compensation_action"`
	Payload            map[string]any `json:"payload"`
	Timeout            time.Duration  `json:"timeout"`
	RetryCount         int            `json:"retry_count"`
	DependsOn          []string       `json:"depends_on"`
}

// normalize applies definition defaults without mutating the caller's copy.
func (s SagaStep) normalize() SagaStep {
	if s.Timeout <= 0 {
		s.Timeout = DefaultStepTimeout
	}
	if s.RetryCount < 0 {
		s.RetryCount = 0
	}
	if s.Payload == nil {
		s.Payload = map[string]any{}
	}
	return s
}

// normalizeSteps copies and normalizes a step list.
func normalizeSteps(steps []SagaStep) []SagaStep {
	normalized := make([]SagaStep, 0, len(steps))
	for _, step := range steps {
		normalized = append(normalized, step.normalize())
	}
	return normalized
}

// stepIndex builds a lookup map keyed by step id.
func stepIndex(steps []SagaStep) map[string]SagaStep {
	index := make(map[string]SagaStep, len(steps))
	for _, step := range steps {
		index[step.StepID] = step
	}
	return index
}

// ServiceClient invokes named actions against one business service. The
// same entry point serves forward actions and compensation actions.
// Implementations must be safe for concurrent use; actions and
// compensations are expected to be idempotent so that crash recovery can
// re-drive a saga without duplicating side effects.
type ServiceClient interface {
	Call(ctx context.Context, action string, payload map[string]any) (map[string]any, error)
}

// ServiceClientFunc adapts a function to the ServiceClient interface.
type ServiceClientFunc func(ctx context.Context, action string, payload map[string]any) (map[string]any, error)

// Call invokes the wrapped function.
func (f ServiceClientFunc) Call(ctx context.Context, action string, payload map[string]any) (map[string]any, error) {
	return f(ctx, action, payload)
}
