package coordinator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// StepExecution is the mutable runtime record for one step of one saga
// instance. It is created Pending when the saga starts and mutated only
// by the execution and compensation engines.
type StepExecution struct {
	StepID     string         `json:"step_id"`
	Status     StepStatus     `json:"status"`
	StartTime  *time.Time     `json:"start_time,omitempty"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retry_count"`
}

func (e *StepExecution) clone() *StepExecution {
	if e == nil {
		return nil
	}
	copied := &StepExecution{
		StepID:     e.StepID,
		Status:     e.Status,
		Error:      e.Error,
		RetryCount: e.RetryCount,
	}
	if e.StartTime != nil {
		started := *e.StartTime
		copied.StartTime = &started
	}
	if e.EndTime != nil {
		finished := *e.EndTime
		copied.EndTime = &finished
	}
	if e.Result != nil {
		copied.Result = make(map[string]any, len(e.Result))
		for k, v := range e.Result {
			copied.Result[k] = v
		}
	}
	return copied
}

// ExecutionLog is the serialized execution state of one transaction. It
// is checkpointed into the durable record after every transition and is
// the sole diagnostic surface for callers.
type ExecutionLog struct {
	TransactionID  string                    `json:"transaction_id"`
	Status         Status                    `json:"status"`
	Steps          map[string]*StepExecution `json:"steps"`
	CompletedSteps []string                  `json:"completed_steps"`
	FailedSteps    []string                  `json:"failed_steps"`
}

func (l *ExecutionLog) clone() *ExecutionLog {
	if l == nil {
		return nil
	}
	copied := &ExecutionLog{
		TransactionID:  l.TransactionID,
		Status:         l.Status,
		Steps:          make(map[string]*StepExecution, len(l.Steps)),
		CompletedSteps: append([]string(nil), l.CompletedSteps...),
		FailedSteps:    append([]string(nil), l.FailedSteps...),
	}
	for id, exec := range l.Steps {
		copied.Steps[id] = exec.clone()
	}
	return copied
}

// SerializeExecutionLog serializes an execution log to JSON.
func SerializeExecutionLog(log *ExecutionLog) ([]byte, error) {
	data, err := json.Marshal(log)
	if err != nil {
		return nil, fmt.Errorf("serialize execution log: %w", err)
	}
	return data, nil
}

// DeserializeExecutionLog deserializes an execution log, rejecting
// unknown status values at the boundary.
func DeserializeExecutionLog(data []byte) (*ExecutionLog, error) {
	var log ExecutionLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("deserialize execution log: %w", err)
	}
	if log.Steps == nil {
		log.Steps = make(map[string]*StepExecution)
	}
	if log.CompletedSteps == nil {
		log.CompletedSteps = make([]string, 0)
	}
	if log.FailedSteps == nil {
		log.FailedSteps = make([]string, 0)
	}
	return &log, nil
}

// executionState is the in-memory mirror of one in-flight transaction.
// It is owned by exactly one coordinator instance at a time; concurrent
// step completions serialize through the mutex. The state is dropped
// from memory once the saga reaches a terminal status while the durable
// record persists.
type executionState struct {
	mu sync.Mutex

	log       *ExecutionLog
	steps     []SagaStep
	byID      map[string]SagaStep
	createdAt time.Time
	timeoutAt time.Time
	cancelled bool
}

func newExecutionState(transactionID string, steps []SagaStep, createdAt, timeoutAt time.Time) *executionState {
	log := &ExecutionLog{
		TransactionID:  transactionID,
		Status:         StatusPending,
		Steps:          make(map[string]*StepExecution, len(steps)),
		CompletedSteps: make([]string, 0, len(steps)),
		FailedSteps:    make([]string, 0),
	}
	for _, step := range steps {
		log.Steps[step.StepID] = &StepExecution{
			StepID: step.StepID,
			Status: StepStatusPending,
		}
	}
	return &executionState{
		log:       log,
		steps:     steps,
		byID:      stepIndex(steps),
		createdAt: createdAt,
		timeoutAt: timeoutAt,
	}
}

// restoreExecutionState rebuilds in-memory state from a durable record's
// deserialized definition and execution log.
func restoreExecutionState(steps []SagaStep, log *ExecutionLog, createdAt, timeoutAt time.Time) *executionState {
	for _, step := range steps {
		if _, ok := log.Steps[step.StepID]; !ok {
			log.Steps[step.StepID] = &StepExecution{
				StepID: step.StepID,
				Status: StepStatusPending,
			}
		}
	}
	// A step checkpointed mid-flight has no durable outcome: the process
	// died between invoking the action and recording its result. Rewind
	// it so the resumed loop re-invokes the call; service actions are
	// required to be idempotent, so the duplicate is safe.
	for _, exec := range log.Steps {
		switch exec.Status {
		case StepStatusRunning:
			exec.Status = StepStatusPending
			exec.StartTime = nil
		case StepStatusCompensating:
			exec.Status = StepStatusCompleted
		}
	}
	return &executionState{
		log:       log,
		steps:     steps,
		byID:      stepIndex(steps),
		createdAt: createdAt,
		timeoutAt: timeoutAt,
	}
}

func (s *executionState) transactionID() string {
	return s.log.TransactionID
}

func (s *executionState) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Status
}

func (s *executionState) setStatus(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.log.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid transaction status transition: %s -> %s", s.log.Status, next)
	}
	s.log.Status = next
	return nil
}

func (s *executionState) requestCancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log.Status != StatusRunning || s.cancelled {
		return false
	}
	s.cancelled = true
	s.log.Status = StatusCompensating
	return true
}

// requestTimeout force-fails a Pending or Running transaction. Failed is
// a transient marker; the compensation sweep moves it to Compensating.
func (s *executionState) requestTimeout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log.Status != StatusPending && s.log.Status != StatusRunning {
		return false
	}
	s.cancelled = true
	s.log.Status = StatusFailed
	return true
}

func (s *executionState) cancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// readySteps returns Pending steps whose every dependency is Completed.
func (s *executionState) readySteps() []SagaStep {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := make([]SagaStep, 0)
	for _, step := range s.steps {
		exec := s.log.Steps[step.StepID]
		if exec.Status != StepStatusPending {
			continue
		}
		satisfied := true
		for _, dep := range step.DependsOn {
			if s.log.Steps[dep].Status != StepStatusCompleted {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, step)
		}
	}
	return ready
}

// hasUnsettledSteps reports whether any step is still Pending or Running.
func (s *executionState) hasUnsettledSteps() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exec := range s.log.Steps {
		if exec.Status == StepStatusPending || exec.Status == StepStatusRunning {
			return true
		}
	}
	return false
}

func (s *executionState) allCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exec := range s.log.Steps {
		if exec.Status != StepStatusCompleted {
			return false
		}
	}
	return true
}

func (s *executionState) markStepRunning(stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec := s.log.Steps[stepID]
	now := time.Now().UTC()
	exec.Status = StepStatusRunning
	exec.StartTime = &now
}

func (s *executionState) markStepCompleted(stepID string, result map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec := s.log.Steps[stepID]
	now := time.Now().UTC()
	exec.Status = StepStatusCompleted
	exec.EndTime = &now
	exec.Result = result
	exec.Error = ""
	s.log.CompletedSteps = append(s.log.CompletedSteps, stepID)
}

func (s *executionState) markStepAttemptFailed(stepID string, attempt int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec := s.log.Steps[stepID]
	exec.RetryCount = attempt
	if err != nil {
		exec.Error = err.Error()
	}
}

func (s *executionState) markStepFailed(stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec := s.log.Steps[stepID]
	now := time.Now().UTC()
	exec.Status = StepStatusFailed
	exec.EndTime = &now
	s.log.FailedSteps = append(s.log.FailedSteps, stepID)
}

func (s *executionState) markStepCompensating(stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Steps[stepID].Status = StepStatusCompensating
}

func (s *executionState) markStepCompensated(stepID string, compErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec := s.log.Steps[stepID]
	exec.Status = StepStatusCompensated
	if compErr != nil {
		exec.Error = compErr.Error()
	}
}

// stepResult returns the stored forward result for one step.
func (s *executionState) stepResult(stepID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec := s.log.Steps[stepID]
	if exec == nil {
		return nil
	}
	return exec.clone().Result
}

// stepStatus returns the current status of one step.
func (s *executionState) stepStatus(stepID string) StepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Steps[stepID].Status
}

// completedOrder returns a copy of the ordered completed-step list.
func (s *executionState) completedOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log.CompletedSteps...)
}

// snapshot returns a deep copy of the execution log for checkpointing.
func (s *executionState) snapshot() *ExecutionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.clone()
}
