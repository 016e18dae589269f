package coordinator

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransactionRecord is the durable form of one saga transaction. The
// coordinator upserts it after every state transition and never deletes
// it; retention is an operational concern outside the coordinator.
type TransactionRecord struct {
	TransactionID string          `json:"transaction_id"`
	Status        Status          `json:"status"`
	Definition    json.RawMessage `json:"definition"`
	ExecutionLog  json.RawMessage `json:"execution_log,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	TimeoutAt     time.Time       `json:"timeout_at"`
}

func (r *TransactionRecord) clone() *TransactionRecord {
	if r == nil {
		return nil
	}
	copied := *r
	copied.Definition = append(json.RawMessage(nil), r.Definition...)
	copied.ExecutionLog = append(json.RawMessage(nil), r.ExecutionLog...)
	return &copied
}

// DecodeDefinition deserializes the stored step definitions.
func (r *TransactionRecord) DecodeDefinition() ([]SagaStep, error) {
	var steps []SagaStep
	if err := json.Unmarshal(r.Definition, &steps); err != nil {
		return nil, fmt.Errorf("decode definition for transaction %s: %w", r.TransactionID, err)
	}
	return normalizeSteps(steps), nil
}

// DecodeExecutionLog deserializes the stored execution log, or returns a
// fresh log when the record has never been checkpointed.
func (r *TransactionRecord) DecodeExecutionLog() (*ExecutionLog, error) {
	if len(r.ExecutionLog) == 0 {
		return &ExecutionLog{
			TransactionID:  r.TransactionID,
			Status:         r.Status,
			Steps:          make(map[string]*StepExecution),
			CompletedSteps: make([]string, 0),
			FailedSteps:    make([]string, 0),
		}, nil
	}
	log, err := DeserializeExecutionLog(r.ExecutionLog)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", r.TransactionID, err)
	}
	return log, nil
}

// encodeDefinition serializes step definitions for durable storage.
func encodeDefinition(steps []SagaStep) (json.RawMessage, error) {
	data, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}
	return data, nil
}

// TransactionView is the caller-facing status of one transaction,
// assembled from the durable record.
type TransactionView struct {
	TransactionID string        `json:"transaction_id"`
	Status        Status        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	TimeoutAt     time.Time     `json:"timeout_at"`
	ExecutionLog  *ExecutionLog `json:"execution_log,omitempty"`
}

func viewFromRecord(rec *TransactionRecord) (*TransactionView, error) {
	view := &TransactionView{
		TransactionID: rec.TransactionID,
		Status:        rec.Status,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		TimeoutAt:     rec.TimeoutAt,
	}
	if len(rec.ExecutionLog) > 0 {
		log, err := rec.DecodeExecutionLog()
		if err != nil {
			return nil, err
		}
		view.ExecutionLog = log
	}
	return view, nil
}
