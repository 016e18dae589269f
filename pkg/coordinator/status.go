package coordinator

import (
	"encoding/json"
	"fmt"
)

// Status defines the lifecycle of a saga transaction.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCompensating
	StatusCompensated
)

var transactionTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusRunning: {},
		StatusFailed:  {},
	},
	StatusRunning: {
		StatusCompleted:    {},
		StatusFailed:       {},
		StatusCompensating: {},
	},
	StatusFailed: {
		StatusCompensating: {},
	},
	StatusCompensating: {
		StatusCompensated: {},
	},
}

// String returns the string form of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCompensating:
		return "compensating"
	case StatusCompensated:
		return "compensated"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status is terminal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether a status transition is valid.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	validNext, ok := transactionTransitions[s]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

// ParseStatus parses a stored status string. Unknown values are rejected.
func ParseStatus(raw string) (Status, error) {
	switch raw {
	case "pending":
		return StatusPending, nil
	case "running":
		return StatusRunning, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "compensating":
		return StatusCompensating, nil
	case "compensated":
		return StatusCompensated, nil
	default:
		return StatusPending, fmt.Errorf("unknown transaction status: %q", raw)
	}
}

// MarshalJSON serializes the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	if s < StatusPending || s > StatusCompensated {
		return nil, fmt.Errorf("invalid transaction status: %d", s)
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON deserializes and validates a status string.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StepStatus defines the lifecycle of a single step execution.
type StepStatus int

const (
	StepStatusPending StepStatus = iota
	StepStatusRunning
	StepStatusCompleted
	StepStatusFailed
	StepStatusCompensating
	StepStatusCompensated
)

var stepTransitions = map[StepStatus]map[StepStatus]struct{}{
	StepStatusPending: {
		StepStatusRunning: {},
	},
	StepStatusRunning: {
		StepStatusCompleted: {},
		StepStatusFailed:    {},
	},
	StepStatusCompleted: {
		StepStatusCompensating: {},
	},
	StepStatusCompensating: {
		StepStatusCompensated: {},
	},
}

// String returns the string form of the step status.
func (s StepStatus) String() string {
	switch s {
	case StepStatusPending:
		return "pending"
	case StepStatusRunning:
		return "running"
	case StepStatusCompleted:
		return "completed"
	case StepStatusFailed:
		return "failed"
	case StepStatusCompensating:
		return "compensating"
	case StepStatusCompensated:
		return "compensated"
	default:
		return "unknown"
	}
}

// CanTransitionTo checks whether a step status transition is valid.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	if s == next {
		return true
	}
	validNext, ok := stepTransitions[s]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

// ParseStepStatus parses a stored step status string. Unknown values are rejected.
func ParseStepStatus(raw string) (StepStatus, error) {
	switch raw {
	case "pending":
		return StepStatusPending, nil
	case "running":
		return StepStatusRunning, nil
	case "completed":
		return StepStatusCompleted, nil
	case "failed":
		return StepStatusFailed, nil
	case "compensating":
		return StepStatusCompensating, nil
	case "compensated":
		return StepStatusCompensated, nil
	default:
		return StepStatusPending, fmt.Errorf("unknown step status: %q", raw)
	}
}

// MarshalJSON serializes the step status as its string form.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	if s < StepStatusPending || s > StepStatusCompensated {
		return nil, fmt.Errorf("invalid step status: %d", s)
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON deserializes and validates a step status string.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStepStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
