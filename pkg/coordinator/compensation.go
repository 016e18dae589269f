package coordinator

import (
	"context"
	"maps"
)

// compensate walks the Completed steps in reverse completion order and
// invokes each one's compensation action. Compensation is best effort: a
// failing compensation is recorded in the execution log and the sweep
// moves on. The transaction always ends Compensated.
func (c *Coordinator) compensate(ctx context.Context, state *executionState) {
	txID := state.transactionID()

	switch state.status() {
	case StatusRunning, StatusFailed:
		if err := state.setStatus(StatusCompensating); err != nil {
			c.log.Error("transaction could not enter Compensating", "transaction_id", txID, "error", err)
			return
		}
	case StatusCompensating:
		// Cancellation or recovery already moved it.
	default:
		c.log.Warn("compensation skipped for transaction in unexpected status",
			"transaction_id", txID, "status", state.status().String())
		return
	}
	c.checkpointOrWarn(ctx, state)

	order := state.completedOrder()
	c.log.Info("compensating saga", "transaction_id", txID, "completed_steps", len(order))

	for i := len(order) - 1; i >= 0; i-- {
		stepID := order[i]
		// Only Completed steps are ever compensated; a step already
		// swept by an earlier interrupted pass is skipped.
		if state.stepStatus(stepID) != StepStatusCompleted {
			continue
		}
		step, ok := state.byID[stepID]
		if !ok {
			continue
		}

		state.markStepCompensating(stepID)
		c.checkpointOrWarn(ctx, state)

		err := c.compensateStep(ctx, state, step)
		state.markStepCompensated(stepID, err)
		if err != nil {
			c.metrics.RecordCompensation(StepStatusFailed.String())
			c.log.Error("compensation action failed",
				"transaction_id", txID, "step_id", stepID,
				"service", step.ServiceName, "action", step.CompensationAction, "error", err)
		} else {
			c.metrics.RecordCompensation(StepStatusCompensated.String())
			c.log.Info("step compensated",
				"transaction_id", txID, "step_id", stepID,
				"service", step.ServiceName, "action", step.CompensationAction)
		}
		c.checkpointOrWarn(ctx, state)
	}

	if err := state.setStatus(StatusCompensated); err != nil {
		c.log.Error("transaction could not enter Compensated", "transaction_id", txID, "error", err)
		return
	}
	c.checkpointOrWarn(ctx, state)
	c.metrics.RecordTransaction(StatusCompensated.String())
	c.log.Info("saga compensated", "transaction_id", txID)
}

// compensateStep invokes one compensation action with the step's payload
// plus the forward action's result under "original_result".
func (c *Coordinator) compensateStep(ctx context.Context, state *executionState, step SagaStep) error {
	payload := make(map[string]any, len(step.Payload)+1)
	maps.Copy(payload, step.Payload)
	if result := state.stepResult(step.StepID); result != nil {
		payload["original_result"] = result
	}

	client, ok := c.serviceClient(step.ServiceName)
	if !ok {
		return &ServiceUnavailableError{Service: step.ServiceName}
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := client.Call(callCtx, step.CompensationAction, payload)
	return err
}

// ServiceUnavailableError reports a service with no registered client.
type ServiceUnavailableError struct {
	Service string
}

func (e *ServiceUnavailableError) Error() string {
	return "no client registered for service " + e.Service
}
