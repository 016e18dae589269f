package coordinator

import (
	"context"
	"fmt"
	"time"
)

// runSaga drives a transaction from its current state to a terminal one.
// Each pass collects the ready set (Pending steps whose dependencies are
// all Completed), fans the batch out under the step semaphore, and waits
// for results. The pass ends early on the first Failed step; siblings
// still in flight are left to finish on their own but the saga moves to
// compensation without them.
func (c *Coordinator) runSaga(ctx context.Context, state *executionState) {
	txID := state.transactionID()
	defer c.untrack(txID)

	c.metrics.IncActiveTransactions()
	defer c.metrics.DecActiveTransactions()
	started := time.Now()

	if state.status() == StatusPending {
		if err := state.setStatus(StatusRunning); err != nil {
			c.log.Error("transaction could not enter Running", "transaction_id", txID, "error", err)
			return
		}
	}
	if err := c.checkpoint(ctx, state); err != nil {
		// Leave the durable record as-is; the recovery scan resumes it.
		c.log.Error("checkpoint failed, suspending transaction", "transaction_id", txID, "error", err)
		return
	}
	c.log.Info("saga running", "transaction_id", txID)

	needCompensation := false

loop:
	for {
		if ctx.Err() != nil {
			c.log.Warn("saga suspended by shutdown", "transaction_id", txID)
			return
		}
		if state.cancelRequested() {
			needCompensation = true
			break
		}

		ready := state.readySteps()
		if len(ready) == 0 {
			if !state.hasUnsettledSteps() {
				break
			}
			// Steps are still running or blocked; poll again shortly.
			select {
			case <-ctx.Done():
				c.log.Warn("saga suspended by shutdown", "transaction_id", txID)
				return
			case <-time.After(c.pollInterval):
			}
			continue
		}

		results := make(chan string, len(ready))
		for _, step := range ready {
			state.markStepRunning(step.StepID)
		}
		if err := c.checkpoint(ctx, state); err != nil {
			c.log.Error("checkpoint failed, suspending transaction", "transaction_id", txID, "error", err)
			return
		}
		for _, step := range ready {
			step := step
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer func() { results <- step.StepID }()
				select {
				case c.stepSema <- struct{}{}:
					defer func() { <-c.stepSema }()
				case <-ctx.Done():
					return
				}
				c.executeStep(ctx, state, step)
			}()
		}

		for remaining := len(ready); remaining > 0; remaining-- {
			select {
			case <-ctx.Done():
				c.log.Warn("saga suspended by shutdown", "transaction_id", txID)
				return
			case stepID := <-results:
				if state.stepStatus(stepID) == StepStatusFailed {
					needCompensation = true
					break loop
				}
			}
		}
	}

	if !needCompensation && state.allCompleted() {
		// A concurrent timeout can force Failed between the last step
		// and this transition; fall through to compensation then.
		if err := state.setStatus(StatusCompleted); err == nil {
			if err := c.checkpoint(ctx, state); err != nil {
				c.log.Error("checkpoint failed for completed transaction", "transaction_id", txID, "error", err)
				return
			}
			c.metrics.RecordTransaction(StatusCompleted.String())
			c.metrics.RecordTransactionDuration(StatusCompleted.String(), time.Since(started))
			c.log.Info("saga completed", "transaction_id", txID, "duration", time.Since(started).String())
			return
		}
	}

	c.compensate(ctx, state)
	c.metrics.RecordTransactionDuration(StatusCompensated.String(), time.Since(started))
}

// executeStep runs one step's forward action with its per-attempt timeout
// and exponential backoff between retries. The step ends Completed or
// Failed; every transition is checkpointed.
func (c *Coordinator) executeStep(ctx context.Context, state *executionState, step SagaStep) {
	txID := state.transactionID()

	client, ok := c.serviceClient(step.ServiceName)
	if !ok {
		// Possible after recovery on a node missing a registration.
		state.markStepAttemptFailed(step.StepID, 1, fmt.Errorf("no client registered for service %q", step.ServiceName))
		state.markStepFailed(step.StepID)
		c.metrics.RecordStep(StepStatusFailed.String())
		c.log.Error("step failed: service client missing",
			"transaction_id", txID, "step_id", step.StepID, "service", step.ServiceName)
		c.checkpointOrWarn(ctx, state)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= step.RetryCount; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, step.Timeout)
		result, err := client.Call(callCtx, step.Action, step.Payload)
		cancel()
		if err == nil {
			state.markStepCompleted(step.StepID, result)
			c.metrics.RecordStep(StepStatusCompleted.String())
			c.log.Info("step completed",
				"transaction_id", txID, "step_id", step.StepID,
				"service", step.ServiceName, "action", step.Action, "attempt", attempt+1)
			c.checkpointOrWarn(ctx, state)
			return
		}

		lastErr = err
		state.markStepAttemptFailed(step.StepID, attempt+1, err)
		if attempt == step.RetryCount {
			break
		}
		c.metrics.RecordStepRetry()
		c.log.Warn("step attempt failed, retrying",
			"transaction_id", txID, "step_id", step.StepID,
			"attempt", attempt+1, "max_attempts", step.RetryCount+1, "error", err)
		if !sleepBackoff(ctx, attempt, c.retryBackoffBase) {
			break
		}
	}

	state.markStepFailed(step.StepID)
	c.metrics.RecordStep(StepStatusFailed.String())
	c.log.Error("step failed",
		"transaction_id", txID, "step_id", step.StepID,
		"service", step.ServiceName, "action", step.Action, "error", lastErr)
	c.checkpointOrWarn(ctx, state)
}

func (c *Coordinator) checkpointOrWarn(ctx context.Context, state *executionState) {
	if err := c.checkpoint(ctx, state); err != nil {
		c.log.Error("checkpoint failed", "transaction_id", state.transactionID(), "error", err)
	}
}

// sleepBackoff waits base*2^attempt, returning false if the context ends
// first.
func sleepBackoff(ctx context.Context, attempt int, base time.Duration) bool {
	delay := base << uint(attempt)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
