package coordinator

import (
	"context"
	"time"
)

func (c *Coordinator) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(c.recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.recoverOnce(ctx); err != nil {
				c.log.Error("recovery scan failed", "error", err)
			}
		}
	}
}

// recoverOnce scans the store for Running and Compensating transactions
// with no in-memory state here, rebuilds their state from the durable
// record, and resumes them. Completed forward steps are not re-executed;
// the rebuilt execution log already carries their results.
func (c *Coordinator) recoverOnce(ctx context.Context) error {
	recs, _, err := c.store.List(ctx, TransactionFilter{
		Statuses: []Status{StatusRunning, StatusCompensating},
		Limit:    c.scanBatchSize,
	})
	if err != nil {
		return err
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, owned := c.trackedState(rec.TransactionID); owned {
			continue
		}

		state, err := c.restoreState(rec)
		if err != nil {
			c.metrics.RecordRecovery("failed")
			c.log.Error("unrecoverable transaction record",
				"transaction_id", rec.TransactionID, "error", err)
			continue
		}
		if !c.track(state) {
			continue
		}

		c.metrics.RecordRecovery(rec.Status.String())
		c.log.Info("recovering transaction",
			"transaction_id", rec.TransactionID, "status", rec.Status.String())

		c.wg.Add(1)
		switch rec.Status {
		case StatusCompensating:
			go func(state *executionState) {
				defer c.wg.Done()
				defer c.untrack(state.transactionID())
				c.compensate(ctx, state)
			}(state)
		default:
			go func(state *executionState) {
				defer c.wg.Done()
				c.runSaga(ctx, state)
			}(state)
		}
	}
	return nil
}

// restoreState rebuilds in-memory execution state from a durable record.
// The record's status is authoritative over the checkpointed log's.
func (c *Coordinator) restoreState(rec *TransactionRecord) (*executionState, error) {
	steps, err := rec.DecodeDefinition()
	if err != nil {
		return nil, err
	}
	execLog, err := rec.DecodeExecutionLog()
	if err != nil {
		return nil, err
	}
	execLog.TransactionID = rec.TransactionID
	execLog.Status = rec.Status
	return restoreExecutionState(steps, execLog, rec.CreatedAt, rec.TimeoutAt), nil
}
