package coordinator

import (
	"context"
	"time"
)

func (c *Coordinator) timeoutLoop(ctx context.Context) {
	ticker := time.NewTicker(c.timeoutCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.expireOnce(ctx); err != nil {
				c.log.Error("timeout scan failed", "error", err)
			}
		}
	}
}

// expireOnce fails every Pending or Running transaction whose deadline
// has passed and starts its compensation. Transactions owned by this
// coordinator are failed in place so the scheduling loop hands them to
// the sweep; orphaned records are adopted first.
func (c *Coordinator) expireOnce(ctx context.Context) error {
	now := time.Now().UTC()
	recs, _, err := c.store.List(ctx, TransactionFilter{
		Statuses:      []Status{StatusPending, StatusRunning},
		ExpiredBefore: &now,
		Limit:         c.scanBatchSize,
	})
	if err != nil {
		return err
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if state, owned := c.trackedState(rec.TransactionID); owned {
			if !state.requestTimeout() {
				continue
			}
			c.metrics.RecordTimeout()
			c.log.Warn("transaction timed out",
				"transaction_id", rec.TransactionID,
				"deadline", rec.TimeoutAt.Format(time.RFC3339))
			c.checkpointOrWarn(ctx, state)
			continue
		}

		state, err := c.restoreState(rec)
		if err != nil {
			c.log.Error("unrecoverable expired record",
				"transaction_id", rec.TransactionID, "error", err)
			continue
		}
		if !state.requestTimeout() {
			continue
		}
		if !c.track(state) {
			continue
		}
		c.metrics.RecordTimeout()
		c.log.Warn("adopting timed-out transaction",
			"transaction_id", rec.TransactionID,
			"deadline", rec.TimeoutAt.Format(time.RFC3339))
		c.checkpointOrWarn(ctx, state)

		c.wg.Add(1)
		go func(state *executionState) {
			defer c.wg.Done()
			defer c.untrack(state.transactionID())
			c.compensate(ctx, state)
		}(state)
	}
	return nil
}
