package coordinator

import (
	"context"
	"testing"
	"time"
)

func TestTimeoutCompensatesOwnedTransaction(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	svc := newFakeService()
	release := svc.blockAction("slow_charge")
	c.RegisterServiceClient("billing", svc)

	steps := []SagaStep{
		{StepID: "charge", ServiceName: "billing", Action: "slow_charge", CompensationAction: "refund"},
	}
	txID, err := c.StartSaga(context.Background(), steps, WithSagaTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("StartSaga() error = %v", err)
	}

	// Hold the step well past the transaction deadline, then let it
	// finish. The expired saga must be swept, not completed.
	time.Sleep(60 * time.Millisecond)
	close(release)

	view := waitForStatus(t, c, txID, StatusCompensated)
	if got := svc.callCount("refund"); got != 1 {
		t.Fatalf("refund called %d times, want 1", got)
	}
	if view.ExecutionLog.Steps["charge"].Status != StepStatusCompensated {
		t.Fatalf("charge status = %s, want compensated", view.ExecutionLog.Steps["charge"].Status)
	}
}

func TestTimeoutAdoptsOrphanedExpiredTransaction(t *testing.T) {
	store := NewMemoryTransactionStore()
	steps := []SagaStep{
		{StepID: "a", ServiceName: "svc", Action: "do_a", CompensationAction: "undo_a"},
		{StepID: "b", ServiceName: "svc", Action: "do_b", CompensationAction: "undo_b", DependsOn: []string{"a"}},
	}
	started := time.Now().UTC().Add(-time.Minute)
	execLog := &ExecutionLog{
		TransactionID: "tx-expired",
		Status:        StatusRunning,
		Steps: map[string]*StepExecution{
			"a": {
				StepID:    "a",
				Status:    StepStatusCompleted,
				StartTime: &started,
				EndTime:   &started,
				Result:    map[string]any{"ack": "do_a"},
			},
			"b": {StepID: "b", Status: StepStatusPending},
		},
		CompletedSteps: []string{"a"},
		FailedSteps:    []string{},
	}
	// Deadline already in the past; the timeout monitor should win the
	// race against the recovery scan or fail the saga mid-resume.
	seedRecord(t, store, StatusRunning, steps, execLog, time.Now().UTC().Add(-time.Second))

	c := newTestCoordinator(t, store, WithRecoveryInterval(time.Hour))
	svc := newFakeService()
	c.RegisterServiceClient("svc", svc)

	view := waitForStatus(t, c, "tx-expired", StatusCompensated)
	if got := svc.callCount("undo_a"); got != 1 {
		t.Fatalf("undo_a called %d times, want 1", got)
	}
	if got := svc.callCount("do_b"); got != 0 {
		t.Fatalf("do_b executed %d times on an expired transaction", got)
	}
	if view.ExecutionLog.Steps["b"].Status != StepStatusPending {
		t.Fatalf("step b status = %s, want pending", view.ExecutionLog.Steps["b"].Status)
	}
}

func TestTimeoutIgnoresTransactionsWithinDeadline(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	svc := newFakeService()
	c.RegisterServiceClient("svc", svc)

	txID, err := c.StartSaga(context.Background(), []SagaStep{
		{StepID: "a", ServiceName: "svc", Action: "do_a", CompensationAction: "undo_a"},
	}, WithSagaTimeout(time.Hour))
	if err != nil {
		t.Fatalf("StartSaga() error = %v", err)
	}

	waitForStatus(t, c, txID, StatusCompleted)
	if got := svc.callCount("undo_a"); got != 0 {
		t.Fatalf("undo_a called %d times on a healthy transaction", got)
	}
}
