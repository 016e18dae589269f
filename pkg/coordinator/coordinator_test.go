package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeService records every action invocation and can be told to fail
// specific actions a fixed number of times or forever.
type fakeService struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]int // action -> remaining failures; -1 fails forever
	block    map[string]chan struct{}
}

func newFakeService() *fakeService {
	return &fakeService{
		failures: make(map[string]int),
		block:    make(map[string]chan struct{}),
	}
}

func (f *fakeService) failAction(action string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[action] = times
}

func (f *fakeService) blockAction(action string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	release := make(chan struct{})
	f.block[action] = release
	return release
}

func (f *fakeService) Call(ctx context.Context, action string, payload map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, action)
	remaining, failing := f.failures[action]
	if failing && remaining > 0 {
		f.failures[action] = remaining - 1
	}
	release := f.block[action]
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failing && remaining != 0 {
		return nil, fmt.Errorf("%s rejected", action)
	}
	return map[string]any{"ack": action}, nil
}

func (f *fakeService) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeService) callCount(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if call == action {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T, store TransactionStore, opts ...Option) *Coordinator {
	t.Helper()
	base := []Option{
		WithPollInterval(5 * time.Millisecond),
		WithRetryBackoffBase(time.Millisecond),
		WithRecoveryInterval(10 * time.Millisecond),
		WithTimeoutCheckInterval(10 * time.Millisecond),
	}
	c := New(store, append(base, opts...)...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func waitForStatus(t *testing.T, c *Coordinator, txID string, want Status) *TransactionView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, err := c.GetTransactionStatus(context.Background(), txID)
		if err != nil {
			t.Fatalf("GetTransactionStatus() error = %v", err)
		}
		if view.Status == want {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	view, _ := c.GetTransactionStatus(context.Background(), txID)
	t.Fatalf("transaction %s never reached %s, last status %s", txID, want, view.Status)
	return nil
}

func orderSteps() []SagaStep {
	return []SagaStep{
		{
			StepID:             "create_order",
			ServiceName:        "orders",
			Action:             "create_order",
			CompensationAction: "cancel_order",
			Payload:            map[string]any{"order_id": "ord-1"},
		},
		{
			StepID:             "reserve_inventory",
			ServiceName:        "inventory",
			Action:             "reserve_inventory",
			CompensationAction: "release_inventory",
			DependsOn:          []string{"create_order"},
		},
		{
			StepID:             "process_payment",
			ServiceName:        "payments",
			Action:             "process_payment",
			CompensationAction: "refund_payment",
			DependsOn:          []string{"reserve_inventory"},
		},
	}
}

func registerOrderServices(c *Coordinator) (orders, inventory, payments *fakeService) {
	orders = newFakeService()
	inventory = newFakeService()
	payments = newFakeService()
	c.RegisterServiceClient("orders", orders)
	c.RegisterServiceClient("inventory", inventory)
	c.RegisterServiceClient("payments", payments)
	return orders, inventory, payments
}

func TestStartSagaRejectsInvalidDefinitions(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	c.RegisterServiceClient("orders", newFakeService())
	ctx := context.Background()

	cases := []struct {
		name  string
		steps []SagaStep
	}{
		{"empty", nil},
		{"missing service client", []SagaStep{
			{StepID: "a", ServiceName: "ghost", Action: "x", CompensationAction: "undo_x"},
		}},
		{"missing action", []SagaStep{
			{StepID: "a", ServiceName: "orders", CompensationAction: "undo_x"},
		}},
		{"missing compensation", []SagaStep{
			{StepID: "a", ServiceName: "orders", Action: "x"},
		}},
		{"unknown dependency", []SagaStep{
			{StepID: "a", ServiceName: "orders", Action: "x", CompensationAction: "undo_x", DependsOn: []string{"nope"}},
		}},
		{"self dependency", []SagaStep{
			{StepID: "a", ServiceName: "orders", Action: "x", CompensationAction: "undo_x", DependsOn: []string{"a"}},
		}},
		{"duplicate step id", []SagaStep{
			{StepID: "a", ServiceName: "orders", Action: "x", CompensationAction: "undo_x"},
			{StepID: "a", ServiceName: "orders", Action: "y", CompensationAction: "undo_y"},
		}},
		{"dependency cycle", []SagaStep{
			{StepID: "a", ServiceName: "orders", Action: "x", CompensationAction: "undo_x", DependsOn: []string{"b"}},
			{StepID: "b", ServiceName: "orders", Action: "y", CompensationAction: "undo_y", DependsOn: []string{"a"}},
		}},
		{"negative retry count", []SagaStep{
			{StepID: "a", ServiceName: "orders", Action: "x", CompensationAction: "undo_x", RetryCount: -1},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.StartSaga(ctx, tc.steps)
			if err == nil {
				t.Fatalf("StartSaga() accepted invalid definition")
			}
			if !IsValidationError(err) {
				t.Fatalf("StartSaga() error = %v, want validation error", err)
			}
		})
	}
}

func TestStartSagaRequiresRunningCoordinator(t *testing.T) {
	c := New(NewMemoryTransactionStore())
	c.RegisterServiceClient("orders", newFakeService())
	_, err := c.StartSaga(context.Background(), orderSteps()[:1])
	if !errors.Is(err, ErrCoordinatorStopped) {
		t.Fatalf("StartSaga() error = %v, want ErrCoordinatorStopped", err)
	}
}

func TestSagaCompletesInDependencyOrder(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	orders, inventory, payments := registerOrderServices(c)

	txID, err := c.StartSaga(context.Background(), orderSteps())
	if err != nil {
		t.Fatalf("StartSaga() error = %v", err)
	}

	view := waitForStatus(t, c, txID, StatusCompleted)
	wantOrder := []string{"create_order", "reserve_inventory", "process_payment"}
	if got := view.ExecutionLog.CompletedSteps; len(got) != len(wantOrder) {
		t.Fatalf("completed steps = %v, want %v", got, wantOrder)
	} else {
		for i, stepID := range wantOrder {
			if got[i] != stepID {
				t.Fatalf("completed steps = %v, want %v", got, wantOrder)
			}
		}
	}
	for _, svc := range []*fakeService{orders, inventory, payments} {
		if len(svc.callLog()) != 1 {
			t.Fatalf("service called %d times, want 1: %v", len(svc.callLog()), svc.callLog())
		}
	}
	for stepID, exec := range view.ExecutionLog.Steps {
		if exec.Status != StepStatusCompleted {
			t.Fatalf("step %s status = %s, want completed", stepID, exec.Status)
		}
		if exec.Result == nil {
			t.Fatalf("step %s has no result", stepID)
		}
	}
}

func TestParallelStepsShareADependency(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	svc := newFakeService()
	c.RegisterServiceClient("warehouse", svc)

	steps := []SagaStep{
		{StepID: "root", ServiceName: "warehouse", Action: "open", CompensationAction: "close"},
		{StepID: "left", ServiceName: "warehouse", Action: "pick_left", CompensationAction: "restock_left", DependsOn: []string{"root"}},
		{StepID: "right", ServiceName: "warehouse", Action: "pick_right", CompensationAction: "restock_right", DependsOn: []string{"root"}},
	}
	txID, err := c.StartSaga(context.Background(), steps)
	if err != nil {
		t.Fatalf("StartSaga() error = %v", err)
	}

	view := waitForStatus(t, c, txID, StatusCompleted)
	calls := svc.callLog()
	if len(calls) != 3 || calls[0] != "open" {
		t.Fatalf("call log = %v, want open first then both picks", calls)
	}
	if len(view.ExecutionLog.CompletedSteps) != 3 {
		t.Fatalf("completed steps = %v, want 3", view.ExecutionLog.CompletedSteps)
	}
}

func TestFailedStepTriggersReverseCompensation(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	orders, inventory, payments := registerOrderServices(c)
	payments.failAction("process_payment", -1)

	steps := orderSteps()
	steps[2].RetryCount = 2
	txID, err := c.StartSaga(context.Background(), steps)
	if err != nil {
		t.Fatalf("StartSaga() error = %v", err)
	}

	view := waitForStatus(t, c, txID, StatusCompensated)

	// Forward action retried to exhaustion: 1 initial + 2 retries.
	if got := payments.callCount("process_payment"); got != 3 {
		t.Fatalf("process_payment called %d times, want 3", got)
	}
	// The failed step is never compensated.
	if got := payments.callCount("refund_payment"); got != 0 {
		t.Fatalf("refund_payment called %d times, want 0", got)
	}
	// Completed steps compensated in reverse completion order.
	if got := inventory.callCount("release_inventory"); got != 1 {
		t.Fatalf("release_inventory called %d times, want 1", got)
	}
	if got := orders.callCount("cancel_order"); got != 1 {
		t.Fatalf("cancel_order called %d times, want 1", got)
	}

	exec := view.ExecutionLog
	if exec.Steps["process_payment"].Status != StepStatusFailed {
		t.Fatalf("failed step status = %s, want failed", exec.Steps["process_payment"].Status)
	}
	if exec.Steps["process_payment"].RetryCount != 3 {
		t.Fatalf("failed step attempts = %d, want 3", exec.Steps["process_payment"].RetryCount)
	}
	for _, stepID := range []string{"create_order", "reserve_inventory"} {
		if exec.Steps[stepID].Status != StepStatusCompensated {
			t.Fatalf("step %s status = %s, want compensated", stepID, exec.Steps[stepID].Status)
		}
	}
	if len(exec.FailedSteps) != 1 || exec.FailedSteps[0] != "process_payment" {
		t.Fatalf("failed steps = %v, want [process_payment]", exec.FailedSteps)
	}
}

func TestStepRetriesThenSucceeds(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	svc := newFakeService()
	svc.failAction("flaky", 2)
	c.RegisterServiceClient("flaky-svc", svc)

	steps := []SagaStep{{
		StepID:             "only",
		ServiceName:        "flaky-svc",
		Action:             "flaky",
		CompensationAction: "undo_flaky",
		RetryCount:         3,
	}}
	txID, err := c.StartSaga(context.Background(), steps)
	if err != nil {
		t.Fatalf("StartSaga() error = %v", err)
	}

	view := waitForStatus(t, c, txID, StatusCompleted)
	if got := svc.callCount("flaky"); got != 3 {
		t.Fatalf("flaky called %d times, want 3", got)
	}
	if view.ExecutionLog.Steps["only"].Error != "" {
		t.Fatalf("completed step kept error %q", view.ExecutionLog.Steps["only"].Error)
	}
}

func TestCompensationFailureStillEndsCompensated(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	orders, inventory, payments := registerOrderServices(c)
	payments.failAction("process_payment", -1)
	inventory.failAction("release_inventory", -1)

	steps := orderSteps()
	steps[2].RetryCount = 0
	txID, err := c.StartSaga(context.Background(), steps)
	if err != nil {
		t.Fatalf("StartSaga() error = %v", err)
	}

	view := waitForStatus(t, c, txID, StatusCompensated)
	// A failed compensation does not stop the sweep.
	if got := orders.callCount("cancel_order"); got != 1 {
		t.Fatalf("cancel_order called %d times, want 1", got)
	}
	exec := view.ExecutionLog
	if exec.Steps["reserve_inventory"].Status != StepStatusCompensated {
		t.Fatalf("reserve_inventory status = %s, want compensated", exec.Steps["reserve_inventory"].Status)
	}
	if exec.Steps["reserve_inventory"].Error == "" {
		t.Fatalf("compensation failure was not recorded in the execution log")
	}
}

func TestCancelTransaction(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	svc := newFakeService()
	release := svc.blockAction("second")
	c.RegisterServiceClient("slow", svc)

	steps := []SagaStep{
		{StepID: "first", ServiceName: "slow", Action: "first", CompensationAction: "undo_first"},
		{StepID: "second", ServiceName: "slow", Action: "second", CompensationAction: "undo_second", DependsOn: []string{"first"}},
	}
	txID, err := c.StartSaga(context.Background(), steps)
	if err != nil {
		t.Fatalf("StartSaga() error = %v", err)
	}

	// Wait until the saga is mid-flight on the blocked step.
	deadline := time.Now().Add(5 * time.Second)
	for svc.callCount("second") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("second step never started")
		}
		time.Sleep(2 * time.Millisecond)
	}

	ok, err := c.CancelTransaction(context.Background(), txID)
	if err != nil {
		t.Fatalf("CancelTransaction() error = %v", err)
	}
	if !ok {
		t.Fatalf("CancelTransaction() = false, want true for running transaction")
	}

	// A second cancel is a no-op.
	ok, err = c.CancelTransaction(context.Background(), txID)
	if err != nil {
		t.Fatalf("CancelTransaction() error = %v", err)
	}
	if ok {
		t.Fatalf("CancelTransaction() = true on already-cancelled transaction")
	}

	close(release)
	view := waitForStatus(t, c, txID, StatusCompensated)
	if got := svc.callCount("undo_first"); got != 1 {
		t.Fatalf("undo_first called %d times, want 1", got)
	}
	if view.ExecutionLog.Steps["first"].Status != StepStatusCompensated {
		t.Fatalf("first step status = %s, want compensated", view.ExecutionLog.Steps["first"].Status)
	}
}

func TestCancelUnknownTransaction(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	ok, err := c.CancelTransaction(context.Background(), "no-such-tx")
	if err != nil {
		t.Fatalf("CancelTransaction() error = %v", err)
	}
	if ok {
		t.Fatalf("CancelTransaction() = true for unknown transaction")
	}
}

func TestGetTransactionStatusNotFound(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	_, err := c.GetTransactionStatus(context.Background(), "missing")
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("GetTransactionStatus() error = %v, want ErrTransactionNotFound", err)
	}
}

func TestStartSagaWithExplicitTransactionID(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	c.RegisterServiceClient("orders", newFakeService())

	steps := orderSteps()[:1]
	txID, err := c.StartSaga(context.Background(), steps, WithTransactionID("tx-explicit"))
	if err != nil {
		t.Fatalf("StartSaga() error = %v", err)
	}
	if txID != "tx-explicit" {
		t.Fatalf("transaction id = %q, want tx-explicit", txID)
	}
	waitForStatus(t, c, txID, StatusCompleted)
}

func TestListTransactionsFiltersByStatus(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryTransactionStore())
	svc := newFakeService()
	svc.failAction("doomed", -1)
	c.RegisterServiceClient("mixed", svc)

	okID, err := c.StartSaga(context.Background(), []SagaStep{
		{StepID: "ok", ServiceName: "mixed", Action: "fine", CompensationAction: "undo_fine"},
	})
	if err != nil {
		t.Fatalf("StartSaga() error = %v", err)
	}
	badID, err := c.StartSaga(context.Background(), []SagaStep{
		{StepID: "bad", ServiceName: "mixed", Action: "doomed", CompensationAction: "undo_doomed", RetryCount: 0},
	})
	if err != nil {
		t.Fatalf("StartSaga() error = %v", err)
	}

	waitForStatus(t, c, okID, StatusCompleted)
	waitForStatus(t, c, badID, StatusCompensated)

	recs, total, err := c.ListTransactions(context.Background(), TransactionFilter{
		Statuses: []Status{StatusCompleted},
	})
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if total != 1 || len(recs) != 1 || recs[0].TransactionID != okID {
		t.Fatalf("ListTransactions(completed) = %d records, total %d", len(recs), total)
	}
}
