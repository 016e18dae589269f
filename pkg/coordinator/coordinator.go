package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sagaclaw/sagaclaw/pkg/dag"
	"github.com/sagaclaw/sagaclaw/pkg/logger"
)

const (
	// DefaultPollInterval is how often the scheduler re-evaluates the
	// ready set while steps are in flight.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultRecoveryInterval is how often the recovery scan looks for
	// orphaned Running or Compensating transactions.
	DefaultRecoveryInterval = 30 * time.Second

	// DefaultTimeoutCheckInterval is how often the timeout monitor scans
	// for transactions past their deadline.
	DefaultTimeoutCheckInterval = 60 * time.Second

	// DefaultMaxConcurrentSteps bounds step fan-out across all
	// transactions handled by one coordinator.
	DefaultMaxConcurrentSteps = 64

	// DefaultScanBatchSize caps how many records a background scan
	// loads per pass.
	DefaultScanBatchSize = 1000

	// DefaultRetryBackoffBase is the unit multiplied by 2^attempt
	// between step retries.
	DefaultRetryBackoffBase = time.Second
)

// Coordinator orchestrates saga transactions: it validates definitions,
// schedules steps across their dependency graph, checkpoints every state
// transition to the store, and drives compensation when a step fails.
//
// A Coordinator is explicitly constructed and carries its own
// dependencies. It is safe for concurrent use.
type Coordinator struct {
	store   TransactionStore
	log     logger.Logger
	metrics MetricsRecorder

	clientsMu sync.RWMutex
	clients   map[string]ServiceClient

	activeMu sync.Mutex
	active   map[string]*executionState

	pollInterval         time.Duration
	recoveryInterval     time.Duration
	timeoutCheckInterval time.Duration
	scanBatchSize        int
	retryBackoffBase     time.Duration

	// stepSema bounds concurrent step executions across all sagas.
	stepSema chan struct{}

	runMu   sync.Mutex
	runCtx  context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithPollInterval sets how often the scheduler re-checks the ready set.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithRecoveryInterval sets the period of the recovery scan.
func WithRecoveryInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.recoveryInterval = d
		}
	}
}

// WithTimeoutCheckInterval sets the period of the timeout monitor.
func WithTimeoutCheckInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeoutCheckInterval = d
		}
	}
}

// WithMaxConcurrentSteps bounds step fan-out across all transactions.
func WithMaxConcurrentSteps(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.stepSema = make(chan struct{}, n)
		}
	}
}

// WithScanBatchSize caps records loaded per background scan pass.
func WithScanBatchSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.scanBatchSize = n
		}
	}
}

// WithRetryBackoffBase sets the base unit of exponential retry backoff.
// Mainly useful to shorten waits in tests.
func WithRetryBackoffBase(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retryBackoffBase = d
		}
	}
}

// New builds a Coordinator on top of the given transaction store.
func New(store TransactionStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:                store,
		log:                  logger.Global(),
		metrics:              NopMetricsRecorder(),
		clients:              make(map[string]ServiceClient),
		active:               make(map[string]*executionState),
		pollInterval:         DefaultPollInterval,
		recoveryInterval:     DefaultRecoveryInterval,
		timeoutCheckInterval: DefaultTimeoutCheckInterval,
		scanBatchSize:        DefaultScanBatchSize,
		retryBackoffBase:     DefaultRetryBackoffBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stepSema == nil {
		c.stepSema = make(chan struct{}, DefaultMaxConcurrentSteps)
	}
	return c
}

// RegisterServiceClient makes a service callable from saga steps. A later
// registration under the same name replaces the earlier client.
func (c *Coordinator) RegisterServiceClient(name string, client ServiceClient) {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()
	c.clients[name] = client
}

func (c *Coordinator) serviceClient(name string) (ServiceClient, bool) {
	c.clientsMu.RLock()
	defer c.clientsMu.RUnlock()
	client, ok := c.clients[name]
	return client, ok
}

// Start launches the background recovery and timeout loops. The supplied
// context bounds everything the coordinator does until Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return nil
	}
	c.runCtx, c.stop = context.WithCancel(ctx)
	c.running = true

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.recoveryLoop(c.runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.timeoutLoop(c.runCtx)
	}()

	c.log.Info("coordinator started",
		"recovery_interval", c.recoveryInterval.String(),
		"timeout_check_interval", c.timeoutCheckInterval.String(),
		"max_concurrent_steps", cap(c.stepSema))
	return nil
}

// Stop cancels the background loops and waits for in-flight work to wind
// down. Interrupted transactions stay Running in the store and are picked
// up by the next recovery scan.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	stop := c.stop
	c.runMu.Unlock()

	stop()
	c.wg.Wait()
	c.log.Info("coordinator stopped")
}

// Running reports whether the coordinator accepts new transactions.
func (c *Coordinator) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}

func (c *Coordinator) runContext() (context.Context, bool) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.runCtx, c.running
}

// StartOption configures a single saga submission.
type StartOption func(*startOptions)

type startOptions struct {
	transactionID string
	timeout       time.Duration
}

// WithSagaTimeout overrides the overall transaction deadline.
func WithSagaTimeout(d time.Duration) StartOption {
	return func(o *startOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTransactionID supplies the transaction identifier instead of
// generating one. Callers own uniqueness.
func WithTransactionID(id string) StartOption {
	return func(o *startOptions) {
		if id != "" {
			o.transactionID = id
		}
	}
}

// StartSaga validates a saga definition, persists it as Pending, and
// launches asynchronous execution. It returns the transaction ID as soon
// as the initial record is durable; progress is observed through
// GetTransactionStatus.
func (c *Coordinator) StartSaga(ctx context.Context, steps []SagaStep, opts ...StartOption) (string, error) {
	runCtx, running := c.runContext()
	if !running {
		return "", ErrCoordinatorStopped
	}

	o := startOptions{timeout: DefaultSagaTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transactionID == "" {
		o.transactionID = uuid.NewString()
	}

	if err := c.validateDefinition(steps); err != nil {
		return "", err
	}
	normalized := normalizeSteps(steps)

	now := time.Now().UTC()
	state := newExecutionState(o.transactionID, normalized, now, now.Add(o.timeout))
	if !c.track(state) {
		return "", newValidationError("", "transaction %s is already active", o.transactionID)
	}
	if err := c.checkpoint(ctx, state); err != nil {
		c.untrack(o.transactionID)
		return "", err
	}

	c.log.InfoContext(ctx, "saga accepted",
		"transaction_id", o.transactionID,
		"steps", len(normalized),
		"timeout", o.timeout.String())
	c.metrics.RecordTransaction(StatusPending.String())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runSaga(runCtx, state)
	}()
	return o.transactionID, nil
}

// validateDefinition rejects malformed definitions before anything is
// persisted: empty sagas, missing fields, unregistered services, unknown
// or self dependencies, and dependency cycles.
func (c *Coordinator) validateDefinition(steps []SagaStep) error {
	if len(steps) == 0 {
		return newValidationError("", "saga definition has no steps")
	}
	nodes := make([]dag.Node, 0, len(steps))
	for _, step := range steps {
		if step.ServiceName == "" {
			return newValidationError(step.StepID, "service_name is required")
		}
		if step.Action == "" {
			return newValidationError(step.StepID, "action is required")
		}
		if step.CompensationAction == "" {
			return newValidationError(step.StepID, "compensation_action is required")
		}
		if step.RetryCount < 0 {
			return newValidationError(step.StepID, "retry_count must not be negative")
		}
		if _, ok := c.serviceClient(step.ServiceName); !ok {
			return newValidationError(step.StepID, "no client registered for service %q", step.ServiceName)
		}
		nodes = append(nodes, dag.Node{ID: step.StepID, DependsOn: step.DependsOn})
	}
	graph, err := dag.Build(nodes)
	if err != nil {
		return newValidationError("", "invalid dependency graph: %v", err)
	}
	if cycle, ok := graph.DetectCycle(); ok {
		return newValidationError("", "%v", cycle)
	}
	return nil
}

// GetTransactionStatus returns the durable view of a transaction,
// including its per-step execution log.
func (c *Coordinator) GetTransactionStatus(ctx context.Context, transactionID string) (*TransactionView, error) {
	rec, err := c.store.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return viewFromRecord(rec)
}

// ListTransactions returns stored transactions matching the filter along
// with the total match count before pagination.
func (c *Coordinator) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*TransactionRecord, int, error) {
	return c.store.List(ctx, filter)
}

// CancelTransaction requests compensation of a Running transaction owned
// by this coordinator. It reports true only when the transaction was
// Running here and the cancellation was recorded; already-terminal,
// unknown, or remotely-owned transactions report false.
func (c *Coordinator) CancelTransaction(ctx context.Context, transactionID string) (bool, error) {
	state, ok := c.trackedState(transactionID)
	if !ok {
		return false, nil
	}
	if !state.requestCancel() {
		return false, nil
	}
	c.log.InfoContext(ctx, "cancellation requested", "transaction_id", transactionID)
	if err := c.checkpoint(ctx, state); err != nil {
		return true, err
	}
	return true, nil
}

func (c *Coordinator) track(state *executionState) bool {
	id := state.transactionID()
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	if _, exists := c.active[id]; exists {
		return false
	}
	c.active[id] = state
	return true
}

func (c *Coordinator) untrack(transactionID string) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	delete(c.active, transactionID)
}

func (c *Coordinator) trackedState(transactionID string) (*executionState, bool) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	state, ok := c.active[transactionID]
	return state, ok
}

// checkpoint writes the transaction's current state to the store. Every
// status transition goes through here so a crash at any point can be
// replayed from the last durable snapshot.
func (c *Coordinator) checkpoint(ctx context.Context, state *executionState) error {
	snap := state.snapshot()
	definition, err := encodeDefinition(state.steps)
	if err != nil {
		return persistErr(snap.TransactionID, err)
	}
	logData, err := SerializeExecutionLog(snap)
	if err != nil {
		return persistErr(snap.TransactionID, err)
	}
	rec := &TransactionRecord{
		TransactionID: snap.TransactionID,
		Status:        snap.Status,
		Definition:    definition,
		ExecutionLog:  logData,
		CreatedAt:     state.createdAt,
		UpdatedAt:     time.Now().UTC(),
		TimeoutAt:     state.timeoutAt,
	}
	if err := c.store.Save(ctx, rec); err != nil {
		return persistErr(snap.TransactionID, err)
	}
	return nil
}
