package coordinator

import "time"

// MetricsRecorder records coordinator runtime metrics.
type MetricsRecorder interface {
	RecordTransaction(status string)
	RecordTransactionDuration(status string, duration time.Duration)
	IncActiveTransactions()
	DecActiveTransactions()
	RecordStep(status string)
	RecordStepRetry()
	RecordCompensation(status string)
	RecordRecovery(status string)
	RecordTimeout()
}

// NopMetricsRecorder returns a recorder that discards everything.
func NopMetricsRecorder() MetricsRecorder {
	return &nopMetricsRecorder{}
}

type nopMetricsRecorder struct{}

func (n *nopMetricsRecorder) RecordTransaction(status string)                               {}
func (n *nopMetricsRecorder) RecordTransactionDuration(status string, duration time.Duration) {}
func (n *nopMetricsRecorder) IncActiveTransactions()                                        {}
func (n *nopMetricsRecorder) DecActiveTransactions()                                        {}
func (n *nopMetricsRecorder) RecordStep(status string)                                      {}
func (n *nopMetricsRecorder) RecordStepRetry()                                              {}
func (n *nopMetricsRecorder) RecordCompensation(status string)                              {}
func (n *nopMetricsRecorder) RecordRecovery(status string)                                  {}
func (n *nopMetricsRecorder) RecordTimeout()                                                {}
