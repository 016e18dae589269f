package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initTransactionMetrics(cfg Config) {
	m.transactionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_transactions_total",
			Help: "Total number of saga transactions by status",
		},
		[]string{"status"},
	)

	m.transactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_transaction_duration_seconds",
			Help:    "Saga transaction duration in seconds by terminal status",
			Buckets: cfg.TransactionDurationBuckets,
		},
		[]string{"status"},
	)

	m.transactionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_transactions_active",
			Help: "Current number of in-flight saga transactions",
		},
	)

	m.transactionTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_transaction_timeouts_total",
			Help: "Total number of saga transactions failed by the timeout monitor",
		},
	)

	m.stepExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_steps_total",
			Help: "Total number of saga step executions by outcome",
		},
		[]string{"status"},
	)

	m.stepRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_step_retries_total",
			Help: "Total number of saga step retry attempts",
		},
	)

	m.compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensations_total",
			Help: "Total number of compensation actions by outcome",
		},
		[]string{"status"},
	)

	m.recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_recoveries_total",
			Help: "Total number of transaction recoveries by prior status",
		},
		[]string{"status"},
	)

	m.registry.MustRegister(m.transactionOutcomes)
	m.registry.MustRegister(m.transactionDuration)
	m.registry.MustRegister(m.transactionsActive)
	m.registry.MustRegister(m.transactionTimeouts)
	m.registry.MustRegister(m.stepExecutions)
	m.registry.MustRegister(m.stepRetries)
	m.registry.MustRegister(m.compensations)
	m.registry.MustRegister(m.recoveries)
}

// RecordTransaction records one transaction status event.
func (m *Manager) RecordTransaction(status string) {
	if !m.enabled {
		return
	}
	m.transactionOutcomes.WithLabelValues(status).Inc()
}

// RecordTransactionDuration records transaction latency by terminal status.
func (m *Manager) RecordTransactionDuration(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.transactionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncActiveTransactions increments the in-flight transaction count.
func (m *Manager) IncActiveTransactions() {
	if !m.enabled {
		return
	}
	m.transactionsActive.Inc()
}

// DecActiveTransactions decrements the in-flight transaction count.
func (m *Manager) DecActiveTransactions() {
	if !m.enabled {
		return
	}
	m.transactionsActive.Dec()
}

// RecordStep records one step execution outcome.
func (m *Manager) RecordStep(status string) {
	if !m.enabled {
		return
	}
	m.stepExecutions.WithLabelValues(status).Inc()
}

// RecordStepRetry records one step retry attempt.
func (m *Manager) RecordStepRetry() {
	if !m.enabled {
		return
	}
	m.stepRetries.Inc()
}

// RecordCompensation records one compensation action outcome.
func (m *Manager) RecordCompensation(status string) {
	if !m.enabled {
		return
	}
	m.compensations.WithLabelValues(status).Inc()
}

// RecordRecovery records one recovery operation by prior status.
func (m *Manager) RecordRecovery(status string) {
	if !m.enabled {
		return
	}
	m.recoveries.WithLabelValues(status).Inc()
}

// RecordTimeout records one timeout-failed transaction.
func (m *Manager) RecordTimeout() {
	if !m.enabled {
		return
	}
	m.transactionTimeouts.Inc()
}
