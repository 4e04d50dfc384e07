package store

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultCommitted  = "committed"
	resultRolledBack = "rolled_back"
	resultFatal      = "fatal"
	resultOK         = "ok"
	resultError      = "error"
)

type metrics struct {
	steps   *prometheus.CounterVec
	records *prometheus.CounterVec
}

// newMetrics builds the store counters and registers them on reg when it is not nil.
// Counters already registered by another store on the same registry are shared.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridgestore",
			Name:      "migration_steps_total",
			Help:      "Schema migration steps attempted, by outcome",
		}, []string{"result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridgestore",
			Name:      "record_operations_total",
			Help:      "Record gateway operations, by operation and outcome",
		}, []string{"operation", "result"}),
	}
	if reg == nil {
		return m
	}
	m.steps = register(reg, m.steps)
	m.records = register(reg, m.records)
	return m
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) step(result string) {
	m.steps.WithLabelValues(result).Inc()
}

func (m *metrics) record(operation string, err error) {
	result := resultOK
	if err != nil {
		result = resultError
	}
	m.records.WithLabelValues(operation, result).Inc()
}
