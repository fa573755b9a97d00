package svcgroup

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "svcgroup"

// Result label values
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultBusy    = "busy"
)

// Metrics holds the Prometheus collectors updated by a Controller
type Metrics struct {
	// Dispatches counts delegate requests by group, operation and result
	Dispatches *prometheus.CounterVec
	// Operations counts group operations by group, operation and result
	Operations *prometheus.CounterVec
	// Started is 1 while the group state is Started
	Started *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_requests_total",
			Help:      "Delegate requests issued to the service manager.",
		}, []string{"group", "op", "result"}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Group lifecycle operations.",
		}, []string{"group", "op", "result"}),
		Started: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "started",
			Help:      "Whether the group is in the started state.",
		}, []string{"group"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.Dispatches, m.Operations, m.Started} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeDispatch(group string, op Operation, err error) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	m.Dispatches.WithLabelValues(group, op.String(), result).Inc()
}

func (m *Metrics) observeOperation(group string, op Operation, result string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(group, op.String(), result).Inc()
}

func (m *Metrics) setState(group string, state State) {
	if m == nil {
		return
	}
	v := 0.0
	if state == StateStarted {
		v = 1
	}
	m.Started.WithLabelValues(group).Set(v)
}
