package extscript

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	sessions   *prometheus.CounterVec
	active     prometheus.Gauge
	commands   prometheus.Counter
	overflows  prometheus.Counter
	reconnects prometheus.Counter
}

// newMetrics builds the controller's collectors and registers them with reg. A nil reg leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extscript",
			Name:      "sessions_total",
			Help:      "Runner sessions by outcome.",
		}, []string{"outcome"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "extscript",
			Name:      "session_active",
			Help:      "1 while a runner session is in progress.",
		}),
		commands: f.NewCounter(prometheus.CounterOpts{
			Namespace: "extscript",
			Name:      "delegated_commands_total",
			Help:      "Host commands executed on behalf of a runner.",
		}),
		overflows: f.NewCounter(prometheus.CounterOpts{
			Namespace: "extscript",
			Name:      "protocol_overflows_total",
			Help:      "Delegated command cycles failed because the runner exceeded a protocol limit.",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "extscript",
			Name:      "reconnects_total",
			Help:      "Socket reconnects performed after an ACK.",
		}),
	}
}

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeAborted = "aborted"
)
