package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Call outcomes used as the "outcome" label.
const (
	OutcomeOK          = "ok"
	OutcomeDaemonError = "daemon_error"
	OutcomeTimeout     = "timeout"
	OutcomeSendError   = "send_error"
	OutcomeInvalid     = "invalid"
	OutcomeCanceled    = "canceled"
)

// Registry holds all shim metrics.
type Registry struct {
	// Correlator
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	StaleReplies prometheus.Counter
	InFlight     prometheus.Gauge

	// Transport
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	HandlerErrors    *prometheus.CounterVec

	// Legacy surface
	LegacyCalls *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// Get returns the global metrics registry, creating it if necessary.
// Metrics are registered with the default Prometheus registerer.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return registry
}

// NewIsolated returns a registry backed by its own Prometheus registry.
// Tests use it to read counters without cross-test interference.
func NewIsolated() *Registry {
	reg := prometheus.NewRegistry()
	return newRegistry(reg, reg)
}

func newRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	factory := promauto.With(reg)
	r := &Registry{gatherer: gatherer}

	r.CallsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "brcompat_calls_total",
		Help: "Correlated calls to the userspace daemon by command and outcome",
	}, []string{"command", "outcome"})

	r.CallDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brcompat_call_duration_seconds",
		Help:    "Round trip time of correlated calls, including time queued behind other calls",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
	}, []string{"command"})

	r.StaleReplies = factory.NewCounter(prometheus.CounterOpts{
		Name: "brcompat_stale_replies_total",
		Help: "Replies discarded because their sequence number matched no pending call",
	})

	r.InFlight = factory.NewGauge(prometheus.GaugeOpts{
		Name: "brcompat_calls_in_flight",
		Help: "Calls currently between send and reply or timeout (0 or 1)",
	})

	r.MessagesSent = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "brcompat_messages_sent_total",
		Help: "Control messages sent by command and kind (multicast, unicast)",
	}, []string{"command", "kind"})

	r.MessagesReceived = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "brcompat_messages_received_total",
		Help: "Control messages received by command",
	}, []string{"command"})

	r.MessagesDropped = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "brcompat_messages_dropped_total",
		Help: "Inbound control messages dropped before dispatch by reason",
	}, []string{"reason"})

	r.HandlerErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "brcompat_handler_errors_total",
		Help: "Errors returned by inbound message listeners by command",
	}, []string{"command"})

	r.LegacyCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "brcompat_legacy_calls_total",
		Help: "Legacy bridge control calls by operation and result errno",
	}, []string{"op", "errno"})

	return r
}

// ObserveCall records the outcome and latency of one correlated call.
func (r *Registry) ObserveCall(command, outcome string, elapsed time.Duration) {
	r.CallsTotal.WithLabelValues(command, outcome).Inc()
	r.CallDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// Handler returns an HTTP handler exposing this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
