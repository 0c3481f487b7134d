package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metric label values.
const (
	bufferPrimary = "primary"
	bufferFailed  = "failed"

	outcomeSuccess = "success"
	outcomeFailure = "failure"

	triggerSize     = "size"
	triggerPeriodic = "periodic"
	triggerDelayed  = "delayed"
	triggerManual   = "manual"
)

// Metrics holds the pipeline counters. Dropped events are the loss signal
// that the queues otherwise only log.
type Metrics struct {
	eventsEnqueued   prometheus.Counter
	eventsDropped    *prometheus.CounterVec
	flushes          *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryAttempts prometheus.Counter
	queued           *prometheus.GaugeVec
}

// NewMetrics creates the pipeline metrics and registers them on reg when it
// is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		eventsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keytrail",
			Subsystem: "telemetry",
			Name:      "events_enqueued_total",
			Help:      "Total number of events added to the primary queue.",
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keytrail",
			Subsystem: "telemetry",
			Name:      "events_dropped_total",
			Help:      "Total number of events evicted because a queue was full.",
		}, []string{"buffer"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keytrail",
			Subsystem: "telemetry",
			Name:      "flushes_total",
			Help:      "Total number of non-empty flushes by trigger.",
		}, []string{"trigger"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keytrail",
			Subsystem: "telemetry",
			Name:      "deliveries_total",
			Help:      "Total number of delivered or failed batches.",
		}, []string{"outcome"}),
		deliveryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keytrail",
			Subsystem: "telemetry",
			Name:      "delivery_attempts_total",
			Help:      "Total number of requests sent to the collector.",
		}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "keytrail",
			Subsystem: "telemetry",
			Name:      "queued_events",
			Help:      "Number of events waiting in each queue.",
		}, []string{"buffer"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.eventsEnqueued, m.eventsDropped, m.flushes, m.deliveries, m.deliveryAttempts, m.queued,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *Metrics) dropped(buffer string, n int) {
	if n > 0 {
		m.eventsDropped.WithLabelValues(buffer).Add(float64(n))
	}
}

func (m *Metrics) delivered(err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setQueued(primary, failed int) {
	m.queued.WithLabelValues(bufferPrimary).Set(float64(primary))
	m.queued.WithLabelValues(bufferFailed).Set(float64(failed))
}
