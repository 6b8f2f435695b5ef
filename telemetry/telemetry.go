package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the self-metrics of a node. It satisfies the observer interfaces of the transmit and node packages.
type Metrics struct {
	wakes             *prometheus.CounterVec
	overflowDrops     *prometheus.CounterVec
	blocksSent        prometheus.Counter
	bytesSent         prometheus.Counter
	blockFailures     prometheus.Counter
	payloadDrops      prometheus.Counter
	consecutiveErrors prometheus.Gauge
	plannedSleep      prometheus.Histogram
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		wakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeflow_wakes_total",
			Help: "Wake cycles run, by resolved wakeup flag.",
		}, []string{"flag"}),
		overflowDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeflow_overflow_dropped_total",
			Help: "Sensing records dropped because the metric group region was full.",
		}, []string{"group"}),
		blocksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nodeflow_blocks_sent_total",
			Help: "Payload blocks accepted by the radio.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nodeflow_bytes_sent_total",
			Help: "Payload bytes accepted by the radio.",
		}),
		blockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nodeflow_block_failures_total",
			Help: "Blocks that were not sent after every retry.",
		}),
		payloadDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nodeflow_payload_dropped_total",
			Help: "Buffered payloads overwritten after repeated failed send opportunities.",
		}),
		consecutiveErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodeflow_consecutive_errors",
			Help: "Persisted consecutive error count of the error tracker.",
		}),
		plannedSleep: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nodeflow_planned_sleep_seconds",
			Help:    "Standby duration handed to the sleep controller.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	collectors := []prometheus.Collector{
		m.wakes, m.overflowDrops, m.blocksSent, m.bytesSent, m.blockFailures, m.payloadDrops,
		m.consecutiveErrors, m.plannedSleep,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Wake(flag string) {
	m.wakes.WithLabelValues(flag).Inc()
}

func (m *Metrics) OverflowDropped(group string) {
	m.overflowDrops.WithLabelValues(group).Inc()
}

func (m *Metrics) BlockSent(bytes int) {
	m.blocksSent.Inc()
	m.bytesSent.Add(float64(bytes))
}

func (m *Metrics) BlockFailed() {
	m.blockFailures.Inc()
}

func (m *Metrics) PayloadDropped() {
	m.payloadDrops.Inc()
}

func (m *Metrics) ConsecutiveErrors(n uint16) {
	m.consecutiveErrors.Set(float64(n))
}

func (m *Metrics) PlannedSleep(secs uint32) {
	m.plannedSleep.Observe(float64(secs))
}
