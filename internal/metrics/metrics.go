package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "framebridge"

var (
	detectionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_attempts_total",
			Help:      "Detection attempts, partitioned by stage.",
		},
		[]string{"stage"},
	)

	detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Completed target searches, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	detectionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_seconds",
			Help:      "Target search latency in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
	)

	injectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injections_total",
			Help:      "Payload deliveries, partitioned by strategy and result.",
		},
		[]string{"strategy", "result"},
	)

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dispatched control commands, partitioned by action and success.",
		},
		[]string{"action", "success"},
	)

	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply from the embedded worker.",
		},
	)

	inboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Messages received from the embedded worker, partitioned by command.",
		},
		[]string{"command"},
	)
)

// Register attaches framebridge collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		detectionAttemptsTotal,
		detectionsTotal,
		detectionDurationSeconds,
		injectionsTotal,
		commandsTotal,
		pendingRequests,
		inboundMessagesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAttempt counts one detection attempt.
func ObserveAttempt(stage string) {
	detectionAttemptsTotal.WithLabelValues(stage).Inc()
}

// ObserveDetection records a finished search.
func ObserveDetection(duration time.Duration, outcome string) {
	detectionsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	detectionDurationSeconds.Observe(duration.Seconds())
}

// ObserveInjection records one delivery attempt.
func ObserveInjection(strategy string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	injectionsTotal.WithLabelValues(strategy, result).Inc()
}

// ObserveCommand records one dispatched control command.
func ObserveCommand(action string, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	commandsTotal.WithLabelValues(action, label).Inc()
}

// SetPending publishes the number of outstanding requests.
func SetPending(n int) {
	pendingRequests.Set(float64(n))
}

// ObserveInbound counts one inbound channel message.
func ObserveInbound(command string) {
	inboundMessagesTotal.WithLabelValues(command).Inc()
}
