package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_op_total",
			Help: "Document store operations by op and result.",
		},
		[]string{"op", "result"},
	)

	storeOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_op_duration_seconds",
			Help:    "Latency of document store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	resolverCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_calls_total",
			Help: "External resolver calls by outcome.",
		},
		[]string{"protocol", "outcome"},
	)

	resolverCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resolver_call_duration_seconds",
			Help:    "End-to-end latency of one resolver call (all sub-requests).",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"protocol"},
	)

	schedulerOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_outcomes_total",
			Help: "Scheduler invocation outcomes.",
		},
		[]string{"protocol", "outcome"},
	)

	requeueDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "requeue_delay_seconds",
			Help:    "Visibility delay applied when re-enqueueing a pending delivery.",
			Buckets: []float64{5, 7.5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"protocol"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Outbound device-channel messages by result.",
		},
		[]string{"protocol", "result"},
	)

	ingressRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingress_records_total",
			Help: "Telemetry records seen by the ingress filter.",
		},
		[]string{"disposition"},
	)

	queueExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_expired_total",
			Help: "Queue messages discarded because their TTL elapsed.",
		},
	)

	queueLagSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_lag_seconds",
			Help: "Approximate consumer lag: now - message.timestamp.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOpTotal.WithLabelValues(op, result).Inc()
	storeOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func ObserveResolverCall(protocol, outcome string, durationSeconds float64) {
	resolverCallsTotal.WithLabelValues(protocol, outcome).Inc()
	resolverCallDurationSeconds.WithLabelValues(protocol).Observe(durationSeconds)
}

func IncSchedulerOutcome(protocol, outcome string) {
	schedulerOutcomesTotal.WithLabelValues(protocol, outcome).Inc()
}

func ObserveRequeueDelay(protocol string, delaySeconds float64) {
	requeueDelaySeconds.WithLabelValues(protocol).Observe(delaySeconds)
}

func IncDelivery(protocol string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	deliveriesTotal.WithLabelValues(protocol, result).Inc()
}

func IncIngressAccepted() { ingressRecordsTotal.WithLabelValues("accepted").Inc() }
func IncIngressSkipped()  { ingressRecordsTotal.WithLabelValues("skipped").Inc() }
func IncQueueExpired()    { queueExpiredTotal.Inc() }

func SetQueueLag(s float64) { queueLagSeconds.Set(s) }

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
