package client

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	messagesConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka_client", Subsystem: "session", Name: "messages_consumed_total",
		Help: "Messages returned to callers",
	}, []string{"topic"})
	messagesProduced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka_client", Subsystem: "session", Name: "messages_produced_total",
		Help: "Messages handed to the broker library",
	}, []string{"topic"})
	partitionEOF = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka_client", Subsystem: "session", Name: "partition_eof_total",
		Help: "Reads that ended at end of partition",
	}, []string{"topic"})
	sessionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka_client", Subsystem: "session", Name: "errors_total",
		Help: "Errors returned to callers by kind",
	}, []string{"topic", "kind"})
	receiveLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kafka_client", Subsystem: "session", Name: "receive_latency_seconds",
		Help:    "Time spent blocked in a single receive",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
)

// RegisterMetrics регистрирует метрики сессий один раз.
// При r == nil используется prometheus.DefaultRegisterer.
func RegisterMetrics(r prometheus.Registerer) {
	metricsOnce.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		collectors := []prometheus.Collector{
			messagesConsumed,
			messagesProduced,
			partitionEOF,
			sessionErrors,
			receiveLatency,
		}
		for _, c := range collectors {
			if err := r.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}
