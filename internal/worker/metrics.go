package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashcard_worker_tasks_processed_total",
			Help: "Total number of pipeline tasks processed by the worker.",
		},
		[]string{"phase", "status"},
	)
	taskProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flashcard_worker_task_duration_seconds",
			Help:    "Histogram of pipeline task processing durations.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~1h
		},
		[]string{"phase"},
	)
	tasksRequeuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashcard_worker_tasks_requeued_total",
			Help: "Total number of messages returned to the queue for retry.",
		},
		[]string{"phase"},
	)
)

// MetricsRecordTask фиксирует результат обработки задания фазы.
func MetricsRecordTask(phase, status string, duration time.Duration) {
	tasksProcessedTotal.WithLabelValues(phase, status).Inc()
	taskProcessingDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// MetricsIncrementRequeued фиксирует возврат сообщения в очередь.
func MetricsIncrementRequeued(phase string) {
	tasksRequeuedTotal.WithLabelValues(phase).Inc()
}
