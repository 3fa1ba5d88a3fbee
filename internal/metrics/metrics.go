package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	parseResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minerudispatch",
			Name:      "parse_results_total",
			Help:      "Total GPU parse results by pipeline and result (success, timeout, error)",
		},
		[]string{"pipeline", "result"},
	)

	parseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "minerudispatch",
			Name:      "parse_duration_seconds",
			Help:      "Duration of GPU parse calls by pipeline",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"pipeline"},
	)

	visionReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minerudispatch",
			Name:      "vision_requests_total",
			Help:      "Total vision requests by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	visionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "minerudispatch",
			Name:      "vision_request_duration_seconds",
			Help:      "Duration of vision requests by provider and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minerudispatch",
			Name:      "tasks_total",
			Help:      "Broker tasks by kind and terminal state",
		},
		[]string{"kind", "state"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "minerudispatch",
			Name:      "queue_depth",
			Help:      "Stream depth per queue name",
		},
		[]string{"queue"},
	)

	schedulerPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "minerudispatch",
			Name:      "scheduler_pending",
			Help:      "Pending parse submissions per GPU",
		},
		[]string{"gpu"},
	)

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minerudispatch",
			Name:      "store_uploads_total",
			Help:      "Object-store bundle uploads by result",
		},
		[]string{"result"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(parseResults, parseDuration, visionReqs, visionLatency, tasksTotal, queueDepth, schedulerPending, uploadsTotal)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveParse(pipeline, result string, dur time.Duration) {
	parseResults.WithLabelValues(pipeline, result).Inc()
	parseDuration.WithLabelValues(pipeline).Observe(dur.Seconds())
}

func ObserveVision(provider, model, result string, dur time.Duration) {
	visionReqs.WithLabelValues(provider, model, result).Inc()
	visionLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

func IncTask(kind, state string) { tasksTotal.WithLabelValues(kind, state).Inc() }

func SetQueueDepth(queue string, v int64) { queueDepth.WithLabelValues(queue).Set(float64(v)) }

func SetSchedulerPending(gpu string, v int) { schedulerPending.WithLabelValues(gpu).Set(float64(v)) }

func IncUpload(result string) { uploadsTotal.WithLabelValues(result).Inc() }
