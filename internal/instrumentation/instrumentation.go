package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/utilitywarehouse/health-watcher/internal/constants"
)

// Metrics contains Counters, Gauges and Histograms for health-watcher
type Metrics struct {
	Counters   map[string]*prometheus.CounterVec
	Gauges     map[string]*prometheus.GaugeVec
	Histograms map[string]*prometheus.HistogramVec
}

// SetupMetrics returns the required counters, gauges and histograms for health-watcher
func SetupMetrics() Metrics {
	var metrics Metrics

	metrics.Counters = setupCounters()
	metrics.Gauges = setupGauges()
	metrics.Histograms = setupHistograms()

	return metrics
}

func setupCounters() map[string]*prometheus.CounterVec {

	counters := make(map[string]*prometheus.CounterVec)

	counters[constants.HealthWatcherFetchOutcome] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: constants.HealthWatcherFetchOutcome,
		Help: "Counts report fetches performed including the outcome (whether a report was returned or the transport failed)",
	}, []string{constants.FetchOutcomeResult})

	counters[constants.HealthWatcherNotifications] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: constants.HealthWatcherNotifications,
		Help: "Counts webhook notification decisions by kind (failure/recovery) and result (sent/suppressed)",
	}, []string{constants.NotificationKind, constants.NotificationResult})

	return counters
}

func setupGauges() map[string]*prometheus.GaugeVec {

	gauges := make(map[string]*prometheus.GaugeVec)

	gauges[constants.HealthWatcherEvaluationsInFlight] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: constants.HealthWatcherEvaluationsInFlight,
		Help: "Records the number of endpoint evaluations which are in flight at any one time",
	}, []string{})

	gauges[constants.HealthWatcherEndpoints] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: constants.HealthWatcherEndpoints,
		Help: "Records the number of registered endpoints",
	}, []string{})

	return gauges
}

func setupHistograms() map[string]*prometheus.HistogramVec {

	histograms := make(map[string]*prometheus.HistogramVec)

	histograms[constants.HealthWatcherJobDurationSeconds] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: constants.HealthWatcherJobDurationSeconds,
		Help: "Records the duration of watcher jobs (report fetch, endpoint evaluation)",
	}, []string{constants.JobName})

	return histograms
}
