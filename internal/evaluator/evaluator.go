package evaluator

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/utilitywarehouse/health-watcher/internal/constants"
	"github.com/utilitywarehouse/health-watcher/internal/instrumentation"
	"github.com/utilitywarehouse/health-watcher/internal/model"
)

// ReportFetcher retrieves a normalised health report for one endpoint
type ReportFetcher interface {
	Fetch(ctx context.Context, endpoint model.Endpoint) (model.HealthReport, model.FetchOutcome)
}

// EndpointSource lists the registered endpoint configurations
type EndpointSource interface {
	ListEndpoints() ([]model.Endpoint, error)
}

// ExecutionStore persists per-endpoint executions and their bounded history
type ExecutionStore interface {
	FindExecution(name string) (model.Execution, bool, error)
	UpsertExecution(execution model.Execution) error
	AppendExecutionHistory(entry model.HistoryEntry, maxEntries int) error
}

// TransitionNotifier is told when an endpoint becomes unhealthy or recovers
type TransitionNotifier interface {
	NotifyDown(ctx context.Context, name string, report model.HealthReport)
	NotifyUp(ctx context.Context, name string)
}

// Evaluator drives the polling cycle: it fetches a report for every registered
// endpoint, diffs it against the stored execution, persists the new state and
// triggers notifications on transitions.
type Evaluator struct {
	Fetcher    ReportFetcher
	Endpoints  EndpointSource
	Executions ExecutionStore
	Notifier   TransitionNotifier
	Interval   time.Duration
	MaxHistory int
	Metrics    instrumentation.Metrics
	Now        func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

// New returns an Evaluator ready to Run
func New(fetcher ReportFetcher, endpoints EndpointSource, executions ExecutionStore, notifier TransitionNotifier, interval time.Duration, maxHistory int, metrics instrumentation.Metrics) *Evaluator {
	return &Evaluator{
		Fetcher:    fetcher,
		Endpoints:  endpoints,
		Executions: executions,
		Notifier:   notifier,
		Interval:   interval,
		MaxHistory: maxHistory,
		Metrics:    metrics,
		Now:        time.Now,
		inFlight:   make(map[string]bool),
	}
}

// Run evaluates all endpoints on a fixed interval until the context is cancelled.
// Cancellation propagates into in-flight fetches and notification sends.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("evaluator stopped")
			return
		case t := <-ticker.C:
			log.Debugf("scheduling endpoint evaluations at %v", t)
			e.EvaluateAll(ctx)
		}
	}
}

// EvaluateAll evaluates every registered endpoint concurrently. An endpoint whose
// previous evaluation is still in flight is skipped, not queued, so a hung remote
// cannot build up a backlog.
func (e *Evaluator) EvaluateAll(ctx context.Context) {

	endpoints, err := e.Endpoints.ListEndpoints()
	if err != nil {
		log.WithError(err).Error("could not list endpoints - skipping evaluation cycle")
		return
	}

	if gauge, ok := e.Metrics.Gauges[constants.HealthWatcherEndpoints]; ok {
		gauge.With(map[string]string{}).Set(float64(len(endpoints)))
	}

	for _, endpoint := range endpoints {
		if !e.acquire(endpoint.Name) {
			log.WithField("endpoint", endpoint.Name).Info("previous evaluation still in flight - skipping this cycle")
			continue
		}

		go func(endpoint model.Endpoint) {
			defer e.release(endpoint.Name)
			e.evaluate(ctx, endpoint)
		}(endpoint)
	}
}

// evaluate runs a single endpoint through one polling cycle. Store failures abort
// this endpoint's evaluation only, leaving previously stored state unchanged.
func (e *Evaluator) evaluate(ctx context.Context, endpoint model.Endpoint) {

	start := e.Now()

	report, outcome := e.Fetcher.Fetch(ctx, endpoint)

	if counter, ok := e.Metrics.Counters[constants.HealthWatcherFetchOutcome]; ok {
		counter.With(map[string]string{constants.FetchOutcomeResult: outcome.String()}).Inc()
	}

	if ctx.Err() != nil {
		log.WithField("endpoint", endpoint.Name).Debug("evaluation cancelled - discarding partial result")
		return
	}

	previous, found, err := e.Executions.FindExecution(endpoint.Name)
	if err != nil {
		log.WithError(err).WithField("endpoint", endpoint.Name).Error("failed to load execution")
		return
	}

	now := e.Now()

	execution := model.Execution{
		EndpointID:   endpoint.ID,
		Name:         endpoint.Name,
		URI:          endpoint.URI,
		Status:       report.Status,
		Description:  report.FailingDescriptions(),
		LastExecuted: now,
		OnStateFrom:  now,
		Entries:      report.ToExecutionEntries(),
	}

	statusChanged := found && previous.Status != report.Status
	if found && !statusChanged {
		execution.OnStateFrom = previous.OnStateFrom
	}

	if err := e.Executions.UpsertExecution(execution); err != nil {
		log.WithError(err).WithField("endpoint", endpoint.Name).Error("failed to upsert execution")
		return
	}

	if statusChanged {
		// History records completed state intervals: the previous status at the
		// time it was entered.
		entry := model.HistoryEntry{
			Name:        endpoint.Name,
			Status:      previous.Status,
			Description: previous.Description,
			On:          previous.OnStateFrom,
		}
		if err := e.Executions.AppendExecutionHistory(entry, e.MaxHistory); err != nil {
			log.WithError(err).WithField("endpoint", endpoint.Name).Error("failed to append execution history")
		}
	}

	// The first ever poll establishes state - it is not a transition. Every
	// subsequent unhealthy poll is reported so that a sustained failure is
	// re-announced once the notifier's throttle window elapses.
	if found {
		if report.Status == model.Unhealthy {
			e.Notifier.NotifyDown(ctx, endpoint.Name, report)
		} else if model.IsRecovery(previous.Status, report.Status) {
			e.Notifier.NotifyUp(ctx, endpoint.Name)
		}
	}

	if histogram, ok := e.Metrics.Histograms[constants.HealthWatcherJobDurationSeconds]; ok {
		histogram.WithLabelValues("evaluate_endpoint").Observe(time.Since(start).Seconds())
	}
}

func (e *Evaluator) acquire(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[name] {
		return false
	}
	e.inFlight[name] = true
	if gauge, ok := e.Metrics.Gauges[constants.HealthWatcherEvaluationsInFlight]; ok {
		gauge.With(map[string]string{}).Set(float64(len(e.inFlight)))
	}
	return true
}

func (e *Evaluator) release(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, name)
	if gauge, ok := e.Metrics.Gauges[constants.HealthWatcherEvaluationsInFlight]; ok {
		gauge.With(map[string]string{}).Set(float64(len(e.inFlight)))
	}
}
