package constants

const (
	// AppName contains the name of this application
	AppName = "health-watcher"
	// AppDesc contains a description of the application
	AppDesc = "This app polls remote health endpoints, records their state and notifies webhooks on status transitions."
	// EndpointsCollection is the name of the mongo collection that stores registered endpoint configurations
	EndpointsCollection = "endpoints"
	// ExecutionsCollection is the name of the mongo collection that stores the latest execution per endpoint
	ExecutionsCollection = "executions"
	// HistoryCollection is the name of the mongo collection that stores the bounded per-endpoint status history
	HistoryCollection = "history"
	// NotificationsCollection is the name of the mongo collection that stores failure notification records
	NotificationsCollection = "notifications"
	// DBName is the mongo database name
	DBName = "healthwatcher"

	// DefaultEvaluationIntervalSecs is the number of seconds between two evaluation cycles
	DefaultEvaluationIntervalSecs = 10
	// DefaultMinimumSecsBetweenFailureNotifications is the throttle window for repeated failure notifications
	DefaultMinimumSecsBetweenFailureNotifications = 600
	// DefaultMaximumHistoryEntriesPerEndpoint bounds the per-endpoint status history
	DefaultMaximumHistoryEntriesPerEndpoint = 50
	// DefaultFetchTimeoutSecs bounds a single health report fetch
	DefaultFetchTimeoutSecs = 10
	// DefaultWebhookTimeoutSecs bounds a single webhook delivery attempt
	DefaultWebhookTimeoutSecs = 10

	// LivenessBookmark is replaced with the endpoint name in webhook payload templates
	LivenessBookmark = "[[LIVENESS]]"
	// FailureBookmark is replaced with a failure summary in webhook payload templates
	FailureBookmark = "[[FAILURE]]"
	// DescriptionsBookmark is replaced with the failing check descriptions in webhook payload templates
	DescriptionsBookmark = "[[DESCRIPTIONS]]"

	// EnableAnnotation is the k8s annotation enabling endpoint registration for a namespace or service
	EnableAnnotation = "uw.health.watcher.enable"
	// PortAnnotation is the k8s annotation overriding the health endpoint port
	PortAnnotation = "uw.health.watcher.port"
	// DefaultEnableDiscovery is the default value for the enable annotation
	DefaultEnableDiscovery = "true"
	// DefaultDiscoveryPort is the default port used when no port annotation is present
	DefaultDiscoveryPort = "8081"
	// KubernetesDiscoveryService tags endpoints registered by the kubernetes discoverer
	KubernetesDiscoveryService = "kubernetes"

	// HealthWatcherFetchOutcome is the name of the metrics counter for report fetch outcomes
	HealthWatcherFetchOutcome = "health_watcher_fetch_outcome"
	// FetchOutcomeResult is the label recording whether a fetch produced a report or a transport failure
	FetchOutcomeResult = "fetch_outcome_result"
	// HealthWatcherNotifications is the name of the metrics counter for webhook notifications
	HealthWatcherNotifications = "health_watcher_notifications"
	// NotificationKind is the label recording whether a notification was for a failure or a recovery
	NotificationKind = "notification_kind"
	// NotificationResult is the label recording whether a notification was sent or suppressed
	NotificationResult = "notification_result"
	// HealthWatcherEvaluationsInFlight records the number of endpoint evaluations currently in flight
	HealthWatcherEvaluationsInFlight = "health_watcher_evaluations_in_flight"
	// HealthWatcherEndpoints records the number of registered endpoints
	HealthWatcherEndpoints = "health_watcher_endpoints"
	// HealthWatcherJobDurationSeconds is the name of the metrics histogram for watcher jobs
	HealthWatcherJobDurationSeconds = "health_watcher_job_duration_seconds"
	// JobName is the label identifying the watcher job being timed
	JobName = "job"
)
