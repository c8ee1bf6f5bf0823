package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the derived overall health of an endpoint or a single check
type Status string

const (
	// Healthy means the endpoint reported all checks passing
	Healthy Status = "Healthy"
	// Degraded means the endpoint reported partial failures
	Degraded Status = "Degraded"
	// Unhealthy means the endpoint reported failure or could not be reached
	Unhealthy Status = "Unhealthy"
)

// ParseStatus normalises a wire status string into a Status. Unknown values map to
// Unhealthy so that misbehaving endpoints drive transition logic rather than being
// silently ignored.
func ParseStatus(s string) Status {
	switch strings.ToLower(s) {
	case "healthy":
		return Healthy
	case "degraded":
		return Degraded
	default:
		return Unhealthy
	}
}

// UnmarshalJSON accepts any casing of the three known statuses
func (s *Status) UnmarshalJSON(b []byte) error {
	*s = ParseStatus(strings.Trim(string(b), `"`))
	return nil
}

// Endpoint describes a registered remote service exposing an HTTP health report document
type Endpoint struct {
	ID               string `json:"id" bson:"id"`
	Name             string `json:"name" bson:"name"`
	URI              string `json:"uri" bson:"uri"`
	DiscoveryService string `json:"discoveryService,omitempty" bson:"discoveryService"`
}

// ReportEntry describes a single named check within a health report
type ReportEntry struct {
	Status      Status                 `json:"status" bson:"status"`
	Description string                 `json:"description" bson:"description"`
	Duration    string                 `json:"duration" bson:"duration"`
	Exception   string                 `json:"exception,omitempty" bson:"exception"`
	Tags        []string               `json:"tags,omitempty" bson:"tags"`
	Data        map[string]interface{} `json:"data,omitempty" bson:"data"`
}

// HealthReport is the normalised health report document fetched from an endpoint.
// It is ephemeral - constructed fresh on each poll and projected into an Execution.
type HealthReport struct {
	Status        Status                 `json:"status"`
	TotalDuration string                 `json:"totalDuration"`
	Entries       map[string]ReportEntry `json:"entries"`
}

// FetchOutcome classifies the result of fetching a health report
type FetchOutcome int

const (
	// OutcomeReport means the endpoint returned a well-formed health report
	OutcomeReport FetchOutcome = iota
	// OutcomeTransportFailure means the endpoint could not be reached or returned garbage
	OutcomeTransportFailure
)

// String returns the metrics label for the outcome
func (o FetchOutcome) String() string {
	if o == OutcomeReport {
		return "report"
	}
	return "transport_failure"
}

// ExecutionEntry is the flattened projection of a ReportEntry stored on an Execution
type ExecutionEntry struct {
	Name        string   `json:"name" bson:"name"`
	Status      Status   `json:"status" bson:"status"`
	Description string   `json:"description" bson:"description"`
	Duration    string   `json:"duration" bson:"duration"`
	Tags        []string `json:"tags,omitempty" bson:"tags"`
}

// Execution is the latest known health state of one endpoint
type Execution struct {
	EndpointID          string           `json:"endpointId" bson:"endpointId"`
	Name                string           `json:"name" bson:"name"`
	URI                 string           `json:"uri" bson:"uri"`
	Status              Status           `json:"status" bson:"status"`
	Description         string           `json:"description" bson:"description"`
	OnStateFrom         time.Time        `json:"onStateFrom" bson:"onStateFrom"`
	LastExecuted        time.Time        `json:"lastExecuted" bson:"lastExecuted"`
	Entries             []ExecutionEntry `json:"entries" bson:"entries"`
	HumanisedStateSince string           `json:"stateSinceHumanised,omitempty" bson:"-"`
	HumanisedLastCheck  string           `json:"lastCheckedHumanised,omitempty" bson:"-"`
	StatePriority       int              `json:"-" bson:"-"`
}

// HistoryEntry records one completed state interval for an endpoint
type HistoryEntry struct {
	Name        string    `json:"name" bson:"name"`
	Status      Status    `json:"status" bson:"status"`
	Description string    `json:"description" bson:"description"`
	On          time.Time `json:"on" bson:"on"`
}

// FailureNotification tracks the notifier's view of an endpoint's liveness and
// when it was last notified about
type FailureNotification struct {
	HealthCheckName string    `json:"healthCheckName" bson:"healthCheckName"`
	LastNotified    time.Time `json:"lastNotified" bson:"lastNotified"`
	IsUpAndRunning  bool      `json:"isUpAndRunning" bson:"isUpAndRunning"`
}

// Webhook describes one configured notification target
type Webhook struct {
	Name            string `json:"name"`
	URI             string `json:"uri"`
	Payload         string `json:"payload"`
	RestoredPayload string `json:"restoredPayload,omitempty"`
}

func (r HealthReport) sortedEntryNames() []string {
	names := make([]string, 0, len(r.Entries))
	for name := range r.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToExecutionEntries flattens the report entries into the form stored on an Execution
func (r HealthReport) ToExecutionEntries() []ExecutionEntry {
	entries := make([]ExecutionEntry, 0, len(r.Entries))
	for _, name := range r.sortedEntryNames() {
		e := r.Entries[name]
		description := e.Description
		if description == "" {
			description = e.Exception
		}
		entries = append(entries, ExecutionEntry{
			Name:        name,
			Status:      e.Status,
			Description: description,
			Duration:    e.Duration,
			Tags:        e.Tags,
		})
	}
	return entries
}

// FailureMessage summarises how many checks within the report are failing
func (r HealthReport) FailureMessage() string {
	failing := 0
	for _, e := range r.Entries {
		if e.Status != Healthy {
			failing++
		}
	}
	return fmt.Sprintf("There are at least %d health checks failing.", failing)
}

// FailingDescriptions joins the descriptions of all failing checks
func (r HealthReport) FailingDescriptions() string {
	var descriptions []string
	for _, name := range r.sortedEntryNames() {
		e := r.Entries[name]
		if e.Status == Healthy {
			continue
		}
		if e.Description != "" {
			descriptions = append(descriptions, e.Description)
		} else if e.Exception != "" {
			descriptions = append(descriptions, e.Exception)
		}
	}
	return strings.Join(descriptions, " | ")
}

// IsRecovery reports whether the status moved out of Unhealthy between two polls
func IsRecovery(previous, current Status) bool {
	return previous == Unhealthy && current != Unhealthy
}
