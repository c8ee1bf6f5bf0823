package helpers

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/utilitywarehouse/health-watcher/internal/model"
)

const charset = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var seededRand *rand.Rand = rand.New(
	rand.NewSource(time.Now().UnixNano()))

func stringWithCharset(length int, charset string) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[seededRand.Intn(len(charset))]
	}
	return string(b)
}

// String returns a randomly-generated string of the required length
func String(length int) string {
	return stringWithCharset(length, charset)
}

// CreateEndpoint returns a model.Endpoint with a randomly generated Name
func CreateEndpoint() model.Endpoint {
	name := String(10)
	return model.Endpoint{
		ID:   String(12),
		Name: name,
		URI:  fmt.Sprintf("http://%s.test:8081/__/health", name),
	}
}

// GenerateDummyReport generates a health report with the provided overall status and
// a handful of checks carrying the same status
func GenerateDummyReport(status model.Status) model.HealthReport {
	entries := make(map[string]model.ReportEntry)
	for i := 0; i < 3; i++ {
		entries["check-"+String(8)] = model.ReportEntry{
			Status:      status,
			Description: "Description " + String(10),
			Duration:    "00:00:00.0010000",
		}
	}
	return model.HealthReport{
		Status:        status,
		TotalDuration: "00:00:00.0050000",
		Entries:       entries,
	}
}

// GenerateDummyExecution generates an execution for the given endpoint and status
func GenerateDummyExecution(endpoint model.Endpoint, status model.Status) model.Execution {
	report := GenerateDummyReport(status)
	now := time.Now().UTC().Truncate(time.Millisecond)
	return model.Execution{
		EndpointID:   endpoint.ID,
		Name:         endpoint.Name,
		URI:          endpoint.URI,
		Status:       status,
		Description:  report.FailingDescriptions(),
		OnStateFrom:  now,
		LastExecuted: now,
		Entries:      report.ToExecutionEntries(),
	}
}

// GenerateDummyHistoryEntry generates a history entry for the given endpoint name
func GenerateDummyHistoryEntry(name string, status model.Status, on time.Time) model.HistoryEntry {
	return model.HistoryEntry{
		Name:        name,
		Status:      status,
		Description: "Description " + String(10),
		On:          on,
	}
}

// FindEndpointByName returns the Endpoint with matching Name from a provided slice
func FindEndpointByName(name string, endpoints []model.Endpoint) model.Endpoint {
	for _, e := range endpoints {
		if e.Name == name {
			return e
		}
	}
	return model.Endpoint{}
}
