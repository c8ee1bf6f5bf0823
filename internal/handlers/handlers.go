package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/utilitywarehouse/health-watcher/internal/model"
)

// Store is the read side of the watcher state consumed by the API
type Store interface {
	ListEndpoints() ([]model.Endpoint, error)
	FindEndpointByName(name string) (model.Endpoint, bool, error)
	DeleteEndpoint(name string) error
	FindExecution(name string) (model.Execution, bool, error)
	ListExecutions() ([]model.Execution, error)
	FindExecutionHistory(name string, limit int) ([]model.HistoryEntry, error)
	ListFailureNotifications() ([]model.FailureNotification, error)
}

// Registrar registers manually configured endpoints
type Registrar interface {
	Register(endpoint model.Endpoint) error
}

type byStateThenByName []model.Execution

func (a byStateThenByName) Len() int      { return len(a) }
func (a byStateThenByName) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a byStateThenByName) Less(i, j int) bool {
	if a[i].StatePriority < a[j].StatePriority {
		return true
	}
	if a[i].StatePriority > a[j].StatePriority {
		return false
	}
	return a[i].Name < a[j].Name
}

// NewRouter returns a *mux.Router with all required routes and handlers set up.
// maxHistory bounds the number of history entries returned per endpoint.
func NewRouter(store Store, registrar Registrar, reloadQueue chan uuid.UUID, maxHistory int) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/reload", reload(reloadQueue)).Methods(http.MethodPost)
	r.Handle("/kube-ops/ready", yo()).Methods(http.MethodGet)
	r.Handle("/endpoints", getAllEndpoints(store)).Methods(http.MethodGet)
	r.Handle("/endpoints", registerEndpoint(registrar)).Methods(http.MethodPost)
	r.Handle("/endpoints/{name}", deleteEndpoint(store)).Methods(http.MethodDelete)
	r.Handle("/endpoints/{name}/execution", getExecutionForEndpoint(store)).Methods(http.MethodGet)
	r.Handle("/endpoints/{name}/history", getHistoryForEndpoint(store, maxHistory)).Methods(http.MethodGet)
	r.Handle("/executions", getLatestExecutions(store)).Methods(http.MethodGet)
	r.Handle("/notifications", getFailureNotifications(store)).Methods(http.MethodGet)

	return r
}

func reload(reloadQueue chan uuid.UUID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case reloadQueue <- uuid.New():
			responseWithJSON(w, http.StatusOK, map[string]string{"message": "ok"})
		default:
			errorWithJSON(w, "reload already in progress", http.StatusTooManyRequests)
		}
	})
}

func yo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(200)
		fmt.Fprint(w, "Yo!")
	})
}

func getAllEndpoints(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoints, err := store.ListEndpoints()
		if err != nil {
			log.WithError(err).Errorf("database error - failed to get all endpoints")
			errorWithJSON(w, "Database error", http.StatusInternalServerError)
			return
		}

		responseWithJSON(w, http.StatusOK, endpoints)
	})
}

func registerEndpoint(registrar Registrar) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var endpoint model.Endpoint
		if err := json.NewDecoder(r.Body).Decode(&endpoint); err != nil {
			errorWithJSON(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := registrar.Register(endpoint); err != nil {
			log.WithError(err).WithField("endpoint", endpoint.Name).Info("rejected endpoint registration")
			errorWithJSON(w, err.Error(), http.StatusBadRequest)
			return
		}

		responseWithJSON(w, http.StatusCreated, endpoint)
	})
}

func deleteEndpoint(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		_, found, err := store.FindEndpointByName(name)
		if err != nil {
			log.WithField("endpoint", name).WithError(err).Errorf("database error")
			errorWithJSON(w, "Database error", http.StatusInternalServerError)
			return
		}
		if !found {
			errorWithJSON(w, "endpoint not found", http.StatusNotFound)
			return
		}

		if err := store.DeleteEndpoint(name); err != nil {
			log.WithField("endpoint", name).WithError(err).Errorf("database error - failed to delete endpoint")
			errorWithJSON(w, "Database error", http.StatusInternalServerError)
			return
		}

		responseWithJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	})
}

func getExecutionForEndpoint(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		execution, found, err := store.FindExecution(name)
		if err != nil {
			log.WithField("endpoint", name).WithError(err).Errorf("database error")
			errorWithJSON(w, "Database error", http.StatusInternalServerError)
			return
		}
		if !found {
			errorWithJSON(w, "no execution recorded for endpoint", http.StatusNotFound)
			return
		}

		enriched := []model.Execution{execution}
		enrichExecutionData(enriched)
		responseWithJSON(w, http.StatusOK, enriched[0])
	})
}

func getHistoryForEndpoint(store Store, maxHistory int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		history, err := store.FindExecutionHistory(name, maxHistory)
		if err != nil {
			log.WithField("endpoint", name).WithError(err).Errorf("database error")
			errorWithJSON(w, "Database error", http.StatusInternalServerError)
			return
		}

		responseWithJSON(w, http.StatusOK, history)
	})
}

func getLatestExecutions(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		executions, err := store.ListExecutions()
		if err != nil {
			log.WithError(err).Errorf("database error - failed to get executions")
			errorWithJSON(w, "Database error", http.StatusInternalServerError)
			return
		}

		// Assign a numeric value for each state for later sorting and humanise timestamps
		enrichExecutionData(executions)
		// We want to see the failures at the top
		sort.Sort(byStateThenByName(executions))

		responseWithJSON(w, http.StatusOK, executions)
	})
}

func getFailureNotifications(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notifications, err := store.ListFailureNotifications()
		if err != nil {
			log.WithError(err).Errorf("database error - failed to get failure notifications")
			errorWithJSON(w, "Database error", http.StatusInternalServerError)
			return
		}

		responseWithJSON(w, http.StatusOK, notifications)
	})
}

func enrichExecutionData(executions []model.Execution) {

	for idx, execution := range executions {
		executions[idx].HumanisedLastCheck = humanize.Time(execution.LastExecuted)
		executions[idx].HumanisedStateSince = humanize.Time(execution.OnStateFrom)

		switch execution.Status {
		case model.Unhealthy:
			executions[idx].StatePriority = 1
		case model.Degraded:
			executions[idx].StatePriority = 2
		case model.Healthy:
			executions[idx].StatePriority = 3
		}
	}
}

func errorWithJSON(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprintf(w, "{message: %q}", message)
}

func responseWithJSON(w http.ResponseWriter, successCode int, payload interface{}) {

	respBody, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.WithError(err).Errorf("json marshal error")
		errorWithJSON(w, "json marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(successCode)
	w.Write(respBody)
}
