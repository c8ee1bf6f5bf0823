package db

import (
	"fmt"
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/utilitywarehouse/health-watcher/internal/constants"
	"github.com/utilitywarehouse/health-watcher/internal/model"
)

// MongoStore exposes repository operations over endpoints, executions, history and
// failure notifications. It is an explicitly passed handle - callers own the
// underlying session lifecycle.
type MongoStore struct {
	Repo *MongoRepository
}

// NewMongoStore returns a MongoStore backed by the given repository
func NewMongoStore(repo *MongoRepository) *MongoStore {
	return &MongoStore{Repo: repo}
}

// WithNewSession returns a MongoStore bound to a copied session
func (s *MongoStore) WithNewSession() *MongoStore {
	return &MongoStore{Repo: s.Repo.WithNewSession()}
}

// Close closes the underlying session
func (s *MongoStore) Close() {
	s.Repo.Close()
}

// ListEndpoints returns all registered endpoint configurations
func (s *MongoStore) ListEndpoints() ([]model.Endpoint, error) {

	collection := s.Repo.Db().C(constants.EndpointsCollection)

	endpoints := []model.Endpoint{}
	if err := collection.Find(bson.M{}).Sort("name").All(&endpoints); err != nil {
		return nil, errors.Wrap(err, "failed to get all endpoints")
	}

	return endpoints, nil
}

// FindEndpointByName returns the endpoint with the given name
func (s *MongoStore) FindEndpointByName(name string) (model.Endpoint, bool, error) {

	collection := s.Repo.Db().C(constants.EndpointsCollection)

	var endpoint model.Endpoint
	if err := collection.Find(bson.M{"name": name}).One(&endpoint); err != nil {
		if err == mgo.ErrNotFound {
			return model.Endpoint{}, false, nil
		}
		return model.Endpoint{}, false, errors.Wrapf(err, "failed to get endpoint %s", name)
	}

	return endpoint, true, nil
}

// FindEndpointByURI returns the endpoint registered with the given uri
func (s *MongoStore) FindEndpointByURI(uri string) (model.Endpoint, bool, error) {

	collection := s.Repo.Db().C(constants.EndpointsCollection)

	var endpoint model.Endpoint
	if err := collection.Find(bson.M{"uri": uri}).One(&endpoint); err != nil {
		if err == mgo.ErrNotFound {
			return model.Endpoint{}, false, nil
		}
		return model.Endpoint{}, false, errors.Wrapf(err, "failed to get endpoint for uri %s", uri)
	}

	return endpoint, true, nil
}

// UpsertEndpoint inserts or fully replaces the endpoint identified by name
func (s *MongoStore) UpsertEndpoint(endpoint model.Endpoint) error {

	collection := s.Repo.Db().C(constants.EndpointsCollection)

	if _, err := collection.Upsert(bson.M{"name": endpoint.Name}, endpoint); err != nil {
		return errors.Wrapf(err, "failed to upsert endpoint %s", endpoint.Name)
	}

	return nil
}

// DeleteEndpoint removes the endpoint and all state recorded for it
func (s *MongoStore) DeleteEndpoint(name string) error {

	db := s.Repo.Db()

	if err := db.C(constants.EndpointsCollection).Remove(bson.M{"name": name}); err != nil && err != mgo.ErrNotFound {
		return errors.Wrapf(err, "failed to delete endpoint %s", name)
	}
	if _, err := db.C(constants.ExecutionsCollection).RemoveAll(bson.M{"name": name}); err != nil {
		log.WithError(err).Warnf("failed to delete execution for endpoint %s", name)
	}
	if _, err := db.C(constants.HistoryCollection).RemoveAll(bson.M{"name": name}); err != nil {
		log.WithError(err).Warnf("failed to delete history for endpoint %s", name)
	}

	return nil
}

// FindExecution returns the latest execution recorded for the named endpoint
func (s *MongoStore) FindExecution(name string) (model.Execution, bool, error) {

	collection := s.Repo.Db().C(constants.ExecutionsCollection)

	var execution model.Execution
	if err := collection.Find(bson.M{"name": name}).One(&execution); err != nil {
		if err == mgo.ErrNotFound {
			return model.Execution{}, false, nil
		}
		return model.Execution{}, false, errors.Wrapf(err, "failed to get execution for endpoint %s", name)
	}

	return execution, true, nil
}

// ListExecutions returns the latest execution for every endpoint
func (s *MongoStore) ListExecutions() ([]model.Execution, error) {

	collection := s.Repo.Db().C(constants.ExecutionsCollection)

	executions := []model.Execution{}
	if err := collection.Find(bson.M{}).Sort("name").All(&executions); err != nil {
		return nil, errors.Wrap(err, "failed to get all executions")
	}

	return executions, nil
}

// UpsertExecution fully replaces the execution identified by the endpoint name.
// Last-writer-wins at the granularity of one endpoint.
func (s *MongoStore) UpsertExecution(execution model.Execution) error {

	collection := s.Repo.Db().C(constants.ExecutionsCollection)

	if _, err := collection.Upsert(bson.M{"name": execution.Name}, execution); err != nil {
		return errors.Wrapf(err, "failed to upsert execution for endpoint %s", execution.Name)
	}

	return nil
}

type historyDocument struct {
	ID          bson.ObjectId `bson:"_id,omitempty"`
	Name        string        `bson:"name"`
	Status      model.Status  `bson:"status"`
	Description string        `bson:"description"`
	On          time.Time     `bson:"on"`
}

// FindExecutionHistory returns up to limit history entries for the named endpoint,
// newest first
func (s *MongoStore) FindExecutionHistory(name string, limit int) ([]model.HistoryEntry, error) {

	collection := s.Repo.Db().C(constants.HistoryCollection)

	entries := []model.HistoryEntry{}
	if err := collection.Find(bson.M{"name": name}).Sort("-on").Limit(limit).All(&entries); err != nil {
		return nil, errors.Wrapf(err, "failed to get history for endpoint %s", name)
	}

	return entries, nil
}

// AppendExecutionHistory appends a history entry for an endpoint and enforces the
// per-endpoint maximum by evicting the oldest entries first
func (s *MongoStore) AppendExecutionHistory(entry model.HistoryEntry, maxEntries int) error {

	collection := s.Repo.Db().C(constants.HistoryCollection)

	if err := collection.Insert(entry); err != nil {
		return errors.Wrapf(err, "failed to insert history entry for endpoint %s", entry.Name)
	}

	count, err := collection.Find(bson.M{"name": entry.Name}).Count()
	if err != nil {
		return errors.Wrapf(err, "failed to count history entries for endpoint %s", entry.Name)
	}
	if count <= maxEntries {
		return nil
	}

	var surplus []historyDocument
	if err := collection.Find(bson.M{"name": entry.Name}).Sort("on").Limit(count - maxEntries).All(&surplus); err != nil {
		return errors.Wrapf(err, "failed to find surplus history entries for endpoint %s", entry.Name)
	}

	ids := make([]bson.ObjectId, 0, len(surplus))
	for _, doc := range surplus {
		ids = append(ids, doc.ID)
	}

	if _, err := collection.RemoveAll(bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return errors.Wrapf(err, "failed to evict history entries for endpoint %s", entry.Name)
	}

	return nil
}

// RemoveHistoryOlderThan deletes history entries older than the given number of days
func (s *MongoStore) RemoveHistoryOlderThan(removeAfterDays int) error {

	collection := s.Repo.Db().C(constants.HistoryCollection)

	if _, err := collection.RemoveAll(bson.M{"on": bson.M{"$lt": time.Now().AddDate(0, 0, -removeAfterDays)}}); err != nil {
		return errors.Wrap(err, "failed to delete old history entries")
	}

	return nil
}

// FindFailureNotification returns the failure notification record for the named endpoint
func (s *MongoStore) FindFailureNotification(name string) (model.FailureNotification, bool, error) {

	collection := s.Repo.Db().C(constants.NotificationsCollection)

	var notification model.FailureNotification
	if err := collection.Find(bson.M{"healthCheckName": name}).One(&notification); err != nil {
		if err == mgo.ErrNotFound {
			return model.FailureNotification{}, false, nil
		}
		return model.FailureNotification{}, false, errors.Wrapf(err, "failed to get failure notification for %s", name)
	}

	return notification, true, nil
}

// ListFailureNotifications returns all failure notification records
func (s *MongoStore) ListFailureNotifications() ([]model.FailureNotification, error) {

	collection := s.Repo.Db().C(constants.NotificationsCollection)

	notifications := []model.FailureNotification{}
	if err := collection.Find(bson.M{}).Sort("healthCheckName").All(&notifications); err != nil {
		return nil, errors.Wrap(err, "failed to get all failure notifications")
	}

	return notifications, nil
}

// UpsertFailureNotification inserts or fully replaces the failure notification record
// identified by the endpoint name
func (s *MongoStore) UpsertFailureNotification(notification model.FailureNotification) error {

	collection := s.Repo.Db().C(constants.NotificationsCollection)

	if _, err := collection.Upsert(bson.M{"healthCheckName": notification.HealthCheckName}, notification); err != nil {
		return errors.Wrapf(err, "failed to upsert failure notification for %s", notification.HealthCheckName)
	}

	return nil
}

// DropDB drops the database
func (s *MongoStore) DropDB() error {
	return s.Repo.Db().DropDatabase()
}

// RemoveStaleHistory deletes old history entries, sending any errors to a channel of type error
func RemoveStaleHistory(store *MongoStore, removeAfterDays int, errs chan error) {
	if err := store.RemoveHistoryOlderThan(removeAfterDays); err != nil {
		select {
		case errs <- fmt.Errorf("could not delete old history entries (%v)", err):
		default:
		}
	}
}
