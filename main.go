package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"

	"github.com/globalsign/mgo"
	"github.com/google/uuid"
	cli "github.com/jawher/mow.cli"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/utilitywarehouse/go-operational/op"
	"github.com/utilitywarehouse/health-watcher/internal/config"
	"github.com/utilitywarehouse/health-watcher/internal/constants"
	"github.com/utilitywarehouse/health-watcher/internal/db"
	"github.com/utilitywarehouse/health-watcher/internal/discovery"
	"github.com/utilitywarehouse/health-watcher/internal/evaluator"
	"github.com/utilitywarehouse/health-watcher/internal/fetcher"
	"github.com/utilitywarehouse/health-watcher/internal/handlers"
	"github.com/utilitywarehouse/health-watcher/internal/httpserver"
	"github.com/utilitywarehouse/health-watcher/internal/instrumentation"
	"github.com/utilitywarehouse/health-watcher/internal/model"
	"github.com/utilitywarehouse/health-watcher/internal/notifier"
	_ "k8s.io/client-go/plugin/pkg/client/auth/oidc"
)

var (
	gitHash string // populated at compile time
)

func main() {
	app := cli.App(constants.AppName, "Polls health endpoints for registered services, records state transitions and notifies webhooks")
	port := app.Int(cli.IntOpt{
		Name:   "port",
		Desc:   "Port to listen on",
		EnvVar: "PORT",
		Value:  8080,
	})
	opsPort := app.Int(cli.IntOpt{
		Name:   "ops-port",
		Desc:   "The HTTP ops port",
		EnvVar: "OPS_PORT",
		Value:  8081,
	})
	writeTimeout := app.Int(cli.IntOpt{
		Name:   "write-timeout",
		Desc:   "The WriteTimeout for HTTP connections",
		EnvVar: "HTTP_WRITE_TIMEOUT",
		Value:  15,
	})
	readTimeout := app.Int(cli.IntOpt{
		Name:   "read-timeout",
		Desc:   "The ReadTimeout for HTTP connections",
		EnvVar: "HTTP_READ_TIMEOUT",
		Value:  15,
	})
	logLevel := app.String(cli.StringOpt{
		Name:   "log-level",
		Desc:   "Log level (e.g. INFO, DEBUG, WARN)",
		EnvVar: "LOG_LEVEL",
		Value:  "INFO",
	})
	dbURL := app.String(cli.StringOpt{
		Name:   "mongo-connection-string",
		Desc:   "Connection string to connect to mongo ex mongodb:27017/",
		EnvVar: "MONGO_CONNECTION_STRING",
		Value:  "127.0.0.1:27017/",
	})
	dropDB := app.Bool(cli.BoolOpt{
		Name:   "mongo-drop-db",
		Desc:   "Set to true in order to drop the DB on startup",
		EnvVar: "MONGO_DROP_DB",
		Value:  false,
	})
	removeAfterDays := app.Int(cli.IntOpt{
		Name:   "delete-history-after-days",
		Desc:   "Age of history entries in days after which they are deleted",
		EnvVar: "DELETE_HISTORY_AFTER_DAYS",
		Value:  7,
	})
	configPath := app.String(cli.StringOpt{
		Name:   "config-file",
		Desc:   "Path to the watcher config file (endpoints, webhooks, intervals)",
		EnvVar: "CONFIG_FILE",
		Value:  "",
	})
	fetchTimeout := app.Int(cli.IntOpt{
		Name:   "fetch-timeout",
		Desc:   "Timeout in seconds for a single health report fetch",
		EnvVar: "FETCH_TIMEOUT",
		Value:  constants.DefaultFetchTimeoutSecs,
	})
	enableKubeDiscovery := app.Bool(cli.BoolOpt{
		Name:   "enable-kube-discovery",
		Desc:   "Set to true to discover annotated services in the cluster",
		EnvVar: "ENABLE_KUBE_DISCOVERY",
		Value:  false,
	})
	kubeConfigPath := app.String(cli.StringOpt{
		Name:   "kubeconfig",
		Desc:   "(optional) absolute path to the kubeconfig file",
		EnvVar: "KUBECONFIG_FILEPATH",
		Value:  "",
	})

	app.Before = func() {
		setLogger(logLevel)
	}

	app.Action = func() {
		log.Debug("loading watcher config")

		cfg, cfgErr := config.Load(*configPath)
		if cfgErr != nil {
			log.WithError(cfgErr).Fatal("invalid watcher config")
		}

		log.Debug("dialling mongo")

		mgoSess := newMongoSession(*dbURL)
		defer mgoSess.Close()

		mgoRepo := createMongoRepoAndIndex(mgoSess, *dropDB, constants.DBName)
		store := db.NewMongoStore(mgoRepo)

		metrics := instrumentation.SetupMetrics()
		errs := make(chan error, 10)

		// Register manually configured endpoints before the first evaluation cycle
		registrar := discovery.NewRegistrar(store)
		for _, endpoint := range cfg.HealthChecks {
			if err := registrar.Register(model.Endpoint{Name: endpoint.Name, URI: endpoint.URI}); err != nil {
				log.WithError(err).Fatalf("failed to register configured endpoint %s", endpoint.Name)
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// The reloadQueue receives a request UUID. Items on the reloadQueue trigger
		// a fresh scan of the cluster for annotated services.
		reloadQueue := make(chan uuid.UUID, 1)

		if *enableKubeDiscovery {
			kubeClient := discovery.NewKubeClient(*kubeConfigPath)
			discoveryService := discovery.NewKubeDiscoveryService(kubeClient, registrar, "app", errs)

			// Register any endpoint candidates placed on the candidates channel
			go discoveryService.RegisterCandidates()

			// Rescan the cluster whenever a reload is requested
			go discoveryService.WatchReloadRequests(reloadQueue)

			// Place a new request onto the reload queue every 60 minutes
			reloadTicker := time.NewTicker(60 * time.Minute)
			go func() {
				for t := range reloadTicker.C {
					log.Infof("scheduling reload of discovered services at %v", t)
					select {
					case reloadQueue <- uuid.New():
					default:
					}
				}
			}()

			// Kick off an initial scan on startup
			reloadQueue <- uuid.New()
		}

		// Each concurrent consumer works on its own copied mongo session
		notifyStore := store.WithNewSession()
		defer notifyStore.Close()
		evalStore := store.WithNewSession()
		defer evalStore.Close()
		apiStore := store.WithNewSession()
		defer apiStore.Close()

		// Notify configured webhooks on status transitions, throttling repeat failures
		webhookNotifier := notifier.New(
			cfg.ModelWebhooks(),
			notifyStore,
			time.Duration(cfg.MinimumSecondsBetweenFailureNotifications)*time.Second,
			metrics,
		)

		// Evaluate all registered endpoints on a fixed interval
		reportFetcher := fetcher.New(time.Duration(*fetchTimeout) * time.Second)
		eval := evaluator.New(
			reportFetcher,
			evalStore,
			evalStore,
			webhookNotifier,
			time.Duration(cfg.EvaluationTimeInSeconds)*time.Second,
			cfg.MaximumHistoryEntriesPerEndpoint,
			metrics,
		)
		go eval.Run(ctx)

		// Schedule deletion of old history entries
		tidyTicker := time.NewTicker(60 * time.Minute)
		go func() {
			for t := range tidyTicker.C {
				log.Infof("tidying old history entries %v", t)
				tidyStore := store.WithNewSession()
				db.RemoveStaleHistory(tidyStore, *removeAfterDays, errs)
				tidyStore.Close()
			}
		}()

		// Log any errors that appear on the errs chan
		go func() {
			for e := range errs {
				log.Errorf("%v", e)
			}
		}()

		// Set up routes and start API
		router := handlers.NewRouter(apiStore, registrar, reloadQueue, cfg.MaximumHistoryEntriesPerEndpoint)
		allowedCORSMethods := h.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions})
		allowedCORSOrigins := h.AllowedOrigins([]string{"*"})
		server := httpserver.New(*port, router, *writeTimeout, *readTimeout, allowedCORSMethods, allowedCORSOrigins)
		go httpserver.Start(server)

		// Start the Ops HTTP server
		go initOpsHTTPServer(*opsPort, mgoSess, metrics)

		graceful(server, cancel, 10*time.Second)
	}
	app.Run(os.Args)
}

func newMongoSession(dbURL string) *mgo.Session {
	mgoSess, err := mgo.Dial(dbURL)
	if err != nil {
		log.WithError(err).Panicf("failed to connect to mongo using connection string %v", dbURL)
	}
	return mgoSess
}

func createMongoRepoAndIndex(mgoSess *mgo.Session, dropDB bool, dbName string) *db.MongoRepository {

	mgoRepo := db.NewMongoRepository(mgoSess, dbName)

	if dropDB {
		log.Info("dropping database")
		dropErr := db.NewMongoStore(mgoRepo).DropDB()
		if dropErr != nil {
			log.WithError(dropErr).Panic("failed to drop database")
		}
		log.Info("drop database successful")
	}

	createIndexes(mgoRepo)

	return mgoRepo
}

func graceful(hs *http.Server, cancelEvaluations context.CancelFunc, timeout time.Duration) {
	stop := make(chan os.Signal, 1)

	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop

	log.Info("Shutting down ")

	// Stop scheduling evaluations and cancel in-flight fetches and webhook sends
	cancelEvaluations()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := hs.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Error shutting down server")
	} else {
		log.Info("Server stopped")
	}
}

func setLogger(logLevel *string) {
	log.SetFormatter(&log.JSONFormatter{})
	lvl, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.WithError(err).Fatal("Error parsing log level")
	}
	log.SetLevel(lvl)
}

func createIndexes(mgoRepo *db.MongoRepository) {
	log.Debug("creating mongodb indexes")

	indexes := map[string]mgo.Index{
		constants.EndpointsCollection:     {Key: []string{"name"}, Unique: true},
		constants.ExecutionsCollection:    {Key: []string{"name"}, Unique: true},
		constants.HistoryCollection:       {Key: []string{"name", "-on"}},
		constants.NotificationsCollection: {Key: []string{"healthCheckName"}, Unique: true},
	}

	for collection, index := range indexes {
		if err := mgoRepo.Db().C(collection).EnsureIndex(index); err != nil {
			log.WithError(err).Panicf("failed to create index for collection %v", collection)
		}
	}
	log.Debug("index creation successful")
}

func initOpsHTTPServer(opsPort int, mgoSess *mgo.Session, metrics instrumentation.Metrics) {
	log.Info("starting ops server")

	promMetrics := []prometheus.Collector{}
	for _, cv := range metrics.Counters {
		promMetrics = append(promMetrics, cv)
	}
	for _, gv := range metrics.Gauges {
		promMetrics = append(promMetrics, gv)
	}
	for _, hv := range metrics.Histograms {
		promMetrics = append(promMetrics, hv)
	}
	if err := http.ListenAndServe(fmt.Sprintf(":%d", opsPort), op.NewHandler(op.
		NewStatus(constants.AppName, constants.AppDesc).
		AddOwner("labs", "#labs").
		AddLink("vcs", fmt.Sprintf("github.com/utilitywarehouse/health-watcher")).
		SetRevision(gitHash).
		AddMetrics(promMetrics...).
		ReadyAlways().
		WithInstrumentedChecks(),
	)); err != nil {
		log.WithError(err).Fatal("ops server has shut down")
	}
}
