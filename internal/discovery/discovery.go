package discovery

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/utilitywarehouse/health-watcher/internal/config"
	"github.com/utilitywarehouse/health-watcher/internal/constants"
	"github.com/utilitywarehouse/health-watcher/internal/model"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

var (
	client = &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 128,
			Dial: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).Dial,
		},
	}
)

type httpClient interface {
	Do(req *http.Request) (resp *http.Response, err error)
}

// EndpointRepository persists registered endpoint configurations
type EndpointRepository interface {
	FindEndpointByURI(uri string) (model.Endpoint, bool, error)
	UpsertEndpoint(endpoint model.Endpoint) error
}

// Registrar registers endpoints on behalf of discovery integrations. Registration is
// idempotent: an endpoint already registered with the same uri is left untouched.
type Registrar struct {
	Endpoints EndpointRepository
	Client    httpClient
}

// NewRegistrar returns a Registrar with a shared http client
func NewRegistrar(endpoints EndpointRepository) *Registrar {
	return &Registrar{Endpoints: endpoints, Client: client}
}

// RegisterService registers an endpoint discovered by the named integration. The
// endpoint is probed first and only registered when it answers with a health report
// status code (200 or 503).
func (r *Registrar) RegisterService(service string, name string, uri string) error {

	if err := config.ValidateEndpointURI(uri); err != nil {
		return err
	}

	_, found, err := r.Endpoints.FindEndpointByURI(uri)
	if err != nil {
		return err
	}
	if found {
		log.Debugf("skipping service %s at %s, already registered", name, uri)
		return nil
	}

	ok, err := r.probe(uri)
	if err != nil {
		return fmt.Errorf("could not probe discovered service %s at %s: (%v)", name, uri, err)
	}
	if !ok {
		log.Infof("discovered service %s at %s did not answer like a health endpoint - not registering", name, uri)
		return nil
	}

	if err := r.Register(model.Endpoint{
		ID:               uuid.New().String(),
		Name:             name,
		URI:              uri,
		DiscoveryService: service,
	}); err != nil {
		return err
	}

	log.Infof("registered discovered endpoint %s at %s via %s", name, uri, service)
	return nil
}

// Register validates and persists an endpoint configuration without probing. Used for
// manually configured endpoints.
func (r *Registrar) Register(endpoint model.Endpoint) error {

	if endpoint.Name == "" {
		return fmt.Errorf("endpoint at %s is missing a name", endpoint.URI)
	}
	if err := config.ValidateEndpointURI(endpoint.URI); err != nil {
		return err
	}
	if endpoint.ID == "" {
		endpoint.ID = uuid.New().String()
	}

	return r.Endpoints.UpsertEndpoint(endpoint)
}

func (r *Registrar) probe(uri string) (bool, error) {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return false, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusServiceUnavailable, nil
}

// Annotations holds the health watcher annotations read from a k8s resource
type Annotations struct {
	Enable string
	Port   string
}

// KubeDiscoveryService discovers annotated k8s services and registers their health
// endpoints through the Registrar
type KubeDiscoveryService struct {
	K8sClient  kubernetes.Interface
	Label      string
	Registrar  *Registrar
	Candidates chan model.Endpoint
	Errors     chan error
}

// NewKubeDiscoveryService returns a KubeDiscoveryService scanning services carrying
// the given label
func NewKubeDiscoveryService(k8sClient kubernetes.Interface, registrar *Registrar, label string, errs chan error) *KubeDiscoveryService {
	return &KubeDiscoveryService{
		K8sClient:  k8sClient,
		Label:      label,
		Registrar:  registrar,
		Candidates: make(chan model.Endpoint, 1000),
		Errors:     errs,
	}
}

// NewKubeClient returns a kube client for in cluster or out of cluster operation
// depending on whether or not a kubeconfig file path is provided
func NewKubeClient(kubeConfigPath string) *kubernetes.Clientset {

	var cfg *rest.Config
	var err error
	if kubeConfigPath != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeConfigPath)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		log.Fatalf("Failed to create kubernetes client: %v", err)
	}

	kubeClientSet, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		log.Panic(err)
	}

	return kubeClientSet
}

// Scan lists namespaces and labelled services, resolves their health watcher
// annotations and places registration candidates on the Candidates channel
func (s *KubeDiscoveryService) Scan() {

	log.Info("scanning cluster for annotated services")
	defaultAnnotations := Annotations{Enable: constants.DefaultEnableDiscovery, Port: constants.DefaultDiscoveryPort}

	namespaces, err := s.K8sClient.CoreV1().Namespaces().List(metav1.ListOptions{})
	if err != nil {
		select {
		case s.Errors <- fmt.Errorf("could not get namespaces via kubernetes api: (%v)", err):
		default:
		}
		return
	}

	for _, n := range namespaces.Items {
		namespaceAnnotations := getAnnotations(n.Annotations)
		namespaceAnnotations = overrideParentAnnotations(namespaceAnnotations, defaultAnnotations)

		services, err := s.K8sClient.CoreV1().Services(n.Name).List(metav1.ListOptions{LabelSelector: s.Label})
		if err != nil {
			select {
			case s.Errors <- fmt.Errorf("could not get services via kubernetes api: (%v)", err):
			default:
			}
			return
		}

		for _, svc := range services.Items {
			serviceAnnotations := getAnnotations(svc.Annotations)
			serviceAnnotations = overrideParentAnnotations(serviceAnnotations, namespaceAnnotations)

			if serviceAnnotations.Enable != "true" {
				continue
			}

			s.Candidates <- model.Endpoint{
				Name:             fmt.Sprintf("%s/%s", n.Name, svc.Name),
				URI:              fmt.Sprintf("http://%s.%s:%s/__/health", svc.Name, n.Name, serviceAnnotations.Port),
				DiscoveryService: constants.KubernetesDiscoveryService,
			}
			log.Debugf("added service %v in namespace %v to candidates channel", svc.Name, n.Name)
		}
	}
}

// RegisterCandidates ranges over the Candidates channel registering each discovered
// endpoint, sending any errors to a channel of type error
func (s *KubeDiscoveryService) RegisterCandidates() {
	for candidate := range s.Candidates {
		if err := s.Registrar.RegisterService(candidate.DiscoveryService, candidate.Name, candidate.URI); err != nil {
			select {
			case s.Errors <- err:
			default:
			}
		}
	}
}

// WatchReloadRequests triggers a new cluster scan for every request placed on the
// reload queue
func (s *KubeDiscoveryService) WatchReloadRequests(reloadQueue chan uuid.UUID) {
	for requestID := range reloadQueue {
		log.Infof("reloading cluster service discovery for request %v", requestID)
		s.Scan()
	}
}

func getAnnotations(annotations map[string]string) Annotations {
	var a Annotations
	for k, value := range annotations {
		if k == constants.PortAnnotation {
			a.Port = value
		}
		if k == constants.EnableAnnotation {
			if value == "true" || value == "false" {
				a.Enable = value
			}
		}
	}
	return a
}

func overrideParentAnnotations(a Annotations, overrides Annotations) Annotations {
	if a.Port == "" {
		a.Port = overrides.Port
	}
	if a.Enable == "" {
		a.Enable = overrides.Enable
	}
	return a
}
