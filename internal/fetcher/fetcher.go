package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/utilitywarehouse/health-watcher/internal/constants"
	"github.com/utilitywarehouse/health-watcher/internal/model"
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

// Fetcher retrieves and normalises health report documents from remote endpoints
type Fetcher struct {
	client  httpClient
	timeout time.Duration
}

// New returns a Fetcher with a shared http client and the given per-fetch timeout
func New(timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = constants.DefaultFetchTimeoutSecs * time.Second
	}
	return &Fetcher{client: client, timeout: timeout}
}

// Fetch performs an HTTP GET against the endpoint URI and returns a normalised health
// report. All failure modes collapse into a synthesized Unhealthy report plus a
// transport failure outcome - Fetch never returns an error. A 503 with a well-formed
// body is a legitimate report, not a transport failure.
func (f *Fetcher) Fetch(ctx context.Context, endpoint model.Endpoint) (model.HealthReport, model.FetchOutcome) {
	log.Debugf("fetching health report from %v", endpoint.URI)

	req, err := http.NewRequest(http.MethodGet, endpoint.URI, nil)
	if err != nil {
		return transportFailure(fmt.Sprintf("could not build request for %v: (%v)", endpoint.URI, err))
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := f.client.Do(req)
	if err != nil {
		return transportFailure(fmt.Sprintf("could not get response from %v: (%v)", endpoint.URI, err))
	}
	defer func() {
		io.Copy(ioutil.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return transportFailure(fmt.Sprintf("health endpoint returned %d for %s", resp.StatusCode, endpoint.URI))
	}

	var report model.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return transportFailure(fmt.Sprintf("could not json decode health response for %s: (%v)", endpoint.URI, err))
	}

	if report.Entries == nil {
		report.Entries = map[string]model.ReportEntry{}
	}

	return report, model.OutcomeReport
}

// transportFailure synthesizes an Unhealthy report carrying the error text as the
// single entry's description, so the evaluator has a uniform contract
func transportFailure(errText string) (model.HealthReport, model.FetchOutcome) {
	return model.HealthReport{
		Status: model.Unhealthy,
		Entries: map[string]model.ReportEntry{
			"endpoint": {
				Status:      model.Unhealthy,
				Description: errText,
				Exception:   errText,
			},
		},
	}, model.OutcomeTransportFailure
}
