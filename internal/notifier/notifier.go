package notifier

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/utilitywarehouse/health-watcher/internal/constants"
	"github.com/utilitywarehouse/health-watcher/internal/instrumentation"
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

// NotificationStore persists the notifier's view of endpoint liveness
type NotificationStore interface {
	FindFailureNotification(name string) (model.FailureNotification, bool, error)
	UpsertFailureNotification(notification model.FailureNotification) error
}

// WebhookNotifier delivers failure and recovery payloads to the configured webhooks,
// throttling repeated failure notifications per endpoint
type WebhookNotifier struct {
	Client      httpClient
	Webhooks    []model.Webhook
	Store       NotificationStore
	MinInterval time.Duration
	Timeout     time.Duration
	Metrics     instrumentation.Metrics
	Now         func() time.Time
}

// New returns a WebhookNotifier with a shared http client
func New(webhooks []model.Webhook, store NotificationStore, minInterval time.Duration, metrics instrumentation.Metrics) *WebhookNotifier {
	return &WebhookNotifier{
		Client:      client,
		Webhooks:    webhooks,
		Store:       store,
		MinInterval: minInterval,
		Timeout:     constants.DefaultWebhookTimeoutSecs * time.Second,
		Metrics:     metrics,
		Now:         time.Now,
	}
}

// NotifyDown announces that an endpoint has become unhealthy. The notification is
// suppressed when the endpoint is already known to be down and the throttle window
// has not yet elapsed. The failure notification record is updated after the sends
// are attempted, regardless of delivery outcome.
func (n *WebhookNotifier) NotifyDown(ctx context.Context, name string, report model.HealthReport) {

	record, found, err := n.Store.FindFailureNotification(name)
	if err != nil {
		log.WithError(err).Errorf("failed to load failure notification record for %s", name)
		return
	}

	now := n.Now()

	if found && !record.IsUpAndRunning && now.Sub(record.LastNotified) < n.MinInterval {
		log.WithFields(log.Fields{
			"endpoint":     name,
			"lastNotified": record.LastNotified,
		}).Info("failure notification suppressed - within throttle window")
		n.count("failure", "suppressed")
		return
	}

	failure := report.FailureMessage()
	descriptions := report.FailingDescriptions()

	for _, webhook := range n.Webhooks {
		payload := renderPayload(webhook.Payload, name, failure, descriptions)
		n.send(ctx, webhook, payload)
	}
	n.count("failure", "sent")

	if err := n.Store.UpsertFailureNotification(model.FailureNotification{
		HealthCheckName: name,
		LastNotified:    now,
		IsUpAndRunning:  false,
	}); err != nil {
		log.WithError(err).Errorf("failed to record failure notification for %s", name)
	}
}

// NotifyUp announces that an endpoint has recovered. Recoveries are announced once
// per failure episode and are never throttled.
func (n *WebhookNotifier) NotifyUp(ctx context.Context, name string) {

	record, found, err := n.Store.FindFailureNotification(name)
	if err != nil {
		log.WithError(err).Errorf("failed to load failure notification record for %s", name)
		return
	}

	if !found || record.IsUpAndRunning {
		return
	}

	for _, webhook := range n.Webhooks {
		template := webhook.RestoredPayload
		if template == "" {
			template = webhook.Payload
		}
		payload := renderPayload(template, name, "", "")
		n.send(ctx, webhook, payload)
	}
	n.count("recovery", "sent")

	if err := n.Store.UpsertFailureNotification(model.FailureNotification{
		HealthCheckName: name,
		LastNotified:    n.Now(),
		IsUpAndRunning:  true,
	}); err != nil {
		log.WithError(err).Errorf("failed to record recovery notification for %s", name)
	}
}

// send delivers a single payload to a single webhook. Failures are logged and never
// propagate - one webhook failing must not block the others.
func (n *WebhookNotifier) send(ctx context.Context, webhook model.Webhook, payload string) {

	req, err := http.NewRequest(http.MethodPost, webhook.URI, bytes.NewBufferString(payload))
	if err != nil {
		log.WithError(err).Errorf("failed to create request for webhook %s", webhook.Name)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := n.Client.Do(req)
	if err != nil {
		log.WithError(err).Errorf("failed to deliver notification to webhook %s", webhook.Name)
		return
	}
	defer func() {
		io.Copy(ioutil.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Errorf("webhook %s returned non-2xx status code (%v)", webhook.Name, resp.StatusCode)
		return
	}

	log.Debugf("delivered notification to webhook %s", webhook.Name)
}

func (n *WebhookNotifier) count(kind string, result string) {
	counter, ok := n.Metrics.Counters[constants.HealthWatcherNotifications]
	if !ok {
		return
	}
	counter.With(map[string]string{constants.NotificationKind: kind, constants.NotificationResult: result}).Inc()
}

// renderPayload substitutes the payload bookmarks. Unresolved placeholders are left
// verbatim.
func renderPayload(template string, name string, failure string, descriptions string) string {
	payload := strings.Replace(template, constants.LivenessBookmark, name, -1)
	payload = strings.Replace(payload, constants.FailureBookmark, failure, -1)
	payload = strings.Replace(payload, constants.DescriptionsBookmark, descriptions, -1)
	return payload
}
