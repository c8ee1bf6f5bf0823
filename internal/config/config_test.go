package config

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, pattern string, content string) string {
	t.Helper()
	f, err := ioutil.TempFile("", pattern)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func Test_LoadAppliesDefaultsWithoutAConfigFile(t *testing.T) {

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.EvaluationTimeInSeconds)
	assert.Equal(t, 600, cfg.MinimumSecondsBetweenFailureNotifications)
	assert.Equal(t, 50, cfg.MaximumHistoryEntriesPerEndpoint)
	assert.Empty(t, cfg.HealthChecks)
	assert.Empty(t, cfg.Webhooks)
}

func Test_LoadReadsEndpointsAndWebhooks(t *testing.T) {

	path := writeConfigFile(t, "watcher*.json", `{
		"evaluationTimeInSeconds": 30,
		"healthChecks": [
			{"name": "billing-api", "uri": "http://billing-api:8081/__/health"}
		],
		"webhooks": [
			{
				"name": "slack",
				"uri": "https://hooks.slack.com/services/x",
				"payload": "{\"text\":\"[[LIVENESS]] [[FAILURE]]\"}",
				"restoredPayload": "{\"text\":\"[[LIVENESS]] is back\"}"
			}
		]
	}`)

	defer os.Remove(path)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.EvaluationTimeInSeconds)
	assert.Equal(t, 600, cfg.MinimumSecondsBetweenFailureNotifications)
	require.Equal(t, 1, len(cfg.HealthChecks))
	assert.Equal(t, "billing-api", cfg.HealthChecks[0].Name)
	require.Equal(t, 1, len(cfg.Webhooks))

	webhooks := cfg.ModelWebhooks()
	require.Equal(t, 1, len(webhooks))
	assert.Equal(t, "slack", webhooks[0].Name)
	assert.Equal(t, `{"text":"[[LIVENESS]] is back"}`, webhooks[0].RestoredPayload)
}

func Test_LoadReadsYAML(t *testing.T) {

	path := writeConfigFile(t, "watcher*.yaml", `
evaluationTimeInSeconds: 15
healthChecks:
  - name: billing-api
    uri: http://billing-api:8081/__/health
`)

	defer os.Remove(path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.EvaluationTimeInSeconds)
	require.Equal(t, 1, len(cfg.HealthChecks))
}

func Test_LoadRejectsInvalidConfigs(t *testing.T) {

	testCases := []struct {
		name    string
		content string
	}{
		{
			name:    "non positive evaluation interval",
			content: `{"evaluationTimeInSeconds": 0}`,
		},
		{
			name:    "negative throttle window",
			content: `{"minimumSecondsBetweenFailureNotifications": -1}`,
		},
		{
			name:    "non positive history bound",
			content: `{"maximumHistoryEntriesPerEndpoint": -5}`,
		},
		{
			name:    "endpoint without a name",
			content: `{"healthChecks": [{"uri": "http://billing-api:8081/__/health"}]}`,
		},
		{
			name:    "duplicate endpoint names",
			content: `{"healthChecks": [{"name": "a", "uri": "http://a:8081/__/health"}, {"name": "a", "uri": "http://b:8081/__/health"}]}`,
		},
		{
			name:    "relative endpoint uri",
			content: `{"healthChecks": [{"name": "a", "uri": "/__/health"}]}`,
		},
		{
			name:    "non http endpoint uri",
			content: `{"healthChecks": [{"name": "a", "uri": "ftp://a/__/health"}]}`,
		},
		{
			name:    "webhook without a payload",
			content: `{"webhooks": [{"name": "slack", "uri": "https://hooks.slack.com/services/x"}]}`,
		},
		{
			name:    "webhook without a name",
			content: `{"webhooks": [{"uri": "https://hooks.slack.com/services/x", "payload": "{}"}]}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, "watcher*.json", tc.content)
			defer os.Remove(path)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func Test_LoadFailsOnMissingConfigFile(t *testing.T) {

	_, err := Load("/nonexistent/watcher.json")
	assert.Error(t, err)
}

func Test_ValidateEndpointURI(t *testing.T) {

	assert.NoError(t, ValidateEndpointURI("http://billing-api:8081/__/health"))
	assert.NoError(t, ValidateEndpointURI("https://billing-api/__/health"))

	assert.Error(t, ValidateEndpointURI(""))
	assert.Error(t, ValidateEndpointURI("/__/health"))
	assert.Error(t, ValidateEndpointURI("billing-api:8081"))
	assert.Error(t, ValidateEndpointURI("http://"))
}
