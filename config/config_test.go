package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fullYAML = `
static_ttl: 1h
primary_host: static-primary.s3.amazonaws.com
fallback_host: static-fallback.s3.amazonaws.com
distribution_host: dumps.example.net
request_logs_endpoint: request-logs
service_logs_endpoint: service-logs
endpoints:
  request-logs: /var/log/edge/requests.log.zst
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullYAML))
	require.NoError(t, err)

	require.Equal(t, time.Hour, cfg.StaticTTL)
	require.Equal(t, "static-primary.s3.amazonaws.com", cfg.PrimaryHost)
	require.Equal(t, "static-fallback.s3.amazonaws.com", cfg.FallbackHost)
	require.Equal(t, "dumps.example.net", cfg.DistributionHost)
	require.Equal(t, "request-logs", cfg.RequestLogsEndpoint)
	require.Equal(t, "service-logs", cfg.ServiceLogsEndpoint)
	require.Equal(t, "/var/log/edge/requests.log.zst", cfg.Destination("request-logs"))
	require.Equal(t, "stdout", cfg.Destination("service-logs"))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EDGE_PRIMARY_HOST", "override.example.com")
	t.Setenv("EDGE_STATIC_TTL", "600")
	t.Setenv("EDGE_ENDPOINTS__SERVICE-LOGS", "stderr")

	cfg, err := Load(writeConfig(t, fullYAML))
	require.NoError(t, err)

	require.Equal(t, "override.example.com", cfg.PrimaryHost)
	require.Equal(t, 10*time.Minute, cfg.StaticTTL)
	require.Equal(t, "stderr", cfg.Destination("service-logs"))
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("EDGE_STATIC_TTL", "31536000")
	t.Setenv("EDGE_PRIMARY_HOST", "primary")
	t.Setenv("EDGE_FALLBACK_HOST", "fallback")
	t.Setenv("EDGE_DISTRIBUTION_HOST", "cdn.example.net")
	t.Setenv("EDGE_REQUEST_LOGS_ENDPOINT", "requests")
	t.Setenv("EDGE_SERVICE_LOGS_ENDPOINT", "service")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 365*24*time.Hour, cfg.StaticTTL)
	require.Equal(t, "cdn.example.net", cfg.DistributionHost)
}

func TestLoadMissingFields(t *testing.T) {
	_, err := Load(writeConfig(t, "static_ttl: 1h\nprimary_host: primary\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "FallbackHost")
	require.Contains(t, err.Error(), "DistributionHost")
	require.Contains(t, err.Error(), "RequestLogsEndpoint")
	require.Contains(t, err.Error(), "ServiceLogsEndpoint")
}

func TestLoadMissingTTL(t *testing.T) {
	body := `
primary_host: a
fallback_host: b
distribution_host: c
request_logs_endpoint: d
service_logs_endpoint: e
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "StaticTTL")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "3600", want: time.Hour},
		{raw: " 60 ", want: time.Minute},
		{raw: "90s", want: 90 * time.Second},
		{raw: "24h", want: 24 * time.Hour},
		{raw: "1s", want: time.Second},
		{raw: "9223372036", want: 9223372036 * time.Second},
		{raw: "0", wantErr: true},
		{raw: "500ms", wantErr: true},
		{raw: "9223372037", wantErr: true},
		{raw: "99999999999", wantErr: true},
		{raw: "-5", wantErr: true},
		{raw: "-1h", wantErr: true},
		{raw: "forever", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTTL(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTTL)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestValidateRejectsSubSecondTTL(t *testing.T) {
	cfg := Config{
		StaticTTL:           500 * time.Millisecond,
		PrimaryHost:         "a",
		FallbackHost:        "b",
		DistributionHost:    "c",
		RequestLogsEndpoint: "d",
		ServiceLogsEndpoint: "e",
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "StaticTTL")

	cfg.StaticTTL = time.Second
	require.NoError(t, cfg.Validate())
}

func TestLoadEndpointNamesCaseInsensitive(t *testing.T) {
	body := `
static_ttl: 1h
primary_host: a
fallback_host: b
distribution_host: c
request_logs_endpoint: RequestLogs
service_logs_endpoint: ServiceLogs
endpoints:
  ServiceLogs: /var/log/edge/service.log
  RequestLogs: /var/log/edge/requests.log
`
	t.Setenv("EDGE_ENDPOINTS__REQUESTLOGS", "stderr")

	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	require.Equal(t, "requestlogs", cfg.RequestLogsEndpoint)
	require.Equal(t, "servicelogs", cfg.ServiceLogsEndpoint)
	require.Equal(t, "stderr", cfg.Destination("RequestLogs"))
	require.Equal(t, "stderr", cfg.Endpoints[cfg.RequestLogsEndpoint])
	require.Equal(t, "/var/log/edge/service.log", cfg.Endpoints[cfg.ServiceLogsEndpoint])
}
