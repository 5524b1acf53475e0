package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
node_url: http://localhost:8080
node_token: node-secret
auth:
  secret: partner-secret
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":8090", cfg.ListenAddress)
	require.Equal(t, "checkout-gateway.db", cfg.DatabasePath)
	require.Equal(t, 15*time.Second, cfg.RequestTimeout.Duration)
	require.Equal(t, "scope", cfg.Auth.ScopeClaim)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, float64(120), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 30, cfg.RateLimit.Burst)
}

func TestLoadConfigParsesDurations(t *testing.T) {
	path := writeConfigFile(t, `
node_url: http://localhost:8080
node_token: node-secret
request_timeout: 45s
auth:
  secret: partner-secret
  clock_skew: 30s
rate_limit:
  requests_per_minute: 600
  burst: 50
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, cfg.RequestTimeout.Duration)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, float64(600), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 50, cfg.RateLimit.Burst)
}

func TestLoadConfigResolvesSecretsFromEnvironment(t *testing.T) {
	t.Setenv("TEST_CHECKOUT_AUTH_SECRET", "env-partner-secret")
	t.Setenv("TEST_CHECKOUT_NODE_TOKEN", "env-node-token")
	path := writeConfigFile(t, `
node_url: http://localhost:8080
node_token_env: TEST_CHECKOUT_NODE_TOKEN
auth:
  secret_env: TEST_CHECKOUT_AUTH_SECRET
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "env-partner-secret", cfg.Auth.Secret)
	require.Equal(t, "env-node-token", cfg.NodeAuthToken)
}

func TestLoadConfigResolvesSecretFile(t *testing.T) {
	secretPath := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secretPath, []byte("file-partner-secret\n"), 0o600))
	path := writeConfigFile(t, `
node_url: http://localhost:8080
node_token: node-secret
auth:
  secret_file: `+secretPath+`
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "file-partner-secret", cfg.Auth.Secret)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing node url",
			yaml: `
node_token: node-secret
auth:
  secret: partner-secret
`,
			wantErr: "node_url",
		},
		{
			name: "missing node token",
			yaml: `
node_url: http://localhost:8080
auth:
  secret: partner-secret
`,
			wantErr: "node_token",
		},
		{
			name: "missing auth secret",
			yaml: `
node_url: http://localhost:8080
node_token: node-secret
`,
			wantErr: "auth secret",
		},
		{
			name: "empty secret env",
			yaml: `
node_url: http://localhost:8080
node_token: node-secret
auth:
  secret_env: TEST_CHECKOUT_UNSET_SECRET
`,
			wantErr: "TEST_CHECKOUT_UNSET_SECRET",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.yaml)
			_, err := LoadConfig(path)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDurationRejectsMalformedValues(t *testing.T) {
	path := writeConfigFile(t, `
node_url: http://localhost:8080
node_token: node-secret
request_timeout: soon
auth:
  secret: partner-secret
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse duration")
}
