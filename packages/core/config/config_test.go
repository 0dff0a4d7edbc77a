package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Timeout.Std())
	assert.Equal(t, 10*time.Second, cfg.AttemptTimeout.Std())
	assert.Equal(t, 2, cfg.GetRetries())
	assert.Equal(t, 5*time.Second, cfg.GracePeriod.Std())
	assert.True(t, cfg.GetFollowRedirects())
	assert.True(t, cfg.GetValidateSSL())
	assert.False(t, cfg.GetVerbose())
	assert.False(t, cfg.GetNoColor())
	assert.Equal(t, "**/*.{yaml,yml,json}", cfg.Pattern)
}

func TestGetters_NilPointers(t *testing.T) {
	cfg := &Config{}
	assert.True(t, cfg.GetFollowRedirects())
	assert.True(t, cfg.GetValidateSSL())
	assert.False(t, cfg.GetVerbose())
	assert.Equal(t, DefaultRetries, cfg.GetRetries())

	cfg.Retries = IntPtr(0)
	assert.Equal(t, 0, cfg.GetRetries())
}

func TestParse_YAML(t *testing.T) {
	cfg, err := Parse([]byte(`
baseUrl: https://api.example.com
concurrency: 8
timeout: 5s
attemptTimeout: 1500
retries: 0
validateSSL: false
headers:
  X-Client: specrun
variables:
  tenant: acme
  limit: 25
metrics: [prometheus, json]
`))
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Timeout.Std())
	assert.Equal(t, 1500*time.Millisecond, cfg.AttemptTimeout.Std())
	assert.Equal(t, 0, cfg.GetRetries())
	assert.False(t, cfg.GetValidateSSL())
	assert.True(t, cfg.GetFollowRedirects())
	assert.Equal(t, map[string]string{"X-Client": "specrun"}, cfg.Headers)
	assert.Equal(t, map[string]any{"tenant": "acme", "limit": 25}, cfg.Variables)
	assert.Equal(t, []string{"prometheus", "json"}, cfg.Metrics)
	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Second, cfg.GracePeriod.Std())
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"baseUrl": "http://localhost:8080", "concurrency": 2, "gracePeriod": "250ms", "noColor": true}`))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.GracePeriod.Std())
	assert.True(t, cfg.GetNoColor())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", "baseURL: http://x\n", "field baseURL not found"},
		{"bad duration", "timeout: soon\n", "invalid duration"},
		{"negative concurrency", "concurrency: -1\n", "concurrency must be positive"},
		{"negative retries", "retries: -2\n", "retries must not be negative"},
		{"unknown sink", "metrics: [statsd]\n", "unknown metrics sink"},
		{"negative duration", "gracePeriod: -1s\n", "gracePeriod must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestFindAndLoadConfig(t *testing.T) {
	t.Run("no file returns defaults", func(t *testing.T) {
		cfg, err := FindAndLoadConfig(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("yaml wins over json", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, ".specrun.json", `{"concurrency": 3}`)
		writeFile(t, dir, ".specrun.yaml", "concurrency: 7\n")

		cfg, err := FindAndLoadConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Concurrency)
	})

	t.Run("errors name the file", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, ".specrun.yml", "concurrency: lots\n")

		_, err := FindAndLoadConfig(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), path)
	})
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	path := writeFile(t, t.TempDir(), "ci.yaml", "token: abc\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Token)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	base := &Config{
		BaseURL:     "http://file",
		Concurrency: 5,
		Retries:     IntPtr(2),
		Verbose:     BoolPtr(true),
		Headers:     map[string]string{"A": "1", "B": "2"},
		Variables:   map[string]any{"x": 1},
	}
	override := &Config{
		BaseURL:     "http://flag",
		Retries:     IntPtr(0),
		ValidateSSL: BoolPtr(false),
		Headers:     map[string]string{"B": "3"},
		Variables:   map[string]any{"y": 2},
	}

	merged := base.Merge(override)

	assert.Equal(t, "http://flag", merged.BaseURL)
	assert.Equal(t, 5, merged.Concurrency)
	assert.Equal(t, 0, merged.GetRetries())
	assert.True(t, merged.GetVerbose())
	assert.False(t, merged.GetValidateSSL())
	assert.Equal(t, map[string]string{"A": "1", "B": "3"}, merged.Headers)
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, merged.Variables)

	// the receiver is not modified
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, base.Headers)
	assert.Same(t, base, base.Merge(nil))
}

func TestRunnerConfig(t *testing.T) {
	cfg := DefaultConfig().Merge(&Config{
		BaseURL:       "http://api",
		Token:         "secret",
		Retries:       IntPtr(4),
		RetryDelay:    Duration(50 * time.Millisecond),
		SuiteDeadline: Duration(time.Minute),
		Variables:     map[string]any{"tenant": "file", "region": "eu"},
	})

	rc := cfg.RunnerConfig(map[string]any{"tenant": "cli"})

	assert.Equal(t, "http://api", rc.BaseURL)
	assert.Equal(t, "secret", rc.Token)
	assert.Equal(t, 5, rc.Concurrency)
	assert.Equal(t, 30*time.Second, rc.CaseTimeout)
	assert.Equal(t, time.Minute, rc.SuiteDeadline)
	assert.Equal(t, http.RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    http.DefaultMaxDelay,
		Multiplier:  http.DefaultMultiplier,
	}, rc.Retry)
	assert.Equal(t, map[string]any{"tenant": "cli", "region": "eu"}, rc.Variables)
}

func TestClientOptions(t *testing.T) {
	assert.Len(t, DefaultConfig().ClientOptions(), 2)

	cfg := DefaultConfig().Merge(&Config{Proxy: "http://proxy:3128", Rate: 10})
	assert.Len(t, cfg.ClientOptions(), 4)
}

func TestParse_Notifications(t *testing.T) {
	cfg, err := Parse([]byte(`
slackWebhook: https://hooks.slack.com/services/T/B/X
notifyOn: recovery
`))
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/X", cfg.SlackWebhook)
	assert.Equal(t, "recovery", cfg.NotifyOn)

	_, err = Parse([]byte("notifyOn: sometimes\n"))
	assert.ErrorContains(t, err, `unknown notifyOn "sometimes"`)

	assert.Equal(t, "failure", DefaultConfig().NotifyOn)
}

func TestOAuth2(t *testing.T) {
	cfg, err := Parse([]byte(`
oauth2:
  tokenUrl: https://auth.example.com/token
  clientId: specrun
  scopes: [read]
`))
	require.NoError(t, err)

	merged := cfg.Merge(&Config{OAuth2: &OAuth2{ClientSecret: "s3cret"}})
	require.NotNil(t, merged.OAuth2)
	assert.Equal(t, "https://auth.example.com/token", merged.OAuth2.TokenURL)
	assert.Equal(t, "specrun", merged.OAuth2.ClientID)
	assert.Equal(t, "s3cret", merged.OAuth2.ClientSecret)
	assert.Equal(t, []string{"read"}, merged.OAuth2.Scopes)
	assert.Empty(t, cfg.OAuth2.ClientSecret)

	provider, err := merged.TokenProvider()
	require.NoError(t, err)
	assert.NotNil(t, provider)

	// A static token wins over OAuth2.
	provider, err = merged.Merge(&Config{Token: "static"}).TokenProvider()
	require.NoError(t, err)
	assert.Nil(t, provider)

	provider, err = DefaultConfig().TokenProvider()
	require.NoError(t, err)
	assert.Nil(t, provider)

	_, err = DefaultConfig().Merge(&Config{OAuth2: &OAuth2{ClientID: "x"}}).TokenProvider()
	assert.ErrorContains(t, err, "token URL is required")
}
