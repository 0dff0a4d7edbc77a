package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/auth/oauth2"
	"github.com/abdul-hamid-achik/specrun/packages/core/runner"
	"github.com/abdul-hamid-achik/specrun/packages/http"
	"gopkg.in/yaml.v3"
)

// Config is the specrun configuration file. JSON files are read with the
// same decoder, so keys are identical in both formats.
type Config struct {
	BaseURL        string   `yaml:"baseUrl,omitempty"`
	Token          string   `yaml:"token,omitempty"`
	Concurrency    int      `yaml:"concurrency,omitempty"`
	Timeout        Duration `yaml:"timeout,omitempty"` // per case, retries included
	AttemptTimeout Duration `yaml:"attemptTimeout,omitempty"`
	Retries        *int     `yaml:"retries,omitempty"` // retries after the first attempt
	RetryDelay     Duration `yaml:"retryDelay,omitempty"`
	MaxRetryDelay  Duration `yaml:"maxRetryDelay,omitempty"`
	SuiteDeadline  Duration `yaml:"suiteDeadline,omitempty"`
	GracePeriod    Duration `yaml:"gracePeriod,omitempty"`
	Rate           float64  `yaml:"rate,omitempty"` // requests per second, 0 is unlimited

	FollowRedirects *bool             `yaml:"followRedirects,omitempty"`
	ValidateSSL     *bool             `yaml:"validateSSL,omitempty"`
	Proxy           string            `yaml:"proxy,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"` // Default headers for all requests
	Variables       map[string]any    `yaml:"variables,omitempty"`
	EnvFile         string            `yaml:"envFile,omitempty"`
	Pattern         string            `yaml:"pattern,omitempty"`

	WaitFor     string   `yaml:"waitFor,omitempty"`
	WaitTimeout Duration `yaml:"waitTimeout,omitempty"`

	JUnit       string   `yaml:"junit,omitempty"`
	JSON        string   `yaml:"json,omitempty"`
	Metrics     []string `yaml:"metrics,omitempty"`
	MetricsURL  string   `yaml:"metricsUrl,omitempty"`
	MetricsFile string   `yaml:"metricsFile,omitempty"`
	DataDogSite string   `yaml:"datadogSite,omitempty"`
	DataDogTags []string `yaml:"datadogTags,omitempty"`

	// Notifications are sent once per run
	SlackWebhook string `yaml:"slackWebhook,omitempty"`
	SlackChannel string `yaml:"slackChannel,omitempty"`
	TeamsWebhook string `yaml:"teamsWebhook,omitempty"`
	NotifyOn     string `yaml:"notifyOn,omitempty"` // always, failure, success or recovery

	// OAuth2 fetches the bearer token when Token is empty
	OAuth2 *OAuth2 `yaml:"oauth2,omitempty"`

	Verbose *bool `yaml:"verbose,omitempty"`
	NoColor *bool `yaml:"noColor,omitempty"`
}

type OAuth2 struct {
	TokenURL     string   `yaml:"tokenUrl,omitempty"`
	ClientID     string   `yaml:"clientId,omitempty"`
	ClientSecret string   `yaml:"clientSecret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
	GrantType    string   `yaml:"grantType,omitempty"` // client_credentials or password
	Username     string   `yaml:"username,omitempty"`
	Password     string   `yaml:"password,omitempty"`
}

func (o *OAuth2) merge(other *OAuth2) *OAuth2 {
	if o == nil {
		return other
	}
	if other == nil {
		return o
	}
	result := *o
	if other.TokenURL != "" {
		result.TokenURL = other.TokenURL
	}
	if other.ClientID != "" {
		result.ClientID = other.ClientID
	}
	if other.ClientSecret != "" {
		result.ClientSecret = other.ClientSecret
	}
	if len(other.Scopes) > 0 {
		result.Scopes = other.Scopes
	}
	if other.GrantType != "" {
		result.GrantType = other.GrantType
	}
	if other.Username != "" {
		result.Username = other.Username
	}
	if other.Password != "" {
		result.Password = other.Password
	}
	return &result
}

// TokenProvider returns nil when a static token is set or OAuth2 is not configured.
func (c *Config) TokenProvider(opts ...oauth2.Option) (*oauth2.Provider, error) {
	if c.Token != "" || c.OAuth2 == nil {
		return nil, nil
	}
	cfg := &oauth2.Config{
		TokenURL:     c.OAuth2.TokenURL,
		ClientID:     c.OAuth2.ClientID,
		ClientSecret: c.OAuth2.ClientSecret,
		Scopes:       c.OAuth2.Scopes,
		GrantType:    oauth2.GrantType(c.OAuth2.GrantType),
		Username:     c.OAuth2.Username,
		Password:     c.OAuth2.Password,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return oauth2.NewProvider(cfg, opts...), nil
}

// Duration accepts Go duration strings ("1.5s") or integer milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if node.ShortTag() == "!!int" {
		var ms int64
		if err := node.Decode(&ms); err != nil {
			return err
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q (use format like 30s, 1m, 500ms)", node.Line, node.Value)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}

// IntPtr returns a pointer to i
func IntPtr(i int) *int {
	return &i
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetFollowRedirects returns the follow redirects setting, defaulting to true
func (c *Config) GetFollowRedirects() bool {
	return getBool(c.FollowRedirects, true)
}

// GetValidateSSL returns the validate SSL setting, defaulting to true
func (c *Config) GetValidateSSL() bool {
	return getBool(c.ValidateSSL, true)
}

// GetVerbose returns the verbose setting, defaulting to false
func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// GetRetries returns the number of retries, defaulting to DefaultRetries
func (c *Config) GetRetries() int {
	if c.Retries == nil {
		return DefaultRetries
	}
	return *c.Retries
}

// ConfigFilenames contains the possible config file names, in lookup order
var ConfigFilenames = []string{
	".specrun.yaml",
	".specrun.yml",
	".specrun.json",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}

	// Return defaults if no config file found
	return DefaultConfig(), nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML or JSON document on top of the defaults.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var file Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return DefaultConfig().Merge(&file), nil
}

// Validate reports settings that can never be valid.
func (c *Config) Validate() error {
	var errs []error
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.Retries != nil && *c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative, got %d", *c.Retries))
	}
	if c.Rate < 0 {
		errs = append(errs, fmt.Errorf("rate must not be negative, got %g", c.Rate))
	}
	for name, d := range map[string]Duration{
		"timeout":        c.Timeout,
		"attemptTimeout": c.AttemptTimeout,
		"retryDelay":     c.RetryDelay,
		"maxRetryDelay":  c.MaxRetryDelay,
		"suiteDeadline":  c.SuiteDeadline,
		"gracePeriod":    c.GracePeriod,
		"waitTimeout":    c.WaitTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d.Std()))
		}
	}
	for _, m := range c.Metrics {
		switch strings.ToLower(strings.TrimSpace(m)) {
		case "prometheus", "datadog", "json":
		default:
			errs = append(errs, fmt.Errorf("unknown metrics sink %q (use prometheus, datadog or json)", m))
		}
	}
	switch c.NotifyOn {
	case "", "always", "failure", "success", "recovery":
	default:
		errs = append(errs, fmt.Errorf("unknown notifyOn %q (use always, failure, success or recovery)", c.NotifyOn))
	}
	return errors.Join(errs...)
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c // Copy

	if other.BaseURL != "" {
		result.BaseURL = other.BaseURL
	}
	if other.Token != "" {
		result.Token = other.Token
	}
	if other.Concurrency > 0 {
		result.Concurrency = other.Concurrency
	}
	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.AttemptTimeout > 0 {
		result.AttemptTimeout = other.AttemptTimeout
	}
	if other.Retries != nil {
		result.Retries = other.Retries
	}
	if other.RetryDelay > 0 {
		result.RetryDelay = other.RetryDelay
	}
	if other.MaxRetryDelay > 0 {
		result.MaxRetryDelay = other.MaxRetryDelay
	}
	if other.SuiteDeadline > 0 {
		result.SuiteDeadline = other.SuiteDeadline
	}
	if other.GracePeriod > 0 {
		result.GracePeriod = other.GracePeriod
	}
	if other.Rate > 0 {
		result.Rate = other.Rate
	}
	if other.Proxy != "" {
		result.Proxy = other.Proxy
	}
	if other.EnvFile != "" {
		result.EnvFile = other.EnvFile
	}
	if other.Pattern != "" {
		result.Pattern = other.Pattern
	}
	if other.WaitFor != "" {
		result.WaitFor = other.WaitFor
	}
	if other.WaitTimeout > 0 {
		result.WaitTimeout = other.WaitTimeout
	}
	if other.JUnit != "" {
		result.JUnit = other.JUnit
	}
	if other.JSON != "" {
		result.JSON = other.JSON
	}
	if other.MetricsURL != "" {
		result.MetricsURL = other.MetricsURL
	}
	if other.MetricsFile != "" {
		result.MetricsFile = other.MetricsFile
	}
	if other.DataDogSite != "" {
		result.DataDogSite = other.DataDogSite
	}
	if other.SlackWebhook != "" {
		result.SlackWebhook = other.SlackWebhook
	}
	if other.SlackChannel != "" {
		result.SlackChannel = other.SlackChannel
	}
	if other.TeamsWebhook != "" {
		result.TeamsWebhook = other.TeamsWebhook
	}
	if other.NotifyOn != "" {
		result.NotifyOn = other.NotifyOn
	}
	result.OAuth2 = c.OAuth2.merge(other.OAuth2)

	// Boolean flags - only override if explicitly set in other config
	if other.FollowRedirects != nil {
		result.FollowRedirects = other.FollowRedirects
	}
	if other.ValidateSSL != nil {
		result.ValidateSSL = other.ValidateSSL
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	if len(other.Headers) > 0 {
		headers := make(map[string]string, len(result.Headers)+len(other.Headers))
		for k, v := range result.Headers {
			headers[k] = v
		}
		for k, v := range other.Headers {
			headers[k] = v
		}
		result.Headers = headers
	}
	if len(other.Variables) > 0 {
		vars := make(map[string]any, len(result.Variables)+len(other.Variables))
		for k, v := range result.Variables {
			vars[k] = v
		}
		for k, v := range other.Variables {
			vars[k] = v
		}
		result.Variables = vars
	}

	if len(other.Metrics) > 0 {
		result.Metrics = other.Metrics
	}
	if len(other.DataDogTags) > 0 {
		result.DataDogTags = other.DataDogTags
	}

	return &result
}

// RetryPolicy converts the retry settings; retries count after the first attempt.
func (c *Config) RetryPolicy() http.RetryPolicy {
	return http.RetryPolicy{
		MaxAttempts: c.GetRetries() + 1,
		BaseDelay:   c.RetryDelay.Std(),
		MaxDelay:    c.MaxRetryDelay.Std(),
		Multiplier:  http.DefaultMultiplier,
	}
}

// ClientOptions returns the transport settings of the configuration.
func (c *Config) ClientOptions() []http.ClientOption {
	opts := []http.ClientOption{
		http.WithFollowRedirects(c.GetFollowRedirects()),
		http.WithValidateSSL(c.GetValidateSSL()),
	}
	if c.Proxy != "" {
		opts = append(opts, http.WithProxy(c.Proxy))
	}
	if c.Rate > 0 {
		opts = append(opts, http.WithRateLimit(c.Rate))
	}
	return opts
}

// RunnerConfig builds the runner settings; extra variables win over file variables.
func (c *Config) RunnerConfig(extra ...map[string]any) *runner.Config {
	sources := append([]map[string]any{c.Variables}, extra...)
	vars := make(map[string]any)
	for _, src := range sources {
		for k, v := range src {
			vars[k] = v
		}
	}

	return &runner.Config{
		Concurrency:    c.Concurrency,
		BaseURL:        c.BaseURL,
		Token:          c.Token,
		Headers:        c.Headers,
		Variables:      vars,
		CaseTimeout:    c.Timeout.Std(),
		AttemptTimeout: c.AttemptTimeout.Std(),
		Retry:          c.RetryPolicy(),
		SuiteDeadline:  c.SuiteDeadline.Std(),
		GracePeriod:    c.GracePeriod.Std(),
	}
}
