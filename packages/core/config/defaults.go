package config

import (
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/core/runner"
	"github.com/abdul-hamid-achik/specrun/packages/core/spec"
	"github.com/abdul-hamid-achik/specrun/packages/http"
)

// DefaultRetries is the number of retries after a transport failure
const DefaultRetries = http.DefaultMaxAttempts - 1

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Concurrency:     runner.DefaultConcurrency,
		Timeout:         Duration(runner.DefaultCaseTimeout),
		AttemptTimeout:  Duration(runner.DefaultAttemptTimeout),
		Retries:         IntPtr(DefaultRetries),
		RetryDelay:      Duration(http.DefaultBaseDelay),
		MaxRetryDelay:   Duration(http.DefaultMaxDelay),
		GracePeriod:     Duration(runner.DefaultGracePeriod),
		FollowRedirects: BoolPtr(true),
		ValidateSSL:     BoolPtr(true),
		Pattern:         spec.DefaultPattern,
		WaitTimeout:     Duration(30 * time.Second),
		DataDogSite:     "datadoghq.com",
		NotifyOn:        "failure",
		Verbose:         BoolPtr(false),
		NoColor:         BoolPtr(false),
	}
}
