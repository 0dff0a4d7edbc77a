package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/core/config"
	"github.com/abdul-hamid-achik/specrun/packages/core/env"
	"github.com/abdul-hamid-achik/specrun/packages/core/runner"
	"github.com/abdul-hamid-achik/specrun/packages/core/spec"
	"github.com/abdul-hamid-achik/specrun/packages/export/metrics"
	"github.com/abdul-hamid-achik/specrun/packages/http"
	"github.com/abdul-hamid-achik/specrun/packages/notify"
	"github.com/abdul-hamid-achik/specrun/packages/output"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <file|directory>...",
	Short: "Run API test suites",
	Long: `Run the cases of one or more suite documents against a live API.

Exit status is 0 when every case passed and 1 otherwise.

Examples:
  specrun run users.yaml --base-url http://localhost:8080
  specrun run ./tests/ -c 10 --token $API_TOKEN
  specrun run ./tests/ --junit report.xml --metrics prometheus --metrics-url http://gateway:9091
  specrun run ./tests/ --var tenant=acme --env-file .env.test
  specrun run ./tests/ --wait-for /health --wait-timeout 1m
  specrun run ./tests/ --watch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	configFlag         string
	envFileFlag        string
	patternFlag        string
	baseURLFlag        string
	tokenFlag          string
	varFlags           []string
	headerFlags        []string
	concurrencyFlag    int
	timeoutFlag        time.Duration
	attemptTimeoutFlag time.Duration
	retriesFlag        int
	retryDelayFlag     time.Duration
	maxRetryDelayFlag  time.Duration
	suiteDeadlineFlag  time.Duration
	gracePeriodFlag    time.Duration
	rateFlag           float64
	waitForFlag        string
	waitTimeoutFlag    time.Duration

	// Output flags
	verboseFlag bool
	noColorFlag bool
	junitFlag   string
	jsonFlag    string
	watchFlag   bool

	// Network flags
	proxyFlag    string
	insecureFlag bool

	// Metrics flags
	metricsFlag       string
	metricsURLFlag    string
	metricsFileFlag   string
	datadogAPIKeyFlag string
	datadogSiteFlag   string
	datadogTagsFlag   string

	// Notification flags
	slackWebhookFlag string
	slackChannelFlag string
	teamsWebhookFlag string
	notifyOnFlag     string

	// OAuth2 flags
	oauth2TokenURLFlag     string
	oauth2ClientIDFlag     string
	oauth2ClientSecretFlag string
	oauth2ScopesFlag       string
)

// flagEnv maps run flags to their environment fallback.
var flagEnv = map[string]string{
	"config":          "SPECRUN_CONFIG",
	"env-file":        "SPECRUN_ENV_FILE",
	"pattern":         "SPECRUN_PATTERN",
	"base-url":        "SPECRUN_BASE_URL",
	"token":           "SPECRUN_TOKEN",
	"concurrency":     "SPECRUN_CONCURRENCY",
	"timeout":         "SPECRUN_TIMEOUT",
	"attempt-timeout": "SPECRUN_ATTEMPT_TIMEOUT",
	"retries":         "SPECRUN_RETRIES",
	"retry-delay":     "SPECRUN_RETRY_DELAY",
	"max-retry-delay": "SPECRUN_MAX_RETRY_DELAY",
	"suite-deadline":  "SPECRUN_SUITE_DEADLINE",
	"grace-period":    "SPECRUN_GRACE_PERIOD",
	"rate":            "SPECRUN_RATE",
	"wait-for":        "SPECRUN_WAIT_FOR",
	"wait-timeout":    "SPECRUN_WAIT_TIMEOUT",
	"verbose":         "SPECRUN_VERBOSE",
	"no-color":        "SPECRUN_NO_COLOR",
	"junit":           "SPECRUN_JUNIT",
	"json":            "SPECRUN_JSON",
	"proxy":           "SPECRUN_PROXY",
	"insecure":        "SPECRUN_INSECURE",
	"metrics":         "SPECRUN_METRICS",
	"metrics-url":     "SPECRUN_METRICS_URL",
	"metrics-file":    "SPECRUN_METRICS_FILE",
	"datadog-api-key": "DD_API_KEY",
	"datadog-site":    "DD_SITE",
	"datadog-tags":    "DD_TAGS",
	"slack-webhook":   "SPECRUN_SLACK_WEBHOOK",
	"slack-channel":   "SPECRUN_SLACK_CHANNEL",
	"teams-webhook":   "SPECRUN_TEAMS_WEBHOOK",
	"notify-on":       "SPECRUN_NOTIFY_ON",

	"oauth2-token-url":     "SPECRUN_OAUTH2_TOKEN_URL",
	"oauth2-client-id":     "SPECRUN_OAUTH2_CLIENT_ID",
	"oauth2-client-secret": "SPECRUN_OAUTH2_CLIENT_SECRET",
	"oauth2-scopes":        "SPECRUN_OAUTH2_SCOPES",
}

func usage(text, flag string) string {
	return fmt.Sprintf("%s (env: %s)", text, flagEnv[flag])
}

func init() {
	f := runCmd.Flags()

	// Core flags
	f.StringVar(&configFlag, "config", getEnvString(flagEnv["config"], ""), usage("Path to config file", "config"))
	f.StringVar(&envFileFlag, "env-file", getEnvString(flagEnv["env-file"], ""), usage("Path to .env file whose entries become variables", "env-file"))
	f.StringVar(&patternFlag, "pattern", getEnvString(flagEnv["pattern"], ""), usage("Glob selecting suite files inside directories (default "+spec.DefaultPattern+")", "pattern"))
	f.StringVar(&baseURLFlag, "base-url", getEnvString(flagEnv["base-url"], ""), usage("Base URL joined to relative case URLs", "base-url"))
	f.StringVar(&tokenFlag, "token", getEnvString(flagEnv["token"], ""), usage("Bearer token sent unless a case sets Authorization", "token"))
	f.StringArrayVar(&varFlags, "var", nil, "Set a variable (key=value, repeatable)")
	f.StringArrayVar(&headerFlags, "header", nil, "Add a default header (name:value, repeatable)")

	// Execution flags
	f.IntVarP(&concurrencyFlag, "concurrency", "c", getEnvInt(flagEnv["concurrency"], runner.DefaultConcurrency), usage("Maximum number of in-flight cases", "concurrency"))
	f.DurationVar(&timeoutFlag, "timeout", getEnvDuration(flagEnv["timeout"], runner.DefaultCaseTimeout), usage("Per-case timeout, retries included", "timeout"))
	f.DurationVar(&attemptTimeoutFlag, "attempt-timeout", getEnvDuration(flagEnv["attempt-timeout"], runner.DefaultAttemptTimeout), usage("Per-attempt timeout", "attempt-timeout"))
	f.IntVar(&retriesFlag, "retries", getEnvInt(flagEnv["retries"], config.DefaultRetries), usage("Retries after a transport failure", "retries"))
	f.DurationVar(&retryDelayFlag, "retry-delay", getEnvDuration(flagEnv["retry-delay"], http.DefaultBaseDelay), usage("Delay before the first retry, doubled per retry", "retry-delay"))
	f.DurationVar(&maxRetryDelayFlag, "max-retry-delay", getEnvDuration(flagEnv["max-retry-delay"], http.DefaultMaxDelay), usage("Maximum delay between retries", "max-retry-delay"))
	f.DurationVar(&suiteDeadlineFlag, "suite-deadline", getEnvDuration(flagEnv["suite-deadline"], 0), usage("Cancel each suite after this long (0 disables)", "suite-deadline"))
	f.DurationVar(&gracePeriodFlag, "grace-period", getEnvDuration(flagEnv["grace-period"], runner.DefaultGracePeriod), usage("How long in-flight cases may finish after cancellation", "grace-period"))
	f.Float64Var(&rateFlag, "rate", getEnvFloat(flagEnv["rate"], 0), usage("Maximum requests per second (0 is unlimited)", "rate"))
	f.StringVar(&waitForFlag, "wait-for", getEnvString(flagEnv["wait-for"], ""), usage("Poll this URL until it returns 200 before running", "wait-for"))
	f.DurationVar(&waitTimeoutFlag, "wait-timeout", getEnvDuration(flagEnv["wait-timeout"], runner.DefaultWaitTimeout), usage("How long to wait for --wait-for", "wait-timeout"))

	// Output flags
	f.BoolVarP(&verboseFlag, "verbose", "v", getEnvBool(flagEnv["verbose"], false), usage("Print request details, attempts and captures", "verbose"))
	f.BoolVar(&noColorFlag, "no-color", getEnvBool(flagEnv["no-color"], false), usage("Disable colored output", "no-color"))
	f.StringVar(&junitFlag, "junit", getEnvString(flagEnv["junit"], ""), usage("Write a JUnit XML report to this file", "junit"))
	f.StringVar(&jsonFlag, "json", getEnvString(flagEnv["json"], ""), usage("Write a JSON report to this file", "json"))
	f.BoolVarP(&watchFlag, "watch", "w", false, "Watch files for changes and re-run suites")

	// Network flags
	f.StringVar(&proxyFlag, "proxy", getEnvString(flagEnv["proxy"], ""), usage("Proxy URL for HTTP requests", "proxy"))
	f.BoolVarP(&insecureFlag, "insecure", "k", getEnvBool(flagEnv["insecure"], false), usage("Disable SSL certificate validation", "insecure"))

	// Metrics flags
	f.StringVar(&metricsFlag, "metrics", getEnvString(flagEnv["metrics"], ""), usage("Metrics sinks: prometheus, datadog, json (comma-separated)", "metrics"))
	f.StringVar(&metricsURLFlag, "metrics-url", getEnvString(flagEnv["metrics-url"], ""), usage("Prometheus Pushgateway URL", "metrics-url"))
	f.StringVar(&metricsFileFlag, "metrics-file", getEnvString(flagEnv["metrics-file"], ""), usage("Output file for JSON metrics (default: stdout)", "metrics-file"))
	f.StringVar(&datadogAPIKeyFlag, "datadog-api-key", getEnvString(flagEnv["datadog-api-key"], ""), usage("DataDog API key", "datadog-api-key"))
	f.StringVar(&datadogSiteFlag, "datadog-site", getEnvString(flagEnv["datadog-site"], ""), usage("DataDog site (default datadoghq.com)", "datadog-site"))
	f.StringVar(&datadogTagsFlag, "datadog-tags", getEnvString(flagEnv["datadog-tags"], ""), usage("Comma-separated DataDog tags", "datadog-tags"))

	// Notification flags
	f.StringVar(&slackWebhookFlag, "slack-webhook", getEnvString(flagEnv["slack-webhook"], ""), usage("Slack incoming webhook for run summaries", "slack-webhook"))
	f.StringVar(&slackChannelFlag, "slack-channel", getEnvString(flagEnv["slack-channel"], ""), usage("Slack channel override", "slack-channel"))
	f.StringVar(&teamsWebhookFlag, "teams-webhook", getEnvString(flagEnv["teams-webhook"], ""), usage("Microsoft Teams webhook for run summaries", "teams-webhook"))
	f.StringVar(&oauth2TokenURLFlag, "oauth2-token-url", getEnvString(flagEnv["oauth2-token-url"], ""), usage("Fetch the bearer token from this OAuth2 token endpoint", "oauth2-token-url"))
	f.StringVar(&oauth2ClientIDFlag, "oauth2-client-id", getEnvString(flagEnv["oauth2-client-id"], ""), usage("OAuth2 client id", "oauth2-client-id"))
	f.StringVar(&oauth2ClientSecretFlag, "oauth2-client-secret", getEnvString(flagEnv["oauth2-client-secret"], ""), usage("OAuth2 client secret", "oauth2-client-secret"))
	f.StringVar(&oauth2ScopesFlag, "oauth2-scopes", getEnvString(flagEnv["oauth2-scopes"], ""), usage("Comma-separated OAuth2 scopes", "oauth2-scopes"))
	f.StringVar(&notifyOnFlag, "notify-on", getEnvString(flagEnv["notify-on"], string(notify.NotifyFailure)), usage("When to notify: always, failure, success or recovery", "notify-on"))
}

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// flagOverrides collects the flags that were given on the command line or
// through their environment fallback. Flags left at their default do not
// override the config file.
func flagOverrides(cmd *cobra.Command) (*config.Config, error) {
	set := func(name string) bool {
		if cmd.Flags().Changed(name) {
			return true
		}
		key, ok := flagEnv[name]
		return ok && os.Getenv(key) != ""
	}

	o := &config.Config{}
	if set("env-file") {
		o.EnvFile = envFileFlag
	}
	if set("pattern") {
		o.Pattern = patternFlag
	}
	if set("base-url") {
		o.BaseURL = baseURLFlag
	}
	if set("token") {
		o.Token = tokenFlag
	}
	if set("concurrency") {
		if concurrencyFlag < 1 {
			return nil, fmt.Errorf("--concurrency must be at least 1, got %d", concurrencyFlag)
		}
		o.Concurrency = concurrencyFlag
	}
	if set("timeout") {
		o.Timeout = config.Duration(timeoutFlag)
	}
	if set("attempt-timeout") {
		o.AttemptTimeout = config.Duration(attemptTimeoutFlag)
	}
	if set("retries") {
		o.Retries = config.IntPtr(retriesFlag)
	}
	if set("retry-delay") {
		o.RetryDelay = config.Duration(retryDelayFlag)
	}
	if set("max-retry-delay") {
		o.MaxRetryDelay = config.Duration(maxRetryDelayFlag)
	}
	if set("suite-deadline") {
		o.SuiteDeadline = config.Duration(suiteDeadlineFlag)
	}
	if set("grace-period") {
		o.GracePeriod = config.Duration(gracePeriodFlag)
	}
	if set("rate") {
		o.Rate = rateFlag
	}
	if set("wait-for") {
		o.WaitFor = waitForFlag
	}
	if set("wait-timeout") {
		o.WaitTimeout = config.Duration(waitTimeoutFlag)
	}
	if set("verbose") {
		o.Verbose = config.BoolPtr(verboseFlag)
	}
	if set("no-color") {
		o.NoColor = config.BoolPtr(noColorFlag)
	}
	if set("junit") {
		o.JUnit = junitFlag
	}
	if set("json") {
		o.JSON = jsonFlag
	}
	if set("proxy") {
		o.Proxy = proxyFlag
	}
	if set("insecure") {
		o.ValidateSSL = config.BoolPtr(!insecureFlag)
	}
	if set("metrics") {
		o.Metrics = splitList(metricsFlag)
	}
	if set("metrics-url") {
		o.MetricsURL = metricsURLFlag
	}
	if set("metrics-file") {
		o.MetricsFile = metricsFileFlag
	}
	if set("datadog-site") {
		o.DataDogSite = datadogSiteFlag
	}
	if set("datadog-tags") {
		o.DataDogTags = splitList(datadogTagsFlag)
	}
	if set("slack-webhook") {
		o.SlackWebhook = slackWebhookFlag
	}
	if set("slack-channel") {
		o.SlackChannel = slackChannelFlag
	}
	if set("teams-webhook") {
		o.TeamsWebhook = teamsWebhookFlag
	}
	if set("notify-on") {
		o.NotifyOn = notifyOnFlag
	}

	oauth := &config.OAuth2{}
	if set("oauth2-token-url") {
		oauth.TokenURL = oauth2TokenURLFlag
	}
	if set("oauth2-client-id") {
		oauth.ClientID = oauth2ClientIDFlag
	}
	if set("oauth2-client-secret") {
		oauth.ClientSecret = oauth2ClientSecretFlag
	}
	if set("oauth2-scopes") {
		oauth.Scopes = splitList(oauth2ScopesFlag)
	}
	if oauth.TokenURL != "" || oauth.ClientID != "" || oauth.ClientSecret != "" || len(oauth.Scopes) > 0 {
		o.OAuth2 = oauth
	}

	headers, err := parseHeaders(headerFlags)
	if err != nil {
		return nil, err
	}
	o.Headers = headers

	vars, err := parseVars(varFlags)
	if err != nil {
		return nil, err
	}
	o.Variables = vars

	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseVars parses repeated key=value flags.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || !env.IsIdentifier(key) {
			return nil, fmt.Errorf("invalid --var %q (use name=value)", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

// parseHeaders parses repeated name:value flags.
func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --header %q (use name:value)", pair)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

func warnFunc(w io.Writer) env.WarnFunc {
	yellow := color.New(color.FgYellow).SprintFunc()
	return func(format string, args ...any) {
		fmt.Fprintf(w, "%s %s\n", yellow("warning:"), fmt.Sprintf(format, args...))
	}
}

func debugFunc(w io.Writer) env.WarnFunc {
	faint := color.New(color.Faint).SprintFunc()
	return func(format string, args ...any) {
		fmt.Fprintln(w, faint(fmt.Sprintf(format, args...)))
	}
}

// resolveConfig layers defaults, the config file, flags and the dotenv file.
// Variable precedence, lowest first: config file, dotenv, SPECRUN_VAR_*, --var.
func resolveConfig(cmd *cobra.Command) (*config.Config, map[string]any, error) {
	fileConfig, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, nil, err
	}
	overrides, err := flagOverrides(cmd)
	if err != nil {
		return nil, nil, err
	}
	flagVars := overrides.Variables
	overrides.Variables = nil
	cfg := fileConfig.Merge(overrides)

	var dotenv map[string]any
	if cfg.EnvFile != "" {
		vars, err := env.LoadAndExportDotEnv(cfg.EnvFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load env file: %w", err)
		}
		dotenv = env.StringVars(vars)
		if cfg.BaseURL == "" {
			cfg.BaseURL = vars[flagEnv["base-url"]]
		}
		if cfg.Token == "" {
			cfg.Token = vars[flagEnv["token"]]
		}
	}

	extra := env.MergeVariables(dotenv, env.LoadSystemEnv(env.VarPrefix), flagVars)
	return cfg, extra, nil
}

// reportSet owns the reporters of one invocation. File reports are buffered
// and rewritten after every pass so watch mode keeps one document per file.
type reportSet struct {
	console   *output.ConsoleReporter
	reporters []runner.Reporter
	files     []*fileReport
	metrics   *metrics.Reporter
	notify    *notify.Reporter
}

type fileReport struct {
	path  string
	buf   *bytes.Buffer
	flush func() error
}

func (f *fileReport) write() error {
	if err := f.flush(); err != nil {
		return err
	}
	defer f.buf.Reset()
	if err := os.WriteFile(f.path, f.buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("cannot write report: %w", err)
	}
	return nil
}

func buildReporters(cfg *config.Config, stdout io.Writer, warn env.WarnFunc) (*reportSet, error) {
	set := &reportSet{
		console: output.NewConsoleReporter(
			output.WithWriter(stdout),
			output.WithVerbose(cfg.GetVerbose()),
			output.WithNoColor(cfg.GetNoColor()),
		),
	}
	set.reporters = append(set.reporters, set.console)

	if cfg.JUnit != "" {
		buf := &bytes.Buffer{}
		r := output.NewJUnitReporter(output.JUnitWithWriter(buf))
		set.reporters = append(set.reporters, r)
		set.files = append(set.files, &fileReport{path: cfg.JUnit, buf: buf, flush: r.Flush})
	}
	if cfg.JSON != "" {
		buf := &bytes.Buffer{}
		r := output.NewJSONReporter(output.JSONWithWriter(buf))
		set.reporters = append(set.reporters, r)
		set.files = append(set.files, &fileReport{path: cfg.JSON, buf: buf, flush: r.Flush})
	}

	if len(cfg.Metrics) > 0 {
		var exporters []metrics.Exporter
		for _, format := range cfg.Metrics {
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "prometheus":
				if cfg.MetricsURL == "" {
					return nil, fmt.Errorf("--metrics-url is required when using --metrics prometheus")
				}
				exporters = append(exporters, metrics.NewPrometheusExporter(metrics.WithPushgateway(cfg.MetricsURL)))

			case "datadog":
				ddOpts := []metrics.DataDogOption{metrics.WithDataDogSite(cfg.DataDogSite)}
				if datadogAPIKeyFlag != "" {
					ddOpts = append(ddOpts, metrics.WithDataDogAPIKey(datadogAPIKeyFlag))
				}
				if len(cfg.DataDogTags) > 0 {
					ddOpts = append(ddOpts, metrics.WithDataDogTags(cfg.DataDogTags))
				}
				exporters = append(exporters, metrics.NewDataDogExporter(ddOpts...))

			case "json":
				jsonOpts := []metrics.JSONOption{}
				if cfg.MetricsFile != "" {
					jsonOpts = append(jsonOpts, metrics.WithJSONFile(cfg.MetricsFile))
				} else {
					jsonOpts = append(jsonOpts, metrics.WithJSONWriter(stdout))
				}
				exporters = append(exporters, metrics.NewJSONExporter(jsonOpts...))
			}
		}
		set.metrics = metrics.NewReporter(metrics.WithExporters(exporters...), metrics.WithWarnFunc(warn))
		set.reporters = append(set.reporters, set.metrics)
	}

	var notifiers []notify.Notifier
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.SlackWebhook, notify.WithSlackChannel(cfg.SlackChannel)))
	}
	if cfg.TeamsWebhook != "" {
		notifiers = append(notifiers, notify.NewTeamsNotifier(cfg.TeamsWebhook))
	}
	if len(notifiers) > 0 {
		set.notify = notify.NewReporter(notify.NewManager(notify.NotifyOn(cfg.NotifyOn), notifiers...))
		set.reporters = append(set.reporters, set.notify)
	}

	return set, nil
}

// flush writes the file reports and sends notifications. It ignores
// cancellation of ctx so an interrupted run is still reported.
func (s *reportSet) flush(ctx context.Context) error {
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.write())
	}
	if s.notify != nil {
		errs = append(errs, s.notify.Flush(context.WithoutCancel(ctx)))
	}
	return errors.Join(errs...)
}

func (s *reportSet) close() error {
	if s.metrics != nil {
		return s.metrics.Close()
	}
	return nil
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, extraVars, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.GetNoColor() {
		color.NoColor = true
	}

	warn := warnFunc(cmd.ErrOrStderr())
	reports, err := buildReporters(cfg, cmd.OutOrStdout(), warn)
	if err != nil {
		return err
	}
	defer func() {
		if err := reports.close(); err != nil {
			warn("%v", err)
		}
	}()
	reports.console.FormatHeader(version)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := spec.NewLoader(spec.WithWarnFunc(warn))
	load := func() ([]*spec.Suite, error) {
		files, err := spec.Discover(args, cfg.Pattern)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no suite files found")
		}
		return loader.LoadAll(ctx, files, 0)
	}

	suites, err := load()
	if err != nil {
		reports.console.FormatError(err)
		return err
	}

	opts := []runner.Option{
		runner.WithClient(http.NewClient(cfg.ClientOptions()...)),
		runner.WithReporters(reports.reporters...),
		runner.WithWarnFunc(warn),
	}
	if cfg.GetVerbose() {
		opts = append(opts, runner.WithDebugFunc(debugFunc(cmd.ErrOrStderr())))
	}
	runnerCfg := cfg.RunnerConfig(extraVars)
	r := runner.NewRunner(runnerCfg, opts...)

	tokens, err := cfg.TokenProvider()
	if err != nil {
		return err
	}

	if cfg.WaitFor != "" {
		err := r.WaitFor(ctx, runner.WaitConfig{URL: cfg.WaitFor, Timeout: cfg.WaitTimeout.Std()})
		if err != nil {
			return err
		}
	}

	runAll := func(suites []*spec.Suite) (failed int) {
		if tokens != nil {
			token, err := tokens.AccessToken(ctx)
			if err != nil {
				reports.console.FormatError(err)
				return len(suites)
			}
			runnerCfg.Token = token
		}
		// Suites left after an interrupt still run, every case ending as cancelled.
		for _, suite := range suites {
			result, err := r.Run(ctx, suite)
			if err != nil {
				reports.console.FormatError(err)
				failed++
				continue
			}
			failed += result.Failed + result.Errored
		}
		if err := reports.flush(ctx); err != nil {
			warn("%v", err)
		}
		return failed
	}

	failed := runAll(suites)

	if !watchFlag {
		if ctx.Err() != nil {
			return fmt.Errorf("run interrupted")
		}
		if failed > 0 {
			return fmt.Errorf("%d case(s) failed", failed)
		}
		return nil
	}

	var mu sync.Mutex
	return watchAndRerun(ctx, cmd, args, cfg.Pattern, warn, func() {
		mu.Lock()
		defer mu.Unlock()

		suites, err := load()
		if err != nil {
			reports.console.FormatError(err)
			return
		}
		runAll(suites)
	})
}
