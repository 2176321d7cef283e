package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/torosent/sentimeter/internal/threshold"
)

// Defaults mirror the values the load tester has always shipped with.
const (
	DefaultTarget       = "http://localhost:8000/predict"
	DefaultDuration     = 60 * time.Second
	DefaultThreads      = 10
	DefaultProbeText    = "This is a test."
	DefaultHTMLOutput   = "load_test_results.html"
	DefaultServerAddr   = ":8000"
	DefaultFeedCount    = 100
	DefaultFeedTextPath = "data.#.text"
	DefaultServiceName  = "sentimeter"
)

type Config struct {
	LogLevel    string         `mapstructure:"log_level"`
	LogFormat   string         `mapstructure:"log_format"`
	LexiconFile string         `mapstructure:"lexicon_file"`
	ConfigFile  string         `mapstructure:"-"`
	Server      ServerConfig   `mapstructure:"server"`
	LoadTest    LoadTestConfig `mapstructure:"loadtest"`
	Feed        FeedConfig     `mapstructure:"feed"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StreamInterval  time.Duration `mapstructure:"stream_interval"`
}

type LoadTestConfig struct {
	Target     string        `mapstructure:"target"`
	Duration   time.Duration `mapstructure:"duration"`
	Threads    int           `mapstructure:"threads"`
	HTMLOutput string        `mapstructure:"html_output"`
	JSONOutput bool          `mapstructure:"json_output"`
	LogErrors  bool          `mapstructure:"log_errors"`
	Thresholds []string      `mapstructure:"thresholds"`
	Probe      ProbeConfig   `mapstructure:"probe"`
}

// ProbeConfig describes the single request every worker repeats.
type ProbeConfig struct {
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Form    map[string]string `mapstructure:"form"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

type FeedConfig struct {
	Endpoint      string         `mapstructure:"endpoint"`
	Token         string         `mapstructure:"token"`
	TextPath      string         `mapstructure:"text_path"`
	Count         int            `mapstructure:"count"`
	RatePerSecond float64        `mapstructure:"rate_per_second"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	Auth          FeedAuthConfig `mapstructure:"auth"`
}

// FeedAuthConfig holds OAuth2 credentials for feeds that do not accept a
// long-lived bearer token. A password grant is used when Username is set,
// client credentials otherwise.
type FeedAuthConfig struct {
	TokenURL            string        `mapstructure:"token_url"`
	ClientID            string        `mapstructure:"client_id"`
	ClientSecret        string        `mapstructure:"client_secret"`
	Username            string        `mapstructure:"username"`
	Password            string        `mapstructure:"password"`
	Scopes              []string      `mapstructure:"scopes"`
	RefreshBeforeExpiry time.Duration `mapstructure:"refresh_before_expiry"`
}

// Enabled reports whether an OAuth2 token endpoint is configured.
func (a FeedAuthConfig) Enabled() bool {
	return strings.TrimSpace(a.TokenURL) != ""
}

// Enabled reports whether a feed endpoint is configured.
func (f FeedConfig) Enabled() bool {
	return strings.TrimSpace(f.Endpoint) != ""
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an OTLP endpoint is configured either directly or
// through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return t.Endpoint != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate defaults to true when tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "console",
		Server: ServerConfig{
			Addr:            DefaultServerAddr,
			ShutdownTimeout: 10 * time.Second,
			StreamInterval:  500 * time.Millisecond,
		},
		LoadTest: LoadTestConfig{
			Target:     DefaultTarget,
			Duration:   DefaultDuration,
			Threads:    DefaultThreads,
			HTMLOutput: DefaultHTMLOutput,
			Probe: ProbeConfig{
				Method:  "POST",
				Headers: map[string]string{},
				Form:    map[string]string{"text": DefaultProbeText},
				Timeout: 30 * time.Second,
			},
		},
		Feed: FeedConfig{
			TextPath:      DefaultFeedTextPath,
			Count:         DefaultFeedCount,
			RatePerSecond: 1,
			Timeout:       10 * time.Second,
			Auth:          FeedAuthConfig{RefreshBeforeExpiry: 30 * time.Second},
		},
		Tracing: TracingConfig{
			ServiceName: DefaultServiceName,
			SampleRate:  1.0,
		},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate returns a ValidationError listing every invalid setting.
func (c Config) Validate() error {
	var issues []string

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log_level: unsupported value %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log_format: unsupported value %q", c.LogFormat))
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		issues = append(issues, "server.addr is required")
	}
	if c.Server.ShutdownTimeout < 0 {
		issues = append(issues, "server.shutdown_timeout must be >= 0")
	}
	if c.Server.StreamInterval <= 0 {
		issues = append(issues, "server.stream_interval must be > 0")
	}

	issues = append(issues, c.LoadTest.issues()...)

	if c.Feed.Enabled() {
		if _, err := url.ParseRequestURI(c.Feed.Endpoint); err != nil {
			issues = append(issues, fmt.Sprintf("feed.endpoint: %v", err))
		}
	}
	if c.Feed.Count < 1 {
		issues = append(issues, "feed.count must be >= 1")
	}
	if c.Feed.RatePerSecond < 0 {
		issues = append(issues, "feed.rate_per_second must be >= 0")
	}
	if c.Feed.Timeout < 0 {
		issues = append(issues, "feed.timeout must be >= 0")
	}
	issues = append(issues, c.Feed.Auth.issues()...)

	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol: unsupported value %q", c.Tracing.Protocol))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing.sample_rate must be between 0.0 and 1.0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func (l LoadTestConfig) issues() []string {
	var issues []string
	if l.Duration <= 0 {
		issues = append(issues, "loadtest.duration must be > 0")
	}
	if l.Threads < 1 {
		issues = append(issues, "loadtest.threads must be >= 1")
	}
	if strings.TrimSpace(l.Target) == "" {
		issues = append(issues, "loadtest.target is required")
	} else if u, err := url.Parse(l.Target); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		issues = append(issues, fmt.Sprintf("loadtest.target: %q is not an http(s) URL", l.Target))
	}
	if strings.TrimSpace(l.Probe.Method) == "" {
		issues = append(issues, "loadtest.probe.method is required")
	}
	if l.Probe.Timeout < 0 {
		issues = append(issues, "loadtest.probe.timeout must be >= 0")
	}
	if _, err := threshold.ParseMultiple(l.Thresholds); err != nil {
		issues = append(issues, fmt.Sprintf("loadtest.thresholds: %v", err))
	}
	return issues
}

func (a FeedAuthConfig) issues() []string {
	if !a.Enabled() {
		return nil
	}
	var issues []string
	if _, err := url.ParseRequestURI(a.TokenURL); err != nil {
		issues = append(issues, fmt.Sprintf("feed.auth.token_url: %v", err))
	}
	if strings.TrimSpace(a.ClientID) == "" {
		issues = append(issues, "feed.auth.client_id is required with feed.auth.token_url")
	}
	if a.Username != "" && a.Password == "" {
		issues = append(issues, "feed.auth.password is required with feed.auth.username")
	}
	if a.RefreshBeforeExpiry < 0 {
		issues = append(issues, "feed.auth.refresh_before_expiry must be >= 0")
	}
	return issues
}

// Warnings lists settings that are valid but likely to distort a measurement.
func (c Config) Warnings() []string {
	var warnings []string
	if c.LoadTest.Threads > 1000 {
		warnings = append(warnings, fmt.Sprintf("loadtest.threads=%d may exhaust local sockets before the target saturates", c.LoadTest.Threads))
	}
	if c.LoadTest.Probe.Timeout == 0 {
		warnings = append(warnings, "loadtest.probe.timeout=0 disables the per-probe timeout; a hung target will stall the run past its duration")
	}
	if !c.Feed.Auth.Enabled() && (c.Feed.Auth.ClientID != "" || c.Feed.Auth.Username != "") {
		warnings = append(warnings, "feed.auth credentials are ignored without feed.auth.token_url")
	}
	if c.Feed.Auth.Enabled() && c.Feed.Token != "" {
		warnings = append(warnings, "feed.token is ignored when feed.auth.token_url is set")
	}
	return warnings
}
