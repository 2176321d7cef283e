package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variables that may set
// them, in lookup order. The legacy Twitter variable names keep existing .env
// files working.
var envBindings = map[string][]string{
	"log_level":               {"SENTIMETER_LOG_LEVEL"},
	"server.addr":             {"SENTIMETER_ADDR"},
	"loadtest.target":         {"SENTIMETER_TARGET"},
	"feed.endpoint":           {"SENTIMETER_FEED_ENDPOINT"},
	"feed.token":              {"SENTIMETER_FEED_TOKEN", "TWITTER_BEARER_TOKEN"},
	"feed.auth.token_url":     {"SENTIMETER_FEED_TOKEN_URL"},
	"feed.auth.client_id":     {"SENTIMETER_FEED_CLIENT_ID"},
	"feed.auth.client_secret": {"SENTIMETER_FEED_CLIENT_SECRET"},
	"feed.auth.username":      {"SENTIMETER_FEED_USERNAME", "TWITTER_USERNAME"},
	"feed.auth.password":      {"SENTIMETER_FEED_PASSWORD", "TWITTER_PASSWORD"},
	"tracing.endpoint":        {"SENTIMETER_TRACING_ENDPOINT"},
}

// Loader builds a Config from defaults, a config file, the environment and
// command-line flags, in increasing order of precedence.
type Loader struct{}

// NewLoader returns a Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads configuration for the command that owns fs. fs must already be
// parsed.
func (Loader) Load(flagSet *pflag.FlagSet) (*Config, error) {
	if err := loadEnvFile(flagSet); err != nil {
		return nil, err
	}

	v := viper.New()
	configPath := ""
	if flag := flagSet.Lookup("config"); flag != nil {
		configPath = strings.TrimSpace(flag.Value.String())
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath
	if err := applyConfigSettings(cfg, v.AllSettings()); err != nil {
		return nil, err
	}
	if cfg.LoadTest.Probe.Headers == nil {
		cfg.LoadTest.Probe.Headers = map[string]string{}
	}
	if cfg.LoadTest.Probe.Form == nil {
		cfg.LoadTest.Probe.Form = map[string]string{}
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.LoadTest.Probe.Method = strings.ToUpper(strings.TrimSpace(cfg.LoadTest.Probe.Method))
	cfg.LoadTest.Target = strings.TrimSpace(cfg.LoadTest.Target)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	return cfg, nil
}

// loadEnvFile exports a dotenv file into the process environment without
// overriding variables that are already set. A missing default file is fine;
// a missing file named explicitly is an error.
func loadEnvFile(flagSet *pflag.FlagSet) error {
	flag := flagSet.Lookup("env-file")
	if flag == nil {
		return nil
	}
	path := strings.TrimSpace(flag.Value.String())
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && !flag.Changed {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "log_level", "loglevel"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		cfg.LogLevel = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "log_format", "logformat"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_format: %w", err)
		}
		cfg.LogFormat = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "lexicon_file", "lexicon"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("lexicon_file: %w", err)
		}
		cfg.LexiconFile = strings.TrimSpace(val)
	}

	sections := []struct {
		name  string
		apply func(map[string]interface{}) error
	}{
		{"server", func(s map[string]interface{}) error { return applyServerSettings(&cfg.Server, s) }},
		{"loadtest", func(s map[string]interface{}) error { return applyLoadTestSettings(&cfg.LoadTest, s) }},
		{"feed", func(s map[string]interface{}) error { return applyFeedSettings(&cfg.Feed, s) }},
		{"tracing", func(s map[string]interface{}) error { return applyTracingSettings(&cfg.Tracing, s) }},
	}
	for _, section := range sections {
		raw, ok := lookupSetting(settings, section.name)
		if !ok || raw == nil {
			continue
		}
		sub, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", section.name, err)
		}
		if err := section.apply(sub); err != nil {
			return fmt.Errorf("%s.%w", section.name, err)
		}
	}
	return nil
}

func applyServerSettings(cfg *ServerConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "addr", "address"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("addr: %w", err)
		}
		cfg.Addr = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "shutdown_timeout"); ok {
		d, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if raw, ok := lookupSetting(settings, "stream_interval"); ok {
		d, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("stream_interval: %w", err)
		}
		cfg.StreamInterval = d
	}
	return nil
}

func applyLoadTestSettings(cfg *LoadTestConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "target"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.Target = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "duration", "duration_seconds"); ok {
		d, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = d
	}
	if raw, ok := lookupSetting(settings, "threads", "thread_count"); ok {
		n, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("threads: %w", err)
		}
		cfg.Threads = n
	}
	if raw, ok := lookupSetting(settings, "html_output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("html_output: %w", err)
		}
		cfg.HTMLOutput = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "json_output"); ok {
		b, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json_output: %w", err)
		}
		cfg.JSONOutput = b
	}
	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}
	if raw, ok := lookupSetting(settings, "log_errors"); ok {
		b, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("log_errors: %w", err)
		}
		cfg.LogErrors = b
	}
	if raw, ok := lookupSetting(settings, "probe"); ok && raw != nil {
		sub, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("probe: %w", err)
		}
		if err := applyProbeSettings(&cfg.Probe, sub); err != nil {
			return fmt.Errorf("probe.%w", err)
		}
	}
	return nil
}

func applyProbeSettings(cfg *ProbeConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "method"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("method: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			cfg.Method = val
		}
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asHeaderMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[k] = v
		}
	}
	// A form section replaces the default payload rather than merging into it.
	if raw, ok := lookupSetting(settings, "form"); ok {
		form, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("form: %w", err)
		}
		cfg.Form = form
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		d, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = d
	}
	return nil
}

func applyFeedSettings(cfg *FeedConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		cfg.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "token"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		cfg.Token = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "text_path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("text_path: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			cfg.TextPath = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(settings, "count"); ok {
		n, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		cfg.Count = n
	}
	if raw, ok := lookupSetting(settings, "rate_per_second", "rate"); ok {
		f, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("rate_per_second: %w", err)
		}
		cfg.RatePerSecond = f
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		d, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if raw, ok := lookupSetting(settings, "auth"); ok && raw != nil {
		sub, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		if err := applyFeedAuthSettings(&cfg.Auth, sub); err != nil {
			return fmt.Errorf("auth.%w", err)
		}
	}
	return nil
}

func applyFeedAuthSettings(cfg *FeedAuthConfig, settings map[string]interface{}) error {
	for key, dst := range map[string]*string{
		"token_url":     &cfg.TokenURL,
		"client_id":     &cfg.ClientID,
		"client_secret": &cfg.ClientSecret,
		"username":      &cfg.Username,
		"password":      &cfg.Password,
	} {
		raw, ok := lookupSetting(settings, key)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "scopes"); ok {
		scopes, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("scopes: %w", err)
		}
		cfg.Scopes = scopes
	}
	if raw, ok := lookupSetting(settings, "refresh_before_expiry"); ok {
		d, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("refresh_before_expiry: %w", err)
		}
		cfg.RefreshBeforeExpiry = d
	}
	return nil
}

func applyTracingSettings(cfg *TracingConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		cfg.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		cfg.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "service_name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		cfg.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		b, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		cfg.Insecure = b
	}
	if raw, ok := lookupSetting(settings, "sample_rate"); ok {
		f, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		cfg.SampleRate = f
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		b, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		cfg.Propagate = &b
	}
	return nil
}

func parseHeaderFlag(entry string) (string, string, error) {
	key, value, ok := strings.Cut(entry, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("header must be in key=value format: %s", entry)
	}
	return http.CanonicalHeaderKey(key), strings.TrimSpace(value), nil
}
