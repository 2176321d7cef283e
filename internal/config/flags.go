package config

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterGlobalFlags registers flags shared by every subcommand. Pass the
// root command's persistent flag set.
func RegisterGlobalFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.String("env-file", ".env", "Path to a dotenv file with credentials")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: console or json")
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sample ratio between 0.0 and 1.0")
}

// RegisterLoadTestFlags registers the flags of the loadtest command.
func RegisterLoadTestFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	registerRunFlags(flags, "")
	flags.String("method", "POST", "HTTP method of the probe request")
	flags.StringSlice("header", nil, "Additional probe header in key=value form")
	flags.String("text", DefaultProbeText, "Text submitted in the probe's form body")
	flags.String("html-output", DefaultHTMLOutput, "Write the HTML report to this path (empty disables)")
	flags.Bool("json-output", false, "Emit the report as JSON")
	flags.Bool("log-errors", false, "Log each failed probe to stderr")
	flags.StringSlice("threshold", nil, "Pass/fail assertion (repeatable, e.g. 'successful_requests:rpm > 600')")
}

// RegisterServeFlags registers the flags of the serve command. The run flags
// become the defaults for load tests triggered over the API.
func RegisterServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("addr", DefaultServerAddr, "Listen address")
	flags.Duration("shutdown-timeout", Default().Server.ShutdownTimeout, "Grace period for in-flight requests and runs on shutdown")
	flags.Duration("stream-interval", Default().Server.StreamInterval, "Poll interval of the status stream")
	flags.String("lexicon", "", "YAML lexicon merged over the built-in sentiment words")
	flags.String("feed-endpoint", "", "Search endpoint of the social feed")
	flags.Int("feed-count", DefaultFeedCount, "Posts requested per topic")
	flags.Float64("feed-rate", 1, "Maximum feed requests per second (0 means unlimited)")
	registerRunFlags(flags, "default ")
}

func registerRunFlags(flags *pflag.FlagSet, prefix string) {
	flags.String("target", DefaultTarget, strings.TrimSpace(prefix+"URL probed by each worker"))
	flags.DurationP("duration", "d", DefaultDuration, prefix+"run length")
	flags.IntP("threads", "c", DefaultThreads, prefix+"number of concurrent workers")
	flags.Duration("timeout", Default().LoadTest.Probe.Timeout, prefix+"per-probe timeout")
}

// applyFlagOverrides copies explicitly set flags over file and env values.
// Flags not registered on fs are skipped.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	str := func(name string, dst *string) error {
		if !fs.Changed(name) {
			return nil
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(val)
		return nil
	}

	for name, dst := range map[string]*string{
		"log-level":        &cfg.LogLevel,
		"log-format":       &cfg.LogFormat,
		"tracing-endpoint": &cfg.Tracing.Endpoint,
		"tracing-protocol": &cfg.Tracing.Protocol,
		"addr":             &cfg.Server.Addr,
		"lexicon":          &cfg.LexiconFile,
		"feed-endpoint":    &cfg.Feed.Endpoint,
		"target":           &cfg.LoadTest.Target,
		"method":           &cfg.LoadTest.Probe.Method,
		"html-output":      &cfg.LoadTest.HTMLOutput,
	} {
		if err := str(name, dst); err != nil {
			return err
		}
	}

	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("shutdown-timeout") {
		val, err := fs.GetDuration("shutdown-timeout")
		if err != nil {
			return err
		}
		cfg.Server.ShutdownTimeout = val
	}
	if fs.Changed("stream-interval") {
		val, err := fs.GetDuration("stream-interval")
		if err != nil {
			return err
		}
		cfg.Server.StreamInterval = val
	}
	if fs.Changed("feed-count") {
		val, err := fs.GetInt("feed-count")
		if err != nil {
			return err
		}
		cfg.Feed.Count = val
	}
	if fs.Changed("feed-rate") {
		val, err := fs.GetFloat64("feed-rate")
		if err != nil {
			return err
		}
		cfg.Feed.RatePerSecond = val
	}
	if fs.Changed("duration") {
		val, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		cfg.LoadTest.Duration = val
	}
	if fs.Changed("threads") {
		val, err := fs.GetInt("threads")
		if err != nil {
			return err
		}
		cfg.LoadTest.Threads = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.LoadTest.Probe.Timeout = val
	}
	if fs.Changed("header") {
		vals, err := fs.GetStringSlice("header")
		if err != nil {
			return err
		}
		for _, raw := range vals {
			key, value, err := parseHeaderFlag(raw)
			if err != nil {
				return err
			}
			cfg.LoadTest.Probe.Headers[key] = value
		}
	}
	if fs.Changed("text") {
		val, err := fs.GetString("text")
		if err != nil {
			return err
		}
		cfg.LoadTest.Probe.Form["text"] = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.LoadTest.JSONOutput = val
	}
	if fs.Changed("log-errors") {
		val, err := fs.GetBool("log-errors")
		if err != nil {
			return err
		}
		cfg.LoadTest.LogErrors = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.LoadTest.Thresholds = val
	}
	return nil
}
