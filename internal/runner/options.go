package runner

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Requester abstracts executing a single probe against the target.
// Implementations should return an error for failed probes.
type Requester interface {
	Do(ctx context.Context) error
}

// RequesterFactory builds the probe for a run from its config. An error
// aborts the run with an error status.
type RequesterFactory func(cfg RunConfig) (Requester, error)

// Target describes the endpoint a run bombards.
type Target struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// ParseTarget parses an absolute http(s) URL into a Target. Missing ports
// default to the scheme's well-known port.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Target{}, fmt.Errorf("parse target: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Target{}, fmt.Errorf("target scheme must be http or https, got %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Target{}, fmt.Errorf("target %q has no host", raw)
	}

	port := 80
	if scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Target{}, fmt.Errorf("target port %q: %w", p, err)
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return Target{Scheme: scheme, Host: host, Port: port, Path: path}, nil
}

// URL renders the target as an absolute URL.
func (t Target) URL() string {
	scheme := t.Scheme
	if scheme == "" {
		scheme = "http"
	}
	path := t.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(t.Host, strconv.Itoa(t.Port)), path)
}

func (t Target) String() string { return t.URL() }

// RunConfig configures one run. It is immutable once the run starts.
//
// The controller does not clamp values: callers must supply a positive
// Duration and at least one thread, see [RunConfig.Validate].
type RunConfig struct {
	Duration time.Duration // wall-clock length of the run
	Threads  int           // number of concurrent workers
	Target   Target        // endpoint to probe
}

// DurationSeconds returns the configured duration in seconds.
func (c RunConfig) DurationSeconds() float64 {
	return c.Duration.Seconds()
}

// Validate reports whether the config satisfies the controller's
// preconditions.
func (c RunConfig) Validate() error {
	var issues []string
	if c.Duration <= 0 {
		issues = append(issues, "duration must be > 0")
	}
	if c.Threads < 1 {
		issues = append(issues, "thread count must be >= 1")
	}
	if strings.TrimSpace(c.Target.Host) == "" {
		issues = append(issues, "target host is required")
	}
	if c.Target.Port < 1 || c.Target.Port > 65535 {
		issues = append(issues, fmt.Sprintf("target port %d is out of range", c.Target.Port))
	}
	if len(issues) > 0 {
		return fmt.Errorf("invalid run config: %s", strings.Join(issues, "; "))
	}
	return nil
}
