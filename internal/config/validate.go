package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/breeze-rmm/deskbridge/internal/logging"
)

var log = logging.L("config")

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validScaleModes = map[string]bool{
	"fit":   true,
	"exact": true,
}

// ValidationResult separates errors that must stop startup from values
// that were clamped into range and only warrant a warning.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// Validate runs ValidateTiered, logs every finding and returns them all.
func (c *Config) Validate() []error {
	res := c.ValidateTiered()
	for _, err := range res.Fatals {
		log.Error("config validation", "error", err)
	}
	for _, err := range res.Warnings {
		log.Warn("config validation", "error", err)
	}
	errs := make([]error, 0, len(res.Fatals)+len(res.Warnings))
	errs = append(errs, res.Fatals...)
	return append(errs, res.Warnings...)
}

// ValidateTiered checks every field. Out-of-range numbers are clamped in
// place and reported as warnings; values with no safe correction are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var res ValidationResult
	fatal := func(format string, args ...any) {
		res.Fatals = append(res.Fatals, fmt.Errorf(format, args...))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		fatal("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		fatal("log_format %q is not valid (use text or json)", c.LogFormat)
	}
	clamp(&res, "log_max_size_mb", &c.LogMaxSizeMB, 1, 1024)
	clamp(&res, "log_max_backups", &c.LogMaxBackups, 1, 50)

	cc := &c.Capture
	clamp(&res, "capture.fps", &cc.FPS, 1, 60)
	clamp(&res, "capture.quality", &cc.Quality, 1, 100)
	clamp(&res, "capture.target_width", &cc.TargetWidth, 0, 7680)
	clamp(&res, "capture.target_height", &cc.TargetHeight, 0, 4320)
	if (cc.TargetWidth == 0) != (cc.TargetHeight == 0) {
		res.Warnings = append(res.Warnings, fmt.Errorf("capture.target_width and target_height must both be set, disabling resize"))
		cc.TargetWidth, cc.TargetHeight = 0, 0
	}
	if cc.ScaleMode == "" {
		cc.ScaleMode = "fit"
	} else if !validScaleModes[strings.ToLower(cc.ScaleMode)] {
		fatal("capture.scale_mode %q is not valid (use fit or exact)", cc.ScaleMode)
	}
	clamp(&res, "capture.degraded_after_failures", &cc.DegradedAfterFailures, 1, 10000)
	clamp(&res, "capture.metrics_log_interval_seconds", &cc.MetricsLogIntervalSeconds, 0, 3600)

	bc := &c.Bridge
	if !IsLoopbackAddr(bc.ListenAddr) {
		fatal("bridge.listen_addr %q must be a loopback host:port", bc.ListenAddr)
	}
	clamp(&res, "bridge.max_clients", &bc.MaxClients, 1, 64)
	clamp(&res, "bridge.client_queue_size", &bc.ClientQueueSize, 1, 64)
	clamp(&res, "bridge.input_queue_size", &bc.InputQueueSize, 1, 10000)
	for _, origin := range bc.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			fatal("bridge.allowed_origins entry %q is not an absolute origin", origin)
		}
	}

	tc := &c.Telemetry
	if tc.OTLPEndpoint != "" {
		u, err := url.Parse(tc.OTLPEndpoint)
		if err != nil {
			fatal("telemetry.otlp_endpoint %q is not a valid URL: %v", tc.OTLPEndpoint, err)
		} else if u.Scheme != "http" && u.Scheme != "https" {
			fatal("telemetry.otlp_endpoint scheme must be http or https, got %q", u.Scheme)
		}
	}
	clamp(&res, "telemetry.export_interval_seconds", &tc.ExportIntervalSeconds, 1, 3600)

	return res
}

func clamp(res *ValidationResult, key string, v *int, lo, hi int) {
	switch {
	case *v < lo:
		res.Warnings = append(res.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, *v, lo))
		*v = lo
	case *v > hi:
		res.Warnings = append(res.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, *v, hi))
		*v = hi
	}
}

// IsLoopbackAddr reports whether addr is host:port with a loopback host.
func IsLoopbackAddr(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
