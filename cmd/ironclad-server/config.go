package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	listenAddr      string
	tickInterval    time.Duration
	preciseTick     bool
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	readTimeout     time.Duration
	writeQueue      int
	dispatchQueue   int
	poolHeadroom    int
	tlsCert         string
	tlsKey          string
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", ":20000", "TCP listen address")
	tickInterval := flag.Duration("tick-interval", 50*time.Millisecond, "Game loop tick interval")
	preciseTick := flag.Bool("precise-tick", false, "Use spin-sleep for tighter tick jitter instead of cooperative sleep")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	readTimeout := flag.Duration("read-timeout", 20*time.Second, "Per-frame read deadline")
	writeQueue := flag.Int("write-queue", 256, "Per-session outbound queue depth")
	dispatchQueue := flag.Int("dispatch-queue", 256, "Per-session dispatcher queue depth")
	poolHeadroom := flag.Int("pool-headroom", 64, "Headroom added to active-socket count when sizing the read-scratch pool")
	tlsCert := flag.String("tls-cert", "", "TLS certificate path; enables TLS when set together with -tls-key")
	tlsKey := flag.String("tls-key", "", "TLS private key path")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default ironclad-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.tickInterval = *tickInterval
	cfg.preciseTick = *preciseTick
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.readTimeout = *readTimeout
	cfg.writeQueue = *writeQueue
	cfg.dispatchQueue = *dispatchQueue
	cfg.poolHeadroom = *poolHeadroom
	cfg.tlsCert = *tlsCert
	cfg.tlsKey = *tlsKey
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open listeners or files, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.tickInterval <= 0 {
		return fmt.Errorf("tick-interval must be > 0")
	}
	if c.readTimeout <= 0 {
		return fmt.Errorf("read-timeout must be > 0")
	}
	if c.writeQueue <= 0 {
		return fmt.Errorf("write-queue must be > 0 (got %d)", c.writeQueue)
	}
	if c.dispatchQueue <= 0 {
		return fmt.Errorf("dispatch-queue must be > 0 (got %d)", c.dispatchQueue)
	}
	if c.poolHeadroom < 0 {
		return fmt.Errorf("pool-headroom must be >= 0")
	}
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("tls-cert and tls-key must both be set or both be empty")
	}
	return nil
}

// applyEnvOverrides maps IRONCLAD_* environment variables to config fields
// unless a corresponding flag was explicitly set. Boolean & numeric parsing
// is lax: empty values ignored. Durations use Go's time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("IRONCLAD_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["tick-interval"]; !ok {
		if v, ok := get("IRONCLAD_TICK_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.tickInterval = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid IRONCLAD_TICK_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["precise-tick"]; !ok {
		if v, ok := get("IRONCLAD_PRECISE_TICK"); ok && v != "" {
			c.preciseTick = parseBool(v, c.preciseTick)
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("IRONCLAD_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("IRONCLAD_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("IRONCLAD_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("IRONCLAD_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid IRONCLAD_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["read-timeout"]; !ok {
		if v, ok := get("IRONCLAD_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.readTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid IRONCLAD_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["write-queue"]; !ok {
		if v, ok := get("IRONCLAD_WRITE_QUEUE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.writeQueue = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid IRONCLAD_WRITE_QUEUE: %w", err)
			}
		}
	}
	if _, ok := set["dispatch-queue"]; !ok {
		if v, ok := get("IRONCLAD_DISPATCH_QUEUE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.dispatchQueue = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid IRONCLAD_DISPATCH_QUEUE: %w", err)
			}
		}
	}
	if _, ok := set["pool-headroom"]; !ok {
		if v, ok := get("IRONCLAD_POOL_HEADROOM"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.poolHeadroom = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid IRONCLAD_POOL_HEADROOM: %w", err)
			}
		}
	}
	if _, ok := set["tls-cert"]; !ok {
		if v, ok := get("IRONCLAD_TLS_CERT"); ok {
			c.tlsCert = v
		}
	}
	if _, ok := set["tls-key"]; !ok {
		if v, ok := get("IRONCLAD_TLS_KEY"); ok {
			c.tlsKey = v
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("IRONCLAD_MDNS_ENABLE"); ok && v != "" {
			c.mdnsEnable = parseBool(v, c.mdnsEnable)
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("IRONCLAD_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
