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
	mode   string // "udp" or "tcp"
	listen string // local bind (udp) or dial target (tcp)
	peer   string // pre-configured udp peer; empty learns from traffic

	logFormat string
	logLevel  string

	metricsAddr     string
	logMetricsEvery time.Duration

	syncTimeout      time.Duration
	readPhaseTimeout time.Duration
	aliveInterval    time.Duration
	deadAfter        time.Duration
	reconnectCooldown time.Duration

	eventBuffer int
	eventPolicy string

	sendBuffer int

	mdnsEnable bool
	mdnsName   string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	mode := flag.String("mode", "udp", "Transport medium: udp|tcp")
	listen := flag.String("listen", ":9997", "UDP bind address, or TCP dial target in tcp mode (tcp default :9996)")
	peer := flag.String("peer", "", "Pre-configured UDP peer address (host:port); empty learns from first datagram")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	syncTimeout := flag.Duration("sync-timeout", 2000*time.Millisecond, "Sync rendezvous timeout")
	readPhaseTimeout := flag.Duration("read-phase-timeout", 500*time.Millisecond, "Read-phase quiescence timeout")
	aliveInterval := flag.Duration("alive-interval", 3*time.Second, "Keepalive AliveRequest interval")
	deadAfter := flag.Duration("dead-after", 10*time.Second, "Peer silence duration before teardown")
	reconnectCooldown := flag.Duration("reconnect-cooldown", 5*time.Second, "Minimum interval between stream-mode reconnect attempts")
	eventBuffer := flag.Int("event-buffer", 32, "Per-subscriber line-state event buffer size")
	eventPolicy := flag.String("event-policy", "drop", "Event backpressure policy: drop|kick")
	sendBuffer := flag.Int("send-buffer", 64, "Outbound send queue depth; 0 sends synchronously")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of this bridge")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default netsiod-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.mode = *mode
	cfg.listen = *listen
	cfg.peer = *peer
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.syncTimeout = *syncTimeout
	cfg.readPhaseTimeout = *readPhaseTimeout
	cfg.aliveInterval = *aliveInterval
	cfg.deadAfter = *deadAfter
	cfg.reconnectCooldown = *reconnectCooldown
	cfg.eventBuffer = *eventBuffer
	cfg.eventPolicy = *eventPolicy
	cfg.sendBuffer = *sendBuffer
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	// Stream mode defaults to the stream port unless a listen address was
	// given by flag or environment.
	if _, ok := setFlags["listen"]; !ok && cfg.mode == "tcp" && strings.TrimSpace(os.Getenv("NETSIO_LISTEN")) == "" {
		cfg.listen = ":9996"
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs semantic validation only; it never dials or binds.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.mode {
	case "udp", "tcp":
	default:
		return fmt.Errorf("invalid mode: %s", c.mode)
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
	switch c.eventPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid event-policy: %s", c.eventPolicy)
	}
	if c.eventBuffer <= 0 {
		return fmt.Errorf("event-buffer must be > 0 (got %d)", c.eventBuffer)
	}
	if c.sendBuffer < 0 {
		return fmt.Errorf("send-buffer must be >= 0 (got %d)", c.sendBuffer)
	}
	if c.syncTimeout <= 0 {
		return fmt.Errorf("sync-timeout must be > 0")
	}
	if c.readPhaseTimeout <= 0 {
		return fmt.Errorf("read-phase-timeout must be > 0")
	}
	if c.aliveInterval <= 0 {
		return fmt.Errorf("alive-interval must be > 0")
	}
	if c.deadAfter <= 0 {
		return fmt.Errorf("dead-after must be > 0")
	}
	if c.reconnectCooldown <= 0 {
		return fmt.Errorf("reconnect-cooldown must be > 0")
	}
	if c.listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	return nil
}

// applyEnvOverrides maps NETSIO_* environment variables onto cfg unless the
// corresponding flag was explicitly set (flag wins over env).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["mode"]; !ok {
		if v, ok := get("NETSIO_MODE"); ok && v != "" {
			c.mode = v
		}
	}
	if _, ok := set["listen"]; !ok {
		if v, ok := get("NETSIO_LISTEN"); ok && v != "" {
			c.listen = v
		}
	}
	if _, ok := set["peer"]; !ok {
		if v, ok := get("NETSIO_PEER"); ok {
			c.peer = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("NETSIO_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("NETSIO_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("NETSIO_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("NETSIO_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid NETSIO_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["sync-timeout"]; !ok {
		if v, ok := get("NETSIO_SYNC_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.syncTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid NETSIO_SYNC_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["read-phase-timeout"]; !ok {
		if v, ok := get("NETSIO_READ_PHASE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.readPhaseTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid NETSIO_READ_PHASE_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["alive-interval"]; !ok {
		if v, ok := get("NETSIO_ALIVE_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.aliveInterval = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid NETSIO_ALIVE_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["dead-after"]; !ok {
		if v, ok := get("NETSIO_DEAD_AFTER"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.deadAfter = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid NETSIO_DEAD_AFTER: %w", err)
			}
		}
	}
	if _, ok := set["reconnect-cooldown"]; !ok {
		if v, ok := get("NETSIO_RECONNECT_COOLDOWN"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.reconnectCooldown = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid NETSIO_RECONNECT_COOLDOWN: %w", err)
			}
		}
	}
	if _, ok := set["event-buffer"]; !ok {
		if v, ok := get("NETSIO_EVENT_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.eventBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid NETSIO_EVENT_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["event-policy"]; !ok {
		if v, ok := get("NETSIO_EVENT_POLICY"); ok && v != "" {
			c.eventPolicy = v
		}
	}
	if _, ok := set["send-buffer"]; !ok {
		if v, ok := get("NETSIO_SEND_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.sendBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid NETSIO_SEND_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("NETSIO_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("NETSIO_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
