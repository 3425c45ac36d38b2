package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		mode:              "udp",
		listen:            ":9997",
		logFormat:         "text",
		logLevel:          "info",
		syncTimeout:       2 * time.Second,
		readPhaseTimeout:  500 * time.Millisecond,
		aliveInterval:     3 * time.Second,
		deadAfter:         10 * time.Second,
		reconnectCooldown: 5 * time.Second,
		eventBuffer:       32,
		eventPolicy:       "drop",
		sendBuffer:        64,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*appConfig)
	}{
		{"mode", func(c *appConfig) { c.mode = "serial" }},
		{"log-format", func(c *appConfig) { c.logFormat = "xml" }},
		{"log-level", func(c *appConfig) { c.logLevel = "verbose" }},
		{"event-policy", func(c *appConfig) { c.eventPolicy = "panic" }},
		{"event-buffer", func(c *appConfig) { c.eventBuffer = 0 }},
		{"send-buffer", func(c *appConfig) { c.sendBuffer = -1 }},
		{"sync-timeout", func(c *appConfig) { c.syncTimeout = 0 }},
		{"read-phase-timeout", func(c *appConfig) { c.readPhaseTimeout = 0 }},
		{"alive-interval", func(c *appConfig) { c.aliveInterval = 0 }},
		{"dead-after", func(c *appConfig) { c.deadAfter = 0 }},
		{"reconnect-cooldown", func(c *appConfig) { c.reconnectCooldown = 0 }},
		{"listen", func(c *appConfig) { c.listen = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Fatalf("expected validate() to reject a bad %s", tc.name)
			}
		})
	}
}

func TestValidateRejectsNilConfig(t *testing.T) {
	var cfg *appConfig
	if err := cfg.validate(); err == nil {
		t.Fatal("expected nil config to be rejected")
	}
}

func TestApplyEnvOverridesSetsUnflaggedFields(t *testing.T) {
	t.Setenv("NETSIO_MODE", "tcp")
	t.Setenv("NETSIO_SEND_BUFFER", "128")
	t.Setenv("NETSIO_SYNC_TIMEOUT", "750ms")

	cfg := validConfig()
	if err := applyEnvOverrides(cfg, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.mode != "tcp" {
		t.Errorf("mode = %q, want tcp", cfg.mode)
	}
	if cfg.sendBuffer != 128 {
		t.Errorf("sendBuffer = %d, want 128", cfg.sendBuffer)
	}
	if cfg.syncTimeout != 750*time.Millisecond {
		t.Errorf("syncTimeout = %v, want 750ms", cfg.syncTimeout)
	}
}

func TestApplyEnvOverridesFlagWinsOverEnv(t *testing.T) {
	t.Setenv("NETSIO_MODE", "tcp")

	cfg := validConfig()
	set := map[string]struct{}{"mode": {}}
	if err := applyEnvOverrides(cfg, set); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.mode != "udp" {
		t.Errorf("mode = %q, want udp (flag should win over env)", cfg.mode)
	}
}

func TestApplyEnvOverridesInvalidDurationReturnsError(t *testing.T) {
	t.Setenv("NETSIO_SYNC_TIMEOUT", "not-a-duration")

	cfg := validConfig()
	if err := applyEnvOverrides(cfg, map[string]struct{}{}); err == nil {
		t.Fatal("expected an error for an unparseable duration")
	}
}

func TestApplyEnvOverridesNegativeSendBufferIgnored(t *testing.T) {
	t.Setenv("NETSIO_SEND_BUFFER", "-5")

	cfg := validConfig()
	if err := applyEnvOverrides(cfg, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.sendBuffer != 64 {
		t.Errorf("sendBuffer = %d, want unchanged default 64 (negative override ignored)", cfg.sendBuffer)
	}
}

func TestApplyEnvOverridesMdnsEnableParsesBooleanVariants(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "yes": true, "on": true,
		"0": false, "false": false, "no": false, "off": false,
	}
	for v, want := range cases {
		t.Run(v, func(t *testing.T) {
			t.Setenv("NETSIO_MDNS_ENABLE", v)
			cfg := validConfig()
			cfg.mdnsEnable = !want // start from the opposite to prove the override applies
			if err := applyEnvOverrides(cfg, map[string]struct{}{}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.mdnsEnable != want {
				t.Errorf("mdnsEnable = %v, want %v for %q", cfg.mdnsEnable, want, v)
			}
		})
	}
}
