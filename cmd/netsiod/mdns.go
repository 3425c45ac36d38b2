package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceUDP = "_netsio._udp"
	mdnsServiceTCP = "_netsio._tcp"
)

// startMDNS advertises this bridge's endpoint so a FujiNet-compatible hub on
// the LAN can discover it without static configuration. Safe to call when
// disabled (no-op cleanup).
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("netsiod-%s", host)
	}
	svcType := mdnsServiceUDP
	if cfg.mode == "tcp" {
		svcType = mdnsServiceTCP
	}
	meta := []string{
		"mode=" + cfg.mode,
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, svcType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}

// listenPort extracts the numeric port from a host:port listen address.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
