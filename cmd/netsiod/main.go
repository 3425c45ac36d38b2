package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fujinet/netsio-bridge/internal/bridge"
	"github.com/fujinet/netsio-bridge/internal/connection"
	"github.com/fujinet/netsio-bridge/internal/events"
	"github.com/fujinet/netsio-bridge/internal/metrics"
	"github.com/fujinet/netsio-bridge/internal/netsio"
	"github.com/fujinet/netsio-bridge/internal/session"
	"github.com/fujinet/netsio-bridge/internal/sio"
	"github.com/fujinet/netsio-bridge/internal/transport"
)

// Set via -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("netsiod %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rawTx, err := openTransport(cfg, l)
	if err != nil {
		l.Error("transport_init_error", "error", err)
		os.Exit(1)
	}
	tx := transport.NewAsync(ctx, rawTx, cfg.sendBuffer, l)

	state := session.New()
	if cfg.peer != "" {
		if addr, perr := net.ResolveUDPAddr("udp", cfg.peer); perr == nil {
			state.SetPeer(addr)
		} else {
			l.Warn("invalid_peer_addr", "peer", cfg.peer, "error", perr)
		}
	}

	hub := events.New()
	hub.OutBufSize = cfg.eventBuffer
	if cfg.eventPolicy == "kick" {
		hub.Policy = events.PolicyKick
	}

	// fe is wired up after the bridge exists; the bridge's SpeedChange
	// callback closes over it so the front-end can reprogram its IRQ
	// cadence without a back-reference from bridge to sio, avoiding an
	// import cycle between the two packages.
	var fe *sio.FrontEnd
	br := bridge.New(state, tx,
		bridge.WithEvents(hub),
		bridge.WithLogger(l),
		bridge.WithSyncTimeout(cfg.syncTimeout),
		bridge.WithReadPhaseTimeout(cfg.readPhaseTimeout),
		bridge.WithCallbacks(bridge.Callbacks{
			OnSpeedChange: func(baud uint32) {
				if fe != nil {
					fe.SetBaudDivisor(baudToInterval(baud))
				}
			},
		}),
	)
	fe = sio.New(br)

	cm := connection.New(state, tx,
		connection.WithLogger(l),
		connection.WithAliveInterval(cfg.aliveInterval),
		connection.WithDeadAfter(cfg.deadAfter),
		connection.WithReconnectCooldown(cfg.reconnectCooldown),
	)
	cm.SetOnDisconnect(br.HandleDisconnect)
	cm.SetOnReconnect(br.SetTransport)
	if cfg.mode == "tcp" {
		cm.SetDialer(func(ctx context.Context) (transport.Transport, error) {
			var d net.Dialer
			conn, derr := d.DialContext(ctx, "tcp", cfg.listen)
			if derr != nil {
				return nil, derr
			}
			return transport.NewStream(conn, 0), nil
		})
	}

	var wg sync.WaitGroup

	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	cm.Start(ctx)

	wg.Add(1)
	go pumpIncoming(ctx, &wg, br, cm)

	metrics.SetReadinessFunc(func() bool {
		return ctx.Err() == nil && state.Connected()
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	var stopMDNS func()
	if cfg.mdnsEnable {
		cleanup, merr := startMDNS(ctx, cfg, listenPort(cfg.listen))
		if merr != nil {
			l.Warn("mdns_start_failed", "error", merr)
		} else {
			stopMDNS = cleanup
			l.Info("mdns_started", "mode", cfg.mode, "port", listenPort(cfg.listen))
		}
	}

	// The Bus Front-End (fe) is driven by the emulator's CPU emulation path
	// via PutByte/GetByte, which lives outside this process boundary in a
	// real integration; netsiod's own job ends at standing the bridge up
	// and keeping the transport/connection loop pumped.
	_ = fe

	l.Info("netsiod_started", "mode", cfg.mode, "listen", cfg.listen)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	cm.Stop()
	if stopMDNS != nil {
		stopMDNS()
	}
	_ = tx.Close()
	wg.Wait()
}

func openTransport(cfg *appConfig, l *slog.Logger) (transport.Transport, error) {
	switch cfg.mode {
	case "tcp":
		var d net.Dialer
		conn, err := d.DialContext(context.Background(), "tcp", cfg.listen)
		if err != nil {
			return nil, fmt.Errorf("dial stream hub: %w", err)
		}
		return transport.NewStream(conn, 0), nil
	default:
		var peer net.Addr
		if cfg.peer != "" {
			addr, err := net.ResolveUDPAddr("udp", cfg.peer)
			if err != nil {
				return nil, fmt.Errorf("resolve peer: %w", err)
			}
			peer = addr
		}
		return transport.NewUDP(cfg.listen, peer, func(msg string, args ...any) {
			l.Info(msg, args...)
		})
	}
}

// pumpIncoming drains the connection manager's current transport (the
// redialed one after a stream reconnect) and routes each message to
// whichever of the connection manager or the bridge owns its opcode; this is
// the frame-tick loop that drains incoming messages in a real emulator host.
func pumpIncoming(ctx context.Context, wg *sync.WaitGroup, br *bridge.Bridge, cm *connection.Manager) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m, from, err := cm.Transport().RecvWithDeadline(time.Now().Add(200 * time.Millisecond))
		if err != nil {
			continue
		}
		switch m.Kind {
		case netsio.OpSyncResponse, netsio.OpDataByte, netsio.OpDataBlock, netsio.OpSpeedChange,
			netsio.OpMotorOn, netsio.OpMotorOff, netsio.OpProceedOn, netsio.OpProceedOff,
			netsio.OpInterruptOn, netsio.OpInterruptOff, netsio.OpWarmReset, netsio.OpColdReset:
			br.OnIncoming(m)
		default:
			cm.OnIncoming(m, from)
		}
	}
}

// baudToInterval converts a SpeedChange baud rate into the shortened
// inter-byte IRQ spacing the front-end reprograms itself with.
func baudToInterval(baud uint32) time.Duration {
	if baud == 0 {
		return 0
	}
	return time.Second / time.Duration(baud/10)
}
