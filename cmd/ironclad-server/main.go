package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/forgenet/ironclad/internal/discovery"
	"github.com/forgenet/ironclad/internal/frame"
	"github.com/forgenet/ironclad/internal/gameloop"
	"github.com/forgenet/ironclad/internal/listener"
	"github.com/forgenet/ironclad/internal/metrics"
	"github.com/forgenet/ironclad/internal/pool"
	"github.com/forgenet/ironclad/internal/session"
	"github.com/forgenet/ironclad/internal/world"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("ironclad-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	w := newEchoWorld(l)

	outPool := pool.New(listener.OutPoolCap, frame.MaxFrame)
	inPool := pool.New(listener.ScratchPoolCap(0, cfg.poolHeadroom), frame.MaxFrame)

	sec := listener.Security{}
	if cfg.tlsCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.tlsCert, cfg.tlsKey)
		if err != nil {
			l.Error("tls_load_error", "error", err)
			os.Exit(1)
		}
		sec.TLS = true
		sec.Config = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	ln := listener.New(listener.Config{
		Addr:     cfg.listenAddr,
		Security: sec,
		NoDelay:  true,
		SessionCfg: session.Config{
			ReadTimeout:  cfg.readTimeout,
			WriteQueue:   cfg.writeQueue,
			DispatchSize: cfg.dispatchQueue,
		},
		PoolHeadroom: cfg.poolHeadroom,
	}, w, func(id uint64, remote net.Addr) world.Session {
		return newEchoSession(id, remote, l)
	}, inPool, outPool)

	loop := gameloop.New(cfg.tickInterval, w, nil, sleepMode(cfg.preciseTick))

	go func() {
		if err := ln.Run(ctx, loop.Cell()); err != nil {
			l.Error("listener_error", "error", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	startDiscovery(ctx, cfg, l, ln)

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-ln.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	wg.Wait()
}

func sleepMode(precise bool) gameloop.SleepMode {
	if precise {
		return gameloop.SleepPrecise
	}
	return gameloop.SleepCooperative
}

// startDiscovery advertises the bound port over mDNS once the listener is
// ready, tearing the advertisement down when ctx is cancelled.
func startDiscovery(ctx context.Context, cfg *appConfig, l *slog.Logger, ln *listener.Listener) {
	if !cfg.mdnsEnable {
		return
	}
	go func() {
		select {
		case <-ln.Ready():
		case <-ctx.Done():
			return
		}
		addr := ln.Addr()
		if addr == nil {
			return
		}
		_, portStr, err := net.SplitHostPort(addr.String())
		if err != nil {
			l.Warn("mdns_port_parse_failed", "error", err)
			return
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			l.Warn("mdns_port_parse_failed", "error", err)
			return
		}

		cleanup, err := discovery.Start(ctx, discovery.Config{
			Enabled: true,
			Name:    cfg.mdnsName,
			Meta:    []string{"version=" + version, "commit=" + commit},
		}, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "port", port)
		go func() { <-ctx.Done(); cleanup() }()
	}()
}
