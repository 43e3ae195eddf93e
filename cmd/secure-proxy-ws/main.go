// Command secure-proxy-ws is the tunneling engine: it loads the process
// configuration from SECURE_PROXY_CONFIG (spec §6), runs the SOCKS5/HTTP
// CONNECT listeners and per-flow supervisor (internal/engine), and the two
// periodic observability loops (internal/stats). It never prints the PSK or
// any derived key.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"secure-proxy-ws/internal/config"
	"secure-proxy-ws/internal/engine"
	"secure-proxy-ws/internal/logging"
	"secure-proxy-ws/internal/stats"
)

func main() {
	os.Exit(run())
}

func run() int {
	admin := flag.String("admin", "", "address for the admin/observability HTTP surface (disabled if empty)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log, err := logging.New(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "secure-proxy-ws: building logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Error("loading configuration", zap.Error(err))
		return 1
	}
	log.Info("configuration loaded",
		zap.String("name", cfg.Name),
		zap.String("sni_host", cfg.SNIHost),
		zap.Uint16("server_port", cfg.ServerPort),
		zap.Uint16("socks_port", cfg.SocksPort),
		zap.Uint16("http_port", cfg.HTTPPort),
	)

	counters := &stats.Counters{}
	e := engine.New(cfg, counters, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stats.RunTrafficReporter(ctx, counters, log)
	go stats.RunHealthMonitor(ctx, counters, log)

	if *admin != "" {
		srv := &http.Server{Addr: *admin, Handler: stats.Router(counters)}
		go func() {
			log.Info("admin surface listening", zap.String("addr", *admin))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("admin surface stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	if err := e.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("engine stopped", zap.Error(err))
		return 1
	}
	return 0
}
