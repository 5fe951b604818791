package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/matst80/portmux/internal/directory"
	"github.com/matst80/portmux/internal/obs"
	"github.com/matst80/portmux/internal/ratelimit"
	"github.com/matst80/portmux/internal/relay"
)

func main() {
	flag.Parse()
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	obs.Info("server.start", obs.Fields{
		"host":             cfg.Host,
		"proxy_port":       cfg.ProxyPort,
		"client_base_port": cfg.ClientBasePort,
		"directory_port":   cfg.DirectoryPort,
		"metrics":          cfg.MetricsAddr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := directory.NewStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		obs.Error("directory.store", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	defer store.Close()

	var limiter *ratelimit.Limiter
	if cfg.HandshakeRate > 0 {
		limiter = ratelimit.New(0, cfg.HandshakeRate, cfg.HandshakeBurst)
		go runPruneLoop(ctx, limiter, cfg.PruneInterval)
	}

	r := relay.New(relay.Config{
		Host:           cfg.Host,
		ProxyPort:      cfg.ProxyPort,
		ClientBasePort: cfg.ClientBasePort,
	}, store, limiter)
	if err := r.Start(); err != nil {
		obs.Error("relay.start", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}

	dirAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.DirectoryPort))
	dirSrv := &http.Server{Addr: dirAddr, Handler: directory.Handler(store)}
	go func() {
		obs.Info("directory.listen", obs.Fields{"addr": dirAddr})
		if err := dirSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Error("directory.server", obs.Fields{"err": err.Error(), "addr": dirAddr})
		}
	}()

	go startMetricsServer(cfg.MetricsAddr, r)

	obs.Info("server.ready", obs.Fields{})
	<-ctx.Done()
	obs.Info("server.shutdown.signal", obs.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = dirSrv.Shutdown(shutdownCtx)
	r.Stop()
	obs.Info("server.shutdown.complete", obs.Fields{})
}

func runPruneLoop(ctx context.Context, l *ratelimit.Limiter, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Prune(10 * interval)
		}
	}
}
