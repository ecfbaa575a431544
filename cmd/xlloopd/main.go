package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/xlloop/internal/admin"
	"github.com/danmuck/xlloop/internal/config"
	"github.com/danmuck/xlloop/internal/functions"
	"github.com/danmuck/xlloop/internal/logging"
	"github.com/danmuck/xlloop/internal/observability"
	"github.com/danmuck/xlloop/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const drainTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a server config file (defaults apply when empty)")
	listen := flag.String("listen", "", "override the client listen address")
	adminAddr := flag.String("admin", "", "override the admin HTTP address; \"off\" disables it")
	flag.Parse()

	cfg := config.DefaultServerConfig()
	if *configPath != "" {
		loaded, err := config.LoadServerConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "xlloopd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Listen = strings.TrimSpace(*listen)
	}
	switch strings.TrimSpace(*adminAddr) {
	case "":
	case "off":
		cfg.AdminAddr = ""
	default:
		cfg.AdminAddr = strings.TrimSpace(*adminAddr)
	}
	if err := config.ValidateServerConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "xlloopd: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.Name)
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok && os.Getenv(logging.EnvLogLevel) == "" {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("xlloopd exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig) error {
	builtins := functions.NewRegistry()
	if err := functions.RegisterBuiltins(builtins); err != nil {
		return err
	}
	registry, err := builtins.Restrict(cfg.Functions)
	if err != nil {
		return err
	}
	log.Info().Int("functions", registry.Len()).Msg("function registry ready")

	handler := observability.Instrument(registry, registry.Has)
	srv, err := server.New(cfg.ServerOptions(), handler)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	workers := 1
	go func() {
		errc <- srv.Serve(runCtx)
	}()
	if cfg.AdminAddr != "" {
		adm := admin.New(admin.Config{
			Name:        cfg.Name,
			Addr:        cfg.AdminAddr,
			CorsOrigins: cfg.CorsOrigins,
			CallToken:   cfg.AdminToken,
		}, srv, registry, handler)
		workers++
		go func() {
			errc <- adm.Serve(runCtx)
		}()
	}

	// The first listener to return stops the other.
	err = <-errc
	cancel()
	for i := 1; i < workers; i++ {
		if werr := <-errc; err == nil {
			err = werr
		}
	}

	drained := make(chan struct{})
	go func() {
		srv.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		log.Warn().Int64("active_clients", srv.Active()).Msg("drain timeout; closing open connections")
		srv.CloseConnections()
		<-drained
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
