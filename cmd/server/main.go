// Command server is the process entrypoint: it loads configuration, wires
// C1 through C14 together, and runs the JSON-RPC request loop over
// stdin/stdout until a shutdown signal arrives. Mirrors the teacher's
// cmd/agent.go signal-handling idiom, adapted from "launch and proxy a
// child agent process" to "run a long-lived request loop in-process".
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/compresr/token-optimizer/internal/admission"
	"github.com/compresr/token-optimizer/internal/cache"
	"github.com/compresr/token-optimizer/internal/compression"
	"github.com/compresr/token-optimizer/internal/config"
	"github.com/compresr/token-optimizer/internal/dashboard"
	"github.com/compresr/token-optimizer/internal/dispatcher"
	"github.com/compresr/token-optimizer/internal/handlers"
	"github.com/compresr/token-optimizer/internal/invalidation"
	"github.com/compresr/token-optimizer/internal/lifecycle"
	"github.com/compresr/token-optimizer/internal/metrics"
	"github.com/compresr/token-optimizer/internal/partition"
	"github.com/compresr/token-optimizer/internal/predictive"
	"github.com/compresr/token-optimizer/internal/registry"
	"github.com/compresr/token-optimizer/internal/sandbox"
	"github.com/compresr/token-optimizer/internal/sessionopt"
	"github.com/compresr/token-optimizer/internal/tokencounter"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg.Logger)

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("server: exited with error")
		os.Exit(1)
	}
}

func initLogging(cfg config.LoggerConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func run(cfg *config.Config) error {
	lm := lifecycle.New(config.DefaultShutdownGrace)

	tokens := tokencounter.New(cfg.TokenCounter.Model, cfg.TokenCounter.ResultCacheN, time.Duration(cfg.TokenCounter.ResultCacheTTLSeconds)*time.Second)
	codec := compression.New(cfg.Compression.DefaultQuality)

	store, err := cache.Open(cfg.Cache.Dir, cfg.Cache.HotTierMaxBytes, cfg.Cache.PersistentMaxBytes)
	if err != nil {
		return fmt.Errorf("opening cache engine: %w", err)
	}
	lm.Register(lifecycle.NewComponent("cache-engine", nil, func(ctx context.Context) error { return store.Close() }))

	adm := admission.New(tokens, codec, store, cfg.Compression.MinCompressBytes)

	collector := metrics.NewCollector(cfg.Metrics.RingSize)

	sb, err := sandbox.New(cfg.Sandbox.BaseDir)
	if err != nil {
		return fmt.Errorf("constructing sandbox: %w", err)
	}

	hooksDir := filepath.Join(cfg.DataDir, config.DefaultHooksDataDir)
	sessOpt := sessionopt.New(hooksDir, sb, adm)

	invalidator := invalidation.New(store, cfg.Invalidation.MaxAuditEntries)
	invalidator.Configure(invalidation.StrategyImmediate, invalidation.ModeEager, cfg.Invalidation.EnableAudit, cfg.Invalidation.MaxAuditEntries)
	lm.Register(lifecycle.NewComponent("invalidation-engine",
		func(ctx context.Context) error {
			invalidator.Start(config.DefaultLazyFlushInterval, time.Duration(cfg.Invalidation.ScheduleTickIntervalSeconds)*time.Second)
			return nil
		},
		func(ctx context.Context) error {
			invalidator.Stop()
			return nil
		},
	))

	var predictiveCache *predictive.Cache
	if cfg.Predictive.Enabled {
		predictiveCache = predictive.New(config.DefaultAccessLogCap)
	}

	router := partition.New(config.DefaultVirtualNodesPerPartition)

	reg := registry.New(adm, config.DefaultResultCacheTTL)
	handlers.Register(reg, handlers.Deps{
		Admission:   adm,
		Cache:       store,
		SessionOpt:  sessOpt,
		Invalidator: invalidator,
		Predictive:  predictiveCache,
		Router:      router,
		Collector:   collector,
	})

	disp := dispatcher.New(reg, collector, config.DefaultCallDeadline)

	if cfg.Dashboard.Addr != "" {
		dash := dashboard.New(store, collector, invalidator, router)
		srv := &http.Server{Addr: cfg.Dashboard.Addr, Handler: dash}
		lm.Register(lifecycle.NewComponent("dashboard",
			func(ctx context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Warn().Err(err).Msg("dashboard: listener stopped")
					}
				}()
				return nil
			},
			func(ctx context.Context) error { return srv.Shutdown(ctx) },
		))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := lm.Start(ctx); err != nil {
		return fmt.Errorf("starting lifecycle: %w", err)
	}

	log.Info().Str("cache_dir", cfg.Cache.Dir).Msg("server: ready")

	serveErr := make(chan error, 1)
	go func() { serveErr <- disp.Serve(ctx, os.Stdin, os.Stdout) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("server: shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Warn().Err(err).Msg("server: request loop ended")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownGrace)
	defer cancel()
	return lm.Shutdown(shutdownCtx)
}
