package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/celerix-dev/celerix-collections/internal/api"
	"github.com/celerix-dev/celerix-collections/internal/config"
	"github.com/celerix-dev/celerix-collections/internal/engine"
	"github.com/celerix-dev/celerix-collections/internal/ingest"
	"github.com/celerix-dev/celerix-collections/internal/mutation"
	"github.com/celerix-dev/celerix-collections/internal/observability"
	"github.com/celerix-dev/celerix-collections/internal/persistence"
	"github.com/celerix-dev/celerix-collections/internal/server"
	"github.com/celerix-dev/celerix-collections/internal/vault"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

func main() {
	configPath := flag.String("config", os.Getenv("COLLECTIONS_CONFIG"), "path to a YAML or JSON config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "collectionsd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Persistence and engine
	store, closePersister, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closePersister()

	// 2. Core components
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	metrics.TrackStore(store.Stats)
	pipeline := ingest.NewPipeline(store, ingest.WithLogger(logger), ingest.WithMetrics(metrics))
	gateway := mutation.NewGateway(store, logger, metrics)

	// 3. HTTP API
	gin.SetMode(gin.ReleaseMode)
	h := &api.Handler{
		Store:          store,
		Pipeline:       pipeline,
		Gateway:        gateway,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
	}
	httpServer := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewRouter(h, api.RouterOptions{
			Logger:       logger,
			CORSOrigin:   cfg.HTTP.CORSOrigin,
			DefaultActor: cfg.Ingest.DefaultActor,
			Metrics:      promhttp.Handler(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http api listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// 4. TCP line protocol
	var router *server.Router
	if cfg.TCP.Enabled {
		router = server.NewRouter(store, pipeline, gateway,
			server.WithLogger(logger),
			server.WithMaxConns(cfg.TCP.MaxConns),
			server.WithConnTimeout(cfg.TCP.IdleTimeout),
			server.WithDefaultActor(cfg.Ingest.DefaultActor))
		if cfg.TCP.TLS {
			cert, err := vault.GenerateSelfSignedCert()
			if err != nil {
				return fmt.Errorf("generate TLS certificate: %w", err)
			}
			router.SetCertificate(cert)
		} else {
			logger.Warn("tcp TLS disabled")
		}
		g.Go(func() error {
			if err := router.Listen(cfg.TCP.Addr); err != nil {
				return fmt.Errorf("tcp server: %w", err)
			}
			return nil
		})
	}

	// 5. Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, finalizing disk writes")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if router != nil {
			router.Stop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	store.Wait()
	logger.Info("persistence complete, exiting")
	return err
}

// openStore opens the configured persister and loads every stored record
// into a new engine. Starting without every stored record would mint
// record_ids that already exist, so a failed load is returned as an error.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*engine.MemStore, func() error, error) {
	persister, closePersister, err := persistence.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize persistence: %w", err)
	}

	var initial []schema.Record
	if persister != nil {
		initial, err = persister.LoadAll()
		if err != nil {
			closePersister()
			return nil, nil, fmt.Errorf("load existing records: %w", err)
		}
	}
	store := engine.NewMemStore(initial, persister, engine.WithLogger(logger))
	logger.Info("engine started", "records", len(initial), "driver", cfg.Driver)
	return store, closePersister, nil
}
