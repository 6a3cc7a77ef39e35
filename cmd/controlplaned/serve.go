package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/relayforge/controlplane/internal/config"
	"github.com/relayforge/controlplane/pkg/agent"
	"github.com/relayforge/controlplane/pkg/dispatch"
	"github.com/relayforge/controlplane/pkg/enqueue"
	"github.com/relayforge/controlplane/pkg/events"
	"github.com/relayforge/controlplane/pkg/execution"
	"github.com/relayforge/controlplane/pkg/healthmonitor"
	"github.com/relayforge/controlplane/pkg/log"
	"github.com/relayforge/controlplane/pkg/metrics"
	"github.com/relayforge/controlplane/pkg/queue"
	"github.com/relayforge/controlplane/pkg/registry"
	"github.com/relayforge/controlplane/pkg/session"
	"github.com/relayforge/controlplane/pkg/storage"
	"github.com/relayforge/controlplane/pkg/wire"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane gRPC and HTTP servers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("main")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()

	pool, err := storage.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	store := storage.NewPostgres(pool)

	var queueBackend queue.Backend
	redisClient, err := queue.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, falling back to in-memory queue (non-durable)")
		queueBackend = queue.NewMemoryBackend(cfg.QueueMaxDepth)
	} else {
		queueBackend = queue.NewRedisBackend(redisClient, cfg.QueueMaxDepth)
	}

	reg := registry.New()
	broker := events.NewBroker()

	machine := execution.NewMachine(store, broker)
	submitter := execution.NewSubmitter(machine, queueBackend)
	registrar := agent.NewRegistrar(store, queueBackend)
	dispatcher := dispatch.NewDispatcher(store, machine, broker)

	sessionServer := session.NewServer(store, reg, queueBackend, dispatcher, broker, session.Config{
		HeartbeatIntervalMS: cfg.HeartbeatIntervalMS,
		LogLevel:            cfg.LogLevel,
	})

	monitor := healthmonitor.New(reg, store, cfg.HeartbeatTimeout())
	monitor.Start()

	collector := metrics.NewCollector(store, store, reg)
	collector.Start()

	grpcServer := newGRPCServer(cfg)
	wire.RegisterRelayerServer(grpcServer, sessionServer)

	grpcLis, err := net.Listen("tcp", cfg.GRPCListenAddr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.GRPCListenAddr(), err)
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.GRPCListenAddr()).Msg("gRPC server listening")
		if err := grpcServer.Serve(grpcLis); err != nil {
			grpcErrCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	httpServer := newHTTPServer(cfg, store, submitter, registrar)
	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr()).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-grpcErrCh:
		logger.Error().Err(err).Msg("gRPC server error")
	case err := <-httpErrCh:
		logger.Error().Err(err).Msg("HTTP server error")
	}

	return shutdown(logger, monitor, collector, reg, broker, grpcServer, httpServer, queueBackend, store)
}

func newGRPCServer(cfg *config.Config) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(wire.Codec{}),
		grpc.MaxConcurrentStreams(cfg.GRPCMaxStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionAge: cfg.GRPCMaxConnectionAge,
			Time:             cfg.GRPCKeepaliveTime,
			Timeout:          cfg.GRPCKeepaliveTimeout,
		}),
	}

	if cfg.GRPCTLSEnabled {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPCTLSCertFile, cfg.GRPCTLSKeyFile)
		if err != nil {
			tlsLogger := log.WithComponent("main")
			tlsLogger.Error().Err(err).Msg("loading TLS credentials failed, serving without TLS")
		} else {
			opts = append(opts, grpc.Creds(creds))
		}
	}

	return grpc.NewServer(opts...)
}

func newHTTPServer(cfg *config.Config, store storage.Store, submitter *execution.Submitter, registrar *agent.Registrar) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	enqueueHandler := enqueue.NewHandler(store, submitter, registrar)
	r.Mount("/v1", enqueueHandler.Routes())

	return &http.Server{
		Addr:         cfg.HTTPListenAddr(),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown tears down components in dependency order: stop the health
// monitor and metrics collector first so nothing new mutates cluster
// state, stop the gRPC server from accepting streams and detach every
// attached session so each unwinds via its own drain protocol, then the
// HTTP server, the event broker, and finally the queue and storage
// connections underneath everything.
func shutdown(
	logger zerolog.Logger,
	monitor *healthmonitor.Monitor,
	collector *metrics.Collector,
	reg *registry.Registry,
	broker *events.Broker,
	grpcServer *grpc.Server,
	httpServer *http.Server,
	q queue.Backend,
	store storage.Store,
) error {
	monitor.Stop()
	collector.Stop()

	// GracefulStop refuses new streams at once but returns only after every
	// open stream has ended, so attached sessions are detached while it runs.
	grpcStopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(grpcStopped)
	}()
	for _, conn := range reg.Snapshot() {
		if conn.Detach != nil {
			conn.Detach()
		}
	}
	<-grpcStopped

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	broker.Close()

	if err := q.Close(); err != nil {
		logger.Error().Err(err).Msg("closing queue backend failed")
	}

	store.Close()

	logger.Info().Msg("shutdown complete")
	return nil
}
